package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	p *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (Store, error) {
	conn, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	err = conn.Ping(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &postgresStore{p: conn}, nil
}

func (s *postgresStore) Ready(ctx context.Context) error {
	_, err := s.p.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS field_sync_items (
			key TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			value BYTEA NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("failed to create items table: %w", err)
	}
	return nil
}

func (s *postgresStore) GetItem(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}

	err := s.p.QueryRow(ctx, `SELECT ts, value FROM field_sync_items WHERE key=$1;`, key).Scan(&e.Timestamp, &e.Value)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, err
	}

	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}

func (s *postgresStore) SetItem(ctx context.Context, key string, entry Entry) error {
	_, err := s.p.Exec(ctx, `
		INSERT INTO field_sync_items (key, ts, value) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET ts = EXCLUDED.ts, value = EXCLUDED.value;`,
		key, entry.Timestamp, entry.Value,
	)
	return err
}

func (s *postgresStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.p.Exec(ctx, `DELETE FROM field_sync_items WHERE key=$1;`, key)
	return err
}

func (s *postgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.p.Query(ctx, `SELECT key FROM field_sync_items WHERE starts_with(key, $1) ORDER BY key;`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)

	for rows.Next() {
		var k string
		err := rows.Scan(&k)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (s *postgresStore) Clear(ctx context.Context) error {
	tx, err := s.p.Begin(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `DELETE FROM field_sync_items;`)
	if err != nil {
		tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

func (s *postgresStore) Close() error {
	s.p.Close()
	return nil
}
