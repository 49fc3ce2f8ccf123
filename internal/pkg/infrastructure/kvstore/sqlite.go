package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) a sqlite database file in WAL mode
func NewSQLiteStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA synchronous=FULL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to configure database (%s): %w", pragma, err)
		}
	}

	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Ready(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS items (
			key TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			value BLOB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create items table: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetItem(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	var ts int64

	err := s.db.QueryRowContext(ctx, `SELECT ts, value FROM items WHERE key = ?`, key).Scan(&ts, &e.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	} else if err != nil {
		return Entry{}, err
	}

	e.Timestamp = time.UnixMilli(ts).UTC()
	return e, nil
}

func (s *sqliteStore) SetItem(ctx context.Context, key string, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (key, ts, value) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ts = excluded.ts, value = excluded.value`,
		key, entry.Timestamp.UnixMilli(), entry.Value,
	)
	return err
}

func (s *sqliteStore) RemoveItem(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM items WHERE instr(key, ?) = 1 ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

func (s *sqliteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items`)
	return err
}

func (s *sqliteStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
