package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var ErrNotFound = fmt.Errorf("item not found")
var ErrClosed = fmt.Errorf("store is closed")

// Entry is the unit of storage. Value holds the JSON encoding of whatever was
// stored and Timestamp tells when it was written.
type Entry struct {
	Key       string
	Timestamp time.Time
	Value     []byte
}

// Store is a durable key/value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Ready(ctx context.Context) error
	GetItem(ctx context.Context, key string) (Entry, error)
	SetItem(ctx context.Context, key string, entry Entry) error
	RemoveItem(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open selects a backend from a data source name. Names beginning with postgres://
// use a connection pool, "memory" keeps everything in process and anything else is
// treated as the path to a sqlite database file.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "" || dsn == "memory":
		return NewMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return NewSQLiteStore(dsn)
	}
}

// Put encodes v and stores it under key with the current time as timestamp
func Put(ctx context.Context, s Store, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	return s.SetItem(ctx, key, Entry{Key: key, Timestamp: time.Now().UTC(), Value: b})
}

// Get decodes the value stored under key into v and returns the time it was stored
func Get(ctx context.Context, s Store, key string, v any) (time.Time, error) {
	e, err := s.GetItem(ctx, key)
	if err != nil {
		return time.Time{}, err
	}

	if err = json.Unmarshal(e.Value, v); err != nil {
		return e.Timestamp, fmt.Errorf("failed to decode %s: %w", key, err)
	}

	return e.Timestamp, nil
}

// IsFresh reports if an entry stored at timestamp is younger than ttl
func IsFresh(timestamp time.Time, ttl time.Duration, now time.Time) bool {
	return now.Sub(timestamp) < ttl
}
