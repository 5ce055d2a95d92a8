// Package kv provides the small key-value storage layer behind persisted
// dashboard state.
//
// Values are opaque byte blobs. Four backends are available: an in-memory
// map for tests, a directory of files, a SQLite table and a Redis keyspace.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Storage errors.
var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("kv: key not found")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("kv: store closed")

	// ErrInvalidKey is returned for empty or malformed keys.
	ErrInvalidKey = errors.New("kv: invalid key")

	// ErrUnknownBackend is returned by Open for an unrecognized backend name.
	ErrUnknownBackend = errors.New("kv: unknown backend")
)

// Store is a key-value blob store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}

// Watcher is implemented by stores that can report changes made by other
// processes.
type Watcher interface {
	// Watch calls fn whenever key changes outside this store, until ctx is done.
	Watch(ctx context.Context, key string, fn func()) error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend string

	// Path is the directory for the file backend or the database file for sqlite.
	Path string

	// Redis connection
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KeyPrefix namespaces keys in shared backends (redis).
	KeyPrefix string

	// Logger receives backend diagnostics. Nil discards them.
	Logger *zap.Logger
}

// Open creates the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Path, WithFileLogger(cfg.Logger))
	case BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendRedis:
		return NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/\\\x00") || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
