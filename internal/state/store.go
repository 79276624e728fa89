package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cropwatch/internal/config"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("state: key not found")
	// ErrNoChange may be returned from an UpdateFunc to leave the key untouched.
	ErrNoChange = errors.New("state: no change")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("state: store closed")
)

// UpdateFunc receives the current value (nil when absent) and returns the
// next value. Returning nil deletes the key; returning ErrNoChange skips the
// write; any other error aborts the update and is returned to the caller.
// Backends may call fn more than once when retrying, so it must not have
// side effects beyond computing the next value.
type UpdateFunc func(current []byte) ([]byte, error)

// Entry is one stored key.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is a persisted map from string identities to small serialized records.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Update atomically reads, transforms, and writes one key. Concurrent
	// updates of the same key, from this or another process, are serialized.
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, key string) error
	// List returns entries whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
	Close() error
}

// Open builds the backend selected by cfg.State.Backend.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, errors.New("state: config is required")
	}
	switch cfg.State.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.State.PostgresDSN)
	case "sqlite", "":
		if err := cfg.EnsureDirectories(); err != nil {
			return nil, fmt.Errorf("ensure directories: %w", err)
		}
		return OpenSQLite(ctx, cfg.StateDBPath(), logger)
	default:
		return nil, fmt.Errorf("state: unsupported backend %q", cfg.State.Backend)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// applyUpdate runs fn and reports the write to perform.
func applyUpdate(fn UpdateFunc, current []byte) (next []byte, write bool, err error) {
	next, err = fn(current)
	if errors.Is(err, ErrNoChange) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("state: empty key")
	}
	return nil
}
