package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cropwatch_state (
    key        TEXT PRIMARY KEY,
    value      BYTEA NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore persists state in PostgreSQL so several hosts can share it.
// Per-key updates hold a transaction-scoped advisory lock on the key.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the state table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx = ensureContext(ctx)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := p.pool.QueryRow(ensureContext(ctx), "SELECT value FROM cropwatch_state WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (p *PostgresStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validKey(key); err != nil {
		return err
	}
	ctx = ensureContext(ctx)
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key); err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		var current []byte
		err := tx.QueryRow(ctx, "SELECT value FROM cropwatch_state WHERE key = $1", key).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("read %s: %w", key, err)
		}

		next, write, err := applyUpdate(fn, current)
		if err != nil || !write {
			return err
		}
		if next == nil {
			_, err = tx.Exec(ctx, "DELETE FROM cropwatch_state WHERE key = $1", key)
		} else {
			_, err = tx.Exec(ctx,
				`INSERT INTO cropwatch_state (key, value, updated_at) VALUES ($1, $2, now())
				 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
				key, next)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return nil
	})
}

func (p *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ensureContext(ctx), "DELETE FROM cropwatch_state WHERE key = $1", key)
	return err
}

func (p *PostgresStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx = ensureContext(ctx)
	rows, err := p.pool.Query(ctx,
		"SELECT key, value, updated_at FROM cropwatch_state WHERE starts_with(key, $1) ORDER BY key", prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var entry Entry
		err := row.Scan(&entry.Key, &entry.Value, &entry.UpdatedAt)
		return entry, err
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return entries, nil
}

func (p *PostgresStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	tag, err := p.pool.Exec(ensureContext(ctx), "DELETE FROM cropwatch_state WHERE starts_with(key, $1)", prefix)
	if err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
