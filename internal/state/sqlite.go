package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cropwatch/internal/logging"
)

// SQLiteStore persists state in a single-file SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	keys *keyLocks
}

const (
	sqliteBusyCode          = 5
	sqliteCorruptCode       = 11
	sqliteNotADBCode        = 26
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func sqliteCode(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code() & 0xff
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err) == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteCorrupt(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) {
	case sqliteCorruptCode, sqliteNotADBCode:
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// OpenSQLite opens or creates the state database at path. A database that
// SQLite reports as corrupt is moved aside and replaced with an empty one,
// since lost dedup state costs at most one repeated notification.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	ctx = ensureContext(ctx)
	store, err := openSQLite(ctx, path)
	if err == nil || !isSQLiteCorrupt(err) {
		return store, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	logging.WarnWithContext(logging.NewComponentLogger(logger, "state"), "state database corrupt; starting empty", "state_corrupt",
		logging.String("path", path),
		logging.String("moved_to", aside),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the moved file if the corruption repeats"),
		logging.String(logging.FieldImpact, "previous dedup state discarded; some notifications may repeat once"),
	)
	if renameErr := os.Rename(path, aside); renameErr != nil {
		return nil, fmt.Errorf("move corrupt state database: %w", renameErr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	return openSQLite(ctx, path)
}

func openSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	store := &SQLiteStore{db: db, path: path, keys: newKeyLocks()}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx = ensureContext(ctx)
	var value []byte
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT value FROM tracked_state WHERE key = ?", key).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validKey(key); err != nil {
		return err
	}
	ctx = ensureContext(ctx)
	release := s.keys.lock(key)
	defer release()

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin update %s: %w", key, err)
		}
		defer func() { _ = tx.Rollback() }()

		var current []byte
		err = tx.QueryRowContext(ctx, "SELECT value FROM tracked_state WHERE key = ?", key).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read %s: %w", key, err)
		}

		next, write, err := applyUpdate(fn, current)
		if err != nil || !write {
			return err
		}
		if next == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM tracked_state WHERE key = ?", key)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO tracked_state (key, value, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				key, next, time.Now().UnixMilli())
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		return tx.Commit()
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM tracked_state WHERE key = ?", key)
		return err
	})
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	ctx = ensureContext(ctx)
	var entries []Entry
	err := retryOnBusy(ctx, func() error {
		entries = entries[:0]
		rows, err := s.db.QueryContext(ctx,
			"SELECT key, value, updated_at FROM tracked_state WHERE instr(key, ?) = 1 ORDER BY key",
			prefix)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				entry   Entry
				updated int64
			)
			if err := rows.Scan(&entry.Key, &entry.Value, &updated); err != nil {
				return err
			}
			entry.UpdatedAt = time.UnixMilli(updated).UTC()
			entries = append(entries, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return entries, nil
}

func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM tracked_state WHERE instr(key, ?) = 1", prefix)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete prefix %q: %w", prefix, err)
	}
	return removed, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
