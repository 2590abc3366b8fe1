// Package store persists the harvest work queues and catalog in SQLite.
//
// Four collections are kept: pending_discovery and pending_enrichment are
// work markers with a monotonic processed flag, mcp_servers and tags are the
// durable catalog. Nothing is ever deleted by the pipeline.
//
// Queue selection is a claim: a single UPDATE ... RETURNING sets a lease
// (claimed_until) on the oldest unprocessed rows, so two overlapping runs
// never pick the same row while the lease is live.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/mcpharvest/idgen"
)

// ErrDuplicate is returned when an insert violates a natural-key constraint.
var ErrDuplicate = errors.New("store: duplicate record")

// Store wraps the harvest database.
type Store struct {
	DB    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the record ID generator (default UUIDv7).
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// WithClock overrides the time source used for timestamps and leases.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an already-opened database. The schema must already be applied.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, newID: idgen.Default, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens the SQLite database at path with WAL and busy_timeout pragmas,
// creating parent directories, and applies the schema.
// The caller must blank-import modernc.org/sqlite.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	for _, p := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if err := ApplySchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return New(db, opts...), nil
}

// OpenMemory opens an in-memory store for tests and closes it on cleanup.
func OpenMemory(t testing.TB, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

const maxRetries = 3

// isBusy reports whether err indicates an SQLite BUSY condition.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// retry runs fn up to 3 times with 100/200/300 ms backoff while SQLite
// reports BUSY.
func retry(ctx context.Context, fn func() error) error {
	var err error
	for i := range maxRetries {
		err = fn()
		if !isBusy(err) || i == maxRetries-1 {
			return err
		}
		t := time.NewTimer(time.Duration(100*(i+1)) * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("store: context cancelled during retry: %w", ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runTx runs fn in a transaction, retrying the whole transaction on BUSY.
func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retry(ctx, func() error {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry(ctx, func() error {
		var err error
		res, err = s.DB.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
