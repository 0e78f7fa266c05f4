package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registers as "sqlite"
)

const (
	walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit
	busyTimeoutMillis   = 5000
)

// Tx is a handle to an in-progress Store transaction. Domain methods
// accept a *Tx (nil means "wrap this call in its own transaction").
type Tx struct {
	tx *sql.Tx
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run against either the pool or an in-progress transaction.
type querier interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func (t *Tx) querier() querier {
	return t.tx
}

// q returns the querier a read should run against: tx's connection if a
// transaction is in progress, otherwise the pool. Since the Store opens
// its database with a single connection (sole-writer pattern), a read
// issued against the pool while a transaction is open on that same
// connection would block forever waiting for a connection that will
// never free up — callers reading inside a Store.Transaction body MUST
// pass that body's tx here.
func (s *Store) q(tx *Tx) querier {
	if tx != nil {
		return tx.querier()
	}

	return s.db
}

// Store is the transactional, SQLite-backed home for all sync engine
// state: jobs, hashes, node mappings, clocks, flags, and signals.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time // injectable for deterministic tests
}

// Open opens (or creates) the database at path, applies pragmas and
// migrations, and returns a ready-to-use Store. Use ":memory:" for tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening sync state database", slog.String("path", path))

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(%d)"+
			"&_pragma=journal_size_limit(%d)",
		path, busyTimeoutMillis, walJournalSizeLimit,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening sqlite: %w", err)
	}

	// Sole-writer pattern: SQLite only tolerates one writer at a time;
	// serializing at the connection-pool level avoids SQLITE_BUSY storms.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("sync state database ready", slog.String("path", path))

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Info("closing sync state database")
	return s.db.Close()
}

// Transaction runs body inside a single serializable transaction,
// committing on success and rolling back on error or panic.
func (s *Store) Transaction(ctx context.Context, body func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &TransientError{Op: "begin transaction", Err: err}
	}

	tx := &Tx{tx: sqlTx}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := body(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &TransientError{Op: "commit transaction", Err: err}
	}

	committed = true

	return nil
}

// withTx runs fn against tx if provided, otherwise opens an implicit
// single-statement transaction. Every domain method goes through this
// so callers can either compose several calls into one Store.Transaction
// or call a single method standalone.
func (s *Store) withTx(ctx context.Context, tx *Tx, fn func(*Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	return s.Transaction(ctx, fn)
}

func (s *Store) nowNano() int64 {
	return s.now().UnixNano()
}

func timeFromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: s, Valid: true}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// wrapSQLErr classifies a raw sql error into the Store's error taxonomy.
// Busy/locked errors (lock contention under the sole-writer pattern) are
// transient; everything else surfaces unwrapped.
func wrapSQLErr(op string, err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "locked") || strings.Contains(msg, "busy") {
		return &TransientError{Op: op, Err: err}
	}

	return fmt.Errorf("store: %s: %w", op, err)
}
