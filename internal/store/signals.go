package store

import (
	"context"
	"strings"
)

const sqlSendSignal = `INSERT INTO signals (name, created_at) VALUES (?, ?)`

// SendSignal durably enqueues a named signal. Multiple sends of the same
// name queue independently; consumers drain them one at a time.
func (s *Store) SendSignal(ctx context.Context, tx *Tx, name string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlSendSignal, name, s.nowNano())
		return wrapSQLErr("send signal", err)
	})
}

const sqlPeekNextSignal = `SELECT id, name, created_at FROM signals ORDER BY id ASC LIMIT 1`

// PeekNextSignal returns the oldest pending signal without consuming it,
// or (nil, nil) if the queue is empty.
func (s *Store) PeekNextSignal(ctx context.Context) (*Signal, error) {
	row := s.db.QueryRowContext(ctx, sqlPeekNextSignal)

	sig, err := scanSignal(row)
	if isNoRows(err) {
		return nil, nil //nolint:nilnil // nil signal means "queue empty", not an error
	}

	if err != nil {
		return nil, wrapSQLErr("peek next signal", err)
	}

	return sig, nil
}

// PeekNextSignalForNames returns the oldest pending signal whose name is
// one of names, without consuming it, or (nil, nil) if none of those
// names currently has a pending signal. A signal whose name isn't in
// names is left untouched — a signal with no registered listener queues
// indefinitely as a readiness handshake between CLI producers and the
// daemon, rather than being dropped by an unconditional peek.
func (s *Store) PeekNextSignalForNames(ctx context.Context, names []string) (*Signal, error) {
	if len(names) == 0 {
		return nil, nil //nolint:nilnil // no listened-for name means nothing eligible to deliver
	}

	placeholders := make([]string, len(names))
	args := make([]any, len(names))

	for i, n := range names {
		placeholders[i] = "?"
		args[i] = n
	}

	query := `SELECT id, name, created_at FROM signals WHERE name IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY id ASC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)

	sig, err := scanSignal(row)
	if isNoRows(err) {
		return nil, nil //nolint:nilnil // nil signal means "none of these names are pending", not an error
	}

	if err != nil {
		return nil, wrapSQLErr("peek next signal for names", err)
	}

	return sig, nil
}

const sqlDeleteSignal = `DELETE FROM signals WHERE id = ?`

// DeleteSignal removes a signal by ID. Callers implementing
// delete-before-notify semantics must commit this delete in its own
// transaction before invoking any listener for the signal, since a
// listener may terminate the process and an undeleted signal would
// otherwise replay on the next startup.
func (s *Store) DeleteSignal(ctx context.Context, tx *Tx, id int64) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlDeleteSignal, id)
		return wrapSQLErr("delete signal", err)
	})
}

const sqlHasSignal = `SELECT 1 FROM signals WHERE name = ? LIMIT 1`

// HasSignal reports whether any pending signal named name exists.
func (s *Store) HasSignal(ctx context.Context, name string) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx, sqlHasSignal, name).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}

	if err != nil {
		return false, wrapSQLErr("check signal", err)
	}

	return true, nil
}

func scanSignal(row scanner) (*Signal, error) {
	var (
		sig       Signal
		createdAt int64
	)

	if err := row.Scan(&sig.ID, &sig.Name, &createdAt); err != nil {
		return nil, err
	}

	sig.CreatedAt = timeFromNano(createdAt)

	return &sig, nil
}
