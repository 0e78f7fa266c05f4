package store

import "context"

// Flag names recognized by the engine. Stored as rows in the flags table
// rather than an enum column, so new flags don't require a migration.
const (
	FlagRunning          = "RUNNING"
	FlagPaused           = "PAUSED"
	FlagServiceInstalled = "SERVICE_INSTALLED"
	FlagDrainRequested   = "DRAIN_REQUESTED"
)

const sqlSetFlag = `INSERT INTO flags (name) VALUES (?) ON CONFLICT (name) DO NOTHING`

// SetFlag sets a named boolean process state. Idempotent.
func (s *Store) SetFlag(ctx context.Context, tx *Tx, name string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlSetFlag, name)
		return wrapSQLErr("set flag", err)
	})
}

const sqlClearFlag = `DELETE FROM flags WHERE name = ?`

// ClearFlag clears a named flag. Idempotent.
func (s *Store) ClearFlag(ctx context.Context, tx *Tx, name string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlClearFlag, name)
		return wrapSQLErr("clear flag", err)
	})
}

const sqlIsFlagSet = `SELECT 1 FROM flags WHERE name = ?`

// IsFlagSet reports whether the named flag is currently set.
func (s *Store) IsFlagSet(ctx context.Context, name string) (bool, error) {
	var one int

	err := s.db.QueryRowContext(ctx, sqlIsFlagSet, name).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}

	if err != nil {
		return false, wrapSQLErr("check flag", err)
	}

	return true, nil
}
