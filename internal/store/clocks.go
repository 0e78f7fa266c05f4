package store

import (
	"context"
	"fmt"
	"strings"
)

const sqlSetClock = `
	INSERT INTO clocks (watched_directory, token, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (watched_directory) DO UPDATE SET
		token      = excluded.token,
		updated_at = excluded.updated_at`

// SetClock records the latest watcher cursor token observed for a
// watched directory, so a restart can resume without a full rescan.
func (s *Store) SetClock(ctx context.Context, tx *Tx, watchedDirectory, token string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlSetClock, watchedDirectory, token, s.nowNano())
		return wrapSQLErr("set clock", err)
	})
}

const sqlGetClock = `SELECT token FROM clocks WHERE watched_directory = ?`

// GetClock returns the last recorded token for watchedDirectory, or
// ("", nil) if none has been recorded yet.
func (s *Store) GetClock(ctx context.Context, watchedDirectory string) (string, error) {
	var token string

	err := s.db.QueryRowContext(ctx, sqlGetClock, watchedDirectory).Scan(&token)
	if isNoRows(err) {
		return "", nil
	}

	if err != nil {
		return "", wrapSQLErr("get clock", err)
	}

	return token, nil
}

const sqlDeleteClock = `DELETE FROM clocks WHERE watched_directory = ?`

// DeleteClock removes the recorded clock for watchedDirectory.
func (s *Store) DeleteClock(ctx context.Context, tx *Tx, watchedDirectory string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlDeleteClock, watchedDirectory)
		return wrapSQLErr("delete clock", err)
	})
}

// DeleteClocksNotIn prunes clocks for directories no longer present in
// keep, called when the configured sync directory set shrinks.
func (s *Store) DeleteClocksNotIn(ctx context.Context, tx *Tx, keep []string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		if len(keep) == 0 {
			_, err := t.querier().ExecContext(ctx, `DELETE FROM clocks`)
			return wrapSQLErr("delete all clocks", err)
		}

		placeholders := make([]string, len(keep))
		args := make([]any, len(keep))

		for i, dir := range keep {
			placeholders[i] = "?"
			args[i] = dir
		}

		query := fmt.Sprintf(`DELETE FROM clocks WHERE watched_directory NOT IN (%s)`,
			strings.Join(placeholders, ","))

		_, err := t.querier().ExecContext(ctx, query, args...)
		return wrapSQLErr("delete clocks not in", err)
	})
}
