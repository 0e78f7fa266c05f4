package store

import (
	"context"
	"strings"
)

const sqlSetFileHash = `
	INSERT INTO file_hashes (local_path, content_hash, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (local_path) DO UPDATE SET
		content_hash = excluded.content_hash,
		updated_at   = excluded.updated_at`

// SetFileHash records the last-known content hash for localPath, used to
// suppress UPDATE jobs for changes that don't actually alter content
// (e.g. a touch, or a save that round-trips to identical bytes).
func (s *Store) SetFileHash(ctx context.Context, tx *Tx, localPath, contentHash string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlSetFileHash, localPath, contentHash, s.nowNano())
		return wrapSQLErr("set file hash", err)
	})
}

const sqlGetFileHash = `SELECT content_hash FROM file_hashes WHERE local_path = ?`

// GetFileHash returns the last recorded content hash for localPath, or
// ("", nil) if none is recorded. Pass the enclosing tx when called from
// inside a Store.Transaction body; nil reads against the pool directly.
func (s *Store) GetFileHash(ctx context.Context, tx *Tx, localPath string) (string, error) {
	var hash string

	err := s.q(tx).QueryRowContext(ctx, sqlGetFileHash, localPath).Scan(&hash)
	if isNoRows(err) {
		return "", nil
	}

	if err != nil {
		return "", wrapSQLErr("get file hash", err)
	}

	return hash, nil
}

const sqlDeleteFileHash = `DELETE FROM file_hashes WHERE local_path = ?`

// DeleteFileHash removes the recorded hash for localPath (called when a
// file is deleted, so a later re-create at the same path starts fresh).
func (s *Store) DeleteFileHash(ctx context.Context, tx *Tx, localPath string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlDeleteFileHash, localPath)
		return wrapSQLErr("delete file hash", err)
	})
}

const sqlDeleteFileHashesUnderPrefix = `DELETE FROM file_hashes WHERE local_path = ? OR local_path LIKE ? ESCAPE '\'`

// DeleteFileHashesUnderPrefix removes hashes for dirPath itself and every
// path nested beneath it, for directory-delete cascade cleanup.
func (s *Store) DeleteFileHashesUnderPrefix(ctx context.Context, tx *Tx, dirPath string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlDeleteFileHashesUnderPrefix, dirPath, likePrefix(dirPath))
		return wrapSQLErr("delete file hashes under prefix", err)
	})
}

// likePrefix builds a LIKE pattern matching every path strictly nested
// under dir, escaping SQL LIKE metacharacters present in the path itself.
func likePrefix(dir string) string {
	escaped := escapeLike(dir)
	return escaped + "/%"
}

const sqlListAllFileHashPaths = `SELECT local_path FROM file_hashes`

// ListAllFileHashPaths returns every local path with a recorded hash,
// used by startup cleanup to find rows outside the configured roots.
func (s *Store) ListAllFileHashPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlListAllFileHashPaths)
	if err != nil {
		return nil, wrapSQLErr("list file hash paths", err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if scanErr := rows.Scan(&p); scanErr != nil {
			return nil, wrapSQLErr("scan file hash path", scanErr)
		}

		paths = append(paths, p)
	}

	return paths, wrapSQLErr("iterate file hash paths", rows.Err())
}

// DeleteFileHashesOutsideRoots removes every hash row whose local path is
// not under any of roots, called on startup when the configured sync
// directory set shrinks. Returns the number of rows removed.
func (s *Store) DeleteFileHashesOutsideRoots(ctx context.Context, tx *Tx, roots []string) (int64, error) {
	paths, err := s.ListAllFileHashPaths(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64

	for _, p := range paths {
		if underAnyRoot(p, roots) {
			continue
		}

		if err := s.DeleteFileHash(ctx, tx, p); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

// underAnyRoot reports whether path equals or is nested under one of roots.
func underAnyRoot(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}

	return false
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\', '%', '_':
			out = append(out, '\\', s[i])
		default:
			out = append(out, s[i])
		}
	}

	return string(out)
}
