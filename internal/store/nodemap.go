package store

import (
	"context"
	"database/sql"
)

const nodeMappingColumns = `local_path, remote_path, node_uid, parent_node_uid, is_directory, updated_at`

const sqlSetNodeMapping = `
	INSERT INTO node_mapping (local_path, remote_path, node_uid, parent_node_uid, is_directory, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (local_path, remote_path) DO UPDATE SET
		node_uid        = excluded.node_uid,
		parent_node_uid = excluded.parent_node_uid,
		is_directory    = excluded.is_directory,
		updated_at      = excluded.updated_at`

// SetNodeMapping records the remote node identity behind a local/remote
// path pair, established once a CREATE job for that path has synced.
func (s *Store) SetNodeMapping(ctx context.Context, tx *Tx, m NodeMapping) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlSetNodeMapping,
			m.LocalPath, m.RemotePath, m.NodeUID, nullableString(m.ParentNodeUID), m.IsDirectory, s.nowNano())
		return wrapSQLErr("set node mapping", err)
	})
}

const sqlGetNodeMappingByLocalPath = `SELECT ` + nodeMappingColumns + ` FROM node_mapping WHERE local_path = ?`

// GetNodeMappingByLocalPath returns the node mapping for localPath, or
// (nil, nil) if the path has no known remote identity yet. Pass the
// enclosing tx when called from inside a Store.Transaction body; nil
// reads against the pool directly.
func (s *Store) GetNodeMappingByLocalPath(ctx context.Context, tx *Tx, localPath string) (*NodeMapping, error) {
	row := s.q(tx).QueryRowContext(ctx, sqlGetNodeMappingByLocalPath, localPath)

	m, err := scanNodeMapping(row)
	if isNoRows(err) {
		return nil, nil //nolint:nilnil // nil mapping means "path never synced", not an error
	}

	if err != nil {
		return nil, wrapSQLErr("get node mapping", err)
	}

	return m, nil
}

const sqlUpdateNodeMappingPath = `
	UPDATE node_mapping SET local_path = ?, remote_path = ?, updated_at = ?
	WHERE local_path = ? AND remote_path = ?`

// UpdateNodeMappingPath re-keys a node mapping after a rename or move:
// the node's identity (NodeUID) is unchanged, only its paths move.
func (s *Store) UpdateNodeMappingPath(
	ctx context.Context, tx *Tx, oldLocalPath, oldRemotePath, newLocalPath, newRemotePath string,
) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlUpdateNodeMappingPath,
			newLocalPath, newRemotePath, s.nowNano(), oldLocalPath, oldRemotePath)
		return wrapSQLErr("update node mapping path", err)
	})
}

const sqlDeleteNodeMapping = `DELETE FROM node_mapping WHERE local_path = ?`

// DeleteNodeMapping removes the node mapping for localPath.
func (s *Store) DeleteNodeMapping(ctx context.Context, tx *Tx, localPath string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlDeleteNodeMapping, localPath)
		return wrapSQLErr("delete node mapping", err)
	})
}

const sqlDeleteNodeMappingsUnderPrefix = `DELETE FROM node_mapping WHERE local_path = ? OR local_path LIKE ? ESCAPE '\'`

// DeleteNodeMappingsUnderPrefix removes mappings for dirPath and every
// path nested beneath it, mirroring a directory delete on the remote.
func (s *Store) DeleteNodeMappingsUnderPrefix(ctx context.Context, tx *Tx, dirPath string) error {
	return s.withTx(ctx, tx, func(t *Tx) error {
		_, err := t.querier().ExecContext(ctx, sqlDeleteNodeMappingsUnderPrefix, dirPath, likePrefix(dirPath))
		return wrapSQLErr("delete node mappings under prefix", err)
	})
}

const sqlListNodeMappingsUnderPrefix = `
	SELECT ` + nodeMappingColumns + ` FROM node_mapping
	WHERE local_path = ? OR local_path LIKE ? ESCAPE '\'`

// ListNodeMappingsUnderPrefix returns every mapping at or beneath dirPath.
func (s *Store) ListNodeMappingsUnderPrefix(ctx context.Context, dirPath string) ([]*NodeMapping, error) {
	rows, err := s.db.QueryContext(ctx, sqlListNodeMappingsUnderPrefix, dirPath, likePrefix(dirPath))
	if err != nil {
		return nil, wrapSQLErr("list node mappings under prefix", err)
	}
	defer rows.Close()

	var mappings []*NodeMapping

	for rows.Next() {
		m, scanErr := scanNodeMapping(rows)
		if scanErr != nil {
			return nil, wrapSQLErr("scan node mapping row", scanErr)
		}

		mappings = append(mappings, m)
	}

	return mappings, wrapSQLErr("iterate node mapping rows", rows.Err())
}

const sqlListAllNodeMappingPaths = `SELECT local_path FROM node_mapping`

// ListAllNodeMappingPaths returns every local path with a recorded node
// mapping, used by startup cleanup to find rows outside the configured
// roots.
func (s *Store) ListAllNodeMappingPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlListAllNodeMappingPaths)
	if err != nil {
		return nil, wrapSQLErr("list node mapping paths", err)
	}
	defer rows.Close()

	var paths []string

	for rows.Next() {
		var p string
		if scanErr := rows.Scan(&p); scanErr != nil {
			return nil, wrapSQLErr("scan node mapping path", scanErr)
		}

		paths = append(paths, p)
	}

	return paths, wrapSQLErr("iterate node mapping paths", rows.Err())
}

// DeleteNodeMappingsOutsideRoots removes every mapping whose local path is
// not under any of roots, called on startup when the configured sync
// directory set shrinks. Returns the number of rows removed.
func (s *Store) DeleteNodeMappingsOutsideRoots(ctx context.Context, tx *Tx, roots []string) (int64, error) {
	paths, err := s.ListAllNodeMappingPaths(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64

	for _, p := range paths {
		if underAnyRoot(p, roots) {
			continue
		}

		if err := s.DeleteNodeMapping(ctx, tx, p); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

func scanNodeMapping(row scanner) (*NodeMapping, error) {
	var (
		m             NodeMapping
		parentNodeUID sql.NullString
		updatedAt     int64
	)

	err := row.Scan(&m.LocalPath, &m.RemotePath, &m.NodeUID, &parentNodeUID, &m.IsDirectory, &updatedAt)
	if err != nil {
		return nil, err
	}

	m.ParentNodeUID = parentNodeUID.String
	m.UpdatedAt = timeFromNano(updatedAt)

	return &m, nil
}
