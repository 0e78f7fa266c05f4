// Package remote defines the narrow interface the executor uses to
// perform operations against the remote content-addressed storage
// service. internal/remote/fake provides a deterministic in-memory
// double for tests; a real HTTP-backed client is out of scope.
package remote

import (
	"context"
	"io"
)

// Node describes a remote file or folder as returned by Client methods.
type Node struct {
	UID       string
	Path      string
	IsDir     bool
	Hash      string
	UpdatedAt int64
}

// Client is the full set of remote operations the executor needs to
// realize a sync job. Every method is idempotent with respect to its
// node-identity arguments where the remote API allows it, so the
// executor's retry loop can safely re-issue a call after a transient
// failure without double-creating state.
type Client interface {
	Uploader
	NodeOps
}

// Uploader creates or overwrites remote file content.
type Uploader interface {
	// CreateFile uploads content as a new file at remotePath, optionally
	// nested under parentUID (empty means "at the sync root"). Returns
	// the created node.
	CreateFile(ctx context.Context, remotePath, parentUID string, content io.Reader) (*Node, error)

	// UpdateFile overwrites the content of the node identified by uid.
	UpdateFile(ctx context.Context, uid string, content io.Reader) (*Node, error)
}

// NodeOps covers structural operations: folder creation, rename/move,
// and delete.
type NodeOps interface {
	// CreateFolder creates a folder at remotePath under parentUID.
	CreateFolder(ctx context.Context, remotePath, parentUID string) (*Node, error)

	// Rename changes the name/path of the node identified by uid without
	// changing its parent.
	Rename(ctx context.Context, uid, newRemotePath string) (*Node, error)

	// Move changes the parent of the node identified by uid, optionally
	// also renaming it in the same call.
	Move(ctx context.Context, uid, newParentUID, newRemotePath string) (*Node, error)

	// Delete removes the node identified by uid. Deleting a folder
	// removes everything nested beneath it.
	Delete(ctx context.Context, uid string) error
}
