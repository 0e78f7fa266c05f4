// Package fake provides a deterministic, in-memory implementation of
// remote.Client for tests, in place of a real HTTP-backed storage client.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/DamianB-BitFlipper/proton-drive-sync/internal/remote"
)

// Client is a thread-safe, in-memory stand-in for remote.Client. It
// assigns synthetic node UIDs via uuid.New and keeps all state in an
// in-process map, with no network or filesystem I/O.
type Client struct {
	mu sync.Mutex

	nodes   map[string]*remote.Node
	content map[string][]byte

	// Hooks let tests inject failures on the next call to the named
	// operation, to exercise the executor's classification/retry paths.
	FailNext map[string]error
}

// New returns an empty fake Client.
func New() *Client {
	return &Client{
		nodes:    make(map[string]*remote.Node),
		content:  make(map[string][]byte),
		FailNext: make(map[string]error),
	}
}

func (c *Client) takeFailure(op string) error {
	err, ok := c.FailNext[op]
	if !ok {
		return nil
	}

	delete(c.FailNext, op)

	return err
}

// CreateFile implements remote.Uploader.
func (c *Client) CreateFile(_ context.Context, remotePath, parentUID string, content io.Reader) (*remote.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("CreateFile"); err != nil {
		return nil, err
	}

	buf, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("fake: reading content: %w", err)
	}

	node := &remote.Node{UID: uuid.NewString(), Path: remotePath, Hash: hashOf(buf)}
	c.nodes[node.UID] = node
	c.content[node.UID] = buf

	_ = parentUID // the fake tracks parentage only via Path, not a tree

	return copyNode(node), nil
}

// UpdateFile implements remote.Uploader.
func (c *Client) UpdateFile(_ context.Context, uid string, content io.Reader) (*remote.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("UpdateFile"); err != nil {
		return nil, err
	}

	node, ok := c.nodes[uid]
	if !ok {
		return nil, fmt.Errorf("fake: node %q not found", uid)
	}

	buf, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("fake: reading content: %w", err)
	}

	node.Hash = hashOf(buf)
	c.content[uid] = buf

	return copyNode(node), nil
}

// Download reads back previously uploaded content by node UID. It is not
// part of the remote.Client interface — nothing in the core sync path is
// bidirectional — but tests use it directly on the concrete fake to
// assert that CreateFile/UpdateFile actually stored what they were given.
func (c *Client) Download(_ context.Context, uid string, w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("Download"); err != nil {
		return err
	}

	buf, ok := c.content[uid]
	if !ok {
		return fmt.Errorf("fake: node %q not found", uid)
	}

	_, err := w.Write(buf)

	return err
}

// CreateFolder implements remote.NodeOps.
func (c *Client) CreateFolder(_ context.Context, remotePath, parentUID string) (*remote.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("CreateFolder"); err != nil {
		return nil, err
	}

	node := &remote.Node{UID: uuid.NewString(), Path: remotePath, IsDir: true}
	c.nodes[node.UID] = node

	_ = parentUID

	return copyNode(node), nil
}

// Rename implements remote.NodeOps.
func (c *Client) Rename(_ context.Context, uid, newRemotePath string) (*remote.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("Rename"); err != nil {
		return nil, err
	}

	node, ok := c.nodes[uid]
	if !ok {
		return nil, fmt.Errorf("fake: node %q not found", uid)
	}

	node.Path = newRemotePath

	return copyNode(node), nil
}

// Move implements remote.NodeOps.
func (c *Client) Move(_ context.Context, uid, newParentUID, newRemotePath string) (*remote.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("Move"); err != nil {
		return nil, err
	}

	node, ok := c.nodes[uid]
	if !ok {
		return nil, fmt.Errorf("fake: node %q not found", uid)
	}

	node.Path = newRemotePath
	_ = newParentUID

	return copyNode(node), nil
}

// Delete implements remote.NodeOps.
func (c *Client) Delete(_ context.Context, uid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.takeFailure("Delete"); err != nil {
		return err
	}

	delete(c.nodes, uid)
	delete(c.content, uid)

	return nil
}

// NodeByPath is a test helper returning the node currently registered at
// path, or nil if none.
func (c *Client) NodeByPath(path string) *remote.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.Path == path {
			return copyNode(n)
		}
	}

	return nil
}

func copyNode(n *remote.Node) *remote.Node {
	cp := *n
	return &cp
}

func hashOf(buf []byte) string {
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
