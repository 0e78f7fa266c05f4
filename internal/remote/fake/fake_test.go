package fake

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_CreateAndDownloadRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	node, err := c.CreateFile(ctx, "a.txt", "", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	require.NotEmpty(t, node.UID)
	require.Equal(t, "a.txt", node.Path)

	var buf bytes.Buffer
	require.NoError(t, c.Download(ctx, node.UID, &buf))
	require.Equal(t, "hello", buf.String())
}

func TestClient_RenameUpdatesPath(t *testing.T) {
	c := New()
	ctx := context.Background()

	node, err := c.CreateFolder(ctx, "old", "")
	require.NoError(t, err)

	renamed, err := c.Rename(ctx, node.UID, "new")
	require.NoError(t, err)
	require.Equal(t, "new", renamed.Path)

	require.Nil(t, c.NodeByPath("old"))
	require.NotNil(t, c.NodeByPath("new"))
}

func TestClient_DeleteRemovesNode(t *testing.T) {
	c := New()
	ctx := context.Background()

	node, err := c.CreateFile(ctx, "a.txt", "", bytes.NewReader(nil))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, node.UID))
	require.Nil(t, c.NodeByPath("a.txt"))
}

func TestClient_FailNextInjectsError(t *testing.T) {
	c := New()
	ctx := context.Background()

	boom := errors.New("boom")
	c.FailNext["CreateFile"] = boom

	_, err := c.CreateFile(ctx, "a.txt", "", bytes.NewReader(nil))
	require.ErrorIs(t, err, boom)

	// Failure is consumed; the next call succeeds.
	_, err = c.CreateFile(ctx, "a.txt", "", bytes.NewReader(nil))
	require.NoError(t, err)
}
