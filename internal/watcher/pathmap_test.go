package watcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemotePath_NoRemoteRoot(t *testing.T) {
	require.Equal(t, "docs/a.txt", RemotePath("", "docs", "a.txt"))
}

func TestRemotePath_WithRemoteRoot(t *testing.T) {
	require.Equal(t, "backup/docs/a.txt", RemotePath("backup", "docs", "a.txt"))
}

func TestRemotePath_MyFilesSynonymStripped(t *testing.T) {
	require.Equal(t, "a.txt", RemotePath("", "my_files", "a.txt"))
	require.Equal(t, "a.txt", RemotePath("", "./my_files", "a.txt"))
	require.Equal(t, "backup/a.txt", RemotePath("backup", "my_files", "a.txt"))
}

func TestLocalPath_Joins(t *testing.T) {
	require.Equal(t, "/home/user/sync/a.txt", LocalPath("/home/user/sync", "a.txt"))
}
