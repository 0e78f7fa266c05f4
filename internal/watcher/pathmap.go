package watcher

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// myFilesSynonyms are local directory-name spellings that map to no
// segment at all in the remote path (the remote root already implies
// "my files"); both the bare and dot-relative spellings are recognized.
var myFilesSynonyms = map[string]bool{
	"my_files":   true,
	"./my_files": true,
}

// LocalPath joins watchRoot and name into an absolute local filesystem
// path using forward-slash path rules.
func LocalPath(watchRoot, name string) string {
	return path.Join(watchRoot, name)
}

// RemotePath computes the remote path for a file named name inside
// dirName, given an optional remoteRoot prefix. If remoteRoot is empty,
// the remote path is just "dirName/name". A dirName that is one of the
// recognized "my files" synonyms contributes no path segment of its own.
func RemotePath(remoteRoot, dirName, name string) string {
	dirName = stripMyFilesSynonym(dirName)
	name = norm.NFC.String(name)

	var segments []string
	if remoteRoot != "" {
		segments = append(segments, trimSlashes(remoteRoot))
	}

	if dirName != "" {
		segments = append(segments, trimSlashes(dirName))
	}

	segments = append(segments, name)

	return strings.Join(segments, "/")
}

func stripMyFilesSynonym(dirName string) string {
	if myFilesSynonyms[dirName] {
		return ""
	}

	return dirName
}

func trimSlashes(s string) string {
	return strings.Trim(s, "/")
}
