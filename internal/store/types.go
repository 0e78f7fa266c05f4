// Package store provides transactional persistence for the sync engine:
// jobs, content hashes, local-to-remote node identity mappings, watcher
// clocks, process flags, and inter-process signals. It is the sole owner
// of durable state — every other component mutates rows only through a
// Store transaction.
package store

import "time"

// EventType is the kind of change a SyncJob represents.
type EventType string

// Recognized job event types.
const (
	EventCreate EventType = "CREATE"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventRename EventType = "RENAME"
	EventMove   EventType = "MOVE"
)

// JobStatus is the lifecycle state of a SyncJob.
type JobStatus string

// Recognized job statuses. SYNCED and BLOCKED are terminal.
const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusSynced     JobStatus = "SYNCED"
	StatusBlocked    JobStatus = "BLOCKED"
)

// SyncJob is a single planned remote operation awaiting or undergoing
// execution. (localPath, remotePath) is unique across non-terminal jobs.
type SyncJob struct {
	ID            int64
	EventType     EventType
	LocalPath     string
	RemotePath    string
	Status        JobStatus
	RetryAt       time.Time
	NRetries      int
	LastError     string // empty means no error recorded
	ContentHash   string // empty for DELETE jobs
	OldLocalPath  string // set only for RENAME/MOVE
	OldRemotePath string // set only for RENAME/MOVE
	CreatedAt     time.Time
}

// IsRenameOrMove reports whether the job carries old-path fields.
func (j *SyncJob) IsRenameOrMove() bool {
	return j.EventType == EventRename || j.EventType == EventMove
}

// FileHash is the last content hash successfully propagated to the
// remote for a local path. Used to suppress no-op UPDATE jobs.
type FileHash struct {
	LocalPath   string
	ContentHash string
	UpdatedAt   time.Time
}

// NodeMapping translates a local path to the opaque remote node
// identifiers needed for in-place RENAME/MOVE operations.
type NodeMapping struct {
	LocalPath      string
	RemotePath     string
	NodeUID        string
	ParentNodeUID  string
	IsDirectory    bool
	UpdatedAt      time.Time
}

// Clock is the watcher's resumable per-directory cursor token.
type Clock struct {
	WatchedDirectory string
	Token            string
	UpdatedAt        time.Time
}

// Signal is a single durable, at-most-once-delivered inter-process
// notification (e.g. "pause-sync", "resume-sync", "stop").
type Signal struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// JobParams describes the fields needed to enqueue a SyncJob. Unset
// fields for the given EventType are left at their zero value by
// convention (e.g. ContentHash is empty for DELETE).
type JobParams struct {
	EventType     EventType
	LocalPath     string
	RemotePath    string
	ContentHash   string
	OldLocalPath  string
	OldRemotePath string
}
