package syncqueue

import "time"

// JobType identifies the remote mutation a task carries. The remote API
// treats every job type as idempotent keyed by relative path, so replaying an
// already-applied task is a no-op.
type JobType string

const (
	JobUpload         JobType = "upload"
	JobUpdate         JobType = "update"
	JobMove           JobType = "move"
	JobRenameFolder   JobType = "rename-folder"
	JobDelete         JobType = "delete"
	JobShallowDelete  JobType = "shallow-delete"
	JobSetBookmark    JobType = "set-bookmark"
	JobDeleteBookmark JobType = "delete-bookmark"
	JobUploadArtwork  JobType = "upload-artwork"
)

var allJobTypes = []JobType{
	JobUpload,
	JobUpdate,
	JobMove,
	JobRenameFolder,
	JobDelete,
	JobShallowDelete,
	JobSetBookmark,
	JobDeleteBookmark,
	JobUploadArtwork,
}

// Valid reports whether the job type is one of the known kinds.
func (j JobType) Valid() bool {
	for _, known := range allJobTypes {
		if j == known {
			return true
		}
	}
	return false
}

// UploadClass reports whether the task ships file bytes to the remote and is
// therefore subject to the wifi-only data-usage gate.
func (j JobType) UploadClass() bool {
	return j == JobUpload || j == JobUploadArtwork
}

// PathRewrite records one relative-path change produced by a structural
// library mutation (move, folder rename, shallow delete).
type PathRewrite struct {
	OldPath string
	NewPath string
}

// Task is one durable pending remote mutation. Tasks are keyed by ID, not by
// path, so two operations on the same item stay independently retryable.
type Task struct {
	ID           string
	RelativePath string
	JobType      JobType
	Parameters   map[string]string
	CreatedAt    time.Time
	Attempts     int
	LastError    string
}
