package domain

// TaskStatus represents the current state of a Task.
type TaskStatus string

const (
	StatusPendingDownload TaskStatus = "pending_download"
	StatusDownloading     TaskStatus = "downloading"
	StatusPendingUpload   TaskStatus = "pending_upload"
	StatusUploading       TaskStatus = "uploading"
	StatusCompleted       TaskStatus = "completed"
	StatusSkippedUpload   TaskStatus = "skipped_upload"
	StatusPaused          TaskStatus = "paused"
	StatusError           TaskStatus = "error"
	StatusFailedDownload  TaskStatus = "failed_download"
	StatusFailedUpload    TaskStatus = "failed_upload"
)

// String returns the string representation of the status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsActive reports whether a worker currently owns the task or it waits in a queue.
func (s TaskStatus) IsActive() bool {
	switch s {
	case StatusPendingDownload, StatusDownloading, StatusPendingUpload, StatusUploading:
		return true
	}
	return false
}

// IsFailed reports whether the task is in a retryable failure state.
func (s TaskStatus) IsFailed() bool {
	switch s {
	case StatusError, StatusFailedDownload, StatusFailedUpload:
		return true
	}
	return false
}

// IsProcessed reports whether the task is permanently done and belongs in the processed-set.
func (s TaskStatus) IsProcessed() bool {
	return s == StatusCompleted || s == StatusSkippedUpload
}
