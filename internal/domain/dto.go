package domain

import (
	"time"
)

// SubmitRequest represents the request body for submitting an item directly.
type SubmitRequest struct {
	ID        string `json:"id" validate:"required,min=1,max=128"`
	Title     string `json:"title" validate:"required,min=1,max=512"`
	SourceRef string `json:"source_ref" validate:"required,safe_url"`
}

// SessionState describes what the scheduler is currently doing.
type SessionState string

const (
	SessionIdle     SessionState = "idle"
	SessionRunning  SessionState = "running"
	SessionDraining SessionState = "draining"
)

// SessionStats counts work performed during one scheduling session.
type SessionStats struct {
	DownloadsDispatched int64 `json:"downloads_dispatched"`
	DownloadsCompleted  int64 `json:"downloads_completed"`
	DownloadsFailed     int64 `json:"downloads_failed"`
	UploadsDispatched   int64 `json:"uploads_dispatched"`
	UploadsCompleted    int64 `json:"uploads_completed"`
	UploadsFailed       int64 `json:"uploads_failed"`
	UploadsSkipped      int64 `json:"uploads_skipped"`
}

// StateView is the full status snapshot served to clients and streamed over SSE.
type StateView struct {
	Tasks          map[string]*Task `json:"tasks"`
	DownloadQueue  []string         `json:"download_queue"`
	UploadQueue    []string         `json:"upload_queue"`
	ProcessedCount int              `json:"processed_count"`
	StopRequested  bool             `json:"stop_requested"`
	SessionID      string           `json:"session_id,omitempty"`
	SessionState   SessionState     `json:"session_state"`
	SessionStats   SessionStats     `json:"session_stats"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// TaskView is the per-task response shape for GET /tasks/{taskID}.
type TaskView struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Status           TaskStatus `json:"status"`
	DownloadProgress float64    `json:"download_progress"`
	UploadProgress   float64    `json:"upload_progress"`
	LocalPath        string     `json:"local_path,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	Stale            bool       `json:"stale,omitempty"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// ViewOf builds the response shape for a task, marking in-flight records
// whose last update is older than staleAfter.
func ViewOf(t *Task, staleAfter time.Duration) TaskView {
	v := TaskView{
		ID:               t.ID,
		Title:            t.Title,
		Status:           t.Status,
		DownloadProgress: t.DownloadProgress,
		UploadProgress:   t.UploadProgress,
		LocalPath:        t.LocalPath,
		ErrorMessage:     t.ErrorMessage,
		LastUpdated:      t.LastUpdated,
	}
	if staleAfter > 0 && t.Status.IsActive() && time.Since(t.LastUpdated) > staleAfter {
		v.Stale = true
	}
	return v
}
