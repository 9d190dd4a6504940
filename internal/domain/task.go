package domain

import (
	"time"
)

// Task tracks one content item from discovery through relay completion.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	SourceRef        string     `json:"source_ref"`
	Status           TaskStatus `json:"status"`
	DownloadProgress float64    `json:"download_progress"`
	UploadProgress   float64    `json:"upload_progress"`
	LocalPath        string     `json:"local_path,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	AddedAt          time.Time  `json:"added_at"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// CatalogItem is one entry handed over by the discovery collaborator.
type CatalogItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceRef string    `json:"source_ref"`
	Published time.Time `json:"published,omitempty"`
	Rating    int       `json:"rating,omitempty"`
}

// NewTask creates a task in the pending_download state.
func NewTask(item CatalogItem) *Task {
	now := time.Now()
	return &Task{
		ID:          item.ID,
		Title:       item.Title,
		SourceRef:   item.SourceRef,
		Status:      StatusPendingDownload,
		AddedAt:     now,
		LastUpdated: now,
	}
}

// Clone returns a copy safe to hand out without holding the store lock.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}
