package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/walhalax/tk-auto-save/internal/discovery"
	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/storage"
)

// Report summarizes what a reconciliation pass changed.
type Report struct {
	Adopted        int // finished payloads routed to the upload queue
	Resumed        int // partial payloads requeued for download
	OrphansDeleted int // unowned or stale files removed
	Reset          int // in-flight tasks whose payload vanished
}

// Reconciler aligns the task registry with what is actually on disk. It
// runs before a scheduling session so workers never act on state the
// filesystem contradicts.
type Reconciler struct {
	store    *repository.TaskStore
	payloads *storage.PayloadStore
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(store *repository.TaskStore, payloads *storage.PayloadStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		payloads: payloads,
		logger:   logger,
	}
}

// Run executes one reconciliation pass: adopt finished payloads the
// registry does not account for, requeue resumable partials, delete
// orphaned files, and reset in-flight tasks whose payload is gone.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var rep Report

	names, err := r.payloads.List()
	if err != nil {
		return rep, fmt.Errorf("scan payload dir: %w", err)
	}

	snap := r.store.Snapshot()

	for _, name := range names {
		if storage.IsPartialName(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		id, ok := discovery.TaskIDFromFilename(name)
		if !ok {
			r.logger.Warn("payload file name not recognized, leaving in place", "name", name)
			continue
		}

		task := snap.Tasks[id]
		if task != nil && !needsAdoption(task.Status) {
			continue
		}

		item := domain.CatalogItem{ID: id, Title: id}
		if task != nil {
			item.Title = task.Title
			item.SourceRef = task.SourceRef
		}
		if err := r.store.MarkDownloadComplete(item, r.payloads.FinalPath(name)); err != nil {
			return rep, err
		}
		rep.Adopted++
		r.logger.Info("adopted finished payload", "task_id", id, "name", name)
	}

	for _, name := range names {
		if !storage.IsPartialName(name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		partialPath := filepath.Join(r.payloads.Dir(), name)
		id, ok := discovery.TaskIDFromFilename(name)
		if !ok {
			if err := os.Remove(partialPath); err != nil && !os.IsNotExist(err) {
				return rep, fmt.Errorf("remove unrecoverable partial: %w", err)
			}
			rep.OrphansDeleted++
			r.logger.Warn("deleted unrecoverable partial payload", "name", name)
			continue
		}

		task := snap.Tasks[id]
		if task == nil || !resumable(task.Status) {
			if err := os.Remove(partialPath); err != nil && !os.IsNotExist(err) {
				return rep, fmt.Errorf("remove orphaned partial: %w", err)
			}
			rep.OrphansDeleted++
			r.logger.Info("deleted orphaned partial payload", "task_id", id, "name", name)
			continue
		}

		if err := r.store.RequeueDownloadFront(id, partialPath); err != nil {
			return rep, err
		}
		rep.Resumed++
		r.logger.Info("requeued partial payload for resume",
			"task_id", id,
			"partial", partialPath,
		)
	}

	// Re-read: the passes above may have moved tasks.
	snap = r.store.Snapshot()

	for id, task := range snap.Tasks {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		switch task.Status {
		case domain.StatusDownloading, domain.StatusPendingUpload, domain.StatusUploading, domain.StatusPaused:
		default:
			continue
		}

		if task.LocalPath != "" && fileExists(task.LocalPath) {
			continue
		}
		if task.Status == domain.StatusPaused && task.LocalPath == "" {
			// Paused mid-download with nothing on disk: resume handles it.
			continue
		}

		if task.Status == domain.StatusUploading {
			if err := r.store.MarkTaskError(id, "local payload vanished during upload"); err != nil {
				return rep, err
			}
		} else {
			if err := r.store.RequeueDownloadFront(id, ""); err != nil {
				return rep, err
			}
		}
		rep.Reset++
		r.logger.Warn("reset task whose payload is missing",
			"task_id", id,
			"status", task.Status,
		)
	}

	r.logger.Info("reconciliation finished",
		"adopted", rep.Adopted,
		"resumed", rep.Resumed,
		"orphans_deleted", rep.OrphansDeleted,
		"reset", rep.Reset,
	)
	return rep, nil
}

// needsAdoption reports whether a finished payload on disk contradicts the
// task status badly enough to repair the record. Final and in-flight
// statuses already account for the file.
func needsAdoption(status domain.TaskStatus) bool {
	switch status {
	case domain.StatusPendingDownload, domain.StatusFailedDownload,
		domain.StatusFailedUpload, domain.StatusError:
		return true
	}
	return false
}

// resumable reports whether a partial payload still has an owner that can
// continue producing it.
func resumable(status domain.TaskStatus) bool {
	switch status {
	case domain.StatusPendingDownload, domain.StatusDownloading,
		domain.StatusPaused, domain.StatusFailedDownload, domain.StatusError:
		return true
	}
	return false
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
