package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/walhalax/tk-auto-save/internal/discovery"
	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/metrics"
	"github.com/walhalax/tk-auto-save/internal/relay"
	"github.com/walhalax/tk-auto-save/internal/repository"
)

// FetchEngine downloads one payload and returns its final path.
type FetchEngine interface {
	Fetch(ctx context.Context, sourceRef, name string, report func(domain.ProgressEvent)) (string, error)
}

// RelayEngine pushes one payload to the file hub.
type RelayEngine interface {
	Relay(ctx context.Context, localPath, key string, report func(domain.ProgressEvent)) (relay.Result, error)
}

// Config bounds a scheduling session.
type Config struct {
	DownloadWorkers  int
	UploadWorkers    int
	TickInterval     time.Duration
	RemoveAfterRelay bool
}

// Scheduler drives one session at a time: it checks tasks out of the store,
// runs bounded pools of download and upload workers, and routes every
// outcome back through the store. Workers decide nothing about task state;
// they report exactly one terminal event each.
type Scheduler struct {
	store  *repository.TaskStore
	fetch  FetchEngine
	relay  RelayEngine
	cfg    Config
	logger *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(store *repository.TaskStore, fetch FetchEngine, relayEngine RelayEngine, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		fetch:  fetch,
		relay:  relayEngine,
		cfg:    cfg,
		logger: logger,
	}
}

type outcome int

const (
	outcomeFinished outcome = iota
	outcomeFailed
	outcomePaused
	outcomeSkipped
)

type workerDone struct {
	direction string
	id        string
	result    outcome
}

// RunSession blocks until both queues drain and every worker has exited,
// or, after a cancellation, until in-flight workers have wound down. Upload
// dispatch is evaluated before download dispatch on each tick so finished
// payloads leave the disk before new ones land on it. A store persistence
// failure aborts the session.
func (s *Scheduler) RunSession(ctx context.Context) (domain.SessionStats, error) {
	var stats domain.SessionStats

	activeDl, activeUl := 0, 0
	done := make(chan workerDone, s.cfg.DownloadWorkers+s.cfg.UploadWorkers)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer func() {
		metrics.ActiveWorkers.WithLabelValues("download").Set(0)
		metrics.ActiveWorkers.WithLabelValues("upload").Set(0)
	}()

	reap := func(d workerDone) {
		if d.direction == "upload" {
			activeUl--
			metrics.ActiveWorkers.WithLabelValues("upload").Set(float64(activeUl))
			switch d.result {
			case outcomeFinished:
				stats.UploadsCompleted++
			case outcomeFailed:
				stats.UploadsFailed++
			case outcomeSkipped:
				stats.UploadsSkipped++
			}
		} else {
			activeDl--
			metrics.ActiveWorkers.WithLabelValues("download").Set(float64(activeDl))
			switch d.result {
			case outcomeFinished:
				stats.DownloadsCompleted++
			case outcomeFailed:
				stats.DownloadsFailed++
			}
		}
	}

	for {
		for len(done) > 0 {
			reap(<-done)
		}

		if ctx.Err() == nil {
			if activeUl < s.cfg.UploadWorkers {
				task, err := s.store.DequeueUpload()
				if err != nil {
					s.logger.Error("upload dequeue failed, aborting session", "error", err)
					return stats, err
				}
				if task != nil {
					activeUl++
					stats.UploadsDispatched++
					metrics.ActiveWorkers.WithLabelValues("upload").Set(float64(activeUl))
					go s.runUpload(ctx, task, done)
				}
			}

			if activeDl < s.cfg.DownloadWorkers {
				task, err := s.store.DequeueDownload()
				if err != nil {
					s.logger.Error("download dequeue failed, aborting session", "error", err)
					return stats, err
				}
				if task != nil {
					activeDl++
					stats.DownloadsDispatched++
					metrics.ActiveWorkers.WithLabelValues("download").Set(float64(activeDl))
					go s.runDownload(ctx, task, done)
				}
			}
		}

		if activeDl+activeUl == 0 {
			dl, ul := s.store.QueueDepths()
			if ctx.Err() != nil || s.store.Stopping() || (dl == 0 && ul == 0) {
				return stats, nil
			}
		}

		select {
		case d := <-done:
			reap(d)
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runDownload(ctx context.Context, task *domain.Task, done chan<- workerDone) {
	name := discovery.PayloadFilename(domain.CatalogItem{ID: task.ID, SourceRef: task.SourceRef})

	report := func(ev domain.ProgressEvent) {
		if err := s.store.UpdateDownloadProgress(task.ID, ev); err != nil {
			s.logger.Error("failed to record download progress", "task_id", task.ID, "error", err)
		}
	}

	path, err := s.fetch.Fetch(ctx, task.SourceRef, name, report)

	var result outcome
	var terminal domain.ProgressEvent
	switch {
	case err == nil:
		terminal = domain.Finished(path)
		result = outcomeFinished
	case ctx.Err() != nil:
		terminal = domain.Paused()
		result = outcomePaused
	default:
		terminal = domain.Failed(err.Error())
		result = outcomeFailed
	}

	if err := s.store.UpdateDownloadProgress(task.ID, terminal); err != nil {
		s.logger.Error("failed to record download outcome", "task_id", task.ID, "error", err)
	}
	done <- workerDone{direction: "download", id: task.ID, result: result}
}

func (s *Scheduler) runUpload(ctx context.Context, task *domain.Task, done chan<- workerDone) {
	filename := filepath.Base(task.LocalPath)
	if task.LocalPath == "" {
		filename = discovery.PayloadFilename(domain.CatalogItem{ID: task.ID, SourceRef: task.SourceRef})
	}
	key := discovery.RemoteKey(task.ID, filename)

	report := func(ev domain.ProgressEvent) {
		if err := s.store.UpdateUploadProgress(task.ID, ev); err != nil {
			s.logger.Error("failed to record upload progress", "task_id", task.ID, "error", err)
		}
	}

	res, err := s.relay.Relay(ctx, task.LocalPath, key, report)

	var result outcome
	var terminal domain.ProgressEvent
	cleanup := false
	switch {
	case err == nil && res.Skipped:
		terminal = domain.Skipped(res.Reason)
		result = outcomeSkipped
		cleanup = res.Reason != "payload still partial"
	case err == nil:
		terminal = domain.Finished("")
		result = outcomeFinished
		cleanup = true
	case ctx.Err() != nil:
		terminal = domain.Paused()
		result = outcomePaused
	default:
		terminal = domain.Failed(err.Error())
		result = outcomeFailed
	}

	if err := s.store.UpdateUploadProgress(task.ID, terminal); err != nil {
		s.logger.Error("failed to record upload outcome", "task_id", task.ID, "error", err)
	}

	if cleanup && s.cfg.RemoveAfterRelay {
		if err := s.store.RemoveLocalArtifact(task.ID); err != nil {
			s.logger.Error("failed to remove relayed payload", "task_id", task.ID, "error", err)
		}
	}

	done <- workerDone{direction: "upload", id: task.ID, result: result}
}
