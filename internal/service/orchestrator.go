package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/walhalax/tk-auto-save/internal/discovery"
	"github.com/walhalax/tk-auto-save/internal/domain"
	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
	"github.com/walhalax/tk-auto-save/internal/notify"
	"github.com/walhalax/tk-auto-save/internal/reconcile"
	"github.com/walhalax/tk-auto-save/internal/relay"
	"github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/scheduler"
)

// Orchestrator owns the session lifecycle: it reconciles disk state,
// feeds the catalog, resumes paused work and runs the scheduler, one
// session at a time. It is the single entry point for the control surface.
type Orchestrator struct {
	store      *repository.TaskStore
	sched      *scheduler.Scheduler
	feeder     *discovery.Feeder
	reconciler *reconcile.Reconciler
	ledger     *relay.Ledger
	staleAfter time.Duration
	logger     *slog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	running   bool
	sessionID string
	lastStats domain.SessionStats

	wg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator. ledger may be nil when no relay
// ledger is in use.
func NewOrchestrator(
	store *repository.TaskStore,
	sched *scheduler.Scheduler,
	feeder *discovery.Feeder,
	reconciler *reconcile.Reconciler,
	ledger *relay.Ledger,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		sched:      sched,
		feeder:     feeder,
		reconciler: reconciler,
		ledger:     ledger,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Start begins a full session: reconcile, feed the catalog, resume paused
// tasks, then run the scheduler until the pipeline drains. Returns the
// session ID immediately; the session itself runs in the background.
func (o *Orchestrator) Start() (string, error) {
	return o.beginSession(true)
}

// Resume begins a session without consulting the catalog: reconcile,
// resume paused tasks and work off whatever the queues already hold.
func (o *Orchestrator) Resume() (string, error) {
	return o.beginSession(false)
}

func (o *Orchestrator) beginSession(feed bool) (string, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return "", errpkg.ErrSessionActive
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	sessionID := uuid.New().String()
	o.running = true
	o.cancel = cancel
	o.sessionID = sessionID
	o.mu.Unlock()

	o.store.ClearStop()

	logger := o.logger.With("session_id", sessionID)
	logger.Info("session starting", "with_feed", feed)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		if _, err := o.reconciler.Run(sessionCtx); err != nil {
			logger.Error("reconciliation failed, continuing with recorded state", "error", err)
		}

		if feed {
			if added, err := o.feeder.Feed(sessionCtx); err != nil {
				logger.Warn("catalog feed failed, working existing queues", "error", err)
			} else {
				logger.Info("catalog feed completed", "admitted", added)
			}
		}

		if _, err := o.store.ResumePausedTasks(); err != nil {
			logger.Error("failed to resume paused tasks", "error", err)
		}

		stats, err := o.sched.RunSession(sessionCtx)

		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.lastStats = stats
		o.mu.Unlock()

		if err != nil {
			logger.Error("session aborted", "error", err)
		} else {
			logger.Info("session finished",
				"downloads_dispatched", stats.DownloadsDispatched,
				"downloads_completed", stats.DownloadsCompleted,
				"downloads_failed", stats.DownloadsFailed,
				"uploads_dispatched", stats.UploadsDispatched,
				"uploads_completed", stats.UploadsCompleted,
				"uploads_failed", stats.UploadsFailed,
				"uploads_skipped", stats.UploadsSkipped,
			)
		}
		o.store.Notifier().Notify()
	}()

	return sessionID, nil
}

// Stop requests a graceful stop: queues close to dequeueing and in-flight
// workers are cancelled, landing their tasks in paused. Safe to call when
// no session is running.
func (o *Orchestrator) Stop() {
	o.store.RequestStop()

	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		o.logger.Info("stop requested, draining in-flight workers")
	}
}

// Submit enqueues one manually provided item, bypassing catalog admission
// filters. The ID must survive the filename round trip used for payload
// and remote key derivation.
func (o *Orchestrator) Submit(req domain.SubmitRequest) (bool, error) {
	if !discovery.ValidTaskID(req.ID) {
		return false, errpkg.ErrInvalidTaskID
	}
	item := domain.CatalogItem{
		ID:        req.ID,
		Title:     req.Title,
		SourceRef: req.SourceRef,
	}
	created, err := o.store.EnqueueDownload(item)
	if err != nil {
		return false, err
	}
	if created {
		o.logger.Info("task submitted", "id", req.ID)
	}
	return created, nil
}

// ResetFailed returns every failed task to the download queue for retry.
func (o *Orchestrator) ResetFailed() (int, error) {
	return o.store.ResetFailedTasks()
}

// ResetAll wipes the task registry and the relay ledger. Refused while a
// session is running.
func (o *Orchestrator) ResetAll() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return errpkg.ErrSessionActive
	}
	o.sessionID = ""
	o.lastStats = domain.SessionStats{}
	o.mu.Unlock()

	if err := o.store.ResetAll(); err != nil {
		return err
	}
	if o.ledger != nil {
		if err := o.ledger.Reset(); err != nil {
			o.logger.Warn("failed to reset relay ledger", "error", err)
		}
	}
	return nil
}

// Status returns the full pipeline state decorated with session fields.
// Session stats reflect the most recently finished session.
func (o *Orchestrator) Status() domain.StateView {
	view := o.store.Snapshot()

	o.mu.Lock()
	view.SessionID = o.sessionID
	view.SessionStats = o.lastStats
	switch {
	case o.running && view.StopRequested:
		view.SessionState = domain.SessionDraining
	case o.running:
		view.SessionState = domain.SessionRunning
	default:
		view.SessionState = domain.SessionIdle
	}
	o.mu.Unlock()

	return view
}

// Task returns one task record.
func (o *Orchestrator) Task(id string) (*domain.Task, error) {
	return o.store.Task(id)
}

// StaleAfter is the age past which a task's last update is considered
// stale for display purposes.
func (o *Orchestrator) StaleAfter() time.Duration {
	return o.staleAfter
}

// Notifier exposes the change signal driving push-style status updates.
func (o *Orchestrator) Notifier() *notify.Notifier {
	return o.store.Notifier()
}

// Running reports whether a session is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Shutdown stops any active session and waits for it to wind down, up to
// the context deadline.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("shutting down orchestrator")
	o.Stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("orchestrator shutdown completed")
		return nil
	case <-ctx.Done():
		o.logger.Warn("orchestrator shutdown timed out")
		return ctx.Err()
	}
}
