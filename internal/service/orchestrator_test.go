package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/walhalax/tk-auto-save/internal/discovery"
	"github.com/walhalax/tk-auto-save/internal/domain"
	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
	"github.com/walhalax/tk-auto-save/internal/reconcile"
	"github.com/walhalax/tk-auto-save/internal/relay"
	"github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/scheduler"
	"github.com/walhalax/tk-auto-save/internal/storage"
)

type stubCatalog struct {
	mu    sync.Mutex
	items []domain.CatalogItem
	calls int
}

func (s *stubCatalog) Fetch(ctx context.Context) ([]domain.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.items, nil
}

func (s *stubCatalog) fetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubFetch struct {
	mu      sync.Mutex
	blocked bool
}

func (s *stubFetch) setBlocked(v bool) {
	s.mu.Lock()
	s.blocked = v
	s.mu.Unlock()
}

func (s *stubFetch) Fetch(ctx context.Context, sourceRef, name string, report func(domain.ProgressEvent)) (string, error) {
	s.mu.Lock()
	blocked := s.blocked
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "/payloads/" + name, nil
}

type stubRelay struct{}

func (s *stubRelay) Relay(ctx context.Context, localPath, key string, report func(domain.ProgressEvent)) (relay.Result, error) {
	return relay.Result{Bytes: 1}, nil
}

func catalogItem(id string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:        id,
		Title:     "item " + id,
		SourceRef: "http://cdn.example.com/" + id + ".mp4",
		Published: time.Now().AddDate(0, 0, -10),
		Rating:    90,
	}
}

func newOrchestratorFixture(t *testing.T, catalog discovery.Catalog, fetch scheduler.FetchEngine) (*Orchestrator, *repository.TaskStore) {
	t.Helper()

	store, err := repository.NewTaskStore(t.TempDir() + "/task_status.json")
	assert.NoError(t, err)
	payloads := storage.NewPayloadStore(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sched := scheduler.NewScheduler(store, fetch, &stubRelay{}, scheduler.Config{
		DownloadWorkers: 2,
		UploadWorkers:   2,
		TickInterval:    5 * time.Millisecond,
	}, logger)
	feeder := discovery.NewFeeder(catalog, store, payloads, discovery.FeederConfig{
		MinAgeDays: 3,
		MinRating:  70,
	}, logger)
	reconciler := reconcile.NewReconciler(store, payloads, logger)

	orch := NewOrchestrator(store, sched, feeder, reconciler, nil, 10*time.Minute, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return orch, store
}

func waitUntil(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestOrchestrator_StartRunsFullSession(t *testing.T) {
	catalog := &stubCatalog{items: []domain.CatalogItem{catalogItem("fc2-1000001")}}
	orch, store := newOrchestratorFixture(t, catalog, &stubFetch{})

	sessionID, err := orch.Start()
	assert.NoError(t, err)
	assert.NotEmpty(t, sessionID)

	waitUntil(t, 5*time.Second, func() bool { return !orch.Running() }, "session did not finish")

	task, err := store.Task("fc2-1000001")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)

	view := orch.Status()
	assert.Equal(t, domain.SessionIdle, view.SessionState)
	assert.Equal(t, sessionID, view.SessionID)
	assert.Equal(t, int64(1), view.SessionStats.DownloadsCompleted)
	assert.Equal(t, int64(1), view.SessionStats.UploadsCompleted)
}

func TestOrchestrator_SecondStartRefused(t *testing.T) {
	catalog := &stubCatalog{items: []domain.CatalogItem{catalogItem("fc2-2000001")}}
	fetch := &stubFetch{blocked: true}
	orch, _ := newOrchestratorFixture(t, catalog, fetch)

	_, err := orch.Start()
	assert.NoError(t, err)

	waitUntil(t, 5*time.Second, orch.Running, "session did not start")

	_, err = orch.Start()
	assert.ErrorIs(t, err, errpkg.ErrSessionActive)

	orch.Stop()
	waitUntil(t, 5*time.Second, func() bool { return !orch.Running() }, "session did not drain")
}

func TestOrchestrator_StopPausesThenResumeCompletes(t *testing.T) {
	catalog := &stubCatalog{items: []domain.CatalogItem{catalogItem("fc2-3000001")}}
	fetch := &stubFetch{blocked: true}
	orch, store := newOrchestratorFixture(t, catalog, fetch)

	_, err := orch.Start()
	assert.NoError(t, err)

	waitUntil(t, 5*time.Second, func() bool {
		task, terr := store.Task("fc2-3000001")
		return terr == nil && task.Status == domain.StatusDownloading
	}, "download never started")

	orch.Stop()
	waitUntil(t, 5*time.Second, func() bool { return !orch.Running() }, "session did not drain after stop")

	task, err := store.Task("fc2-3000001")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, task.Status)

	fetch.setBlocked(false)
	_, err = orch.Resume()
	assert.NoError(t, err)

	waitUntil(t, 5*time.Second, func() bool { return !orch.Running() }, "resumed session did not finish")

	task, err = store.Task("fc2-3000001")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, task.Status)

	// Resume works the existing queues without consulting the catalog.
	assert.Equal(t, 1, catalog.fetchCalls())
}

func TestOrchestrator_ResetAllRefusedWhileRunning(t *testing.T) {
	catalog := &stubCatalog{items: []domain.CatalogItem{catalogItem("fc2-4000001")}}
	fetch := &stubFetch{blocked: true}
	orch, _ := newOrchestratorFixture(t, catalog, fetch)

	_, err := orch.Start()
	assert.NoError(t, err)
	waitUntil(t, 5*time.Second, orch.Running, "session did not start")

	err = orch.ResetAll()
	assert.ErrorIs(t, err, errpkg.ErrSessionActive)

	orch.Stop()
	waitUntil(t, 5*time.Second, func() bool { return !orch.Running() }, "session did not drain")

	assert.NoError(t, orch.ResetAll())
	view := orch.Status()
	assert.Empty(t, view.Tasks)
	assert.Empty(t, view.SessionID)
}

func TestOrchestrator_SubmitValidatesID(t *testing.T) {
	orch, store := newOrchestratorFixture(t, &stubCatalog{}, &stubFetch{})

	created, err := orch.Submit(domain.SubmitRequest{
		ID:        "fc2-5000001",
		Title:     "manual item",
		SourceRef: "http://cdn.example.com/fc2-5000001.mp4",
	})
	assert.NoError(t, err)
	assert.True(t, created)

	task, err := store.Task("fc2-5000001")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPendingDownload, task.Status)

	// Resubmission of a known ID is a no-op.
	created, err = orch.Submit(domain.SubmitRequest{ID: "fc2-5000001", SourceRef: "http://cdn.example.com/x.mp4"})
	assert.NoError(t, err)
	assert.False(t, created)

	_, err = orch.Submit(domain.SubmitRequest{ID: "bad id!", SourceRef: "http://cdn.example.com/x.mp4"})
	assert.ErrorIs(t, err, errpkg.ErrInvalidTaskID)
}

func TestOrchestrator_IdleStatus(t *testing.T) {
	catalog := &stubCatalog{}
	orch, _ := newOrchestratorFixture(t, catalog, &stubFetch{})

	view := orch.Status()
	assert.Equal(t, domain.SessionIdle, view.SessionState)
	assert.Empty(t, view.SessionID)
	assert.Empty(t, view.Tasks)
	assert.False(t, view.StopRequested)
}
