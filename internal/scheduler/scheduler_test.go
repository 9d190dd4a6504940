package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/relay"
	"github.com/walhalax/tk-auto-save/internal/repository"
)

type fakeFetch struct {
	mu      sync.Mutex
	err     error
	blockOn bool
	calls   int
}

func (f *fakeFetch) Fetch(ctx context.Context, sourceRef, name string, report func(domain.ProgressEvent)) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.blockOn {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	if report != nil {
		report(domain.Transferring(512, 1024, 1024))
	}
	return "/payloads/" + name, nil
}

type fakeRelayEngine struct {
	mu    sync.Mutex
	res   relay.Result
	err   error
	calls int
}

func (f *fakeRelayEngine) Relay(ctx context.Context, localPath, key string, report func(domain.ProgressEvent)) (relay.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return relay.Result{}, f.err
	}
	return f.res, nil
}

func newTestStore(t *testing.T) *repository.TaskStore {
	t.Helper()
	store, err := repository.NewTaskStore(t.TempDir() + "/task_status.json")
	assert.NoError(t, err)
	return store
}

func testConfig() Config {
	return Config{
		DownloadWorkers:  2,
		UploadWorkers:    2,
		TickInterval:     5 * time.Millisecond,
		RemoveAfterRelay: true,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedPending(t *testing.T, store *repository.TaskStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := store.EnqueueDownload(domain.CatalogItem{
			ID:        id,
			Title:     "item " + id,
			SourceRef: "http://cdn.example.com/" + id + ".mp4",
		})
		assert.NoError(t, err)
	}
}

func TestScheduler_DrainsWholePipeline(t *testing.T) {
	store := newTestStore(t)
	seedPending(t, store, "fc2-1", "fc2-2")

	fetch := &fakeFetch{}
	relayEng := &fakeRelayEngine{}
	sched := NewScheduler(store, fetch, relayEng, testConfig(), testLogger())

	stats, err := sched.RunSession(context.Background())
	assert.NoError(t, err)

	assert.Equal(t, int64(2), stats.DownloadsDispatched)
	assert.Equal(t, int64(2), stats.DownloadsCompleted)
	assert.Equal(t, int64(2), stats.UploadsDispatched)
	assert.Equal(t, int64(2), stats.UploadsCompleted)

	for _, id := range []string{"fc2-1", "fc2-2"} {
		task, terr := store.Task(id)
		assert.NoError(t, terr)
		assert.Equal(t, domain.StatusCompleted, task.Status)
		assert.Empty(t, task.LocalPath)
		assert.True(t, store.IsProcessed(id))
	}

	dl, ul := store.QueueDepths()
	assert.Equal(t, 0, dl)
	assert.Equal(t, 0, ul)
}

func TestScheduler_EmptyQueuesEndImmediately(t *testing.T) {
	store := newTestStore(t)
	sched := NewScheduler(store, &fakeFetch{}, &fakeRelayEngine{}, testConfig(), testLogger())

	start := time.Now()
	stats, err := sched.RunSession(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStats{}, stats)
	assert.Less(t, time.Since(start), time.Second)
}

func TestScheduler_CancelPausesInFlight(t *testing.T) {
	store := newTestStore(t)
	seedPending(t, store, "fc2-3")

	fetch := &fakeFetch{blockOn: true}
	sched := NewScheduler(store, fetch, &fakeRelayEngine{}, testConfig(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		store.RequestStop()
		cancel()
	}()

	stats, err := sched.RunSession(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.DownloadsDispatched)
	assert.Equal(t, int64(0), stats.DownloadsCompleted)
	assert.Equal(t, int64(0), stats.DownloadsFailed)

	task, err := store.Task("fc2-3")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, task.Status)
}

func TestScheduler_FailedDownload(t *testing.T) {
	store := newTestStore(t)
	seedPending(t, store, "fc2-4")

	fetch := &fakeFetch{err: errors.New("bad status: 500 Internal Server Error")}
	sched := NewScheduler(store, fetch, &fakeRelayEngine{}, testConfig(), testLogger())

	stats, err := sched.RunSession(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.DownloadsFailed)

	task, err := store.Task("fc2-4")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFailedDownload, task.Status)
	assert.Contains(t, task.ErrorMessage, "bad status")
}

func TestScheduler_SkippedRelay(t *testing.T) {
	store := newTestStore(t)
	seedPending(t, store, "fc2-5")

	fetch := &fakeFetch{}
	relayEng := &fakeRelayEngine{res: relay.Result{Skipped: true, Reason: "remote already has full payload"}}
	sched := NewScheduler(store, fetch, relayEng, testConfig(), testLogger())

	stats, err := sched.RunSession(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.UploadsSkipped)
	assert.Equal(t, int64(0), stats.UploadsCompleted)

	task, err := store.Task("fc2-5")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusSkippedUpload, task.Status)
	assert.True(t, store.IsProcessed("fc2-5"))
}

func TestScheduler_FailedRelayStaysRetryable(t *testing.T) {
	store := newTestStore(t)
	seedPending(t, store, "fc2-6")

	relayEng := &fakeRelayEngine{err: errors.New("connection reset")}
	sched := NewScheduler(store, &fakeFetch{}, relayEng, testConfig(), testLogger())

	stats, err := sched.RunSession(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, int64(1), stats.UploadsFailed)

	task, err := store.Task("fc2-6")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusFailedUpload, task.Status)
	assert.False(t, store.IsProcessed("fc2-6"))
}
