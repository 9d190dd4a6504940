package discovery

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/storage"
)

type fakeCatalog struct {
	items []domain.CatalogItem
	err   error
}

func (f *fakeCatalog) Fetch(ctx context.Context) ([]domain.CatalogItem, error) {
	return f.items, f.err
}

func newFeederFixture(t *testing.T, catalog Catalog, cfg FeederConfig) (*Feeder, *repository.TaskStore, *storage.PayloadStore) {
	t.Helper()
	store, err := repository.NewTaskStore(t.TempDir() + "/task_status.json")
	assert.NoError(t, err)
	payloads := storage.NewPayloadStore(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFeeder(catalog, store, payloads, cfg, logger), store, payloads
}

func eligibleItem(id string) domain.CatalogItem {
	return domain.CatalogItem{
		ID:        id,
		Title:     "title " + id,
		SourceRef: "http://cdn.example.com/" + id + ".mp4",
		Published: time.Now().AddDate(0, 0, -10),
		Rating:    90,
	}
}

func TestFeeder_AdmitsEligibleItems(t *testing.T) {
	catalog := &fakeCatalog{items: []domain.CatalogItem{
		eligibleItem("fc2-1000001"),
		eligibleItem("fc2-1000002"),
	}}
	feeder, store, _ := newFeederFixture(t, catalog, FeederConfig{MinAgeDays: 3, MinRating: 70})

	added, err := feeder.Feed(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, added)

	task, err := store.Task("fc2-1000001")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPendingDownload, task.Status)

	dl, ul := store.QueueDepths()
	assert.Equal(t, 2, dl)
	assert.Equal(t, 0, ul)
}

func TestFeeder_FiltersIneligibleItems(t *testing.T) {
	tooRecent := eligibleItem("fc2-2000001")
	tooRecent.Published = time.Now().AddDate(0, 0, -1)

	lowRating := eligibleItem("fc2-2000002")
	lowRating.Rating = 40

	noDate := eligibleItem("fc2-2000003")
	noDate.Published = time.Time{}

	unsafeRef := eligibleItem("fc2-2000004")
	unsafeRef.SourceRef = "http://localhost:9000/x.mp4"

	badID := eligibleItem("fc2 2000005")

	catalog := &fakeCatalog{items: []domain.CatalogItem{tooRecent, lowRating, noDate, unsafeRef, badID}}
	feeder, store, _ := newFeederFixture(t, catalog, FeederConfig{MinAgeDays: 3, MinRating: 70})

	added, err := feeder.Feed(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, added)

	dl, _ := store.QueueDepths()
	assert.Equal(t, 0, dl)
}

func TestFeeder_SkipsProcessedItems(t *testing.T) {
	item := eligibleItem("fc2-3000001")
	catalog := &fakeCatalog{items: []domain.CatalogItem{item}}
	feeder, store, _ := newFeederFixture(t, catalog, FeederConfig{MinAgeDays: 3, MinRating: 70})

	_, err := store.EnqueueDownload(item)
	assert.NoError(t, err)
	task, _ := store.DequeueDownload()
	_ = store.UpdateDownloadProgress(task.ID, domain.Finished("/tmp/x.mp4"))
	task, _ = store.DequeueUpload()
	_ = store.UpdateUploadProgress(task.ID, domain.Finished(""))

	added, err := feeder.Feed(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestFeeder_StopsAtQueueCap(t *testing.T) {
	var items []domain.CatalogItem
	for _, id := range []string{"fc2-4000001", "fc2-4000002", "fc2-4000003", "fc2-4000004", "fc2-4000005"} {
		items = append(items, eligibleItem(id))
	}
	catalog := &fakeCatalog{items: items}
	feeder, store, _ := newFeederFixture(t, catalog, FeederConfig{MinAgeDays: 3, MinRating: 70, QueueCap: 2})

	added, err := feeder.Feed(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, added)

	dl, _ := store.QueueDepths()
	assert.Equal(t, 2, dl)
}

func TestFeeder_ExistingPayloadSkipsDownload(t *testing.T) {
	item := eligibleItem("fc2-5000001")
	catalog := &fakeCatalog{items: []domain.CatalogItem{item}}
	feeder, store, payloads := newFeederFixture(t, catalog, FeederConfig{MinAgeDays: 3, MinRating: 70})

	finalPath := payloads.FinalPath("fc2-5000001.mp4")
	assert.NoError(t, os.WriteFile(finalPath, []byte("payload"), 0o644))

	added, err := feeder.Feed(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, added)

	task, err := store.Task("fc2-5000001")
	assert.NoError(t, err)
	assert.Equal(t, domain.StatusPendingUpload, task.Status)
	assert.Equal(t, finalPath, task.LocalPath)

	dl, ul := store.QueueDepths()
	assert.Equal(t, 0, dl)
	assert.Equal(t, 1, ul)
}

func TestFeeder_CatalogError(t *testing.T) {
	catalog := &fakeCatalog{err: context.DeadlineExceeded}
	feeder, _, _ := newFeederFixture(t, catalog, FeederConfig{})

	_, err := feeder.Feed(context.Background())
	assert.Error(t, err)
}
