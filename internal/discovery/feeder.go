package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/storage"
	"github.com/walhalax/tk-auto-save/internal/validation"
)

// FeederConfig sets the admission rules for discovered items.
type FeederConfig struct {
	// MinAgeDays admits only items published at least this many whole
	// days ago, measured against local midnight.
	MinAgeDays int

	// MaxAgeDays, when positive, bounds how far back items are admitted.
	MaxAgeDays int

	// MinRating is the lowest admissible approval rating.
	MinRating int

	// QueueCap stops feeding once the download queue holds this many
	// entries. Zero means unbounded.
	QueueCap int
}

// Feeder pulls the catalog and admits eligible items into the task store.
// Items already processed, too fresh, too old, poorly rated or with unsafe
// source refs are dropped. A payload already on disk short-circuits the
// download: the task is marked complete and queued for upload directly.
type Feeder struct {
	catalog  Catalog
	store    *repository.TaskStore
	payloads *storage.PayloadStore
	cfg      FeederConfig
	logger   *slog.Logger
}

// NewFeeder creates a Feeder.
func NewFeeder(catalog Catalog, store *repository.TaskStore, payloads *storage.PayloadStore, cfg FeederConfig, logger *slog.Logger) *Feeder {
	return &Feeder{
		catalog:  catalog,
		store:    store,
		payloads: payloads,
		cfg:      cfg,
		logger:   logger,
	}
}

// Feed fetches the catalog once and enqueues every admissible item.
// Returns the number of tasks newly routed into the pipeline.
func (f *Feeder) Feed(ctx context.Context) (int, error) {
	items, err := f.catalog.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	newest := midnight.AddDate(0, 0, -f.cfg.MinAgeDays)
	var oldest time.Time
	if f.cfg.MaxAgeDays > 0 {
		oldest = midnight.AddDate(0, 0, -f.cfg.MaxAgeDays)
	}

	added := 0
	for _, item := range items {
		if f.cfg.QueueCap > 0 {
			if depth, _ := f.store.QueueDepths(); depth >= f.cfg.QueueCap {
				f.logger.Info("download queue at capacity, stopping feed",
					"queue_cap", f.cfg.QueueCap,
					"admitted", added,
				)
				break
			}
		}

		if !f.admit(item, newest, oldest) {
			continue
		}

		// A finished payload on disk skips the download entirely.
		filename := PayloadFilename(item)
		if f.payloads.Exists(filename) {
			if err := f.store.MarkDownloadComplete(item, f.payloads.FinalPath(filename)); err != nil {
				return added, err
			}
			added++
			continue
		}

		created, err := f.store.EnqueueDownload(item)
		if err != nil {
			return added, err
		}
		if created {
			added++
		}
	}

	f.logger.Info("catalog feed finished",
		"fetched", len(items),
		"admitted", added,
	)
	return added, nil
}

func (f *Feeder) admit(item domain.CatalogItem, newest, oldest time.Time) bool {
	if item.ID == "" || !ValidTaskID(item.ID) {
		f.logger.Warn("skipping item with unusable id", "id", item.ID, "title", item.Title)
		return false
	}
	if f.store.IsProcessed(item.ID) {
		f.logger.Debug("skipping processed item", "id", item.ID)
		return false
	}
	if item.Published.IsZero() {
		f.logger.Debug("skipping item without publish date", "id", item.ID)
		return false
	}
	if !item.Published.Before(newest) {
		f.logger.Debug("skipping item newer than age gate",
			"id", item.ID,
			"published", item.Published.Format("2006-01-02"),
		)
		return false
	}
	if !oldest.IsZero() && item.Published.Before(oldest) {
		f.logger.Debug("skipping item older than crawl window",
			"id", item.ID,
			"published", item.Published.Format("2006-01-02"),
		)
		return false
	}
	if item.Rating < f.cfg.MinRating {
		f.logger.Debug("skipping item below rating gate",
			"id", item.ID,
			"rating", item.Rating,
		)
		return false
	}
	if err := validation.ValidateSourceRef(item.SourceRef); err != nil {
		f.logger.Warn("skipping item with unsafe source ref",
			"id", item.ID,
			"error", err,
		)
		return false
	}
	return true
}
