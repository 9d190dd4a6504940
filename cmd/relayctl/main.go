package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/walhalax/tk-auto-save/internal/config"
	"github.com/walhalax/tk-auto-save/internal/discovery"
	"github.com/walhalax/tk-auto-save/internal/domain"
	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
	"github.com/walhalax/tk-auto-save/internal/reconcile"
	"github.com/walhalax/tk-auto-save/internal/relay"
	repo "github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/scheduler"
	"github.com/walhalax/tk-auto-save/internal/storage"
	"github.com/walhalax/tk-auto-save/internal/transfer"
)

type options struct {
	reportDir     string
	skipDiscovery bool
	timeout       time.Duration
	verify        bool
	rebuildLedger bool
}

func main() {
	var opts options
	flag.StringVar(&opts.reportDir, "report-dir", "", "Directory for the session report (default: TKAS_REPORT_DIR)")
	flag.BoolVar(&opts.skipDiscovery, "skip-discovery", false, "Work off the existing queues without consulting the catalog")
	flag.DurationVar(&opts.timeout, "timeout", 0, "Abort the session after this duration (0 = no limit)")
	flag.BoolVar(&opts.verify, "verify", false, "After the session, verify completed payloads against the file hub")
	flag.BoolVar(&opts.rebuildLedger, "rebuild-ledger", false, "Rebuild the relay ledger from a hub listing and exit")
	flag.Parse()

	cfg, err := cfgpkg.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfgpkg.SetupLogger(cfg)

	if opts.reportDir == "" {
		opts.reportDir = cfg.ReportDir
	}

	os.Exit(run(cfg, opts))
}

func run(cfg *cfgpkg.Config, opts options) int {
	remote, err := relay.NewS3Store(context.Background(), relay.S3Config{
		Endpoint:       cfg.FilehubEndpoint,
		Region:         cfg.FilehubRegion,
		Bucket:         cfg.FilehubBucket,
		KeyPrefix:      cfg.FilehubBasePath,
		AccessKey:      cfg.FilehubAccessKey,
		SecretKey:      cfg.FilehubSecretKey,
		ForcePathStyle: cfg.FilehubPathStyle,
	})
	if err != nil {
		slog.Error("failed to initialize file hub client", "error", err)
		return 1
	}
	defer remote.Close()

	ledger, err := relay.OpenLedger(cfg.LedgerDir)
	if err != nil {
		slog.Error("failed to open relay ledger", "dir", cfg.LedgerDir, "error", err)
		return 1
	}
	defer ledger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.rebuildLedger {
		if err := rebuildFromHub(ctx, remote, ledger); err != nil {
			slog.Error("ledger rebuild failed", "error", err)
			return 1
		}
		return 0
	}

	store, err := repo.NewTaskStore(cfg.StateFile)
	if err != nil {
		slog.Error("failed to initialize task registry", "state_file", cfg.StateFile, "error", err)
		return 1
	}
	payloads := storage.NewPayloadStore(cfg.PayloadDir)

	fetchEngine := transfer.NewEngine(payloads, cfg.TransferTimeout, cfg.ProgressEvery, slog.Default())
	relayEngine := relay.NewEngine(remote, ledger, cfg.ProgressEvery, slog.Default())
	sched := scheduler.NewScheduler(store, fetchEngine, relayEngine, scheduler.Config{
		DownloadWorkers:  cfg.DownloadWorkers,
		UploadWorkers:    cfg.UploadWorkers,
		TickInterval:     cfg.TickInterval,
		RemoveAfterRelay: cfg.RemoveAfterRelay,
	}, slog.Default())

	sessionCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		sessionCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	started := time.Now()
	slog.Info("session starting", "skip_discovery", opts.skipDiscovery)
	store.ClearStop()

	reconciler := reconcile.NewReconciler(store, payloads, slog.Default())
	if report, err := reconciler.Run(sessionCtx); err != nil {
		slog.Error("reconciliation failed, continuing with recorded state", "error", err)
	} else {
		slog.Info("reconciliation completed",
			"adopted", report.Adopted,
			"resumed", report.Resumed,
			"orphans_deleted", report.OrphansDeleted,
			"reset", report.Reset,
		)
	}

	feedNote := "skipped"
	if !opts.skipDiscovery {
		catalog := discovery.NewHTTPCatalog(cfg.CatalogURL, cfg.HTTPTimeout, slog.Default())
		feeder := discovery.NewFeeder(catalog, store, payloads, discovery.FeederConfig{
			MinAgeDays: cfg.MinAgeDays,
			MaxAgeDays: cfg.MaxAgeDays,
			MinRating:  cfg.MinRating,
			QueueCap:   cfg.QueueCap,
		}, slog.Default())
		if fed, err := feeder.Feed(sessionCtx); err != nil {
			slog.Warn("catalog feed failed, working existing queues", "error", err)
			feedNote = "failed: " + err.Error()
		} else {
			feedNote = fmt.Sprintf("admitted %d", fed)
		}
	}

	if resumed, err := store.ResumePausedTasks(); err != nil {
		slog.Error("failed to resume paused tasks", "error", err)
	} else if resumed > 0 {
		slog.Info("paused tasks requeued", "count", resumed)
	}

	stats, sessErr := sched.RunSession(sessionCtx)
	finished := time.Now()

	outcome := "completed"
	switch {
	case sessErr != nil:
		slog.Error("session aborted", "error", sessErr)
		outcome = "failed: " + sessErr.Error()
	case sessionCtx.Err() != nil:
		outcome = "interrupted"
	}

	var ver *verification
	if opts.verify {
		verifyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		v, err := verifyCompleted(verifyCtx, store, remote)
		cancel()
		if err != nil {
			slog.Error("hub verification failed", "error", err)
		} else {
			ver = &v
		}
	}

	if err := writeReport(cfg, opts.reportDir, store.Snapshot(), stats, started, finished, outcome, feedNote, ver); err != nil {
		slog.Error("failed to write report", "error", err)
		return 1
	}

	if sessErr != nil {
		return 1
	}
	return 0
}

// rebuildFromHub repopulates the relay ledger from a full hub listing, so
// already-relayed payloads skip without per-task hub lookups.
func rebuildFromHub(ctx context.Context, remote relay.RemoteStore, ledger *relay.Ledger) error {
	objects, err := remote.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list hub objects: %w", err)
	}

	for _, obj := range objects {
		if err := ledger.Record(obj.Key, obj.Size); err != nil {
			return fmt.Errorf("record %s: %w", obj.Key, err)
		}
	}

	slog.Info("relay ledger rebuilt", "objects", len(objects))
	return nil
}

type verification struct {
	Checked int
	Present int
	Missing []string
}

// verifyCompleted checks every completed task against the file hub
// (limit 5 parallel lookups).
func verifyCompleted(ctx context.Context, store *repo.TaskStore, remote relay.RemoteStore) (verification, error) {
	state := store.Snapshot()

	ids := make([]string, 0, len(state.Tasks))
	for id, task := range state.Tasks {
		if task.Status == domain.StatusCompleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	present := make([]bool, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(5)

	for i, id := range ids {
		i, id := i, id
		task := state.Tasks[id]
		g.Go(func() error {
			filename := discovery.PayloadFilename(domain.CatalogItem{ID: id, SourceRef: task.SourceRef})
			_, err := remote.Stat(ctx, discovery.RemoteKey(id, filename))
			if err != nil {
				if errors.Is(err, errpkg.ErrObjectNotFound) {
					return nil
				}
				return err
			}
			present[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return verification{}, err
	}

	v := verification{Checked: len(ids)}
	for i, ok := range present {
		if ok {
			v.Present++
		} else {
			v.Missing = append(v.Missing, ids[i])
		}
	}
	return v, nil
}

func writeReport(
	cfg *cfgpkg.Config,
	dir string,
	state domain.StateView,
	stats domain.SessionStats,
	started, finished time.Time,
	outcome, feedNote string,
	ver *verification,
) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	name := filepath.Join(dir, finished.Format("20060102")+"_report.txt")
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	w := io.MultiWriter(f, os.Stdout)

	fmt.Fprintln(w, "Transfer session report")
	fmt.Fprintln(w)

	session := kvTable(w)
	session.Append([]string{"Started", started.Format(time.RFC3339)})
	session.Append([]string{"Finished", finished.Format(time.RFC3339)})
	session.Append([]string{"Duration", finished.Sub(started).Round(time.Second).String()})
	session.Append([]string{"Outcome", outcome})
	session.Append([]string{"Discovery", feedNote})
	session.Append([]string{"Download workers", strconv.Itoa(cfg.DownloadWorkers)})
	session.Append([]string{"Upload workers", strconv.Itoa(cfg.UploadWorkers)})
	session.Render()
	fmt.Fprintln(w)

	queues := headerTable(w, []string{"Queue", "Remaining", "Dispatched", "Completed", "Failed", "Skipped"})
	queues.Append([]string{
		"download",
		strconv.Itoa(len(state.DownloadQueue)),
		formatInt64(stats.DownloadsDispatched),
		formatInt64(stats.DownloadsCompleted),
		formatInt64(stats.DownloadsFailed),
		"-",
	})
	queues.Append([]string{
		"upload",
		strconv.Itoa(len(state.UploadQueue)),
		formatInt64(stats.UploadsDispatched),
		formatInt64(stats.UploadsCompleted),
		formatInt64(stats.UploadsFailed),
		formatInt64(stats.UploadsSkipped),
	})
	queues.Render()
	fmt.Fprintln(w)

	var errored, paused int
	for _, task := range state.Tasks {
		if task.Status.IsFailed() {
			errored++
		}
		if task.Status == domain.StatusPaused {
			paused++
		}
	}

	registry := kvTable(w)
	registry.Append([]string{"Tasks tracked", strconv.Itoa(len(state.Tasks))})
	registry.Append([]string{"Processed", strconv.Itoa(state.ProcessedCount)})
	registry.Append([]string{"Errored", strconv.Itoa(errored)})
	registry.Append([]string{"Paused", strconv.Itoa(paused)})
	registry.Render()

	if ver != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Hub verification: %d/%d present\n", ver.Present, ver.Checked)
		for _, id := range ver.Missing {
			fmt.Fprintf(w, "  missing: %s\n", id)
		}
	}

	slog.Info("report written", "path", name)
	return nil
}

func kvTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func headerTable(w io.Writer, headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func formatInt64(n int64) string {
	return strconv.FormatInt(n, 10)
}
