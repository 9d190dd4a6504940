package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/walhalax/tk-auto-save/internal/api/http"
	cfgpkg "github.com/walhalax/tk-auto-save/internal/config"
	"github.com/walhalax/tk-auto-save/internal/discovery"
	"github.com/walhalax/tk-auto-save/internal/reconcile"
	"github.com/walhalax/tk-auto-save/internal/relay"
	repo "github.com/walhalax/tk-auto-save/internal/repository"
	"github.com/walhalax/tk-auto-save/internal/scheduler"
	svc "github.com/walhalax/tk-auto-save/internal/service"
	"github.com/walhalax/tk-auto-save/internal/storage"
	"github.com/walhalax/tk-auto-save/internal/transfer"
)

func main() {

	cfg, err := cfgpkg.Load()
	if err != nil {
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			slog.Error("configuration file not found", "error", err)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	cfgpkg.SetupLogger(cfg)
	slog.Info("configuration loaded successfully")

	store, err := repo.NewTaskStore(cfg.StateFile)
	if err != nil {
		slog.Error("failed to initialize task registry", "state_file", cfg.StateFile, "error", err)
		os.Exit(1)
	}

	payloads := storage.NewPayloadStore(cfg.PayloadDir)

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
		os.Exit(1)
	}
	defer remote.Close()

	hcCtx, hcCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := remote.HealthCheck(hcCtx); err != nil {
		slog.Warn("file hub health check failed, uploads may not succeed", "bucket", cfg.FilehubBucket, "error", err)
	} else {
		slog.Info("file hub reachable", "bucket", cfg.FilehubBucket)
	}
	hcCancel()

	ledger, err := relay.OpenLedger(cfg.LedgerDir)
	if err != nil {
		slog.Error("failed to open relay ledger", "dir", cfg.LedgerDir, "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	fetchEngine := transfer.NewEngine(payloads, cfg.TransferTimeout, cfg.ProgressEvery, slog.Default())
	relayEngine := relay.NewEngine(remote, ledger, cfg.ProgressEvery, slog.Default())

	sched := scheduler.NewScheduler(store, fetchEngine, relayEngine, scheduler.Config{
		DownloadWorkers:  cfg.DownloadWorkers,
		UploadWorkers:    cfg.UploadWorkers,
		TickInterval:     cfg.TickInterval,
		RemoveAfterRelay: cfg.RemoveAfterRelay,
	}, slog.Default())

	catalog := discovery.NewHTTPCatalog(cfg.CatalogURL, cfg.HTTPTimeout, slog.Default())
	feeder := discovery.NewFeeder(catalog, store, payloads, discovery.FeederConfig{
		MinAgeDays: cfg.MinAgeDays,
		MaxAgeDays: cfg.MaxAgeDays,
		MinRating:  cfg.MinRating,
		QueueCap:   cfg.QueueCap,
	}, slog.Default())

	reconciler := reconcile.NewReconciler(store, payloads, slog.Default())

	// Bring the registry in line with the payload directory before serving
	// status, so the first snapshot a client sees is trustworthy.
	if report, err := reconciler.Run(context.Background()); err != nil {
		slog.Error("startup reconciliation failed", "error", err)
	} else {
		slog.Info("startup reconciliation completed",
			"adopted", report.Adopted,
			"resumed", report.Resumed,
			"orphans_deleted", report.OrphansDeleted,
			"reset", report.Reset,
		)
	}

	orch := svc.NewOrchestrator(store, sched, feeder, reconciler, ledger, cfg.StaleAfter, slog.Default())

	// The SSE stream holds requests open indefinitely; deriving request
	// contexts from serverCtx lets shutdown end those streams.
	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	router := h.NewRouter(orch, slog.Default())
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:     router,
		ReadTimeout: cfg.HTTPTimeout,
		IdleTimeout: cfg.HTTPTimeout,
		BaseContext: func(net.Listener) context.Context { return serverCtx },
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Error("orchestrator shutdown failed", "error", err)
	}

	serverCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	} else {
		slog.Info("server stopped gracefully")
	}
}
