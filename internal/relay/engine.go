package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/walhalax/tk-auto-save/internal/domain"
	errpkg "github.com/walhalax/tk-auto-save/internal/errors"
	"github.com/walhalax/tk-auto-save/internal/metrics"
	"github.com/walhalax/tk-auto-save/internal/storage"
)

// Result describes the outcome of a relay attempt.
type Result struct {
	Skipped bool
	Reason  string
	Bytes   int64
}

// Engine relays completed payloads from local disk to the remote file hub.
// A relay is skipped when the payload is absent or still partial, or when
// the hub already holds an object of at least the local size. The engine
// never deletes local files; cleanup is owned by the task store.
type Engine struct {
	remote        RemoteStore
	ledger        *Ledger
	progressEvery time.Duration
	logger        *slog.Logger
}

// NewEngine creates a relay Engine. ledger may be nil to disable the local
// duplicate check.
func NewEngine(remote RemoteStore, ledger *Ledger, progressEvery time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		remote:        remote,
		ledger:        ledger,
		progressEvery: progressEvery,
		logger:        logger,
	}
}

// Relay uploads the file at localPath to the remote key. report receives
// throttled transfer progress; the outcome is conveyed by the return values
// only. Skips are successes: the payload is already where it needs to be,
// or there is nothing usable to send.
func (e *Engine) Relay(ctx context.Context, localPath, key string, report func(domain.ProgressEvent)) (Result, error) {
	start := time.Now()
	metrics.UploadsTotal.Inc()

	if localPath == "" {
		metrics.UploadsSkipped.Inc()
		return Result{Skipped: true, Reason: "no local payload recorded"}, nil
	}
	if storage.IsPartialName(filepath.Base(localPath)) {
		metrics.UploadsSkipped.Inc()
		e.logger.Warn("refusing to relay partial payload", "path", localPath)
		return Result{Skipped: true, Reason: "payload still partial"}, nil
	}

	info, err := os.Stat(localPath)
	if os.IsNotExist(err) {
		metrics.UploadsSkipped.Inc()
		e.logger.Warn("local payload missing, skipping relay", "path", localPath)
		return Result{Skipped: true, Reason: "local payload missing"}, nil
	}
	if err != nil {
		metrics.UploadsFailed.Inc()
		return Result{}, fmt.Errorf("stat local payload: %w", err)
	}
	localSize := info.Size()

	if e.ledger != nil {
		entry, found, lerr := e.ledger.Lookup(key)
		if lerr != nil {
			e.logger.Warn("ledger lookup failed, falling back to remote check", "key", key, "error", lerr)
		} else if found && entry.Size >= localSize {
			metrics.UploadsSkipped.Inc()
			e.logger.Info("relay already recorded, skipping",
				"key", key,
				"recorded_size", entry.Size,
			)
			return Result{Skipped: true, Reason: "already relayed"}, nil
		}
	}

	remote, err := e.remote.Stat(ctx, key)
	switch {
	case err == nil:
		if remote.Size >= localSize {
			e.recordLedger(key, remote.Size)
			metrics.UploadsSkipped.Inc()
			e.logger.Info("remote already has full payload, skipping relay",
				"key", key,
				"remote_size", remote.Size,
				"local_size", localSize,
			)
			return Result{Skipped: true, Reason: "remote already has full payload"}, nil
		}
		e.logger.Warn("remote payload smaller than local, overwriting",
			"key", key,
			"remote_size", remote.Size,
			"local_size", localSize,
		)
	case errors.Is(err, errpkg.ErrObjectNotFound):
		// Nothing remote yet.
	default:
		metrics.UploadsFailed.Inc()
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("stat remote object: %w", err)
	}

	file, err := os.Open(localPath)
	if err != nil {
		metrics.UploadsFailed.Inc()
		return Result{}, fmt.Errorf("open local payload: %w", err)
	}
	defer file.Close()

	if report != nil {
		report(domain.Transferring(0, localSize, 0))
	}

	body := &progressReader{
		r:      file,
		total:  localSize,
		every:  e.progressEvery,
		report: report,
		last:   time.Now(),
	}

	if err := e.remote.Put(ctx, key, body, localSize); err != nil {
		metrics.UploadsFailed.Inc()
		e.logger.Error("relay failed",
			"key", key,
			"bytes_sent", body.sent,
			"error", err,
		)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("put remote object: %w", err)
	}

	e.recordLedger(key, localSize)

	metrics.UploadBytes.Add(float64(localSize))
	metrics.UploadsSuccess.Inc()
	metrics.UploadDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("relay completed",
		"key", key,
		"bytes", localSize,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return Result{Bytes: localSize}, nil
}

func (e *Engine) recordLedger(key string, size int64) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Record(key, size); err != nil {
		e.logger.Warn("failed to record relay in ledger", "key", key, "error", err)
	}
}

// progressReader counts bytes as the remote store drains the payload and
// reports throttled progress.
type progressReader struct {
	r      io.Reader
	sent   int64
	total  int64
	every  time.Duration
	report func(domain.ProgressEvent)
	last   time.Time
	marked int64
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil && time.Since(p.last) >= p.every {
			elapsed := time.Since(p.last).Seconds()
			var rate float64
			if elapsed > 0 {
				rate = float64(p.sent-p.marked) / elapsed
			}
			p.report(domain.Transferring(p.sent, p.total, rate))
			p.last = time.Now()
			p.marked = p.sent
		}
	}
	return n, err
}
