package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/walhalax/tk-auto-save/internal/domain"
	"github.com/walhalax/tk-auto-save/internal/metrics"
	"github.com/walhalax/tk-auto-save/internal/storage"
)

var contentRangeTotal = regexp.MustCompile(`/(\d+)\s*$`)

// Engine downloads payloads over HTTP into the payload store. Interrupted
// transfers leave a partial file behind; the next Fetch for the same name
// resumes from its size with a Range request. The returned path points at
// the promoted final file, which only ever appears complete.
type Engine struct {
	payloads      *storage.PayloadStore
	httpClient    *http.Client
	progressEvery time.Duration
	logger        *slog.Logger
}

// NewEngine creates an Engine. timeout bounds a whole transfer attempt,
// progressEvery throttles progress reporting.
func NewEngine(payloads *storage.PayloadStore, timeout, progressEvery time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		payloads: payloads,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		progressEvery: progressEvery,
		logger:        logger,
	}
}

// Fetch downloads sourceRef into the payload store under name and returns
// the final path. report receives throttled transfer progress; terminal
// outcomes are conveyed by the return values only. A context cancellation
// keeps the partial file for a later resume.
func (e *Engine) Fetch(ctx context.Context, sourceRef, name string, report func(domain.ProgressEvent)) (string, error) {
	start := time.Now()
	metrics.DownloadsTotal.Inc()

	if e.payloads.Exists(name) {
		final := e.payloads.FinalPath(name)
		e.logger.Info("payload already on disk, skipping fetch",
			"name", name,
			"path", final,
		)
		metrics.DownloadsSuccess.Inc()
		return final, nil
	}

	offset := e.payloads.PartialSize(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
	if err != nil {
		e.logger.Error("fetch failed",
			"source_ref", sourceRef,
			"error", err,
		)
		metrics.DownloadsFailed.Inc()
		return "", fmt.Errorf("create request: %w", err)
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		e.logger.Info("resuming fetch from partial payload",
			"name", name,
			"offset", offset,
		)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.logger.Error("fetch request failed",
			"source_ref", sourceRef,
			"error", err,
		)
		metrics.DownloadsFailed.Inc()
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		// The partial no longer lines up with the remote object.
		if derr := e.payloads.DiscardPartial(name); derr != nil {
			e.logger.Warn("failed to discard stale partial", "name", name, "error", derr)
		}
		metrics.DownloadsFailed.Inc()
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.logger.Error("fetch failed",
			"source_ref", sourceRef,
			"status", resp.Status,
		)
		metrics.DownloadsFailed.Inc()
		return "", fmt.Errorf("bad status: %s", resp.Status)
	}

	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the Range header; start over.
		e.logger.Warn("server does not support resume, restarting fetch",
			"name", name,
			"status", resp.Status,
		)
		if err := e.payloads.DiscardPartial(name); err != nil {
			metrics.DownloadsFailed.Inc()
			return "", fmt.Errorf("discard partial: %w", err)
		}
		offset = 0
	}

	total := transferTotal(resp, offset)

	file, err := e.payloads.OpenPartial(name)
	if err != nil {
		e.logger.Error("fetch failed",
			"source_ref", sourceRef,
			"error", err,
		)
		metrics.DownloadsFailed.Inc()
		return "", fmt.Errorf("open partial file: %w", err)
	}

	if report != nil {
		report(domain.Transferring(offset, total, 0))
	}

	written, err := e.copyWithProgress(ctx, file, resp.Body, offset, total, report)
	cerr := file.Close()
	if err != nil {
		// The partial stays behind for a future resume.
		metrics.DownloadBytes.Add(float64(written))
		metrics.DownloadsFailed.Inc()
		e.logger.Error("fetch interrupted",
			"source_ref", sourceRef,
			"bytes_written", written,
			"error", err,
		)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if cerr != nil {
		metrics.DownloadsFailed.Inc()
		return "", fmt.Errorf("close partial file: %w", cerr)
	}

	received := offset + written
	if total > 0 && received != total {
		metrics.DownloadsFailed.Inc()
		e.logger.Error("fetch ended short of expected size",
			"source_ref", sourceRef,
			"received", received,
			"expected", total,
		)
		return "", fmt.Errorf("incomplete payload: got %d of %d bytes", received, total)
	}

	final, err := e.payloads.Promote(name)
	if err != nil {
		metrics.DownloadsFailed.Inc()
		return "", fmt.Errorf("promote payload: %w", err)
	}

	metrics.DownloadBytes.Add(float64(written))
	metrics.DownloadsSuccess.Inc()
	metrics.DownloadDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("fetch completed",
		"name", name,
		"path", final,
		"bytes", received,
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	return final, nil
}

func (e *Engine) copyWithProgress(ctx context.Context, dst *os.File, src io.Reader, offset, total int64, report func(domain.ProgressEvent)) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	lastReport := time.Now()
	lastBytes := offset

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
			nr, err := src.Read(buf)
			if nr > 0 {
				nw, werr := dst.Write(buf[0:nr])
				if nw > 0 {
					written += int64(nw)
				}
				if werr != nil {
					return written, werr
				}
				if nr != nw {
					return written, io.ErrShortWrite
				}

				if report != nil && time.Since(lastReport) >= e.progressEvery {
					current := offset + written
					elapsed := time.Since(lastReport).Seconds()
					var rate float64
					if elapsed > 0 {
						rate = float64(current-lastBytes) / elapsed
					}
					report(domain.Transferring(current, total, rate))
					lastReport = time.Now()
					lastBytes = current
				}
			}
			if err != nil {
				if err == io.EOF {
					return written, nil
				}
				return written, err
			}
		}
	}
}

// transferTotal derives the expected full payload size from the response.
// A 206 carries it in the Content-Range trailer; a plain 200 only in
// Content-Length. Returns 0 when the size is unknown.
func transferTotal(resp *http.Response, offset int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if m := contentRangeTotal.FindStringSubmatch(resp.Header.Get("Content-Range")); m != nil {
			if total, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return total
			}
		}
		if resp.ContentLength > 0 {
			return offset + resp.ContentLength
		}
		return 0
	}
	if resp.ContentLength > 0 {
		return resp.ContentLength
	}
	return 0
}
