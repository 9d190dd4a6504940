package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_downloads_total",
		Help: "Total number of download attempts",
	})

	DownloadsSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_downloads_success_total",
		Help: "Total number of successful downloads",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_downloads_failed_total",
		Help: "Total number of failed downloads",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tkas_download_duration_seconds",
		Help:    "Download duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_uploads_total",
		Help: "Total number of relay attempts",
	})

	UploadsSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_uploads_success_total",
		Help: "Total number of successful relays",
	})

	UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_uploads_failed_total",
		Help: "Total number of failed relays",
	})

	UploadsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_uploads_skipped_total",
		Help: "Total number of relays skipped because the remote copy was current",
	})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tkas_upload_bytes_total",
		Help: "Total bytes relayed to the remote store",
	})

	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tkas_upload_duration_seconds",
		Help:    "Relay duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tkas_queue_depth",
		Help: "Current number of tasks waiting in each queue",
	}, []string{"queue"})

	ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tkas_active_workers",
		Help: "Current number of in-flight workers per direction",
	}, []string{"direction"})
)
