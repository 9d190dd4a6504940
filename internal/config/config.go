package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration settings.
type Config struct {
	Environment string `envconfig:"TKAS_ENV" default:"development"`

	HTTPPort    int           `envconfig:"TKAS_HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"TKAS_HTTP_TIMEOUT" default:"15s"`

	DownloadWorkers int           `envconfig:"TKAS_DOWNLOAD_WORKERS" default:"8"`
	UploadWorkers   int           `envconfig:"TKAS_UPLOAD_WORKERS" default:"8"`
	TickInterval    time.Duration `envconfig:"TKAS_TICK_INTERVAL" default:"1s"`
	TransferTimeout time.Duration `envconfig:"TKAS_TRANSFER_TIMEOUT" default:"30m"`
	ProgressEvery   time.Duration `envconfig:"TKAS_PROGRESS_EVERY" default:"500ms"`

	QueueCap         int  `envconfig:"TKAS_QUEUE_CAP" default:"20"`
	RemoveAfterRelay bool `envconfig:"TKAS_REMOVE_AFTER_RELAY" default:"true"`

	PayloadDir string `envconfig:"TKAS_PAYLOAD_DIR" default:"./downloads"`
	StateFile  string `envconfig:"TKAS_STATE_FILE" default:"./task_status.json"`
	LedgerDir  string `envconfig:"TKAS_LEDGER_DIR" default:"./ledger"`
	ReportDir  string `envconfig:"TKAS_REPORT_DIR" default:"./reports"`

	CatalogURL string        `envconfig:"TKAS_CATALOG_URL" default:""`
	MinAgeDays int           `envconfig:"TKAS_MIN_AGE_DAYS" default:"3"`
	MaxAgeDays int           `envconfig:"TKAS_MAX_AGE_DAYS" default:"0"`
	MinRating  int           `envconfig:"TKAS_MIN_RATING" default:"70"`
	StaleAfter time.Duration `envconfig:"TKAS_STALE_AFTER" default:"10m"`

	FilehubEndpoint  string `envconfig:"FILEHUB_ENDPOINT" default:""`
	FilehubRegion    string `envconfig:"FILEHUB_REGION" default:"us-east-1"`
	FilehubBucket    string `envconfig:"FILEHUB_BUCKET" default:""`
	FilehubBasePath  string `envconfig:"FILEHUB_BASE_PATH" default:""`
	FilehubAccessKey string `envconfig:"FILEHUB_ACCESS_KEY" default:""`
	FilehubSecretKey string `envconfig:"FILEHUB_SECRET_KEY" default:""`
	FilehubPathStyle bool   `envconfig:"FILEHUB_PATH_STYLE" default:"true"`

	ShutdownTimeout time.Duration `envconfig:"TKAS_SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"TKAS_LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"TKAS_LOG_FORMAT" default:"json"`
}

// Validate checks the configuration for invalid or missing values.
// Returns an error describing the first invalid setting found.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.DownloadWorkers <= 0 {
		return fmt.Errorf("download worker count must be positive: %d", c.DownloadWorkers)
	}
	if c.UploadWorkers <= 0 {
		return fmt.Errorf("upload worker count must be positive: %d", c.UploadWorkers)
	}

	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive: %s", c.TickInterval)
	}

	if c.QueueCap <= 0 {
		return fmt.Errorf("queue cap must be positive: %d", c.QueueCap)
	}

	if c.PayloadDir == "" {
		return fmt.Errorf("payload directory cannot be empty")
	}
	if c.StateFile == "" {
		return fmt.Errorf("state file cannot be empty")
	}
	if c.LedgerDir == "" {
		return fmt.Errorf("ledger directory cannot be empty")
	}

	if c.FilehubBucket == "" {
		return fmt.Errorf("filehub bucket cannot be empty")
	}

	return nil
}
