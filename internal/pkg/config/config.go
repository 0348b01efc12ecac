package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	StorageS3 = "s3"
	StorageFS = "fs"

	DispatchQueue  = "queue"
	DispatchDirect = "direct"

	NotifierLog     = "log"
	NotifierSES     = "ses"
	NotifierWebhook = "webhook"
)

// Config holds all application configuration.
type Config struct {
	LogLevel         string   `env:"LOG_LEVEL" envDefault:"info"`
	IngestServerAddr string   `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr  string   `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	MaxRequestSize   int64    `env:"MAX_REQUEST_SIZE_BYTES" envDefault:"10485760"` // 10MB, after decompression
	EnrollSecrets    []string `env:"ENROLL_SECRETS,required" envSeparator:","`
	RulesDir         string   `env:"RULES_DIR" envDefault:"./rules"`

	StorageBackend     string        `env:"STORAGE_BACKEND" envDefault:"s3"`
	S3Bucket           string        `env:"S3_BUCKET"`
	S3Prefix           string        `env:"S3_PREFIX"`
	AWSRegion          string        `env:"AWS_REGION" envDefault:"us-east-1"`
	FSStorageDir       string        `env:"FS_STORAGE_DIR" envDefault:"./data"`
	UploadRetries      int           `env:"UPLOAD_RETRIES" envDefault:"3"`
	UploadRetryBackoff time.Duration `env:"UPLOAD_RETRY_BACKOFF" envDefault:"500ms"`

	MatchDispatch  string `env:"MATCH_DISPATCH" envDefault:"queue"`
	MatchWorkers   int    `env:"MATCH_WORKERS" envDefault:"8"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"redis://localhost:6379/0"`
	MatchStream    string `env:"MATCH_STREAM" envDefault:"rule_matches"`
	MatchDLQStream string `env:"MATCH_DLQ_STREAM" envDefault:"rule_matches_dlq"`
	MatchGroup     string `env:"MATCH_CONSUMER_GROUP" envDefault:"notifiers"`
	WALPath        string `env:"WAL_PATH" envDefault:"./wal"`
	WALSegmentSize int64  `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`   // 100MB
	WALMaxDiskSize int64  `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB

	PostgresURL       string        `env:"POSTGRES_URL"`
	NodeTouchInterval time.Duration `env:"NODE_TOUCH_INTERVAL" envDefault:"1m"`

	Notifier         string   `env:"NOTIFIER" envDefault:"log"`
	NotifyFrom       string   `env:"NOTIFY_FROM"`
	NotifyTo         []string `env:"NOTIFY_TO" envSeparator:","`
	NotifyWebhookURL string   `env:"NOTIFY_WEBHOOK_URL"`
	NotifyRetries    int      `env:"NOTIFY_RETRIES" envDefault:"3"`
	NotifierAddr     string   `env:"NOTIFIER_METRICS_ADDR" envDefault:":9092"`

	RedactColumns  []string `env:"REDACT_COLUMNS" envSeparator:","`
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"0"` // 0 disables
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"100"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	secrets := 0
	for _, s := range c.EnrollSecrets {
		if s != "" {
			secrets++
		}
	}
	if secrets == 0 {
		errs = append(errs, errors.New("ENROLL_SECRETS must contain at least one secret"))
	}

	switch c.StorageBackend {
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when STORAGE_BACKEND=s3"))
		}
	case StorageFS:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}

	switch c.MatchDispatch {
	case DispatchQueue, DispatchDirect:
	default:
		errs = append(errs, fmt.Errorf("unknown MATCH_DISPATCH %q", c.MatchDispatch))
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierSES:
		if c.NotifyFrom == "" || len(c.NotifyTo) == 0 {
			errs = append(errs, errors.New("NOTIFY_FROM and NOTIFY_TO are required when NOTIFIER=ses"))
		}
	case NotifierWebhook:
		if c.NotifyWebhookURL == "" {
			errs = append(errs, errors.New("NOTIFY_WEBHOOK_URL is required when NOTIFIER=webhook"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFIER %q", c.Notifier))
	}

	if c.UploadRetries < 1 {
		errs = append(errs, errors.New("UPLOAD_RETRIES must be at least 1"))
	}
	if c.NotifyRetries < 1 {
		errs = append(errs, errors.New("NOTIFY_RETRIES must be at least 1"))
	}
	if c.MatchWorkers < 1 {
		errs = append(errs, errors.New("MATCH_WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}
