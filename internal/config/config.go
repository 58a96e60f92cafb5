// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted by the queue, status and storage sections.
const (
	ProviderMemory   = "memory"
	ProviderPubSub   = "pubsub"
	ProviderSQS      = "sqs"
	ProviderPostgres = "postgres"
	ProviderGCS      = "gcs"
	ProviderLocal    = "local"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Status    StatusConfig    `mapstructure:"status"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and sets the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the worker pools and their queue handling.
type CrawlerConfig struct {
	UserAgent string `mapstructure:"user_agent"`
	// DirectWorkers overrides the memory-derived direct pool size when > 0.
	DirectWorkers   int           `mapstructure:"direct_workers"`
	MemoryPerWorker int64         `mapstructure:"memory_per_worker"`
	ArchiveWorkers  int           `mapstructure:"archive_workers"`
	ExtractWorkers  int           `mapstructure:"extract_workers"`
	VisibilityMin   time.Duration `mapstructure:"visibility_min"`
	VisibilityMax   time.Duration `mapstructure:"visibility_max"`
	IdleDelay       time.Duration `mapstructure:"idle_delay"`
	IdleExitAfter   time.Duration `mapstructure:"idle_exit_after"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
}

// RateLimitConfig tunes per-origin admission.
type RateLimitConfig struct {
	Window       time.Duration `mapstructure:"window"`
	MaxPerWindow int           `mapstructure:"max_per_window"`
	MaxStreak    int           `mapstructure:"max_streak"`
	Cooldown     time.Duration `mapstructure:"cooldown"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRedirects   int           `mapstructure:"max_redirects"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// ArchiveConfig configures the archive fallback pool.
type ArchiveConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	WaybackEndpoint string        `mapstructure:"wayback_endpoint"`
	MirrorEnabled   bool          `mapstructure:"mirror_enabled"`
	MirrorEndpoint  string        `mapstructure:"mirror_endpoint"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
}

// QueueConfig selects the task queue backend. Direct and Archive name the
// queue for each pool: a subscription ID for Pub/Sub, a queue URL for SQS, or
// a local name for the in-memory queue.
type QueueConfig struct {
	Provider string       `mapstructure:"provider"`
	Direct   string       `mapstructure:"direct"`
	Archive  string       `mapstructure:"archive"`
	PubSub   PubSubConfig `mapstructure:"pubsub"`
	SQS      SQSConfig    `mapstructure:"sqs"`
}

// PubSubConfig holds Pub/Sub pull subscription settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Endpoint  string `mapstructure:"endpoint"`
}

// SQSConfig holds AWS SQS settings.
type SQSConfig struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	// WaitSeconds enables long polling when > 0.
	WaitSeconds int32 `mapstructure:"wait_seconds"`
}

// StatusConfig selects the status table backend.
type StatusConfig struct {
	Provider string `mapstructure:"provider"`
	Table    string `mapstructure:"table"`
}

// StorageConfig selects the blob store for extracted text and metadata.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	KVTable   string `mapstructure:"kv_table"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := v.BindEnv("crawler.user_agent", "CRAWLER_CRAWLER_USER_AGENT", "USER_AGENT"); err != nil {
		return Config{}, fmt.Errorf("bind user agent env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 9090)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.user_agent", "hndr")
	v.SetDefault("crawler.direct_workers", 0)
	v.SetDefault("crawler.memory_per_worker", 16*1024*1024)
	v.SetDefault("crawler.archive_workers", 2)
	v.SetDefault("crawler.extract_workers", 0)
	v.SetDefault("crawler.visibility_min", "4m")
	v.SetDefault("crawler.visibility_max", "6m")
	v.SetDefault("crawler.idle_delay", "3s")
	v.SetDefault("crawler.idle_exit_after", "0s")
	v.SetDefault("crawler.max_attempts", 0)
	v.SetDefault("rate_limit.window", "1s")
	v.SetDefault("rate_limit.max_per_window", 24)
	v.SetDefault("rate_limit.max_streak", 8)
	v.SetDefault("rate_limit.cooldown", "1s")
	v.SetDefault("http.connect_timeout", "20s")
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.wayback_endpoint", "https://archive.org/wayback")
	v.SetDefault("archive.mirror_enabled", true)
	v.SetDefault("archive.mirror_endpoint", "https://archive.ph")
	v.SetDefault("archive.max_wait", "1m")
	v.SetDefault("queue.provider", "")
	v.SetDefault("queue.direct", "hndr:crawl")
	v.SetDefault("queue.archive", "hndr:crawl_archive")
	v.SetDefault("queue.sqs.wait_seconds", 0)
	v.SetDefault("status.provider", "")
	v.SetDefault("status.table", "url")
	v.SetDefault("storage.provider", "")
	v.SetDefault("storage.kv_table", "kv")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "1s")
	v.SetDefault("progress.sink_timeout", "5s")
	v.SetDefault("progress.log_events", false)
	v.SetDefault("telemetry.service_name", "link-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.DirectWorkers < 0 {
		return fmt.Errorf("crawler.direct_workers must be >= 0")
	}
	if c.Crawler.DirectWorkers == 0 && c.Crawler.MemoryPerWorker <= 0 {
		return fmt.Errorf("crawler.memory_per_worker must be > 0 when crawler.direct_workers is unset")
	}
	if c.Archive.Enabled && c.Crawler.ArchiveWorkers <= 0 {
		return fmt.Errorf("crawler.archive_workers must be > 0 when archive is enabled")
	}
	if c.Crawler.VisibilityMin <= 0 || c.Crawler.VisibilityMax < c.Crawler.VisibilityMin {
		return fmt.Errorf("crawler.visibility_min must be > 0 and <= crawler.visibility_max")
	}
	if c.Crawler.MaxAttempts < 0 {
		return fmt.Errorf("crawler.max_attempts must be >= 0")
	}
	if c.HTTP.Timeout <= 0 || c.HTTP.ConnectTimeout <= 0 {
		return fmt.Errorf("http.timeout and http.connect_timeout must be > 0")
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	return nil
}

func (c Config) validateQueue() error {
	if c.Queue.Direct == "" {
		return fmt.Errorf("queue.direct must be set")
	}
	if c.Archive.Enabled && c.Queue.Archive == "" {
		return fmt.Errorf("queue.archive must be set when archive is enabled")
	}
	switch c.Queue.Provider {
	case "":
		return fmt.Errorf("queue.provider must be set (memory, pubsub or sqs)")
	case ProviderMemory:
	case ProviderPubSub:
		if c.Queue.PubSub.ProjectID == "" {
			return fmt.Errorf("queue.pubsub.project_id must be set for the pubsub provider")
		}
	case ProviderSQS:
		if c.Queue.SQS.Region == "" {
			return fmt.Errorf("queue.sqs.region must be set for the sqs provider")
		}
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	return nil
}

func (c Config) validateStores() error {
	needsDB := false
	switch c.Status.Provider {
	case "":
		return fmt.Errorf("status.provider must be set (memory or postgres)")
	case ProviderMemory:
	case ProviderPostgres:
		needsDB = true
	default:
		return fmt.Errorf("unknown status.provider %q", c.Status.Provider)
	}
	switch c.Storage.Provider {
	case "":
		return fmt.Errorf("storage.provider must be set (memory, postgres, gcs or local)")
	case ProviderMemory:
	case ProviderPostgres:
		needsDB = true
	case ProviderGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case ProviderLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	default:
		return fmt.Errorf("unknown storage.provider %q", c.Storage.Provider)
	}
	if needsDB && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when a postgres provider is selected")
	}
	return nil
}
