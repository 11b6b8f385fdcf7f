package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m"); unknown keys are rejected on load so typos
// surface immediately instead of silently falling back to defaults.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Rate      RateConfig      `json:"rate"`
	Retry     RetryConfig     `json:"retry"`
	Monitor   MonitorConfig   `json:"monitor,omitempty"`

	// Storage enables durable checkpoints. Nil means in-memory only.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Metrics controls the optional HTTP surface (/metrics, /healthz).
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// Targets maps target names to their publisher settings.
	Targets map[string]TargetConfig `json:"targets"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 3
//   - queue_size: 64
//   - drain_interval: "1s"
//   - dispatch_per_sec: 5
//   - login_timeout / publish_timeout: "30s"
//   - session_ttl: "1h"
//   - cleanup_horizon: "24h", cleanup_every: "10m"
//   - checkpoint_every: "30s"
type SchedulerConfig struct {
	Enabled        bool   `json:"enabled"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DrainInterval  string `json:"drain_interval,omitempty"`
	DispatchPerSec int    `json:"dispatch_per_sec,omitempty"`

	LoginTimeout   string `json:"login_timeout,omitempty"`
	PublishTimeout string `json:"publish_timeout,omitempty"`
	SessionTTL     string `json:"session_ttl,omitempty"`

	CleanupHorizon  string `json:"cleanup_horizon,omitempty"`
	CleanupEvery    string `json:"cleanup_every,omitempty"`
	CheckpointEvery string `json:"checkpoint_every,omitempty"`
}

// RateConfig sets per-target throughput caps: default hourly/daily limits
// plus optional per-target overrides.
type RateConfig struct {
	Hourly  int                 `json:"hourly,omitempty"`
	Daily   int                 `json:"daily,omitempty"`
	Targets map[string]CapsSpec `json:"targets,omitempty"`
}

type CapsSpec struct {
	Hourly int `json:"hourly,omitempty"`
	Daily  int `json:"daily,omitempty"`
}

// RetryConfig tunes the backoff policy for retryable publish failures.
type RetryConfig struct {
	// BaseDelay is the first retry delay; each further retry doubles it.
	BaseDelay string `json:"base_delay,omitempty"`
	// MaxRetries is the retry budget per (item, target).
	MaxRetries int `json:"max_retries,omitempty"`
	// UnknownReviewAfter flags a target for review after this many
	// unclassified failures.
	UnknownReviewAfter int `json:"unknown_review_after,omitempty"`
}

// MonitorConfig holds the health thresholds.
type MonitorConfig struct {
	// FailureRateMax is the trailing-hour failure-rate ceiling (0..1).
	FailureRateMax float64 `json:"failure_rate_max,omitempty"`
	// FailedItemsMax is the ceiling on failed items within the horizon.
	FailedItemsMax int `json:"failed_items_max,omitempty"`
	// Horizon bounds failed-item retention, e.g. "24h".
	Horizon string `json:"horizon,omitempty"`
}

// StorageConfig selects the durable store driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postpilot.db" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path,omitempty"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // sqlite
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// MetricsConfig controls the HTTP observability endpoint.
//
// Prefer binding to localhost; the endpoint carries no auth.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
}

// TargetConfig describes one publish target.
//
// Kind selects the adapter: "telegram" or "webhook". Credential fields not
// used by the adapter stay empty.
type TargetConfig struct {
	Kind string `json:"kind"`

	// Telegram.
	Token string `json:"token,omitempty"`
	Chat  string `json:"chat,omitempty"`

	// Webhook.
	LoginURL   string `json:"login_url,omitempty"`
	PublishURL string `json:"publish_url,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`

	// Timeout bounds the adapter's own HTTP calls.
	Timeout string `json:"timeout,omitempty"`
}
