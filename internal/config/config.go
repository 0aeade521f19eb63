// Package config defines engine configuration structures and loading hooks.
//
// Conventions:
//   - Provide New() to build a Config with defaults.
//   - Load layers an optional YAML file and RALLY_* environment variables on top.
//   - External errors are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Lock drivers.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// DefaultScoringConfigID names the weight set used when none is configured.
const DefaultScoringConfigID = "baseline-v1"

// ScoringWeights is one named weight set for the outcome scorer.
type ScoringWeights struct {
	Version        int     `koanf:"version"`
	RatingWeight   float64 `koanf:"rating_weight"`
	RatingScale    float64 `koanf:"rating_scale"`
	H2HWeight      float64 `koanf:"h2h_weight"`
	SurfaceWeight  float64 `koanf:"surface_weight"`
	FormWeight     float64 `koanf:"form_weight"`
	ContextWeight  float64 `koanf:"context_weight"`
	MinProbability float64 `koanf:"min_probability"`
	MaxProbability float64 `koanf:"max_probability"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the metrics listen address, e.g. ":9090".
	Addr string `koanf:"addr"`

	// Environment is stamped onto every prediction record.
	Environment string `koanf:"environment"`

	// StoreDriver selects the prediction store: memory, sqlite or postgres.
	StoreDriver string `koanf:"store_driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`

	// LockDriver selects the per-record evaluation lock: memory or redis.
	LockDriver string `koanf:"lock_driver"`
	RedisAddr  string `koanf:"redis_addr"`

	// QueueSize bounds the contest-conclusion queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of evaluation workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the conclusion-event deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Feature provider call policy.
	LookupTimeoutMS     int     `koanf:"lookup_timeout_ms"`
	LookupRatePerSec    float64 `koanf:"lookup_rate_per_sec"`
	LookupBurst         int     `koanf:"lookup_burst"`
	BreakerFailureRatio float64 `koanf:"breaker_failure_ratio"`
	BreakerMinRequests  int     `koanf:"breaker_min_requests"`
	BreakerOpenSeconds  int     `koanf:"breaker_open_seconds"`

	// Drift monitoring.
	DriftSchedule    string  `koanf:"drift_schedule"`
	DriftWindowDays  int     `koanf:"drift_window_days"`
	DriftMinSamples  int     `koanf:"drift_min_samples"`
	DriftMinAccuracy float64 `koanf:"drift_min_accuracy"`
	DriftMaxBrier    float64 `koanf:"drift_max_brier"`

	// Drift alerts over Telegram.
	TelegramEnabled  bool   `koanf:"telegram_enabled"`
	TelegramBotToken string `koanf:"telegram_bot_token"`
	TelegramChatID   string `koanf:"telegram_chat_id"`

	// DataFile points at the YAML document backing the static providers.
	DataFile string `koanf:"data_file"`

	// ScoringConfigs maps configuration ids to weight sets.
	ScoringConfigs map[string]ScoringWeights `koanf:"scoring_configs"`

	// DefaultConfig is the scoring configuration used by the daemon.
	DefaultConfig string `koanf:"default_config"`
}

// DefaultWeights returns the baseline weight set.
func DefaultWeights() ScoringWeights {
	return ScoringWeights{
		Version:        1,
		RatingWeight:   35,
		RatingScale:    400,
		H2HWeight:      0.25,
		SurfaceWeight:  20,
		FormWeight:     15,
		ContextWeight:  2,
		MinProbability: 5,
		MaxProbability: 95,
	}
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9090",
		Environment:         "development",
		StoreDriver:         StoreMemory,
		SQLitePath:          "rally.db",
		LockDriver:          LockMemory,
		RedisAddr:           "localhost:6379",
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU(),
		DedupeSize:          50_000,
		LookupTimeoutMS:     750,
		LookupRatePerSec:    50,
		LookupBurst:         10,
		BreakerFailureRatio: 0.6,
		BreakerMinRequests:  3,
		BreakerOpenSeconds:  30,
		DriftSchedule:       "@daily",
		DriftWindowDays:     30,
		DriftMinSamples:     10,
		DriftMinAccuracy:    0.6,
		DriftMaxBrier:       0.3,
		ScoringConfigs: map[string]ScoringWeights{
			DefaultScoringConfigID: DefaultWeights(),
		},
		DefaultConfig: DefaultScoringConfigID,
	}
}
