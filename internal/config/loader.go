package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variable names.
const (
	envPrefix     = "RALLY_"
	envConfigFile = "RALLY_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if RALLY_CONFIG is set
//  3. env (prefix RALLY_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// RALLY_QUEUE_SIZE -> queue_size; keys stay flat to match the koanf tags.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, strings.ToLower(envPrefix))
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StoreSQLite && c.StoreDriver != StorePostgres:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == StorePostgres && c.PostgresDSN == "":
		return fmt.Errorf("%w: postgres_dsn is required for the postgres store", ErrInvalidConfig)
	case c.StoreDriver == StoreSQLite && c.SQLitePath == "":
		return fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
	case c.LockDriver != LockMemory && c.LockDriver != LockRedis:
		return fmt.Errorf("%w: unknown lock_driver %q", ErrInvalidConfig, c.LockDriver)
	case c.LockDriver == LockRedis && c.RedisAddr == "":
		return fmt.Errorf("%w: redis_addr is required for the redis lock", ErrInvalidConfig)
	case c.DriftWindowDays <= 0:
		return fmt.Errorf("%w: drift_window_days must be positive", ErrInvalidConfig)
	case c.DriftMinSamples <= 0:
		return fmt.Errorf("%w: drift_min_samples must be positive", ErrInvalidConfig)
	case c.TelegramEnabled && (c.TelegramBotToken == "" || c.TelegramChatID == ""):
		return fmt.Errorf("%w: telegram_bot_token and telegram_chat_id are required when telegram is enabled", ErrInvalidConfig)
	case len(c.ScoringConfigs) == 0:
		return fmt.Errorf("%w: at least one scoring config is required", ErrInvalidConfig)
	}
	if _, ok := c.ScoringConfigs[c.DefaultConfig]; !ok {
		return fmt.Errorf("%w: default_config %q is not defined", ErrInvalidConfig, c.DefaultConfig)
	}
	for id, w := range c.ScoringConfigs {
		if w.RatingScale <= 0 {
			return fmt.Errorf("%w: scoring config %q: rating_scale must be positive", ErrInvalidConfig, id)
		}
		if w.MinProbability < 0 || w.MaxProbability > 100 || w.MinProbability >= w.MaxProbability {
			return fmt.Errorf("%w: scoring config %q: probability band is invalid", ErrInvalidConfig, id)
		}
	}
	return nil
}
