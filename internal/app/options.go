package service

import (
	"time"

	"github.com/okian/rally/internal/adapters/lock"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/detail"
	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithStore sets the prediction store. Defaults to an in-memory store.
func WithStore(s repository.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithLocker sets the per-record evaluation lock. Defaults to in-process.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithNotifier sets where detected drift is reported. Defaults to the log.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithRetrainSink sets the consumer of retraining candidates.
func WithRetrainSink(s RetrainSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.retrain = s
		}
	}
}

// WithScoringConfigs registers scoring configurations, replacing the default.
func WithScoringConfigs(configs ...model.ScoringConfig) Option {
	return func(e *Engine) {
		if len(configs) == 0 {
			return
		}
		e.configs = make(map[string]model.ScoringConfig, len(configs))
		for _, c := range configs {
			e.configs[c.ID] = c
		}
	}
}

// WithDetailPredictor swaps the secondary-prediction heuristic.
func WithDetailPredictor(p detail.Predictor) Option {
	return func(e *Engine) {
		if p != nil {
			e.details = p
		}
	}
}

// WithDriftMonitor sets the drift thresholds.
func WithDriftMonitor(m *drift.Monitor) Option {
	return func(e *Engine) {
		if m != nil {
			e.monitor = m
		}
	}
}

// WithDriftWindowDays sets the default lookback of drift sweeps.
func WithDriftWindowDays(days int) Option {
	return func(e *Engine) {
		if days > 0 {
			e.driftWindowDays = days
		}
	}
}

// WithEnvironment sets the deployment tag stamped on every record.
func WithEnvironment(env string) Option {
	return func(e *Engine) {
		if env != "" {
			e.environment = env
		}
	}
}

// WithWorkerCount sets the number of evaluation workers.
func WithWorkerCount(count int) Option {
	return func(e *Engine) {
		if count > 0 {
			e.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the conclusion queue.
func WithQueueSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the conclusion-event deduplication cache.
func WithDedupeSize(size int) Option {
	return func(e *Engine) {
		if size > 0 {
			e.dedupeSize = size
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
