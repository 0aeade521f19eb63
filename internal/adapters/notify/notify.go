// Package notify delivers drift alerts.
package notify

import (
	"context"

	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/pkg/logger"
)

// Notifier is told about every drift snapshot that detected drift.
type Notifier interface {
	NotifyDrift(ctx context.Context, s drift.Snapshot) error
}

// Log writes drift alerts to the structured log.
type Log struct {
	logger logger.Logger
}

var _ Notifier = (*Log)(nil)

// NewLog creates a log notifier.
func NewLog() *Log {
	return &Log{logger: logger.Get().Named("drift-alert")}
}

// NotifyDrift implements Notifier.
func (l *Log) NotifyDrift(ctx context.Context, s drift.Snapshot) error { //nolint:gocritic // hugeParam
	l.logger.Warn(ctx, "prediction drift detected",
		logger.String("config_id", s.ConfigID),
		logger.Int("samples", s.SampleCount),
		logger.Float64("mean_accuracy", s.MeanAccuracy),
		logger.Float64("mean_brier", s.MeanBrier),
		logger.Float64("outlier_rate", s.OutlierRate),
	)
	return nil
}
