package service

import (
	"context"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

// RetrainSink receives evaluated records flagged as retraining input.
// Implementations must not block for long; the evaluation path waits on them.
type RetrainSink interface {
	Submit(ctx context.Context, rec model.PredictionRecord) error
}

// LogRetrainSink records retraining candidates in the structured log.
type LogRetrainSink struct {
	logger logger.Logger
}

// NewLogRetrainSink creates a log-backed sink.
func NewLogRetrainSink() *LogRetrainSink {
	return &LogRetrainSink{logger: logger.Get().Named("retrain")}
}

// Submit implements RetrainSink.
func (s *LogRetrainSink) Submit(ctx context.Context, rec model.PredictionRecord) error { //nolint:gocritic // hugeParam
	fields := []logger.Field{
		logger.String("prediction_id", rec.ID),
		logger.String("contest_id", rec.ContestID),
		logger.String("config_id", rec.ConfigID),
		logger.String("dominant_factor", string(rec.DominantFactor)),
	}
	if rec.Outcome != nil {
		fields = append(fields,
			logger.Float64("brier", rec.Outcome.Brier),
			logger.Bool("outlier", rec.Outcome.Outlier),
		)
	}
	s.logger.Info(ctx, "retraining candidate", fields...)
	return nil
}
