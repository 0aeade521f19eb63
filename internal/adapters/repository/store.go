// Package repository defines the prediction record store and its in-memory
// implementation. Durable implementations live in the postgres and sqlite
// subpackages.
package repository

import (
	"context"
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// Store persists prediction records.
//
// Records enter as Published and leave Published exactly once, through
// MarkEvaluated. Implementations must make that transition conditional on the
// stored state so that concurrent evaluators cannot both succeed.
type Store interface {
	// Insert persists a Published record.
	// Returns ErrDuplicateKey if the id or trace id already exists.
	Insert(ctx context.Context, rec model.PredictionRecord) error

	// Get returns the record with id or ErrNotFound.
	Get(ctx context.Context, id string) (model.PredictionRecord, error)

	// MarkEvaluated replaces a Published record with its Evaluated version.
	// Returns ErrNotFound for unknown ids and ErrConflict when the stored
	// record is no longer Published.
	MarkEvaluated(ctx context.Context, rec model.PredictionRecord) error

	// ListByContest returns every record of a contest ordered by trace id.
	ListByContest(ctx context.Context, contestID string) ([]model.PredictionRecord, error)

	// ListAwaitingOutcome returns Published records scheduled at or before
	// asOf, oldest first. limit <= 0 means no limit.
	ListAwaitingOutcome(ctx context.Context, asOf time.Time, limit int) ([]model.PredictionRecord, error)

	// ListEvaluated returns Evaluated records of configID whose evaluation
	// time lies in [from, to], oldest first.
	ListEvaluated(ctx context.Context, configID string, from, to time.Time) ([]model.PredictionRecord, error)

	// NextTraceID returns a trace id larger than any issued before.
	NextTraceID(ctx context.Context) (int64, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Close releases underlying resources.
	Close() error
}

// CheckInsert validates a record before it is persisted.
func CheckInsert(rec *model.PredictionRecord) error {
	if rec.ID == "" || rec.State != model.StatePublished || rec.Outcome != nil {
		return ErrInvalidRecord
	}
	return nil
}

// CheckEvaluated validates a record passed to MarkEvaluated.
func CheckEvaluated(rec *model.PredictionRecord) error {
	if rec.ID == "" || rec.State != model.StateEvaluated || rec.Outcome == nil {
		return ErrInvalidRecord
	}
	return nil
}
