// Package postgres implements repository.Store on PostgreSQL via pgx.
//
// Each row carries the indexed columns the queries filter on plus the full
// record as JSONB.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/metrics"
)

const driver = "postgres"

// PostgreSQL error codes
const (
	pgErrUniqueViolation = "23505" // unique_violation
)

//go:embed schema.sql
var schema string

var _ repository.Store = (*Store)(nil)

// Store implements repository.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and applies the schema.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(driver, op, float64(time.Since(start).Microseconds())/1000)
}

// Insert implements repository.Store.
func (s *Store) Insert(ctx context.Context, rec model.PredictionRecord) error {
	defer observe("insert", time.Now())
	if err := repository.CheckInsert(&rec); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}

	query := `
		INSERT INTO predictions (id, trace_id, contest_id, config_id, state, scheduled_at, record)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.pool.Exec(ctx, query,
		rec.ID,
		rec.TraceID,
		rec.ContestID,
		rec.ConfigID,
		string(rec.State),
		nullTime(rec.ScheduledAt),
		body,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (model.PredictionRecord, error) {
	defer observe("get", time.Now())

	row := s.pool.QueryRow(ctx, `SELECT record FROM predictions WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PredictionRecord{}, repository.ErrNotFound
		}
		return model.PredictionRecord{}, fmt.Errorf("get prediction: %w", err)
	}
	return rec, nil
}

// MarkEvaluated implements repository.Store. The update only matches rows
// still in the published state.
func (s *Store) MarkEvaluated(ctx context.Context, rec model.PredictionRecord) error {
	defer observe("mark_evaluated", time.Now())
	if err := repository.CheckEvaluated(&rec); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}

	query := `
		UPDATE predictions
		SET state = $2, evaluated_at = $3, record = $4
		WHERE id = $1 AND state = $5
	`
	tag, err := s.pool.Exec(ctx, query,
		rec.ID,
		string(model.StateEvaluated),
		rec.Outcome.EvaluatedAt,
		body,
		string(model.StatePublished),
	)
	if err != nil {
		return fmt.Errorf("mark prediction evaluated: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM predictions WHERE id = $1)`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check prediction: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// ListByContest implements repository.Store.
func (s *Store) ListByContest(ctx context.Context, contestID string) ([]model.PredictionRecord, error) {
	defer observe("list_by_contest", time.Now())
	query := `
		SELECT record FROM predictions
		WHERE contest_id = $1
		ORDER BY trace_id ASC
	`
	return s.query(ctx, "list predictions by contest", query, contestID)
}

// ListAwaitingOutcome implements repository.Store.
func (s *Store) ListAwaitingOutcome(ctx context.Context, asOf time.Time, limit int) ([]model.PredictionRecord, error) {
	defer observe("list_awaiting", time.Now())
	query := `
		SELECT record FROM predictions
		WHERE state = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, trace_id ASC
	`
	args := []any{string(model.StatePublished), asOf}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.query(ctx, "list awaiting predictions", query, args...)
}

// ListEvaluated implements repository.Store.
func (s *Store) ListEvaluated(ctx context.Context, configID string, from, to time.Time) ([]model.PredictionRecord, error) {
	defer observe("list_evaluated", time.Now())
	query := `
		SELECT record FROM predictions
		WHERE config_id = $1 AND state = $2 AND evaluated_at BETWEEN $3 AND $4
		ORDER BY evaluated_at ASC, trace_id ASC
	`
	return s.query(ctx, "list evaluated predictions", query, configID, string(model.StateEvaluated), from, to)
}

// NextTraceID implements repository.Store.
func (s *Store) NextTraceID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('prediction_trace_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next trace id: %w", err)
	}
	return id, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count predictions: %w", err)
	}
	return n, nil
}

// Close implements repository.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) query(ctx context.Context, what, query string, args ...any) ([]model.PredictionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	out := make([]model.PredictionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (model.PredictionRecord, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return model.PredictionRecord{}, err
	}
	var rec model.PredictionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return model.PredictionRecord{}, fmt.Errorf("decode prediction: %w", err)
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	return false
}
