// Package sqlite implements repository.Store on an embedded SQLite file.
//
// Timestamps are stored as unix nanoseconds so range predicates compare
// integers. The pool is limited to a single connection, which serialises
// writers and keeps the conditional evaluation update atomic.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/metrics"
)

const driver = "sqlite"

//go:embed schema.sql
var schema string

var _ repository.Store = (*Store)(nil)

// Store implements repository.Store using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and applies the schema.
func NewStore(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (id, trace_id, contest_id, config_id, state, scheduled_at, record)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TraceID,
		rec.ContestID,
		rec.ConfigID,
		string(rec.State),
		nanos(rec.ScheduledAt),
		string(body),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("insert prediction: %w", err)
	}

	// Keep the counter ahead of explicitly supplied trace ids.
	if _, err := s.db.ExecContext(ctx, `UPDATE trace_counter SET value = ? WHERE id = 1 AND value < ?`, rec.TraceID, rec.TraceID); err != nil {
		return fmt.Errorf("advance trace counter: %w", err)
	}
	return nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (model.PredictionRecord, error) {
	defer observe("get", time.Now())

	var body string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM predictions WHERE id = ?`, id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PredictionRecord{}, repository.ErrNotFound
		}
		return model.PredictionRecord{}, fmt.Errorf("get prediction: %w", err)
	}
	return decode(body)
}

// MarkEvaluated implements repository.Store.
func (s *Store) MarkEvaluated(ctx context.Context, rec model.PredictionRecord) error {
	defer observe("mark_evaluated", time.Now())
	if err := repository.CheckEvaluated(&rec); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE predictions
		SET state = ?, evaluated_at = ?, record = ?
		WHERE id = ? AND state = ?`,
		string(model.StateEvaluated),
		rec.Outcome.EvaluatedAt.UnixNano(),
		string(body),
		rec.ID,
		string(model.StatePublished),
	)
	if err != nil {
		return fmt.Errorf("mark prediction evaluated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark prediction evaluated: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions WHERE id = ?`, rec.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check prediction: %w", err)
	}
	if exists == 0 {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// ListByContest implements repository.Store.
func (s *Store) ListByContest(ctx context.Context, contestID string) ([]model.PredictionRecord, error) {
	defer observe("list_by_contest", time.Now())
	return s.query(ctx, "list predictions by contest", `
		SELECT record FROM predictions
		WHERE contest_id = ?
		ORDER BY trace_id ASC`, contestID)
}

// ListAwaitingOutcome implements repository.Store.
func (s *Store) ListAwaitingOutcome(ctx context.Context, asOf time.Time, limit int) ([]model.PredictionRecord, error) {
	defer observe("list_awaiting", time.Now())
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, "list awaiting predictions", `
		SELECT record FROM predictions
		WHERE state = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at ASC, trace_id ASC
		LIMIT ?`, string(model.StatePublished), asOf.UnixNano(), limit)
}

// ListEvaluated implements repository.Store.
func (s *Store) ListEvaluated(ctx context.Context, configID string, from, to time.Time) ([]model.PredictionRecord, error) {
	defer observe("list_evaluated", time.Now())
	return s.query(ctx, "list evaluated predictions", `
		SELECT record FROM predictions
		WHERE config_id = ? AND state = ? AND evaluated_at BETWEEN ? AND ?
		ORDER BY evaluated_at ASC, trace_id ASC`,
		configID, string(model.StateEvaluated), from.UnixNano(), to.UnixNano())
}

// NextTraceID implements repository.Store.
func (s *Store) NextTraceID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `UPDATE trace_counter SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next trace id: %w", err)
	}
	return id, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count predictions: %w", err)
	}
	return n, nil
}

// Close implements repository.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, what, query string, args ...any) ([]model.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	out := make([]model.PredictionRecord, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		rec, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}

func decode(body string) (model.PredictionRecord, error) {
	var rec model.PredictionRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return model.PredictionRecord{}, fmt.Errorf("decode prediction: %w", err)
	}
	return rec, nil
}

func nanos(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// isDuplicateKeyError matches SQLite's UNIQUE and PRIMARY KEY violations.
func isDuplicateKeyError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
