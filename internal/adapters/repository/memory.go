package repository

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/metrics"
)

const memoryDriver = "memory"

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a mutex-guarded, map-backed Store. Records are copied on the
// way in and on the way out.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]model.PredictionRecord
	byContest map[string][]string
	traces    map[int64]struct{}
	lastTrace atomic.Int64
	closed    bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]model.PredictionRecord),
		byContest: make(map[string][]string),
		traces:    make(map[int64]struct{}),
	}
}

// open reports ErrClosed once Close has run. Callers hold s.mu.
func (s *MemoryStore) open() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(memoryDriver, op, float64(time.Since(start).Microseconds())/1000)
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, rec model.PredictionRecord) error {
	defer observe("insert", time.Now())
	if err := CheckInsert(&rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}

	if _, ok := s.byID[rec.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.traces[rec.TraceID]; ok {
		return ErrDuplicateKey
	}
	s.byID[rec.ID] = rec.Clone()
	s.byContest[rec.ContestID] = append(s.byContest[rec.ContestID], rec.ID)
	s.traces[rec.TraceID] = struct{}{}
	for {
		last := s.lastTrace.Load()
		if rec.TraceID <= last || s.lastTrace.CompareAndSwap(last, rec.TraceID) {
			break
		}
	}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (model.PredictionRecord, error) {
	defer observe("get", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.open(); err != nil {
		return model.PredictionRecord{}, err
	}

	rec, ok := s.byID[id]
	if !ok {
		return model.PredictionRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// MarkEvaluated implements Store.
func (s *MemoryStore) MarkEvaluated(ctx context.Context, rec model.PredictionRecord) error {
	defer observe("mark_evaluated", time.Now())
	if err := CheckEvaluated(&rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}

	stored, ok := s.byID[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.State != model.StatePublished {
		return ErrConflict
	}
	s.byID[rec.ID] = rec.Clone()
	return nil
}

// ListByContest implements Store.
func (s *MemoryStore) ListByContest(ctx context.Context, contestID string) ([]model.PredictionRecord, error) {
	defer observe("list_by_contest", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.open(); err != nil {
		return nil, err
	}

	ids := s.byContest[contestID]
	out := make([]model.PredictionRecord, 0, len(ids))
	for _, id := range ids {
		rec := s.byID[id]
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TraceID < out[j].TraceID })
	return out, nil
}

// ListAwaitingOutcome implements Store.
func (s *MemoryStore) ListAwaitingOutcome(ctx context.Context, asOf time.Time, limit int) ([]model.PredictionRecord, error) {
	defer observe("list_awaiting", time.Now())
	s.mu.RLock()
	if err := s.open(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	out := make([]model.PredictionRecord, 0)
	for _, rec := range s.byID {
		if rec.AwaitingOutcome(asOf) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].TraceID < out[j].TraceID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListEvaluated implements Store.
func (s *MemoryStore) ListEvaluated(ctx context.Context, configID string, from, to time.Time) ([]model.PredictionRecord, error) {
	defer observe("list_evaluated", time.Now())
	s.mu.RLock()
	if err := s.open(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	out := make([]model.PredictionRecord, 0)
	for _, rec := range s.byID {
		if rec.ConfigID != configID || rec.State != model.StateEvaluated || rec.Outcome == nil {
			continue
		}
		at := rec.Outcome.EvaluatedAt
		if at.Before(from) || at.After(to) {
			continue
		}
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Outcome.EvaluatedAt, out[j].Outcome.EvaluatedAt
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].TraceID < out[j].TraceID
	})
	return out, nil
}

// NextTraceID implements Store.
func (s *MemoryStore) NextTraceID(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.open(); err != nil {
		return 0, err
	}
	return s.lastTrace.Add(1), nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.open(); err != nil {
		return 0, err
	}
	return len(s.byID), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
