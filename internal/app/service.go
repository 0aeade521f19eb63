// Package service wires the prediction pipeline, the evaluation workers and
// the drift monitor into one Engine.
//
// Generation is synchronous: collect features, score, derive details and
// confidence, then persist a Published record. Evaluation runs either
// directly through EvaluatePrediction or asynchronously from conclusion
// events submitted with SubmitConclusion.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/okian/rally/internal/adapters/lock"
	eventqueue "github.com/okian/rally/internal/adapters/mq/queue"
	workerpool "github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/internal/domain/confidence"
	"github.com/okian/rally/internal/domain/dedupe"
	"github.com/okian/rally/internal/domain/detail"
	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/internal/domain/evaluation"
	"github.com/okian/rally/internal/domain/features"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/scoring"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// ContestLookup resolves a contest id. Unknown ids return an error wrapping
// features.ErrNotFound.
type ContestLookup interface {
	Contest(ctx context.Context, id string) (model.Contest, error)
}

// FeatureCollector produces the feature set of a contest.
type FeatureCollector interface {
	Collect(ctx context.Context, req features.Request) (model.FeatureSet, error)
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Predictions int      `json:"predictions"`
	Awaiting    int      `json:"awaiting_outcome"`
	QueueLen    int      `json:"queue_len"`
	DedupeSize  int64    `json:"dedupe_size"`
	Workers     int      `json:"workers"`
	Configs     []string `json:"configs"`
	Started     bool     `json:"started"`
}

// Engine implements generatePrediction, evaluatePrediction and computeDrift.
type Engine struct {
	mu sync.RWMutex

	contests  ContestLookup
	collector FeatureCollector
	store     repository.Store
	locker    lock.Locker
	notifier  notify.Notifier
	retrain   RetrainSink
	details   detail.Predictor
	monitor   *drift.Monitor

	configs map[string]model.ScoringConfig
	scorers map[string]scoring.Scorer

	environment     string
	driftWindowDays int
	now             func() time.Time

	// Deferred evaluation.
	workerCount int
	queueSize   int
	dedupeSize  int
	deduper     dedupe.Deduper
	queue       *eventqueue.InMemoryQueue
	pool        *workerpool.Pool
	started     bool

	logger logger.Logger
}

// New builds an Engine. contests and collector are mandatory.
func New(contests ContestLookup, collector FeatureCollector, opts ...Option) *Engine {
	base := config.DefaultWeights()
	e := &Engine{
		contests:  contests,
		collector: collector,
		store:     repository.NewMemoryStore(),
		locker:    lock.NewMemory(),
		details:   detail.NewHeuristic(),
		monitor:   drift.NewMonitor(),
		configs: map[string]model.ScoringConfig{
			config.DefaultScoringConfigID: ScoringConfig(config.DefaultScoringConfigID, base),
		},
		environment:     "development",
		driftWindowDays: 30,
		now:             time.Now,
		workerCount:     runtime.NumCPU(),
		queueSize:       10_000,
		dedupeSize:      50_000,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	if e.notifier == nil {
		e.notifier = notify.NewLog()
	}
	if e.retrain == nil {
		e.retrain = NewLogRetrainSink()
	}

	e.scorers = make(map[string]scoring.Scorer, len(e.configs))
	for id, c := range e.configs {
		e.scorers[id] = scoring.NewWeightedScorer(scoring.WithWeights(c.Weights))
	}
	return e
}

// ScoringConfig converts a configured weight set into a domain configuration.
func ScoringConfig(id string, w config.ScoringWeights) model.ScoringConfig { //nolint:gocritic // hugeParam
	return model.ScoringConfig{
		ID:      id,
		Version: w.Version,
		Weights: model.Weights{
			RatingWeight:   w.RatingWeight,
			RatingScale:    w.RatingScale,
			H2HWeight:      w.H2HWeight,
			SurfaceWeight:  w.SurfaceWeight,
			FormWeight:     w.FormWeight,
			ContextWeight:  w.ContextWeight,
			MinProbability: w.MinProbability,
			MaxProbability: w.MaxProbability,
		},
	}
}

// ConfigIDs lists the registered scoring configurations in id order.
func (e *Engine) ConfigIDs() []string {
	ids := make([]string, 0, len(e.configs))
	for id := range e.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GeneratePrediction runs the pipeline for contestID under configID and
// persists the resulting Published record.
func (e *Engine) GeneratePrediction(ctx context.Context, contestID, configID string) (model.PredictionRecord, error) {
	start := time.Now()
	ctx = logger.WithFields(ctx, logger.String("contest_id", contestID), logger.String("config_id", configID))

	cfg, ok := e.configs[configID]
	if !ok {
		return model.PredictionRecord{}, fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}

	contest, err := e.contests.Contest(ctx, contestID)
	if err != nil {
		if errors.Is(err, features.ErrNotFound) {
			return model.PredictionRecord{}, fmt.Errorf("%w: %s", ErrUnknownContest, contestID)
		}
		return model.PredictionRecord{}, fmt.Errorf("lookup contest %s: %w", contestID, err)
	}

	fs, err := e.collector.Collect(ctx, features.RequestFromContest(contest))
	if err != nil {
		return model.PredictionRecord{}, fmt.Errorf("generate prediction for %s: %w", contestID, err)
	}

	trace, err := e.store.NextTraceID(ctx)
	if err != nil {
		return model.PredictionRecord{}, fmt.Errorf("generate prediction for %s: %w", contestID, err)
	}

	rec := model.NewDraft(model.DraftParams{
		TraceID:     trace,
		Contest:     contest,
		Config:      cfg,
		Environment: e.environment,
		Features:    fs,
		CreatedAt:   e.now().UTC(),
	})
	e.assemble(&rec, e.scorers[configID], &contest)

	rec.State = model.StatePublished
	if err := e.store.Insert(ctx, rec); err != nil {
		return model.PredictionRecord{}, fmt.Errorf("persist prediction for %s: %w", contestID, err)
	}

	metrics.RecordPredictionGenerated(configID)
	metrics.RecordGenerationLatency(float64(time.Since(start).Microseconds()) / 1000)
	e.logger.Debug(ctx, "prediction published",
		logger.String("prediction_id", rec.ID),
		logger.Int64("trace_id", rec.TraceID),
		logger.Float64("probability_a", rec.ProbabilityA),
		logger.Float64("confidence", rec.Confidence),
	)
	return rec, nil
}

// assemble fills the outputs of a Draft from its feature set.
func (e *Engine) assemble(rec *model.PredictionRecord, scorer scoring.Scorer, contest *model.Contest) {
	res := scorer.Score(rec.Features)
	rec.ProbabilityA = res.ProbabilityA
	rec.ProbabilityB = res.ProbabilityB
	rec.Contributions = res.Contributions
	rec.DominantFactor = res.Dominant

	// A 50/50 call names competitor A.
	rec.PredictedWinner = rec.CompetitorA
	if rec.ProbabilityB > rec.ProbabilityA {
		rec.PredictedWinner = rec.CompetitorB
	}

	rec.Details = e.details.Predict(detail.Input{
		ProbabilityA:  rec.ProbabilityA,
		ProbabilityB:  rec.ProbabilityB,
		BestOf:        contest.BestOf,
		MatchTiebreak: contest.MatchTiebreak,
		Features:      rec.Features,
	})
	rec.Confidence = confidence.Estimate(rec.Features, res.Contributions)
	rec.Difficulty = confidence.Difficulty(rec.ProbabilityA, rec.Confidence)
}

// EvaluatePrediction attaches outcome to the Published record id. Concurrent
// calls for the same id are serialised; exactly one succeeds and the others
// fail with evaluation.ErrRecordNotPublished.
func (e *Engine) EvaluatePrediction(ctx context.Context, id string, outcome model.RealizedOutcome) (model.PredictionRecord, error) {
	ctx = logger.WithFields(ctx, logger.String("prediction_id", id))
	if outcome.ConcludedAt.IsZero() {
		outcome.ConcludedAt = e.now().UTC()
	}
	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		metrics.RecordEvaluationError("lock")
		return model.PredictionRecord{}, fmt.Errorf("evaluate %s: %w", id, err)
	}
	defer release()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		metrics.RecordEvaluationError("load")
		return model.PredictionRecord{}, fmt.Errorf("evaluate %s: %w", id, err)
	}

	evaluated, err := evaluation.Evaluate(rec, outcome, e.now().UTC())
	if err != nil {
		metrics.RecordEvaluationError(evaluationReason(err))
		return model.PredictionRecord{}, fmt.Errorf("evaluate %s: %w", id, err)
	}

	if err := e.store.MarkEvaluated(ctx, evaluated); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			metrics.RecordEvaluationError("not_published")
			return model.PredictionRecord{}, fmt.Errorf("evaluate %s: %w", id, evaluation.ErrRecordNotPublished)
		}
		metrics.RecordEvaluationError("store")
		return model.PredictionRecord{}, fmt.Errorf("evaluate %s: %w", id, err)
	}

	ev := evaluated.Outcome
	metrics.RecordPredictionEvaluated(evaluated.ConfigID, ev.Correct)
	metrics.RecordBrierError(ev.Brier)
	if ev.Outlier {
		metrics.RecordOutlier()
		e.logger.Warn(ctx, "outlier prediction",
			logger.Float64("confidence", evaluated.Confidence),
			logger.Float64("surprise", ev.Surprise),
		)
	}
	if evaluated.RetrainEligible {
		metrics.RecordRetrainCandidate()
		if err := e.retrain.Submit(ctx, evaluated); err != nil {
			e.logger.Error(ctx, "retrain sink rejected record",
				logger.String("prediction_id", id),
				logger.Error(err),
			)
		}
	}
	return evaluated, nil
}

func evaluationReason(err error) string {
	switch {
	case errors.Is(err, evaluation.ErrRecordNotPublished):
		return "not_published"
	case errors.Is(err, evaluation.ErrInvalidOutcome):
		return "invalid_outcome"
	default:
		return "error"
	}
}

// ComputeDrift aggregates configID's evaluations of the last windowDays days.
// Non-positive windows use the engine default.
func (e *Engine) ComputeDrift(ctx context.Context, configID string, windowDays int) (drift.Snapshot, error) {
	if _, ok := e.configs[configID]; !ok {
		return drift.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownConfig, configID)
	}
	if windowDays <= 0 {
		windowDays = e.driftWindowDays
	}

	w := drift.LastDays(e.now().UTC(), windowDays)
	records, err := e.store.ListEvaluated(ctx, configID, w.From, w.To)
	if err != nil {
		return drift.Snapshot{}, fmt.Errorf("compute drift for %s: %w", configID, err)
	}

	snap := e.monitor.Compute(configID, w, records)
	metrics.RecordDriftRun(configID, string(snap.Verdict), snap.MeanAccuracy, snap.MeanBrier, snap.DriftDetected)
	return snap, nil
}

// RunDriftSweep computes drift for every configuration and notifies on
// detection. It continues past individual failures.
func (e *Engine) RunDriftSweep(ctx context.Context) ([]drift.Snapshot, error) {
	var (
		out  []drift.Snapshot
		errs []error
	)
	for _, id := range e.ConfigIDs() {
		snap, err := e.ComputeDrift(ctx, id, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, snap)

		e.logger.Info(ctx, "drift computed",
			logger.String("config_id", id),
			logger.String("verdict", string(snap.Verdict)),
			logger.Int("samples", snap.SampleCount),
		)
		if snap.DriftDetected {
			if err := e.notifier.NotifyDrift(ctx, snap); err != nil {
				errs = append(errs, fmt.Errorf("notify drift for %s: %w", id, err))
			}
		}
	}
	return out, errors.Join(errs...)
}

// AwaitingOutcome lists Published records whose contest should have been
// played by now, oldest first.
func (e *Engine) AwaitingOutcome(ctx context.Context, limit int) ([]model.PredictionRecord, error) {
	return e.store.ListAwaitingOutcome(ctx, e.now().UTC(), limit)
}

// Start launches the evaluation workers.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	e.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(e.dedupeSize))
	e.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(e.queueSize))
	e.pool = workerpool.NewPool(e.workerCount, e.queue, workerpool.HandlerFunc(e.handleQueued))
	e.pool.Start(ctx)

	e.started = true
	e.logger.Info(ctx, "engine started",
		logger.Int("workers", e.workerCount),
		logger.Int("queue_size", e.queueSize),
		logger.Int("dedupe_size", e.dedupeSize),
		logger.Int("configs", len(e.configs)),
	)
	return nil
}

// Stop drains pending conclusion events and stops the workers.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}
	e.started = false

	e.logger.Info(ctx, "stopping engine")
	if err := e.pool.Shutdown(ctx); err != nil {
		return err
	}
	e.logger.Info(ctx, "engine stopped")
	return nil
}

// SubmitConclusion queues a contest-conclusion event for evaluation.
// Redelivered event ids are accepted and dropped; the returned bool reports
// whether the event was new.
func (e *Engine) SubmitConclusion(ctx context.Context, ev model.ConclusionEvent) (bool, error) { //nolint:gocritic // hugeParam
	if ev.EventID == "" || ev.ContestID == "" || ev.Outcome.WinnerID == "" {
		return false, fmt.Errorf("%w: event %q contest %q", ErrInvalidEvent, ev.EventID, ev.ContestID)
	}
	if err := evaluation.ValidateOutcome(ev.Outcome); err != nil {
		return false, fmt.Errorf("%w: event %q: %w", ErrInvalidEvent, ev.EventID, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started {
		return false, ErrNotStarted
	}

	if e.deduper.SeenAndRecord(ctx, ev.EventID) {
		metrics.RecordConclusionDuplicate()
		e.logger.Debug(ctx, "duplicate conclusion event", logger.String("event_id", ev.EventID))
		return false, nil
	}

	if err := e.queue.Enqueue(ctx, ev); err != nil {
		e.deduper.Unrecord(ctx, ev.EventID)
		switch {
		case errors.Is(err, eventqueue.ErrFull):
			return false, ErrQueueFull
		case errors.Is(err, eventqueue.ErrClosed):
			return false, ErrNotStarted
		default:
			return false, err
		}
	}
	return true, nil
}

// HandleConclusion evaluates every Published record of the concluded
// contest. It is the worker handler for SubmitConclusion and may also be
// called directly.
func (e *Engine) HandleConclusion(ctx context.Context, ev model.ConclusionEvent) error { //nolint:gocritic // hugeParam
	ctx = logger.WithFields(ctx, logger.String("event_id", ev.EventID))
	records, err := e.store.ListByContest(ctx, ev.ContestID)
	if err != nil {
		return fmt.Errorf("handle conclusion %s: %w", ev.EventID, err)
	}
	if len(records) == 0 {
		e.logger.Debug(ctx, "conclusion for contest without predictions",
			logger.String("contest_id", ev.ContestID),
		)
		return nil
	}

	outcome := ev.Outcome
	if outcome.ConcludedAt.IsZero() {
		outcome.ConcludedAt = ev.TS
	}

	var errs []error
	for i := range records {
		if records[i].State != model.StatePublished {
			continue
		}
		_, err := e.EvaluatePrediction(ctx, records[i].ID, outcome)
		if err != nil && !errors.Is(err, evaluation.ErrRecordNotPublished) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handleQueued runs HandleConclusion for a dequeued event. A failed event is
// forgotten by the deduper so that a redelivery is evaluated again.
func (e *Engine) handleQueued(ctx context.Context, ev model.ConclusionEvent) error { //nolint:gocritic // hugeParam
	err := e.HandleConclusion(ctx, ev)
	if err != nil {
		e.deduper.Unrecord(ctx, ev.EventID)
	}
	return err
}

// GetStats reports counters for dashboards and the simulator.
func (e *Engine) GetStats(ctx context.Context) (Stats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	awaiting, err := e.AwaitingOutcome(ctx, 0)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}

	st := Stats{
		Predictions: count,
		Awaiting:    len(awaiting),
		Configs:     e.ConfigIDs(),
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	st.Started = e.started
	if e.started {
		st.QueueLen = e.queue.Len(ctx)
		st.DedupeSize = e.deduper.Size()
		st.Workers = e.pool.Size()
	}
	return st, nil
}
