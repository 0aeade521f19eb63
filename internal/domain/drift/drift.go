// Package drift aggregates evaluated predictions for one scoring configuration
// and flags systemic accuracy degradation.
package drift

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/okian/rally/internal/domain/model"
)

// Verdict summarises a snapshot.
type Verdict string

// Verdicts.
const (
	VerdictInsufficientData Verdict = "insufficient_data"
	VerdictHealthy          Verdict = "healthy"
	VerdictDrift            Verdict = "drift"
)

// Default thresholds.
const (
	DefaultMinSamples  = 10
	DefaultMinAccuracy = 0.6
	DefaultMaxBrier    = 0.3
)

// Window is a closed interval of evaluation times.
type Window struct {
	From time.Time
	To   time.Time
}

// LastDays returns the window of days days ending at now.
func LastDays(now time.Time, days int) Window {
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// Snapshot is a computed, never persisted, aggregate.
type Snapshot struct {
	ConfigID      string
	Window        Window
	SampleCount   int
	MeanAccuracy  float64
	MeanBrier     float64
	BrierStdDev   float64
	MeanComposite float64
	MeanSurprise  float64
	OutlierRate   float64
	Verdict       Verdict
	DriftDetected bool
}

// Sufficient reports whether the snapshot carries a verdict.
func (s Snapshot) Sufficient() bool { return s.Verdict != VerdictInsufficientData }

// Option applies a configuration option to the Monitor.
type Option func(*Monitor)

// WithMinSamples sets the sample size below which no verdict is given.
func WithMinSamples(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.minSamples = n
		}
	}
}

// WithMinAccuracy sets the correctness rate under which drift is flagged.
func WithMinAccuracy(v float64) Option {
	return func(m *Monitor) {
		if v > 0 && v <= 1 {
			m.minAccuracy = v
		}
	}
}

// WithMaxBrier sets the mean probabilistic error above which drift is flagged.
func WithMaxBrier(v float64) Option {
	return func(m *Monitor) {
		if v > 0 && v <= 1 {
			m.maxBrier = v
		}
	}
}

// Monitor computes drift snapshots. It holds no state between calls.
type Monitor struct {
	minSamples  int
	minAccuracy float64
	maxBrier    float64
}

// NewMonitor creates a monitor with configuration options.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		minSamples:  DefaultMinSamples,
		minAccuracy: DefaultMinAccuracy,
		maxBrier:    DefaultMaxBrier,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compute aggregates the Evaluated records of configID evaluated inside w.
// Records of other configurations, other states or outside the window are
// ignored, so callers may pass a superset.
func (m *Monitor) Compute(configID string, w Window, records []model.PredictionRecord) Snapshot {
	var correct, brier, composite, surprise []float64
	outliers := 0
	for i := range records {
		r := &records[i]
		if r.ConfigID != configID || r.State != model.StateEvaluated || r.Outcome == nil {
			continue
		}
		if !w.Contains(r.Outcome.EvaluatedAt) {
			continue
		}
		c := 0.0
		if r.Outcome.Correct {
			c = 1
		}
		correct = append(correct, c)
		brier = append(brier, r.Outcome.Brier)
		composite = append(composite, r.Outcome.Composite)
		surprise = append(surprise, r.Outcome.Surprise)
		if r.Outcome.Outlier {
			outliers++
		}
	}

	snap := Snapshot{ConfigID: configID, Window: w, SampleCount: len(correct)}
	if snap.SampleCount < m.minSamples {
		snap.Verdict = VerdictInsufficientData
		return snap
	}

	snap.MeanAccuracy = stat.Mean(correct, nil)
	snap.MeanBrier = stat.Mean(brier, nil)
	snap.BrierStdDev = stat.StdDev(brier, nil)
	snap.MeanComposite = stat.Mean(composite, nil)
	snap.MeanSurprise = stat.Mean(surprise, nil)
	snap.OutlierRate = float64(outliers) / float64(snap.SampleCount)

	snap.DriftDetected = snap.MeanAccuracy < m.minAccuracy || snap.MeanBrier > m.maxBrier
	snap.Verdict = VerdictHealthy
	if snap.DriftDetected {
		snap.Verdict = VerdictDrift
	}
	return snap
}
