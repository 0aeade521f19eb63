package model

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a prediction record.
type State string

// Record states. Evaluated is terminal.
const (
	StateDraft     State = "draft"
	StatePublished State = "published"
	StateEvaluated State = "evaluated"
)

// Factor names one additive adjustment of the outcome scorer.
type Factor string

// Scorer factors.
const (
	FactorNone       Factor = ""
	FactorRanking    Factor = "ranking"
	FactorHeadToHead Factor = "head_to_head"
	FactorSurface    Factor = "surface"
	FactorForm       Factor = "form"
	FactorContext    Factor = "context"
)

// probabilityTotal is what ProbabilityA and ProbabilityB must sum to.
const probabilityTotal = 100

// Contribution is the signed magnitude one factor added to competitor A's score.
type Contribution struct {
	Factor Factor  `json:"factor"`
	Value  float64 `json:"value"`
}

// Details is the secondary prediction bundle.
type Details struct {
	ScoreLine       string `json:"score_line"`
	SetCount        int    `json:"set_count"`
	DurationMinutes int    `json:"duration_minutes"`
	Aces            int    `json:"aces"`
	TieBreaks       int    `json:"tie_breaks"`
}

// Evaluation is the realized outcome attached to a record together with
// the accuracy figures derived from it. It is set exactly once.
type Evaluation struct {
	RealizedOutcome
	Correct       bool      `json:"correct"`
	Brier         float64   `json:"brier"`
	AbsoluteError float64   `json:"absolute_error"`
	Surprise      float64   `json:"surprise"`
	Composite     float64   `json:"composite"`
	Outlier       bool      `json:"outlier"`
	ErrorTags     []string  `json:"error_tags,omitempty"`
	Insights      []string  `json:"insights,omitempty"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

// Weights parameterise the outcome scorer.
type Weights struct {
	RatingWeight   float64 `json:"rating_weight"`
	RatingScale    float64 `json:"rating_scale"`
	H2HWeight      float64 `json:"h2h_weight"`
	SurfaceWeight  float64 `json:"surface_weight"`
	FormWeight     float64 `json:"form_weight"`
	ContextWeight  float64 `json:"context_weight"`
	MinProbability float64 `json:"min_probability"`
	MaxProbability float64 `json:"max_probability"`
}

// ScoringConfig is a named, versioned weight set.
type ScoringConfig struct {
	ID      string
	Version int
	Weights Weights
}

// PredictionRecord is the persisted unit of work.
type PredictionRecord struct {
	ID            string    `json:"id"`
	TraceID       int64     `json:"trace_id"`
	ContestID     string    `json:"contest_id"`
	ConfigID      string    `json:"config_id"`
	ConfigVersion int       `json:"config_version"`
	Environment   string    `json:"environment"`
	CompetitorA   string    `json:"competitor_a"`
	CompetitorB   string    `json:"competitor_b"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	CreatedAt     time.Time `json:"created_at"`

	Features FeatureSet `json:"features"`

	ProbabilityA    float64        `json:"probability_a"`
	ProbabilityB    float64        `json:"probability_b"`
	PredictedWinner string         `json:"predicted_winner"`
	Contributions   []Contribution `json:"contributions"`
	DominantFactor  Factor         `json:"dominant_factor"`
	Confidence      float64        `json:"confidence"`
	Difficulty      int            `json:"difficulty"`
	Details         Details        `json:"details"`

	Outcome         *Evaluation `json:"outcome,omitempty"`
	RetrainEligible bool        `json:"retrain_eligible"`
	State           State       `json:"state"`
}

// DraftParams carries identity and context for a new record.
type DraftParams struct {
	TraceID     int64
	Contest     Contest
	Config      ScoringConfig
	Environment string
	Features    FeatureSet
	CreatedAt   time.Time
}

// NewDraft builds a Draft record with a fresh id and a private copy of the features.
func NewDraft(p DraftParams) PredictionRecord {
	return PredictionRecord{
		ID:            uuid.NewString(),
		TraceID:       p.TraceID,
		ContestID:     p.Contest.ID,
		ConfigID:      p.Config.ID,
		ConfigVersion: p.Config.Version,
		Environment:   p.Environment,
		CompetitorA:   p.Contest.CompetitorA,
		CompetitorB:   p.Contest.CompetitorB,
		ScheduledAt:   p.Contest.ScheduledAt,
		CreatedAt:     p.CreatedAt,
		Features:      p.Features.Clone(),
		State:         StateDraft,
	}
}

// ProbabilityFor returns the probability the record assigned to competitor id.
func (r *PredictionRecord) ProbabilityFor(id string) (float64, bool) {
	switch id {
	case r.CompetitorA:
		return r.ProbabilityA, true
	case r.CompetitorB:
		return r.ProbabilityB, true
	}
	return 0, false
}

// DominantProbability is the larger of the two probabilities.
func (r *PredictionRecord) DominantProbability() float64 {
	if r.ProbabilityA >= r.ProbabilityB {
		return r.ProbabilityA
	}
	return r.ProbabilityB
}

// AwaitingOutcome reports whether the record is Published and its contest
// should already have been played at now.
func (r *PredictionRecord) AwaitingOutcome(now time.Time) bool {
	return r.State == StatePublished && !r.ScheduledAt.IsZero() && !now.Before(r.ScheduledAt)
}

// ProbabilitiesBalanced reports whether A and B sum to 100 within tolerance.
func (r *PredictionRecord) ProbabilitiesBalanced(tolerance float64) bool {
	d := r.ProbabilityA + r.ProbabilityB - probabilityTotal
	return d <= tolerance && d >= -tolerance
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r *PredictionRecord) Clone() PredictionRecord {
	out := *r
	out.Features = r.Features.Clone()
	if r.Contributions != nil {
		out.Contributions = append([]Contribution(nil), r.Contributions...)
	}
	if r.Outcome != nil {
		ev := *r.Outcome
		if ev.ErrorTags != nil {
			ev.ErrorTags = append([]string(nil), ev.ErrorTags...)
		}
		if ev.Insights != nil {
			ev.Insights = append([]string(nil), ev.Insights...)
		}
		out.Outcome = &ev
	}
	return out
}
