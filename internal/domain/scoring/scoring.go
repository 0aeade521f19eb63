// Package scoring turns a feature set into a win-probability pair using an
// additive weighted-factor model.
package scoring

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/okian/rally/internal/domain/model"
)

// Baseline and rounding constants.
const (
	baselineScore     = 50.0
	probabilityTotal  = 100
	probabilityDigits = 2
	evenWinPct        = 50.0
	evenSurfaceRatio  = 0.5
)

// Option applies a configuration option to the WeightedScorer.
type Option func(*WeightedScorer)

// WithWeights replaces the default weight set. Non-positive scale or an
// empty probability band are ignored.
func WithWeights(w model.Weights) Option {
	return func(s *WeightedScorer) {
		if w.RatingScale <= 0 || w.MinProbability >= w.MaxProbability {
			return
		}
		s.weights = w
	}
}

// DefaultWeights returns the baseline weight set.
func DefaultWeights() model.Weights {
	return model.Weights{
		RatingWeight:   35,
		RatingScale:    400,
		H2HWeight:      0.25,
		SurfaceWeight:  20,
		FormWeight:     15,
		ContextWeight:  2,
		MinProbability: 5,
		MaxProbability: 95,
	}
}

// Result is the scorer output.
type Result struct {
	ProbabilityA float64
	ProbabilityB float64
	// Contributions lists only the adjustments that fired, in evaluation order.
	Contributions []model.Contribution
	Dominant      model.Factor
}

// Scorer converts features into probabilities.
type Scorer interface {
	Score(fs model.FeatureSet) Result
}

// WeightedScorer implements Scorer. It is stateless after construction and
// safe for concurrent use.
type WeightedScorer struct {
	weights model.Weights
}

// NewWeightedScorer creates a scorer with configuration options.
func NewWeightedScorer(opts ...Option) *WeightedScorer {
	s := &WeightedScorer{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Weights returns the active weight set.
func (s *WeightedScorer) Weights() model.Weights { return s.weights }

// Score applies every adjustment whose inputs are present.
func (s *WeightedScorer) Score(fs model.FeatureSet) Result {
	w := s.weights
	var contributions []model.Contribution
	add := func(f model.Factor, v float64) {
		contributions = append(contributions, model.Contribution{Factor: f, Value: round(v)})
	}

	if gap, ok := fs.Number(model.FeatureRatingGap); ok {
		add(model.FactorRanking, gap/w.RatingScale*w.RatingWeight)
	}
	if pct, ok := fs.Number(model.FeatureH2HWinPctA); ok {
		add(model.FactorHeadToHead, (pct-evenWinPct)*w.H2HWeight)
	}
	if total, ok := fs.Number(model.FeatureSurfaceMeets); ok && total >= 1 {
		if wins, ok := fs.Number(model.FeatureSurfaceWinsA); ok {
			add(model.FactorSurface, (wins/total-evenSurfaceRatio)*w.SurfaceWeight)
		}
	}
	formA, okA := fs.Number(model.FeatureFormA)
	formB, okB := fs.Number(model.FeatureFormB)
	if okA && okB {
		add(model.FactorForm, (formA-formB)*w.FormWeight)
	}
	if tier, ok := fs.Number(model.FeatureImportance); ok {
		add(model.FactorContext, (tier-1)*w.ContextWeight)
	}

	score := baselineScore
	for _, c := range contributions {
		score += c.Value
	}
	score = math.Max(w.MinProbability, math.Min(w.MaxProbability, score))

	pA := decimal.NewFromFloat(score).Round(probabilityDigits)
	pB := decimal.NewFromInt(probabilityTotal).Sub(pA)

	return Result{
		ProbabilityA:  pA.InexactFloat64(),
		ProbabilityB:  pB.InexactFloat64(),
		Contributions: contributions,
		Dominant:      Dominant(contributions),
	}
}

// Dominant returns the factor with the largest absolute contribution.
// Ties keep the earlier factor.
func Dominant(contributions []model.Contribution) model.Factor {
	best := model.FactorNone
	bestAbs := 0.0
	for _, c := range contributions {
		if a := math.Abs(c.Value); a > bestAbs {
			best, bestAbs = c.Factor, a
		}
	}
	return best
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
