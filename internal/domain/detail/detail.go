// Package detail derives secondary predictions (sets, score line, duration,
// aces, tie-breaks) from the probability skew.
package detail

import (
	"math"
	"strings"

	"github.com/okian/rally/internal/domain/model"
)

// Heuristic constants.
const (
	defaultBestOf        = 3
	defaultMinutesPerSet = 45
	closeMargin          = 10.0
	shortFormatDominance = 80.0
	fastDominance        = 75.0
	tieBreakCeiling      = 65.0
	doubleTieBreakMark   = 55.0
	fastMultiplier       = 0.8
	closeMultiplier      = 1.2
)

// Input is everything the predictor looks at.
type Input struct {
	ProbabilityA  float64
	ProbabilityB  float64
	BestOf        int
	MatchTiebreak bool
	Features      model.FeatureSet
}

// Predictor produces the secondary bundle. Implementations may sample from a
// distribution; the heuristic one returns point estimates.
type Predictor interface {
	Predict(in Input) model.Details
}

// Option applies a configuration option to the Heuristic predictor.
type Option func(*Heuristic)

// WithMinutesPerSet overrides the base set length.
func WithMinutesPerSet(minutes int) Option {
	return func(h *Heuristic) {
		if minutes > 0 {
			h.minutesPerSet = minutes
		}
	}
}

// Heuristic is the fixed-rule Predictor.
type Heuristic struct {
	minutesPerSet int
}

// NewHeuristic creates a heuristic predictor.
func NewHeuristic(opts ...Option) *Heuristic {
	h := &Heuristic{minutesPerSet: defaultMinutesPerSet}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Predict implements Predictor.
func (h *Heuristic) Predict(in Input) model.Details {
	dominant := math.Max(in.ProbabilityA, in.ProbabilityB)
	tight := dominant-50 <= closeMargin

	sets := SetCount(in.BestOf, dominant, in.MatchTiebreak)

	multiplier := 1.0
	switch {
	case dominant > fastDominance:
		multiplier = fastMultiplier
	case tight:
		multiplier = closeMultiplier
	}
	duration := int(math.Round(float64(sets*h.minutesPerSet) * multiplier))

	tieBreaks := 0
	if dominant < tieBreakCeiling {
		tieBreaks = 1
		if dominant <= doubleTieBreakMark && sets > 1 {
			tieBreaks = 2
		}
	}

	aces := 0.0
	if v, ok := in.Features.Number(model.FeatureAcesA); ok {
		aces += v
	}
	if v, ok := in.Features.Number(model.FeatureAcesB); ok {
		aces += v
	}

	return model.Details{
		ScoreLine:       ScoreLine(normalizeBestOf(in.BestOf), sets, tieBreaks, dominant > fastDominance),
		SetCount:        sets,
		DurationMinutes: duration,
		Aces:            int(math.Round(aces)),
		TieBreaks:       tieBreaks,
	}
}

// SetCount picks the number of sets for a best-of-N format. Close contests go
// the distance; lopsided ones in match-tiebreak formats finish in the minimum;
// everything else lands on the midpoint.
func SetCount(bestOf int, dominant float64, matchTiebreak bool) int {
	n := normalizeBestOf(bestOf)
	minSets := n/2 + 1
	switch {
	case dominant-50 <= closeMargin:
		return n
	case dominant > shortFormatDominance && matchTiebreak:
		return minSets
	default:
		return (minSets + n) / 2
	}
}

// ScoreLine renders a winner-perspective score line with the given number
// of sets and tie-break sets. The loser's sets are interleaved from the second
// set on and the winner always takes the last set.
func ScoreLine(bestOf, sets, tieBreaks int, lopsided bool) string {
	winnerSets := bestOf/2 + 1
	loserSets := sets - winnerSets
	if loserSets < 0 {
		loserSets = 0
	}

	won, lost := "6-4", "4-6"
	if lopsided {
		won = "6-2"
	}

	parts := make([]string, 0, sets)
	lostSoFar := 0
	for i := 0; i < sets; i++ {
		last := i == sets-1
		loserTakes := !last && lostSoFar < loserSets && (i%2 == 1 || sets-i-1 <= loserSets-lostSoFar)
		tb := i < tieBreaks
		switch {
		case loserTakes && tb:
			parts = append(parts, "6-7")
		case loserTakes:
			parts = append(parts, lost)
		case tb:
			parts = append(parts, "7-6")
		default:
			parts = append(parts, won)
		}
		if loserTakes {
			lostSoFar++
		}
	}
	return strings.Join(parts, " ")
}

func normalizeBestOf(n int) int {
	if n == 3 || n == 5 || n == 1 {
		return n
	}
	return defaultBestOf
}
