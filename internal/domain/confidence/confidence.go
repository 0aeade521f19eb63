// Package confidence estimates how much the engine trusts its own probability
// and how hard a call is.
package confidence

import (
	"math"

	"github.com/okian/rally/internal/domain/model"
)

// Estimator constants.
const (
	baseScore         = 50.0
	perFeature        = 2.0
	featureCap        = 30.0
	perMeeting        = 3.0
	meetingCap        = 15.0
	ratingGapDivisor  = 40.0
	ratingGapCap      = 10.0
	coherenceBonus    = 10.0
	coherenceMinMean  = 70.0
	minScore          = 30.0
	maxScore          = 95.0
	minDifficulty     = 1
	maxDifficulty     = 10
	difficultyStep    = 5.0
	lowConfidenceMark = 60.0
)

// Estimate returns a confidence score in [30, 95].
//
// It starts at 50 and adds 2 points per present feature (capped at 30), 3 points
// per prior head-to-head meeting (capped at 15), one point per 40 rating
// points of gap (capped at 10), and a 10 point bonus when the fired
// adjustments average more than 70 in magnitude.
func Estimate(fs model.FeatureSet, contributions []model.Contribution) float64 {
	score := baseScore
	score += math.Min(featureCap, perFeature*float64(fs.Len()))

	if meetings, ok := fs.Number(model.FeatureH2HMeetings); ok && meetings > 0 {
		score += math.Min(meetingCap, perMeeting*meetings)
	}
	if gap, ok := fs.Number(model.FeatureRatingGap); ok {
		score += math.Min(ratingGapCap, math.Abs(gap)/ratingGapDivisor)
	}
	if meanMagnitude(contributions) > coherenceMinMean {
		score += coherenceBonus
	}

	return math.Max(minScore, math.Min(maxScore, score))
}

// Difficulty rates a call from 1 (obvious) to 10 (coin flip). Each 5 points
// of skew away from an even split make the call one step easier; a confidence
// below 60 makes it one step harder.
func Difficulty(probabilityA, confidence float64) int {
	dominant := math.Max(probabilityA, 100-probabilityA)
	d := int(math.Round(maxDifficulty - (dominant-50)/difficultyStep))
	if confidence < lowConfidenceMark {
		d++
	}
	if d < minDifficulty {
		return minDifficulty
	}
	if d > maxDifficulty {
		return maxDifficulty
	}
	return d
}

func meanMagnitude(cs []model.Contribution) float64 {
	if len(cs) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range cs {
		sum += math.Abs(c.Value)
	}
	return sum / float64(len(cs))
}
