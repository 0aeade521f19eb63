// Package evaluation scores a published prediction against the realized
// result of its contest.
package evaluation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/okian/rally/internal/domain/model"
)

// Scoring and flagging thresholds.
const (
	minSurpriseProbability = 0.01

	winnerCredit      = 40.0
	probabilityCredit = 30.0
	setCredit         = 15.0
	durationCredit    = 15.0

	outlierConfidence       = 80.0
	outlierStrongConfidence = 90.0
	outlierMaxComposite     = 30.0
	outlierMaxDifficulty    = 3
	outlierMinSurprise      = 5.0
	upsetSurprise           = 3.0
	retrainMinBrier         = 0.2
	coinFlipMargin          = 60.0
	lowConfidence           = 60.0
)

// Error tags attached to evaluations.
const (
	TagOverconfidentMiss = "overconfident_miss"
	TagUpset             = "upset"
	TagSetCountMiss      = "set_count_miss"
	TagDurationMiss      = "duration_miss"
	TagScoreLineMiss     = "score_line_miss"
)

// Evaluate returns a copy of rec in the Evaluated state with the realized
// outcome and derived accuracy figures attached. rec itself is not modified.
func Evaluate(rec model.PredictionRecord, outcome model.RealizedOutcome, now time.Time) (model.PredictionRecord, error) {
	if rec.State != model.StatePublished || rec.Outcome != nil {
		return model.PredictionRecord{}, fmt.Errorf("%w: record %s is %s", ErrRecordNotPublished, rec.ID, rec.State)
	}
	if err := ValidateOutcome(outcome); err != nil {
		return model.PredictionRecord{}, err
	}
	pActual, ok := rec.ProbabilityFor(outcome.WinnerID)
	if !ok {
		return model.PredictionRecord{}, fmt.Errorf("%w: winner %q did not play contest %s", ErrInvalidOutcome, outcome.WinnerID, rec.ContestID)
	}
	if outcome.SetCount == 0 {
		outcome.SetCount = SetsFromScore(outcome.Score)
	}

	p := pActual / 100
	correct := rec.PredictedWinner == outcome.WinnerID

	ev := model.Evaluation{
		RealizedOutcome: outcome,
		Correct:         correct,
		Brier:           round((p - 1) * (p - 1)),
		AbsoluteError:   round(1 - p),
		Surprise:        round(1 / math.Max(minSurpriseProbability, p)),
		EvaluatedAt:     now,
	}
	ev.Composite = round(Composite(&rec, outcome, correct))
	ev.Outlier = IsOutlier(rec.Confidence, rec.Difficulty, correct, ev.Composite, ev.Surprise)
	ev.ErrorTags = errorTags(&rec, &ev)
	ev.Insights = insights(&rec, &ev)

	out := rec
	out.Outcome = &ev
	out.State = model.StateEvaluated
	out.RetrainEligible = ev.Brier > retrainMinBrier || ev.Outlier
	return out, nil
}

// Composite is the 0..100 accuracy score: 40 for the winner, up to 30 for how
// decisive the call was (or how hedged a miss was), up to 15 for the set count
// and up to 15 for duration.
func Composite(rec *model.PredictionRecord, outcome model.RealizedOutcome, correct bool) float64 {
	extremity := (rec.DominantProbability() - 50) / 50

	score := 0.0
	if correct {
		score += winnerCredit + probabilityCredit*extremity
	} else {
		score += probabilityCredit * (1 - extremity)
	}
	score += SetCredit(rec.Details.SetCount, outcome.SetCount)
	score += DurationCredit(rec.Details.DurationMinutes, outcome.DurationMinutes)
	return math.Max(0, math.Min(100, score))
}

// SetCredit gives full credit for an exact set count and half for off-by-one.
func SetCredit(predicted, actual int) float64 {
	if predicted <= 0 || actual <= 0 {
		return 0
	}
	switch diff := predicted - actual; {
	case diff == 0:
		return setCredit
	case diff == 1 || diff == -1:
		return setCredit / 2
	default:
		return 0
	}
}

// DurationCredit bands the relative duration error at 10, 20 and 30 percent.
func DurationCredit(predicted, actual int) float64 {
	if predicted <= 0 || actual <= 0 {
		return 0
	}
	rel := math.Abs(float64(predicted-actual)) / float64(actual)
	switch {
	case rel <= 0.10:
		return durationCredit
	case rel <= 0.20:
		return 10
	case rel <= 0.30:
		return 5
	default:
		return 0
	}
}

// IsOutlier flags confident misses and easy calls that produced an upset.
func IsOutlier(confidence float64, difficulty int, correct bool, composite, surprise float64) bool {
	return (confidence >= outlierConfidence && !correct) ||
		(confidence >= outlierStrongConfidence && composite <= outlierMaxComposite) ||
		(difficulty <= outlierMaxDifficulty && surprise >= outlierMinSurprise)
}

// ValidateOutcome rejects an outcome that cannot be scored: it needs a
// winner, a score line with at least one set and a positive duration.
func ValidateOutcome(outcome model.RealizedOutcome) error { //nolint:gocritic // hugeParam
	switch {
	case outcome.WinnerID == "":
		return fmt.Errorf("%w: winner is required", ErrInvalidOutcome)
	case SetsFromScore(outcome.Score) == 0:
		return fmt.Errorf("%w: score %q has no sets", ErrInvalidOutcome, outcome.Score)
	case outcome.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration %d minutes", ErrInvalidOutcome, outcome.DurationMinutes)
	case outcome.SetCount < 0:
		return fmt.Errorf("%w: set count %d", ErrInvalidOutcome, outcome.SetCount)
	}
	return nil
}

// SetsFromScore counts the sets in a space separated score line such as
// "6-4 3-6 7-6(5)". Unparseable input yields zero.
func SetsFromScore(score string) int {
	n := 0
	for _, part := range strings.Fields(score) {
		if strings.Contains(part, "-") {
			n++
		}
	}
	return n
}

func errorTags(rec *model.PredictionRecord, ev *model.Evaluation) []string {
	var tags []string
	if !ev.Correct && rec.Confidence >= outlierConfidence {
		tags = append(tags, TagOverconfidentMiss)
	}
	if ev.Surprise >= upsetSurprise {
		tags = append(tags, TagUpset)
	}
	if ev.SetCount > 0 && rec.Details.SetCount > 0 && rec.Details.SetCount != ev.SetCount {
		tags = append(tags, TagSetCountMiss)
	}
	if ev.DurationMinutes > 0 && DurationCredit(rec.Details.DurationMinutes, ev.DurationMinutes) == 0 {
		tags = append(tags, TagDurationMiss)
	}
	if ev.Score != "" && rec.Details.ScoreLine != "" && normalizeScore(ev.Score) != rec.Details.ScoreLine {
		tags = append(tags, TagScoreLineMiss)
	}
	return tags
}

func insights(rec *model.PredictionRecord, ev *model.Evaluation) []string {
	var out []string
	switch {
	case !ev.Correct && rec.DominantFactor != model.FactorNone:
		out = append(out, fmt.Sprintf("miss driven by the %s adjustment", rec.DominantFactor))
	case !ev.Correct:
		out = append(out, "miss with no fired adjustments; baseline call")
	case rec.DominantProbability() < coinFlipMargin:
		out = append(out, "near coin-flip call landed")
	}
	if !ev.Correct && rec.Confidence < lowConfidence {
		out = append(out, "low-confidence miss within expected variance")
	}
	if ev.Correct && ev.SetCount > 0 && rec.Details.SetCount > ev.SetCount {
		out = append(out, "favourite finished faster than predicted")
	}
	return out
}

// normalizeScore drops tie-break point annotations such as "7-6(5)".
func normalizeScore(score string) string {
	parts := strings.Fields(score)
	for i, p := range parts {
		if j := strings.IndexByte(p, '('); j > 0 {
			parts[i] = p[:j]
		}
	}
	return strings.Join(parts, " ")
}

func round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
