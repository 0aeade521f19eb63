// Package storetest holds the behaviour every repository.Store must satisfy.
// Driver packages call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/model"
)

// Factory returns an empty store. Run closes it after each case.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// Published builds a valid Published record for tests.
func Published(trace int64, contestID, configID string, scheduled time.Time) model.PredictionRecord {
	fs := model.FeatureSet{}
	fs.SetNumber(model.FeatureRatingGap, 120)
	fs.SetLabel(model.FeatureSurface, "clay")
	rec := model.NewDraft(model.DraftParams{
		TraceID: trace,
		Contest: model.Contest{
			ID:          contestID,
			CompetitorA: "alcaraz",
			CompetitorB: "sinner",
			ScheduledAt: scheduled,
		},
		Config:      model.ScoringConfig{ID: configID, Version: 1},
		Environment: "test",
		Features:    fs,
		CreatedAt:   base,
	})
	rec.ProbabilityA = 60.5
	rec.ProbabilityB = 39.5
	rec.PredictedWinner = "alcaraz"
	rec.Contributions = []model.Contribution{{Factor: model.FactorRanking, Value: 10.5}}
	rec.DominantFactor = model.FactorRanking
	rec.Confidence = 70
	rec.Difficulty = 8
	rec.Details = model.Details{ScoreLine: "6-4 6-3", SetCount: 2, DurationMinutes: 90, Aces: 12}
	rec.State = model.StatePublished
	return rec
}

// Evaluated returns rec moved to Evaluated at the given time.
func Evaluated(rec model.PredictionRecord, at time.Time, correct bool) model.PredictionRecord {
	out := rec.Clone()
	out.State = model.StateEvaluated
	out.Outcome = &model.Evaluation{
		RealizedOutcome: model.RealizedOutcome{WinnerID: rec.CompetitorA, Score: "6-4 6-3", SetCount: 2, DurationMinutes: 130, ConcludedAt: at},
		Correct:         correct,
		Brier:           0.156,
		Composite:       70,
		ErrorTags:       []string{"duration_miss"},
		EvaluatedAt:     at,
	}
	return out
}

// Run exercises the Store contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	with := func(fn func(s repository.Store)) func() {
		return func() {
			s := newStore(t)
			Reset(func() { _ = s.Close() })
			fn(s)
		}
	}

	Convey("Given an empty store", t, with(func(s repository.Store) {
		Convey("Get of an unknown id returns ErrNotFound", func() {
			_, err := s.Get(ctx, "missing")
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("Count is zero", func() {
			n, err := s.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})

		Convey("NextTraceID is strictly increasing", func() {
			a, err := s.NextTraceID(ctx)
			So(err, ShouldBeNil)
			b, err := s.NextTraceID(ctx)
			So(err, ShouldBeNil)
			So(b, ShouldBeGreaterThan, a)
		})

		Convey("Insert rejects records that are not Published", func() {
			rec := Published(1, "c-1", "baseline-v1", base)
			rec.State = model.StateDraft
			So(s.Insert(ctx, rec), ShouldEqual, repository.ErrInvalidRecord)
		})
	}))

	Convey("Given a stored Published record", t, with(func(s repository.Store) {
		trace, err := s.NextTraceID(ctx)
		So(err, ShouldBeNil)
		rec := Published(trace, "c-1", "baseline-v1", base)
		So(s.Insert(ctx, rec), ShouldBeNil)

		Convey("Get returns an equal copy", func() {
			got, err := s.Get(ctx, rec.ID)
			So(err, ShouldBeNil)
			So(got.ID, ShouldEqual, rec.ID)
			So(got.TraceID, ShouldEqual, trace)
			So(got.State, ShouldEqual, model.StatePublished)
			So(got.ProbabilityA, ShouldEqual, 60.5)
			surface, _ := got.Features.Label(model.FeatureSurface)
			So(surface, ShouldEqual, "clay")
			So(got.ScheduledAt.Equal(base), ShouldBeTrue)
			So(got.Details, ShouldResemble, rec.Details)
			So(got.Outcome, ShouldBeNil)
		})

		Convey("Mutating the returned copy does not change the store", func() {
			got, _ := s.Get(ctx, rec.ID)
			got.Features.SetNumber(model.FeatureRatingGap, -1)
			again, _ := s.Get(ctx, rec.ID)
			v, _ := again.Features.Number(model.FeatureRatingGap)
			So(v, ShouldEqual, 120)
		})

		Convey("Inserting the same id again is a duplicate", func() {
			So(s.Insert(ctx, rec), ShouldEqual, repository.ErrDuplicateKey)
		})

		Convey("Inserting the same trace id again is a duplicate", func() {
			other := Published(trace, "c-2", "baseline-v1", base)
			So(s.Insert(ctx, other), ShouldEqual, repository.ErrDuplicateKey)
		})

		Convey("NextTraceID moves past the stored trace", func() {
			next, err := s.NextTraceID(ctx)
			So(err, ShouldBeNil)
			So(next, ShouldBeGreaterThan, trace)
		})

		Convey("It awaits an outcome once the scheduled time has passed", func() {
			before, err := s.ListAwaitingOutcome(ctx, base.Add(-time.Minute), 0)
			So(err, ShouldBeNil)
			So(before, ShouldBeEmpty)

			after, err := s.ListAwaitingOutcome(ctx, base.Add(time.Hour), 0)
			So(err, ShouldBeNil)
			So(after, ShouldHaveLength, 1)
			So(after[0].ID, ShouldEqual, rec.ID)
		})

		Convey("When it is marked Evaluated", func() {
			at := base.Add(3 * time.Hour)
			So(s.MarkEvaluated(ctx, Evaluated(rec, at, true)), ShouldBeNil)

			Convey("Get returns the outcome", func() {
				got, err := s.Get(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.StateEvaluated)
				So(got.Outcome, ShouldNotBeNil)
				So(got.Outcome.Correct, ShouldBeTrue)
				So(got.Outcome.ErrorTags, ShouldResemble, []string{"duration_miss"})
				So(got.Outcome.EvaluatedAt.Equal(at), ShouldBeTrue)
			})

			Convey("A second evaluation conflicts", func() {
				err := s.MarkEvaluated(ctx, Evaluated(rec, at.Add(time.Minute), false))
				So(err, ShouldEqual, repository.ErrConflict)
				got, _ := s.Get(ctx, rec.ID)
				So(got.Outcome.Correct, ShouldBeTrue)
			})

			Convey("It no longer awaits an outcome", func() {
				list, err := s.ListAwaitingOutcome(ctx, at, 0)
				So(err, ShouldBeNil)
				So(list, ShouldBeEmpty)
			})

			Convey("ListEvaluated finds it inside the window only", func() {
				in, err := s.ListEvaluated(ctx, "baseline-v1", base, at)
				So(err, ShouldBeNil)
				So(in, ShouldHaveLength, 1)

				out, err := s.ListEvaluated(ctx, "baseline-v1", at.Add(time.Second), at.Add(time.Hour))
				So(err, ShouldBeNil)
				So(out, ShouldBeEmpty)

				other, err := s.ListEvaluated(ctx, "aggressive-v2", base, at)
				So(err, ShouldBeNil)
				So(other, ShouldBeEmpty)
			})
		})

		Convey("MarkEvaluated of an unknown id returns ErrNotFound", func() {
			ghost := Published(999, "c-9", "baseline-v1", base)
			So(s.MarkEvaluated(ctx, Evaluated(ghost, base, true)), ShouldEqual, repository.ErrNotFound)
		})

		Convey("MarkEvaluated rejects a record without an outcome", func() {
			bad := rec.Clone()
			bad.State = model.StateEvaluated
			So(s.MarkEvaluated(ctx, bad), ShouldEqual, repository.ErrInvalidRecord)
		})
	}))

	Convey("Given several records", t, with(func(s repository.Store) {
		for i := 0; i < 3; i++ {
			trace, err := s.NextTraceID(ctx)
			So(err, ShouldBeNil)
			sched := base.Add(time.Duration(2-i) * time.Hour)
			So(s.Insert(ctx, Published(trace, "c-1", "baseline-v1", sched)), ShouldBeNil)
		}
		trace, _ := s.NextTraceID(ctx)
		So(s.Insert(ctx, Published(trace, "c-2", "baseline-v1", base)), ShouldBeNil)

		Convey("ListByContest returns one contest in trace order", func() {
			list, err := s.ListByContest(ctx, "c-1")
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 3)
			So(list[0].TraceID, ShouldBeLessThan, list[1].TraceID)
			So(list[1].TraceID, ShouldBeLessThan, list[2].TraceID)
		})

		Convey("ListAwaitingOutcome is oldest first and honours the limit", func() {
			list, err := s.ListAwaitingOutcome(ctx, base.Add(5*time.Hour), 0)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 4)
			for i := 1; i < len(list); i++ {
				So(list[i-1].ScheduledAt.After(list[i].ScheduledAt), ShouldBeFalse)
			}

			limited, err := s.ListAwaitingOutcome(ctx, base.Add(5*time.Hour), 2)
			So(err, ShouldBeNil)
			So(limited, ShouldHaveLength, 2)
		})

		Convey("Count reflects every insert", func() {
			n, err := s.Count(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 4)
		})
	}))

	Convey("Given concurrent evaluators of one record", t, with(func(s repository.Store) {
		trace, _ := s.NextTraceID(ctx)
		rec := Published(trace, "c-1", "baseline-v1", base)
		So(s.Insert(ctx, rec), ShouldBeNil)

		const racers = 8
		var wins, conflicts, others atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := s.MarkEvaluated(ctx, Evaluated(rec, base.Add(time.Duration(i)*time.Minute), true))
				switch err {
				case nil:
					wins.Add(1)
				case repository.ErrConflict:
					conflicts.Add(1)
				default:
					others.Add(1)
				}
			}(i)
		}
		wg.Wait()

		So(wins.Load(), ShouldEqual, 1)
		So(conflicts.Load(), ShouldEqual, racers-1)
		So(others.Load(), ShouldEqual, 0)
	}))
}
