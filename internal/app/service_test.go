package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rally/internal/adapters/provider"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/adapters/repository/storetest"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/internal/domain/evaluation"
	"github.com/okian/rally/internal/domain/features"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var clock = time.Date(2026, 6, 8, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

// fixture is a provider populated with a handful of contests.
func fixture() *provider.Static {
	p := provider.New()
	p.PutCompetitor(model.CompetitorProfile{ID: "alcaraz", Rating: ptr(2150.0), Form: ptr(0.8), AcesPerMatch: ptr(7.5)})
	p.PutCompetitor(model.CompetitorProfile{ID: "sinner", Rating: ptr(2190.0), Form: ptr(0.85), AcesPerMatch: ptr(8.0)})
	p.PutCompetitor(model.CompetitorProfile{ID: "giant", Rating: ptr(2600.0)})
	p.PutCompetitor(model.CompetitorProfile{ID: "minnow", Rating: ptr(1800.0)})
	p.PutCompetitor(model.CompetitorProfile{ID: "blank-a"})
	p.PutCompetitor(model.CompetitorProfile{ID: "blank-b"})
	p.PutCompetitor(model.CompetitorProfile{ID: "clay-a"})
	p.PutCompetitor(model.CompetitorProfile{ID: "clay-b"})
	p.PutHeadToHead("alcaraz", "sinner", model.HeadToHead{
		Meetings: 10, WinsA: 6,
		SurfaceMeetings: map[string]int{"clay": 4},
		SurfaceWinsA:    map[string]int{"clay": 3},
	})
	p.PutHeadToHead("clay-a", "clay-b", model.HeadToHead{
		SurfaceMeetings: map[string]int{"clay": 10},
		SurfaceWinsA:    map[string]int{"clay": 8},
	})

	p.PutContest(model.Contest{
		ID: "rg-final", CompetitorA: "alcaraz", CompetitorB: "sinner",
		Surface: "clay", ScheduledAt: clock.Add(-20 * time.Hour), ImportanceTier: 4, BestOf: 5,
	})
	p.PutContest(model.Contest{ID: "mismatch", CompetitorA: "giant", CompetitorB: "minnow"})
	p.PutContest(model.Contest{ID: "empty", CompetitorA: "blank-a", CompetitorB: "blank-b"})
	p.PutContest(model.Contest{ID: "clay-only", CompetitorA: "clay-a", CompetitorB: "clay-b", Surface: "clay"})
	p.PutContest(model.Contest{ID: "phantom", CompetitorA: "alcaraz", CompetitorB: "ghost"})
	p.PutContest(model.Contest{
		ID: "next-week", CompetitorA: "sinner", CompetitorB: "alcaraz",
		ScheduledAt: clock.Add(7 * 24 * time.Hour), BestOf: 3,
	})
	return p
}

func newEngine(p *provider.Static, opts ...service.Option) *service.Engine {
	collector := features.NewCollector(p, features.WithHeadToHead(p), features.WithWeather(p))
	base := []service.Option{
		service.WithClock(func() time.Time { return clock }),
		service.WithEnvironment("test"),
	}
	return service.New(p, collector, append(base, opts...)...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	snaps []drift.Snapshot
}

func (n *recordingNotifier) NotifyDrift(_ context.Context, s drift.Snapshot) error { //nolint:gocritic // hugeParam
	n.mu.Lock()
	defer n.mu.Unlock()
	n.snaps = append(n.snaps, s)
	return nil
}

type recordingSink struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSink) Submit(_ context.Context, rec model.PredictionRecord) error { //nolint:gocritic // hugeParam
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, rec.ID)
	return nil
}

func TestEngine_New(t *testing.T) {
	Convey("Given a new engine with default options", t, func() {
		e := newEngine(fixture())

		Convey("Then it registers the baseline configuration", func() {
			So(e.ConfigIDs(), ShouldResemble, []string{config.DefaultScoringConfigID})
		})
	})

	Convey("Given a new engine with custom configurations", t, func() {
		aggressive := config.DefaultWeights()
		aggressive.Version = 2
		aggressive.RatingWeight = 50
		e := newEngine(fixture(), service.WithScoringConfigs(
			service.ScoringConfig("baseline-v1", config.DefaultWeights()),
			service.ScoringConfig("aggressive-v2", aggressive),
		))

		Convey("Then every configuration is listed in id order", func() {
			So(e.ConfigIDs(), ShouldResemble, []string{"aggressive-v2", "baseline-v1"})
		})
	})
}

func TestEngine_GeneratePrediction(t *testing.T) {
	ctx := context.Background()

	Convey("Given an engine over a populated provider", t, func() {
		store := repository.NewMemoryStore()
		e := newEngine(fixture(), service.WithStore(store))

		Convey("When predicting a final with full data", func() {
			rec, err := e.GeneratePrediction(ctx, "rg-final", config.DefaultScoringConfigID)
			So(err, ShouldBeNil)

			Convey("Then the record is Published and persisted", func() {
				So(rec.State, ShouldEqual, model.StatePublished)
				So(rec.Environment, ShouldEqual, "test")
				So(rec.CreatedAt.Equal(clock), ShouldBeTrue)
				got, err := store.Get(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(got.TraceID, ShouldEqual, rec.TraceID)
			})

			Convey("Then the probabilities sum to 100 inside the clamp band", func() {
				So(rec.ProbabilitiesBalanced(1e-9), ShouldBeTrue)
				So(rec.ProbabilityA, ShouldBeBetweenOrEqual, 5, 95)
				So(rec.ProbabilityB, ShouldBeBetweenOrEqual, 5, 95)
			})

			Convey("Then confidence and difficulty are in range", func() {
				So(rec.Confidence, ShouldBeBetweenOrEqual, 30, 95)
				So(rec.Difficulty, ShouldBeBetweenOrEqual, 1, 10)
			})

			Convey("Then the predicted winner is the likelier competitor", func() {
				if rec.ProbabilityA >= rec.ProbabilityB {
					So(rec.PredictedWinner, ShouldEqual, "alcaraz")
				} else {
					So(rec.PredictedWinner, ShouldEqual, "sinner")
				}
			})

			Convey("Then details follow the five-set format", func() {
				So(rec.Details.SetCount, ShouldBeBetweenOrEqual, 3, 5)
				So(rec.Details.ScoreLine, ShouldNotBeEmpty)
				So(rec.Details.Aces, ShouldEqual, 16)
			})

			Convey("Then the same contest predicts identically again", func() {
				again, err := e.GeneratePrediction(ctx, "rg-final", config.DefaultScoringConfigID)
				So(err, ShouldBeNil)
				So(again.ID, ShouldNotEqual, rec.ID)
				So(again.TraceID, ShouldBeGreaterThan, rec.TraceID)
				So(again.ProbabilityA, ShouldEqual, rec.ProbabilityA)
				So(again.Confidence, ShouldEqual, rec.Confidence)
				So(again.Details, ShouldResemble, rec.Details)
			})
		})

		Convey("When the rating gap is overwhelming", func() {
			rec, err := e.GeneratePrediction(ctx, "mismatch", config.DefaultScoringConfigID)
			So(err, ShouldBeNil)

			Convey("Then probability A is clamped at 95", func() {
				So(rec.ProbabilityA, ShouldEqual, 95)
				So(rec.ProbabilityB, ShouldEqual, 5)
				So(rec.PredictedWinner, ShouldEqual, "giant")
				So(rec.DominantFactor, ShouldEqual, model.FactorRanking)
			})

			Convey("Then the rating gap earns the full confidence bonus", func() {
				So(rec.Confidence, ShouldBeGreaterThanOrEqualTo, 60)
				So(rec.Confidence, ShouldBeLessThanOrEqualTo, 95)
			})
		})

		Convey("When no features are available at all", func() {
			rec, err := e.GeneratePrediction(ctx, "empty", config.DefaultScoringConfigID)
			So(err, ShouldBeNil)

			Convey("Then the baseline is returned", func() {
				So(rec.Features.Len(), ShouldEqual, 0)
				So(rec.ProbabilityA, ShouldEqual, 50)
				So(rec.ProbabilityB, ShouldEqual, 50)
				So(rec.Confidence, ShouldEqual, 50)
				So(rec.PredictedWinner, ShouldEqual, "blank-a")
				So(rec.Difficulty, ShouldEqual, 10)
			})
		})

		Convey("When only the surface record is known", func() {
			rec, err := e.GeneratePrediction(ctx, "clay-only", config.DefaultScoringConfigID)
			So(err, ShouldBeNil)

			Convey("Then the surface adjustment moves A to 56", func() {
				So(rec.Contributions, ShouldResemble, []model.Contribution{{Factor: model.FactorSurface, Value: 6}})
				So(rec.ProbabilityA, ShouldEqual, 56)
				So(rec.ProbabilityB, ShouldEqual, 44)
			})
		})

		Convey("When the configuration is unknown", func() {
			_, err := e.GeneratePrediction(ctx, "rg-final", "nope")
			So(errors.Is(err, service.ErrUnknownConfig), ShouldBeTrue)
		})

		Convey("When the contest is unknown", func() {
			_, err := e.GeneratePrediction(ctx, "nope", config.DefaultScoringConfigID)
			So(errors.Is(err, service.ErrUnknownContest), ShouldBeTrue)
		})

		Convey("When a competitor is unknown", func() {
			_, err := e.GeneratePrediction(ctx, "phantom", config.DefaultScoringConfigID)

			Convey("Then nothing is persisted", func() {
				So(errors.Is(err, features.ErrUnknownCompetitor), ShouldBeTrue)
				n, _ := store.Count(ctx)
				So(n, ShouldEqual, 0)
			})
		})
	})
}

// played is a complete straight-sets result won by winner.
func played(winner string) model.RealizedOutcome {
	return model.RealizedOutcome{WinnerID: winner, Score: "6-4 6-4", DurationMinutes: 90}
}

func TestEngine_EvaluatePrediction(t *testing.T) {
	ctx := context.Background()

	Convey("Given a published prediction", t, func() {
		sink := &recordingSink{}
		store := repository.NewMemoryStore()
		e := newEngine(fixture(), service.WithStore(store), service.WithRetrainSink(sink))
		rec, err := e.GeneratePrediction(ctx, "mismatch", config.DefaultScoringConfigID)
		So(err, ShouldBeNil)

		Convey("When the favourite wins", func() {
			got, err := e.EvaluatePrediction(ctx, rec.ID, model.RealizedOutcome{WinnerID: "giant", Score: "6-1 6-2", DurationMinutes: 64})
			So(err, ShouldBeNil)

			Convey("Then the record is Evaluated and correct", func() {
				So(got.State, ShouldEqual, model.StateEvaluated)
				So(got.Outcome.Correct, ShouldBeTrue)
				So(got.Outcome.Brier, ShouldAlmostEqual, 0.0025, 1e-9)
				So(got.Outcome.EvaluatedAt.Equal(clock), ShouldBeTrue)
				So(got.Outcome.SetCount, ShouldEqual, 2)
				So(got.Outcome.ConcludedAt.Equal(clock), ShouldBeTrue)
				So(got.RetrainEligible, ShouldBeFalse)
				So(sink.ids, ShouldBeEmpty)
			})

			Convey("Then a second evaluation is rejected", func() {
				_, err := e.EvaluatePrediction(ctx, rec.ID, played("minnow"))
				So(errors.Is(err, evaluation.ErrRecordNotPublished), ShouldBeTrue)
			})

			Convey("Then it no longer awaits an outcome", func() {
				list, err := e.AwaitingOutcome(ctx, 0)
				So(err, ShouldBeNil)
				So(list, ShouldBeEmpty)
			})
		})

		Convey("When the heavy favourite loses", func() {
			got, err := e.EvaluatePrediction(ctx, rec.ID, played("minnow"))
			So(err, ShouldBeNil)

			Convey("Then the miss is scored against the winner's probability", func() {
				So(got.Outcome.Correct, ShouldBeFalse)
				So(got.Outcome.Brier, ShouldAlmostEqual, 0.9025, 1e-9)
			})

			Convey("Then the record goes to the retrain sink", func() {
				So(got.RetrainEligible, ShouldBeTrue)
				So(sink.ids, ShouldResemble, []string{rec.ID})
			})
		})

		Convey("When the winner did not play", func() {
			_, err := e.EvaluatePrediction(ctx, rec.ID, played("alcaraz"))

			Convey("Then the outcome is invalid and the record stays Published", func() {
				So(errors.Is(err, evaluation.ErrInvalidOutcome), ShouldBeTrue)
				got, err := store.Get(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.StatePublished)
			})
		})

		Convey("When the outcome has a concluded time", func() {
			outcome := played("giant")
			outcome.ConcludedAt = clock.Add(-3 * time.Hour)
			got, err := e.EvaluatePrediction(ctx, rec.ID, outcome)
			So(err, ShouldBeNil)
			So(got.Outcome.ConcludedAt.Equal(clock.Add(-3*time.Hour)), ShouldBeTrue)
		})

		Convey("When the outcome is partial", func() {
			for _, partial := range []model.RealizedOutcome{
				{WinnerID: "giant"},
				{WinnerID: "giant", Score: "6-1 6-2"},
				{WinnerID: "giant", Score: "walkover", DurationMinutes: 1},
			} {
				_, err := e.EvaluatePrediction(ctx, rec.ID, partial)
				So(errors.Is(err, evaluation.ErrInvalidOutcome), ShouldBeTrue)
			}

			Convey("Then the record stays Published", func() {
				got, err := store.Get(ctx, rec.ID)
				So(err, ShouldBeNil)
				So(got.State, ShouldEqual, model.StatePublished)
				So(got.Outcome, ShouldBeNil)
			})
		})

		Convey("When the id is unknown", func() {
			_, err := e.EvaluatePrediction(ctx, "missing", played("giant"))
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When many evaluators race on the record", func() {
			const racers = 10
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				rejected int
			)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := e.EvaluatePrediction(ctx, rec.ID, played("giant"))
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, evaluation.ErrRecordNotPublished):
						rejected++
					}
				}()
			}
			wg.Wait()

			Convey("Then exactly one succeeds", func() {
				So(wins, ShouldEqual, 1)
				So(rejected, ShouldEqual, racers-1)
			})
		})
	})

	Convey("Given a prediction whose contest has not been played", t, func() {
		e := newEngine(fixture())
		_, err := e.GeneratePrediction(ctx, "next-week", config.DefaultScoringConfigID)
		So(err, ShouldBeNil)
		played, err := e.GeneratePrediction(ctx, "rg-final", config.DefaultScoringConfigID)
		So(err, ShouldBeNil)

		Convey("Then only the played contest awaits an outcome", func() {
			list, err := e.AwaitingOutcome(ctx, 0)
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 1)
			So(list[0].ID, ShouldEqual, played.ID)
		})
	})
}

func TestEngine_ComputeDrift(t *testing.T) {
	ctx := context.Background()

	seed := func(store repository.Store, configID string, total, correct int) {
		for i := 0; i < total; i++ {
			trace, err := store.NextTraceID(ctx)
			So(err, ShouldBeNil)
			rec := storetest.Published(trace, "c", configID, clock.Add(-48*time.Hour))
			So(store.Insert(ctx, rec), ShouldBeNil)
			at := clock.Add(-time.Duration(i+1) * time.Hour)
			So(store.MarkEvaluated(ctx, storetest.Evaluated(rec, at, i < correct)), ShouldBeNil)
		}
	}

	Convey("Given fifteen evaluations at forty percent accuracy", t, func() {
		store := repository.NewMemoryStore()
		notifier := &recordingNotifier{}
		e := newEngine(fixture(), service.WithStore(store), service.WithNotifier(notifier))
		seed(store, config.DefaultScoringConfigID, 15, 6)

		Convey("When computing drift", func() {
			snap, err := e.ComputeDrift(ctx, config.DefaultScoringConfigID, 30)
			So(err, ShouldBeNil)

			Convey("Then drift is detected", func() {
				So(snap.SampleCount, ShouldEqual, 15)
				So(snap.MeanAccuracy, ShouldAlmostEqual, 0.4, 1e-9)
				So(snap.DriftDetected, ShouldBeTrue)
				So(snap.Verdict, ShouldEqual, drift.VerdictDrift)
			})
		})

		Convey("When the window excludes every evaluation", func() {
			later := newEngine(fixture(),
				service.WithStore(store),
				service.WithClock(func() time.Time { return clock.AddDate(0, 2, 0) }),
			)
			snap, err := later.ComputeDrift(ctx, config.DefaultScoringConfigID, 30)
			So(err, ShouldBeNil)
			So(snap.SampleCount, ShouldEqual, 0)
			So(snap.Verdict, ShouldEqual, drift.VerdictInsufficientData)
			So(snap.DriftDetected, ShouldBeFalse)
		})

		Convey("When running the sweep", func() {
			snaps, err := e.RunDriftSweep(ctx)
			So(err, ShouldBeNil)

			Convey("Then the detection is notified", func() {
				So(snaps, ShouldHaveLength, 1)
				So(notifier.snaps, ShouldHaveLength, 1)
				So(notifier.snaps[0].ConfigID, ShouldEqual, config.DefaultScoringConfigID)
			})
		})

		Convey("When the configuration is unknown", func() {
			_, err := e.ComputeDrift(ctx, "nope", 30)
			So(errors.Is(err, service.ErrUnknownConfig), ShouldBeTrue)
		})
	})

	Convey("Given a healthy configuration next to a drifting one", t, func() {
		store := repository.NewMemoryStore()
		notifier := &recordingNotifier{}
		e := newEngine(fixture(),
			service.WithStore(store),
			service.WithNotifier(notifier),
			service.WithScoringConfigs(
				service.ScoringConfig("baseline-v1", config.DefaultWeights()),
				service.ScoringConfig("steady-v1", config.DefaultWeights()),
			),
		)
		seed(store, "baseline-v1", 12, 3)
		seed(store, "steady-v1", 12, 11)

		Convey("Then the sweep reports both and notifies only the drift", func() {
			snaps, err := e.RunDriftSweep(ctx)
			So(err, ShouldBeNil)
			So(snaps, ShouldHaveLength, 2)
			So(snaps[0].Verdict, ShouldEqual, drift.VerdictDrift)
			So(snaps[1].Verdict, ShouldEqual, drift.VerdictHealthy)
			So(notifier.snaps, ShouldHaveLength, 1)
			So(notifier.snaps[0].ConfigID, ShouldEqual, "baseline-v1")
		})
	})
}
