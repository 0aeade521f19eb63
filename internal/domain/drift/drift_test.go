package drift_test

import (
	"testing"
	"time"

	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

func evaluated(configID string, correct bool, brier float64, at time.Time) model.PredictionRecord {
	return model.PredictionRecord{
		ID:       "r",
		ConfigID: configID,
		State:    model.StateEvaluated,
		Outcome: &model.Evaluation{
			Correct:     correct,
			Brier:       brier,
			Composite:   50,
			Surprise:    2,
			EvaluatedAt: at,
		},
	}
}

func batch(n, correctCount int, brier float64) []model.PredictionRecord {
	out := make([]model.PredictionRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, evaluated("cfg", i < correctCount, brier, now.Add(-time.Duration(i)*time.Hour)))
	}
	return out
}

func TestMonitor_Compute(t *testing.T) {
	Convey("Given a monitor with default thresholds", t, func() {
		m := drift.NewMonitor()
		window := drift.LastDays(now, 30)

		Convey("When 15 records are 40 percent correct", func() {
			snap := m.Compute("cfg", window, batch(15, 6, 0.2))

			Convey("Then drift is detected", func() {
				So(snap.SampleCount, ShouldEqual, 15)
				So(snap.MeanAccuracy, ShouldAlmostEqual, 0.4, 1e-9)
				So(snap.DriftDetected, ShouldBeTrue)
				So(snap.Verdict, ShouldEqual, drift.VerdictDrift)
				So(snap.Sufficient(), ShouldBeTrue)
			})
		})

		Convey("When accuracy is fine but the mean error is high", func() {
			snap := m.Compute("cfg", window, batch(12, 10, 0.35))

			Convey("Then the error signal alone flags drift", func() {
				So(snap.MeanAccuracy, ShouldBeGreaterThan, 0.6)
				So(snap.MeanBrier, ShouldAlmostEqual, 0.35, 1e-9)
				So(snap.DriftDetected, ShouldBeTrue)
			})
		})

		Convey("When both signals are healthy", func() {
			snap := m.Compute("cfg", window, batch(10, 7, 0.12))

			Convey("Then no drift is flagged", func() {
				So(snap.DriftDetected, ShouldBeFalse)
				So(snap.Verdict, ShouldEqual, drift.VerdictHealthy)
				So(snap.MeanComposite, ShouldEqual, 50)
				So(snap.MeanSurprise, ShouldEqual, 2)
				So(snap.BrierStdDev, ShouldAlmostEqual, 0, 1e-12)
			})
		})

		Convey("When accuracy sits exactly on the floor", func() {
			snap := m.Compute("cfg", window, batch(10, 6, 0.1))

			Convey("Then it is not below the floor", func() {
				So(snap.DriftDetected, ShouldBeFalse)
			})
		})

		Convey("When fewer than ten records qualify", func() {
			snap := m.Compute("cfg", window, batch(9, 0, 0.9))

			Convey("Then there is no verdict", func() {
				So(snap.Verdict, ShouldEqual, drift.VerdictInsufficientData)
				So(snap.Sufficient(), ShouldBeFalse)
				So(snap.DriftDetected, ShouldBeFalse)
				So(snap.SampleCount, ShouldEqual, 9)
			})
		})

		Convey("When the input mixes configurations, states and old records", func() {
			records := batch(10, 3, 0.3)
			records = append(records,
				evaluated("other", true, 0, now),
				evaluated("cfg", true, 0, now.AddDate(0, 0, -45)),
				model.PredictionRecord{ConfigID: "cfg", State: model.StatePublished},
			)
			snap := m.Compute("cfg", window, records)

			Convey("Then only qualifying records are counted", func() {
				So(snap.SampleCount, ShouldEqual, 10)
				So(snap.MeanAccuracy, ShouldAlmostEqual, 0.3, 1e-9)
			})
		})

		Convey("When computed twice on the same input", func() {
			records := batch(15, 6, 0.2)
			So(m.Compute("cfg", window, records), ShouldResemble, m.Compute("cfg", window, records))
		})
	})

	Convey("Given custom thresholds", t, func() {
		m := drift.NewMonitor(drift.WithMinSamples(3), drift.WithMinAccuracy(0.8), drift.WithMaxBrier(0.5))

		Convey("Then they are honoured", func() {
			snap := m.Compute("cfg", drift.LastDays(now, 7), batch(4, 3, 0.1))
			So(snap.Sufficient(), ShouldBeTrue)
			So(snap.DriftDetected, ShouldBeTrue) // 0.75 < 0.8
		})
	})
}
