package scoring_test

import (
	"math"
	"testing"

	"github.com/okian/rally/internal/domain/model"
	scoring "github.com/okian/rally/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func features(kv map[string]float64) model.FeatureSet {
	fs := model.FeatureSet{}
	for k, v := range kv {
		fs.SetNumber(k, v)
	}
	return fs
}

func contribution(res scoring.Result, f model.Factor) (float64, bool) {
	for _, c := range res.Contributions {
		if c.Factor == f {
			return c.Value, true
		}
	}
	return 0, false
}

func TestWeightedScorer_Score(t *testing.T) {
	Convey("Given a scorer with baseline weights", t, func() {
		scorer := scoring.NewWeightedScorer()

		Convey("When no features are supplied", func() {
			res := scorer.Score(model.FeatureSet{})

			Convey("Then the result is an even split with no contributions", func() {
				So(res.ProbabilityA, ShouldEqual, 50)
				So(res.ProbabilityB, ShouldEqual, 50)
				So(res.Contributions, ShouldBeEmpty)
				So(res.Dominant, ShouldEqual, model.FactorNone)
			})
		})

		Convey("When A holds a 400 point rating gap and nothing else", func() {
			res := scorer.Score(features(map[string]float64{model.FeatureRatingGap: 400}))

			Convey("Then the ranking adjustment adds 35 and stays inside the band", func() {
				So(res.ProbabilityA, ShouldEqual, 85)
				So(res.ProbabilityA, ShouldBeLessThanOrEqualTo, 95)
				So(res.ProbabilityB, ShouldEqual, 15)
				So(res.Dominant, ShouldEqual, model.FactorRanking)
			})
		})

		Convey("When the rating gap is large enough to overshoot", func() {
			res := scorer.Score(features(map[string]float64{model.FeatureRatingGap: 800}))

			Convey("Then A is clamped at 95", func() {
				So(res.ProbabilityA, ShouldEqual, 95)
				So(res.ProbabilityB, ShouldEqual, 5)
				v, _ := contribution(res, model.FactorRanking)
				So(v, ShouldEqual, 70)
			})
		})

		Convey("When B is the heavy favourite", func() {
			res := scorer.Score(features(map[string]float64{model.FeatureRatingGap: -1000}))

			Convey("Then A is clamped at 5", func() {
				So(res.ProbabilityA, ShouldEqual, 5)
				So(res.ProbabilityB, ShouldEqual, 95)
			})
		})

		Convey("When A won 8 of 10 surface meetings and nothing else is known", func() {
			res := scorer.Score(features(map[string]float64{
				model.FeatureSurfaceMeets: 10,
				model.FeatureSurfaceWinsA: 8,
			}))

			Convey("Then the surface adjustment contributes 6 points", func() {
				v, ok := contribution(res, model.FactorSurface)
				So(ok, ShouldBeTrue)
				So(v, ShouldAlmostEqual, 6, 1e-9)
				So(res.ProbabilityA, ShouldEqual, 56)
				So(res.ProbabilityB, ShouldEqual, 44)
			})
		})

		Convey("When surface wins exist but no surface meetings", func() {
			res := scorer.Score(features(map[string]float64{
				model.FeatureSurfaceMeets: 0,
				model.FeatureSurfaceWinsA: 0,
			}))

			Convey("Then the surface adjustment is skipped", func() {
				_, ok := contribution(res, model.FactorSurface)
				So(ok, ShouldBeFalse)
				So(res.ProbabilityA, ShouldEqual, 50)
			})
		})

		Convey("When only one side has a form ratio", func() {
			res := scorer.Score(features(map[string]float64{model.FeatureFormA: 0.9}))

			Convey("Then the form adjustment is skipped", func() {
				_, ok := contribution(res, model.FactorForm)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When every factor has inputs", func() {
			res := scorer.Score(features(map[string]float64{
				model.FeatureRatingGap:    80,  // +7
				model.FeatureH2HWinPctA:   30,  // -5
				model.FeatureSurfaceMeets: 4,   // (1/4-0.5)*20 = -5
				model.FeatureSurfaceWinsA: 1,   //
				model.FeatureFormA:        0.7, // (0.7-0.4)*15 = 4.5
				model.FeatureFormB:        0.4,
				model.FeatureImportance:   3, // +4
			}))

			Convey("Then the adjustments are summed onto the baseline", func() {
				So(res.Contributions, ShouldHaveLength, 5)
				So(res.ProbabilityA, ShouldAlmostEqual, 55.5, 1e-9)
				So(res.ProbabilityB, ShouldAlmostEqual, 44.5, 1e-9)
				So(res.Dominant, ShouldEqual, model.FactorRanking)
			})
		})

		Convey("When fractional inputs are scored", func() {
			res := scorer.Score(features(map[string]float64{model.FeatureRatingGap: 13.7}))

			Convey("Then probabilities carry two decimals and sum to 100", func() {
				So(res.ProbabilityA, ShouldEqual, 51.2)
				So(math.Abs(res.ProbabilityA+res.ProbabilityB-100), ShouldBeLessThan, 0.01)
			})
		})

		Convey("When the same features are scored twice", func() {
			fs := features(map[string]float64{model.FeatureRatingGap: 123, model.FeatureH2HWinPctA: 61})
			first := scorer.Score(fs)
			second := scorer.Score(fs)

			Convey("Then the results are identical", func() {
				So(second, ShouldResemble, first)
			})
		})
	})

	Convey("Given a scorer with custom weights", t, func() {
		w := scoring.DefaultWeights()
		w.RatingWeight = 70
		w.MaxProbability = 90
		scorer := scoring.NewWeightedScorer(scoring.WithWeights(w))

		Convey("Then the custom weights drive the result", func() {
			res := scorer.Score(features(map[string]float64{model.FeatureRatingGap: 400}))
			So(res.ProbabilityA, ShouldEqual, 90)
			So(scorer.Weights().RatingWeight, ShouldEqual, 70)
		})
	})

	Convey("Given invalid custom weights", t, func() {
		w := scoring.DefaultWeights()
		w.RatingScale = 0
		scorer := scoring.NewWeightedScorer(scoring.WithWeights(w))

		Convey("Then the defaults are kept", func() {
			So(scorer.Weights(), ShouldResemble, scoring.DefaultWeights())
		})
	})
}

func TestDominant(t *testing.T) {
	Convey("Given contributions of mixed sign", t, func() {
		cs := []model.Contribution{
			{Factor: model.FactorRanking, Value: 3},
			{Factor: model.FactorForm, Value: -4.5},
			{Factor: model.FactorContext, Value: 4.5},
		}

		Convey("Then the largest magnitude wins and ties keep the earlier factor", func() {
			So(scoring.Dominant(cs), ShouldEqual, model.FactorForm)
		})
	})
}
