package confidence_test

import (
	"testing"

	"github.com/okian/rally/internal/domain/confidence"
	"github.com/okian/rally/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEstimate(t *testing.T) {
	Convey("Given no features and no adjustments", t, func() {
		Convey("Then confidence is the pure baseline", func() {
			So(confidence.Estimate(model.FeatureSet{}, nil), ShouldEqual, 50)
		})
	})

	Convey("Given only a 400 point rating gap", t, func() {
		fs := model.FeatureSet{}
		fs.SetNumber(model.FeatureRatingGap, 400)
		cs := []model.Contribution{{Factor: model.FactorRanking, Value: 35}}

		Convey("Then one feature and the full gap bonus apply", func() {
			c := confidence.Estimate(fs, cs)
			So(c, ShouldEqual, 62)
			So(c, ShouldBeGreaterThanOrEqualTo, 60)
			So(c, ShouldBeLessThanOrEqualTo, 95)
		})
	})

	Convey("Given a deep head-to-head history", t, func() {
		fs := model.FeatureSet{}
		fs.SetNumber(model.FeatureH2HMeetings, 12)

		Convey("Then the meeting bonus is capped at 15", func() {
			So(confidence.Estimate(fs, nil), ShouldEqual, 50+2+15)
		})
	})

	Convey("Given two prior meetings", t, func() {
		fs := model.FeatureSet{}
		fs.SetNumber(model.FeatureH2HMeetings, 2)

		Convey("Then each meeting adds 3 points", func() {
			So(confidence.Estimate(fs, nil), ShouldEqual, 50+2+6)
		})
	})

	Convey("Given more than fifteen features", t, func() {
		fs := model.FeatureSet{}
		for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p", "q", "r"} {
			fs.SetNumber(k, 1)
		}

		Convey("Then the feature bonus is capped at 30", func() {
			So(confidence.Estimate(fs, nil), ShouldEqual, 80)
		})
	})

	Convey("Given adjustments that strongly agree", t, func() {
		fs := model.FeatureSet{}
		fs.SetNumber(model.FeatureRatingGap, 1000)
		for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o"} {
			fs.SetNumber(k, 1)
		}
		fs.SetNumber(model.FeatureH2HMeetings, 10)
		cs := []model.Contribution{{Factor: model.FactorRanking, Value: 87.5}}

		Convey("Then the coherence bonus applies and the result is clamped at 95", func() {
			So(confidence.Estimate(fs, cs), ShouldEqual, 95)
		})
	})

	Convey("Given adjustments whose mean magnitude is exactly 70", t, func() {
		cs := []model.Contribution{{Factor: model.FactorRanking, Value: 70}}

		Convey("Then no coherence bonus is granted", func() {
			So(confidence.Estimate(model.FeatureSet{}, cs), ShouldEqual, 50)
		})
	})
}

func TestDifficulty(t *testing.T) {
	Convey("Given predictions of varying skew", t, func() {
		Convey("Then an even split is the hardest call", func() {
			So(confidence.Difficulty(50, 80), ShouldEqual, 10)
		})
		Convey("Then a 95/5 split is the easiest call", func() {
			So(confidence.Difficulty(95, 90), ShouldEqual, 1)
			So(confidence.Difficulty(5, 90), ShouldEqual, 1)
		})
		Convey("Then a 70/30 split sits in the middle", func() {
			So(confidence.Difficulty(70, 80), ShouldEqual, 6)
		})
		Convey("Then low confidence makes a call harder without leaving the range", func() {
			So(confidence.Difficulty(70, 55), ShouldEqual, 7)
			So(confidence.Difficulty(50, 40), ShouldEqual, 10)
		})
	})
}
