package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/okian/rally/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.LockDriver, convey.ShouldEqual, config.LockMemory)
			convey.So(cfg.QueueSize, convey.ShouldEqual, 10_000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU())
			convey.So(cfg.DriftMinSamples, convey.ShouldEqual, 10)
			convey.So(cfg.DriftMinAccuracy, convey.ShouldEqual, 0.6)
			convey.So(cfg.DriftMaxBrier, convey.ShouldEqual, 0.3)
			convey.So(cfg.DefaultConfig, convey.ShouldEqual, config.DefaultScoringConfigID)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then the baseline weights match the scorer constants", func() {
			w := cfg.ScoringConfigs[config.DefaultScoringConfigID]
			convey.So(w.RatingWeight, convey.ShouldEqual, 35)
			convey.So(w.RatingScale, convey.ShouldEqual, 400)
			convey.So(w.H2HWeight, convey.ShouldEqual, 0.25)
			convey.So(w.SurfaceWeight, convey.ShouldEqual, 20)
			convey.So(w.FormWeight, convey.ShouldEqual, 15)
			convey.So(w.ContextWeight, convey.ShouldEqual, 2)
			convey.So(w.MinProbability, convey.ShouldEqual, 5)
			convey.So(w.MaxProbability, convey.ShouldEqual, 95)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("When the postgres store has no DSN", func() {
			cfg.StoreDriver = config.StorePostgres
			err := cfg.Validate()

			convey.Convey("Then validation fails with ErrInvalidConfig", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "postgres_dsn")
			})
		})

		convey.Convey("When the store driver is unknown", func() {
			cfg.StoreDriver = "mongo"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the lock driver is unknown", func() {
			cfg.LockDriver = "zookeeper"
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When telegram is enabled without credentials", func() {
			cfg.TelegramEnabled = true
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When the default config id is not defined", func() {
			cfg.DefaultConfig = "missing"
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When a weight set has an inverted probability band", func() {
			w := config.DefaultWeights()
			w.MinProbability, w.MaxProbability = 90, 10
			cfg.ScoringConfigs["broken"] = w
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When the drift window is zero", func() {
			cfg.DriftWindowDays = 0
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})
	})
}
