package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/rally/internal/adapters/lock"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/adapters/repository/sqlite"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func TestMainConfiguration(t *testing.T) {
	convey.Convey("Given environment overrides", t, func() {
		t.Setenv("RALLY_ADDR", ":8080")
		t.Setenv("RALLY_QUEUE_SIZE", "1000")
		t.Setenv("RALLY_WORKER_COUNT", "4")

		convey.Convey("Then configuration should be loadable", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
		})
	})

	convey.Convey("Given an empty listen address", t, func() {
		t.Setenv("RALLY_ADDR", "")

		convey.Convey("Then configuration loading should fail", func() {
			cfg, err := config.Load(context.Background())
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})
	})
}

func TestOpenStore(t *testing.T) {
	convey.Convey("Given store drivers", t, func() {
		ctx := context.Background()
		cfg := config.New()

		convey.Convey("When the driver is memory", func() {
			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			_, ok := store.(*repository.MemoryStore)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(store.Close(), convey.ShouldBeNil)
		})

		convey.Convey("When the driver is sqlite", func() {
			cfg.StoreDriver = config.StoreSQLite
			cfg.SQLitePath = filepath.Join(t.TempDir(), "rally.db")

			store, err := openStore(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			_, ok := store.(*sqlite.Store)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(store.Close(), convey.ShouldBeNil)

			_, statErr := os.Stat(cfg.SQLitePath)
			convey.So(statErr, convey.ShouldBeNil)
		})
	})
}

func TestOpenLocker(t *testing.T) {
	convey.Convey("Given the memory lock driver", t, func() {
		locker, closeFn, err := openLocker(context.Background(), config.New())
		convey.So(err, convey.ShouldBeNil)
		defer closeFn()

		_, ok := locker.(*lock.Memory)
		convey.So(ok, convey.ShouldBeTrue)
	})

	convey.Convey("Given an unreachable redis", t, func() {
		cfg := config.New()
		cfg.LockDriver = config.LockRedis
		cfg.RedisAddr = "127.0.0.1:1"

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_, _, err := openLocker(ctx, cfg)
		convey.So(err, convey.ShouldNotBeNil)
	})
}

func TestComposition(t *testing.T) {
	convey.Convey("Given the default configuration", t, func() {
		cfg := config.New()

		convey.Convey("Then the log notifier is used without telegram", func() {
			n, err := newNotifier(cfg)
			convey.So(err, convey.ShouldBeNil)
			_, ok := n.(*notify.Log)
			convey.So(ok, convey.ShouldBeTrue)
		})

		convey.Convey("Then an empty provider is used without a data file", func() {
			p, err := loadProvider(cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(p.ContestIDs(), convey.ShouldBeEmpty)
		})

		convey.Convey("Then the fixture document loads", func() {
			cfg.DataFile = "../internal/adapters/provider/testdata/contests.yaml"
			p, err := loadProvider(cfg)
			convey.So(err, convey.ShouldBeNil)
			convey.So(p.ContestIDs(), convey.ShouldResemble, []string{"qualifier-r1", "rg-final"})
		})

		convey.Convey("Then scoring configs are ordered by id", func() {
			aggressive := config.DefaultWeights()
			aggressive.Version = 2
			aggressive.RatingWeight = 45
			cfg.ScoringConfigs["aggressive-v2"] = aggressive

			configs := scoringConfigs(cfg)
			convey.So(len(configs), convey.ShouldEqual, 2)
			convey.So(configs[0].ID, convey.ShouldEqual, "aggressive-v2")
			convey.So(configs[0].Version, convey.ShouldEqual, 2)
			convey.So(configs[1].ID, convey.ShouldEqual, config.DefaultScoringConfigID)

			e := service.New(nil, nil, service.WithScoringConfigs(configs...))
			convey.So(e.ConfigIDs(), convey.ShouldResemble, []string{"aggressive-v2", config.DefaultScoringConfigID})
		})
	})
}

func TestStatsUpdater(t *testing.T) {
	convey.Convey("Given an engine without predictions", t, func() {
		e := service.New(nil, nil)

		convey.Convey("Then the updater returns once the context ends", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			convey.So(func() { startStatsUpdater(ctx, e) }, convey.ShouldNotPanic)
			convey.So(func() { updateStats(ctx, e) }, convey.ShouldNotPanic)
		})
	})
}
