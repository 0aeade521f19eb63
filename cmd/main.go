package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/rally/internal/adapters/http/api"
	"github.com/okian/rally/internal/adapters/lock"
	"github.com/okian/rally/internal/adapters/notify"
	"github.com/okian/rally/internal/adapters/provider"
	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/adapters/repository/postgres"
	"github.com/okian/rally/internal/adapters/repository/sqlite"
	"github.com/okian/rally/internal/adapters/schedule"
	service "github.com/okian/rally/internal/app"
	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/internal/domain/drift"
	"github.com/okian/rally/internal/domain/features"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	telegramRetries   = 3
	telegramDelay     = 2 * time.Second
)

func main() {
	// Series live on the metrics package registry; drop the default collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "engine exited", logger.Error(err))
		stop()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: stop is called explicitly above
	}
}

// run wires the engine from configuration and serves until ctx is cancelled.
func run(ctx context.Context) error { //nolint:funlen // composition root
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	log := logger.Get()
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		log.Warn(ctx, "invalid log_format; keeping text", logger.String("log_format", cfg.LogFormat), logger.Error(err))
	}
	log = logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "store close failed", logger.Error(err))
		}
	}()

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	data, err := loadProvider(cfg)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		return err
	}

	collector := features.NewCollector(data,
		features.WithHeadToHead(data),
		features.WithWeather(data),
		features.WithLookupTimeout(time.Duration(cfg.LookupTimeoutMS)*time.Millisecond),
		features.WithRateLimit(cfg.LookupRatePerSec, cfg.LookupBurst),
		features.WithBreaker(cfg.BreakerFailureRatio, uint32(cfg.BreakerMinRequests), time.Duration(cfg.BreakerOpenSeconds)*time.Second), //nolint:gosec // validated positive
	)

	engine := service.New(data, collector,
		service.WithLogger(log.Named("engine")),
		service.WithStore(store),
		service.WithLocker(locker),
		service.WithNotifier(notifier),
		service.WithScoringConfigs(scoringConfigs(cfg)...),
		service.WithDriftMonitor(drift.NewMonitor(
			drift.WithMinSamples(cfg.DriftMinSamples),
			drift.WithMinAccuracy(cfg.DriftMinAccuracy),
			drift.WithMaxBrier(cfg.DriftMaxBrier),
		)),
		service.WithDriftWindowDays(cfg.DriftWindowDays),
		service.WithEnvironment(cfg.Environment),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
	)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	scheduler := schedule.New()
	if err := scheduler.Add("drift", cfg.DriftSchedule, func(ctx context.Context) error {
		_, err := engine.RunDriftSweep(ctx)
		return err
	}); err != nil {
		return err
	}
	scheduler.Start()

	go startStatsUpdater(ctx, engine)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(engine, engine, cfg.DefaultConfig).Router(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.String("lock", cfg.LockDriver),
			logger.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine stop: %w", err))
	}

	log.Info(ctx, "server stopped")
	return errors.Join(errs...)
}

// openStore selects the prediction store driver.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case config.StorePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return repository.NewMemoryStore(), nil
	}
}

// openLocker selects the evaluation lock driver. The returned func releases
// the underlying connection.
func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.LockDriver != config.LockRedis {
		return lock.NewMemory(), func() {}, nil
	}
	client, err := lock.Dial(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return lock.NewRedis(client), func() { _ = client.Close() }, nil
}

// loadProvider reads the contest document, or starts empty when none is configured.
func loadProvider(cfg *config.Config) (*provider.Static, error) {
	if cfg.DataFile == "" {
		return provider.New(), nil
	}
	return provider.LoadFile(cfg.DataFile)
}

func newNotifier(cfg *config.Config) (notify.Notifier, error) {
	if !cfg.TelegramEnabled {
		return notify.NewLog(), nil
	}
	return notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, notify.WithRetries(telegramRetries, telegramDelay))
}

// scoringConfigs converts the configured weight sets, ordered by id.
func scoringConfigs(cfg *config.Config) []model.ScoringConfig {
	ids := make([]string, 0, len(cfg.ScoringConfigs))
	for id := range cfg.ScoringConfigs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.ScoringConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, service.ScoringConfig(id, cfg.ScoringConfigs[id]))
	}
	return out
}

// startStatsUpdater refreshes the store gauges until ctx is cancelled.
func startStatsUpdater(ctx context.Context, engine *service.Engine) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateStats(ctx, engine)
		}
	}
}

func updateStats(ctx context.Context, engine *service.Engine) {
	st, err := engine.GetStats(ctx)
	if err != nil {
		logger.Get().Warn(ctx, "stats refresh failed", logger.Error(err))
		return
	}
	metrics.UpdateStoreGauges(st.Predictions, st.Awaiting)
	metrics.UpdateQueueSize(st.QueueLen)
	metrics.UpdateWorkerActiveCount(st.Workers)
}
