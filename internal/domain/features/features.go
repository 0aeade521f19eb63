// Package features collects the signals the scorer consumes from external
// data providers. Missing data is omitted from the resulting set; only an
// unresolvable competitor aborts collection.
package features

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

// Provider names used for breakers, logs and metrics.
const (
	ProviderCompetitor = "competitor"
	ProviderHeadToHead = "head_to_head"
	ProviderWeather    = "weather"
)

// Defaults.
const (
	defaultLookupTimeout      = 750 * time.Millisecond
	defaultBreakerRatio       = 0.6
	defaultBreakerMinRequests = 3
	defaultBreakerOpenFor     = 30 * time.Second
	percent                   = 100
)

var errRateLimited = errors.New("rate limited")

// CompetitorLookup resolves competitor signals by id. It returns ErrNotFound
// for ids it does not know.
type CompetitorLookup interface {
	Competitor(ctx context.Context, id string) (model.CompetitorProfile, error)
}

// HeadToHeadLookup returns the record of a against b, oriented for a.
type HeadToHeadLookup interface {
	HeadToHead(ctx context.Context, a, b string) (model.HeadToHead, error)
}

// WeatherLookup returns the expected conditions for a contest.
type WeatherLookup interface {
	Weather(ctx context.Context, contestID string) (model.WeatherReading, error)
}

// Request describes the two competitors and the contest context.
type Request struct {
	ContestID      string
	CompetitorA    string
	CompetitorB    string
	Surface        string
	ScheduledAt    time.Time
	ImportanceTier int
	BestOf         int
	MatchTiebreak  bool
	// Weather, when set, is used instead of the weather lookup.
	Weather *model.WeatherReading
}

// RequestFromContest builds a Request for c.
func RequestFromContest(c model.Contest) Request {
	return Request{
		ContestID:      c.ID,
		CompetitorA:    c.CompetitorA,
		CompetitorB:    c.CompetitorB,
		Surface:        c.Surface,
		ScheduledAt:    c.ScheduledAt,
		ImportanceTier: c.ImportanceTier,
		BestOf:         c.BestOf,
		MatchTiebreak:  c.MatchTiebreak,
	}
}

// Collector gathers a FeatureSet. Each provider call runs under its own
// timeout, a shared rate limiter and a per-provider circuit breaker.
type Collector struct {
	competitors CompetitorLookup
	h2h         HeadToHeadLookup
	weather     WeatherLookup

	timeout            time.Duration
	limiter            *rate.Limiter
	breakerRatio       float64
	breakerMinRequests uint32
	breakerOpenFor     time.Duration
	breakers           map[string]*gobreaker.CircuitBreaker

	logger logger.Logger
}

// NewCollector creates a collector. The competitor lookup is mandatory; the
// others are optional and skipped when absent.
func NewCollector(competitors CompetitorLookup, opts ...Option) *Collector {
	c := &Collector{
		competitors:        competitors,
		timeout:            defaultLookupTimeout,
		breakerRatio:       defaultBreakerRatio,
		breakerMinRequests: defaultBreakerMinRequests,
		breakerOpenFor:     defaultBreakerOpenFor,
		logger:             logger.Get().Named("features"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breakers = make(map[string]*gobreaker.CircuitBreaker, 3)
	for _, name := range []string{ProviderCompetitor, ProviderHeadToHead, ProviderWeather} {
		c.breakers[name] = c.newBreaker(name)
	}
	return c
}

func (c *Collector) newBreaker(name string) *gobreaker.CircuitBreaker {
	ratio, minRequests := c.breakerRatio, c.breakerMinRequests
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.UpdateBreakerState(name, int(to))
			c.logger.Warn(context.Background(), "provider breaker state changed",
				logger.String("provider", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
}

// Collect produces the FeatureSet for req. It fails with ErrUnknownCompetitor
// when either competitor is unknown to the lookup; every other provider
// failure only shrinks the set.
func (c *Collector) Collect(ctx context.Context, req Request) (model.FeatureSet, error) {
	if req.CompetitorA == "" || req.CompetitorB == "" || req.CompetitorA == req.CompetitorB {
		return nil, fmt.Errorf("%w: competitors %q and %q", ErrInvalidRequest, req.CompetitorA, req.CompetitorB)
	}

	var (
		wg              sync.WaitGroup
		profA, profB    model.CompetitorProfile
		errA, errB      error
		record          model.HeadToHead
		h2hErr          error
		reading         model.WeatherReading
		weatherErr      error
		fetchWeather    = req.Weather == nil && c.weather != nil
		fetchHeadToHead = c.h2h != nil
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		profA, errA = guarded(ctx, c, ProviderCompetitor, func(ctx context.Context) (model.CompetitorProfile, error) {
			return c.competitors.Competitor(ctx, req.CompetitorA)
		})
	}()
	go func() {
		defer wg.Done()
		profB, errB = guarded(ctx, c, ProviderCompetitor, func(ctx context.Context) (model.CompetitorProfile, error) {
			return c.competitors.Competitor(ctx, req.CompetitorB)
		})
	}()
	if fetchHeadToHead {
		wg.Add(1)
		go func() {
			defer wg.Done()
			record, h2hErr = guarded(ctx, c, ProviderHeadToHead, func(ctx context.Context) (model.HeadToHead, error) {
				return c.h2h.HeadToHead(ctx, req.CompetitorA, req.CompetitorB)
			})
		}()
	}
	if fetchWeather {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reading, weatherErr = guarded(ctx, c, ProviderWeather, func(ctx context.Context) (model.WeatherReading, error) {
				return c.weather.Weather(ctx, req.ContestID)
			})
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect features: %w", err)
	}
	for _, side := range []struct {
		id  string
		err error
	}{{req.CompetitorA, errA}, {req.CompetitorB, errB}} {
		if errors.Is(side.err, ErrNotFound) {
			metrics.RecordUnknownCompetitor()
			return nil, fmt.Errorf("%w: %s", ErrUnknownCompetitor, side.id)
		}
	}

	fs := model.FeatureSet{}
	if c.ok(ctx, ProviderCompetitor, errA) {
		addProfile(fs, &profA, model.FeatureRankingA, model.FeatureRatingA, model.FeatureFormA,
			model.FeatureServeIndexA, model.FeatureReturnIndexA, model.FeatureAcesA)
	}
	if c.ok(ctx, ProviderCompetitor, errB) {
		addProfile(fs, &profB, model.FeatureRankingB, model.FeatureRatingB, model.FeatureFormB,
			model.FeatureServeIndexB, model.FeatureReturnIndexB, model.FeatureAcesB)
	}
	if rA, okA := fs.Number(model.FeatureRatingA); okA {
		if rB, okB := fs.Number(model.FeatureRatingB); okB {
			fs.SetNumber(model.FeatureRatingGap, rA-rB)
		}
	}
	if fetchHeadToHead && c.ok(ctx, ProviderHeadToHead, h2hErr) {
		addHeadToHead(fs, &record, req.Surface)
	}
	switch {
	case req.Weather != nil:
		addWeather(fs, req.Weather)
	case fetchWeather && c.ok(ctx, ProviderWeather, weatherErr):
		addWeather(fs, &reading)
	}
	addContext(fs, &req)

	metrics.RecordFeaturesCollected(fs.Len())
	return fs, nil
}

// ok reports whether a lookup succeeded; failures are logged and counted.
func (c *Collector) ok(ctx context.Context, provider string, err error) bool {
	if err == nil {
		return true
	}
	reason := failureReason(err)
	metrics.RecordLookupFailure(provider, reason)
	if reason != "not_found" {
		c.logger.Warn(ctx, "feature lookup degraded",
			logger.String("provider", provider),
			logger.String("reason", reason),
			logger.Error(err),
		)
	}
	return false
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, errRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}

// guarded runs fn under the collector's timeout, rate limiter and the named breaker.
func guarded[T any](ctx context.Context, c *Collector, provider string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(cctx); err != nil {
			return zero, fmt.Errorf("%w: %w", errRateLimited, err)
		}
	}
	res, err := c.breakers[provider].Execute(func() (interface{}, error) {
		return fn(cctx)
	})
	if err != nil {
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

func addProfile(fs model.FeatureSet, p *model.CompetitorProfile, ranking, rating, form, serve, ret, aces string) {
	if p.Ranking != nil {
		fs.SetNumber(ranking, float64(*p.Ranking))
	}
	setIf(fs, rating, p.Rating)
	setIf(fs, form, p.Form)
	setIf(fs, serve, p.ServeIndex)
	setIf(fs, ret, p.ReturnIndex)
	setIf(fs, aces, p.AcesPerMatch)
}

func addHeadToHead(fs model.FeatureSet, h *model.HeadToHead, surface string) {
	if h.Meetings > 0 {
		fs.SetNumber(model.FeatureH2HMeetings, float64(h.Meetings))
		fs.SetNumber(model.FeatureH2HWinsA, float64(h.WinsA))
		fs.SetNumber(model.FeatureH2HWinPctA, float64(h.WinsA)/float64(h.Meetings)*percent)
	}
	if surface == "" {
		return
	}
	if n := h.SurfaceMeetings[surface]; n > 0 {
		fs.SetNumber(model.FeatureSurfaceMeets, float64(n))
		fs.SetNumber(model.FeatureSurfaceWinsA, float64(h.SurfaceWinsA[surface]))
	}
}

func addWeather(fs model.FeatureSet, w *model.WeatherReading) {
	setIf(fs, model.FeatureTemperature, w.Temperature)
	setIf(fs, model.FeatureHumidity, w.Humidity)
	if w.Indoor != nil {
		fs.SetFlag(model.FeatureIndoor, *w.Indoor)
	}
}

func addContext(fs model.FeatureSet, req *Request) {
	fs.SetLabel(model.FeatureSurface, req.Surface)
	if req.ImportanceTier > 0 {
		fs.SetNumber(model.FeatureImportance, float64(req.ImportanceTier))
	}
	if req.BestOf > 0 {
		fs.SetNumber(model.FeatureBestOf, float64(req.BestOf))
		fs.SetFlag(model.FeatureMatchTiebreak, req.MatchTiebreak)
	}
	if !req.ScheduledAt.IsZero() {
		at := req.ScheduledAt.UTC()
		fs.SetLabel(model.FeatureWeekday, strings.ToLower(at.Weekday().String()))
		fs.SetNumber(model.FeatureHour, float64(at.Hour()))
	}
}

func setIf(fs model.FeatureSet, key string, v *float64) {
	if v != nil {
		fs.SetNumber(key, *v)
	}
}
