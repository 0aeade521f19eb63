package features

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/rally/pkg/logger"
)

// Option applies a configuration option to the Collector.
type Option func(*Collector)

// WithHeadToHead sets the head-to-head lookup.
func WithHeadToHead(l HeadToHeadLookup) Option {
	return func(c *Collector) { c.h2h = l }
}

// WithWeather sets the weather lookup used when a request carries no reading.
func WithWeather(l WeatherLookup) Option {
	return func(c *Collector) { c.weather = l }
}

// WithLookupTimeout bounds every individual provider call.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit paces provider calls. A non-positive rate disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Collector) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithBreaker tunes the per-provider circuit breakers.
func WithBreaker(failureRatio float64, minRequests uint32, openFor time.Duration) Option {
	return func(c *Collector) {
		if failureRatio > 0 && failureRatio <= 1 {
			c.breakerRatio = failureRatio
		}
		if minRequests > 0 {
			c.breakerMinRequests = minRequests
		}
		if openFor > 0 {
			c.breakerOpenFor = openFor
		}
	}
}

// WithLogger sets a custom logger for the collector.
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}
