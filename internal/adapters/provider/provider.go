// Package provider serves competitor, head-to-head, weather and contest data
// from a YAML document. It backs the daemon and the simulator when no live
// feeds are configured.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/rally/internal/domain/features"
	"github.com/okian/rally/internal/domain/model"
)

type competitorDoc struct {
	Name         string   `koanf:"name"`
	Ranking      *int     `koanf:"ranking"`
	Rating       *float64 `koanf:"rating"`
	Form         *float64 `koanf:"form"`
	ServeIndex   *float64 `koanf:"serve_index"`
	ReturnIndex  *float64 `koanf:"return_index"`
	AcesPerMatch *float64 `koanf:"aces_per_match"`
}

type headToHeadDoc struct {
	A               string         `koanf:"a"`
	B               string         `koanf:"b"`
	Meetings        int            `koanf:"meetings"`
	WinsA           int            `koanf:"wins_a"`
	SurfaceMeetings map[string]int `koanf:"surface_meetings"`
	SurfaceWinsA    map[string]int `koanf:"surface_wins_a"`
}

type weatherDoc struct {
	Temperature *float64 `koanf:"temperature"`
	Humidity    *float64 `koanf:"humidity"`
	Indoor      *bool    `koanf:"indoor"`
}

type contestDoc struct {
	CompetitorA    string      `koanf:"competitor_a"`
	CompetitorB    string      `koanf:"competitor_b"`
	Surface        string      `koanf:"surface"`
	ScheduledAt    string      `koanf:"scheduled_at"` // RFC 3339
	ImportanceTier int         `koanf:"importance_tier"`
	BestOf         int         `koanf:"best_of"`
	MatchTiebreak  bool        `koanf:"match_tiebreak"`
	Venue          string      `koanf:"venue"`
	Weather        *weatherDoc `koanf:"weather"`
}

type document struct {
	Competitors map[string]competitorDoc `koanf:"competitors"`
	HeadToHead  []headToHeadDoc          `koanf:"head_to_head"`
	Contests    map[string]contestDoc    `koanf:"contests"`
}

// Option configures a Static provider.
type Option func(*Static)

// WithLatency delays every lookup, to exercise timeouts.
func WithLatency(d time.Duration) Option {
	return func(s *Static) { s.latency = d }
}

// Static answers every lookup from an in-memory document. It is safe for
// concurrent use; Put* methods may be called while lookups run.
type Static struct {
	mu          sync.RWMutex
	competitors map[string]model.CompetitorProfile
	h2h         map[string]model.HeadToHead
	contests    map[string]model.Contest
	weather     map[string]model.WeatherReading
	latency     time.Duration
}

var (
	_ features.CompetitorLookup = (*Static)(nil)
	_ features.HeadToHeadLookup = (*Static)(nil)
	_ features.WeatherLookup    = (*Static)(nil)
)

// New creates an empty provider.
func New(opts ...Option) *Static {
	s := &Static{
		competitors: make(map[string]model.CompetitorProfile),
		h2h:         make(map[string]model.HeadToHead),
		contests:    make(map[string]model.Contest),
		weather:     make(map[string]model.WeatherReading),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadFile reads a YAML document from path.
func LoadFile(path string, opts ...Option) (*Static, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load provider data %s: %w", path, err)
	}
	return fromKoanf(k, opts...)
}

func fromKoanf(k *koanf.Koanf, opts ...Option) (*Static, error) {
	var doc document
	if err := k.UnmarshalWithConf("", &doc, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode provider data: %w", err)
	}

	s := New(opts...)
	for id, c := range doc.Competitors {
		s.PutCompetitor(model.CompetitorProfile{
			ID:           id,
			Name:         c.Name,
			Ranking:      c.Ranking,
			Rating:       c.Rating,
			Form:         c.Form,
			ServeIndex:   c.ServeIndex,
			ReturnIndex:  c.ReturnIndex,
			AcesPerMatch: c.AcesPerMatch,
		})
	}
	for _, h := range doc.HeadToHead {
		if h.A == "" || h.B == "" || h.WinsA > h.Meetings {
			return nil, fmt.Errorf("decode provider data: invalid head_to_head %s vs %s", h.A, h.B)
		}
		s.PutHeadToHead(h.A, h.B, model.HeadToHead{
			Meetings:        h.Meetings,
			WinsA:           h.WinsA,
			SurfaceMeetings: h.SurfaceMeetings,
			SurfaceWinsA:    h.SurfaceWinsA,
		})
	}
	for id, c := range doc.Contests {
		contest := model.Contest{
			ID:             id,
			CompetitorA:    c.CompetitorA,
			CompetitorB:    c.CompetitorB,
			Surface:        strings.ToLower(c.Surface),
			ImportanceTier: c.ImportanceTier,
			BestOf:         c.BestOf,
			MatchTiebreak:  c.MatchTiebreak,
			Venue:          c.Venue,
		}
		if c.ScheduledAt != "" {
			at, err := time.Parse(time.RFC3339, c.ScheduledAt)
			if err != nil {
				return nil, fmt.Errorf("decode provider data: contest %s: %w", id, err)
			}
			contest.ScheduledAt = at.UTC()
		}
		s.PutContest(contest)
		if c.Weather != nil {
			s.PutWeather(id, model.WeatherReading{
				Temperature: c.Weather.Temperature,
				Humidity:    c.Weather.Humidity,
				Indoor:      c.Weather.Indoor,
			})
		}
	}
	return s, nil
}

// PutCompetitor adds or replaces a competitor profile.
func (s *Static) PutCompetitor(p model.CompetitorProfile) { //nolint:gocritic // hugeParam
	s.mu.Lock()
	defer s.mu.Unlock()
	s.competitors[p.ID] = p
}

// PutHeadToHead records the history of a against b.
func (s *Static) PutHeadToHead(a, b string, h model.HeadToHead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h2h[pairKey(a, b)] = h
}

// PutContest adds or replaces a contest.
func (s *Static) PutContest(c model.Contest) { //nolint:gocritic // hugeParam
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contests[c.ID] = c
}

// PutWeather sets the expected conditions for a contest.
func (s *Static) PutWeather(contestID string, w model.WeatherReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather[contestID] = w
}

// Competitor implements features.CompetitorLookup.
func (s *Static) Competitor(ctx context.Context, id string) (model.CompetitorProfile, error) {
	if err := s.wait(ctx); err != nil {
		return model.CompetitorProfile{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.competitors[id]
	if !ok {
		return model.CompetitorProfile{}, fmt.Errorf("%w: competitor %s", features.ErrNotFound, id)
	}
	return p, nil
}

// HeadToHead implements features.HeadToHeadLookup. A record stored as b
// against a is mirrored.
func (s *Static) HeadToHead(ctx context.Context, a, b string) (model.HeadToHead, error) {
	if err := s.wait(ctx); err != nil {
		return model.HeadToHead{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.h2h[pairKey(a, b)]; ok {
		return h, nil
	}
	if h, ok := s.h2h[pairKey(b, a)]; ok {
		return mirror(h), nil
	}
	return model.HeadToHead{}, fmt.Errorf("%w: head to head %s vs %s", features.ErrNotFound, a, b)
}

// Weather implements features.WeatherLookup.
func (s *Static) Weather(ctx context.Context, contestID string) (model.WeatherReading, error) {
	if err := s.wait(ctx); err != nil {
		return model.WeatherReading{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.weather[contestID]
	if !ok {
		return model.WeatherReading{}, fmt.Errorf("%w: weather for %s", features.ErrNotFound, contestID)
	}
	return w, nil
}

// Contest returns the contest with id.
func (s *Static) Contest(ctx context.Context, id string) (model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contests[id]
	if !ok {
		return model.Contest{}, fmt.Errorf("%w: contest %s", features.ErrNotFound, id)
	}
	return c, nil
}

// ContestIDs lists known contests in id order.
func (s *Static) ContestIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.contests))
	for id := range s.contests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Static) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

func mirror(h model.HeadToHead) model.HeadToHead {
	out := model.HeadToHead{
		Meetings: h.Meetings,
		WinsA:    h.Meetings - h.WinsA,
	}
	if h.SurfaceMeetings != nil {
		out.SurfaceMeetings = make(map[string]int, len(h.SurfaceMeetings))
		out.SurfaceWinsA = make(map[string]int, len(h.SurfaceMeetings))
		for surface, n := range h.SurfaceMeetings {
			out.SurfaceMeetings[surface] = n
			out.SurfaceWinsA[surface] = n - h.SurfaceWinsA[surface]
		}
	}
	return out
}
