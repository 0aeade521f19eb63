package model

import "time"

// Contest describes a scheduled match between two competitors.
type Contest struct {
	ID          string
	CompetitorA string
	CompetitorB string
	Surface     string
	ScheduledAt time.Time
	// ImportanceTier is an ordinal 1..N; 0 means unknown.
	ImportanceTier int
	// BestOf is the number of sets in the format; 0 means unknown.
	BestOf int
	// MatchTiebreak marks formats that decide the final set with a match tie-break.
	MatchTiebreak bool
	Venue         string
}

// CompetitorProfile is what the competitor lookup knows about a player.
// Nil fields are unknown.
type CompetitorProfile struct {
	ID           string
	Name         string
	Ranking      *int
	Rating       *float64
	Form         *float64 // recent win ratio in [0,1]
	ServeIndex   *float64
	ReturnIndex  *float64
	AcesPerMatch *float64
}

// HeadToHead is the direct record of A against B.
type HeadToHead struct {
	Meetings int
	WinsA    int
	// Per-surface meetings and wins for A, keyed by surface identifier.
	SurfaceMeetings map[string]int
	SurfaceWinsA    map[string]int
}

// WeatherReading is the expected conditions for a contest. Nil fields are unknown.
type WeatherReading struct {
	Temperature *float64
	Humidity    *float64
	Indoor      *bool
}
