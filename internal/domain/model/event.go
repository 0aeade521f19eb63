package model

import "time"

// RealizedOutcome is what actually happened in a concluded contest.
type RealizedOutcome struct {
	WinnerID        string    `json:"winner_id"`
	Score           string    `json:"score"`
	DurationMinutes int       `json:"duration_minutes"`
	SetCount        int       `json:"set_count"`
	ConcludedAt     time.Time `json:"concluded_at"`
}

// ConclusionEvent announces that a contest finished.
type ConclusionEvent struct {
	EventID   string
	ContestID string
	Outcome   RealizedOutcome
	TS        time.Time
}
