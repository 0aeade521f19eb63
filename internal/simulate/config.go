package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL       string        // Base URL of the engine API
	DataFile      string        // YAML contest document, same format the engine loads
	ConfigID      string        // Scoring configuration to predict with; empty uses the server default
	Rounds        int           // Predictions generated per contest
	Accuracy      float64       // Probability that the predicted favourite wins the simulated contest
	DuplicateRate float64       // Share of conclusion events sent twice
	Workers       int           // Number of concurrent workers
	Timeout       time.Duration // HTTP request timeout
	SettleTimeout time.Duration // How long to wait for asynchronous evaluation
	DriftDays     int           // Drift window queried at the end
	Verbose       bool          // Enable verbose logging
}

// prediction is the subset of a published record the simulator reads.
type prediction struct {
	ID              string  `json:"id"`
	ContestID       string  `json:"contest_id"`
	ConfigID        string  `json:"config_id"`
	CompetitorA     string  `json:"competitor_a"`
	CompetitorB     string  `json:"competitor_b"`
	PredictedWinner string  `json:"predicted_winner"`
	ProbabilityA    float64 `json:"probability_a"`
	Confidence      float64 `json:"confidence"`
}

// conclusion is the body of POST /conclusions.
type conclusion struct {
	EventID         string `json:"event_id"`
	ContestID       string `json:"contest_id"`
	TS              string `json:"ts"`
	WinnerID        string `json:"winner_id"`
	Score           string `json:"score"`
	DurationMinutes int    `json:"duration_minutes"`
}

// ackResponse is the response to a conclusion submission.
type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// DriftReport is the drift snapshot returned at the end of a run.
type DriftReport struct {
	ConfigID      string  `json:"config_id"`
	SampleCount   int     `json:"sample_count"`
	MeanAccuracy  float64 `json:"mean_accuracy"`
	MeanBrier     float64 `json:"mean_brier"`
	OutlierRate   float64 `json:"outlier_rate"`
	Verdict       string  `json:"verdict"`
	DriftDetected bool    `json:"drift_detected"`
}

// Stats holds run statistics.
type Stats struct {
	Contests             int
	PredictionsRequested int
	PredictionsCreated   int
	PredictionsFailed    int
	ConclusionsSent      int
	ConclusionsAccepted  int
	ConclusionsDuplicate int
	ConclusionsFailed    int
	FavouritesWon        int
	Drift                DriftReport
	StartTime            time.Time
	EndTime              time.Time
	Duration             time.Duration
}
