// Package simulate drives a running engine over HTTP: it generates
// predictions for a contest document, concludes the contests with random
// outcomes and reports the resulting drift snapshot.
package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/rally/internal/adapters/provider"
	"github.com/okian/rally/pkg/logger"
)

const (
	settlePoll       = 200 * time.Millisecond
	percentageFactor = 100
)

// ErrNotSettled is returned when evaluations do not show up in the drift
// window before the settle timeout.
var ErrNotSettled = errors.New("evaluations did not settle")

// Run executes a complete simulation and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	log := logger.Get().Named("simulate")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", config.BaseURL),
		logger.String("dataFile", config.DataFile),
		logger.Int("rounds", config.Rounds),
		logger.Int("workers", config.Workers),
		logger.Float64("accuracy", config.Accuracy),
	)

	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Rounds <= 0 {
		config.Rounds = 1
	}
	client := newHTTPClient(config.Timeout)

	if err := client.getJSON(ctx, config.BaseURL+"/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	data, err := provider.LoadFile(config.DataFile)
	if err != nil {
		return stats, fmt.Errorf("load contests: %w", err)
	}
	contests := data.ContestIDs()
	stats.Contests = len(contests)
	if len(contests) == 0 {
		return stats, fmt.Errorf("no contests in %s", config.DataFile)
	}

	byContest := generatePredictions(ctx, client, config, contests, stats)
	if stats.PredictionsCreated == 0 {
		return stats, errors.New("no prediction was created")
	}

	// Anything created before this instant falls outside the drift baseline.
	baseline, err := driftSamples(ctx, client, config)
	if err != nil {
		return stats, err
	}

	submitConclusions(ctx, client, config, byContest, stats)

	expected := baseline + stats.PredictionsCreated
	if err := waitForDrift(ctx, client, config, expected, stats); err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	return stats, nil
}

// generatePredictions requests Rounds predictions per contest concurrently
// and groups the created ones by contest.
func generatePredictions(ctx context.Context, client *HTTPClient, config *Config, contests []string, stats *Stats) map[string][]prediction {
	type job struct{ contestID string }

	var (
		mu        sync.Mutex
		byContest = make(map[string][]prediction, len(contests))
		created   int64
		failed    int64
		wg        sync.WaitGroup
		jobs      = make(chan job, config.Workers*2)
		url       = config.BaseURL + "/predictions"
	)

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				status, body, err := client.postJSON(ctx, url, map[string]string{
					"contest_id": j.contestID,
					"config_id":  config.ConfigID,
				})
				if err != nil || status != http.StatusCreated {
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						logger.Get().Warn(ctx, "prediction failed",
							logger.String("contest_id", j.contestID),
							logger.Int("status", status),
							logger.String("body", string(body)),
						)
					}
					continue
				}
				var p prediction
				if err := json.Unmarshal(body, &p); err != nil {
					atomic.AddInt64(&failed, 1)
					continue
				}
				atomic.AddInt64(&created, 1)
				mu.Lock()
				byContest[p.ContestID] = append(byContest[p.ContestID], p)
				mu.Unlock()
			}
		}()
	}

	for r := 0; r < config.Rounds; r++ {
		for _, id := range contests {
			select {
			case <-ctx.Done():
			case jobs <- job{contestID: id}:
				stats.PredictionsRequested++
			}
		}
	}
	close(jobs)
	wg.Wait()

	stats.PredictionsCreated = int(created)
	stats.PredictionsFailed = int(failed)
	return byContest
}

// submitConclusions sends one conclusion per predicted contest, resending a
// share of them to exercise deduplication.
func submitConclusions(ctx context.Context, client *HTTPClient, config *Config, byContest map[string][]prediction, stats *Stats) {
	url := config.BaseURL + "/conclusions"
	now := time.Now()

	for contestID, preds := range byContest {
		ev, favouriteWon := conclude(&preds[0], config.Accuracy, now)
		if favouriteWon {
			stats.FavouritesWon++
		}

		sends := 1
		if getRandomFloat() < config.DuplicateRate {
			sends = 2
		}
		for i := 0; i < sends; i++ {
			stats.ConclusionsSent++
			status, body, err := client.postJSON(ctx, url, ev)
			if err != nil {
				stats.ConclusionsFailed++
				continue
			}
			var ack ackResponse
			_ = json.Unmarshal(body, &ack)
			switch {
			case status == http.StatusAccepted:
				stats.ConclusionsAccepted++
			case status == http.StatusOK && ack.Duplicate:
				stats.ConclusionsDuplicate++
			default:
				stats.ConclusionsFailed++
				logger.Get().Warn(ctx, "conclusion rejected",
					logger.String("contest_id", contestID),
					logger.Int("status", status),
				)
			}
		}
	}
}

func driftURL(config *Config) string {
	url := config.BaseURL + "/drift/" + config.ConfigID
	if config.DriftDays > 0 {
		url += fmt.Sprintf("?days=%d", config.DriftDays)
	}
	return url
}

func driftSamples(ctx context.Context, client *HTTPClient, config *Config) (int, error) {
	var report DriftReport
	if err := client.getJSON(ctx, driftURL(config), &report); err != nil {
		return 0, fmt.Errorf("query drift: %w", err)
	}
	return report.SampleCount, nil
}

// waitForDrift polls the drift endpoint until expected evaluations are in
// the window.
func waitForDrift(ctx context.Context, client *HTTPClient, config *Config, expected int, stats *Stats) error {
	deadline := time.Now().Add(config.SettleTimeout)
	ticker := time.NewTicker(settlePoll)
	defer ticker.Stop()

	for {
		if err := client.getJSON(ctx, driftURL(config), &stats.Drift); err != nil {
			return fmt.Errorf("query drift: %w", err)
		}
		if stats.Drift.SampleCount >= expected {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %d of %d evaluations visible", ErrNotSettled, stats.Drift.SampleCount, expected)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// displayFinalStats logs the final run statistics.
func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var favouriteRate float64
	if concluded := stats.ConclusionsAccepted; concluded > 0 {
		favouriteRate = float64(stats.FavouritesWon) / float64(concluded) * percentageFactor
	}

	log.Info(ctx, "final statistics",
		logger.Int("contests", stats.Contests),
		logger.Int("predictionsCreated", stats.PredictionsCreated),
		logger.Int("predictionsFailed", stats.PredictionsFailed),
		logger.Int("conclusionsAccepted", stats.ConclusionsAccepted),
		logger.Int("conclusionsDuplicate", stats.ConclusionsDuplicate),
		logger.Int("conclusionsFailed", stats.ConclusionsFailed),
		logger.Float64("favouriteWinRate", favouriteRate),
		logger.Int("driftSamples", stats.Drift.SampleCount),
		logger.Float64("driftAccuracy", stats.Drift.MeanAccuracy),
		logger.String("driftVerdict", stats.Drift.Verdict),
		logger.Duration("duration", stats.Duration),
	)
}
