package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/rally/internal/simulate"
)

const (
	defaultRounds        = 1
	defaultAccuracy      = 0.7
	defaultDuplicateRate = 0.1
	defaultWorkers       = 2 // multiplier for runtime.NumCPU()
	defaultTimeout       = 30 * time.Second
	defaultSettle        = 30 * time.Second
	defaultRunTimeout    = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9090", "Base URL of the engine API")
		dataFile   = flag.String("data", "contests.yaml", "Contest YAML document")
		configID   = flag.String("config", "", "Scoring configuration id (default: server default)")
		rounds     = flag.Int("rounds", defaultRounds, "Predictions per contest")
		accuracy   = flag.Float64("accuracy", defaultAccuracy, "Probability that the favourite wins")
		duplicates = flag.Float64("duplicates", defaultDuplicateRate, "Share of conclusions sent twice")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle     = flag.Duration("settle", defaultSettle, "Time to wait for asynchronous evaluation")
		days       = flag.Int("days", 0, "Drift window in days (default: server default)")
		logFile    = flag.String("log", "", "Log file (default: simulate_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	if err := simulate.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &simulate.Config{
		BaseURL:       *baseURL,
		DataFile:      *dataFile,
		ConfigID:      *configID,
		Rounds:        *rounds,
		Accuracy:      *accuracy,
		DuplicateRate: *duplicates,
		Workers:       *workers,
		Timeout:       *timeout,
		SettleTimeout: *settle,
		DriftDays:     *days,
		Verbose:       *verbose,
	}

	if _, err := simulate.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: cancel is called explicitly above
	}
}
