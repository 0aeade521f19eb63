package simulate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/rally/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		if err := logger.SetLevelString("debug"); err != nil {
			return err
		}
	}

	if logFile == "" {
		logFile = "simulate_" + time.Now().Format("20060102_150405") + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	if err := logger.SetFormat("text"); err != nil {
		return err
	}
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Rally Simulator
===============

Generates predictions for every contest in a data file, concludes the
contests with random winners and reports the drift snapshot.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string
        Base URL of the engine API (default "http://localhost:9090")
  -data string
        Contest YAML document (default "contests.yaml")
  -config string
        Scoring configuration id (default: server default)
  -rounds int
        Predictions per contest (default 1)
  -accuracy float
        Probability that the favourite wins (default 0.7)
  -duplicates float
        Share of conclusions sent twice (default 0.1)
  -workers int
        Number of concurrent workers (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 30s)
  -settle duration
        Time to wait for asynchronous evaluation (default 30s)
  -days int
        Drift window in days (default: server default)
  -log string
        Log file (default: simulate_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  go run ./cmd/simulate -data internal/adapters/provider/testdata/contests.yaml
  go run ./cmd/simulate -rounds 5 -accuracy 0.4 -config aggressive-v2
`)
}
