package service

import "errors"

// Sentinel kinds for engine errors.
var (
	// ErrUnknownConfig is returned for a scoring configuration id that is not registered.
	ErrUnknownConfig = errors.New("unknown scoring config")
	// ErrUnknownContest is returned when the contest lookup has no such contest.
	ErrUnknownContest = errors.New("unknown contest")
	// ErrQueueFull is returned when a conclusion event cannot be buffered.
	ErrQueueFull = errors.New("conclusion queue full")
	// ErrNotStarted is returned by asynchronous operations before Start or after Stop.
	ErrNotStarted = errors.New("engine not started")
	// ErrInvalidEvent is returned for conclusion events missing ids or a winner.
	ErrInvalidEvent = errors.New("invalid conclusion event")
)
