package features

import "errors"

// Sentinel kinds for feature collection.
var (
	// ErrUnknownCompetitor aborts generation: a competitor id did not resolve.
	ErrUnknownCompetitor = errors.New("unknown competitor")
	// ErrInvalidRequest is returned for empty or identical competitor ids.
	ErrInvalidRequest = errors.New("invalid feature request")
	// ErrNotFound is returned by lookups that have no data for the key.
	ErrNotFound = errors.New("not found")
)
