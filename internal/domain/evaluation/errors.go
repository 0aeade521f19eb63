package evaluation

import "errors"

// Sentinel kinds for evaluation errors.
var (
	// ErrRecordNotPublished is returned for Draft or already Evaluated records.
	ErrRecordNotPublished = errors.New("record not published")
	// ErrInvalidOutcome is returned for an incomplete outcome or a winner who
	// is neither competitor.
	ErrInvalidOutcome = errors.New("invalid realized outcome")
)
