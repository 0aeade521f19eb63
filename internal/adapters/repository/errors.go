package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("prediction not found")
	ErrDuplicateKey  = errors.New("duplicate prediction")
	ErrConflict      = errors.New("prediction is no longer published")
	ErrInvalidRecord = errors.New("invalid prediction record")
	ErrClosed        = errors.New("store is closed")
)
