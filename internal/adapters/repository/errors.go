package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound    = errors.New("total not found")
	ErrInvalidN    = errors.New("invalid top-n limit")
	ErrUnavailable = errors.New("store unavailable")
)
