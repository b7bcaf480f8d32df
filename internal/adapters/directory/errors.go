package directory

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds for directory errors.
var (
	// ErrForbidden is a per-user permission failure: log, skip, continue.
	ErrForbidden = errors.New("directory forbidden")
	// ErrNotFound covers unknown members or roles.
	ErrNotFound = errors.New("directory resource not found")
	// ErrTransport is any other request failure: log, skip, continue.
	ErrTransport = errors.New("directory transport error")
)

// RateLimitError pauses the whole reconciliation pass for RetryAfter.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("directory rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit extracts a RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
