package aggregate

import "errors"

// Sentinel kinds for aggregation errors.
var (
	ErrInvalidDelta = errors.New("invalid negative merge delta")
)
