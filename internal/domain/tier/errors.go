package tier

import "errors"

// Sentinel kinds for tier table errors.
var (
	ErrEmptyTable   = errors.New("empty tier table")
	ErrInvalidTable = errors.New("invalid tier table")
)
