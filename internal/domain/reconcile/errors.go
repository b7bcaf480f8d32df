package reconcile

import "errors"

// Sentinel kinds for reconciliation errors.
var (
	// ErrMissingTier aborts a group's pass: a partial tier table must not
	// produce partial, inconsistent reassignment.
	ErrMissingTier = errors.New("tier role not resolvable in directory")
)
