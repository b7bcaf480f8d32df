package service

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrReconcileDisabled = errors.New("reconciliation not configured")
	ErrUnknownGroup      = errors.New("group not configured for reconciliation")
)
