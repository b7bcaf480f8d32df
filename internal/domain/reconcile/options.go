package reconcile

import (
	"time"

	"github.com/coder/quartz"
	"github.com/okian/vigil/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithGroups sets the groups reconciled by Run and ReconcileAll.
func WithGroups(groups []string) Option {
	return func(e *Engine) {
		e.groups = groups
	}
}

// WithInterval sets the periodic pass interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithMutationDelay sets the fixed delay after each directory mutation.
func WithMutationDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.mutationDelay = d
		}
	}
}

// WithGroupDelay sets the delay between consecutive group passes.
func WithGroupDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.groupDelay = d
		}
	}
}

// WithMaxRanked caps how many users one pass considers.
func WithMaxRanked(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRanked = n
		}
	}
}

// WithClock sets the time source. Tests inject a quartz mock.
func WithClock(c quartz.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
