package worker

import (
	"time"

	"github.com/okian/vigil/internal/domain/tracker"
	"github.com/okian/vigil/pkg/logger"
)

// Option configures a Consumer.
type Option func(*Consumer)

// WithPolicy sets the transition policy used to classify events.
func WithPolicy(p tracker.Policy) Option {
	return func(c *Consumer) {
		c.policy = p
	}
}

// WithMinSession sets the minimum session length worth persisting.
// Sessions shorter than this are discarded on close.
func WithMinSession(d time.Duration) Option {
	return func(c *Consumer) {
		if d >= 0 {
			c.minSession = d
		}
	}
}

// WithLogger sets the consumer's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Consumer) {
		c.log = l
	}
}
