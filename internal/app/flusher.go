package service

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/okian/vigil/internal/adapters/directory"
	"github.com/okian/vigil/internal/domain/aggregate"
	"github.com/okian/vigil/internal/domain/tracker"
	"github.com/okian/vigil/pkg/logger"
	"github.com/okian/vigil/pkg/metrics"
)

// flusher periodically checkpoints open sessions so long-running presence
// does not ride on a single in-memory timestamp, and retries deltas the
// aggregator had to park. When a presence source is available it also
// revalidates that each tracked user still qualifies, closing sessions
// whose stop event was lost.
type flusher struct {
	tracker    *tracker.Tracker
	aggregator *aggregate.Aggregator
	presence   directory.PresenceChecker // optional

	policy     tracker.Policy
	interval   time.Duration
	minSession time.Duration
	clock      quartz.Clock

	log logger.Logger
}

type flusherOption func(*flusher)

func withFlusherInterval(d time.Duration) flusherOption {
	return func(f *flusher) {
		if d > 0 {
			f.interval = d
		}
	}
}

func withFlusherMinSession(d time.Duration) flusherOption {
	return func(f *flusher) {
		if d >= 0 {
			f.minSession = d
		}
	}
}

func withFlusherPolicy(p tracker.Policy) flusherOption {
	return func(f *flusher) {
		f.policy = p
	}
}

func withFlusherPresence(p directory.PresenceChecker) flusherOption {
	return func(f *flusher) {
		f.presence = p
	}
}

func withFlusherClock(c quartz.Clock) flusherOption {
	return func(f *flusher) {
		if c != nil {
			f.clock = c
		}
	}
}

func newFlusher(t *tracker.Tracker, a *aggregate.Aggregator, opts ...flusherOption) *flusher {
	f := &flusher{
		tracker:    t,
		aggregator: a,
		interval:   30 * time.Second,
		minSession: 5 * time.Second,
		clock:      quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = logger.Get().Named("flush")
	}
	return f
}

// Run executes flush passes until ctx is canceled.
func (f *flusher) Run(ctx context.Context) {
	waiter := f.clock.TickerFunc(ctx, f.interval, func() error {
		f.pass(ctx)
		return nil
	}, "flush")
	_ = waiter.Wait()
}

// pass walks every open session once.
func (f *flusher) pass(ctx context.Context) {
	metrics.RecordFlushPass()

	for _, open := range f.tracker.ListActive() {
		if ctx.Err() != nil {
			return
		}
		if f.presence != nil && f.revalidate(ctx, open) {
			continue // session was closed by revalidation
		}
		if open.SinceFlush < f.interval {
			continue
		}
		d, ok := f.tracker.Checkpoint(open.Group, open.User)
		if !ok || d <= 0 {
			continue
		}
		if err := f.aggregator.Merge(ctx, open.Group, open.User, d); err != nil {
			f.log.Error(ctx, "checkpoint merge failed",
				logger.String("group", open.Group),
				logger.String("user", open.User),
				logger.Error(err),
			)
			continue
		}
		metrics.RecordFlushCheckpoint()
	}

	f.aggregator.FlushPending(ctx)
	metrics.UpdatePendingDeltas(f.aggregator.Pending())
	metrics.UpdateActiveSessions(f.tracker.Len())
}

// revalidate asks the presence source whether the user still qualifies and
// closes the session if not. Returns true when the session was closed.
// Checker errors fail open: a flaky presence source must not zero out a
// legitimate session.
func (f *flusher) revalidate(ctx context.Context, open tracker.ActiveSession) bool {
	state, err := f.presence.Presence(ctx, open.Group, open.User)
	if err != nil {
		f.log.Debug(ctx, "presence check failed; keeping session",
			logger.String("group", open.Group),
			logger.String("user", open.User),
			logger.Error(err),
		)
		return false
	}
	if f.policy.Qualifies(state) {
		return false
	}

	total, unflushed, ok := f.tracker.Stop(open.Group, open.User)
	if !ok {
		return true
	}
	if total < f.minSession {
		metrics.RecordSessionDiscarded()
		return true
	}
	if err := f.aggregator.Merge(ctx, open.Group, open.User, unflushed); err != nil {
		f.log.Error(ctx, "merge failed for revoked session",
			logger.String("group", open.Group),
			logger.String("user", open.User),
			logger.Error(err),
		)
		return true
	}
	metrics.RecordSessionClosed("flush")
	f.log.Info(ctx, "closed stale session, user no longer qualifies",
		logger.String("group", open.Group),
		logger.String("user", open.User),
		logger.Duration("total", total),
	)
	return true
}
