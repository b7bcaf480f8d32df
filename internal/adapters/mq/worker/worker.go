// Package worker consumes presence events and drives the session tracker.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/vigil/internal/adapters/mq/queue"
	"github.com/okian/vigil/internal/domain/tracker"
	"github.com/okian/vigil/pkg/logger"
	"github.com/okian/vigil/pkg/metrics"
)

// Default consumer configuration constants.
const (
	defaultMinSession = 5 * time.Second
)

// Event is what the consumer reads off the queue.
type Event = queue.Event

// Tracker is the session-tracker contract the consumer drives.
type Tracker interface {
	Start(group, user string) bool
	Stop(group, user string) (total, unflushed time.Duration, ok bool)
}

// Merger persists a closed session's elapsed time.
type Merger interface {
	Merge(ctx context.Context, group, user string, delta time.Duration) error
}

// Queue defines how the consumer receives events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Consumer is the single event-processing loop. The upstream source
// delivers events for the same user sequentially, so one owner task keeps
// session transitions ordered without per-key locking here.
type Consumer struct {
	queue   Queue
	tracker Tracker
	merger  Merger

	policy     tracker.Policy
	minSession time.Duration

	shutdown chan struct{}
	done     chan struct{}

	log logger.Logger
}

// New creates a consumer with configuration options.
func New(q Queue, t Tracker, m Merger, opts ...Option) *Consumer {
	c := &Consumer{
		queue:      q,
		tracker:    t,
		merger:     m,
		minSession: defaultMinSession,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("consumer")
	}
	return c
}

// Run processes events until ctx is canceled or the queue closes. A
// Shutdown request does not break off mid-stream: the loop keeps consuming
// until the (already closed) queue hands over everything it buffered.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)

	events := c.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			c.drain(ctx, events)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.processEvent(ctx, event)
		}
	}
}

// drain consumes the remaining buffered events after a shutdown request,
// exiting when the queue channel closes or ctx is canceled.
func (c *Consumer) drain(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.processEvent(ctx, event)
		}
	}
}

// Shutdown gracefully stops the consumer. Close the queue first; Shutdown
// returns once every buffered event has been processed, or with an error
// when ctx expires before the drain finishes.
func (c *Consumer) Shutdown(ctx context.Context) error {
	close(c.shutdown)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		c.log.Warn(ctx, "consumer shutdown timed out")
		return fmt.Errorf("consumer shutdown: %w", ctx.Err())
	}
}

// processEvent applies one presence change. Failures on this path are
// logged and absorbed; nothing here may propagate back to the event
// dispatcher.
func (c *Consumer) processEvent(ctx context.Context, event Event) {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	group, user := event.Key()

	switch c.policy.Classify(event.Before, event.After) {
	case tracker.StartSession:
		if c.tracker.Start(group, user) {
			c.log.Debug(ctx, "session started",
				logger.String("group", group),
				logger.String("user", user),
			)
		}

	case tracker.StopSession:
		total, unflushed, ok := c.tracker.Stop(group, user)
		if !ok {
			// late or duplicate stop; nothing to do
			return
		}
		// The minimum applies to the whole session; any checkpointed
		// portion already made it past the bar.
		if total < c.minSession {
			metrics.RecordSessionDiscarded()
			c.log.Debug(ctx, "session below minimum length; discarded",
				logger.String("group", group),
				logger.String("user", user),
				logger.Duration("elapsed", total),
			)
			return
		}
		if err := c.merger.Merge(ctx, group, user, unflushed); err != nil {
			metrics.RecordWorkerError()
			c.log.Error(ctx, "merge failed for closed session",
				logger.String("group", group),
				logger.String("user", user),
				logger.Duration("elapsed", unflushed),
				logger.Error(err),
			)
			return
		}
		metrics.RecordSessionClosed("stop")
		c.log.Debug(ctx, "session closed",
			logger.String("group", group),
			logger.String("user", user),
			logger.Duration("total", total),
			logger.Duration("merged", unflushed),
		)

	case tracker.None:
		// no qualifying-condition edge; ignore
	}

	metrics.RecordEventProcessed()
}
