// Package aggregate merges closed or checkpointed session time into the
// persistent cumulative totals.
package aggregate

import (
	"context"
	"sync"
	"time"

	"github.com/okian/vigil/internal/adapters/repository"
	"github.com/okian/vigil/pkg/logger"
	"github.com/okian/vigil/pkg/metrics"
)

// Default aggregator configuration constants.
const (
	defaultStoreTimeout = 5 * time.Second
)

type key struct {
	group string
	user  string
}

// Aggregator performs additive merges against the totals store. Store
// failures never surface to the presence-event path: the delta is parked in
// an in-memory pending buffer and retried by the flush task, so a session's
// time survives a transient store outage.
type Aggregator struct {
	store   repository.Store
	timeout time.Duration
	log     logger.Logger

	mu      sync.Mutex
	pending map[key]int64
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithTimeout bounds each store write. The presence-event consumer must
// never block indefinitely on the store.
func WithTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// New constructs an Aggregator over the given store.
func New(store repository.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:   store,
		timeout: defaultStoreTimeout,
		pending: make(map[key]int64),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.Get().Named("aggregator")
	}
	return a
}

// Merge adds delta to the cumulative total for (group, user).
//
// A negative delta is a programmer error and returns ErrInvalidDelta without
// touching the store. Sub-second remainders are truncated; a zero-second
// delta is a successful no-op. A store failure parks the delta for retry and
// is reported as success to the caller — the time is not lost, only late.
func (a *Aggregator) Merge(ctx context.Context, group, user string, delta time.Duration) error {
	if delta < 0 {
		return ErrInvalidDelta
	}
	seconds := int64(delta / time.Second)
	if seconds == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if _, err := a.store.Merge(cctx, group, user, seconds); err != nil {
		a.park(group, user, seconds)
		a.log.Warn(ctx, "store merge failed; delta parked for retry",
			logger.String("group", group),
			logger.String("user", user),
			logger.Int64("seconds", seconds),
			logger.Error(err),
		)
		metrics.RecordMergeError()
		return nil
	}

	metrics.RecordMerge(float64(seconds))
	return nil
}

// FlushPending retries every parked delta. Entries that fail again stay
// parked. Called from the periodic flush task.
func (a *Aggregator) FlushPending(ctx context.Context) {
	a.mu.Lock()
	retry := make(map[key]int64, len(a.pending))
	for k, v := range a.pending {
		retry[k] = v
	}
	a.pending = make(map[key]int64)
	a.mu.Unlock()

	for k, seconds := range retry {
		cctx, cancel := context.WithTimeout(ctx, a.timeout)
		_, err := a.store.Merge(cctx, k.group, k.user, seconds)
		cancel()
		if err != nil {
			a.park(k.group, k.user, seconds)
			metrics.RecordMergeError()
			continue
		}
		metrics.RecordMerge(float64(seconds))
	}

	metrics.UpdatePendingDeltas(a.Pending())
}

// Pending returns the number of keys with parked deltas.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator) park(group, user string, seconds int64) {
	a.mu.Lock()
	a.pending[key{group: group, user: user}] += seconds
	n := len(a.pending)
	a.mu.Unlock()
	metrics.UpdatePendingDeltas(n)
}
