// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/okian/vigil/internal/adapters/directory"
	eventqueue "github.com/okian/vigil/internal/adapters/mq/queue"
	"github.com/okian/vigil/internal/adapters/mq/worker"
	"github.com/okian/vigil/internal/adapters/repository"
	"github.com/okian/vigil/internal/domain/aggregate"
	"github.com/okian/vigil/internal/domain/dedupe"
	"github.com/okian/vigil/internal/domain/model"
	"github.com/okian/vigil/internal/domain/reconcile"
	"github.com/okian/vigil/internal/domain/tracker"
	"github.com/okian/vigil/pkg/logger"
	"github.com/okian/vigil/pkg/metrics"
)

// Service owns the presence pipeline: dedupe, queue, consumer, tracker,
// aggregator, flush task and the optional role reconciler.
type Service struct {
	// Core components
	store      repository.Store
	deduper    dedupe.Deduper
	eventQueue eventqueue.Queue
	tracker    *tracker.Tracker
	aggregator *aggregate.Aggregator
	consumer   *worker.Consumer
	flusher    *flusher
	reconciler *reconcile.Engine

	// Optional presence source the flush task revalidates against.
	presence directory.PresenceChecker

	// Configuration
	queueSize     int
	dedupeSize    int
	minSession    time.Duration
	flushInterval time.Duration
	storeTimeout  time.Duration
	policy        tracker.Policy
	clock         quartz.Clock

	// State
	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the totals backend. Defaults to the in-memory store.
func WithStore(s repository.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(svc *Service) {
		if size > 0 {
			svc.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(svc *Service) {
		if size > 0 {
			svc.dedupeSize = size
		}
	}
}

// WithMinSession sets the minimum session length worth persisting.
func WithMinSession(d time.Duration) Option {
	return func(svc *Service) {
		if d >= 0 {
			svc.minSession = d
		}
	}
}

// WithFlushInterval sets how often open sessions are checkpointed.
func WithFlushInterval(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.flushInterval = d
		}
	}
}

// WithStoreTimeout bounds individual store operations.
func WithStoreTimeout(d time.Duration) Option {
	return func(svc *Service) {
		if d > 0 {
			svc.storeTimeout = d
		}
	}
}

// WithPolicy sets the qualifying-condition policy.
func WithPolicy(p tracker.Policy) Option {
	return func(svc *Service) {
		svc.policy = p
	}
}

// WithPresenceChecker lets the flush task revalidate open sessions
// against a live presence source.
func WithPresenceChecker(p directory.PresenceChecker) Option {
	return func(svc *Service) {
		svc.presence = p
	}
}

// WithReconciler attaches a pre-built role reconciliation engine.
func WithReconciler(e *reconcile.Engine) Option {
	return func(svc *Service) {
		svc.reconciler = e
	}
}

// WithClock substitutes the time source, for tests.
func WithClock(c quartz.Clock) Option {
	return func(svc *Service) {
		if c != nil {
			svc.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:     10_000,
		dedupeSize:    50_000,
		minSession:    5 * time.Second,
		flushInterval: 30 * time.Second,
		storeTimeout:  5 * time.Second,
		clock:         quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting presence service...")

	if s.store == nil {
		s.store = repository.NewMemStore()
		s.logger.Info(ctx, "using in-memory store")
	}
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
	)
	s.tracker = tracker.New(tracker.WithClock(s.clock))
	s.aggregator = aggregate.New(s.store,
		aggregate.WithTimeout(s.storeTimeout),
	)
	s.consumer = worker.New(s.eventQueue, s.tracker, s.aggregator,
		worker.WithPolicy(s.policy),
		worker.WithMinSession(s.minSession),
	)
	s.flusher = newFlusher(s.tracker, s.aggregator,
		withFlusherInterval(s.flushInterval),
		withFlusherMinSession(s.minSession),
		withFlusherPolicy(s.policy),
		withFlusherPresence(s.presence),
		withFlusherClock(s.clock),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	go s.consumer.Run(runCtx)
	go s.flusher.Run(runCtx)
	if s.reconciler != nil {
		go s.reconciler.Run(runCtx)
	}

	s.started = true
	s.logger.Info(ctx, "presence service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("flushInterval", s.flushInterval),
		logger.Duration("minSession", s.minSession),
		logger.Bool("reconcile", s.reconciler != nil),
	)
	return nil
}

// Stop gracefully shuts down the service, draining the queue and
// persisting whatever the open sessions have accrued so far.
func (s *Service) Stop(ctx context.Context) {
	if !s.started {
		return
	}

	s.logger.Info(ctx, "stopping presence service...")

	// Closing the queue lets the consumer drain what is already buffered.
	_ = s.eventQueue.Close()
	if err := s.consumer.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "consumer did not drain in time", logger.Error(err))
	}

	// Stop the periodic tasks before the final flush so they do not race it.
	s.cancel()

	s.finalFlush(ctx)

	if closer, ok := s.store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}

	s.started = false
	s.logger.Info(ctx, "presence service stopped")
}

// finalFlush checkpoints every open session so accrued time survives a
// restart. Sessions stay open server-side; the next event stream will
// re-derive them.
func (s *Service) finalFlush(ctx context.Context) {
	for _, open := range s.tracker.ListActive() {
		if open.SinceFlush <= 0 {
			continue
		}
		if d, ok := s.tracker.Checkpoint(open.Group, open.User); ok && d > 0 {
			if err := s.aggregator.Merge(ctx, open.Group, open.User, d); err != nil {
				s.logger.Warn(ctx, "final checkpoint failed",
					logger.String("group", open.Group),
					logger.String("user", open.User),
					logger.Error(err),
				)
			}
		}
	}
	s.aggregator.FlushPending(ctx)
}

// SeenAndRecord atomically checks if an event id was seen and records it
// if not. Returns true if the event was already seen.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	seen := s.deduper.SeenAndRecord(ctx, id)
	if seen {
		metrics.RecordEventDuplicate()
	}
	return seen
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Enqueue submits a presence event for asynchronous processing.
func (s *Service) Enqueue(ctx context.Context, e model.PresenceEvent) bool {
	ok := s.eventQueue.Enqueue(ctx, e)
	if !ok {
		s.logger.Warn(ctx, "event dropped, queue full or closed",
			logger.String("eventID", e.EventID),
			logger.String("group", e.GroupID),
			logger.String("user", e.UserID),
		)
	}
	return ok
}

// TopN returns the top n users of a group by accumulated time.
func (s *Service) TopN(ctx context.Context, group string, n int) ([]model.Total, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.TopN(ctx, group, n)
}

// Total returns one user's accumulated time.
func (s *Service) Total(ctx context.Context, group, user string) (model.Total, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Total(ctx, group, user)
}

// ResetUser zeroes a user's accumulated time and drops any open session.
func (s *Service) ResetUser(ctx context.Context, group, user string) (bool, error) {
	s.tracker.Stop(group, user)
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Reset(ctx, group, user)
}

// ReconcileSummary is one group's on-demand pass outcome. Error carries the
// reason when the pass aborted for that group.
type ReconcileSummary struct {
	reconcile.Summary
	Error string `json:"error,omitempty"`
}

// ForceReconcile triggers one reconciliation pass. With an empty group it
// covers every configured group; a pass failure is reported in that group's
// summary and does not stop the remaining groups.
func (s *Service) ForceReconcile(ctx context.Context, group string) (map[string]ReconcileSummary, error) {
	if s.reconciler == nil {
		return nil, ErrReconcileDisabled
	}

	groups := s.reconciler.Groups()
	if group != "" {
		known := false
		for _, g := range groups {
			if g == group {
				known = true
				break
			}
		}
		if !known {
			return nil, ErrUnknownGroup
		}
		groups = []string{group}
	}

	summaries := make(map[string]ReconcileSummary, len(groups))
	for _, g := range groups {
		summary, err := s.reconciler.RunPass(ctx, g)
		if err != nil {
			s.logger.Warn(ctx, "on-demand reconciliation pass failed",
				logger.String("group", g),
				logger.Error(err),
			)
			summaries[g] = ReconcileSummary{Summary: summary, Error: err.Error()}
			continue
		}
		summaries[g] = ReconcileSummary{Summary: summary}
	}
	return summaries, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"started":       s.started,
		"queueSize":     s.queueSize,
		"dedupeSize":    s.dedupeSize,
		"minSession":    s.minSession.String(),
		"flushInterval": s.flushInterval.String(),
		"reconcile":     s.reconciler != nil,
	}

	if s.started {
		ctx := context.Background()
		stats["queueLength"] = s.eventQueue.Len(ctx)
		stats["openSessions"] = s.tracker.Len()
		stats["pendingDeltas"] = s.aggregator.Pending()
		stats["dedupeEntries"] = s.deduper.Size()

		metrics.UpdateQueueSize(s.eventQueue.Len(ctx))
		metrics.UpdateActiveSessions(s.tracker.Len())
		metrics.UpdatePendingDeltas(s.aggregator.Pending())
	}

	return stats
}
