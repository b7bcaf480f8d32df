// Package metrics provides Prometheus metrics for the VIGIL presence tracking service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the VIGIL service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Core Business Metrics - presence tracking
	eventsProcessed   prometheus.Counter
	eventsDuplicate   prometheus.Counter
	sessionsStarted   prometheus.Counter
	sessionsClosed    *prometheus.CounterVec // reason: stop|implicit|shutdown
	sessionsDiscarded prometheus.Counter     // below minimum countable length
	activeSessions    prometheus.Gauge
	mergedSeconds     prometheus.Counter
	mergeErrors       prometheus.Counter
	pendingDeltas     prometheus.Gauge
	trackedUsers      prometheus.Gauge

	// Flush Task Metrics
	flushPasses      prometheus.Counter
	flushCheckpoints prometheus.Counter

	// Reconciliation Metrics
	reconcilePasses    prometheus.Counter
	reconcileFailures  *prometheus.CounterVec // kind: forbidden|transport|missing_tier
	roleMutations      *prometheus.CounterVec // kind: add|remove
	rateLimitPauses    prometheus.Counter
	rateLimitPausedSec prometheus.Counter

	// Queue Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueues      prometheus.Counter
	queueDequeues      prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics
	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "vigil",
		subsystem:        "presence",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
	m.registry.MustRegister(c)
	return c
}

func (m *Manager) counterVec(name, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
	m.registry.MustRegister(c)
	return c
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
	m.registry.MustRegister(g)
	return g
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets,
	})
	m.registry.MustRegister(h)
	return h
}

func (m *Manager) histogramVec(name, help string, labels []string) *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		Buckets: m.histogramBuckets,
	}, labels)
	m.registry.MustRegister(h)
	return h
}

// initializeMetrics registers every metric on the configured registry.
func (m *Manager) initializeMetrics() {
	m.eventsProcessed = m.counter("events_processed_total", "Presence events accepted for processing")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Presence events rejected as duplicates")
	m.sessionsStarted = m.counter("sessions_started_total", "Sessions opened by qualifying transitions")
	m.sessionsClosed = m.counterVec("sessions_closed_total", "Sessions closed, by reason", []string{"reason"})
	m.sessionsDiscarded = m.counter("sessions_discarded_total", "Sessions dropped below the minimum countable length")
	m.activeSessions = m.gauge("active_sessions", "Currently open sessions")
	m.mergedSeconds = m.counter("merged_seconds_total", "Seconds merged into cumulative totals")
	m.mergeErrors = m.counter("merge_errors_total", "Failed store merges (parked for retry)")
	m.pendingDeltas = m.gauge("pending_deltas", "Deltas awaiting store retry")
	m.trackedUsers = m.gauge("tracked_users", "Users with a cumulative total in the store")

	m.flushPasses = m.counter("flush_passes_total", "Periodic flush task wake-ups")
	m.flushCheckpoints = m.counter("flush_checkpoints_total", "Open sessions checkpointed without closing")

	m.reconcilePasses = m.counter("reconcile_passes_total", "Completed reconciliation passes")
	m.reconcileFailures = m.counterVec("reconcile_failures_total", "Per-user reconciliation failures, by kind", []string{"kind"})
	m.roleMutations = m.counterVec("role_mutations_total", "Directory role mutations, by kind", []string{"kind"})
	m.rateLimitPauses = m.counter("rate_limit_pauses_total", "Pass-wide pauses caused by directory rate limiting")
	m.rateLimitPausedSec = m.counter("rate_limit_paused_seconds_total", "Seconds spent sleeping on directory rate limits")

	m.queueSize = m.gauge("queue_size", "Current queued presence events")
	m.queueCapacity = m.gauge("queue_capacity", "Configured queue capacity")
	m.queueUtilization = m.gauge("queue_utilization", "Queue fill ratio 0..1")
	m.queueEnqueues = m.counter("queue_enqueues_total", "Successful enqueues")
	m.queueDequeues = m.counter("queue_dequeues_total", "Successful dequeues")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Rejected enqueues")

	m.workerProcessingLatency = m.histogram("worker_processing_latency_ms", "Per-event processing latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Event processing errors")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests, by endpoint/method/status", []string{"endpoint", "method", "status"})
	m.httpRequestDuration = m.histogramVec("http_request_duration_ms", "HTTP request duration in milliseconds", []string{"endpoint", "method", "status"})

	m.errorsByComponent = m.counterVec("errors_total", "Errors, by component and kind", []string{"component", "kind"})

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Allocated heap bytes")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Current goroutine count")
	m.systemGCPauseTime = m.histogram("system_gc_pause_ms", "Average GC pause in milliseconds")
}

// GetRegistry returns the registry that backs the global manager, for serving /healthz.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers against the global manager.

func RecordEventProcessed()  { globalManager.eventsProcessed.Inc() }
func RecordEventDuplicate()  { globalManager.eventsDuplicate.Inc() }
func RecordSessionStarted()  { globalManager.sessionsStarted.Inc() }
func RecordSessionClosed(reason string) {
	globalManager.sessionsClosed.WithLabelValues(reason).Inc()
}
func RecordSessionDiscarded()      { globalManager.sessionsDiscarded.Inc() }
func UpdateActiveSessions(n int)   { globalManager.activeSessions.Set(float64(n)) }
func RecordMerge(seconds float64)  { globalManager.mergedSeconds.Add(seconds) }
func RecordMergeError()            { globalManager.mergeErrors.Inc() }
func UpdatePendingDeltas(n int)    { globalManager.pendingDeltas.Set(float64(n)) }
func UpdateTrackedUsers(n int)     { globalManager.trackedUsers.Set(float64(n)) }
func RecordFlushPass()             { globalManager.flushPasses.Inc() }
func RecordFlushCheckpoint()       { globalManager.flushCheckpoints.Inc() }
func RecordReconcilePass()         { globalManager.reconcilePasses.Inc() }
func RecordReconcileFailure(kind string) {
	globalManager.reconcileFailures.WithLabelValues(kind).Inc()
}
func RecordRoleMutation(kind string) {
	globalManager.roleMutations.WithLabelValues(kind).Inc()
}
func RecordRateLimitPause(seconds float64) {
	globalManager.rateLimitPauses.Inc()
	globalManager.rateLimitPausedSec.Add(seconds)
}
func UpdateQueueSize(n int)            { globalManager.queueSize.Set(float64(n)) }
func UpdateQueueCapacity(n int)        { globalManager.queueCapacity.Set(float64(n)) }
func UpdateQueueUtilization(f float64) { globalManager.queueUtilization.Set(f) }
func RecordQueueEnqueue()              { globalManager.queueEnqueues.Inc() }
func RecordQueueDequeue()              { globalManager.queueDequeues.Inc() }
func RecordQueueEnqueueError()         { globalManager.queueEnqueueErrors.Inc() }
func RecordWorkerProcessingLatency(ms float64) {
	globalManager.workerProcessingLatency.Observe(ms)
}
func RecordWorkerError() { globalManager.workerErrors.Inc() }
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}
func RecordHTTPRequestDuration(endpoint, method, status string, ms float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, status).Observe(ms)
}
func RecordErrorByComponent(component, kind string) {
	globalManager.errorsByComponent.WithLabelValues(component, kind).Inc()
}
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }
func UpdateSystemGoroutineCount(n int)     { globalManager.systemGoroutineCount.Set(float64(n)) }
func RecordSystemGCPauseTime(ms float64)   { globalManager.systemGCPauseTime.Observe(ms) }
