// Package tracker owns the map of currently-active sessions.
//
// A session is one continuous interval during which a (group, user) pair
// satisfies the qualifying activity condition. The tracker only measures
// time; deciding what qualifies is the Policy's job and persisting elapsed
// time is the aggregator's.
package tracker

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/okian/vigil/pkg/metrics"
)

// key identifies at most one active session.
type key struct {
	group string
	user  string
}

// session holds the two timestamps the lifecycle needs. Both come
// from the monotonic clock, never wall time, so system clock changes cannot
// skew measured durations.
type session struct {
	startedAt   time.Time
	lastFlushAt time.Time
}

// ActiveSession is the read-only view handed to the flush task.
type ActiveSession struct {
	Group      string
	User       string
	SinceStart time.Duration
	SinceFlush time.Duration
}

// Tracker is a mutex-guarded active-session map. Presence events for the
// same user arrive sequentially from the upstream source, but the flush task
// reads and mutates the same map from its own timer context, hence the lock.
type Tracker struct {
	mu       sync.Mutex
	clock    quartz.Clock
	sessions map[key]*session
}

// Option applies a configuration option to the Tracker.
type Option func(*Tracker)

// WithClock sets the time source. Tests inject a quartz mock.
func WithClock(c quartz.Clock) Option {
	return func(t *Tracker) {
		if c != nil {
			t.clock = c
		}
	}
}

// New constructs an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		clock:    quartz.NewReal(),
		sessions: make(map[key]*session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start registers a session iff none exists for the key. Duplicate start
// signals are a no-op, not an error. Returns true when a session was opened.
func (t *Tracker) Start(group, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{group: group, user: user}
	if _, exists := t.sessions[k]; exists {
		return false
	}
	now := t.clock.Now()
	t.sessions[k] = &session{startedAt: now, lastFlushAt: now}

	metrics.RecordSessionStarted()
	metrics.UpdateActiveSessions(len(t.sessions))
	return true
}

// Stop closes the session for the key. It returns the total session length
// and the portion not yet covered by a checkpoint; only the unflushed part
// still needs persisting. A stop with no active session returns ok=false;
// duplicate and late stop signals are expected from the upstream and are
// not errors.
func (t *Tracker) Stop(group, user string) (total, unflushed time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := key{group: group, user: user}
	s, exists := t.sessions[k]
	if !exists {
		return 0, 0, false
	}
	delete(t.sessions, k)
	metrics.UpdateActiveSessions(len(t.sessions))
	now := t.clock.Now()
	return now.Sub(s.startedAt), now.Sub(s.lastFlushAt), true
}

// Unflushed returns the elapsed time since the session's last checkpoint
// without mutating it. ok=false when no session exists.
func (t *Tracker) Unflushed(group, user string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.sessions[key{group: group, user: user}]
	if !exists {
		return 0, false
	}
	return t.clock.Since(s.lastFlushAt), true
}

// Checkpoint returns the elapsed time since the last flush and advances the
// flush watermark to now. The session stays open; this is the flush task's
// partial-persistence hook.
func (t *Tracker) Checkpoint(group, user string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.sessions[key{group: group, user: user}]
	if !exists {
		return 0, false
	}
	now := t.clock.Now()
	since := now.Sub(s.lastFlushAt)
	s.lastFlushAt = now
	return since, true
}

// Active reports whether a session exists for the key.
func (t *Tracker) Active(group, user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.sessions[key{group: group, user: user}]
	return exists
}

// ListActive snapshots every open session for the flush task.
func (t *Tracker) ListActive() []ActiveSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	out := make([]ActiveSession, 0, len(t.sessions))
	for k, s := range t.sessions {
		out = append(out, ActiveSession{
			Group:      k.group,
			User:       k.user,
			SinceStart: now.Sub(s.startedAt),
			SinceFlush: now.Sub(s.lastFlushAt),
		})
	}
	return out
}

// Len returns the number of open sessions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
