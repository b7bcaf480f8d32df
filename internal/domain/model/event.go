// Package model contains domain models passed between layers.
package model

import "time"

// PresenceState is the slice of a user's presence that tracking cares about.
type PresenceState struct {
	InChannel    bool // connected to a monitored activity channel
	Broadcasting bool // streaming/broadcasting flag
}

// PresenceEvent represents one presence-change delivered by the chat-platform
// client. Before/After carry the state on each side of the transition.
type PresenceEvent struct {
	EventID string // unique id for idempotency
	GroupID string
	UserID  string
	Before  PresenceState
	After   PresenceState
	TS      time.Time
}

// Key returns the (group, user) identity the event applies to.
func (e PresenceEvent) Key() (string, string) {
	return e.GroupID, e.UserID
}

// Total is one cumulative time-on-activity record.
// Seconds only ever grows; the record is removed only by administrative reset.
type Total struct {
	GroupID     string
	UserID      string
	Seconds     int64
	LastUpdated time.Time
}
