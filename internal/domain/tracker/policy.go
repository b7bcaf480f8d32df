package tracker

import "github.com/okian/vigil/internal/domain/model"

// Policy decides whether a presence state qualifies for tracking.
//
// With RequireBroadcast unset, a user qualifies by being in an activity
// channel. With it set, both conditions must hold and the loss of either one
// ends the session. The dual-condition form is the superset; deployments
// pick the policy in configuration.
type Policy struct {
	RequireBroadcast bool
}

// Qualifies reports whether s satisfies the policy.
func (p Policy) Qualifies(s model.PresenceState) bool {
	if !s.InChannel {
		return false
	}
	if p.RequireBroadcast && !s.Broadcasting {
		return false
	}
	return true
}

// Transition classifies a before/after pair. A start fires only on the
// not-qualifying -> qualifying edge, a stop only on the reverse; everything
// else is a no-op. This is what keeps flapping inputs idempotent.
type Transition int

const (
	// None means no tracking action.
	None Transition = iota
	// StartSession means the user began qualifying.
	StartSession
	// StopSession means the user stopped qualifying.
	StopSession
)

// Classify maps a presence change to a tracking action.
func (p Policy) Classify(before, after model.PresenceState) Transition {
	was, is := p.Qualifies(before), p.Qualifies(after)
	switch {
	case !was && is:
		return StartSession
	case was && !is:
		return StopSession
	default:
		return None
	}
}
