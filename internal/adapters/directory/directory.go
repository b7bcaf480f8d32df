// Package directory is the client side of the external directory service:
// role listings, member lookups, and the role mutations the reconciliation
// engine applies.
package directory

import (
	"context"

	"github.com/okian/vigil/internal/domain/model"
)

// Role is one tag/role known to the directory.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Member is the directory's view of one user in a group.
type Member struct {
	Roles []string `json:"roles"`
}

// Directory exposes the queries and mutations the reconciliation engine
// needs. Mutations may fail per the error taxonomy in errors.go; callers
// decide whether a failure skips the user or pauses the pass.
type Directory interface {
	// ListRoles returns every role defined in the group.
	ListRoles(ctx context.Context, group string) ([]Role, error)

	// Member returns the user's current role assignment.
	// Returns ErrNotFound when the user is not in the group's roster.
	Member(ctx context.Context, group, user string) (Member, error)

	// AddRole attaches one role to the user.
	AddRole(ctx context.Context, group, user, role string) error

	// RemoveRoles detaches the given roles from the user in one call.
	RemoveRoles(ctx context.Context, group, user string, roles []string) error
}

// PresenceChecker answers "does this user currently qualify" against live
// external state. The flush task uses it to catch presence changes that
// never produced an observable event, e.g. across a gateway reconnect.
type PresenceChecker interface {
	Presence(ctx context.Context, group, user string) (model.PresenceState, error)
}
