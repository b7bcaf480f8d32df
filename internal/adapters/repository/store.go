// Package repository defines the cumulative-totals store interface and errors.
package repository

import (
	"context"

	"github.com/okian/vigil/internal/domain/model"
)

// Store provides read/write access to cumulative time-on-activity totals,
// keyed by (group, user). Implementations must keep Merge atomic per key and
// support ordered descending reads per group, which the reconciliation
// engine and the leaderboard both depend on.
type Store interface {
	// Merge atomically adds delta seconds to the key's total, creating the
	// record if absent, and returns the new total. delta must be >= 0;
	// validation happens upstream in the aggregator.
	Merge(ctx context.Context, group, user string, delta int64) (int64, error)

	// Total returns the record for one key.
	// Returns ErrNotFound when the key has never been merged.
	Total(ctx context.Context, group, user string) (model.Total, error)

	// TopN returns up to n records for the group ordered by seconds
	// descending.
	TopN(ctx context.Context, group string, n int) ([]model.Total, error)

	// Reset removes the record for one key. Returns true when a record
	// existed. Administrative use only; totals never shrink otherwise.
	Reset(ctx context.Context, group, user string) (bool, error)

	// Count returns the number of users tracked in the group.
	Count(ctx context.Context, group string) int
}
