// Package tier maps leaderboard ranks to named tiers via an ordered
// threshold table.
package tier

import "fmt"

// Tier is one entry in the threshold table. Role names the external
// directory tag; MaxRank is the worst (highest-numbered) rank the tier still
// covers. MaxRank == CatchAll marks the default tier for every remaining
// rank.
type Tier struct {
	Role    string
	MaxRank int
}

// CatchAll is the MaxRank value of the default tier.
const CatchAll = 0

// IsCatchAll reports whether the tier is the table's default.
func (t Tier) IsCatchAll() bool {
	return t.MaxRank == CatchAll
}

// Table is an ordered threshold table, most-exclusive first.
type Table struct {
	tiers []Tier
}

// NewTable validates and builds a table. Requirements: non-empty, exactly
// one catch-all and it is last, every other entry has MaxRank >= 1, and
// thresholds strictly increase from most to least exclusive.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyTable
	}
	last := len(tiers) - 1
	for i, t := range tiers {
		if t.Role == "" {
			return nil, fmt.Errorf("%w: entry %d has no role", ErrInvalidTable, i)
		}
		if t.IsCatchAll() {
			if i != last {
				return nil, fmt.Errorf("%w: catch-all tier %q must be last", ErrInvalidTable, t.Role)
			}
			continue
		}
		if t.MaxRank < 1 {
			return nil, fmt.Errorf("%w: tier %q has threshold %d", ErrInvalidTable, t.Role, t.MaxRank)
		}
		if i > 0 && !tiers[i-1].IsCatchAll() && t.MaxRank <= tiers[i-1].MaxRank {
			return nil, fmt.Errorf("%w: thresholds must strictly increase (%q: %d after %d)",
				ErrInvalidTable, t.Role, t.MaxRank, tiers[i-1].MaxRank)
		}
	}
	if !tiers[last].IsCatchAll() {
		return nil, fmt.Errorf("%w: missing catch-all tier", ErrInvalidTable)
	}

	copied := make([]Tier, len(tiers))
	copy(copied, tiers)
	return &Table{tiers: copied}, nil
}

// ForRank returns the tier for a 1-based rank: the first entry whose
// threshold covers the rank, falling through to the catch-all.
func (t *Table) ForRank(rank int) Tier {
	for _, tr := range t.tiers {
		if tr.IsCatchAll() || tr.MaxRank >= rank {
			return tr
		}
	}
	// unreachable: NewTable guarantees a trailing catch-all
	return t.tiers[len(t.tiers)-1]
}

// Roles returns every role name in table order.
func (t *Table) Roles() []string {
	out := make([]string, len(t.tiers))
	for i, tr := range t.tiers {
		out[i] = tr.Role
	}
	return out
}

// Len returns the number of tiers.
func (t *Table) Len() int {
	return len(t.tiers)
}
