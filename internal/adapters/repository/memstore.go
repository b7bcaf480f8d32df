package repository

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/vigil/internal/domain/model"
	"github.com/okian/vigil/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Each group owns its own treap ordered by seconds DESC, then userID ASC.
// In-order traversal therefore yields the leaderboard from most to least
// time, which serves both TopN and the reconciliation engine's ordered
// fetch without a separate index.

// record is a user's current total plus metadata.
type record struct {
	seconds int64
	updated time.Time
}

// node is one treap node. Heap order is by random priority, BST order by
// the leaderboard comparator.
type node struct {
	user    string
	seconds int64
	prio    uint64
	left    *node
	right   *node
}

// ranksBefore returns true if (aSeconds, aUser) should appear before
// (bSeconds, bUser) in the leaderboard.
func ranksBefore(aSeconds int64, aUser string, bSeconds int64, bUser string) bool {
	if aSeconds != bSeconds {
		return aSeconds > bSeconds
	}
	return aUser < bUser
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	return y
}

func insert(n *node, user string, seconds int64) *node {
	if n == nil {
		return &node{user: user, seconds: seconds, prio: rand.Uint64()} //nolint:gosec // heap priority, not security-sensitive
	}
	if ranksBefore(seconds, user, n.seconds, n.user) {
		n.left = insert(n.left, user, seconds)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, user, seconds)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	return n
}

func remove(n *node, user string, seconds int64) *node {
	if n == nil {
		return nil
	}
	if seconds == n.seconds && user == n.user {
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, user, seconds)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, user, seconds)
		}
	} else if ranksBefore(seconds, user, n.seconds, n.user) {
		n.left = remove(n.left, user, seconds)
	} else {
		n.right = remove(n.right, user, seconds)
	}
	return n
}

// collectTopN appends up to limit users in leaderboard order.
func collectTopN(n *node, limit int, out *[]string) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, n.user)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, out)
	}
}

// groupIndex is one group's ordered totals.
type groupIndex struct {
	root   *node
	byUser map[string]record
}

// MemStore implements Store in memory. It is the default backend; the Redis
// backend carries totals across restarts when durability matters.
type MemStore struct {
	mu     sync.RWMutex
	groups map[string]*groupIndex
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{groups: make(map[string]*groupIndex)}
}

func (s *MemStore) group(group string) *groupIndex {
	g, ok := s.groups[group]
	if !ok {
		g = &groupIndex{byUser: make(map[string]record)}
		s.groups[group] = g
	}
	return g
}

// Merge implements Store.Merge with O(log n) expected time.
func (s *MemStore) Merge(_ context.Context, group, user string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.group(group)
	total := delta
	if old, exists := g.byUser[user]; exists {
		g.root = remove(g.root, user, old.seconds)
		total = old.seconds + delta
	}
	g.byUser[user] = record{seconds: total, updated: time.Now()}
	g.root = insert(g.root, user, total)

	metrics.UpdateTrackedUsers(s.totalUsersLocked())
	return total, nil
}

// Total implements Store.Total.
func (s *MemStore) Total(_ context.Context, group, user string) (model.Total, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[group]
	if !ok {
		return model.Total{}, ErrNotFound
	}
	rec, ok := g.byUser[user]
	if !ok {
		return model.Total{}, ErrNotFound
	}
	return model.Total{GroupID: group, UserID: user, Seconds: rec.seconds, LastUpdated: rec.updated}, nil
}

// TopN implements Store.TopN. Ties order by userID ascending, so equal
// totals rank deterministically.
func (s *MemStore) TopN(_ context.Context, group string, n int) ([]model.Total, error) {
	if n < 1 {
		return nil, ErrInvalidN
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}
	users := make([]string, 0, n)
	collectTopN(g.root, n, &users)

	out := make([]model.Total, 0, len(users))
	for _, u := range users {
		rec := g.byUser[u]
		out = append(out, model.Total{GroupID: group, UserID: u, Seconds: rec.seconds, LastUpdated: rec.updated})
	}
	return out, nil
}

// Reset implements Store.Reset.
func (s *MemStore) Reset(_ context.Context, group, user string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group]
	if !ok {
		return false, nil
	}
	rec, ok := g.byUser[user]
	if !ok {
		return false, nil
	}
	g.root = remove(g.root, user, rec.seconds)
	delete(g.byUser, user)

	metrics.UpdateTrackedUsers(s.totalUsersLocked())
	return true, nil
}

// Count implements Store.Count.
func (s *MemStore) Count(_ context.Context, group string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[group]
	if !ok {
		return 0
	}
	return len(g.byUser)
}

func (s *MemStore) totalUsersLocked() int {
	n := 0
	for _, g := range s.groups {
		n += len(g.byUser)
	}
	return n
}
