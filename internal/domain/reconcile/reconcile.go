// Package reconcile periodically re-ranks tracked users and converges their
// directory roles onto the tier each rank maps to.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/okian/vigil/internal/adapters/directory"
	"github.com/okian/vigil/internal/domain/model"
	"github.com/okian/vigil/internal/domain/tier"
	"github.com/okian/vigil/pkg/logger"
	"github.com/okian/vigil/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultInterval      = 10 * time.Minute
	defaultMutationDelay = 750 * time.Millisecond
	defaultGroupDelay    = 2 * time.Second
	defaultMaxRanked     = 50
)

// TotalsSource is the slice of the store the engine reads.
type TotalsSource interface {
	TopN(ctx context.Context, group string, n int) ([]model.Total, error)
}

// Summary is the synchronous outcome of one pass, including partial
// failures.
type Summary struct {
	Ranked  int `json:"ranked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Engine drives reconciliation passes. Rate-limit backoff is a blocking
// sleep scoped to the engine's own task; it never stalls the presence-event
// path or the flush task.
type Engine struct {
	totals TotalsSource
	dir    directory.Directory
	table  *tier.Table
	clock  quartz.Clock
	log    logger.Logger

	groups        []string
	interval      time.Duration
	mutationDelay time.Duration
	groupDelay    time.Duration
	maxRanked     int
}

// New constructs an engine over the given totals source, directory client,
// and validated tier table.
func New(totals TotalsSource, dir directory.Directory, table *tier.Table, opts ...Option) *Engine {
	e := &Engine{
		totals:        totals,
		dir:           dir,
		table:         table,
		clock:         quartz.NewReal(),
		interval:      defaultInterval,
		mutationDelay: defaultMutationDelay,
		groupDelay:    defaultGroupDelay,
		maxRanked:     defaultMaxRanked,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Get().Named("reconcile")
	}
	return e
}

// Groups returns the group IDs the engine reconciles.
func (e *Engine) Groups() []string {
	out := make([]string, len(e.groups))
	copy(out, e.groups)
	return out
}

// Run reconciles all configured groups on the engine's interval until ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) {
	waiter := e.clock.TickerFunc(ctx, e.interval, func() error {
		e.ReconcileAll(ctx)
		return nil
	}, "reconcile")
	_ = waiter.Wait()
}

// ReconcileAll runs one pass per configured group, serialized with an
// inter-group delay to smooth directory API load.
func (e *Engine) ReconcileAll(ctx context.Context) {
	for i, group := range e.groups {
		if i > 0 {
			e.sleep(ctx, e.groupDelay)
		}
		if ctx.Err() != nil {
			return
		}
		summary, err := e.RunPass(ctx, group)
		if err != nil {
			e.log.Error(ctx, "reconciliation pass failed",
				logger.String("group", group),
				logger.Error(err),
			)
			continue
		}
		e.log.Info(ctx, "reconciliation pass complete",
			logger.String("group", group),
			logger.Int("ranked", summary.Ranked),
			logger.Int("updated", summary.Updated),
			logger.Int("skipped", summary.Skipped),
			logger.Int("failed", summary.Failed),
		)
	}
}

// RunPass executes one reconciliation pass for a group.
//
// The pass aborts only on conditions that would make every assignment wrong:
// an unreadable store or an unresolvable tier table. Per-user failures are
// counted and skipped so one locked-down member cannot stall the rest.
func (e *Engine) RunPass(ctx context.Context, group string) (Summary, error) {
	passID := uuid.NewString()
	log := e.log.Named("pass")

	totals, err := e.totals.TopN(ctx, group, e.maxRanked)
	if err != nil {
		return Summary{}, fmt.Errorf("fetch totals for %s: %w", group, err)
	}
	if len(totals) == 0 {
		return Summary{}, nil
	}

	targets, tierRoles, err := e.resolveTiers(ctx, group)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for i, total := range totals {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		rank := i + 1 // ties break by fetch order; accepted simplification
		summary.Ranked++

		targetRole := targets[e.table.ForRank(rank).Role]
		updated, err := e.applyUser(ctx, group, total.UserID, targetRole, tierRoles)
		switch {
		case err == nil:
			if updated {
				summary.Updated++
			} else {
				summary.Skipped++
			}
		case errors.Is(err, directory.ErrNotFound):
			// not in the roster anymore; nothing to assign
			summary.Skipped++
		case errors.Is(err, directory.ErrForbidden):
			summary.Failed++
			metrics.RecordReconcileFailure("forbidden")
			log.Warn(ctx, "permission denied; skipping user",
				logger.String("pass", passID),
				logger.String("group", group),
				logger.String("user", total.UserID),
			)
		default:
			if rle, ok := directory.AsRateLimit(err); ok {
				summary.Failed++
				metrics.RecordRateLimitPause(rle.RetryAfter.Seconds())
				log.Warn(ctx, "rate limited; pausing pass",
					logger.String("pass", passID),
					logger.String("group", group),
					logger.Duration("retry_after", rle.RetryAfter),
				)
				e.sleep(ctx, rle.RetryAfter)
				continue
			}
			summary.Failed++
			metrics.RecordReconcileFailure("transport")
			log.Warn(ctx, "directory call failed; skipping user",
				logger.String("pass", passID),
				logger.String("group", group),
				logger.String("user", total.UserID),
				logger.Error(err),
			)
		}
	}

	metrics.RecordReconcilePass()
	return summary, nil
}

// resolveTiers maps every configured tier role to its directory role ID.
// Any unresolved tier aborts the pass: applying a partial table would hand
// out inconsistent ranks.
func (e *Engine) resolveTiers(ctx context.Context, group string) (map[string]string, map[string]bool, error) {
	roles, err := e.dir.ListRoles(ctx, group)
	if err != nil {
		return nil, nil, fmt.Errorf("list roles for %s: %w", group, err)
	}
	byKey := make(map[string]string, len(roles)*2)
	for _, r := range roles {
		byKey[r.ID] = r.ID
		byKey[r.Name] = r.ID
	}

	targets := make(map[string]string, e.table.Len())
	tierRoles := make(map[string]bool, e.table.Len())
	for _, name := range e.table.Roles() {
		id, ok := byKey[name]
		if !ok {
			metrics.RecordReconcileFailure("missing_tier")
			return nil, nil, fmt.Errorf("%w: %q in group %s", ErrMissingTier, name, group)
		}
		targets[name] = id
		tierRoles[id] = true
	}
	return targets, tierRoles, nil
}

// applyUser diffs the member's current tier roles against {target} and
// issues minimal mutations: one removal for all extras, one add if the
// target is missing. Returns whether any mutation was applied.
func (e *Engine) applyUser(ctx context.Context, group, user, target string, tierRoles map[string]bool) (bool, error) {
	member, err := e.dir.Member(ctx, group, user)
	if err != nil {
		return false, err
	}

	hasTarget := false
	var extras []string
	for _, r := range member.Roles {
		if !tierRoles[r] {
			continue
		}
		if r == target {
			hasTarget = true
			continue
		}
		extras = append(extras, r)
	}

	if hasTarget && len(extras) == 0 {
		return false, nil // already exactly the target tier: zero calls
	}

	if len(extras) > 0 {
		if err := e.dir.RemoveRoles(ctx, group, user, extras); err != nil {
			return false, err
		}
		metrics.RecordRoleMutation("remove")
		e.sleep(ctx, e.mutationDelay)
	}
	if !hasTarget {
		if err := e.dir.AddRole(ctx, group, user, target); err != nil {
			return false, err
		}
		metrics.RecordRoleMutation("add")
		e.sleep(ctx, e.mutationDelay)
	}
	return true, nil
}

// sleep blocks on the engine's clock, honoring cancellation.
func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := e.clock.NewTimer(d, "reconcile")
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
