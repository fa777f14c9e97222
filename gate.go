package entitle

import (
	"context"
	"log/slog"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/plan"
)

// Meter is the part of the engine a Gate needs.
type Meter interface {
	CheckUsageLimit(ctx context.Context, userID string, feature plan.Feature) (*entitlement.Result, error)
	IncrementUsage(ctx context.Context, userID string, feature plan.Feature) (int64, error)
	TryConsume(ctx context.Context, userID string, feature plan.Feature) (*entitlement.Result, error)
}

var _ Meter = (*Engine)(nil)

// Gate enforces check, then work, then commit for a gated feature. It holds
// no per-user state.
type Gate struct {
	meter   Meter
	reserve bool
	logger  *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithReservation makes Run consume quota atomically before the work runs.
// Concurrent callers can then never exceed the limit, at the cost of
// counting attempts whose work fails.
func WithReservation() GateOption {
	return func(g *Gate) { g.reserve = true }
}

// WithGateLogger sets the logger used for commit failures.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// NewGate creates a Gate over m.
func NewGate(m Meter, opts ...GateOption) *Gate {
	g := &Gate{meter: m, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Gate returns a Gate backed by the engine.
func (e *Engine) Gate(opts ...GateOption) *Gate {
	return NewGate(e, append([]GateOption{WithGateLogger(e.logger)}, opts...)...)
}

// Check returns the result of a usage check, with a *QuotaError when the
// user may not proceed.
func (g *Gate) Check(ctx context.Context, userID string, feature plan.Feature) (*entitlement.Result, error) {
	result, err := g.meter.CheckUsageLimit(ctx, userID, feature)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, quotaError(result)
	}
	return result, nil
}

// Commit records one use after the feature's work succeeded.
func (g *Gate) Commit(ctx context.Context, userID string, feature plan.Feature) error {
	_, err := g.meter.IncrementUsage(ctx, userID, feature)
	return err
}

// Run checks the quota, runs work, and commits one use only if work
// succeeds. A denial returns the *QuotaError without calling work. A
// commit failure after successful work is logged and does not fail Run.
func (g *Gate) Run(ctx context.Context, userID string, feature plan.Feature, work func(ctx context.Context) error) error {
	if g.reserve {
		if _, err := g.meter.TryConsume(ctx, userID, feature); err != nil {
			return err
		}
		return work(ctx)
	}

	if _, err := g.Check(ctx, userID, feature); err != nil {
		return err
	}
	if err := work(ctx); err != nil {
		return err
	}
	if err := g.Commit(ctx, userID, feature); err != nil {
		g.logger.Error("usage not recorded after successful work",
			"user_id", userID,
			"feature", feature,
			"error", err,
		)
	}
	return nil
}
