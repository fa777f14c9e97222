package entitle

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/usage"
)

// ──────────────────────────────────────────────────
// Usage ledger
// ──────────────────────────────────────────────────

// ResolveEffectivePlan returns the plan that applies to the user now: the
// subscription's plan when the configured rule entitles it, FREE otherwise.
// Store failures are returned rather than defaulted.
func (e *Engine) ResolveEffectivePlan(ctx context.Context, userID string) (*plan.Plan, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	sub, err := e.store.GetSubscriptionByUser(ctx, userID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		return e.GetPlan(ctx, plan.TierFree)
	case err != nil:
		return nil, err
	}

	if !e.rule(sub, e.now()) {
		return e.GetPlan(ctx, plan.TierFree)
	}
	p, err := e.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, fmt.Errorf("resolve plan of subscription %s: %w", sub.ID, err)
	}
	return p, nil
}

// CheckUsageLimit reports whether the user may use feature once more this
// calendar month. A denial is a Result with Allowed false, not an error.
// Nothing is written.
func (e *Engine) CheckUsageLimit(ctx context.Context, userID string, feature plan.Feature) (*entitlement.Result, error) {
	p, limit, err := e.limitFor(ctx, userID, feature)
	if err != nil {
		return nil, err
	}

	var used int64
	if !limit.IsDisabled() {
		start, _ := usage.MonthBounds(e.now())
		used, err = e.store.GetUsage(ctx, userID, feature, start)
		if err != nil {
			return nil, err
		}
	}

	result := entitlement.Evaluate(feature, p.Tier, limit, used)
	e.plugins.EmitEntitlementChecked(ctx, userID, result)
	if !result.Allowed {
		e.logger.Debug("usage limit reached", "user_id", userID, "feature", feature, "used", used, "limit", limit.String())
		e.plugins.EmitQuotaExceeded(ctx, userID, result)
	}
	return result, nil
}

// IncrementUsage adds one use of feature to the user's current month and
// returns the new count. It does not check the limit; pair it with
// CheckUsageLimit, or use TryConsume.
func (e *Engine) IncrementUsage(ctx context.Context, userID string, feature plan.Feature) (int64, error) {
	if userID == "" {
		return 0, ErrUnauthenticated
	}
	if !feature.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}

	start, end := usage.MonthBounds(e.now())
	count, err := e.store.IncrementUsage(ctx, userID, feature, start, end)
	if err != nil {
		return 0, err
	}

	e.plugins.EmitUsageIncremented(ctx, userID, feature, count)
	return count, nil
}

// TryConsume checks and increments in one atomic step, so concurrent
// requests can never exceed a bounded limit. A denial returns the result
// together with a *QuotaError.
func (e *Engine) TryConsume(ctx context.Context, userID string, feature plan.Feature) (*entitlement.Result, error) {
	p, limit, err := e.limitFor(ctx, userID, feature)
	if err != nil {
		return nil, err
	}

	start, end := usage.MonthBounds(e.now())
	var count int64

	switch {
	case limit.IsDisabled():
		result := entitlement.Evaluate(feature, p.Tier, limit, 0)
		e.plugins.EmitQuotaExceeded(ctx, userID, result)
		return result, quotaError(result)

	case limit.IsUnlimited():
		count, err = e.store.IncrementUsage(ctx, userID, feature, start, end)

	default:
		count, err = e.store.IncrementUsageIfBelow(ctx, userID, feature, start, end, limit.Max())
		if errors.Is(err, ErrQuotaExceeded) {
			used, gerr := e.store.GetUsage(ctx, userID, feature, start)
			if gerr != nil {
				used = limit.Max()
			}
			result := entitlement.Evaluate(feature, p.Tier, limit, used)
			e.plugins.EmitQuotaExceeded(ctx, userID, result)
			return result, quotaError(result)
		}
	}
	if err != nil {
		return nil, err
	}

	e.plugins.EmitUsageIncremented(ctx, userID, feature, count)
	return &entitlement.Result{
		Allowed:   true,
		Feature:   feature,
		Used:      count,
		Limit:     limit,
		Remaining: limit.Remaining(count),
		Tier:      p.Tier,
	}, nil
}

// GetUsageStats summarizes the user's usage of every feature this month.
func (e *Engine) GetUsageStats(ctx context.Context, userID string) (*entitlement.Stats, error) {
	p, err := e.ResolveEffectivePlan(ctx, userID)
	if err != nil {
		return nil, err
	}

	start, _ := usage.MonthBounds(e.now())
	records, err := e.store.ListUsage(ctx, userID, start)
	if err != nil {
		return nil, err
	}
	counts := make(map[plan.Feature]int64, len(records))
	for _, r := range records {
		counts[r.Feature] = r.Count
	}

	stats := &entitlement.Stats{
		Tier:     p.Tier,
		PlanName: p.Name,
		Features: make([]entitlement.FeatureUsage, 0, len(plan.AllFeatures())),
	}
	for _, f := range plan.AllFeatures() {
		limit, _ := p.Limit(f)
		stats.Features = append(stats.Features, entitlement.NewFeatureUsage(f, limit, counts[f]))
	}
	return stats, nil
}

func (e *Engine) limitFor(ctx context.Context, userID string, feature plan.Feature) (*plan.Plan, plan.Limit, error) {
	if userID == "" {
		return nil, plan.Disabled(), ErrUnauthenticated
	}
	if !feature.Valid() {
		return nil, plan.Disabled(), fmt.Errorf("%w: %q", ErrUnknownFeature, feature)
	}
	p, err := e.ResolveEffectivePlan(ctx, userID)
	if err != nil {
		return nil, plan.Disabled(), err
	}
	limit, _ := p.Limit(feature)
	return p, limit, nil
}

// quotaError converts a denied result into its error.
func quotaError(r *entitlement.Result) *QuotaError {
	return &QuotaError{
		Feature:     r.Feature,
		Limit:       r.Limit,
		Used:        r.Used,
		Tier:        r.Tier,
		UpgradeTier: r.UpgradeTier,
	}
}
