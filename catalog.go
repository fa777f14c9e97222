package entitle

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/types"
)

// ──────────────────────────────────────────────────
// Plan catalog
// ──────────────────────────────────────────────────

// ListPlans returns every plan ordered by monthly price ascending.
func (e *Engine) ListPlans(ctx context.Context) ([]*plan.Plan, error) {
	return e.store.ListPlans(ctx)
}

// GetPlan returns the plan for tier.
func (e *Engine) GetPlan(ctx context.Context, tier plan.Tier) (*plan.Plan, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrPlanNotFound, tier)
	}
	return e.cachedPlan(ctx, "tier:"+string(tier), func(ctx context.Context) (*plan.Plan, error) {
		return e.store.GetPlanByTier(ctx, tier)
	})
}

// GetPlanByID returns the plan with planID.
func (e *Engine) GetPlanByID(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	if planID.IsNil() {
		return nil, ErrPlanNotFound
	}
	return e.cachedPlan(ctx, "id:"+planID.String(), func(ctx context.Context) (*plan.Plan, error) {
		return e.store.GetPlan(ctx, planID)
	})
}

// CreatePlan inserts a new plan. Its tier must not already have a plan.
func (e *Engine) CreatePlan(ctx context.Context, p *plan.Plan) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.MonthlyPrice.Currency == "" {
		p.MonthlyPrice.Currency = types.DefaultCurrency
	}
	if p.YearlyPrice.Currency == "" {
		p.YearlyPrice.Currency = types.DefaultCurrency
	}
	p.Entity = types.NewEntityAt(e.now())

	if err := e.store.CreatePlan(ctx, p); err != nil {
		return err
	}
	e.plans.invalidate()

	e.logger.Info("plan created", "plan_id", p.ID.String(), "tier", p.Tier)
	e.plugins.EmitPlanCreated(ctx, p)
	return nil
}

// UpdatePlan applies patch to the plan with planID and returns the result.
// Cached plans are dropped and OnPlanUpdated fires so dependent caches can
// refresh.
func (e *Engine) UpdatePlan(ctx context.Context, planID id.PlanID, patch plan.Patch) (*plan.Plan, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	p, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	before := clonePlan(p)

	if !patch.Apply(p) {
		return nil, ErrUnknownFeature
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	p.Touch(e.now())

	if err := e.store.UpdatePlan(ctx, p); err != nil {
		return nil, err
	}
	e.plans.invalidate()

	e.logger.Info("plan updated", "plan_id", p.ID.String(), "tier", p.Tier)
	e.plugins.EmitPlanUpdated(ctx, before, p)
	return p, nil
}

// SeedPlans creates each plan whose tier has no plan yet and returns how
// many were created. Existing plans are left untouched.
func (e *Engine) SeedPlans(ctx context.Context, plans ...*plan.Plan) (int, error) {
	created := 0
	for _, p := range plans {
		_, err := e.store.GetPlanByTier(ctx, p.Tier)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, ErrPlanNotFound):
			return created, err
		}

		cp := clonePlan(p)
		if err := e.CreatePlan(ctx, cp); err != nil {
			if errors.Is(err, ErrPlanTierExists) {
				continue
			}
			return created, err
		}
		created++
	}
	return created, nil
}

// ──────────────────────────────────────────────────
// Plan cache
// ──────────────────────────────────────────────────

type cachedPlan struct {
	plan    *plan.Plan
	expires time.Time
}

// planCache is a TTL cache of plan lookups. Concurrent misses for the same
// key share one store read. gen counts invalidations; a read that started
// before one is neither cached nor shared with callers arriving after it.
type planCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	gen     uint64
	entries map[string]cachedPlan
	group   singleflight.Group
}

func newPlanCache(ttl time.Duration) *planCache {
	return &planCache{ttl: ttl, entries: make(map[string]cachedPlan)}
}

func (c *planCache) get(key string, now time.Time) (*plan.Plan, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || now.After(entry.expires) {
		return nil, false
	}
	return entry.plan, true
}

func (c *planCache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// put stores p unless the cache was invalidated since generation gen.
func (c *planCache) put(key string, p *plan.Plan, gen uint64, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.entries[key] = cachedPlan{plan: p, expires: now.Add(c.ttl)}
}

func (c *planCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
}

func (e *Engine) cachedPlan(ctx context.Context, key string, load func(context.Context) (*plan.Plan, error)) (*plan.Plan, error) {
	if p, ok := e.plans.get(key, e.now()); ok {
		return clonePlan(p), nil
	}

	gen := e.plans.generation()
	v, err, _ := e.plans.group.Do(fmt.Sprintf("%s@%d", key, gen), func() (any, error) {
		p, err := load(ctx)
		if err != nil {
			return nil, err
		}
		e.plans.put(key, p, gen, e.now())
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePlan(v.(*plan.Plan)), nil //nolint:forcetypeassert // load only yields *plan.Plan
}

// clonePlan copies p so callers cannot mutate cached state.
func clonePlan(p *plan.Plan) *plan.Plan {
	cp := *p
	cp.Metadata = maps.Clone(p.Metadata)
	return &cp
}
