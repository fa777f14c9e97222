package plan

import (
	"context"

	"github.com/xraph/entitle/id"
)

// Store persists plans.
type Store interface {
	// CreatePlan inserts p. A second plan for the same tier fails with
	// entitle.ErrPlanTierExists.
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetPlanByTier(ctx context.Context, tier Tier) (*Plan, error)
	// ListPlans returns every plan ordered by monthly price ascending.
	ListPlans(ctx context.Context) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
}
