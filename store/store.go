package store

import (
	"context"
	"time"

	"github.com/xraph/entitle/id"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/usage"
)

// Store is the unified storage interface for all entitle records.
// Methods are declared explicitly rather than by embedding the per-package
// interfaces so every backend has one flat contract to satisfy.
type Store interface {
	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanByTier(ctx context.Context, tier plan.Tier) (*plan.Plan, error)
	ListPlans(ctx context.Context) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error

	// Subscription methods
	GetSubscriptionByUser(ctx context.Context, userID string) (*subscription.Subscription, error)
	UpsertSubscription(ctx context.Context, s *subscription.Subscription) error
	// UpdateSubscription is conditional on s.Version; see subscription.Store.
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error)

	// Payment methods
	CreatePayment(ctx context.Context, p *payment.Payment) error
	GetPaymentByGatewayRef(ctx context.Context, orderID, paymentID string) (*payment.Payment, error)
	ListPayments(ctx context.Context, userID string, opts payment.ListOpts) ([]*payment.Payment, error)

	// Usage methods
	GetUsage(ctx context.Context, userID string, feature plan.Feature, periodStart time.Time) (int64, error)
	IncrementUsage(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time) (int64, error)
	IncrementUsageIfBelow(ctx context.Context, userID string, feature plan.Feature, periodStart, periodEnd time.Time, max int64) (int64, error)
	ListUsage(ctx context.Context, userID string, periodStart time.Time) ([]*usage.Record, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Compile-time checks that Store covers every per-package contract.
var (
	_ plan.Store         = (Store)(nil)
	_ subscription.Store = (Store)(nil)
	_ payment.Store      = (Store)(nil)
	_ usage.Store        = (Store)(nil)
)
