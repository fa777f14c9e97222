// Package plugin provides an extensible plugin system for entitle.
// Plugins implement any subset of the hook interfaces below; the registry
// discovers them at registration time.
package plugin

import (
	"context"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. engine is the *entitle.Engine.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called after a plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, p *plan.Plan) error
}

// OnPlanUpdated is called after a plan is updated. Caches of plan data
// should refresh here.
type OnPlanUpdated interface {
	Plugin
	OnPlanUpdated(ctx context.Context, before, after *plan.Plan) error
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnOrderCreated is called after the gateway accepts an order.
type OnOrderCreated interface {
	Plugin
	OnOrderCreated(ctx context.Context, userID string, p *plan.Plan, order *gateway.Order) error
}

// OnPaymentRecorded is called after a verified payment is stored.
type OnPaymentRecorded interface {
	Plugin
	OnPaymentRecorded(ctx context.Context, pay *payment.Payment) error
}

// OnPaymentRejected is called when a payment signature fails verification.
type OnPaymentRejected interface {
	Plugin
	OnPaymentRejected(ctx context.Context, userID, orderID, paymentID string) error
}

// OnGatewayError is called when a gateway call fails.
type OnGatewayError interface {
	Plugin
	OnGatewayError(ctx context.Context, gatewayName, op string, err error) error
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated is called after a subscription is activated or
// renewed.
type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription, p *plan.Plan) error
}

// OnSubscriptionCancelled is called after a subscription is cancelled.
type OnSubscriptionCancelled interface {
	Plugin
	OnSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionDowngraded is called after a subscription moves to FREE.
type OnSubscriptionDowngraded interface {
	Plugin
	OnSubscriptionDowngraded(ctx context.Context, sub *subscription.Subscription, from plan.Tier) error
}

// OnSubscriptionExpired is called when reconciliation moves a subscription
// out of its paid period.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error
}

// ──────────────────────────────────────────────────
// Usage and entitlement hooks
// ──────────────────────────────────────────────────

// OnUsageIncremented is called after a usage counter is incremented.
type OnUsageIncremented interface {
	Plugin
	OnUsageIncremented(ctx context.Context, userID string, feature plan.Feature, count int64) error
}

// OnEntitlementChecked is called after every usage limit check.
type OnEntitlementChecked interface {
	Plugin
	OnEntitlementChecked(ctx context.Context, userID string, result *entitlement.Result) error
}

// OnQuotaExceeded is called when a check is denied.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, userID string, result *entitlement.Result) error
}
