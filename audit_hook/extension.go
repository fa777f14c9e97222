// Package audithook bridges entitle lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                   = (*Extension)(nil)
	_ plugin.OnPlanCreated            = (*Extension)(nil)
	_ plugin.OnPlanUpdated            = (*Extension)(nil)
	_ plugin.OnOrderCreated           = (*Extension)(nil)
	_ plugin.OnPaymentRecorded        = (*Extension)(nil)
	_ plugin.OnPaymentRejected        = (*Extension)(nil)
	_ plugin.OnGatewayError           = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated  = (*Extension)(nil)
	_ plugin.OnSubscriptionCancelled  = (*Extension)(nil)
	_ plugin.OnSubscriptionDowngraded = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired    = (*Extension)(nil)
	_ plugin.OnUsageIncremented       = (*Extension)(nil)
	_ plugin.OnQuotaExceeded          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry in the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges entitle lifecycle events to an audit trail backend.
type Extension struct {
	recorder   Recorder
	enabled    map[string]bool // nil = all enabled
	categories map[string]bool // nil = all categories
	logger     *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Plan hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, p *plan.Plan) error {
	return e.record(ctx, event{
		action:     ActionPlanCreated,
		resource:   ResourcePlan,
		resourceID: p.ID.String(),
		category:   CategoryBilling,
	},
		"tier", string(p.Tier),
		"monthly_price", p.MonthlyPrice.Amount,
		"yearly_price", p.YearlyPrice.Amount,
		"currency", p.MonthlyPrice.Currency,
	)
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (e *Extension) OnPlanUpdated(ctx context.Context, before, after *plan.Plan) error {
	return e.record(ctx, event{
		action:     ActionPlanUpdated,
		resource:   ResourcePlan,
		resourceID: after.ID.String(),
		category:   CategoryBilling,
	},
		"tier", string(after.Tier),
		"monthly_price_before", before.MonthlyPrice.Amount,
		"monthly_price_after", after.MonthlyPrice.Amount,
		"yearly_price_before", before.YearlyPrice.Amount,
		"yearly_price_after", after.YearlyPrice.Amount,
	)
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnOrderCreated implements plugin.OnOrderCreated.
func (e *Extension) OnOrderCreated(ctx context.Context, userID string, p *plan.Plan, order *gateway.Order) error {
	return e.record(ctx, event{
		action:     ActionOrderCreated,
		resource:   ResourceOrder,
		resourceID: order.ID,
		userID:     userID,
		category:   CategoryPayment,
	},
		"tier", string(p.Tier),
		"amount", order.Amount.Amount,
		"currency", order.Amount.Currency,
		"receipt", order.Receipt,
	)
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (e *Extension) OnPaymentRecorded(ctx context.Context, pay *payment.Payment) error {
	return e.record(ctx, event{
		action:     ActionPaymentRecorded,
		resource:   ResourcePayment,
		resourceID: pay.ID.String(),
		userID:     pay.UserID,
		category:   CategoryPayment,
	},
		"subscription_id", pay.SubscriptionID.String(),
		"amount", pay.Amount.Amount,
		"currency", pay.Amount.Currency,
		"billing_period", string(pay.BillingPeriod),
		"gateway_order_id", pay.GatewayOrderID,
		"gateway_payment_id", pay.GatewayPaymentID,
	)
}

// OnPaymentRejected implements plugin.OnPaymentRejected. A rejected
// signature is a possible forgery and is recorded as a security event.
func (e *Extension) OnPaymentRejected(ctx context.Context, userID, orderID, paymentID string) error {
	return e.record(ctx, event{
		action:     ActionPaymentRejected,
		resource:   ResourcePayment,
		resourceID: orderID,
		userID:     userID,
		category:   CategorySecurity,
		severity:   SeverityCritical,
		outcome:    OutcomeFailure,
		reason:     "signature verification failed",
	},
		"gateway_order_id", orderID,
		"gateway_payment_id", paymentID,
	)
}

// OnGatewayError implements plugin.OnGatewayError.
func (e *Extension) OnGatewayError(ctx context.Context, gatewayName, op string, gerr error) error {
	return e.record(ctx, event{
		action:   ActionGatewayError,
		resource: ResourceGateway,
		category: CategoryIntegration,
		severity: SeverityError,
		outcome:  OutcomeFailure,
		err:      gerr,
	},
		"gateway", gatewayName,
		"operation", op,
	)
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, sub *subscription.Subscription, p *plan.Plan) error {
	return e.record(ctx, event{
		action:     ActionSubscriptionActivated,
		resource:   ResourceSubscription,
		resourceID: sub.ID.String(),
		userID:     sub.UserID,
		category:   CategorySubscription,
	},
		"tier", string(p.Tier),
		"billing_period", string(sub.BillingPeriod),
		"current_period_end", sub.CurrentPeriodEnd,
	)
}

// OnSubscriptionCancelled implements plugin.OnSubscriptionCancelled.
func (e *Extension) OnSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) error {
	return e.record(ctx, event{
		action:     ActionSubscriptionCancelled,
		resource:   ResourceSubscription,
		resourceID: sub.ID.String(),
		userID:     sub.UserID,
		category:   CategorySubscription,
	},
		"current_period_end", sub.CurrentPeriodEnd,
	)
}

// OnSubscriptionDowngraded implements plugin.OnSubscriptionDowngraded.
func (e *Extension) OnSubscriptionDowngraded(ctx context.Context, sub *subscription.Subscription, from plan.Tier) error {
	return e.record(ctx, event{
		action:     ActionSubscriptionDowngraded,
		resource:   ResourceSubscription,
		resourceID: sub.ID.String(),
		userID:     sub.UserID,
		category:   CategorySubscription,
	},
		"from_tier", string(from),
		"to_tier", string(plan.TierFree),
	)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, sub *subscription.Subscription, from subscription.Status) error {
	return e.record(ctx, event{
		action:     ActionSubscriptionExpired,
		resource:   ResourceSubscription,
		resourceID: sub.ID.String(),
		userID:     sub.UserID,
		category:   CategorySubscription,
		severity:   SeverityWarning,
	},
		"from_status", string(from),
		"to_status", string(sub.Status),
	)
}

// ──────────────────────────────────────────────────
// Usage hooks
// ──────────────────────────────────────────────────

// OnUsageIncremented implements plugin.OnUsageIncremented.
func (e *Extension) OnUsageIncremented(ctx context.Context, userID string, feature plan.Feature, count int64) error {
	return e.record(ctx, event{
		action:     ActionUsageIncremented,
		resource:   ResourceUsage,
		resourceID: string(feature),
		userID:     userID,
		category:   CategoryUsage,
	},
		"count", count,
	)
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded. Disabled features and
// exhausted quotas are recorded under different actions.
func (e *Extension) OnQuotaExceeded(ctx context.Context, userID string, r *entitlement.Result) error {
	action := ActionQuotaExceeded
	if r.Limit.IsDisabled() {
		action = ActionEntitlementDenied
	}
	return e.record(ctx, event{
		action:     action,
		resource:   ResourceEntitlement,
		resourceID: string(r.Feature),
		userID:     userID,
		category:   CategoryAccess,
		severity:   SeverityWarning,
		outcome:    OutcomeFailure,
		reason:     r.Reason,
	},
		"tier", string(r.Tier),
		"used", r.Used,
		"limit", r.Limit.String(),
		"upgrade_tier", string(r.UpgradeTier),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// event carries the fixed fields of an audit entry. Empty severity and
// outcome default to info and success.
type event struct {
	action, resource, resourceID string
	userID, category             string
	severity, outcome, reason    string
	err                          error
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never fail the engine operation.
func (e *Extension) record(ctx context.Context, ev event, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[ev.action] {
		return nil
	}
	if e.categories != nil && !e.categories[ev.category] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	reason := ev.reason
	if ev.err != nil {
		if reason == "" {
			reason = ev.err.Error()
		}
		meta["error"] = ev.err.Error()
	}

	severity := ev.severity
	if severity == "" {
		severity = SeverityInfo
	}
	outcome := ev.outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}

	evt := &AuditEvent{
		Action:     ev.action,
		Resource:   ev.resource,
		Category:   ev.category,
		ResourceID: ev.resourceID,
		UserID:     ev.userID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", ev.action,
			"resource_id", ev.resourceID,
			"error", recErr,
		)
	}
	return nil
}
