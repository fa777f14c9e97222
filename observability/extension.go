// Package observability provides a metrics plugin for entitle that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/subscription"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                   = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated            = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpdated            = (*MetricsExtension)(nil)
	_ plugin.OnOrderCreated           = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecorded        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRejected        = (*MetricsExtension)(nil)
	_ plugin.OnGatewayError           = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCancelled  = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionDowngraded = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired    = (*MetricsExtension)(nil)
	_ plugin.OnUsageIncremented       = (*MetricsExtension)(nil)
	_ plugin.OnEntitlementChecked     = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded          = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics. Names are dot separated, for example
// "entitle.plan.created".
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as an entitle plugin to track billing and usage.
type MetricsExtension struct {
	factory MetricFactory

	// Plan metrics
	PlanCreated Counter
	PlanUpdated Counter

	// Billing metrics
	OrdersCreated    Counter
	PaymentsRecorded Counter
	PaymentsRejected Counter
	PaymentAmount    Histogram
	GatewayErrors    Counter

	// Subscription metrics
	SubscriptionActivated  Counter
	SubscriptionCancelled  Counter
	SubscriptionDowngraded Counter
	SubscriptionExpired    Counter
	SubscriptionPastDue    Counter

	// Usage and entitlement metrics, keyed by feature
	UsageIncremented  map[plan.Feature]Counter
	EntitlementChecks Counter
	QuotaExceeded     map[plan.Feature]Counter
	FeatureDisabled   Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory outside forge, or app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	m := &MetricsExtension{
		factory: factory,

		PlanCreated: factory.Counter("entitle.plan.created"),
		PlanUpdated: factory.Counter("entitle.plan.updated"),

		OrdersCreated:    factory.Counter("entitle.order.created"),
		PaymentsRecorded: factory.Counter("entitle.payment.recorded"),
		PaymentsRejected: factory.Counter("entitle.payment.rejected"),
		PaymentAmount:    factory.Histogram("entitle.payment.amount_major"),
		GatewayErrors:    factory.Counter("entitle.gateway.errors"),

		SubscriptionActivated:  factory.Counter("entitle.subscription.activated"),
		SubscriptionCancelled:  factory.Counter("entitle.subscription.cancelled"),
		SubscriptionDowngraded: factory.Counter("entitle.subscription.downgraded"),
		SubscriptionExpired:    factory.Counter("entitle.subscription.expired"),
		SubscriptionPastDue:    factory.Counter("entitle.subscription.past_due"),

		UsageIncremented:  make(map[plan.Feature]Counter),
		EntitlementChecks: factory.Counter("entitle.entitlement.checks"),
		QuotaExceeded:     make(map[plan.Feature]Counter),
		FeatureDisabled:   factory.Counter("entitle.entitlement.disabled"),
	}

	for _, f := range plan.AllFeatures() {
		m.UsageIncremented[f] = factory.Counter("entitle.usage." + string(f))
		m.QuotaExceeded[f] = factory.Counter("entitle.quota_exceeded." + string(f))
	}
	return m
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Plan hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ *plan.Plan) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (m *MetricsExtension) OnPlanUpdated(_ context.Context, _, _ *plan.Plan) error {
	m.PlanUpdated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Billing hooks
// ──────────────────────────────────────────────────

// OnOrderCreated implements plugin.OnOrderCreated.
func (m *MetricsExtension) OnOrderCreated(_ context.Context, _ string, _ *plan.Plan, _ *gateway.Order) error {
	m.OrdersCreated.Inc()
	return nil
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (m *MetricsExtension) OnPaymentRecorded(_ context.Context, pay *payment.Payment) error {
	m.PaymentsRecorded.Inc()
	m.PaymentAmount.Observe(float64(pay.Amount.Amount) / 100)
	return nil
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (m *MetricsExtension) OnPaymentRejected(_ context.Context, _, _, _ string) error {
	m.PaymentsRejected.Inc()
	return nil
}

// OnGatewayError implements plugin.OnGatewayError.
func (m *MetricsExtension) OnGatewayError(_ context.Context, _, _ string, _ error) error {
	m.GatewayErrors.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription hooks
// ──────────────────────────────────────────────────

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ *subscription.Subscription, _ *plan.Plan) error {
	m.SubscriptionActivated.Inc()
	return nil
}

// OnSubscriptionCancelled implements plugin.OnSubscriptionCancelled.
func (m *MetricsExtension) OnSubscriptionCancelled(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCancelled.Inc()
	return nil
}

// OnSubscriptionDowngraded implements plugin.OnSubscriptionDowngraded.
func (m *MetricsExtension) OnSubscriptionDowngraded(_ context.Context, _ *subscription.Subscription, _ plan.Tier) error {
	m.SubscriptionDowngraded.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, sub *subscription.Subscription, _ subscription.Status) error {
	if sub.Status == subscription.StatusPastDue {
		m.SubscriptionPastDue.Inc()
		return nil
	}
	m.SubscriptionExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Usage and entitlement hooks
// ──────────────────────────────────────────────────

// OnUsageIncremented implements plugin.OnUsageIncremented.
func (m *MetricsExtension) OnUsageIncremented(_ context.Context, _ string, feature plan.Feature, _ int64) error {
	if c, ok := m.UsageIncremented[feature]; ok {
		c.Inc()
	}
	return nil
}

// OnEntitlementChecked implements plugin.OnEntitlementChecked.
func (m *MetricsExtension) OnEntitlementChecked(_ context.Context, _ string, _ *entitlement.Result) error {
	m.EntitlementChecks.Inc()
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _ string, r *entitlement.Result) error {
	if r.Limit.IsDisabled() {
		m.FeatureDisabled.Inc()
		return nil
	}
	if c, ok := m.QuotaExceeded[r.Feature]; ok {
		c.Inc()
	}
	return nil
}
