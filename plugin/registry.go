package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/entitle/entitlement"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/payment"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/subscription"
)

// DefaultHookTimeout bounds each hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages registered plugins. Hook implementations are discovered
// once at registration, so dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                   []OnInit
	onShutdown               []OnShutdown
	onPlanCreated            []OnPlanCreated
	onPlanUpdated            []OnPlanUpdated
	onOrderCreated           []OnOrderCreated
	onPaymentRecorded        []OnPaymentRecorded
	onPaymentRejected        []OnPaymentRejected
	onGatewayError           []OnGatewayError
	onSubscriptionActivated  []OnSubscriptionActivated
	onSubscriptionCancelled  []OnSubscriptionCancelled
	onSubscriptionDowngraded []OnSubscriptionDowngraded
	onSubscriptionExpired    []OnSubscriptionExpired
	onUsageIncremented       []OnUsageIncremented
	onEntitlementChecked     []OnEntitlementChecked
	onQuotaExceeded          []OnQuotaExceeded
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its hooks.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)
	var hooks []string

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
		hooks = append(hooks, "OnInit")
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
		hooks = append(hooks, "OnShutdown")
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
		hooks = append(hooks, "OnPlanCreated")
	}
	if v, ok := p.(OnPlanUpdated); ok {
		r.onPlanUpdated = append(r.onPlanUpdated, v)
		hooks = append(hooks, "OnPlanUpdated")
	}
	if v, ok := p.(OnOrderCreated); ok {
		r.onOrderCreated = append(r.onOrderCreated, v)
		hooks = append(hooks, "OnOrderCreated")
	}
	if v, ok := p.(OnPaymentRecorded); ok {
		r.onPaymentRecorded = append(r.onPaymentRecorded, v)
		hooks = append(hooks, "OnPaymentRecorded")
	}
	if v, ok := p.(OnPaymentRejected); ok {
		r.onPaymentRejected = append(r.onPaymentRejected, v)
		hooks = append(hooks, "OnPaymentRejected")
	}
	if v, ok := p.(OnGatewayError); ok {
		r.onGatewayError = append(r.onGatewayError, v)
		hooks = append(hooks, "OnGatewayError")
	}
	if v, ok := p.(OnSubscriptionActivated); ok {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
		hooks = append(hooks, "OnSubscriptionActivated")
	}
	if v, ok := p.(OnSubscriptionCancelled); ok {
		r.onSubscriptionCancelled = append(r.onSubscriptionCancelled, v)
		hooks = append(hooks, "OnSubscriptionCancelled")
	}
	if v, ok := p.(OnSubscriptionDowngraded); ok {
		r.onSubscriptionDowngraded = append(r.onSubscriptionDowngraded, v)
		hooks = append(hooks, "OnSubscriptionDowngraded")
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
		hooks = append(hooks, "OnSubscriptionExpired")
	}
	if v, ok := p.(OnUsageIncremented); ok {
		r.onUsageIncremented = append(r.onUsageIncremented, v)
		hooks = append(hooks, "OnUsageIncremented")
	}
	if v, ok := p.(OnEntitlementChecked); ok {
		r.onEntitlementChecked = append(r.onEntitlementChecked, v)
		hooks = append(hooks, "OnEntitlementChecked")
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
		hooks = append(hooks, "OnQuotaExceeded")
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)

	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission
// ──────────────────────────────────────────────────

// emit runs call for every hook in list. Failures are logged and never
// propagate: plugins must not change the outcome of an operation.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, list *[]T, call func(T) error) {
	r.mu.RLock()
	hooks := *list
	r.mu.RUnlock()

	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return call(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", &r.onInit, func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", &r.onShutdown, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

func (r *Registry) EmitPlanCreated(ctx context.Context, pl *plan.Plan) {
	emit(ctx, r, "OnPlanCreated", &r.onPlanCreated, func(p OnPlanCreated) error {
		return p.OnPlanCreated(ctx, pl)
	})
}

func (r *Registry) EmitPlanUpdated(ctx context.Context, before, after *plan.Plan) {
	emit(ctx, r, "OnPlanUpdated", &r.onPlanUpdated, func(p OnPlanUpdated) error {
		return p.OnPlanUpdated(ctx, before, after)
	})
}

func (r *Registry) EmitOrderCreated(ctx context.Context, userID string, pl *plan.Plan, order *gateway.Order) {
	emit(ctx, r, "OnOrderCreated", &r.onOrderCreated, func(p OnOrderCreated) error {
		return p.OnOrderCreated(ctx, userID, pl, order)
	})
}

func (r *Registry) EmitPaymentRecorded(ctx context.Context, pay *payment.Payment) {
	emit(ctx, r, "OnPaymentRecorded", &r.onPaymentRecorded, func(p OnPaymentRecorded) error {
		return p.OnPaymentRecorded(ctx, pay)
	})
}

func (r *Registry) EmitPaymentRejected(ctx context.Context, userID, orderID, paymentID string) {
	emit(ctx, r, "OnPaymentRejected", &r.onPaymentRejected, func(p OnPaymentRejected) error {
		return p.OnPaymentRejected(ctx, userID, orderID, paymentID)
	})
}

func (r *Registry) EmitGatewayError(ctx context.Context, gatewayName, op string, gerr error) {
	emit(ctx, r, "OnGatewayError", &r.onGatewayError, func(p OnGatewayError) error {
		return p.OnGatewayError(ctx, gatewayName, op, gerr)
	})
}

func (r *Registry) EmitSubscriptionActivated(ctx context.Context, sub *subscription.Subscription, pl *plan.Plan) {
	emit(ctx, r, "OnSubscriptionActivated", &r.onSubscriptionActivated, func(p OnSubscriptionActivated) error {
		return p.OnSubscriptionActivated(ctx, sub, pl)
	})
}

func (r *Registry) EmitSubscriptionCancelled(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCancelled", &r.onSubscriptionCancelled, func(p OnSubscriptionCancelled) error {
		return p.OnSubscriptionCancelled(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionDowngraded(ctx context.Context, sub *subscription.Subscription, from plan.Tier) {
	emit(ctx, r, "OnSubscriptionDowngraded", &r.onSubscriptionDowngraded, func(p OnSubscriptionDowngraded) error {
		return p.OnSubscriptionDowngraded(ctx, sub, from)
	})
}

func (r *Registry) EmitSubscriptionExpired(ctx context.Context, sub *subscription.Subscription, from subscription.Status) {
	emit(ctx, r, "OnSubscriptionExpired", &r.onSubscriptionExpired, func(p OnSubscriptionExpired) error {
		return p.OnSubscriptionExpired(ctx, sub, from)
	})
}

func (r *Registry) EmitUsageIncremented(ctx context.Context, userID string, feature plan.Feature, count int64) {
	emit(ctx, r, "OnUsageIncremented", &r.onUsageIncremented, func(p OnUsageIncremented) error {
		return p.OnUsageIncremented(ctx, userID, feature, count)
	})
}

func (r *Registry) EmitEntitlementChecked(ctx context.Context, userID string, result *entitlement.Result) {
	emit(ctx, r, "OnEntitlementChecked", &r.onEntitlementChecked, func(p OnEntitlementChecked) error {
		return p.OnEntitlementChecked(ctx, userID, result)
	})
}

func (r *Registry) EmitQuotaExceeded(ctx context.Context, userID string, result *entitlement.Result) {
	emit(ctx, r, "OnQuotaExceeded", &r.onQuotaExceeded, func(p OnQuotaExceeded) error {
		return p.OnQuotaExceeded(ctx, userID, result)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the entitlement path.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
