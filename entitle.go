package entitle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/subscription"
	"github.com/xraph/entitle/verifier"
)

// Default configuration values.
const (
	DefaultPlanCacheTTL   = 30 * time.Second
	DefaultGatewayTimeout = 10 * time.Second
	DefaultExpiryGrace    = 72 * time.Hour
)

// ProfileResolver supplies checkout prefill data for a user.
type ProfileResolver func(ctx context.Context, userID string) (gateway.Prefill, error)

// Engine is the entitlement and usage-metering engine.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	gateway  gateway.Gateway
	verifier verifier.Verifier
	profiles ProfileResolver

	rule     subscription.Rule
	clock    func() time.Time
	plans    *planCache
	seed     []*plan.Plan
	migrate  bool
	verified bool

	gatewayTimeout time.Duration
	expiryGrace    time.Duration
}

// New creates a new Engine backed by s.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		verifier:       rejectAll,
		rule:           subscription.ThroughPaidPeriod,
		clock:          time.Now,
		plans:          newPlanCache(DefaultPlanCacheTTL),
		migrate:        true,
		gatewayTimeout: DefaultGatewayTimeout,
		expiryGrace:    DefaultExpiryGrace,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// rejectAll is the verifier used until one is configured.
var rejectAll = verifier.Func(func(string, string, string) bool { return false })

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithGateway sets the payment gateway used for orders and mandates.
func WithGateway(g gateway.Gateway) Option {
	return func(e *Engine) { e.gateway = g }
}

// WithVerifier sets the payment signature verifier.
func WithVerifier(v verifier.Verifier) Option {
	return func(e *Engine) {
		if v == nil {
			return
		}
		e.verifier = v
		e.verified = true
	}
}

// WithSigningSecret verifies payments with HMAC-SHA256 under secret.
func WithSigningSecret(secret string) Option {
	return WithVerifier(verifier.NewHMAC(secret))
}

// WithEffectivePlanRule sets the rule that decides whether a subscription
// row still entitles its user to the row's plan.
func WithEffectivePlanRule(rule subscription.Rule) Option {
	return func(e *Engine) {
		if rule != nil {
			e.rule = rule
		}
	}
}

// WithPlanCacheTTL sets how long plan lookups are cached. Zero disables
// caching.
func WithPlanCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.plans = newPlanCache(ttl) }
}

// WithGatewayTimeout bounds every gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.gatewayTimeout = d
		}
	}
}

// WithExpiryGrace sets how long a PAST_DUE subscription waits for renewal
// before reconciliation expires it.
func WithExpiryGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.expiryGrace = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithProfileResolver supplies checkout prefill data to CreateOrder.
func WithProfileResolver(r ProfileResolver) Option {
	return func(e *Engine) { e.profiles = r }
}

// WithDefaultPlans seeds plans missing from the store on Start.
func WithDefaultPlans(plans ...*plan.Plan) Option {
	return func(e *Engine) { e.seed = plans }
}

// WithAutoMigrate controls whether Start runs store migrations.
func WithAutoMigrate(enabled bool) Option {
	return func(e *Engine) { e.migrate = enabled }
}

// Start migrates the store, seeds default plans and initializes plugins.
func (e *Engine) Start(ctx context.Context) error {
	if e.migrate {
		if err := e.store.Migrate(ctx); err != nil {
			return err
		}
	}

	if len(e.seed) > 0 {
		n, err := e.SeedPlans(ctx, e.seed...)
		if err != nil {
			return fmt.Errorf("entitle: seed plans: %w", err)
		}
		if n > 0 {
			e.logger.Info("seeded plans", "created", n)
		}
	}

	if !e.verified {
		e.logger.Warn("no payment verifier configured; every activation will be rejected")
	}

	e.plugins.EmitInit(ctx, e)

	gatewayName := ""
	if e.gateway != nil {
		gatewayName = e.gateway.Name()
	}
	e.logger.Info("entitle started",
		"gateway", gatewayName,
		"gateway_timeout", e.gatewayTimeout,
		"plan_cache_ttl", e.plans.ttl,
		"expiry_grace", e.expiryGrace,
	)

	return nil
}

// Stop notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.plugins.EmitShutdown(context.Background())
	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// Gateway returns the configured gateway, or nil.
func (e *Engine) Gateway() gateway.Gateway { return e.gateway }

func (e *Engine) now() time.Time { return e.clock().UTC() }
