package extension

import (
	"time"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/api"
	"github.com/xraph/entitle/gateway"
	"github.com/xraph/entitle/plugin"
	"github.com/xraph/entitle/reconcile"
	"github.com/xraph/entitle/store"
)

// Option configures the entitle Forge extension.
type Option func(*Extension)

// WithStore sets the store for the engine. Pass postgres.New, sqlite.New
// or mongo.New over the app's grove.DB, or a redis store.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithEngineOption passes an entitle.Option through to the engine.
func WithEngineOption(opt entitle.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers an entitle plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithPlugin(p))
	}
}

// WithGateway sets the payment gateway used for orders and mandates.
func WithGateway(g gateway.Gateway) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, entitle.WithGateway(g))
	}
}

// WithAPIOption configures the *api.Server provided in the container.
func WithAPIOption(opt api.Option) Option {
	return func(e *Extension) {
		e.apiOpts = append(e.apiOpts, opt)
	}
}

// WithReconcileOption configures the expiry sweep scheduler.
func WithReconcileOption(opt reconcile.Option) Option {
	return func(e *Extension) {
		e.scheduleOpt = append(e.scheduleOpt, opt)
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithDisableSeed prevents the default plans from being seeded.
func WithDisableSeed() Option {
	return func(e *Extension) { e.config.DisableSeed = true }
}

// WithDisableReconcile prevents the expiry sweep from being scheduled.
func WithDisableReconcile() Option {
	return func(e *Extension) { e.config.DisableReconcile = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSigningSecret sets the secret payment callbacks are verified with.
func WithSigningSecret(secret string) Option {
	return func(e *Extension) { e.config.SigningSecret = secret }
}

// WithPlanCacheTTL sets how long plans are cached.
func WithPlanCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.PlanCacheTTL = d }
}

// WithGatewayTimeout bounds each gateway call.
func WithGatewayTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.GatewayTimeout = d }
}

// WithExpiryGrace sets how long PAST_DUE lasts before expiry.
func WithExpiryGrace(d time.Duration) Option {
	return func(e *Extension) { e.config.ExpiryGrace = d }
}

// WithReconcileSchedule sets the cron spec of the expiry sweep.
func WithReconcileSchedule(spec string) Option {
	return func(e *Extension) { e.config.ReconcileSchedule = spec }
}
