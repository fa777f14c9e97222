package extension

import "time"

// Config holds the entitle extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.entitle" or "entitle" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// DisableSeed prevents the FREE, PRO and PREMIUM plans from being
	// seeded on start.
	DisableSeed bool `json:"disable_seed" mapstructure:"disable_seed" yaml:"disable_seed"`

	// SigningSecret is the gateway key secret used to verify payment
	// callbacks. Without it every activation is rejected.
	SigningSecret string `json:"signing_secret" mapstructure:"signing_secret" yaml:"signing_secret"`

	// PlanCacheTTL controls how long plans are cached in-process
	// (default: 30s).
	PlanCacheTTL time.Duration `json:"plan_cache_ttl" mapstructure:"plan_cache_ttl" yaml:"plan_cache_ttl"`

	// GatewayTimeout bounds each payment gateway call (default: 10s).
	GatewayTimeout time.Duration `json:"gateway_timeout" mapstructure:"gateway_timeout" yaml:"gateway_timeout"`

	// ExpiryGrace is how long a lapsed ACTIVE subscription stays PAST_DUE
	// before the reconcile sweep expires it (default: 72h).
	ExpiryGrace time.Duration `json:"expiry_grace" mapstructure:"expiry_grace" yaml:"expiry_grace"`

	// ReconcileSchedule is the cron spec of the expiry sweep
	// (default: "@hourly"). Set DisableReconcile to run it elsewhere.
	ReconcileSchedule string `json:"reconcile_schedule" mapstructure:"reconcile_schedule" yaml:"reconcile_schedule"`

	// DisableReconcile prevents the expiry sweep from being scheduled.
	DisableReconcile bool `json:"disable_reconcile" mapstructure:"disable_reconcile" yaml:"disable_reconcile"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PlanCacheTTL:      30 * time.Second,
		GatewayTimeout:    10 * time.Second,
		ExpiryGrace:       72 * time.Hour,
		ReconcileSchedule: "@hourly",
	}
}
