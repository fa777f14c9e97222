// Package extension provides the Forge extension adapter for entitle.
//
// It implements the forge.Extension interface to integrate the engine
// into a Forge application with DI registration, lifecycle management and
// a scheduled expiry sweep.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.entitle" or "entitle" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/api"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/reconcile"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "entitle"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Plan entitlements and monthly usage metering"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the entitle engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *entitle.Engine
	store       store.Store
	scheduler   *reconcile.Scheduler
	engineOpts  []entitle.Option
	apiOpts     []api.Option
	scheduleOpt []reconcile.Option
}

// New creates a new entitle Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *entitle.Engine { return e.engine }

// Config returns the resolved configuration.
func (e *Extension) Config() Config { return e.config }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it and its HTTP server in the
// DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = entitle.New(e.store, e.buildEngineOpts()...)
	if !e.config.DisableReconcile {
		opts := append([]reconcile.Option{reconcile.WithSchedule(e.config.ReconcileSchedule)}, e.scheduleOpt...)
		e.scheduler = reconcile.New(e.engine, opts...)
	}

	if err := vessel.Provide(fapp.Container(), func() (*entitle.Engine, error) {
		return e.engine, nil
	}); err != nil {
		return err
	}
	return vessel.Provide(fapp.Container(), func() (*api.Server, error) {
		return api.New(e.engine, e.apiOpts...), nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("entitle: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}
	if e.scheduler != nil {
		if err := e.scheduler.Start(); err != nil {
			_ = e.engine.Stop()
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(ctx context.Context) error {
	var errs []error
	if e.scheduler != nil {
		if err := e.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	e.MarkStopped()
	return errors.Join(errs...)
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("entitle: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEngineOpts constructs entitle.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []entitle.Option {
	opts := make([]entitle.Option, 0, len(e.engineOpts)+6)

	opts = append(opts,
		entitle.WithPlanCacheTTL(e.config.PlanCacheTTL),
		entitle.WithGatewayTimeout(e.config.GatewayTimeout),
		entitle.WithExpiryGrace(e.config.ExpiryGrace),
		entitle.WithAutoMigrate(!e.config.DisableMigrate),
	)
	if e.config.SigningSecret != "" {
		opts = append(opts, entitle.WithSigningSecret(e.config.SigningSecret))
	}
	if !e.config.DisableSeed {
		opts = append(opts, entitle.WithDefaultPlans(plan.Defaults()...))
	}

	// Pass-through options come last so they win over config.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("entitle: configuration is required but not found in config files; " +
				"ensure 'extensions.entitle' or 'entitle' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("entitle: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("disable_seed", e.config.DisableSeed),
		forge.F("plan_cache_ttl", e.config.PlanCacheTTL),
		forge.F("gateway_timeout", e.config.GatewayTimeout),
		forge.F("expiry_grace", e.config.ExpiryGrace),
		forge.F("reconcile_schedule", e.config.ReconcileSchedule),
		forge.F("signing_secret_set", e.config.SigningSecret != ""),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.entitle", "entitle"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("entitle: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("entitle: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.PlanCacheTTL == 0 {
		cfg.PlanCacheTTL = defaults.PlanCacheTTL
	}
	if cfg.GatewayTimeout == 0 {
		cfg.GatewayTimeout = defaults.GatewayTimeout
	}
	if cfg.ExpiryGrace == 0 {
		cfg.ExpiryGrace = defaults.ExpiryGrace
	}
	if cfg.ReconcileSchedule == "" {
		cfg.ReconcileSchedule = defaults.ReconcileSchedule
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if programmaticConfig.DisableSeed {
		yamlConfig.DisableSeed = true
	}
	if programmaticConfig.DisableReconcile {
		yamlConfig.DisableReconcile = true
	}

	if yamlConfig.SigningSecret == "" {
		yamlConfig.SigningSecret = programmaticConfig.SigningSecret
	}
	if yamlConfig.ReconcileSchedule == "" {
		yamlConfig.ReconcileSchedule = programmaticConfig.ReconcileSchedule
	}

	if yamlConfig.PlanCacheTTL == 0 {
		yamlConfig.PlanCacheTTL = programmaticConfig.PlanCacheTTL
	}
	if yamlConfig.GatewayTimeout == 0 {
		yamlConfig.GatewayTimeout = programmaticConfig.GatewayTimeout
	}
	if yamlConfig.ExpiryGrace == 0 {
		yamlConfig.ExpiryGrace = programmaticConfig.ExpiryGrace
	}

	return mergeWithDefaults(yamlConfig)
}
