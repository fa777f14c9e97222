// Command entitlectl runs the entitle HTTP service and operates on its
// store: seeding plans, inspecting usage and running the expiry sweep.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/gateway/razorpay"
	"github.com/xraph/entitle/plan"
	"github.com/xraph/entitle/store"
	"github.com/xraph/entitle/store/memory"
	"github.com/xraph/entitle/store/redis"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var envFiles []string

var rootCmd = &cobra.Command{
	Use:           "entitlectl",
	Short:         "Plan entitlements and usage metering service",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(signCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtime is the engine and what it was built from.
type runtime struct {
	cfg    *config
	logger *slog.Logger
	store  store.Store
	engine *entitle.Engine
}

// setup loads config and opens the store. The engine is created but not
// started; extra options are appended after the config-derived ones.
func setup(opts ...entitle.Option) (*runtime, error) {
	cfg, err := loadConfig(envFiles...)
	if err != nil {
		return nil, err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	base := []entitle.Option{
		entitle.WithLogger(logger),
		entitle.WithDefaultPlans(plan.Defaults()...),
		entitle.WithExpiryGrace(cfg.ExpiryGrace),
		entitle.WithGatewayTimeout(cfg.GatewayTimeout),
	}
	if cfg.SigningSecret != "" {
		base = append(base, entitle.WithSigningSecret(cfg.SigningSecret))
	}
	if cfg.RazorpayKeyID != "" && cfg.RazorpayKeySecret != "" {
		base = append(base, entitle.WithGateway(razorpay.New(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)))
	} else {
		logger.Warn("razorpay keys not set; checkout is disabled")
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  st,
		engine: entitle.New(st, append(base, opts...)...),
	}, nil
}

func openStore(cfg *config) (store.Store, error) {
	switch cfg.Store {
	case backendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return redis.New(client, redis.WithPrefix(cfg.RedisPrefix)), nil
	default:
		return memory.New(), nil
	}
}

// withEngine starts the engine, runs fn and stops it again.
func withEngine(ctx context.Context, fn func(ctx context.Context, rt *runtime) error, opts ...entitle.Option) error {
	rt, err := setup(opts...)
	if err != nil {
		return err
	}
	if err := rt.engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := rt.engine.Stop(); err != nil {
			rt.logger.Warn("engine stop failed", "error", err)
		}
	}()
	return fn(ctx, rt)
}
