package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/api"
	audithook "github.com/xraph/entitle/audit_hook"
	"github.com/xraph/entitle/observability"
	"github.com/xraph/entitle/reconcile"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduled expiry sweep",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(reg, "entitle"))

	rt, err := setup(entitle.WithPlugin(metrics))
	if err != nil {
		return err
	}

	// The audit trail goes to the process log.
	audit := audithook.New(audithook.RecorderFunc(func(_ context.Context, ev *audithook.AuditEvent) error {
		rt.logger.Info("audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"user_id", ev.UserID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
		)
		return nil
	}), audithook.WithLogger(rt.logger))
	if err := rt.engine.Plugins().Register(audit); err != nil {
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

	srv := api.New(rt.engine,
		api.WithLogger(rt.logger),
		api.WithAdminGuard(api.AdminTokenGuard(rt.cfg.AdminToken)),
	)
	app := srv.App()
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	sched := reconcile.New(rt.engine,
		reconcile.WithSchedule(rt.cfg.ReconcileSchedule),
		reconcile.WithLogger(rt.logger),
	)
	if err := sched.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("listening", "addr", rt.cfg.Listen, "store", rt.cfg.Store)
		return app.Listen(rt.cfg.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(
			app.ShutdownWithContext(sctx),
			sched.Stop(sctx),
		)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
