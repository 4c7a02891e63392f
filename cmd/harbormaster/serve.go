package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/melih/harbormaster/internal/adapters/http"
	"github.com/melih/harbormaster/internal/logging"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as an agent: periodic reconciliation plus the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	flags := cmd.Flags()
	flags.String("address", ":3000", "listen address of the HTTP API")
	flags.Duration("interval", 5*time.Minute, "time between reconciliation runs, 0 disables them")
	bindFlags(opts.v, flags, map[string]string{
		"serve.address":  "address",
		"serve.interval": "interval",
	})
	return cmd
}

func serve(parent context.Context, opts *options) error {
	logger := logging.ComponentLogger("serve")
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(opts.cfg)
	if err != nil {
		return err
	}
	app := http.NewApp(http.NewContainerHandler(a.engine, a.runtime), a.registry)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("address", opts.cfg.Serve.Address))
		return app.Listen(opts.cfg.Serve.Address)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
	g.Go(func() error {
		schedule(ctx, a, opts.cfg.Serve.Interval, logger)
		return nil
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", zap.Error(err))
	} else if ok {
		logger.Debug("notified systemd")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// schedule runs the engine right away and then every interval until ctx
// ends. Runs never overlap.
func schedule(ctx context.Context, a *agent, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("scheduled run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
