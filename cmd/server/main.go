package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskhive/internal/config"
	"taskhive/internal/logging"
	"taskhive/internal/serverapp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		addr        string
		maintenance time.Duration
	)
	cmd := &cobra.Command{
		Use:          "taskhive-server",
		Short:        "Serve the taskhive task API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("TASKHIVE_CONFIG")
			}
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			cfg = config.FromEnv(cfg)
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, maintenance)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (yaml or toml), defaults to $TASKHIVE_CONFIG")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().DurationVar(&maintenance, "maintenance-interval", time.Hour, "how often expired trash and sessions are purged")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, maintenance time.Duration) error {
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	app, err := serverapp.New(ctx, serverapp.Options{Config: cfg, Logger: logger})
	if err != nil {
		logger.Error("build server", "err", err)
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close storage", "err", err)
		}
	}()

	if maintenance > 0 {
		go app.RunMaintenance(ctx, maintenance)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Backend, "env", cfg.Server.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("server stopped", "err", err)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
