package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpusqa/corpusqa/internal/config"
	"github.com/corpusqa/corpusqa/internal/logging"
	"github.com/corpusqa/corpusqa/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP query service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := server.New(a.engine,
		server.WithLogger(logger),
		server.WithConfig(server.Config{
			Addr:        cfg.Server.Addr,
			CORSOrigins: cfg.Server.CORSOrigins,
			RateLimit:   cfg.Server.RateLimit,
			RateBurst:   cfg.Server.RateBurst,
		}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}
