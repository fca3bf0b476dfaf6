package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matrixbot/internal/action"
	"matrixbot/internal/clock"
	"matrixbot/internal/command"
	"matrixbot/internal/config"
	"matrixbot/internal/cursor"
	"matrixbot/internal/metrics"
	"matrixbot/internal/router"
	"matrixbot/internal/store"
	"matrixbot/internal/syncloop"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the homeserver and handle events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runBot(ctx, cfg)
		},
	}
}

// runBot wires the components and blocks until ctx is cancelled or the
// metrics server fails.
func runBot(ctx context.Context, cfg *config.Config) error {
	kv, err := store.NewSQLiteStore(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	client, err := newMatrixClient(cfg)
	if err != nil {
		return err
	}

	commands := command.NewRegistry(logger)
	command.RegisterBuiltins(commands, command.BuiltinConfig{
		Prefix:     cfg.Bot.CommandPrefix,
		AgentID:    cfg.Bot.AgentID,
		KickReason: cfg.Bot.KickReason,
		Farewell:   cfg.Bot.Farewell,
		Logger:     logger,
	})

	executor := action.NewExecutor(client, logger).
		WithLimiter(action.NewLimiter(cfg.Bot.SendBurst, cfg.Bot.SendRatePerMinute, clock.Real()))

	r := router.New(router.Config{
		Messenger:      client,
		Commands:       commands,
		Executor:       executor,
		SelfID:         client.UserID(),
		Prefix:         cfg.Bot.CommandPrefix,
		AgentID:        cfg.Bot.AgentID,
		InviteAttempts: cfg.Sync.InviteAttempts,
		Logger:         logger,
	})

	loop, err := syncloop.NewLoop(ctx, syncloop.Config{
		Syncer:         client,
		Cursor:         cursor.NewStore(kv, logger),
		Router:         r,
		Timeout:        cfg.Sync.Timeout,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
		Clock:          clock.Real(),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	logger.Info("matrixbot starting",
		"version", version,
		"homeserver", cfg.Matrix.HomeserverURL,
		"user", client.UserID(),
		"commands", commands.Names(),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics) })
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Collector.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", cfg.Listen, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
