package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tradechat-backend/internal/api"
	"tradechat-backend/internal/config"
	"tradechat-backend/internal/handlers"
	"tradechat-backend/internal/realtime"
	"tradechat-backend/internal/services"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	// 1. Load Configuration
	bootLogger := config.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"))
	cfg, err := config.LoadConfig(bootLogger)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting TradeChat backend", "version", Version)

	// 2. Open the conversation store
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer func() {
		logger.Info("closing store")
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	// 3. Initialize Dependencies (Services, Realtime, Handlers)
	conversationService := services.NewConversationService(st, cfg.StoreTimeout, logger)
	realtimeRouter := realtime.NewRouter(realtime.NewRegistry(), conversationService, realtime.RouterConfig{
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	router := api.NewRouter(api.RouterDependencies{
		ConversationHandler: handlers.NewConversationHandler(conversationService, logger),
		HealthHandler:       handlers.NewHealthHandler(conversationService, logger),
		Realtime:            realtimeRouter.ServeWS,
		Config:              cfg,
		Logger:              logger,
	})

	// 4. Configure and Start HTTP Server
	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
		// Production hardening: Set timeouts to avoid Slowloris attacks
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal or listener failure
	select {
	case err, ok := <-serveErr:
		if ok {
			realtimeRouter.Shutdown()
			return fmt.Errorf("serve: listen on %s: %w", cfg.HTTPPort, err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; the realtime
	// router closes them.
	shutdownErr := server.Shutdown(shutdownCtx)
	realtimeRouter.Shutdown()
	if shutdownErr != nil {
		return fmt.Errorf("serve: graceful shutdown failed: %w", shutdownErr)
	}

	logger.Info("server shutdown complete")
	return nil
}
