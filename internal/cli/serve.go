package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/api"
	"github.com/ashureev/techscreen/internal/config"
	"github.com/ashureev/techscreen/internal/identity"
	"github.com/ashureev/techscreen/internal/interview"
	"github.com/ashureev/techscreen/internal/relay"
	"github.com/ashureev/techscreen/internal/store"
	"github.com/ashureev/techscreen/internal/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and realtime server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := newLogger(cfg.SlogLevel())
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", version)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("Failed to close repository", "error", closeErr)
		}
	}()
	logger.Info("Database connected", "db_path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var broker relay.Broker = relay.NewLocalBroker()
	if cfg.RedisAddr != "" {
		redisBroker, err := relay.NewRedisBroker(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
		if err != nil {
			return fmt.Errorf("initialize relay broker: %w", err)
		}
		broker = redisBroker
	} else {
		logger.Info("REDIS_ADDR not set, relaying events in-process only")
	}
	defer func() {
		if closeErr := broker.Close(); closeErr != nil {
			logger.Warn("Failed to close relay broker", "error", closeErr)
		}
	}()

	ai := aigateway.NewClient(aigateway.ClientConfig{
		BaseURL:        cfg.AIServiceURL,
		RequestTimeout: cfg.AIRequestTimeout,
	}, logger)

	opts := interview.Options{
		QuestionBudget:    cfg.QuestionBudget,
		QuizQuestionCount: cfg.QuizQuestionCount,
		CodingLanguage:    cfg.CodingLanguage,
		InviteTTL:         cfg.InviteTTL,
	}

	// Initialize services.
	hub := relay.NewHub(broker, logger)
	resolver := interview.NewResolver(repo)
	finalizer := interview.NewFinalizer(repo, ai, logger)
	stages := interview.NewStageController(repo, resolver, ai, opts, logger)
	chat := interview.NewChatOrchestrator(repo, ai, finalizer, hub, opts, logger)
	sessions := interview.NewSessions(repo, ai, finalizer, opts, logger)

	// Initialize handlers.
	wsHandler := relay.NewWebSocketHandler(hub, resolver, chat, cfg.WebSocketOrigins(), logger)
	router := api.NewRouter(api.RouterConfig{
		Base:           api.NewHandler(logger),
		DB:             repo,
		Viewer:         resolver,
		Stages:         stages,
		Recruiter:      sessions,
		Verifier:       identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Realtime:       wsHandler,
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	// Websocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	worker.NewSweeper(repo, finalizer, chat.Budget(), cfg.FinalizeRetryInterval, cfg.FinalizeRetryGrace, logger).Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}
