package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/quillback/research-relay/internal/auth"
	"github.com/quillback/research-relay/internal/chatproxy"
	"github.com/quillback/research-relay/internal/config"
	"github.com/quillback/research-relay/internal/querylog"
	"github.com/quillback/research-relay/internal/research"
	"github.com/quillback/research-relay/internal/server"
	"github.com/quillback/research-relay/internal/telemetry"
	"github.com/quillback/research-relay/internal/tokens"
	"github.com/quillback/research-relay/internal/upstream"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init("research-relay", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	allow, err := auth.LoadAllowlist(cfg.Auth.AllowedUsersFile, cfg.Auth.AllowedUsers)
	if err != nil {
		log.Fatalf("Failed to load allow-list: %v", err)
	}
	if allow.Len() == 0 {
		logger.Warn("allow-list is empty; every start request will be rejected")
	}

	researchStore, err := querylog.NewStore(cfg.Storage.ResearchDir)
	if err != nil {
		log.Fatalf("Failed to open research output dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Storage.ChatDir, 0o755); err != nil {
		log.Fatalf("Failed to open chat output dir: %v", err)
	}

	// Deep-research subsystem
	var researchOpts []upstream.ClientOption
	if cfg.Research.BaseURL != "" {
		researchOpts = append(researchOpts, upstream.WithBaseURL(cfg.Research.BaseURL))
	}
	if cfg.Research.Agent != "" {
		researchOpts = append(researchOpts, upstream.WithAgent(cfg.Research.Agent))
	}
	researchClient := upstream.NewClient(cfg.Research.APIKey, researchOpts...)

	registry := research.NewRegistry(allow, researchStore, logger)
	runner := research.NewRunner(researchClient, cfg.Research.BackoffDuration(), logger)
	researchHandler := research.NewHandler(registry, runner, researchClient, researchStore, logger, cfg.Research.SubscriberBuffer)

	// Chat proxy
	chatBase := cfg.Chat.BaseURL
	if chatBase == "" {
		chatBase = "https://api.openai.com/v1"
	}
	chatClient := upstream.NewChatClient(chatBase, cfg.Chat.APIKey)
	chatHandler := chatproxy.NewHandler(
		chatproxy.NewSessions(0),
		chatClient,
		allow,
		cfg.Chat.Models,
		cfg.Storage.ChatDir,
		logger,
	)

	// Token counting
	tokenRegistry := tokens.NewRegistry()
	tokenRegistry.Register(tokens.NewTiktokenCounter())
	tokenHandler := tokens.NewHandler(tokenRegistry)

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Route("/api/research", researchHandler.Routes)
	srv.Router.Route("/api/chat", chatHandler.Routes)
	srv.Router.Route("/api/tokens", func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(30 * time.Second))
		tokenHandler.Routes(r)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
