package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	evermindroot "github.com/evermind-app/evermind"
	"github.com/evermind-app/evermind/internal/alerts"
	"github.com/evermind-app/evermind/internal/config"
	"github.com/evermind-app/evermind/internal/handler"
	appmiddleware "github.com/evermind-app/evermind/internal/middleware"
	"github.com/evermind-app/evermind/internal/repository"
	"github.com/evermind-app/evermind/internal/repository/postgres"
	"github.com/evermind-app/evermind/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("failed to resolve session timezone", "error", err)
		os.Exit(1)
	}

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(evermindroot.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Ops alerts (disabled unless configured)
	notifier, err := alerts.New(cfg.AlertsBotToken, cfg.AlertsChatID)
	if err != nil {
		slog.Error("failed to create alerts notifier", "error", err)
		os.Exit(1)
	}

	// Initialize stores and services
	store := postgres.NewStore(pool)
	ledger := service.NewLedger(store, loc)
	selector := service.NewPromptSelector(store, store)
	continuity := service.NewContinuityService(store, selector, loc)
	llm := service.NewOpenRouterClient(cfg.OpenRouterKey)
	chat := service.NewChatService(cfg, store, continuity, ledger, llm, notifier)

	h := handler.New(handler.Deps{
		Chat:  chat,
		Usage: store,
	})

	// Build router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.HandlerTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(appmiddleware.Auth(cfg.JWTSecret))
			h.Register(protected)
		})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped gracefully")
}
