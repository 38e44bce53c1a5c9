// Package main is the entrypoint for the meme description API server.
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

	"github.com/redis/go-redis/v9"

	"github.com/neonwatty/meme-search-sub002/internal/api"
	"github.com/neonwatty/meme-search-sub002/internal/api/handler"
	mw "github.com/neonwatty/meme-search-sub002/internal/api/middleware"
	"github.com/neonwatty/meme-search-sub002/internal/api/response"
	"github.com/neonwatty/meme-search-sub002/internal/broadcast"
	"github.com/neonwatty/meme-search-sub002/internal/bulk"
	"github.com/neonwatty/meme-search-sub002/internal/cache"
	"github.com/neonwatty/meme-search-sub002/internal/config"
	"github.com/neonwatty/meme-search-sub002/internal/generate"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Env, "queue", cfg.Queue.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Redis: one client shared by the cache and the broadcaster
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	redisCache := cache.NewRedisCacheFromClient(redisClient)
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	broadcaster := broadcast.NewRedisBroadcasterFromClient(redisClient)
	slog.Info("redis connected")

	// 5. Queue client and core services
	queueClient := queue.NewHTTPClient(cfg.Queue.BaseURL, cfg.Queue.Token, cfg.Queue.Timeout)
	pgStore := store.NewPostgresStore(pool)

	genService := generate.NewService(pgStore, queueClient, broadcaster,
		cfg.CallbackBaseURL, slog.Default())
	coordinator := bulk.NewCoordinator(pgStore, redisCache, broadcaster,
		genService, slog.Default())
	genService.SetNotifier(coordinator)

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth: mw.NewServiceAuth(cfg.Auth.TokenHash),

		HealthHandler: healthHandler(pgStore, redisCache, queueClient),
		EventsHandler: handler.NewEventsHandler(broadcaster),

		GenerateHandler: handler.NewGenerateHandler(genService),
		CancelHandler:   handler.NewCancelHandler(genService),
		GetImageHandler: handler.NewGetImageHandler(pgStore),

		BulkGenerateHandler:    handler.NewBulkGenerateHandler(coordinator),
		BulkProgressHandler:    handler.NewBulkProgressHandler(coordinator),
		BulkCancelHandler:      handler.NewBulkCancelHandler(coordinator),
		ActiveOperationHandler: handler.NewActiveOperationHandler(coordinator),

		StatusCallbackHandler:      handler.NewStatusCallbackHandler(genService),
		DescriptionCallbackHandler: handler.NewDescriptionCallbackHandler(genService),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /api/v1/events holds SSE connections open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache, and queue connectivity.
func healthHandler(s store.Store, c cache.Cache, q queue.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if _, err := q.CheckQueue(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		degraded := false
		for _, status := range checks {
			if status != "ok" {
				degraded = true
			}
		}
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
