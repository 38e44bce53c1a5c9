// Package main is the entrypoint for the inference worker: the queue API
// plus the single sequential job loop.
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

	mw "github.com/neonwatty/meme-search-sub002/internal/api/middleware"
	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/internal/config"
	"github.com/neonwatty/meme-search-sub002/internal/inference"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Env, "provider", cfg.Inference.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobStore, err := queue.OpenStore(cfg.JobDBPath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobStore.Close()
	slog.Info("job store opened", "path", cfg.JobDBPath)

	provider, err := inference.NewProvider(cfg.Inference)
	if err != nil {
		return fmt.Errorf("create inference provider: %w", err)
	}
	slog.Info("inference provider initialized", "provider", provider.Name())

	sender := callback.NewHTTPSender(cfg.Auth.Token, cfg.Inference.CallbackTimeout)
	loop := worker.New(jobStore, provider, sender,
		cfg.PollInterval, cfg.Inference.Timeout, slog.Default())

	auth := mw.NewServiceAuth(cfg.Auth.TokenHash)
	router := queue.NewRouter(jobStore, auth)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("queue API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(ctx)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("queue API error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining...")
	}

	// The loop stops at the next poll; an in-flight inference call is
	// abandoned and its job stays processing until the next operator action.
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("queue API shutdown: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}
