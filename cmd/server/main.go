// Package main is the entrypoint for the asrrelay API server.
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

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/kiranshivaraju/asrrelay/internal/api"
	"github.com/kiranshivaraju/asrrelay/internal/api/handler"
	mw "github.com/kiranshivaraju/asrrelay/internal/api/middleware"
	"github.com/kiranshivaraju/asrrelay/internal/audio"
	"github.com/kiranshivaraju/asrrelay/internal/cache"
	"github.com/kiranshivaraju/asrrelay/internal/callback"
	"github.com/kiranshivaraju/asrrelay/internal/config"
	"github.com/kiranshivaraju/asrrelay/internal/dispatch"
	"github.com/kiranshivaraju/asrrelay/internal/engine"
	"github.com/kiranshivaraju/asrrelay/internal/share"
	"github.com/kiranshivaraju/asrrelay/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()
	slog.SetDefault(newLogger(os.Getenv("ASRRELAY_ENV")))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newLogger returns a colour console logger in development and JSON otherwise.
func newLogger(env string) *slog.Logger {
	if env == "" || env == "development" {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "asr_endpoint", cfg.ASR.Endpoint)

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

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build the orchestrator and its collaborators
	shared := share.NewStore(redisCache, share.Config{
		PublicURL: cfg.Server.PublicURL,
		TTL:       cfg.Audio.ShareTTL,
		MaxBytes:  cfg.Audio.MaxBytes,
	})
	orch, err := dispatch.New(cfg.Orchestrator(), dispatch.Dependencies{
		Audio:   audio.NewFetcher(cfg.Audio.DataDir, cfg.ASR.Timeouts, cfg.Audio.MaxBytes),
		Storage: shared,
		Engine: engine.NewClient(engine.Config{
			Endpoint:  cfg.ASR.Endpoint,
			Region:    cfg.ASR.Region,
			AccessKey: cfg.ASR.AccessKey,
			SecretKey: cfg.ASR.SecretKey,
			Format:    cfg.ASR.Format,
			Timeouts:  cfg.ASR.Timeouts,
		}),
		Callback: callback.NewSender(cfg.ASR.Timeouts),
		Statuses: redisCache,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	// 6. Create store
	pgStore := store.NewPostgresStore(pool)

	// 7. Build router with dependencies
	limits := mw.Limits{
		PerKey:    cfg.RateLimit.PerKey,
		PerTenant: cfg.RateLimit.PerTenant,
		Submit:    cfg.RateLimit.Submit,
	}
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, limits),

		HealthHandler:      handler.NewHealthHandler(pgStore, redisCache),
		SharedAudioHandler: handler.NewSharedAudioHandler(shared),
		SubmitJobHandler:   handler.NewSubmitJobHandler(orch, redisCache, handler.DefaultSubmitWait),
		JobStatusHandler:   handler.NewJobStatusHandler(redisCache, redisCache),
		StatsHandler:       handler.NewStatsHandler(orch),
		CreateKeyHandler:   handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:    handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: handler.DefaultSubmitWait + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// HTTP drains before the orchestrator stops; both share one deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("server shutdown: %w", err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("orchestrator shutdown: %w", err))
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("server stopped gracefully")
	return nil
}
