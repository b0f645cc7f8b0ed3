package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/beyanname/internal/api"
	"github.com/kiranshivaraju/beyanname/internal/api/handler"
	mw "github.com/kiranshivaraju/beyanname/internal/api/middleware"
	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/internal/pipeline"
	"github.com/kiranshivaraju/beyanname/internal/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and the recovery sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env,
		"dispatch_mode", cfg.Pipeline.DispatchMode, "in_memory", cfg.InMemory)

	if !cfg.InMemory {
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	disp := pipeline.NewDispatcher(a.scheduler, cfg.Pipeline.MaxConcurrentJobs)
	sweeper := a.newSweeper(disp)
	if err := sweeper.Start(cfg.Pipeline.SweepSchedule); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}

	validators, err := tokenValidators(ctx, cfg.Auth)
	if err != nil {
		sweeper.Stop()
		return err
	}

	deps := api.Dependencies{
		Auth:          mw.NewAuth(a.store, validators...),
		RateLimit:     mw.NewRateLimit(a.cache, cfg.Auth.RateLimitPerMinute),
		CORSOrigins:   cfg.Server.CORSOrigins,
		HealthHandler: healthHandler(a.store, a.cache),
	}.
		WithJobs(handler.NewJobs(a.scheduler, disp)).
		WithAdmin(handler.NewAdmin(a.store, sweeper))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	sweeper.Stop()
	if err := disp.Drain(shutdownCtx); err != nil {
		// Interrupted jobs were recorded as failed and can be retried.
		slog.Warn("job workers did not finish before shutdown", "error", err)
	}

	if serveErr == nil {
		slog.Info("server stopped gracefully")
	}
	return serveErr
}

// tokenValidators builds the bearer-token validators enabled in cfg, HS256
// first.
func tokenValidators(ctx context.Context, cfg config.AuthConfig) ([]mw.TokenValidator, error) {
	var validators []mw.TokenValidator
	if cfg.JWTSecret != "" {
		v, err := mw.NewHS256Validator(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("create jwt validator: %w", err)
		}
		validators = append(validators, v)
	}
	if cfg.OIDCIssuer != "" {
		v, err := mw.NewOIDCValidator(ctx, cfg.OIDCIssuer, cfg.OIDCAudience)
		if err != nil {
			return nil, fmt.Errorf("create oidc validator: %w", err)
		}
		validators = append(validators, v)
	}
	if len(validators) == 0 {
		slog.Warn("no token validators configured; only API keys are accepted")
	}
	return validators, nil
}
