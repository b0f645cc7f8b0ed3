package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/beyanname/internal/ai"
	"github.com/kiranshivaraju/beyanname/internal/artifact"
	"github.com/kiranshivaraju/beyanname/internal/cache"
	"github.com/kiranshivaraju/beyanname/internal/config"
	"github.com/kiranshivaraju/beyanname/internal/pipeline"
	"github.com/kiranshivaraju/beyanname/internal/render"
	"github.com/kiranshivaraju/beyanname/internal/store"
)

// app holds the long-lived collaborators shared by every subcommand.
type app struct {
	cfg       *config.Config
	store     store.Store
	cache     cache.Cache
	scheduler *pipeline.Scheduler

	closers []func()
}

// newApp connects the store and cache, builds the AI client and returns a
// ready scheduler. Callers must call close when done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if cfg.InMemory {
		a.store = store.NewMemoryStore()
		a.cache = cache.NewMemoryCache()
		slog.Warn("running with in-memory store and cache; jobs are lost on exit")
	} else {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.store = store.NewPostgresStore(pool)
		slog.Info("database connected")

		redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create redis cache: %w", err)
		}
		a.closers = append(a.closers, func() { redisCache.Close() })
		if err := redisCache.Ping(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.cache = redisCache
		slog.Info("redis connected")
	}

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create AI provider: %w", err)
	}
	client := ai.NewClient(provider, cfg.AI.InferenceTimeout, cfg.AI.RequestsPerSecond)
	slog.Info("AI provider initialized", "provider", provider.Name(), "model", provider.Model(),
		"batch", client.SupportsBatch())

	artifacts, err := artifact.New(ctx, cfg.Artifacts)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create artifact store: %w", err)
	}
	slog.Info("artifact store initialized", "backend", cfg.Artifacts.Backend)

	a.scheduler = pipeline.NewScheduler(pipeline.Dependencies{
		Store:     a.store,
		AI:        client,
		Cache:     a.cache,
		Renderer:  render.NewRenderer(),
		Artifacts: artifacts,
	}, pipeline.OptionsFromConfig(cfg.Pipeline, cfg.Artifacts))

	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) newSweeper(disp pipeline.JobDispatcher) *pipeline.Sweeper {
	return pipeline.NewSweeper(a.scheduler, disp, a.cache, pipeline.SweeperOptions{
		StaleAfter:   a.cfg.Pipeline.StaleAfter,
		PendingGrace: a.cfg.Pipeline.PendingGrace,
		Limit:        a.cfg.Pipeline.SweepLimit,
	})
}
