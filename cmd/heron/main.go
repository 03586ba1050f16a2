// Heron - Bank offer comparison engine.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/aggregate"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/catalog"
	"github.com/opensource-finance/heron/internal/compare"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	slog.SetDefault(newLogger(domain.LoggingConfig{Level: "info", Format: "json"}))

	base := domain.DefaultConfig()
	if os.Getenv("HERON_TIER") == string(domain.TierPro) {
		base = domain.ProConfig()
	}

	cfg, err := domain.LoadConfig(os.Getenv("HERON_CONFIG"), base)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if os.Getenv("HERON_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	executor, err := rules.NewExecutor(rules.ConfigFrom(cfg.Engine))
	if err != nil {
		slog.Error("failed to initialize rule executor", "error", err)
		os.Exit(1)
	}

	if path := os.Getenv("HERON_SEED"); path != "" {
		if err := seedCatalog(ctx, repo, executor, path); err != nil {
			slog.Error("failed to seed catalog", "path", path, "error", err)
			os.Exit(1)
		}
	}

	var entities domain.EntityStore = repo
	if cfg.Engine.RowCacheTTL > 0 {
		entities = aggregate.NewCachedEntityStore(repo, cacheImpl, cfg.Engine.RowCacheTTL)
		slog.Info("row cache enabled", "ttl", cfg.Engine.RowCacheTTL.String())
	}

	cat := catalog.New(repo)
	var opts []compare.Option
	if cfg.Engine.AuditEnabled {
		opts = append(opts, compare.WithEventBus(busImpl))
	}
	engine := compare.NewEngine(cat, aggregate.New(repo, entities), executor, opts...)

	var recorder *worker.Worker
	if cfg.Engine.AuditEnabled {
		recorder = worker.NewWorker(busImpl, repo)
		if err := recorder.Start(); err != nil {
			slog.Error("failed to start audit worker", "error", err)
			recorder = nil
		}
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, cat, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop after the server so in-flight comparisons still get recorded.
	if recorder != nil {
		if err := recorder.Stop(); err != nil {
			slog.Error("failed to stop audit worker", "error", err)
		}
	}

	slog.Info("heron shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// seedCatalog loads a YAML seed into the repository. Rules that fail
// validation are skipped.
func seedCatalog(ctx context.Context, repo domain.Repository, executor *rules.Executor, path string) error {
	seed, err := catalog.LoadSeed(path)
	if err != nil {
		return err
	}
	return catalog.Apply(ctx, repo, seed, executor.Validate)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HERON - Bank offer comparison engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /compare                  - Compare banks (plain or score mode)")
	fmt.Println("    GET    /comparisons/{id}         - Get a recorded comparison")
	fmt.Println("    GET    /criteria                 - List active criteria")
	fmt.Println("    POST   /criteria                 - Create or replace a criterion")
	fmt.Println("    GET    /criteria/{key}/rules     - List a criterion's rules (?mode=)")
	fmt.Println("    POST   /rules                    - Create a rule")
	fmt.Println("    GET    /rules/cache              - Compiled rule cache stats")
	fmt.Println("    DELETE /rules/cache              - Clear compiled rules")
	fmt.Println("    GET    /health                   - Health check")
	fmt.Println("    GET    /ready                    - Readiness check")
	fmt.Println()
}
