// Osprey Forensics - Batch fraud forensics for transaction ledgers.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/osprey-forensics/internal/api"
	"github.com/opensource-finance/osprey-forensics/internal/bus"
	"github.com/opensource-finance/osprey-forensics/internal/cache"
	"github.com/opensource-finance/osprey-forensics/internal/domain"
	"github.com/opensource-finance/osprey-forensics/internal/geo"
	"github.com/opensource-finance/osprey-forensics/internal/pipeline"
	"github.com/opensource-finance/osprey-forensics/internal/repository"
	"github.com/opensource-finance/osprey-forensics/internal/rules"
	"github.com/opensource-finance/osprey-forensics/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv(domain.EnvPrefix+"_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := domain.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting osprey forensics",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"row_limit", cfg.Access.RowLimit,
	)

	if err := run(cfg); err != nil {
		slog.Error("osprey forensics exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("osprey forensics shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("failed to flush traces", "error", err)
		}
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	analyzer, err := pipeline.NewAnalyzer(engine)
	if err != nil {
		return err
	}

	var locator geo.Locator
	if cfg.GeoIP.CityDBPath != "" {
		cityDB, err := geo.Open(cfg.GeoIP.CityDBPath)
		if err != nil {
			return err
		}
		defer cityDB.Close()
		locator = cityDB
		slog.Info("geoip enrichment enabled", "path", cfg.GeoIP.CityDBPath)
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, cacheImpl, analyzer)
		if err := asyncWorker.Start(worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			WorkerCount: cfg.Worker.Concurrency,
			ReportTTL:   cfg.Access.ReportTTL,
		}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg, repo, cacheImpl, busImpl, analyzer, locator, Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("osprey forensics is ready",
			"host", cfg.Server.Host,
			"port", cfg.Server.Port,
		)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		if asyncWorker != nil {
			return asyncWorker.Stop()
		}
		return nil
	})

	printBanner(cfg, Version)
	return g.Wait()
}

// loadRulesFromDatabase loads the stored custom rules into the engine. A
// database that cannot be listed leaves only the builtin rules active.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	dbRules, err := repo.ListRuleConfigs(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}

	if len(dbRules) > 0 {
		slog.Info("loading rules from database", "count", len(dbRules))
		return engine.LoadRules(dbRules)
	}

	slog.Info("no custom rules in database - configure via POST /rules API")
	return nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv(domain.EnvPrefix+"_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  OSPREY FORENSICS")
	fmt.Println("  Batch fraud forensics for transaction ledgers.")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /analyses               - Analyse a csv/xlsx upload or JSON table")
	fmt.Println("    GET    /analyses               - Recent analyses")
	fmt.Println("    GET    /analyses/{id}          - Get a report")
	fmt.Println("    GET    /analyses/{id}/alerts   - Get report alerts")
	fmt.Println("    GET    /analyses/{id}/export   - Export scored rows (csv|xlsx)")
	fmt.Println("    GET    /rules                  - List custom rules")
	fmt.Println("    POST   /rules                  - Create or replace a rule")
	fmt.Println("    DELETE /rules/{id}             - Disable a rule")
	fmt.Println("    POST   /rules/reload           - Hot-reload rules from database")
	fmt.Println("    GET    /health                 - Health check")
	fmt.Println("    GET    /metrics                - Prometheus metrics")
	fmt.Println()
}
