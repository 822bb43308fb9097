// Kestrel - Real-time transaction fraud scoring.
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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/session"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"artifacts", cfg.Artifacts.Dir,
		"sessions", cfg.Sessions.Type,
		"repository", cfg.Repository.Driver,
		"eventbus", cfg.EventBus.Type,
		"worker", cfg.Worker.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Load artifacts. Missing artifacts are fatal.
	artifacts, err := model.Load(cfg.Artifacts)
	if err != nil {
		slog.Error("failed to load artifacts", "dir", cfg.Artifacts.Dir, "error", err)
		os.Exit(1)
	}

	// Initialize Rule Engine
	engine, err := newRuleEngine(cfg.Rules)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Initialize Scoring Pipeline
	pipeline, err := scoring.NewPipeline(artifacts, engine, decision.NewCombiner(), cfg.Scoring)
	if err != nil {
		slog.Error("failed to initialize scoring pipeline", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring pipeline initialized", "default_threshold", pipeline.DefaultThreshold())

	// Initialize Session Store
	sessions, err := session.New(cfg.Sessions)
	if err != nil {
		slog.Error("failed to initialize session store", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()
	slog.Info("session store initialized", "type", cfg.Sessions.Type, "ttl", sessions.TTL())

	// Initialize Repository (optional)
	var repo domain.Repository
	if cfg.Repository.Driver != "none" && cfg.Repository.Driver != "" {
		repo, err = repository.New(cfg.Repository)
		if err != nil {
			slog.Error("failed to initialize repository", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	service := scoring.NewService(pipeline, sessions, repo, busImpl)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, service)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, service, engine, sessions, api.Options{
		Bus:          busImpl,
		AsyncEnabled: cfg.Worker.Enabled,
		Metrics:      cfg.Metrics,
		Version:      Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// newLogger builds the process logger from configuration.
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

// newRuleEngine loads the rule file when one is configured, otherwise the
// built-in rules.
func newRuleEngine(cfg domain.RulesConfig) (*rules.Engine, error) {
	if cfg.File == "" {
		return rules.NewDefaultEngine()
	}

	configs, err := config.LoadRules(cfg.File)
	if err != nil {
		return nil, err
	}

	engine, err := rules.NewEngine()
	if err != nil {
		return nil, err
	}
	if err := engine.LoadRules(configs); err != nil {
		return nil, err
	}

	slog.Info("rules loaded from file", "file", cfg.File, "count", engine.RulesCount())
	return engine, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║     Transaction Fraud Scoring             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Sessions: %s (ttl %s)\n", cfg.Sessions.Type, cfg.Sessions.TTL)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /sessions                  - Start a session")
	fmt.Println("    POST   /sessions/{id}/score       - Score a transaction")
	if cfg.Worker.Enabled {
		fmt.Println("    POST   /sessions/{id}/score/async - Queue a transaction for scoring")
	}
	fmt.Println("    GET    /sessions/{id}/history     - Recent results")
	fmt.Println("    DELETE /sessions/{id}/history     - Clear history")
	fmt.Println("    DELETE /sessions/{id}             - End the session")
	fmt.Println("    GET    /evaluations/{id}          - Get evaluation by ID")
	fmt.Println("    GET    /schema                    - Feature layout")
	fmt.Println("    GET    /rules                     - Loaded rules")
	fmt.Println("    GET    /health                    - Health check")
	fmt.Println()
}
