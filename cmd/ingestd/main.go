package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/affiliate-ingest/internal/adapter/chromedp_browser"
	"github.com/user/affiliate-ingest/internal/adapter/credentials"
	"github.com/user/affiliate-ingest/internal/adapter/filesystem"
	"github.com/user/affiliate-ingest/internal/adapter/memory"
	"github.com/user/affiliate-ingest/internal/adapter/postgres"
	redis_adapter "github.com/user/affiliate-ingest/internal/adapter/redis"
	"github.com/user/affiliate-ingest/internal/adapter/sqlite"
	"github.com/user/affiliate-ingest/internal/delivery/http/handler"
	"github.com/user/affiliate-ingest/internal/delivery/http/router"
	"github.com/user/affiliate-ingest/internal/proxy"
	"github.com/user/affiliate-ingest/internal/registry"
	"github.com/user/affiliate-ingest/internal/repository"
	"github.com/user/affiliate-ingest/internal/scheduler"
	"github.com/user/affiliate-ingest/internal/usecase"
	"github.com/user/affiliate-ingest/pkg/config"
	"github.com/user/affiliate-ingest/pkg/logger"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("ingestd stopped", zap.Error(err))
	}
	log.Info("ingestd exiting")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()
	checks := map[string]handler.Check{}

	// --- Source registry ---
	sources, err := registry.Load(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}
	log.Info("sources loaded", zap.Strings("sources", sources.IDs()))

	// --- Relational store ---
	var store repository.RecordStore
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()
		store = db
		log.Info("SQLite store opened", zap.String("path", cfg.SQLitePath))
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		store = postgres.NewRecordStore(pool)
		log.Info("PostgreSQL connection pool established")
	}
	checks["store"] = store.Ping

	// --- Run lock and result history ---
	var (
		lock    repository.RunLock
		results repository.ResultStore
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		lock = redis_adapter.NewRunLock(rdb, func(err error) {
			log.Warn("failed to release run lock", zap.Error(err))
		})
		results = redis_adapter.NewResultStore(rdb, cfg.ResultHistory)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		log.Info("Redis connection established")
	} else {
		lock = memory.NewRunLock()
		results = memory.NewResultStore(cfg.ResultHistory)
		log.Info("Redis not configured, using in-process run lock")
	}

	// --- Browser sessions and artifacts ---
	proxies := proxy.NewManager(cfg.Proxies, cfg.UserAgents)
	sessions := chromedp_browser.NewManager(chromedp_browser.Options{
		Headless:       cfg.BrowserHeadless,
		ExecPath:       cfg.BrowserExecPath,
		StartupTimeout: cfg.BrowserStartupTimeout,
	}, proxies, log.Named("browser"))
	artifacts, err := filesystem.NewArtifactStore(cfg.ArtifactDir)
	if err != nil {
		return err
	}

	// --- Use cases ---
	retriever := usecase.NewRetrieverUseCase(sessions, usecase.Timeouts{
		Startup:           cfg.BrowserStartupTimeout,
		Navigation:        cfg.NavigationTimeout,
		Action:            cfg.ActionTimeout,
		Download:          cfg.DownloadTimeout,
		NavigationCeiling: cfg.NavigationTimeoutCeiling,
		ActionCeiling:     cfg.ActionTimeoutCeiling,
		DownloadCeiling:   cfg.DownloadTimeoutCeiling,
		Settle:            cfg.SettleTime,
	}, log)
	persister := usecase.NewPersisterUseCase(store, cfg.InsertChunkSize, log)
	pipeline := usecase.NewPipelineUseCase(artifacts, credentials.NewStaticProvider(cfg.Credentials), retriever, persister, log)
	orch := usecase.NewOrchestratorUseCase(sources, pipeline, lock, results, usecase.OrchestratorConfig{
		AttemptTimeout: cfg.AttemptTimeout,
		Concurrency:    cfg.IngestConcurrency,
	}, log)

	// --- Scheduler ---
	sched := scheduler.New(sources, orch, cfg.Schedule, log)
	if cfg.SchedulerEnabled {
		if err := sched.Register(); err != nil {
			return err
		}
		sched.Start()
		log.Info("scheduler started", zap.Int("entries", sched.Entries()))
	}

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(orch, sources, results, checks, log)
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router.New(apiHandler, log),
		ReadTimeout: 5 * time.Second,
		// synchronous triggers hold the connection for a whole attempt
		WriteTimeout: cfg.AttemptTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("could not listen on port %s: %w", cfg.ServerPort, err)
	}
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cfg.SchedulerEnabled {
		sched.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := apiHandler.Shutdown(shutdownCtx); err != nil {
		log.Warn("background ingestion cancelled", zap.Error(err))
	}
	return nil
}
