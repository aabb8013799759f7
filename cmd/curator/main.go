// Curator server — mirrors Catalog metadata into the local database,
// runs detector analysis producing reviewable plans, and exposes the
// operator HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/medialib/curator/pkg/ai"
	"github.com/medialib/curator/pkg/analysis"
	"github.com/medialib/curator/pkg/api"
	"github.com/medialib/curator/pkg/catalog"
	"github.com/medialib/curator/pkg/cleanup"
	"github.com/medialib/curator/pkg/config"
	"github.com/medialib/curator/pkg/database"
	"github.com/medialib/curator/pkg/detect"
	"github.com/medialib/curator/pkg/events"
	"github.com/medialib/curator/pkg/plan"
	"github.com/medialib/curator/pkg/queue"
	"github.com/medialib/curator/pkg/runners"
	"github.com/medialib/curator/pkg/scheduler"
	"github.com/medialib/curator/pkg/store"
	syncengine "github.com/medialib/curator/pkg/sync"
	"github.com/medialib/curator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	logger := newLogger()
	slog.SetDefault(logger)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	logger.Info("Starting curator",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		logger.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs pending migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	db := dbClient.Sqlx()
	sceneStore := store.NewSceneStore(db)
	entityStore := store.NewEntityStore(db)
	planStore := store.NewPlanStore(db)
	jobStore := store.NewJobStore(db)
	historyStore := store.NewSyncHistoryStore(db)

	// 3. Catalog and AI clients
	cache, err := catalog.NewEntityCache(catalog.DefaultCacheSize,
		catalog.DefaultEntityTTL, catalog.DefaultListingTTL)
	if err != nil {
		logger.Error("Failed to create entity cache", "error", err)
		os.Exit(1)
	}
	catalogClient := catalog.NewClient(cfg.Catalog, cache, logger)
	defer catalogClient.Close()

	tracker := ai.NewCostTracker(modelCosts(cfg.AI.Costs))
	aiClient := ai.NewClient(cfg.AI, tracker, logger)

	// 4. Detectors and engines
	analysisEngine := analysis.NewEngine(
		sceneStore, entityStore, planStore,
		detect.NewStudioDetector(aiClient),
		detect.NewPerformerDetector(aiClient),
		detect.NewTagDetector(aiClient),
		detect.NewDetailsCleaner(),
		detect.NewVideoTagDetector(cfg.Video, logger),
		tracker, cfg.Analysis, logger)
	syncEngine := syncengine.NewEngine(
		catalogClient, sceneStore, entityStore, historyStore, cfg.Sync, logger)
	planService := plan.NewService(planStore, sceneStore, entityStore, catalogClient, logger)
	cleanupService := cleanup.NewService(jobStore, planStore,
		cfg.Retention, cfg.Queue, cfg.Scheduler, logger)

	// 5. Event bus and worker pool
	bus := events.NewBus(logger)
	pool := queue.NewPool(jobStore, bus, cfg.Queue, logger)
	runners.RegisterAll(pool, syncEngine, analysisEngine, cleanupService)
	if err := pool.Start(ctx); err != nil {
		logger.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 6. Scheduler
	sched := scheduler.New(jobStore, cfg.Scheduler, logger)
	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// 7. HTTP server
	server := api.NewServer(planService, jobStore, planStore, historyStore,
		pool, cleanupService, bus, dbClient, logger)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	logger.Info("Curator started successfully", "workers", cfg.Queue.WorkerCount)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: scheduler first so nothing new is enqueued,
	// then the pool (waits for active jobs), then the HTTP server.
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded — interrupted jobs will be re-queued at next startup")
	}

	httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}

// modelCosts converts the configured price table into the tracker's type.
func modelCosts(costs map[string]config.ModelCost) map[string]ai.ModelCost {
	if len(costs) == 0 {
		return nil
	}
	out := make(map[string]ai.ModelCost, len(costs))
	for model, c := range costs {
		out[model] = ai.ModelCost{
			InputPerMillion:  c.InputPerMillion,
			OutputPerMillion: c.OutputPerMillion,
		}
	}
	return out
}
