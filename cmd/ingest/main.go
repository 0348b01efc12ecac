package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleetgate/internal/adapter/api"
	"github.com/V4T54L/fleetgate/internal/adapter/api/handler"
	"github.com/V4T54L/fleetgate/internal/adapter/auth"
	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/adapter/notifier"
	"github.com/V4T54L/fleetgate/internal/adapter/pii"
	"github.com/V4T54L/fleetgate/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/fleetgate/internal/adapter/repository/redis"
	"github.com/V4T54L/fleetgate/internal/adapter/repository/wal"
	"github.com/V4T54L/fleetgate/internal/adapter/storage/fs"
	"github.com/V4T54L/fleetgate/internal/adapter/storage/s3"
	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/pkg/config"
	"github.com/V4T54L/fleetgate/internal/pkg/logger"
	"github.com/V4T54L/fleetgate/internal/rules"
	"github.com/V4T54L/fleetgate/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

const healthCheckInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewIngestMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Rule Catalog ---
	catalog, err := rules.LoadCatalog(cfg.RulesDir, logger)
	if err != nil {
		logger.Error("failed to load rule catalog", "dir", cfg.RulesDir, "error", err)
		os.Exit(1)
	}

	// --- Object Storage ---
	var store domain.ObjectStore
	switch cfg.StorageBackend {
	case config.StorageS3:
		store, err = s3.NewStore(ctx, cfg.AWSRegion, cfg.S3Bucket, logger)
	case config.StorageFS:
		store, err = fs.NewStore(cfg.FSStorageDir, logger)
	}
	if err != nil {
		logger.Error("failed to initialize object storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}

	// --- Match Dispatch ---
	broker := handler.NewMatchBroker(logger)
	sinks := domain.FanOut{broker}
	var adminRepo domain.StreamAdminRepository

	switch cfg.MatchDispatch {
	case config.DispatchQueue:
		redisOpts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, will proceed in WAL-only mode", "error", err)
		}

		walRepo, err := wal.NewMatchWAL(cfg.WALPath, cfg.WALSegmentSize, cfg.WALMaxDiskSize, logger)
		if err != nil {
			logger.Error("failed to initialize WAL", "error", err)
			os.Exit(1)
		}
		defer walRepo.Close()

		queue := redisrepo.NewMatchQueue(redisClient, redisrepo.MatchQueueConfig{
			Stream:    cfg.MatchStream,
			DLQStream: cfg.MatchDLQStream,
			Group:     cfg.MatchGroup,
		}, walRepo, m, logger)
		if err := queue.ReplayWAL(ctx); err != nil {
			logger.Warn("could not replay WAL left from a previous run", "error", err)
		}
		go queue.StartHealthCheck(ctx, healthCheckInterval)

		sinks = append(sinks, queue)
		adminRepo = redisrepo.NewAdminRepository(redisClient, cfg.MatchDLQStream, logger)

	case config.DispatchDirect:
		n, err := notifier.FromConfig(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to initialize notifier", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, notifier.NewDirect(n, cfg.NotifyRetries, cfg.UploadRetryBackoff, logger))
	}

	// --- Node Registry (optional) ---
	var nodeRepo domain.NodeRepository
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			logger.Error("failed to open postgres connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Warn("could not reach postgres, node registry writes will fail until it is back", "error", err)
		}
		nodeRepo = postgres.NewNodeRepository(db, cfg.NodeTouchInterval, m, logger)
	}

	// --- Use Cases ---
	nodes := usecase.NewNodeUseCase(auth.NewSecretAuthenticator(cfg.EnrollSecrets), nodeRepo, logger)
	evaluator := usecase.NewRuleEvaluator(catalog, nil, logger)
	processor := usecase.NewProcessLogsUseCase(store, sinks, evaluator, pii.NewRedactor(cfg.RedactColumns, logger), m, logger, usecase.ProcessLogsConfig{
		KeyPrefix:     cfg.S3Prefix,
		UploadRetries: cfg.UploadRetries,
		UploadBackoff: cfg.UploadRetryBackoff,
		MatchWorkers:  cfg.MatchWorkers,
	})
	adminUseCase := usecase.NewAdminStreamUseCase(adminRepo, catalog)

	// --- Admin and Metrics Server ---
	adminServer := &http.Server{
		Addr:    cfg.AdminServerAddr,
		Handler: api.NewAdminRouter(adminUseCase, broker, logger),
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Ingest Server ---
	ingestServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      api.NewRouter(cfg, logger, m, nodes, processor),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // replies wait for upload and dispatch
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("starting ingest server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ingest server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// In-flight batches finish delivery before Shutdown returns.
	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ingest server shutdown failed", "error", err)
	}
	broker.Close()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("servers shut down gracefully")
}
