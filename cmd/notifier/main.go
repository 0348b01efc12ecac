package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/adapter/notifier"
	redisrepo "github.com/V4T54L/fleetgate/internal/adapter/repository/redis"
	"github.com/V4T54L/fleetgate/internal/pkg/config"
	"github.com/V4T54L/fleetgate/internal/pkg/logger"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

const idleInterval = 1 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting notifier worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewIngestMetrics(prometheus.DefaultRegisterer)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.NotifierAddr, Handler: metricsMux}
	go func() {
		log.Info("starting metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	n, err := notifier.FromConfig(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize notifier", "error", err)
		os.Exit(1)
	}

	// Create a unique consumer name for this instance
	consumerName, err := os.Hostname()
	if err != nil {
		log.Warn("could not get hostname for consumer name, using default", "error", err)
		consumerName = "notifier-default"
	}

	queue := redisrepo.NewMatchQueue(redisClient, redisrepo.MatchQueueConfig{
		Stream:    cfg.MatchStream,
		DLQStream: cfg.MatchDLQStream,
		Group:     cfg.MatchGroup,
	}, nil, m, log)
	deliver := usecase.NewDeliverMatchesUseCase(queue, n, m, log, cfg.MatchGroup, consumerName, cfg.NotifyRetries, cfg.UploadRetryBackoff)

	log.Info("notifier worker started", "group", cfg.MatchGroup, "consumer", consumerName, "notifier", cfg.Notifier)

	// ReadMatchBatch blocks for a while when the stream is empty, so the loop
	// only sleeps after an error.
	for ctx.Err() == nil {
		if _, err := deliver.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			log.Error("error processing batch", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(idleInterval):
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}
	log.Info("notifier worker shut down gracefully")
}
