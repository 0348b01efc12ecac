package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/fleetgate/internal/adapter/api/handler"
	"github.com/V4T54L/fleetgate/internal/adapter/api/middleware"
	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/pkg/config"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

// NewRouter creates the agent-facing router: POST /enroll and POST /log.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.IngestMetrics,
	nodes *usecase.NodeUseCase,
	processor handler.ResultProcessor,
) http.Handler {
	mux := http.NewServeMux()

	decompress := middleware.Decompress(cfg.MaxRequestSize, m, logger)
	nodeAuth := middleware.NodeAuth(nodes, logger)

	enrollHandler := handler.NewEnrollHandler(nodes, logger)
	logHandler := handler.NewLogHandler(processor, nodes, m, logger)

	mux.Handle("POST /enroll", decompress(enrollHandler))
	mux.Handle("POST /log", decompress(nodeAuth(logHandler)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	rateLimit := middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	return middleware.Logging(logger, m)(rateLimit(mux))
}
