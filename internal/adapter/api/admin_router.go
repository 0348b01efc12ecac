package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/fleetgate/internal/adapter/api/handler"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

// NewAdminRouter creates the router for metrics and admin operations.
// broker may be nil, in which case the live match feed is not served.
func NewAdminRouter(adminUseCase *usecase.AdminStreamUseCase, broker *handler.MatchBroker, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(adminUseCase, logger)
	streams := adminHandler.RequireStreams

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/rules", adminHandler.GetRules)
	if broker != nil {
		mux.Handle("GET /admin/matches/live", broker)
	}

	// Stream Info
	mux.HandleFunc("GET /admin/streams/{streamName}/groups", streams(adminHandler.GetGroupInfo))
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/consumers", streams(adminHandler.GetConsumerInfo))

	// Pending Matches
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending", streams(adminHandler.GetPendingSummary))
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending/messages", streams(adminHandler.GetPendingMessages))

	// Stream Operations
	mux.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/claim", streams(adminHandler.ClaimMessages))
	mux.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/ack", streams(adminHandler.AcknowledgeMessages))
	mux.HandleFunc("POST /admin/streams/{streamName}/trim", streams(adminHandler.TrimStream))

	return mux
}
