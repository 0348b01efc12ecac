package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/V4T54L/fleetgate/internal/domain"
)

// Enroller exchanges an enroll secret for a node key.
type Enroller interface {
	Enroll(ctx context.Context, secret, hostIdentifier string, hostDetails json.RawMessage) (string, error)
}

type enrollRequest struct {
	EnrollSecret   string          `json:"enroll_secret"`
	HostIdentifier string          `json:"host_identifier"`
	HostDetails    json.RawMessage `json:"host_details"`
}

// EnrollHandler serves POST /enroll.
type EnrollHandler struct {
	enroller Enroller
	logger   *slog.Logger
}

func NewEnrollHandler(enroller Enroller, logger *slog.Logger) *EnrollHandler {
	return &EnrollHandler{enroller: enroller, logger: logger.With("component", "enroll_handler")}
}

func (h *EnrollHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode enroll request", "remote_addr", r.RemoteAddr, "error", err)
		respondBodyError(w, err)
		return
	}

	nodeKey, err := h.enroller.Enroll(r.Context(), req.EnrollSecret, strings.TrimSpace(req.HostIdentifier), req.HostDetails)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSecret) {
			RespondNodeInvalid(w, h.logger)
			return
		}
		h.logger.Error("enrollment failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, agentResponse{NodeKey: nodeKey})
}
