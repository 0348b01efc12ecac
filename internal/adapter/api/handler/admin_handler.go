package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

// AdminHandler serves the rule catalog summary and match stream administration.
type AdminHandler struct {
	uc     *usecase.AdminStreamUseCase
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(uc *usecase.AdminStreamUseCase, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{uc: uc, logger: logger.With("component", "admin_handler")}
}

type streamRef struct {
	stream string
	group  string
}

func pathRef(r *http.Request) streamRef {
	return streamRef{stream: r.PathValue("streamName"), group: r.PathValue("groupName")}
}

// decodeAdminBody decodes a small JSON payload, answering 400 on failure.
func decodeAdminBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *AdminHandler) fail(w http.ResponseWriter, op string, ref streamRef, err error) {
	h.logger.Error("stream admin operation failed", "op", op, "stream", ref.stream, "group", ref.group, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *AdminHandler) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	respondWithJSON(w, h.logger, code, payload)
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetRules lists the loaded rules per entity-type.
// GET /admin/rules
func (h *AdminHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, h.uc.RuleSummary())
}

// RequireStreams answers 503 when matches are not queued on a stream.
func (h *AdminHandler) RequireStreams(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.uc.StreamsEnabled() {
			http.Error(w, "match stream is not configured", http.StatusServiceUnavailable)
			return
		}
		next(w, r)
	}
}

// GET /admin/streams/{streamName}/groups
func (h *AdminHandler) GetGroupInfo(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	groups, err := h.uc.GetGroupInfo(r.Context(), ref.stream)
	if err != nil {
		h.fail(w, "group_info", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, groups)
}

// GET /admin/streams/{streamName}/groups/{groupName}/consumers
func (h *AdminHandler) GetConsumerInfo(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	consumers, err := h.uc.GetConsumerInfo(r.Context(), ref.stream, ref.group)
	if err != nil {
		h.fail(w, "consumer_info", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, consumers)
}

// GET /admin/streams/{streamName}/groups/{groupName}/pending
func (h *AdminHandler) GetPendingSummary(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	summary, err := h.uc.GetPendingSummary(r.Context(), ref.stream, ref.group)
	if err != nil {
		h.fail(w, "pending_summary", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, summary)
}

// GetPendingMessages lists pending matches. Query: consumer, start, count, entity_type.
// GET /admin/streams/{streamName}/groups/{groupName}/pending/messages
func (h *AdminHandler) GetPendingMessages(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	q := r.URL.Query()

	var count int64
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid count parameter", http.StatusBadRequest)
			return
		}
		count = n
	}

	pending, err := h.uc.GetPendingMessages(r.Context(), ref.stream, ref.group, domain.PendingMatchQuery{
		Consumer:   q.Get("consumer"),
		StartID:    q.Get("start"),
		Count:      count,
		EntityType: q.Get("entity_type"),
	})
	if err != nil {
		h.fail(w, "pending_messages", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, pending)
}

// ClaimMessages moves pending matches to another consumer and returns them.
// POST /admin/streams/{streamName}/groups/{groupName}/claim
func (h *AdminHandler) ClaimMessages(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	var req struct {
		Consumer    string   `json:"consumer"`
		MinIdleTime string   `json:"min_idle_time"`
		MessageIDs  []string `json:"message_ids"`
	}
	if !decodeAdminBody(w, r, &req) {
		return
	}
	if req.Consumer == "" || len(req.MessageIDs) == 0 {
		http.Error(w, "consumer and message_ids are required", http.StatusBadRequest)
		return
	}
	minIdle, err := time.ParseDuration(req.MinIdleTime)
	if err != nil || minIdle < 0 {
		http.Error(w, "invalid min_idle_time format", http.StatusBadRequest)
		return
	}

	claimed, err := h.uc.ClaimMessages(r.Context(), ref.stream, ref.group, req.Consumer, minIdle, req.MessageIDs)
	if err != nil {
		h.fail(w, "claim", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, claimed)
}

// POST /admin/streams/{streamName}/groups/{groupName}/ack
func (h *AdminHandler) AcknowledgeMessages(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if !decodeAdminBody(w, r, &req) {
		return
	}
	if len(req.MessageIDs) == 0 {
		http.Error(w, "message_ids cannot be empty", http.StatusBadRequest)
		return
	}

	acked, err := h.uc.AcknowledgeMessages(r.Context(), ref.stream, ref.group, req.MessageIDs...)
	if err != nil {
		h.fail(w, "ack", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]int64{"acknowledged": acked})
}

// POST /admin/streams/{streamName}/trim
func (h *AdminHandler) TrimStream(w http.ResponseWriter, r *http.Request) {
	ref := pathRef(r)
	var req struct {
		MaxLen int64 `json:"maxlen"`
	}
	if !decodeAdminBody(w, r, &req) {
		return
	}
	if req.MaxLen <= 0 {
		http.Error(w, "maxlen must be a positive integer", http.StatusBadRequest)
		return
	}

	trimmed, err := h.uc.TrimStream(r.Context(), ref.stream, req.MaxLen)
	if err != nil {
		h.fail(w, "trim", ref, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]int64{"trimmed": trimmed})
}
