package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

const (
	logTypeResult = "result"
	logTypeStatus = "status"
)

// ResultProcessor runs a batch of result records through the pipeline.
type ResultProcessor interface {
	ProcessResults(ctx context.Context, records []domain.IncomingRecord) usecase.ProcessSummary
}

// NodeTracker records which hosts reported.
type NodeTracker interface {
	Seen(ctx context.Context, records []domain.IncomingRecord)
}

type logRequest struct {
	NodeKey string          `json:"node_key"`
	LogType string          `json:"log_type"`
	Data    json.RawMessage `json:"data"`
}

// LogHandler serves POST /log.
type LogHandler struct {
	processor ResultProcessor
	nodes     NodeTracker
	metrics   *metrics.IngestMetrics
	logger    *slog.Logger
}

// NewLogHandler creates a LogHandler. nodes and m may be nil.
func NewLogHandler(processor ResultProcessor, nodes NodeTracker, m *metrics.IngestMetrics, logger *slog.Logger) *LogHandler {
	return &LogHandler{
		processor: processor,
		nodes:     nodes,
		metrics:   m,
		logger:    logger.With("component", "log_handler"),
	}
}

func (h *LogHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode log request", "remote_addr", r.RemoteAddr, "error", err)
		respondBodyError(w, err)
		return
	}

	entries, err := splitEntries(req.Data)
	if err != nil {
		h.logger.Warn("log data is not an array", "log_type", req.LogType, "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	switch req.LogType {
	case logTypeResult:
		records := h.decodeRecords(entries)
		if h.nodes != nil {
			h.nodes.Seen(r.Context(), records)
		}
		h.processor.ProcessResults(r.Context(), records)
	case logTypeStatus:
		h.logger.Debug("received status logs", "count", len(entries))
	default:
		http.Error(w, "unsupported log_type", http.StatusBadRequest)
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, agentResponse{})
}

func splitEntries(data json.RawMessage) ([]json.RawMessage, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// decodeRecords decodes each entry on its own so that one malformed record
// does not cost the rest of the batch.
func (h *LogHandler) decodeRecords(entries []json.RawMessage) []domain.IncomingRecord {
	records := make([]domain.IncomingRecord, 0, len(entries))
	for i, entry := range entries {
		var record domain.IncomingRecord
		if err := json.Unmarshal(entry, &record); err != nil {
			h.logger.Warn("skipping undecodable record", "index", i, "error", err)
			if h.metrics != nil {
				h.metrics.RecordsTotal.WithLabelValues("rejected").Inc()
			}
			continue
		}
		records = append(records, record)
	}
	return records
}
