package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// agentResponse is the body osquery-style agents expect on every reply.
type agentResponse struct {
	NodeKey     string `json:"node_key,omitempty"`
	NodeInvalid bool   `json:"node_invalid"`
}

// RespondNodeInvalid rejects an agent so that it re-enrolls.
func RespondNodeInvalid(w http.ResponseWriter, logger *slog.Logger) {
	respondWithJSON(w, logger, http.StatusUnauthorized, agentResponse{NodeInvalid: true})
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondBodyError maps a failed body read or decode to a status code.
func respondBodyError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	http.Error(w, "Bad request", http.StatusBadRequest)
}
