package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/V4T54L/fleetgate/internal/adapter/api/handler"
	"github.com/V4T54L/fleetgate/internal/domain"
)

const NodeKeyHeader = "X-Node-Key"

// NodeAuthenticator validates node keys.
type NodeAuthenticator interface {
	Authenticate(nodeKey string) error
}

// NodeAuth is a middleware factory that rejects requests without a valid node
// key. The key is read from the JSON body's node_key field, falling back to
// the X-Node-Key header. The body is restored for the next handler.
func NodeAuth(auth NodeAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				var maxBytesErr *http.MaxBytesError
				if errors.As(err, &maxBytesErr) {
					http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, "Bad request", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var envelope struct {
				NodeKey string `json:"node_key"`
			}
			// A body that is not JSON is the handler's problem.
			_ = json.Unmarshal(body, &envelope)

			nodeKey := envelope.NodeKey
			if nodeKey == "" {
				nodeKey = r.Header.Get(NodeKeyHeader)
			}

			if err := auth.Authenticate(nodeKey); err != nil {
				if errors.Is(err, domain.ErrInvalidNodeKey) {
					logger.Warn("invalid node key", "remote_addr", r.RemoteAddr, "node_key", domain.NodeKeyFingerprint(nodeKey))
				} else {
					logger.Error("failed to authenticate node", "error", err)
				}
				handler.RespondNodeInvalid(w, logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
