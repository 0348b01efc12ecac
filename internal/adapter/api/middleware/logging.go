package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
)

// responseWriter is a wrapper that captures the HTTP status code for logging.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging is a middleware factory that logs HTTP requests and counts agent
// requests per endpoint. m may be nil.
func Logging(logger *slog.Logger, m *metrics.IngestMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			level := slog.LevelInfo
			if rw.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "handled request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)

			if m != nil {
				m.RequestsTotal.WithLabelValues(endpointLabel(r.URL.Path), statusLabel(rw.statusCode)).Inc()
			}
		})
	}
}

// endpointLabel bounds label cardinality to the known agent endpoints.
func endpointLabel(path string) string {
	switch path {
	case "/enroll", "/log", "/health":
		return path
	}
	return "other"
}

func statusLabel(code int) string {
	switch {
	case code < 300:
		return "ok"
	case code == http.StatusUnauthorized:
		return "unauthorized"
	case code == http.StatusRequestEntityTooLarge:
		return "too_large"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code < 500:
		return "bad_request"
	}
	return "error"
}
