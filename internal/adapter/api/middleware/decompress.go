package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/V4T54L/fleetgate/internal/adapter/metrics"
)

// Decompress decodes gzip and zstd request bodies and caps both the wire
// body and the decoded body at maxBytes. Reading past the cap fails with
// *http.MaxBytesError. m may be nil.
func Decompress(maxBytes int64, m *metrics.IngestMetrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wire := http.MaxBytesReader(w, r.Body, maxBytes)

			var decoded io.ReadCloser
			switch enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding"))); enc {
			case "", "identity":
				decoded = wire
			case "gzip", "x-gzip":
				zr, err := gzip.NewReader(wire)
				if err != nil {
					logger.Warn("invalid gzip body", "remote_addr", r.RemoteAddr, "error", err)
					http.Error(w, "Bad request", http.StatusBadRequest)
					return
				}
				decoded = zr
			case "zstd":
				zr, err := zstd.NewReader(wire,
					zstd.WithDecoderConcurrency(1),
					zstd.WithDecoderMaxMemory(uint64(maxBytes)),
				)
				if err != nil {
					logger.Warn("invalid zstd body", "remote_addr", r.RemoteAddr, "error", err)
					http.Error(w, "Bad request", http.StatusBadRequest)
					return
				}
				decoded = zr.IOReadCloser()
			default:
				http.Error(w, "Unsupported Content-Encoding: "+enc, http.StatusUnsupportedMediaType)
				return
			}
			defer decoded.Close()

			r.Body = http.MaxBytesReader(w, &countingReader{ReadCloser: decoded, metrics: m}, maxBytes)
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
			next.ServeHTTP(w, r)
		})
	}
}

type countingReader struct {
	io.ReadCloser
	metrics *metrics.IngestMetrics
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	if n > 0 && c.metrics != nil {
		c.metrics.BytesTotal.Add(float64(n))
	}
	return n, err
}
