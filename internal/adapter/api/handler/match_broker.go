package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
)

const (
	clientBuffer      = 64
	keepAliveInterval = 15 * time.Second
)

// MatchBroker is a MatchSink that streams rule matches to connected admin
// clients as server-sent events. Slow clients miss events instead of
// blocking dispatch.
type MatchBroker struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

// NewMatchBroker creates an empty broker.
func NewMatchBroker(logger *slog.Logger) *MatchBroker {
	return &MatchBroker{
		logger:  logger.With("component", "match_broker"),
		clients: make(map[chan []byte]struct{}),
	}
}

// Publish broadcasts the match to every connected client.
func (b *MatchBroker) Publish(ctx context.Context, match domain.RuleMatch) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.clients) == 0 {
		return nil
	}

	msg, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("failed to marshal match for SSE: %w", err)
	}
	for client := range b.clients {
		select {
		case client <- msg:
		default:
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (b *MatchBroker) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *MatchBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for client := range b.clients {
		delete(b.clients, client)
		close(client)
	}
}

// ServeHTTP streams matches until the client goes away.
// GET /admin/matches/live
func (b *MatchBroker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	client, ok := b.addClient()
	if !ok {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	defer b.removeClient(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: match\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

func (b *MatchBroker) addClient() (chan []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	client := make(chan []byte, clientBuffer)
	b.clients[client] = struct{}{}
	b.logger.Info("SSE client connected", "clients", len(b.clients))
	return client, true
}

func (b *MatchBroker) removeClient(client chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client)
		b.logger.Info("SSE client disconnected", "clients", len(b.clients))
	}
}
