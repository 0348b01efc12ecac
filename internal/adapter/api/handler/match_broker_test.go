package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/V4T54L/fleetgate/internal/domain"
)

func TestMatchBroker_PublishWithoutClients(t *testing.T) {
	b := NewMatchBroker(testLogger())
	if err := b.Publish(context.Background(), domain.RuleMatch{ID: "m1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMatchBroker_StreamsMatches(t *testing.T) {
	b := NewMatchBroker(testLogger())
	server := httptest.NewServer(b)
	defer server.Close()
	defer b.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	// The client is registered before headers are flushed.
	deadline := time.Now().Add(2 * time.Second)
	for b.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	match := domain.RuleMatch{ID: "m1", EntityType: "kubernetes_pods", RuleName: "privileged_container", Row: json.RawMessage(`{"privileged":"1"}`)}
	if err := b.Publish(context.Background(), match); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed before the match arrived")
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var got domain.RuleMatch
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &got); err != nil {
				t.Fatalf("failed to decode event: %v", err)
			}
			if got.ID != "m1" || got.RuleName != "privileged_container" {
				t.Errorf("unexpected match %+v", got)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for the match event")
		}
	}
}

func TestMatchBroker_CloseRejectsNewClients(t *testing.T) {
	b := NewMatchBroker(testLogger())
	b.Close()

	rr := httptest.NewRecorder()
	b.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/matches/live", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after close, got %d", rr.Code)
	}
}
