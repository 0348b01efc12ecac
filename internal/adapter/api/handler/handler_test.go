package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockEnroller struct {
	nodeKey string
	err     error
	host    string
}

func (m *mockEnroller) Enroll(ctx context.Context, secret, hostIdentifier string, hostDetails json.RawMessage) (string, error) {
	m.host = hostIdentifier
	if m.err != nil {
		return "", m.err
	}
	if secret != "s3cret" {
		return "", domain.ErrInvalidSecret
	}
	return m.nodeKey, nil
}

type mockProcessor struct {
	mu      sync.Mutex
	records []domain.IncomingRecord
	calls   int
}

func (m *mockProcessor) ProcessResults(ctx context.Context, records []domain.IncomingRecord) usecase.ProcessSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.records = append(m.records, records...)
	return usecase.ProcessSummary{Records: len(records)}
}

type mockTracker struct {
	seen []domain.IncomingRecord
}

func (m *mockTracker) Seen(ctx context.Context, records []domain.IncomingRecord) {
	m.seen = append(m.seen, records...)
}

func TestEnrollHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		enrollErr      error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Valid Secret",
			body:           `{"enroll_secret":"s3cret","host_identifier":" host-1 ","host_details":{"os":"linux"}}`,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"node_key":"nk","node_invalid":false}`,
		},
		{
			name:           "Invalid Secret",
			body:           `{"enroll_secret":"nope","host_identifier":"host-1"}`,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"node_invalid":true}`,
		},
		{
			name:           "Bad JSON",
			body:           `{"enroll_secret":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Internal Error",
			body:           `{"enroll_secret":"s3cret"}`,
			enrollErr:      errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enroller := &mockEnroller{nodeKey: "nk", err: tt.enrollErr}
			h := NewEnrollHandler(enroller, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/enroll", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if tt.expectedBody != "" && rr.Body.String() != tt.expectedBody {
				t.Errorf("handler returned unexpected body: got %q want %q", rr.Body.String(), tt.expectedBody)
			}
			if tt.name == "Valid Secret" && enroller.host != "host-1" {
				t.Errorf("expected trimmed host identifier, got %q", enroller.host)
			}
		})
	}
}

func TestLogHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus int
		expectedCalls  int
		expectedRecs   int
	}{
		{
			name: "Result Logs",
			body: `{"node_key":"nk","log_type":"result","data":[
				{"name":"pods","hostIdentifier":"host-1","unixTime":1620518399,"action":"added","columns":{"a":"1"}},
				{"name":"pods","hostIdentifier":"host-1","unixTime":"1620518399","action":"removed","columns":{"a":"2"}}
			]}`,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
			expectedRecs:   2,
		},
		{
			name: "Malformed Record Is Skipped",
			body: `{"node_key":"nk","log_type":"result","data":[
				{"name":"pods","unixTime":1620518399,"action":"added","columns":"not an object"},
				{"name":"pods","unixTime":1620518399,"action":"added","columns":{"a":"1"}}
			]}`,
			expectedStatus: http.StatusOK,
			expectedCalls:  1,
			expectedRecs:   1,
		},
		{
			name:           "Status Logs",
			body:           `{"node_key":"nk","log_type":"status","data":[{"line":1,"message":"started"}]}`,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Unknown Log Type",
			body:           `{"node_key":"nk","log_type":"snapshot","data":[]}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Data Is Not An Array",
			body:           `{"node_key":"nk","log_type":"result","data":{"name":"pods"}}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Bad JSON",
			body:           `{"node_key":"nk",`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &mockProcessor{}
			tracker := &mockTracker{}
			h := NewLogHandler(processor, tracker, nil, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/log", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if rr.Code == http.StatusOK && rr.Body.String() != `{"node_invalid":false}` {
				t.Errorf("unexpected body %q", rr.Body.String())
			}
			if processor.calls != tt.expectedCalls {
				t.Errorf("expected %d processor calls, got %d", tt.expectedCalls, processor.calls)
			}
			if len(processor.records) != tt.expectedRecs {
				t.Errorf("expected %d records, got %d", tt.expectedRecs, len(processor.records))
			}
			if len(tracker.seen) != tt.expectedRecs {
				t.Errorf("expected %d tracked records, got %d", tt.expectedRecs, len(tracker.seen))
			}
		})
	}
}

func TestRespondBodyError(t *testing.T) {
	rr := httptest.NewRecorder()
	respondBodyError(rr, &http.MaxBytesError{Limit: 10})
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	respondBodyError(rr, errors.New("unexpected EOF"))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}
