package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/V4T54L/fleetgate/internal/domain"
	"github.com/V4T54L/fleetgate/internal/domain/mocks"
	"github.com/V4T54L/fleetgate/internal/rules"
	"github.com/V4T54L/fleetgate/internal/usecase"
)

func testAdminHandler(t *testing.T, repo domain.StreamAdminRepository) *AdminHandler {
	t.Helper()
	catalog, err := rules.NewCatalog(rules.Document{
		"pods": rules.Group{
			Tables: []string{"kubernetes_pods"},
			Rules:  map[string]rules.Expression{"privileged": rules.MustParse(`{"==":[{"var":"privileged"},"1"]}`)},
		},
	})
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}
	return NewAdminHandler(usecase.NewAdminStreamUseCase(repo, catalog), testLogger())
}

func TestAdminHandler_GetRules(t *testing.T) {
	h := testAdminHandler(t, nil)

	rr := httptest.NewRecorder()
	h.GetRules(rr, httptest.NewRequest(http.MethodGet, "/admin/rules", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var summary domain.RuleSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if summary.Rules != 1 || len(summary.Tables["kubernetes_pods"]) != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestAdminHandler_RequireStreams(t *testing.T) {
	h := testAdminHandler(t, nil)

	rr := httptest.NewRecorder()
	h.RequireStreams(h.GetGroupInfo)(rr, httptest.NewRequest(http.MethodGet, "/admin/streams/rule_matches/groups", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a stream, got %d", rr.Code)
	}
}

func TestAdminHandler_StreamOperations(t *testing.T) {
	repo := &mocks.MockStreamAdminRepository{
		Groups:   []domain.ConsumerGroupInfo{{Name: "notifiers", Pending: 2}},
		AckCount: 2,
	}
	h := testAdminHandler(t, repo)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/streams/{streamName}/groups", h.GetGroupInfo)
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending/messages", h.GetPendingMessages)
	mux.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/ack", h.AcknowledgeMessages)
	mux.HandleFunc("POST /admin/streams/{streamName}/groups/{groupName}/claim", h.ClaimMessages)
	mux.HandleFunc("POST /admin/streams/{streamName}/trim", h.TrimStream)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		expectedBody   string
	}{
		{"group info", http.MethodGet, "/admin/streams/rule_matches/groups", "", http.StatusOK, `"name":"notifiers"`},
		{"pending with bad count", http.MethodGet, "/admin/streams/rule_matches/groups/notifiers/pending/messages?count=x", "", http.StatusBadRequest, ""},
		{"ack", http.MethodPost, "/admin/streams/rule_matches/groups/notifiers/ack", `{"message_ids":["1-0","2-0"]}`, http.StatusOK, `{"acknowledged":2}`},
		{"ack without ids", http.MethodPost, "/admin/streams/rule_matches/groups/notifiers/ack", `{"message_ids":[]}`, http.StatusBadRequest, ""},
		{"claim with bad idle", http.MethodPost, "/admin/streams/rule_matches/groups/notifiers/claim", `{"consumer":"c","min_idle_time":"soon","message_ids":["1-0"]}`, http.StatusBadRequest, ""},
		{"claim without consumer", http.MethodPost, "/admin/streams/rule_matches/groups/notifiers/claim", `{"min_idle_time":"1m","message_ids":["1-0"]}`, http.StatusBadRequest, ""},
		{"trim with zero maxlen", http.MethodPost, "/admin/streams/rule_matches/trim", `{"maxlen":0}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.expectedBody != "" && !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestAdminHandler_PendingMessagesQuery(t *testing.T) {
	repo := &mocks.MockStreamAdminRepository{
		Pending: []domain.PendingMatchDetail{{ID: "1-0", Consumer: "worker-1", EntityType: "processes", RuleName: "root_shell"}},
	}
	h := testAdminHandler(t, repo)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/streams/{streamName}/groups/{groupName}/pending/messages", h.GetPendingMessages)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/streams/rule_matches/groups/notifiers/pending/messages?consumer=worker-1&count=5&entity_type=processes", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := domain.PendingMatchQuery{Consumer: "worker-1", StartID: "-", Count: 5, EntityType: "processes"}
	if repo.LastQuery != want {
		t.Errorf("expected query %+v, got %+v", want, repo.LastQuery)
	}
	if !strings.Contains(rr.Body.String(), `"rule_name":"root_shell"`) {
		t.Errorf("expected rule name in body, got %s", rr.Body.String())
	}
}
