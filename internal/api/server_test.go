package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/extract"
	"github.com/worklens/worklens/internal/ledger"
	"github.com/worklens/worklens/internal/rules"
	"github.com/worklens/worklens/internal/selection"
	"github.com/worklens/worklens/internal/storage"
)

// testServer creates a test server with in-memory database and no provider
func testServer(t *testing.T) *Server {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	compiler := rules.NewCompiler(nil, filepath.Join(t.TempDir(), "rule.json"), nil)
	engine := selection.NewEngine(selection.Config{Rules: compiler})
	ledgerStore := ledger.NewStore(db.Conn())

	srv := &Server{
		db:             db,
		extractor:      extract.New(extract.Owner{}),
		compiler:       compiler,
		engine:         engine,
		actionStore:    storage.NewActionStore(db),
		selectionStore: storage.NewSelectionStore(db),
		ledgerStore:    ledgerStore,
		recorder:       ledger.NewRecorder(ledgerStore),
		wsHub:          NewWebSocketHub(),
	}
	srv.setupRouter()

	return srv
}

func postJSON(t *testing.T, srv *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}

	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	return rr
}

func storedAction(t *testing.T, srv *Server, id, msgID string, requester string) core.CandidateAction {
	t.Helper()

	a := core.CandidateAction{
		ID:              core.ActionID(id),
		Type:            core.ActionTask,
		Title:           "업무처리",
		Description:     "처리 부탁드립니다",
		Priority:        core.PriorityMedium,
		Requester:       requester,
		SourceMessageID: core.MessageID(msgID),
		Channel:         core.ChannelMail,
		RecipientType:   core.RecipientTo,
		Status:          core.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if _, err := srv.actionStore.Upsert(a); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	return a
}

// =============================================================================
// Extraction Tests
// =============================================================================

func TestAPI_Extract_CreatesAction(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/extract", map[string]interface{}{
		"messages": []core.SourceMessage{{
			ID:            "msg-1",
			Sender:        "박대리",
			SenderAddress: "park@corp.com",
			Subject:       "보고서 검토 요청",
			Body:          "내일 오전까지 보고서 검토 부탁드립니다",
			SentAt:        time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
			Channel:       core.ChannelMail,
			RecipientType: core.RecipientTo,
		}},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Received  int                    `json:"received"`
		Extracted int                    `json:"extracted"`
		Actions   []core.CandidateAction `json:"actions"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if resp.Extracted != 1 {
		t.Fatalf("extracted = %d, want 1", resp.Extracted)
	}
	if resp.Actions[0].Type != core.ActionReview {
		t.Errorf("Type = %s, want review", resp.Actions[0].Type)
	}
	if resp.Actions[0].Requester != "박대리" {
		t.Errorf("Requester = %q, want 박대리", resp.Actions[0].Requester)
	}

	// Candidate is persisted
	stored, err := srv.actionStore.GetByMessage("msg-1")
	if err != nil {
		t.Fatalf("GetByMessage() error = %v", err)
	}
	if stored.Status != core.StatusPending {
		t.Errorf("Status = %s, want pending", stored.Status)
	}
}

func TestAPI_Extract_NonActionableProducesNothing(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/extract", map[string]interface{}{
		"messages": []core.SourceMessage{{
			ID:            "msg-1",
			Sender:        "김과장",
			Body:          "알겠습니다. 확인했습니다.",
			SentAt:        time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
			Channel:       core.ChannelChat,
			RecipientType: core.RecipientTo,
		}},
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Extracted int `json:"extracted"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if resp.Extracted != 0 {
		t.Errorf("extracted = %d, want 0 for an acknowledgment", resp.Extracted)
	}
}

func TestAPI_Extract_InvalidJSON(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("POST", "/api/v1/extract", bytes.NewBufferString("invalid"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestAPI_Extract_EmptyMessages(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/extract", map[string]interface{}{
		"messages": []core.SourceMessage{},
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// =============================================================================
// Action Tests
// =============================================================================

func TestAPI_GetActions_Empty(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/actions", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if body := rr.Body.String(); body == "null\n" {
		t.Error("expected empty array, got null")
	}
}

func TestAPI_GetAction_NotFound(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/actions/nonexistent", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestAPI_UpdateActionStatus(t *testing.T) {
	srv := testServer(t)
	storedAction(t, srv, "act-1", "msg-1", "박대리")

	data, _ := json.Marshal(map[string]string{"status": "done"})
	req := httptest.NewRequest("PUT", "/api/v1/actions/act-1/status", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	got, err := srv.actionStore.GetByID("act-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != core.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}

	// Done actions leave the active pool
	active, _ := srv.actionStore.ListActive()
	if len(active) != 0 {
		t.Errorf("got %d active actions, want 0", len(active))
	}
}

func TestAPI_UpdateActionStatus_InvalidStatus(t *testing.T) {
	srv := testServer(t)
	storedAction(t, srv, "act-1", "msg-1", "박대리")

	data, _ := json.Marshal(map[string]string{"status": "finished"})
	req := httptest.NewRequest("PUT", "/api/v1/actions/act-1/status", bytes.NewReader(data))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// =============================================================================
// Selection Tests
// =============================================================================

func TestAPI_Select_ScoreFallbackWithoutProvider(t *testing.T) {
	srv := testServer(t)
	storedAction(t, srv, "act-1", "msg-1", "박대리")
	storedAction(t, srv, "act-2", "msg-2", "김과장")

	rr := postJSON(t, srv, "/api/v1/select", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		SelectedIDs []core.ActionID        `json:"selected_ids"`
		Selected    []core.CandidateAction `json:"selected"`
		Source      core.SelectionSource   `json:"source"`
		Reasoning   string                 `json:"reasoning"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if resp.Source != core.SourceScore {
		t.Errorf("Source = %s, want score without a provider", resp.Source)
	}
	if len(resp.SelectedIDs) != 2 {
		t.Errorf("got %d selected, want 2", len(resp.SelectedIDs))
	}
	if len(resp.Selected) != len(resp.SelectedIDs) {
		t.Errorf("selected bodies = %d, want %d", len(resp.Selected), len(resp.SelectedIDs))
	}

	// Decision is recorded
	latest, err := srv.selectionStore.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if len(latest.SelectedIDs) != 2 {
		t.Errorf("recorded %d ids, want 2", len(latest.SelectedIDs))
	}
}

func TestAPI_Select_EmptyPool(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/select", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		SelectedIDs []core.ActionID `json:"selected_ids"`
		Reasoning   string          `json:"reasoning"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if len(resp.SelectedIDs) != 0 {
		t.Errorf("got %d selected, want 0", len(resp.SelectedIDs))
	}
	if resp.Reasoning == "" {
		t.Error("empty pool should still explain itself")
	}
}

func TestAPI_GetLatestSelection_NotFound(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/selections/latest", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rr.Code)
	}
}

func TestAPI_ResetBreaker(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/selections/breaker/reset", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["breaker_open"] != false {
		t.Errorf("breaker_open = %v, want false", resp["breaker_open"])
	}
}

// =============================================================================
// Rule Tests
// =============================================================================

func TestAPI_ApplyRule(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/rules", map[string]interface{}{
		"instruction": "김철수님 요청 우선으로 처리해줘",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rule := srv.compiler.Current()
	if len(rule.EntityBonuses.Requester) == 0 {
		t.Error("requester bonus should be registered")
	}
	if rule.RawInstruction == "" {
		t.Error("raw instruction should be kept on the rule")
	}
}

func TestAPI_ApplyRule_Uninterpretable(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/rules", map[string]interface{}{
		"instruction": "안녕하세요 좋은 하루 되세요",
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422, got %d", rr.Code)
	}

	// Active rule stays untouched
	rule := srv.compiler.Current()
	if rule.RawInstruction != "" {
		t.Errorf("RawInstruction = %q, want unchanged empty rule", rule.RawInstruction)
	}
}

func TestAPI_ApplyRule_MissingInstruction(t *testing.T) {
	srv := testServer(t)

	rr := postJSON(t, srv, "/api/v1/rules", map[string]interface{}{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestAPI_ResetRules(t *testing.T) {
	srv := testServer(t)

	postJSON(t, srv, "/api/v1/rules", map[string]interface{}{
		"instruction": "김철수님 요청 우선으로 처리해줘",
	})

	req := httptest.NewRequest("DELETE", "/api/v1/rules", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	rule := srv.compiler.Current()
	if rule.RawInstruction != "" || len(rule.EntityBonuses.Requester) != 0 {
		t.Error("reset should clear instruction and bonuses")
	}
}

func TestAPI_GetRules(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/rules", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp struct {
		Description string `json:"description"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Description == "" {
		t.Error("description should never be empty")
	}
}

// =============================================================================
// Stats and Ledger Tests
// =============================================================================

func TestAPI_GetStats(t *testing.T) {
	srv := testServer(t)
	storedAction(t, srv, "act-1", "msg-1", "박대리")

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if resp["total_actions"] != float64(1) {
		t.Errorf("total_actions = %v, want 1", resp["total_actions"])
	}
	if resp["breaker_open"] != false {
		t.Errorf("breaker_open = %v, want false", resp["breaker_open"])
	}
	if resp["provider_available"] != false {
		t.Errorf("provider_available = %v, want false", resp["provider_available"])
	}
}

func TestAPI_Ledger_RecordsAndVerifies(t *testing.T) {
	srv := testServer(t)
	storedAction(t, srv, "act-1", "msg-1", "박대리")

	data, _ := json.Marshal(map[string]string{"status": "done"})
	req := httptest.NewRequest("PUT", "/api/v1/actions/act-1/status", bytes.NewReader(data))
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status update failed: %d", rr.Code)
	}

	req = httptest.NewRequest("GET", "/api/v1/ledger", nil)
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var listResp struct {
		Count int `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &listResp)
	if listResp.Count == 0 {
		t.Error("status change should land in the ledger")
	}

	req = httptest.NewRequest("GET", "/api/v1/ledger/verify", nil)
	rr = httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	var verifyResp map[string]interface{}
	json.Unmarshal(rr.Body.Bytes(), &verifyResp)
	if verifyResp["chain_valid"] != true {
		t.Errorf("chain_valid = %v, want true", verifyResp["chain_valid"])
	}
}

func TestAPI_Health(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

// =============================================================================
// WebSocket Hub Tests
// =============================================================================

func TestWebSocketHub_RunAndBroadcast(t *testing.T) {
	hub := NewWebSocketHub()
	go hub.Run()

	// Give hub time to start
	time.Sleep(10 * time.Millisecond)

	// Should not panic with no clients
	hub.Broadcast(WebSocketMessage{
		Type:      "test",
		Data:      "data",
		Timestamp: time.Now(),
	})
}
