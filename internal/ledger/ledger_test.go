package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return NewStore(db.Conn())
}

// =============================================================================
// Append and Chain Tests
// =============================================================================

func TestAppend_FirstEntryChainsToGenesis(t *testing.T) {
	s := testStore(t)

	entry, err := s.Append(ActionRuleApplied, ActorUser, "rule", "", map[string]interface{}{
		"instruction": "김철수 우선",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !strings.HasPrefix(entry.PrevHash, "GENESIS:") {
		t.Errorf("PrevHash = %s, want genesis prefix", entry.PrevHash)
	}
	if entry.Hash == "" {
		t.Error("Hash should be computed")
	}
}

func TestAppend_EntriesChainTogether(t *testing.T) {
	s := testStore(t)

	first, err := s.Append(ActionRuleApplied, ActorUser, "rule", "", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	second, err := s.Append(ActionSelectionDecided, ActorEngine, "selection", "", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if second.PrevHash != first.Hash {
		t.Errorf("second.PrevHash = %s, want first.Hash %s", second.PrevHash, first.Hash)
	}
}

func TestVerifyChain_Valid(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ActionSelectionDecided, ActorEngine, "selection", "", nil); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := s.VerifyChain(); err != nil {
		t.Errorf("VerifyChain() error = %v, want nil", err)
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	s := testStore(t)

	entry, err := s.Append(ActionRuleApplied, ActorUser, "rule", "", map[string]interface{}{
		"instruction": "original",
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := s.Append(ActionRuleReset, ActorUser, "rule", "", nil); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Tamper with the first entry behind the store's back
	if _, err := s.db.Exec(`UPDATE ledger SET details = '{"instruction":"forged"}' WHERE id = ?`, entry.ID); err != nil {
		t.Fatalf("tamper update: %v", err)
	}

	err = s.VerifyChain()
	if err == nil {
		t.Fatal("VerifyChain() = nil, want tampering detected")
	}
	chainErr, ok := err.(*ChainError)
	if !ok {
		t.Fatalf("error type = %T, want *ChainError", err)
	}
	if chainErr.Type != "hash_mismatch" {
		t.Errorf("ChainError.Type = %s, want hash_mismatch", chainErr.Type)
	}
}

// =============================================================================
// Query Tests
// =============================================================================

func TestQuery_FilterByAction(t *testing.T) {
	s := testStore(t)

	s.Append(ActionRuleApplied, ActorUser, "rule", "", nil)
	s.Append(ActionSelectionDecided, ActorEngine, "selection", "", nil)
	s.Append(ActionSelectionDecided, ActorEngine, "selection", "", nil)

	entries, err := s.Query(QueryOptions{Action: ActionSelectionDecided})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestGetRecent_NewestFirst(t *testing.T) {
	s := testStore(t)

	s.Append(ActionRuleApplied, ActorUser, "rule", "", nil)
	time.Sleep(5 * time.Millisecond)
	s.Append(ActionRuleReset, ActorUser, "rule", "", nil)

	entries, err := s.GetRecent(10)
	if err != nil {
		t.Fatalf("GetRecent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Action != ActionRuleReset {
		t.Errorf("first entry = %s, want the most recent rule.reset", entries[0].Action)
	}
}

func TestGetSummary(t *testing.T) {
	s := testStore(t)

	s.Append(ActionRuleApplied, ActorUser, "rule", "", nil)
	s.Append(ActionSelectionDecided, ActorEngine, "selection", "", nil)

	summary, err := s.GetSummary()
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if summary.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", summary.TotalEntries)
	}
	if !summary.ChainValid {
		t.Errorf("ChainValid = false, want true: %s", summary.ChainError)
	}
	if summary.ByAction[ActionRuleApplied] != 1 {
		t.Errorf("ByAction[rule.applied] = %d, want 1", summary.ByAction[ActionRuleApplied])
	}
}

// =============================================================================
// Recorder Tests
// =============================================================================

func TestRecorder_RecordSelection(t *testing.T) {
	s := testStore(t)
	r := NewRecorder(s)

	result := core.SelectionResult{
		SelectedIDs: []core.ActionID{"a", "b"},
		Reasoning:   "점수순 선정",
		Source:      core.SourceScore,
		DecidedAt:   time.Now(),
	}
	if err := r.RecordSelection(result); err != nil {
		t.Fatalf("RecordSelection() error = %v", err)
	}

	entries, err := s.Query(QueryOptions{Action: ActionSelectionDecided})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Details, `"score"`) {
		t.Errorf("Details = %s, want the selection source recorded", entries[0].Details)
	}
}

func TestRecorder_RecordStatusChanged(t *testing.T) {
	s := testStore(t)
	r := NewRecorder(s)

	if err := r.RecordStatusChanged("act-1", core.StatusPending, core.StatusDone); err != nil {
		t.Fatalf("RecordStatusChanged() error = %v", err)
	}

	entries, err := s.Query(QueryOptions{EntityID: "act-1"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].EntityType != "candidate" {
		t.Errorf("EntityType = %s, want candidate", entries[0].EntityType)
	}
}
