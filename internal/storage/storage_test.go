package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/worklens/worklens/internal/core"
)

// testDB creates an in-memory database for testing
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func testAction(id, msgID string) core.CandidateAction {
	deadline := time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC)
	return core.CandidateAction{
		ID:              core.ActionID(id),
		Type:            core.ActionReview,
		Title:           "문서검토",
		Description:     "내일 오전까지 보고서 검토 부탁드립니다",
		Priority:        core.PriorityMedium,
		Deadline:        &deadline,
		Requester:       "박대리",
		SourceMessageID: core.MessageID(msgID),
		Channel:         core.ChannelMail,
		RecipientType:   core.RecipientTo,
		Evidence:        []string{"검토"},
		Status:          core.StatusPending,
		CreatedAt:       time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// DB Tests
// =============================================================================

func TestDB_Open_InMemory(t *testing.T) {
	db, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.conn == nil {
		t.Error("db.conn should not be nil")
	}
	if !db.isMemory {
		t.Error("db.isMemory should be true for in-memory database")
	}
}

func TestDB_Migrate_Idempotent(t *testing.T) {
	db := testDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// =============================================================================
// ActionStore Tests
// =============================================================================

func TestActionStore_UpsertAndGet(t *testing.T) {
	store := NewActionStore(testDB(t))

	a := testAction("act-1", "msg-1")
	if _, err := store.Upsert(a); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.GetByID("act-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Type != core.ActionReview {
		t.Errorf("Type = %s, want review", got.Type)
	}
	if got.Requester != "박대리" {
		t.Errorf("Requester = %q, want 박대리", got.Requester)
	}
	if got.Deadline == nil || !got.Deadline.Equal(*a.Deadline) {
		t.Errorf("Deadline = %v, want %v", got.Deadline, a.Deadline)
	}
	if len(got.Evidence) != 1 || got.Evidence[0] != "검토" {
		t.Errorf("Evidence = %v, want [검토]", got.Evidence)
	}
}

func TestActionStore_UpsertSupersedesByMessage(t *testing.T) {
	store := NewActionStore(testDB(t))

	first := testAction("act-1", "msg-1")
	if _, err := store.Upsert(first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Re-extraction of the same message produces a new candidate ID but
	// must replace the stored row, keeping the original ID
	second := testAction("act-2", "msg-1")
	second.Type = core.ActionDeadline
	second.Priority = core.PriorityHigh

	id, err := store.Upsert(second)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if id != "act-1" {
		t.Errorf("Upsert() id = %s, want the original act-1", id)
	}

	all, err := store.ListAll()
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d actions, want 1 per source message", len(all))
	}
	if all[0].Type != core.ActionDeadline || all[0].Priority != core.PriorityHigh {
		t.Errorf("stored action = %s/%s, want deadline/high after supersede", all[0].Type, all[0].Priority)
	}
}

func TestActionStore_GetByMessage(t *testing.T) {
	store := NewActionStore(testDB(t))

	if _, err := store.Upsert(testAction("act-1", "msg-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.GetByMessage("msg-1")
	if err != nil {
		t.Fatalf("GetByMessage() error = %v", err)
	}
	if got.ID != "act-1" {
		t.Errorf("ID = %s, want act-1", got.ID)
	}

	if _, err := store.GetByMessage("msg-unknown"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetByMessage(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestActionStore_ListActiveExcludesDoneAndCancelled(t *testing.T) {
	store := NewActionStore(testDB(t))

	for i, status := range []core.ActionStatus{
		core.StatusPending, core.StatusInProgress, core.StatusDone, core.StatusCancelled,
	} {
		a := testAction("act-"+string(rune('a'+i)), "msg-"+string(rune('a'+i)))
		a.Status = status
		if _, err := store.Upsert(a); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(active) != 2 {
		t.Errorf("got %d active actions, want 2", len(active))
	}
	for _, a := range active {
		if a.Status == core.StatusDone || a.Status == core.StatusCancelled {
			t.Errorf("ListActive() included %s action", a.Status)
		}
	}
}

func TestActionStore_SetStatus(t *testing.T) {
	store := NewActionStore(testDB(t))

	if _, err := store.Upsert(testAction("act-1", "msg-1")); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := store.SetStatus("act-1", core.StatusDone); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	got, err := store.GetByID("act-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != core.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}

	if err := store.SetStatus("missing", core.StatusDone); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SetStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func TestActionStore_NilDeadline(t *testing.T) {
	store := NewActionStore(testDB(t))

	a := testAction("act-1", "msg-1")
	a.Deadline = nil
	if _, err := store.Upsert(a); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := store.GetByID("act-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Deadline != nil {
		t.Errorf("Deadline = %v, want nil", got.Deadline)
	}
}

// =============================================================================
// SelectionStore Tests
// =============================================================================

func TestSelectionStore_RecordAndLatest(t *testing.T) {
	store := NewSelectionStore(testDB(t))

	older := core.SelectionResult{
		SelectedIDs: []core.ActionID{"a"},
		Reasoning:   "older",
		Source:      core.SourceScore,
		DecidedAt:   time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC),
	}
	newer := core.SelectionResult{
		SelectedIDs: []core.ActionID{"b", "c"},
		Reasoning:   "newer",
		Source:      core.SourceLLM,
		DecidedAt:   time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC),
	}
	if err := store.Record(older); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := store.Record(newer); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest.Reasoning != "newer" {
		t.Errorf("Latest().Reasoning = %q, want newer", latest.Reasoning)
	}
	if latest.Source != core.SourceLLM {
		t.Errorf("Latest().Source = %s, want llm", latest.Source)
	}
	if len(latest.SelectedIDs) != 2 || latest.SelectedIDs[0] != "b" {
		t.Errorf("Latest().SelectedIDs = %v, want [b c]", latest.SelectedIDs)
	}
}

func TestSelectionStore_LatestEmpty(t *testing.T) {
	store := NewSelectionStore(testDB(t))

	if _, err := store.Latest(); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Latest() error = %v, want ErrNotFound", err)
	}
}

func TestSelectionStore_ListRecent(t *testing.T) {
	store := NewSelectionStore(testDB(t))

	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r := core.SelectionResult{
			SelectedIDs: []core.ActionID{"a"},
			Source:      core.SourceScore,
			DecidedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(r); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recent, err := store.ListRecent(3)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d results, want 3", len(recent))
	}
	if !recent[0].DecidedAt.After(recent[2].DecidedAt) {
		t.Error("ListRecent() should return newest first")
	}
}
