// Package ledger provides a cryptographically verifiable, append-only audit ledger.
// Every entry is hash-chained to the previous entry, making any tampering detectable.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/worklens/worklens/internal/core"
)

// Store manages the append-only audit ledger
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new ledger store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Entry represents an immutable audit log entry
type Entry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Action     string    `json:"action"` // "rule.applied", "selection.decided", etc.
	Actor      string    `json:"actor"`  // "user", "engine", "system"
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Details    string    `json:"details"`   // JSON blob
	PrevHash   string    `json:"prev_hash"` // Hash of previous entry (chain)
	Hash       string    `json:"hash"`      // Hash of this entry
}

// Action constants for audited events
const (
	ActionRuleApplied      = "rule.applied"
	ActionRuleReset        = "rule.reset"
	ActionSelectionDecided = "selection.decided"
	ActionCandidateCreated = "candidate.created"
	ActionStatusChanged    = "candidate.status_changed"
	ActionBreakerOpened    = "breaker.opened"
	ActionBreakerReset     = "breaker.reset"
)

// Actor constants
const (
	ActorUser   = "user"
	ActorEngine = "engine"
	ActorSystem = "system"
)

const genesisHash = "GENESIS:0000000000000000000000000000000000000000000000000000000000000000"

// Append adds a new entry to the ledger with cryptographic hash chaining.
// This is the ONLY way to add entries - ensuring append-only behavior.
func (s *Store) Append(action, actor, entityType, entityID string, details interface{}) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detailsJSON string
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("marshal details: %w", err)
		}
		detailsJSON = string(data)
	}

	prevHash, err := s.getLastHash()
	if err != nil {
		return nil, fmt.Errorf("get last hash: %w", err)
	}

	entry := &Entry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		Action:     action,
		Actor:      actor,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    detailsJSON,
		PrevHash:   prevHash,
	}
	entry.Hash = computeHash(entry)

	_, err = s.db.Exec(`
		INSERT INTO ledger (id, timestamp, action, actor, entity_type, entity_id, details, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp, entry.Action, entry.Actor, entry.EntityType, entry.EntityID,
		entry.Details, entry.PrevHash, entry.Hash)

	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	return entry, nil
}

// getLastHash returns the hash of the most recent entry
func (s *Store) getLastHash() (string, error) {
	var hash sql.NullString
	err := s.db.QueryRow(`
		SELECT hash FROM ledger ORDER BY timestamp DESC, id DESC LIMIT 1
	`).Scan(&hash)

	if err == sql.ErrNoRows {
		return genesisHash, nil
	}
	if err != nil {
		return "", err
	}

	return hash.String, nil
}

// computeHash creates the SHA-256 hash of an entry's canonical representation
func computeHash(entry *Entry) string {
	// Canonical JSON representation, excluding the hash itself
	canonical := struct {
		ID         string    `json:"id"`
		Timestamp  time.Time `json:"timestamp"`
		Action     string    `json:"action"`
		Actor      string    `json:"actor"`
		EntityType string    `json:"entity_type"`
		EntityID   string    `json:"entity_id"`
		Details    string    `json:"details"`
		PrevHash   string    `json:"prev_hash"`
	}{
		ID:         entry.ID,
		Timestamp:  entry.Timestamp,
		Action:     entry.Action,
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Details:    entry.Details,
		PrevHash:   entry.PrevHash,
	}

	data, _ := json.Marshal(canonical)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChain verifies the integrity of the entire ledger chain.
// Returns nil if valid, or an error describing the first broken link.
func (s *Store) VerifyChain() error {
	rows, err := s.db.Query(`
		SELECT id, timestamp, action, actor, entity_type, entity_id, details, prev_hash, hash
		FROM ledger ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	expectedPrevHash := genesisHash
	entryNum := 0

	for rows.Next() {
		entryNum++
		entry, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan entry %d: %w", entryNum, err)
		}

		if entry.PrevHash != expectedPrevHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedPrevHash,
				ActualHash:   entry.PrevHash,
				Type:         "chain_broken",
			}
		}

		if expectedHash := computeHash(entry); entry.Hash != expectedHash {
			return &ChainError{
				EntryNum:     entryNum,
				EntryID:      entry.ID,
				ExpectedHash: expectedHash,
				ActualHash:   entry.Hash,
				Type:         "hash_mismatch",
			}
		}

		expectedPrevHash = entry.Hash
	}

	return rows.Err()
}

// ChainError represents a broken chain error
type ChainError struct {
	EntryNum     int
	EntryID      string
	ExpectedHash string
	ActualHash   string
	Type         string // "chain_broken" or "hash_mismatch"
}

func (e *ChainError) Error() string {
	if e.Type == "chain_broken" {
		return fmt.Sprintf("chain broken at entry %d (ID: %s): expected prev_hash %s, got %s",
			e.EntryNum, e.EntryID, e.ExpectedHash[:16]+"...", e.ActualHash[:16]+"...")
	}
	return fmt.Sprintf("hash mismatch at entry %d (ID: %s): expected %s, got %s",
		e.EntryNum, e.EntryID, e.ExpectedHash[:16]+"...", e.ActualHash[:16]+"...")
}

// QueryOptions filter ledger listings
type QueryOptions struct {
	Action     string    // Filter by action type
	Actor      string    // Filter by actor
	EntityType string    // Filter by entity type
	EntityID   string    // Filter by entity ID
	Since      time.Time // Entries after this time
	Limit      int       // Maximum entries to return
}

// Query returns entries matching the given criteria (read-only)
func (s *Store) Query(opts QueryOptions) ([]*Entry, error) {
	query := `
		SELECT id, timestamp, action, actor, entity_type, entity_id, details, prev_hash, hash
		FROM ledger WHERE 1=1
	`
	var args []interface{}

	if opts.Action != "" {
		query += " AND action = ?"
		args = append(args, opts.Action)
	}
	if opts.Actor != "" {
		query += " AND actor = ?"
		args = append(args, opts.Actor)
	}
	if opts.EntityType != "" {
		query += " AND entity_type = ?"
		args = append(args, opts.EntityType)
	}
	if opts.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, opts.EntityID)
	}
	if !opts.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetRecent returns the most recent entries
func (s *Store) GetRecent(limit int) ([]*Entry, error) {
	return s.Query(QueryOptions{Limit: limit})
}

// Count returns the total number of entries in the ledger
func (s *Store) Count() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM ledger").Scan(&count)
	return count, err
}

// Summary statistics
type Summary struct {
	TotalEntries int            `json:"total_entries"`
	LastEntry    *time.Time     `json:"last_entry,omitempty"`
	ByAction     map[string]int `json:"by_action"`
	ChainValid   bool           `json:"chain_valid"`
	ChainError   string         `json:"chain_error,omitempty"`
}

// GetSummary returns statistics about the ledger
func (s *Store) GetSummary() (*Summary, error) {
	summary := &Summary{
		ByAction: make(map[string]int),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM ledger").Scan(&summary.TotalEntries); err != nil {
		return nil, err
	}

	var lastTime sql.NullTime
	s.db.QueryRow("SELECT MAX(timestamp) FROM ledger").Scan(&lastTime)
	if lastTime.Valid {
		summary.LastEntry = &lastTime.Time
	}

	rows, err := s.db.Query("SELECT action, COUNT(*) FROM ledger GROUP BY action")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var action string
			var count int
			rows.Scan(&action, &count)
			summary.ByAction[action] = count
		}
	}

	if err := s.VerifyChain(); err != nil {
		summary.ChainValid = false
		summary.ChainError = err.Error()
	} else {
		summary.ChainValid = true
	}

	return summary, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var entry Entry
	var entityType, entityID, details, prevHash sql.NullString

	err := rows.Scan(
		&entry.ID, &entry.Timestamp, &entry.Action, &entry.Actor,
		&entityType, &entityID, &details, &prevHash, &entry.Hash,
	)
	if err != nil {
		return nil, err
	}

	entry.EntityType = entityType.String
	entry.EntityID = entityID.String
	entry.Details = details.String
	entry.PrevHash = prevHash.String
	return &entry, nil
}

// Recorder provides a convenient interface for recording WorkLens events
type Recorder struct {
	store *Store
}

// NewRecorder creates a recorder for the given store
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// RecordRuleApplied records a successful rule compilation
func (r *Recorder) RecordRuleApplied(instruction, note string) error {
	_, err := r.store.Append(ActionRuleApplied, ActorUser, "rule", "", map[string]interface{}{
		"instruction": instruction,
		"note":        note,
	})
	return err
}

// RecordRuleReset records a rule reset to defaults
func (r *Recorder) RecordRuleReset() error {
	_, err := r.store.Append(ActionRuleReset, ActorUser, "rule", "", nil)
	return err
}

// RecordSelection records one selection decision
func (r *Recorder) RecordSelection(result core.SelectionResult) error {
	_, err := r.store.Append(ActionSelectionDecided, ActorEngine, "selection", "", map[string]interface{}{
		"selected_ids": result.SelectedIDs,
		"source":       result.Source,
		"reasoning":    result.Reasoning,
	})
	return err
}

// RecordCandidateCreated records a newly extracted candidate
func (r *Recorder) RecordCandidateCreated(a core.CandidateAction) error {
	_, err := r.store.Append(ActionCandidateCreated, ActorSystem, "candidate", string(a.ID), map[string]interface{}{
		"type":              a.Type,
		"priority":          a.Priority,
		"source_message_id": a.SourceMessageID,
	})
	return err
}

// RecordStatusChanged records a candidate lifecycle transition
func (r *Recorder) RecordStatusChanged(id core.ActionID, from, to core.ActionStatus) error {
	_, err := r.store.Append(ActionStatusChanged, ActorUser, "candidate", string(id), map[string]interface{}{
		"from": from,
		"to":   to,
	})
	return err
}

// RecordBreakerEvent records a circuit breaker transition
func (r *Recorder) RecordBreakerEvent(action string, failures int) error {
	_, err := r.store.Append(action, ActorEngine, "breaker", "", map[string]interface{}{
		"failures": failures,
	})
	return err
}
