package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/worklens/worklens/internal/core"
)

// ActionStore handles candidate action persistence
type ActionStore struct {
	db *DB
}

// NewActionStore creates a new action store
func NewActionStore(db *DB) *ActionStore {
	return &ActionStore{db: db}
}

// Upsert saves a candidate action. Each source message holds at most one
// action: saving for an already-extracted message replaces the previous row
// while keeping its ID stable.
func (s *ActionStore) Upsert(a core.CandidateAction) (core.ActionID, error) {
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}

	var existingID string
	err = s.db.conn.QueryRow(
		`SELECT id FROM actions WHERE source_message_id = ?`, a.SourceMessageID,
	).Scan(&existingID)

	now := time.Now().UTC()

	if err == sql.ErrNoRows {
		_, err = s.db.conn.Exec(`
			INSERT INTO actions (
				id, type, title, description, priority, deadline, requester,
				source_message_id, channel, recipient_type, evidence, status,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID, a.Type, a.Title, a.Description, a.Priority, a.Deadline,
			a.Requester, a.SourceMessageID, a.Channel, a.RecipientType,
			string(evidence), a.Status, a.CreatedAt.UTC(), now,
		)
		if err != nil {
			return "", fmt.Errorf("insert action: %w", err)
		}
		return a.ID, nil
	} else if err != nil {
		return "", fmt.Errorf("check existing: %w", err)
	}

	_, err = s.db.conn.Exec(`
		UPDATE actions SET
			type = ?, title = ?, description = ?, priority = ?, deadline = ?,
			requester = ?, channel = ?, recipient_type = ?, evidence = ?,
			updated_at = ?
		WHERE id = ?
	`,
		a.Type, a.Title, a.Description, a.Priority, a.Deadline,
		a.Requester, a.Channel, a.RecipientType, string(evidence),
		now, existingID,
	)
	if err != nil {
		return "", fmt.Errorf("update action: %w", err)
	}
	return core.ActionID(existingID), nil
}

// GetByID returns one action
func (s *ActionStore) GetByID(id core.ActionID) (*core.CandidateAction, error) {
	row := s.db.conn.QueryRow(selectActionColumns+` FROM actions WHERE id = ?`, id)
	return scanAction(row)
}

// GetByMessage returns the action extracted from a source message, if any
func (s *ActionStore) GetByMessage(msgID core.MessageID) (*core.CandidateAction, error) {
	row := s.db.conn.QueryRow(selectActionColumns+` FROM actions WHERE source_message_id = ?`, msgID)
	return scanAction(row)
}

// ListActive returns every action not yet done or cancelled, newest first
func (s *ActionStore) ListActive() ([]core.CandidateAction, error) {
	return s.list(selectActionColumns + `
		FROM actions
		WHERE status NOT IN ('done', 'cancelled')
		ORDER BY created_at DESC`)
}

// ListByStatus returns actions in the given state, newest first
func (s *ActionStore) ListByStatus(status core.ActionStatus) ([]core.CandidateAction, error) {
	return s.list(selectActionColumns+`
		FROM actions
		WHERE status = ?
		ORDER BY created_at DESC`, status)
}

// ListAll returns every stored action, newest first
func (s *ActionStore) ListAll() ([]core.CandidateAction, error) {
	return s.list(selectActionColumns + ` FROM actions ORDER BY created_at DESC`)
}

// SetStatus moves an action through its lifecycle
func (s *ActionStore) SetStatus(id core.ActionID, status core.ActionStatus) error {
	result, err := s.db.conn.Exec(
		`UPDATE actions SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Delete removes an action
func (s *ActionStore) Delete(id core.ActionID) error {
	_, err := s.db.conn.Exec(`DELETE FROM actions WHERE id = ?`, id)
	return err
}

const selectActionColumns = `
	SELECT id, type, title, description, priority, deadline, requester,
	       source_message_id, channel, recipient_type, evidence, status,
	       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*core.CandidateAction, error) {
	a := &core.CandidateAction{}
	var deadline sql.NullTime
	var evidence string
	var updatedAt time.Time

	err := row.Scan(
		&a.ID, &a.Type, &a.Title, &a.Description, &a.Priority, &deadline,
		&a.Requester, &a.SourceMessageID, &a.Channel, &a.RecipientType,
		&evidence, &a.Status, &a.CreatedAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if deadline.Valid {
		d := deadline.Time
		a.Deadline = &d
	}
	if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
		a.Evidence = nil
	}
	return a, nil
}

func (s *ActionStore) list(query string, args ...interface{}) ([]core.CandidateAction, error) {
	rows, err := s.db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []core.CandidateAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}
