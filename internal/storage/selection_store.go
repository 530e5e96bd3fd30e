package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/worklens/worklens/internal/core"
)

// SelectionStore records selection decisions
type SelectionStore struct {
	db *DB
}

// NewSelectionStore creates a new selection store
func NewSelectionStore(db *DB) *SelectionStore {
	return &SelectionStore{db: db}
}

// Record appends one selection decision
func (s *SelectionStore) Record(result core.SelectionResult) error {
	ids, err := json.Marshal(result.SelectedIDs)
	if err != nil {
		return fmt.Errorf("encode selected ids: %w", err)
	}

	_, err = s.db.conn.Exec(`
		INSERT INTO selections (id, selected_ids, reasoning, source, decided_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		uuid.New().String(), string(ids), result.Reasoning,
		result.Source, result.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert selection: %w", err)
	}
	return nil
}

// Latest returns the most recent selection decision
func (s *SelectionStore) Latest() (*core.SelectionResult, error) {
	row := s.db.conn.QueryRow(`
		SELECT selected_ids, reasoning, source, decided_at
		FROM selections
		ORDER BY decided_at DESC, id DESC
		LIMIT 1
	`)
	return scanSelection(row)
}

// ListRecent returns up to limit decisions, newest first
func (s *SelectionStore) ListRecent(limit int) ([]core.SelectionResult, error) {
	rows, err := s.db.conn.Query(`
		SELECT selected_ids, reasoning, source, decided_at
		FROM selections
		ORDER BY decided_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []core.SelectionResult
	for rows.Next() {
		r, err := scanSelection(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

func scanSelection(row rowScanner) (*core.SelectionResult, error) {
	r := &core.SelectionResult{}
	var ids string

	err := row.Scan(&ids, &r.Reasoning, &r.Source, &r.DecidedAt)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(ids), &r.SelectedIDs); err != nil {
		return nil, fmt.Errorf("decode selected ids: %w", err)
	}
	return r, nil
}
