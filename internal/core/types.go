// Package core defines the fundamental types for WorkLens.
// Everything that flows between the extractor, the rule compiler and the
// selection engine is expressed in these types.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// SOURCE MESSAGE - An immutable communication record from mail or chat
// -----------------------------------------------------------------------------

// MessageID is a type-safe identifier for source messages
type MessageID string

// Channel is the transport a message arrived on
type Channel string

const (
	ChannelMail Channel = "mail"
	ChannelChat Channel = "chat"
)

// RecipientType describes how the owner received a message
type RecipientType string

const (
	RecipientTo  RecipientType = "to"
	RecipientCC  RecipientType = "cc"
	RecipientBCC RecipientType = "bcc"
)

// SourceMessage is a single communication record. It is produced by an
// ingestion collaborator and read-only inside WorkLens: the extractor never
// mutates it, it only derives CandidateActions from it.
type SourceMessage struct {
	ID            MessageID     `json:"id"`
	Sender        string        `json:"sender"`         // Display name or handle
	SenderAddress string        `json:"sender_address"` // Email address, may be empty for chat
	Subject       string        `json:"subject,omitempty"`
	Body          string        `json:"body"`
	SentAt        time.Time     `json:"sent_at"` // Anchor for all relative deadline parsing
	Channel       Channel       `json:"channel"`
	RecipientType RecipientType `json:"recipient_type"`
}

// -----------------------------------------------------------------------------
// CANDIDATE ACTION - A possibly-actionable unit derived from one message
// -----------------------------------------------------------------------------

// ActionID is a type-safe identifier for candidate actions
type ActionID string

// ActionType classifies what kind of obligation a candidate represents
type ActionType string

const (
	ActionDeadline ActionType = "deadline"
	ActionMeeting  ActionType = "meeting"
	ActionTask     ActionType = "task"
	ActionReview   ActionType = "review"
	ActionResponse ActionType = "response"
)

// Rank orders action types for intra-message deduplication.
// When one message matches several types, the highest rank survives.
func (t ActionType) Rank() int {
	switch t {
	case ActionDeadline:
		return 5
	case ActionMeeting:
		return 4
	case ActionTask:
		return 3
	case ActionReview:
		return 2
	case ActionResponse:
		return 1
	default:
		return 0
	}
}

// Priority levels for candidate actions
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ActionStatus represents the lifecycle state of a candidate action
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusInProgress ActionStatus = "in_progress"
	StatusDone       ActionStatus = "done"
	StatusCancelled  ActionStatus = "cancelled"
)

// CandidateAction is an extracted, possibly-actionable work item. At most one
// candidate survives per source message; re-extracting the same message
// supersedes the previous candidate.
type CandidateAction struct {
	ID              ActionID      `json:"id"`
	Type            ActionType    `json:"type"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Priority        Priority      `json:"priority"`
	Deadline        *time.Time    `json:"deadline,omitempty"`
	Requester       string        `json:"requester"`
	SourceMessageID MessageID     `json:"source_message_id"`
	Channel         Channel       `json:"channel"`
	RecipientType   RecipientType `json:"recipient_type"`
	Evidence        []string      `json:"evidence,omitempty"` // Matched phrases justifying extraction
	Status          ActionStatus  `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
}

// -----------------------------------------------------------------------------
// SELECTION RULE - Compiled weights and bonuses from a natural-language rule
// -----------------------------------------------------------------------------

// Weights holds the score-calculator weight set. The compiler clamps every
// update into its valid range before these are applied.
type Weights struct {
	PriorityHigh           float64 `json:"priority_high"`
	PriorityMedium         float64 `json:"priority_medium"`
	PriorityLow            float64 `json:"priority_low"`
	DeadlineEmphasis       float64 `json:"deadline_emphasis"` // Hours; larger = near deadlines dominate longer
	DeadlineBase           float64 `json:"deadline_base"`
	EvidencePerItem        float64 `json:"evidence_per_item"`
	EvidenceMaxBonus       float64 `json:"evidence_max_bonus"`
	RecipientTypeCCPenalty float64 `json:"recipient_type_cc_penalty"`
}

// DefaultWeights returns the standard weight set
func DefaultWeights() Weights {
	return Weights{
		PriorityHigh:           3.0,
		PriorityMedium:         2.0,
		PriorityLow:            1.0,
		DeadlineEmphasis:       24.0,
		DeadlineBase:           1.0,
		EvidencePerItem:        0.1,
		EvidenceMaxBonus:       0.5,
		RecipientTypeCCPenalty: 0.7,
	}
}

// PriorityWeight maps a candidate priority to its weight
func (w Weights) PriorityWeight(p Priority) float64 {
	switch p {
	case PriorityHigh:
		return w.PriorityHigh
	case PriorityLow:
		return w.PriorityLow
	default:
		return w.PriorityMedium
	}
}

// EntityBonuses are per-entity score bonuses derived from a rule.
// Keys are lowercase match strings; values are bonus points in [-10, 10].
type EntityBonuses struct {
	Requester map[string]float64 `json:"requester"`
	Keyword   map[string]float64 `json:"keyword"`
	Type      map[string]float64 `json:"type"`
}

// NewEntityBonuses returns an empty bonus set with all maps allocated
func NewEntityBonuses() EntityBonuses {
	return EntityBonuses{
		Requester: make(map[string]float64),
		Keyword:   make(map[string]float64),
		Type:      make(map[string]float64),
	}
}

// IsEmpty reports whether no bonus of any category is registered
func (e EntityBonuses) IsEmpty() bool {
	return len(e.Requester) == 0 && len(e.Keyword) == 0 && len(e.Type) == 0
}

// SelectionRule is the compiled form of a natural-language prioritization
// instruction. It is mutated only through the rule compiler.
type SelectionRule struct {
	Weights        Weights       `json:"weights"`
	EntityBonuses  EntityBonuses `json:"entities"`
	RawInstruction string        `json:"instruction"`
}

// DefaultRule returns a rule with default weights and no bonuses
func DefaultRule() *SelectionRule {
	return &SelectionRule{
		Weights:       DefaultWeights(),
		EntityBonuses: NewEntityBonuses(),
	}
}

// -----------------------------------------------------------------------------
// SELECTION RESULT - The outcome of one top-N selection
// -----------------------------------------------------------------------------

// SelectionSource tells which path produced a result
type SelectionSource string

const (
	SourceLLM   SelectionSource = "llm"
	SourceScore SelectionSource = "score"
)

// SelectionResult is the outcome of one SelectTopN call. SelectedIDs usually
// holds n entries but may legitimately hold fewer, or none, when an active
// rule matches fewer candidates.
type SelectionResult struct {
	SelectedIDs []ActionID      `json:"selected_ids"`
	Reasoning   string          `json:"reasoning"`
	Source      SelectionSource `json:"source"`
	DecidedAt   time.Time       `json:"decided_at"`
}
