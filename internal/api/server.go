// Package api provides the HTTP API server for WorkLens.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/extract"
	"github.com/worklens/worklens/internal/ledger"
	"github.com/worklens/worklens/internal/llm"
	"github.com/worklens/worklens/internal/rules"
	"github.com/worklens/worklens/internal/selection"
	"github.com/worklens/worklens/internal/storage"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	wsHub      *WebSocketHub

	// Components
	db        *storage.DB
	extractor *extract.Extractor
	compiler  *rules.Compiler
	engine    *selection.Engine
	llmRouter *llm.Router

	// Stores
	actionStore    *storage.ActionStore
	selectionStore *storage.SelectionStore

	// Ledger (audit trail)
	ledgerStore *ledger.Store
	recorder    *ledger.Recorder

	mu sync.RWMutex
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	DB             *storage.DB
	Extractor      *extract.Extractor
	Compiler       *rules.Compiler
	Engine         *selection.Engine
	LLMRouter      *llm.Router
	ActionStore    *storage.ActionStore
	SelectionStore *storage.SelectionStore
	LedgerStore    *ledger.Store
	Recorder       *ledger.Recorder
}

// New creates a new API server
func New(cfg Config) *Server {
	s := &Server{
		db:             cfg.DB,
		extractor:      cfg.Extractor,
		compiler:       cfg.Compiler,
		engine:         cfg.Engine,
		llmRouter:      cfg.LLMRouter,
		actionStore:    cfg.ActionStore,
		selectionStore: cfg.SelectionStore,
		ledgerStore:    cfg.LedgerStore,
		recorder:       cfg.Recorder,
		wsHub:          NewWebSocketHub(),
	}

	s.setupRouter()

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Extraction
		r.Post("/extract", s.handleExtract)

		// Candidate actions
		r.Get("/actions", s.handleGetActions)
		r.Get("/actions/{actionID}", s.handleGetAction)
		r.Put("/actions/{actionID}/status", s.handleUpdateActionStatus)

		// Selection
		r.Post("/select", s.handleSelect)
		r.Get("/selections", s.handleGetSelections)
		r.Get("/selections/latest", s.handleGetLatestSelection)
		r.Post("/selections/breaker/reset", s.handleResetBreaker)

		// Rules
		r.Get("/rules", s.handleGetRules)
		r.Post("/rules", s.handleApplyRule)
		r.Delete("/rules", s.handleResetRules)

		// Stats
		r.Get("/stats", s.handleGetStats)

		// Ledger API (read-only audit trail)
		if s.ledgerStore != nil {
			ledgerAPI := NewLedgerAPI(s.ledgerStore)
			ledgerAPI.RegisterRoutes(r)
		}
	})

	// WebSocket
	r.Get("/ws", s.handleWebSocket)

	// Health
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.wsHub.Run()

	fmt.Printf("API server starting on http://%s\n", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends a message to all WebSocket clients
func (s *Server) Broadcast(msgType string, data interface{}) {
	s.wsHub.Broadcast(WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// --- Handlers ---

// handleExtract runs the extractor over a batch of messages and stores the
// resulting candidates. Non-actionable messages are counted but produce nothing.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Messages []core.SourceMessage `json:"messages"`
	}

	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if len(input.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, "Messages required")
		return
	}

	candidates := s.extractor.ExtractBatch(input.Messages)

	stored := make([]core.CandidateAction, 0, len(candidates))
	for _, c := range candidates {
		id, err := s.actionStore.Upsert(c)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		c.ID = id
		stored = append(stored, c)

		if s.recorder != nil {
			s.recorder.RecordCandidateCreated(c)
		}
		s.Broadcast("action.created", c)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"received":  len(input.Messages),
		"extracted": len(stored),
		"actions":   stored,
	})
}

func (s *Server) handleGetActions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var actions []core.CandidateAction
	var err error

	switch status {
	case "":
		actions, err = s.actionStore.ListActive()
	case "all":
		actions, err = s.actionStore.ListAll()
	default:
		actions, err = s.actionStore.ListByStatus(core.ActionStatus(status))
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if actions == nil {
		actions = []core.CandidateAction{}
	}

	s.respondJSON(w, http.StatusOK, actions)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionID")
	action, err := s.actionStore.GetByID(core.ActionID(actionID))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, action)
}

func (s *Server) handleUpdateActionStatus(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionID")

	var input struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	status := core.ActionStatus(input.Status)
	switch status {
	case core.StatusPending, core.StatusInProgress, core.StatusDone, core.StatusCancelled:
	default:
		s.respondError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	action, err := s.actionStore.GetByID(core.ActionID(actionID))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	if err := s.actionStore.SetStatus(action.ID, status); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if s.recorder != nil {
		s.recorder.RecordStatusChanged(action.ID, action.Status, status)
	}

	action.Status = status
	s.Broadcast("action.updated", action)
	s.respondJSON(w, http.StatusOK, action)
}

// handleSelect runs a top-N selection over the active candidate pool and
// records the decision.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.actionStore.ListActive()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result := s.engine.SelectTopN(r.Context(), candidates)

	if err := s.selectionStore.Record(result); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	selected := make([]core.CandidateAction, 0, len(result.SelectedIDs))
	for _, id := range result.SelectedIDs {
		for _, c := range candidates {
			if c.ID == id {
				selected = append(selected, c)
				break
			}
		}
	}

	s.Broadcast("selection.decided", result)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"selected_ids": result.SelectedIDs,
		"selected":     selected,
		"reasoning":    result.Reasoning,
		"source":       result.Source,
		"decided_at":   result.DecidedAt,
	})
}

func (s *Server) handleGetSelections(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		fmt.Sscanf(l, "%d", &limit)
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}

	results, err := s.selectionStore.ListRecent(limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []core.SelectionResult{}
	}

	s.respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetLatestSelection(w http.ResponseWriter, r *http.Request) {
	latest, err := s.selectionStore.Latest()
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "no selection recorded yet")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, latest)
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetBreaker()

	if s.recorder != nil {
		s.recorder.RecordBreakerEvent(ledger.ActionBreakerReset, 0)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"breaker_open": s.engine.BreakerOpen(),
	})
}

func (s *Server) handleGetRules(w http.ResponseWriter, r *http.Request) {
	rule := s.compiler.Current()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rule":        rule,
		"description": s.compiler.Describe(),
	})
}

// handleApplyRule compiles a natural-language instruction into the active rule
func (s *Server) handleApplyRule(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Instruction string `json:"instruction"`
		Reset       bool   `json:"reset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if input.Instruction == "" && !input.Reset {
		s.respondError(w, http.StatusBadRequest, "Instruction required")
		return
	}

	note, err := s.compiler.Apply(r.Context(), input.Instruction, input.Reset)
	if err != nil {
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if s.recorder != nil {
		s.recorder.RecordRuleApplied(input.Instruction, note)
	}

	rule := s.compiler.Current()
	s.Broadcast("rule.applied", rule)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"note":        note,
		"rule":        rule,
		"description": s.compiler.Describe(),
	})
}

func (s *Server) handleResetRules(w http.ResponseWriter, r *http.Request) {
	s.compiler.Reset()

	if s.recorder != nil {
		s.recorder.RecordRuleReset()
	}

	rule := s.compiler.Current()
	s.Broadcast("rule.reset", rule)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"rule":        rule,
		"description": s.compiler.Describe(),
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	active, _ := s.actionStore.ListActive()
	all, _ := s.actionStore.ListAll()

	byStatus := make(map[string]int)
	for _, a := range all {
		byStatus[string(a.Status)]++
	}

	cacheStats := s.engine.CacheStats()

	result := map[string]interface{}{
		"total_actions":  len(all),
		"active_actions": len(active),
		"by_status":      byStatus,
		"breaker_open":   s.engine.BreakerOpen(),
		"failures":       s.engine.Failures(),
		"cache": map[string]interface{}{
			"entries": cacheStats.Entries,
			"hits":    cacheStats.Hits,
			"misses":  cacheStats.Misses,
		},
		"provider_available": s.llmRouter != nil && s.llmRouter.IsAvailable(),
	}

	if s.llmRouter != nil {
		result["router"] = s.llmRouter.GetStats()
	}

	// Include ledger stats if available
	if s.ledgerStore != nil {
		summary, err := s.ledgerStore.GetSummary()
		if err == nil {
			result["ledger"] = summary
		}
	}

	s.respondJSON(w, http.StatusOK, result)
}
