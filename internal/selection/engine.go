// Package selection implements rule-driven top-N selection over candidate
// actions. A reasoning provider handles nuanced instructions; a deterministic
// score calculator guarantees a result when the provider is unavailable,
// fails, or hallucinates. Repeated provider failures trip a circuit breaker
// that stays open until explicitly reset.
package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/llm"
	"github.com/worklens/worklens/internal/logging"
)

// Completer is the slice of the provider router the engine depends on
type Completer interface {
	Route(ctx context.Context, req llm.Request) (*llm.RouteResponse, error)
	IsAvailable() bool
}

// RuleSource provides the active selection rule. The rule compiler
// satisfies this.
type RuleSource interface {
	Current() core.SelectionRule
}

// Candidate pools larger than this are score-prefiltered before prompting
const prefilterLimit = 50

// Config configures a selection engine
type Config struct {
	Completer        Completer
	Rules            RuleSource
	TopN             int           // Defaults to 3
	CacheTTL         time.Duration // Defaults to 5 minutes
	FailureThreshold int           // Consecutive provider failures before the breaker opens; defaults to 3
	OnDecision       func(core.SelectionResult)
}

// Engine selects the top N candidates under the active rule. All selection
// state (failure counter, breaker, cache) lives on the engine instance.
type Engine struct {
	completer  Completer
	rules      RuleSource
	cache      *Cache
	topN       int
	threshold  int
	onDecision func(core.SelectionResult)
	now        func() time.Time

	mu                  sync.Mutex
	consecutiveFailures int
	breakerOpen         bool
}

// NewEngine creates a selection engine
func NewEngine(cfg Config) *Engine {
	if cfg.TopN <= 0 {
		cfg.TopN = 3
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Engine{
		completer:  cfg.Completer,
		rules:      cfg.Rules,
		cache:      NewCache(cfg.CacheTTL),
		topN:       cfg.TopN,
		threshold:  cfg.FailureThreshold,
		onDecision: cfg.OnDecision,
		now:        time.Now,
	}
}

// SelectTopN picks the top candidates from the pool under the active rule.
// It always produces a result: reasoning selection when possible, score
// fallback otherwise.
func (e *Engine) SelectTopN(ctx context.Context, candidates []core.CandidateAction) core.SelectionResult {
	rule := e.rules.Current()

	pool := make([]core.CandidateAction, 0, len(candidates))
	for _, c := range candidates {
		if c.Status != core.StatusDone {
			pool = append(pool, c)
		}
	}

	if len(pool) == 0 {
		result := core.SelectionResult{
			SelectedIDs: []core.ActionID{},
			Reasoning:   "선정할 후보가 없습니다.",
			Source:      core.SourceScore,
			DecidedAt:   e.now(),
		}
		e.notify(result)
		return result
	}

	key := CacheKey(pool, rule)
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	if rule.RawInstruction != "" && !e.BreakerOpen() && e.completer != nil && e.completer.IsAvailable() {
		result, err := e.reasoningSelection(ctx, pool, rule)
		if err == nil {
			e.resetFailures()
			e.cache.Put(key, result)
			e.notify(result)
			return result
		}
		e.recordFailure(err)
	}

	result := e.scoreSelection(pool, rule)
	e.notify(result)
	return result
}

// -----------------------------------------------------------------------------
// Circuit breaker
// -----------------------------------------------------------------------------

// BreakerOpen reports whether the provider breaker is open. An open breaker
// skips reasoning selection entirely until ResetBreaker is called.
func (e *Engine) BreakerOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breakerOpen
}

// Failures returns the current consecutive provider failure count
func (e *Engine) Failures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consecutiveFailures
}

// ResetBreaker closes the breaker and clears the failure counter
func (e *Engine) ResetBreaker() {
	e.mu.Lock()
	e.consecutiveFailures = 0
	e.breakerOpen = false
	e.mu.Unlock()
	logging.Info("selection breaker reset")
}

func (e *Engine) recordFailure(err error) {
	e.mu.Lock()
	e.consecutiveFailures++
	failures := e.consecutiveFailures
	if failures >= e.threshold && !e.breakerOpen {
		e.breakerOpen = true
		logging.Warn("selection breaker opened after %d consecutive provider failures", failures)
	}
	e.mu.Unlock()
	logging.Warn("reasoning selection failed (%d/%d): %v", failures, e.threshold, err)
}

func (e *Engine) resetFailures() {
	e.mu.Lock()
	e.consecutiveFailures = 0
	e.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Reasoning selection
// -----------------------------------------------------------------------------

const selectionSystemPrompt = `당신은 업무 우선순위 분석 전문가입니다.
사용자의 자연어 규칙을 정확히 이해하고, 주어진 후보 목록에서 규칙에 가장 잘 맞는 항목을 선정합니다.
요청자, 마감일, 우선순위, 유형, 키워드 등 모든 조건을 종합적으로 고려하여 분석하세요.`

func (e *Engine) reasoningSelection(ctx context.Context, pool []core.CandidateAction, rule core.SelectionRule) (core.SelectionResult, error) {
	if len(pool) > prefilterLimit {
		logging.Info("prefiltering %d candidates before prompting", len(pool))
		pool = prefilter(pool, rule, prefilterLimit)
	}

	resp, err := e.completer.Route(ctx, llm.Request{
		System:      selectionSystemPrompt,
		Prompt:      buildSelectionPrompt(pool, rule.RawInstruction, e.topN),
		Temperature: 0.1,
		MaxTokens:   1000,
	})
	if err != nil {
		return core.SelectionResult{}, err
	}

	ids, reasoning, err := parseSelectionResponse(resp.Content)
	if err != nil {
		return core.SelectionResult{}, err
	}

	valid := validateIDs(ids, pool)
	if len(valid) == 0 {
		return core.SelectionResult{}, fmt.Errorf("%w: no selected ID matches the candidate pool", core.ErrInvalidResponse)
	}
	if len(valid) > e.topN {
		valid = valid[:e.topN]
	}

	logging.WithField("provider", resp.Provider).Info("reasoning selection picked %d candidates", len(valid))
	return core.SelectionResult{
		SelectedIDs: valid,
		Reasoning:   reasoning,
		Source:      core.SourceLLM,
		DecidedAt:   e.now(),
	}, nil
}

func buildSelectionPrompt(pool []core.CandidateAction, instruction string, topN int) string {
	var entries []string
	for i, c := range pool {
		deadline := ""
		if c.Deadline != nil {
			deadline = c.Deadline.Format("2006-01-02 15:04")
		}
		entries = append(entries, fmt.Sprintf(
			`%d. ID: %s
제목: %s
**요청자(이 작업을 요청한 사람)**: %s
우선순위: %s
마감일: %s
유형: %s
수신타입: %s
설명: %s`,
			i+1, c.ID, truncateRunes(c.Title, 100), c.Requester,
			c.Priority, deadline, c.Type, c.RecipientType,
			truncateRunes(c.Description, 150)))
	}

	return fmt.Sprintf(`다음 후보 목록에서 사용자의 자연어 규칙에 가장 잘 맞는 상위 %d개를 선정하여 JSON 형식으로 답변해주세요.
반드시 JSON 문자열로만 응답하세요.

사용자 규칙: %s

후보 목록 (%d개):
%s

선정 기준:
1. 사용자 규칙의 모든 조건을 정확히 만족하는 후보 우선
2. **중요**: "요청자"는 작업을 요청한 사람입니다. 설명에 언급된 사람이 아닙니다.
3. 마감일, 우선순위, 유형 등 모든 조건 종합 고려
4. 정확히 %d개를 선정 (조건에 맞는 후보가 %d개 미만이면 조건 완화)

다음 형식으로 답변해주세요:
{
    "selected_ids": ["ID_1", "ID_2", "ID_3"],
    "reasoning": "선정 이유를 간략히 설명"
}`, topN, instruction, len(pool), strings.Join(entries, "\n\n"), topN, topN)
}

type selectionResponse struct {
	SelectedIDs []string `json:"selected_ids"`
	Reasoning   string   `json:"reasoning"`
}

func parseSelectionResponse(content string) ([]core.ActionID, string, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var parsed selectionResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrInvalidResponse, err)
	}

	ids := make([]core.ActionID, 0, len(parsed.SelectedIDs))
	for _, id := range parsed.SelectedIDs {
		if id != "" {
			ids = append(ids, core.ActionID(id))
		}
	}
	return ids, parsed.Reasoning, nil
}

// validateIDs discards hallucinated IDs, preserving the provider's order
func validateIDs(ids []core.ActionID, pool []core.CandidateAction) []core.ActionID {
	known := make(map[core.ActionID]bool, len(pool))
	for _, c := range pool {
		known[c.ID] = true
	}

	var valid []core.ActionID
	seen := make(map[core.ActionID]bool)
	for _, id := range ids {
		if !known[id] {
			logging.Warn("discarding unknown candidate ID from provider: %s", id)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		valid = append(valid, id)
	}
	return valid
}

// prefilter keeps the limit highest-scoring candidates
func prefilter(pool []core.CandidateAction, rule core.SelectionRule, limit int) []core.CandidateAction {
	calc := NewScoreCalculator(rule)

	scored := make([]core.CandidateAction, len(pool))
	copy(scored, pool)
	scores := make(map[core.ActionID]float64, len(scored))
	for _, c := range scored {
		scores[c.ID] = calc.Score(c)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scores[scored[i].ID] > scores[scored[j].ID]
	})

	if limit > len(scored) {
		limit = len(scored)
	}
	return scored[:limit]
}

// -----------------------------------------------------------------------------
// Score fallback
// -----------------------------------------------------------------------------

func (e *Engine) scoreSelection(pool []core.CandidateAction, rule core.SelectionRule) core.SelectionResult {
	calc := NewScoreCalculator(rule)

	// Requester rules force hard filtering: only matching candidates may be
	// selected, even when that means returning fewer than topN, or none.
	if len(rule.EntityBonuses.Requester) > 0 {
		matched := calc.FilterByRequester(pool)
		ids := calc.SelectTopN(matched, e.topN)
		logging.Info("forced-mode score selection: %d of %d candidates matched requester rules", len(matched), len(pool))
		return core.SelectionResult{
			SelectedIDs: ids,
			Reasoning:   fmt.Sprintf("요청자 규칙에 맞는 후보 %d개 중 점수순으로 선정했습니다.", len(matched)),
			Source:      core.SourceScore,
			DecidedAt:   e.now(),
		}
	}

	ids := calc.SelectTopN(pool, e.topN)
	logging.Info("score selection picked %d of %d candidates", len(ids), len(pool))
	return core.SelectionResult{
		SelectedIDs: ids,
		Reasoning:   "가중치 점수순으로 선정했습니다.",
		Source:      core.SourceScore,
		DecidedAt:   e.now(),
	}
}

// -----------------------------------------------------------------------------
// Cache management
// -----------------------------------------------------------------------------

// InvalidateCache drops every cached selection. Wired as the rule
// compiler's change hook.
func (e *Engine) InvalidateCache() {
	e.cache.InvalidateAll()
}

// CacheStats exposes cache counters for the stats endpoint
func (e *Engine) CacheStats() CacheStats {
	return e.cache.Stats()
}

func (e *Engine) notify(result core.SelectionResult) {
	if e.onDecision != nil {
		e.onDecision(result)
	}
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
