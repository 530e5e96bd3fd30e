// Package rules compiles natural-language prioritization instructions into
// selection rules. Compilation first asks a reasoning provider for a strict
// JSON parse and falls back to a deterministic pattern parser, so a rule
// instruction always produces some interpretation or an explicit error.
package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/llm"
	"github.com/worklens/worklens/internal/logging"
)

// Completer is the slice of the provider router the compiler depends on
type Completer interface {
	Route(ctx context.Context, req llm.Request) (*llm.RouteResponse, error)
	IsAvailable() bool
}

// ErrUninterpretable is returned when neither the reasoning parse nor the
// pattern parser could derive a rule from the instruction.
var ErrUninterpretable = errors.New("rules: instruction could not be interpreted")

// Compiler owns the active selection rule. All mutation goes through Apply
// and Reset; readers get copies via Current.
type Compiler struct {
	completer Completer
	rulePath  string
	onChange  func() // Invalidates selection caches after every rule change

	mu   sync.RWMutex
	rule core.SelectionRule
}

// NewCompiler creates a rule compiler persisting to rulePath. A previously
// saved rule is loaded if present; onChange fires after every rule mutation.
func NewCompiler(completer Completer, rulePath string, onChange func()) *Compiler {
	c := &Compiler{
		completer: completer,
		rulePath:  rulePath,
		onChange:  onChange,
		rule:      *core.DefaultRule(),
	}
	c.load()
	return c
}

// Current returns a copy of the active rule
func (c *Compiler) Current() core.SelectionRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyRule(c.rule)
}

// Apply compiles a natural-language instruction into the active rule.
// It tries the reasoning provider first and falls back to the pattern
// parser. The returned note describes how the instruction was interpreted.
func (c *Compiler) Apply(ctx context.Context, text string, reset bool) (string, error) {
	cleaned := strings.TrimSpace(text)

	if reset || cleaned == "" {
		c.Reset()
		return "규칙을 기본값으로 초기화했습니다.", nil
	}

	parsed, note := c.tryReasoningParse(ctx, cleaned)
	if parsed == nil {
		var err error
		parsed, note, err = heuristicParse(cleaned)
		if err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	c.applyParsed(parsed, cleaned)
	c.mu.Unlock()

	c.persist()
	if c.onChange != nil {
		c.onChange()
	}

	logging.WithField("instruction", cleaned).Info("selection rule updated")
	return note, nil
}

// Reset restores default weights and clears every entity bonus
func (c *Compiler) Reset() {
	c.mu.Lock()
	c.rule = *core.DefaultRule()
	c.mu.Unlock()

	c.persist()
	if c.onChange != nil {
		c.onChange()
	}
	logging.Info("selection rule reset to defaults")
}

// -----------------------------------------------------------------------------
// Reasoning parse
// -----------------------------------------------------------------------------

const ruleParsePrompt = `당신은 업무 우선순위 규칙 파서입니다. 사용자의 자연어 지시를 아래 JSON 스키마로만 변환하세요. JSON 외의 텍스트는 절대 출력하지 마세요.

{
  "reset": false,
  "weights": {"priority_high": 3.0, "priority_medium": 2.0, "priority_low": 1.0, "deadline_emphasis": 24.0},
  "entities": {"requester": {"이름": 보너스}, "keyword": {"단어": 보너스}, "type": {"유형": 보너스}}
}

보너스 기준:
- "최우선", "무조건": 8.0 ~ 10.0
- "우선", "중요": 4.0 ~ 6.0
- "보통": 2.0 ~ 3.0
- "낮음": 0.5 ~ 1.5
- reset은 사용자가 명시적으로 초기화를 요청할 때만 true

예시:
입력: "유준영 최우선"
출력: {"entities": {"requester": {"유준영": 9.0}}}

입력: "요청자가 전형우일 경우 우선순위 높게"
출력: {"entities": {"requester": {"전형우": 5.0}}}

입력: "버그 보고서는 긴급하게"
출력: {"entities": {"keyword": {"버그": 4.0, "보고서": 3.0}}}

입력: "초기화"
출력: {"reset": true}`

type parsedEntities struct {
	Requester map[string]float64 `json:"requester"`
	Keyword   map[string]float64 `json:"keyword"`
	Type      map[string]float64 `json:"type"`
}

type parsedRule struct {
	Reset    bool               `json:"reset"`
	Weights  map[string]float64 `json:"weights"`
	Entities parsedEntities     `json:"entities"`
}

func (c *Compiler) tryReasoningParse(ctx context.Context, text string) (*parsedRule, string) {
	if c.completer == nil || !c.completer.IsAvailable() {
		return nil, ""
	}

	resp, err := c.completer.Route(ctx, llm.Request{
		System:      ruleParsePrompt,
		Prompt:      text,
		Temperature: 0.3,
		MaxTokens:   500,
	})
	if err != nil {
		logging.Warn("rule parse request failed, falling back to patterns: %v", err)
		return nil, ""
	}

	content := stripCodeFences(resp.Content)
	var parsed parsedRule
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		logging.Warn("rule parse returned invalid JSON, falling back to patterns: %v", err)
		return nil, ""
	}

	logging.WithField("provider", resp.Provider).Debug("rule instruction parsed by reasoning provider")
	return &parsed, fmt.Sprintf("자연어 규칙을 해석했습니다. (%s)", resp.Provider)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// -----------------------------------------------------------------------------
// Pattern parse
// -----------------------------------------------------------------------------

var resetKeywords = []string{"초기화", "리셋", "reset", "기본값"}

// Conjunctions and recipient qualifiers the pattern parser cannot handle
var complexKeywords = []string{"이고", "이며", "그리고", "and", "참조", "cc", "bcc", "직접"}

var topPriorityWords = []string{"최우선", "무조건", "항상", "반드시", "가장 먼저", "최고", "제일"}
var highPriorityWords = []string{"우선", "중요", "먼저", "높게", "높은"}

var weightHighWords = []string{"high", "높", "긴급", "중요", "최우선", "급함", "시급", "제일", "높게", "높은"}
var weightMediumWords = []string{"medium", "중간", "보통"}
var weightLowWords = []string{"low", "낮", "덜 중요", "낮게", "최하위"}

var (
	requesterSubjectRe   = regexp.MustCompile(`([가-힣]{2,6})(?:이|가)\s*요청자`)
	requesterCaseRe      = regexp.MustCompile(`요청자(?:가|는|이)?\s*([가-힣]{2,6})(?:일|이)?\s*(?:경우|때|면)`)
	requesterHonorificRe = regexp.MustCompile(`([가-힣]{2,6})\s*(?:선생님|팀장|부장|님|씨)`)
	requesterVerbRe      = regexp.MustCompile(`([가-힣]{2,6})\s*요청`)

	typeSuffixRe = regexp.MustCompile(`([가-힣a-zA-Z]{2,10})\s*(?:유형|타입|관련|TODO)`)
	typePrefixRe = regexp.MustCompile(`(?:유형|타입)(?:이|가)?\s*([가-힣a-zA-Z]{2,10})`)
)

// Generic instruction vocabulary that must never be mistaken for a name
var nameStopwords = map[string]bool{
	"요청자": true, "우선순위": true, "최우선": true, "경우": true, "우선": true,
	"중요": true, "먼저": true, "높게": true, "높은": true, "제일": true,
	"요청": true, "순위": true, "규칙": true, "설정": true, "변경": true,
	"수정": true, "추가": true, "삭제": true, "초기화": true, "리셋": true,
}

var typeStopwords = map[string]bool{
	"유형": true, "타입": true, "관련": true, "TODO": true, "경우": true,
	"우선": true, "중요": true, "먼저": true, "높게": true,
}

func heuristicParse(text string) (*parsedRule, string, error) {
	lower := strings.ToLower(text)

	if containsAny(lower, resetKeywords) {
		return &parsedRule{Reset: true}, "초기화 명령을 감지했습니다.", nil
	}
	if containsAny(lower, complexKeywords) {
		return nil, "", fmt.Errorf("%w: 복합 조건은 해석할 수 없습니다", ErrUninterpretable)
	}

	defaults := core.DefaultWeights()
	parsed := &parsedRule{
		Weights: map[string]float64{},
		Entities: parsedEntities{
			Requester: map[string]float64{},
			Type:      map[string]float64{},
		},
	}

	if containsAny(lower, weightHighWords) {
		parsed.Weights["priority_high"] = defaults.PriorityHigh + 2.0
	}
	if containsAny(lower, weightMediumWords) {
		parsed.Weights["priority_medium"] = defaults.PriorityMedium + 0.5
	}
	if containsAny(lower, weightLowWords) {
		low := defaults.PriorityLow - 2.0
		if low < 0.2 {
			low = 0.2
		}
		parsed.Weights["priority_low"] = low
	}

	// Entity bonus tier depends on how emphatically the instruction reads
	bonus := 2.0
	switch {
	case containsAny(lower, topPriorityWords):
		bonus = 8.0
	case containsAny(lower, highPriorityWords):
		bonus = 4.0
	}

	for _, name := range extractRequesterNames(text) {
		parsed.Entities.Requester[name] = bonus
	}
	for _, typeName := range extractTypeNames(text) {
		parsed.Entities.Type[typeName] = bonus
	}

	if len(parsed.Weights) == 0 && len(parsed.Entities.Requester) == 0 && len(parsed.Entities.Type) == 0 {
		return nil, "", ErrUninterpretable
	}

	note := "패턴 매칭으로 규칙을 해석했습니다."
	if len(parsed.Entities.Requester) > 0 {
		note += fmt.Sprintf(" (요청자: %s)", strings.Join(sortedKeys(parsed.Entities.Requester), ", "))
	}
	if len(parsed.Entities.Type) > 0 {
		note += fmt.Sprintf(" (유형: %s)", strings.Join(sortedKeys(parsed.Entities.Type), ", "))
	}
	return parsed, note, nil
}

func extractRequesterNames(text string) []string {
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{requesterSubjectRe, requesterCaseRe, requesterHonorificRe, requesterVerbRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = true
		}
	}

	var names []string
	for name := range seen {
		if nameStopwords[name] || len([]rune(name)) < 2 {
			continue
		}
		// Captures like "정지원일" and "김세린이" carry a trailing particle
		runes := []rune(name)
		if len(runes) > 2 && (runes[len(runes)-1] == '일' || runes[len(runes)-1] == '이') {
			name = string(runes[:len(runes)-1])
		}
		if len([]rune(name)) >= 2 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func extractTypeNames(text string) []string {
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{typeSuffixRe, typePrefixRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			seen[m[1]] = true
		}
	}

	var names []string
	for name := range seen {
		if typeStopwords[name] || len([]rune(name)) < 2 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------
// Rule application
// -----------------------------------------------------------------------------

// applyParsed merges a parsed instruction into the active rule.
// Caller holds c.mu.
func (c *Compiler) applyParsed(p *parsedRule, instruction string) {
	if p.Reset {
		c.rule = *core.DefaultRule()
		return
	}

	for key, value := range p.Weights {
		c.setWeight(key, value)
	}

	mergeBonuses(c.rule.EntityBonuses.Keyword, p.Entities.Keyword, nil)
	mergeBonuses(c.rule.EntityBonuses.Type, p.Entities.Type, nil)
	mergeBonuses(c.rule.EntityBonuses.Requester, p.Entities.Requester, GenerateNameVariations)

	c.rule.RawInstruction = instruction
}

// setWeight applies one weight update, clamped to its valid range
func (c *Compiler) setWeight(key string, value float64) {
	w := &c.rule.Weights
	switch key {
	case "priority_high":
		w.PriorityHigh = clamp(value, 0, 10)
	case "priority_medium":
		w.PriorityMedium = clamp(value, 0, 10)
	case "priority_low":
		w.PriorityLow = clamp(value, 0, 10)
	case "deadline_emphasis":
		w.DeadlineEmphasis = clamp(value, 0, 168)
	case "deadline_base":
		w.DeadlineBase = clamp(value, 0, 10)
	case "evidence_per_item":
		w.EvidencePerItem = clamp(value, 0, 10)
	case "evidence_max_bonus":
		w.EvidenceMaxBonus = clamp(value, 0, 10)
	case "recipient_type_cc_penalty":
		w.RecipientTypeCCPenalty = clamp(value, 0, 1)
	default:
		logging.Debug("ignoring unknown weight key %q", key)
	}
}

// mergeBonuses folds new bonuses into dst, keeping the larger value when a
// key already exists. variations expands each name into its match forms.
func mergeBonuses(dst map[string]float64, src map[string]float64, variations func(string) []string) {
	for name, bonus := range src {
		bonus = clamp(bonus, -10, 10)

		keys := []string{strings.TrimSpace(name)}
		if variations != nil {
			keys = variations(strings.TrimSpace(name))
		}
		for _, key := range keys {
			if key == "" {
				continue
			}
			if existing, ok := dst[key]; !ok || bonus > existing {
				dst[key] = bonus
			}
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// -----------------------------------------------------------------------------
// Description and persistence
// -----------------------------------------------------------------------------

// Describe renders the active rule as human-readable text
func (c *Compiler) Describe() string {
	c.mu.RLock()
	rule := copyRule(c.rule)
	c.mu.RUnlock()

	var parts []string

	if !rule.EntityBonuses.IsEmpty() {
		parts = append(parts, "강제 모드: 규칙에 맞는 후보만 선정")
		if len(rule.EntityBonuses.Requester) > 0 {
			parts = append(parts, "  - 요청자: "+summarizeKeys(rule.EntityBonuses.Requester, "명"))
		}
		if len(rule.EntityBonuses.Keyword) > 0 {
			parts = append(parts, "  - 키워드: "+summarizeKeys(rule.EntityBonuses.Keyword, "개"))
		}
		if len(rule.EntityBonuses.Type) > 0 {
			parts = append(parts, "  - 타입: "+summarizeKeys(rule.EntityBonuses.Type, "개"))
		}
	} else {
		parts = append(parts, "일반 모드: 점수 기반 선정")
	}

	w := rule.Weights
	parts = append(parts,
		fmt.Sprintf("우선순위 가중치 H/M/L: %.2f/%.2f/%.2f", w.PriorityHigh, w.PriorityMedium, w.PriorityLow),
		fmt.Sprintf("데드라인 강조: %.1f시간", w.DeadlineEmphasis),
		fmt.Sprintf("근거당 가중치: %.2f (최대 %.2f)", w.EvidencePerItem, w.EvidenceMaxBonus),
		fmt.Sprintf("CC/BCC 페널티: %.2f", w.RecipientTypeCCPenalty),
	)

	return strings.Join(parts, "\n")
}

func summarizeKeys(m map[string]float64, unit string) string {
	keys := sortedKeys(m)
	if len(keys) <= 5 {
		return strings.Join(keys, ", ")
	}
	return fmt.Sprintf("%s 외 %d%s", strings.Join(keys[:5], ", "), len(keys)-5, unit)
}

func (c *Compiler) persist() {
	if c.rulePath == "" {
		return
	}

	c.mu.RLock()
	rule := copyRule(c.rule)
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(c.rulePath), 0700); err != nil {
		logging.Error("failed to create rule directory: %v", err)
		return
	}

	data, err := json.MarshalIndent(rule, "", "  ")
	if err != nil {
		logging.Error("failed to encode rule: %v", err)
		return
	}
	if err := os.WriteFile(c.rulePath, data, 0600); err != nil {
		logging.Error("failed to save rule: %v", err)
		return
	}
	logging.Debug("selection rule saved to %s", c.rulePath)
}

func (c *Compiler) load() {
	if c.rulePath == "" {
		return
	}

	data, err := os.ReadFile(c.rulePath)
	if err != nil {
		return
	}

	var rule core.SelectionRule
	if err := json.Unmarshal(data, &rule); err != nil {
		logging.Warn("ignoring corrupt rule file %s: %v", c.rulePath, err)
		return
	}
	if rule.EntityBonuses.Requester == nil {
		rule.EntityBonuses.Requester = make(map[string]float64)
	}
	if rule.EntityBonuses.Keyword == nil {
		rule.EntityBonuses.Keyword = make(map[string]float64)
	}
	if rule.EntityBonuses.Type == nil {
		rule.EntityBonuses.Type = make(map[string]float64)
	}
	if rule.Weights == (core.Weights{}) {
		rule.Weights = core.DefaultWeights()
	}

	c.mu.Lock()
	c.rule = rule
	c.mu.Unlock()
	logging.Info("selection rule loaded from %s", c.rulePath)
}

func copyRule(r core.SelectionRule) core.SelectionRule {
	out := r
	out.EntityBonuses = core.NewEntityBonuses()
	for k, v := range r.EntityBonuses.Requester {
		out.EntityBonuses.Requester[k] = v
	}
	for k, v := range r.EntityBonuses.Keyword {
		out.EntityBonuses.Keyword[k] = v
	}
	for k, v := range r.EntityBonuses.Type {
		out.EntityBonuses.Type[k] = v
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
