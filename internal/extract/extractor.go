// Package extract derives candidate actions from workplace messages.
// The pipeline is deliberately rule-based: recognition tables, context
// windows and request-tone gating, with no model calls on this path.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/logging"
)

// Context window sizes in runes around a matched keyword or pattern
const (
	keywordWindow = 100
	patternWindow = 150

	minSentenceLen = 8
	minBulletLen   = 5
)

var sentenceSplitRe = regexp.MustCompile(`[.!?\n]+\s*|니다[\s,]|요[\s,]|습니다[\s,]`)

// Owner identifies the user running WorkLens. Messages the owner sent
// never become candidate actions.
type Owner struct {
	Address string
	Aliases []string
}

// Extractor turns source messages into candidate actions
type Extractor struct {
	owner    Owner
	patterns *Patterns
}

// New creates an extractor with the default recognition tables
func New(owner Owner) *Extractor {
	return NewWithPatterns(owner, DefaultPatterns())
}

// NewWithPatterns creates an extractor with custom recognition tables
func NewWithPatterns(owner Owner, patterns *Patterns) *Extractor {
	return &Extractor{owner: owner, patterns: patterns}
}

// Extract derives at most one candidate action from a message.
// Non-actionable messages (acknowledgments, past-completion reports,
// the owner's own mail) produce none.
func (e *Extractor) Extract(msg core.SourceMessage) []core.CandidateAction {
	content := strings.TrimSpace(msg.Body)
	text := strings.TrimSpace(msg.Subject + " " + content)
	if text == "" {
		return nil
	}

	if e.isSimpleAcknowledgment(content, msg.Subject) {
		logging.Debug("skipping acknowledgment message %s", msg.ID)
		return nil
	}
	if e.isPastInfoSharing(content) {
		logging.Debug("skipping past-completion info message %s", msg.ID)
		return nil
	}
	if e.isFromOwner(msg) {
		logging.Debug("skipping owner-sent message %s", msg.ID)
		return nil
	}

	var actions []core.CandidateAction

	// Fixed iteration order keeps extraction deterministic
	for _, actionType := range []core.ActionType{
		core.ActionMeeting, core.ActionTask, core.ActionDeadline,
		core.ActionReview, core.ActionResponse,
	} {
		actions = append(actions, e.extractType(text, msg, actionType)...)
	}

	actions = append(actions, e.extractGenericRequests(text, msg)...)

	return e.dedupe(actions, msg.ID)
}

// ExtractBatch runs extraction over a message list. A failure on one
// message never aborts the batch.
func (e *Extractor) ExtractBatch(msgs []core.SourceMessage) []core.CandidateAction {
	var all []core.CandidateAction
	for _, msg := range msgs {
		actions := e.extractSafe(msg)
		all = append(all, actions...)
	}

	priorityOrder := map[core.Priority]int{
		core.PriorityHigh: 3, core.PriorityMedium: 2, core.PriorityLow: 1,
	}
	sort.SliceStable(all, func(i, j int) bool {
		if priorityOrder[all[i].Priority] != priorityOrder[all[j].Priority] {
			return priorityOrder[all[i].Priority] > priorityOrder[all[j].Priority]
		}
		di, dj := all[i].Deadline, all[j].Deadline
		if di == nil {
			return false
		}
		if dj == nil {
			return true
		}
		return di.Before(*dj)
	})

	return all
}

func (e *Extractor) extractSafe(msg core.SourceMessage) (actions []core.CandidateAction) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("extraction panic on message %s: %v", msg.ID, r)
			actions = nil
		}
	}()
	return e.Extract(msg)
}

// -----------------------------------------------------------------------------
// Typed extraction
// -----------------------------------------------------------------------------

func (e *Extractor) extractType(text string, msg core.SourceMessage, actionType core.ActionType) []core.CandidateAction {
	cfg := e.patterns.ActionPatterns[actionType]
	lowered := strings.ToLower(text)

	var actions []core.CandidateAction

	for _, keyword := range cfg.Keywords {
		if !strings.Contains(lowered, keyword) {
			continue
		}
		context := contextAround(text, keyword, keywordWindow)
		if context == "" || !e.looksLikeRequest(strings.ToLower(context)) {
			continue
		}
		actions = append(actions, e.newAction(actionType, context, msg,
			ExtractDeadline(text, msg.SentAt), []string{keyword}))
	}

	for _, pattern := range cfg.Patterns {
		for _, match := range pattern.FindAllString(text, -1) {
			context := contextAround(text, match, patternWindow)
			if context == "" || !e.looksLikeRequest(strings.ToLower(context)) {
				continue
			}
			actions = append(actions, e.newAction(actionType, context, msg,
				e.deadlineFromMatch(match, actionType, msg.SentAt), []string{match}))
		}
	}

	return actions
}

// deadlineFromMatch resolves the date carried by a pattern match itself
func (e *Extractor) deadlineFromMatch(match string, actionType core.ActionType, ref time.Time) *time.Time {
	switch actionType {
	case core.ActionDeadline:
		return ParseDateString(match, ref)
	case core.ActionMeeting:
		return parseClockString(match, ref)
	default:
		return nil
	}
}

var (
	hhmmRe    = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	hourOnlyRe = regexp.MustCompile(`(\d{1,2})시`)
)

// parseClockString resolves "14:30" or "10시" on the reference day
func parseClockString(s string, ref time.Time) *time.Time {
	if m := hhmmRe.FindStringSubmatch(s); m != nil {
		hour := atoi(m[1])
		minute := atoi(m[2])
		return timePtr(atClock(ref, hour, minute))
	}
	if m := hourOnlyRe.FindStringSubmatch(s); m != nil {
		return timePtr(atClock(ref, atoi(m[1]), 0))
	}
	return nil
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// -----------------------------------------------------------------------------
// Generic request extraction
// -----------------------------------------------------------------------------

func (e *Extractor) extractGenericRequests(text string, msg core.SourceMessage) []core.CandidateAction {
	var actions []core.CandidateAction

	for _, fragment := range splitSentences(text) {
		sentence := strings.TrimSpace(fragment)
		if utf8.RuneCountInString(sentence) < minSentenceLen {
			continue
		}
		lowered := strings.ToLower(sentence)
		if !e.looksLikeRequest(lowered) {
			continue
		}
		actionType := e.inferType(lowered)
		actions = append(actions, e.newAction(actionType, sentence, msg,
			ExtractDeadline(sentence, msg.SentAt), e.matchedMarkers(lowered)))
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(e.patterns.BulletPrefix.ReplaceAllString(strings.TrimSpace(rawLine), ""))
		if utf8.RuneCountInString(line) < minBulletLen {
			continue
		}
		lowered := strings.ToLower(line)
		if !e.looksLikeRequest(lowered) {
			continue
		}
		actionType := e.inferType(lowered)
		actions = append(actions, e.newAction(actionType, line, msg,
			ExtractDeadline(line, msg.SentAt), e.matchedMarkers(lowered)))
	}

	return actions
}

func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	return sentenceSplitRe.Split(text, -1)
}

// looksLikeRequest reports whether a fragment reads as an obligation
// rather than information sharing, a completed-work report, or a
// conditional offer.
func (e *Extractor) looksLikeRequest(lowered string) bool {
	if containsAny(lowered, e.patterns.InfoSharingPhrases) {
		return false
	}
	if containsAny(lowered, e.patterns.PastTensePhrases) {
		return false
	}
	if containsAny(lowered, e.patterns.ConditionalOfferPhrases) {
		return false
	}
	return containsAny(lowered, e.patterns.GenericRequestMarkers)
}

// inferType classifies a request sentence by its markers
func (e *Extractor) inferType(lowered string) core.ActionType {
	if containsAny(lowered, e.patterns.MeetingMarkers) {
		return core.ActionMeeting
	}
	if containsAny(lowered, e.patterns.DeadlineMarkers) {
		return core.ActionDeadline
	}
	if containsAny(lowered, e.patterns.ResponseMarkers) {
		return core.ActionResponse
	}
	if containsAny(lowered, e.patterns.ActionPatterns[core.ActionReview].Keywords) {
		return core.ActionReview
	}
	return core.ActionTask
}

// matchedMarkers collects the request markers present in a fragment
func (e *Extractor) matchedMarkers(lowered string) []string {
	var matched []string
	for _, marker := range e.patterns.GenericRequestMarkers {
		if strings.Contains(lowered, marker) {
			matched = append(matched, marker)
		}
	}
	return matched
}

// -----------------------------------------------------------------------------
// Message-level filters
// -----------------------------------------------------------------------------

func (e *Extractor) isSimpleAcknowledgment(content, subject string) bool {
	fullText := strings.TrimSpace(subject + " " + content)

	if utf8.RuneCountInString(content) < 100 {
		for _, pattern := range e.patterns.SimpleAckPatterns {
			if pattern.MatchString(content) {
				return true
			}
		}
	}

	for _, pattern := range e.patterns.GreetingOnlyPatterns {
		if pattern.MatchString(fullText) {
			return true
		}
	}

	if utf8.RuneCountInString(content) < 80 && !containsAny(content, e.patterns.RequestKeywords) {
		for _, pattern := range e.patterns.StatusReportPatterns {
			if pattern.MatchString(content) {
				return true
			}
		}
	}

	return false
}

// isPastInfoSharing detects completed-work reports that carry no new
// obligation for the reader.
func (e *Extractor) isPastInfoSharing(content string) bool {
	hasPast := containsAny(content, e.patterns.PastCompletionPhrases)
	hasSharing := containsAny(content, e.patterns.SharingPhrases)
	hasConditional := containsAny(content, e.patterns.ConditionalPhrases)

	if hasPast && hasSharing {
		return true
	}
	if hasPast && hasConditional {
		return true
	}
	if hasSharing && hasConditional && !containsAny(content, e.patterns.ClearRequestVerbs) {
		return true
	}
	return false
}

func (e *Extractor) isFromOwner(msg core.SourceMessage) bool {
	if msg.SenderAddress != "" {
		return e.owner.Address != "" && strings.EqualFold(msg.SenderAddress, e.owner.Address)
	}
	loweredSender := strings.ToLower(msg.Sender)
	for _, alias := range e.owner.Aliases {
		if alias != "" && strings.Contains(loweredSender, strings.ToLower(alias)) {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Candidate construction
// -----------------------------------------------------------------------------

var actionTitles = map[core.ActionType]string{
	core.ActionMeeting:  "미팅참석",
	core.ActionTask:     "업무처리",
	core.ActionDeadline: "마감작업",
	core.ActionReview:   "문서검토",
	core.ActionResponse: "답변작성",
}

func (e *Extractor) newAction(actionType core.ActionType, description string, msg core.SourceMessage, deadline *time.Time, evidence []string) core.CandidateAction {
	return core.CandidateAction{
		ID:              core.ActionID(uuid.New().String()),
		Type:            actionType,
		Title:           actionTitles[actionType],
		Description:     description,
		Priority:        e.determinePriority(description),
		Deadline:        deadline,
		Requester:       msg.Sender,
		SourceMessageID: msg.ID,
		Channel:         msg.Channel,
		RecipientType:   msg.RecipientType,
		Evidence:        evidence,
		Status:          core.StatusPending,
		CreatedAt:       msg.SentAt,
	}
}

func (e *Extractor) determinePriority(text string) core.Priority {
	lowered := strings.ToLower(text)
	if containsAny(lowered, e.patterns.PriorityHigh) {
		return core.PriorityHigh
	}
	if containsAny(lowered, e.patterns.PriorityMedium) {
		return core.PriorityMedium
	}
	if containsAny(lowered, e.patterns.PriorityLow) {
		return core.PriorityLow
	}
	return core.PriorityMedium
}

// dedupe keeps one candidate per message: the highest-ranked type,
// with the longer description breaking ties.
func (e *Extractor) dedupe(actions []core.CandidateAction, msgID core.MessageID) []core.CandidateAction {
	if len(actions) <= 1 {
		return actions
	}

	best := actions[0]
	for _, a := range actions[1:] {
		if a.Type.Rank() > best.Type.Rank() ||
			(a.Type.Rank() == best.Type.Rank() && len(a.Description) > len(best.Description)) {
			best = a
		}
	}

	logging.Debug("deduplicated %d candidates to 1 for message %s (type %s)",
		len(actions), msgID, best.Type)
	return []core.CandidateAction{best}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func containsAny(s string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

// contextAround returns a rune window around the first occurrence of
// needle in text, case-insensitive.
func contextAround(text, needle string, window int) string {
	byteIdx := strings.Index(strings.ToLower(text), strings.ToLower(needle))
	if byteIdx < 0 {
		return ""
	}

	runes := []rune(text)
	runeIdx := utf8.RuneCountInString(text[:byteIdx])
	needleLen := utf8.RuneCountInString(needle)

	start := runeIdx - window
	if start < 0 {
		start = 0
	}
	end := runeIdx + needleLen + window
	if end > len(runes) {
		end = len(runes)
	}

	return strings.TrimSpace(string(runes[start:end]))
}
