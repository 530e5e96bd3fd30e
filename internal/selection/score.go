package selection

import (
	"sort"
	"strings"
	"time"

	"github.com/worklens/worklens/internal/core"
	"github.com/worklens/worklens/internal/rules"
)

// ScoreCalculator ranks candidates deterministically from the rule weights
// and entity bonuses. It backs the fallback path and the prompt prefilter.
type ScoreCalculator struct {
	rule core.SelectionRule
	now  func() time.Time
}

// NewScoreCalculator creates a calculator for one rule snapshot
func NewScoreCalculator(rule core.SelectionRule) *ScoreCalculator {
	return &ScoreCalculator{rule: rule, now: time.Now}
}

// Score computes the priority score for one candidate.
//
//	score = priority_term * rule_multiplier * w_deadline * w_evidence * cc_penalty
//
// w_deadline grows strictly as the deadline approaches, so of two otherwise
// identical candidates the more urgent one always scores higher.
func (s *ScoreCalculator) Score(a core.CandidateAction) float64 {
	w := s.rule.Weights

	wPriority := w.PriorityWeight(a.Priority)

	wDeadline := 1.0
	if a.Deadline != nil {
		hoursLeft := a.Deadline.Sub(s.now()).Hours()
		if hoursLeft < 0 {
			hoursLeft = 0
		}
		wDeadline = w.DeadlineBase + w.DeadlineEmphasis/(w.DeadlineEmphasis+hoursLeft)
	}

	evidenceBonus := w.EvidencePerItem * float64(len(a.Evidence))
	if evidenceBonus > w.EvidenceMaxBonus {
		evidenceBonus = w.EvidenceMaxBonus
	}
	wEvidence := 1.0 + evidenceBonus

	ruleMultiplier := 1.0
	priorityBonus := 0.0

	// Requester bonus: the best-matching rule name applies once. Name
	// variations all resolve to the same person, so they never stack.
	if bonus, ok := s.requesterBonus(a.Requester); ok {
		priorityBonus += bonus
		ruleMultiplier += bonus * 0.25
	}

	textFields := strings.ToLower(a.Title + " " + a.Description + " " + string(a.Type))
	for match, bonus := range s.rule.EntityBonuses.Keyword {
		if match != "" && strings.Contains(textFields, strings.ToLower(match)) {
			priorityBonus += bonus * 0.5
			ruleMultiplier += bonus * 0.25
		}
	}

	actionType := strings.ToLower(string(a.Type))
	for match, bonus := range s.rule.EntityBonuses.Type {
		if match != "" && strings.Contains(actionType, strings.ToLower(match)) {
			priorityBonus += bonus * 0.5
			ruleMultiplier += bonus * 0.25
		}
	}

	if ruleMultiplier < 0.5 {
		ruleMultiplier = 0.5
	} else if ruleMultiplier > 6.0 {
		ruleMultiplier = 6.0
	}

	// A positive bonus raises the floor so rule matches beat plain
	// high-priority candidates regardless of their own priority level
	priorityFloor := 0.0
	if priorityBonus > 0 {
		priorityFloor = w.PriorityHigh + priorityBonus
		if priorityFloor < 3.5 {
			priorityFloor = 3.5
		}
	}

	priorityTerm := wPriority + priorityBonus
	if priorityTerm < priorityFloor {
		priorityTerm = priorityFloor
	}
	if priorityTerm < 0.1 {
		priorityTerm = 0.1
	}

	ccPenalty := 1.0
	switch a.RecipientType {
	case core.RecipientCC:
		ccPenalty = w.RecipientTypeCCPenalty
	case core.RecipientBCC:
		ccPenalty = w.RecipientTypeCCPenalty * 0.9
	}

	return priorityTerm * ruleMultiplier * wDeadline * wEvidence * ccPenalty
}

// requesterBonus returns the largest bonus among rule names matching the
// candidate requester
func (s *ScoreCalculator) requesterBonus(requester string) (float64, bool) {
	if requester == "" {
		return 0, false
	}

	best := 0.0
	found := false
	for match, bonus := range s.rule.EntityBonuses.Requester {
		if match == "" || !rules.MatchName(requester, match) {
			continue
		}
		if !found || bonus > best {
			best = bonus
			found = true
		}
	}
	return best, found
}

// MatchesRequesterRule reports whether the candidate requester matches any
// requester rule name
func (s *ScoreCalculator) MatchesRequesterRule(a core.CandidateAction) bool {
	_, ok := s.requesterBonus(a.Requester)
	return ok
}

// FilterByRequester keeps only candidates matching a requester rule.
// Used by forced mode; the result may legitimately be empty.
func (s *ScoreCalculator) FilterByRequester(candidates []core.CandidateAction) []core.CandidateAction {
	matched := make([]core.CandidateAction, 0, len(candidates))
	for _, c := range candidates {
		if s.MatchesRequesterRule(c) {
			matched = append(matched, c)
		}
	}
	return matched
}

// SelectTopN returns the n highest-scoring candidate IDs. Ties break toward
// the more recently created candidate.
func (s *ScoreCalculator) SelectTopN(candidates []core.CandidateAction, n int) []core.ActionID {
	scored := make([]core.CandidateAction, len(candidates))
	copy(scored, candidates)

	scores := make(map[core.ActionID]float64, len(scored))
	for _, c := range scored {
		scores[c.ID] = s.Score(c)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		si, sj := scores[scored[i].ID], scores[scored[j].ID]
		if si != sj {
			return si > sj
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})

	if n > len(scored) {
		n = len(scored)
	}
	ids := make([]core.ActionID, 0, n)
	for _, c := range scored[:n] {
		ids = append(ids, c.ID)
	}
	return ids
}
