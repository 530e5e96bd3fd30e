package rules

import (
	"strings"
)

// Honorific suffixes stripped from Korean names. Ordered longest first so
// "선생님" is removed before the bare "님" could match.
var nameSuffixes = []string{"선생님", "팀장", "부장", "님", "씨"}

// Subject/object particles that attach to names in natural instructions
var nameParticles = []string{
	"께서", "에서", "에게서", "에게", "으로", "로서", "로써", "로",
	"와", "과", "은", "는", "이라서", "라서", "이라도", "라도",
	"이며", "이", "가", "을", "를", "도", "만", "부터", "까지", "밖에",
}

// NormalizeKoreanName strips one honorific suffix and any trailing
// particles from a name. "김철수님" and "김철수는" both normalize to "김철수".
func NormalizeKoreanName(name string) string {
	name = strings.TrimSpace(name)

	for _, suffix := range nameSuffixes {
		if strings.HasSuffix(name, suffix) && len([]rune(name)) > len([]rune(suffix)) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}

	// Particles can stack ("철수가는" never happens, but "철수는" does),
	// so keep stripping while the remainder is still a plausible name.
	stripped := true
	for stripped && len([]rune(name)) > 2 {
		stripped = false
		for _, particle := range nameParticles {
			if strings.HasSuffix(name, particle) && len([]rune(name)) > len([]rune(particle)) {
				name = strings.TrimSuffix(name, particle)
				stripped = true
				break
			}
		}
	}

	return strings.TrimSpace(name)
}

// GenerateNameVariations returns the forms a rule name should match under:
// the raw name, the normalized base, and the base with each honorific.
func GenerateNameVariations(name string) []string {
	base := NormalizeKoreanName(name)

	variations := []string{name}
	if base != name {
		variations = append(variations, base)
	}
	for _, suffix := range nameSuffixes {
		candidate := base + suffix
		if candidate != name {
			variations = append(variations, candidate)
		}
	}
	return variations
}

// NormalizeMatchName canonicalizes a requester string for comparison:
// lowercased, email domain dropped, whitespace removed, and anything
// outside [a-z0-9가-힣] discarded.
func NormalizeMatchName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	if at := strings.Index(s, "@"); at >= 0 {
		s = s[:at]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= '가' && r <= '힣':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MatchName reports whether a requester matches a rule name. Beyond exact
// equality of the normalized forms, a short rule name matches a requester
// that merely appends a particle or honorific (at most two extra runes).
func MatchName(requester, ruleName string) bool {
	normReq := NormalizeMatchName(requester)
	normRule := NormalizeMatchName(ruleName)

	if normReq == "" || normRule == "" {
		return false
	}
	if normReq == normRule {
		return true
	}

	ruleRunes := len([]rune(normRule))
	reqRunes := len([]rune(normReq))
	return ruleRunes >= 2 && strings.Contains(normReq, normRule) && reqRunes-ruleRunes <= 2
}
