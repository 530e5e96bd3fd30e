package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date references are matched most-specific first so "내일 오전 10시" wins
// over the bare "내일".
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(오늘\s*(?:오전|오후)\s*\d{1,2}시(?:\s*\d{1,2}분)?)`),
	regexp.MustCompile(`(내일\s*(?:오전|오후)\s*\d{1,2}시(?:\s*\d{1,2}분)?)`),
	regexp.MustCompile(`(오늘\s*(?:오전|오후)(?:\s*까지)?)`),
	regexp.MustCompile(`(내일\s*(?:오전|오후)(?:\s*까지)?)`),
	regexp.MustCompile(`(\d{1,2}월\s*\d{1,2}일\s*(?:오전|오후)?\s*\d{1,2}시?)`),
	regexp.MustCompile(`(\d{1,2}월\s*\d{1,2}일)`),
	regexp.MustCompile(`(\d{1,2}/\d{1,2})`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`(오늘|내일)`),
	regexp.MustCompile(`(이번 주|다음 주)`),
	regexp.MustCompile(`([가-힣]요일)`),
}

var (
	amPMTimeRe   = regexp.MustCompile(`(오전|오후)\s*(\d{1,2})시(?:\s*(\d{1,2})분)?`)
	simpleTimeRe = regexp.MustCompile(`(\d{1,2})시(?:\s*(\d{1,2})분)?`)
	monthDayRe   = regexp.MustCompile(`^(\d{1,2})월\s*(\d{1,2})일`)
	slashDateRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
)

// Monday-first weekday names, aligned with koreanWeekdayIndex
var koreanWeekdays = []string{"월요일", "화요일", "수요일", "목요일", "금요일", "토요일", "일요일"}

// ExtractDeadline finds the first date reference in text and resolves it
// against the message timestamp. All relative terms ("오늘", "내일",
// weekday names) are anchored to ref, never to wall-clock now.
func ExtractDeadline(text string, ref time.Time) *time.Time {
	for _, pattern := range datePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if deadline := ParseDateString(m[1], ref); deadline != nil {
			return deadline
		}
	}
	return nil
}

// ParseDateString resolves a single date reference against ref.
// Bare day references default to 18:00; "오전까지" means noon,
// "오후까지" means 18:00; an explicit clock time always wins.
func ParseDateString(dateStr string, ref time.Time) *time.Time {
	hour, minute := resolveTime(dateStr)

	// Relative day words
	if strings.Contains(dateStr, "오늘") {
		return timePtr(atClock(ref, hour, minute))
	}
	if strings.Contains(dateStr, "내일") {
		return timePtr(atClock(ref.AddDate(0, 0, 1), hour, minute))
	}

	// "1월 15일"
	if m := monthDayRe.FindStringSubmatch(dateStr); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		return timePtr(time.Date(ref.Year(), time.Month(month), day, hour, minute, 0, 0, ref.Location()))
	}

	// "1/15"
	if m := slashDateRe.FindStringSubmatch(dateStr); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		return timePtr(time.Date(ref.Year(), time.Month(month), day, hour, minute, 0, 0, ref.Location()))
	}

	// "2025-12-20"
	if m := isoDateRe.FindStringSubmatch(dateStr); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return timePtr(time.Date(year, time.Month(month), day, hour, minute, 0, 0, ref.Location()))
	}

	// "이번 주" / "다음 주" resolve to Friday of that week
	if strings.Contains(dateStr, "이번 주") {
		return timePtr(atClock(weekFriday(ref, 0), hour, minute))
	}
	if strings.Contains(dateStr, "다음 주") {
		return timePtr(atClock(weekFriday(ref, 1), hour, minute))
	}

	// Weekday names resolve to the next occurrence. A reference sent on
	// the named weekday rolls a full week ahead.
	for i, weekday := range koreanWeekdays {
		if strings.Contains(dateStr, weekday) {
			daysAhead := (i - mondayIndex(ref)) % 7
			if daysAhead <= 0 {
				daysAhead += 7
			}
			return timePtr(atClock(ref.AddDate(0, 0, daysAhead), hour, minute))
		}
	}

	return nil
}

// resolveTime extracts the clock time from a date reference
func resolveTime(dateStr string) (hour, minute int) {
	hour, minute = 18, 0

	hasClock := strings.Contains(dateStr, "시")

	switch {
	case !hasClock && strings.Contains(dateStr, "오전") && strings.Contains(dateStr, "까지"):
		return 12, 0
	case !hasClock && strings.Contains(dateStr, "오후") && strings.Contains(dateStr, "까지"):
		return 18, 0
	}

	if m := amPMTimeRe.FindStringSubmatch(dateStr); m != nil {
		h, _ := strconv.Atoi(m[2])
		if m[1] == "오후" && h < 12 {
			h += 12
		}
		hour = h
		if m[3] != "" {
			minute, _ = strconv.Atoi(m[3])
		}
		return hour, minute
	}

	if m := simpleTimeRe.FindStringSubmatch(dateStr); m != nil {
		// 24-hour values like "15시" pass through unchanged
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
	}

	return hour, minute
}

// mondayIndex maps a time to a Monday-first weekday index
func mondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// weekFriday returns Friday of the week weeksAhead weeks from ref.
// On a weekend, "this week" clamps to the reference day itself.
func weekFriday(ref time.Time, weeksAhead int) time.Time {
	offset := 4 - mondayIndex(ref) + weeksAhead*7
	if offset < 0 {
		offset = 0
	}
	return ref.AddDate(0, 0, offset)
}

func atClock(t time.Time, hour, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
}

func timePtr(t time.Time) *time.Time {
	return &t
}
