package extract

import (
	"regexp"

	"github.com/worklens/worklens/internal/core"
)

// TypePatterns holds the keyword and regex tables for one action type
type TypePatterns struct {
	Keywords []string
	Patterns []*regexp.Regexp
}

// Patterns is the full recognition table set used by the extractor.
// Tests substitute a reduced set; production uses DefaultPatterns.
type Patterns struct {
	// Per-type recognition
	ActionPatterns map[core.ActionType]TypePatterns

	// Priority inference, checked high then medium then low
	PriorityHigh   []string
	PriorityMedium []string
	PriorityLow    []string

	// Request-tone detection
	GenericRequestMarkers []string
	MeetingMarkers        []string
	DeadlineMarkers       []string
	ResponseMarkers       []string

	// Exclusions inside looksLikeRequest
	InfoSharingPhrases      []string
	PastTensePhrases        []string
	ConditionalOfferPhrases []string

	// Whole-message filters
	SimpleAckPatterns    []*regexp.Regexp
	GreetingOnlyPatterns []*regexp.Regexp
	StatusReportPatterns []*regexp.Regexp
	RequestKeywords      []string

	// Past-completion + info-sharing message filter
	PastCompletionPhrases []string
	SharingPhrases        []string
	ConditionalPhrases    []string
	ClearRequestVerbs     []string

	BulletPrefix *regexp.Regexp
}

// DefaultPatterns returns the standard Korean/English recognition tables
func DefaultPatterns() *Patterns {
	return &Patterns{
		ActionPatterns: map[core.ActionType]TypePatterns{
			core.ActionMeeting: {
				Keywords: []string{"미팅", "meeting", "회의", "conference", "화상", "video call"},
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`(\d{1,2}:\d{2}|\d{1,2}시).{0,40}?미팅`),
					regexp.MustCompile(`미팅.{0,40}?(\d{1,2}:\d{2}|\d{1,2}시)`),
					regexp.MustCompile(`(\d{1,2}월\s*\d{1,2}일).{0,40}?회의`),
					regexp.MustCompile(`회의.{0,40}?(\d{1,2}월\s*\d{1,2}일)`),
				},
			},
			core.ActionTask: {
				Keywords: []string{"작업", "task", "업무", "프로젝트", "project", "과제"},
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`작업.{0,30}?요청`),
					regexp.MustCompile(`프로젝트.{0,30}?진행`),
					regexp.MustCompile(`업무.{0,30}?처리`),
				},
			},
			core.ActionDeadline: {
				// Bare date references ("내일까지") set the deadline field
				// only; the deadline TYPE needs explicit submission wording.
				Keywords: []string{"데드라인", "deadline", "기한", "마감", "납기"},
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`(\d{1,2}월\s*\d{1,2}일).{0,30}?까지`),
					regexp.MustCompile(`(\d{1,2}/\d{1,2}).{0,30}?마감`),
					regexp.MustCompile(`([가-힣]요일).{0,30}?제출`),
				},
			},
			core.ActionReview: {
				Keywords: []string{"검토", "review", "확인", "check", "피드백", "feedback", "업데이트"},
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`검토.{0,30}?부탁`),
					regexp.MustCompile(`확인.{0,30}?요청`),
					regexp.MustCompile(`피드백.{0,30}?주세요`),
				},
			},
			core.ActionResponse: {
				Keywords: []string{"답변", "response", "회신", "reply", "응답"},
				Patterns: []*regexp.Regexp{
					regexp.MustCompile(`답변.{0,30}?부탁`),
					regexp.MustCompile(`회신.{0,30}?요청`),
					regexp.MustCompile(`응답.{0,30}?기다립니다`),
				},
			},
		},

		PriorityHigh:   []string{"긴급", "urgent", "asap", "즉시", "바로", "지금"},
		PriorityMedium: []string{"중요", "important", "우선", "빠르게"},
		PriorityLow:    []string{"여유", "편한", "시간"},

		GenericRequestMarkers: []string{
			// Korean request phrasing
			"부탁", "주세요", "주시길", "해주세요", "정리해줘",
			"확인해줘", "확인 부탁", "지원 부탁", "도와줘", "도움", "협조",
			"공유", "전달", "보내", "알려", "말씀", "드립니다", "드려요",
			"필요합니다", "필요해요", "바랍니다", "바래요", "감사하겠습니다",
			"부탁드립니다", "부탁드려요", "요청드립니다", "요청드려요",
			"해주시면", "주시면", "주실", "해주실", "주시기", "해주시기",
			"검토", "리뷰", "피드백", "의견", "코멘트", "승인", "결재",
			"준비", "작성", "수정", "변경", "추가", "삭제", "업데이트",
			// English request phrasing
			"can you", "could you", "please", "pls", "plz",
			"let me know", "share", "update", "send", "provide",
			"check", "review", "follow up", "후속", "feedback",
			"need", "require", "request", "ask", "would you",
			"kindly", "appreciate",
		},
		MeetingMarkers:  []string{"콜", "sync", "standup", "huddle", "회의", "미팅", "meeting", "call", "conference"},
		DeadlineMarkers: []string{"마감", "deadline", "제출", "due", "납기", "기한"},
		ResponseMarkers: []string{"답장", "답변", "회신", "reply", "response", "응답", "피드백"},

		InfoSharingPhrases: []string{
			"공유드립니다", "공유합니다", "안내드립니다", "안내합니다",
			"알려드립니다", "알립니다", "전달드립니다", "전달합니다",
			"보고드립니다", "보고합니다", "말씀드립니다",
			"공유 드립니다", "안내 드립니다", "알려 드립니다",
			"업데이트드립니다", "업데이트 드립니다",
			"for your information", "fyi", "just letting you know",
			"update you", "inform you", "share with you",
			"오늘의 일정", "오늘의 계획", "오늘의 주요", "오늘의 목표",
			"일정을 공유", "계획을 공유", "일정에 따라", "계획에 따라",
			"다음과 같이 진행", "아래와 같이 진행", "다음과 같이 업무",
			"현재 집중 작업", "현재 작업", "진행 상황 공유",
			"작업 계획", "업무 계획", "일정 정리", "계획 정리",
		},
		PastTensePhrases: []string{
			"했습니다", "했어요", "했네요", "했음", "했다",
			"완료했", "진행했", "처리했", "확인했", "검토했",
			"보냈습니다", "전달했", "공유했", "작성했",
			"completed", "finished", "done", "sent", "shared",
		},
		ConditionalOfferPhrases: []string{
			"필요하시면", "필요하면", "원하시면", "원하면",
			"궁금하시면", "궁금하면", "관심있으시면",
			"언제든", "언제든지", "편하실 때", "시간되실 때",
			"if you need", "if needed", "if you want", "anytime", "whenever",
		},

		SimpleAckPatterns: compileAll(
			`(?s)^.*안녕하세요.*확인했습니다\.?$`,
			`(?s)^.*안녕하세요.*알겠습니다\.?$`,
			`(?s)^.*확인했습니다\.?$`,
			`(?s)^.*알겠습니다\.?$`,
			`(?s)^.*네,?\s*감사합니다\.?$`,
			`(?s)^.*네,?\s*알겠습니다\.?$`,
			`(?s)^.*감사합니다\.?$`,
			`(?s)^.*고맙습니다\.?$`,
			`(?s)^.*수고하세요\.?$`,
			`(?s)^.*작업 중입니다\.?$`,
			`(?s)^.*진행 중입니다\.?$`,
			`(?s)^.*확인했어요\.?$`,
			`(?s)^.*알았어요\.?$`,
			`(?s)^.*처리하겠습니다\.?$`,
			`(?s)^.*진행하겠습니다\.?$`,
			`(?is)^.*ok\.?$`,
			`(?is)^.*okay\.?$`,
			`(?is)^.*got it\.?$`,
			`(?is)^.*understood\.?$`,
			`(?is)^.*thanks\.?$`,
			`(?is)^.*thank you\.?$`,
		),
		GreetingOnlyPatterns: compileAll(
			`^안녕하세요[,.]?\s*$`,
			`^안녕하세요[,.]?\s+[가-힣]+입니다[.]?\s*$`,
			`(?i)^hi[,.]?\s*$`,
			`(?i)^hello[,.]?\s*$`,
			`(?i)^good morning[,.]?\s*$`,
			`(?i)^good afternoon[,.]?\s*$`,
		),
		StatusReportPatterns: compileAll(
			`(?s)^.*오늘의?\s*(작업|업무)\s*보고\s*드립니다\.?$`,
			`(?s)^.*진행\s*상황\s*공유\s*드립니다\.?$`,
			`(?s)^.*작업\s*완료\s*보고\s*드립니다\.?$`,
		),
		RequestKeywords: []string{
			"부탁", "요청", "주세요", "해주", "필요", "바랍니다", "검토", "확인", "피드백", "의견",
		},

		PastCompletionPhrases: []string{
			"논의한", "진행한", "완료한", "정리한", "검토한", "확인한",
			"작업한", "리뷰한", "분석한", "공유한", "전달한",
			"정리하였습니다", "완료하였습니다", "진행하였습니다",
			"완료되었습니다", "마무리했습니다", "문서화하여",
		},
		SharingPhrases: []string{
			"공유드립니다", "알려드립니다", "보고드립니다", "안내드립니다",
			"전달드립니다", "공유합니다", "알립니다",
			"제출합니다", "보내겠습니다", "공유해 주시면",
		},
		ConditionalPhrases: []string{
			"필요한 경우", "필요하시면", "궁금하시면", "원하시면",
		},
		ClearRequestVerbs: []string{
			"제출해", "완료해", "검토해", "확인해", "승인해", "참석해",
			"준비해", "작성해", "수정해", "업데이트해", "공유해주", "알려주",
			"부탁드립니다", "부탁합니다", "바랍니다",
		},

		BulletPrefix: regexp.MustCompile(`^[-*•·\d)(]+\s*`),
	}
}

func compileAll(exprs ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		compiled = append(compiled, regexp.MustCompile(expr))
	}
	return compiled
}
