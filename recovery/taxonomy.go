package recovery

import (
	"regexp"
	"strings"

	"github.com/nino-chavez/perfgov/monitoring"
)

// ErrorType is the top-level bucket of the error taxonomy.
type ErrorType string

const (
	PerformanceError ErrorType = "PERFORMANCE_ERROR"
	InteractionError ErrorType = "INTERACTION_ERROR"
	ContentError     ErrorType = "CONTENT_ERROR"
)

// ErrorCode names one entry of the taxonomy.
type ErrorCode string

const (
	CodeFrameRateDrop      ErrorCode = "frame-rate-drop"
	CodeLoadTimeExceeded   ErrorCode = "load-time-exceeded"
	CodeMemoryExceeded     ErrorCode = "memory-exceeded"
	CodeWebVitalsFailure   ErrorCode = "web-vitals-failure"
	CodeScrollCoordination ErrorCode = "scroll-coordination-failure"
	CodeTransitionFailure  ErrorCode = "transition-failure"
	CodeKeyboardNavigation ErrorCode = "keyboard-navigation-failure"
	CodeTouchGesture       ErrorCode = "touch-gesture-failure"
	CodeSectionLoad        ErrorCode = "section-load-failure"
	CodeImageLoad          ErrorCode = "image-load-failure"
	CodeRequestFailure     ErrorCode = "request-failure"
	CodeParseFailure       ErrorCode = "parse-failure"
	CodeUnknown            ErrorCode = "unknown"
)

// Strategy is the recovery action chosen for an error.
type Strategy string

const (
	StrategyRetry    Strategy = "retry"
	StrategyFallback Strategy = "fallback"
	StrategySkip     Strategy = "skip"
	StrategyReload   Strategy = "reload"
)

// Classification is the fixed taxonomy entry an error was matched to.
type Classification struct {
	Type        ErrorType           `json:"type"`
	Code        ErrorCode           `json:"code"`
	Severity    monitoring.Severity `json:"severity"`
	Recoverable bool                `json:"recoverable"`
	Strategy    Strategy            `json:"strategy"`
}

type rule struct {
	Classification
	pattern *regexp.Regexp
}

// Rules are tried in order against the lowercased message. Section load
// comes first so "section load failed" is not taken for a slow load. Codes
// whose strategy is fallback are non-recoverable: they are never retried.
var rules = []rule{
	{Classification{ContentError, CodeSectionLoad, monitoring.SeverityHigh, true, StrategyRetry},
		regexp.MustCompile(`section\b.*\b(load|fail)|fail\w* to load section|chunk`)},
	{Classification{ContentError, CodeParseFailure, monitoring.SeverityHigh, false, StrategyFallback},
		regexp.MustCompile(`pars(e|ing)|json|syntax ?error|unexpected (token|end)`)},
	{Classification{ContentError, CodeImageLoad, monitoring.SeverityLow, true, StrategyRetry},
		regexp.MustCompile(`image|\bimg\b|picture`)},
	{Classification{ContentError, CodeRequestFailure, monitoring.SeverityMedium, true, StrategyRetry},
		regexp.MustCompile(`fetch|network|request|xhr|http|timed? ?out`)},
	{Classification{PerformanceError, CodeMemoryExceeded, monitoring.SeverityHigh, false, StrategyFallback},
		regexp.MustCompile(`memory|heap`)},
	{Classification{PerformanceError, CodeFrameRateDrop, monitoring.SeverityMedium, false, StrategyFallback},
		regexp.MustCompile(`frame ?rate|\bfps\b|jank|dropped frames?|render load`)},
	{Classification{PerformanceError, CodeWebVitalsFailure, monitoring.SeverityLow, true, StrategySkip},
		regexp.MustCompile(`web ?vitals?|\b(lcp|cls|fid|inp|ttfb)\b`)},
	{Classification{PerformanceError, CodeLoadTimeExceeded, monitoring.SeverityLow, true, StrategySkip},
		regexp.MustCompile(`load ?time|slow load|took too long`)},
	{Classification{InteractionError, CodeScrollCoordination, monitoring.SeverityMedium, true, StrategyRetry},
		regexp.MustCompile(`scroll`)},
	{Classification{InteractionError, CodeTransitionFailure, monitoring.SeverityLow, true, StrategyRetry},
		regexp.MustCompile(`transition|animation`)},
	{Classification{InteractionError, CodeKeyboardNavigation, monitoring.SeverityHigh, false, StrategyFallback},
		regexp.MustCompile(`keyboard|focus|\btab\b|key ?nav`)},
	{Classification{InteractionError, CodeTouchGesture, monitoring.SeverityMedium, true, StrategySkip},
		regexp.MustCompile(`touch|gesture|swipe|pinch`)},
}

var byCode = func() map[ErrorCode]Classification {
	m := make(map[ErrorCode]Classification, len(rules))
	for _, r := range rules {
		m[r.Code] = r.Classification
	}
	return m
}()

// Classify matches message against the taxonomy. A non-empty hint restricts
// matching to that bucket. Messages matching nothing are CodeUnknown and
// skipped.
func Classify(message string, hint ErrorType) Classification {
	msg := strings.ToLower(message)
	for _, r := range rules {
		if hint != "" && r.Type != hint {
			continue
		}
		if r.pattern.MatchString(msg) {
			return r.Classification
		}
	}
	typ := hint
	if typ == "" {
		typ = ContentError
	}
	return Classification{
		Type:        typ,
		Code:        CodeUnknown,
		Severity:    monitoring.SeverityLow,
		Recoverable: true,
		Strategy:    StrategySkip,
	}
}

// Lookup returns the taxonomy entry for code.
func Lookup(code ErrorCode) (Classification, bool) {
	c, ok := byCode[code]
	return c, ok
}
