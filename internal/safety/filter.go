package safety

import (
	"fmt"
	"log/slog"
	"strings"
)

// Assessment is the verdict for one piece of content. It is recomputed per
// call and never persisted.
type Assessment struct {
	IsSafe       bool      `json:"is_safe"`
	RiskLevel    RiskLevel `json:"risk_level"`
	Reason       string    `json:"reason"`
	FlaggedTerms []string  `json:"flagged_terms,omitempty"`
	Suggestions  []string  `json:"suggestions,omitempty"`
}

// Score thresholds for the weighted pattern total.
const (
	unsafeScore   = 20
	criticalScore = 30
	mediumScore   = 10

	DefaultAdviceHighThreshold = 3
)

// Filter scores text against the risk taxonomy and the medical-advice
// pattern set. It holds no mutable state, so one instance serves all
// requests concurrently.
type Filter struct {
	rules      *Ruleset
	adviceHigh int
	logger     *slog.Logger
}

func NewFilter(logger *slog.Logger) *Filter {
	return NewFilterWithRules(DefaultRules(), DefaultAdviceHighThreshold, logger)
}

// NewFilterWithRules builds a filter over a caller-supplied rule table.
// adviceHighThreshold is the advice-pattern count at which severity becomes
// high; it is a tuning parameter, not an invariant.
func NewFilterWithRules(rules *Ruleset, adviceHighThreshold int, logger *slog.Logger) *Filter {
	if adviceHighThreshold <= 0 {
		adviceHighThreshold = DefaultAdviceHighThreshold
	}
	return &Filter{rules: rules, adviceHigh: adviceHighThreshold, logger: logger}
}

type adviceSeverity int

const (
	severityNone adviceSeverity = iota
	severityMedium
	severityHigh
)

// CheckContent scores content and returns a verdict. contentType is
// informational ("user_input", "ai_response") and only affects logging.
// Any panic during scoring fails closed to unsafe at HIGH risk: the filter
// sits on a safety-critical path and must never fail open.
func (f *Filter) CheckContent(content, contentType string) (result Assessment) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("safety check panicked, failing closed", "panic", r, "content_type", contentType)
			result = Assessment{
				IsSafe:    false,
				RiskLevel: RiskHigh,
				Reason:    fmt.Sprintf("safety check failed: %v", r),
			}
		}
	}()

	if strings.TrimSpace(content) == "" {
		return Assessment{IsSafe: true, RiskLevel: RiskLow, Reason: "empty content"}
	}

	total := 0
	criticalHits := 0
	var flagged []string

	for _, tier := range f.rules.Tiers {
		for _, pattern := range tier.Patterns {
			matches := pattern.FindAllString(content, -1)
			if len(matches) == 0 {
				continue
			}
			total += len(matches) * tier.Weight
			if tier.Level == RiskCritical {
				criticalHits += len(matches)
			}
			flagged = append(flagged, matches...)
		}
	}

	adviceCount := 0
	for _, pattern := range f.rules.AdvicePatterns {
		adviceCount += len(pattern.FindAllString(content, -1))
	}
	severity := severityNone
	switch {
	case adviceCount >= f.adviceHigh:
		severity = severityHigh
	case adviceCount >= 1:
		severity = severityMedium
	}

	isSafe := total < unsafeScore && severity != severityHigh && criticalHits == 0

	var level RiskLevel
	switch {
	case total >= criticalScore || severity == severityHigh:
		level = RiskCritical
	case total >= unsafeScore || severity == severityMedium:
		level = RiskHigh
	case total >= mediumScore:
		level = RiskMedium
	default:
		level = RiskLow
	}

	result = Assessment{
		IsSafe:       isSafe,
		RiskLevel:    level,
		Reason:       buildReason(total, adviceCount),
		FlaggedTerms: flagged,
		Suggestions:  buildSuggestions(adviceCount, criticalHits),
	}

	f.log(content, contentType, result)
	return result
}

func buildReason(total, adviceCount int) string {
	var reasons []string
	if total > 0 {
		reasons = append(reasons, fmt.Sprintf("content scored %d risk points", total))
	}
	if adviceCount > 0 {
		reasons = append(reasons, fmt.Sprintf("contains %d medical advice patterns", adviceCount))
	}
	if len(reasons) == 0 {
		return "content appears safe and compliant"
	}
	return strings.Join(reasons, "; ")
}

func buildSuggestions(adviceCount, criticalHits int) []string {
	suggestions := []string{
		"Always consult healthcare professionals for medical concerns",
		"Focus on educational information rather than advice",
		"Include appropriate disclaimers",
	}
	if adviceCount > 0 {
		suggestions = append(suggestions,
			"Avoid direct medical recommendations",
			"Use conditional language, e.g. 'may help' instead of 'will help'",
		)
	}
	if criticalHits > 0 {
		suggestions = append(suggestions,
			"Remove or rephrase critical medical terms",
			"Add emergency disclaimers where appropriate",
		)
	}
	return suggestions
}

func (f *Filter) log(content, contentType string, a Assessment) {
	if a.IsSafe {
		f.logger.Debug("safety check passed", "risk_level", a.RiskLevel.String(), "content_type", contentType)
		return
	}

	preview := content
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	f.logger.Warn("safety check failed",
		"risk_level", a.RiskLevel.String(),
		"reason", a.Reason,
		"content_type", contentType,
		"content_preview", preview,
	)
}

// GenerateSafeResponse picks the canned fallback for the user's original
// message when generated content was rejected. No model is invoked, so the
// fallback never needs to be re-checked. Categories are tried in priority
// order: emergency, symptom, treatment, then the generic fallback.
func (f *Filter) GenerateSafeResponse(userMessage string) string {
	lower := strings.ToLower(userMessage)

	switch {
	case containsAny(lower, f.rules.EmergencyKeywords):
		return f.rules.Responses["emergency"]
	case containsAny(lower, f.rules.SymptomKeywords):
		return f.rules.Responses["symptom"]
	case containsAny(lower, f.rules.TreatmentKeywords):
		return f.rules.Responses["treatment"]
	default:
		return f.rules.Responses["general"]
	}
}

// Disclaimer returns the disclaimer for kind, falling back to the general one.
func (f *Filter) Disclaimer(kind string) string {
	if d, ok := f.rules.Disclaimers[kind]; ok {
		return d
	}
	return f.rules.Disclaimers["general"]
}

// Healthy probes the filter with one known-safe and one known-unsafe input.
func (f *Filter) Healthy() bool {
	safe := f.CheckContent("Hello, how are you?", "health_check")
	unsafe := f.CheckContent("You should take this medicine for your symptoms", "health_check")
	return safe.IsSafe && !unsafe.IsSafe
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
