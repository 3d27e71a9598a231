package safety

import "regexp"

// Tier is one row of the risk taxonomy: a severity level, the weight each
// pattern match contributes to the total score, and the patterns themselves.
type Tier struct {
	Level    RiskLevel
	Weight   int
	Patterns []*regexp.Regexp
}

// Ruleset is the full data-driven rule table. The taxonomy is deliberately
// plain pattern matching rather than a learned model, and it is injected into
// the filter so deployments can extend it without code changes.
type Ruleset struct {
	Tiers          []Tier
	AdvicePatterns []*regexp.Regexp

	EmergencyKeywords []string
	SymptomKeywords   []string
	TreatmentKeywords []string

	Responses   map[string]string
	Disclaimers map[string]string
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// DefaultRules returns the built-in healthcare taxonomy.
func DefaultRules() *Ruleset {
	return &Ruleset{
		Tiers: []Tier{
			{
				Level:  RiskCritical,
				Weight: 10,
				Patterns: compileAll(
					`\b(diagnose|diagnosis|diagnosed)\b`,
					`\b(treat|treatment|treating)\b`,
					`\b(prescribe|prescription|medication|medicine)\b`,
					`\b(surgery|surgical|operation)\b`,
					`\b(prognosis|outcome|survival)\b`,
					`\b(emergency|urgent|immediate)\b`,
					`\b(deadly|fatal|lethal)\b`,
					`\b(cancer|cancerous|malignant)\b`,
					`\b(heart attack|stroke|seizure)\b`,
				),
			},
			{
				Level:  RiskHigh,
				Weight: 5,
				Patterns: compileAll(
					`\b(symptom|symptoms)\b`,
					`\b(pain|hurting|ache)\b`,
					`\b(fever|temperature|hot)\b`,
					`\b(bleeding|blood|wound)\b`,
					`\b(nausea|vomiting|dizzy)\b`,
					`\b(breathing|breathless|choking)\b`,
					`\b(chest pain|heart|cardiac)\b`,
					`\b(headache|migraine|pressure)\b`,
				),
			},
			{
				Level:  RiskMedium,
				Weight: 2,
				Patterns: compileAll(
					`\b(pill|drug|drugs)\b`,
					`\b(dose|dosage|amount)\b`,
					`\b(side effect|reaction|allergy)\b`,
					`\b(test|testing|exam)\b`,
					`\b(result|finding|abnormal)\b`,
					`\b(risk|dangerous|harmful)\b`,
				),
			},
			{
				Level:  RiskLow,
				Weight: 1,
				Patterns: compileAll(
					`\b(healthy|wellness|fitness)\b`,
					`\b(nutrition|diet|vitamin)\b`,
					`\b(exercise|workout|activity)\b`,
					`\b(sleep|rest|relaxation)\b`,
					`\b(prevention|prevent|avoid)\b`,
				),
			},
		},
		AdvicePatterns: compileAll(
			`\b(you should|you need to|you must)\b`,
			`\b(i recommend|i suggest|i advise)\b`,
			`\b(take this|use this|try this)\b`,
			`\b(apply|administer|inject)\b`,
			`\b(continue|stop|start)\b`,
			`\b(change|modify|adjust)\b`,
			`\b(combine|mix|add)\b`,
			`\b(avoid|prevent)\b`,
		),

		EmergencyKeywords: []string{
			"emergency", "urgent", "immediate", "severe", "critical",
			"pain", "bleeding", "unconscious", "breathing", "heart",
		},
		SymptomKeywords: []string{
			"symptom", "feeling", "experiencing", "noticing", "having",
		},
		TreatmentKeywords: []string{
			"treat", "cure", "fix", "help", "solution", "remedy",
		},

		Responses: map[string]string{
			"emergency": "I understand you may be experiencing concerning symptoms. " +
				"If you're experiencing a medical emergency, please call emergency services immediately. " +
				"For non-emergency concerns, please consult a healthcare professional " +
				"who can properly assess your situation and provide appropriate guidance.",
			"symptom": "I can provide general information about symptoms, but I cannot diagnose or assess " +
				"your specific situation. If you're concerned about symptoms you're experiencing, " +
				"please consult with a healthcare professional who can properly evaluate your condition " +
				"and provide appropriate medical advice.",
			"treatment": "I can provide educational information about treatments, but I cannot recommend " +
				"specific treatments for your situation. Treatment decisions should be made by " +
				"qualified healthcare professionals based on your individual medical history, " +
				"current condition, and other relevant factors.",
			"general": "I'm here to provide helpful healthcare information and answer your questions. " +
				"However, for any medical concerns, diagnosis, or treatment recommendations, " +
				"please consult with qualified healthcare professionals who can provide " +
				"personalized medical advice based on your specific situation.",
		},
		Disclaimers: map[string]string{
			"general":    "This information is for educational purposes only and should not be considered medical advice.",
			"symptoms":   "If you're experiencing these symptoms, please consult with a healthcare professional immediately.",
			"medication": "Always consult with your doctor or pharmacist before taking any medication.",
			"treatment":  "Treatment decisions should be made by qualified healthcare professionals based on your specific situation.",
			"emergency":  "If you're experiencing a medical emergency, call emergency services immediately.",
		},
	}
}
