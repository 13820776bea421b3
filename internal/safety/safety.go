// Package safety screens user text for indications of self-harm or
// suicidal intent and grades the risk into three tiers.
package safety

import (
	"strings"

	"github.com/Saispecial/avika-backend-api/internal/emotion"
)

// RiskLevel is the graded outcome of a safety screen.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Result is the outcome of Detect.
type Result struct {
	SelfHarmDetected bool      `json:"selfHarmDetected"`
	MatchedTerms     []string  `json:"matchedTerms"`
	RiskLevel        RiskLevel `json:"riskLevel"`
}

var highRiskTerms = []string{
	"i want to die",
	"i want to kill myself",
	"i'm going to kill myself",
	"want to hurt myself",
	"want to harm myself",
	"going to hurt myself",
	"suicide",
	"end my life",
	"better off dead",
	"no point in living",
	"planning to die",
	"goodbye forever",
	"this is my last",
	"can't go on",
	"ready to die",
	"taking my own life",
	"hurt myself",
	"harm myself",
}

var mediumRiskTerms = []string{
	"self-harm",
	"cutting",
	"self-injury",
	"hate myself",
	"worthless",
	"burden to everyone",
	"everyone would be better without me",
	"can't take it anymore",
	"nothing matters",
	"give up",
	"hopeless",
	"no way out",
	"thoughts of hurting",
	"thoughts of harming",
}

var lowRiskTerms = []string{
	"feeling down",
	"really sad",
	"don't want to be here",
	"tired of everything",
	"what's the point",
	"feeling empty",
	"lost",
	"alone",
	"nobody cares",
	"can't handle this",
}

// Detect scans text for crisis indicators. Any high-tier match yields
// RiskHigh, otherwise a medium-tier match yields RiskMedium, otherwise
// RiskLow. Only the matches of the tier that decided the level are
// reported, and SelfHarmDetected is set whenever anything matched.
func Detect(text string) Result {
	normalized := emotion.Normalize(text)

	if matched := matchTerms(normalized, highRiskTerms); len(matched) > 0 {
		return newResult(matched, RiskHigh)
	}
	if matched := matchTerms(normalized, mediumRiskTerms); len(matched) > 0 {
		return newResult(matched, RiskMedium)
	}
	return newResult(matchTerms(normalized, lowRiskTerms), RiskLow)
}

func newResult(matched []string, level RiskLevel) Result {
	return Result{SelfHarmDetected: len(matched) > 0, MatchedTerms: matched, RiskLevel: level}
}

// ParseRiskLevel converts a stored string back into a RiskLevel.
// Unknown values map to RiskLow.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(s)) {
	case RiskHigh:
		return RiskHigh
	case RiskMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SupportMessage returns the short supportive reply for a risk tier.
func SupportMessage(level RiskLevel) string {
	switch level {
	case RiskHigh:
		return "I'm very concerned about what you've shared. Please reach out for immediate help - call 988 (Suicide & Crisis Lifeline) or go to your nearest emergency room. You don't have to face this alone."
	case RiskMedium:
		return "I can hear that you're really struggling right now. These feelings are serious, and I want you to know that help is available. Have you considered talking to a counselor or calling a support line?"
	default:
		return "It sounds like you're going through a difficult time. Your feelings are valid, and it's okay to not be okay. Would you like to talk about what's been weighing on you?"
	}
}

func matchTerms(normalized string, terms []string) []string {
	matched := []string{}
	for _, term := range terms {
		if strings.Contains(normalized, term) {
			matched = append(matched, term)
		}
	}
	return matched
}
