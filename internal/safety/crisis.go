package safety

import "slices"

// ActionSafety is the action type reported for crisis responses.
const ActionSafety = "safety"

// CrisisResponse is the fixed reply issued instead of the dialogue policy
// when Detect reports RiskHigh.
type CrisisResponse struct {
	Message   string
	Resources []string
}

const crisisMessage = "I'm really concerned about what you've shared. Your life has value, and there are people who want to help. " +
	"Please reach out to someone right now - you don't have to go through this alone."

var crisisResources = []string{
	"IMMEDIATE HELP: If you're in immediate danger, call 911 or go to your nearest emergency room",
	"National Suicide Prevention Lifeline: 988 (available 24/7)",
	"Crisis Text Line: Text HOME to 741741",
	"International Association for Suicide Prevention: https://www.iasp.info/resources/Crisis_Centres/",
	"SAMHSA National Helpline: 1-800-662-4357 (free, confidential, 24/7)",
	"Remember: Avika is not a replacement for professional help. Please contact a person who can be with you right now.",
}

var recommendations = map[RiskLevel][]string{
	RiskHigh: {
		"IMMEDIATE: Call 988 (Suicide & Crisis Lifeline) or 911",
		"Crisis Text Line: Text HOME to 741741",
		"Go to your nearest emergency room if in immediate danger",
		"Reach out to a trusted friend, family member, or counselor",
		"Remember: You matter, and this feeling is temporary",
	},
	RiskMedium: {
		"Consider calling 988 for support and guidance",
		"Talk to a trusted friend, family member, or counselor",
		"Write down your feelings in a journal",
		"Try a grounding exercise: 5 things you see, 4 you hear, 3 you feel",
		"Remember: Seeking help is a sign of strength",
	},
	RiskLow: {
		"Try a 5-minute mindfulness or breathing exercise",
		"Take a gentle walk outside if possible",
		"Write down one small, achievable goal for today",
		"Listen to calming music or sounds",
		"Make yourself a warm drink and take a moment to pause",
	},
}

var helplines = []string{
	"If you're in immediate danger, call your local emergency number",
	"US: 988 Suicide & Crisis Lifeline",
	"UK & ROI: Samaritans 116 123",
}

// Crisis returns the crisis reply. The resource slice is a fresh copy.
func Crisis() CrisisResponse {
	return CrisisResponse{Message: crisisMessage, Resources: slices.Clone(crisisResources)}
}

// Recommendations returns the generic suggestions for a risk tier.
// Unknown tiers get the low-risk list.
func Recommendations(level RiskLevel) []string {
	recs, ok := recommendations[level]
	if !ok {
		recs = recommendations[RiskLow]
	}
	return slices.Clone(recs)
}

// Helplines returns the short helpline list used by standalone safety checks.
func Helplines() []string {
	return slices.Clone(helplines)
}
