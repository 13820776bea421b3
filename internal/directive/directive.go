// Package directive turns a resolved stage and emotion into the outgoing
// message. All generators are pure lookups over the embedded content tables.
package directive

import (
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/emotion"
)

// Action types reported for non call-to-action turns.
const (
	ActionFollowUp = "followup"
	ActionRegular  = "regular"
)

// CallToActionDirective is the bundle returned by CallToAction.
type CallToActionDirective struct {
	Message    string              `json:"message"`
	ActionType dialogue.ActionType `json:"actionType"`
	Resources  []string            `json:"resources"`
}

// FollowUpText returns the follow-up question for e. followUpIndex is the
// 1-based follow-up count; out-of-range values are clamped. Emotions without
// a dedicated list use the generic questions.
func FollowUpText(e emotion.Label, followUpIndex int) string {
	questions, ok := content.FollowUps[string(e)]
	if !ok || e == emotion.Neutral {
		questions = content.FollowUps[genericKey]
	}
	idx := min(max(followUpIndex-1, 0), len(questions)-1)
	return questions[idx]
}

// CallToAction picks the next call-to-action archetype in round-robin order
// keyed by exchangeCount, never repeating lastActionType. Emotions without a
// dedicated table use the anxiety table.
func CallToAction(e emotion.Label, exchangeCount int, lastActionType dialogue.ActionType) CallToActionDirective {
	table, ok := content.CallToAction[string(e)]
	if !ok {
		table = content.CallToAction[string(emotion.Anxiety)]
	}

	candidates := make([]dialogue.ActionType, 0, len(dialogue.ActionTypes))
	for _, at := range dialogue.ActionTypes {
		if at != lastActionType {
			candidates = append(candidates, at)
		}
	}

	chosen := candidates[mod(exchangeCount, len(candidates))]
	action := table[chosen]
	return CallToActionDirective{
		Message:    action.Message,
		ActionType: chosen,
		Resources:  slices.Clone(action.Resources),
	}
}

// Fallback returns the static reply for stage, used when the free-text
// responder is unavailable or fails.
func Fallback(stage dialogue.Stage, dominant emotion.Label) string {
	text, ok := content.Fallbacks[string(stage)]
	if !ok {
		text = content.Fallbacks[defaultKey]
	}
	return strings.ReplaceAll(text, "{{emotion}}", string(dominant))
}

// Insight returns a one-line observation about a dominant emotion.
func Insight(e emotion.Label) string {
	if text, ok := content.Insights[string(e)]; ok {
		return text
	}
	return content.Insights[defaultKey]
}

// SessionActivities returns the fixed activity list offered after a
// session analysis.
func SessionActivities() []string {
	return slices.Clone(content.SessionActivities)
}

// PickActivities returns n distinct activities chosen with r. n is clamped
// to the number of available activities.
func PickActivities(r *rand.Rand, n int) []string {
	pool := slices.Clone(content.Activities)
	r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:min(max(n, 0), len(pool))]
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
