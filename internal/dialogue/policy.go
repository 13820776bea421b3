package dialogue

import (
	"github.com/Saispecial/avika-backend-api/internal/emotion"
)

const (
	// MaxFollowUps is the number of emotion follow-ups the policy issues per
	// conversation.
	MaxFollowUps = 2
	// FollowUpCap bounds EmotionFollowUps in any valid state.
	FollowUpCap = 4
	// CallToActionThreshold is the exchange count at which the one-time
	// call to action fires.
	CallToActionThreshold = 8
	// EmotionWindow is how many trailing labels decide the dominant emotion.
	EmotionWindow = 5
)

var progression = map[Stage]Stage{
	StageGreeting:            StageInitialQuestion,
	StageInitialQuestion:     StageEmotionExploration,
	StageEmotionExploration:  StageDeeperUnderstanding,
	StageEmotionFollowUp:     StageEmotionExploration,
	StageDeeperUnderstanding: StageSupportiveResponse,
}

// Advance applies one user turn to prior and returns the next state.
// prior is not modified.
func Advance(text string, prior ConversationState) ConversationState {
	next := prior.Clone()
	next.ExchangeCount++

	label := emotion.Classify(text)
	next.EmotionHistory = append(next.EmotionHistory, label)
	next.DominantEmotion = Dominant(next.EmotionHistory)

	if label != emotion.Neutral && prior.Stage != StageEmotionFollowUp && prior.EmotionFollowUps < MaxFollowUps {
		next.EmotionFollowUps++
		next.Stage = StageEmotionFollowUp
		return next
	}

	if next.ExchangeCount >= CallToActionThreshold && !next.CallToActionTriggered {
		next.Stage = StageCallToAction
		next.CallToActionTriggered = true
		return next
	}

	if next.CallToActionTriggered && next.ExchangeCount > CallToActionThreshold {
		next.Stage = StageOngoingSupport
		return next
	}

	next.Stage = NextStage(prior.Stage)
	return next
}

// NextStage is the linear progression used when no gate fires.
func NextStage(s Stage) Stage {
	if n, ok := progression[s]; ok {
		return n
	}
	return StageSupportiveResponse
}

// Dominant returns the most frequent label among the last EmotionWindow
// entries of history. Ties go to the label that appears first in that
// window. An empty history is Neutral.
func Dominant(history []emotion.Label) emotion.Label {
	start := max(0, len(history)-EmotionWindow)
	window := history[start:]
	if len(window) == 0 {
		return emotion.Neutral
	}

	counts := make(map[emotion.Label]int, len(window))
	order := make([]emotion.Label, 0, len(window))
	for _, l := range window {
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}

	best := order[0]
	for _, l := range order[1:] {
		if counts[l] > counts[best] {
			best = l
		}
	}
	return best
}
