// Package dialogue holds the per-conversation state and the policy that
// advances it one user turn at a time.
package dialogue

import (
	"slices"

	"github.com/Saispecial/avika-backend-api/internal/emotion"
)

// Stage is a discrete phase of the scripted conversation.
type Stage string

const (
	StageGreeting            Stage = "greeting"
	StageInitialQuestion     Stage = "initial_question"
	StageEmotionExploration  Stage = "emotion_exploration"
	StageEmotionFollowUp     Stage = "emotion_followup"
	StageDeeperUnderstanding Stage = "deeper_understanding"
	StageSupportiveResponse  Stage = "supportive_response"
	StageCallToAction        Stage = "call_to_action"
	StageOngoingSupport      Stage = "ongoing_support"

	// StageSafetyIntervention is recorded on crisis turns. It never appears
	// in a ConversationState.
	StageSafetyIntervention Stage = "safety_intervention"
)

// IsValid reports whether s is one of the eight conversation stages.
func (s Stage) IsValid() bool {
	switch s {
	case StageGreeting, StageInitialQuestion, StageEmotionExploration, StageEmotionFollowUp,
		StageDeeperUnderstanding, StageSupportiveResponse, StageCallToAction, StageOngoingSupport:
		return true
	default:
		return false
	}
}

// ActionType names a call-to-action archetype.
type ActionType string

const (
	ActionSelfHelp  ActionType = "selfHelp"
	ActionBreathing ActionType = "breathing"
	ActionTherapy   ActionType = "therapy"
	ActionContent   ActionType = "content"
)

// ActionTypes lists the call-to-action archetypes in rotation order.
var ActionTypes = []ActionType{ActionSelfHelp, ActionBreathing, ActionTherapy, ActionContent}

// IsValid reports whether a is a known archetype. The empty value is not.
func (a ActionType) IsValid() bool {
	return slices.Contains(ActionTypes, a)
}

// ConversationState is the caller-owned state of one conversation. It is
// passed by value into Advance and replaced by the returned value.
type ConversationState struct {
	Stage                 Stage           `json:"stage"`
	ExchangeCount         int             `json:"exchangeCount"`
	EmotionFollowUps      int             `json:"emotionFollowUps"`
	DominantEmotion       emotion.Label   `json:"dominantEmotion"`
	EmotionHistory        []emotion.Label `json:"emotionHistory"`
	CallToActionTriggered bool            `json:"callToActionTriggered"`
	LastActionType        ActionType      `json:"lastActionType,omitempty"`
}

// NewConversationState returns the state of a conversation that has not
// seen any user turn yet.
func NewConversationState() ConversationState {
	return ConversationState{
		Stage:           StageGreeting,
		DominantEmotion: emotion.Neutral,
		EmotionHistory:  []emotion.Label{},
	}
}

// Clone returns a deep copy of s.
func (s ConversationState) Clone() ConversationState {
	c := s
	c.EmotionHistory = slices.Clone(s.EmotionHistory)
	if c.EmotionHistory == nil {
		c.EmotionHistory = []emotion.Label{}
	}
	return c
}

// LastEmotion returns the most recently classified label, or Neutral when
// no turn has been classified.
func (s ConversationState) LastEmotion() emotion.Label {
	if len(s.EmotionHistory) == 0 {
		return emotion.Neutral
	}
	return s.EmotionHistory[len(s.EmotionHistory)-1]
}

// RecentEmotions returns up to the last EmotionWindow labels.
func (s ConversationState) RecentEmotions() []emotion.Label {
	start := max(0, len(s.EmotionHistory)-EmotionWindow)
	return slices.Clone(s.EmotionHistory[start:])
}

// Valid reports whether s satisfies the state invariants. Advance does not
// call it; stores use it to reject corrupt persisted state.
func (s ConversationState) Valid() bool {
	if !s.Stage.IsValid() {
		return false
	}
	if s.ExchangeCount < 0 || s.EmotionFollowUps < 0 || s.EmotionFollowUps > FollowUpCap {
		return false
	}
	if s.Stage == StageCallToAction && !s.CallToActionTriggered {
		return false
	}
	if !emotion.IsValid(s.DominantEmotion) {
		return false
	}
	if s.LastActionType != "" && !s.LastActionType.IsValid() {
		return false
	}
	for _, l := range s.EmotionHistory {
		if !emotion.IsValid(l) {
			return false
		}
	}
	return true
}
