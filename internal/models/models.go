// Package models defines the request, response, and transcript types shared
// between the HTTP layer, the turn orchestrator, and the stores.
package models

import (
	"errors"
	"strings"
	"time"
)

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length for a chat message
	MaxMessageLength = 4096
	// MaxSessionIDLength defines the maximum allowed length for a session identifier
	MaxSessionIDLength = 128
	// MaxMessageIDLength defines the maximum allowed length for a client message identifier
	MaxMessageIDLength = 128
	// MaxHistoryEntries caps the client-supplied conversation history
	MaxHistoryEntries = 50
)

// Error variables for better error handling and testability
var (
	ErrEmptySessionID     = errors.New("sessionId is required")
	ErrSessionIDTooLong   = errors.New("sessionId exceeds maximum length")
	ErrEmptyMessage       = errors.New("message is required")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrMessageIDTooLong   = errors.New("messageId exceeds maximum length")
	ErrHistoryTooLong     = errors.New("conversationHistory has too many entries")
	ErrUnsupportedAction  = errors.New("unsupported action")
	ErrMissingWellnessArg = errors.New("message is required for safety-check")
)

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID           string   `json:"sessionId"`
	MessageID           string   `json:"messageId,omitempty"`           // optional client id used for dedup
	Message             string   `json:"message"`                       // raw user text, never logged
	ConversationHistory []string `json:"conversationHistory,omitempty"` // optional recent turns for the responder
}

// Validate checks the request at the API boundary. Empty message text is
// rejected here even though the classifiers accept it.
func (r *ChatRequest) Validate() error {
	if err := ValidateSessionID(r.SessionID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if len(r.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if len(r.MessageID) > MaxMessageIDLength {
		return ErrMessageIDTooLong
	}
	if len(r.ConversationHistory) > MaxHistoryEntries {
		return ErrHistoryTooLong
	}
	return nil
}

// ValidateSessionID checks a session identifier taken from a body or path.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptySessionID
	}
	if len(id) > MaxSessionIDLength {
		return ErrSessionIDTooLong
	}
	return nil
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	Response        string   `json:"response"`
	Emotion         string   `json:"emotion"`   // dominant emotion, or "crisis" on safety turns
	RiskLevel       string   `json:"riskLevel"` // low, medium or high
	Stage           string   `json:"stage"`
	ExchangeCount   int      `json:"exchangeCount"`
	ActionType      string   `json:"actionType"`
	Recommendations []string `json:"recommendations"`
	Replayed        bool     `json:"replayed,omitempty"` // true when a duplicate messageId was answered from the transcript
}

// TranscriptEntry is one persisted turn. UserMessage and BotResponse are
// plaintext here; persistent stores seal them at rest.
type TranscriptEntry struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	UserMessage      string    `json:"userMessage"`
	BotResponse      string    `json:"botResponse"`
	Stage            string    `json:"stage"`
	Emotion          string    `json:"emotion"`
	RiskLevel        string    `json:"riskLevel"`
	ExchangeCount    int       `json:"exchangeCount"`
	EmotionFollowUps int       `json:"emotionFollowUps"`
	ActionType       string    `json:"actionType"`
	Resources        []string  `json:"resources,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// WellnessAction selects the operation of the wellness endpoint.
type WellnessAction string

const (
	WellnessAnalyzeSession          WellnessAction = "analyze-session"
	WellnessGenerateRecommendations WellnessAction = "generate-recommendations"
	WellnessSafetyCheck             WellnessAction = "safety-check"
)

// IsValidWellnessAction checks if the given action is supported.
func IsValidWellnessAction(a WellnessAction) bool {
	switch a {
	case WellnessAnalyzeSession, WellnessGenerateRecommendations, WellnessSafetyCheck:
		return true
	default:
		return false
	}
}

// WellnessRequest is the body of the wellness endpoint. Which fields are
// read depends on the action.
type WellnessRequest struct {
	ConversationHistory []string `json:"conversationHistory,omitempty"`
	Message             string   `json:"message,omitempty"`
	Count               int      `json:"count,omitempty"`
}

// Validate checks the fields required by action.
func (r *WellnessRequest) Validate(action WellnessAction) error {
	if !IsValidWellnessAction(action) {
		return ErrUnsupportedAction
	}
	if action == WellnessSafetyCheck {
		if strings.TrimSpace(r.Message) == "" {
			return ErrMissingWellnessArg
		}
		if len(r.Message) > MaxMessageLength {
			return ErrMessageTooLong
		}
	}
	return nil
}

// SessionAnalysis is the result of the analyze-session action.
type SessionAnalysis struct {
	DominantEmotion string   `json:"dominantEmotion"`
	Insight         string   `json:"insight"`
	Activities      []string `json:"activities"`
}

// SafetyCheckResult is the result of the safety-check action.
type SafetyCheckResult struct {
	RiskLevel        string   `json:"riskLevel"`
	SelfHarmDetected bool     `json:"selfHarmDetected"`
	Message          string   `json:"message"`
	Helplines        []string `json:"helplines"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}
