package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/openai/openai-go"
)

// HistoryWindow is how many client-supplied history entries reach the prompt.
const HistoryWindow = 5

// Responder produces free text for stages without a scripted directive.
type Responder interface {
	Respond(ctx context.Context, message string, state dialogue.ConversationState, recentHistory []string) (string, error)
}

// generator is the part of Client the responder needs.
type generator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// ChatResponder implements Responder on a chat completion client.
type ChatResponder struct {
	gen generator
}

// Compile-time check that ChatResponder implements Responder.
var _ Responder = (*ChatResponder)(nil)

// NewResponder wraps client.
func NewResponder(client *Client) *ChatResponder {
	return &ChatResponder{gen: client}
}

// Respond asks the model for a short supportive reply to message.
func (r *ChatResponder) Respond(ctx context.Context, message string, state dialogue.ConversationState, recentHistory []string) (string, error) {
	return r.gen.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPrompt(state, recentHistory)),
		openai.UserMessage(message),
	})
}

// SystemPrompt describes the persona, the conversation context and the
// response guidelines. Only the last HistoryWindow history entries are used.
func SystemPrompt(state dialogue.ConversationState, recentHistory []string) string {
	var b strings.Builder
	b.WriteString("You are Avika, an empathetic AI assistant focused on emotional wellness and mental health support.\n\n")
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- Current emotion detected: %s\n", state.DominantEmotion)
	fmt.Fprintf(&b, "- Conversation stage: %s\n", state.Stage)
	fmt.Fprintf(&b, "- Exchange count: %d\n", state.ExchangeCount)
	fmt.Fprintf(&b, "- Emotion follow-ups done: %d\n", state.EmotionFollowUps)
	if len(recentHistory) > 0 {
		start := max(0, len(recentHistory)-HistoryWindow)
		fmt.Fprintf(&b, "- Previous conversation: %s\n", strings.Join(recentHistory[start:], " | "))
	}
	b.WriteString(`
Guidelines:
- Be warm, empathetic, and supportive
- Validate the user's feelings
- Ask thoughtful follow-up questions when appropriate
- Provide gentle guidance without being prescriptive
- Keep responses concise but meaningful (2-3 sentences)
- Focus on emotional support and understanding

Respond as Avika with empathy and emotional intelligence.`)
	return b.String()
}
