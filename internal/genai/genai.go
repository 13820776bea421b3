// Package genai provides the free-text responder backed by OpenAI chat
// completions.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrNoAPIKey is returned by NewClient when no API key is configured.
	ErrNoAPIKey = errors.New("OpenAI API key not set")
	// ErrNoChoicesReturned is returned when a completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyResponse is returned when the first choice has no content.
	ErrEmptyResponse = errors.New("empty response content")
)

// Client defaults.
const (
	DefaultModel               = openai.ChatModelGPT4oMini
	DefaultTemperature         = 0.7
	DefaultMaxCompletionTokens = 1024
	DefaultTimeout             = 20 * time.Second
	DefaultMaxRetries          = 2
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsService adapts the SDK service to chatService.
type completionsService struct {
	svc *openai.ChatCompletionService
}

func (c completionsService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the OpenAI client.
type Opts struct {
	APIKey              string
	Model               string
	BaseURL             string
	Temperature         float64
	MaxCompletionTokens int64
	Timeout             time.Duration
	MaxRetries          int
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides DefaultModel. Empty keeps the default.
func WithModel(model string) Option {
	return func(o *Opts) {
		if model != "" {
			o.Model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxCompletionTokens caps the completion length.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) { o.MaxCompletionTokens = n }
}

// WithTimeout bounds each request, retries included.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxCompletionTokens int64
	timeout             time.Duration
}

// NewClient builds a Client from options. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:               DefaultModel,
		Temperature:         DefaultTemperature,
		MaxCompletionTokens: DefaultMaxCompletionTokens,
		Timeout:             DefaultTimeout,
		MaxRetries:          DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "baseURLSet", cfg.BaseURL != "")
	return &Client{
		chat:                completionsService{svc: &cli.Chat.Completions},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		timeout:             cfg.Timeout,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// GeneratePromptWithContext generates a response for a system and user prompt.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	})
}

// GenerateWithMessages runs one chat completion over messages and returns the
// trimmed content of the first choice.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Warn("genai.GenerateWithMessages: completion failed", "model", c.model, "elapsed", time.Since(start), "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	slog.Debug("genai.GenerateWithMessages: completion succeeded", "model", c.model, "elapsed", time.Since(start), "length", len(content))
	return content, nil
}
