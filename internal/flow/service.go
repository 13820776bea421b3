// Package flow orchestrates one chat turn: safety screening, the dialogue
// policy, directive selection, and persistence.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/directive"
	"github.com/Saispecial/avika-backend-api/internal/genai"
	"github.com/Saispecial/avika-backend-api/internal/metrics"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/safety"
	"github.com/Saispecial/avika-backend-api/internal/store"
	"github.com/google/uuid"
)

// EmotionCrisis is reported instead of an emotion label on crisis turns.
const EmotionCrisis = "crisis"

// History limits for GET history.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// DefaultMaxAttempts bounds the optimistic load/advance/save loop.
const DefaultMaxAttempts = 3

var (
	// ErrTooManyConflicts is returned when every save attempt lost a race.
	ErrTooManyConflicts = errors.New("conversation state changed concurrently, retry the turn")
	// ErrReplayUnavailable is returned for a processed duplicate whose
	// transcript entry cannot be found.
	ErrReplayUnavailable = errors.New("duplicate message has no recorded reply")
)

// Opts holds optional collaborators of the Service.
type Opts struct {
	Responder   genai.Responder
	MaxAttempts int
	Now         func() time.Time
}

// Option configures a Service.
type Option func(*Opts)

// WithResponder sets the free-text responder. Without one, regular stages
// use the static fallbacks.
func WithResponder(r genai.Responder) Option {
	return func(o *Opts) {
		o.Responder = r
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(o *Opts) {
		o.MaxAttempts = n
	}
}

// WithClock overrides time.Now for transcript timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Service handles turns for every session. It is safe for concurrent use.
type Service struct {
	store       store.Store
	responder   genai.Responder
	maxAttempts int
	now         func() time.Time
	locks       *sessionLocks
}

// NewService creates a Service over st.
func NewService(st store.Store, opts ...Option) *Service {
	cfg := Opts{MaxAttempts: DefaultMaxAttempts, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	slog.Debug("flow.NewService: created", "responder", cfg.Responder != nil, "maxAttempts", cfg.MaxAttempts)
	return &Service{
		store:       st,
		responder:   cfg.Responder,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		locks:       newSessionLocks(),
	}
}

// HandleTurn processes one user message. A high-risk message is answered
// with the crisis directive and leaves the conversation state untouched.
func (s *Service) HandleTurn(ctx context.Context, req models.ChatRequest) (models.TurnResult, error) {
	start := time.Now()
	result, outcome, err := s.handleTurn(ctx, req)
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveTurnDuration(outcome, time.Since(start).Seconds())
	return result, err
}

func (s *Service) handleTurn(ctx context.Context, req models.ChatRequest) (models.TurnResult, string, error) {
	if err := req.Validate(); err != nil {
		return models.TurnResult{}, "", err
	}
	sessionID := req.SessionID

	unlock := s.locks.lock(sessionID)
	defer unlock()

	if req.MessageID != "" {
		replay, ok, err := s.checkDuplicate(ctx, req)
		if err != nil {
			return models.TurnResult{}, "", err
		}
		if ok {
			return replay, "replayed", nil
		}
	}

	screen := safety.Detect(req.Message)
	metrics.RecordRiskLevel(string(screen.RiskLevel))
	if screen.RiskLevel == safety.RiskHigh {
		return s.crisisTurn(ctx, req, screen), "crisis", nil
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		prior, version, err := s.store.LoadState(ctx, sessionID)
		if err != nil {
			slog.Error("flow.HandleTurn: load state failed", "sessionID", sessionID, "error", err)
			return models.TurnResult{}, "", fmt.Errorf("failed to load conversation state: %w", err)
		}

		next, result, entry := s.respond(ctx, req, prior, screen)

		if _, err := s.store.SaveState(ctx, sessionID, next, version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				metrics.RecordVersionConflict()
				slog.Warn("flow.HandleTurn: state version conflict, retrying", "sessionID", sessionID, "attempt", attempt)
				continue
			}
			slog.Error("flow.HandleTurn: save state failed", "sessionID", sessionID, "error", err)
			return models.TurnResult{}, "", fmt.Errorf("failed to save conversation state: %w", err)
		}

		s.record(ctx, req, entry)
		metrics.RecordTurn(result.Stage, result.ActionType)
		slog.Info("flow.HandleTurn: turn processed", "sessionID", sessionID, "stage", result.Stage,
			"emotion", result.Emotion, "riskLevel", result.RiskLevel, "actionType", result.ActionType, "exchangeCount", result.ExchangeCount)
		return result, "ok", nil
	}
	return models.TurnResult{}, "", ErrTooManyConflicts
}

// respond advances prior and selects the reply. The returned state carries
// the chosen call-to-action archetype.
func (s *Service) respond(ctx context.Context, req models.ChatRequest, prior dialogue.ConversationState, screen safety.Result) (dialogue.ConversationState, models.TurnResult, models.TranscriptEntry) {
	next := dialogue.Advance(req.Message, prior)

	var text, actionType string
	var resources []string
	switch next.Stage {
	case dialogue.StageEmotionFollowUp:
		text = directive.FollowUpText(next.DominantEmotion, next.EmotionFollowUps)
		actionType = directive.ActionFollowUp
	case dialogue.StageCallToAction, dialogue.StageOngoingSupport:
		cta := directive.CallToAction(next.DominantEmotion, next.ExchangeCount, next.LastActionType)
		text = cta.Message
		actionType = string(cta.ActionType)
		resources = cta.Resources
		next.LastActionType = cta.ActionType
	default:
		text = s.generate(ctx, req, next)
		actionType = directive.ActionRegular
	}

	recommendations := resources
	if len(recommendations) == 0 {
		recommendations = safety.Recommendations(screen.RiskLevel)
	}

	result := models.TurnResult{
		Response:        text,
		Emotion:         string(next.DominantEmotion),
		RiskLevel:       string(screen.RiskLevel),
		Stage:           string(next.Stage),
		ExchangeCount:   next.ExchangeCount,
		ActionType:      actionType,
		Recommendations: recommendations,
	}
	entry := models.TranscriptEntry{
		ID:               uuid.NewString(),
		SessionID:        req.SessionID,
		UserMessage:      req.Message,
		BotResponse:      text,
		Stage:            string(next.Stage),
		Emotion:          string(next.DominantEmotion),
		RiskLevel:        string(screen.RiskLevel),
		ExchangeCount:    next.ExchangeCount,
		EmotionFollowUps: next.EmotionFollowUps,
		ActionType:       actionType,
		Resources:        resources,
		CreatedAt:        s.now().UTC(),
	}
	return next, result, entry
}

// generate asks the responder for free text and falls back to the stage's
// static reply when there is no responder or it fails.
func (s *Service) generate(ctx context.Context, req models.ChatRequest, state dialogue.ConversationState) string {
	fallback := directive.Fallback(state.Stage, state.DominantEmotion)
	if s.responder == nil {
		metrics.RecordResponderFallback(metrics.FallbackDisabled)
		return fallback
	}
	text, err := s.responder.Respond(ctx, req.Message, state, req.ConversationHistory)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	slog.Warn("flow.HandleTurn: responder failed, using fallback", "sessionID", req.SessionID, "stage", state.Stage, "error", err)
	metrics.RecordResponderFallback(metrics.FallbackError)
	return fallback
}

// crisisTurn answers a high-risk message. A failed state read only costs
// the exchange count in the transcript; the crisis reply is always returned.
func (s *Service) crisisTurn(ctx context.Context, req models.ChatRequest, screen safety.Result) models.TurnResult {
	crisis := safety.Crisis()
	metrics.RecordCrisis()

	prior, _, err := s.store.LoadState(ctx, req.SessionID)
	if err != nil {
		slog.Error("flow.HandleTurn: load state failed on crisis turn", "sessionID", req.SessionID, "error", err)
		prior = dialogue.NewConversationState()
	}
	slog.Warn("flow.HandleTurn: crisis intervention", "sessionID", req.SessionID, "matchedTerms", len(screen.MatchedTerms))

	s.record(ctx, req, models.TranscriptEntry{
		ID:               uuid.NewString(),
		SessionID:        req.SessionID,
		UserMessage:      req.Message,
		BotResponse:      crisis.Message,
		Stage:            string(dialogue.StageSafetyIntervention),
		Emotion:          EmotionCrisis,
		RiskLevel:        string(safety.RiskHigh),
		ExchangeCount:    prior.ExchangeCount,
		EmotionFollowUps: prior.EmotionFollowUps,
		ActionType:       safety.ActionSafety,
		Resources:        crisis.Resources,
		CreatedAt:        s.now().UTC(),
	})
	metrics.RecordTurn(string(dialogue.StageSafetyIntervention), safety.ActionSafety)

	return models.TurnResult{
		Response:        crisis.Message,
		Emotion:         EmotionCrisis,
		RiskLevel:       string(safety.RiskHigh),
		Stage:           string(dialogue.StageSafetyIntervention),
		ExchangeCount:   prior.ExchangeCount,
		ActionType:      safety.ActionSafety,
		Recommendations: crisis.Resources,
	}
}

// record appends the transcript entry and marks the message processed.
// Neither failure fails the turn.
func (s *Service) record(ctx context.Context, req models.ChatRequest, entry models.TranscriptEntry) {
	if err := s.store.AppendTranscript(ctx, entry); err != nil {
		slog.Error("flow.HandleTurn: append transcript failed", "sessionID", req.SessionID, "error", err)
	}
	if req.MessageID == "" {
		return
	}
	if err := s.store.MarkProcessed(ctx, req.MessageID); err != nil {
		slog.Error("flow.HandleTurn: mark processed failed", "sessionID", req.SessionID, "messageID", req.MessageID, "error", err)
	}
}

// checkDuplicate records the message ID. A processed duplicate is answered
// from the last transcript entry. A recorded but unprocessed one is a retry
// of a failed turn and is processed again.
func (s *Service) checkDuplicate(ctx context.Context, req models.ChatRequest) (models.TurnResult, bool, error) {
	isNew, err := s.store.RecordInbound(ctx, req.MessageID, req.SessionID)
	if err != nil {
		return models.TurnResult{}, false, fmt.Errorf("failed to record inbound message: %w", err)
	}
	if isNew {
		return models.TurnResult{}, false, nil
	}
	processed, err := s.store.IsProcessed(ctx, req.MessageID)
	if err != nil {
		return models.TurnResult{}, false, fmt.Errorf("failed to check inbound message: %w", err)
	}
	if !processed {
		slog.Info("flow.HandleTurn: reprocessing unfinished message", "sessionID", req.SessionID, "messageID", req.MessageID)
		return models.TurnResult{}, false, nil
	}

	metrics.RecordDuplicateTurn()
	entries, err := s.store.GetTranscript(ctx, req.SessionID, 1)
	if err != nil {
		return models.TurnResult{}, false, fmt.Errorf("failed to load transcript for replay: %w", err)
	}
	if len(entries) == 0 {
		return models.TurnResult{}, false, ErrReplayUnavailable
	}
	slog.Info("flow.HandleTurn: duplicate message replayed", "sessionID", req.SessionID, "messageID", req.MessageID)
	return replayResult(entries[0]), true, nil
}

func replayResult(e models.TranscriptEntry) models.TurnResult {
	recommendations := e.Resources
	if len(recommendations) == 0 {
		recommendations = safety.Recommendations(safety.ParseRiskLevel(e.RiskLevel))
	}
	return models.TurnResult{
		Response:        e.BotResponse,
		Emotion:         e.Emotion,
		RiskLevel:       e.RiskLevel,
		Stage:           e.Stage,
		ExchangeCount:   e.ExchangeCount,
		ActionType:      e.ActionType,
		Recommendations: recommendations,
		Replayed:        true,
	}
}

// State returns the session's current state and version.
func (s *Service) State(ctx context.Context, sessionID string) (dialogue.ConversationState, int64, error) {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return dialogue.ConversationState{}, 0, err
	}
	return s.store.LoadState(ctx, sessionID)
}

// History returns up to limit transcript entries, oldest first. limit <= 0
// means DefaultHistoryLimit; larger values are capped at MaxHistoryLimit.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]models.TranscriptEntry, error) {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)
	entries, err := s.store.GetTranscript(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	if entries == nil {
		entries = []models.TranscriptEntry{}
	}
	return entries, nil
}

// Reset discards the session's state. The transcript is kept.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := models.ValidateSessionID(sessionID); err != nil {
		return err
	}
	unlock := s.locks.lock(sessionID)
	defer unlock()
	if err := s.store.DeleteState(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	slog.Info("flow.Reset: session state cleared", "sessionID", sessionID)
	return nil
}
