package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/google/uuid"
	"github.com/supabase-community/supabase-go"
)

const (
	// SupabaseMessagesTable is the hosted table transcript rows are written to.
	SupabaseMessagesTable = "messages"

	roleUser      = "user"
	roleAssistant = "assistant"
)

var sessionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("avika:session"))

// supabaseMessageRow is one message in the hosted messages table. Each turn
// produces a user row and an assistant row sharing a turn_id.
type supabaseMessageRow struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	ExternalID       string    `json:"external_session_id"`
	Role             string    `json:"role"`
	EncryptedMessage string    `json:"encrypted_message"`
	EmotionTag       *string   `json:"emotion_tag"`
	RiskFlag         *string   `json:"risk_flag"`
	TurnID           string    `json:"turn_id"`
	Stage            string    `json:"stage"`
	ExchangeCount    int       `json:"exchange_count"`
	ActionType       string    `json:"action_type"`
	CreatedAt        time.Time `json:"created_at"`
}

// SupabaseTranscriptStore implements TranscriptStore on a Supabase project.
// Session IDs that are not UUIDs are mapped to stable name-based UUIDs.
type SupabaseTranscriptStore struct {
	client *supabase.Client
	sealer encryption.Sealer
}

// Compile-time check that SupabaseTranscriptStore implements TranscriptStore.
var _ TranscriptStore = (*SupabaseTranscriptStore)(nil)

// NewSupabaseTranscriptStore creates a client for url using a service key.
func NewSupabaseTranscriptStore(url, serviceKey string, sealer encryption.Sealer) (*SupabaseTranscriptStore, error) {
	if url == "" || serviceKey == "" {
		return nil, fmt.Errorf("%w: supabase URL and service key are required", ErrInvalidConfig)
	}
	client, err := supabase.NewClient(url, serviceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	if sealer == nil {
		sealer = encryption.NopSealer{}
	}
	return &SupabaseTranscriptStore{client: client, sealer: sealer}, nil
}

// SessionUUID returns sessionID if it is a UUID, otherwise a stable UUID
// derived from it.
func SessionUUID(sessionID string) string {
	if id, err := uuid.Parse(sessionID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(sessionNamespace, []byte(sessionID)).String()
}

// AppendTranscript inserts the user and assistant rows of one turn.
func (s *SupabaseTranscriptStore) AppendTranscript(_ context.Context, entry models.TranscriptEntry) error {
	sealed, err := sealEntry(s.sealer, entry)
	if err != nil {
		return err
	}
	turnID := entry.ID
	if turnID == "" {
		turnID = uuid.NewString()
	}
	sessionUUID := SessionUUID(entry.SessionID)
	emotionTag, riskFlag := entry.Emotion, entry.RiskLevel

	base := supabaseMessageRow{
		SessionID:     sessionUUID,
		ExternalID:    entry.SessionID,
		TurnID:        turnID,
		Stage:         entry.Stage,
		ExchangeCount: entry.ExchangeCount,
		ActionType:    entry.ActionType,
		CreatedAt:     entry.CreatedAt.UTC(),
	}
	user := base
	user.ID = uuid.NewString()
	user.Role = roleUser
	user.EncryptedMessage = sealed.UserMessage
	user.EmotionTag = &emotionTag
	user.RiskFlag = &riskFlag

	assistant := base
	assistant.ID = uuid.NewString()
	assistant.Role = roleAssistant
	assistant.EncryptedMessage = sealed.BotResponse

	_, _, err = s.client.From(SupabaseMessagesTable).
		Insert([]supabaseMessageRow{user, assistant}, false, "", "minimal", "").
		Execute()
	if err != nil {
		slog.Error("SupabaseTranscriptStore AppendTranscript failed", "error", err, "sessionID", entry.SessionID)
		return fmt.Errorf("failed to insert supabase messages: %w", err)
	}
	slog.Debug("SupabaseTranscriptStore AppendTranscript succeeded", "sessionID", entry.SessionID, "turnID", turnID)
	return nil
}

// GetTranscript reassembles turns from message rows, oldest first.
func (s *SupabaseTranscriptStore) GetTranscript(_ context.Context, sessionID string, limit int) ([]models.TranscriptEntry, error) {
	var rows []supabaseMessageRow
	_, err := s.client.From(SupabaseMessagesTable).
		Select("*", "", false).
		Eq("session_id", SessionUUID(sessionID)).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get supabase messages: %w", err)
	}

	byTurn := make(map[string]*models.TranscriptEntry)
	var order []string
	for _, row := range rows {
		e, ok := byTurn[row.TurnID]
		if !ok {
			e = &models.TranscriptEntry{
				ID:            row.TurnID,
				SessionID:     sessionID,
				Stage:         row.Stage,
				ExchangeCount: row.ExchangeCount,
				ActionType:    row.ActionType,
				CreatedAt:     row.CreatedAt,
			}
			byTurn[row.TurnID] = e
			order = append(order, row.TurnID)
		}
		switch row.Role {
		case roleUser:
			e.UserMessage = row.EncryptedMessage
			if row.EmotionTag != nil {
				e.Emotion = *row.EmotionTag
			}
			if row.RiskFlag != nil {
				e.RiskLevel = *row.RiskFlag
			}
		case roleAssistant:
			e.BotResponse = row.EncryptedMessage
		}
	}

	entries := make([]models.TranscriptEntry, 0, len(order))
	for _, id := range order {
		e := *byTurn[id]
		if err := openEntry(s.sealer, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ExchangeCount < entries[j].ExchangeCount
	})
	return tail(entries, limit), nil
}
