package store

import (
	"encoding/json"
	"fmt"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/emotion"
	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/models"
)

func encodeState(state dialogue.ConversationState) (string, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	return string(data), nil
}

func decodeState(raw string) (dialogue.ConversationState, error) {
	var state dialogue.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return state, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if state.EmotionHistory == nil {
		state.EmotionHistory = []emotion.Label{}
	}
	if !state.Valid() {
		return state, ErrCorruptState
	}
	return state, nil
}

func encodeResources(resources []string) (string, error) {
	if len(resources) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(resources)
	if err != nil {
		return "", fmt.Errorf("failed to marshal resources: %w", err)
	}
	return string(data), nil
}

func decodeResources(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var resources []string
	if err := json.Unmarshal([]byte(raw), &resources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resources: %w", err)
	}
	if len(resources) == 0 {
		return nil, nil
	}
	return resources, nil
}

// sealEntry returns a copy of entry with its free text sealed.
func sealEntry(s encryption.Sealer, entry models.TranscriptEntry) (models.TranscriptEntry, error) {
	var err error
	if entry.UserMessage, err = s.Seal(entry.UserMessage); err != nil {
		return entry, fmt.Errorf("failed to seal user message: %w", err)
	}
	if entry.BotResponse, err = s.Seal(entry.BotResponse); err != nil {
		return entry, fmt.Errorf("failed to seal bot response: %w", err)
	}
	return entry, nil
}

// openEntry reverses sealEntry in place.
func openEntry(s encryption.Sealer, entry *models.TranscriptEntry) error {
	var err error
	if entry.UserMessage, err = s.Open(entry.UserMessage); err != nil {
		return fmt.Errorf("failed to open user message: %w", err)
	}
	if entry.BotResponse, err = s.Open(entry.BotResponse); err != nil {
		return fmt.Errorf("failed to open bot response: %w", err)
	}
	return nil
}

// tail returns the last limit entries, or all when limit <= 0.
func tail[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[len(items)-limit:]
}

// reverse flips items in place; SQL backends read newest first.
func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}

// encodeOutboxEntry seals entry and marshals it for the outbox payload column.
func encodeOutboxEntry(s encryption.Sealer, entry models.TranscriptEntry) (string, error) {
	sealed, err := sealEntry(s, entry)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	return string(data), nil
}

func decodeOutboxEntry(s encryption.Sealer, raw string) (models.TranscriptEntry, error) {
	var entry models.TranscriptEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return entry, fmt.Errorf("%w: %v", errOutboxPayload, err)
	}
	if err := openEntry(s, &entry); err != nil {
		return entry, err
	}
	return entry, nil
}
