package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/util"
)

type versionedState struct {
	state   dialogue.ConversationState
	version int64
}

type dedupRecord struct {
	sessionID   string
	receivedAt  time.Time
	processedAt *time.Time
}

// InMemoryStore keeps everything in process memory. Transcript text is not
// sealed. Intended for tests and single-process development.
type InMemoryStore struct {
	mu          sync.RWMutex
	states      map[string]versionedState
	transcripts map[string][]models.TranscriptEntry
	dedup       map[string]dedupRecord
	outbox      []OutboxMessage
}

// Compile-time checks that InMemoryStore implements Store and OutboxRepo.
var (
	_ Store      = (*InMemoryStore)(nil)
	_ OutboxRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:      make(map[string]versionedState),
		transcripts: make(map[string][]models.TranscriptEntry),
		dedup:       make(map[string]dedupRecord),
	}
}

func (s *InMemoryStore) LoadState(_ context.Context, sessionID string) (dialogue.ConversationState, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.states[sessionID]
	if !ok {
		return dialogue.NewConversationState(), 0, nil
	}
	return vs.state.Clone(), vs.version, nil
}

func (s *InMemoryStore) SaveState(_ context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[sessionID]
	if (!ok && expectedVersion != 0) || (ok && current.version != expectedVersion) {
		slog.Debug("InMemoryStore.SaveState: version conflict", "sessionID", sessionID, "expected", expectedVersion, "stored", current.version)
		return 0, ErrVersionConflict
	}
	next := expectedVersion + 1
	s.states[sessionID] = versionedState{state: state.Clone(), version: next}
	return next, nil
}

func (s *InMemoryStore) DeleteState(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}

func (s *InMemoryStore) AppendTranscript(_ context.Context, entry models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Resources = slices.Clone(entry.Resources)
	s.transcripts[entry.SessionID] = append(s.transcripts[entry.SessionID], entry)
	return nil
}

func (s *InMemoryStore) GetTranscript(_ context.Context, sessionID string, limit int) ([]models.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(tail(s.transcripts[sessionID], limit)), nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = dedupRecord{sessionID: sessionID, receivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) IsProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.dedup[messageID]
	return ok && rec.processedAt != nil, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.processedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) EnqueueOutboxMessage(_ context.Context, entry models.TranscriptEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.Entry.ID == entry.ID && (m.Status == OutboxStatusQueued || m.Status == OutboxStatusSending) {
			return m.ID, nil
		}
	}
	now := time.Now()
	entry.Resources = slices.Clone(entry.Resources)
	msg := OutboxMessage{
		ID:        util.GenerateOutboxID(),
		Entry:     entry,
		Status:    OutboxStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.outbox = append(s.outbox, msg)
	return msg.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(_ context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []OutboxMessage
	for i := range s.outbox {
		if limit > 0 && len(claimed) >= limit {
			break
		}
		m := &s.outbox[i]
		if m.Status != OutboxStatusQueued || (m.NextAttemptAt != nil && m.NextAttemptAt.After(now)) {
			continue
		}
		locked := now
		m.Status = OutboxStatusSending
		m.LockedAt = &locked
		m.UpdatedAt = now
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(_ context.Context, id string) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status = OutboxStatusSent
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) FailOutboxMessage(_ context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	return s.updateOutbox(id, func(m *OutboxMessage) {
		m.Status, m.NextAttemptAt = failStatus(nextAttemptAt)
		m.Attempts++
		m.LastError = errMsg
		m.LockedAt = nil
	})
}

func (s *InMemoryStore) RequeueStaleSendingMessages(_ context.Context, staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.outbox {
		m := &s.outbox[i]
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			n++
		}
	}
	return n, nil
}

// OutboxMessages returns a snapshot of every outbox message.
func (s *InMemoryStore) OutboxMessages() []OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.outbox)
}

func (s *InMemoryStore) updateOutbox(id string, fn func(*OutboxMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			fn(&s.outbox[i])
			s.outbox[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// Close is a no-op for InMemoryStore.
func (s *InMemoryStore) Close() error {
	return nil
}
