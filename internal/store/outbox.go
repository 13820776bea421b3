package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/models"
)

// OutboxStatus represents the lifecycle state of a queued mirror write.
type OutboxStatus string

const (
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusSending OutboxStatus = "sending"
	OutboxStatusSent    OutboxStatus = "sent"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// OutboxMessage is a transcript entry whose mirror write is pending.
type OutboxMessage struct {
	ID            string                 `json:"id"`
	Entry         models.TranscriptEntry `json:"entry"`
	Status        OutboxStatus           `json:"status"`
	Attempts      int                    `json:"attempts"`
	NextAttemptAt *time.Time             `json:"next_attempt_at"`
	LockedAt      *time.Time             `json:"locked_at"`
	LastError     string                 `json:"last_error"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// OutboxRepo persists mirror writes that must be retried.
type OutboxRepo interface {
	// EnqueueOutboxMessage queues entry. An entry whose ID is already queued
	// or sending returns the existing message ID.
	EnqueueOutboxMessage(ctx context.Context, entry models.TranscriptEntry) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully mirrored.
	MarkOutboxMessageSent(ctx context.Context, id string) error

	// FailOutboxMessage records a failure and schedules a retry at
	// nextAttemptAt. A zero nextAttemptAt marks the message failed for good.
	FailOutboxMessage(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued (crash recovery).
	RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error)
}

// OutboxSendFunc performs one mirror write.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// Outbox sender defaults.
const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 8
	defaultStaleThreshold     = 5 * time.Minute
	defaultClaimLimit         = 10
	baseBackoff               = 10 * time.Second
)

// OutboxSender periodically claims due outbox messages and retries them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	now            func() time.Time
}

// NewOutboxSender creates a new OutboxSender.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, maxAttempts int) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxMaxAttempts
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: defaultStaleThreshold,
		claimLimit:     defaultClaimLimit,
		maxAttempts:    maxAttempts,
		now:            time.Now,
	}
}

// MirrorSendFunc retries entries against mirror.
func MirrorSendFunc(mirror TranscriptStore) OutboxSendFunc {
	return func(ctx context.Context, msg OutboxMessage) error {
		return mirror.AppendTranscript(ctx, msg.Entry)
	}
}

// RecoverStaleMessages requeues messages stuck in sending state (crash recovery).
// Should be called once at startup.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	staleBefore := s.now().Add(-s.staleThreshold)
	n, err := s.repo.RequeueStaleSendingMessages(ctx, staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval, "maxAttempts", s.maxAttempts)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll processes one batch of due messages and returns how many were sent.
func (s *OutboxSender) Poll(ctx context.Context) int {
	now := s.now()
	msgs, err := s.repo.ClaimDueOutboxMessages(ctx, now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "sessionID", msg.Entry.SessionID, "attempts", msg.Attempts)
		if err := s.sendFunc(ctx, msg); err != nil {
			var next time.Time
			if msg.Attempts+1 < s.maxAttempts {
				// 10s, 20s, 40s, ...
				next = now.Add(baseBackoff << msg.Attempts)
			}
			slog.Warn("OutboxSender.Poll: send failed", "id", msg.ID, "attempts", msg.Attempts+1, "giveUp", next.IsZero(), "error", err)
			if err := s.repo.FailOutboxMessage(ctx, msg.ID, err.Error(), next); err != nil {
				slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
			}
			continue
		}
		if err := s.repo.MarkOutboxMessageSent(ctx, msg.ID); err != nil {
			slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			continue
		}
		sent++
		slog.Debug("OutboxSender.Poll: message sent", "id", msg.ID, "sessionID", msg.Entry.SessionID)
	}
	return sent
}

// failStatus maps a FailOutboxMessage call onto the stored status.
func failStatus(nextAttemptAt time.Time) (OutboxStatus, *time.Time) {
	if nextAttemptAt.IsZero() {
		return OutboxStatusFailed, nil
	}
	return OutboxStatusQueued, &nextAttemptAt
}

var errOutboxPayload = errors.New("invalid outbox payload")
