package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/util"
)

// Compile-time check that PostgresStore implements OutboxRepo.
var _ OutboxRepo = (*PostgresStore)(nil)

func (s *PostgresStore) EnqueueOutboxMessage(ctx context.Context, entry models.TranscriptEntry) (string, error) {
	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM mirror_outbox WHERE entry_id = $1 AND status IN ('queued', 'sending')`,
		entry.ID,
	).Scan(&existingID)
	if err == nil {
		slog.Debug("PostgresStore.EnqueueOutboxMessage: dedupe hit", "entryID", entry.ID, "existingID", existingID)
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("outbox dedupe check failed: %w", err)
	}

	payload, err := encodeOutboxEntry(s.sealer, entry)
	if err != nil {
		return "", err
	}
	id := util.GenerateOutboxID()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mirror_outbox (id, entry_id, session_id, payload_json, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6)`,
		id, entry.ID, entry.SessionID, payload, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("PostgresStore.EnqueueOutboxMessage", "id", id, "sessionID", entry.SessionID)
	return id, nil
}

func (s *PostgresStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE mirror_outbox SET status = 'sending', locked_at = $1, updated_at = $1
		 WHERE id IN (
		   SELECT id FROM mirror_outbox WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		   ORDER BY created_at ASC LIMIT $2
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	return scanOutboxMessages(rows, s.sealer)
}

func (s *PostgresStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = 'sent', locked_at = NULL, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailOutboxMessage(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	status, next := failStatus(nextAttemptAt.UTC())
	_, err := s.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = $1, attempts = attempts + 1, last_error = $2, next_attempt_at = $3, locked_at = NULL, updated_at = $4 WHERE id = $5`,
		status, errMsg, next, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = 'queued', locked_at = NULL, updated_at = $1 WHERE status = 'sending' AND locked_at < $2`,
		time.Now().UTC(), staleBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}
