package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/models"
	"github.com/Saispecial/avika-backend-api/internal/util"
)

// Compile-time check that SQLiteStore implements OutboxRepo.
var _ OutboxRepo = (*SQLiteStore)(nil)

const outboxColumns = `id, payload_json, status, attempts, next_attempt_at, locked_at, last_error, created_at, updated_at`

func (s *SQLiteStore) EnqueueOutboxMessage(ctx context.Context, entry models.TranscriptEntry) (string, error) {
	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM mirror_outbox WHERE entry_id = ? AND status IN ('queued', 'sending')`,
		entry.ID,
	).Scan(&existingID)
	if err == nil {
		slog.Debug("SQLiteStore.EnqueueOutboxMessage: dedupe hit", "entryID", entry.ID, "existingID", existingID)
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
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?)`,
		id, entry.ID, entry.SessionID, payload, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("SQLiteStore.EnqueueOutboxMessage", "id", id, "sessionID", entry.SessionID)
	return id, nil
}

func (s *SQLiteStore) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	now = now.UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outboxColumns+`
		 FROM mirror_outbox WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY created_at ASC LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	msgs, err := scanOutboxMessages(rows, s.sealer)
	if err != nil {
		return nil, err
	}

	for i := range msgs {
		_, err := s.db.ExecContext(ctx,
			`UPDATE mirror_outbox SET status = 'sending', locked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, msgs[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		msgs[i].LockedAt = &now
	}
	return msgs, nil
}

func (s *SQLiteStore) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = 'sent', locked_at = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailOutboxMessage(ctx context.Context, id, errMsg string, nextAttemptAt time.Time) error {
	status, next := failStatus(nextAttemptAt.UTC())
	_, err := s.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = ?, attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL, updated_at = ? WHERE id = ?`,
		status, errMsg, next, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE mirror_outbox SET status = 'queued', locked_at = NULL, updated_at = ? WHERE status = 'sending' AND locked_at < ?`,
		time.Now().UTC(), staleBefore.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

// scanOutboxMessages drains rows, opening each payload with the store's sealer.
func scanOutboxMessages(rows *sql.Rows, sealer encryption.Sealer) ([]OutboxMessage, error) {
	defer rows.Close()

	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var payload string
		var lastError sql.NullString
		var nextAttemptAt, lockedAt sql.NullTime
		err := rows.Scan(
			&m.ID, &payload, &m.Status, &m.Attempts,
			&nextAttemptAt, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message failed: %w", err)
		}
		if m.Entry, err = decodeOutboxEntry(sealer, payload); err != nil {
			return nil, fmt.Errorf("outbox message %s: %w", m.ID, err)
		}
		m.LastError = lastError.String
		if nextAttemptAt.Valid {
			m.NextAttemptAt = &nextAttemptAt.Time
		}
		if lockedAt.Valid {
			m.LockedAt = &lockedAt.Time
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim outbox iteration failed: %w", err)
	}
	return msgs, nil
}
