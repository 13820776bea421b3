package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordInbound inserts a new inbound message record. Returns false if the
// message was already recorded (duplicate).
func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO inbound_dedup (message_id, session_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, sessionID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT processed_at FROM inbound_dedup WHERE message_id = $1`, messageID,
	).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return processedAt.Valid, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
