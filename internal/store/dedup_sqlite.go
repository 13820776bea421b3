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
func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO inbound_dedup (message_id, session_id, received_at) VALUES (?, ?, ?)`,
		messageID, sessionID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var processedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT processed_at FROM inbound_dedup WHERE message_id = ?`, messageID,
	).Scan(&processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return processedAt.Valid, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now().UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
