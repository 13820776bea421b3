// This file implements a PostgreSQL-backed store for conversation state,
// transcripts and inbound dedup.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db     *sql.DB
	sealer encryption.Sealer
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("%w: database DSN not set", ErrInvalidConfig)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, sealer: cfg.Sealer}, nil
}

// LoadState returns the stored state or the initial state with version 0.
func (s *PostgresStore) LoadState(ctx context.Context, sessionID string) (dialogue.ConversationState, int64, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json, version FROM conversation_states WHERE session_id = $1`, sessionID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore LoadState not found", "sessionID", sessionID)
		return dialogue.NewConversationState(), 0, nil
	}
	if err != nil {
		slog.Error("PostgresStore LoadState failed", "error", err, "sessionID", sessionID)
		return dialogue.ConversationState{}, 0, fmt.Errorf("failed to load state for %s: %w", sessionID, err)
	}
	state, err := decodeState(raw)
	if err != nil {
		slog.Error("PostgresStore LoadState decode failed", "error", err, "sessionID", sessionID)
		return dialogue.ConversationState{}, 0, err
	}
	return state, version, nil
}

// SaveState writes state guarded by expectedVersion.
func (s *PostgresStore) SaveState(ctx context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error) {
	raw, err := encodeState(state)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO conversation_states (session_id, state_json, version, created_at, updated_at) VALUES ($1, $2, 1, $3, $3)
			 ON CONFLICT (session_id) DO NOTHING`,
			sessionID, raw, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversation_states SET state_json = $1, version = version + 1, updated_at = $2 WHERE session_id = $3 AND version = $4`,
			raw, now, sessionID, expectedVersion)
	}
	if err != nil {
		slog.Error("PostgresStore SaveState failed", "error", err, "sessionID", sessionID)
		return 0, fmt.Errorf("failed to save state for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save state rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore SaveState version conflict", "sessionID", sessionID, "expected", expectedVersion)
		return 0, ErrVersionConflict
	}
	slog.Debug("PostgresStore SaveState succeeded", "sessionID", sessionID, "stage", state.Stage, "version", expectedVersion+1)
	return expectedVersion + 1, nil
}

// DeleteState removes the session's state row.
func (s *PostgresStore) DeleteState(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore DeleteState failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete state for %s: %w", sessionID, err)
	}
	return nil
}

// AppendTranscript stores one turn with its text sealed.
func (s *PostgresStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	sealed, err := sealEntry(s.sealer, entry)
	if err != nil {
		return err
	}
	resources, err := encodeResources(entry.Resources)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts (id, session_id, user_message, bot_response, stage, emotion, risk_level, exchange_count, emotion_follow_ups, action_type, resources_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sealed.ID, sealed.SessionID, sealed.UserMessage, sealed.BotResponse, sealed.Stage, sealed.Emotion,
		sealed.RiskLevel, sealed.ExchangeCount, sealed.EmotionFollowUps, sealed.ActionType, resources, sealed.CreatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore AppendTranscript failed", "error", err, "sessionID", entry.SessionID)
		return fmt.Errorf("failed to append transcript for %s: %w", entry.SessionID, err)
	}
	slog.Debug("PostgresStore AppendTranscript succeeded", "sessionID", entry.SessionID, "stage", entry.Stage)
	return nil
}

// GetTranscript returns the newest limit turns oldest first.
func (s *PostgresStore) GetTranscript(ctx context.Context, sessionID string, limit int) ([]models.TranscriptEntry, error) {
	query := `SELECT id, session_id, user_message, bot_response, stage, emotion, risk_level, exchange_count, emotion_follow_ups, action_type, resources_json, created_at
		FROM transcripts WHERE session_id = $1 ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("PostgresStore GetTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()

	entries, err := scanTranscriptRows(rows, s.sealer)
	if err != nil {
		slog.Error("PostgresStore GetTranscript scan failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	return entries, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
