// This file implements an SQLite-backed store for conversation state,
// transcripts and inbound dedup.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db     *sql.DB
	sealer encryption.Sealer
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("%w: database DSN not set", ErrInvalidConfig)
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", withSQLiteParams(dsn))
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, sealer: cfg.Sealer}, nil
}

// LoadState returns the stored state or the initial state with version 0.
func (s *SQLiteStore) LoadState(ctx context.Context, sessionID string) (dialogue.ConversationState, int64, error) {
	var raw string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json, version FROM conversation_states WHERE session_id = ?`, sessionID,
	).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore LoadState not found", "sessionID", sessionID)
		return dialogue.NewConversationState(), 0, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LoadState failed", "error", err, "sessionID", sessionID)
		return dialogue.ConversationState{}, 0, fmt.Errorf("failed to load state for %s: %w", sessionID, err)
	}
	state, err := decodeState(raw)
	if err != nil {
		slog.Error("SQLiteStore LoadState decode failed", "error", err, "sessionID", sessionID)
		return dialogue.ConversationState{}, 0, err
	}
	return state, version, nil
}

// SaveState writes state guarded by expectedVersion.
func (s *SQLiteStore) SaveState(ctx context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error) {
	raw, err := encodeState(state)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO conversation_states (session_id, state_json, version, created_at, updated_at) VALUES (?, ?, 1, ?, ?)`,
			sessionID, raw, now, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE conversation_states SET state_json = ?, version = version + 1, updated_at = ? WHERE session_id = ? AND version = ?`,
			raw, now, sessionID, expectedVersion)
	}
	if err != nil {
		slog.Error("SQLiteStore SaveState failed", "error", err, "sessionID", sessionID)
		return 0, fmt.Errorf("failed to save state for %s: %w", sessionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("save state rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore SaveState version conflict", "sessionID", sessionID, "expected", expectedVersion)
		return 0, ErrVersionConflict
	}
	slog.Debug("SQLiteStore SaveState succeeded", "sessionID", sessionID, "stage", state.Stage, "version", expectedVersion+1)
	return expectedVersion + 1, nil
}

// DeleteState removes the session's state row.
func (s *SQLiteStore) DeleteState(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore DeleteState failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete state for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore DeleteState succeeded", "sessionID", sessionID)
	return nil
}

// AppendTranscript stores one turn with its text sealed.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sealed.ID, sealed.SessionID, sealed.UserMessage, sealed.BotResponse, sealed.Stage, sealed.Emotion,
		sealed.RiskLevel, sealed.ExchangeCount, sealed.EmotionFollowUps, sealed.ActionType, resources, sealed.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore AppendTranscript failed", "error", err, "sessionID", entry.SessionID)
		return fmt.Errorf("failed to append transcript for %s: %w", entry.SessionID, err)
	}
	slog.Debug("SQLiteStore AppendTranscript succeeded", "sessionID", entry.SessionID, "stage", entry.Stage)
	return nil
}

// GetTranscript returns the newest limit turns oldest first.
func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string, limit int) ([]models.TranscriptEntry, error) {
	query := `SELECT id, session_id, user_message, bot_response, stage, emotion, risk_level, exchange_count, emotion_follow_ups, action_type, resources_json, created_at
		FROM transcripts WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore GetTranscript query failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query transcript for %s: %w", sessionID, err)
	}
	defer rows.Close()

	entries, err := scanTranscriptRows(rows, s.sealer)
	if err != nil {
		slog.Error("SQLiteStore GetTranscript scan failed", "error", err, "sessionID", sessionID)
		return nil, err
	}
	slog.Debug("SQLiteStore GetTranscript succeeded", "sessionID", sessionID, "count", len(entries))
	return entries, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// withSQLiteParams adds the busy timeout and WAL journal to dsn.
func withSQLiteParams(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

// scanTranscriptRows reads newest-first rows and returns them oldest first.
func scanTranscriptRows(rows *sql.Rows, sealer encryption.Sealer) ([]models.TranscriptEntry, error) {
	entries := []models.TranscriptEntry{}
	for rows.Next() {
		var e models.TranscriptEntry
		var resources string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.UserMessage, &e.BotResponse, &e.Stage, &e.Emotion,
			&e.RiskLevel, &e.ExchangeCount, &e.EmotionFollowUps, &e.ActionType, &resources, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		var err error
		if e.Resources, err = decodeResources(resources); err != nil {
			return nil, err
		}
		if err := openEntry(sealer, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	reverse(entries)
	return entries, nil
}
