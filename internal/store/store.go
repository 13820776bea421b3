// Package store provides the persistence collaborators of the dialogue
// policy: conversation state, the append-only transcript, and inbound
// message deduplication.
//
// InMemoryStore, SQLiteStore and PostgresStore implement the full Store.
// RedisStateStore and SupabaseTranscriptStore implement one concern each and
// are combined with a full store through Composite and MirroredTranscripts.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/Saispecial/avika-backend-api/internal/encryption"
	"github.com/Saispecial/avika-backend-api/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by SaveState when the stored version no
	// longer matches the caller's expected version.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidConfig is returned when a store is constructed without the
	// settings it requires.
	ErrInvalidConfig = errors.New("invalid store configuration")
	// ErrCorruptState is returned when persisted state fails validation.
	ErrCorruptState = errors.New("stored conversation state is corrupt")
)

// StateStore persists ConversationState with optimistic versioning.
type StateStore interface {
	// LoadState returns the stored state and its version, or the initial
	// state and version 0 when the session has none.
	LoadState(ctx context.Context, sessionID string) (dialogue.ConversationState, int64, error)
	// SaveState writes state if the stored version equals expectedVersion and
	// returns the new version. expectedVersion 0 means "create".
	SaveState(ctx context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error)
	// DeleteState removes the session's state. Deleting a missing session is
	// not an error.
	DeleteState(ctx context.Context, sessionID string) error
}

// TranscriptStore is the append-only per-turn record.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error
	// GetTranscript returns the most recent limit entries in chronological
	// order. limit <= 0 returns every entry.
	GetTranscript(ctx context.Context, sessionID string, limit int) ([]models.TranscriptEntry, error)
}

// DedupRepo records inbound client message IDs.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error)
	// IsProcessed reports whether MarkProcessed was called for messageID.
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(ctx context.Context, messageID string) error
}

// Store combines every persistence concern of a turn.
type Store interface {
	StateStore
	TranscriptStore
	DedupRepo
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN    string            // database connection string or file path
	Sealer encryption.Sealer // seals transcript text at rest
}

// Option is a functional option for configuring stores.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSealer sets the transcript sealer. Defaults to encryption.NopSealer.
func WithSealer(s encryption.Sealer) Option {
	return func(o *Opts) {
		o.Sealer = s
	}
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Sealer == nil {
		cfg.Sealer = encryption.NopSealer{}
	}
	return cfg
}

// DSNType names the backend a DSN selects.
type DSNType string

const (
	DSNTypePostgres DSNType = "postgres"
	DSNTypeSQLite   DSNType = "sqlite3"
)

// DetectDSNType returns postgres for URL or key/value Postgres DSNs and
// sqlite3 for anything else, which is treated as a file path.
func DetectDSNType(dsn string) DSNType {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Open returns the SQL store selected by the DSN.
func Open(opts ...Option) (Store, error) {
	cfg := applyOpts(opts)
	if cfg.DSN == "" {
		return nil, ErrInvalidConfig
	}
	if DetectDSNType(cfg.DSN) == DSNTypePostgres {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}
