package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Saispecial/avika-backend-api/internal/dialogue"
	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for conversation state
	stateKeyPrefix = "avika:state:"
	// DefaultStateTTL is how long idle conversation state is kept
	DefaultStateTTL = 24 * time.Hour
)

type redisStateRecord struct {
	Version   int64                      `json:"version"`
	State     dialogue.ConversationState `json:"state"`
	UpdatedAt time.Time                  `json:"updatedAt"`
}

// RedisStateStore implements StateStore on Redis with optimistic locking.
// Every write refreshes the key's TTL, so idle conversations expire.
type RedisStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// Compile-time check that RedisStateStore implements StateStore.
var _ StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore wraps an existing client.
func NewRedisStateStore(client *redis.Client, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

// NewRedisStateStoreFromURL parses a redis:// URL, connects and pings.
func NewRedisStateStoreFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisStateStore, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: redis URL not set", ErrInvalidConfig)
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("RedisStateStore connected", "addr", opts.Addr, "ttl", ttl)
	return NewRedisStateStore(client, ttl), nil
}

// LoadState returns the stored state or the initial state with version 0.
func (s *RedisStateStore) LoadState(ctx context.Context, sessionID string) (dialogue.ConversationState, int64, error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return dialogue.NewConversationState(), 0, nil
	}
	if err != nil {
		slog.Error("RedisStateStore LoadState failed", "error", err, "sessionID", sessionID)
		return dialogue.ConversationState{}, 0, fmt.Errorf("failed to load state for %s: %w", sessionID, err)
	}
	rec, err := decodeRedisRecord(val)
	if err != nil {
		slog.Error("RedisStateStore LoadState decode failed", "error", err, "sessionID", sessionID)
		return dialogue.ConversationState{}, 0, err
	}
	return rec.State, rec.Version, nil
}

// SaveState uses WATCH/MULTI/EXEC to compare and bump the version.
func (s *RedisStateStore) SaveState(ctx context.Context, sessionID string, state dialogue.ConversationState, expectedVersion int64) (int64, error) {
	key := s.key(sessionID)
	next := expectedVersion + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return err
		default:
			stored, err := decodeRedisRecord(val)
			if err != nil {
				return err
			}
			if stored.Version != expectedVersion {
				return ErrVersionConflict
			}
		}

		newVal, err := json.Marshal(redisStateRecord{Version: next, State: state, UpdatedAt: time.Now().UTC()})
		if err != nil {
			return fmt.Errorf("failed to marshal conversation state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		err = ErrVersionConflict
	}
	if err != nil {
		if !errors.Is(err, ErrVersionConflict) {
			slog.Error("RedisStateStore SaveState failed", "error", err, "sessionID", sessionID)
		}
		return 0, err
	}
	return next, nil
}

// DeleteState removes the session's key.
func (s *RedisStateStore) DeleteState(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete state for %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStateStore) Close() error {
	return s.client.Close()
}

func (s *RedisStateStore) key(sessionID string) string {
	return stateKeyPrefix + sessionID
}

func decodeRedisRecord(val string) (redisStateRecord, error) {
	var rec redisStateRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if rec.State.EmotionHistory == nil {
		rec.State.EmotionHistory = dialogue.NewConversationState().EmotionHistory
	}
	if !rec.State.Valid() {
		return rec, ErrCorruptState
	}
	return rec, nil
}
