package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "safeline:conversation:"

// RedisStore keeps sessions in Redis so several engine processes can share
// them. Idle eviction is delegated to key expiry: every meaningful write
// refreshes the TTL of both session keys.
type RedisStore struct {
	client          redis.UniversalClient
	maxHistory      int
	idleTTL         time.Duration
	defaultLanguage string
	log             *slog.Logger
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, maxHistory int, idleTTL time.Duration, defaultLanguage string, log *slog.Logger) *RedisStore {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if defaultLanguage == "" {
		defaultLanguage = DefaultLanguage
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		client:          client,
		maxHistory:      maxHistory,
		idleTTL:         idleTTL,
		defaultLanguage: defaultLanguage,
		log:             log.With("component", "conversation_store", "backend", "redis"),
	}
}

func historyKey(userID string) string  { return redisKeyPrefix + userID + ":history" }
func languageKey(userID string) string { return redisKeyPrefix + userID + ":language" }

// History reads the user's turns. Redis errors degrade to an empty history.
func (s *RedisStore) History(ctx context.Context, userID string) []Turn {
	raw, err := s.client.LRange(ctx, historyKey(userID), 0, -1).Result()
	if err != nil {
		s.log.WarnContext(ctx, "Failed to read conversation history", "user_id", userID, "error", err)
		return []Turn{}
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			s.log.WarnContext(ctx, "Skipping malformed history entry", "user_id", userID, "error", err)
			continue
		}
		turns = append(turns, t)
	}
	return turns
}

// Language reads the user's language, falling back to the default.
func (s *RedisStore) Language(ctx context.Context, userID string) string {
	code, err := s.client.Get(ctx, languageKey(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.WarnContext(ctx, "Failed to read session language", "user_id", userID, "error", err)
		}
		return s.defaultLanguage
	}
	if code == "" {
		return s.defaultLanguage
	}
	return code
}

// AddTurn appends both turns, trims and refreshes expiry in one transaction.
func (s *RedisStore) AddTurn(ctx context.Context, userID, userText, assistantText string) {
	userJSON, err := json.Marshal(Turn{Role: RoleUser, Text: userText})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to encode user turn", "user_id", userID, "error", err)
		return
	}
	assistantJSON, err := json.Marshal(Turn{Role: RoleAssistant, Text: assistantText})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to encode assistant turn", "user_id", userID, "error", err)
		return
	}

	hk, lk := historyKey(userID), languageKey(userID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, hk, userJSON, assistantJSON)
		pipe.LTrim(ctx, hk, int64(-s.maxHistory), -1)
		pipe.Expire(ctx, hk, s.idleTTL)
		pipe.SetNX(ctx, lk, s.defaultLanguage, s.idleTTL)
		pipe.Expire(ctx, lk, s.idleTTL)
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to append conversation turn", "user_id", userID, "error", err)
	}
}

// SetLanguage stores the language and refreshes the history expiry.
func (s *RedisStore) SetLanguage(ctx context.Context, userID, code string) {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, languageKey(userID), code, s.idleTTL)
		pipe.Expire(ctx, historyKey(userID), s.idleTTL)
		return nil
	})
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to set session language", "user_id", userID, "error", err)
	}
}

// Clear deletes both session keys.
func (s *RedisStore) Clear(ctx context.Context, userID string) {
	if err := s.client.Del(ctx, historyKey(userID), languageKey(userID)).Err(); err != nil {
		s.log.ErrorContext(ctx, "Failed to clear session", "user_id", userID, "error", err)
	}
}

// Sweep is a no-op: Redis expires idle sessions on its own.
func (s *RedisStore) Sweep(context.Context, time.Time) int {
	return 0
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
