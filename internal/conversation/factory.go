package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgard/safeline/internal/config"
)

// New builds the store selected by configuration. The redis backend is
// pinged once so a bad address fails startup instead of every request.
func New(ctx context.Context, cfg config.ConversationConfig, defaultLanguage string, log *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(
			WithMaxHistory(cfg.MaxHistory),
			WithIdleTTL(cfg.IdleTTL),
			WithDefaultLanguage(defaultLanguage),
			WithLogger(log),
		), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		store := NewRedisStore(client, cfg.MaxHistory, cfg.IdleTTL, defaultLanguage, log)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown conversation backend %q", cfg.Backend)
	}
}
