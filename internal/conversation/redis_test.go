package conversation

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/safeline/internal/logger"
)

// TestRedisStore runs against a real server when SAFELINE_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SAFELINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SAFELINE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, 4, time.Minute, "en", logger.Discard())
	require.NoError(t, s.Ping(ctx))

	user := "test-" + uuid.NewString()
	t.Cleanup(func() { s.Clear(ctx, user) })

	assert.Empty(t, s.History(ctx, user))
	assert.Equal(t, "en", s.Language(ctx, user))

	s.AddTurn(ctx, user, "q1", "a1")
	s.AddTurn(ctx, user, "q2", "a2")
	s.AddTurn(ctx, user, "q3", "a3")

	assert.Equal(t, []Turn{
		{Role: RoleUser, Text: "q2"},
		{Role: RoleAssistant, Text: "a2"},
		{Role: RoleUser, Text: "q3"},
		{Role: RoleAssistant, Text: "a3"},
	}, s.History(ctx, user))

	s.SetLanguage(ctx, user, "hi")
	assert.Equal(t, "hi", s.Language(ctx, user))

	ttl, err := client.TTL(ctx, historyKey(user)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	s.Clear(ctx, user)
	assert.Empty(t, s.History(ctx, user))
	assert.Equal(t, 0, s.Sweep(ctx, time.Now()))
}
