package tasks

import (
	"context"
)

// newSessionEvictionTask drops conversations idle for longer than the
// configured TTL.
func newSessionEvictionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "session_eviction")

	return func(ctx context.Context) error {
		evicted := deps.Conversations.Sweep(ctx, deps.now())
		if evicted > 0 {
			log.InfoContext(ctx, "Evicted idle sessions", "count", evicted)
		}
		return nil
	}
}
