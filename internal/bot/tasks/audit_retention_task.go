package tasks

import (
	"context"
	"fmt"
)

// newAuditRetentionTask deletes audit events older than the retention
// window. A zero retention keeps everything.
func newAuditRetentionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "audit_retention")

	return func(ctx context.Context) error {
		retention := deps.Config.Audit.Retention
		if retention <= 0 {
			log.DebugContext(ctx, "Audit retention disabled")
			return nil
		}

		cutoff := deps.now().Add(-retention)
		deleted, err := deps.Store.DeleteAuditLogsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("audit retention failed: %w", err)
		}

		log.InfoContext(ctx, "Expired audit events deleted", "count", deleted, "cutoff", cutoff)
		return nil
	}
}
