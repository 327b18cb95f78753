package tasks

import (
	"context"
	"fmt"
	"time"
)

// newSQLMaintenanceTask compacts the database. VACUUM holds the write lock, so
// the run is skipped while any incident is open and its audit trail is live.
func newSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		if deps.Incidents != nil {
			if open := deps.Incidents.OpenCount(); open > 0 {
				log.InfoContext(ctx, "Open incidents present, postponing SQL maintenance", "open_incidents", open)
				return nil
			}
		}

		started := deps.now()
		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "SQL maintenance completed", "duration", deps.now().Sub(started).Round(time.Millisecond))
		return nil
	}
}
