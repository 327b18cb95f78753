package tasks

import (
	"context"
)

// newIncidentPruneTask forgets closed incidents held in memory. They remain
// readable through the archive.
func newIncidentPruneTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "incident_prune")

	return func(ctx context.Context) error {
		pruned := deps.Incidents.Prune(deps.now(), deps.Config.Engine.ClosedIncidentTTL)
		if pruned > 0 {
			log.InfoContext(ctx, "Pruned closed incidents", "count", pruned, "open", deps.Incidents.OpenCount())
		}
		return nil
	}
}
