// Package tasks implements the periodic maintenance jobs of the service.
package tasks

import (
	"log/slog"
	"time"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/database"
	"github.com/edgard/safeline/internal/incident"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger        *slog.Logger
	Store         database.Store
	Conversations conversation.Store
	Incidents     *incident.Coordinator
	Config        *config.Config
	Now           func() time.Time
}

func (d TaskDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
