package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/safeline/internal/bot/tasks"
	"github.com/edgard/safeline/internal/config"
)

// Scheduler manages scheduled tasks using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	cfg       *config.SchedulerConfig
	taskMap   map[string]tasks.ScheduledTaskFunc
	mu        sync.Mutex
	running   bool
	scheduled []string
}

// NewScheduler creates a new scheduler instance using gocron.
func NewScheduler(logger *slog.Logger, cfg *config.SchedulerConfig, taskMap map[string]tasks.ScheduledTaskFunc, opts ...gocron.SchedulerOption) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "scheduler")

	// *slog.Logger satisfies gocron.Logger; later options may override it.
	opts = append([]gocron.SchedulerOption{gocron.WithLogger(log)}, opts...)
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		logger:    log,
		cfg:       cfg,
		taskMap:   taskMap,
	}, nil
}

// jobDefinition picks an interval job when Interval is set and a cron job
// (with seconds field) otherwise.
func jobDefinition(tc config.TaskConfig) (gocron.JobDefinition, string, bool) {
	if tc.Interval > 0 {
		return gocron.DurationJob(tc.Interval), "every " + tc.Interval.String(), true
	}
	if tc.Schedule != "" {
		return gocron.CronJob(tc.Schedule, true), tc.Schedule, true
	}
	return nil, "", false
}

// Start schedules all enabled tasks and starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if s.cfg == nil || len(s.cfg.Tasks) == 0 {
		s.logger.Warn("No scheduler tasks configured.")
		s.scheduler.Start()
		s.running = true
		return nil
	}

	for taskName, taskConfig := range s.cfg.Tasks {
		if !taskConfig.Enabled {
			s.logger.Info("Skipping disabled task", "task_name", taskName)
			continue
		}

		taskFunc, exists := s.taskMap[taskName]
		if !exists {
			s.logger.Warn("Scheduled task configured but not found in registry, skipping", "task_name", taskName)
			continue
		}

		def, schedule, ok := jobDefinition(taskConfig)
		if !ok {
			s.logger.Warn("Scheduled task enabled but has no schedule or interval, skipping", "task_name", taskName)
			continue
		}

		_, err := s.scheduler.NewJob(
			def,
			gocron.NewTask(s.wrap(taskName, taskFunc)),
			gocron.WithName(taskName),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			s.logger.Error("Failed to schedule task", "task_name", taskName, "schedule", schedule, "error", err)
			continue
		}

		s.logger.Info("Scheduled task", "task_name", taskName, "schedule", schedule)
		s.scheduled = append(s.scheduled, taskName)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started", "tasks_scheduled", len(s.scheduled))

	return nil
}

// wrap adds logging around a task run. gocron injects the job context.
func (s *Scheduler) wrap(name string, fn tasks.ScheduledTaskFunc) func(ctx context.Context) {
	return func(ctx context.Context) {
		s.logger.Debug("Running scheduled task", "task_name", name)
		startTime := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error("Scheduled task failed", "task_name", name, "error", err)
		}
		s.logger.Debug("Finished scheduled task", "task_name", name, "duration", time.Since(startTime))
	}
}

// Scheduled returns the names of the tasks that were scheduled by Start.
func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scheduled...)
}

// Stop gracefully stops the scheduler, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running, nothing to stop.")
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}
