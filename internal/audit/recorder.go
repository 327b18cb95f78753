// Package audit moves persistence side effects off the request path. Callers
// enqueue events without blocking; a single worker writes them to the store
// with per-write timeouts and bounded retries.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/database"
	"github.com/edgard/safeline/internal/incident"
)

const (
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 5 * time.Second
	drainTimeout      = 5 * time.Second

	// incidentEnqueueTimeout bounds how long a producer waits for room in the
	// incident lane before the snapshot is dropped.
	incidentEnqueueTimeout = 2 * time.Second
	// incidentAttemptsFactor multiplies max_retries for incident writes.
	incidentAttemptsFactor = 3
)

// Recorder is a bounded, fire-and-forget queue in front of the store.
// Incident writes travel in their own lane: they are served first, wait
// briefly for room instead of being dropped, and get more attempts.
type Recorder struct {
	store        database.Store
	queue        chan Event
	incidents    chan Event
	enqueueWait  time.Duration
	writeTimeout time.Duration
	maxRetries   int
	retryDelay   time.Duration
	log          *slog.Logger

	dropped atomic.Int64
	failed  atomic.Int64
	written atomic.Int64
}

var _ incident.Sink = (*Recorder)(nil)

// NewRecorder creates a Recorder. Events are only written while Run is active.
func NewRecorder(store database.Store, cfg config.AuditConfig, log *slog.Logger) *Recorder {
	// retry-go treats zero attempts as unlimited.
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Recorder{
		store:        store,
		queue:        make(chan Event, cfg.QueueSize),
		incidents:    make(chan Event, cfg.QueueSize),
		enqueueWait:  incidentEnqueueTimeout,
		writeTimeout: cfg.WriteTimeout,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   defaultRetryDelay,
		log:          log.With("component", "audit_recorder"),
	}
}

// Enqueue schedules ev for writing. It reports false when the event was
// dropped. Only incident events may block, for at most incidentEnqueueTimeout.
func (r *Recorder) Enqueue(ctx context.Context, ev Event) bool {
	if ev.Kind == KindIncident {
		return r.enqueueIncident(ctx, ev)
	}
	select {
	case r.queue <- ev:
		return true
	default:
		n := r.dropped.Add(1)
		r.log.WarnContext(ctx, "Audit queue full, dropping event", "kind", ev.Kind, "user_id", ev.UserID, "dropped_total", n)
		return false
	}
}

func (r *Recorder) enqueueIncident(ctx context.Context, ev Event) bool {
	select {
	case r.incidents <- ev:
		return true
	default:
	}

	r.log.WarnContext(ctx, "Incident lane full, waiting for room", "user_id", ev.UserID)
	timer := time.NewTimer(r.enqueueWait)
	defer timer.Stop()
	select {
	case r.incidents <- ev:
		return true
	case <-timer.C:
		n := r.dropped.Add(1)
		r.log.ErrorContext(ctx, "Incident lane still full, dropping incident event", "user_id", ev.UserID, "dropped_total", n)
		return false
	}
}

// IncidentChanged implements incident.Sink.
func (r *Recorder) IncidentChanged(ctx context.Context, inc incident.Incident, change incident.Change) {
	for _, ev := range IncidentEvents(inc, change) {
		r.Enqueue(ctx, ev)
	}
}

// Run writes queued events until ctx is cancelled, then drains what is
// already buffered within a short grace period.
func (r *Recorder) Run(ctx context.Context) error {
	r.log.InfoContext(ctx, "Audit recorder started", "queue_size", cap(r.queue))
	for {
		// Incident snapshots go first so a busy chat lane cannot delay them.
		select {
		case ev := <-r.incidents:
			if ctx.Err() != nil {
				r.drain(ctx, ev)
				return nil
			}
			r.write(ctx, ev)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			r.drain(ctx)
			return nil
		case ev := <-r.incidents:
			if ctx.Err() != nil {
				r.drain(ctx, ev)
				return nil
			}
			r.write(ctx, ev)
		case ev := <-r.queue:
			if ctx.Err() != nil {
				r.drain(ctx, ev)
				return nil
			}
			r.write(ctx, ev)
		}
	}
}

func (r *Recorder) drain(parent context.Context, pending ...Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), drainTimeout)
	defer cancel()

	drained := 0
	for _, ev := range pending {
		r.write(ctx, ev)
		drained++
	}
	for _, lane := range []chan Event{r.incidents, r.queue} {
		drained += r.drainLane(ctx, lane)
	}
	r.log.InfoContext(ctx, "Audit recorder stopped",
		"drained", drained,
		"written_total", r.written.Load(),
		"failed_total", r.failed.Load(),
		"dropped_total", r.dropped.Load())
}

func (r *Recorder) drainLane(ctx context.Context, lane chan Event) int {
	drained := 0
	for {
		select {
		case ev := <-lane:
			if ctx.Err() != nil {
				r.dropped.Add(1)
				continue
			}
			r.write(ctx, ev)
			drained++
		default:
			return drained
		}
	}
}

func (r *Recorder) write(ctx context.Context, ev Event) {
	maxAttempts := r.maxRetries
	if ev.Kind == KindIncident {
		maxAttempts *= incidentAttemptsFactor
	}
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			writeCtx, cancel := context.WithTimeout(ctx, r.writeTimeout)
			defer cancel()
			return ev.apply(writeCtx, r.store)
		},
		retry.Context(ctx),
		retry.Attempts(uint(maxAttempts)), //nolint:gosec // validated positive
		retry.Delay(r.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.log.WarnContext(ctx, "Audit write attempt failed", "kind", ev.Kind, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		r.failed.Add(1)
		r.log.ErrorContext(ctx, "Failed to write audit event",
			"kind", ev.Kind, "user_id", ev.UserID, "attempts", attempts, "error", err)
		return
	}

	r.written.Add(1)
	r.log.DebugContext(ctx, "Audit event written", "kind", ev.Kind, "user_id", ev.UserID, "attempts", attempts)
}

// Stats returns counters of written, failed and dropped events.
func (r *Recorder) Stats() (written, failed, dropped int64) {
	return r.written.Load(), r.failed.Load(), r.dropped.Load()
}
