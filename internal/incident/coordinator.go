package incident

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const lockShards = 64

// Sink receives a snapshot after every state change. Implementations must not
// block: they are called while the user's lock is held.
type Sink interface {
	IncidentChanged(ctx context.Context, inc Incident, change Change)
}

// Archive is the persistent side of incidents, used to rehydrate open
// incidents at startup and to answer lookups for incidents no longer in memory.
type Archive interface {
	LoadOpenIncidents(ctx context.Context) ([]Incident, error)
	LoadIncident(ctx context.Context, id string) (*Incident, error)
}

// Coordinator is the in-process owner of incident state.
//
// Operations for the same user are serialized by a lock chosen from a fixed
// set of shards by hashing the user id, so unrelated users rarely contend.
// The maps themselves are guarded by mu, which is only held for map access.
type Coordinator struct {
	userLocks [lockShards]sync.Mutex

	mu        sync.RWMutex
	incidents map[string]*Incident // by incident id
	open      map[string]string    // user id -> open incident id

	sink    Sink
	archive Archive
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSink publishes snapshots of every change to s.
func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithArchive sets the persistent archive used by Restore and Get.
func WithArchive(a Archive) Option {
	return func(c *Coordinator) { c.archive = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithIDGenerator overrides the random UUID generator.
func WithIDGenerator(f func() string) Option {
	return func(c *Coordinator) { c.newID = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// NewCoordinator creates an empty Coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		incidents: make(map[string]*Incident),
		open:      make(map[string]string),
		now:       time.Now,
		newID:     uuid.NewString,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "incident_coordinator")
	return c
}

func (c *Coordinator) lockUser(userID string) func() {
	m := &c.userLocks[xxhash.Sum64String(userID)%lockShards]
	m.Lock()
	return m.Unlock
}

func (c *Coordinator) publish(ctx context.Context, inc *Incident, change Change) {
	if c.sink != nil {
		c.sink.IncidentChanged(ctx, inc.clone(), change)
	}
}

// Trigger opens an incident for userID. If the user already has an open
// incident it is returned unchanged with reused set to true.
func (c *Coordinator) Trigger(ctx context.Context, userID string, req TriggerRequest) (inc Incident, reused bool, err error) {
	if strings.TrimSpace(userID) == "" {
		return Incident{}, false, fmt.Errorf("%w: empty user id", ErrInvalidTrigger)
	}
	if _, err := ParseTriggerType(string(req.TriggerType)); err != nil {
		return Incident{}, false, err
	}
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return Incident{}, false, err
		}
	}

	unlock := c.lockUser(userID)
	defer unlock()

	c.mu.RLock()
	existing, ok := c.openIncidentLocked(userID)
	c.mu.RUnlock()
	if ok {
		c.log.InfoContext(ctx, "Open incident already exists, returning it",
			"user_id", userID, "incident_id", existing.ID, "requested_trigger", req.TriggerType)
		return existing.clone(), true, nil
	}

	now := c.now().UTC()
	created := &Incident{
		ID:            c.newID(),
		UserID:        userID,
		Status:        req.TriggerType.initialStatus(),
		TriggerType:   req.TriggerType,
		EmergencyType: req.EmergencyType,
		RiskScore:     req.RiskScore,
		PanicMode:     req.PanicMode,
		Description:   req.Description,
		AutoMessage:   req.AutoMessage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if created.EmergencyType == "" {
		created.EmergencyType = "other"
	}
	if req.Location != nil {
		loc := *req.Location
		if loc.Timestamp.IsZero() {
			loc.Timestamp = now
		}
		created.Location = &loc
	}

	c.mu.Lock()
	c.incidents[created.ID] = created
	c.open[userID] = created.ID
	c.mu.Unlock()

	c.log.InfoContext(ctx, "Incident opened",
		"user_id", userID,
		"incident_id", created.ID,
		"trigger_type", created.TriggerType,
		"status", created.Status,
		"risk_score", created.RiskScore,
		"panic_mode", created.PanicMode)
	c.publish(ctx, created, ChangeCreated)
	if created.Location != nil {
		c.publish(ctx, created, ChangeLocation)
	}
	return created.clone(), false, nil
}

// openIncidentLocked returns the user's open incident. c.mu must be held.
func (c *Coordinator) openIncidentLocked(userID string) (*Incident, bool) {
	id, ok := c.open[userID]
	if !ok {
		return nil, false
	}
	inc, ok := c.incidents[id]
	if !ok || !inc.Open() {
		return nil, false
	}
	return inc, true
}

// mutate runs fn on the incident under its user's lock.
func (c *Coordinator) mutate(ctx context.Context, incidentID string, fn func(inc *Incident) ([]Change, error)) (Incident, error) {
	c.mu.RLock()
	inc, ok := c.incidents[incidentID]
	var userID string
	if ok {
		userID = inc.UserID
	}
	c.mu.RUnlock()
	if !ok {
		return c.mutateArchived(ctx, incidentID, fn)
	}

	unlock := c.lockUser(userID)
	defer unlock()

	c.mu.Lock()
	changes, err := fn(inc)
	if err == nil && len(changes) > 0 {
		inc.UpdatedAt = c.now().UTC()
		if !inc.Open() && c.open[inc.UserID] == inc.ID {
			delete(c.open, inc.UserID)
		}
	}
	snapshot := inc.clone()
	c.mu.Unlock()

	if err != nil {
		return snapshot, err
	}
	for _, change := range changes {
		c.publish(ctx, &snapshot, change)
	}
	return snapshot, nil
}

// mutateArchived reports the transition error for an incident that is only
// known to the archive. Open incidents are always held in memory, so such an
// incident is terminal and fn is expected to refuse it.
func (c *Coordinator) mutateArchived(ctx context.Context, incidentID string, fn func(inc *Incident) ([]Change, error)) (Incident, error) {
	if c.archive == nil {
		return Incident{}, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
	}
	archived, err := c.archive.LoadIncident(ctx, incidentID)
	if err != nil {
		return Incident{}, fmt.Errorf("failed to load incident %s: %w", incidentID, err)
	}
	if archived == nil {
		return Incident{}, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
	}
	snapshot := archived.clone()
	if archived.Open() {
		return snapshot, fmt.Errorf("%w: %s is not tracked by this process", ErrInvalidState, incidentID)
	}
	if _, err := fn(archived); err != nil {
		return snapshot, err
	}
	return snapshot, fmt.Errorf("%w: %s is %s", ErrInvalidState, incidentID, archived.Status)
}

// UpdateLocation overwrites the location of an open incident. The first
// update of a triggered incident moves it to active.
func (c *Coordinator) UpdateLocation(ctx context.Context, incidentID string, loc Location) (Incident, error) {
	if err := loc.Validate(); err != nil {
		return Incident{}, err
	}
	if loc.Timestamp.IsZero() {
		loc.Timestamp = c.now().UTC()
	}

	inc, err := c.mutate(ctx, incidentID, func(inc *Incident) ([]Change, error) {
		if !inc.Open() {
			return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, inc.ID, inc.Status)
		}
		l := loc
		inc.Location = &l
		if inc.Status == StatusTriggered {
			inc.Status = StatusActive
			return []Change{ChangeLocation, ChangeActivated}, nil
		}
		return []Change{ChangeLocation}, nil
	})
	if err != nil {
		return inc, err
	}

	c.log.DebugContext(ctx, "Incident location updated", "incident_id", inc.ID, "status", inc.Status)
	return inc, nil
}

// Activate moves a triggered incident to active. Activating an already
// active incident is a no-op.
func (c *Coordinator) Activate(ctx context.Context, incidentID string) (Incident, error) {
	return c.mutate(ctx, incidentID, func(inc *Incident) ([]Change, error) {
		switch inc.Status {
		case StatusTriggered:
			inc.Status = StatusActive
			return []Change{ChangeActivated}, nil
		case StatusActive:
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, inc.ID, inc.Status)
	})
}

// Resolve moves an open incident to the terminal status action. It succeeds
// exactly once per incident.
func (c *Coordinator) Resolve(ctx context.Context, incidentID string, action Status) (Incident, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return Incident{}, err
	}

	inc, err := c.mutate(ctx, incidentID, func(inc *Incident) ([]Change, error) {
		if !inc.Open() {
			return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, inc.ID, inc.Status)
		}
		now := c.now().UTC()
		inc.Status = action
		inc.ResolvedAt = &now
		return []Change{ChangeResolved}, nil
	})
	if err != nil {
		return inc, err
	}

	c.log.InfoContext(ctx, "Incident resolved", "incident_id", inc.ID, "user_id", inc.UserID, "status", inc.Status)
	return inc, nil
}

// GetActive returns the user's open incident, if any.
func (c *Coordinator) GetActive(userID string) (Incident, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inc, ok := c.openIncidentLocked(userID)
	if !ok {
		return Incident{}, false
	}
	return inc.clone(), true
}

// Get returns an incident by id, consulting the archive for incidents that
// are no longer held in memory.
func (c *Coordinator) Get(ctx context.Context, incidentID string) (Incident, error) {
	c.mu.RLock()
	inc, ok := c.incidents[incidentID]
	var snapshot Incident
	if ok {
		snapshot = inc.clone()
	}
	c.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	if c.archive != nil {
		archived, err := c.archive.LoadIncident(ctx, incidentID)
		if err != nil {
			return Incident{}, fmt.Errorf("failed to load incident %s: %w", incidentID, err)
		}
		if archived != nil {
			return *archived, nil
		}
	}
	return Incident{}, fmt.Errorf("%w: %s", ErrNotFound, incidentID)
}

// Restore loads open incidents from the archive. If the archive holds more
// than one open incident for a user, the most recent one is kept; incidents
// already held in memory take precedence over archived ones.
func (c *Coordinator) Restore(ctx context.Context) (int, error) {
	if c.archive == nil {
		return 0, nil
	}
	loaded, err := c.archive.LoadOpenIncidents(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load open incidents: %w", err)
	}

	latest := make(map[string]Incident, len(loaded))
	for _, inc := range loaded {
		if !inc.Open() || inc.UserID == "" || inc.ID == "" {
			continue
		}
		if cur, ok := latest[inc.UserID]; ok {
			if !inc.CreatedAt.After(cur.CreatedAt) {
				c.log.WarnContext(ctx, "Skipping duplicate open incident", "user_id", inc.UserID, "incident_id", inc.ID, "kept", cur.ID)
				continue
			}
			c.log.WarnContext(ctx, "Skipping duplicate open incident", "user_id", inc.UserID, "incident_id", cur.ID, "kept", inc.ID)
		}
		latest[inc.UserID] = inc
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for userID, inc := range latest {
		if _, ok := c.openIncidentLocked(userID); ok {
			continue
		}
		c.incidents[inc.ID] = &inc
		c.open[userID] = inc.ID
		restored++
	}

	c.log.InfoContext(ctx, "Open incidents restored", "count", restored)
	return restored, nil
}

// Prune drops terminal incidents resolved before now-maxAge from memory and
// returns how many were removed. Open incidents are never pruned.
func (c *Coordinator) Prune(now time.Time, maxAge time.Duration) int {
	cutoff := now.Add(-maxAge)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, inc := range c.incidents {
		if inc.Open() || inc.ResolvedAt == nil || inc.ResolvedAt.After(cutoff) {
			continue
		}
		delete(c.incidents, id)
		removed++
	}
	return removed
}

// OpenCount returns the number of open incidents.
func (c *Coordinator) OpenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.open)
}
