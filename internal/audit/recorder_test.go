package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/safeline/internal/analysis"
	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/database"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu         sync.Mutex
	failures   int // SaveAuditLog fails this many times before succeeding
	block      chan struct{}
	chats      []*database.ChatMessage
	audits     []*database.AuditLog
	incidents  map[string]*database.IncidentRecord
	locations  []*database.IncidentLocation
	auditCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{incidents: make(map[string]*database.IncidentRecord)}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) SaveChatMessages(_ context.Context, msgs []*database.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, msgs...)
	return nil
}

func (s *fakeStore) GetChatHistory(_ context.Context, userID string, limit int) ([]*database.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.ChatMessage
	for _, m := range s.chats {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) SaveAuditLog(ctx context.Context, entry *database.AuditLog) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditCalls++
	if s.failures > 0 {
		s.failures--
		return errors.New("database is locked")
	}
	s.audits = append(s.audits, entry)
	return nil
}

func (s *fakeStore) DeleteAuditLogsBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *fakeStore) UpsertIncident(_ context.Context, rec *database.IncidentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *rec
	s.incidents[rec.ID] = &c
	return nil
}

func (s *fakeStore) GetIncident(_ context.Context, id string) (*database.IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incidents[id], nil
}

func (s *fakeStore) GetOpenIncidents(context.Context) ([]*database.IncidentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*database.IncidentRecord
	for _, r := range s.incidents {
		if incident.Status(r.Status).Open() {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) SaveIncidentLocation(_ context.Context, loc *database.IncidentLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, loc)
	return nil
}

func (s *fakeStore) RunSQLMaintenance(context.Context) error { return nil }

func (s *fakeStore) snapshot() (chats int, audits []*database.AuditLog, calls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats), append([]*database.AuditLog(nil), s.audits...), s.auditCalls
}

func testAuditConfig(queue int) config.AuditConfig {
	return config.AuditConfig{QueueSize: queue, WriteTimeout: time.Second, MaxRetries: 3}
}

func runRecorder(t *testing.T, r *Recorder) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, r.Run(ctx))
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestRecorderWritesChatPair(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, testAuditConfig(8), logger.Discard())
	stop := runRecorder(t, r)

	result := analysis.Fallback()
	require.True(t, r.Enqueue(context.Background(), ChatPairEvent(ChatPair{
		UserID:        "u1",
		UserText:      "hello",
		AssistantText: "hi",
		Source:        "text",
		Language:      "en",
		Analysis:      &result,
	})))

	require.Eventually(t, func() bool {
		n, _, _ := store.snapshot()
		return n == 2
	}, time.Second, 5*time.Millisecond)
	stop()

	store.mu.Lock()
	defer store.mu.Unlock()
	user, reply := store.chats[0], store.chats[1]
	assert.Equal(t, "user", user.Role)
	assert.Equal(t, "assistant", reply.Role)
	assert.Equal(t, user.PairID, reply.PairID)
	assert.NotEmpty(t, user.PairID)
	require.True(t, user.AnalysisJSON.Valid)
	assert.False(t, reply.AnalysisJSON.Valid)

	var decoded analysis.Result
	require.NoError(t, json.Unmarshal([]byte(user.AnalysisJSON.String), &decoded))
	assert.Equal(t, 5, decoded.RiskScore)
}

func TestRecorderRetriesFailedWrites(t *testing.T) {
	store := newFakeStore()
	store.failures = 2
	r := NewRecorder(store, testAuditConfig(8), logger.Discard())
	r.retryDelay = time.Millisecond
	stop := runRecorder(t, r)

	r.Enqueue(context.Background(), ContextClearedEvent("u1"))

	require.Eventually(t, func() bool {
		_, audits, _ := store.snapshot()
		return len(audits) == 1
	}, time.Second, 5*time.Millisecond)
	stop()

	_, audits, calls := store.snapshot()
	assert.Equal(t, 3, calls)
	assert.Equal(t, ActionContextCleared, audits[0].Action)
	written, failed, _ := r.Stats()
	assert.EqualValues(t, 1, written)
	assert.Zero(t, failed)
}

func TestRecorderGivesUpAfterMaxRetries(t *testing.T) {
	store := newFakeStore()
	store.failures = 10
	r := NewRecorder(store, testAuditConfig(8), logger.Discard())
	r.retryDelay = time.Millisecond
	stop := runRecorder(t, r)

	r.Enqueue(context.Background(), ContextClearedEvent("u1"))

	require.Eventually(t, func() bool {
		_, failed, _ := r.Stats()
		return failed == 1
	}, time.Second, 5*time.Millisecond)
	stop()

	_, _, calls := store.snapshot()
	assert.Equal(t, 3, calls)
}

func TestEnqueueNeverBlocks(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, testAuditConfig(2), logger.Discard())

	// No worker is running, so the queue fills up.
	assert.True(t, r.Enqueue(context.Background(), ContextClearedEvent("u1")))
	assert.True(t, r.Enqueue(context.Background(), ContextClearedEvent("u1")))

	done := make(chan bool)
	go func() { done <- r.Enqueue(context.Background(), ContextClearedEvent("u1")) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	_, _, dropped := r.Stats()
	assert.EqualValues(t, 1, dropped)
}

func TestRunDrainsOnShutdown(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, testAuditConfig(16), logger.Discard())

	for i := 0; i < 5; i++ {
		r.Enqueue(context.Background(), LanguageChangedEvent("u1", "en", "hi", "explicit"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	_, audits, _ := store.snapshot()
	assert.Len(t, audits, 5)
}

func TestSlowStoreDoesNotBlockProducers(t *testing.T) {
	store := newFakeStore()
	store.block = make(chan struct{})
	r := NewRecorder(store, testAuditConfig(4), logger.Discard())
	stop := runRecorder(t, r)

	start := time.Now()
	for i := 0; i < 20; i++ {
		r.Enqueue(context.Background(), ContextClearedEvent("u1"))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(store.block)
	stop()
}

func TestIncidentChangedWritesSnapshotTrailAndLog(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, testAuditConfig(16), logger.Discard())

	now := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	c := incident.NewCoordinator(
		incident.WithSink(r),
		incident.WithLogger(logger.Discard()),
		incident.WithClock(func() time.Time { return now }),
	)

	ctx := context.Background()
	inc, _, err := c.Trigger(ctx, "u1", incident.TriggerRequest{TriggerType: incident.TriggerManual, Description: "help"})
	require.NoError(t, err)
	_, err = c.UpdateLocation(ctx, inc.ID, incident.Location{Latitude: 19.07, Longitude: 72.87, Accuracy: 5})
	require.NoError(t, err)
	_, err = c.Resolve(ctx, inc.ID, incident.StatusResolved)
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, r.Run(cctx))

	store.mu.Lock()
	defer store.mu.Unlock()

	rec := store.incidents[inc.ID]
	require.NotNil(t, rec)
	assert.Equal(t, "resolved", rec.Status)
	assert.True(t, rec.ResolvedAt.Valid)
	assert.InDelta(t, 19.07, rec.Latitude.Float64, 1e-9)

	require.Len(t, store.locations, 1)
	assert.Equal(t, inc.ID, store.locations[0].IncidentID)

	var actions []string
	for _, a := range store.audits {
		actions = append(actions, a.Action)
	}
	assert.Equal(t, []string{ActionSOSTriggered, ActionSOSActivated, ActionSOSResolved}, actions)

	restored, err := NewArchive(store).LoadIncident(ctx, inc.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, incident.StatusResolved, restored.Status)
	require.NotNil(t, restored.Location)
	assert.Equal(t, now, restored.Location.Timestamp)
}

func TestHighRiskEventMetadata(t *testing.T) {
	store := newFakeStore()
	result := analysis.Result{RiskScore: 8, Intent: analysis.IntentHarassment, IsAbuseOrHarassment: true}
	ev := HighRiskEvent("u1", "he keeps sending threatening messages every night and I do not know what to do", result, "inc-1")

	require.NoError(t, ev.apply(context.Background(), store))
	require.Len(t, store.audits, 1)
	entry := store.audits[0]
	assert.Equal(t, ActionHighRiskMessage, entry.Action)
	assert.Equal(t, "inc-1", entry.ResourceID)

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(entry.Metadata), &meta))
	assert.EqualValues(t, 8, meta["risk_score"])
	assert.Equal(t, true, meta["is_abuse_or_harassment"])
	assert.LessOrEqual(t, len(meta["message_preview"].(string)), previewLen)
}

// closeFailingStore loses every write that closes an incident.
type closeFailingStore struct {
	database.Store
	mu    sync.Mutex
	fails int
}

func (s *closeFailingStore) UpsertIncident(ctx context.Context, rec *database.IncidentRecord) error {
	if !incident.Status(rec.Status).Open() {
		s.mu.Lock()
		s.fails++
		s.mu.Unlock()
		return errors.New("disk I/O error")
	}
	return s.Store.UpsertIncident(ctx, rec)
}

func TestLostResolveDoesNotResurrectIncident(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	sqlStore := database.NewStore(db, logger.Discard())
	store := &closeFailingStore{Store: sqlStore}

	r := NewRecorder(store, testAuditConfig(16), logger.Discard())
	r.retryDelay = time.Millisecond
	c := incident.NewCoordinator(incident.WithSink(r), incident.WithLogger(logger.Discard()))
	ctx := context.Background()

	first, _, err := c.Trigger(ctx, "u1", incident.TriggerRequest{TriggerType: incident.TriggerManual})
	require.NoError(t, err)
	_, err = c.Resolve(ctx, first.ID, incident.StatusResolved)
	require.NoError(t, err)
	second, _, err := c.Trigger(ctx, "u1", incident.TriggerRequest{TriggerType: incident.TriggerPanic})
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.NoError(t, r.Run(cctx))

	_, failed, _ := r.Stats()
	assert.EqualValues(t, 1, failed)
	store.mu.Lock()
	assert.Equal(t, 3*incidentAttemptsFactor, store.fails)
	store.mu.Unlock()

	stored, err := sqlStore.GetIncident(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, string(incident.StatusActive), stored.Status)

	restarted := incident.NewCoordinator(incident.WithArchive(NewArchive(sqlStore)), incident.WithLogger(logger.Discard()))
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	active, ok := restarted.GetActive("u1")
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)
}

func TestIncidentEventsWaitForRoom(t *testing.T) {
	store := newFakeStore()
	r := NewRecorder(store, testAuditConfig(1), logger.Discard())
	r.enqueueWait = 50 * time.Millisecond
	inc := incident.Incident{ID: "inc-1", UserID: "u1", Status: incident.StatusActive}

	require.True(t, r.Enqueue(context.Background(), IncidentEvents(inc, incident.ChangeLocation)[0]))

	// The lane is full and nobody drains it, so the second event waits and is dropped.
	start := time.Now()
	assert.False(t, r.Enqueue(context.Background(), IncidentEvents(inc, incident.ChangeLocation)[0]))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Chat traffic has its own lane and is unaffected.
	assert.True(t, r.Enqueue(context.Background(), ContextClearedEvent("u1")))

	done := make(chan bool, 1)
	go func() { done <- r.Enqueue(context.Background(), IncidentEvents(inc, incident.ChangeLocation)[0]) }()
	time.Sleep(10 * time.Millisecond)
	<-r.incidents
	assert.True(t, <-done)
}
