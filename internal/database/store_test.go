package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	db, err := NewDB(path)
	require.NoError(t, err)
	CloseDB(db)

	db, err = NewDB(path)
	require.NoError(t, err)
	defer CloseDB(db)

	require.NoError(t, NewStore(db, nil).Ping(context.Background()))

	version, err := ApplyMigrations(db.DB)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	var mode string
	require.NoError(t, db.Get(&mode, "PRAGMA journal_mode"))
	assert.Equal(t, "wal", mode)
}

func TestDSNCarriesPragmas(t *testing.T) {
	got := dsn("/tmp/safeline.db")
	assert.True(t, strings.HasPrefix(got, "file:/tmp/safeline.db?"))
	assert.Contains(t, got, "_pragma=busy_timeout%285000%29")
	assert.Contains(t, got, "_pragma=journal_mode%28WAL%29")
}

func TestChatHistoryOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, content := range []string{"one", "two", "three"} {
		at := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.SaveChatMessages(ctx, []*ChatMessage{
			{PairID: content, UserID: "u1", Role: "user", Content: content, Source: "text", Language: "en", CreatedAt: at},
			{PairID: content, UserID: "u1", Role: "assistant", Content: "re: " + content, Source: "text", Language: "en", CreatedAt: at},
		}))
	}
	require.NoError(t, store.SaveChatMessages(ctx, []*ChatMessage{
		{PairID: "x", UserID: "u2", Role: "user", Content: "other user", CreatedAt: base},
	}))

	msgs, err := store.GetChatHistory(ctx, "u1", 4)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "two", msgs[0].Content)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "re: three", msgs[3].Content)

	_, err = store.GetChatHistory(ctx, "", 4)
	assert.Error(t, err)
}

func TestSaveChatMessagesRejectsInvalidBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.SaveChatMessages(ctx, []*ChatMessage{
		{PairID: "p", UserID: "u1", Role: "user", Content: "kept?"},
		{PairID: "p", UserID: "u1", Role: "system", Content: "bad"},
	})
	require.Error(t, err)

	msgs, err := store.GetChatHistory(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAuditLogRetention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &AuditLog{UserID: "u1", Action: "sos_triggered", ResourceType: "sos_incident", CreatedAt: now.Add(-48 * time.Hour)}
	recent := &AuditLog{UserID: "u1", Action: "sos_resolved", ResourceType: "sos_incident", CreatedAt: now}
	require.NoError(t, store.SaveAuditLog(ctx, old))
	require.NoError(t, store.SaveAuditLog(ctx, recent))
	assert.NotZero(t, old.ID)
	assert.Equal(t, "{}", old.Metadata)

	deleted, err := store.DeleteAuditLogsBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.Error(t, store.SaveAuditLog(ctx, &AuditLog{UserID: "u1"}))
}

func TestUpsertClosesSupersededOpenIncident(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	stale := &IncidentRecord{ID: "inc-1", UserID: "u1", Status: "active", TriggerType: "manual", EmergencyType: "other", CreatedAt: created}
	other := &IncidentRecord{ID: "inc-9", UserID: "u2", Status: "active", TriggerType: "panic", EmergencyType: "other", CreatedAt: created}
	require.NoError(t, store.UpsertIncident(ctx, stale))
	require.NoError(t, store.UpsertIncident(ctx, other))

	// The resolve of inc-1 never reached the store.
	fresh := &IncidentRecord{ID: "inc-2", UserID: "u1", Status: "triggered", TriggerType: "manual", EmergencyType: "other", CreatedAt: created.Add(time.Hour)}
	require.NoError(t, store.UpsertIncident(ctx, fresh))

	got, err := store.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", got.Status)
	assert.True(t, got.ResolvedAt.Valid)

	open, err := store.GetOpenIncidents(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.ID)
	}
	assert.ElementsMatch(t, []string{"inc-2", "inc-9"}, ids)

	// A late closing write for the superseded row still lands.
	stale.Status = "resolved"
	stale.ResolvedAt = sql.NullTime{Time: created.Add(30 * time.Minute), Valid: true}
	require.NoError(t, store.UpsertIncident(ctx, stale))
	got, err = store.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Status)
}

func TestOpenIndexRejectsDirectDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.UpsertIncident(ctx, &IncidentRecord{ID: "inc-1", UserID: "u1", Status: "active", TriggerType: "manual", EmergencyType: "other"}))

	db := store.(*sqlxStore).db
	_, err := db.ExecContext(ctx, `INSERT INTO sos_incidents (id, user_id, status, trigger_type, created_at, updated_at)
        VALUES ('inc-2', 'u1', 'triggered', 'manual', ?, ?);`, time.Now().UTC(), time.Now().UTC())
	assert.Error(t, err)
}

func TestIncidentUpsertAndOpenIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := &IncidentRecord{
		ID:            "inc-1",
		UserID:        "u1",
		Status:        "triggered",
		TriggerType:   "manual",
		EmergencyType: "other",
		Description:   "Manual SOS triggered",
		CreatedAt:     created,
	}
	require.NoError(t, store.UpsertIncident(ctx, rec))

	got, err := store.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "triggered", got.Status)
	assert.False(t, got.Latitude.Valid)

	open, err := store.GetOpenIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	rec.Status = "resolved"
	rec.Latitude = sql.NullFloat64{Float64: 12.97, Valid: true}
	rec.Longitude = sql.NullFloat64{Float64: 77.59, Valid: true}
	rec.ResolvedAt = sql.NullTime{Time: created.Add(time.Hour), Valid: true}
	require.NoError(t, store.UpsertIncident(ctx, rec))

	got, err = store.GetIncident(ctx, "inc-1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Status)
	assert.InDelta(t, 12.97, got.Latitude.Float64, 1e-9)
	assert.True(t, got.ResolvedAt.Valid)

	open, err = store.GetOpenIncidents(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	require.NoError(t, store.SaveIncidentLocation(ctx, &IncidentLocation{IncidentID: "inc-1", Latitude: 12.97, Longitude: 77.59}))
	assert.Error(t, store.SaveIncidentLocation(ctx, &IncidentLocation{}))

	missing, err := store.GetIncident(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunSQLMaintenance(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.RunSQLMaintenance(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.RunSQLMaintenance(ctx), context.Canceled)
}
