package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveChatMessages inserts a batch of chat messages in one transaction.
	SaveChatMessages(ctx context.Context, messages []*ChatMessage) error

	// GetChatHistory returns up to limit most recent messages of a user, oldest first.
	GetChatHistory(ctx context.Context, userID string, limit int) ([]*ChatMessage, error)

	// SaveAuditLog appends an audit event.
	SaveAuditLog(ctx context.Context, entry *AuditLog) error

	// DeleteAuditLogsBefore removes audit events older than cutoff and returns the count.
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// UpsertIncident inserts an incident or overwrites the stored copy with the same ID.
	UpsertIncident(ctx context.Context, incident *IncidentRecord) error

	// GetIncident retrieves an incident by ID. Returns nil, nil if not found.
	GetIncident(ctx context.Context, id string) (*IncidentRecord, error)

	// GetOpenIncidents returns every incident in a non-terminal status.
	GetOpenIncidents(ctx context.Context) ([]*IncidentRecord, error)

	// SaveIncidentLocation appends a point to an incident's location trail.
	SaveIncidentLocation(ctx context.Context, loc *IncidentLocation) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) rollback(ctx context.Context, tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.WarnContext(ctx, "Error rolling back transaction", "error", err)
	}
}

// SaveChatMessages inserts all messages atomically so a user turn is never
// stored without its reply.
func (s *sqlxStore) SaveChatMessages(ctx context.Context, messages []*ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	for i, m := range messages {
		if m == nil {
			return fmt.Errorf("cannot save nil chat message at index %d", i)
		}
		if m.UserID == "" {
			return fmt.Errorf("chat message at index %d must have a user_id", i)
		}
		if m.Role != "user" && m.Role != "assistant" {
			return fmt.Errorf("chat message at index %d has invalid role %q", i, m.Role)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	query := `
        INSERT INTO chat_messages (pair_id, user_id, role, content, source, language, analysis_json, created_at)
        VALUES (:pair_id, :user_id, :role, :content, :source, :language, :analysis_json, :created_at);
    `
	for _, m := range messages {
		result, err := tx.NamedExecContext(ctx, query, m)
		if err != nil {
			s.logger.ErrorContext(ctx, "Error saving chat message", "user_id", m.UserID, "role", m.Role, "error", err)
			return fmt.Errorf("failed to save chat message (user %s): %w", m.UserID, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			//nolint:gosec // sqlite rowids are positive
			m.ID = uint(id)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.DebugContext(ctx, "Chat messages saved", "user_id", messages[0].UserID, "count", len(messages))
	return nil
}

// GetChatHistory returns the newest limit messages of a user in chronological order.
func (s *sqlxStore) GetChatHistory(ctx context.Context, userID string, limit int) ([]*ChatMessage, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	} else if limit > 500 {
		limit = 500
	}

	var messages []*ChatMessage
	query := `
        SELECT id, pair_id, user_id, role, content, source, language, analysis_json, created_at
        FROM (
            SELECT * FROM chat_messages
            WHERE user_id = ?
            ORDER BY created_at DESC, id DESC
            LIMIT ?
        )
        ORDER BY created_at ASC, id ASC;
    `
	if err := s.db.SelectContext(ctx, &messages, query, userID, limit); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get chat history for user %s: %w", userID, err)
	}
	return messages, nil
}

// SaveAuditLog appends an audit event.
func (s *sqlxStore) SaveAuditLog(ctx context.Context, entry *AuditLog) error {
	if entry == nil {
		return fmt.Errorf("cannot save nil audit log")
	}
	if entry.Action == "" || entry.ResourceType == "" {
		return fmt.Errorf("audit log must have action and resource_type")
	}
	if entry.Metadata == "" {
		entry.Metadata = "{}"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC()

	query := `
        INSERT INTO audit_logs (user_id, action, resource_type, resource_id, metadata_json, created_at)
        VALUES (:user_id, :action, :resource_type, :resource_id, :metadata_json, :created_at);
    `
	result, err := s.db.NamedExecContext(ctx, query, entry)
	if err != nil {
		return fmt.Errorf("failed to save audit log %q: %w", entry.Action, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // sqlite rowids are positive
		entry.ID = uint(id)
	}
	return nil
}

// DeleteAuditLogsBefore removes audit events created before cutoff.
func (s *sqlxStore) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?;`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not read affected rows after audit retention", "error", err)
		return 0, nil
	}
	return n, nil
}

// supersededStatus is written to an open row left behind when a newer open
// incident of the same user is stored.
const supersededStatus = "cancelled"

// UpsertIncident writes the full incident row. When the row is open, any
// other open row of the same user is closed first: only the coordinator's
// current incident may be open, so such a row is a snapshot whose closing
// write was lost.
func (s *sqlxStore) UpsertIncident(ctx context.Context, incident *IncidentRecord) error {
	if incident == nil {
		return fmt.Errorf("cannot save nil incident")
	}
	if incident.ID == "" || incident.UserID == "" {
		return fmt.Errorf("incident must have id and user_id")
	}
	now := time.Now().UTC()
	if incident.CreatedAt.IsZero() {
		incident.CreatedAt = now
	}
	incident.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin incident transaction: %w", err)
	}
	defer s.rollback(ctx, tx)

	if incident.Status == "triggered" || incident.Status == "active" {
		res, err := tx.ExecContext(ctx, `
            UPDATE sos_incidents SET status = ?, resolved_at = ?, updated_at = ?
            WHERE user_id = ? AND id <> ? AND status IN ('triggered', 'active');`,
			supersededStatus, now, now, incident.UserID, incident.ID)
		if err != nil {
			return fmt.Errorf("failed to close superseded incidents of %s: %w", incident.UserID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.WarnContext(ctx, "Closed stale open incidents superseded by a newer one",
				"user_id", incident.UserID, "incident_id", incident.ID, "closed", n)
		}
	}

	query := `
        INSERT INTO sos_incidents (
            id, user_id, status, trigger_type, emergency_type, risk_score, panic_mode, description, auto_message,
            latitude, longitude, accuracy, location_at, created_at, updated_at, resolved_at
        ) VALUES (
            :id, :user_id, :status, :trigger_type, :emergency_type, :risk_score, :panic_mode, :description, :auto_message,
            :latitude, :longitude, :accuracy, :location_at, :created_at, :updated_at, :resolved_at
        )
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            emergency_type = excluded.emergency_type,
            risk_score = excluded.risk_score,
            panic_mode = excluded.panic_mode,
            description = excluded.description,
            auto_message = excluded.auto_message,
            latitude = excluded.latitude,
            longitude = excluded.longitude,
            accuracy = excluded.accuracy,
            location_at = excluded.location_at,
            updated_at = excluded.updated_at,
            resolved_at = excluded.resolved_at;
    `
	if _, err := tx.NamedExecContext(ctx, query, incident); err != nil {
		s.logger.ErrorContext(ctx, "Error saving incident", "incident_id", incident.ID, "status", incident.Status, "error", err)
		return fmt.Errorf("failed to save incident %s: %w", incident.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit incident %s: %w", incident.ID, err)
	}
	return nil
}

const incidentColumns = `
    id, user_id, status, trigger_type, emergency_type, risk_score, panic_mode, description, auto_message,
    latitude, longitude, accuracy, location_at, created_at, updated_at, resolved_at`

// GetIncident retrieves an incident by ID. Returns nil, nil if not found.
func (s *sqlxStore) GetIncident(ctx context.Context, id string) (*IncidentRecord, error) {
	var rec IncidentRecord
	err := s.db.GetContext(ctx, &rec, `SELECT `+incidentColumns+` FROM sos_incidents WHERE id = ?;`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return &rec, nil
}

// GetOpenIncidents returns incidents still in triggered or active status, oldest first.
func (s *sqlxStore) GetOpenIncidents(ctx context.Context) ([]*IncidentRecord, error) {
	var recs []*IncidentRecord
	query := `SELECT ` + incidentColumns + ` FROM sos_incidents
        WHERE status IN ('triggered', 'active')
        ORDER BY created_at ASC;`
	if err := s.db.SelectContext(ctx, &recs, query); err != nil {
		return nil, fmt.Errorf("failed to get open incidents: %w", err)
	}
	return recs, nil
}

// SaveIncidentLocation appends a location trail point.
func (s *sqlxStore) SaveIncidentLocation(ctx context.Context, loc *IncidentLocation) error {
	if loc == nil || loc.IncidentID == "" {
		return fmt.Errorf("location must reference an incident")
	}
	if loc.RecordedAt.IsZero() {
		loc.RecordedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO incident_locations (incident_id, latitude, longitude, accuracy, recorded_at)
        VALUES (:incident_id, :latitude, :longitude, :accuracy, :recorded_at);
    `
	if _, err := s.db.NamedExecContext(ctx, query, loc); err != nil {
		return fmt.Errorf("failed to save location for incident %s: %w", loc.IncidentID, err)
	}
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	startTime := time.Now()

	// VACUUM cannot run inside a transaction.
	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed", "duration", time.Since(startTime))
	return nil
}
