package database

import (
	"database/sql"
	"time"
)

// ChatMessage is one persisted conversation turn. A user turn and the
// assistant reply to it share a PairID.
type ChatMessage struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	PairID       string         `db:"pair_id"`
	UserID       string         `db:"user_id"`
	Role         string         `db:"role"`
	Content      string         `db:"content"`
	Source       string         `db:"source"`
	Language     string         `db:"language"`
	AnalysisJSON sql.NullString `db:"analysis_json"`
}

// AuditLog is an append-only audit event.
type AuditLog struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	UserID       string `db:"user_id"`
	Action       string `db:"action"`
	ResourceType string `db:"resource_type"`
	ResourceID   string `db:"resource_id"`
	Metadata     string `db:"metadata_json"`
}

// IncidentRecord is the persisted form of an SOS incident.
type IncidentRecord struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	Status        string         `db:"status"`
	TriggerType   string         `db:"trigger_type"`
	EmergencyType string         `db:"emergency_type"`
	RiskScore     int            `db:"risk_score"`
	PanicMode     bool           `db:"panic_mode"`
	Description   string         `db:"description"`
	AutoMessage   sql.NullString `db:"auto_message"`

	Latitude   sql.NullFloat64 `db:"latitude"`
	Longitude  sql.NullFloat64 `db:"longitude"`
	Accuracy   sql.NullFloat64 `db:"accuracy"`
	LocationAt sql.NullTime    `db:"location_at"`

	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

// IncidentLocation is one point of an incident's location trail.
type IncidentLocation struct {
	ID         uint      `db:"id"`
	IncidentID string    `db:"incident_id"`
	Latitude   float64   `db:"latitude"`
	Longitude  float64   `db:"longitude"`
	Accuracy   float64   `db:"accuracy"`
	RecordedAt time.Time `db:"recorded_at"`
}
