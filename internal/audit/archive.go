package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/edgard/safeline/internal/database"
	"github.com/edgard/safeline/internal/incident"
)

// Archive reads persisted incidents and chat history back from the store.
type Archive struct {
	store database.Store
}

var _ incident.Archive = (*Archive)(nil)

// NewArchive creates an Archive over store.
func NewArchive(store database.Store) *Archive {
	return &Archive{store: store}
}

// LoadOpenIncidents implements incident.Archive.
func (a *Archive) LoadOpenIncidents(ctx context.Context) ([]incident.Incident, error) {
	recs, err := a.store.GetOpenIncidents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]incident.Incident, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// LoadIncident implements incident.Archive.
func (a *Archive) LoadIncident(ctx context.Context, id string) (*incident.Incident, error) {
	rec, err := a.store.GetIncident(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	inc := fromRecord(rec)
	return &inc, nil
}

// HistoryEntry is one persisted chat message.
type HistoryEntry struct {
	PairID    string    `json:"pair_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatHistory returns up to limit of the user's most recent persisted
// messages, oldest first.
func (a *Archive) ChatHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	msgs, err := a.store.GetChatHistory(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{
			PairID:    m.PairID,
			Role:      m.Role,
			Content:   m.Content,
			Source:    m.Source,
			Language:  m.Language,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

func toRecord(inc incident.Incident) *database.IncidentRecord {
	rec := &database.IncidentRecord{
		ID:            inc.ID,
		UserID:        inc.UserID,
		Status:        string(inc.Status),
		TriggerType:   string(inc.TriggerType),
		EmergencyType: inc.EmergencyType,
		RiskScore:     inc.RiskScore,
		PanicMode:     inc.PanicMode,
		Description:   inc.Description,
		CreatedAt:     inc.CreatedAt.UTC(),
		UpdatedAt:     inc.UpdatedAt.UTC(),
	}
	if inc.AutoMessage != "" {
		rec.AutoMessage = sql.NullString{String: inc.AutoMessage, Valid: true}
	}
	if loc := inc.Location; loc != nil {
		rec.Latitude = sql.NullFloat64{Float64: loc.Latitude, Valid: true}
		rec.Longitude = sql.NullFloat64{Float64: loc.Longitude, Valid: true}
		rec.Accuracy = sql.NullFloat64{Float64: loc.Accuracy, Valid: true}
		rec.LocationAt = sql.NullTime{Time: loc.Timestamp.UTC(), Valid: true}
	}
	if inc.ResolvedAt != nil {
		rec.ResolvedAt = sql.NullTime{Time: inc.ResolvedAt.UTC(), Valid: true}
	}
	return rec
}

func fromRecord(rec *database.IncidentRecord) incident.Incident {
	inc := incident.Incident{
		ID:            rec.ID,
		UserID:        rec.UserID,
		Status:        incident.Status(rec.Status),
		TriggerType:   incident.TriggerType(rec.TriggerType),
		EmergencyType: rec.EmergencyType,
		RiskScore:     rec.RiskScore,
		PanicMode:     rec.PanicMode,
		Description:   rec.Description,
		AutoMessage:   rec.AutoMessage.String,
		CreatedAt:     rec.CreatedAt.UTC(),
		UpdatedAt:     rec.UpdatedAt.UTC(),
	}
	if rec.Latitude.Valid && rec.Longitude.Valid {
		inc.Location = &incident.Location{
			Latitude:  rec.Latitude.Float64,
			Longitude: rec.Longitude.Float64,
			Accuracy:  rec.Accuracy.Float64,
			Timestamp: rec.LocationAt.Time.UTC(),
		}
	}
	if rec.ResolvedAt.Valid {
		t := rec.ResolvedAt.Time.UTC()
		inc.ResolvedAt = &t
	}
	return inc
}
