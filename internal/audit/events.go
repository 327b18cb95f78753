package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/safeline/internal/analysis"
	"github.com/edgard/safeline/internal/database"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/logger"
)

// Kind names an event type.
type Kind string

// Event kinds.
const (
	KindChatPair        Kind = "chat_pair"
	KindHighRisk        Kind = "high_risk"
	KindIncident        Kind = "incident"
	KindLanguageChanged Kind = "language_changed"
	KindContextCleared  Kind = "context_cleared"
)

// Audit log actions.
const (
	ActionHighRiskMessage = "high_risk_message"
	ActionSOSTriggered    = "sos_triggered"
	ActionSOSActivated    = "sos_activated"
	ActionSOSResolved     = "sos_resolved"
	ActionLanguageChanged = "language_changed"
	ActionContextCleared  = "context_cleared"
)

const previewLen = 50

// Event is one pending write.
type Event struct {
	Kind   Kind
	UserID string
	apply  func(ctx context.Context, store database.Store) error
}

// ChatPair describes one user message and the reply to it.
type ChatPair struct {
	UserID        string
	UserText      string
	AssistantText string
	Source        string
	Language      string
	Analysis      *analysis.Result
	At            time.Time
}

// ChatPairEvent persists both turns of an exchange under one pair id. The
// analysis is attached to the user turn.
func ChatPairEvent(p ChatPair) Event {
	pairID := uuid.NewString()
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	return Event{
		Kind:   KindChatPair,
		UserID: p.UserID,
		apply: func(ctx context.Context, store database.Store) error {
			userMsg := &database.ChatMessage{
				PairID:    pairID,
				UserID:    p.UserID,
				Role:      "user",
				Content:   p.UserText,
				Source:    p.Source,
				Language:  p.Language,
				CreatedAt: at,
			}
			if p.Analysis != nil {
				raw, err := json.Marshal(p.Analysis)
				if err != nil {
					return fmt.Errorf("failed to encode analysis: %w", err)
				}
				userMsg.AnalysisJSON.String = string(raw)
				userMsg.AnalysisJSON.Valid = true
			}
			reply := &database.ChatMessage{
				PairID:    pairID,
				UserID:    p.UserID,
				Role:      "assistant",
				Content:   p.AssistantText,
				Source:    p.Source,
				Language:  p.Language,
				CreatedAt: at,
			}
			return store.SaveChatMessages(ctx, []*database.ChatMessage{userMsg, reply})
		},
	}
}

// HighRiskEvent records a message whose analysis crossed the high-risk
// threshold or flagged abuse. incidentID may be empty.
func HighRiskEvent(userID, message string, result analysis.Result, incidentID string) Event {
	meta := map[string]any{
		"risk_score":             result.RiskScore,
		"intent":                 result.Intent,
		"emergency_type":         result.EmergencyType,
		"is_abuse_or_harassment": result.IsAbuseOrHarassment,
		"needs_immediate_help":   result.NeedsImmediateHelp,
		"risk_factors":           result.RiskFactors,
		"confidence":             result.Confidence,
		"message_preview":        logger.Preview(message, previewLen),
	}
	return logEvent(KindHighRisk, userID, ActionHighRiskMessage, "chat_message", incidentID, meta)
}

// LanguageChangedEvent records an explicit or detected language change.
func LanguageChangedEvent(userID, from, to, reason string) Event {
	meta := map[string]any{"from": from, "to": to, "reason": reason}
	return logEvent(KindLanguageChanged, userID, ActionLanguageChanged, "user", userID, meta)
}

// ContextClearedEvent records a conversation reset.
func ContextClearedEvent(userID string) Event {
	return logEvent(KindContextCleared, userID, ActionContextCleared, "conversation", userID, nil)
}

func logEvent(kind Kind, userID, action, resourceType, resourceID string, meta map[string]any) Event {
	at := time.Now().UTC()
	return Event{
		Kind:   kind,
		UserID: userID,
		apply: func(ctx context.Context, store database.Store) error {
			entry := &database.AuditLog{
				CreatedAt:    at,
				UserID:       userID,
				Action:       action,
				ResourceType: resourceType,
				ResourceID:   resourceID,
			}
			if meta != nil {
				raw, err := json.Marshal(meta)
				if err != nil {
					return fmt.Errorf("failed to encode audit metadata: %w", err)
				}
				entry.Metadata = string(raw)
			}
			return store.SaveAuditLog(ctx, entry)
		},
	}
}

// IncidentEvents returns the writes for one incident change: the snapshot
// upsert, then a location trail point or an audit log entry when the change
// calls for one. Each is retried independently.
func IncidentEvents(inc incident.Incident, change incident.Change) []Event {
	rec := toRecord(inc)
	events := []Event{{
		Kind:   KindIncident,
		UserID: inc.UserID,
		apply: func(ctx context.Context, store database.Store) error {
			return store.UpsertIncident(ctx, rec)
		},
	}}

	switch change {
	case incident.ChangeLocation:
		if inc.Location != nil {
			point := &database.IncidentLocation{
				IncidentID: inc.ID,
				Latitude:   inc.Location.Latitude,
				Longitude:  inc.Location.Longitude,
				Accuracy:   inc.Location.Accuracy,
				RecordedAt: inc.Location.Timestamp.UTC(),
			}
			events = append(events, Event{
				Kind:   KindIncident,
				UserID: inc.UserID,
				apply: func(ctx context.Context, store database.Store) error {
					p := *point
					return store.SaveIncidentLocation(ctx, &p)
				},
			})
		}
	case incident.ChangeCreated, incident.ChangeActivated, incident.ChangeResolved:
		action := map[incident.Change]string{
			incident.ChangeCreated:   ActionSOSTriggered,
			incident.ChangeActivated: ActionSOSActivated,
			incident.ChangeResolved:  ActionSOSResolved,
		}[change]
		meta := map[string]any{
			"status":         inc.Status,
			"trigger_type":   inc.TriggerType,
			"emergency_type": inc.EmergencyType,
			"risk_score":     inc.RiskScore,
			"panic_mode":     inc.PanicMode,
		}
		events = append(events, logEvent(KindIncident, inc.UserID, action, "sos_incident", inc.ID, meta))
	}
	return events
}
