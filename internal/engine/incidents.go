package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgard/safeline/internal/audit"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/language"
)

// TriggerRequest is a user-initiated SOS.
type TriggerRequest struct {
	UserID      string
	TriggerType string
	Description string
	Location    *incident.Location
}

var defaultDescriptions = map[incident.TriggerType]string{
	incident.TriggerManual: "Manual SOS triggered",
	incident.TriggerVoice:  "Voice SOS triggered",
	incident.TriggerPanic:  "Panic button pressed",
}

// TriggerIncident opens an incident on an explicit user gesture. If the user
// already has an open incident it is returned with reused set.
func (e *Engine) TriggerIncident(ctx context.Context, req TriggerRequest) (incident.Incident, bool, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return incident.Incident{}, false, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	tt, err := incident.ParseTriggerType(req.TriggerType)
	if err != nil || tt == incident.TriggerAuto {
		return incident.Incident{}, false, fmt.Errorf("%w: trigger type must be manual, voice or panic", ErrInvalidRequest)
	}

	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = defaultDescriptions[tt]
	}

	inc, reused, err := e.incidents.Trigger(ctx, userID, incident.TriggerRequest{
		TriggerType: tt,
		Description: desc,
		Location:    req.Location,
		PanicMode:   tt == incident.TriggerPanic,
	})
	if err != nil {
		return incident.Incident{}, false, err
	}
	return inc, reused, nil
}

// UpdateLocation records the latest location of an open incident.
func (e *Engine) UpdateLocation(ctx context.Context, incidentID string, loc incident.Location) (incident.Incident, error) {
	if strings.TrimSpace(incidentID) == "" {
		return incident.Incident{}, fmt.Errorf("%w: incident id is required", ErrInvalidRequest)
	}
	return e.incidents.UpdateLocation(ctx, incidentID, loc)
}

// ResolveIncident closes an open incident with action (resolved, cancelled
// or false_alarm).
func (e *Engine) ResolveIncident(ctx context.Context, incidentID, action string) (incident.Incident, error) {
	status, err := incident.ParseAction(action)
	if err != nil {
		return incident.Incident{}, err
	}
	return e.incidents.Resolve(ctx, incidentID, status)
}

// ActiveIncident returns the user's open incident, if any.
func (e *Engine) ActiveIncident(userID string) (incident.Incident, bool) {
	return e.incidents.GetActive(strings.TrimSpace(userID))
}

// Incident returns an incident by id.
func (e *Engine) Incident(ctx context.Context, incidentID string) (incident.Incident, error) {
	return e.incidents.Get(ctx, incidentID)
}

// ClearContext drops the user's conversation. It always succeeds for a
// non-empty user id.
func (e *Engine) ClearContext(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	e.conv.Clear(ctx, userID)
	e.enqueue(ctx, audit.ContextClearedEvent(userID))
	e.log.InfoContext(ctx, "Conversation context cleared", "user_id", userID)
	return nil
}

// SetLanguage sets the user's preferred language and returns the normalized code.
func (e *Engine) SetLanguage(ctx context.Context, userID, code string) (language.Language, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return language.Language{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	lang, ok := language.Lookup(code)
	if !ok {
		return language.Language{}, fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, code)
	}
	e.setLanguage(ctx, userID, lang.Code, "explicit")
	return lang, nil
}

// Language returns the user's current language.
func (e *Engine) Language(ctx context.Context, userID string) language.Language {
	lang, ok := language.Lookup(e.conv.Language(ctx, userID))
	if !ok {
		lang, _ = language.Lookup(language.Default)
	}
	return lang
}

// History returns up to limit persisted messages of the user, oldest first.
func (e *Engine) History(ctx context.Context, userID string, limit int) ([]audit.HistoryEntry, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if limit <= 0 || limit > 200 {
		return nil, fmt.Errorf("%w: limit must be between 1 and 200", ErrInvalidRequest)
	}
	if e.history == nil {
		return []audit.HistoryEntry{}, nil
	}
	entries, err := e.history.ChatHistory(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read chat history: %w", err)
	}
	return entries, nil
}
