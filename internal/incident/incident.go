// Package incident owns the SOS state machine. It guarantees at most one open
// (triggered or active) incident per user under concurrent access, allows
// location updates only while an incident is open and makes resolution a
// one-way, exactly-once transition.
package incident

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Errors reported by the Coordinator.
var (
	ErrNotFound        = errors.New("incident not found")
	ErrInvalidState    = errors.New("incident is not open")
	ErrAlreadyResolved = errors.New("incident already resolved")
	ErrInvalidAction   = errors.New("invalid resolve action")
	ErrInvalidTrigger  = errors.New("invalid trigger")
	ErrInvalidLocation = errors.New("invalid location")
)

// Status is the state of an incident.
type Status string

// Statuses. Triggered and Active are open; the rest are terminal.
const (
	StatusTriggered  Status = "triggered"
	StatusActive     Status = "active"
	StatusResolved   Status = "resolved"
	StatusCancelled  Status = "cancelled"
	StatusFalseAlarm Status = "false_alarm"
)

// Open reports whether s is a non-terminal status.
func (s Status) Open() bool {
	return s == StatusTriggered || s == StatusActive
}

// ParseAction validates a resolve action.
func ParseAction(s string) (Status, error) {
	switch a := Status(s); a {
	case StatusResolved, StatusCancelled, StatusFalseAlarm:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q (want resolved, cancelled or false_alarm)", ErrInvalidAction, s)
}

// TriggerType records what opened an incident.
type TriggerType string

// Trigger types.
const (
	TriggerManual TriggerType = "manual"
	TriggerVoice  TriggerType = "voice"
	TriggerPanic  TriggerType = "panic"
	TriggerAuto   TriggerType = "auto"
)

// ParseTriggerType validates a trigger type.
func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(s); t {
	case TriggerManual, TriggerVoice, TriggerPanic, TriggerAuto:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown trigger type %q", ErrInvalidTrigger, s)
}

// initialStatus is the open status a new incident starts in. Explicit user
// gestures start as triggered until location tracking begins; panic and
// engine-initiated incidents are active immediately.
func (t TriggerType) initialStatus() Status {
	if t == TriggerManual || t == TriggerVoice {
		return StatusTriggered
	}
	return StatusActive
}

// Location is a point reported by the user's device.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks coordinate ranges.
func (l Location) Validate() error {
	switch {
	case math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidLocation, l.Latitude)
	case math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidLocation, l.Longitude)
	case math.IsNaN(l.Accuracy) || l.Accuracy < 0:
		return fmt.Errorf("%w: negative accuracy", ErrInvalidLocation)
	}
	return nil
}

// Incident is one emergency episode.
type Incident struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	Status        Status      `json:"status"`
	TriggerType   TriggerType `json:"trigger_type"`
	EmergencyType string      `json:"emergency_type"`
	RiskScore     int         `json:"risk_score"`
	PanicMode     bool        `json:"panic_mode"`
	Description   string      `json:"description"`
	AutoMessage   string      `json:"auto_message,omitempty"`
	Location      *Location   `json:"location,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	ResolvedAt    *time.Time  `json:"resolved_at,omitempty"`
}

// Open reports whether the incident is non-terminal.
func (i Incident) Open() bool {
	return i.Status.Open()
}

func (i *Incident) clone() Incident {
	c := *i
	if i.Location != nil {
		loc := *i.Location
		c.Location = &loc
	}
	if i.ResolvedAt != nil {
		t := *i.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// TriggerRequest describes a new incident.
type TriggerRequest struct {
	TriggerType   TriggerType
	Description   string
	Location      *Location
	RiskScore     int
	EmergencyType string
	PanicMode     bool
	AutoMessage   string
}

// Change names the kind of state change published to a Sink.
type Change string

// Changes.
const (
	ChangeCreated   Change = "created"
	ChangeLocation  Change = "location_updated"
	ChangeActivated Change = "activated"
	ChangeResolved  Change = "resolved"
)
