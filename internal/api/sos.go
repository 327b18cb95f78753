package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/edgard/safeline/internal/engine"
	"github.com/edgard/safeline/internal/incident"
)

type locationBody struct {
	Latitude  *float64   `json:"latitude"  validate:"required,min=-90,max=90"`
	Longitude *float64   `json:"longitude" validate:"required,min=-180,max=180"`
	Accuracy  float64    `json:"accuracy"  validate:"min=0"`
	Timestamp *time.Time `json:"timestamp"`
}

func (l *locationBody) toIncident() *incident.Location {
	if l == nil {
		return nil
	}
	loc := &incident.Location{
		Latitude:  *l.Latitude,
		Longitude: *l.Longitude,
		Accuracy:  l.Accuracy,
	}
	if l.Timestamp != nil {
		loc.Timestamp = l.Timestamp.UTC()
	}
	return loc
}

type triggerRequest struct {
	UserID      string        `json:"user_id"      validate:"required,max=128"`
	TriggerType string        `json:"trigger_type" validate:"required,oneof=manual voice panic"`
	Description string        `json:"description"  validate:"max=1000"`
	Location    *locationBody `json:"location"`
}

type resolveRequest struct {
	Action string `json:"action" validate:"required,oneof=resolved cancelled false_alarm"`
}

type triggerResponse struct {
	Incident incident.Incident `json:"incident"`
	Reused   bool              `json:"reused"`
}

// TriggerSOS opens an incident on an explicit user gesture.
func (h *Handler) TriggerSOS(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if !h.decode(w, r, &req) {
		return
	}
	inc, reused, err := h.engine.TriggerIncident(r.Context(), engine.TriggerRequest{
		UserID:      req.UserID,
		TriggerType: req.TriggerType,
		Description: req.Description,
		Location:    req.Location.toIncident(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	JSON(w, status, triggerResponse{Incident: inc, Reused: reused})
}

// ActiveSOS returns the user's open incident.
func (h *Handler) ActiveSOS(w http.ResponseWriter, r *http.Request) {
	inc, ok := h.engine.ActiveIncident(chi.URLParam(r, "userID"))
	if !ok {
		Error(w, http.StatusNotFound, "no active incident")
		return
	}
	JSON(w, http.StatusOK, inc)
}

// GetSOS returns an incident by id.
func (h *Handler) GetSOS(w http.ResponseWriter, r *http.Request) {
	inc, err := h.engine.Incident(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, inc)
}

// UpdateLocation records the latest location of an open incident.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	var body locationBody
	if !h.decode(w, r, &body) {
		return
	}
	inc, err := h.engine.UpdateLocation(r.Context(), chi.URLParam(r, "incidentID"), *body.toIncident())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, inc)
}

// ResolveSOS closes an open incident.
func (h *Handler) ResolveSOS(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	inc, err := h.engine.ResolveIncident(r.Context(), chi.URLParam(r, "incidentID"), req.Action)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, inc)
}
