// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/edgard/safeline/internal/engine"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/logger"
)

const maxBodyBytes = 64 << 10

// Pinger reports the health of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	engine   *engine.Engine
	db       Pinger
	validate *validator.Validate
	log      *slog.Logger
	started  time.Time
}

// NewHandler creates a Handler. db may be nil.
func NewHandler(e *engine.Engine, db Pinger, log *slog.Logger) *Handler {
	return &Handler{
		engine:   e,
		db:       db,
		validate: validator.New(),
		log:      log.With("component", "api"),
		started:  time.Now(),
	}
}

// NewRouter builds the chi router with middleware and every route mounted.
// Request contexts are cancelled after timeout; zero leaves them unbounded.
func NewRouter(h *Handler, timeout time.Duration, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(logger.HTTPMiddleware(log))
	r.Use(chiMiddleware.Recoverer)
	if timeout > 0 {
		r.Use(chiMiddleware.Timeout(timeout))
	}

	r.Get("/health", h.Health)
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the versioned API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Post("/message", h.SendMessage)
			r.Post("/analyze", h.AnalyzeMessage)
			r.Delete("/context/{userID}", h.ClearContext)
			r.Get("/history/{userID}", h.History)
		})
		r.Route("/user/{userID}", func(r chi.Router) {
			r.Get("/language", h.GetLanguage)
			r.Put("/language", h.SetLanguage)
		})
		r.Get("/languages", h.Languages)
		r.Route("/sos", func(r chi.Router) {
			r.Post("/trigger", h.TriggerSOS)
			r.Get("/active/{userID}", h.ActiveSOS)
			r.Get("/{incidentID}", h.GetSOS)
			r.Post("/{incidentID}/location", h.UpdateLocation)
			r.Post("/{incidentID}/resolve", h.ResolveSOS)
		})
	})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JSON writes a successful response.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, envelope{Success: true, Data: data})
}

// Error writes an error response.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, envelope{Success: false, Error: message})
}

func write(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		Error(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// fail maps engine and incident errors to HTTP statuses.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, incident.ErrInvalidAction),
		errors.Is(err, incident.ErrInvalidTrigger),
		errors.Is(err, incident.ErrInvalidLocation):
		status = http.StatusBadRequest
	case errors.Is(err, incident.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, incident.ErrInvalidState),
		errors.Is(err, incident.ErrAlreadyResolved):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// Health reports liveness and database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"database":       "not_configured",
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.log.WarnContext(r.Context(), "Database ping failed", "error", err)
			body["status"] = "degraded"
			body["database"] = "unreachable"
			write(w, http.StatusServiceUnavailable, envelope{Success: false, Data: body, Error: "database unreachable"})
			return
		}
		body["database"] = "ok"
	}
	JSON(w, http.StatusOK, body)
}
