package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edgard/safeline/internal/engine"
	"github.com/edgard/safeline/internal/language"
)

const defaultHistoryLimit = 50

type messageRequest struct {
	UserID   string `json:"user_id"  validate:"required,max=128"`
	Message  string `json:"message"  validate:"required,max=4000"`
	Source   string `json:"source"   validate:"omitempty,oneof=text voice"`
	Language string `json:"language" validate:"omitempty,max=16"`
}

func (m messageRequest) toEngine() engine.MessageRequest {
	return engine.MessageRequest{
		UserID:   m.UserID,
		Message:  m.Message,
		Source:   engine.Source(m.Source),
		Language: m.Language,
	}
}

type languageRequest struct {
	Language string `json:"language" validate:"required,max=16"`
}

// SendMessage runs the full message pipeline.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.ProcessMessage(r.Context(), req.toEngine())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// AnalyzeMessage returns the risk assessment only.
func (h *Handler) AnalyzeMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.engine.Analyze(r.Context(), req.toEngine())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// ClearContext drops the user's conversation.
func (h *Handler) ClearContext(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := h.engine.ClearContext(r.Context(), userID); err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"user_id": userID, "message": "Conversation context cleared"})
}

// History returns the user's persisted chat messages.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			Error(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	entries, err := h.engine.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": entries, "count": len(entries)})
}

// GetLanguage returns the user's current language.
func (h *Handler) GetLanguage(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.engine.Language(r.Context(), chi.URLParam(r, "userID")))
}

// SetLanguage sets the user's preferred language.
func (h *Handler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !h.decode(w, r, &req) {
		return
	}
	lang, err := h.engine.SetLanguage(r.Context(), chi.URLParam(r, "userID"), req.Language)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, lang)
}

// Languages lists the supported languages.
func (h *Handler) Languages(w http.ResponseWriter, _ *http.Request) {
	all := language.All()
	JSON(w, http.StatusOK, map[string]any{"languages": all, "total": len(all)})
}
