package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/safeline/internal/engine"
	"github.com/edgard/safeline/internal/incident"
)

// NewSOSHandler returns a handler for the /sos command. Text after the
// command becomes the incident description.
func NewSOSHandler(deps HandlerDeps) bot.HandlerFunc {
	return sosHandler{deps}.Handle
}

type sosHandler struct {
	deps HandlerDeps
}

func (h sosHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "sos")
	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "SOS handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := userKey(update.Message.From)

	inc, reused, err := h.deps.Engine.TriggerIncident(ctx, engine.TriggerRequest{
		UserID:      userID,
		TriggerType: string(incident.TriggerManual),
		Description: commandArgs(update.Message.Text),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to trigger SOS", "error", err, "user_id", userID)
		send(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	if reused {
		log.InfoContext(ctx, "SOS already active", "user_id", userID, "incident_id", inc.ID)
		send(ctx, b, log, chatID, h.deps.Config.Messages.SOSAlreadyActive)
		return
	}

	log.WarnContext(ctx, "SOS triggered from Telegram", "user_id", userID, "incident_id", inc.ID)
	send(ctx, b, log, chatID, h.deps.Config.Messages.SOSTriggered)
}

// NewResolveHandler returns a handler that closes the user's open incident
// with action (resolved, cancelled or false_alarm).
func NewResolveHandler(deps HandlerDeps, action incident.Status) bot.HandlerFunc {
	return resolveHandler{deps: deps, action: action}.Handle
}

type resolveHandler struct {
	deps   HandlerDeps
	action incident.Status
}

func (h resolveHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "resolve", "action", h.action)
	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Resolve handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := userKey(update.Message.From)

	active, ok := h.deps.Engine.ActiveIncident(userID)
	if !ok {
		send(ctx, b, log, chatID, h.deps.Config.Messages.NoActiveSOS)
		return
	}

	inc, err := h.deps.Engine.ResolveIncident(ctx, active.ID, string(h.action))
	switch {
	case errors.Is(err, incident.ErrAlreadyResolved):
		// Closed concurrently from another transport.
		send(ctx, b, log, chatID, h.deps.Config.Messages.NoActiveSOS)
	case err != nil:
		log.ErrorContext(ctx, "Failed to resolve SOS", "error", err, "incident_id", active.ID)
		send(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
	default:
		log.InfoContext(ctx, "SOS closed from Telegram", "user_id", userID, "incident_id", inc.ID, "status", inc.Status)
		send(ctx, b, log, chatID, h.deps.Config.Messages.SOSResolved)
	}
}
