package handlers

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/safeline/internal/engine"
)

type messageHandler struct {
	deps HandlerDeps
}

// NewMessageHandler returns the default handler. Text messages go through
// the engine; shared and live locations update the user's open incident.
func NewMessageHandler(deps HandlerDeps) bot.HandlerFunc {
	return PrivateOnly(deps)(messageHandler{deps}.Handle)
}

func (h messageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "message")

	msg := updateMessage(update)
	if msg == nil || msg.From == nil {
		log.DebugContext(ctx, "Ignoring update with nil message or sender", "update_id", update.ID)
		return
	}

	if msg.Location != nil {
		h.handleLocation(ctx, b, msg, update.Message == nil)
		return
	}
	if update.Message == nil {
		// Edited text is not re-processed.
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		log.DebugContext(ctx, "Ignoring message without text", "chat_id", msg.Chat.ID)
		return
	}
	if strings.HasPrefix(text, "/") {
		send(ctx, b, log, msg.Chat.ID, h.deps.Config.Messages.Help)
		return
	}

	h.handleText(ctx, b, msg, text)
}

func (h messageHandler) handleText(ctx context.Context, b *bot.Bot, msg *models.Message, text string) {
	log := h.deps.Logger.With("handler", "message")
	chatID := msg.Chat.ID
	userID := userKey(msg.From)

	typingCtx, stopTyping := context.WithCancel(ctx)
	go keepTyping(typingCtx, b, log, chatID)

	aiCtx, cancel := context.WithTimeout(ctx, aiProcessingTimeout)
	res, err := h.deps.Engine.ProcessMessage(aiCtx, engine.MessageRequest{
		UserID:  userID,
		Message: text,
		Source:  engine.SourceText,
	})
	cancel()
	stopTyping()

	if err != nil {
		log.ErrorContext(ctx, "Failed to process message", "error", err, "user_id", userID)
		send(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	sendCtx, cancelSend := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancelSend()
	_, err = b.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            formatReply(res, h.deps.Config.Messages),
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", chatID)
	}

	if res.AutoSOSTriggered {
		log.WarnContext(ctx, "Message raised an SOS",
			"user_id", userID,
			"incident_id", res.Incident.ID,
			"risk_score", res.Analysis.RiskScore,
			"reused", res.IncidentReused)
	}
}

// handleLocation attaches a shared location to the open incident. Live
// location edits are applied silently.
func (h messageHandler) handleLocation(ctx context.Context, b *bot.Bot, msg *models.Message, edited bool) {
	log := h.deps.Logger.With("handler", "location")
	chatID := msg.Chat.ID
	userID := userKey(msg.From)

	active, ok := h.deps.Engine.ActiveIncident(userID)
	if !ok {
		if !edited {
			send(ctx, b, log, chatID, h.deps.Config.Messages.NoActiveSOS)
		}
		return
	}

	if _, err := h.deps.Engine.UpdateLocation(ctx, active.ID, toLocation(msg)); err != nil {
		log.WarnContext(ctx, "Failed to update incident location", "error", err, "incident_id", active.ID)
		if !edited {
			send(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		}
		return
	}

	log.DebugContext(ctx, "Incident location updated", "incident_id", active.ID, "live", edited)
	if !edited {
		send(ctx, b, log, chatID, h.deps.Config.Messages.LocationUpdated)
	}
}
