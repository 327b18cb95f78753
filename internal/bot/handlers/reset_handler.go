package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewResetHandler returns a handler for the /reset command, which forgets
// the user's conversation. Open incidents are not affected.
func NewResetHandler(deps HandlerDeps) bot.HandlerFunc {
	return resetHandler{deps}.Handle
}

type resetHandler struct {
	deps HandlerDeps
}

func (h resetHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "reset")
	if update.Message == nil || update.Message.From == nil {
		log.ErrorContext(ctx, "Reset handler called with nil Message or From", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := userKey(update.Message.From)

	if err := h.deps.Engine.ClearContext(ctx, userID); err != nil {
		log.ErrorContext(ctx, "Failed to clear context", "error", err, "user_id", userID)
		send(ctx, b, log, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	log.InfoContext(ctx, "Conversation reset", "chat_id", chatID, "user_id", userID)
	send(ctx, b, log, chatID, h.deps.Config.Messages.ContextCleared)
}
