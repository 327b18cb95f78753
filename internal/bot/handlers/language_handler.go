package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewLanguageHandler returns a handler for the /lang command. Without an
// argument it reports the current language.
func NewLanguageHandler(deps HandlerDeps) bot.HandlerFunc {
	return languageHandler{deps}.Handle
}

type languageHandler struct {
	deps HandlerDeps
}

func (h languageHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "language")
	if update.Message == nil || update.Message.From == nil {
		log.WarnContext(ctx, "Language handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	chatID := update.Message.Chat.ID
	userID := userKey(update.Message.From)
	msgs := h.deps.Config.Messages

	code := commandArgs(update.Message.Text)
	if code == "" {
		current := h.deps.Engine.Language(ctx, userID)
		send(ctx, b, log, chatID, fmt.Sprintf("🌐 %s (%s)\n%s", current.NativeName, current.Code, msgs.LanguageUsage))
		return
	}

	lang, err := h.deps.Engine.SetLanguage(ctx, userID, code)
	if err != nil {
		log.InfoContext(ctx, "Rejected language change", "user_id", userID, "code", code)
		send(ctx, b, log, chatID, msgs.LanguageUsage)
		return
	}

	log.InfoContext(ctx, "Language changed", "user_id", userID, "language", lang.Code)
	send(ctx, b, log, chatID, fmt.Sprintf("%s %s (%s)", msgs.LanguageUpdated, lang.NativeName, lang.Code))
}
