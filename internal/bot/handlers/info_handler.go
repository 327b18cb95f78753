package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewStartHandler greets the user and reminds them of an SOS that is still open.
func NewStartHandler(deps HandlerDeps) bot.HandlerFunc {
	return infoHandler{deps: deps, name: "start", reply: func(userID string) string {
		msgs := deps.Config.Messages
		if _, ok := deps.Engine.ActiveIncident(userID); ok {
			return msgs.Welcome + "\n\n" + msgs.SOSAlreadyActive
		}
		return msgs.Welcome
	}}.Handle
}

// NewHelpHandler returns a handler for the /help command.
func NewHelpHandler(deps HandlerDeps) bot.HandlerFunc {
	return infoHandler{deps: deps, name: "help", reply: func(string) string {
		return deps.Config.Messages.Help
	}}.Handle
}

// infoHandler answers a command with text that needs no AI round trip.
type infoHandler struct {
	deps  HandlerDeps
	name  string
	reply func(userID string) string
}

func (h infoHandler) Handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	msg := updateMessage(update)
	if msg == nil || msg.From == nil {
		return
	}
	userID := userKey(msg.From)
	log := h.deps.Logger.With("handler", h.name, "user_id", userID)

	log.DebugContext(ctx, "Handling info command", "chat_id", msg.Chat.ID)
	send(ctx, b, log, msg.Chat.ID, h.reply(userID))
}
