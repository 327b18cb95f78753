// Package handlers contains Telegram bot command and message handlers,
// along with their registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// PrivateOnly drops updates that do not come from a user in a private chat.
// Emergency conversations are one-to-one; the bot stays silent in groups.
func PrivateOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			msg := updateMessage(update)
			if msg == nil || msg.From == nil {
				deps.Logger.DebugContext(ctx, "Ignoring update without message or sender", "update_id", update.ID)
				return
			}
			if msg.Chat.Type != models.ChatTypePrivate {
				deps.Logger.DebugContext(ctx, "Ignoring update from non-private chat",
					"middleware", "PrivateOnly", "chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type)
				return
			}
			next(ctx, bot, update)
		}
	}
}
