package handlers

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/engine"
	"github.com/edgard/safeline/internal/incident"
)

const (
	sendMessageTimeout  = 10 * time.Second
	aiProcessingTimeout = 2 * time.Minute
	typingInterval      = 4 * time.Second
)

// userKey maps a Telegram user to the engine's user id.
func userKey(u *models.User) string {
	return "tg:" + strconv.FormatInt(u.ID, 10)
}

// updateMessage returns the message carried by update, preferring a new
// message over an edit.
func updateMessage(update *models.Update) *models.Message {
	if update == nil {
		return nil
	}
	if update.Message != nil {
		return update.Message
	}
	return update.EditedMessage
}

// commandArgs returns the text after the leading "/command" or "/command@bot" token.
func commandArgs(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return text
	}
	_, rest, _ := strings.Cut(text, " ")
	return strings.TrimSpace(rest)
}

// toLocation converts a Telegram location. Edits of live locations carry
// their own edit date.
func toLocation(msg *models.Message) incident.Location {
	ts := msg.Date
	if msg.EditDate > 0 {
		ts = msg.EditDate
	}
	loc := incident.Location{
		Latitude:  msg.Location.Latitude,
		Longitude: msg.Location.Longitude,
		Accuracy:  msg.Location.HorizontalAccuracy,
	}
	if ts > 0 {
		loc.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	return loc
}

// formatReply renders an engine answer as a chat message.
func formatReply(res engine.MessageResult, msgs config.MessagesConfig) string {
	var sb strings.Builder
	sb.WriteString(res.Response)

	if len(res.ActionItems) > 0 {
		sb.WriteString("\n")
		for _, item := range res.ActionItems {
			sb.WriteString("\n• ")
			sb.WriteString(item)
		}
	}

	if res.Incident != nil {
		sb.WriteString("\n\n")
		if res.IncidentReused {
			sb.WriteString(msgs.SOSAlreadyActive)
		} else {
			sb.WriteString(msgs.SOSTriggered)
		}
	}
	return sb.String()
}

// send delivers text to chatID, logging failures.
func send(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64, text string) {
	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	if _, err := b.SendMessage(sendCtx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		log.ErrorContext(ctx, "Failed to send message", "error", err, "chat_id", chatID)
	}
}

// keepTyping shows the typing indicator in chatID until ctx is done.
func keepTyping(ctx context.Context, b *bot.Bot, log *slog.Logger, chatID int64) {
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()

	for {
		if _, err := b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil && ctx.Err() == nil {
			log.DebugContext(ctx, "Typing action failed", "error", err, "chat_id", chatID)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
