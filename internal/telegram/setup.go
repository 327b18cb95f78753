// Package telegram builds the optional Telegram transport: the bot client,
// its update pipeline and the command menu users see.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/safeline/internal/bot/handlers"
	"github.com/edgard/safeline/internal/logger"
)

// New creates the bot with update logging, the free-text and location
// handler as default, and every command registered behind its middleware.
// Extra options are applied last.
func New(token string, deps handlers.HandlerDeps, opts ...bot.Option) (*bot.Bot, map[string]handlers.RegisteredHandler, error) {
	if token == "" {
		return nil, nil, errors.New("telegram bot token cannot be empty")
	}
	log := deps.Logger.With("component", "telegram")

	base := []bot.Option{
		bot.WithMiddlewares(logger.Middleware(deps.Logger)),
		bot.WithDefaultHandler(handlers.NewMessageHandler(deps)),
	}
	b, err := bot.New(token, append(base, opts...)...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	commands := handlers.RegisterAllCommands(deps)
	for name, h := range commands {
		if h.Handler == nil {
			log.Warn("Skipping command without handler", "command", name)
			continue
		}
		b.RegisterHandler(h.HandlerType, h.Pattern, h.MatchType, chain(h.Handler, h.Middleware))
	}

	log.Info("Telegram bot ready", "commands", len(commands))
	return b, commands, nil
}

// chain wraps handler so that mw[0] runs first.
func chain(handler bot.HandlerFunc, mw []bot.Middleware) bot.HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		handler = mw[i](handler)
	}
	return handler
}

// menu lists the commands that carry a description, sorted by name.
func menu(commands map[string]handlers.RegisteredHandler) []models.BotCommand {
	out := make([]models.BotCommand, 0, len(commands))
	for _, h := range commands {
		if h.Description == "" {
			continue
		}
		out = append(out, models.BotCommand{Command: h.Pattern, Description: h.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// PublishCommands replaces the command menu shown by Telegram clients.
func PublishCommands(ctx context.Context, b *bot.Bot, commands map[string]handlers.RegisteredHandler) error {
	items := menu(commands)
	if len(items) == 0 {
		return nil
	}
	if _, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: items}); err != nil {
		return fmt.Errorf("failed to publish command menu: %w", err)
	}
	return nil
}
