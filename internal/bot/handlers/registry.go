package handlers

import (
	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/safeline/internal/incident"
)

// RegisteredHandler represents a command handler with its middleware.
// It encapsulates all information needed to register a command.
type RegisteredHandler struct {
	HandlerType tgbot.HandlerType
	Pattern     string
	// Description is shown in the Telegram command menu.
	Description string
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
	MatchType   tgbot.MatchType
}

func command(pattern, description string, h tgbot.HandlerFunc, mw []tgbot.Middleware) RegisteredHandler {
	return RegisteredHandler{
		HandlerType: tgbot.HandlerTypeMessageText,
		Pattern:     pattern,
		Description: description,
		Handler:     h,
		MatchType:   tgbot.MatchTypeCommandStartOnly,
		Middleware:  mw,
	}
}

// RegisterAllCommands initializes and returns a map of all available bot commands.
// Plain messages and shared locations are served by NewMessageHandler, which
// is installed as the bot's default handler.
func RegisterAllCommands(deps HandlerDeps) map[string]RegisteredHandler {
	mw := []tgbot.Middleware{PrivateOnly(deps)}

	return map[string]RegisteredHandler{
		"/start":      command("start", "Start the assistant", NewStartHandler(deps), mw),
		"/help":       command("help", "How to use this bot", NewHelpHandler(deps), mw),
		"/sos":        command("sos", "Raise an SOS now", NewSOSHandler(deps), mw),
		"/safe":       command("safe", "I am safe, close my SOS", NewResolveHandler(deps, incident.StatusResolved), mw),
		"/cancel":     command("cancel", "Cancel my SOS", NewResolveHandler(deps, incident.StatusCancelled), mw),
		"/falsealarm": command("falsealarm", "My SOS was a false alarm", NewResolveHandler(deps, incident.StatusFalseAlarm), mw),
		"/lang":       command("lang", "Show or change language", NewLanguageHandler(deps), mw),
		"/reset":      command("reset", "Forget this conversation", NewResetHandler(deps), mw),
	}
}
