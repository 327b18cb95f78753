package handlers

import (
	"log/slog"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/engine"
)

// HandlerDeps provides dependencies for Telegram command handlers.
type HandlerDeps struct {
	Logger *slog.Logger
	Config *config.Config
	Engine *engine.Engine
}
