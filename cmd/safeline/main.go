// Package main contains the entrypoint for the Safeline service.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/safeline/internal/analysis"
	"github.com/edgard/safeline/internal/api"
	"github.com/edgard/safeline/internal/audit"
	"github.com/edgard/safeline/internal/bot"
	"github.com/edgard/safeline/internal/bot/handlers"
	"github.com/edgard/safeline/internal/bot/tasks"
	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/database"
	"github.com/edgard/safeline/internal/engine"
	"github.com/edgard/safeline/internal/gemini"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/logger"
	"github.com/edgard/safeline/internal/response"
	"github.com/edgard/safeline/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run wires every component, blocks until shutdown and returns the exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	gemClient, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	conv, err := conversation.New(ctx, cfg.Conversation, cfg.Engine.DefaultLanguage, log)
	if err != nil {
		log.Error("Failed to initialize conversation store", "backend", cfg.Conversation.Backend, "error", err)
		return 1
	}
	if closer, ok := conv.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Warn("Error closing conversation store", "error", err)
			}
		}()
	}

	recorder := audit.NewRecorder(store, cfg.Audit, log)
	archive := audit.NewArchive(store)

	incidents := incident.NewCoordinator(
		incident.WithSink(recorder),
		incident.WithArchive(archive),
		incident.WithLogger(log),
	)
	if _, err := incidents.Restore(ctx); err != nil {
		log.Error("Failed to restore open incidents", "error", err)
		return 1
	}

	eng := engine.New(engine.Deps{
		Conversations: conv,
		Analyzer:      analysis.NewAnalyzer(gemClient, cfg.Gemini, log),
		Responder:     response.NewGenerator(gemClient, cfg.Gemini, log),
		Incidents:     incidents,
		Audit:         recorder,
		History:       archive,
		Config:        cfg.Engine,
		Logger:        log,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(api.NewHandler(eng, store, log), cfg.Gemini.RequestBudget(), log),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	var tg *tgbot.Bot
	if cfg.Telegram.Enabled {
		hDeps := handlers.HandlerDeps{
			Logger: log,
			Config: cfg,
			Engine: eng,
		}
		var commands map[string]handlers.RegisteredHandler
		tg, commands, err = telegram.New(cfg.Telegram.Token, hDeps)
		if err != nil {
			log.Error("Failed to create Telegram bot", "error", err)
			return 1
		}
		menuCtx, cancelMenu := context.WithTimeout(ctx, 10*time.Second)
		if err := telegram.PublishCommands(menuCtx, tg, commands); err != nil {
			log.Warn("Failed to publish Telegram command menu", "error", err)
		}
		cancelMenu()
	}

	tDeps := tasks.TaskDeps{
		Logger:        log,
		Store:         store,
		Conversations: conv,
		Incidents:     incidents,
		Config:        cfg,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, server, tg, sched, recorder)

	log.Info("Starting Safeline...", "addr", cfg.HTTP.Addr, "telegram", cfg.Telegram.Enabled)
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Safeline stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	written, failed, dropped := recorder.Stats()
	log.Info("Safeline stopped gracefully.", "audit_written", written, "audit_failed", failed, "audit_dropped", dropped)
	return 0
}
