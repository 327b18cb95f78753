// Package bot implements lifecycle management and component orchestration
// for the Safeline service.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Worker is a background component that runs until ctx is cancelled.
type Worker interface {
	Run(ctx context.Context) error
}

// Bot owns the long-running components and their lifecycle.
type Bot struct {
	logger    *slog.Logger
	server    *http.Server
	tgBot     *tgbot.Bot
	scheduler *Scheduler
	workers   []Worker
}

// NewBot creates the orchestrator. tg may be nil when the Telegram transport
// is disabled.
func NewBot(
	logger *slog.Logger,
	server *http.Server,
	tg *tgbot.Bot,
	scheduler *Scheduler,
	workers ...Worker,
) *Bot {
	return &Bot{
		logger:    logger.With("component", "orchestrator"),
		server:    server,
		tgBot:     tg,
		scheduler: scheduler,
		workers:   workers,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails, then shuts the rest down. Workers are stopped last, once the
// HTTP server, Telegram listener and scheduler can no longer hand them work.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting orchestrator...")

	producerCtx, stopProducers := context.WithCancelCause(ctx)
	defer stopProducers(nil)
	g, gCtx := errgroup.WithContext(producerCtx)

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	var workers errgroup.Group
	for _, w := range b.workers {
		workers.Go(func() error {
			err := w.Run(workerCtx)
			if err != nil {
				stopProducers(err)
			}
			return err
		})
	}

	g.Go(func() error {
		b.logger.Info("Starting HTTP server", "addr", b.server.Addr)
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		b.logger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), shutdownTimeout)
		defer cancel()
		if err := b.server.Shutdown(shutdownCtx); err != nil {
			b.logger.Error("Error shutting down HTTP server", "error", err)
		}
		return nil
	})

	if b.tgBot != nil {
		g.Go(func() error {
			b.logger.Info("Starting Telegram bot listener...")

			b.tgBot.Start(gCtx)
			b.logger.Info("Telegram bot listener stopped.")

			if gCtx.Err() == nil {
				b.logger.Warn("Telegram bot listener stopped unexpectedly without context cancellation.")
				return fmt.Errorf("telegram listener stopped unexpectedly")
			}
			return nil
		})
	}

	if b.scheduler != nil {
		g.Go(func() error {
			if err := b.scheduler.Start(); err != nil {
				b.logger.Error("Failed to start scheduler", "error", err)
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			<-gCtx.Done()
			b.logger.Info("Shutdown signal received, stopping scheduler...")

			if err := b.scheduler.Stop(); err != nil {
				b.logger.Error("Error stopping scheduler", "error", err)
			}
			return nil
		})
	}

	b.logger.Info("Orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	b.logger.Info("Producers stopped, stopping workers...")
	stopWorkers()
	if werr := workers.Wait(); err == nil {
		err = werr
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Orchestrator stopped gracefully.")
	return nil
}
