// Package resilience provides a context-aware circuit breaker built on gobreaker.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen indicates the circuit breaker rejected the call.
var ErrCircuitOpen = gobreaker.ErrOpenState

// CircuitBreakerConfig holds configuration for circuit breakers.
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// HalfOpenLimit caps concurrent trial calls.
	HalfOpenLimit int
	Logger        *slog.Logger
}

// CircuitBreaker fails fast once a dependency keeps failing.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenLimit <= 0 {
		cfg.HalfOpenLimit = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenLimit), //nolint:gosec // bounded by config validation
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures) //nolint:gosec // positive
		},
		// A caller giving up is not a failure of the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			log.Log(context.Background(), level, "Circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
		},
	}

	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs operation through the circuit breaker. It returns
// ErrCircuitOpen without calling operation while the circuit is open.
func (b *CircuitBreaker) Execute(ctx context.Context, operation func(context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, operation(ctx)
	})
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the current state name: closed, half-open or open.
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}
