package gemini

import (
	"context"

	"github.com/edgard/safeline/internal/resilience"
)

// breakerClient short-circuits calls while the upstream keeps failing, so
// callers reach their fallbacks without waiting for a timeout.
type breakerClient struct {
	next    Client
	breaker *resilience.CircuitBreaker
}

// WithCircuitBreaker wraps next with breaker.
func WithCircuitBreaker(next Client, breaker *resilience.CircuitBreaker) Client {
	return &breakerClient{next: next, breaker: breaker}
}

func (c *breakerClient) Generate(ctx context.Context, req Request) (string, error) {
	var text string
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = c.next.Generate(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
