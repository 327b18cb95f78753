// Package gemini implements the external AI capability on top of Google's Gemini API.
// Callers submit role-tagged turns plus generation parameters and get text back,
// or an error when the call fails, times out or is blocked.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/resilience"
)

// ErrNotConfigured is returned by every call when no API key is configured.
var ErrNotConfigured = errors.New("gemini API key is not configured")

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("gemini returned empty content")

// Role tags a prompt turn.
type Role string

// Prompt turn roles.
const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one role-tagged prompt entry.
type Turn struct {
	Role Role
	Text string
}

// HistoryTurns converts the last limit entries of a conversation history into
// prompt turns. A non-positive limit yields no turns.
func HistoryTurns(history []conversation.Turn, limit int) []Turn {
	if limit <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	turns := make([]Turn, 0, len(history))
	for _, h := range history {
		role := RoleUser
		if h.Role == conversation.RoleAssistant {
			role = RoleModel
		}
		turns = append(turns, Turn{Role: role, Text: h.Text})
	}
	return turns
}

// Request describes a single generation call.
type Request struct {
	SystemInstruction string
	Turns             []Turn
	Temperature       float32
	MaxOutputTokens   int32
	Timeout           time.Duration
	// JSON asks the model for an application/json answer, optionally shaped by Schema.
	JSON   bool
	Schema *genai.Schema
}

// Client defines the AI operations used throughout the application.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a plain function to the Client interface.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Generate calls f(ctx, req).
func (f ClientFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type sdkClient struct {
	genaiClient *genai.Client
	log         *slog.Logger
	modelName   string
	maxRetries  int
	retryDelay  time.Duration
}

// NewClient creates a Gemini client from configuration. Without an API key it
// returns a client whose calls always fail with ErrNotConfigured, so the rest of
// the engine keeps working on its fallbacks.
func NewClient(ctx context.Context, cfg config.GeminiConfig, log *slog.Logger) (Client, error) {
	logger := log.With("component", "gemini_client")

	if cfg.APIKey == "" {
		logger.Warn("Gemini API key not configured, AI analysis will run on fallbacks")
		return unavailableClient{}, nil
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	var client Client = &sdkClient{
		genaiClient: gi,
		log:         logger,
		modelName:   cfg.ModelName,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
	if cfg.BreakerFailures > 0 {
		client = WithCircuitBreaker(client, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "gemini",
			MaxFailures: cfg.BreakerFailures,
			Cooldown:    cfg.BreakerCooldown,
			Logger:      logger,
		}))
	}

	logger.Info("Gemini client initialized successfully", "model", cfg.ModelName, "breaker_failures", cfg.BreakerFailures)
	return client, nil
}

type unavailableClient struct{}

func (unavailableClient) Generate(context.Context, Request) (string, error) {
	return "", ErrNotConfigured
}

// safetySettings disables blocking: the engine must be able to read messages
// describing violence, abuse or self-harm in order to assess them.
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// Generate runs one bounded generation call.
func (c *sdkClient) Generate(ctx context.Context, req Request) (string, error) {
	if len(req.Turns) == 0 {
		return "", fmt.Errorf("gemini request has no turns")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	contents := make([]*genai.Content, 0, len(req.Turns))
	for _, t := range req.Turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}

	temperature := req.Temperature
	genCfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		SafetySettings:  safetySettings,
	}
	if req.SystemInstruction != "" {
		genCfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if req.JSON {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = req.Schema
	}

	c.log.DebugContext(ctx, "Calling Gemini", "turns", len(contents), "json", req.JSON, "timeout", req.Timeout)

	resp, err := c.generateContentWithRetries(ctx, contents, genCfg)
	if err != nil {
		return "", err
	}
	return c.extractText(ctx, resp)
}

func (c *sdkClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var err error
	for i := 0; i <= c.maxRetries; i++ {
		var resp *genai.GenerateContentResponse
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
		if err == nil {
			return resp, nil
		}

		var apiErr genai.APIError
		retriable := errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503)
		if !retriable || i == c.maxRetries {
			c.log.WarnContext(ctx, "Gemini API call failed", "attempt", i+1, "retriable", retriable, "error", err)
			break
		}

		c.log.InfoContext(ctx, "Retrying Gemini API call", "attempt", i+1, "delay", c.retryDelay, "code", apiErr.Code)
		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("gemini API call aborted during retry: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("gemini API call failed: %w", err)
}

func (c *sdkClient) extractText(ctx context.Context, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrEmptyResponse
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" && pf.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		c.log.WarnContext(ctx, "Gemini request blocked", "reason", reason)
		return "", fmt.Errorf("gemini request blocked: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		c.log.WarnContext(ctx, "Gemini response missing candidates or content", "finish_reason", finishReason)
		return "", fmt.Errorf("%w (finish reason: %s)", ErrEmptyResponse, finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
