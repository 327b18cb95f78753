package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/gemini"
	"github.com/edgard/safeline/internal/logger"
)

func testConfig() config.GeminiConfig {
	return config.GeminiConfig{
		AnalysisTemperature: config.DefaultAnalysisTemperature,
		AnalysisMaxTokens:   config.DefaultAnalysisMaxTokens,
		AnalysisTimeout:     config.DefaultAnalysisTimeout,
		AnalysisHistory:     config.DefaultAnalysisHistory,
	}
}

func TestAnalyzeHighRisk(t *testing.T) {
	t.Parallel()

	var req gemini.Request
	client := gemini.ClientFunc(func(_ context.Context, r gemini.Request) (string, error) {
		req = r
		return "```json\n" + `{
			"intent": "emergency",
			"emergency_type": "physical_danger",
			"is_emergency": true,
			"is_abuse_or_harassment": false,
			"emotion": {"primary": "fear", "intensity": 9, "indicators": ["following"]},
			"risk_score": 9,
			"risk_factors": ["being followed", "alone at night"],
			"needs_immediate_help": true,
			"suggested_helplines": ["112", "1091"],
			"auto_message_hint": "Being followed by a stranger at night",
			"detected_language": "en",
			"confidence": 0.9
		}` + "\n```", nil
	})

	a := NewAnalyzer(client, testConfig(), logger.Discard())
	r := a.Analyze(context.Background(), "Someone is following me", Options{LanguageHint: "en"})

	assert.Equal(t, IntentEmergency, r.Intent)
	assert.Equal(t, 9, r.RiskScore)
	assert.True(t, r.NeedsImmediateHelp)
	assert.Equal(t, "Being followed by a stranger at night", r.AutoMessageHint)
	assert.Equal(t, 0.9, r.Confidence)

	assert.True(t, req.JSON)
	assert.NotNil(t, req.Schema)
	assert.InDelta(t, 0.05, req.Temperature, 1e-6)
	assert.Equal(t, int32(400), req.MaxOutputTokens)
	require.Len(t, req.Turns, 1)
	assert.Contains(t, req.Turns[0].Text, "[Language hint: en]")
	assert.Contains(t, req.Turns[0].Text, "Someone is following me")
}

func TestAnalyzeBoundsHistory(t *testing.T) {
	t.Parallel()

	var history []conversation.Turn
	for i := 0; i < 10; i++ {
		history = append(history,
			conversation.Turn{Role: conversation.RoleUser, Text: "q"},
			conversation.Turn{Role: conversation.RoleAssistant, Text: "a"})
	}

	var turns int
	client := gemini.ClientFunc(func(_ context.Context, r gemini.Request) (string, error) {
		turns = len(r.Turns)
		return `{"risk_score": 2}`, nil
	})

	a := NewAnalyzer(client, testConfig(), logger.Discard())
	a.Analyze(context.Background(), "hello", Options{History: history})

	assert.Equal(t, 7, turns, "six history entries plus the new message")
}

func TestAnalyzeFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		client gemini.Client
	}{
		{
			name: "ai error",
			client: gemini.ClientFunc(func(context.Context, gemini.Request) (string, error) {
				return "", errors.New("503 unavailable")
			}),
		},
		{
			name: "unparseable",
			client: gemini.ClientFunc(func(context.Context, gemini.Request) (string, error) {
				return "I cannot help with that", nil
			}),
		},
		{
			name: "timeout",
			client: gemini.ClientFunc(func(ctx context.Context, _ gemini.Request) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			}),
		},
		{
			name: "panic",
			client: gemini.ClientFunc(func(context.Context, gemini.Request) (string, error) {
				panic("boom")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancel(context.Background())
			if tt.name == "timeout" {
				cancel()
			} else {
				defer cancel()
			}

			a := NewAnalyzer(tt.client, testConfig(), logger.Discard())
			assert.Equal(t, Fallback(), a.Analyze(ctx, "help", Options{}))
		})
	}
}

func TestUserPromptTruncatesInput(t *testing.T) {
	t.Parallel()

	p := userPrompt(strings.Repeat("z", maxInputRunes+500), "")
	assert.NotContains(t, p, "Language hint")
	assert.Equal(t, maxInputRunes, strings.Count(p, "z"))
}
