package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/gemini"
	"github.com/edgard/safeline/internal/logger"
)

// maxInputRunes bounds the user text placed into a prompt.
const maxInputRunes = 4000

// Options carry optional context for an assessment.
type Options struct {
	History      []conversation.Turn
	LanguageHint string
}

// Analyzer assesses user messages through the AI capability.
type Analyzer struct {
	client       gemini.Client
	log          *slog.Logger
	temperature  float32
	maxTokens    int32
	timeout      time.Duration
	historyTurns int
}

// NewAnalyzer creates an Analyzer using the analysis generation settings of cfg.
func NewAnalyzer(client gemini.Client, cfg config.GeminiConfig, log *slog.Logger) *Analyzer {
	return &Analyzer{
		client:       client,
		log:          log.With("component", "analyzer"),
		temperature:  cfg.AnalysisTemperature,
		maxTokens:    cfg.AnalysisMaxTokens,
		timeout:      cfg.AnalysisTimeout,
		historyTurns: cfg.AnalysisHistory,
	}
}

// Analyze returns the normalized assessment of text. It never fails: any AI
// error, timeout, block or unparseable answer yields Fallback().
func (a *Analyzer) Analyze(ctx context.Context, text string, opts Options) (result Result) {
	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.ErrorContext(ctx, "Analysis panicked, using fallback", "panic", r)
			result = Fallback()
		}
	}()

	turns := gemini.HistoryTurns(opts.History, a.historyTurns)
	turns = append(turns, gemini.Turn{Role: gemini.RoleUser, Text: userPrompt(text, opts.LanguageHint)})

	raw, err := a.client.Generate(ctx, gemini.Request{
		SystemInstruction: systemInstruction,
		Turns:             turns,
		Temperature:       a.temperature,
		MaxOutputTokens:   a.maxTokens,
		Timeout:           a.timeout,
		JSON:              true,
		Schema:            resultSchema,
	})
	if err != nil {
		a.log.WarnContext(ctx, "AI analysis unavailable, using fallback", "error", err)
		return Fallback()
	}

	result, err = Parse(raw, text)
	if err != nil {
		a.log.WarnContext(ctx, "AI analysis unreadable, using fallback",
			"error", err, "raw_preview", logger.Preview(raw, 200))
		return Fallback()
	}

	a.log.DebugContext(ctx, "Message analyzed",
		"intent", result.Intent,
		"risk_score", result.RiskScore,
		"needs_immediate_help", result.NeedsImmediateHelp,
		"detected_language", result.DetectedLanguage,
		"duration_ms", time.Since(startTime).Milliseconds())
	return result
}

func userPrompt(text, languageHint string) string {
	var b strings.Builder
	if hint := strings.TrimSpace(languageHint); hint != "" {
		fmt.Fprintf(&b, "[Language hint: %s]\n", hint)
	}
	b.WriteString("Latest message:\n")
	b.WriteString(truncateRunes(text, maxInputRunes))
	return b.String()
}
