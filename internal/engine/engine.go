// Package engine is the emergency orchestrator. For each inbound message it
// reads the conversation, assesses the message, decides whether to open an
// incident on the user's behalf, writes the reply and records the exchange.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/safeline/internal/analysis"
	"github.com/edgard/safeline/internal/audit"
	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/language"
	"github.com/edgard/safeline/internal/logger"
	"github.com/edgard/safeline/internal/response"
	"github.com/edgard/safeline/internal/text"
)

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid request")

// Source tells how a message was captured.
type Source string

// Sources.
const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
)

const maxAutoMessageRunes = 160

// Analyzer assesses a message. Implementations never fail.
type Analyzer interface {
	Analyze(ctx context.Context, text string, opts analysis.Options) analysis.Result
}

// Responder writes the reply to a message. Implementations never fail.
type Responder interface {
	Generate(ctx context.Context, text string, result analysis.Result, languageCode string, history []conversation.Turn) response.Reply
}

// Auditor accepts best-effort persistence events without blocking.
type Auditor interface {
	Enqueue(ctx context.Context, ev audit.Event) bool
}

// HistoryReader reads persisted chat history.
type HistoryReader interface {
	ChatHistory(ctx context.Context, userID string, limit int) ([]audit.HistoryEntry, error)
}

// Deps bundles the collaborators of an Engine.
type Deps struct {
	Conversations conversation.Store
	Analyzer      Analyzer
	Responder     Responder
	Incidents     *incident.Coordinator
	Audit         Auditor
	History       HistoryReader
	Config        config.EngineConfig
	Logger        *slog.Logger
}

// Engine orchestrates message handling and incident operations.
type Engine struct {
	conv      conversation.Store
	analyzer  Analyzer
	responder Responder
	incidents *incident.Coordinator
	audit     Auditor
	history   HistoryReader
	cfg       config.EngineConfig
	log       *slog.Logger
}

// New creates an Engine.
func New(deps Deps) *Engine {
	return &Engine{
		conv:      deps.Conversations,
		analyzer:  deps.Analyzer,
		responder: deps.Responder,
		incidents: deps.Incidents,
		audit:     deps.Audit,
		history:   deps.History,
		cfg:       deps.Config,
		log:       deps.Logger.With("component", "engine"),
	}
}

// MessageRequest is an inbound user message.
type MessageRequest struct {
	UserID   string
	Message  string
	Source   Source
	Language string
}

// MessageResult is the composite answer to a message.
type MessageResult struct {
	Response         string             `json:"response"`
	ResponseEnglish  string             `json:"response_english"`
	ActionItems      []string           `json:"action_items"`
	Tone             response.Tone      `json:"tone"`
	Language         string             `json:"language"`
	Analysis         analysis.Result    `json:"analysis"`
	AutoSOSTriggered bool               `json:"auto_sos_triggered"`
	Incident         *incident.Incident `json:"incident,omitempty"`
	IncidentReused   bool               `json:"incident_reused"`
}

// AnalyzeResult is the answer to an analyze-only request.
type AnalyzeResult struct {
	Language string          `json:"language"`
	Analysis analysis.Result `json:"analysis"`
}

func (r *MessageRequest) validate() error {
	r.UserID = strings.TrimSpace(r.UserID)
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	r.Message = text.Clean(r.Message)
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	switch r.Source {
	case "":
		r.Source = SourceText
	case SourceText, SourceVoice:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, r.Source)
	}
	if r.Language != "" {
		code := language.Normalize(r.Language)
		if !language.IsSupported(code) {
			return fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, r.Language)
		}
		r.Language = code
	}
	return nil
}

// ProcessMessage runs the full pipeline for one message. It only fails on
// invalid input: AI outages and persistence failures degrade to fallbacks.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) (MessageResult, error) {
	startTime := time.Now()
	if err := req.validate(); err != nil {
		return MessageResult{}, err
	}

	lang, history, result := e.assess(ctx, req)

	reply := e.responder.Generate(ctx, req.Message, result, lang, history)
	e.conv.AddTurn(ctx, req.UserID, req.Message, reply.Response)

	out := MessageResult{
		Response:        reply.Response,
		ResponseEnglish: reply.ResponseEnglish,
		ActionItems:     reply.ActionItems,
		Tone:            reply.Tone,
		Language:        lang,
		Analysis:        result,
	}

	if e.shouldAutoTrigger(result) {
		inc, reused, err := e.incidents.Trigger(ctx, req.UserID, incident.TriggerRequest{
			TriggerType:   incident.TriggerAuto,
			Description:   req.Message,
			RiskScore:     result.RiskScore,
			EmergencyType: incidentType(result.EmergencyType),
			PanicMode:     result.RiskScore >= e.cfg.PanicMinRisk,
			AutoMessage:   AutoMessage(result),
		})
		if err != nil {
			e.log.ErrorContext(ctx, "Auto-trigger failed", "user_id", req.UserID, "error", err)
		} else {
			out.AutoSOSTriggered = true
			out.Incident = &inc
			out.IncidentReused = reused
		}
	}

	e.enqueue(ctx, audit.ChatPairEvent(audit.ChatPair{
		UserID:        req.UserID,
		UserText:      req.Message,
		AssistantText: reply.Response,
		Source:        string(req.Source),
		Language:      lang,
		Analysis:      &result,
		At:            startTime,
	}))
	if result.RiskScore >= e.cfg.HighRiskAuditMin || result.IsAbuseOrHarassment {
		incidentID := ""
		if out.Incident != nil {
			incidentID = out.Incident.ID
		}
		e.enqueue(ctx, audit.HighRiskEvent(req.UserID, req.Message, result, incidentID))
	}

	e.log.InfoContext(ctx, "Message processed",
		"user_id", req.UserID,
		"source", req.Source,
		"language", lang,
		"risk_score", result.RiskScore,
		"intent", result.Intent,
		"auto_sos_triggered", out.AutoSOSTriggered,
		"incident_reused", out.IncidentReused,
		"message_preview", logger.Preview(req.Message, 50),
		"duration_ms", time.Since(startTime).Milliseconds())
	return out, nil
}

// Analyze assesses a message without replying to it or opening incidents.
func (e *Engine) Analyze(ctx context.Context, req MessageRequest) (AnalyzeResult, error) {
	if err := req.validate(); err != nil {
		return AnalyzeResult{}, err
	}
	lang, _, result := e.assess(ctx, req)
	return AnalyzeResult{Language: lang, Analysis: result}, nil
}

// assess applies the language override, reads the session and analyzes the
// message, adopting a confidently detected language when no override was given.
func (e *Engine) assess(ctx context.Context, req MessageRequest) (string, []conversation.Turn, analysis.Result) {
	if req.Language != "" {
		e.setLanguage(ctx, req.UserID, req.Language, "explicit")
	}

	history := e.conv.History(ctx, req.UserID)
	lang := e.conv.Language(ctx, req.UserID)

	result := e.analyzer.Analyze(ctx, req.Message, analysis.Options{History: history, LanguageHint: lang})

	if req.Language == "" {
		detected := language.Normalize(result.DetectedLanguage)
		if detected != lang && language.IsSupported(detected) && result.Confidence >= e.cfg.LanguageConfidence {
			e.setLanguage(ctx, req.UserID, detected, "detected")
			lang = detected
		}
	}
	return lang, history, result
}

func (e *Engine) shouldAutoTrigger(result analysis.Result) bool {
	return result.NeedsImmediateHelp && result.RiskScore >= e.cfg.AutoTriggerMinRisk
}

func (e *Engine) setLanguage(ctx context.Context, userID, code, reason string) {
	prev := e.conv.Language(ctx, userID)
	e.conv.SetLanguage(ctx, userID, code)
	if prev != code {
		e.log.DebugContext(ctx, "Language changed", "user_id", userID, "from", prev, "to", code, "reason", reason)
		e.enqueue(ctx, audit.LanguageChangedEvent(userID, prev, code, reason))
	}
}

func (e *Engine) enqueue(ctx context.Context, ev audit.Event) {
	if e.audit != nil {
		e.audit.Enqueue(ctx, ev)
	}
}

// incidentType maps an assessment without a classified emergency to "other",
// since an opened incident always is one.
func incidentType(t analysis.EmergencyType) string {
	if t == analysis.EmergencyNone {
		return string(analysis.EmergencyOther)
	}
	return string(t)
}

// AutoMessage builds the responder-facing summary of an auto-triggered incident.
func AutoMessage(result analysis.Result) string {
	hint := strings.TrimSpace(result.AutoMessageHint)
	if hint == "" {
		hint = "Emergency detected"
	}
	suffix := fmt.Sprintf(" (risk %d/10, %s)", result.RiskScore, strings.ReplaceAll(string(result.EmergencyType), "_", " "))
	const prefix = "SOS: "

	avail := maxAutoMessageRunes - len([]rune(prefix)) - len([]rune(suffix))
	if r := []rune(hint); len(r) > avail {
		hint = strings.TrimSpace(string(r[:max(avail, 0)]))
	}
	return prefix + hint + suffix
}
