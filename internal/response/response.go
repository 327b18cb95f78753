// Package response produces the user-facing reply in the user's language,
// conditioned on the analysis of their message. Generation never fails: when
// the AI is unavailable a fixed localized safety message is returned.
package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/edgard/safeline/internal/analysis"
	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/gemini"
	"github.com/edgard/safeline/internal/language"
	"github.com/edgard/safeline/internal/logger"
	"github.com/edgard/safeline/internal/text"
)

// Tone describes the register of a reply.
type Tone string

// Tones.
const (
	ToneUrgent      Tone = "urgent"
	ToneSupportive  Tone = "supportive"
	ToneCalm        Tone = "calm"
	ToneInformative Tone = "informative"
)

var tones = []Tone{ToneUrgent, ToneSupportive, ToneCalm, ToneInformative}

const (
	maxActionItems   = 5
	historyTurns     = 4
	maxWords         = 80
	maxResponseRunes = 1200
)

// Reply is the generated answer to one user message.
type Reply struct {
	Response        string   `json:"response"`
	ResponseEnglish string   `json:"response_english"`
	ActionItems     []string `json:"action_items"`
	Tone            Tone     `json:"tone"`
}

// Generator writes replies through the AI capability.
type Generator struct {
	client      gemini.Client
	log         *slog.Logger
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

// NewGenerator creates a Generator using the response generation settings of cfg.
func NewGenerator(client gemini.Client, cfg config.GeminiConfig, log *slog.Logger) *Generator {
	return &Generator{
		client:      client,
		log:         log.With("component", "response_generator"),
		temperature: cfg.ResponseTemperature,
		maxTokens:   cfg.ResponseMaxTokens,
		timeout:     cfg.ResponseTimeout,
	}
}

// Generate writes the reply to message in languageCode. The returned Reply
// always has a non-empty Response.
func (g *Generator) Generate(ctx context.Context, message string, result analysis.Result, languageCode string, history []conversation.Turn) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			g.log.ErrorContext(ctx, "Response generation panicked, using fallback", "panic", r)
			reply = Fallback(languageCode)
		}
	}()

	turns := gemini.HistoryTurns(history, historyTurns)
	turns = append(turns, gemini.Turn{Role: gemini.RoleUser, Text: userPrompt(message, result, languageCode)})

	raw, err := g.client.Generate(ctx, gemini.Request{
		SystemInstruction: systemPrompt(result, languageCode),
		Turns:             turns,
		Temperature:       g.temperature,
		MaxOutputTokens:   g.maxTokens,
		Timeout:           g.timeout,
		JSON:              true,
		Schema:            replySchema,
	})
	if err != nil {
		g.log.WarnContext(ctx, "AI response unavailable, using fallback", "error", err, "language", languageCode)
		return Fallback(languageCode)
	}

	reply, err = parse(raw, result, languageCode)
	if err != nil {
		g.log.WarnContext(ctx, "AI response unreadable, using fallback",
			"error", err, "raw_preview", logger.Preview(raw, 200))
		return Fallback(languageCode)
	}
	return reply
}

var errEmptyReply = errors.New("empty reply")

func parse(raw string, result analysis.Result, languageCode string) (Reply, error) {
	body := strings.TrimSpace(raw)
	start := strings.Index(body, "{")
	if start < 0 {
		// A plain-text answer is still a usable reply.
		return normalize(Reply{Response: body}, result, languageCode)
	}
	end := strings.LastIndex(body, "}")
	if end < start {
		return Reply{}, errors.New("unterminated JSON object")
	}

	var r Reply
	if err := json.Unmarshal([]byte(body[start:end+1]), &r); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return normalize(r, result, languageCode)
}

func normalize(r Reply, result analysis.Result, languageCode string) (Reply, error) {
	r.Response = text.Plain(r.Response)
	if r.Response == "" {
		return Reply{}, errEmptyReply
	}
	if n := []rune(r.Response); len(n) > maxResponseRunes {
		r.Response = string(n[:maxResponseRunes])
	}

	r.ResponseEnglish = text.Plain(r.ResponseEnglish)
	if r.ResponseEnglish == "" && language.Normalize(languageCode) == language.Default {
		r.ResponseEnglish = r.Response
	}

	items := make([]string, 0, len(r.ActionItems))
	for _, item := range r.ActionItems {
		if item = text.Plain(item); item != "" {
			items = append(items, item)
		}
		if len(items) == maxActionItems {
			break
		}
	}
	r.ActionItems = items

	r.Tone = Tone(strings.ToLower(strings.TrimSpace(string(r.Tone))))
	valid := false
	for _, t := range tones {
		if r.Tone == t {
			valid = true
			break
		}
	}
	if !valid {
		r.Tone = defaultTone(result)
	}
	return r, nil
}

func defaultTone(result analysis.Result) Tone {
	switch {
	case result.IsEmergency || result.RiskScore >= 8:
		return ToneUrgent
	case result.RiskScore >= 5 || result.IsAbuseOrHarassment:
		return ToneSupportive
	default:
		return ToneInformative
	}
}

// Urgency maps a risk score to the band named in the prompt.
func Urgency(risk int) string {
	switch {
	case risk >= 8:
		return "URGENT EMERGENCY"
	case risk >= 5:
		return "concerning situation"
	default:
		return "query"
	}
}

const systemInstruction = `You are a calm, caring safety assistant for women in India. You reply to people who may be in danger, being harassed, or looking for safety and legal information.

## REPLY RULES [CRITICAL]
- Reply only in the requested language, in its native script.
- Keep the reply under 80 words.
- For emergencies, start with the single most important action.
- Mention relevant helplines by number (112 emergency, 1091 women helpline, 181 domestic abuse, 100 police, 108 ambulance).
- Never blame the user. Never promise that help is already on its way.

## OUTPUT FORMAT
Return one JSON object with:
- response: the reply in the requested language
- response_english: the same reply in English
- action_items: up to 5 short concrete steps, in the requested language
- tone: one of urgent, supportive, calm, informative`

const (
	directiveEmergency = "This is an emergency. Be directive: short imperative steps, most important first, and tell the user to call 112 if they can."
	directiveSupport   = "This is not an emergency. Be supportive and informative without alarming the user."
)

// systemPrompt specializes the base instruction with the urgency band, the
// target language and how directive the reply must be.
func systemPrompt(result analysis.Result, languageCode string) string {
	directive := directiveSupport
	if result.IsEmergency {
		directive = directiveEmergency
	}
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n## THIS CONVERSATION\n")
	fmt.Fprintf(&b, "- Urgency: %s\n", Urgency(result.RiskScore))
	fmt.Fprintf(&b, "- Reply language: %s (%s)\n", language.Name(languageCode), language.Normalize(languageCode))
	fmt.Fprintf(&b, "- %s", directive)
	return b.String()
}

var replySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"response":         {Type: genai.TypeString},
		"response_english": {Type: genai.TypeString},
		"action_items":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
		"tone":             {Type: genai.TypeString, Enum: []string{"urgent", "supportive", "calm", "informative"}},
	},
	Required: []string{"response", "response_english", "action_items", "tone"},
}

func userPrompt(message string, result analysis.Result, languageCode string) string {
	name := language.Name(languageCode)
	var b strings.Builder
	fmt.Fprintf(&b, "Situation: %s (risk %d/10, intent %s, emergency type %s).\n",
		Urgency(result.RiskScore), result.RiskScore, result.Intent, result.EmergencyType)
	if len(result.RiskFactors) > 0 {
		fmt.Fprintf(&b, "Risk factors: %s.\n", strings.Join(result.RiskFactors, "; "))
	}
	if len(result.SuggestedHelplines) > 0 {
		fmt.Fprintf(&b, "Suggested helplines: %s.\n", strings.Join(result.SuggestedHelplines, ", "))
	}
	fmt.Fprintf(&b, "Reply in %s (%s) in at most %d words.\n\n", name, language.Normalize(languageCode), maxWords)
	b.WriteString("User message:\n")
	b.WriteString(message)
	return b.String()
}
