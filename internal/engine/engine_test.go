package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/safeline/internal/analysis"
	"github.com/edgard/safeline/internal/audit"
	"github.com/edgard/safeline/internal/config"
	"github.com/edgard/safeline/internal/conversation"
	"github.com/edgard/safeline/internal/gemini"
	"github.com/edgard/safeline/internal/incident"
	"github.com/edgard/safeline/internal/logger"
	"github.com/edgard/safeline/internal/response"
)

type analyzerFunc func(ctx context.Context, text string, opts analysis.Options) analysis.Result

func (f analyzerFunc) Analyze(ctx context.Context, text string, opts analysis.Options) analysis.Result {
	return f(ctx, text, opts)
}

type recordingAuditor struct {
	mu    sync.Mutex
	kinds []audit.Kind
}

func (a *recordingAuditor) Enqueue(_ context.Context, ev audit.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds = append(a.kinds, ev.Kind)
	return true
}

func (a *recordingAuditor) Kinds() []audit.Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Kind(nil), a.kinds...)
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		AutoTriggerMinRisk: 8,
		PanicMinRisk:       9,
		HighRiskAuditMin:   7,
		DefaultLanguage:    "en",
		LanguageConfidence: 0.6,
	}
}

type fixture struct {
	engine    *Engine
	conv      *conversation.MemoryStore
	incidents *incident.Coordinator
	auditor   *recordingAuditor
}

func newFixture(t *testing.T, a Analyzer, ai gemini.Client) *fixture {
	t.Helper()
	log := logger.Discard()
	if ai == nil {
		ai = gemini.ClientFunc(func(context.Context, gemini.Request) (string, error) {
			return `{"response":"Please call 112 now.","response_english":"Please call 112 now.","action_items":["Call 112"],"tone":"urgent"}`, nil
		})
	}
	f := &fixture{
		conv:      conversation.NewMemoryStore(conversation.WithLogger(log)),
		incidents: incident.NewCoordinator(incident.WithLogger(log)),
		auditor:   &recordingAuditor{},
	}
	f.engine = New(Deps{
		Conversations: f.conv,
		Analyzer:      a,
		Responder: response.NewGenerator(ai, config.GeminiConfig{
			ResponseTemperature: config.DefaultResponseTemperature,
			ResponseMaxTokens:   config.DefaultResponseMaxTokens,
			ResponseTimeout:     config.DefaultResponseTimeout,
		}, log),
		Incidents: f.incidents,
		Audit:     f.auditor,
		Config:    engineConfig(),
		Logger:    log,
	})
	return f
}

func fixedAnalysis(r analysis.Result) Analyzer {
	return analyzerFunc(func(context.Context, string, analysis.Options) analysis.Result { return r })
}

func dangerResult(risk int) analysis.Result {
	return analysis.Result{
		Intent:             analysis.IntentEmergency,
		EmergencyType:      analysis.EmergencyPhysicalDanger,
		IsEmergency:        true,
		RiskScore:          risk,
		NeedsImmediateHelp: true,
		AutoMessageHint:    "User is being followed and is scared",
		DetectedLanguage:   "en",
		Confidence:         0.9,
		Emotion:            analysis.Emotion{Primary: analysis.EmotionFear, Intensity: 9, Indicators: []string{}},
		RiskFactors:        []string{"followed"},
		SuggestedHelplines: []string{"112"},
	}
}

func TestProcessMessageAutoTriggersWithPanicMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(dangerResult(9)), nil)
	ctx := context.Background()

	res, err := f.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", Message: "someone is following me, I'm scared"})
	require.NoError(t, err)

	assert.True(t, res.AutoSOSTriggered)
	assert.False(t, res.IncidentReused)
	require.NotNil(t, res.Incident)
	assert.True(t, res.Incident.PanicMode)
	assert.Equal(t, incident.TriggerAuto, res.Incident.TriggerType)
	assert.Equal(t, incident.StatusActive, res.Incident.Status)
	assert.Equal(t, 9, res.Incident.RiskScore)
	assert.Equal(t, "physical_danger", res.Incident.EmergencyType)
	assert.Equal(t, "SOS: User is being followed and is scared (risk 9/10, physical danger)", res.Incident.AutoMessage)
	assert.Equal(t, "Please call 112 now.", res.Response)

	active, ok := f.engine.ActiveIncident("u1")
	require.True(t, ok)
	assert.Equal(t, res.Incident.ID, active.ID)

	assert.Len(t, f.conv.History(ctx, "u1"), 2)
	assert.Equal(t, []audit.Kind{audit.KindChatPair, audit.KindHighRisk}, f.auditor.Kinds())
}

func TestProcessMessageRiskEightIsNotPanic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(dangerResult(8)), nil)

	res, err := f.engine.ProcessMessage(context.Background(), MessageRequest{UserID: "u1", Message: "he is outside my door"})
	require.NoError(t, err)
	require.True(t, res.AutoSOSTriggered)
	assert.False(t, res.Incident.PanicMode)
}

func TestProcessMessageReusesOpenIncident(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(dangerResult(10)), nil)
	ctx := context.Background()

	manual, _, err := f.engine.TriggerIncident(ctx, TriggerRequest{UserID: "u1", TriggerType: "manual"})
	require.NoError(t, err)

	res, err := f.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", Message: "help me"})
	require.NoError(t, err)
	assert.True(t, res.AutoSOSTriggered)
	assert.True(t, res.IncidentReused)
	assert.Equal(t, manual.ID, res.Incident.ID)
	assert.Equal(t, 1, f.incidents.OpenCount())
}

func TestAutoTriggerWithoutEmergencyTypeRecordsOther(t *testing.T) {
	t.Parallel()
	r := dangerResult(9)
	r.EmergencyType = analysis.EmergencyNone
	f := newFixture(t, fixedAnalysis(r), nil)

	res, err := f.engine.ProcessMessage(context.Background(), MessageRequest{UserID: "u1", Message: "please come quickly"})
	require.NoError(t, err)
	require.NotNil(t, res.Incident)
	assert.Equal(t, "other", res.Incident.EmergencyType)
}

func TestProcessMessageLowRiskNoIncident(t *testing.T) {
	t.Parallel()
	low := analysis.Result{
		Intent:             analysis.IntentInformation,
		EmergencyType:      analysis.EmergencyNone,
		RiskScore:          3,
		DetectedLanguage:   "en",
		Confidence:         0.95,
		Emotion:            analysis.Emotion{Primary: analysis.EmotionNeutral, Intensity: 1, Indicators: []string{}},
		RiskFactors:        []string{},
		SuggestedHelplines: []string{},
	}
	f := newFixture(t, fixedAnalysis(low), nil)

	res, err := f.engine.ProcessMessage(context.Background(), MessageRequest{UserID: "u1", Message: "what are my legal rights at work?"})
	require.NoError(t, err)
	assert.False(t, res.AutoSOSTriggered)
	assert.Nil(t, res.Incident)
	assert.Zero(t, f.incidents.OpenCount())
	assert.Equal(t, []audit.Kind{audit.KindChatPair}, f.auditor.Kinds())
}

func TestProcessMessageNeedsHelpFlagRequired(t *testing.T) {
	t.Parallel()
	r := dangerResult(9)
	r.NeedsImmediateHelp = false
	f := newFixture(t, fixedAnalysis(r), nil)

	res, err := f.engine.ProcessMessage(context.Background(), MessageRequest{UserID: "u1", Message: "it happened last year"})
	require.NoError(t, err)
	assert.False(t, res.AutoSOSTriggered)
	assert.Zero(t, f.incidents.OpenCount())
}

func TestProcessMessageDuringAIOutage(t *testing.T) {
	t.Parallel()
	down := gemini.ClientFunc(func(context.Context, gemini.Request) (string, error) {
		return "", errors.New("connection refused")
	})
	log := logger.Discard()
	a := analysis.NewAnalyzer(down, config.GeminiConfig{AnalysisTimeout: config.DefaultAnalysisTimeout}, log)
	f := newFixture(t, a, down)

	res, err := f.engine.ProcessMessage(context.Background(), MessageRequest{UserID: "u1", Message: "मदद चाहिए", Language: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Analysis.RiskScore)
	assert.Zero(t, res.Analysis.Confidence)
	assert.False(t, res.Analysis.IsEmergency)
	assert.False(t, res.AutoSOSTriggered)
	assert.Equal(t, response.Fallback("hi"), response.Reply{
		Response:        res.Response,
		ResponseEnglish: res.ResponseEnglish,
		ActionItems:     res.ActionItems,
		Tone:            res.Tone,
	})
	assert.Equal(t, "hi", res.Language)
}

func TestProcessMessageLanguageHandling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name       string
		detected   string
		confidence float64
		override   string
		want       string
	}{
		{name: "confident detection adopted", detected: "ta", confidence: 0.8, want: "ta"},
		{name: "low confidence ignored", detected: "ta", confidence: 0.4, want: "en"},
		{name: "unsupported detection ignored", detected: "fr", confidence: 0.99, want: "en"},
		{name: "unknown ignored", detected: "unknown", confidence: 0.99, want: "en"},
		{name: "override wins", detected: "ta", confidence: 0.99, override: "hi-IN", want: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var hint string
			a := analyzerFunc(func(_ context.Context, _ string, opts analysis.Options) analysis.Result {
				hint = opts.LanguageHint
				r := analysis.Fallback()
				r.RiskScore = 2
				r.DetectedLanguage = tt.detected
				r.Confidence = tt.confidence
				return r
			})
			f := newFixture(t, a, nil)

			res, err := f.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", Message: "hello", Language: tt.override})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Language)
			assert.Equal(t, tt.want, f.conv.Language(ctx, "u1"))
			if tt.override != "" {
				assert.Equal(t, tt.want, hint, "override is visible to the analysis")
			}
		})
	}
}

func TestProcessMessageValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(analysis.Fallback()), nil)

	for _, req := range []MessageRequest{
		{UserID: "", Message: "hi"},
		{UserID: "u1", Message: "   "},
		{UserID: "u1", Message: "hi", Source: "carrier-pigeon"},
		{UserID: "u1", Message: "hi", Language: "xx"},
	} {
		_, err := f.engine.ProcessMessage(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "req=%+v", req)
	}
}

func TestAnalyzeDoesNotReplyOrTrigger(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(dangerResult(10)), nil)
	ctx := context.Background()

	res, err := f.engine.Analyze(ctx, MessageRequest{UserID: "u1", Message: "help", Source: SourceVoice})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Analysis.RiskScore)
	assert.Zero(t, f.incidents.OpenCount())
	assert.Empty(t, f.conv.History(ctx, "u1"))
	assert.Empty(t, f.auditor.Kinds())
}

func TestConcurrentMessagesKeepAllTurns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(dangerResult(9)), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", Message: "help"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, f.conv.History(ctx, "u1"), 10)
	assert.Equal(t, 1, f.incidents.OpenCount())
}

func TestIncidentOperations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(analysis.Fallback()), nil)
	ctx := context.Background()

	_, _, err := f.engine.TriggerIncident(ctx, TriggerRequest{UserID: "u1", TriggerType: "auto"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	inc, reused, err := f.engine.TriggerIncident(ctx, TriggerRequest{UserID: "u1", TriggerType: "panic"})
	require.NoError(t, err)
	assert.False(t, reused)
	assert.True(t, inc.PanicMode)
	assert.Equal(t, "Panic button pressed", inc.Description)

	again, reused, err := f.engine.TriggerIncident(ctx, TriggerRequest{UserID: "u1", TriggerType: "manual"})
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, inc.ID, again.ID)

	_, err = f.engine.UpdateLocation(ctx, inc.ID, incident.Location{Latitude: 22.57, Longitude: 88.36})
	require.NoError(t, err)

	_, err = f.engine.ResolveIncident(ctx, inc.ID, "done")
	assert.ErrorIs(t, err, incident.ErrInvalidAction)

	resolved, err := f.engine.ResolveIncident(ctx, inc.ID, "false_alarm")
	require.NoError(t, err)
	assert.Equal(t, incident.StatusFalseAlarm, resolved.Status)

	_, err = f.engine.ResolveIncident(ctx, inc.ID, "resolved")
	assert.ErrorIs(t, err, incident.ErrAlreadyResolved)
	_, err = f.engine.UpdateLocation(ctx, inc.ID, incident.Location{Latitude: 1, Longitude: 1})
	assert.ErrorIs(t, err, incident.ErrInvalidState)

	got, err := f.engine.Incident(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, resolved, got)

	_, ok := f.engine.ActiveIncident("u1")
	assert.False(t, ok)
}

func TestLanguageAndContextOperations(t *testing.T) {
	t.Parallel()
	f := newFixture(t, fixedAnalysis(analysis.Fallback()), nil)
	ctx := context.Background()

	lang, err := f.engine.SetLanguage(ctx, "u1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hindi", lang.Name)
	assert.Equal(t, "hi", f.engine.Language(ctx, "u1").Code)

	_, err = f.engine.SetLanguage(ctx, "u1", "klingon")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	require.NoError(t, f.engine.ClearContext(ctx, "u1"))
	require.NoError(t, f.engine.ClearContext(ctx, "u1"))
	assert.Equal(t, "en", f.engine.Language(ctx, "u1").Code)
	assert.ErrorIs(t, f.engine.ClearContext(ctx, " "), ErrInvalidRequest)

	assert.Equal(t, []audit.Kind{audit.KindLanguageChanged, audit.KindContextCleared, audit.KindContextCleared}, f.auditor.Kinds())

	entries, err := f.engine.History(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAutoMessage(t *testing.T) {
	t.Parallel()

	r := dangerResult(9)
	r.AutoMessageHint = ""
	assert.Equal(t, "SOS: Emergency detected (risk 9/10, physical danger)", AutoMessage(r))

	r.AutoMessageHint = strings.Repeat("x", 300)
	msg := AutoMessage(r)
	assert.Equal(t, maxAutoMessageRunes, len([]rune(msg)))
	assert.True(t, strings.HasSuffix(msg, "(risk 9/10, physical danger)"))
}

func TestProcessMessageCleansInput(t *testing.T) {
	t.Parallel()
	var seen string
	f := newFixture(t, analyzerFunc(func(_ context.Context, text string, _ analysis.Options) analysis.Result {
		seen = text
		return analysis.Fallback()
	}), nil)
	ctx := context.Background()

	_, err := f.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", Message: " \u200b\x00 "})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.ProcessMessage(ctx, MessageRequest{UserID: "u1", Message: "help   me\r\nplease"})
	require.NoError(t, err)
	assert.Equal(t, "help me\nplease", seen)
	assert.Equal(t, "help me\nplease", f.conv.History(ctx, "u1")[0].Text)
}
