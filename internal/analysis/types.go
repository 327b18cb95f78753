// Package analysis turns an external AI assessment of a user message into a
// validated, bounded Result. Every field of a Result is always present and in
// range, whatever the AI returned, and Analyze never fails: when the AI is
// unavailable it returns a conservative fallback instead.
package analysis

// Intent classifies what the user wants.
type Intent string

// Intents.
const (
	IntentEmergency    Intent = "emergency"
	IntentLegalHelp    Intent = "legal_help"
	IntentMentalHealth Intent = "mental_health"
	IntentInformation  Intent = "information"
	IntentHarassment   Intent = "harassment"
	IntentOther        Intent = "other"
)

var intents = []Intent{IntentEmergency, IntentLegalHelp, IntentMentalHealth, IntentInformation, IntentHarassment, IntentOther}

// EmergencyType classifies the kind of emergency, if any.
type EmergencyType string

// Emergency types.
const (
	EmergencyPhysicalDanger   EmergencyType = "physical_danger"
	EmergencyStalking         EmergencyType = "stalking"
	EmergencyHarassment       EmergencyType = "harassment"
	EmergencyDomesticViolence EmergencyType = "domestic_violence"
	EmergencySexualAssault    EmergencyType = "sexual_assault"
	EmergencyMedical          EmergencyType = "medical"
	EmergencyAccident         EmergencyType = "accident"
	EmergencyFire             EmergencyType = "fire"
	EmergencyMentalHealth     EmergencyType = "mental_health_crisis"
	EmergencyOther            EmergencyType = "other"
	EmergencyNone             EmergencyType = "none"
)

var emergencyTypes = []EmergencyType{
	EmergencyPhysicalDanger, EmergencyStalking, EmergencyHarassment, EmergencyDomesticViolence,
	EmergencySexualAssault, EmergencyMedical, EmergencyAccident, EmergencyFire, EmergencyMentalHealth,
	EmergencyOther, EmergencyNone,
}

// EmotionKind is the primary emotion detected in a message.
type EmotionKind string

// Emotions.
const (
	EmotionFear      EmotionKind = "fear"
	EmotionPanic     EmotionKind = "panic"
	EmotionAnxiety   EmotionKind = "anxiety"
	EmotionAnger     EmotionKind = "anger"
	EmotionSadness   EmotionKind = "sadness"
	EmotionDistress  EmotionKind = "distress"
	EmotionConfusion EmotionKind = "confusion"
	EmotionCalm      EmotionKind = "calm"
	EmotionNeutral   EmotionKind = "neutral"
)

var emotions = []EmotionKind{
	EmotionFear, EmotionPanic, EmotionAnxiety, EmotionAnger, EmotionSadness,
	EmotionDistress, EmotionConfusion, EmotionCalm, EmotionNeutral,
}

// Emotion is the emotional read of a message.
type Emotion struct {
	Primary    EmotionKind `json:"primary"`
	Intensity  int         `json:"intensity"`
	Indicators []string    `json:"indicators"`
}

// Result is the normalized assessment of one message.
type Result struct {
	Intent              Intent        `json:"intent"`
	EmergencyType       EmergencyType `json:"emergency_type"`
	IsEmergency         bool          `json:"is_emergency"`
	IsAbuseOrHarassment bool          `json:"is_abuse_or_harassment"`
	Emotion             Emotion       `json:"emotion"`
	RiskScore           int           `json:"risk_score"`
	RiskFactors         []string      `json:"risk_factors"`
	NeedsImmediateHelp  bool          `json:"needs_immediate_help"`
	SuggestedHelplines  []string      `json:"suggested_helplines"`
	AutoMessageHint     string        `json:"auto_message_hint"`
	DetectedLanguage    string        `json:"detected_language"`
	Confidence          float64       `json:"confidence"`
}

// Bounds.
const (
	MinRisk           = 1
	MaxRisk           = 10
	FallbackRisk      = 5
	DefaultConfidence = 0.7
	MaxHintRunes      = 100
	maxListItems      = 10
	maxItemRunes      = 200
)

// GenericEmergencyNumber is suggested when nothing better is known.
const GenericEmergencyNumber = "112"

// Fallback returns the conservative result used when the AI is unavailable:
// mid-range risk, zero confidence and no auto-trigger.
func Fallback() Result {
	return Result{
		Intent:              IntentOther,
		EmergencyType:       EmergencyOther,
		IsEmergency:         false,
		IsAbuseOrHarassment: false,
		Emotion: Emotion{
			Primary:    EmotionNeutral,
			Intensity:  1,
			Indicators: []string{},
		},
		RiskScore:          FallbackRisk,
		RiskFactors:        []string{"AI analysis unavailable"},
		NeedsImmediateHelp: false,
		SuggestedHelplines: []string{GenericEmergencyNumber},
		AutoMessageHint:    "",
		DetectedLanguage:   "unknown",
		Confidence:         0,
	}
}
