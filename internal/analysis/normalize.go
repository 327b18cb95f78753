package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/edgard/safeline/internal/language"
)

// ErrMalformed is returned when the AI answer cannot be read as a JSON object.
var ErrMalformed = errors.New("malformed analysis payload")

// Parse extracts the JSON object from raw model output, tolerating markdown
// code fences and surrounding prose, and normalizes it against input.
func Parse(raw, input string) (Result, error) {
	body := stripFences(raw)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return Result{}, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(body[start:end+1]), &fields); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Normalize(fields, input), nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drops a language tag such as "json".
		s = s[nl+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Normalize validates every field of a decoded AI answer independently.
// Missing, mistyped or out-of-range values fall back to a per-field default,
// so one bad field never discards the rest of the assessment.
func Normalize(fields map[string]any, input string) Result {
	r := Result{
		Intent:              enumValue(lookup(fields, "intent"), intents, IntentOther),
		EmergencyType:       enumValue(lookup(fields, "emergency_type", "emergencyType"), emergencyTypes, EmergencyNone),
		IsEmergency:         truthy(lookup(fields, "is_emergency", "isEmergency")),
		IsAbuseOrHarassment: truthy(lookup(fields, "is_abuse_or_harassment", "isAbuseOrHarassment")),
		RiskScore:           boundedInt(lookup(fields, "risk_score", "riskScore"), 1, MinRisk, MaxRisk),
		RiskFactors:         stringSlice(lookup(fields, "risk_factors", "riskFactors")),
		NeedsImmediateHelp:  truthy(lookup(fields, "needs_immediate_help", "needsImmediateHelp")),
		SuggestedHelplines:  stringSlice(lookup(fields, "suggested_helplines", "suggestedHelplines")),
		AutoMessageHint:     hint(lookup(fields, "auto_message_hint", "autoMessageHint"), input),
		DetectedLanguage:    languageCode(lookup(fields, "detected_language", "detectedLanguage")),
		Confidence:          confidence(lookup(fields, "confidence")),
		Emotion: Emotion{
			Primary:    EmotionNeutral,
			Intensity:  1,
			Indicators: []string{},
		},
	}

	if emo, ok := lookup(fields, "emotion").(map[string]any); ok {
		r.Emotion = Emotion{
			Primary:    enumValue(lookup(emo, "primary"), emotions, EmotionNeutral),
			Intensity:  boundedInt(lookup(emo, "intensity"), 1, 1, 10),
			Indicators: stringSlice(lookup(emo, "indicators")),
		}
	}
	return r
}

func lookup(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

var enumSeparators = strings.NewReplacer(" ", "_", "-", "_")

func enumValue[T ~string](v any, allowed []T, def T) T {
	s, ok := v.(string)
	if !ok {
		return def
	}
	s = enumSeparators.Replace(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range allowed {
		if string(a) == s {
			return a
		}
	}
	return def
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "no", "0", "null", "none":
			return false
		}
		return true
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return false
}

func number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func boundedInt(v any, def, lo, hi int) int {
	f, ok := number(v)
	if !ok {
		return def
	}
	return int(math.Round(math.Max(float64(lo), math.Min(float64(hi), f))))
}

func confidence(v any) float64 {
	f, ok := number(v)
	if !ok {
		return DefaultConfidence
	}
	return math.Max(0, math.Min(1, f))
}

func stringSlice(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, truncateRunes(s, maxItemRunes))
		if len(out) == maxListItems {
			break
		}
	}
	return out
}

func hint(v any, input string) string {
	if s, ok := v.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return truncateRunes(s, MaxHintRunes)
		}
	}
	return truncateRunes(strings.TrimSpace(input), MaxHintRunes)
}

var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}$`)

func languageCode(v any) string {
	s, ok := v.(string)
	if !ok {
		return language.Unknown
	}
	code := language.Normalize(s)
	if !languageCodePattern.MatchString(code) {
		return language.Unknown
	}
	return code
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
