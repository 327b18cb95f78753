package analysis

import "google.golang.org/genai"

// systemInstruction frames the assessment task for the model.
const systemInstruction = `You are the risk assessment component of a women's safety emergency service. Your only task is to classify the latest user message and return a single JSON object. Never reply to the user.

## RISK SCORING RUBRIC [CRITICAL]
- 1-3: general information, casual chat, no danger
- 4-5: discomfort, worry or non-immediate harassment
- 6-7: active harassment, stalking or threats without immediate physical danger
- 8-9: the user is in danger now or violence is imminent
- 10: violence is happening right now or the user's life is at risk

## FIELDS
- intent: one of emergency, legal_help, mental_health, information, harassment, other
- emergency_type: one of physical_danger, stalking, harassment, domestic_violence, sexual_assault, medical, accident, fire, mental_health_crisis, other, none
- is_emergency: true when the situation needs emergency services
- is_abuse_or_harassment: true when the message describes abuse or harassment
- emotion: primary (fear, panic, anxiety, anger, sadness, distress, confusion, calm, neutral), intensity (1-10), indicators (short phrases from the message)
- risk_score: integer 1-10 following the rubric
- risk_factors: short phrases explaining the score
- needs_immediate_help: true only when help must be dispatched now
- suggested_helplines: phone numbers relevant to the situation (112 national emergency, 1091 women helpline, 181 domestic abuse, 100 police, 108 ambulance)
- auto_message_hint: at most 100 characters, written in English, summarizing the situation for responders
- detected_language: ISO 639-1 code of the message language
- confidence: 0.0-1.0, how sure you are of this assessment

## GUIDELINES [IMPORTANT]
- Earlier conversation turns are context only. Score the latest message.
- Messages may mix languages or use romanized scripts. Detect the dominant language.
- When in doubt between two risk bands, choose the higher one.`

var stringList = &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}

var resultSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"intent":                 {Type: genai.TypeString, Enum: enumStrings(intents)},
		"emergency_type":         {Type: genai.TypeString, Enum: enumStrings(emergencyTypes)},
		"is_emergency":           {Type: genai.TypeBoolean},
		"is_abuse_or_harassment": {Type: genai.TypeBoolean},
		"emotion": {
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"primary":    {Type: genai.TypeString, Enum: enumStrings(emotions)},
				"intensity":  {Type: genai.TypeInteger, Description: "1-10"},
				"indicators": stringList,
			},
			Required: []string{"primary", "intensity", "indicators"},
		},
		"risk_score":           {Type: genai.TypeInteger, Description: "1-10 following the rubric"},
		"risk_factors":         stringList,
		"needs_immediate_help": {Type: genai.TypeBoolean},
		"suggested_helplines":  stringList,
		"auto_message_hint":    {Type: genai.TypeString, Description: "At most 100 characters."},
		"detected_language":    {Type: genai.TypeString, Description: "ISO 639-1 code."},
		"confidence":           {Type: genai.TypeNumber, Description: "0.0-1.0"},
	},
	Required: []string{
		"intent", "emergency_type", "is_emergency", "is_abuse_or_harassment", "emotion",
		"risk_score", "risk_factors", "needs_immediate_help", "suggested_helplines",
		"auto_message_hint", "detected_language", "confidence",
	},
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}
