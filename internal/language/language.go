// Package language holds the catalogue of languages the assistant can reply in.
package language

import "strings"

// Language describes a supported language.
type Language struct {
	Code       string `json:"language_code"`
	Name       string `json:"language_name"`
	NativeName string `json:"native_name"`
}

// Unknown is the code reported when the language could not be detected.
const Unknown = "unknown"

// Default is the fallback language code.
const Default = "en"

var supported = []Language{
	{Code: "en", Name: "English", NativeName: "English"},
	{Code: "hi", Name: "Hindi", NativeName: "हिन्दी"},
	{Code: "ta", Name: "Tamil", NativeName: "தமிழ்"},
	{Code: "te", Name: "Telugu", NativeName: "తెలుగు"},
	{Code: "mr", Name: "Marathi", NativeName: "मराठी"},
	{Code: "bn", Name: "Bengali", NativeName: "বাংলা"},
	{Code: "gu", Name: "Gujarati", NativeName: "ગુજરાતી"},
	{Code: "kn", Name: "Kannada", NativeName: "ಕನ್ನಡ"},
	{Code: "ml", Name: "Malayalam", NativeName: "മലയാളം"},
	{Code: "pa", Name: "Punjabi", NativeName: "ਪੰਜਾਬੀ"},
}

var byCode = func() map[string]Language {
	m := make(map[string]Language, len(supported))
	for _, l := range supported {
		m[l.Code] = l
	}
	return m
}()

// All returns the supported languages in display order.
func All() []Language {
	out := make([]Language, len(supported))
	copy(out, supported)
	return out
}

// Normalize lower-cases and trims a code and strips a region suffix ("hi-IN" -> "hi").
func Normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}

// IsSupported reports whether code names a supported language.
func IsSupported(code string) bool {
	_, ok := byCode[Normalize(code)]
	return ok
}

// Lookup returns the language for code.
func Lookup(code string) (Language, bool) {
	l, ok := byCode[Normalize(code)]
	return l, ok
}

// Name returns the English name for code, or "English" for unknown codes.
func Name(code string) string {
	if l, ok := Lookup(code); ok {
		return l.Name
	}
	return byCode[Default].Name
}
