package config

import (
	"time"

	"github.com/spf13/viper"
)

// Reference values for the engine.
const (
	DefaultMaxHistory  = 20
	DefaultIdleTTL     = 30 * time.Minute
	DefaultSweepPeriod = 30 * time.Minute

	DefaultClosedIncidentTTL = 24 * time.Hour

	DefaultAnalysisTimeout     = 15 * time.Second
	DefaultAnalysisTemperature = 0.05
	DefaultAnalysisMaxTokens   = 400
	DefaultAnalysisHistory     = 6

	DefaultResponseTimeout     = 15 * time.Second
	DefaultResponseTemperature = 0.3
	DefaultResponseMaxTokens   = 300

	requestSlack = 5 * time.Second
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("database.path", "safeline.db")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-2.0-flash")
	v.SetDefault("gemini.max_retries", 0)
	v.SetDefault("gemini.retry_delay_seconds", 1)
	v.SetDefault("gemini.breaker_failures", 5)
	v.SetDefault("gemini.breaker_cooldown", 30*time.Second)
	v.SetDefault("gemini.analysis_temperature", DefaultAnalysisTemperature)
	v.SetDefault("gemini.analysis_max_tokens", DefaultAnalysisMaxTokens)
	v.SetDefault("gemini.analysis_timeout", DefaultAnalysisTimeout)
	v.SetDefault("gemini.analysis_history", DefaultAnalysisHistory)
	v.SetDefault("gemini.response_temperature", DefaultResponseTemperature)
	v.SetDefault("gemini.response_max_tokens", DefaultResponseMaxTokens)
	v.SetDefault("gemini.response_timeout", DefaultResponseTimeout)

	v.SetDefault("conversation.backend", "memory")
	v.SetDefault("conversation.max_history", DefaultMaxHistory)
	v.SetDefault("conversation.idle_ttl", DefaultIdleTTL)
	v.SetDefault("conversation.redis_addr", "")
	v.SetDefault("conversation.redis_password", "")
	v.SetDefault("conversation.redis_db", 0)

	v.SetDefault("engine.auto_trigger_min_risk", 8)
	v.SetDefault("engine.panic_min_risk", 9)
	v.SetDefault("engine.high_risk_audit_min", 7)
	v.SetDefault("engine.default_language", "en")
	v.SetDefault("engine.language_confidence", 0.6)
	v.SetDefault("engine.closed_incident_ttl", DefaultClosedIncidentTTL)

	v.SetDefault("audit.queue_size", 1024)
	v.SetDefault("audit.write_timeout", 5*time.Second)
	v.SetDefault("audit.max_retries", 3)
	v.SetDefault("audit.retention", 365*24*time.Hour)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 30*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")

	v.SetDefault("messages.welcome", "👋 I'm here to help you stay safe. Tell me what is happening, or send /sos if you need help right now.")
	v.SetDefault("messages.help", "Commands:\n/sos - raise an emergency alert\n/safe - close your alert, you are safe\n/cancel - cancel your alert\n/falsealarm - mark your alert as a false alarm\n/lang <code> - change language (en, hi, ta, te, mr, bn, gu, kn, ml, pa)\n/reset - forget this conversation\nShare your live location while an alert is open to keep it updated.")
	v.SetDefault("messages.general_error", "❌ Something went wrong. If you are in danger, call 112 now.")
	v.SetDefault("messages.context_cleared", "🔄 Conversation cleared.")
	v.SetDefault("messages.sos_triggered", "🚨 SOS alert raised. Share your live location so help can find you.")
	v.SetDefault("messages.sos_already_active", "🚨 Your SOS alert is already active.")
	v.SetDefault("messages.sos_resolved", "✅ Your SOS alert has been closed.")
	v.SetDefault("messages.no_active_sos", "ℹ️ You have no active SOS alert.")
	v.SetDefault("messages.location_updated", "📍 Location updated.")
	v.SetDefault("messages.language_updated", "🌐 Language updated.")
	v.SetDefault("messages.language_usage", "Usage: /lang <code>. Supported: en, hi, ta, te, mr, bn, gu, kn, ml, pa")

	v.SetDefault("scheduler.tasks", map[string]any{
		"session_eviction": map[string]any{"enabled": true, "interval": DefaultSweepPeriod},
		"sql_maintenance":  map[string]any{"enabled": true, "schedule": "0 0 3 * * *"},
		"audit_retention":  map[string]any{"enabled": true, "schedule": "0 30 3 * * *"},
		"incident_prune":   map[string]any{"enabled": true, "interval": time.Hour},
	})
}
