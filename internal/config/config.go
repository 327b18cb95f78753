// Package config provides configuration loading, validation, and management
// for the Safeline emergency engine. It merges defaults, an optional YAML file,
// an optional .env file and SAFELINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/edgard/safeline/internal/language"
)

// EnvPrefix is the prefix for environment overrides, e.g. SAFELINE_GEMINI_API_KEY.
const EnvPrefix = "SAFELINE"

// Config holds the complete application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Engine       EngineConfig       `mapstructure:"engine"`
	Audit        AuditConfig        `mapstructure:"audit"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Messages     MessagesConfig     `mapstructure:"messages"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

// LoggerConfig controls the slog handler.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig points at the sqlite file used for audit and incident persistence.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// GeminiConfig configures the external AI capability. An empty APIKey is
// accepted: every AI call then fails and the engine runs on its fallbacks.
type GeminiConfig struct {
	APIKey            string `mapstructure:"api_key"`
	ModelName         string `mapstructure:"model_name"          validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"min=0,max=5"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"min=0,max=30"`

	// BreakerFailures consecutive failures open the circuit for BreakerCooldown.
	// Zero disables the breaker.
	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=0,max=100"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" validate:"min=0"`

	AnalysisTemperature float32       `mapstructure:"analysis_temperature" validate:"min=0,max=2"`
	AnalysisMaxTokens   int32         `mapstructure:"analysis_max_tokens"  validate:"min=50,max=8192"`
	AnalysisTimeout     time.Duration `mapstructure:"analysis_timeout"     validate:"min=1s,max=2m"`
	AnalysisHistory     int           `mapstructure:"analysis_history"     validate:"min=0,max=20"`

	ResponseTemperature float32       `mapstructure:"response_temperature" validate:"min=0,max=2"`
	ResponseMaxTokens   int32         `mapstructure:"response_max_tokens"  validate:"min=50,max=8192"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"     validate:"min=1s,max=2m"`
}

// RequestBudget bounds one HTTP request: both AI calls plus slack for the
// engine's own work.
func (g GeminiConfig) RequestBudget() time.Duration {
	return g.AnalysisTimeout + g.ResponseTimeout + requestSlack
}

// ConversationConfig configures the per-user conversation memory.
type ConversationConfig struct {
	Backend       string        `mapstructure:"backend"        validate:"oneof=memory redis"`
	MaxHistory    int           `mapstructure:"max_history"    validate:"min=2,max=200"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"       validate:"min=1m"`
	RedisAddr     string        `mapstructure:"redis_addr"     validate:"required_if=Backend redis"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"       validate:"min=0"`
}

// EngineConfig holds the orchestrator thresholds.
type EngineConfig struct {
	AutoTriggerMinRisk int     `mapstructure:"auto_trigger_min_risk" validate:"min=1,max=10"`
	PanicMinRisk       int     `mapstructure:"panic_min_risk"        validate:"min=1,max=10"`
	HighRiskAuditMin   int     `mapstructure:"high_risk_audit_min"   validate:"min=1,max=10"`
	DefaultLanguage    string  `mapstructure:"default_language"      validate:"required"`
	LanguageConfidence float64 `mapstructure:"language_confidence"   validate:"min=0,max=1"`
	// ClosedIncidentTTL is how long closed incidents stay in memory before
	// reads fall back to the database.
	ClosedIncidentTTL time.Duration `mapstructure:"closed_incident_ttl" validate:"min=1m"`
}

// AuditConfig configures the out-of-band persistence worker.
type AuditConfig struct {
	QueueSize    int           `mapstructure:"queue_size"    validate:"min=1"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=100ms"`
	MaxRetries   int           `mapstructure:"max_retries"   validate:"min=1,max=10"`
	Retention    time.Duration `mapstructure:"retention"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"          validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"  validate:"min=1s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=1s"`
}

// TelegramConfig configures the optional Telegram transport.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token" validate:"required_if=Enabled true"`
}

// MessagesConfig holds user-facing texts of the Telegram transport.
type MessagesConfig struct {
	Welcome          string `mapstructure:"welcome"           validate:"required"`
	Help             string `mapstructure:"help"              validate:"required"`
	GeneralError     string `mapstructure:"general_error"     validate:"required"`
	ContextCleared   string `mapstructure:"context_cleared"   validate:"required"`
	SOSTriggered     string `mapstructure:"sos_triggered"     validate:"required"`
	SOSAlreadyActive string `mapstructure:"sos_already_active" validate:"required"`
	SOSResolved      string `mapstructure:"sos_resolved"      validate:"required"`
	NoActiveSOS      string `mapstructure:"no_active_sos"     validate:"required"`
	LocationUpdated  string `mapstructure:"location_updated"  validate:"required"`
	LanguageUpdated  string `mapstructure:"language_updated"  validate:"required"`
	LanguageUsage    string `mapstructure:"language_usage"    validate:"required"`
}

// SchedulerConfig maps task names to their schedule.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures a single scheduled task. Interval takes precedence
// over Schedule (a cron expression) when both are set.
type TaskConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoadConfig reads configuration from the given YAML path, layering defaults,
// .env and environment variables, and validates the result. A missing
// configuration file or .env file is not an error.
func LoadConfig(path string) (*Config, error) {
	startTime := time.Now()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		slog.Info("Configuration file not found, using defaults and environment", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	slog.Debug("Configuration loaded",
		"path", path,
		"conversation_backend", cfg.Conversation.Backend,
		"telegram_enabled", cfg.Telegram.Enabled,
		"ai_configured", cfg.Gemini.APIKey != "",
		"duration_ms", time.Since(startTime).Milliseconds())

	return cfg, nil
}

// Validate checks struct tags and cross-field constraints.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Engine.PanicMinRisk < cfg.Engine.AutoTriggerMinRisk {
		return fmt.Errorf("invalid configuration: engine.panic_min_risk (%d) must be >= engine.auto_trigger_min_risk (%d)",
			cfg.Engine.PanicMinRisk, cfg.Engine.AutoTriggerMinRisk)
	}
	if !language.IsSupported(cfg.Engine.DefaultLanguage) {
		return fmt.Errorf("invalid configuration: engine.default_language %q is not supported", cfg.Engine.DefaultLanguage)
	}
	return nil
}
