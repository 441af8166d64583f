package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"

	minSessionSecretLen = 32
)

// Config holds the environment driven configuration for the chat service.
type Config struct {
	// Service
	ServiceName    string `env:"SERVICE_NAME" envDefault:"persona-chat"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	LogMode        string `env:"LOG_MODE" envDefault:"development"`

	// Storage
	StoreBackend   string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"data/persona-chat.db"`
	StateTable     string `env:"STATE_TABLE"`
	SeedPredefined bool   `env:"SEED_PREDEFINED_PERSONAS" envDefault:"true"`

	// Parameter store prefix for the provider key and session secret.
	ParamPrefix string `env:"PARAM_PREFIX"`

	// Model provider
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	OpenAIStreamModel string        `env:"OPENAI_STREAM_MODEL" envDefault:"gpt-4-turbo"`
	OpenAITemperature float64       `env:"OPENAI_TEMPERATURE" envDefault:"0.7"`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"60s"`

	// Turn limits
	HistoryWindow    int `env:"HISTORY_WINDOW" envDefault:"10"`
	MaxMessageLength int `env:"MAX_MESSAGE_LENGTH" envDefault:"4000"`

	// Sessions
	SessionSecret        string        `env:"SESSION_SECRET"`
	SessionCookieName    string        `env:"SESSION_COOKIE_NAME" envDefault:"persona_chat_session"`
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionSecureCookie  bool          `env:"SESSION_SECURE_COOKIE" envDefault:"false"`
	GuestSessionsEnabled bool          `env:"GUEST_SESSIONS_ENABLED" envDefault:"false"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Tracing
	OTelEnabled      bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSamplerRatio float64 `env:"OTEL_SAMPLER_RATIO" envDefault:"1.0"`
}

// Load parses environment variables into Config and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.StateTable = strings.TrimSpace(cfg.StateTable)
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.SessionSecret = strings.TrimSpace(cfg.SessionSecret)
	cfg.CORSAllowedOrigins = trimAll(cfg.CORSAllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_BACKEND is sqlite"))
		}
	case BackendDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("STATE_TABLE is required when STORE_BACKEND is dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendSQLite, BackendDynamoDB, c.StoreBackend))
	}

	if c.OpenAIAPIKey == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY or PARAM_PREFIX is required"))
	}
	if c.SessionSecret == "" && c.ParamPrefix == "" {
		errs = append(errs, errors.New("SESSION_SECRET or PARAM_PREFIX is required"))
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < minSessionSecretLen {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW must be positive"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.OpenAITemperature < 0 || c.OpenAITemperature > 2 {
		errs = append(errs, errors.New("OPENAI_TEMPERATURE must be between 0 and 2"))
	}
	if c.OTelSamplerRatio < 0 || c.OTelSamplerRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLER_RATIO must be between 0 and 1"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in a production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "prod" || env == "production"
}

// SessionSecretParam returns the parameter name holding the session secret.
func (c *Config) SessionSecretParam() string {
	return c.ParamPrefix + "/session-secret"
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
