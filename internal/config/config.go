// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultDBPath = "./data/techscreen.db"

// Config holds all application configuration.
type Config struct {
	Port        string `mapstructure:"PORT"`
	DBPath      string `mapstructure:"DB_PATH"`
	FrontendURL string `mapstructure:"FRONTEND_URL"`
	// CORSOrigins is a comma-separated origin list; "*" allows any origin.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	AIServiceURL     string        `mapstructure:"AI_SERVICE_URL"`
	AIRequestTimeout time.Duration `mapstructure:"AI_REQUEST_TIMEOUT"`

	QuestionBudget    int           `mapstructure:"CHAT_QUESTION_BUDGET"`
	QuizQuestionCount int           `mapstructure:"QUIZ_QUESTION_COUNT"`
	CodingLanguage    string        `mapstructure:"CODING_LANGUAGE"`
	InviteTTL         time.Duration `mapstructure:"INVITE_TTL"`
	MaxUploadBytes    int64         `mapstructure:"MAX_UPLOAD_BYTES"`

	JWTSecret string `mapstructure:"JWT_SECRET"`
	JWTIssuer string `mapstructure:"JWT_ISSUER"`

	// RedisAddr enables cross-instance event fan-out when set.
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisChannel string `mapstructure:"REDIS_CHANNEL"`

	// FinalizeRetryInterval of zero disables the stalled-session sweeper.
	FinalizeRetryInterval time.Duration `mapstructure:"FINALIZE_RETRY_INTERVAL"`
	FinalizeRetryGrace    time.Duration `mapstructure:"FINALIZE_RETRY_GRACE"`
}

// Load reads configuration from environment variables. A .env file, if any,
// is expected to have been loaded into the environment already.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_PATH", defaultDBPath)
	v.SetDefault("FRONTEND_URL", "")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AI_SERVICE_URL", "http://localhost:8001")
	v.SetDefault("AI_REQUEST_TIMEOUT", "60s")
	v.SetDefault("CHAT_QUESTION_BUDGET", 3)
	v.SetDefault("QUIZ_QUESTION_COUNT", 5)
	v.SetDefault("CODING_LANGUAGE", "python")
	v.SetDefault("INVITE_TTL", "72h")
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_CHANNEL", "techscreen:events")
	v.SetDefault("FINALIZE_RETRY_INTERVAL", "0s")
	v.SetDefault("FINALIZE_RETRY_GRACE", "2m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DatabasePath returns DB_PATH (or its default) without requiring the rest of
// the configuration, for commands that only touch the database.
func DatabasePath() string {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("DB_PATH", defaultDBPath)
	return v.GetString("DB_PATH")
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.AIServiceURL == "" {
		return errors.New("AI_SERVICE_URL cannot be empty")
	}
	if c.AIRequestTimeout <= 0 {
		return errors.New("AI_REQUEST_TIMEOUT must be > 0")
	}
	if c.QuestionBudget <= 0 {
		return errors.New("CHAT_QUESTION_BUDGET must be > 0")
	}
	if c.QuizQuestionCount <= 0 {
		return errors.New("QUIZ_QUESTION_COUNT must be > 0")
	}
	if c.InviteTTL <= 0 {
		return errors.New("INVITE_TTL must be > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET cannot be empty")
	}
	if c.FinalizeRetryInterval < 0 || c.FinalizeRetryGrace < 0 {
		return errors.New("FINALIZE_RETRY_INTERVAL and FINALIZE_RETRY_GRACE must be >= 0")
	}
	return nil
}

// AllowedOrigins returns CORS_ORIGINS as a list.
func (c *Config) AllowedOrigins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// WebSocketOrigins returns origin patterns for websocket.AcceptOptions. Full
// origins are reduced to their host since the library matches on host.
func (c *Config) WebSocketOrigins() []string {
	origins := c.AllowedOrigins()
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		out = append(out, strings.TrimSuffix(o, "/"))
	}
	return out
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
