package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Core
	DatabaseURL   string `env:"DATABASE_URL,required"`
	OpenRouterKey string `env:"OPENROUTER_API_KEY,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`

	// Server
	Port int `env:"PORT" envDefault:"8080"`

	// Companion behavior
	DefaultModel           string `env:"DEFAULT_MODEL" envDefault:"gpt-4o-mini"`
	MaxCompletionTokens    int    `env:"MAX_COMPLETION_TOKENS" envDefault:"1024"`
	EmotionAnalysisEnabled bool   `env:"EMOTION_ANALYSIS_ENABLED" envDefault:"true"`

	// Session date rollover is evaluated in this zone. Empty means the
	// server's local time.
	SessionTimezone string `env:"SESSION_TIMEZONE"`

	// Ops alerts over Telegram. Disabled unless both are set.
	AlertsBotToken string `env:"ALERTS_BOT_TOKEN"`
	AlertsChatID   int64  `env:"ALERTS_CHAT_ID"`

	// CORS
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Location resolves the configured session timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.SessionTimezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.SessionTimezone)
	if err != nil {
		return nil, fmt.Errorf("load session timezone: %w", err)
	}
	return loc, nil
}
