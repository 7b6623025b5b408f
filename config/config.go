package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Config holds all server configuration
type Config struct {
	Port            int
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	AllowedOrigins  []string
	KeepAlivePeriod time.Duration
	MaxBufferSize   int // Maximum bytes of client input queued while connecting

	LiveModel      string
	FallbackModel  string
	LiveURL        string
	ConnectTimeout time.Duration // Fixed upper bound on live setup
	VoiceName      string

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := Default()

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	if err := intVar("PORT", &config.Port); err != nil {
		return nil, err
	}
	if err := intVar("MAX_SESSIONS", &config.MaxSessions); err != nil {
		return nil, err
	}
	if err := intVar("MAX_BUFFER_SIZE", &config.MaxBufferSize); err != nil {
		return nil, err
	}

	// SESSION_TIMEOUT is in minutes
	if err := durationVar("SESSION_TIMEOUT", time.Minute, &config.SessionTimeout); err != nil {
		return nil, err
	}
	// KEEPALIVE_PERIOD and CONNECT_TIMEOUT are in seconds
	if err := durationVar("KEEPALIVE_PERIOD", time.Second, &config.KeepAlivePeriod); err != nil {
		return nil, err
	}
	if err := durationVar("CONNECT_TIMEOUT", time.Second, &config.ConnectTimeout); err != nil {
		return nil, err
	}

	stringVar("REDIS_URL", &config.RedisURL)
	stringVar("REDIS_PASSWORD", &config.RedisPassword)
	stringVar("LIVE_MODEL", &config.LiveModel)
	stringVar("FALLBACK_MODEL", &config.FallbackModel)
	stringVar("LIVE_URL", &config.LiveURL)
	stringVar("VOICE_NAME", &config.VoiceName)
	stringVar("LOG_LEVEL", &config.LogLevel)
	stringVar("LOG_FORMAT", &config.LogFormat)

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the configuration used when no environment overrides are set.
func Default() *Config {
	return &Config{
		Port:            8080,
		RedisURL:        "localhost:6379",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		KeepAlivePeriod: 30 * time.Second,
		MaxBufferSize:   5 * 1024 * 1024, // 5MB default
		LiveModel:       "models/gemini-2.0-flash-live-001",
		FallbackModel:   "gemini-2.0-flash",
		LiveURL:         defaultLiveURL,
		ConnectTimeout:  10 * time.Second,
		VoiceName:       "Puck",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Validate rejects values that would leave the bridge unusable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("invalid MAX_SESSIONS: must be positive")
	}
	if c.MaxBufferSize <= 0 {
		return fmt.Errorf("invalid MAX_BUFFER_SIZE: must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("invalid CONNECT_TIMEOUT: must be positive")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: must be 'text' or 'json'")
	}
	return nil
}

func stringVar(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func intVar(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = n
	return nil
}

func durationVar(name string, unit time.Duration, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	*dst = time.Duration(n) * unit
	return nil
}
