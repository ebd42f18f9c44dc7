package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shuhub/collector/internal/costs"
)

type Config struct {
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	Environment   string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	SentryDSN     string `env:"SENTRY_DSN"`

	// Optional persistence. Without a database the service runs in memory only.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	// Twilio
	TwilioAccountSID  string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `env:"TWILIO_AUTH_TOKEN"`
	TwilioBaseURL     string `env:"TWILIO_BASE_URL"`
	TwilioPhoneNumber string `env:"TWILIO_PHONE_NUMBER"`
	Announcement      string `env:"CALL_ANNOUNCEMENT" envDefault:"جاري الاتصال"`

	// OpenAI
	OpenAIAPIKey        string        `env:"OPENAI_API_KEY"`
	RealtimeURL         string        `env:"OPENAI_REALTIME_URL"`
	RealtimeModel       string        `env:"OPENAI_REALTIME_MODEL" envDefault:"gpt-4o-realtime-preview-2024-10-01"`
	RealtimeVoice       string        `env:"OPENAI_REALTIME_VOICE" envDefault:"alloy"`
	RealtimeTemperature float64       `env:"OPENAI_REALTIME_TEMPERATURE" envDefault:"0.7"`
	AnalysisModel       string        `env:"OPENAI_ANALYSIS_MODEL" envDefault:"gpt-4o"`
	AnalysisBaseURL     string        `env:"OPENAI_BASE_URL"`
	AnalysisTimeout     time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"45s"`

	// Bridge
	MaxCallDuration   time.Duration `env:"MAX_CALL_DURATION" envDefault:"5m"`
	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"30s"`
	PrebufferFrames   int           `env:"PREBUFFER_FRAMES" envDefault:"0"`
	WriteTimeout      time.Duration `env:"SOCKET_WRITE_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"6m"`

	// Operator API
	JWTSecret     string  `env:"JWT_SECRET"`
	CallRateLimit float64 `env:"CALL_RATE_LIMIT" envDefault:"1"`
	CallRateBurst int     `env:"CALL_RATE_BURST" envDefault:"5"`

	// Debtor payload cache
	DebtorCacheTTL time.Duration `env:"DEBTOR_CACHE_TTL" envDefault:"24h"`

	// Notifications
	DiscordWebhookURL      string   `env:"DISCORD_WEBHOOK_URL"`
	APNsKeyPath            string   `env:"APNS_KEY_PATH"`
	APNsKeyID              string   `env:"APNS_KEY_ID"`
	APNsTeamID             string   `env:"APNS_TEAM_ID"`
	APNsBundleID           string   `env:"APNS_BUNDLE_ID"`
	APNsProduction         bool     `env:"APNS_PRODUCTION" envDefault:"false"`
	SupervisorDeviceTokens []string `env:"SUPERVISOR_DEVICE_TOKENS" envSeparator:","`
	SMSSenderNumber        string   `env:"SMS_SENDER_NUMBER"`
	ReminderThreshold      int      `env:"REMINDER_PROBABILITY_THRESHOLD" envDefault:"0"`

	Costs costs.Rates
}

// LoadConfig reads .env files when present and parses the environment.
func LoadConfig() (Config, error) {
	loadEnvFiles()
	return ParseConfig()
}

// ParseConfig parses the process environment only.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	tokens := c.SupervisorDeviceTokens[:0]
	for _, t := range c.SupervisorDeviceTokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	c.SupervisorDeviceTokens = tokens
	if c.SMSSenderNumber == "" {
		c.SMSSenderNumber = c.TwilioPhoneNumber
	}
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.PublicBaseURL, "http://") && !strings.HasPrefix(c.PublicBaseURL, "https://") {
		return fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.PublicBaseURL)
	}
	if c.ReminderThreshold < 0 || c.ReminderThreshold > 100 {
		return fmt.Errorf("REMINDER_PROBABILITY_THRESHOLD must be within 0-100, got %d", c.ReminderThreshold)
	}
	if c.MaxCallDuration <= 0 {
		return fmt.Errorf("MAX_CALL_DURATION must be positive")
	}
	if c.PrebufferFrames < 0 {
		return fmt.Errorf("PREBUFFER_FRAMES must not be negative")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("SOCKET_WRITE_TIMEOUT must be positive")
	}
	return nil
}

// TelephonyConfigured reports whether calls can be placed.
func (c Config) TelephonyConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
