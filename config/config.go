package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the dashboard service.
type Config struct {
	Port      string
	APIToken  string
	DBDialect string // "postgres" or "sqlite"
	DBURL     string

	// Live-visitor polling
	PollInterval    time.Duration
	ActivityWindow  time.Duration
	SessionFetchCap int
	VisitorCap      int

	// Alerting
	AlertDisplayFor time.Duration

	// Business-listing integration
	ListingsBaseURL string
	ListingsTimeout time.Duration
	CooldownPeriod  time.Duration

	// OAuth exchange for the listings integration
	OAuthClientID      string
	OAuthClientSecret  string
	OAuthAuthURL       string
	OAuthTokenURL      string
	OAuthRedirectURL   string
	OAuthAllowedOrigin string

	// Optional event fan-out
	RabbitURL         string
	RabbitQueuePrefix string

	// Optional S3 attachment storage
	S3Enabled   bool
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
	S3PathStyle bool

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables.
// It attempts to load a .env file if present; real environment variables win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port:      envDefault("PORT", "8080"),
		APIToken:  os.Getenv("API_TOKEN"),
		DBDialect: envDefault("DB_DIALECT", "postgres"),
		DBURL:     os.Getenv("DATABASE_URL"),

		PollInterval:    envDuration("POLL_INTERVAL", 30*time.Second),
		ActivityWindow:  envDuration("ACTIVITY_WINDOW", 5*time.Minute),
		SessionFetchCap: envInt("SESSION_FETCH_CAP", 50),
		VisitorCap:      envInt("VISITOR_CAP", 10),

		AlertDisplayFor: envDuration("ALERT_DISPLAY_FOR", 4*time.Second),

		ListingsBaseURL: os.Getenv("LISTINGS_BASE_URL"),
		ListingsTimeout: envDuration("LISTINGS_TIMEOUT", 10*time.Second),
		CooldownPeriod:  envDuration("LISTINGS_COOLDOWN", 70*time.Second),

		OAuthClientID:      os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret:  os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthAuthURL:       os.Getenv("OAUTH_AUTH_URL"),
		OAuthTokenURL:      os.Getenv("OAUTH_TOKEN_URL"),
		OAuthRedirectURL:   os.Getenv("OAUTH_REDIRECT_URL"),
		OAuthAllowedOrigin: os.Getenv("OAUTH_ALLOWED_ORIGIN"),

		RabbitURL:         os.Getenv("RABBITMQ_URL"),
		RabbitQueuePrefix: envDefault("RABBITMQ_QUEUE_PREFIX", "livedesk"),

		S3Enabled:   envBool("S3_ENABLED", false),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    envDefault("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3PublicURL: os.Getenv("S3_PUBLIC_URL"),
		S3PathStyle: envBool("S3_PATH_STYLE", false),

		LogLevel:  envDefault("LOG_LEVEL", "info"),
		LogFormat: envDefault("LOG_FORMAT", "console"),
	}

	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.DBDialect != "postgres" && cfg.DBDialect != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DIALECT %q", cfg.DBDialect)
	}

	return cfg, nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid boolean in environment, using default")
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration in environment, using default")
		return fallback
	}
	return d
}
