package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	// EncryptionKey is the base64-encoded 32-byte vault key. Required —
	// Load fails without it and the process must not start.
	EncryptionKey string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	BrokerBaseURL     string
	BrokerTimeout     time.Duration
	BrokerRatePerMin  int // external cap on broker calls, e.g. 120/min
	PortfolioCacheTTL time.Duration

	ValidateInterval    time.Duration
	ValidateConcurrency int
	RetryAttempts       int
	RetryBaseDelay      time.Duration

	PortfolioInterval time.Duration
	MarketInterval    time.Duration
	ChangeThreshold   float64 // percent
	SnapshotRetention time.Duration

	SnapshotArchiveBucket string

	SNSRegion  string
	AlertSMSTo string // E.164 number for urgent alerts; empty disables SMS

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	AlertEmailTo string // destination for high-priority alert emails; empty disables

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Connections   string
	Notifications string
	Snapshots     string
}

// Load reads all configuration from environment variables. It returns an
// error when a value required for safe operation is missing.
func Load() (*Config, error) {
	cfg := &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Connections:   getEnv("DYNAMO_TABLE_CONNECTIONS", "broker_connections"),
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
			Snapshots:     getEnv("DYNAMO_TABLE_SNAPSHOTS", "portfolio_snapshots"),
		},

		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_DAYS", 7)) * 24 * time.Hour,

		BrokerBaseURL:     getEnv("BROKER_BASE_URL", "https://invest-public-api.tinkoff.ru"),
		BrokerTimeout:     getEnvDuration("BROKER_TIMEOUT", 30*time.Second),
		BrokerRatePerMin:  getEnvInt("BROKER_RATE_PER_MIN", 120),
		PortfolioCacheTTL: getEnvDuration("PORTFOLIO_CACHE_TTL", 5*time.Minute),

		ValidateInterval:    getEnvDuration("VALIDATE_INTERVAL", time.Hour),
		ValidateConcurrency: getEnvInt("VALIDATE_CONCURRENCY", 5),
		RetryAttempts:       getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:      getEnvDuration("RETRY_BASE_DELAY", 5*time.Second),

		PortfolioInterval: getEnvDuration("PORTFOLIO_INTERVAL", 5*time.Minute),
		MarketInterval:    getEnvDuration("MARKET_INTERVAL", 15*time.Minute),
		ChangeThreshold:   getEnvFloat("CHANGE_THRESHOLD", 5.0),
		SnapshotRetention: getEnvDuration("SNAPSHOT_RETENTION", 24*time.Hour),

		SnapshotArchiveBucket: getEnv("SNAPSHOT_ARCHIVE_BUCKET", ""),

		SNSRegion:  getEnv("SNS_REGION", "us-east-1"),
		AlertSMSTo: getEnv("ALERT_SMS_TO", ""),

		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnv("SMTP_PORT", "1025"),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		AlertEmailTo: getEnv("ALERT_EMAIL_TO", ""),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}

	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
