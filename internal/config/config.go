// Package config loads the API server and field sync agent settings from the
// environment. An optional .env file in the working directory is read first.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port        int      `env:"PORT"          envDefault:"8080"`
	Environment string   `env:"APP_ENV"       envDefault:"development"`
	FrontendURL string   `env:"FRONTEND_URL"  envDefault:"http://localhost:3000"`
	CORSOrigins []string `env:"CORS_ORIGINS"  envSeparator:"," envDefault:"http://localhost:3000"`

	SessionSecret string `env:"SESSION_SECRET"`

	Database DatabaseConfig
	Storage  StorageConfig
	OAuth    OAuthConfig
	Log      LogConfig

	RedisAddr      string        `env:"REDIS_ADDR"`
	PresignTTL     time.Duration `env:"PRESIGN_TTL"      envDefault:"15m"`
	NATSURL        string        `env:"NATS_URL"`
	EventsSubject  string        `env:"EVENTS_SUBJECT"   envDefault:"constructionpro.documents"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`
}

type DatabaseConfig struct {
	DSN         string `env:"DB_STRING"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"false"`
	LogLevel    string `env:"DB_LOG_LEVEL"    envDefault:"warn"`
}

type StorageConfig struct {
	Bucket        string `env:"AWS_S3_BUCKET"`
	Region        string `env:"AWS_REGION"              envDefault:"us-east-1"`
	EndpointURL   string `env:"AWS_ENDPOINT_URL"`
	EncryptionKey string `env:"DOCUMENT_ENCRYPTION_KEY"`
}

type OAuthConfig struct {
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CallbackBaseURL    string `env:"OAUTH_CALLBACK_BASE_URL" envDefault:"http://localhost:8080"`
}

type LogConfig struct {
	Format string `env:"LOG_FORMAT" envDefault:"text"`
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
}

// FieldSyncConfig drives the field sync agent (cmd/fieldsync).
type FieldSyncConfig struct {
	APIBaseURL     string        `env:"FIELDSYNC_API_URL"      envDefault:"http://localhost:8080"`
	SessionCookie  string        `env:"FIELDSYNC_SESSION"`
	QueuePath      string        `env:"FIELDSYNC_QUEUE_PATH"   envDefault:"fieldsync.db"`
	RequestTimeout time.Duration `env:"FIELDSYNC_TIMEOUT"      envDefault:"15s"`
	ProbeInterval  time.Duration `env:"FIELDSYNC_PROBE_EVERY"  envDefault:"10s"`
	RatePerSecond  float64       `env:"FIELDSYNC_RATE"         envDefault:"5"`

	BreakerEnabled     bool          `env:"FIELDSYNC_BREAKER"              envDefault:"true"`
	BreakerMinRequests uint32        `env:"FIELDSYNC_BREAKER_MIN_REQUESTS" envDefault:"5"`
	BreakerOpenTimeout time.Duration `env:"FIELDSYNC_BREAKER_OPEN_TIMEOUT" envDefault:"30s"`

	Log LogConfig
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
}

// LoadServer reads ServerConfig from the environment and validates it.
func LoadServer() (*ServerConfig, error) {
	loadDotEnv()

	cfg, err := env.ParseAs[ServerConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("DB_STRING is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("AWS_S3_BUCKET is required")
	}
	if c.Storage.EncryptionKey != "" && len(c.Storage.EncryptionKey) != 64 {
		return fmt.Errorf("DOCUMENT_ENCRYPTION_KEY must be empty or 64 hex characters")
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 characters")
	}
	return nil
}

// IsProduction reports whether the server runs with production defaults.
func (c *ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// LoadFieldSync reads FieldSyncConfig from the environment and validates it.
func LoadFieldSync() (*FieldSyncConfig, error) {
	loadDotEnv()

	cfg, err := env.ParseAs[FieldSyncConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FieldSyncConfig) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("FIELDSYNC_API_URL is required")
	}
	if c.QueuePath == "" {
		return fmt.Errorf("FIELDSYNC_QUEUE_PATH is required")
	}
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("FIELDSYNC_RATE must be positive")
	}
	return nil
}
