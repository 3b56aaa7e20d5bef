package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"teleconsult-server/internal/session"
)

// Config holds all configuration for our application
type Config struct {
	Port        string
	Origin      string
	Environment string
	LogLevel    string
	JWTSecret   string
	Database    DatabaseConfig
	Session     session.Budget
	Commit      CommitConfig
	Media       MediaConfig
	OpenAI      OpenAIConfig
	Kafka       KafkaConfig
	AWS         AWSConfig
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	DSN      string
}

// CommitConfig tunes record commit retries.
type CommitConfig struct {
	Attempts int
	Backoff  time.Duration
}

// MediaConfig configures media token issuance. TokenURL, when set, delegates
// issuance to an external endpoint instead of signing locally.
type MediaConfig struct {
	AppID       string
	TokenSecret string
	TokenURL    string
	TokenTTL    time.Duration
}

// OpenAIConfig configures the summary generator. An empty key disables it.
type OpenAIConfig struct {
	APIKey       string
	SummaryModel string
}

// KafkaConfig configures lifecycle event publishing. No brokers means events
// are only logged.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AWSConfig names the queue and bucket used for commit retries and archiving.
type AWSConfig struct {
	CommitQueue   string
	ArchiveBucket string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	dbConfig := DatabaseConfig{
		Driver:   strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		Host:     getEnv("DB_HOST", "localhost"),
		Username: getEnv("DB_USERNAME", "root"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "teleconsult"),
	}
	switch dbConfig.Driver {
	case "postgres":
		dbConfig.Port = getEnv("DB_PORT", "5432")
		dbConfig.DSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
			dbConfig.Host, dbConfig.Port, dbConfig.Username, dbConfig.Password, dbConfig.Name)
	default:
		dbConfig.Port = getEnv("DB_PORT", "3306")
		dbConfig.DSN = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			dbConfig.Username, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name)
	}

	var errs []error
	intEnv := func(key string, def int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
			return def
		}
		return v
	}

	cfg := &Config{
		Port:        getEnv("PORT", "3001"),
		Origin:      getEnv("ORIGIN", "http://localhost:4200"),
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Database:    dbConfig,
		Session: session.Budget{
			Base:      intEnv("SESSION_BASE_SECONDS", 1800),
			Extension: intEnv("SESSION_EXTENSION_SECONDS", 600),
			Warning:   intEnv("SESSION_WARNING_SECONDS", 60),
		},
		Commit: CommitConfig{
			Attempts: intEnv("COMMIT_RETRY_ATTEMPTS", 3),
			Backoff:  time.Duration(intEnv("COMMIT_RETRY_BACKOFF_MS", 500)) * time.Millisecond,
		},
		Media: MediaConfig{
			AppID:       getEnv("MEDIA_APP_ID", ""),
			TokenSecret: getEnv("MEDIA_TOKEN_SECRET", ""),
			TokenURL:    getEnv("MEDIA_TOKEN_URL", ""),
			TokenTTL:    time.Duration(intEnv("MEDIA_TOKEN_TTL_MINUTES", 60)) * time.Minute,
		},
		OpenAI: OpenAIConfig{
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			SummaryModel: getEnv("OPENAI_MODEL_SUMMARY", "gpt-4o-mini"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "teleconsult.events"),
		},
		AWS: AWSConfig{
			CommitQueue:   getEnv("SQS_COMMIT_QUEUE", ""),
			ArchiveBucket: getEnv("S3_ARCHIVE_BUCKET", ""),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.Database.Driver != "mysql" && c.Database.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("DB_DRIVER must be mysql or postgres, got %q", c.Database.Driver))
	}
	b := c.Session
	if b.Base <= 0 || b.Extension <= 0 || b.Warning <= 0 {
		errs = append(errs, errors.New("session budgets must be positive"))
	}
	if b.Warning >= b.Base {
		errs = append(errs, errors.New("SESSION_WARNING_SECONDS must be shorter than SESSION_BASE_SECONDS"))
	}
	if c.Commit.Attempts < 1 {
		errs = append(errs, errors.New("COMMIT_RETRY_ATTEMPTS must be at least 1"))
	}
	if c.Media.TokenURL == "" && c.Media.TokenSecret == "" {
		errs = append(errs, errors.New("either MEDIA_TOKEN_URL or MEDIA_TOKEN_SECRET is required"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
