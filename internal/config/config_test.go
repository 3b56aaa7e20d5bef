package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teleconsult-server/internal/session"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("MEDIA_TOKEN_SECRET", "m")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, session.DefaultBudget(), cfg.Session)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.DSN, "@tcp(localhost:3306)/teleconsult")
	assert.Equal(t, 500*time.Millisecond, cfg.Commit.Backoff)
	assert.Equal(t, time.Hour, cfg.Media.TokenTTL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadConfig_Postgres(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Contains(t, cfg.Database.DSN, "host=db port=5432")
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfig_BadNumber(t *testing.T) {
	t.Setenv("SESSION_BASE_SECONDS", "thirty")
	t.Setenv("COMMIT_RETRY_ATTEMPTS", "x")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_BASE_SECONDS")
	assert.Contains(t, err.Error(), "COMMIT_RETRY_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTSecret: "s",
			Database:  DatabaseConfig{Driver: "mysql"},
			Session:   session.DefaultBudget(),
			Commit:    CommitConfig{Attempts: 1},
			Media:     MediaConfig{TokenSecret: "m"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"no jwt secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "sqlite" }, "DB_DRIVER"},
		{"zero base", func(c *Config) { c.Session.Base = 0 }, "positive"},
		{"warning longer than base", func(c *Config) { c.Session.Warning = 1800 }, "SESSION_WARNING_SECONDS"},
		{"no attempts", func(c *Config) { c.Commit.Attempts = 0 }, "COMMIT_RETRY_ATTEMPTS"},
		{"no media issuer", func(c *Config) { c.Media.TokenSecret = "" }, "MEDIA_TOKEN"},
		{"delegated media issuer", func(c *Config) { c.Media.TokenSecret, c.Media.TokenURL = "", "http://tok" }, ""},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k"} }, "KAFKA_TOPIC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
