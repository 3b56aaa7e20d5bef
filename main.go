package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"teleconsult-server/internal/config"
	"teleconsult-server/internal/models"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "teleconsult",
		Short: "Telehealth consultation server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env is fine; the environment may already be set.
			_ = godotenv.Load()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			db, err := models.InitDB(models.DatabaseConfig{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			if err := models.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the root logger: JSON on stdout, or a console writer in
// development.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout)
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
