package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/archive"
	"teleconsult-server/internal/cloud"
	"teleconsult-server/internal/config"
	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/draft"
	"teleconsult-server/internal/events"
	"teleconsult-server/internal/llm"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/middleware"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/presence"
	"teleconsult-server/internal/queue"
	"teleconsult-server/internal/realtime"
	"teleconsult-server/internal/routes"
	"teleconsult-server/internal/utils"
)

// maxCommitBackoff caps the delay between queued commit retries.
const maxCommitBackoff = 5 * time.Minute

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := models.InitDB(models.DatabaseConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.IsDevelopment(),
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	var aws *cloud.Clients
	if cfg.AWS.CommitQueue != "" || cfg.AWS.ArchiveBucket != "" {
		if aws, err = cloud.NewClients(ctx); err != nil {
			return err
		}
	}

	pub, closePub := newPublisher(cfg, logger)
	defer closePub()

	commitQueue, err := newQueue(ctx, cfg, aws, logger)
	if err != nil {
		return err
	}

	hub := realtime.NewHub(logger)
	appts, orch := buildCore(db, cfg, aws, pub, commitQueue, hub, logger)

	go func() {
		if err := commitQueue.Consume(ctx, orch.ProcessCommitJob); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("commit queue consumer stopped")
		}
	}()

	router := newRouter(cfg, logger)
	routes.SetupRoutes(router, routes.Deps{
		Appointments: appts,
		Orchestrator: orch,
		Hub:          hub,
		MediaIssuer:  newMediaIssuer(cfg.Media),
		JWTSecret:    cfg.JWTSecret,
		Origin:       cfg.Origin,
		Log:          logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildCore wires the stores and services behind the orchestrator.
func buildCore(db *gorm.DB, cfg *config.Config, aws *cloud.Clients, pub events.Publisher, q queue.Queue, notifier consult.Notifier, logger zerolog.Logger) (*appointment.Manager, *consult.Orchestrator) {
	appts := appointment.NewManager(appointment.NewGormStore(db), pub, logger)

	draftOpts := []draft.Option{
		draft.WithPublisher(pub),
		draft.WithRetry(utils.RetryPolicy{
			Attempts: cfg.Commit.Attempts,
			Initial:  cfg.Commit.Backoff,
			Max:      8 * cfg.Commit.Backoff,
		}),
	}
	if cfg.OpenAI.APIKey != "" {
		draftOpts = append(draftOpts, draft.WithSummarizer(llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.SummaryModel)))
	}
	if aws != nil && cfg.AWS.ArchiveBucket != "" {
		draftOpts = append(draftOpts, draft.WithArchiver(archive.NewS3Archiver(aws.S3, cfg.AWS.ArchiveBucket, logger)))
	}
	drafts := draft.NewManager(draft.NewGormLocalStore(db), draft.NewGormRecordStore(db), logger, draftOpts...)

	var orch *consult.Orchestrator
	channel := presence.NewChannel(presence.NewGormBackend(db), logger,
		presence.WithPresenceListener(func(st models.PresenceState) {
			if orch != nil {
				orch.NotifyPresence(st)
			}
		}))

	orch = consult.New(appts, drafts, channel, logger,
		consult.WithBudget(cfg.Session),
		consult.WithQueue(q),
		consult.WithPublisher(pub),
		consult.WithNotifier(notifier),
		consult.WithTicker(time.Second),
	)
	return appts, orch
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.NewLogPublisher(logger), func() {}
	}
	p := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing kafka writer")
		}
	}
}

func newQueue(ctx context.Context, cfg *config.Config, aws *cloud.Clients, logger zerolog.Logger) (queue.Queue, error) {
	if aws != nil && cfg.AWS.CommitQueue != "" {
		q, err := queue.NewSQSQueue(ctx, aws.SQS, cfg.AWS.CommitQueue, cfg.Commit.Backoff, maxCommitBackoff, logger)
		if err != nil {
			return nil, fmt.Errorf("commit queue: %w", err)
		}
		return q, nil
	}
	logger.Warn().Msg("SQS_COMMIT_QUEUE not set, pending commits are retried in memory only")
	return queue.NewMemoryQueue(256, cfg.Commit.Backoff, maxCommitBackoff, logger), nil
}

func newMediaIssuer(cfg config.MediaConfig) media.TokenIssuer {
	if cfg.TokenURL != "" {
		return media.NewHTTPIssuer(cfg.TokenURL, cfg.AppID, cfg.TokenTTL, nil)
	}
	return media.NewHMACIssuer(cfg.AppID, cfg.TokenSecret, cfg.TokenTTL)
}

func newRouter(cfg *config.Config, logger zerolog.Logger) *gin.Engine {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestLogger(logger), middleware.Recovery(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Origin}
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{middleware.RequestIDHeader}
	router.Use(cors.New(corsConfig))
	return router
}
