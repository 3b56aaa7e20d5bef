package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"teleconsult-server/internal/appointment"
	"teleconsult-server/internal/consult"
	"teleconsult-server/internal/handlers"
	"teleconsult-server/internal/media"
	"teleconsult-server/internal/middleware"
	"teleconsult-server/internal/models"
	"teleconsult-server/internal/realtime"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Appointments *appointment.Manager
	Orchestrator *consult.Orchestrator
	Hub          *realtime.Hub
	MediaIssuer  media.TokenIssuer
	JWTSecret    string
	Origin       string
	Log          zerolog.Logger
}

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, d Deps) {
	appointmentHandler := handlers.NewAppointmentHandler(d.Appointments)
	sessionHandler := handlers.NewSessionHandler(d.Orchestrator)
	messageHandler := handlers.NewMessageHandler(d.Orchestrator)
	medicalRecordHandler := handlers.NewMedicalRecordHandler(d.Orchestrator)
	mediaHandler := handlers.NewMediaHandler(d.Appointments, d.MediaIssuer)
	realtimeHandler := handlers.NewRealtimeHandler(d.Hub, d.Orchestrator, d.Origin, d.Log)

	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(d.JWTSecret))
	{
		appointmentRoutes := private.Group("/appointments")
		{
			appointmentRoutes.POST("", middleware.RoleAuthMiddleware(models.RolePatient, models.RoleAdmin), appointmentHandler.CreateAppointment)
			appointmentRoutes.GET("", appointmentHandler.GetAppointmentsForUser)
			appointmentRoutes.GET("/:id", appointmentHandler.GetAppointmentByID)

			// Authorization per action inside the lifecycle manager
			appointmentRoutes.POST("/:id/confirm", appointmentHandler.ConfirmAppointment())
			appointmentRoutes.POST("/:id/deny", appointmentHandler.DenyAppointment())
			appointmentRoutes.POST("/:id/cancel", appointmentHandler.CancelAppointment())
			appointmentRoutes.POST("/:id/complete-offline", appointmentHandler.CompleteOffline())

			appointmentRoutes.POST("/:id/messages", messageHandler.SendMessage)
			appointmentRoutes.GET("/:id/messages", messageHandler.GetMessages)
			appointmentRoutes.PUT("/:id/presence", messageHandler.SetPresence)
			appointmentRoutes.GET("/:id/presence", messageHandler.GetPresence)
			appointmentRoutes.GET("/:id/ws", realtimeHandler.Connect)

			draftRoutes := appointmentRoutes.Group("/:id/draft")
			draftRoutes.Use(middleware.RoleAuthMiddleware(models.RoleDoctor, models.RoleAdmin))
			{
				draftRoutes.GET("", medicalRecordHandler.GetDraft)
				draftRoutes.PUT("", medicalRecordHandler.SaveDraft)
				draftRoutes.POST("/ai-summary", medicalRecordHandler.GenerateSummary)
				draftRoutes.DELETE("/ai-summary", medicalRecordHandler.RemoveSummary)
			}

			appointmentRoutes.GET("/:id/record", medicalRecordHandler.GetRecordForAppointment)
		}

		sessionRoutes := private.Group("/sessions/:id")
		{
			sessionRoutes.GET("", sessionHandler.Get())
			sessionRoutes.POST("/start", sessionHandler.Start())
			sessionRoutes.POST("/resume", sessionHandler.Resume())
			sessionRoutes.POST("/extend", sessionHandler.Extend())
			sessionRoutes.POST("/end-now", sessionHandler.EndNow())
			sessionRoutes.POST("/end", sessionHandler.End())
			sessionRoutes.POST("/confirm-end", sessionHandler.ConfirmEnd())
			sessionRoutes.POST("/retry-commit", sessionHandler.RetryCommit())
			sessionRoutes.POST("/leave", sessionHandler.Leave)
			sessionRoutes.POST("/media", sessionHandler.ReportMedia)
		}

		private.GET("/medical-records/patient/:patientId", medicalRecordHandler.GetMedicalRecordsForPatient)
		private.GET("/media/token", mediaHandler.GetToken)
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})
}
