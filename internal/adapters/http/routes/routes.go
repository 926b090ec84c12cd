package routes

import (
	"time"

	"vereniging-incasso/internal/adapters/http/handlers"
	"vereniging-incasso/internal/adapters/http/middleware"
	"vereniging-incasso/internal/adapters/persistence/repositories"
	"vereniging-incasso/internal/config"
	"vereniging-incasso/internal/core/services"
	"vereniging-incasso/internal/pkg/cache"
	"vereniging-incasso/internal/pkg/jwt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// Services bundles the long-lived services the server must start and stop
// alongside the fiber app.
type Services struct {
	Jobs *services.JobService
	Cron *services.CronService
}

// Setup configures all routes for the application and returns the background
// services for lifecycle management.
func Setup(app *fiber.App, db *gorm.DB, store *cache.Store, cfg *config.Config) *Services {
	// Initialize repositories
	mandateRepo := repositories.NewMandateRepository(db)
	invoiceRepo := repositories.NewInvoiceRepository(db, cfg.SEPA.DefaultMandateEnabled)
	batchRepo := repositories.NewBatchRepository(db)
	scheduleRepo := repositories.NewScheduleRepository(db)
	bulkRepo := repositories.NewBulkRepository(db)

	// Initialize services
	errorService := services.NewFinancialErrorService()
	perfService := services.NewPerformanceService(bulkRepo.QueriesIssued)
	notifyService := services.NewNotifyService()
	sequenceService := services.NewSequenceService(mandateRepo)
	coverageService := services.NewCoverageService(scheduleRepo, cfg.SEPA.Tolerances)
	historyService := services.NewHistoryService(bulkRepo, store)
	jobService := services.NewJobService(store, notifyService, cfg.Jobs)
	batchService := services.NewBatchService(
		batchRepo,
		invoiceRepo,
		mandateRepo,
		scheduleRepo,
		bulkRepo,
		sequenceService,
		coverageService,
		errorService,
		perfService,
		notifyService,
		cfg.SEPA,
	)
	cronService := services.NewCronService(batchService, coverageService, jobService)

	jwtManager := jwt.NewManager(cfg.JWT.Secret, time.Duration(cfg.JWT.AccessTokenMins)*time.Minute)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler()
	batchHandler := handlers.NewBatchHandler(batchService, coverageService, jobService, cfg.SEPA)
	jobHandler := handlers.NewJobHandler(jobService, notifyService, batchService, coverageService)
	monitoringHandler := handlers.NewMonitoringHandler(perfService, errorService, bulkRepo)
	memberHandler := handlers.NewMemberHandler(historyService)

	// Health check & root routes
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.HealthCheck)

	// API v1 group
	apiV1 := app.Group("/api/v1")
	apiV1.Get("/", healthHandler.APIInfo)

	auth := middleware.AuthMiddleware(jwtManager)

	// Batch routes (financial admins mutate, any admin reads)
	batchRoutes := apiV1.Group("/batches")
	batchRoutes.Use(auth)
	batchRoutes.Post("/", middleware.FinancialAdminOnly(), middleware.BatchRateLimiter(), batchHandler.CreateBatch)
	batchRoutes.Get("/preview", middleware.AnyAdmin(), batchHandler.PreviewBatch)
	batchRoutes.Get("/coverage", middleware.AnyAdmin(), batchHandler.VerifyCoverage)
	batchRoutes.Get("/upcoming", middleware.AnyAdmin(), batchHandler.UpcomingCollections)
	batchRoutes.Get("/:id", middleware.AnyAdmin(), batchHandler.GetBatch)
	batchRoutes.Get("/:id/submission-check", middleware.FinancialAdminOnly(), batchHandler.SubmissionCheck)
	batchRoutes.Post("/:id/submit", middleware.FinancialAdminOnly(), middleware.BatchRateLimiter(), batchHandler.SubmitBatch)
	batchRoutes.Post("/:id/returns", middleware.FinancialAdminOnly(), middleware.BatchRateLimiter(), batchHandler.ProcessReturns)
	batchRoutes.Post("/:id/settle", middleware.FinancialAdminOnly(), middleware.BatchRateLimiter(), batchHandler.SettleBatch)

	// SEPA configuration routes
	sepaRoutes := apiV1.Group("/sepa")
	sepaRoutes.Use(auth)
	sepaRoutes.Get("/config/validate", middleware.AnyAdmin(), batchHandler.ValidateSEPAConfig)

	// Job routes
	jobRoutes := apiV1.Group("/jobs")
	jobRoutes.Use(auth)
	jobRoutes.Get("/", jobHandler.ListJobs)
	jobRoutes.Post("/", middleware.FinancialAdminOnly(), jobHandler.SubmitJob)
	jobRoutes.Get("/events", jobHandler.JobEvents)
	jobRoutes.Get("/:id", jobHandler.GetJob)
	jobRoutes.Post("/:id/cancel", jobHandler.CancelJob)
	jobRoutes.Post("/:id/retry", jobHandler.RetryJob)

	// Monitoring routes
	monitoringRoutes := apiV1.Group("/monitoring")
	monitoringRoutes.Use(auth)
	monitoringRoutes.Get("/performance", middleware.AnyAdmin(), monitoringHandler.GetPerformanceSummary)
	monitoringRoutes.Get("/errors", middleware.AnyAdmin(), monitoringHandler.GetErrorSummary)
	monitoringRoutes.Post("/xml-analysis", middleware.FinancialAdminOnly(), monitoringHandler.AnalyzeXML)

	// Member history routes
	memberRoutes := apiV1.Group("/members")
	memberRoutes.Use(auth)
	memberRoutes.Post("/history-refresh", middleware.AnyAdmin(), memberHandler.RefreshHistories)

	return &Services{
		Jobs: jobService,
		Cron: cronService,
	}
}
