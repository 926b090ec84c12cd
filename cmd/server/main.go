package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"vereniging-incasso/internal/adapters/http/middleware"
	"vereniging-incasso/internal/adapters/http/routes"
	"vereniging-incasso/internal/adapters/persistence/models"
	"vereniging-incasso/internal/config"
	"vereniging-incasso/internal/pkg/cache"

	"github.com/gofiber/fiber/v2"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := config.ConnectDatabase(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer config.CloseDatabase()

	// Auto migrate (creates tables if not exist)
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("❌ Failed to auto migrate: %v", err)
	}
	log.Println("✅ Database migration completed")

	// Shared TTL cache for job status and memoized lookups
	store := cache.New()
	defer store.Close()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Vereniging Incasso API v1.0",
		ErrorHandler: middleware.CustomErrorHandler,
	})

	// Setup middlewares
	middleware.Setup(app, cfg)

	// Setup routes (pass db, cache and cfg for dependency injection)
	svcs := routes.Setup(app, db, store, cfg)

	// Start background workers and the collection schedule
	svcs.Jobs.Start()
	defer svcs.Jobs.Stop()
	svcs.Cron.Start()
	defer svcs.Cron.Stop()

	// Graceful shutdown
	go gracefulShutdown(app)

	// Start server
	log.Printf("🚀 Server starting on port %s [MODE: %s]", cfg.Port, cfg.AppMode)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// gracefulShutdown handles graceful shutdown
func gracefulShutdown(app *fiber.App) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("❌ Error during shutdown: %v", err)
	}
	log.Println("✅ Server stopped gracefully")
}
