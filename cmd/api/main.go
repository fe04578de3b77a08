package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/easbase/backend/internal/config"
	"github.com/easbase/backend/internal/database"
	"github.com/easbase/backend/internal/handlers"
	"github.com/easbase/backend/internal/middleware"
	"github.com/easbase/backend/internal/models"
	"github.com/easbase/backend/internal/platform"
	"github.com/easbase/backend/internal/security"
	"github.com/easbase/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Credential vault for secrets at rest
	vault, err := security.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}

	// Provisioning core
	mgmtClient := platform.NewClient(cfg)
	schemaExecutor := platform.NewSchemaExecutor("easbase.dev")
	registry := services.NewGormRegistry()
	provisioner := services.NewProvisioner(cfg, mgmtClient, schemaExecutor, vault, registry)

	// Start orphan reconciler (sweeps failed provisioning jobs every 10 minutes)
	reconciler := services.NewReconcilerService(mgmtClient, registry, 10*time.Minute)
	go reconciler.Start()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Easbase API v1.0",
		ServerHeader: "Easbase",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "easbase-api",
		})
	})

	// Initialize handlers
	backendHandler := handlers.NewBackendHandler(provisioner, registry)

	// API routes
	api := app.Group("/api")

	// Apply rate limiting to API routes (100 requests per minute by default)
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	// Protected routes (dashboard-issued JWT required)
	protected := api.Group("", middleware.AuthRequired(cfg))

	backends := protected.Group("/backends")
	backends.Post("/", backendHandler.CreateBackend)
	backends.Get("/", backendHandler.ListBackends)
	backends.Get("/jobs/:id", backendHandler.GetJob)
	backends.Get("/:id", backendHandler.GetBackend)
	backends.Get("/:id/usage", backendHandler.GetUsage)
	backends.Post("/:id/pause", backendHandler.PauseBackend)
	backends.Post("/:id/resume", backendHandler.ResumeBackend)
	backends.Post("/:id/upgrade", backendHandler.UpgradeBackend)
	backends.Delete("/:id", backendHandler.DeleteBackend)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		reconciler.Stop()
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting Easbase API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
