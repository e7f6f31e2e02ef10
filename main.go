package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"leadflow/config"
	"leadflow/delivery"
	"leadflow/routes"
	"leadflow/utils"
	"leadflow/worker"
)

func main() {
	// Initialize logger
	logger := log.New(os.Stdout, "LEADFLOW: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Optional error reporting
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(cors.New())

	// Initialize the delivery engine shared by workers
	queue := delivery.NewQueue(config.DB, log.New(os.Stdout, "QUEUE: ", log.LstdFlags))
	sender := utils.NewWhatsAppSender()

	// Initialize and start dispatch workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < config.AppConfig.DispatchWorkers; i++ {
		dispatchWorker := worker.NewDispatchWorker(
			config.DB,
			queue,
			sender,
			log.New(os.Stdout, "DISPATCH: ", log.LstdFlags),
			time.Duration(config.AppConfig.DispatchIntervalSeconds)*time.Second,
			config.AppConfig.DispatchBatchLimit,
			time.Duration(config.AppConfig.SendTimeoutSeconds)*time.Second,
		)
		go dispatchWorker.Start(ctx)
	}

	// Setup routes
	routes.SetupRoutes(app, config.DB)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
