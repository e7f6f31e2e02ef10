package routes

import (
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"leadflow/config"
	controller "leadflow/controllers"
	"leadflow/delivery"
	"leadflow/middleware"
)

func SetupAuthRoutes(app *fiber.App) {
	// Auth routes group with logging middleware
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Get("/me", controller.GetCurrentUser)
}

func SetupAPIRoutes(app *fiber.App, db *gorm.DB, evaluator *delivery.Evaluator, queue *delivery.Queue) {
	// Initialize controllers with their respective loggers
	ruleController := controller.NewRuleController(db, queue, log.New(os.Stdout, "RULE: ", log.LstdFlags))
	triggerController := controller.NewTriggerController(db, evaluator, log.New(os.Stdout, "TRIGGER: ", log.LstdFlags))
	queueController := controller.NewQueueController(db, queue, log.New(os.Stdout, "QUEUE: ", log.LstdFlags))
	leadController := controller.NewLeadController(db, evaluator, log.New(os.Stdout, "LEAD: ", log.LstdFlags))
	statusController := controller.NewStatusController(db, log.New(os.Stdout, "STATUS: ", log.LstdFlags))

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Rule routes
	rule := api.Group("/rules")
	rule.Post("/", ruleController.CreateRule)
	rule.Get("/", ruleController.GetRules)
	rule.Get("/:id", ruleController.GetRule)
	rule.Put("/:id", ruleController.UpdateRule)
	rule.Delete("/:id", ruleController.DeleteRule)
	rule.Put("/:id/active", ruleController.SetRuleActive)
	rule.Post("/:id/cancel-pending", ruleController.CancelPending)
	rule.Get("/:id/stats", queueController.GetRuleStats)
	rule.Get("/:id/stats/ws", websocket.New(queueController.HandleStatsWS))

	// Trigger ingestion, rate limited per business
	api.Post("/triggers/status-change", middleware.TriggerRateLimiter(), triggerController.HandleStatusChange)

	// Queue routes
	queueGroup := api.Group("/queue")
	queueGroup.Get("/entries", queueController.GetEntries)
	queueGroup.Get("/stats", queueController.GetBusinessStats)

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", leadController.CreateLead)
	lead.Get("/", leadController.GetLeads)
	lead.Get("/:id", leadController.GetLead)
	lead.Put("/:id/status", leadController.UpdateLeadStatus)

	// CRM status catalog routes
	status := api.Group("/statuses")
	status.Post("/", statusController.CreateStatus)
	status.Get("/", statusController.GetStatuses)
	status.Delete("/:id", statusController.DeleteStatus)

	log.Println("API routes initialized successfully")
}

func SetupRoutes(app *fiber.App, db *gorm.DB) {
	sequencer := delivery.NewSequencer(db, delivery.NewQueue(db, log.New(os.Stdout, "QUEUE: ", log.LstdFlags)), log.New(os.Stdout, "SEQUENCER: ", log.LstdFlags))
	queue := sequencer.Queue
	evaluator := delivery.NewEvaluator(db, sequencer, log.New(os.Stdout, "EVALUATOR: ", log.LstdFlags))
	if config.AppConfig.Redis.Enabled {
		evaluator.Redis = middleware.NewRedisStorage(config.AppConfig.Redis).Client()
		evaluator.Throttle = time.Duration(config.AppConfig.RefireThrottleSeconds) * time.Second
	}

	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Setup auth routes
	SetupAuthRoutes(app)

	// Setup API routes
	SetupAPIRoutes(app, db, evaluator, queue)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
