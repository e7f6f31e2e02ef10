package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"leadflow/delivery"
	"leadflow/models"
	"leadflow/utils"
)

type QueueController struct {
	DB     *gorm.DB
	Queue  *delivery.Queue
	Logger *log.Logger
}

func NewQueueController(db *gorm.DB, queue *delivery.Queue, logger *log.Logger) *QueueController {
	return &QueueController{
		DB:     db,
		Queue:  queue,
		Logger: logger,
	}
}

// GetEntries lists queue entries for the caller's business, filterable by
// rule, lead and status, paginated newest first.
func (qc *QueueController) GetEntries(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	status := c.Query("status")
	if status != "" {
		switch status {
		case models.QueueStatusPending, models.QueueStatusSent, models.QueueStatusFailed, models.QueueStatusCanceled:
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid status filter",
			})
		}
	}

	filter := delivery.EntryFilter{
		BusinessID: user.BusinessID,
		RuleID:     utils.ParseUint(c.Query("rule_id")),
		LeadID:     utils.ParseUint(c.Query("lead_id")),
		Status:     status,
	}
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)

	entries, total, err := qc.Queue.ListEntries(filter, page, limit)
	if err != nil {
		qc.Logger.Printf("Failed to list queue entries: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch queue entries",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  entries,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetRuleStats returns per-status entry counts for one rule.
func (qc *QueueController) GetRuleStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	rule, err := qc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	stats, err := qc.Queue.Stats(rule.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch stats",
		})
	}

	return c.JSON(stats)
}

// GetBusinessStats returns per-status entry counts across all the business's
// rules.
func (qc *QueueController) GetBusinessStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	stats, err := qc.Queue.StatsForBusiness(user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch stats",
		})
	}

	return c.JSON(stats)
}

// HandleStatsWS streams a rule's queue stats every few seconds until the
// client hangs up. The upgrade request passes through the JWT middleware,
// so the authenticated user is available via Locals; the rule is resolved
// within that user's business before anything is streamed. The snapshot is
// read fresh from the queue each tick, so it is at most one interval stale.
func (qc *QueueController) HandleStatsWS(conn *websocket.Conn) {
	defer conn.Close()

	user, ok := conn.Locals("user").(*models.User)
	if !ok {
		_ = conn.WriteJSON(fiber.Map{"error": "Authorization required"})
		return
	}

	rule, err := qc.findRule(conn.Params("id"), user.BusinessID)
	if err != nil {
		_ = conn.WriteJSON(fiber.Map{"error": "Rule not found"})
		return
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		stats, err := qc.Queue.Stats(rule.ID)
		if err != nil {
			qc.Logger.Printf("Stats stream failed for rule %d: %v", rule.ID, err)
			return
		}

		update := struct {
			RuleID uint              `json:"rule_id"`
			At     time.Time         `json:"at"`
			Stats  models.QueueStats `json:"stats"`
		}{
			RuleID: rule.ID,
			At:     time.Now(),
			Stats:  stats,
		}

		if err := conn.WriteJSON(update); err != nil {
			return
		}
	}
}

func (qc *QueueController) findRule(id string, businessID uint) (*models.Rule, error) {
	var rule models.Rule
	err := qc.DB.Where("id = ? AND business_id = ?", id, businessID).First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
