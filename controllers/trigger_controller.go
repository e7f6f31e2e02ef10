package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/delivery"
	"leadflow/models"
	"leadflow/utils"
)

type TriggerController struct {
	DB        *gorm.DB
	Evaluator *delivery.Evaluator
	Logger    *log.Logger
}

func NewTriggerController(db *gorm.DB, evaluator *delivery.Evaluator, logger *log.Logger) *TriggerController {
	return &TriggerController{
		DB:        db,
		Evaluator: evaluator,
		Logger:    logger,
	}
}

// HandleStatusChange ingests one lead status-transition event and runs it
// through the evaluator. The response carries one outcome per matched rule,
// including per-rule failures, so a bad rule never swallows the trigger for
// the rest.
func (tc *TriggerController) HandleStatusChange(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var event delivery.StatusChangeEvent
	if err := c.BodyParser(&event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// The caller's tenant always wins over whatever the payload claims.
	event.BusinessID = user.BusinessID

	if err := utils.ValidateStruct(event); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	outcomes, err := tc.Evaluator.HandleStatusChange(c.Context(), event)
	if err != nil {
		tc.Logger.Printf("Trigger evaluation failed: %v", err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "Failed to evaluate trigger",
			"details": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"matched_rules": len(outcomes),
		"outcomes":      outcomes,
	})
}
