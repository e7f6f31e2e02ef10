package controller

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/delivery"
	"leadflow/models"
	"leadflow/utils"
)

type RuleController struct {
	DB     *gorm.DB
	Queue  *delivery.Queue
	Logger *log.Logger
}

func NewRuleController(db *gorm.DB, queue *delivery.Queue, logger *log.Logger) *RuleController {
	return &RuleController{
		DB:     db,
		Queue:  queue,
		Logger: logger,
	}
}

type RuleStepInput struct {
	StepIndex       int    `json:"step_index" validate:"required,gte=1"`
	MessageTemplate string `json:"message_template"`
	DelaySeconds    int    `json:"delay_seconds" validate:"required,gte=60,lte=2592000"`
	Enabled         bool   `json:"enabled"`
}

type RuleInput struct {
	Name                   string          `json:"name" validate:"required"`
	StatusIDs              []uint          `json:"status_ids" validate:"required,min=1"`
	Provider               string          `json:"provider" validate:"required,oneof=baileys meta"`
	ApplyMode              string          `json:"apply_mode" validate:"required,oneof=ON_ENTER_ONLY WHILE_IN_STATUS"`
	IsActive               *bool           `json:"is_active"`
	SendImmediatelyOnEnter bool            `json:"send_immediately_on_enter"`
	ImmediateMessage       string          `json:"immediate_message"`
	Steps                  []RuleStepInput `json:"steps" validate:"dive"`
}

// validateRule applies the cross-field checks validator tags cannot express:
// contiguous step indexes from 1, templates on enabled steps, and the
// immediate message requirement. Violations reject the write, nothing is
// ever coerced.
func validateRule(input *RuleInput) error {
	if input.SendImmediatelyOnEnter && input.ImmediateMessage == "" {
		return fmt.Errorf("immediate_message is required when send_immediately_on_enter is set")
	}

	seen := make(map[int]bool, len(input.Steps))
	for _, step := range input.Steps {
		if seen[step.StepIndex] {
			return fmt.Errorf("duplicate step_index %d", step.StepIndex)
		}
		seen[step.StepIndex] = true

		if step.Enabled && step.MessageTemplate == "" {
			return fmt.Errorf("step %d is enabled but has no message_template", step.StepIndex)
		}
	}
	for i := 1; i <= len(input.Steps); i++ {
		if !seen[i] {
			return fmt.Errorf("step indexes must be contiguous starting at 1; missing %d", i)
		}
	}
	return nil
}

func (rc *RuleController) CreateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input RuleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validateRule(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	rule := models.Rule{
		BusinessID:             user.BusinessID,
		Name:                   input.Name,
		StatusIDs:              input.StatusIDs,
		Provider:               input.Provider,
		ApplyMode:              input.ApplyMode,
		IsActive:               isActive,
		SendImmediatelyOnEnter: input.SendImmediatelyOnEnter,
		ImmediateMessage:       input.ImmediateMessage,
	}
	for _, step := range input.Steps {
		rule.Steps = append(rule.Steps, models.RuleStep{
			StepIndex:       step.StepIndex,
			MessageTemplate: step.MessageTemplate,
			DelaySeconds:    step.DelaySeconds,
			Enabled:         step.Enabled,
		})
	}

	if err := rc.DB.Create(&rule).Error; err != nil {
		rc.Logger.Printf("Failed to create rule: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create rule",
		})
	}

	utils.LogEvent("rule_created", map[string]interface{}{
		"rule_id":     rule.ID,
		"business_id": rule.BusinessID,
		"steps":       len(rule.Steps),
	})

	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (rc *RuleController) GetRules(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var rules []models.Rule
	if err := rc.DB.Where("business_id = ?", user.BusinessID).Preload("Steps").Find(&rules).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch rules",
		})
	}

	return c.JSON(rules)
}

func (rc *RuleController) GetRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	rule, err := rc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	return c.JSON(rule)
}

// UpdateRule replaces the rule and its step list wholesale. Pending entries
// scheduled under the old version are left alone; the operator cancels them
// explicitly if the edit made them obsolete.
func (rc *RuleController) UpdateRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	rule, err := rc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	var input RuleInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validateRule(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	err = rc.DB.Transaction(func(tx *gorm.DB) error {
		rule.Name = input.Name
		rule.StatusIDs = input.StatusIDs
		rule.Provider = input.Provider
		rule.ApplyMode = input.ApplyMode
		rule.SendImmediatelyOnEnter = input.SendImmediatelyOnEnter
		rule.ImmediateMessage = input.ImmediateMessage
		if input.IsActive != nil {
			rule.IsActive = *input.IsActive
		}

		if err := tx.Save(rule).Error; err != nil {
			return err
		}

		// Replace the whole step list
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&models.RuleStep{}).Error; err != nil {
			return err
		}
		for _, step := range input.Steps {
			if err := tx.Create(&models.RuleStep{
				RuleID:          rule.ID,
				StepIndex:       step.StepIndex,
				MessageTemplate: step.MessageTemplate,
				DelaySeconds:    step.DelaySeconds,
				Enabled:         step.Enabled,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		rc.Logger.Printf("Failed to update rule %d: %v", rule.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update rule",
		})
	}

	updated, err := rc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reload rule",
		})
	}
	return c.JSON(updated)
}

// DeleteRule removes the rule and cancels its pending queue entries in the
// same transaction. Terminal entries stay for audit.
func (rc *RuleController) DeleteRule(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	rule, err := rc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	var canceled int64
	err = rc.DB.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.QueueEntry{}).
			Where("rule_id = ? AND status = ?", rule.ID, models.QueueStatusPending).
			Update("status", models.QueueStatusCanceled)
		if result.Error != nil {
			return result.Error
		}
		canceled = result.RowsAffected

		if err := tx.Where("rule_id = ?", rule.ID).Delete(&models.RuleStep{}).Error; err != nil {
			return err
		}
		return tx.Delete(rule).Error
	})
	if err != nil {
		rc.Logger.Printf("Failed to delete rule %d: %v", rule.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete rule",
		})
	}

	utils.LogEvent("rule_deleted", map[string]interface{}{
		"rule_id":          rule.ID,
		"canceled_entries": canceled,
	})

	return c.JSON(fiber.Map{
		"message":          "Rule deleted",
		"canceled_entries": canceled,
	})
}

// SetRuleActive flips the is_active flag. Deactivation stops new triggers
// only; already-queued entries keep dispatching until explicitly canceled.
func (rc *RuleController) SetRuleActive(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	rule, err := rc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	var input struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := rc.DB.Model(rule).Update("is_active", input.IsActive).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update rule",
		})
	}

	return c.JSON(fiber.Map{
		"message":   "Rule updated",
		"is_active": input.IsActive,
	})
}

// CancelPending is the explicit cancellation action: every pending entry of
// the rule flips to canceled, the count is returned for operator feedback.
func (rc *RuleController) CancelPending(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	rule, err := rc.findRule(c.Params("id"), user.BusinessID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	count, err := rc.Queue.CancelPendingForRule(rule.ID)
	if err != nil {
		rc.Logger.Printf("Failed to cancel pending entries for rule %d: %v", rule.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to cancel pending entries",
		})
	}

	return c.JSON(fiber.Map{
		"message":          "Pending entries canceled",
		"canceled_entries": count,
	})
}

func (rc *RuleController) findRule(id string, businessID uint) (*models.Rule, error) {
	var rule models.Rule
	err := rc.DB.Where("id = ? AND business_id = ?", id, businessID).
		Preload("Steps").
		First(&rule).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
