package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/delivery"
	"leadflow/models"
	"leadflow/utils"
)

type LeadController struct {
	DB        *gorm.DB
	Evaluator *delivery.Evaluator
	Logger    *log.Logger
}

func NewLeadController(db *gorm.DB, evaluator *delivery.Evaluator, logger *log.Logger) *LeadController {
	return &LeadController{
		DB:        db,
		Evaluator: evaluator,
		Logger:    logger,
	}
}

type LeadInput struct {
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone" validate:"required"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	StatusID  uint   `json:"status_id"`
	Source    string `json:"source"`
}

func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input LeadInput
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

	lead := models.Lead{
		BusinessID: user.BusinessID,
		Name:       input.Name,
		FirstName:  input.FirstName,
		LastName:   input.LastName,
		Phone:      input.Phone,
		Email:      input.Email,
		Company:    input.Company,
		StatusID:   input.StatusID,
		Source:     input.Source,
	}

	if err := lc.DB.Create(&lead).Error; err != nil {
		lc.Logger.Printf("Failed to create lead: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create lead",
		})
	}

	// A lead created directly into a status counts as entering it.
	if lead.StatusID != 0 {
		lc.emitStatusChange(c, &lead, 0, lead.StatusID)
	}

	return c.Status(fiber.StatusCreated).JSON(lead)
}

func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := lc.DB.Model(&models.Lead{}).Where("business_id = ?", user.BusinessID)
	if statusID := utils.ParseUint(c.Query("status_id")); statusID != 0 {
		query = query.Where("status_id = ?", statusID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch leads",
		})
	}

	var leads []models.Lead
	if err := query.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&leads).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch leads",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND business_id = ?", c.Params("id"), user.BusinessID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	return c.JSON(lead)
}

// UpdateLeadStatus moves a lead to a new pipeline status and feeds the
// transition into the delivery engine. A no-op update (same status) is still
// emitted: WHILE_IN_STATUS rules may care, ON_ENTER_ONLY rules won't fire.
func (lc *LeadController) UpdateLeadStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND business_id = ?", c.Params("id"), user.BusinessID).First(&lead).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Lead not found",
		})
	}

	var input struct {
		StatusID uint `json:"status_id" validate:"required"`
	}
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

	var status models.LeadStatus
	if err := lc.DB.Where("id = ? AND business_id = ?", input.StatusID, user.BusinessID).First(&status).Error; err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown status",
		})
	}

	oldStatusID := lead.StatusID
	if err := lc.DB.Model(&lead).Update("status_id", input.StatusID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update lead status",
		})
	}
	lead.StatusID = input.StatusID

	outcomes := lc.emitStatusChange(c, &lead, oldStatusID, input.StatusID)

	return c.JSON(fiber.Map{
		"lead":     lead,
		"outcomes": outcomes,
	})
}

func (lc *LeadController) emitStatusChange(c *fiber.Ctx, lead *models.Lead, oldStatusID, newStatusID uint) []delivery.RuleOutcome {
	event := delivery.StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  lead.BusinessID,
		OldStatusID: oldStatusID,
		NewStatusID: newStatusID,
		OccurredAt:  time.Now(),
	}

	outcomes, err := lc.Evaluator.HandleStatusChange(c.Context(), event)
	if err != nil {
		// The status change itself already committed; delivery trouble is
		// reported, not propagated as a request failure.
		lc.Logger.Printf("Evaluation failed for lead %d: %v", lead.ID, err)
		utils.LogError("trigger_evaluation_failed", err, map[string]interface{}{
			"lead_id":       lead.ID,
			"new_status_id": newStatusID,
		})
		return nil
	}
	return outcomes
}
