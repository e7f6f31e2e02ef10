package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

type StatusController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewStatusController(db *gorm.DB, logger *log.Logger) *StatusController {
	return &StatusController{DB: db, Logger: logger}
}

func (sc *StatusController) CreateStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name     string `json:"name" validate:"required"`
		Color    string `json:"color"`
		Position int    `json:"position"`
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

	status := models.LeadStatus{
		BusinessID: user.BusinessID,
		Name:       input.Name,
		Color:      input.Color,
		Position:   input.Position,
	}
	if err := sc.DB.Create(&status).Error; err != nil {
		sc.Logger.Printf("Failed to create status: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create status",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(status)
}

func (sc *StatusController) GetStatuses(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var statuses []models.LeadStatus
	if err := sc.DB.Where("business_id = ?", user.BusinessID).Order("position ASC").Find(&statuses).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch statuses",
		})
	}

	return c.JSON(statuses)
}

func (sc *StatusController) DeleteStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var status models.LeadStatus
	if err := sc.DB.Where("id = ? AND business_id = ?", c.Params("id"), user.BusinessID).First(&status).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Status not found",
		})
	}

	var inUse int64
	if err := sc.DB.Model(&models.Lead{}).Where("status_id = ?", status.ID).Count(&inUse).Error; err != nil {
		sc.Logger.Printf("Failed to count leads for status %d: %v", status.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete status",
		})
	}
	if inUse > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Status is still assigned to leads",
		})
	}

	if err := sc.DB.Delete(&status).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete status",
		})
	}

	return c.JSON(fiber.Map{"message": "Status deleted"})
}
