package controller

import (
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/config"
	"leadflow/models"
)

func setupStatusApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := config.MigrateDB(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	sc := NewStatusController(db, log.New(os.Stderr, "TEST: ", log.LstdFlags))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", &models.User{BusinessID: 1})
		return c.Next()
	})
	app.Delete("/statuses/:id", sc.DeleteStatus)
	return app, db
}

func createStatus(t *testing.T, db *gorm.DB) *models.LeadStatus {
	t.Helper()
	status := &models.LeadStatus{BusinessID: 1, Name: "Qualified"}
	if err := db.Create(status).Error; err != nil {
		t.Fatalf("failed to create status: %v", err)
	}
	return status
}

func TestDeleteStatusRefusedWhileAssigned(t *testing.T) {
	app, db := setupStatusApp(t)
	status := createStatus(t, db)

	lead := &models.Lead{BusinessID: 1, Name: "Ada Lovelace", StatusID: status.ID}
	if err := db.Create(lead).Error; err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/statuses/%d", status.ID), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("delete of assigned status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestDeleteStatusCountFailureDoesNotDelete(t *testing.T) {
	app, db := setupStatusApp(t)
	status := createStatus(t, db)

	// Make the in-use lookup fail; the delete must not go through on an
	// unverified count.
	if err := db.Exec("DROP TABLE leads").Error; err != nil {
		t.Fatalf("failed to drop leads table: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/statuses/%d", status.ID), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("delete with failing lead count = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}

	var remaining int64
	if err := db.Model(&models.LeadStatus{}).Where("id = ?", status.ID).Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count statuses: %v", err)
	}
	if remaining != 1 {
		t.Errorf("status survived = %d, want 1", remaining)
	}
}
