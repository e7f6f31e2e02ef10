package delivery

import (
	"log"
	"os"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/config"
	"leadflow/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func testLogger() *log.Logger {
	return log.New(os.Stderr, "TEST: ", log.LstdFlags)
}

func newTestEngine(t *testing.T) (*gorm.DB, *Queue, *Sequencer, *Evaluator) {
	t.Helper()
	db := setupTestDB(t)
	queue := NewQueue(db, testLogger())
	sequencer := NewSequencer(db, queue, testLogger())
	evaluator := NewEvaluator(db, sequencer, testLogger())
	return db, queue, sequencer, evaluator
}

func createLead(t *testing.T, db *gorm.DB, businessID uint) *models.Lead {
	t.Helper()
	lead := &models.Lead{
		BusinessID: businessID,
		Name:       "Ada Lovelace",
		FirstName:  "Ada",
		Phone:      "+5511999990000",
	}
	if err := db.Create(lead).Error; err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}
	return lead
}

func createRule(t *testing.T, db *gorm.DB, rule *models.Rule) *models.Rule {
	t.Helper()
	if rule.Provider == "" {
		rule.Provider = models.ProviderBaileys
	}
	if rule.ApplyMode == "" {
		rule.ApplyMode = models.ApplyOnEnterOnly
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
	return rule
}

func pendingEntries(t *testing.T, db *gorm.DB, ruleID, leadID uint) []models.QueueEntry {
	t.Helper()
	var entries []models.QueueEntry
	err := db.Where("rule_id = ? AND lead_id = ? AND status = ?", ruleID, leadID, models.QueueStatusPending).
		Order("step_index ASC").
		Find(&entries).Error
	if err != nil {
		t.Fatalf("failed to load entries: %v", err)
	}
	return entries
}

func entryAt(t *testing.T, entries []models.QueueEntry, stepIndex int) models.QueueEntry {
	t.Helper()
	for _, e := range entries {
		if e.StepIndex == stepIndex {
			return e
		}
	}
	t.Fatalf("no entry for step %d", stepIndex)
	return models.QueueEntry{}
}

func wantScheduledFor(t *testing.T, entry models.QueueEntry, want time.Time) {
	t.Helper()
	if !entry.ScheduledFor.Equal(want) {
		t.Errorf("step %d scheduled_for = %v, want %v", entry.StepIndex, entry.ScheduledFor, want)
	}
}
