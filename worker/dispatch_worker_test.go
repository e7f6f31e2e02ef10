package worker

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/config"
	"leadflow/delivery"
	"leadflow/models"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, provider, phone, text, dedupeKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

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

func newTestWorker(t *testing.T, db *gorm.DB, sender *fakeSender) (*DispatchWorker, *delivery.Queue) {
	t.Helper()
	l := log.New(os.Stderr, "TEST: ", log.LstdFlags)
	queue := delivery.NewQueue(db, l)
	w := NewDispatchWorker(db, queue, sender, l, time.Second, 100, 5*time.Second)
	return w, queue
}

func reload(t *testing.T, db *gorm.DB, id uint) models.QueueEntry {
	t.Helper()
	var e models.QueueEntry
	if err := db.First(&e, id).Error; err != nil {
		t.Fatalf("failed to reload entry %d: %v", id, err)
	}
	return e
}

// Full path: status transition -> evaluator -> sequencer -> queue ->
// dispatcher, with the immediate message going out on the first cycle and
// the delayed step staying pending until its time.
func TestEndToEndDelivery(t *testing.T) {
	db := setupTestDB(t)
	sender := &fakeSender{}
	w, queue := newTestWorker(t, db, sender)

	l := log.New(os.Stderr, "TEST: ", log.LstdFlags)
	sequencer := delivery.NewSequencer(db, queue, l)
	evaluator := delivery.NewEvaluator(db, sequencer, l)

	lead := models.Lead{BusinessID: 1, Name: "Lead FortyTwo", Phone: "+5511988887777"}
	if err := db.Create(&lead).Error; err != nil {
		t.Fatalf("failed to create lead: %v", err)
	}
	rule := models.Rule{
		BusinessID:             1,
		Name:                   "Status 5 welcome",
		StatusIDs:              []uint{5},
		Provider:               models.ProviderBaileys,
		ApplyMode:              models.ApplyOnEnterOnly,
		IsActive:               true,
		SendImmediatelyOnEnter: true,
		ImmediateMessage:       "Hi {lead_name}",
		Steps: []models.RuleStep{
			{StepIndex: 1, MessageTemplate: "Reminder", DelaySeconds: 900, Enabled: true},
		},
	}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}

	triggerTime := time.Now().Add(-time.Second)
	outcomes, err := evaluator.HandleStatusChange(context.Background(), delivery.StatusChangeEvent{
		LeadID:      lead.ID,
		BusinessID:  1,
		OldStatusID: 3,
		NewStatusID: 5,
		OccurredAt:  triggerTime,
	})
	if err != nil {
		t.Fatalf("HandleStatusChange failed: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Fired {
		t.Fatalf("outcomes = %+v, want one fired rule", outcomes)
	}

	var entries []models.QueueEntry
	if err := db.Where("rule_id = ?", rule.ID).Order("step_index ASC").Find(&entries).Error; err != nil {
		t.Fatalf("failed to load entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if !entries[1].ScheduledFor.Equal(triggerTime.Add(900 * time.Second)) {
		t.Errorf("step 1 scheduled_for = %v, want trigger+900s", entries[1].ScheduledFor)
	}

	w.ProcessDueEntries(context.Background())

	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d messages on first cycle, want 1", got)
	}
	if e := reload(t, db, entries[0].ID); e.Status != models.QueueStatusSent || e.SentAt == nil {
		t.Errorf("immediate entry = %+v, want sent with sent_at", e)
	}
	if e := reload(t, db, entries[1].ID); e.Status != models.QueueStatusPending {
		t.Errorf("delayed entry dispatched early: %+v", e)
	}
	if sender.sent[0] != "Hi Lead FortyTwo" {
		t.Errorf("sent text = %q, want rendered template", sender.sent[0])
	}
}

func TestTransportFailureIsTerminal(t *testing.T) {
	db := setupTestDB(t)
	sender := &fakeSender{err: errors.New("connection refused")}
	w, _ := newTestWorker(t, db, sender)

	entry := models.QueueEntry{
		BusinessID:     1,
		RuleID:         1,
		LeadID:         1,
		Provider:       models.ProviderBaileys,
		RecipientPhone: "+5511988887777",
		MessageText:    "hello",
		DedupeKey:      "k1",
		ScheduledFor:   time.Now().Add(-time.Minute),
		Status:         models.QueueStatusPending,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}

	w.ProcessDueEntries(context.Background())

	e := reload(t, db, entry.ID)
	if e.Status != models.QueueStatusFailed {
		t.Fatalf("status = %q, want failed", e.Status)
	}
	if e.Error == nil || *e.Error != "connection refused" {
		t.Errorf("error = %v, want the transport reason verbatim", e.Error)
	}

	// No retry: the next cycle must not pick the entry up again.
	w.ProcessDueEntries(context.Background())
	if e := reload(t, db, entry.ID); e.Status != models.QueueStatusFailed {
		t.Errorf("failed entry left terminal state: %+v", e)
	}
}

func TestDispatchesDespiteDeactivatedRule(t *testing.T) {
	db := setupTestDB(t)
	sender := &fakeSender{}
	w, _ := newTestWorker(t, db, sender)

	rule := models.Rule{BusinessID: 1, Name: "Gone", StatusIDs: []uint{5}, Provider: models.ProviderBaileys, ApplyMode: models.ApplyOnEnterOnly, IsActive: true}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("failed to create rule: %v", err)
	}
	entry := models.QueueEntry{
		BusinessID:     1,
		RuleID:         rule.ID,
		LeadID:         1,
		Provider:       models.ProviderBaileys,
		RecipientPhone: "+5511988887777",
		MessageText:    "queued before deactivation",
		DedupeKey:      "k2",
		ScheduledFor:   time.Now().Add(-time.Minute),
		Status:         models.QueueStatusPending,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}

	// Deactivation does not retro-cancel; only explicit cancellation does.
	if err := db.Model(&rule).Update("is_active", false).Error; err != nil {
		t.Fatalf("failed to deactivate rule: %v", err)
	}

	w.ProcessDueEntries(context.Background())

	if e := reload(t, db, entry.ID); e.Status != models.QueueStatusSent {
		t.Errorf("entry of deactivated rule = %q, want sent", e.Status)
	}
}

func TestCanceledEntryIsNotOverwritten(t *testing.T) {
	db := setupTestDB(t)
	sender := &fakeSender{}
	w, queue := newTestWorker(t, db, sender)

	entry := models.QueueEntry{
		BusinessID:     1,
		RuleID:         1,
		LeadID:         1,
		Provider:       models.ProviderBaileys,
		RecipientPhone: "+5511988887777",
		MessageText:    "to be canceled",
		DedupeKey:      "k3",
		ScheduledFor:   time.Now().Add(-time.Minute),
		Status:         models.QueueStatusPending,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to create entry: %v", err)
	}

	if _, err := queue.CancelPendingForRule(1); err != nil {
		t.Fatalf("CancelPendingForRule failed: %v", err)
	}

	// The entry was listed as due by a racing cycle before cancellation;
	// the guarded transition keeps it canceled.
	w.DispatchEntry(context.Background(), entry)

	if e := reload(t, db, entry.ID); e.Status != models.QueueStatusCanceled {
		t.Errorf("status = %q, want canceled to stick", e.Status)
	}
}
