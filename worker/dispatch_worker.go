package worker

import (
	"context"
	"log"
	"time"

	"gorm.io/gorm"

	"leadflow/delivery"
	"leadflow/models"
	"leadflow/utils"
)

// DispatchWorker polls the delivery queue for due entries and sends them
// through the WhatsApp transport. Several instances may run concurrently;
// the queue's guarded status transitions make sure each entry reaches a
// terminal state exactly once, the losing instance sees a no-op.
//
// There is no retry: a transport failure leaves the entry failed with the
// reason captured verbatim.
type DispatchWorker struct {
	DB          *gorm.DB
	Queue       *delivery.Queue
	Sender      utils.WhatsAppSender
	Logger      *log.Logger
	Interval    time.Duration
	BatchLimit  int
	SendTimeout time.Duration
}

func NewDispatchWorker(db *gorm.DB, queue *delivery.Queue, sender utils.WhatsAppSender, logger *log.Logger, interval time.Duration, batchLimit int, sendTimeout time.Duration) *DispatchWorker {
	return &DispatchWorker{
		DB:          db,
		Queue:       queue,
		Sender:      sender,
		Logger:      logger,
		Interval:    interval,
		BatchLimit:  batchLimit,
		SendTimeout: sendTimeout,
	}
}

func (dw *DispatchWorker) Start(ctx context.Context) {
	dw.Logger.Println("Dispatch worker started")

	ticker := time.NewTicker(dw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			dw.Logger.Println("Dispatch worker shutting down...")
			return
		case <-ticker.C:
			dw.ProcessDueEntries(ctx)
		}
	}
}

// ProcessDueEntries runs one dispatch cycle: list due entries oldest first,
// bounded by the batch limit, and attempt each one. A bad entry never halts
// the rest of the cycle.
func (dw *DispatchWorker) ProcessDueEntries(ctx context.Context) {
	entries, err := dw.Queue.ListDue("", time.Now(), dw.BatchLimit)
	if err != nil {
		dw.Logger.Printf("Error listing due entries: %v", err)
		return
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}
		dw.DispatchEntry(ctx, entry)
	}
}

// DispatchEntry attempts delivery of one entry and records the terminal
// transition. Entries are dispatched regardless of the owning rule's current
// is_active flag: deactivation never retro-cancels, only the cancellation
// path does.
func (dw *DispatchWorker) DispatchEntry(ctx context.Context, entry models.QueueEntry) {
	sendCtx, cancel := context.WithTimeout(ctx, dw.SendTimeout)
	defer cancel()

	sendErr := dw.Sender.Send(sendCtx, entry.Provider, entry.RecipientPhone, entry.MessageText, entry.DedupeKey)
	if sendErr != nil {
		claimed, err := dw.Queue.MarkFailed(entry.ID, sendErr.Error())
		if err != nil {
			dw.Logger.Printf("Error marking entry %d failed: %v", entry.ID, err)
			return
		}
		if !claimed {
			// Another instance or a cancellation got there first.
			dw.Logger.Printf("Entry %d already resolved, skipping failure record", entry.ID)
			return
		}
		utils.LogError("message_send_failed", sendErr, map[string]interface{}{
			"entry_id": entry.ID,
			"rule_id":  entry.RuleID,
			"lead_id":  entry.LeadID,
			"provider": entry.Provider,
		})
		return
	}

	claimed, err := dw.Queue.MarkSent(entry.ID, time.Now())
	if err != nil {
		dw.Logger.Printf("Error marking entry %d sent: %v", entry.ID, err)
		return
	}
	if !claimed {
		dw.Logger.Printf("Entry %d already resolved by another dispatcher", entry.ID)
		return
	}

	utils.LogEvent("message_sent", map[string]interface{}{
		"entry_id":   entry.ID,
		"rule_id":    entry.RuleID,
		"lead_id":    entry.LeadID,
		"step_index": entry.StepIndex,
		"provider":   entry.Provider,
	})
}
