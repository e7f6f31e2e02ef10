package models

import (
	"time"

	"gorm.io/gorm"
)

// Queue entry statuses. pending is the only non-terminal state; transitions
// are one-way: pending -> sent | failed | canceled.
const (
	QueueStatusPending  = "pending"
	QueueStatusSent     = "sent"
	QueueStatusFailed   = "failed"
	QueueStatusCanceled = "canceled"
)

// QueueEntry is one schedulable message to one lead, derived from a rule (and
// optionally one of its steps) at trigger time. Entries are retained after
// reaching a terminal state for audit and statistics.
type QueueEntry struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`
	RuleID     uint `gorm:"not null;index" json:"rule_id"`
	LeadID     uint `gorm:"not null;index" json:"lead_id"`

	// 0 = immediate message, 1..N = sequence steps
	StepIndex int `gorm:"not null" json:"step_index"`

	// Denormalized from the rule/lead at trigger time so dispatch never
	// depends on the rule still existing.
	Provider       string `gorm:"not null;index" json:"provider"`
	RecipientPhone string `gorm:"not null" json:"recipient_phone"`

	MessageText string `gorm:"not null" json:"message_text"`

	// Handed to the transport so providers with idempotent send APIs can
	// suppress duplicates.
	DedupeKey string `gorm:"uniqueIndex" json:"dedupe_key"`

	ScheduledFor time.Time `gorm:"not null;index" json:"scheduled_for"`

	Status string     `gorm:"not null;default:'pending';index" json:"status"`
	SentAt *time.Time `json:"sent_at"`
	Error  *string    `json:"error"`
}

// IsTerminal reports whether the entry has left the pending state for good.
func (e *QueueEntry) IsTerminal() bool {
	return e.Status != QueueStatusPending
}

// QueueStats holds per-status entry counts for a rule or a business.
type QueueStats struct {
	Pending  int64 `json:"pending"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Canceled int64 `json:"canceled"`
}
