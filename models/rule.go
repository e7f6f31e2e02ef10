package models

import "gorm.io/gorm"

// Apply modes control when a rule fires for a status event.
const (
	ApplyOnEnterOnly   = "ON_ENTER_ONLY"   // only on a genuine transition into the status
	ApplyWhileInStatus = "WHILE_IN_STATUS" // also on repeated events while the lead stays there
)

// Message providers (transports) a rule can send through.
const (
	ProviderBaileys = "baileys"
	ProviderMeta    = "meta"
)

// Step delay bounds in seconds: one minute to thirty days.
const (
	MinStepDelaySeconds = 60
	MaxStepDelaySeconds = 2592000
)

// Rule maps one or more CRM statuses to a WhatsApp delivery plan.
type Rule struct {
	gorm.Model
	BusinessID uint `gorm:"not null;index" json:"business_id"`

	Name string `gorm:"not null" json:"name"`

	// CRM status IDs that activate this rule
	StatusIDs []uint `gorm:"type:jsonb;serializer:json" json:"status_ids"`

	Provider  string `gorm:"not null;default:'baileys'" json:"provider"`
	ApplyMode string `gorm:"not null;default:'ON_ENTER_ONLY'" json:"apply_mode"`

	// Inactive rules never fire for new triggers; already-queued entries
	// are untouched until explicitly canceled.
	IsActive bool `gorm:"default:true" json:"is_active"`

	SendImmediatelyOnEnter bool   `gorm:"default:false" json:"send_immediately_on_enter"`
	ImmediateMessage       string `json:"immediate_message"`

	// Relations
	Steps []RuleStep `gorm:"foreignKey:RuleID" json:"steps,omitempty"`
}

// RuleStep is one item in a rule's ordered, delayed message sequence.
type RuleStep struct {
	gorm.Model
	RuleID uint `gorm:"not null;index" json:"rule_id"`

	// 1..N, contiguous within a rule
	StepIndex       int    `gorm:"not null" json:"step_index"`
	MessageTemplate string `json:"message_template"`
	DelaySeconds    int    `gorm:"not null" json:"delay_seconds"`

	// Disabled steps occupy their slot but never produce a queue entry.
	Enabled bool `gorm:"default:true" json:"enabled"`
}

// MatchesStatus reports whether the rule is activated by the given CRM status.
func (r *Rule) MatchesStatus(statusID uint) bool {
	for _, id := range r.StatusIDs {
		if id == statusID {
			return true
		}
	}
	return false
}
