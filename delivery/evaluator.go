package delivery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// StatusChangeEvent is one discrete lead status transition as delivered by
// the CRM side.
type StatusChangeEvent struct {
	LeadID      uint      `json:"lead_id" validate:"required"`
	BusinessID  uint      `json:"business_id" validate:"required"`
	OldStatusID uint      `json:"old_status_id"`
	NewStatusID uint      `json:"new_status_id" validate:"required"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RuleOutcome reports what happened for one matched rule during evaluation.
type RuleOutcome struct {
	RuleID   uint            `json:"rule_id"`
	RuleName string          `json:"rule_name"`
	Fired    bool            `json:"fired"`
	Reason   string          `json:"reason,omitempty"`
	Schedule *ScheduleResult `json:"schedule,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Evaluator matches status transition events against active rules and hands
// each match to the Sequencer. A failure on one rule never blocks the others;
// per-rule errors are collected into the outcome list.
type Evaluator struct {
	DB        *gorm.DB
	Sequencer *Sequencer
	Logger    *log.Logger

	// Optional WHILE_IN_STATUS re-fire throttle. When Redis is available and
	// Throttle > 0, a repeated event for the same (rule, lead) inside the
	// window is suppressed before it reaches the Sequencer.
	Redis    *redis.Client
	Throttle time.Duration
}

func NewEvaluator(db *gorm.DB, sequencer *Sequencer, logger *log.Logger) *Evaluator {
	return &Evaluator{DB: db, Sequencer: sequencer, Logger: logger}
}

// HandleStatusChange evaluates every active rule of the business against the
// event and returns one outcome per matching rule.
func (ev *Evaluator) HandleStatusChange(ctx context.Context, event StatusChangeEvent) ([]RuleOutcome, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	var lead models.Lead
	if err := ev.DB.Where("id = ? AND business_id = ?", event.LeadID, event.BusinessID).First(&lead).Error; err != nil {
		return nil, fmt.Errorf("lead %d not found for business %d: %w", event.LeadID, event.BusinessID, err)
	}

	var rules []models.Rule
	err := ev.DB.
		Where("business_id = ? AND is_active = ?", event.BusinessID, true).
		Preload("Steps").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	var outcomes []RuleOutcome
	for i := range rules {
		rule := &rules[i]
		if !rule.MatchesStatus(event.NewStatusID) {
			continue
		}
		outcomes = append(outcomes, ev.evaluateRule(ctx, rule, &lead, event))
	}
	return outcomes, nil
}

func (ev *Evaluator) evaluateRule(ctx context.Context, rule *models.Rule, lead *models.Lead, event StatusChangeEvent) RuleOutcome {
	outcome := RuleOutcome{RuleID: rule.ID, RuleName: rule.Name}

	isTransition := event.OldStatusID != event.NewStatusID

	switch rule.ApplyMode {
	case models.ApplyOnEnterOnly:
		if !isTransition {
			outcome.Reason = "not a transition into the status"
			return outcome
		}
	case models.ApplyWhileInStatus:
		if !isTransition && ev.throttled(ctx, rule.ID, lead.ID) {
			outcome.Reason = "re-fire throttled"
			return outcome
		}
	default:
		outcome.Error = fmt.Sprintf("unknown apply mode %q", rule.ApplyMode)
		utils.LogError("rule_evaluation_failed", fmt.Errorf("unknown apply mode %q", rule.ApplyMode), map[string]interface{}{
			"rule_id": rule.ID,
		})
		return outcome
	}

	schedule, err := ev.Sequencer.Schedule(rule, lead, event.OccurredAt)
	if err != nil {
		// Isolate this rule's failure; the caller keeps evaluating the rest.
		ev.Logger.Printf("Scheduling failed for rule %d lead %d: %v", rule.ID, lead.ID, err)
		utils.LogError("rule_scheduling_failed", err, map[string]interface{}{
			"rule_id": rule.ID,
			"lead_id": lead.ID,
		})
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Fired = true
	outcome.Schedule = schedule
	return outcome
}

// throttled claims the re-fire slot for (rule, lead) and reports true when a
// previous event already holds it. Without Redis the throttle is off and the
// pending-entry guard in the Sequencer is the only safeguard.
func (ev *Evaluator) throttled(ctx context.Context, ruleID, leadID uint) bool {
	if ev.Redis == nil || ev.Throttle <= 0 {
		return false
	}

	key := fmt.Sprintf("refire:%d:%d", ruleID, leadID)
	ok, err := ev.Redis.SetNX(ctx, key, 1, ev.Throttle).Result()
	if err != nil {
		// Redis trouble must not drop triggers; fall back to unthrottled.
		ev.Logger.Printf("Re-fire throttle check failed: %v", err)
		return false
	}
	return !ok
}
