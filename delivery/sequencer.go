package delivery

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// ScheduleResult describes what one Sequencer invocation did for one rule.
type ScheduleResult struct {
	RuleID uint `json:"rule_id"`
	LeadID uint `json:"lead_id"`

	// Step indexes that produced a new queue entry
	Created []int `json:"created"`
	// Step indexes skipped because a pending entry already existed
	SkippedExisting []int `json:"skipped_existing"`
	// Step index -> render error; non-fatal, those steps are skipped
	RenderFailures map[int]string `json:"render_failures,omitempty"`
}

// Sequencer expands a matched rule into queue entries with absolute fire
// times. Each step's delay is cumulative from the trigger event, never from
// the wall-clock time the previous step actually sent, so a dispatch backlog
// never shifts the schedule.
type Sequencer struct {
	DB     *gorm.DB
	Queue  *Queue
	Logger *log.Logger
}

func NewSequencer(db *gorm.DB, queue *Queue, logger *log.Logger) *Sequencer {
	return &Sequencer{DB: db, Queue: queue, Logger: logger}
}

// Schedule builds and persists the queue entries a trigger produces for one
// rule. The whole batch commits atomically; a (rule, lead, step) tuple that
// already has a pending entry is skipped, which is the sole idempotency
// boundary against repeated triggers.
func (s *Sequencer) Schedule(rule *models.Rule, lead *models.Lead, occurredAt time.Time) (*ScheduleResult, error) {
	result := &ScheduleResult{
		RuleID:         rule.ID,
		LeadID:         lead.ID,
		RenderFailures: make(map[int]string),
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var entries []models.QueueEntry

		if rule.SendImmediatelyOnEnter {
			entry, outcome, err := s.buildEntry(tx, rule, lead, 0, rule.ImmediateMessage, occurredAt)
			if err != nil {
				return err
			}
			s.record(result, 0, entry, outcome, &entries)
		}

		steps := make([]models.RuleStep, len(rule.Steps))
		copy(steps, rule.Steps)
		sort.Slice(steps, func(i, j int) bool {
			return steps[i].StepIndex < steps[j].StepIndex
		})

		cumulativeDelay := 0
		for _, step := range steps {
			if !step.Enabled {
				continue
			}
			cumulativeDelay += step.DelaySeconds

			scheduledFor := occurredAt.Add(time.Duration(cumulativeDelay) * time.Second)
			entry, outcome, err := s.buildEntry(tx, rule, lead, step.StepIndex, step.MessageTemplate, scheduledFor)
			if err != nil {
				return err
			}
			s.record(result, step.StepIndex, entry, outcome, &entries)
		}

		return s.Queue.InsertBatch(tx, entries)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule rule %d for lead %d: %w", rule.ID, lead.ID, err)
	}

	if len(result.Created) > 0 {
		utils.LogEvent("queue_entries_scheduled", map[string]interface{}{
			"rule_id": rule.ID,
			"lead_id": lead.ID,
			"steps":   result.Created,
		})
	}
	return result, nil
}

type buildOutcome int

const (
	entryBuilt buildOutcome = iota
	entryExists
	entryRenderFailed
)

func (s *Sequencer) buildEntry(tx *gorm.DB, rule *models.Rule, lead *models.Lead, stepIndex int, template string, scheduledFor time.Time) (*models.QueueEntry, buildOutcome, error) {
	exists, err := s.Queue.HasPending(tx, rule.ID, lead.ID, stepIndex)
	if err != nil {
		return nil, 0, err
	}
	if exists {
		return nil, entryExists, nil
	}

	text, err := utils.RenderMessage(template, lead)
	if err != nil {
		// A bad template skips this step only; the rest of the batch proceeds.
		s.Logger.Printf("Render failed for rule %d step %d: %v", rule.ID, stepIndex, err)
		utils.LogError("template_render_failed", err, map[string]interface{}{
			"rule_id":    rule.ID,
			"lead_id":    lead.ID,
			"step_index": stepIndex,
		})
		return &models.QueueEntry{StepIndex: stepIndex, Error: utils.Pointer(err.Error())}, entryRenderFailed, nil
	}

	return &models.QueueEntry{
		BusinessID:     rule.BusinessID,
		RuleID:         rule.ID,
		LeadID:         lead.ID,
		StepIndex:      stepIndex,
		Provider:       rule.Provider,
		RecipientPhone: lead.Phone,
		MessageText:    text,
		DedupeKey:      uuid.NewString(),
		ScheduledFor:   scheduledFor,
		Status:         models.QueueStatusPending,
	}, entryBuilt, nil
}

func (s *Sequencer) record(result *ScheduleResult, stepIndex int, entry *models.QueueEntry, outcome buildOutcome, entries *[]models.QueueEntry) {
	switch outcome {
	case entryBuilt:
		result.Created = append(result.Created, stepIndex)
		*entries = append(*entries, *entry)
	case entryExists:
		result.SkippedExisting = append(result.SkippedExisting, stepIndex)
	case entryRenderFailed:
		result.RenderFailures[stepIndex] = *entry.Error
	}
}
