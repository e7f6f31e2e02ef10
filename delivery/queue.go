package delivery

import (
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// Queue wraps all access to the persisted delivery queue. Every mutation of
// an entry's status goes through a guarded, status-preconditioned UPDATE so
// that concurrent dispatcher instances cannot double-process a row.
type Queue struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewQueue(db *gorm.DB, logger *log.Logger) *Queue {
	return &Queue{DB: db, Logger: logger}
}

// InsertBatch persists the given entries in a single atomic batch on the
// provided transaction handle. Either all rows commit or none do.
func (q *Queue) InsertBatch(tx *gorm.DB, entries []models.QueueEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return tx.Create(&entries).Error
}

// HasPending reports whether a non-terminal entry already exists for the
// given (rule, lead, step) tuple.
func (q *Queue) HasPending(tx *gorm.DB, ruleID, leadID uint, stepIndex int) (bool, error) {
	var count int64
	err := tx.Model(&models.QueueEntry{}).
		Where("rule_id = ? AND lead_id = ? AND step_index = ? AND status = ?",
			ruleID, leadID, stepIndex, models.QueueStatusPending).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListDue returns pending entries whose scheduled_for has passed, oldest
// first, bounded by limit. An empty provider matches all providers.
func (q *Queue) ListDue(provider string, now time.Time, limit int) ([]models.QueueEntry, error) {
	query := q.DB.
		Where("status = ? AND scheduled_for <= ?", models.QueueStatusPending, now).
		Order("scheduled_for ASC").
		Limit(limit)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}

	var entries []models.QueueEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list due entries: %w", err)
	}
	return entries, nil
}

// MarkSent transitions an entry from pending to sent. Returns false without
// error when the entry was no longer pending (another dispatcher won the
// race, or it was canceled meanwhile).
func (q *Queue) MarkSent(id uint, sentAt time.Time) (bool, error) {
	result := q.DB.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusPending).
		Updates(map[string]interface{}{
			"status":  models.QueueStatusSent,
			"sent_at": sentAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark entry %d sent: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkFailed transitions an entry from pending to failed, capturing the
// transport's failure reason verbatim. Same no-op semantics as MarkSent.
func (q *Queue) MarkFailed(id uint, reason string) (bool, error) {
	result := q.DB.Model(&models.QueueEntry{}).
		Where("id = ? AND status = ?", id, models.QueueStatusPending).
		Updates(map[string]interface{}{
			"status": models.QueueStatusFailed,
			"error":  reason,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark entry %d failed: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CancelPendingForRule flips every pending entry of the rule to canceled and
// returns how many rows were affected. Terminal entries are untouched.
func (q *Queue) CancelPendingForRule(ruleID uint) (int64, error) {
	result := q.DB.Model(&models.QueueEntry{}).
		Where("rule_id = ? AND status = ?", ruleID, models.QueueStatusPending).
		Update("status", models.QueueStatusCanceled)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel pending entries for rule %d: %w", ruleID, result.Error)
	}
	if result.RowsAffected > 0 {
		utils.LogEvent("queue_entries_canceled", map[string]interface{}{
			"rule_id": ruleID,
			"count":   result.RowsAffected,
		})
	}
	return result.RowsAffected, nil
}

// Stats returns per-status counts for one rule.
func (q *Queue) Stats(ruleID uint) (models.QueueStats, error) {
	return q.countByStatus(q.DB.Model(&models.QueueEntry{}).Where("rule_id = ?", ruleID))
}

// StatsForBusiness returns per-status counts across all rules of a business.
func (q *Queue) StatsForBusiness(businessID uint) (models.QueueStats, error) {
	return q.countByStatus(q.DB.Model(&models.QueueEntry{}).Where("business_id = ?", businessID))
}

func (q *Queue) countByStatus(query *gorm.DB) (models.QueueStats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := query.Select("status, COUNT(*) as count").Group("status").Scan(&rows).Error; err != nil {
		return models.QueueStats{}, fmt.Errorf("failed to aggregate queue stats: %w", err)
	}

	var stats models.QueueStats
	for _, row := range rows {
		switch row.Status {
		case models.QueueStatusPending:
			stats.Pending = row.Count
		case models.QueueStatusSent:
			stats.Sent = row.Count
		case models.QueueStatusFailed:
			stats.Failed = row.Count
		case models.QueueStatusCanceled:
			stats.Canceled = row.Count
		}
	}
	return stats, nil
}

// EntryFilter narrows ListEntries; zero values mean "no filter".
type EntryFilter struct {
	BusinessID uint
	RuleID     uint
	LeadID     uint
	Status     string
}

// ListEntries returns a page of queue entries, newest first, with the total
// row count for the filter.
func (q *Queue) ListEntries(filter EntryFilter, page, limit int) ([]models.QueueEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := q.DB.Model(&models.QueueEntry{})
	if filter.BusinessID != 0 {
		query = query.Where("business_id = ?", filter.BusinessID)
	}
	if filter.RuleID != 0 {
		query = query.Where("rule_id = ?", filter.RuleID)
	}
	if filter.LeadID != 0 {
		query = query.Where("lead_id = ?", filter.LeadID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []models.QueueEntry
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
