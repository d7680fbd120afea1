package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/errors"
	"gorm.io/gorm"
)

// defaultChangeBatch caps ListChangesSince when the caller passes no limit.
const defaultChangeBatch = 500

// ruleRepository implements RuleRepository.
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

// ListActive returns active rules ordered by ID.
func (r *ruleRepository) ListActive(ctx context.Context) ([]entities.AlertRule, error) {
	var rules []entities.AlertRule
	err := r.db.WithContext(ctx).Preload("Origins").
		Where("status = ?", entities.RuleStatusActive).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	return rules, nil
}

// GetRule returns a single rule by ID with its origins.
// Returns ErrRuleNotFound if the rule does not exist.
func (r *ruleRepository) GetRule(ctx context.Context, id uint) (*entities.AlertRule, error) {
	var rule entities.AlertRule
	if err := r.db.WithContext(ctx).Preload("Origins").First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule %d: %w", id, err)
	}
	return &rule, nil
}

// CreateRule creates a rule with its origins and records an insert change.
func (r *ruleRepository) CreateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.Status == "" {
		rule.Status = entities.RuleStatusActive
	}
	if !validStatus(rule.Status) {
		return fmt.Errorf("failed to create alert rule: %w: %q", ErrInvalidRuleStatus, rule.Status)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rule).Error; err != nil {
			return fmt.Errorf("failed to create alert rule: %w", err)
		}
		return appendChange(tx, rule.ID, entities.ChangeOpInsert)
	})
}

// UpdateRule replaces a rule, deleting existing origins first.
func (r *ruleRepository) UpdateRule(ctx context.Context, rule *entities.AlertRule) error {
	if rule.ID == 0 {
		return fmt.Errorf("failed to update alert rule: missing rule ID")
	}
	if !validStatus(rule.Status) {
		return fmt.Errorf("failed to update alert rule %d: %w: %q", rule.ID, ErrInvalidRuleStatus, rule.Status)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entities.AlertRule{}).Where("id = ?", rule.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check alert rule %d: %w", rule.ID, err)
		}
		if count == 0 {
			return ErrRuleNotFound
		}
		if err := tx.Where("rule_id = ?", rule.ID).Delete(&entities.RuleOrigin{}).Error; err != nil {
			return fmt.Errorf("failed to delete old origins: %w", err)
		}
		// Zero out IDs so GORM inserts new rows instead of trying to update deleted ones
		for i := range rule.Origins {
			rule.Origins[i].ID = 0
			rule.Origins[i].RuleID = rule.ID
		}
		if err := tx.Save(rule).Error; err != nil {
			return fmt.Errorf("failed to update alert rule: %w", err)
		}
		return appendChange(tx, rule.ID, opForStatus(rule.Status))
	})
}

// SetStatus changes a rule's status. Moving to deleted records a delete
// change, anything else an update.
func (r *ruleRepository) SetStatus(ctx context.Context, id uint, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("failed to set status of alert rule %d: %w: %q", id, ErrInvalidRuleStatus, status)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entities.AlertRule{}).Where("id = ?", id).Update("status", status)
		if result.Error != nil {
			return fmt.Errorf("failed to set status of alert rule %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrRuleNotFound
		}
		return appendChange(tx, id, opForStatus(status))
	})
}

// ListChangesSince returns outbox rows with ID greater than afterID in
// ascending order.
func (r *ruleRepository) ListChangesSince(ctx context.Context, afterID uint, limit int) ([]entities.RuleChange, error) {
	if limit <= 0 {
		limit = defaultChangeBatch
	}
	var changes []entities.RuleChange
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&changes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rule changes after %d: %w", afterID, err)
	}
	return changes, nil
}

// LatestChangeID returns the highest outbox ID, or zero for an empty outbox.
func (r *ruleRepository) LatestChangeID(ctx context.Context) (uint, error) {
	var latest uint
	err := r.db.WithContext(ctx).Model(&entities.RuleChange{}).
		Select("COALESCE(MAX(id), 0)").
		Scan(&latest).Error
	if err != nil {
		return 0, fmt.Errorf("failed to get latest rule change: %w", err)
	}
	return latest, nil
}

func appendChange(tx *gorm.DB, ruleID uint, op string) error {
	change := &entities.RuleChange{RuleID: ruleID, Op: op}
	if err := tx.Create(change).Error; err != nil {
		return fmt.Errorf("failed to record rule change: %w", err)
	}
	return nil
}

func opForStatus(status string) string {
	if status == entities.RuleStatusDeleted {
		return entities.ChangeOpDelete
	}
	return entities.ChangeOpUpdate
}

func validStatus(status string) bool {
	switch status {
	case entities.RuleStatusActive, entities.RuleStatusInactive, entities.RuleStatusDeleted:
		return true
	default:
		return false
	}
}
