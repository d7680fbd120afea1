package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// activityRepository implements ActivityRepository.
type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

// FindLatest retrieves the most recent activity by event time.
func (r *activityRepository) FindLatest(ctx context.Context, originEntityID string, code int) (*entities.Activity, error) {
	var activity entities.Activity
	err := r.db.WithContext(ctx).
		Where("origin_entity_id = ? AND classification_code = ?", originEntityID, code).
		Order("event_time DESC").
		First(&activity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest activity for %s/%d: %w", originEntityID, code, err)
	}
	return &activity, nil
}

// InsertIfAbsent saves the activity, skipping conflicts on the dedup index.
// EventTime is stored in UTC; sqlite compares times as text, so mixed
// offsets would break FindLatest ordering.
func (r *activityRepository) InsertIfAbsent(ctx context.Context, activity *entities.Activity) (bool, error) {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	activity.EventTime = activity.EventTime.UTC()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "origin_entity_id"},
				{Name: "classification_code"},
				{Name: "bucket"},
			},
			DoNothing: true,
		}).
		Create(activity)
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert activity for %s: %w", activity.OriginEntityID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// CountFor returns the number of activities for the origin and classification.
func (r *activityRepository) CountFor(ctx context.Context, originEntityID string, code int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Activity{}).
		Where("origin_entity_id = ? AND classification_code = ?", originEntityID, code).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count activities for %s/%d: %w", originEntityID, code, err)
	}
	return count, nil
}
