package repository

import (
	"context"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
)

// ActivityRepository persists alert activities.
type ActivityRepository interface {
	// FindLatest returns the activity with the greatest event time for the
	// origin and classification. Returns ErrActivityNotFound if none exists.
	FindLatest(ctx context.Context, originEntityID string, code int) (*entities.Activity, error)
	// InsertIfAbsent inserts the activity unless one already occupies its
	// dedup bucket. Reports whether a row was written.
	InsertIfAbsent(ctx context.Context, activity *entities.Activity) (bool, error)
	CountFor(ctx context.Context, originEntityID string, code int) (int64, error)
}
