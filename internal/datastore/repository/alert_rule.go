package repository

import (
	"context"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
)

// RuleRepository handles geofence rule persistence. Every write appends a
// row to the rule change outbox in the same transaction.
type RuleRepository interface {
	// ListActive returns all rules with status active, origins preloaded.
	ListActive(ctx context.Context) ([]entities.AlertRule, error)
	GetRule(ctx context.Context, id uint) (*entities.AlertRule, error)
	CreateRule(ctx context.Context, rule *entities.AlertRule) error
	UpdateRule(ctx context.Context, rule *entities.AlertRule) error
	SetStatus(ctx context.Context, id uint, status string) error

	// Outbox
	ListChangesSince(ctx context.Context, afterID uint, limit int) ([]entities.RuleChange, error)
	LatestChangeID(ctx context.Context) (uint, error)
}
