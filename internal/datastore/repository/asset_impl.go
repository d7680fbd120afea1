package repository

import (
	"context"
	"fmt"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// assetRepository implements AssetRepository.
type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository creates a new AssetRepository.
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

// ResolveDevice returns the current device of a vehicle or sensor.
func (r *assetRepository) ResolveDevice(ctx context.Context, kind, entityID string) (Device, error) {
	var (
		dev   Device
		model any
	)
	switch kind {
	case entities.OriginKindVehicle:
		model = &entities.Vehicle{}
	case entities.OriginKindSensor:
		model = &entities.Sensor{}
	default:
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownOriginKind, kind)
	}

	result := r.db.WithContext(ctx).Model(model).
		Select("device_id", "company_id").
		Where("id = ?", entityID).
		Limit(1).
		Scan(&dev)
	if result.Error != nil {
		return Device{}, fmt.Errorf("failed to resolve %s %s: %w", kind, entityID, result.Error)
	}
	if result.RowsAffected == 0 {
		return Device{}, ErrAssetNotFound
	}
	if dev.DeviceID == "" {
		return Device{}, ErrDeviceNotAssigned
	}
	return dev, nil
}

// UpsertVehicle saves or updates a vehicle.
func (r *assetRepository) UpsertVehicle(ctx context.Context, vehicle *entities.Vehicle) error {
	if err := upsertByID(ctx, r.db, vehicle); err != nil {
		return fmt.Errorf("failed to upsert vehicle %s: %w", vehicle.ID, err)
	}
	return nil
}

// UpsertSensor saves or updates a sensor.
func (r *assetRepository) UpsertSensor(ctx context.Context, sensor *entities.Sensor) error {
	if err := upsertByID(ctx, r.db, sensor); err != nil {
		return fmt.Errorf("failed to upsert sensor %s: %w", sensor.ID, err)
	}
	return nil
}

func upsertByID(ctx context.Context, db *gorm.DB, value any) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(value).Error
}
