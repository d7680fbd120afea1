package repository

import (
	"context"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
)

// Device is the tracking hardware currently bound to a vehicle or sensor.
type Device struct {
	DeviceID  string
	CompanyID string
}

// AssetRepository resolves vehicles and sensors to their current devices.
type AssetRepository interface {
	// ResolveDevice looks up the entity of the given kind. Returns
	// ErrAssetNotFound, ErrDeviceNotAssigned or ErrUnknownOriginKind.
	ResolveDevice(ctx context.Context, kind, entityID string) (Device, error)
	UpsertVehicle(ctx context.Context, vehicle *entities.Vehicle) error
	UpsertSensor(ctx context.Context, sensor *entities.Sensor) error
}
