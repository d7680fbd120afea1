package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/zonewatch/internal/datastore/entities"
)

func TestAssetRepository_ResolveDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssetRepository(db)
	ctx := t.Context()

	require.NoError(t, repo.UpsertVehicle(ctx, &entities.Vehicle{ID: "veh-1", CompanyID: "acme", DeviceID: "imei-1", Plate: "AB-12"}))
	require.NoError(t, repo.UpsertVehicle(ctx, &entities.Vehicle{ID: "veh-2", CompanyID: "acme"}))
	require.NoError(t, repo.UpsertSensor(ctx, &entities.Sensor{ID: "sen-1", CompanyID: "globex", DeviceID: "tag-9"}))

	tests := []struct {
		name    string
		kind    string
		id      string
		want    Device
		wantErr error
	}{
		{"vehicle", entities.OriginKindVehicle, "veh-1", Device{DeviceID: "imei-1", CompanyID: "acme"}, nil},
		{"sensor", entities.OriginKindSensor, "sen-1", Device{DeviceID: "tag-9", CompanyID: "globex"}, nil},
		{"no device", entities.OriginKindVehicle, "veh-2", Device{}, ErrDeviceNotAssigned},
		{"missing", entities.OriginKindVehicle, "veh-404", Device{}, ErrAssetNotFound},
		{"wrong table", entities.OriginKindSensor, "veh-1", Device{}, ErrAssetNotFound},
		{"unknown kind", "trailer", "veh-1", Device{}, ErrUnknownOriginKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ResolveDevice(ctx, tt.kind, tt.id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssetRepository_UpsertReplacesDevice(t *testing.T) {
	db := setupTestDB(t)
	repo := NewAssetRepository(db)
	ctx := t.Context()

	require.NoError(t, repo.UpsertVehicle(ctx, &entities.Vehicle{ID: "veh-1", CompanyID: "acme", DeviceID: "imei-old"}))
	require.NoError(t, repo.UpsertVehicle(ctx, &entities.Vehicle{ID: "veh-1", CompanyID: "acme", DeviceID: "imei-new"}))

	dev, err := repo.ResolveDevice(ctx, entities.OriginKindVehicle, "veh-1")
	require.NoError(t, err)
	assert.Equal(t, "imei-new", dev.DeviceID)

	var count int64
	require.NoError(t, db.Model(&entities.Vehicle{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
