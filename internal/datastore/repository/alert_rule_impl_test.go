package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

const squareZone = `{"type":"Polygon","coordinates":[[[0,0],[0,10],[10,10],[10,0],[0,0]]]}`

// setupTestDB creates an in-memory SQLite database for repository tests.
// Uses shared-cache mode with a single connection to ensure all operations
// see the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_foreign_keys=ON"), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open in-memory database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(entities.All()...), "failed to migrate tables")
	return db
}

// createTestRule creates an active rule watching a single vehicle.
func createTestRule(t *testing.T, repo RuleRepository, name, vehicleID string) *entities.AlertRule {
	t.Helper()
	rule := &entities.AlertRule{
		Name:           name,
		CompanyID:      "acme",
		EvaluationType: "in",
		Zone:           squareZone,
		Origins: []entities.RuleOrigin{
			{EntityID: vehicleID, EntityKind: entities.OriginKindVehicle},
		},
	}
	require.NoError(t, repo.CreateRule(t.Context(), rule))
	return rule
}

func TestRuleRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := t.Context()

	rule := &entities.AlertRule{
		Name:           "Depot",
		CompanyID:      "acme",
		EvaluationType: "out",
		Zone:           squareZone,
		Origins: []entities.RuleOrigin{
			{EntityID: "veh-1", EntityKind: entities.OriginKindVehicle},
			{EntityID: "sen-9", EntityKind: entities.OriginKindSensor},
		},
	}
	require.NoError(t, repo.CreateRule(ctx, rule))
	assert.NotZero(t, rule.ID)

	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "Depot", got.Name)
	assert.Equal(t, "acme", got.CompanyID)
	assert.Equal(t, entities.RuleStatusActive, got.Status, "empty status defaults to active")
	assert.Equal(t, "out", got.EvaluationType)
	assert.JSONEq(t, squareZone, got.Zone)
	require.Len(t, got.Origins, 2)
	assert.Equal(t, "veh-1", got.Origins[0].EntityID)
	assert.Equal(t, entities.OriginKindSensor, got.Origins[1].EntityKind)

	changes, err := repo.ListChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, rule.ID, changes[0].RuleID)
	assert.Equal(t, entities.ChangeOpInsert, changes[0].Op)
}

func TestRuleRepository_GetRule_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)

	_, err := repo.GetRule(t.Context(), 999)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleRepository_CreateRule_InvalidStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)

	err := repo.CreateRule(t.Context(), &entities.AlertRule{Name: "x", CompanyID: "acme", Status: "paused", Zone: squareZone})
	require.ErrorIs(t, err, ErrInvalidRuleStatus)

	latest, err := repo.LatestChangeID(t.Context())
	require.NoError(t, err)
	assert.Zero(t, latest, "rejected write must not append a change")
}

func TestRuleRepository_ListActive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := t.Context()

	r1 := createTestRule(t, repo, "one", "veh-1")
	r2 := createTestRule(t, repo, "two", "veh-2")
	r3 := createTestRule(t, repo, "three", "veh-3")

	require.NoError(t, repo.SetStatus(ctx, r2.ID, entities.RuleStatusInactive))
	require.NoError(t, repo.SetStatus(ctx, r3.ID, entities.RuleStatusDeleted))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, r1.ID, active[0].ID)
	require.Len(t, active[0].Origins, 1, "origins are preloaded")
	assert.Equal(t, "veh-1", active[0].Origins[0].EntityID)
}

func TestRuleRepository_UpdateRule(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := t.Context()

	created := createTestRule(t, repo, "Yard", "veh-1")

	rule, err := repo.GetRule(ctx, created.ID)
	require.NoError(t, err)
	rule.Name = "Yard (north)"
	rule.Origins = []entities.RuleOrigin{
		{EntityID: "veh-7", EntityKind: entities.OriginKindVehicle},
		{EntityID: "veh-8", EntityKind: entities.OriginKindVehicle},
	}
	require.NoError(t, repo.UpdateRule(ctx, rule))

	got, err := repo.GetRule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Yard (north)", got.Name)
	require.Len(t, got.Origins, 2, "old origins are replaced")
	assert.Equal(t, "veh-7", got.Origins[0].EntityID)
	assert.Equal(t, "veh-8", got.Origins[1].EntityID)

	var originCount int64
	require.NoError(t, db.Model(&entities.RuleOrigin{}).Count(&originCount).Error)
	assert.Equal(t, int64(2), originCount)

	changes, err := repo.ListChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, entities.ChangeOpUpdate, changes[1].Op)
}

func TestRuleRepository_UpdateRule_Errors(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := t.Context()

	err := repo.UpdateRule(ctx, &entities.AlertRule{Status: entities.RuleStatusActive})
	require.Error(t, err, "missing ID")

	err = repo.UpdateRule(ctx, &entities.AlertRule{ID: 42, Status: entities.RuleStatusActive, Zone: squareZone})
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleRepository_SetStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := t.Context()

	rule := createTestRule(t, repo, "Port", "veh-1")

	require.NoError(t, repo.SetStatus(ctx, rule.ID, entities.RuleStatusDeleted))
	got, err := repo.GetRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.RuleStatusDeleted, got.Status)

	changes, err := repo.ListChangesSince(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, entities.ChangeOpDelete, changes[1].Op)

	assert.ErrorIs(t, repo.SetStatus(ctx, 999, entities.RuleStatusActive), ErrRuleNotFound)
	assert.ErrorIs(t, repo.SetStatus(ctx, rule.ID, "archived"), ErrInvalidRuleStatus)
}

func TestRuleRepository_ChangeOutbox(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRuleRepository(db)
	ctx := t.Context()

	latest, err := repo.LatestChangeID(ctx)
	require.NoError(t, err)
	assert.Zero(t, latest)

	for _, name := range []string{"a", "b", "c", "d"} {
		createTestRule(t, repo, name, "veh-"+name)
	}

	latest, err = repo.LatestChangeID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(4), latest)

	page, err := repo.ListChangesSince(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint(2), page[0].ID)
	assert.Equal(t, uint(3), page[1].ID)

	rest, err := repo.ListChangesSince(ctx, latest, 0)
	require.NoError(t, err)
	assert.Empty(t, rest)
}
