// Package datastore opens and migrates the rule, asset and activity store.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/zonewatch/internal/conf"
	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Manager owns the gorm connection and hands out repositories.
type Manager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	driver string
	log    logger.Logger
}

// Open connects to the database described by cfg. It does not migrate;
// call Initialize for that.
func Open(cfg conf.DatabaseSettings, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Silent()
	}
	log = log.Module("datastore")

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log, 200*time.Millisecond),
	})
	if err != nil {
		return nil, errors.Newf("failed to open %s database: %w", cfg.Driver, err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", cfg.Driver).
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.Driver == DriverSQLite {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
	}
	if cfg.ConnMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife.Std())
	}

	log.Info("database opened", logger.String("driver", cfg.Driver))
	return &Manager{db: db, sqlDB: sqlDB, driver: cfg.Driver, log: log}, nil
}

// NewManager wraps an existing gorm connection, mainly for tests.
func NewManager(db *gorm.DB, driver string, log logger.Logger) (*Manager, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if log == nil {
		log = logger.Silent()
	}
	return &Manager{db: db, sqlDB: sqlDB, driver: driver, log: log.Module("datastore")}, nil
}

func dialectorFor(cfg conf.DatabaseSettings) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", cfg.Path)
		}
		return sqlite.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// Initialize creates or updates the schema.
func (m *Manager) Initialize(ctx context.Context) error {
	start := time.Now()
	if err := m.db.WithContext(ctx).AutoMigrate(entities.All()...); err != nil {
		return errors.Newf("failed to migrate schema: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", m.driver).
			Build()
	}
	m.log.Info("schema migrated", logger.Duration("elapsed", time.Since(start)))
	return nil
}

// Ping checks connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.sqlDB.PingContext(ctx); err != nil {
		return errors.Newf("database ping failed: %w", err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// DB returns the underlying gorm connection.
func (m *Manager) DB() *gorm.DB { return m.db }

// Driver returns the configured driver name.
func (m *Manager) Driver() string { return m.driver }

// Rules returns a rule repository bound to this connection.
func (m *Manager) Rules() repository.RuleRepository { return repository.NewRuleRepository(m.db) }

// Activities returns an activity repository bound to this connection.
func (m *Manager) Activities() repository.ActivityRepository {
	return repository.NewActivityRepository(m.db)
}

// Assets returns an asset repository bound to this connection.
func (m *Manager) Assets() repository.AssetRepository { return repository.NewAssetRepository(m.db) }

// Close closes the connection pool.
func (m *Manager) Close() error {
	if err := m.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
