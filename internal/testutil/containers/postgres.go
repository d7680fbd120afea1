//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a Postgres instance used by the LISTEN/NOTIFY feed.
type PostgresContainer struct {
	container testcontainers.Container
	dsn       string
}

// PostgresConfig holds configuration for Postgres container creation.
type PostgresConfig struct {
	// Image tag (default: "16-alpine")
	ImageTag string
	Database string
	Username string
	Password string
}

// DefaultPostgresConfig returns a PostgresConfig with sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		ImageTag: "16-alpine",
		Database: "zonewatch_test",
		Username: "zonewatch",
		Password: "zonewatch",
	}
}

// NewPostgresContainer starts Postgres and waits until it accepts queries.
func NewPostgresContainer(ctx context.Context, config *PostgresConfig) (*PostgresContainer, error) {
	if config == nil {
		defaultCfg := DefaultPostgresConfig()
		config = &defaultCfg
	}

	req := testcontainers.ContainerRequest{
		Image:        "postgres:" + config.ImageTag,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       config.Database,
			"POSTGRES_USER":     config.Username,
			"POSTGRES_PASSWORD": config.Password,
		},
		// the init phase restarts the server once, so the line is logged twice
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Postgres container: %w", err)
	}
	pc := &PostgresContainer{container: container}

	host, err := container.Host(ctx)
	if err != nil {
		_ = pc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		_ = pc.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(config.Username, config.Password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port.Int())),
		Path:     config.Database,
		RawQuery: "sslmode=disable",
	}
	pc.dsn = u.String()

	if err := RetryWithBackoff(ctx, 20*time.Second, func() error { return pc.HealthCheck(ctx) }); err != nil {
		_ = pc.Terminate(context.Background())
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return pc, nil
}

// DSN returns a pgx compatible connection URL.
func (c *PostgresContainer) DSN() string {
	return c.dsn
}

// HealthCheck runs SELECT 1 over a fresh connection.
func (c *PostgresContainer) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// Terminate stops and removes the container.
func (c *PostgresContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
