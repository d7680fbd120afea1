//go:build integration

package feed_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/feed"
	"github.com/tphakala/zonewatch/internal/mqtt"
	"github.com/tphakala/zonewatch/internal/testutil/containers"
)

var (
	broker *containers.MosquittoContainer
	pg     *containers.PostgresContainer
)

func TestMain(m *testing.M) {
	ctx := context.Background() //nolint:gocritic // TestMain has no *testing.T for t.Context()

	var err error
	broker, err = containers.NewMosquittoContainer(ctx, nil)
	if err != nil {
		panic("failed to create MQTT broker: " + err.Error())
	}
	pg, err = containers.NewPostgresContainer(ctx, nil)
	if err != nil {
		_ = broker.Terminate(ctx)
		panic("failed to create Postgres: " + err.Error())
	}

	code := m.Run()

	_ = broker.Terminate(ctx)
	_ = pg.Terminate(ctx)
	os.Exit(code)
}

func connectedClient(t *testing.T) mqtt.Client {
	t.Helper()
	client, err := mqtt.NewClient(mqtt.Config{
		Broker:   broker.GetBrokerURL(t),
		ClientID: fmt.Sprintf("feed-%d", time.Now().UnixNano()),
		QoS:      1,
		Timeout:  10 * time.Second,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Connect(t.Context()))
	t.Cleanup(client.Disconnect)
	return client
}

func TestMQTTPositionSource_Broker(t *testing.T) {
	client := connectedClient(t)
	src := feed.NewMQTTPositionSource(client, feed.MQTTOptions{TopicPrefix: "it", QoS: 1}, nil)

	sub, err := src.Subscribe(t.Context(), []string{"imei-1"})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	ctx := t.Context()
	require.NoError(t, broker.Publish(ctx, "it/imei-2/position", []byte(`{"lon":1,"lat":1,"gps_valid":true}`)))
	require.NoError(t, broker.Publish(ctx, "it/imei-1/position",
		[]byte(`{"lon":24.9,"lat":60.1,"gps_valid":true,"timestamp":"2026-03-01T10:00:00Z"}`)))

	select {
	case r := <-sub.Events():
		assert.Equal(t, "imei-1", r.DeviceID, "only allow-listed devices are delivered")
		assert.InDelta(t, 24.9, r.Coordinate.Lon(), 1e-9)
		assert.InDelta(t, 60.1, r.Coordinate.Lat(), 1e-9)
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no position delivered")
	}
}

func TestMQTTChangeSource_Broker(t *testing.T) {
	client := connectedClient(t)
	src := feed.NewMQTTChangeSource(client, feed.MQTTOptions{TopicPrefix: "it", QoS: 1}, nil)

	sub, err := src.Subscribe(t.Context())
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, broker.Publish(t.Context(), feed.RuleChangesTopic("it"), []byte(`{"rule_id":7,"op":"update"}`)))

	select {
	case c := <-sub.Events():
		assert.Equal(t, feed.RuleChange{RuleID: 7, Op: entities.ChangeOpUpdate}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no change delivered")
	}
}

func TestPGListener_NotifiesOutboxRows(t *testing.T) {
	ctx := t.Context()

	db, err := gorm.Open(postgres.Open(pg.DSN()), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(entities.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	listener := feed.NewPGListener(pg.DSN(), "", nil)
	require.NoError(t, listener.InstallTrigger(ctx))
	// trigger installation is idempotent
	require.NoError(t, listener.InstallTrigger(ctx))

	sub, err := listener.Subscribe(ctx)
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	repo := repository.NewRuleRepository(db)
	rule := &entities.AlertRule{
		Name:           "depot",
		CompanyID:      "acme",
		EvaluationType: "in",
		Zone:           `{"type":"Polygon","coordinates":[[[0,0],[0,10],[10,10],[10,0],[0,0]]]}`,
	}
	require.NoError(t, repo.CreateRule(ctx, rule))

	select {
	case c := <-sub.Events():
		assert.Equal(t, rule.ID, c.RuleID)
		assert.Equal(t, entities.ChangeOpInsert, c.Op)
		assert.NotZero(t, c.Seq)
	case err := <-sub.Err():
		t.Fatalf("listener failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification delivered")
	}
}
