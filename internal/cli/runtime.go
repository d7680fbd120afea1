package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tphakala/zonewatch/internal/alerting"
	"github.com/tphakala/zonewatch/internal/conf"
	"github.com/tphakala/zonewatch/internal/datastore"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/feed"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/mqtt"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
)

const redisPingTimeout = 5 * time.Second

// runtime holds everything serve opens, in the order it must be closed.
type runtime struct {
	store   *datastore.Manager
	client  mqtt.Client
	redis   *redis.Client
	metrics *metrics.Metrics
	engine  *alerting.Engine
	log     logger.Logger

	closers []func()
}

// openStore opens the database and applies the schema when configured to.
func openStore(ctx context.Context, s *conf.Settings, log logger.Logger) (*datastore.Manager, error) {
	store, err := datastore.Open(s.Database, log)
	if err != nil {
		return nil, err
	}
	if s.Database.AutoMigrate {
		if err := store.Initialize(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

func newMQTTClient(s conf.MQTTSettings, log logger.Logger) (mqtt.Client, error) {
	return mqtt.NewClient(mqtt.Config{
		Broker:   s.Broker,
		ClientID: s.ClientID,
		Username: s.Username,
		Password: s.Password,
		QoS:      s.QoS,
		Timeout:  s.Timeout.Std(),
	}, log)
}

// newChangeSource picks the rule change backend. The Postgres trigger is
// installed by the caller.
func newChangeSource(s *conf.Settings, store *datastore.Manager, client mqtt.Client, log logger.Logger) (feed.ChangeSource, error) {
	switch s.ChangeFeed.Backend {
	case "poll":
		return feed.NewOutboxPoller(store.Rules(), s.ChangeFeed.PollInterval.Std(), log), nil
	case "mqtt":
		return feed.NewMQTTChangeSource(client, feed.MQTTOptions{TopicPrefix: s.MQTT.TopicPrefix, QoS: s.MQTT.QoS}, log), nil
	case "postgres":
		return feed.NewPGListener(s.Database.DSN, s.ChangeFeed.PGChannel, log), nil
	default:
		return nil, errors.Newf("unsupported change feed backend %q", s.ChangeFeed.Backend).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// buildRuntime connects every backend and wires an engine. On error
// everything opened so far is closed.
func buildRuntime(ctx context.Context, s *conf.Settings, log logger.Logger) (rt *runtime, err error) {
	rt = &runtime{log: log.Module("cli")}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if s.Sentry.Enabled {
		flush, serr := errors.InitSentry(errors.SentryConfig{
			DSN:         s.Sentry.DSN,
			Environment: s.Sentry.Environment,
			SampleRate:  s.Sentry.SampleRate,
		})
		if serr != nil {
			return rt, serr
		}
		rt.closers = append(rt.closers, flush)
	}

	rt.store, err = openStore(ctx, s, log)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, func() {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("failed to close database", logger.Error(err))
		}
	})

	rt.client, err = newMQTTClient(s.MQTT, log)
	if err != nil {
		return rt, err
	}
	if err = rt.client.Connect(ctx); err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, rt.client.Disconnect)

	changes, err := newChangeSource(s, rt.store, rt.client, log)
	if err != nil {
		return rt, err
	}
	if pg, ok := changes.(*feed.PGListener); ok {
		if err = pg.InstallTrigger(ctx); err != nil {
			return rt, err
		}
	}

	deps := alerting.Dependencies{
		Rules:      rt.store.Rules(),
		Assets:     rt.store.Assets(),
		Activities: rt.store.Activities(),
		Positions:  feed.NewMQTTPositionSource(rt.client, feed.MQTTOptions{TopicPrefix: s.MQTT.TopicPrefix, QoS: s.MQTT.QoS}, log),
		Changes:    changes,
		Logger:     log,
	}

	if s.Redis.Enabled {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = rt.redis.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		perr := rt.redis.Ping(pingCtx).Err()
		cancel()
		if perr != nil {
			// the store's unique index still guards duplicates
			rt.log.Warn("redis unreachable at startup, dedup lock will retry per alarm",
				logger.String("addr", s.Redis.Addr), logger.Error(perr))
		}
		deps.Locker = alerting.NewRedisLocker(rt.redis, s.Redis.LockTTL.Std(), log)
	}

	if s.MQTT.PublishActivities {
		deps.Notifier = alerting.NewMQTTActivityNotifier(rt.client, s.MQTT.TopicPrefix)
	}

	if s.Metrics.Enabled {
		rt.metrics = metrics.New()
		deps.Metrics = rt.metrics
	}

	rt.engine, err = alerting.NewEngine(deps, alerting.OptionsFromSettings(s.Engine))
	if err != nil {
		return rt, fmt.Errorf("failed to create engine: %w", err)
	}
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
