// Package conf loads and validates zonewatch settings.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/zonewatch/internal/errors"
)

// EnvPrefix is the prefix for environment overrides, e.g. ZONEWATCH_DATABASE_DSN.
const EnvPrefix = "ZONEWATCH"

// Settings is the root configuration.
type Settings struct {
	Log        LogSettings        `mapstructure:"log" yaml:"log"`
	Database   DatabaseSettings   `mapstructure:"database" yaml:"database"`
	MQTT       MQTTSettings       `mapstructure:"mqtt" yaml:"mqtt"`
	Redis      RedisSettings      `mapstructure:"redis" yaml:"redis"`
	ChangeFeed ChangeFeedSettings `mapstructure:"changefeed" yaml:"changefeed"`
	Positions  PositionSettings   `mapstructure:"positions" yaml:"positions"`
	Engine     EngineSettings     `mapstructure:"engine" yaml:"engine"`
	Metrics    MetricsSettings    `mapstructure:"metrics" yaml:"metrics"`
	Sentry     SentrySettings     `mapstructure:"sentry" yaml:"sentry"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// DatabaseSettings selects the rule/activity store.
type DatabaseSettings struct {
	Driver       string   `mapstructure:"driver" yaml:"driver"` // sqlite, mysql, postgres
	DSN          string   `mapstructure:"dsn" yaml:"dsn"`
	Path         string   `mapstructure:"path" yaml:"path"` // sqlite file
	MaxOpenConns int      `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	AutoMigrate  bool     `mapstructure:"auto_migrate" yaml:"auto_migrate"`
	ConnMaxLife  Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

type MQTTSettings struct {
	Broker      string   `mapstructure:"broker" yaml:"broker"`
	ClientID    string   `mapstructure:"client_id" yaml:"client_id"`
	Username    string   `mapstructure:"username" yaml:"username"`
	Password    string   `mapstructure:"password" yaml:"password"`
	TopicPrefix string   `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte     `mapstructure:"qos" yaml:"qos"`
	Timeout     Duration `mapstructure:"timeout" yaml:"timeout"`
	// PublishActivities publishes every recorded activity to <prefix>/activities/<company>.
	PublishActivities bool `mapstructure:"publish_activities" yaml:"publish_activities"`
}

// RedisSettings enables the cross-instance dedup lock.
type RedisSettings struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled"`
	Addr     string   `mapstructure:"addr" yaml:"addr"`
	Password string   `mapstructure:"password" yaml:"password"`
	DB       int      `mapstructure:"db" yaml:"db"`
	LockTTL  Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

type ChangeFeedSettings struct {
	Backend      string   `mapstructure:"backend" yaml:"backend"` // poll, mqtt, postgres
	PollInterval Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PGChannel    string   `mapstructure:"pg_channel" yaml:"pg_channel"`
}

type PositionSettings struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // mqtt
}

type EngineSettings struct {
	BotIdentity              string   `mapstructure:"bot_identity" yaml:"bot_identity"`
	MaxConcurrentEvaluations int64    `mapstructure:"max_concurrent_evaluations" yaml:"max_concurrent_evaluations"`
	BackoffInitial           Duration `mapstructure:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax               Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	StoreTimeout             Duration `mapstructure:"store_timeout" yaml:"store_timeout"`
}

type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

type SentrySettings struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	DSN         string  `mapstructure:"dsn" yaml:"dsn"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.path", "zonewatch.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "zonewatch")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "fleet")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.timeout", "10s")
	v.SetDefault("mqtt.publish_activities", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "5s")

	v.SetDefault("changefeed.backend", "poll")
	v.SetDefault("changefeed.poll_interval", "5s")
	v.SetDefault("changefeed.pg_channel", "alert_rule_changes")

	v.SetDefault("positions.backend", "mqtt")

	v.SetDefault("engine.bot_identity", "zonewatch-bot")
	v.SetDefault("engine.max_concurrent_evaluations", 256)
	v.SetDefault("engine.backoff_initial", "500ms")
	v.SetDefault("engine.backoff_max", "30s")
	v.SetDefault("engine.store_timeout", "5s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9108")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")
	v.SetDefault("sentry.sample_rate", 1.0)
}

// Load reads settings from path (or zonewatch.yaml in the working directory
// and /etc/zonewatch when path is empty) and applies ZONEWATCH_* overrides.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zonewatch")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/zonewatch")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Newf("failed to read config: %w", err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.Newf("failed to decode config: %w", err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	var problems []string

	switch s.Database.Driver {
	case "sqlite":
		if s.Database.Path == "" && s.Database.DSN == "" {
			problems = append(problems, "database.path or database.dsn is required for sqlite")
		}
	case "mysql", "postgres":
		if s.Database.DSN == "" {
			problems = append(problems, fmt.Sprintf("database.dsn is required for %s", s.Database.Driver))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported database.driver %q", s.Database.Driver))
	}

	switch s.ChangeFeed.Backend {
	case "poll", "mqtt":
	case "postgres":
		if s.Database.Driver != "postgres" {
			problems = append(problems, "changefeed.backend postgres requires database.driver postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported changefeed.backend %q", s.ChangeFeed.Backend))
	}
	if s.ChangeFeed.Backend == "poll" && s.ChangeFeed.PollInterval.Std() < 100*time.Millisecond {
		problems = append(problems, "changefeed.poll_interval must be at least 100ms")
	}

	if s.Positions.Backend != "mqtt" {
		problems = append(problems, fmt.Sprintf("unsupported positions.backend %q", s.Positions.Backend))
	}
	if s.MQTT.QoS > 2 {
		problems = append(problems, "mqtt.qos must be 0, 1 or 2")
	}
	if s.Engine.MaxConcurrentEvaluations <= 0 {
		problems = append(problems, "engine.max_concurrent_evaluations must be positive")
	}
	if s.Engine.BackoffInitial <= 0 || s.Engine.BackoffMax < s.Engine.BackoffInitial {
		problems = append(problems, "engine.backoff_initial must be positive and not exceed engine.backoff_max")
	}
	if s.Engine.BotIdentity == "" {
		problems = append(problems, "engine.bot_identity is required")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		problems = append(problems, "sentry.dsn is required when sentry is enabled")
	}

	if len(problems) > 0 {
		return errors.Newf("invalid configuration: %s", strings.Join(problems, "; ")).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
