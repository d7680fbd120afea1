package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/zonewatch/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zonewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "sqlite", s.Database.Driver)
	assert.Equal(t, "poll", s.ChangeFeed.Backend)
	assert.Equal(t, 5*time.Second, s.ChangeFeed.PollInterval.Std())
	assert.Equal(t, 500*time.Millisecond, s.Engine.BackoffInitial.Std())
	assert.Equal(t, 30*time.Second, s.Engine.BackoffMax.Std())
	assert.Equal(t, int64(256), s.Engine.MaxConcurrentEvaluations)
	assert.Equal(t, "zonewatch-bot", s.Engine.BotIdentity)
	assert.Equal(t, byte(1), s.MQTT.QoS)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
  dsn: "zw:zw@tcp(db:3306)/zonewatch?parseTime=true"
changefeed:
  backend: mqtt
engine:
  backoff_max: 1m
`)
	t.Setenv("ZONEWATCH_MQTT_TOPIC_PREFIX", "acme")
	t.Setenv("ZONEWATCH_ENGINE_BACKOFF_INITIAL", "2s")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", s.Database.Driver)
	assert.Equal(t, "mqtt", s.ChangeFeed.Backend)
	assert.Equal(t, time.Minute, s.Engine.BackoffMax.Std())
	assert.Equal(t, 2*time.Second, s.Engine.BackoffInitial.Std())
	assert.Equal(t, "acme", s.MQTT.TopicPrefix)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func TestValidate(t *testing.T) {
	valid := func() Settings {
		return Settings{
			Database:   DatabaseSettings{Driver: "sqlite", Path: "z.db"},
			ChangeFeed: ChangeFeedSettings{Backend: "poll", PollInterval: Duration(time.Second)},
			Positions:  PositionSettings{Backend: "mqtt"},
			MQTT:       MQTTSettings{QoS: 1},
			Engine: EngineSettings{
				BotIdentity:              "bot",
				MaxConcurrentEvaluations: 8,
				BackoffInitial:           Duration(time.Second),
				BackoffMax:               Duration(time.Minute),
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"unknown driver", func(s *Settings) { s.Database.Driver = "oracle" }, "unsupported database.driver"},
		{"mysql without dsn", func(s *Settings) { s.Database.Driver = "mysql" }, "database.dsn is required"},
		{"postgres feed on sqlite", func(s *Settings) { s.ChangeFeed.Backend = "postgres" }, "requires database.driver postgres"},
		{"fast polling", func(s *Settings) { s.ChangeFeed.PollInterval = Duration(time.Millisecond) }, "poll_interval"},
		{"inverted backoff", func(s *Settings) { s.Engine.BackoffMax = Duration(time.Millisecond) }, "backoff_initial"},
		{"bad qos", func(s *Settings) { s.MQTT.QoS = 3 }, "mqtt.qos"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
		})
	}
}
