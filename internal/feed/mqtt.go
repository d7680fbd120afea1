package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/mqtt"
	"github.com/tphakala/zonewatch/internal/position"
)

const (
	// maxFiltersPerSubscribe bounds the SUBSCRIBE packet size for large fleets.
	maxFiltersPerSubscribe = 200
	mqttBuffer             = 256
	positionTopicSuffix    = "position"
	ruleChangesTopic       = "rules/changes"
)

// MQTTOptions configures the MQTT feeds.
type MQTTOptions struct {
	TopicPrefix string
	QoS         byte
}

// PositionTopic returns the topic a device publishes its reports on.
func PositionTopic(prefix, deviceID string) string {
	return joinTopic(prefix, deviceID, positionTopicSuffix)
}

// RuleChangesTopic returns the topic rule changes are published on.
func RuleChangesTopic(prefix string) string {
	return joinTopic(prefix, ruleChangesTopic)
}

func joinTopic(parts ...string) string {
	nonEmpty := slices.DeleteFunc(slices.Clone(parts), func(p string) bool { return p == "" })
	return strings.Join(nonEmpty, "/")
}

// MQTTPositionSource subscribes to one topic per allowed device.
type MQTTPositionSource struct {
	client  mqtt.Client
	opts    MQTTOptions
	log     logger.Logger
	limiter *rate.Limiter
}

// NewMQTTPositionSource creates a position source on a connected client.
func NewMQTTPositionSource(client mqtt.Client, opts MQTTOptions, log logger.Logger) *MQTTPositionSource {
	if log == nil {
		log = logger.Silent()
	}
	return &MQTTPositionSource{
		client:  client,
		opts:    opts,
		log:     log.Module("feed").With(logger.String("feed", "mqtt-positions")),
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// Subscribe opens a subscription on <prefix>/<device>/position for every
// device in allowList.
func (m *MQTTPositionSource) Subscribe(ctx context.Context, allowList []string) (Subscription[position.Report], error) {
	topics := make([]string, 0, len(allowList))
	topicDevice := make(map[string]string, len(allowList))
	for _, id := range allowList {
		t := PositionTopic(m.opts.TopicPrefix, id)
		topics = append(topics, t)
		topicDevice[t] = id
	}

	// The stream and its cleanup are created before subscribing so messages
	// that arrive during SUBSCRIBE have somewhere to go.
	subCtx, cancel := context.WithCancel(context.Background())
	var removeLost func()
	stream := NewStream[position.Report](mqttBuffer, func() error {
		cancel()
		if removeLost != nil {
			removeLost()
		}
		unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer unsubCancel()
		return unsubscribeChunked(unsubCtx, m.client, topics)
	})
	removeLost = m.client.NotifyConnectionLost(stream.Fail)

	handler := func(topic string, payload []byte) {
		var r position.Report
		if err := json.Unmarshal(payload, &r); err != nil {
			m.logDropped("undecodable position payload", topic, err)
			return
		}
		if r.DeviceID == "" {
			r.DeviceID = topicDevice[topic]
		}
		stream.Send(subCtx, r)
	}

	for chunk := range slices.Chunk(topics, maxFiltersPerSubscribe) {
		filters := make(map[string]byte, len(chunk))
		for _, t := range chunk {
			filters[t] = m.opts.QoS
		}
		if err := m.client.Subscribe(ctx, filters, handler); err != nil {
			_ = stream.Close()
			return nil, errors.Newf("failed to subscribe to position topics: %w", err).
				Component("feed").
				Category(errors.CategoryNetwork).
				Context("devices", len(allowList)).
				Build()
		}
	}

	m.log.Info("position subscription opened", logger.Int("devices", len(allowList)))
	return stream, nil
}

func (m *MQTTPositionSource) logDropped(msg, topic string, err error) {
	if m.limiter.Allow() {
		m.log.Warn(msg, logger.String("topic", topic), logger.Error(err))
	}
}

// MQTTChangeSource receives rule change notifications published by the
// rule administration service.
type MQTTChangeSource struct {
	client mqtt.Client
	opts   MQTTOptions
	log    logger.Logger
}

// NewMQTTChangeSource creates a change source on a connected client.
func NewMQTTChangeSource(client mqtt.Client, opts MQTTOptions, log logger.Logger) *MQTTChangeSource {
	if log == nil {
		log = logger.Silent()
	}
	return &MQTTChangeSource{
		client: client,
		opts:   opts,
		log:    log.Module("feed").With(logger.String("feed", "mqtt-changes")),
	}
}

// Subscribe opens a subscription on <prefix>/rules/changes.
func (m *MQTTChangeSource) Subscribe(ctx context.Context) (Subscription[RuleChange], error) {
	topic := RuleChangesTopic(m.opts.TopicPrefix)

	subCtx, cancel := context.WithCancel(context.Background())
	var removeLost func()
	stream := NewStream[RuleChange](mqttBuffer, func() error {
		cancel()
		if removeLost != nil {
			removeLost()
		}
		unsubCtx, unsubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer unsubCancel()
		return m.client.Unsubscribe(unsubCtx, topic)
	})
	removeLost = m.client.NotifyConnectionLost(stream.Fail)

	handler := func(_ string, payload []byte) {
		change, err := DecodeRuleChange(payload)
		if err != nil {
			m.log.Warn("dropping rule change", logger.Error(err))
			return
		}
		stream.Send(subCtx, change)
	}
	if err := m.client.Subscribe(ctx, map[string]byte{topic: m.opts.QoS}, handler); err != nil {
		_ = stream.Close()
		return nil, errors.Newf("failed to subscribe to rule changes: %w", err).
			Component("feed").
			Category(errors.CategoryNetwork).
			Build()
	}
	return stream, nil
}

// DecodeRuleChange parses a JSON rule change notification.
func DecodeRuleChange(payload []byte) (RuleChange, error) {
	var c RuleChange
	if err := json.Unmarshal(payload, &c); err != nil {
		return RuleChange{}, fmt.Errorf("failed to decode rule change: %w", err)
	}
	if c.RuleID == 0 {
		return RuleChange{}, fmt.Errorf("rule change without rule_id")
	}
	switch c.Op {
	case entities.ChangeOpInsert, entities.ChangeOpUpdate, entities.ChangeOpDelete:
	default:
		return RuleChange{}, fmt.Errorf("rule change with unknown op %q", c.Op)
	}
	return c, nil
}

func unsubscribeChunked(ctx context.Context, client mqtt.Client, topics []string) error {
	var errs []error
	for chunk := range slices.Chunk(topics, maxFiltersPerSubscribe) {
		if err := client.Unsubscribe(ctx, chunk...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
