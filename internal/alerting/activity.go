package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/zonewatch/internal/datastore/entities"
	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/mqtt"
)

const defaultBotIdentity = "zonewatch-bot"

// ActivityNotifier is told about every activity after it is stored.
type ActivityNotifier interface {
	NotifyActivity(ctx context.Context, activity *entities.Activity) error
}

// ActivityWriter turns alarms into stored activities.
type ActivityWriter struct {
	repo        repository.ActivityRepository
	botIdentity string
	notifier    ActivityNotifier
	log         logger.Logger
}

// NewActivityWriter creates a writer. notifier may be nil.
func NewActivityWriter(repo repository.ActivityRepository, botIdentity string, notifier ActivityNotifier, log logger.Logger) *ActivityWriter {
	if botIdentity == "" {
		botIdentity = defaultBotIdentity
	}
	if log == nil {
		log = logger.Silent()
	}
	return &ActivityWriter{
		repo:        repo,
		botIdentity: botIdentity,
		notifier:    notifier,
		log:         log.Module(component).With(logger.String("part", "activity-writer")),
	}
}

// Bucket is the dedup bucket of an event time: its UTC hour.
func Bucket(t time.Time) int64 {
	return t.UTC().Truncate(DedupWindow).Unix()
}

// NewActivity builds the record for alarm without storing it.
func (w *ActivityWriter) NewActivity(alarm Alarm) *entities.Activity {
	return &entities.Activity{
		ID:                 uuid.NewString(),
		CompanyID:          alarm.CompanyID,
		OriginEntityID:     alarm.OriginEntityID,
		OriginKind:         alarm.OriginKind,
		ClassificationCode: alarm.Code,
		Bucket:             Bucket(alarm.EventTime),
		EventTime:          alarm.EventTime.UTC(),
		RuleID:             alarm.RuleID,
		DeviceID:           alarm.DeviceID,
		Title:              activityTitle(alarm),
		Description:        activityDescription(alarm),
		Longitude:          alarm.Coordinate.Lon(),
		Latitude:           alarm.Coordinate.Lat(),
		GeneratedBy:        w.botIdentity,
	}
}

// Write inserts the activity for alarm unless its dedup bucket is taken.
// The notifier runs only for newly inserted rows; its failures are logged.
func (w *ActivityWriter) Write(ctx context.Context, alarm Alarm) (*entities.Activity, bool, error) {
	activity := w.NewActivity(alarm)
	inserted, err := w.repo.InsertIfAbsent(ctx, activity)
	if err != nil {
		return nil, false, errors.Newf("failed to save activity: %w", err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("origin_entity_id", alarm.OriginEntityID).
			Context("rule_id", alarm.RuleID).
			Build()
	}
	if !inserted {
		return activity, false, nil
	}

	w.log.Info("activity recorded",
		logger.String("activity_id", activity.ID),
		logger.Uint64("rule_id", uint64(alarm.RuleID)),
		logger.String("origin_entity_id", alarm.OriginEntityID),
		logger.Int("code", alarm.Code),
		logger.Time("event_time", alarm.EventTime))

	if w.notifier != nil {
		if err := w.notifier.NotifyActivity(ctx, activity); err != nil {
			w.log.Warn("failed to notify activity",
				logger.String("activity_id", activity.ID),
				logger.Error(err))
		}
	}
	return activity, true, nil
}

func activityTitle(a Alarm) string {
	if a.Code == CodeZoneExit {
		return fmt.Sprintf("Left zone %s", a.RuleName)
	}
	return fmt.Sprintf("In zone %s", a.RuleName)
}

func activityDescription(a Alarm) string {
	verb := "was inside"
	if a.Code == CodeZoneExit {
		verb = "was outside"
	}
	return fmt.Sprintf("%s %s %s zone %q at %s (%.6f, %.6f)",
		a.OriginKind, a.OriginEntityID, verb, a.RuleName,
		a.EventTime.UTC().Format(time.RFC3339), a.Coordinate.Lat(), a.Coordinate.Lon())
}

// MQTTActivityNotifier publishes activities as JSON to
// <prefix>/activities/<companyId>.
type MQTTActivityNotifier struct {
	client mqtt.Client
	prefix string
}

// NewMQTTActivityNotifier creates a notifier publishing through client.
func NewMQTTActivityNotifier(client mqtt.Client, topicPrefix string) *MQTTActivityNotifier {
	return &MQTTActivityNotifier{client: client, prefix: topicPrefix}
}

// ActivityTopic returns the topic activities for companyID are published on.
func ActivityTopic(prefix, companyID string) string {
	if prefix == "" {
		return "activities/" + companyID
	}
	return prefix + "/activities/" + companyID
}

func (n *MQTTActivityNotifier) NotifyActivity(ctx context.Context, activity *entities.Activity) error {
	payload, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	return n.client.Publish(ctx, ActivityTopic(n.prefix, activity.CompanyID), payload)
}
