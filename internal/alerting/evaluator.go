package alerting

import (
	"context"
	"time"

	"github.com/paulmach/orb"

	"github.com/tphakala/zonewatch/internal/geo"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
	"github.com/tphakala/zonewatch/internal/position"
)

// Alarm is a rule condition met by a single report.
type Alarm struct {
	RuleID         uint
	RuleName       string
	CompanyID      string
	OriginEntityID string
	OriginKind     string
	DeviceID       string
	EvaluationType EvaluationType
	Code           int
	EventTime      time.Time
	Coordinate     orb.Point
}

// Recorder persists alarms subject to deduplication.
type Recorder interface {
	MaybeRecord(ctx context.Context, alarm Alarm) (bool, error)
}

// Classify maps an evaluation type and containment result to an alarm.
// Types other than in and out never alarm.
func Classify(t EvaluationType, inside bool) (code int, alarm bool) {
	switch t {
	case EvaluationIn:
		if inside {
			return CodeZoneEnter, true
		}
	case EvaluationOut:
		if !inside {
			return CodeZoneExit, true
		}
	}
	return 0, false
}

// Alarms evaluates r against every binding of its device in snap.
func Alarms(snap *Snapshot, r position.Report) []Alarm {
	bindings := snap.Bindings(r.DeviceID)
	if len(bindings) == 0 {
		return nil
	}

	var alarms []Alarm
	for i := range bindings {
		b := &bindings[i]
		if !b.EvaluationType.Implemented() {
			continue
		}
		code, ok := Classify(b.EvaluationType, geo.PointInZone(r.Coordinate, b.Zone))
		if !ok {
			continue
		}
		alarms = append(alarms, Alarm{
			RuleID:         b.RuleID,
			RuleName:       b.RuleName,
			CompanyID:      b.CompanyID,
			OriginEntityID: b.OriginEntityID,
			OriginKind:     b.OriginKind,
			DeviceID:       r.DeviceID,
			EvaluationType: b.EvaluationType,
			Code:           code,
			EventTime:      r.EventTime.UTC(),
			Coordinate:     r.Coordinate,
		})
	}
	return alarms
}

// Evaluator checks reports against the cached rules and hands alarms to a
// Recorder.
type Evaluator struct {
	cache    *RuleCache
	recorder Recorder
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewEvaluator creates an evaluator reading from cache.
func NewEvaluator(cache *RuleCache, recorder Recorder, log logger.Logger, m *metrics.Metrics) *Evaluator {
	if log == nil {
		log = logger.Silent()
	}
	return &Evaluator{
		cache:    cache,
		recorder: recorder,
		log:      log.Module(component).With(logger.String("part", "evaluator")),
		metrics:  m,
	}
}

// Handle evaluates a report and records any alarms. It returns the number
// of activities written. Recorder failures are logged per alarm.
func (e *Evaluator) Handle(ctx context.Context, r position.Report) int {
	written := 0
	for _, a := range Alarms(e.cache.Load(), r) {
		e.metrics.AlarmRaised(string(a.EvaluationType))
		ok, err := e.recorder.MaybeRecord(ctx, a)
		if err != nil {
			e.log.Error("failed to record alarm",
				logger.Uint64("rule_id", uint64(a.RuleID)),
				logger.String("origin_entity_id", a.OriginEntityID),
				logger.Int("code", a.Code),
				logger.Error(err))
			continue
		}
		if ok {
			written++
		}
	}
	return written
}
