package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/geo"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		evalType  EvaluationType
		inside    bool
		wantCode  int
		wantAlarm bool
	}{
		{EvaluationIn, true, CodeZoneEnter, true},
		{EvaluationIn, false, 0, false},
		{EvaluationOut, false, CodeZoneExit, true},
		{EvaluationOut, true, 0, false},
		{EvaluationNear, true, 0, false},
		{EvaluationGreater, false, 0, false},
		{EvaluationLess, true, 0, false},
		{EvaluationType("sideways"), true, 0, false},
	}
	for _, tt := range tests {
		code, alarm := Classify(tt.evalType, tt.inside)
		assert.Equal(t, tt.wantCode, code, "%s inside=%v", tt.evalType, tt.inside)
		assert.Equal(t, tt.wantAlarm, alarm, "%s inside=%v", tt.evalType, tt.inside)
	}
}

func TestEvaluationType(t *testing.T) {
	t.Parallel()

	assert.True(t, EvaluationIn.Implemented())
	assert.True(t, EvaluationOut.Implemented())
	assert.False(t, EvaluationNear.Implemented())
	assert.True(t, EvaluationNear.Known())
	assert.False(t, EvaluationType("sideways").Known())
}

func snapshotWith(t *testing.T, deviceID string, bindings ...Binding) *Snapshot {
	t.Helper()
	for i := range bindings {
		bindings[i].DeviceID = deviceID
	}
	return &Snapshot{
		Generation: 1,
		byDevice:   map[string][]Binding{deviceID: bindings},
		allowList:  []string{deviceID},
		rules:      len(bindings),
	}
}

func mustZone(t *testing.T, raw string) geo.Zone {
	t.Helper()
	z, err := geo.ParseGeoJSON([]byte(raw))
	require.NoError(t, err)
	return z
}

func TestAlarms_InAndOut(t *testing.T) {
	t.Parallel()

	zone := mustZone(t, squareZone)
	snap := snapshotWith(t, "d1",
		Binding{RuleID: 1, RuleName: "depot", CompanyID: "acme", EvaluationType: EvaluationIn, Zone: zone, OriginEntityID: "v1", OriginKind: "vehicle"},
		Binding{RuleID: 2, RuleName: "yard", CompanyID: "acme", EvaluationType: EvaluationOut, Zone: zone, OriginEntityID: "v1", OriginKind: "vehicle"},
		Binding{RuleID: 3, RuleName: "later", CompanyID: "acme", EvaluationType: EvaluationNear, Zone: zone, OriginEntityID: "v1", OriginKind: "vehicle"},
	)

	inside := Alarms(snap, report("d1", 5, 5, t0))
	require.Len(t, inside, 1)
	assert.Equal(t, uint(1), inside[0].RuleID)
	assert.Equal(t, CodeZoneEnter, inside[0].Code)
	assert.Equal(t, "v1", inside[0].OriginEntityID)
	assert.Equal(t, t0, inside[0].EventTime)

	outside := Alarms(snap, report("d1", 20, 20, t0))
	require.Len(t, outside, 1)
	assert.Equal(t, uint(2), outside[0].RuleID)
	assert.Equal(t, CodeZoneExit, outside[0].Code)

	assert.Empty(t, Alarms(snap, report("other", 5, 5, t0)))

	shifted := Alarms(snap, report("d1", 5, 5, t0.In(time.FixedZone("UTC+3", 3*60*60))))
	require.Len(t, shifted, 1)
	assert.Equal(t, t0, shifted[0].EventTime)
}

func TestAlarms_HoleIsOutside(t *testing.T) {
	t.Parallel()

	snap := snapshotWith(t, "d1",
		Binding{RuleID: 1, EvaluationType: EvaluationIn, Zone: mustZone(t, holedZone), OriginEntityID: "v1"})

	assert.Empty(t, Alarms(snap, report("d1", 5, 5, t0)), "point in the hole is outside the zone")
	assert.Len(t, Alarms(snap, report("d1", 2, 2, t0)), 1)
	assert.Len(t, Alarms(snap, report("d1", 4, 5, t0)), 1, "hole boundary belongs to the zone")
	assert.Len(t, Alarms(snap, report("d1", 0, 5, t0)), 1, "outer boundary counts as inside")
}

func TestEvaluator_Handle(t *testing.T) {
	t.Parallel()

	cache := NewRuleCache()
	cache.store(snapshotWith(t, "d1",
		Binding{RuleID: 1, EvaluationType: EvaluationIn, Zone: mustZone(t, squareZone), OriginEntityID: "v1"}))

	rec := &recordingRecorder{}
	ev := NewEvaluator(cache, rec, nil, nil)

	assert.Equal(t, 1, ev.Handle(t.Context(), report("d1", 5, 5, t0)))
	assert.Equal(t, 0, ev.Handle(t.Context(), report("d1", 50, 5, t0)))
	assert.Len(t, rec.recorded(), 1)

	rec.err = errors.NewStd("store down")
	assert.Equal(t, 0, ev.Handle(context.Background(), report("d1", 5, 5, t0)))
}

func TestEvaluator_EmptyCache(t *testing.T) {
	t.Parallel()

	rec := &recordingRecorder{}
	ev := NewEvaluator(NewRuleCache(), rec, nil, nil)
	assert.Equal(t, 0, ev.Handle(t.Context(), report("d1", 5, 5, t0)))
	assert.Empty(t, rec.recorded())
}
