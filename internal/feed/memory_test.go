package feed

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/position"
)

func report(device string) position.Report {
	return position.Report{
		DeviceID:    device,
		Coordinate:  orb.Point{5, 5},
		GPSFixValid: true,
		EventTime:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestBroker_PositionAllowList(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	sub, err := b.Subscribe(t.Context(), []string{"d1", "d2"})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	assert.Equal(t, 1, b.PublishPosition(t.Context(), report("d1")))
	assert.Equal(t, 0, b.PublishPosition(t.Context(), report("d9")), "devices outside the allow-list are not delivered")

	got := <-sub.Events()
	assert.Equal(t, "d1", got.DeviceID)
	assert.Equal(t, [][]string{{"d1", "d2"}}, b.OpenPositionSubscriptions())
	assert.Equal(t, 1, b.PositionSubscribeCount())

	require.NoError(t, sub.Close())
	assert.Empty(t, b.OpenPositionSubscriptions())
	assert.Equal(t, 0, b.PublishPosition(t.Context(), report("d1")))
}

func TestBroker_FailAndHook(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	rejected := errors.NewStd("broker offline")
	b.OnSubscribe(func(allow []string) error {
		if len(allow) > 2 {
			return rejected
		}
		return nil
	})

	_, err := b.Subscribe(t.Context(), []string{"a", "b", "c"})
	require.ErrorIs(t, err, rejected)

	sub, err := b.Subscribe(t.Context(), []string{"a"})
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	b.FailPositions(errors.NewStd("connection reset"))
	select {
	case err := <-sub.Err():
		assert.EqualError(t, err, "connection reset")
	case <-time.After(time.Second):
		t.Fatal("expected transport error")
	}
}

func TestBroker_Changes(t *testing.T) {
	t.Parallel()

	b := NewBroker()
	changes := b.Changes()
	sub, err := changes.Subscribe(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 1, b.PublishChange(t.Context(), RuleChange{RuleID: 3, Op: "update"}))
	assert.Equal(t, RuleChange{RuleID: 3, Op: "update"}, <-sub.Events())
	assert.Equal(t, 1, b.ChangeSubscribeCount())

	b.FailChanges(errors.NewStd("gone"))
	require.Error(t, <-sub.Err())

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.PublishChange(t.Context(), RuleChange{RuleID: 3, Op: "update"}))
}
