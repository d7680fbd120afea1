package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ReportReceived()
	m.ReportReceived()
	m.ReportDiscarded(DiscardInvalidFix)
	m.AlarmRaised("in")
	m.ActivityRecorded("24")
	m.ActivitySuppressed(SuppressedWindow)
	m.ActivitySuppressed(SuppressedWindow)
	m.Resubscribed("positions", "allow_list")

	assert.InDelta(t, 2, testutil.ToFloat64(m.reports), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.discards.WithLabelValues(DiscardInvalidFix)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.alarms.WithLabelValues("in")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.activities.WithLabelValues("24")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.suppressions.WithLabelValues(SuppressedWindow)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.resubscriptions.WithLabelValues("positions", "allow_list")), 0)
}

func TestReloadFinished(t *testing.T) {
	t.Parallel()

	m := New()
	m.ReloadFinished(20*time.Millisecond, nil)
	m.ReloadFinished(time.Millisecond, errors.New("db down"))
	m.SetCacheState(3, 10, 4, 1)

	assert.InDelta(t, 1, testutil.ToFloat64(m.reloads.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reloads.WithLabelValues("error")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.generation), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.cachedRules), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.cachedDevices), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.skippedRules), 0)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "zonewatch_rule_cache_reload_seconds" {
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.ReportReceived()
		m.ReportDiscarded(DiscardNotAllowed)
		m.AlarmRaised("out")
		m.ActivityRecorded("25")
		m.ActivitySuppressed(SuppressedMemo)
		m.ReloadFinished(time.Second, nil)
		m.EvaluationFinished(time.Millisecond)
		m.Resubscribed("changes", "transport")
		m.SetCacheState(1, 1, 1, 0)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesEngineMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ReportReceived()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zonewatch_position_reports_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
