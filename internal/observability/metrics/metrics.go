// Package metrics exposes Prometheus instrumentation for the alerting engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zonewatch"

// Label values for ReportDiscarded and ActivitySuppressed.
const (
	DiscardInvalidFix  = "invalid_fix"
	DiscardNotAllowed  = "not_allowed"
	DiscardMalformed   = "malformed"
	DiscardEvalPanic   = "panic"
	DiscardShutdown    = "shutdown"
	SuppressedMemo     = "memo"
	SuppressedWindow   = "window"
	SuppressedConflict = "conflict"
)

// Metrics holds all engine collectors. A nil *Metrics is valid and records
// nothing, so components can be built without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	reports         prometheus.Counter
	discards        *prometheus.CounterVec
	alarms          *prometheus.CounterVec
	activities      *prometheus.CounterVec
	suppressions    *prometheus.CounterVec
	reloads         *prometheus.CounterVec
	reloadDuration  prometheus.Histogram
	evalDuration    prometheus.Histogram
	resubscriptions *prometheus.CounterVec
	cachedRules     prometheus.Gauge
	cachedDevices   prometheus.Gauge
	skippedRules    prometheus.Gauge
	generation      prometheus.Gauge
}

// New creates a Metrics instance on its own registry. Go runtime and process
// collectors are registered alongside the engine collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		reports: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_reports_total",
			Help:      "Position reports received from the position feed",
		}),
		discards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "position_reports_discarded_total",
			Help:      "Position reports dropped before evaluation",
		}, []string{"reason"}),
		alarms: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_total",
			Help:      "Alarm conditions raised by the evaluator",
		}, []string{"evaluation_type"}),
		activities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_recorded_total",
			Help:      "Activity records written to the store",
		}, []string{"code"}),
		suppressions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_suppressed_total",
			Help:      "Alarms suppressed by the dedup gate",
		}, []string{"reason"}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_cache_reloads_total",
			Help:      "Rule cache reload attempts by result",
		}, []string{"result"}),
		reloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_cache_reload_seconds",
			Help:      "Time spent rebuilding the rule cache",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		evalDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_seconds",
			Help:      "Time spent evaluating a single position report",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		resubscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_resubscriptions_total",
			Help:      "Feed subscriptions reopened",
		}, []string{"feed", "reason"}),
		cachedRules: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_cache_rules",
			Help:      "Active rules in the current cache snapshot",
		}),
		cachedDevices: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_cache_devices",
			Help:      "Devices in the current allow-list",
		}),
		skippedRules: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_cache_skipped_rules",
			Help:      "Active rules left out of the snapshot due to bad geometry or unresolved origins",
		}),
		generation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_cache_generation",
			Help:      "Generation number of the current cache snapshot",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ReportReceived() {
	if m != nil {
		m.reports.Inc()
	}
}

func (m *Metrics) ReportDiscarded(reason string) {
	if m != nil {
		m.discards.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AlarmRaised(evaluationType string) {
	if m != nil {
		m.alarms.WithLabelValues(evaluationType).Inc()
	}
}

func (m *Metrics) ActivityRecorded(code string) {
	if m != nil {
		m.activities.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) ActivitySuppressed(reason string) {
	if m != nil {
		m.suppressions.WithLabelValues(reason).Inc()
	}
}

// ReloadFinished records a reload attempt and its duration.
func (m *Metrics) ReloadFinished(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
	m.reloadDuration.Observe(d.Seconds())
}

func (m *Metrics) EvaluationFinished(d time.Duration) {
	if m != nil {
		m.evalDuration.Observe(d.Seconds())
	}
}

// Resubscribed counts a reopened subscription. feed is "positions" or
// "changes"; reason is e.g. "allow_list" or "transport".
func (m *Metrics) Resubscribed(feed, reason string) {
	if m != nil {
		m.resubscriptions.WithLabelValues(feed, reason).Inc()
	}
}

// SetCacheState publishes the shape of the current snapshot.
func (m *Metrics) SetCacheState(generation uint64, rules, devices, skipped int) {
	if m == nil {
		return
	}
	m.generation.Set(float64(generation))
	m.cachedRules.Set(float64(rules))
	m.cachedDevices.Set(float64(devices))
	m.skippedRules.Set(float64(skipped))
}
