package alerting

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tphakala/zonewatch/internal/feed"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
	"github.com/tphakala/zonewatch/internal/position"
)

const defaultMaxConcurrentEvaluations = 256

// ReportHandler evaluates one accepted report.
type ReportHandler func(ctx context.Context, r position.Report)

// Watcher keeps a single position subscription matching the cache's
// allow-list and dispatches accepted reports to a handler, one goroutine
// per report. A semaphore bounds how many of them evaluate at once.
type Watcher struct {
	source  feed.PositionSource
	cache   *RuleCache
	handle  ReportHandler
	sem     *semaphore.Weighted
	retry   retryPolicy
	log     logger.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	notify   chan struct{}
	inflight sync.WaitGroup

	// owned by the Run goroutine
	sub        feed.Subscription[position.Report]
	current    []string
	generation uint64

	subscribed atomic.Bool
	devices    atomic.Int64
}

// NewWatcher creates a watcher. maxConcurrent <= 0 selects the default.
func NewWatcher(source feed.PositionSource, cache *RuleCache, handle ReportHandler, maxConcurrent int64,
	retry retryPolicy, log logger.Logger, m *metrics.Metrics,
) *Watcher {
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentEvaluations
	}
	if log == nil {
		log = logger.Silent()
	}
	return &Watcher{
		source:  source,
		cache:   cache,
		handle:  handle,
		sem:     semaphore.NewWeighted(maxConcurrent),
		retry:   retry,
		log:     log.Module(component).With(logger.String("part", "watcher")),
		metrics: m,
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		notify:  make(chan struct{}, 1),
	}
}

// Notify tells the watcher the cache changed. It never blocks.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run owns the subscription until ctx is done. On return the subscription
// is closed and every in-flight evaluation has finished.
func (w *Watcher) Run(ctx context.Context) error {
	b := w.retry.newBackOff()
	var (
		timer *time.Timer
		retry <-chan time.Time
	)
	scheduleRetry := func() {
		d := b.NextBackOff()
		timer = time.NewTimer(d)
		retry = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		w.closeSubscription()
		w.inflight.Wait()
	}()

	// reconcile only when something may have changed the wanted allow-list
	dirty := true
	for {
		if dirty && retry == nil {
			dirty = false
			if err := w.reconcile(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.log.Warn("failed to open position subscription", logger.Error(err))
				scheduleRetry()
			}
		}

		var (
			events <-chan position.Report
			errs   <-chan error
		)
		if w.sub != nil {
			events, errs = w.sub.Events(), w.sub.Err()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.notify:
			dirty = true
		case <-retry:
			timer, retry = nil, nil
			dirty = true
		case err := <-errs:
			w.log.Warn("position subscription failed, resubscribing", logger.Error(err))
			w.closeSubscription()
			w.metrics.Resubscribed("positions", "transport")
			scheduleRetry()
		case r := <-events:
			b.Reset()
			w.dispatch(ctx, r)
		}
	}
}

// reconcile makes the subscription match the current allow-list. The old
// subscription is closed before the new one opens.
func (w *Watcher) reconcile(ctx context.Context) error {
	snap := w.cache.Load()
	if w.sub != nil && snap.Generation == w.generation {
		return nil
	}
	want := snap.AllowList()
	if w.sub != nil && slices.Equal(want, w.current) {
		w.generation = snap.Generation
		return nil
	}
	if w.sub == nil && len(want) == 0 {
		return nil
	}

	replacing := w.sub != nil
	w.closeSubscription()
	if len(want) == 0 {
		w.log.Info("allow-list is empty, position subscription closed")
		return nil
	}

	sub, err := w.source.Subscribe(ctx, want)
	if err != nil {
		return err
	}
	w.sub = sub
	w.current = want
	w.generation = snap.Generation
	w.subscribed.Store(true)
	w.devices.Store(int64(len(want)))
	if replacing {
		w.metrics.Resubscribed("positions", "allow_list")
	}
	w.log.Info("position subscription opened", logger.Int("devices", len(want)))
	return nil
}

func (w *Watcher) closeSubscription() {
	if w.sub == nil {
		return
	}
	if err := w.sub.Close(); err != nil {
		w.log.Warn("failed to close position subscription", logger.Error(err))
	}
	w.sub = nil
	w.current = nil
	w.generation = 0
	w.subscribed.Store(false)
	w.devices.Store(0)
}

func (w *Watcher) dispatch(ctx context.Context, r position.Report) {
	w.metrics.ReportReceived()

	// applied even when the backend filters server-side
	if !r.GPSFixValid {
		w.metrics.ReportDiscarded(metrics.DiscardInvalidFix)
		return
	}
	if !w.cache.Load().Allowed(r.DeviceID) {
		w.metrics.ReportDiscarded(metrics.DiscardNotAllowed)
		return
	}
	if err := r.Validate(); err != nil {
		w.metrics.ReportDiscarded(metrics.DiscardMalformed)
		if w.limiter.Allow() {
			w.log.Warn("discarding malformed report", logger.String("device_id", r.DeviceID), logger.Error(err))
		}
		return
	}

	// the slot is taken inside the goroutine so a saturated pool never
	// stalls the subscription or allow-list updates
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		if err := w.sem.Acquire(ctx, 1); err != nil {
			w.metrics.ReportDiscarded(metrics.DiscardShutdown)
			return
		}
		defer w.sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				w.metrics.ReportDiscarded(metrics.DiscardEvalPanic)
				w.log.Error("recovered panic while evaluating report",
					logger.String("device_id", r.DeviceID),
					logger.Any("panic", p))
			}
		}()

		start := time.Now()
		// evaluations finish on shutdown; the store timeout bounds them
		w.handle(context.WithoutCancel(ctx), r)
		w.metrics.EvaluationFinished(time.Since(start))
	}()
}

// Subscribed reports whether a position subscription is open.
func (w *Watcher) Subscribed() bool {
	return w.subscribed.Load()
}

// SubscribedDevices is the allow-list size of the open subscription.
func (w *Watcher) SubscribedDevices() int {
	return int(w.devices.Load())
}
