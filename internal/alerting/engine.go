package alerting

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/zonewatch/internal/conf"
	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/feed"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
	"github.com/tphakala/zonewatch/internal/position"
)

// memoPruneInterval is how often expired dedup memo entries are dropped.
const memoPruneInterval = 10 * time.Minute

var (
	ErrEngineRunning    = errors.NewStd("alert engine already started")
	ErrEngineNotRunning = errors.NewStd("alert engine not started")
)

// Options tunes the engine.
type Options struct {
	BotIdentity              string
	MaxConcurrentEvaluations int64
	BackoffInitial           time.Duration
	BackoffMax               time.Duration
	StoreTimeout             time.Duration
}

// OptionsFromSettings maps engine settings to Options.
func OptionsFromSettings(s conf.EngineSettings) Options {
	return Options{
		BotIdentity:              s.BotIdentity,
		MaxConcurrentEvaluations: s.MaxConcurrentEvaluations,
		BackoffInitial:           s.BackoffInitial.Std(),
		BackoffMax:               s.BackoffMax.Std(),
		StoreTimeout:             s.StoreTimeout.Std(),
	}
}

// Dependencies are the stores and feeds an engine runs against. Locker,
// Notifier, Metrics and Logger are optional.
type Dependencies struct {
	Rules      repository.RuleRepository
	Assets     repository.AssetRepository
	Activities repository.ActivityRepository
	Positions  feed.PositionSource
	Changes    feed.ChangeSource
	Locker     DistributedLocker
	Notifier   ActivityNotifier
	Metrics    *metrics.Metrics
	Logger     logger.Logger
}

// Status is a point-in-time health snapshot of the engine.
type Status struct {
	Running              bool          `json:"running"`
	Generation           uint64        `json:"generation"`
	Rules                int           `json:"rules"`
	Devices              int           `json:"devices"`
	Skipped              []SkippedRule `json:"skipped,omitempty"`
	LastReload           time.Time     `json:"last_reload"`
	LastReloadError      string        `json:"last_reload_error,omitempty"`
	PositionsSubscribed  bool          `json:"positions_subscribed"`
	SubscribedDevices    int           `json:"subscribed_devices"`
	ChangeFeedSubscribed bool          `json:"change_feed_subscribed"`
}

// Engine owns one rule cache and the synchronizer, watcher and dedup gate
// built around it.
type Engine struct {
	cache     *RuleCache
	syncer    *Synchronizer
	watcher   *Watcher
	evaluator *Evaluator
	gate      *Gate
	log       logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEngine wires an engine from deps.
func NewEngine(deps Dependencies, opts Options) (*Engine, error) {
	switch {
	case deps.Rules == nil, deps.Assets == nil, deps.Activities == nil:
		return nil, errors.Newf("alert engine requires rule, asset and activity repositories").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	case deps.Positions == nil, deps.Changes == nil:
		return nil, errors.Newf("alert engine requires position and change feeds").
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}

	log := deps.Logger
	if log == nil {
		log = logger.Silent()
	}
	retry := retryPolicy{Initial: opts.BackoffInitial, Max: opts.BackoffMax}

	e := &Engine{
		cache: NewRuleCache(),
		log:   log.Module(component),
	}
	writer := NewActivityWriter(deps.Activities, opts.BotIdentity, deps.Notifier, log)
	e.gate = NewGate(deps.Activities, writer, GateOptions{
		StoreTimeout: opts.StoreTimeout,
		Locker:       deps.Locker,
	}, log, deps.Metrics)
	e.evaluator = NewEvaluator(e.cache, e.gate, log, deps.Metrics)
	e.watcher = NewWatcher(deps.Positions, e.cache, func(ctx context.Context, r position.Report) {
		e.evaluator.Handle(ctx, r)
	}, opts.MaxConcurrentEvaluations, retry, log, deps.Metrics)
	e.syncer = NewSynchronizer(e.cache, deps.Rules, deps.Assets, deps.Changes, retry, log, deps.Metrics,
		func(*Snapshot) { e.watcher.Notify() })
	return e, nil
}

// Start loads the rules once and launches the background loops, which run
// until Stop is called or ctx is done. A failed initial load is retried in
// the background.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrEngineRunning
	}

	if _, err := e.syncer.Reload(ctx); err != nil {
		e.log.Warn("initial rule load failed, retrying in background", logger.Error(err))
		e.syncer.RequestReload()
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.syncer.Run(gctx) })
	g.Go(func() error { return e.watcher.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(memoPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				e.gate.PruneMemo()
			}
		}
	})

	e.cancel = cancel
	e.group = g
	e.log.Info("alert engine started",
		logger.Int("rules", e.cache.Load().RuleCount()),
		logger.Int("devices", e.cache.Load().DeviceCount()))
	return nil
}

// Stop closes both subscriptions and waits for in-flight evaluations.
func (e *Engine) Stop() error {
	e.mu.Lock()
	cancel, g := e.cancel, e.group
	e.cancel, e.group = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return ErrEngineNotRunning
	}

	cancel()
	err := g.Wait()
	e.log.Info("alert engine stopped")
	return err
}

// Reload forces a cache rebuild.
func (e *Engine) Reload(ctx context.Context) error {
	_, err := e.syncer.Reload(ctx)
	return err
}

// Cache returns the engine's rule cache.
func (e *Engine) Cache() *RuleCache {
	return e.cache
}

// Snapshot returns the current rule snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.cache.Load()
}

// Status returns the current health snapshot.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.cancel != nil
	e.mu.Unlock()

	snap := e.cache.Load()
	last, lastErr := e.syncer.LastReload()
	st := Status{
		Running:              running,
		Generation:           snap.Generation,
		Rules:                snap.RuleCount(),
		Devices:              snap.DeviceCount(),
		Skipped:              snap.Skipped(),
		LastReload:           last,
		PositionsSubscribed:  e.watcher.Subscribed(),
		SubscribedDevices:    e.watcher.SubscribedDevices(),
		ChangeFeedSubscribed: e.syncer.Subscribed(),
	}
	if lastErr != nil {
		st.LastReloadError = lastErr.Error()
	}
	return st
}
