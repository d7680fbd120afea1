package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/feed"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
)

// Synchronizer rebuilds the rule cache whenever the change feed reports a
// rule write, and on every (re)subscription to that feed.
type Synchronizer struct {
	cache   *RuleCache
	rules   repository.RuleRepository
	assets  repository.AssetRepository
	changes feed.ChangeSource
	retry   retryPolicy
	log     logger.Logger
	metrics *metrics.Metrics
	onSwap  func(*Snapshot)

	group      singleflight.Group
	generation atomic.Uint64
	trigger    chan struct{}
	subscribed atomic.Bool

	mu         sync.Mutex
	lastReload time.Time
	lastErr    error
}

// NewSynchronizer creates a synchronizer for cache. onSwap, if set, is
// called after each successful swap with the new snapshot.
func NewSynchronizer(cache *RuleCache, rules repository.RuleRepository, assets repository.AssetRepository,
	changes feed.ChangeSource, retry retryPolicy, log logger.Logger, m *metrics.Metrics, onSwap func(*Snapshot),
) *Synchronizer {
	if log == nil {
		log = logger.Silent()
	}
	return &Synchronizer{
		cache:   cache,
		rules:   rules,
		assets:  assets,
		changes: changes,
		retry:   retry,
		log:     log.Module(component).With(logger.String("part", "synchronizer")),
		metrics: m,
		onSwap:  onSwap,
		trigger: make(chan struct{}, 1),
	}
}

// reloadTimeout bounds a shared rebuild, which no single caller can cancel.
const reloadTimeout = 30 * time.Second

// Reload rebuilds and swaps the cache. Concurrent calls share one rebuild.
// On failure the previous snapshot stays in place. A caller whose ctx ends
// returns early; the shared rebuild keeps running for the others.
func (s *Synchronizer) Reload(ctx context.Context) (*Snapshot, error) {
	ch := s.group.DoChan("reload", func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
		defer cancel()
		return s.reload(buildCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (s *Synchronizer) reload(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap, err := s.build(ctx)
	s.metrics.ReloadFinished(time.Since(start), err)

	s.mu.Lock()
	s.lastReload = time.Now()
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}

	s.generation.Store(snap.Generation)
	s.cache.store(snap)
	s.metrics.SetCacheState(snap.Generation, snap.RuleCount(), snap.DeviceCount(), len(snap.skipped))

	for _, sk := range snap.skipped {
		s.log.Warn("skipping alert rule",
			logger.Uint64("rule_id", uint64(sk.RuleID)),
			logger.String("rule_name", sk.Name),
			logger.String("reason", sk.Reason))
	}
	for _, u := range snap.unresolved {
		s.log.Warn("unresolved rule origin",
			logger.Uint64("rule_id", uint64(u.RuleID)),
			logger.String("entity_id", u.EntityID),
			logger.String("kind", u.Kind),
			logger.String("reason", u.Reason))
	}
	s.log.Info("rule cache rebuilt",
		logger.Uint64("generation", snap.Generation),
		logger.Int("rules", snap.RuleCount()),
		logger.Int("devices", snap.DeviceCount()),
		logger.Int("skipped", len(snap.skipped)),
		logger.Duration("took", time.Since(start)))

	if s.onSwap != nil {
		s.onSwap(snap)
	}
	return snap, nil
}

func (s *Synchronizer) build(ctx context.Context) (*Snapshot, error) {
	rules, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, errors.Newf("failed to list active rules: %w", err).
			Component(component).
			Category(errors.CategoryDatabase).
			Build()
	}
	return BuildSnapshot(ctx, s.generation.Load()+1, rules, s.assets)
}

// RequestReload schedules a reload on the Run loop. Requests made while one
// is pending collapse into it.
func (s *Synchronizer) RequestReload() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run consumes the change feed until ctx is done. Transport failures are
// logged and the feed is resubscribed with backoff.
func (s *Synchronizer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Go(func() { s.reloadLoop(ctx) })
	defer wg.Wait()

	b := s.retry.newBackOff()
	for {
		sub, err := s.changes.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d := b.NextBackOff()
			s.log.Warn("failed to subscribe to rule changes", logger.Error(err), logger.Duration("retry_in", d))
			if !sleepCtx(ctx, d) {
				return nil
			}
			continue
		}

		s.subscribed.Store(true)
		// changes made while unsubscribed are unaccounted for
		s.RequestReload()

		err = s.consume(ctx, sub, b.Reset)
		if cerr := sub.Close(); cerr != nil {
			s.log.Warn("failed to close rule change subscription", logger.Error(cerr))
		}
		s.subscribed.Store(false)
		if ctx.Err() != nil {
			return nil
		}

		d := b.NextBackOff()
		s.log.Warn("rule change subscription failed", logger.Error(err), logger.Duration("retry_in", d))
		s.metrics.Resubscribed("changes", "transport")
		if !sleepCtx(ctx, d) {
			return nil
		}
	}
}

func (s *Synchronizer) consume(ctx context.Context, sub feed.Subscription[feed.RuleChange], healthy func()) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case c := <-sub.Events():
			healthy()
			s.log.Debug("rule change received",
				logger.Uint64("rule_id", uint64(c.RuleID)),
				logger.String("op", c.Op))
			s.RequestReload()
		}
	}
}

func (s *Synchronizer) reloadLoop(ctx context.Context) {
	b := s.retry.newBackOff()
	var (
		timer *time.Timer
		retry <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		case <-retry:
		}
		if timer != nil {
			timer.Stop()
			timer, retry = nil, nil
		}

		if _, err := s.Reload(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			d := b.NextBackOff()
			s.log.Error("rule cache reload failed, keeping previous snapshot",
				logger.Error(err),
				logger.Uint64("generation", s.cache.Load().Generation),
				logger.Duration("retry_in", d))
			timer = time.NewTimer(d)
			retry = timer.C
			continue
		}
		b.Reset()
	}
}

// Subscribed reports whether the change feed subscription is open.
func (s *Synchronizer) Subscribed() bool {
	return s.subscribed.Load()
}

// LastReload returns the time and error of the last reload attempt.
func (s *Synchronizer) LastReload() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReload, s.lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
