package alerting

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/tphakala/zonewatch/internal/datastore/repository"
	"github.com/tphakala/zonewatch/internal/errors"
	"github.com/tphakala/zonewatch/internal/logger"
	"github.com/tphakala/zonewatch/internal/observability/metrics"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultLockTTL      = 5 * time.Second
	lockKeyPrefix       = "zonewatch:dedup:"
)

// DistributedLocker serializes dedup decisions across engine instances.
type DistributedLocker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker implements DistributedLocker with redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisLocker wraps a go-redis client. ttl bounds how long a crashed
// holder can block other instances.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration, log logger.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if log == nil {
		log = logger.Silent()
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		ttl:    ttl,
		log:    log.Module(component).With(logger.String("part", "redis-lock")),
	}
}

// Obtain blocks until the lock is held or ctx is done.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (func(), error) {
	lock, err := l.client.Obtain(ctx, lockKeyPrefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(20 * time.Millisecond),
	})
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Warn("failed to release dedup lock", logger.String("key", key), logger.Error(err))
		}
	}, nil
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// GateOptions configures a Gate.
type GateOptions struct {
	// StoreTimeout bounds the lookup and insert of one decision.
	StoreTimeout time.Duration
	// Locker is optional; without it only the in-process lock and the
	// store's unique index guard concurrent writers.
	Locker DistributedLocker
}

// Gate decides whether an alarm becomes an activity: it does iff no
// activity for the same origin and classification exists with an event
// time at or after alarm time minus DedupWindow.
type Gate struct {
	activities repository.ActivityRepository
	writer     *ActivityWriter
	locks      *keyedMutex
	locker     DistributedLocker
	memo       *cache.Cache
	timeout    time.Duration
	log        logger.Logger
	metrics    *metrics.Metrics
	lockWarn   *rate.Limiter
}

// NewGate creates a dedup gate writing through writer.
func NewGate(activities repository.ActivityRepository, writer *ActivityWriter, opts GateOptions, log logger.Logger, m *metrics.Metrics) *Gate {
	if log == nil {
		log = logger.Silent()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	return &Gate{
		activities: activities,
		writer:     writer,
		locks:      newKeyedMutex(),
		locker:     opts.Locker,
		memo:       cache.New(DedupWindow, 0), // no janitor, see PruneMemo
		timeout:    opts.StoreTimeout,
		log:        log.Module(component).With(logger.String("part", "dedup")),
		metrics:    m,
		lockWarn:   rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

func dedupKey(originEntityID string, code int) string {
	return originEntityID + "|" + strconv.Itoa(code)
}

// MaybeRecord writes an activity for alarm unless one already covers it.
// It reports whether a new activity was written.
func (g *Gate) MaybeRecord(ctx context.Context, alarm Alarm) (bool, error) {
	key := dedupKey(alarm.OriginEntityID, alarm.Code)
	windowStart := alarm.EventTime.Add(-DedupWindow)

	if g.memoCovers(key, windowStart) {
		g.metrics.ActivitySuppressed(metrics.SuppressedMemo)
		return false, nil
	}

	unlock := g.locks.Lock(key)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.locker != nil {
		// leave the store half of the timeout for the lookup and insert
		lockCtx, lockCancel := context.WithTimeout(ctx, g.timeout/2)
		release, err := g.locker.Obtain(lockCtx, key)
		lockCancel()
		if err != nil {
			// the unique bucket index still rejects same-window duplicates
			if g.lockWarn.Allow() {
				g.log.Warn("could not obtain distributed dedup lock, proceeding without it",
					logger.String("key", key), logger.Error(err))
			}
		} else {
			defer release()
		}
	}

	latest, err := g.activities.FindLatest(ctx, alarm.OriginEntityID, alarm.Code)
	switch {
	case errors.Is(err, repository.ErrActivityNotFound):
	case err != nil:
		return false, errors.Newf("failed to look up latest activity: %w", err).
			Component(component).
			Category(errors.CategoryDatabase).
			Context("origin_entity_id", alarm.OriginEntityID).
			Context("code", alarm.Code).
			Build()
	case !latest.EventTime.Before(windowStart):
		g.remember(key, latest.EventTime)
		g.metrics.ActivitySuppressed(metrics.SuppressedWindow)
		return false, nil
	}

	activity, inserted, err := g.writer.Write(ctx, alarm)
	if err != nil {
		return false, err
	}
	if !inserted {
		g.metrics.ActivitySuppressed(metrics.SuppressedConflict)
		return false, nil
	}
	g.remember(key, activity.EventTime)
	g.metrics.ActivityRecorded(strconv.Itoa(alarm.Code))
	return true, nil
}

// memoCovers reports whether a previously confirmed activity suppresses an
// alarm whose window starts at windowStart.
func (g *Gate) memoCovers(key string, windowStart time.Time) bool {
	v, ok := g.memo.Get(key)
	if !ok {
		return false
	}
	return !v.(time.Time).Before(windowStart)
}

// remember keeps the latest known event time per key.
func (g *Gate) remember(key string, t time.Time) {
	if v, ok := g.memo.Get(key); ok && v.(time.Time).After(t) {
		return
	}
	g.memo.SetDefault(key, t)
}

// PruneMemo drops expired memo entries.
func (g *Gate) PruneMemo() {
	g.memo.DeleteExpired()
}

// MemoSize returns the number of memo entries, expired ones included.
func (g *Gate) MemoSize() int {
	return g.memo.ItemCount()
}
