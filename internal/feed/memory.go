package feed

import (
	"context"
	"slices"
	"sync"

	"github.com/tphakala/zonewatch/internal/position"
)

const memoryBuffer = 64

// Broker is an in-process PositionSource and ChangeSource. It is used when
// the engine is embedded in a host that already receives reports, and by
// tests.
type Broker struct {
	mu          sync.Mutex
	positions   map[*Stream[position.Report]]map[string]struct{}
	changes     map[*Stream[RuleChange]]struct{}
	subscribeFn func(allowList []string) error

	positionSubscribes int
	changeSubscribes   int
}

var (
	_ PositionSource = (*Broker)(nil)
	_ ChangeSource   = (*changeSide)(nil)
)

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		positions: make(map[*Stream[position.Report]]map[string]struct{}),
		changes:   make(map[*Stream[RuleChange]]struct{}),
	}
}

// Subscribe opens a position subscription filtered to allowList.
func (b *Broker) Subscribe(_ context.Context, allowList []string) (Subscription[position.Report], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribeFn != nil {
		if err := b.subscribeFn(slices.Clone(allowList)); err != nil {
			return nil, err
		}
	}

	allowed := make(map[string]struct{}, len(allowList))
	for _, id := range allowList {
		allowed[id] = struct{}{}
	}

	var s *Stream[position.Report]
	s = NewStream[position.Report](memoryBuffer, func() error {
		b.mu.Lock()
		delete(b.positions, s)
		b.mu.Unlock()
		return nil
	})
	b.positions[s] = allowed
	b.positionSubscribes++
	return s, nil
}

// Changes returns the broker's ChangeSource view.
func (b *Broker) Changes() ChangeSource { return (*changeSide)(b) }

type changeSide Broker

func (c *changeSide) Subscribe(_ context.Context) (Subscription[RuleChange], error) {
	b := (*Broker)(c)
	b.mu.Lock()
	defer b.mu.Unlock()

	var s *Stream[RuleChange]
	s = NewStream[RuleChange](memoryBuffer, func() error {
		b.mu.Lock()
		delete(b.changes, s)
		b.mu.Unlock()
		return nil
	})
	b.changes[s] = struct{}{}
	b.changeSubscribes++
	return s, nil
}

// PublishPosition delivers r to every subscription whose allow-list
// contains its device. It blocks while a subscriber's buffer is full.
func (b *Broker) PublishPosition(ctx context.Context, r position.Report) int {
	b.mu.Lock()
	targets := make([]*Stream[position.Report], 0, len(b.positions))
	for s, allowed := range b.positions {
		if _, ok := allowed[r.DeviceID]; ok {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(ctx, r) {
			delivered++
		}
	}
	return delivered
}

// PublishChange delivers c to every change subscription.
func (b *Broker) PublishChange(ctx context.Context, c RuleChange) int {
	b.mu.Lock()
	targets := make([]*Stream[RuleChange], 0, len(b.changes))
	for s := range b.changes {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if s.Send(ctx, c) {
			delivered++
		}
	}
	return delivered
}

// FailPositions terminates all open position subscriptions with err.
func (b *Broker) FailPositions(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.positions {
		s.Fail(err)
	}
}

// FailChanges terminates all open change subscriptions with err.
func (b *Broker) FailChanges(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.changes {
		s.Fail(err)
	}
}

// OnSubscribe installs a hook run on every position Subscribe. A non-nil
// error rejects the subscription.
func (b *Broker) OnSubscribe(fn func(allowList []string) error) {
	b.mu.Lock()
	b.subscribeFn = fn
	b.mu.Unlock()
}

// OpenPositionSubscriptions returns the allow-lists of live position
// subscriptions, each sorted.
func (b *Broker) OpenPositionSubscriptions() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]string, 0, len(b.positions))
	for _, allowed := range b.positions {
		ids := make([]string, 0, len(allowed))
		for id := range allowed {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		out = append(out, ids)
	}
	return out
}

// PositionSubscribeCount returns how many position subscriptions were opened.
func (b *Broker) PositionSubscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positionSubscribes
}

// ChangeSubscribeCount returns how many change subscriptions were opened.
func (b *Broker) ChangeSubscribeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changeSubscribes
}
