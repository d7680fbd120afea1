// Package feed provides the position and rule-change streams consumed by the
// alerting engine, with in-memory, MQTT, outbox-polling and Postgres
// LISTEN/NOTIFY backends.
package feed

import (
	"context"
	"sync"

	"github.com/tphakala/zonewatch/internal/position"
)

// Subscription is a live stream of events. Err delivers at most one
// transport error, after which the subscription is dead and should be
// closed and replaced. Close is idempotent and waits for the backend to
// release its resources.
type Subscription[T any] interface {
	Events() <-chan T
	Err() <-chan error
	Close() error
}

// PositionSource opens position subscriptions restricted to a device
// allow-list.
type PositionSource interface {
	Subscribe(ctx context.Context, allowList []string) (Subscription[position.Report], error)
}

// ChangeSource opens rule change subscriptions.
type ChangeSource interface {
	Subscribe(ctx context.Context) (Subscription[RuleChange], error)
}

// RuleChange notifies that a rule was inserted, updated or deleted.
type RuleChange struct {
	RuleID uint   `json:"rule_id"`
	Op     string `json:"op"`
	// Seq is the outbox row ID when the backend knows it.
	Seq uint `json:"seq,omitempty"`
}

// Stream is a reusable Subscription implementation for backends.
type Stream[T any] struct {
	events chan T
	errs   chan error
	done   chan struct{}

	closeOnce sync.Once
	failOnce  sync.Once
	onClose   func() error
	closeErr  error
}

// NewStream creates a stream with the given event buffer. onClose runs once
// on Close, after the stream stops accepting events.
func NewStream[T any](buffer int, onClose func() error) *Stream[T] {
	return &Stream[T]{
		events:  make(chan T, buffer),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Events returns the event channel. It is never closed; select on Err and
// on your own shutdown signal.
func (s *Stream[T]) Events() <-chan T { return s.events }

// Err returns the transport error channel.
func (s *Stream[T]) Err() <-chan error { return s.errs }

// Done is closed when the stream is closed.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Send delivers v, blocking until the consumer takes it, the stream is
// closed or ctx is done. Reports whether v was delivered.
func (s *Stream[T]) Send(ctx context.Context, v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- v:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Fail reports a terminal transport error. Only the first call has effect.
func (s *Stream[T]) Fail(err error) {
	if err == nil {
		return
	}
	s.failOnce.Do(func() {
		s.errs <- err
	})
}

// Close stops the stream and runs the backend cleanup once.
func (s *Stream[T]) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.onClose != nil {
			s.closeErr = s.onClose()
		}
	})
	return s.closeErr
}
