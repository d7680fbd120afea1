package alerting

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultBackoffInitial = 500 * time.Millisecond
	defaultBackoffMax     = 30 * time.Second
)

// retryPolicy builds the capped exponential backoff used for reloads and
// resubscriptions. It never gives up.
type retryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p retryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = defaultBackoffInitial
	}
	b.MaxInterval = p.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultBackoffMax
	}
	b.MaxInterval = max(b.MaxInterval, b.InitialInterval)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
