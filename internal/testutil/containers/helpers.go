//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WaitForTCP waits for a TCP port to accept connections.
func WaitForTCP(ctx context.Context, host string, port int, timeout time.Duration) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	return RetryWithBackoff(ctx, timeout, func() error {
		conn, err := net.DialTimeout("tcp", address, 2*time.Second)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

// RetryWithBackoff retries fn with exponential backoff until it succeeds,
// timeout elapses or ctx is done.
func RetryWithBackoff(ctx context.Context, timeout time.Duration, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout
	b.Reset()

	if err := backoff.Retry(fn, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("gave up after %s: %w", timeout, err)
	}
	return nil
}
