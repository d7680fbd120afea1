package errors

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryConfig configures the Sentry reporter.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
	SampleRate  float64
}

// InitSentry initializes the Sentry SDK and installs it as the error reporter.
// The returned function flushes buffered events and must be called on shutdown.
func InitSentry(cfg SentryConfig) (func(), error) {
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 1
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return func() {}, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	SetReporter(sentryReporter(sentry.CurrentHub()))
	return func() {
		SetReporter(nil)
		sentry.Flush(2 * time.Second)
	}, nil
}

func sentryReporter(hub *sentry.Hub) Reporter {
	return func(ee *EnhancedError) {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("category", string(ee.category))
			if ee.component != "" {
				scope.SetTag("component", ee.component)
			}
			if len(ee.context) > 0 {
				scope.SetContext("error", sentry.Context(ee.GetContext()))
			}
			hub.CaptureException(ee)
		})
	}
}
