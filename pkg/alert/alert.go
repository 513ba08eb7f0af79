// Package alert forwards operator-actionable failures to Sentry.
// Without a DSN every call is a no-op.
package alert

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/d60-Lab/ghostreply/config"
)

var enabled bool

// Init configures the Sentry client.
func Init(cfg config.SentryConfig, release string) error {
	if cfg.DSN == "" {
		enabled = false
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     release,
	}); err != nil {
		return fmt.Errorf("init sentry: %w", err)
	}
	enabled = true
	return nil
}

// Capture reports err with the given tags.
func Capture(err error, tags map[string]string) {
	if !enabled || err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush waits for buffered events.
func Flush(timeout time.Duration) {
	if enabled {
		sentry.Flush(timeout)
	}
}
