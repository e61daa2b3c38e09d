package app

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

// initSentry installs the global Sentry client. Panics recovered by the API
// and server errors are reported through it.
func (c *Container) initSentry() error {
	cfg := c.Config.Sentry
	if !cfg.Enabled {
		c.Logger.Debug("sentry is disabled")
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     c.version,
		SampleRate:  cfg.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}

	c.closers = append(c.closers, func() error {
		sentry.Flush(sentryFlushTimeout)
		return nil
	})
	c.Logger.Info("sentry initialized",
		"environment", cfg.Environment,
		"sample_rate", cfg.SampleRate,
	)
	return nil
}
