// Package connect retries the initial handshake with external backends
// (PostgreSQL, Redis) using jittered exponential backoff.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"

	"github.com/phrazzld/snippet-runner/internal/redact"
)

const (
	defaultAttempts = 5
	defaultInitial  = 200 * time.Millisecond
	defaultMax      = 5 * time.Second
)

// Policy bounds a retry loop. Zero values select the defaults.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = defaultAttempts
	}
	if p.Initial <= 0 {
		p.Initial = defaultInitial
	}
	if p.Max < p.Initial {
		p.Max = defaultMax
		if p.Max < p.Initial {
			p.Max = p.Initial
		}
	}
	return p
}

// Retry calls fn until it succeeds, the attempts are exhausted or ctx is
// done. The last error from fn is returned, wrapped with the backend name.
func Retry(ctx context.Context, name string, pol Policy, logger *slog.Logger, fn func(ctx context.Context) error) error {
	pol = pol.withDefaults()
	bo := boff.New(pol.Initial, pol.Max, time.Now().UnixNano())

	var err error
	for attempt := 1; attempt <= pol.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			if attempt > 1 {
				logger.Info("connected after retry", "backend", name, "attempt", attempt)
			}
			return nil
		}
		if attempt == pol.Attempts {
			break
		}

		delay := bo.Next()
		logger.Warn("connection attempt failed; backing off",
			"backend", name,
			"attempt", attempt,
			"sleep", delay.String(),
			"error", redact.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("failed to connect to %s: %w (last error: %v)", name, ctx.Err(), err)
		}
	}
	return fmt.Errorf("failed to connect to %s after %d attempts: %w", name, pol.Attempts, err)
}
