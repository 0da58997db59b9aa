// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/ratelimit"
	"github.com/pdiddy/research-triage/pkg/types"
)

// backoff returns the delay after the given failed attempt (1-based):
// InitialBackoff * Multiplier^(attempt-1) capped at MaxBackoff. A longer
// server-requested delay wins over the computed one.
func backoff(policy types.RetryConfig, attempt int, retryAfter time.Duration) time.Duration {
	mult := policy.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := time.Duration(float64(policy.InitialBackoff) * math.Pow(mult, float64(attempt-1)))
	if policy.MaxBackoff > 0 && (d > policy.MaxBackoff || d < 0) {
		d = policy.MaxBackoff
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// withRetry runs fn until it succeeds, fails with a non-transient error, or
// exhausts MaxAttempts. When lim is not nil every attempt first takes a
// permit from it. Each attempt gets its own CallTimeout, started after the
// permit is granted. The returned error is always classified; a transient
// failure that outlasts MaxAttempts becomes a *FatalSubmissionError
// wrapping the last transient error.
func (o *Orchestrator) withRetry(ctx context.Context, op string, lim ratelimit.Limiter, fn func(context.Context) error) error {
	attempts := o.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return Classify(err)
			}
		}
		callCtx, cancel := o.callContext(ctx)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}

		err = Classify(err)
		te, transient := kind(err).(*TransientBackendError)
		if !transient || ctx.Err() != nil {
			return err
		}
		if attempt >= attempts {
			return &FatalSubmissionError{Op: op, Err: err}
		}

		delay := backoff(o.cfg.Retry, attempt, te.RetryAfter)
		o.logger.Warn("orchestrator: transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return Classify(err)
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
