// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ratelimit bounds the rate of outbound model calls. One Limiter is
// shared by every concurrent caller of a backend.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pdiddy/research-triage/pkg/types"
)

// Limiter blocks until the caller may send one request.
type Limiter interface {
	Wait(ctx context.Context) error
}

// New builds the limiter selected by cfg.Kind.
func New(cfg types.RateLimitConfig) (Limiter, error) {
	switch cfg.Kind {
	case types.LimiterNone:
		return Noop{}, nil
	case types.LimiterWindow, "":
		if cfg.Requests <= 0 || cfg.Period <= 0 {
			return nil, fmt.Errorf("window limiter needs positive requests and period, got %d per %s", cfg.Requests, cfg.Period)
		}
		return NewSlidingWindow(cfg.Requests, cfg.Period), nil
	case types.LimiterTokenBucket:
		if cfg.Requests <= 0 || cfg.Period <= 0 {
			return nil, fmt.Errorf("token bucket limiter needs positive requests and period, got %d per %s", cfg.Requests, cfg.Period)
		}
		return NewTokenBucket(cfg.Requests, cfg.Period), nil
	default:
		return nil, fmt.Errorf("unknown limiter kind %q", cfg.Kind)
	}
}

// Routes keeps a separate limiter per model prefix so that backends with
// different quotas never share a budget. Models matching no prefix go
// through the fallback.
type Routes struct {
	prefixes []string
	limiters []Limiter
	fallback Limiter
}

// NewRoutes returns a Routes whose unmatched models use fallback. A nil
// fallback admits everything.
func NewRoutes(fallback Limiter) *Routes {
	if fallback == nil {
		fallback = Noop{}
	}
	return &Routes{fallback: fallback}
}

// Add limits models starting with prefix through lim. The longest matching
// prefix wins.
func (r *Routes) Add(prefix string, lim Limiter) *Routes {
	if lim == nil {
		lim = Noop{}
	}
	r.prefixes = append(r.prefixes, prefix)
	r.limiters = append(r.limiters, lim)
	return r
}

// For returns the limiter for model.
func (r *Routes) For(model string) Limiter {
	best := -1
	for i, p := range r.prefixes {
		if strings.HasPrefix(model, p) && (best < 0 || len(p) > len(r.prefixes[best])) {
			best = i
		}
	}
	if best < 0 {
		return r.fallback
	}
	return r.limiters[best]
}

// Wait takes a permit from the fallback limiter.
func (r *Routes) Wait(ctx context.Context) error { return r.fallback.Wait(ctx) }

// Noop admits every request immediately.
type Noop struct{}

// Wait returns ctx.Err() if ctx is already done, nil otherwise.
func (Noop) Wait(ctx context.Context) error { return ctx.Err() }

// SlidingWindow admits at most Requests calls in any rolling Period.
// Admission times are kept oldest first.
type SlidingWindow struct {
	mu       sync.Mutex
	requests int
	period   time.Duration
	admitted []time.Time
	now      func() time.Time
}

// NewSlidingWindow returns a limiter admitting requests calls per period.
func NewSlidingWindow(requests int, period time.Duration) *SlidingWindow {
	return &SlidingWindow{
		requests: requests,
		period:   period,
		admitted: make([]time.Time, 0, requests),
		now:      time.Now,
	}
}

// Wait blocks until a slot in the window frees up or ctx is done.
func (w *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delay, ok := w.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve records an admission when the window has room. Otherwise it
// returns how long until the oldest admission leaves the window.
func (w *SlidingWindow) reserve() (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.period)
	drop := 0
	for drop < len(w.admitted) && !w.admitted[drop].After(cutoff) {
		drop++
	}
	w.admitted = w.admitted[drop:]

	if len(w.admitted) < w.requests {
		w.admitted = append(w.admitted, now)
		return 0, true
	}
	delay := w.admitted[0].Add(w.period).Sub(now)
	if delay <= 0 {
		delay = time.Millisecond
	}
	return delay, false
}

// TokenBucket spaces requests evenly at Requests per Period with a burst
// of one.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a token bucket refilling requests tokens per period.
func NewTokenBucket(requests int, period time.Duration) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Every(period/time.Duration(requests)), 1)}
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
