// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package httputil provides HTTP helpers shared by the model gateways and
// the search backends.
package httputil

import (
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// retryable responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 2 * time.Second

// MaxRetryAfter caps a server-provided Retry-After delay.
var MaxRetryAfter = time.Minute

const defaultMaxRetries = 5

// Retryable reports whether a status code signals a transient condition
// worth retrying: 429 or a gateway-level 5xx.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// DoWithRetry executes an HTTP request and retries on retryable status
// codes with exponential backoff. The delay starts at RetryBaseDelay and
// doubles each attempt unless the response carries a Retry-After header
// in seconds, which takes precedence (capped at MaxRetryAfter).
//
// When maxRetries is 0 the default (5) is used. The response body is
// drained and closed before sleeping. If the context is cancelled during a
// backoff wait the function returns ctx.Err(). After exhausting retries the
// last response is returned so the caller can inspect it.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, maxRetries int) (*http.Response, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	for attempt := 0; ; attempt++ {
		clone := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			clone.Body = body
		}

		resp, err := client.Do(clone)
		if err != nil {
			return nil, err
		}

		if !Retryable(resp.StatusCode) || attempt >= maxRetries {
			return resp, nil
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		if ra, ok := RetryAfter(resp.Header); ok {
			backoff = ra
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// RetryAfter parses a Retry-After header given in seconds.
func RetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > MaxRetryAfter {
		d = MaxRetryAfter
	}
	return d, true
}
