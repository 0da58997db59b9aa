// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pdiddy/research-triage/internal/gateway"
	"github.com/pdiddy/research-triage/internal/schema"
)

// TransientBackendError is a backend failure worth retrying: timeouts,
// network errors, rate limiting, and server-side 5xx responses.
type TransientBackendError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *TransientBackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient backend error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient backend error: %v", e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// MalformedOutputError means the backend answered but the answer did not
// satisfy the declared output schema.
type MalformedOutputError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("malformed %s output: %v", e.Schema, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// UnknownEntityError reports a model response that referenced an id the
// request never contained.
type UnknownEntityError struct {
	Kind string
	ID   string
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("unknown %s %q in response", e.Kind, e.ID)
}

// FatalSubmissionError is a failure that retrying cannot fix: rejected
// credentials, invalid requests, or a batch that could not be submitted.
type FatalSubmissionError struct {
	Op  string
	Err error
}

func (e *FatalSubmissionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalSubmissionError) Unwrap() error { return e.Err }

// Classify maps a gateway or parse error onto the failure taxonomy. Errors
// already in the taxonomy pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if kind(err) != nil {
		return err
	}

	var parseErr *schema.ParseError
	if errors.As(err, &parseErr) {
		return &MalformedOutputError{Schema: parseErr.Schema, Raw: parseErr.Raw, Err: err}
	}
	if errors.Is(err, gateway.ErrEmptyResponse) {
		return &MalformedOutputError{Err: err}
	}

	var pe *gateway.ProviderError
	if errors.As(err, &pe) {
		if retryableStatus(pe.StatusCode) {
			return &TransientBackendError{StatusCode: pe.StatusCode, RetryAfter: pe.RetryAfter, Err: err}
		}
		return &FatalSubmissionError{Op: pe.Provider, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &FatalSubmissionError{Op: "call canceled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TransientBackendError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientBackendError{Err: err}
	}

	return &FatalSubmissionError{Op: "backend call", Err: err}
}

// kind returns the outermost taxonomy error in err's chain, or nil.
func kind(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *TransientBackendError, *MalformedOutputError, *UnknownEntityError, *FatalSubmissionError:
			return e
		}
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

// IsTransient reports whether err classifies as a TransientBackendError.
func IsTransient(err error) bool {
	_, ok := kind(Classify(err)).(*TransientBackendError)
	return ok
}

// IsFatal reports whether err classifies as a FatalSubmissionError.
func IsFatal(err error) bool {
	_, ok := kind(Classify(err)).(*FatalSubmissionError)
	return ok
}

// IsMalformed reports whether err classifies as a MalformedOutputError.
func IsMalformed(err error) bool {
	_, ok := kind(Classify(err)).(*MalformedOutputError)
	return ok
}
