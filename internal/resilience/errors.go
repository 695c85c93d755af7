// Package resilience implements the retry and circuit breaker layer that
// guards every call against the origin.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrCircuitOpen is returned without attempting the call when the breaker
// denies execution. Callers should back the whole partition off for the run.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTargetNotFound is the expected business outcome of a search that
// returned no matching record. It is terminal for the retry loop but is
// never reported to the breaker: an empty result says nothing about
// upstream health.
var ErrTargetNotFound = errors.New("target record not found")

// TerminalError marks protocol-level failures that retrying cannot fix:
// HTTP 400/401/403/404 and rejected credentials. The upstream answered, so
// the breaker records these as successes.
type TerminalError struct {
	StatusCode int
	Reason     string
}

func (e *TerminalError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("terminal protocol error: HTTP %d: %s", e.StatusCode, e.Reason)
	}
	return "terminal protocol error: " + e.Reason
}

// OverloadError marks HTTP 429/5xx responses: retriable with backoff and
// counted against the breaker.
type OverloadError struct {
	StatusCode int
}

func (e *OverloadError) Error() string {
	return fmt.Sprintf("server overload: HTTP %d", e.StatusCode)
}

// AuthError marks a failed login sequence. Retriable unless wrapped around
// a TerminalError (bad credentials).
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExhaustedError wraps the last error after all retry attempts were spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Retriable reports whether err may be retried. Context cancellation,
// terminal protocol errors, and expected business outcomes stop the loop;
// network timeouts, connection resets, and overload responses continue it.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var terminal *TerminalError
	if errors.As(err, &terminal) {
		return false
	}
	var overload *OverloadError
	if errors.As(err, &overload) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Unclassified transport failures (closed connections, EOF during
	// reads) behave like transient network errors against this origin.
	return true
}

// CountsAgainstBreaker reports whether err should be recorded as an
// upstream failure. Business outcomes and terminal protocol errors do not:
// the server answered, it is the request that was wrong. A cancelled
// caller context says nothing about upstream health either (deadline
// expiry does: that is how client timeouts surface).
func CountsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var terminal *TerminalError
	return !errors.As(err, &terminal)
}

// ClassifyStatus converts an HTTP status code into the taxonomy. A nil
// return means the response is usable.
func ClassifyStatus(code int) error {
	switch {
	case code == 429 || code >= 500:
		return &OverloadError{StatusCode: code}
	case code == 400 || code == 401 || code == 403 || code == 404:
		return &TerminalError{StatusCode: code, Reason: "rejected by origin"}
	case code >= 200 && code < 400:
		return nil
	default:
		return &TerminalError{StatusCode: code, Reason: "unexpected status"}
	}
}
