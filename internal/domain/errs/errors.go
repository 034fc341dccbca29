// Package errs implements the four-class error taxonomy of spec.md §7:
// Transient (retry locally), Permanent (surface, cool down), Invariant
// violations (fatal for the slice), and Configuration (fatal at startup).
package errs

import (
	"errors"
	"fmt"
	"time"
)

// ErrConflictRetry is returned by the manifest store when a CAS on
// coverage.version misses; the caller must re-read and retry (spec.md §4.1).
var ErrConflictRetry = errors.New("coverage version conflict, retry")

// ErrNotFound is returned by get_stream for an id with no live manifest row.
var ErrNotFound = errors.New("stream not found")

// ErrLeaseNotOwned is returned by release_lease when worker_id does not
// match the current lessee (spec.md §4.1).
var ErrLeaseNotOwned = errors.New("lease not owned by caller")

// Transient wraps a locally-retryable failure: provider rate limit, HTTP
// 5xx, network timeout, sink temporary failure. RetryAfter carries a
// vendor-declared minimum suspension (e.g. an HTTP 429 Retry-After header,
// spec.md §8 scenario 5); zero means the caller's own backoff decides.
type Transient struct {
	Err        error
	RetryAfter time.Duration
}

func (e *Transient) Error() string { return "transient: " + e.Err.Error() }
func (e *Transient) Unwrap() error { return e.Err }

func NewTransient(err error) error { return &Transient{Err: err} }

// NewTransientWithRetryAfter wraps err as Transient, carrying the vendor's
// suggested suspension so the runtime's backoff can honor it instead of
// retrying sooner (spec.md §8 scenario 5).
func NewTransientWithRetryAfter(err error, retryAfter time.Duration) error {
	return &Transient{Err: err, RetryAfter: retryAfter}
}

func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// RetryAfterOf returns the vendor-declared suspension attached to err, if
// any. ok is false when err is not Transient or carries no hint.
func RetryAfterOf(err error) (time.Duration, bool) {
	var t *Transient
	if !errors.As(err, &t) || t.RetryAfter <= 0 {
		return 0, false
	}
	return t.RetryAfter, true
}

// Permanent wraps a failure that should surface and not be auto-retried
// before a cool-down: HTTP 4xx other than 429, schema mismatch, sink
// permission error.
type Permanent struct {
	Err  error
	Code string // e.g. "NoDataForRange"
}

func (e *Permanent) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("permanent[%s]: %v", e.Code, e.Err)
	}
	return "permanent: " + e.Err.Error()
}
func (e *Permanent) Unwrap() error { return e.Err }

func NewPermanent(code string, err error) error { return &Permanent{Code: code, Err: err} }

func IsPermanent(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// NoDataForRange is the diagnostic attached when a provider legitimately
// has nothing to return for a range (spec.md §8 scenario 1).
func NoDataForRange(rangeDesc string) error {
	return NewPermanent("NoDataForRange", fmt.Errorf("no data for range %s", rangeDesc))
}

// InvariantViolation is fatal for the slice (never for the process): the
// provider returned misaligned or duplicate bars.
type InvariantViolation struct{ Err error }

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Err.Error() }
func (e *InvariantViolation) Unwrap() error { return e.Err }

func NewInvariantViolation(format string, a ...any) error {
	return &InvariantViolation{Err: fmt.Errorf(format, a...)}
}

func IsInvariantViolation(err error) bool {
	var v *InvariantViolation
	return errors.As(err, &v)
}

// Configuration is fatal at startup: invalid timeframe, non-UTC timestamps,
// ambiguous identity collisions.
type Configuration struct{ Err error }

func (e *Configuration) Error() string { return "configuration: " + e.Err.Error() }
func (e *Configuration) Unwrap() error { return e.Err }

func NewConfiguration(format string, a ...any) error {
	return &Configuration{Err: fmt.Errorf(format, a...)}
}
