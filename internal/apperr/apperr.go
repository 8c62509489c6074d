// Package apperr classifies errors into the kinds the job queue and
// handlers need to decide retry-vs-terminal behavior (spec §7).
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one row of the error taxonomy in spec §7.
type Kind int

const (
	// KindUnknown is the zero value; treated as terminal.
	KindUnknown Kind = iota
	// KindTransient covers network timeouts, 5xx, DNS failures. Retry with backoff.
	KindTransient
	// KindRateLimit covers 429s and limiter timeouts. Retry is transparent to the caller.
	KindRateLimit
	// KindAuthConfig covers 401/403 and missing credentials. Fails terminally.
	KindAuthConfig
	// KindNotFound is a non-error at the orchestrator level: record "no result" and continue.
	KindNotFound
	// KindValidation covers invalid payloads and missing required fields. Fails terminally, no retry.
	KindValidation
	// KindIntegrity covers hash mismatches and constraint violations. Fails terminally, surfaced critical.
	KindIntegrity
	// KindIO covers disk full, permission errors, missing roots. Retry a few times, else trips the breaker.
	KindIO
	// KindCancellation is user- or system-initiated cancellation. Clean termination, no retry.
	KindCancellation
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimit:
		return "rate_limit"
	case KindAuthConfig:
		return "auth_config"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindIntegrity:
		return "integrity"
	case KindIO:
		return "io"
	case KindCancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Retryable reports whether the queue should retry a job that failed with
// an error of this kind, per the policy table in spec §7.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimit, KindIO:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with a classification.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ClassOf extracts the Kind from err, defaulting to KindUnknown when err
// does not carry a classification.
func ClassOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Retryable reports whether err should be retried under the job queue's
// retry policy. Unclassified errors are treated as terminal.
func Retryable(err error) bool {
	return ClassOf(err).Retryable()
}
