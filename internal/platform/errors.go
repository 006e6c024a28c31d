package platform

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies platform failures
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuth means the credential was refused. Not retryable.
	KindAuth
	// KindRejected means the platform refused the request as invalid. Not retryable.
	KindRejected
	// KindRateLimited means the platform asked us to slow down. Retryable.
	KindRateLimited
	// KindTransient covers network failures, timeouts and 5xx. Retryable.
	KindTransient
	// KindNotFound means the resource does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth_error"
	case KindRejected:
		return "platform_rejected"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient_network_error"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is returned by every Client operation that fails
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	// RetryAfter is the delay suggested by the platform, if any
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("platform %s: %s (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("platform %s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindUnknown if err is not a platform error
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth retrying later
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransient:
		return true
	}
	return false
}

// RetryAfter returns the platform's suggested delay carried by err
func RetryAfter(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}
