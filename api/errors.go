package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrInvalidBaseURL is returned by New when the configured base URL cannot
// be used. This is a fatal configuration error, not a per-request failure.
var ErrInvalidBaseURL = errors.New("api: invalid base URL")

// ErrorKind is the stable failure category used to decide retryability and
// user messaging.
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindAuth       ErrorKind = "auth"
	KindForbidden  ErrorKind = "forbidden"
	KindNotFound   ErrorKind = "notFound"
	KindValidation ErrorKind = "validation"
	KindRateLimit  ErrorKind = "rateLimit"
	KindServer     ErrorKind = "server"
	KindUnknown    ErrorKind = "unknown"
)

// Error is a classified content-API failure. Retryable is computed once at
// construction from Kind and HTTPStatus and never mutated afterwards.
type Error struct {
	Kind       ErrorKind
	HTTPStatus int
	Retryable  bool
	Endpoint   string
	Method     string
	Attempt    int
	RequestID  string
	Timestamp  time.Time
	cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("api: %s %s failed (%s)", e.Method, e.Endpoint, e.Kind)
	if e.HTTPStatus > 0 {
		msg = fmt.Sprintf("%s status=%d", msg, e.HTTPStatus)
	}
	if e.cause != nil {
		msg = msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// errorContext carries per-request identifiers into classified errors.
type errorContext struct {
	endpoint  string
	method    string
	attempt   int
	requestID string
}

// newError constructs a classified error. Network, timeout, and rate-limit
// failures plus 5xx statuses are retryable; other client errors are not.
// Caller-aborted requests are never retryable no matter how they classify.
func newError(kind ErrorKind, status int, cause error, ec errorContext) *Error {
	retryable := false
	switch kind {
	case KindNetwork, KindTimeout, KindRateLimit, KindServer:
		retryable = true
	}
	if cause != nil && errors.Is(cause, context.Canceled) {
		retryable = false
	}
	return &Error{
		Kind:       kind,
		HTTPStatus: status,
		Retryable:  retryable,
		Endpoint:   ec.endpoint,
		Method:     ec.method,
		Attempt:    ec.attempt,
		RequestID:  ec.requestID,
		Timestamp:  time.Now(),
		cause:      cause,
	}
}

// classifyStatus maps a non-2xx HTTP status onto the error taxonomy.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindForbidden
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindValidation
	default:
		return KindUnknown
	}
}

// classify wraps an arbitrary transport failure into a classified error.
// Context expiry classifies as a timeout; everything else without an HTTP
// status is a network failure.
func classify(err error, ec errorContext) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(KindTimeout, 0, err, ec)
	}
	return newError(KindNetwork, 0, err, ec)
}

// IsRetryable reports whether err is a classified error marked retryable.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return false
}

// KindOf returns the classification of err, or KindUnknown for errors that
// did not come from this package.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}
