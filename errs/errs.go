// Package errs provides structured error types shared across the riptide stack.
package errs

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Kind identifies an error category with a fixed handling policy.
type Kind string

const (
	// KindAuth indicates broken credentials or signing; fatal, never retried.
	KindAuth Kind = "auth"
	// KindRateLimited indicates the venue throttled the request; recoverable after a pause.
	KindRateLimited Kind = "rate_limited"
	// KindTransient indicates a network or venue-side failure that may succeed on retry.
	KindTransient Kind = "transient"
	// KindValidation indicates the venue rejected this specific request; fatal for the request only.
	KindValidation Kind = "validation"
	// KindConfig indicates invalid configuration detected at startup; the process must not run.
	KindConfig Kind = "config"
)

// E captures structured error information produced across the riptide stack.
type E struct {
	Kind        Kind
	HTTP        int
	Endpoint    string
	Message     string
	Remediation string
	RetryAfter  time.Duration
	RawBody     string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithRemediation attaches remediation guidance to the error.
func WithRemediation(remediation string) Option {
	trimmed := strings.TrimSpace(remediation)
	return func(e *E) {
		e.Remediation = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithEndpoint records the request path the error originated from.
func WithEndpoint(endpoint string) Option {
	trimmed := strings.TrimSpace(endpoint)
	return func(e *E) {
		e.Endpoint = trimmed
	}
}

// WithRetryAfter records the venue-provided wait before the next attempt.
func WithRetryAfter(d time.Duration) Option {
	return func(e *E) {
		if d > 0 {
			e.RetryAfter = d
		}
	}
}

// WithRawBody captures the raw venue response body.
func WithRawBody(body string) Option {
	return func(e *E) {
		e.RawBody = strings.TrimSpace(body)
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Endpoint != "" {
		parts = append(parts, "endpoint="+e.Endpoint)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RetryAfter > 0 {
		parts = append(parts, "retry_after="+e.RetryAfter.String())
	}
	if e.Remediation != "" {
		parts = append(parts, "remediation="+strconv.Quote(e.Remediation))
	}
	if e.RawBody != "" {
		parts = append(parts, "raw_body="+strconv.Quote(e.RawBody))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// KindOf returns the kind of err when it carries an *E envelope.
func KindOf(err error) (Kind, bool) {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Kind, true
	}
	return "", false
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool { return is(err, KindAuth) }

// IsRateLimited reports whether err is a venue throttle response.
func IsRateLimited(err error) bool { return is(err, KindRateLimited) }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool { return is(err, KindTransient) }

// IsValidation reports whether err is a per-request rejection.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsConfig reports whether err is a startup configuration failure.
func IsConfig(err error) bool { return is(err, KindConfig) }

// RetryAfterOf extracts the venue-provided wait from a rate-limit error.
func RetryAfterOf(err error) (time.Duration, bool) {
	var envelope *E
	if errors.As(err, &envelope) && envelope.RetryAfter > 0 {
		return envelope.RetryAfter, true
	}
	return 0, false
}

func is(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}
