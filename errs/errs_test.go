package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorFormattingIncludesKindAndCause(t *testing.T) {
	err := New(
		KindValidation,
		WithHTTP(400),
		WithEndpoint("/api/v2/createorder"),
		WithMessage("minimum order notional requirement not met"),
		WithRawBody(`{"error":{"code":"min_notional"}}`),
		WithRemediation("increase base_order_size or lower min_notional"),
		WithCause(errors.New("venue http 400")),
	)

	out := err.Error()
	if !strings.Contains(out, "kind=validation") {
		t.Fatalf("expected kind marker in error string: %s", out)
	}
	if !strings.Contains(out, "http=400") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	if !strings.Contains(out, "endpoint=/api/v2/createorder") {
		t.Fatalf("expected endpoint in error string: %s", out)
	}
	if !strings.Contains(out, `cause="venue http 400"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{New(KindAuth), KindAuth},
		{New(KindRateLimited), KindRateLimited},
		{New(KindTransient), KindTransient},
		{New(KindValidation), KindValidation},
		{New(KindConfig), KindConfig},
	}
	for _, tc := range cases {
		got, ok := KindOf(tc.err)
		if !ok || got != tc.want {
			t.Fatalf("KindOf(%v) = %q, %v; want %q", tc.err, got, ok, tc.want)
		}
	}
	if IsTransient(New(KindAuth)) {
		t.Fatal("auth error must not classify as transient")
	}
	if !IsAuth(fmt.Errorf("outer: %w", New(KindAuth))) {
		t.Fatal("predicates must unwrap nested envelopes")
	}
	if IsAuth(errors.New("plain")) {
		t.Fatal("plain errors carry no kind")
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := New(KindRateLimited, WithRetryAfter(1500*time.Millisecond))
	wait, ok := RetryAfterOf(err)
	if !ok || wait != 1500*time.Millisecond {
		t.Fatalf("RetryAfterOf = %v, %v; want 1.5s, true", wait, ok)
	}
	if _, ok := RetryAfterOf(New(KindRateLimited)); ok {
		t.Fatal("missing retry-after must not report a wait")
	}
}
