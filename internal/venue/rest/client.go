// Package rest implements the signed HTTP client for the venue's trading API.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/riptide-labs/riptide/errs"
	"github.com/riptide-labs/riptide/internal/venue/auth"
	"github.com/riptide-labs/riptide/internal/venue/ratelimit"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 4
	maxErrorBodyBytes = 4 << 10
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Logger     *log.Logger
	MaxRetries int

	// RetryInitial and RetryMax bound the exponential backoff between
	// attempts on transient failures.
	RetryInitial time.Duration
	RetryMax     time.Duration
}

// Client issues signed requests against the venue REST API. Every endpoint,
// current and legacy, goes through the same do path so retry behavior and
// error classification stay uniform.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *auth.Signer
	limiter    *ratelimit.Limiter
	logger     *log.Logger
	maxRetries int

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewClient constructs a client around the given signer.
func NewClient(signer *auth.Signer, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	retryInitial := opts.RetryInitial
	if retryInitial <= 0 {
		retryInitial = 250 * time.Millisecond
	}
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = 5 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   httpClient,
		signer:       signer,
		limiter:      opts.Limiter,
		logger:       logger,
		maxRetries:   maxRetries,
		retryInitial: retryInitial,
		retryMax:     retryMax,
	}
}

// do performs one signed call with retries. The request is re-signed on every
// attempt so each retry carries a fresh nonce. Only transient and rate-limit
// failures are retried; auth and validation failures surface immediately.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body map[string]any) ([]byte, error) {
	payload, err := auth.CanonicalBody(body)
	if err != nil {
		return nil, errs.New(errs.KindValidation,
			errs.WithEndpoint(path),
			errs.WithMessage("encode request body"),
			errs.WithCause(err))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInitial
	policy.MaxInterval = c.retryMax
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := policy.NextBackOff()
			if ra, ok := errs.RetryAfterOf(lastErr); ok && ra > wait {
				wait = ra
			}
			c.logger.Printf("retrying %s %s in %s (attempt %d/%d): %v", method, path, wait, attempt, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		// Every attempt takes a token, so a burst of retries stays inside
		// the venue's request budget.
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("acquire rate limit token: %w", err)
		}

		out, err := c.attempt(ctx, method, path, query, payload)
		if err == nil {
			return out, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	absURL := c.baseURL + path
	signed := c.signer.SignRequest(method, absURL, query, payload)

	requestURL := absURL
	if strings.EqualFold(method, http.MethodGet) && len(query) > 0 {
		requestURL = absURL + "?" + query.Encode()
	}

	var reqBody io.Reader
	if !strings.EqualFold(method, http.MethodGet) && len(payload) > 0 {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), requestURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for name, values := range signed.Headers {
		for _, v := range values {
			req.Header.Set(name, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, classifyStatus(path, resp, strings.TrimSpace(string(raw)))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindTransient,
			errs.WithEndpoint(path),
			errs.WithMessage("read response body"),
			errs.WithCause(err))
	}
	return out, nil
}

func retryable(err error) bool {
	return errs.IsTransient(err) || errs.IsRateLimited(err)
}

// classifyTransportError maps connection-level failures. Timeouts, resets and
// truncated responses are transient; a cancelled context is returned as-is so
// callers can distinguish shutdown from venue trouble.
func classifyTransportError(path string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.New(errs.KindTransient,
			errs.WithEndpoint(path),
			errs.WithMessage("request timed out"),
			errs.WithCause(err))
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.New(errs.KindTransient,
			errs.WithEndpoint(path),
			errs.WithMessage("connection closed mid-response"),
			errs.WithCause(err))
	}
	return errs.New(errs.KindTransient,
		errs.WithEndpoint(path),
		errs.WithMessage("transport failure"),
		errs.WithCause(err))
}

func classifyStatus(path string, resp *http.Response, rawBody string) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.New(errs.KindAuth,
			errs.WithHTTP(resp.StatusCode),
			errs.WithEndpoint(path),
			errs.WithMessage("request rejected by venue authentication"),
			errs.WithRemediation("verify the API key and secret, and check that the key has trading permission"),
			errs.WithRawBody(rawBody))
	case resp.StatusCode == http.StatusTooManyRequests:
		opts := []errs.Option{
			errs.WithHTTP(resp.StatusCode),
			errs.WithEndpoint(path),
			errs.WithMessage("venue rate limit exceeded"),
			errs.WithRawBody(rawBody),
		}
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			opts = append(opts, errs.WithRetryAfter(ra))
		}
		return errs.New(errs.KindRateLimited, opts...)
	case resp.StatusCode >= http.StatusInternalServerError:
		return errs.New(errs.KindTransient,
			errs.WithHTTP(resp.StatusCode),
			errs.WithEndpoint(path),
			errs.WithMessage("venue server error"),
			errs.WithRawBody(rawBody))
	default:
		opts := []errs.Option{
			errs.WithHTTP(resp.StatusCode),
			errs.WithEndpoint(path),
			errs.WithMessage("venue rejected the request"),
			errs.WithRawBody(rawBody),
		}
		if looksLikeMinNotional(rawBody) {
			opts = append(opts, errs.WithRemediation("increase order size: the venue reported the order value is below its minimum"))
		}
		return errs.New(errs.KindValidation, opts...)
	}
}

func looksLikeMinNotional(body string) bool {
	lowered := strings.ToLower(body)
	return strings.Contains(lowered, "minimum") &&
		(strings.Contains(lowered, "notional") || strings.Contains(lowered, "order value") || strings.Contains(lowered, "amount"))
}

func parseRetryAfter(header string) time.Duration {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return 0
	}
	if secs, err := strconv.Atoi(trimmed); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(trimmed); err == nil {
		if until := time.Until(at); until > 0 {
			return until
		}
	}
	return 0
}

// unwrapEnvelope tolerates both bare payloads and {"data": ...} / {"result": ...}
// wrappers; the venue is inconsistent across API versions.
func unwrapEnvelope(raw []byte) []byte {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return raw
	}
	if len(envelope.Data) > 0 && !bytes.Equal(envelope.Data, []byte("null")) {
		return envelope.Data
	}
	if len(envelope.Result) > 0 && !bytes.Equal(envelope.Result, []byte("null")) {
		return envelope.Result
	}
	return raw
}
