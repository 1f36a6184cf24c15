// Package stream maintains the venue websocket session: authentication,
// subscription replay across reconnects, and message dispatch.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/riptide-labs/riptide/internal/venue/auth"
)

const (
	defaultReconnectInitial = time.Second
	defaultReconnectMax     = 30 * time.Second
	defaultMaxFailures      = 10
	defaultReadLimit        = 2 * 1024 * 1024
	writeTimeout            = 5 * time.Second
)

// ErrReconnectExhausted is returned by Run after the configured number of
// consecutive failed connection attempts.
var ErrReconnectExhausted = errors.New("stream: reconnect attempts exhausted")

// Subscription channel methods understood by the venue.
const (
	MethodSubscribeOrderbook = "subscribeOrderbook"
	MethodSubscribeTrades    = "subscribeTrades"
	MethodSubscribeReports   = "subscribeReports"
	MethodSubscribeBalances  = "subscribeBalances"
)

// Push notification methods the venue emits on subscribed channels.
const (
	MethodOrderbook = "orderbook"
	MethodTrades    = "trades"
	MethodReport    = "report"
	MethodBalance   = "balance"
)

// Handler consumes the params payload of one push notification.
type Handler func(params json.RawMessage)

type frame struct {
	ID     int64          `json:"id,omitempty"`
	Method string         `json:"method,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

type envelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Options configures a stream Client.
type Options struct {
	URL string
	// Signer, when set, authenticates the session with a login frame before
	// subscriptions are replayed. Private channels require it.
	Signer *auth.Signer
	Logger *log.Logger

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// MaxFailures bounds consecutive failed connection attempts before Run
	// gives up with ErrReconnectExhausted. Zero means the default; negative
	// disables the bound.
	MaxFailures int
	ReadLimit   int64
}

// Client is a reconnecting websocket session. Handlers registered with On are
// dispatched by push method; recorded subscriptions are replayed after every
// reconnect, behind a fresh login when credentials are present.
type Client struct {
	url    string
	signer *auth.Signer
	logger *log.Logger

	reconnect   *reconnectPolicy
	maxFailures int
	readLimit   int64

	requestID atomic.Int64

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]frame
	handlers      map[string]Handler
}

// NewClient constructs a client; Run must be called to open the session.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	maxFailures := opts.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &Client{
		url:           opts.URL,
		signer:        opts.Signer,
		logger:        logger,
		reconnect:     newReconnectPolicy(opts.ReconnectInitial, opts.ReconnectMax),
		maxFailures:   maxFailures,
		readLimit:     readLimit,
		subscriptions: make(map[string]frame),
		handlers:      make(map[string]Handler),
	}
}

// On registers the handler for one push method, replacing any previous one.
// Registration must happen before Run.
func (c *Client) On(method string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = handler
}

// SubscribeOrderbook records an orderbook subscription for the symbol.
func (c *Client) SubscribeOrderbook(ctx context.Context, symbol string) error {
	return c.subscribe(ctx, MethodSubscribeOrderbook, map[string]any{"symbol": symbol})
}

// SubscribeTrades records a public trades subscription for the symbol.
func (c *Client) SubscribeTrades(ctx context.Context, symbol string) error {
	return c.subscribe(ctx, MethodSubscribeTrades, map[string]any{"symbol": symbol})
}

// SubscribeReports records the private order-report subscription.
func (c *Client) SubscribeReports(ctx context.Context) error {
	return c.subscribe(ctx, MethodSubscribeReports, nil)
}

// SubscribeBalances records the private balance subscription.
func (c *Client) SubscribeBalances(ctx context.Context) error {
	return c.subscribe(ctx, MethodSubscribeBalances, nil)
}

func (c *Client) subscribe(ctx context.Context, method string, params map[string]any) error {
	sub := frame{Method: method, Params: params}
	key := subscriptionKey(sub)

	c.mu.Lock()
	_, exists := c.subscriptions[key]
	c.subscriptions[key] = sub
	conn := c.conn
	c.mu.Unlock()

	if exists || conn == nil {
		return nil
	}
	return c.send(ctx, conn, sub)
}

// Run drives the session until ctx is cancelled or reconnection is exhausted.
// Every successful connection performs login (when credentials are present)
// and replays all recorded subscriptions before messages flow.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		established, err := c.session(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}
		if established {
			failures = 0
		}

		failures++
		if c.maxFailures > 0 && failures >= c.maxFailures {
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, err)
		}

		wait := c.reconnect.Next()
		c.logger.Printf("stream: session ended (%v), reconnecting in %s (failure %d)", err, wait, failures)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection to completion. established reports whether the
// connection made it through login and subscription replay before ending.
func (c *Client) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}
	conn.SetReadLimit(c.readLimit)

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if err := c.login(ctx, conn); err != nil {
		return false, err
	}
	if err := c.replaySubscriptions(ctx, conn); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Only a fully established session resets the backoff schedule.
	c.reconnect.Reset()

	return true, c.readLoop(ctx, conn)
}

func (c *Client) login(ctx context.Context, conn *websocket.Conn) error {
	if c.signer == nil {
		return nil
	}
	payload, err := c.signer.LoginPayload()
	if err != nil {
		return fmt.Errorf("build login payload: %w", err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}
	return c.write(ctx, conn, data)
}

func (c *Client) replaySubscriptions(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	subs := make([]frame, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subscriptionKey(subs[i]) < subscriptionKey(subs[j]) })
	for _, sub := range subs {
		if err := c.send(ctx, conn, sub); err != nil {
			return fmt.Errorf("replay %s: %w", sub.Method, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, conn *websocket.Conn, f frame) error {
	f.ID = c.requestID.Add(1)
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", f.Method, err)
	}
	return c.write(ctx, conn, data)
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound message. Handler panics are contained so one
// malformed payload cannot take down the session.
func (c *Client) dispatch(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return
	}
	var msg envelope
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Printf("stream: drop undecodable message: %v", err)
		return
	}
	if msg.Error != nil {
		c.logger.Printf("stream: venue error %d: %s", msg.Error.Code, msg.Error.Message)
		return
	}
	if msg.Method == "" {
		// Acknowledgement of one of our requests.
		return
	}

	c.mu.Lock()
	handler := c.handlers[msg.Method]
	c.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("stream: handler for %s panicked: %v", msg.Method, r)
		}
	}()
	handler(msg.Params)
}

func subscriptionKey(f frame) string {
	symbol, _ := f.Params["symbol"].(string)
	return f.Method + "|" + strings.ToUpper(strings.TrimSpace(symbol))
}

// reconnectPolicy yields the delay before each reconnect attempt. The schedule
// is deterministic (no jitter) so operators can predict recovery behavior:
// each delay doubles from the initial value up to the cap, and a successful
// session starts the schedule over.
type reconnectPolicy struct {
	policy *backoff.ExponentialBackOff
}

func newReconnectPolicy(initial, maxInterval time.Duration) *reconnectPolicy {
	if initial <= 0 {
		initial = defaultReconnectInitial
	}
	if maxInterval <= 0 {
		maxInterval = defaultReconnectMax
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = maxInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.Reset()
	return &reconnectPolicy{policy: policy}
}

func (r *reconnectPolicy) Next() time.Duration {
	next := r.policy.NextBackOff()
	if next == backoff.Stop {
		next = r.policy.MaxInterval
	}
	return next
}

func (r *reconnectPolicy) Reset() {
	r.policy.Reset()
}
