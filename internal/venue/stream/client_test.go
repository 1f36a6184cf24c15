package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/riptide-labs/riptide/internal/venue/auth"
)

func TestReconnectScheduleIsDeterministic(t *testing.T) {
	policy := newReconnectPolicy(100*time.Millisecond, 800*time.Millisecond)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, expected := range want {
		if got := policy.Next(); got != expected {
			t.Fatalf("delay %d = %s, want %s", i, got, expected)
		}
	}

	policy.Reset()
	if got := policy.Next(); got != 100*time.Millisecond {
		t.Fatalf("delay after reset = %s, want 100ms", got)
	}
}

func TestDispatchRecoversFromHandlerPanic(t *testing.T) {
	c := NewClient(Options{URL: "ws://unused"})
	called := 0
	c.On(MethodReport, func(params json.RawMessage) {
		called++
		panic("boom")
	})

	c.dispatch([]byte(`{"method":"report","params":{"id":"o-1"}}`))
	c.dispatch([]byte(`{"method":"report","params":{"id":"o-2"}}`))
	if called != 2 {
		t.Fatalf("handler called %d times, want 2 (panic must not disable dispatch)", called)
	}
}

func TestDispatchIgnoresAcksAndErrors(t *testing.T) {
	c := NewClient(Options{URL: "ws://unused"})
	c.On(MethodReport, func(params json.RawMessage) {
		t.Error("no push handler should fire")
	})

	c.dispatch([]byte(`{"id":1,"result":true}`))
	c.dispatch([]byte(`{"id":2,"error":{"code":1002,"message":"auth required"}}`))
	c.dispatch([]byte(`not json`))
	c.dispatch([]byte(`{"method":"trades","params":{}}`))
}

func TestRunStopsAfterMaxFailures(t *testing.T) {
	c := NewClient(Options{
		URL:              "ws://127.0.0.1:1", // nothing listens here
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     2 * time.Millisecond,
		MaxFailures:      3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Run = %v, want ErrReconnectExhausted", err)
	}
}

// recordingServer accepts websocket connections, records the frames each
// connection sends, and closes the connection once it has seen expectFrames.
type recordingServer struct {
	t            *testing.T
	expectFrames int
	push         []byte

	mu          sync.Mutex
	connections [][]string
	done        chan struct{}
	wantConns   int
}

func newRecordingServer(t *testing.T, expectFrames, wantConns int, push []byte) (*recordingServer, *httptest.Server) {
	t.Helper()
	rs := &recordingServer{
		t:            t,
		expectFrames: expectFrames,
		push:         push,
		done:         make(chan struct{}),
		wantConns:    wantConns,
	}
	server := httptest.NewServer(http.HandlerFunc(rs.handle))
	t.Cleanup(server.Close)
	return rs, server
}

func (rs *recordingServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		rs.t.Errorf("accept: %v", err)
		return
	}
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var methods []string
	for len(methods) < rs.expectFrames {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rs.t.Errorf("server read: %v", err)
			return
		}
		var f struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(data, &f); err != nil {
			rs.t.Errorf("server decode: %v", err)
			return
		}
		methods = append(methods, f.Method)
	}

	if len(rs.push) > 0 {
		if err := conn.Write(ctx, websocket.MessageText, rs.push); err != nil {
			rs.t.Errorf("server push: %v", err)
			return
		}
	}

	rs.mu.Lock()
	rs.connections = append(rs.connections, methods)
	if len(rs.connections) == rs.wantConns {
		close(rs.done)
	}
	rs.mu.Unlock()
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSessionLoginThenSubscriptionsThenDispatch(t *testing.T) {
	push := []byte(`{"method":"report","params":{"id":"o-9","status":"Filled"}}`)
	rs, server := newRecordingServer(t, 3, 1, push)

	signer := auth.NewSigner(auth.Credentials{Key: "k", Secret: "s"}, auth.NewNonceSource(1), false)
	c := NewClient(Options{
		URL:              wsURL(server),
		Signer:           signer,
		ReconnectInitial: time.Millisecond,
		MaxFailures:      -1,
	})

	reports := make(chan string, 1)
	c.On(MethodReport, func(params json.RawMessage) {
		var report struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(params, &report); err != nil {
			t.Errorf("decode report: %v", err)
			return
		}
		reports <- report.ID
	})

	if err := c.SubscribeOrderbook(context.Background(), "BTC_USDT"); err != nil {
		t.Fatalf("SubscribeOrderbook: %v", err)
	}
	if err := c.SubscribeReports(context.Background()); err != nil {
		t.Fatalf("SubscribeReports: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	select {
	case id := <-reports:
		if id != "o-9" {
			t.Fatalf("report id = %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for report dispatch")
	}
	cancel()
	<-runDone

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.connections) != 1 {
		t.Fatalf("connections = %d", len(rs.connections))
	}
	got := rs.connections[0]
	want := []string{"login", MethodSubscribeOrderbook, MethodSubscribeReports}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame order = %v, want %v", got, want)
		}
	}
}

func TestSubscriptionsReplayAfterReconnect(t *testing.T) {
	rs, server := newRecordingServer(t, 2, 2, nil)

	c := NewClient(Options{
		URL:              wsURL(server),
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     2 * time.Millisecond,
		MaxFailures:      -1,
	})
	if err := c.SubscribeOrderbook(context.Background(), "BTC_USDT"); err != nil {
		t.Fatalf("SubscribeOrderbook: %v", err)
	}
	if err := c.SubscribeTrades(context.Background(), "BTC_USDT"); err != nil {
		t.Fatalf("SubscribeTrades: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	select {
	case <-rs.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for second connection")
	}
	cancel()
	<-runDone

	rs.mu.Lock()
	defer rs.mu.Unlock()
	for i, methods := range rs.connections {
		want := []string{MethodSubscribeOrderbook, MethodSubscribeTrades}
		if len(methods) != len(want) {
			t.Fatalf("connection %d frames = %v", i, methods)
		}
		for j := range want {
			if methods[j] != want[j] {
				t.Fatalf("connection %d frame order = %v, want %v", i, methods, want)
			}
		}
	}
}

func TestDuplicateSubscriptionIsRecordedOnce(t *testing.T) {
	c := NewClient(Options{URL: "ws://unused"})
	_ = c.SubscribeOrderbook(context.Background(), "BTC_USDT")
	_ = c.SubscribeOrderbook(context.Background(), "BTC_USDT")
	_ = c.SubscribeTrades(context.Background(), "BTC_USDT")

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) != 2 {
		t.Fatalf("subscriptions = %d, want 2", len(c.subscriptions))
	}
}
