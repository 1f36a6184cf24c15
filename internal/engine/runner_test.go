package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/riptide-labs/riptide/errs"
	"github.com/riptide-labs/riptide/internal/schema"
)

type failingVenue struct {
	*fakeVenue
	openErr error
}

func (f *failingVenue) OpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.fakeVenue.OpenOrders(ctx, symbol)
}

type stubStream struct {
	err error
}

func (s *stubStream) Run(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerSeedsPollsAndWritesFinalSnapshot(t *testing.T) {
	venue := newFakeVenue("90000")
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "state.json"))
	engine, err := NewEngine(ladderConfig(), venue, NewBalanceTracker(), store, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	runner := NewRunner(engine, RunnerOptions{PollInterval: 5 * time.Millisecond, Stream: &stubStream{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}

	final, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if final == nil || final.IsRunning {
		t.Fatalf("final snapshot = %+v, want is_running=false", final)
	}
	if final.LastError != "" {
		t.Fatalf("clean shutdown must not record an error: %q", final.LastError)
	}
	if len(final.OpenOrders) != 9 {
		t.Fatalf("final snapshot tracks %d orders, want 9", len(final.OpenOrders))
	}
}

func TestRunnerStopsOnAuthFailure(t *testing.T) {
	venue := &failingVenue{
		fakeVenue: newFakeVenue("90000"),
		openErr: errs.New(errs.KindAuth,
			errs.WithMessage("api key revoked"),
			errs.WithRemediation("rotate the key")),
	}
	store := NewSnapshotStore(filepath.Join(t.TempDir(), "state.json"))
	engine, err := NewEngine(ladderConfig(), venue, NewBalanceTracker(), store, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	runner := NewRunner(engine, RunnerOptions{PollInterval: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := runner.Run(ctx)
	if !errs.IsAuth(runErr) {
		t.Fatalf("Run = %v, want auth error", runErr)
	}

	final, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if final.IsRunning || final.LastError == "" {
		t.Fatalf("final snapshot = %+v, want stopped with last_error", final)
	}
}

func TestRunnerStopsWhenStreamGivesUp(t *testing.T) {
	venue := newFakeVenue("90000")
	engine, err := NewEngine(ladderConfig(), venue, NewBalanceTracker(), nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	streamFailure := errors.New("stream: reconnect attempts exhausted")
	runner := NewRunner(engine, RunnerOptions{
		PollInterval: time.Hour, // the stream failure must end the run, not the poll
		Stream:       &stubStream{err: streamFailure},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if got := runner.Run(ctx); !errors.Is(got, streamFailure) {
		t.Fatalf("Run = %v, want stream failure", got)
	}
}
