package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/riptide-labs/riptide/errs"
)

const (
	defaultPollInterval = 10 * time.Second
	shutdownGrace       = 10 * time.Second
)

// StreamSource is the push feed the runner supervises next to the poll loop.
// The stream client satisfies it.
type StreamSource interface {
	Run(ctx context.Context) error
}

// RunnerOptions configures the poll cadence and optional stream feed.
type RunnerOptions struct {
	PollInterval time.Duration
	Stream       StreamSource
	Logger       *log.Logger
}

// Runner drives an engine: it seeds the ladder, keeps the poll loop going as
// the source of truth, and supervises the stream feed when one is configured.
// Poll failures back off exponentially and recover; auth failures stop the run.
type Runner struct {
	engine       *Engine
	stream       StreamSource
	logger       *log.Logger
	pollInterval time.Duration
}

// NewRunner wires a runner around the engine.
func NewRunner(engine *Engine, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Runner{
		engine:       engine,
		stream:       opts.Stream,
		logger:       logger,
		pollInterval: interval,
	}
}

// Run blocks until ctx is cancelled or a fatal error occurs. On the way out
// it resolves in-flight orders once more and writes the final snapshot.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.engine.SeedLadder(ctx); err != nil {
		r.engine.Stop(context.WithoutCancel(ctx), err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamErr := make(chan error, 1)
	var lifecycle conc.WaitGroup
	if r.stream != nil {
		lifecycle.Go(func() {
			if err := r.stream.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				streamErr <- err
				cancel()
			}
		})
	}

	runErr := r.pollLoop(runCtx)
	cancel()
	lifecycle.Wait()

	select {
	case err := <-streamErr:
		// The stream giving up outranks the poll loop's cancellation error.
		if runErr == nil || errors.Is(runErr, context.Canceled) {
			runErr = err
		}
	default:
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// The parent context is likely cancelled; finish shutdown on a fresh one.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer finishCancel()

	if err := r.engine.SyncOrders(finishCtx); err != nil {
		r.logger.Printf("final order sync: %v", err)
	}
	r.engine.Stop(finishCtx, runErr)
	return runErr
}

func (r *Runner) pollLoop(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.pollInterval
	policy.MaxInterval = 4 * r.pollInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0.2

	wait := r.pollInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		if err := r.poll(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			if errs.IsAuth(err) || errs.IsConfig(err) {
				return err
			}
			wait = policy.NextBackOff()
			r.logger.Printf("poll failed (next in %s): %v", wait, err)
			continue
		}
		policy.Reset()
		wait = r.pollInterval
	}
}

func (r *Runner) poll(ctx context.Context) error {
	if err := r.engine.SyncOrders(ctx); err != nil {
		return err
	}
	if err := r.engine.ReconcileBalances(ctx); err != nil {
		return err
	}
	return r.engine.ReplenishLevels(ctx)
}
