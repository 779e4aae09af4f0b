package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paydeck/paydeck/internal/telemetry"
)

// Options configures an Orchestrator. Zero values fall back to the reference
// cadences: 1s polling, 2s between agent cycles.
type Options struct {
	ThreadID     string
	PollInterval time.Duration
	CycleDelay   time.Duration
	Logger       *slog.Logger
}

// Orchestrator owns one session's core: the shared state, the poller, the
// driver loop and the dispatcher, all bound to a single lifetime context.
// It is the only type the rendering surface talks to.
type Orchestrator struct {
	state      *State
	poller     *Poller
	driver     *Driver
	dispatcher *Dispatcher
	calc       telemetry.Calculator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New wires an orchestrator over the given backend. Nothing runs until Start.
func New(backend Backend, opts Options) *Orchestrator {
	if opts.ThreadID == "" {
		opts.ThreadID = "demo_session_1"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.CycleDelay <= 0 {
		opts.CycleDelay = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		state:  NewState(),
		ctx:    ctx,
		cancel: cancel,
	}
	o.poller = NewPoller(o.state, backend, opts.ThreadID, opts.PollInterval, logger)
	o.driver = NewDriver(o.state, backend, opts.ThreadID, opts.CycleDelay, logger)
	o.dispatcher = NewDispatcher(o.state, backend, opts.ThreadID, func() {
		// A successful release re-opens the gate; spawn exactly one
		// fresh driver loop.
		o.driver.Resume(o.ctx)
	}, logger)

	return o
}

// Start launches the poller and the first driver loop. Idempotent.
func (o *Orchestrator) Start() {
	o.startOnce.Do(func() {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.poller.Run(o.ctx)
		}()
		o.driver.Resume(o.ctx)
	})
}

// Close tears the session down: all pending timers are cancelled and any
// in-flight request that completes afterwards finds a dead context and
// leaves state untouched. Idempotent.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.cancel()
		o.driver.Stop()
		o.wg.Wait()
	})
}

// Snapshot returns a consistent view of the session state for rendering.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.state.Snapshot()
}

// Summary returns the derived telemetry metrics, memoized on snapshot
// identity so rendering ticks do not recompute unchanged data.
func (o *Orchestrator) Summary() telemetry.Summary {
	return o.calc.Summary(o.state.Snapshot().Telemetry)
}

// Decide forwards a human approve/reject decision to the dispatcher.
func (o *Orchestrator) Decide(approved bool) error {
	return o.dispatcher.Decide(o.ctx, approved)
}

// DecisionInFlight reports whether a decision round-trip is outstanding, so
// the console can disable double-submission.
func (o *Orchestrator) DecisionInFlight() bool {
	return o.dispatcher.InFlight()
}
