package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Driver is the self-rescheduling loop that advances the remote agent one
// cycle at a time. While the gate is latched the loop goes dormant and stays
// dormant until Resume spawns a fresh one.
//
// Each spawned loop carries a generation token. Only the current generation
// may append results or reschedule, which rules out the classic duplicate-loop
// bug where a stale scheduled callback races a fresh one after the gate
// reopens.
type Driver struct {
	state    *State
	backend  Backend
	threadID string
	delay    time.Duration
	logger   *slog.Logger

	mu  sync.Mutex
	gen uint64
}

// NewDriver creates a driver over the shared state.
func NewDriver(state *State, backend Backend, threadID string, delay time.Duration, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		state:    state,
		backend:  backend,
		threadID: threadID,
		delay:    delay,
		logger:   logger.With("component", "orchestrator.Driver"),
	}
}

// Resume invalidates any dormant or in-flight loop and spawns exactly one
// fresh one. Called once at startup and once per gate release.
func (d *Driver) Resume(ctx context.Context) {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	go d.loop(ctx, gen)
}

// Stop invalidates the current loop without spawning a new one. The shared
// context is cancelled separately on teardown; Stop exists so tests can
// retire a loop in isolation.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.gen++
	d.mu.Unlock()
}

func (d *Driver) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gen == d.gen
}

func (d *Driver) loop(ctx context.Context, gen uint64) {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		// Eligibility is re-checked before every request: the gate may
		// have flipped while we slept.
		if ctx.Err() != nil || !d.current(gen) {
			return
		}
		if d.state.Mode() != ModeOnline {
			d.logger.Debug("gate latched before cycle, going dormant")
			return
		}

		lines, err := d.backend.RunCycle(ctx, d.threadID)

		// Liveness check before applying the result: teardown or a
		// newer generation means this response is dropped on the floor.
		if ctx.Err() != nil || !d.current(gen) {
			return
		}

		if err != nil {
			// Transient: log, skip the append, still reschedule.
			d.logger.Warn("cycle request failed", "error", err)
		} else {
			d.state.AppendTrace(lines)
		}

		// The gate may have flipped while the request was in flight; a
		// dormant loop does not reschedule itself.
		if d.state.Mode() != ModeOnline {
			d.logger.Debug("gate latched during cycle, going dormant")
			return
		}

		timer.Reset(d.delay)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}
