package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher resolves exactly one pending proposal per invocation.
var (
	// ErrDecisionInFlight is returned while a previous decision round-trip
	// has not settled; the console disables further input until then.
	ErrDecisionInFlight = errors.New("a decision is already in flight")

	// ErrNoPendingProposal is returned when the gate is not latched.
	ErrNoPendingProposal = errors.New("no proposal is awaiting a decision")
)

// Dispatcher submits a human approve/reject decision to the backend and,
// on success, appends the returned narrative and releases the gate. On
// failure the gate stays latched so the human can retry the same decision.
type Dispatcher struct {
	state    *State
	backend  Backend
	threadID string
	logger   *slog.Logger

	// onRelease restarts the driver loop after a successful round-trip.
	onRelease func()

	mu       sync.Mutex
	inFlight bool
}

// NewDispatcher creates a dispatcher over the shared state. onRelease is
// invoked after each successful gate release (may be nil).
func NewDispatcher(state *State, backend Backend, threadID string, onRelease func(), logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		state:     state,
		backend:   backend,
		threadID:  threadID,
		onRelease: onRelease,
		logger:    logger.With("component", "orchestrator.Dispatcher"),
	}
}

// InFlight reports whether a decision round-trip is outstanding.
func (d *Dispatcher) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inFlight
}

// Decide submits the decision for the outstanding proposal. Only one
// decision may be in flight at a time; concurrent calls get
// ErrDecisionInFlight. A backend failure leaves the gate latched and is
// returned for the console to surface as retryable.
func (d *Dispatcher) Decide(ctx context.Context, approved bool) error {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		return ErrDecisionInFlight
	}
	d.inFlight = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	if d.state.Mode() != ModeActionRequired {
		return ErrNoPendingProposal
	}

	lines, err := d.backend.Decide(ctx, d.threadID, approved)

	// Teardown while the request was in flight: the session is gone, do
	// not touch state.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		d.logger.Warn("decision submission failed, gate stays latched",
			"approved", approved,
			"error", err,
		)
		return fmt.Errorf("failed to submit decision: %w", err)
	}

	d.state.AppendTrace(lines)
	d.state.Release()
	d.logger.Info("decision resolved", "approved", approved, "thread_id", d.threadID)

	if d.onRelease != nil {
		d.onRelease()
	}
	return nil
}
