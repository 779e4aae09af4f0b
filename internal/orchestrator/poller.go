package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Poller keeps the telemetry snapshot fresh and detects the server-side
// transition into the approval-required condition. It runs on its own fixed
// interval, independent of the driver loop's cadence. Any network or parse
// failure is logged and swallowed: a missed poll must never stop future
// polling.
type Poller struct {
	state    *State
	backend  Backend
	threadID string
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a poller over the shared state.
func NewPoller(state *State, backend Backend, threadID string, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		state:    state,
		backend:  backend,
		threadID: threadID,
		interval: interval,
		logger:   logger.With("component", "orchestrator.Poller"),
	}
}

// Run polls until ctx is cancelled. Blocking; callers run it in a goroutine.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick is one poll round: telemetry first, then the agent wait-state, the
// latter only while the gate is open.
func (p *Poller) tick(ctx context.Context) {
	points, err := p.backend.Telemetry(ctx)
	switch {
	case err != nil:
		p.logger.Warn("telemetry poll failed", "error", err)
	case len(points) == 0:
		// No update; keep the previous snapshot on screen.
	case ctx.Err() != nil:
		return
	default:
		p.state.ReplaceTelemetry(points)
	}

	// The gate is latched, not re-derived: once ACTION_REQUIRED is set the
	// poller stops asking until the dispatcher releases it.
	if p.state.Mode() == ModeActionRequired {
		return
	}

	st, err := p.backend.AgentState(ctx, p.threadID)
	if err != nil {
		p.logger.Warn("agent state poll failed", "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	if st.Status != StatusWaitingForApproval {
		return
	}

	// Latch no-ops if another tick won the race in the meantime.
	if p.state.Latch(ParseProposal(st.Proposal)) {
		p.logger.Info("agent waiting for approval",
			"thread_id", p.threadID,
			"tool", st.Tool,
		)
	}
}
