// Package orchestrator implements the client-side core of the paydeck
// console: a shared state container, a telemetry/wait-state poller, a
// self-rescheduling agent driver loop, and the decision dispatcher that
// resolves human approvals. The three loops are independently scheduled and
// interleave on the same state, so every cross-component write goes through
// a named transition on State rather than raw field assignment.
package orchestrator

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/paydeck/paydeck/internal/telemetry"
)

// Mode is the approval gate's state variable.
type Mode string

const (
	// ModeOnline means the driver loop is eligible to run and the poller
	// checks the agent's wait-state.
	ModeOnline Mode = "ONLINE"
	// ModeActionRequired means a proposal is parked at the gate: the
	// driver loop is dormant and the console renders the approval prompt
	// exclusively until a human decides.
	ModeActionRequired Mode = "ACTION_REQUIRED"
)

// Proposal is a structured description of an agent action awaiting human
// authorization. Fields carries the full decoded payload so forward-compatible
// extras survive for display.
type Proposal struct {
	ActionType   string
	TargetRegion string
	Fields       map[string]any
}

// ParseProposal decodes the backend's JSON-encoded proposal payload. A
// malformed or absent payload degrades to an empty-but-present proposal:
// the gate must still latch even when the payload cannot be read.
func ParseProposal(raw string) Proposal {
	p := Proposal{Fields: map[string]any{}}
	if raw == "" {
		return p
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil || fields == nil {
		return p
	}
	p.Fields = fields
	if v, ok := fields["action_type"].(string); ok {
		p.ActionType = v
	}
	if v, ok := fields["target_region"].(string); ok {
		p.TargetRegion = v
	}
	return p
}

// TraceEntry is one line of agent narrative. ID is a display identifier only;
// Timestamp is the client's wall-clock time of receipt, not server event time.
type TraceEntry struct {
	ID        string
	Timestamp time.Time
	Content   string
}

// State is the single mutable core shared by the poller, the driver loop and
// the dispatcher. All writes are expressed as transitions under one lock so
// the paired mode/proposal fields can never be observed half-updated.
//
// The telemetry snapshot is replaced wholesale and never edited in place,
// and trace entries are append-only and never mutated, so Snapshot can hand
// out slice headers without copying.
type State struct {
	mu        sync.Mutex
	mode      Mode
	pending   *Proposal
	telemetry []telemetry.Point
	trace     []TraceEntry
}

// NewState creates a session's state: online, empty telemetry, empty trace.
func NewState() *State {
	return &State{mode: ModeOnline}
}

// Mode returns the current gate mode.
func (s *State) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ReplaceTelemetry swaps the telemetry snapshot wholesale. Callers are
// expected to skip empty payloads so a transient empty poll does not blank
// the chart.
func (s *State) ReplaceTelemetry(points []telemetry.Point) {
	s.mu.Lock()
	s.telemetry = points
	s.mu.Unlock()
}

// Latch transitions ONLINE → ACTION_REQUIRED, storing the proposal. It is a
// one-way latch: once set, repeated poll results are no-ops until Release,
// and the stored proposal is never overwritten. Returns true when the
// transition happened.
func (s *State) Latch(p Proposal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeActionRequired {
		return false
	}
	s.mode = ModeActionRequired
	s.pending = &p
	return true
}

// Release transitions ACTION_REQUIRED → ONLINE, clearing the pending
// proposal atomically with the mode change. Returns true when the gate was
// actually latched.
func (s *State) Release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeActionRequired {
		return false
	}
	s.mode = ModeOnline
	s.pending = nil
	return true
}

// AppendTrace appends narrative lines in backend order, each stamped with
// the current wall-clock time and a fresh display identifier.
func (s *State) AppendTrace(lines []string) {
	if len(lines) == 0 {
		return
	}
	now := time.Now()
	s.mu.Lock()
	for _, line := range lines {
		s.trace = append(s.trace, TraceEntry{
			ID:        ulid.Make().String(),
			Timestamp: now,
			Content:   line,
		})
	}
	s.mu.Unlock()
}

// Snapshot is a consistent read of the whole state.
type Snapshot struct {
	Mode      Mode
	Proposal  *Proposal
	Telemetry []telemetry.Point
	Trace     []TraceEntry
}

// Snapshot returns a consistent copy of the state for rendering. The
// proposal is copied; the slices share backing arrays with the state (safe:
// replaced wholesale / append-only).
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Mode:      s.mode,
		Telemetry: s.telemetry,
		Trace:     s.trace,
	}
	if s.pending != nil {
		p := *s.pending
		snap.Proposal = &p
	}
	return snap
}
