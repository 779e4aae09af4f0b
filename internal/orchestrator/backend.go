package orchestrator

import (
	"context"

	"github.com/paydeck/paydeck/internal/telemetry"
)

// StatusWaitingForApproval is the only agent wait-state value the gate acts
// on; every other status is treated as "not waiting".
const StatusWaitingForApproval = "WAITING_FOR_APPROVAL"

// AgentState is the backend's report of where the remote agent is paused.
// Proposal is a JSON-encoded payload, present only while waiting.
type AgentState struct {
	Status   string `json:"status"`
	Proposal string `json:"proposal,omitempty"`
	Tool     string `json:"tool,omitempty"`
}

// Backend is the remote collaborator driven by the orchestration core. All
// four calls are snapshot-idempotent from the core's perspective: re-polling
// or re-driving after a missed response is always safe.
type Backend interface {
	// Telemetry fetches the current transaction sample set. An empty
	// result means "no update", not "no data".
	Telemetry(ctx context.Context) ([]telemetry.Point, error)

	// AgentState reports whether the agent is blocked awaiting approval.
	AgentState(ctx context.Context, threadID string) (AgentState, error)

	// RunCycle advances the remote agent by one execution cycle and
	// returns the narrative it produced.
	RunCycle(ctx context.Context, threadID string) ([]string, error)

	// Decide submits a human approve/reject decision for the outstanding
	// proposal and returns the resulting narrative.
	Decide(ctx context.Context, threadID string, approved bool) ([]string, error)
}
