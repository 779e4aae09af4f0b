// Package agent is the scripted payment-ops agent behind the reference
// backend. Each cycle runs the observe → reason → decide pipeline over the
// live transactions log; remediations either execute immediately or park at
// the sentry for human approval, depending on the risk rules.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/paydeck/paydeck/internal/alert"
	"github.com/paydeck/paydeck/internal/config"
	"github.com/paydeck/paydeck/internal/history"
	"github.com/paydeck/paydeck/internal/policy"
	"github.com/paydeck/paydeck/internal/telemetry"
)

// Remediation kinds the decider can propose.
const (
	ActionReroute = "REROUTE"
	ActionBlock   = "BLOCK_IP_RANGE"
)

// Tool names reported alongside a parked proposal.
const (
	ToolUpdateRouting   = "update_routing"
	ToolFraudMitigation = "fraud_mitigation"
)

// Decider thresholds: how much smoke constitutes a fire.
const (
	spamThreshold    = 10
	clusterThreshold = 5
)

// ErrNoPendingAction is returned when a decision arrives with nothing parked.
var ErrNoPendingAction = errors.New("no action is awaiting a decision")

// WaitState is what /agent_state reports for a thread.
type WaitState struct {
	Waiting  bool
	Proposal string // JSON-encoded action arguments
	Tool     string
}

// pendingAction is a remediation parked at the sentry.
type pendingAction struct {
	Tool       string
	ActionType string
	Region     string
	Gateway    string // reroute target, empty for blocks
	Raw        string // JSON payload handed to the console
}

type threadState struct {
	pending *pendingAction
}

// Engine runs the agent pipeline for one or more threads. All thread state
// lives behind one lock; cycles for the same backend are short and file-bound,
// so contention is not a concern.
type Engine struct {
	cfg    config.AgentConfig
	tools  *Toolbox
	rules  *policy.Engine
	store  history.Store  // optional
	alerts *alert.Manager // optional
	logger *slog.Logger

	mu      sync.Mutex
	threads map[string]*threadState
}

// NewEngine creates an agent engine. store and alerts may be nil.
func NewEngine(cfg config.AgentConfig, rules *policy.Engine, store history.Store, alerts *alert.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:     cfg,
		tools:   NewToolbox(cfg.RoutingConfig, cfg.SecurityPolicy),
		rules:   rules,
		store:   store,
		alerts:  alerts,
		logger:  logger.With("component", "agent.Engine"),
		threads: make(map[string]*threadState),
	}
}

// Toolbox exposes the engine's toolbox; the serve command uses it to write
// the baseline routing table on startup.
func (e *Engine) Toolbox() *Toolbox {
	return e.tools
}

func (e *Engine) thread(threadID string) *threadState {
	if st, ok := e.threads[threadID]; ok {
		return st
	}
	st := &threadState{}
	e.threads[threadID] = st
	return st
}

// RunCycle advances the thread by one observe/reason/decide pass and returns
// the narrative lines it produced. A thread parked at the sentry holds its
// position and reports so.
func (e *Engine) RunCycle(threadID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.thread(threadID)
	if st.pending != nil {
		return []string{fmt.Sprintf("Sentry: Holding %s for %s until a human decides.",
			st.pending.ActionType, st.pending.Region)}
	}

	obs, observerLine := Observe(e.cfg.TransactionsLog, e.cfg.ObserveWindow)
	lines := []string{observerLine}

	hypothesis, anomaly := e.reason(obs.Metrics)
	lines = append(lines, "Reasoner: "+hypothesis)

	lines = append(lines, e.decide(st, threadID, obs.Metrics, anomaly)...)

	e.record(&history.Record{
		ID: ulid.Make().String(), ThreadID: threadID, Kind: history.KindCycle,
		Timestamp: time.Now(), Summary: hypothesis,
	})
	return lines
}

// reason turns metrics into a hypothesis. Rule-of-thumb diagnostics stand in
// for the original product's LLM pass: spam volume first, then the dominant
// failure cluster, else all quiet.
func (e *Engine) reason(m Metrics) (string, bool) {
	if spam := m.SpamTotal(); spam >= spamThreshold {
		region, _ := maxEntry(m.SecurityAlerts)
		return fmt.Sprintf(
			"Malicious traffic pattern: %d rejected attempts, concentrated in %s. Anomaly detected.",
			spam, trimSpamKey(region)), true
	}

	if cluster, count := maxEntry(m.FailureClusters); count >= clusterThreshold {
		return fmt.Sprintf(
			"Technical infrastructure issue: %d failures clustered at %s (success rate %.0f%%). Anomaly detected.",
			count, cluster, m.SuccessRate*100), true
	}

	return "Monitoring... traffic within normal bounds.", false
}

// decide proposes at most one remediation for the detected anomaly and
// routes it through the risk rules.
func (e *Engine) decide(st *threadState, threadID string, m Metrics, anomaly bool) []string {
	if !anomaly {
		return []string{"Decider: No action needed."}
	}

	action, ok := e.propose(m)
	if !ok {
		return []string{"Decider: Active policy already covers the affected region; standing by."}
	}

	verdict := e.rules.Decide(policy.ActionContext{
		Type:        action.ActionType,
		Region:      action.Region,
		SuccessRate: m.SuccessRate,
		SpamCount:   m.SpamTotal(),
	})

	switch verdict.Effect {
	case policy.EffectApprove:
		st.pending = action
		if e.alerts != nil {
			e.alerts.Send(alert.Alert{
				Type:     "approval_required",
				Severity: "warning",
				Title:    fmt.Sprintf("Approval needed: %s in %s", action.ActionType, action.Region),
				Message:  verdict.Message,
				ThreadID: threadID,
				Details:  map[string]any{"action_type": action.ActionType, "target_region": action.Region},
			})
		}
		e.logger.Info("action parked for approval",
			"action", action.ActionType,
			"region", action.Region,
			"rule", verdict.Rule,
		)
		return []string{fmt.Sprintf("Decider: Proposed %s for %s. Parked at sentry for human approval.",
			action.ActionType, action.Region)}

	case policy.EffectSkip:
		e.logger.Info("action skipped by rule", "action", action.ActionType, "rule", verdict.Rule)
		return []string{fmt.Sprintf("Decider: Skipped %s for %s per rule %q.",
			action.ActionType, action.Region, verdict.Rule)}

	default:
		line, err := e.execute(threadID, action)
		if err != nil {
			e.logger.Error("remediation failed", "action", action.ActionType, "error", err)
			return []string{fmt.Sprintf("Executor Error: %v", err)}
		}
		return []string{
			fmt.Sprintf("Decider: Proposed %s for %s. Executing autonomously.", action.ActionType, action.Region),
			line,
		}
	}
}

// propose picks the remediation for the current metrics, or reports that no
// useful action remains (already blocked, already rerouted).
func (e *Engine) propose(m Metrics) (*pendingAction, bool) {
	if m.SpamTotal() >= spamThreshold {
		key, _ := maxEntry(m.SecurityAlerts)
		region := trimSpamKey(key)
		if e.tools.BlockedRegions()[region] {
			return nil, false
		}
		raw, _ := json.Marshal(map[string]string{
			"action_type":   ActionBlock,
			"target_region": region,
		})
		return &pendingAction{
			Tool:       ToolFraudMitigation,
			ActionType: ActionBlock,
			Region:     region,
			Raw:        string(raw),
		}, true
	}

	cluster, _ := maxEntry(m.FailureClusters)
	region, gateway := splitClusterKey(cluster)
	target := alternateGateway(gateway)
	if e.tools.Routing()[region] == target {
		return nil, false
	}
	raw, _ := json.Marshal(map[string]string{
		"action_type":   ActionReroute,
		"target_region": region,
		"gateway":       target,
	})
	return &pendingAction{
		Tool:       ToolUpdateRouting,
		ActionType: ActionReroute,
		Region:     region,
		Gateway:    target,
		Raw:        string(raw),
	}, true
}

// execute applies a remediation and records it in the ledger.
func (e *Engine) execute(threadID string, action *pendingAction) (string, error) {
	var result string
	var err error
	switch action.ActionType {
	case ActionReroute:
		result, err = e.tools.Reroute(action.Region, action.Gateway)
	case ActionBlock:
		result, err = e.tools.Block(action.ActionType, action.Region)
	default:
		return "", fmt.Errorf("unknown remediation %q", action.ActionType)
	}
	if err != nil {
		return "", err
	}

	e.record(&history.Record{
		ID: ulid.Make().String(), ThreadID: threadID, Kind: history.KindAction,
		Timestamp:  time.Now(),
		Summary:    fmt.Sprintf("ACTION: %s | ARGS: %s | RESULT: %s", action.Tool, action.Raw, result),
		ActionType: action.ActionType,
		Region:     action.Region,
		Detail:     json.RawMessage(action.Raw),
	})
	return "Executor: " + result, nil
}

// Telemetry returns the parsed tail of the transactions log for the console
// feed. window caps the sample count; zero means the configured default.
func (e *Engine) Telemetry(window int) []telemetry.Point {
	if window <= 0 {
		window = e.cfg.ObserveWindow
	}
	obs, _ := Observe(e.cfg.TransactionsLog, window)
	return obs.Points
}

// State reports the thread's wait-state for /agent_state.
func (e *Engine) State(threadID string) WaitState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.thread(threadID)
	if st.pending == nil {
		return WaitState{}
	}
	return WaitState{
		Waiting:  true,
		Proposal: st.pending.Raw,
		Tool:     st.pending.Tool,
	}
}

// Resolve applies a human decision to the parked action. Approval executes
// it; rejection cancels it and returns the thread to monitoring. Either way
// the sentry releases the thread.
func (e *Engine) Resolve(threadID string, approved bool) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.thread(threadID)
	if st.pending == nil {
		return nil, ErrNoPendingAction
	}
	action := st.pending
	st.pending = nil

	e.record(&history.Record{
		ID: ulid.Make().String(), ThreadID: threadID, Kind: history.KindDecision,
		Timestamp:  time.Now(),
		Summary:    fmt.Sprintf("%s %s in %s", decisionWord(approved), action.ActionType, action.Region),
		ActionType: action.ActionType,
		Region:     action.Region,
		Approved:   &approved,
	})

	if !approved {
		e.logger.Info("action rejected by human", "action", action.ActionType, "region", action.Region)
		return []string{"Action cancelled by user."}, nil
	}

	line, err := e.execute(threadID, action)
	if err != nil {
		return nil, fmt.Errorf("approved remediation failed: %w", err)
	}
	e.logger.Info("action approved and executed", "action", action.ActionType, "region", action.Region)
	return []string{line}, nil
}

func (e *Engine) record(r *history.Record) {
	if e.store == nil {
		return
	}
	if err := e.store.Insert(r); err != nil {
		e.logger.Error("failed to persist ledger record", "kind", r.Kind, "error", err)
	}
}

func decisionWord(approved bool) string {
	if approved {
		return "Approved"
	}
	return "Rejected"
}

func maxEntry(m map[string]int) (string, int) {
	bestKey, bestCount := "", 0
	for k, n := range m {
		if n > bestCount || (n == bestCount && k < bestKey) {
			bestKey, bestCount = k, n
		}
	}
	return bestKey, bestCount
}

func trimSpamKey(key string) string {
	const prefix = "SPAM_ATTACK_"
	if len(key) > len(prefix) {
		return key[len(prefix):]
	}
	return key
}

// splitClusterKey unpacks a region_gateway_errcode cluster key.
func splitClusterKey(key string) (region, gateway string) {
	parts := strings.SplitN(key, "_", 3)
	region = parts[0]
	if len(parts) > 1 {
		gateway = parts[1]
	}
	return region, gateway
}
