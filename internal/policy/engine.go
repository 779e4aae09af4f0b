package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/paydeck/paydeck/internal/config"
)

// Effect is what the engine tells the agent to do with a proposed action.
type Effect string

const (
	// EffectExecute lets the agent apply the action autonomously.
	EffectExecute Effect = "execute"
	// EffectApprove parks the action at the human approval gate.
	EffectApprove Effect = "approve"
	// EffectSkip drops the action without executing it.
	EffectSkip Effect = "skip"
)

// Decision is the engine's verdict for one proposed action.
type Decision struct {
	Effect  Effect
	Rule    string
	Message string
}

type compiledEntry struct {
	cfg  config.RuleConfig
	rule CompiledRule
}

// Engine evaluates ordered risk rules against proposed actions. First match
// wins; an action matching no rule executes autonomously. Reload swaps the
// rule set atomically, so the fsnotify watcher can hot-reload without
// pausing the agent.
type Engine struct {
	eval   *Evaluator
	logger *slog.Logger

	mu    sync.RWMutex
	rules []compiledEntry
}

// NewEngine compiles the given rules. A rule that fails compilation is
// logged and skipped rather than failing the load: one bad rule must not
// take the backend down.
func NewEngine(rules []config.RuleConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eval, err := NewEvaluator(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule evaluator: %w", err)
	}

	e := &Engine{
		eval:   eval,
		logger: logger.With("component", "policy.Engine"),
	}
	e.Reload(rules)
	return e, nil
}

// Reload recompiles and swaps in a new rule set.
func (e *Engine) Reload(rules []config.RuleConfig) {
	compiled := make([]compiledEntry, 0, len(rules))
	for _, rc := range rules {
		rule, err := e.eval.Compile(rc.Condition)
		if err != nil {
			e.logger.Error("skipping rule that failed to compile",
				"rule", rc.Name,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, compiledEntry{cfg: rc, rule: rule})
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	e.logger.Info("rule set loaded", "rules", len(compiled), "rejected", len(rules)-len(compiled))
}

// Decide evaluates the rules in order against ctx. Evaluation errors are
// treated as non-matches: a rule that cannot be evaluated never fires.
func (e *Engine) Decide(ctx ActionContext) Decision {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, entry := range rules {
		matched, err := e.eval.Evaluate(entry.rule, ctx)
		if err != nil {
			e.logger.Warn("rule evaluation failed", "rule", entry.cfg.Name, "error", err)
			continue
		}
		if matched {
			return Decision{
				Effect:  Effect(entry.cfg.Effect),
				Rule:    entry.cfg.Name,
				Message: entry.cfg.Message,
			}
		}
	}
	return Decision{Effect: EffectExecute}
}
