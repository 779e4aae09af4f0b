// Package policy decides how a proposed remediation is routed: executed
// autonomously, parked at the human approval gate, or skipped. Rules are CEL
// expressions compiled once at load time and evaluated against the proposed
// action plus the observer's current metrics.
package policy

import (
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"
)

// ActionContext is what a rule condition sees.
type ActionContext struct {
	// Type is the remediation kind, e.g. "REROUTE" or "BLOCK_IP_RANGE".
	Type string
	// Region is the geography the action targets.
	Region string
	// Params carries the remaining action arguments.
	Params map[string]any
	// SuccessRate is the observer's current global success rate (0..1).
	SuccessRate float64
	// SpamCount is the observer's current count of suspected spam samples.
	SpamCount int
}

// CompiledRule wraps a pre-compiled CEL program for fast repeated evaluation.
type CompiledRule struct {
	Expression string
	program    cel.Program
}

// Evaluator compiles and evaluates CEL conditions against ActionContext
// values. Compilation happens at load time; evaluation is lock-free and safe
// for concurrent use.
type Evaluator struct {
	env    *cel.Env
	logger *slog.Logger
}

// NewEvaluator creates an Evaluator with the variable declarations available
// in rule conditions.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("action.type", cel.StringType),
		cel.Variable("action.region", cel.StringType),
		cel.Variable("action.params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metrics.success_rate", cel.DoubleType),
		cel.Variable("metrics.spam_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:    env,
		logger: logger.With("component", "policy.Evaluator"),
	}, nil
}

// Compile parses and type-checks a CEL condition. Called at load time, not
// in the hot path.
func (e *Evaluator) Compile(expr string) (CompiledRule, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return CompiledRule{}, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return CompiledRule{}, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return CompiledRule{}, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	e.logger.Debug("compiled rule condition", "expression", expr)
	return CompiledRule{Expression: expr, program: prg}, nil
}

// Evaluate runs a pre-compiled condition against the given context. Returns
// true when the rule matches.
func (e *Evaluator) Evaluate(rule CompiledRule, ctx ActionContext) (bool, error) {
	params := ctx.Params
	if params == nil {
		// CEL map access on nil panics.
		params = map[string]any{}
	}

	vars := map[string]any{
		"action.type":          ctx.Type,
		"action.region":        ctx.Region,
		"action.params":        params,
		"metrics.success_rate": ctx.SuccessRate,
		"metrics.spam_count":   int64(ctx.SpamCount),
	}

	out, _, err := rule.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", rule.Expression, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", rule.Expression, out.Value())
	}
	return result, nil
}
