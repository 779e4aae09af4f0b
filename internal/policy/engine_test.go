package policy

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paydeck/paydeck/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEngine_DefaultRuleRouting(t *testing.T) {
	engine, err := NewEngine(config.DefaultRules(), testLogger())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	tests := []struct {
		name       string
		ctx        ActionContext
		wantEffect Effect
	}{
		{
			name:       "security block parks at the gate",
			ctx:        ActionContext{Type: "BLOCK_IP_RANGE", Region: "US"},
			wantEffect: EffectApprove,
		},
		{
			name:       "reroute executes autonomously",
			ctx:        ActionContext{Type: "REROUTE", Region: "UK"},
			wantEffect: EffectExecute,
		},
		{
			name:       "unmatched action defaults to execute",
			ctx:        ActionContext{Type: "SOMETHING_NEW"},
			wantEffect: EffectExecute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Decide(tt.ctx)
			if got.Effect != tt.wantEffect {
				t.Errorf("Decide(%+v).Effect = %s, want %s", tt.ctx, got.Effect, tt.wantEffect)
			}
		})
	}
}

func TestEngine_FirstMatchWins(t *testing.T) {
	rules := []config.RuleConfig{
		{Name: "skip-eu", Condition: `action.region == "EU"`, Effect: "skip"},
		{Name: "approve-blocks", Condition: `action.type == "BLOCK_IP_RANGE"`, Effect: "approve"},
	}
	engine, err := NewEngine(rules, testLogger())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	got := engine.Decide(ActionContext{Type: "BLOCK_IP_RANGE", Region: "EU"})
	if got.Effect != EffectSkip || got.Rule != "skip-eu" {
		t.Errorf("Decide() = %+v, want skip via skip-eu (first match)", got)
	}
}

func TestEngine_MetricsVariables(t *testing.T) {
	rules := []config.RuleConfig{
		{
			Name:      "degraded-needs-eyes",
			Condition: `metrics.success_rate < 0.5 && metrics.spam_count > 10`,
			Effect:    "approve",
		},
	}
	engine, err := NewEngine(rules, testLogger())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	calm := engine.Decide(ActionContext{Type: "REROUTE", SuccessRate: 0.98})
	if calm.Effect != EffectExecute {
		t.Errorf("healthy metrics routed to %s, want execute", calm.Effect)
	}
	storm := engine.Decide(ActionContext{Type: "REROUTE", SuccessRate: 0.2, SpamCount: 40})
	if storm.Effect != EffectApprove {
		t.Errorf("degraded metrics routed to %s, want approve", storm.Effect)
	}
}

func TestEngine_BadRuleSkippedNotFatal(t *testing.T) {
	rules := []config.RuleConfig{
		{Name: "broken", Condition: `action.type ==`, Effect: "approve"},
		{Name: "working", Condition: `action.type == "BLOCK_IP_RANGE"`, Effect: "approve"},
	}
	engine, err := NewEngine(rules, testLogger())
	if err != nil {
		t.Fatalf("NewEngine() with a broken rule errored: %v", err)
	}

	got := engine.Decide(ActionContext{Type: "BLOCK_IP_RANGE"})
	if got.Effect != EffectApprove || got.Rule != "working" {
		t.Errorf("Decide() = %+v, want the surviving rule to fire", got)
	}
}

func TestWatchRulesFile_HotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")

	initial := `
rules:
  - name: approve-everything
    condition: "true"
    effect: approve
`
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatalf("failed to write rules: %v", err)
	}

	rules, err := LoadRulesFile(path)
	if err != nil {
		t.Fatalf("LoadRulesFile() error: %v", err)
	}
	engine, err := NewEngine(rules, testLogger())
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}

	watcher, err := WatchRulesFile(path, engine, testLogger())
	if err != nil {
		t.Fatalf("WatchRulesFile() error: %v", err)
	}
	defer watcher.Close()

	if got := engine.Decide(ActionContext{Type: "REROUTE"}); got.Effect != EffectApprove {
		t.Fatalf("initial Decide() = %s, want approve", got.Effect)
	}

	updated := `
rules:
  - name: execute-everything
    condition: "true"
    effect: execute
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("failed to rewrite rules: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if engine.Decide(ActionContext{Type: "REROUTE"}).Effect == EffectExecute {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("rule set was not hot-reloaded after file write")
}
