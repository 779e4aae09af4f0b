package agent

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paydeck/paydeck/internal/config"
	"github.com/paydeck/paydeck/internal/history"
	"github.com/paydeck/paydeck/internal/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory history.Store for asserting ledger writes.
type memStore struct {
	mu      sync.Mutex
	records []*history.Record
}

func (s *memStore) Initialize() error { return nil }
func (s *memStore) Close() error      { return nil }

func (s *memStore) Insert(r *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *memStore) List(threadID string, limit int) ([]*history.Record, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) RecentActions(threadID string, limit int) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (s *memStore) PruneOlderThan(days int) (int64, error) { return 0, nil }

func (s *memStore) kinds() map[history.Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[history.Kind]int)
	for _, r := range s.records {
		counts[r.Kind]++
	}
	return counts
}

type engineFixture struct {
	engine *Engine
	store  *memStore
	dir    string
}

func newEngineFixture(t *testing.T, logLines ...string) *engineFixture {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "transactions.log")
	if len(logLines) > 0 {
		writeLinesTo(t, logPath, logLines)
	}

	rules, err := policy.NewEngine(config.DefaultRules(), testLogger())
	if err != nil {
		t.Fatalf("failed to build rule engine: %v", err)
	}

	store := &memStore{}
	cfg := config.AgentConfig{
		TransactionsLog: logPath,
		RoutingConfig:   filepath.Join(dir, "routing_config.json"),
		SecurityPolicy:  filepath.Join(dir, "security_policy.json"),
		ObserveWindow:   100,
	}
	return &engineFixture{
		engine: NewEngine(cfg, rules, store, nil, testLogger()),
		store:  store,
		dir:    dir,
	}
}

func writeLinesTo(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("failed to write log fixture: %v", err)
	}
}

func repeat(line string, n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = line
	}
	return lines
}

func TestRunCycleQuietTraffic(t *testing.T) {
	fx := newEngineFixture(t, repeat(successLine("US"), 20)...)

	lines := fx.engine.RunCycle("t1")

	if len(lines) != 3 {
		t.Fatalf("cycle lines = %v", lines)
	}
	if lines[1] != "Reasoner: Monitoring... traffic within normal bounds." {
		t.Errorf("reasoner line = %q", lines[1])
	}
	if lines[2] != "Decider: No action needed." {
		t.Errorf("decider line = %q", lines[2])
	}
	if st := fx.engine.State("t1"); st.Waiting {
		t.Error("quiet cycle must not park an action")
	}
	if got := fx.store.kinds()[history.KindCycle]; got != 1 {
		t.Errorf("cycle records = %d, want 1", got)
	}
}

func TestRunCycleTechnicalAnomalyExecutes(t *testing.T) {
	lines := append(
		repeat(failedLine("UK", "stripe", "GATEWAY_TIMEOUT"), 6),
		repeat(successLine("US"), 4)...,
	)
	fx := newEngineFixture(t, lines...)

	out := strings.Join(fx.engine.RunCycle("t1"), "\n")

	if !strings.Contains(out, "Technical infrastructure issue") {
		t.Errorf("reasoner missed the failure cluster:\n%s", out)
	}
	if !strings.Contains(out, "Executing autonomously") {
		t.Errorf("reroute should not need approval:\n%s", out)
	}
	if !strings.Contains(out, "Executor: ACTION SUCCESS: UK is now routed to adyen.") {
		t.Errorf("executor line missing:\n%s", out)
	}
	if got := fx.engine.Toolbox().Routing()["UK"]; got != GatewayAdyen {
		t.Errorf("UK route after cycle = %q, want adyen", got)
	}
	if st := fx.engine.State("t1"); st.Waiting {
		t.Error("autonomous reroute must not park at the sentry")
	}
	if got := fx.store.kinds()[history.KindAction]; got != 1 {
		t.Errorf("action records = %d, want 1", got)
	}
}

func TestRunCycleSpamParksAtSentry(t *testing.T) {
	fx := newEngineFixture(t, repeat(rejectedLine("IN"), 12)...)

	out := strings.Join(fx.engine.RunCycle("t1"), "\n")

	if !strings.Contains(out, "Malicious traffic pattern") {
		t.Errorf("reasoner missed the spam pattern:\n%s", out)
	}
	if !strings.Contains(out, "Parked at sentry for human approval") {
		t.Errorf("block must park for approval:\n%s", out)
	}

	st := fx.engine.State("t1")
	if !st.Waiting {
		t.Fatal("thread should be waiting for approval")
	}
	if st.Tool != ToolFraudMitigation {
		t.Errorf("Tool = %q, want %q", st.Tool, ToolFraudMitigation)
	}
	var args map[string]string
	if err := json.Unmarshal([]byte(st.Proposal), &args); err != nil {
		t.Fatalf("proposal is not JSON: %v", err)
	}
	if args["action_type"] != ActionBlock || args["target_region"] != "IN" {
		t.Errorf("proposal args = %v", args)
	}

	// A parked thread holds its position.
	hold := fx.engine.RunCycle("t1")
	if len(hold) != 1 || !strings.Contains(hold[0], "Sentry: Holding") {
		t.Errorf("held cycle lines = %v", hold)
	}
}

func TestResolveApprovedExecutes(t *testing.T) {
	fx := newEngineFixture(t, repeat(rejectedLine("IN"), 12)...)
	fx.engine.RunCycle("t1")

	lines, err := fx.engine.Resolve("t1", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "Executor: SECURITY STACK UPDATED") {
		t.Errorf("approval lines = %v", lines)
	}
	if !fx.engine.Toolbox().BlockedRegions()["IN"] {
		t.Error("approved block not applied")
	}
	if fx.engine.State("t1").Waiting {
		t.Error("sentry must release after a decision")
	}

	kinds := fx.store.kinds()
	if kinds[history.KindDecision] != 1 || kinds[history.KindAction] != 1 {
		t.Errorf("ledger kinds = %v", kinds)
	}
}

func TestResolveRejectedCancels(t *testing.T) {
	fx := newEngineFixture(t, repeat(rejectedLine("IN"), 12)...)
	fx.engine.RunCycle("t1")

	lines, err := fx.engine.Resolve("t1", false)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(lines) != 1 || lines[0] != "Action cancelled by user." {
		t.Errorf("rejection lines = %v", lines)
	}
	if fx.engine.Toolbox().BlockedRegions()["IN"] {
		t.Error("rejected block must not be applied")
	}
	if fx.engine.State("t1").Waiting {
		t.Error("sentry must release after a rejection")
	}
	if got := fx.store.kinds()[history.KindAction]; got != 0 {
		t.Errorf("rejection must not record an action, got %d", got)
	}
}

func TestResolveWithoutPending(t *testing.T) {
	fx := newEngineFixture(t)

	if _, err := fx.engine.Resolve("t1", true); !errors.Is(err, ErrNoPendingAction) {
		t.Errorf("err = %v, want ErrNoPendingAction", err)
	}
}

func TestBlockedRegionNotProposedTwice(t *testing.T) {
	fx := newEngineFixture(t, repeat(rejectedLine("IN"), 12)...)
	if _, err := fx.engine.Toolbox().Block(ActionBlock, "IN"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	out := strings.Join(fx.engine.RunCycle("t1"), "\n")

	if !strings.Contains(out, "standing by") {
		t.Errorf("covered region should not be re-proposed:\n%s", out)
	}
	if fx.engine.State("t1").Waiting {
		t.Error("nothing should be parked for an already-blocked region")
	}
}

func TestThreadsAreIndependent(t *testing.T) {
	fx := newEngineFixture(t, repeat(rejectedLine("IN"), 12)...)
	fx.engine.RunCycle("t1")

	if fx.engine.State("t2").Waiting {
		t.Error("t2 must not see t1's parked action")
	}
	if _, err := fx.engine.Resolve("t2", true); !errors.Is(err, ErrNoPendingAction) {
		t.Errorf("t2 Resolve err = %v, want ErrNoPendingAction", err)
	}
}
