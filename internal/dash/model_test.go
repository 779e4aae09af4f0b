package dash

import (
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/paydeck/paydeck/internal/orchestrator"
	"github.com/paydeck/paydeck/internal/telemetry"
)

// fakeCore is a scriptable stand-in for the orchestrator.
type fakeCore struct {
	mu       sync.Mutex
	snap     orchestrator.Snapshot
	summary  telemetry.Summary
	inFlight bool
	decided  []bool
}

func (f *fakeCore) Snapshot() orchestrator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeCore) Summary() telemetry.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summary
}

func (f *fakeCore) Decide(approved bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decided = append(f.decided, approved)
	return nil
}

func (f *fakeCore) DecisionInFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func onlineCore() *fakeCore {
	return &fakeCore{
		snap: orchestrator.Snapshot{
			Mode: orchestrator.ModeOnline,
			Telemetry: []telemetry.Point{
				{Status: "SUCCESS", LatencyMS: 120},
				{Status: "FAILED", LatencyMS: 300},
			},
			Trace: []orchestrator.TraceEntry{
				{Timestamp: time.Now(), Content: "Observer: Successfully parsed 2 transactions."},
			},
		},
		summary: telemetry.Summary{SuccessRate: 50.0, AvgLatency: 210},
	}
}

func latchedCore() *fakeCore {
	c := onlineCore()
	c.snap.Mode = orchestrator.ModeActionRequired
	c.snap.Proposal = &orchestrator.Proposal{
		ActionType:   "BLOCK_IP_RANGE",
		TargetRegion: "IN",
		Fields:       map[string]any{"action_type": "BLOCK_IP_RANGE", "target_region": "IN"},
	}
	return c
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestViewShowsMetrics(t *testing.T) {
	m := sized(t, New(onlineCore(), "t1", time.Second))

	view := m.View()
	if !strings.Contains(view, "50.0%") {
		t.Errorf("view must render the success rate to one decimal:\n%s", view)
	}
	if !strings.Contains(view, "210ms") {
		t.Errorf("view must render the average latency:\n%s", view)
	}
	if !strings.Contains(view, "ONLINE") {
		t.Errorf("view must show the mode:\n%s", view)
	}
}

func TestApprovalPromptReplacesTrace(t *testing.T) {
	m := sized(t, New(latchedCore(), "t1", time.Second))

	view := m.View()
	if !strings.Contains(view, "HUMAN APPROVAL REQUIRED") {
		t.Fatalf("latched mode must show the prompt:\n%s", view)
	}
	if !strings.Contains(view, "BLOCK_IP_RANGE") || !strings.Contains(view, "IN") {
		t.Errorf("prompt must show the proposal:\n%s", view)
	}
	if strings.Contains(view, "Observer: Successfully parsed") {
		t.Errorf("prompt must be exclusive, trace still visible:\n%s", view)
	}
}

func TestApproveKeySubmitsDecision(t *testing.T) {
	core := latchedCore()
	m := sized(t, New(core, "t1", time.Second))

	next, cmd := m.Update(key("y"))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("approve key must produce a decide command")
	}
	if msg := cmd(); msg == nil {
		t.Fatal("decide command returned no message")
	}
	if len(core.decided) != 1 || !core.decided[0] {
		t.Fatalf("decisions = %v, want one approval", core.decided)
	}

	// A second keypress while the first is in flight is ignored.
	if _, cmd := m.Update(key("n")); cmd != nil {
		if batch := cmd(); batch != nil {
			t.Error("keypress while deciding must not submit again")
		}
	}
}

func TestRejectKeySubmitsRejection(t *testing.T) {
	core := latchedCore()
	m := sized(t, New(core, "t1", time.Second))

	_, cmd := m.Update(key("n"))
	if cmd == nil {
		t.Fatal("reject key must produce a decide command")
	}
	cmd()
	if len(core.decided) != 1 || core.decided[0] {
		t.Fatalf("decisions = %v, want one rejection", core.decided)
	}
}

func TestKeysIgnoredWhileOnline(t *testing.T) {
	core := onlineCore()
	m := sized(t, New(core, "t1", time.Second))

	if _, cmd := m.Update(key("y")); cmd != nil {
		cmd()
	}
	if len(core.decided) != 0 {
		t.Errorf("decisions = %v, want none while online", core.decided)
	}
}

func TestKeysIgnoredWhileInFlight(t *testing.T) {
	core := latchedCore()
	core.inFlight = true
	m := sized(t, New(core, "t1", time.Second))

	if _, cmd := m.Update(key("y")); cmd != nil {
		cmd()
	}
	if len(core.decided) != 0 {
		t.Errorf("decisions = %v, want none while a decision is in flight", core.decided)
	}
}

func TestQuitKey(t *testing.T) {
	m := sized(t, New(onlineCore(), "t1", time.Second))

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("quit key must produce a command")
	}
	if msg := cmd(); msg != (tea.QuitMsg{}) {
		t.Errorf("quit command returned %T, want tea.QuitMsg", msg)
	}
}

func TestMalformedProposalStillPrompts(t *testing.T) {
	core := latchedCore()
	core.snap.Proposal = &orchestrator.Proposal{Fields: map[string]any{}}
	m := sized(t, New(core, "t1", time.Second))

	view := m.View()
	if !strings.Contains(view, "HUMAN APPROVAL REQUIRED") {
		t.Fatalf("empty proposal must still prompt:\n%s", view)
	}
	if !strings.Contains(view, "payload could not be read") {
		t.Errorf("empty proposal must be called out:\n%s", view)
	}
}

func TestLatencySparkline(t *testing.T) {
	snap := orchestrator.Snapshot{Telemetry: []telemetry.Point{
		{LatencyMS: 0}, {LatencyMS: 400}, {LatencyMS: 800},
	}}

	spark := latencySparkline(snap, 10)
	runes := []rune(spark)
	if len(runes) != 3 {
		t.Fatalf("sparkline length = %d, want 3", len(runes))
	}
	if runes[0] != sparkRunes[0] || runes[2] != sparkRunes[len(sparkRunes)-1] {
		t.Errorf("sparkline scaling wrong: %q", spark)
	}

	// Width caps the strip to the most recent points.
	if got := []rune(latencySparkline(snap, 2)); len(got) != 2 {
		t.Errorf("capped sparkline length = %d, want 2", len(got))
	}

	if latencySparkline(orchestrator.Snapshot{}, 10) != "" {
		t.Error("empty telemetry must render an empty sparkline")
	}
}
