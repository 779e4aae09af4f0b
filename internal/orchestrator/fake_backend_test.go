package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/paydeck/paydeck/internal/telemetry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is a controllable in-memory Backend for core tests.
type fakeBackend struct {
	mu sync.Mutex

	telemetryPoints []telemetry.Point
	telemetryErr    error

	agentState    AgentState
	agentStateErr error
	stateCalls    int

	cycleLines []string
	cycleErr   error
	cycleDelay time.Duration
	cycleCalls int

	decideLines []string
	decideErr   error
	decideDelay time.Duration
	decideCalls int
}

func (f *fakeBackend) Telemetry(ctx context.Context) ([]telemetry.Point, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.telemetryPoints, f.telemetryErr
}

func (f *fakeBackend) AgentState(ctx context.Context, threadID string) (AgentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	return f.agentState, f.agentStateErr
}

func (f *fakeBackend) RunCycle(ctx context.Context, threadID string) ([]string, error) {
	f.mu.Lock()
	f.cycleCalls++
	lines, err, delay := f.cycleLines, f.cycleErr, f.cycleDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return lines, err
}

func (f *fakeBackend) Decide(ctx context.Context, threadID string, approved bool) ([]string, error) {
	f.mu.Lock()
	f.decideCalls++
	lines, err, delay := f.decideLines, f.decideErr, f.decideDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return lines, err
}

func (f *fakeBackend) counts() (stateCalls, cycleCalls, decideCalls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateCalls, f.cycleCalls, f.decideCalls
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// eventually polls cond until it holds or the deadline passes.
func eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
