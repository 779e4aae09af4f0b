// Package simulator generates synthetic payment traffic into the shared
// transactions log, so the agent and console have something to watch. Traffic
// honors the live routing table and any edge blocks the agent deploys.
package simulator

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paydeck/paydeck/internal/agent"
	"github.com/paydeck/paydeck/internal/telemetry"
)

// Scenario selects which failure mode a generated transaction exhibits.
type Scenario string

const (
	ScenarioNormal       Scenario = "normal"
	ScenarioUKOutage     Scenario = "uk_bank_outage"
	ScenarioAdyenLatency Scenario = "adyen_latency_spike"
	ScenarioIndiaAuth    Scenario = "india_auth_bug"
	ScenarioRetryStorm   Scenario = "retry_storm"
)

// Scenarios lists every known scenario with its selection weight.
var Scenarios = []struct {
	Scenario Scenario
	Weight   float64
}{
	{ScenarioNormal, 0.4},
	{ScenarioUKOutage, 0.3},
	{ScenarioAdyenLatency, 0.1},
	{ScenarioIndiaAuth, 0.1},
	{ScenarioRetryStorm, 0.1},
}

var regions = []string{"US", "UK", "IN", "EU"}

// baseLatency is each gateway's average response time in milliseconds.
var baseLatency = map[string]int{
	agent.GatewayStripe: 150,
	agent.GatewayAdyen:  310,
}

// Generator produces transactions against a cached view of the routing table
// and security policy stack. The cache refreshes when the agent rewrites
// either file, so a deployed block takes effect on the very next sample.
type Generator struct {
	tools  *agent.Toolbox
	rng    *rand.Rand
	logger *slog.Logger

	mu      sync.Mutex
	routing agent.RoutingTable
	blocked map[string]bool
}

// NewGenerator creates a generator over the shared config files.
func NewGenerator(tools *agent.Toolbox, logger *slog.Logger) *Generator {
	g := &Generator{
		tools:  tools,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		logger: logger.With("component", "simulator.Generator"),
	}
	g.refresh()
	return g
}

// refresh re-reads the routing table and block list.
func (g *Generator) refresh() {
	routing := g.tools.Routing()
	blocked := g.tools.BlockedRegions()

	g.mu.Lock()
	g.routing = routing
	g.blocked = blocked
	g.mu.Unlock()
}

// PickScenario draws a weighted scenario.
func (g *Generator) PickScenario() Scenario {
	g.mu.Lock()
	r := g.rng.Float64()
	g.mu.Unlock()

	for _, s := range Scenarios {
		if r < s.Weight {
			return s.Scenario
		}
		r -= s.Weight
	}
	return ScenarioNormal
}

// Generate produces one transaction for the scenario. It returns false when
// the sample was dropped at the edge by an active security policy.
func (g *Generator) Generate(scenario Scenario) (telemetry.Point, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	region := regions[g.rng.IntN(len(regions))]
	gateway := g.routing[region]
	if gateway == "" {
		gateway = g.routing[agent.GlobalDefaultKey]
	}
	if gateway == "" {
		gateway = agent.GatewayStripe
	}

	// A deployed block swallows storm traffic before it reaches a gateway.
	if scenario == ScenarioRetryStorm && (g.blocked[region] || g.blocked[agent.GlobalDefaultKey]) {
		return telemetry.Point{}, false
	}

	p := telemetry.Point{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		TransactionID: fmt.Sprintf("tx_%d", g.rng.Uint64N(1<<24)),
		Gateway:       gateway,
		Region:        region,
		Status:        telemetry.StatusSuccess,
		ErrorCode:     "00",
		LatencyMS:     float64(baseLatency[gateway] + g.rng.IntN(71) - 20),
		Amount:        float64(g.rng.IntN(900)+100) / 100.0,
	}

	switch scenario {
	case ScenarioRetryStorm:
		p.Status = "REJECTED"
		p.ErrorCode = "429"
		p.LatencyMS = 10
	case ScenarioUKOutage:
		if region == "UK" && gateway == agent.GatewayStripe && g.rng.Float64() > 0.3 {
			p.Status = "FAILED"
			p.ErrorCode = "91"
		}
	case ScenarioAdyenLatency:
		if gateway == agent.GatewayAdyen {
			p.LatencyMS = float64(g.rng.IntN(4001) + 5000)
		}
	case ScenarioIndiaAuth:
		if region == "IN" && gateway == agent.GatewayStripe {
			p.Status = "FAILED"
			p.ErrorCode = "401"
		}
	}

	return p, true
}

// WatchConfig refreshes the generator's cache when either shared config file
// changes. The containing directory is watched so agent rewrites are seen
// even when editors replace the file wholesale.
func (g *Generator) WatchConfig(routingPath, policyPath string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	dirs := map[string]bool{
		filepath.Dir(routingPath): true,
		filepath.Dir(policyPath):  true,
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	names := map[string]bool{
		filepath.Clean(routingPath): true,
		filepath.Clean(policyPath):  true,
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !names[filepath.Clean(event.Name)] {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					g.logger.Debug("shared config changed, refreshing", "file", event.Name)
					g.refresh()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
