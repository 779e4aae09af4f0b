package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Gateways the routing table can point at.
const (
	GatewayStripe = "stripe"
	GatewayAdyen  = "adyen"
)

// GlobalDefaultKey is the routing-table fallback entry.
const GlobalDefaultKey = "global_default"

// RoutingTable maps regions to payment gateways.
type RoutingTable map[string]string

// DefaultRouting is the baseline routing configuration written on first run.
func DefaultRouting() RoutingTable {
	return RoutingTable{
		"US":            GatewayStripe,
		"UK":            GatewayStripe,
		"IN":            GatewayStripe,
		"EU":            GatewayAdyen,
		GlobalDefaultKey: GatewayStripe,
	}
}

// SecurityPolicy is one active edge intervention.
type SecurityPolicy struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Region    string `json:"region"`
	Active    bool   `json:"active"`
	Timestamp string `json:"timestamp"`
}

// Toolbox applies the agent's two remediations against the shared config
// files: rerouting traffic and deploying edge blocks. File access is
// serialized; the simulator reads the same files from another process, which
// is why writes go through a full rewrite rather than in-place edits.
type Toolbox struct {
	mu          sync.Mutex
	routingPath string
	policyPath  string
}

// NewToolbox creates a toolbox over the given config file paths.
func NewToolbox(routingPath, policyPath string) *Toolbox {
	return &Toolbox{routingPath: routingPath, policyPath: policyPath}
}

// EnsureRouting writes the baseline routing table if none exists yet.
func (t *Toolbox) EnsureRouting() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := os.Stat(t.routingPath); err == nil {
		return nil
	}
	return t.writeRouting(DefaultRouting())
}

// Routing reads the current routing table, falling back to the baseline when
// the file is missing or unreadable.
func (t *Toolbox) Routing() RoutingTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readRouting()
}

func (t *Toolbox) readRouting() RoutingTable {
	data, err := os.ReadFile(t.routingPath)
	if err != nil {
		return DefaultRouting()
	}
	var table RoutingTable
	if err := json.Unmarshal(data, &table); err != nil || len(table) == 0 {
		return DefaultRouting()
	}
	return table
}

func (t *Toolbox) writeRouting(table RoutingTable) error {
	data, err := json.MarshalIndent(table, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal routing table: %w", err)
	}
	if err := os.WriteFile(t.routingPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write routing table: %w", err)
	}
	return nil
}

// Reroute points a region (or the global default) at a target gateway.
func (t *Toolbox) Reroute(region, gateway string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	table := t.readRouting()
	table[region] = gateway
	if err := t.writeRouting(table); err != nil {
		return "", err
	}
	return fmt.Sprintf("ACTION SUCCESS: %s is now routed to %s.", region, gateway), nil
}

// Block deploys an edge security intervention for a region.
func (t *Toolbox) Block(actionType, region string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policies := t.readPolicies()
	policies = append(policies, SecurityPolicy{
		ID:        "rule_" + strings.ToLower(ulid.Make().String()),
		Action:    actionType,
		Region:    region,
		Active:    true,
		Timestamp: time.Now().Format(time.RFC3339),
	})

	data, err := json.MarshalIndent(policies, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal security policies: %w", err)
	}
	if err := os.WriteFile(t.policyPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write security policies: %w", err)
	}
	return fmt.Sprintf("SECURITY STACK UPDATED: Added %s for %s. Total active rules: %d",
		actionType, region, len(policies)), nil
}

// ActivePolicies returns the current security policy stack. A missing or
// malformed file reads as an empty stack.
func (t *Toolbox) ActivePolicies() []SecurityPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readPolicies()
}

func (t *Toolbox) readPolicies() []SecurityPolicy {
	data, err := os.ReadFile(t.policyPath)
	if err != nil {
		return nil
	}
	var policies []SecurityPolicy
	if err := json.Unmarshal(data, &policies); err != nil {
		// Tolerate a single-object file.
		var one SecurityPolicy
		if err := json.Unmarshal(data, &one); err != nil {
			return nil
		}
		policies = []SecurityPolicy{one}
	}
	return policies
}

// BlockedRegions returns the set of regions covered by an active policy.
func (t *Toolbox) BlockedRegions() map[string]bool {
	blocked := make(map[string]bool)
	for _, p := range t.ActivePolicies() {
		if p.Active {
			blocked[p.Region] = true
		}
	}
	return blocked
}

// PolicySummary renders the active stack for narrative lines.
func (t *Toolbox) PolicySummary() string {
	policies := t.ActivePolicies()
	if len(policies) == 0 {
		return "No active security policies."
	}
	parts := make([]string, 0, len(policies))
	for _, p := range policies {
		parts = append(parts, fmt.Sprintf("- %s in %s (Started: %s)", p.Action, p.Region, p.Timestamp))
	}
	return strings.Join(parts, "\n")
}

// alternateGateway returns the failover target for a gateway.
func alternateGateway(gateway string) string {
	if gateway == GatewayStripe {
		return GatewayAdyen
	}
	return GatewayStripe
}
