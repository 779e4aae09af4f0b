package config

import (
	"time"
)

// Config is the top-level paydeck configuration.
type Config struct {
	Console   ConsoleConfig   `yaml:"console"`
	Server    ServerConfig    `yaml:"server"`
	Agent     AgentConfig     `yaml:"agent"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Rules     []RuleConfig    `yaml:"rules"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// ConsoleConfig drives the `paydeck watch` client: which backend to poll,
// which session to drive, and the two loop cadences.
type ConsoleConfig struct {
	BackendURL     string        `yaml:"backend_url"`
	ThreadID       string        `yaml:"thread_id"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	CycleDelay     time.Duration `yaml:"cycle_delay"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
}

// ServerConfig drives the `paydeck serve` reference backend.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	CORS        bool   `yaml:"cors"`
	LogLevel    string `yaml:"log_level"`
	HistoryPath string `yaml:"history_path"`
}

// AgentConfig holds the file paths and observation window for the scripted
// payment-ops agent behind the reference backend.
type AgentConfig struct {
	TransactionsLog string `yaml:"transactions_log"`
	RoutingConfig   string `yaml:"routing_config"`
	SecurityPolicy  string `yaml:"security_policy"`
	ObserveWindow   int    `yaml:"observe_window"`
	RulesFile       string `yaml:"rules_file"`
}

// SimulatorConfig drives the `paydeck simulate` traffic generator.
type SimulatorConfig struct {
	TransactionsLog string        `yaml:"transactions_log"`
	RoutingConfig   string        `yaml:"routing_config"`
	SecurityPolicy  string        `yaml:"security_policy"`
	Interval        time.Duration `yaml:"interval"`
	BurstSize       int           `yaml:"burst_size"`
	MaxBytes        int64         `yaml:"max_bytes"`
	Backups         int           `yaml:"backups"`
}

// RuleConfig is one risk rule evaluated against a proposed remediation.
// Condition is a CEL expression; Effect is "execute", "approve" or "skip".
type RuleConfig struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Effect    string `yaml:"effect"`
	Message   string `yaml:"message"`
}

type AlertsConfig struct {
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup: console and server agree on port 8000 and thread "demo_session_1",
// matching the original demo deployment.
func DefaultConfig() *Config {
	return &Config{
		Console: ConsoleConfig{
			BackendURL:     "http://127.0.0.1:8000",
			ThreadID:       "demo_session_1",
			PollInterval:   time.Second,
			CycleDelay:     2 * time.Second,
			RequestTimeout: 15 * time.Second,
			LogLevel:       "info",
		},
		Server: ServerConfig{
			Port:        8000,
			CORS:        true,
			LogLevel:    "info",
			HistoryPath: "./paydeck.db",
		},
		Agent: AgentConfig{
			TransactionsLog: "./transactions.log",
			RoutingConfig:   "./routing_config.json",
			SecurityPolicy:  "./security_policy.json",
			ObserveWindow:   100,
		},
		Simulator: SimulatorConfig{
			TransactionsLog: "./transactions.log",
			RoutingConfig:   "./routing_config.json",
			SecurityPolicy:  "./security_policy.json",
			Interval:        500 * time.Millisecond,
			BurstSize:       50,
			MaxBytes:        10 * 1024 * 1024,
			Backups:         1,
		},
		Rules: DefaultRules(),
	}
}

// DefaultRules mirrors the built-in risk routing: security blocks park at the
// approval gate, traffic reroutes execute autonomously.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{
			Name:      "block-requires-approval",
			Condition: `action.type == "BLOCK_IP_RANGE"`,
			Effect:    "approve",
			Message:   "Edge blocks are irreversible for live traffic; a human signs off.",
		},
		{
			Name:      "reroute-autonomous",
			Condition: `action.type == "REROUTE"`,
			Effect:    "execute",
			Message:   "Routing changes are reversible and time-critical.",
		},
	}
}
