package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader reads, validates and caches the configuration. Reload re-reads the
// same path, so a SIGHUP handler or fsnotify callback can refresh config
// without re-plumbing the file name.
type Loader struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

// NewLoader creates a Loader holding the default configuration until Load is
// called.
func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnvVars replaces ${VAR} references with their environment value.
// Unset variables substitute to the empty string.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads the YAML file at path over the defaults and validates the result.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(substituteEnvVars(data), cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	l.mu.Lock()
	l.path = path
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// Reload re-reads the previously loaded path.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}
	return l.Load(path)
}

// Get returns the current configuration snapshot.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Validate checks cross-field constraints that YAML decoding cannot express.
func (c *Config) Validate() error {
	if c.Console.PollInterval <= 0 {
		return fmt.Errorf("console.poll_interval must be positive, got %s", c.Console.PollInterval)
	}
	if c.Console.CycleDelay <= 0 {
		return fmt.Errorf("console.cycle_delay must be positive, got %s", c.Console.CycleDelay)
	}
	if c.Console.ThreadID == "" {
		return fmt.Errorf("console.thread_id must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	for _, r := range c.Rules {
		switch r.Effect {
		case "execute", "approve", "skip":
		default:
			return fmt.Errorf("rule %q has unknown effect %q", r.Name, r.Effect)
		}
	}
	return nil
}

const defaultConfigTemplate = `# paydeck configuration

console:
  backend_url: http://127.0.0.1:8000
  thread_id: demo_session_1
  poll_interval: 1s
  cycle_delay: 2s
  log_level: info

server:
  port: 8000
  cors: true
  log_level: info
  history_path: ./paydeck.db

agent:
  transactions_log: ./transactions.log
  routing_config: ./routing_config.json
  security_policy: ./security_policy.json
  observe_window: 100

simulator:
  transactions_log: ./transactions.log
  interval: 500ms
  burst_size: 50

rules:
  - name: block-requires-approval
    condition: 'action.type == "BLOCK_IP_RANGE"'
    effect: approve
    message: "Edge blocks are irreversible for live traffic; a human signs off."
  - name: reroute-autonomous
    condition: 'action.type == "REROUTE"'
    effect: execute
    message: "Routing changes are reversible and time-critical."

alerts:
  webhook:
    url: ""
    secret: ""
`

// GenerateDefault writes a commented starter config to path. It refuses to
// overwrite an existing file.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
