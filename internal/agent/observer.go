package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/paydeck/paydeck/internal/telemetry"
)

// Metrics is the observer's derived view of the recent transaction stream.
type Metrics struct {
	// SuccessRate is the fraction (0..1) of samples that succeeded.
	SuccessRate float64
	// FailureClusters counts FAILED samples grouped by
	// region_gateway_errorcode.
	FailureClusters map[string]int
	// SecurityAlerts counts suspected spam samples (REJECTED or 429)
	// grouped by SPAM_ATTACK_<region>.
	SecurityAlerts map[string]int
	// Total is the sample count in the window.
	Total int
}

// Observation is one observer pass: the parsed samples plus their metrics.
type Observation struct {
	Points  []telemetry.Point
	Metrics Metrics
}

// SpamTotal sums the security alert counts.
func (m Metrics) SpamTotal() int {
	total := 0
	for _, n := range m.SecurityAlerts {
		total += n
	}
	return total
}

// Observe reads the tail of the transactions log and derives metrics.
// Unparseable lines are skipped; a missing file reads as an empty window.
// The returned narrative line is what the cycle reports for this node.
func Observe(logPath string, window int) (Observation, string) {
	if window <= 0 {
		window = 100
	}

	obs := Observation{
		Metrics: Metrics{
			SuccessRate:     1.0,
			FailureClusters: make(map[string]int),
			SecurityAlerts:  make(map[string]int),
		},
	}

	for _, line := range tailLines(logPath, window) {
		// The simulator's log format may prefix each JSON payload with
		// timestamp/level text; take everything from the first brace.
		start := strings.IndexByte(line, '{')
		if start < 0 {
			continue
		}
		var p telemetry.Point
		if err := json.Unmarshal([]byte(line[start:]), &p); err != nil {
			continue
		}
		obs.Points = append(obs.Points, p)
	}

	if len(obs.Points) == 0 {
		return obs, "Observer: No valid JSON transactions found in log yet."
	}

	successes := 0
	for _, p := range obs.Points {
		region := orUnknown(p.Region)
		switch {
		case p.Status == telemetry.StatusSuccess:
			successes++
		case p.Status == "REJECTED" || p.ErrorCode == "429":
			obs.Metrics.SecurityAlerts["SPAM_ATTACK_"+region]++
		case p.Status == "FAILED":
			key := fmt.Sprintf("%s_%s_%s", region, orUnknown(p.Gateway), orUnknown(p.ErrorCode))
			obs.Metrics.FailureClusters[key]++
		}
	}

	obs.Metrics.Total = len(obs.Points)
	obs.Metrics.SuccessRate = float64(successes) / float64(len(obs.Points))

	line := fmt.Sprintf("Observer: Successfully parsed %d transactions.", obs.Metrics.Total)
	if spam := obs.Metrics.SpamTotal(); spam > 0 {
		line += fmt.Sprintf(" ALERT: Detected %d potential spam attempts.", spam)
	}
	return obs, line
}

func orUnknown(s string) string {
	if s == "" {
		return "UNK"
	}
	return s
}

// tailLines returns the last n non-empty lines of the file at path.
func tailLines(path string, n int) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	all := strings.Split(string(data), "\n")
	lines := make([]string, 0, len(all))
	for _, line := range all {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
