package dash

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/paydeck/paydeck/internal/orchestrator"
)

// Fixed chrome heights: title + metrics + sparkline rows, and the footer.
const (
	headerHeight = 6
	footerHeight = 2
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

type styles struct {
	title       lipgloss.Style
	online      lipgloss.Style
	actionReq   lipgloss.Style
	metricLabel lipgloss.Style
	metricValue lipgloss.Style
	metricBad   lipgloss.Style
	spark       lipgloss.Style
	panelTitle  lipgloss.Style
	modal       lipgloss.Style
	modalTitle  lipgloss.Style
	errText     lipgloss.Style
	help        lipgloss.Style
}

func newStyles() styles {
	var (
		mint  = lipgloss.Color("#2bd4a7")
		amber = lipgloss.Color("#ffb347")
		red   = lipgloss.Color("#ff5f6d")
		muted = lipgloss.Color("#6c7086")
		text  = lipgloss.Color("#cdd6f4")
	)
	return styles{
		title:       lipgloss.NewStyle().Bold(true).Foreground(text),
		online:      lipgloss.NewStyle().Bold(true).Foreground(mint),
		actionReq:   lipgloss.NewStyle().Bold(true).Foreground(amber).Blink(true),
		metricLabel: lipgloss.NewStyle().Foreground(muted),
		metricValue: lipgloss.NewStyle().Bold(true).Foreground(text),
		metricBad:   lipgloss.NewStyle().Bold(true).Foreground(red),
		spark:       lipgloss.NewStyle().Foreground(mint),
		panelTitle:  lipgloss.NewStyle().Bold(true).Foreground(muted),
		modal: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(amber).
			Padding(1, 2),
		modalTitle: lipgloss.NewStyle().Bold(true).Foreground(amber),
		errText:    lipgloss.NewStyle().Foreground(red),
		help:       lipgloss.NewStyle().Foreground(muted),
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "starting console..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if m.snap.Mode == orchestrator.ModeActionRequired {
		b.WriteString(m.renderApprovalModal())
	} else {
		b.WriteString(m.trace.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	mode := m.styles.online.Render("● ONLINE")
	if m.snap.Mode == orchestrator.ModeActionRequired {
		mode = m.styles.actionReq.Render("■ ACTION REQUIRED")
	}
	title := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.title.Render("PAYDECK"),
		"  ",
		m.styles.metricLabel.Render("thread "+m.threadID),
		"  ",
		mode,
	)

	rateStyle := m.styles.metricValue
	if m.summary.SuccessRate < 90 {
		rateStyle = m.styles.metricBad
	}
	metrics := lipgloss.JoinHorizontal(lipgloss.Center,
		m.styles.metricLabel.Render("success "),
		rateStyle.Render(fmt.Sprintf("%.1f%%", m.summary.SuccessRate)),
		m.styles.metricLabel.Render("   avg latency "),
		m.styles.metricValue.Render(fmt.Sprintf("%dms", m.summary.AvgLatency)),
		m.styles.metricLabel.Render("   samples "),
		m.styles.metricValue.Render(fmt.Sprintf("%d", len(m.snap.Telemetry))),
	)

	spark := m.styles.spark.Render(latencySparkline(m.snap, m.sparkWidth()))

	return strings.Join([]string{
		title,
		"",
		metrics,
		spark,
		m.styles.panelTitle.Render("── agent trace ──"),
	}, "\n")
}

func (m Model) sparkWidth() int {
	if m.width > 4 {
		return m.width - 4
	}
	return 40
}

// latencySparkline renders the most recent latencies as a block-rune strip,
// scaled to the window's own maximum.
func latencySparkline(snap orchestrator.Snapshot, width int) string {
	if width <= 0 || len(snap.Telemetry) == 0 {
		return ""
	}

	points := snap.Telemetry
	if len(points) > width {
		points = points[len(points)-width:]
	}

	maxLatency := 0.0
	for _, p := range points {
		if p.LatencyMS > maxLatency {
			maxLatency = p.LatencyMS
		}
	}
	if maxLatency <= 0 {
		return strings.Repeat(string(sparkRunes[0]), len(points))
	}

	var b strings.Builder
	for _, p := range points {
		idx := int(p.LatencyMS / maxLatency * float64(len(sparkRunes)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparkRunes) {
			idx = len(sparkRunes) - 1
		}
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

func (m Model) renderTrace() string {
	if len(m.snap.Trace) == 0 {
		return m.styles.help.Render("waiting for agent activity...")
	}
	var b strings.Builder
	for _, entry := range m.snap.Trace {
		b.WriteString(m.styles.metricLabel.Render(entry.Timestamp.Format("15:04:05")))
		b.WriteString("  ")
		b.WriteString(entry.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// renderApprovalModal is the exclusive prompt shown while a proposal is
// parked at the gate. It replaces the trace panel so the decision cannot be
// missed.
func (m Model) renderApprovalModal() string {
	p := m.snap.Proposal
	lines := []string{
		m.styles.modalTitle.Render("HUMAN APPROVAL REQUIRED"),
		"",
	}

	if p == nil || (p.ActionType == "" && len(p.Fields) == 0) {
		lines = append(lines, "The agent proposed an action but the payload could not be read.")
	} else {
		lines = append(lines,
			fmt.Sprintf("Action:  %s", orEmptyDash(p.ActionType)),
			fmt.Sprintf("Region:  %s", orEmptyDash(p.TargetRegion)),
		)
		for k, v := range p.Fields {
			if k == "action_type" || k == "target_region" {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s:  %v", k, v))
		}
	}

	lines = append(lines, "")
	if m.deciding || m.core.DecisionInFlight() {
		lines = append(lines, m.styles.help.Render("submitting decision..."))
	} else {
		lines = append(lines, m.styles.help.Render("[y] approve    [n] reject"))
	}

	modal := m.styles.modal.Render(strings.Join(lines, "\n"))
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.trace.Height, lipgloss.Center, lipgloss.Center, modal)
	}
	return modal
}

func (m Model) renderFooter() string {
	help := "[q] quit    [↑/↓] scroll trace"
	if m.lastErr != "" {
		return m.styles.errText.Render("decision failed: "+m.lastErr) + "\n" + m.styles.help.Render(help)
	}
	return "\n" + m.styles.help.Render(help)
}

func orEmptyDash(s string) string {
	if s == "" {
		return "(unknown)"
	}
	return s
}
