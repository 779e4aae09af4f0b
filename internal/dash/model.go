// Package dash renders the console: a full-screen terminal dashboard over
// the orchestration core. It polls the core's snapshot on a fixed tick and
// owns the approval prompt; all remote traffic stays inside the core.
package dash

import (
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/paydeck/paydeck/internal/orchestrator"
	"github.com/paydeck/paydeck/internal/telemetry"
)

const defaultRenderInterval = 250 * time.Millisecond

type tickMsg time.Time

type decisionDoneMsg struct {
	err error
}

// Core is the slice of the orchestrator the dashboard needs. Narrow on
// purpose so view logic is testable without a live backend.
type Core interface {
	Snapshot() orchestrator.Snapshot
	Summary() telemetry.Summary
	Decide(approved bool) error
	DecisionInFlight() bool
}

// Model is the bubbletea model for the console.
type Model struct {
	core     Core
	threadID string
	interval time.Duration

	snap    orchestrator.Snapshot
	summary telemetry.Summary

	deciding bool
	lastErr  string

	width  int
	height int
	ready  bool
	trace  viewport.Model

	styles   styles
	quitting bool
}

// New creates the console model. interval is the render poll cadence; zero
// means the default 250ms.
func New(core Core, threadID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = defaultRenderInterval
	}
	return Model{
		core:     core,
		threadID: threadID,
		interval: interval,
		snap:     core.Snapshot(),
		summary:  core.Summary(),
		styles:   newStyles(),
	}
}

// Run starts the console and blocks until it exits.
func Run(m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tickEvery(m.interval)
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) decideCmd(approved bool) tea.Cmd {
	core := m.core
	return func() tea.Msg {
		return decisionDoneMsg{err: core.Decide(approved)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		cmds = append(cmds, tickEvery(m.interval))

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.ready = true

	case decisionDoneMsg:
		m.deciding = false
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		} else {
			m.lastErr = ""
		}
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "y", "Y":
			if m.promptActive() {
				m.deciding = true
				cmds = append(cmds, m.decideCmd(true))
			}
		case "n", "N":
			if m.promptActive() {
				m.deciding = true
				cmds = append(cmds, m.decideCmd(false))
			}
		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.trace, cmd = m.trace.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// promptActive reports whether the approval prompt accepts input: a proposal
// is parked and no decision round-trip is outstanding.
func (m Model) promptActive() bool {
	return m.snap.Mode == orchestrator.ModeActionRequired &&
		!m.deciding && !m.core.DecisionInFlight()
}

func (m *Model) refresh() {
	m.snap = m.core.Snapshot()
	m.summary = m.core.Summary()
	if m.ready {
		atBottom := m.trace.AtBottom()
		m.trace.SetContent(m.renderTrace())
		if atBottom {
			m.trace.GotoBottom()
		}
	}
}

func (m *Model) resize() {
	traceHeight := m.height - headerHeight - footerHeight
	if traceHeight < 3 {
		traceHeight = 3
	}
	if !m.ready {
		m.trace = viewport.New(m.width, traceHeight)
	} else {
		m.trace.Width = m.width
		m.trace.Height = traceHeight
	}
	m.trace.SetContent(m.renderTrace())
	m.trace.GotoBottom()
}
