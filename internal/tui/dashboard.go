// Package tui renders the live monitor dashboard and the configuration
// wizard.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/georgelake2/plcaudit/internal/monitor"
)

// maxLogLines bounds the event log panel.
const maxLogLines = 12

// Info is the static header of the dashboard.
type Info struct {
	Scenario   string
	Controller string
	BaseTag    string
	PollMs     int
}

type eventMsg monitor.Event
type tickMsg monitor.TickRecord

type copiedMsg struct {
	text string
	err  error
}

// counters tallies classified changes and faults as they arrive.
type counters struct {
	authAudit, unauthAudit uint32
	authPID, unauthPID     uint32
	readFailures           uint32
	commFaults             uint32
	reconnects             uint32
}

// Model is the dashboard's bubbletea model.
type Model struct {
	info   Info
	styles Styles
	width  int

	haveTick  bool
	last      monitor.TickRecord
	commFault bool
	failures  int
	baselined bool
	counts    counters
	log       []string
	status    string
}

// NewModel creates the dashboard model.
func NewModel(info Info) *Model {
	return &Model{
		info:   info,
		styles: DefaultStyles,
		width:  80,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "c":
			if len(m.log) == 0 {
				m.status = "Nothing to copy"
				return m, nil
			}
			return m, copyToClipboard(m.log[len(m.log)-1])
		}
	case copiedMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Copy failed: %v", msg.err)
		} else {
			m.status = "Copied last event to clipboard"
		}
	case tickMsg:
		m.haveTick = true
		m.last = monitor.TickRecord(msg)
		m.failures = 0
	case eventMsg:
		m.applyEvent(monitor.Event(msg))
	}
	return m, nil
}

func copyToClipboard(text string) tea.Cmd {
	return func() tea.Msg {
		return copiedMsg{text: text, err: clipboard.WriteAll(text)}
	}
}

func (m *Model) applyEvent(e monitor.Event) {
	switch e.Kind {
	case monitor.EventBaselinesEstablished:
		m.baselined = true
	case monitor.EventAuditChange:
		if e.Authorized {
			m.counts.authAudit++
		} else {
			m.counts.unauthAudit++
		}
	case monitor.EventPIDChange:
		if e.Authorized {
			m.counts.authPID++
		} else {
			m.counts.unauthPID++
		}
	case monitor.EventReadFailure:
		m.counts.readFailures++
		m.failures = e.Failures
	case monitor.EventCommFaultStart:
		m.counts.commFaults++
		m.commFault = true
	case monitor.EventCommFaultEnd:
		m.commFault = false
	case monitor.EventReconnected:
		m.counts.reconnects++
	}
	m.log = append(m.log, describe(e))
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// describe renders one event as a log line.
func describe(e monitor.Event) string {
	prefix := fmt.Sprintf("#%-5d %8dms %-16s", e.Seq, e.AtMs, e.Kind)
	switch e.Kind {
	case monitor.EventAuditChange:
		return fmt.Sprintf("%s %s %d -> %d", prefix, authWord(e.Authorized), e.Before.Audit, e.After.Audit)
	case monitor.EventPIDChange:
		return fmt.Sprintf("%s %s Kp %g->%g Ki %g->%g Kd %g->%g", prefix, authWord(e.Authorized),
			e.Before.Kp, e.After.Kp, e.Before.Ki, e.After.Ki, e.Before.Kd, e.After.Kd)
	case monitor.EventReadFailure:
		return fmt.Sprintf("%s %d consecutive: %v", prefix, e.Failures, e.Err)
	case monitor.EventReconnected:
		return fmt.Sprintf("%s after %d attempt(s)", prefix, e.Attempts)
	case monitor.EventBaselineSeeded:
		return fmt.Sprintf("%s %s", prefix, e.Field)
	default:
		return strings.TrimRight(prefix, " ")
	}
}

func authWord(authorized bool) string {
	if authorized {
		return "authorized"
	}
	return "UNAUTHORIZED"
}

// View implements tea.Model.
func (m *Model) View() string {
	s := m.styles
	var b strings.Builder

	link := s.Success.Render("COMM OK")
	switch {
	case m.commFault:
		link = s.Error.Render("COMM FAULT")
	case m.failures > 0:
		link = s.Warning.Render(fmt.Sprintf("RETRY %d", m.failures))
	case !m.haveTick:
		link = s.Dim.Render("CONNECTING")
	}
	header := fmt.Sprintf("%s %s %s  %s",
		s.Title.Render("plcaudit"),
		s.Dim.Render("scenario"), s.Bold.Render(m.info.Scenario),
		s.Dim.Render(m.info.Controller+" "+m.info.BaseTag))
	b.WriteString(header + "  " + link + "\n")

	left := m.renderValues()
	right := m.renderCounters()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	b.WriteString("\n")
	b.WriteString(m.renderLog())
	b.WriteString("\n")

	footer := s.KeyBinding.Render("q") + s.Footer.Render(" quit  ") +
		s.KeyBinding.Render("c") + s.Footer.Render(" copy last event")
	if m.status != "" {
		footer += s.Footer.Render("  " + m.status)
	}
	b.WriteString(footer)
	return b.String()
}

func (m *Model) row(label, value string) string {
	return m.styles.Label.Render(label) + m.styles.Base.Render(value)
}

func (m *Model) renderValues() string {
	s := m.styles
	lines := []string{s.PanelTitle.Render("Current")}
	if !m.haveTick {
		lines = append(lines, s.Dim.Render("waiting for first tick"))
		return s.Panel.Render(strings.Join(lines, "\n"))
	}
	cur, base := m.last.Current, m.last.Baseline
	lines = append(lines,
		m.row("AuditValue", fmt.Sprintf("%d (base %d)", cur.Audit, base.Audit)),
		m.row("Authorized", fmt.Sprintf("%d", cur.Authorized)),
		m.row("Kp", fmt.Sprintf("%g", cur.Kp)),
		m.row("Ki", fmt.Sprintf("%g", cur.Ki)),
		m.row("Kd", fmt.Sprintf("%g", cur.Kd)),
		m.row("Poll", fmt.Sprintf("#%d every %dms", m.last.Seq, m.info.PollMs)),
	)
	if !m.baselined {
		lines = append(lines, s.Warning.Render("baselines not established"))
	}
	return s.Panel.Render(strings.Join(lines, "\n"))
}

func (m *Model) renderCounters() string {
	s := m.styles
	c := m.counts
	unauth := s.Base
	if c.unauthAudit+c.unauthPID > 0 {
		unauth = s.Error
	}
	lines := []string{
		s.PanelTitle.Render("Detections"),
		m.row("Audit", fmt.Sprintf("%d auth / ", c.authAudit)) + unauth.Render(fmt.Sprintf("%d unauth", c.unauthAudit)),
		m.row("PID", fmt.Sprintf("%d auth / ", c.authPID)) + unauth.Render(fmt.Sprintf("%d unauth", c.unauthPID)),
		m.row("Read fails", fmt.Sprintf("%d", c.readFailures)),
		m.row("Comm faults", fmt.Sprintf("%d", c.commFaults)),
		m.row("Reconnects", fmt.Sprintf("%d", c.reconnects)),
	}
	return s.Panel.Render(strings.Join(lines, "\n"))
}

func (m *Model) renderLog() string {
	s := m.styles
	lines := []string{s.PanelTitle.Render("Events")}
	if len(m.log) == 0 {
		lines = append(lines, s.Dim.Render("none yet"))
	}
	for _, l := range m.log {
		style := s.Base
		switch {
		case strings.Contains(l, "UNAUTHORIZED"), strings.Contains(l, "COMM_FAULT_START"):
			style = s.Error
		case strings.Contains(l, "READ_FAIL"):
			style = s.Warning
		case strings.Contains(l, "RECONNECTED"), strings.Contains(l, "COMM_FAULT_END"):
			style = s.Info
		}
		lines = append(lines, style.Render(l))
	}
	width := m.width - 2
	if width < 20 {
		width = 20
	}
	return s.Panel.Width(width).Render(strings.Join(lines, "\n"))
}

// Dashboard runs the model in a bubbletea program and feeds it monitor
// events. It implements monitor.EventSink; sends block only until the
// program has exited.
type Dashboard struct {
	program *tea.Program
}

// NewDashboard prepares a full-screen dashboard. Extra options are passed
// to the program (tests use tea.WithInput and tea.WithOutput).
func NewDashboard(info Info, opts ...tea.ProgramOption) *Dashboard {
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	return &Dashboard{program: tea.NewProgram(NewModel(info), opts...)}
}

func (d *Dashboard) HandleEvent(e monitor.Event) { d.program.Send(eventMsg(e)) }

func (d *Dashboard) HandleTick(r monitor.TickRecord) { d.program.Send(tickMsg(r)) }

// Run blocks until the user quits or ctx is done.
func (d *Dashboard) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, d.program.Quit)
	defer stop()
	_, err := d.program.Run()
	return err
}
