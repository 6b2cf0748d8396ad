package tui

import (
	"fmt"
	"strings"

	"github.com/georgelake2/plcaudit/internal/metrics"
)

// RenderSummary renders the end-of-run metrics as a bordered panel.
func RenderSummary(m metrics.Metrics) string {
	s := DefaultStyles
	row := func(label, value string) string {
		return s.Label.Render(label) + s.Base.Render(value)
	}
	ms := func(v int64) string {
		if v < 0 {
			return "-"
		}
		return fmt.Sprintf("%d ms", v)
	}

	unauth := s.Base
	if m.UnauthorizedAuditChanges+m.UnauthorizedPIDChanges > 0 {
		unauth = s.Error
	}
	lines := []string{
		s.PanelTitle.Render("Run summary: " + m.Scenario),
		row("Audit", fmt.Sprintf("%d authorized / ", m.AuthorizedAuditChanges)) +
			unauth.Render(fmt.Sprintf("%d unauthorized", m.UnauthorizedAuditChanges)),
		row("PID", fmt.Sprintf("%d authorized / ", m.AuthorizedPIDChanges)) +
			unauth.Render(fmt.Sprintf("%d unauthorized", m.UnauthorizedPIDChanges)),
		row("Read fails", fmt.Sprintf("%d", m.ReadFailures)),
		row("Comm faults", fmt.Sprintf("%d (%s total)", m.CommFaultIntervals, ms(m.TotalCommFaultDurMs))),
		row("Baseline at", ms(m.BaselineEstablishedMs)),
		row("First change", ms(m.FirstDetectionMs)),
	}
	return s.Panel.Render(strings.Join(lines, "\n"))
}
