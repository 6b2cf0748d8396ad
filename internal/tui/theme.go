package tui

import "github.com/charmbracelet/lipgloss"

// Palette holds the dashboard colors. Link and change states map onto
// Ok, Alert and Fault.
type Palette struct {
	Text   lipgloss.Color
	Dim    lipgloss.Color
	Frame  lipgloss.Color
	Accent lipgloss.Color
	Ok     lipgloss.Color
	Fault  lipgloss.Color
	Alert  lipgloss.Color
	Note   lipgloss.Color
}

// DarkPalette suits dark terminals.
var DarkPalette = Palette{
	Text:   lipgloss.Color("#d8dee9"),
	Dim:    lipgloss.Color("#6b7489"),
	Frame:  lipgloss.Color("#434c5e"),
	Accent: lipgloss.Color("#88c0d0"),
	Ok:     lipgloss.Color("#a3be8c"),
	Fault:  lipgloss.Color("#ebcb8b"),
	Alert:  lipgloss.Color("#bf616a"),
	Note:   lipgloss.Color("#81a1c1"),
}

// Styles are the rendered styles for one palette.
type Styles struct {
	Base  lipgloss.Style
	Dim   lipgloss.Style
	Bold  lipgloss.Style
	Title lipgloss.Style
	Label lipgloss.Style

	Success lipgloss.Style // authorized, link up
	Warning lipgloss.Style // retrying, comm fault
	Error   lipgloss.Style // unauthorized change
	Info    lipgloss.Style

	Panel      lipgloss.Style
	PanelTitle lipgloss.Style
	KeyBinding lipgloss.Style
	Footer     lipgloss.Style
}

// NewStyles builds Styles from p.
func NewStyles(p Palette) Styles {
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Styles{
		Base:  fg(p.Text),
		Dim:   fg(p.Dim),
		Bold:  fg(p.Text).Bold(true),
		Title: fg(p.Accent).Bold(true).Padding(0, 1),
		Label: fg(p.Dim).Width(14),

		Success: fg(p.Ok),
		Warning: fg(p.Fault),
		Error:   fg(p.Alert).Bold(true),
		Info:    fg(p.Note),

		Panel:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.Frame).Padding(0, 1),
		PanelTitle: fg(p.Accent).Bold(true),
		KeyBinding: fg(p.Accent).Bold(true),
		Footer:     fg(p.Dim),
	}
}

// DefaultStyles uses DarkPalette.
var DefaultStyles = NewStyles(DarkPalette)
