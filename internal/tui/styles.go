package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/runoshun/crewteam/internal/domain"
)

// Colors defines the color palette for the TUI.
var Colors = struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Muted     lipgloss.Color
	Error     lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Text      lipgloss.Color
	Selected  lipgloss.Color
}{
	Primary:   lipgloss.Color("#6C5CE7"), // Purple
	Secondary: lipgloss.Color("#A29BFE"), // Lavender
	Muted:     lipgloss.Color("#636E72"), // Gray
	Error:     lipgloss.Color("#D63031"), // Red
	Success:   lipgloss.Color("#00B894"), // Green
	Warning:   lipgloss.Color("#FDCB6E"), // Yellow
	Text:      lipgloss.Color("#DFE6E9"), // Light gray
	Selected:  lipgloss.Color("#FFEAA7"), // Pale yellow
}

// Styles holds the rendered styles of every TUI region.
type Styles struct {
	Header       lipgloss.Style
	SectionTitle lipgloss.Style
	Agent        lipgloss.Style
	AgentCursor  lipgloss.Style
	Running      lipgloss.Style
	Exited       lipgloss.Style
	Crashed      lipgloss.Style
	Approval     lipgloss.Style
	Feed         lipgloss.Style
	Muted        lipgloss.Style
	Error        lipgloss.Style
	Input        lipgloss.Style
}

// DefaultStyles returns the default styles.
func DefaultStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(Colors.Text).
			Background(Colors.Primary).
			Padding(0, 1),
		SectionTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(Colors.Secondary).
			MarginTop(1),
		Agent:       lipgloss.NewStyle().Foreground(Colors.Text).PaddingLeft(2),
		AgentCursor: lipgloss.NewStyle().Foreground(Colors.Selected).Bold(true),
		Running:     lipgloss.NewStyle().Foreground(Colors.Success),
		Exited:      lipgloss.NewStyle().Foreground(Colors.Muted),
		Crashed:     lipgloss.NewStyle().Foreground(Colors.Error),
		Approval:    lipgloss.NewStyle().Foreground(Colors.Warning).PaddingLeft(2),
		Feed: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(Colors.Muted),
		Muted: lipgloss.NewStyle().Foreground(Colors.Muted),
		Error: lipgloss.NewStyle().Foreground(Colors.Error),
		Input: lipgloss.NewStyle().Foreground(Colors.Selected),
	}
}

// StateStyle returns the style for an agent's process state.
func (s Styles) StateStyle(a domain.Agent) lipgloss.Style {
	switch {
	case a.IsRunning():
		return s.Running
	case a.ExitReason == domain.ExitCrashed:
		return s.Crashed
	default:
		return s.Exited
	}
}
