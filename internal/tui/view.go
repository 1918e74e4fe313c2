package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/runoshun/crewteam/internal/domain"
)

// View renders the model.
func (m *Model) View() string {
	sections := []string{
		m.styles.Header.Render("crewteam · " + m.team),
		m.styles.SectionTitle.Render("Agents"),
		m.viewAgents(),
		m.styles.SectionTitle.Render(fmt.Sprintf("Pending approvals (%d)", len(m.approvals))),
		m.viewApprovals(),
		m.styles.Feed.Render(m.feedV.View()),
		m.viewFooter(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) viewAgents() string {
	if len(m.agents) == 0 {
		return m.styles.Muted.PaddingLeft(2).Render("no agents")
	}
	lines := make([]string, 0, len(m.agents))
	for i, a := range m.agents {
		cursor := "  "
		name := a.Name
		if i == m.cursor {
			cursor = m.styles.AgentCursor.Render("> ")
			name = m.styles.AgentCursor.Render(name)
		}
		lines = append(lines, cursor+name+" "+m.styles.StateStyle(a).Render(agentState(a))+
			m.styles.Muted.Render(fmt.Sprintf("  pid %d  %s", a.PID, a.Options.Model)))
	}
	return m.styles.Agent.Render(strings.Join(lines, "\n"))
}

func agentState(a domain.Agent) string {
	if a.IsRunning() {
		return string(domain.AgentRunning)
	}
	return fmt.Sprintf("%s (%d)", a.ExitReason, a.ExitCode)
}

func (m *Model) viewApprovals() string {
	if len(m.approvals) == 0 {
		return m.styles.Muted.PaddingLeft(2).Render("none")
	}
	lines := make([]string, 0, len(m.approvals))
	for _, a := range m.approvals {
		if a.IsPlan() {
			lines = append(lines, fmt.Sprintf("[%s] %s plan: %s", a.RequestID, a.Agent, firstLine(a.PlanContent)))
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s: %s", a.RequestID, a.Agent, a.ToolName, firstLine(a.Description)))
	}
	return m.styles.Approval.Render(strings.Join(lines, "\n"))
}

func (m *Model) viewFooter() string {
	if m.mode == ModeMessage {
		return m.styles.Input.Render("to "+m.target+": ") + m.input.View()
	}
	status := m.styles.Muted.Render(m.status)
	if m.err != nil {
		status = m.styles.Error.Render("error: " + m.err.Error())
	}
	return status + "\n" + m.help.View(m.keys)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
