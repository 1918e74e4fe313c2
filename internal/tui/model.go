package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/runoshun/crewteam/internal/domain"
)

// Mode represents the current UI mode.
type Mode int

const (
	ModeNormal  Mode = iota // Agent navigation
	ModeMessage             // Typing a message to the selected agent
)

// maxFeedLines bounds the event feed kept in memory.
const maxFeedLines = 1000

// Controller is the part of the session controller the TUI drives.
type Controller interface {
	Agents() []domain.Agent
	PendingApprovals() []domain.Approval
	Answer(ctx context.Context, requestID string, approved bool, feedback string) error
	Send(ctx context.Context, agent, text string) error
	KillAgent(ctx context.Context, name string) error
}

// Model is the bubbletea model of a team session.
type Model struct {
	// Dependencies
	ctrl   Controller
	events <-chan domain.Event
	err    error

	// State
	agents    []domain.Agent
	approvals []domain.Approval
	feed      []string

	// Components
	keys  KeyMap
	help  help.Model
	feedV viewport.Model
	input textinput.Model

	styles Styles
	team   string
	status string
	target string // recipient while in ModeMessage

	mode   Mode
	cursor int
	width  int
	height int
}

// New creates a Model reading events from events.
func New(ctrl Controller, team string, events <-chan domain.Event) *Model {
	in := textinput.New()
	in.Placeholder = "Message..."
	in.CharLimit = 4000

	m := &Model{
		ctrl:   ctrl,
		events: events,
		team:   team,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		feedV:  viewport.New(80, 10),
		input:  in,
		styles: DefaultStyles(),
	}
	m.refresh()
	return m
}

// Init starts listening for controller events.
func (m *Model) Init() tea.Cmd {
	return m.waitForEvent()
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == ModeMessage {
			return m.handleInputKey(msg)
		}
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.updateLayout()
		return m, nil

	case MsgEvent:
		m.appendFeed(msg.Event)
		m.refresh()
		return m, m.waitForEvent()

	case MsgActionDone:
		m.err = msg.Err
		m.status = msg.Status
		m.refresh()
		return m, nil

	case MsgEventsClosed:
		m.status = "event stream closed"
		return m, nil
	}

	var cmd tea.Cmd
	m.feedV, cmd = m.feedV.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.agents)-1 {
			m.cursor++
		}
		return m, nil

	case key.Matches(msg, m.keys.Approve):
		return m, m.answerOldest(true)

	case key.Matches(msg, m.keys.Reject):
		return m, m.answerOldest(false)

	case key.Matches(msg, m.keys.Message):
		agent, ok := m.selectedRunning()
		if !ok {
			m.status = "no running agent selected"
			return m, nil
		}
		m.mode = ModeMessage
		m.target = agent.Name
		m.input.Reset()
		return m, m.input.Focus()

	case key.Matches(msg, m.keys.Kill):
		agent, ok := m.selectedRunning()
		if !ok {
			m.status = "no running agent selected"
			return m, nil
		}
		name := agent.Name
		return m, func() tea.Msg {
			err := m.ctrl.KillAgent(context.Background(), name)
			return MsgActionDone{Err: err, Status: "killed " + name}
		}
	}

	var cmd tea.Cmd
	m.feedV, cmd = m.feedV.Update(msg)
	return m, cmd
}

func (m *Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.leaveInput()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		target := m.target
		m.leaveInput()
		if text == "" {
			return m, nil
		}
		return m, func() tea.Msg {
			err := m.ctrl.Send(context.Background(), target, text)
			return MsgActionDone{Err: err, Status: "sent to " + target}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) leaveInput() {
	m.mode = ModeNormal
	m.target = ""
	m.input.Blur()
	m.input.Reset()
}

// answerOldest answers the oldest pending permission or plan request.
func (m *Model) answerOldest(approved bool) tea.Cmd {
	if len(m.approvals) == 0 {
		m.status = "no pending requests"
		return nil
	}
	a := m.approvals[0]
	verb := "rejected"
	if approved {
		verb = "approved"
	}
	return func() tea.Msg {
		err := m.ctrl.Answer(context.Background(), a.RequestID, approved, "")
		return MsgActionDone{Err: err, Status: fmt.Sprintf("%s %s from %s", verb, a.RequestID, a.Agent)}
	}
}

// waitForEvent blocks on the next controller event.
func (m *Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return MsgEventsClosed{}
		}
		return MsgEvent{Event: ev}
	}
}

// refresh reloads agents and approvals from the controller.
func (m *Model) refresh() {
	m.agents = m.ctrl.Agents()
	m.approvals = m.ctrl.PendingApprovals()
	if m.cursor >= len(m.agents) {
		m.cursor = max(len(m.agents)-1, 0)
	}
	m.updateLayout()
}

func (m *Model) appendFeed(ev domain.Event) {
	line := ev.Summary()
	if !ev.Time.IsZero() {
		line = ev.Time.Format("15:04:05") + " " + line
	}
	m.feed = append(m.feed, line)
	if len(m.feed) > maxFeedLines {
		m.feed = m.feed[len(m.feed)-maxFeedLines:]
	}
	m.feedV.SetContent(strings.Join(m.feed, "\n"))
	m.feedV.GotoBottom()
}

// SelectedAgent returns the agent under the cursor.
func (m *Model) SelectedAgent() (domain.Agent, bool) {
	if m.cursor < 0 || m.cursor >= len(m.agents) {
		return domain.Agent{}, false
	}
	return m.agents[m.cursor], true
}

func (m *Model) selectedRunning() (domain.Agent, bool) {
	a, ok := m.SelectedAgent()
	return a, ok && a.IsRunning()
}

// updateLayout sizes the feed to the space left by the fixed sections.
func (m *Model) updateLayout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	// header, two section titles with margins, footer lines, feed border
	fixed := 1 + 2 + len(m.agents) + 2 + len(m.approvals) + 2 + 2
	m.feedV.Width = max(m.width-2, 10)
	m.feedV.Height = max(m.height-fixed, 3)
}
