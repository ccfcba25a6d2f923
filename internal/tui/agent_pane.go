package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentplane/internal/events"
	"github.com/aristath/agentplane/internal/pool"
)

// maxActivityLines caps the per-pane activity log.
const maxActivityLines = 50

// AgentPaneModel shows the fleet on the left: one row per agent with
// status and load, plus a scrolling activity log from lifecycle events.
type AgentPaneModel struct {
	agents   []pool.Agent
	activity []string
	selected int
	viewport viewport.Model
	focused  bool
	width    int
	height   int
}

// NewAgentPaneModel creates a new agent pane model.
func NewAgentPaneModel() AgentPaneModel {
	vp := viewport.New(0, 0)
	return AgentPaneModel{
		viewport: vp,
	}
}

// Update handles messages for the agent pane.
func (m AgentPaneModel) Update(msg tea.Msg) (AgentPaneModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case refreshMsg:
		m.agents = msg.agents
		sort.Slice(m.agents, func(i, j int) bool { return m.agents[i].ID < m.agents[j].ID })
		if m.selected >= len(m.agents) {
			m.selected = 0
		}
		m.viewport.SetContent(m.renderDetail())

	case events.AgentSpawnedEvent:
		m.appendActivity(fmt.Sprintf("spawned %s (%s, capacity %d)", msg.ID, msg.Tier, msg.Capacity))

	case events.AgentExhaustedEvent:
		mode := "hard"
		if msg.Graceful {
			mode = "graceful"
		}
		m.appendActivity(fmt.Sprintf("exhausted %s (%s, %s): %d reassigned, %d released",
			msg.ID, msg.Reason, mode, msg.Reassigned, msg.Released))

	case events.AgentRespawnedEvent:
		m.appendActivity(fmt.Sprintf("respawned %s (capacity %d)", msg.ID, msg.Capacity))

	case events.AgentOfflineEvent:
		m.appendActivity(fmt.Sprintf("offline %s", msg.ID))

	case events.TaskAssignedEvent:
		m.appendActivity(fmt.Sprintf("assigned %s -> %s", msg.ID, msg.AgentID))

	case events.TaskCompletedEvent:
		m.appendActivity(fmt.Sprintf("completed %s by %s", msg.ID, msg.AgentID))

	case events.TaskReleasedEvent:
		m.appendActivity(fmt.Sprintf("released %s from %s", msg.ID, msg.AgentID))

	case tea.KeyMsg:
		if m.focused {
			switch msg.String() {
			case KeyUp:
				if m.selected > 0 {
					m.selected--
					m.viewport.SetContent(m.renderDetail())
				}
			case KeyDown:
				if m.selected < len(m.agents)-1 {
					m.selected++
					m.viewport.SetContent(m.renderDetail())
				}
			default:
				var cmd tea.Cmd
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
		}
	}

	return m, tea.Batch(cmds...)
}

// appendActivity adds a line to the activity log, trimming the oldest
// entries past the cap.
func (m *AgentPaneModel) appendActivity(line string) {
	m.activity = append(m.activity, line)
	if len(m.activity) > maxActivityLines {
		m.activity = m.activity[len(m.activity)-maxActivityLines:]
	}
	m.viewport.SetContent(m.renderDetail())
	m.viewport.GotoBottom()
}

// View renders the agent pane.
func (m AgentPaneModel) View() string {
	borderStyle := StyleUnfocusedBorder
	if m.focused {
		borderStyle = StyleFocusedBorder
	}

	title := StyleTitle.Render("Agents")
	list := m.renderAgentList()
	detail := m.viewport.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, list, detail)

	return borderStyle.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderAgentList renders one row per agent with selection highlight.
func (m AgentPaneModel) renderAgentList() string {
	if len(m.agents) == 0 {
		return StyleHelp.Render("no agents")
	}

	var b strings.Builder
	for i, a := range m.agents {
		icon := StatusIcon(a.Status)
		line := fmt.Sprintf("%s %-12s %-9s %d/%d", icon, a.ID, a.Tier, len(a.CurrentTasks), a.Capacity)
		if i == m.selected {
			line = StyleSelected.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// renderDetail renders the selected agent's detail followed by the
// activity log.
func (m AgentPaneModel) renderDetail() string {
	var b strings.Builder

	if m.selected < len(m.agents) {
		a := m.agents[m.selected]
		b.WriteString(fmt.Sprintf("%s  status: %s  tier: %s\n", a.ID, a.Status, a.Tier))
		b.WriteString(fmt.Sprintf("load: %d/%d  completed: %d  exhaustions: %d\n",
			len(a.CurrentTasks), a.Capacity, a.TasksCompleted, len(a.History)))
		if len(a.CurrentTasks) > 0 {
			ids := make([]string, 0, len(a.CurrentTasks))
			for id := range a.CurrentTasks {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			b.WriteString("tasks: " + strings.Join(ids, ", ") + "\n")
		}
		if !a.NextResetAt.IsZero() {
			b.WriteString("next reset: " + a.NextResetAt.Format("15:04:05") + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(StyleTitle.Render("Activity"))
	b.WriteString("\n")
	if len(m.activity) == 0 {
		b.WriteString(StyleHelp.Render("no activity yet"))
	} else {
		b.WriteString(strings.Join(m.activity, "\n"))
	}
	return b.String()
}

// SetSize updates the pane dimensions.
func (m *AgentPaneModel) SetSize(width, height int) {
	m.width = width
	m.height = height

	// Reserve space for border, title and the agent list
	listLines := len(m.agents) + 2
	vpHeight := height - listLines - 4
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = width - 4
	m.viewport.Height = vpHeight
}

// SetFocused updates the focus state.
func (m *AgentPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

// StatusIcon returns a single-character icon for an agent status.
func StatusIcon(status pool.AgentStatus) string {
	switch status {
	case pool.AgentSpawning:
		return StyleStatusPending.Render("~")
	case pool.AgentAvailable:
		return StyleStatusOK.Render("+")
	case pool.AgentBusy:
		return StyleStatusActive.Render("*")
	case pool.AgentExhausted:
		return StyleStatusError.Render("!")
	case pool.AgentRespawning:
		return StyleStatusPending.Render("~")
	case pool.AgentOffline:
		return StyleStatusError.Render("x")
	default:
		return "?"
	}
}
