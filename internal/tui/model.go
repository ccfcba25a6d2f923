package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentplane/internal/config"
	"github.com/aristath/agentplane/internal/daemon"
	"github.com/aristath/agentplane/internal/events"
	"github.com/aristath/agentplane/internal/pool"
	"github.com/aristath/agentplane/internal/store"
	"github.com/aristath/agentplane/internal/waves"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneAgents PaneID = iota
	PaneTasks
)

// refreshInterval is how often the TUI polls the plane for fresh state
// between events.
const refreshInterval = 2 * time.Second

// refreshMsg carries a polled state sample into the update loop.
type refreshMsg struct {
	agents []pool.Agent
	waves  []waves.Wave
	stats  store.Stats
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	agentPane         AgentPaneModel
	tasksPane         TasksPaneModel
	settingsPane      SettingsPaneModel
	focusedPane       PaneID
	eventSub          <-chan events.Event
	plane             *daemon.Plane
	width             int
	height            int
	quitting          bool
	showSettings      bool
	config            *config.PlaneConfig
	globalConfigPath  string
	projectConfigPath string
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll.
func New(plane *daemon.Plane, cfg *config.PlaneConfig, globalPath, projectPath string) Model {
	return Model{
		agentPane:         NewAgentPaneModel(),
		tasksPane:         NewTasksPaneModel(),
		settingsPane:      NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:       PaneAgents,
		eventSub:          plane.Bus().SubscribeAll(256),
		plane:             plane,
		showSettings:      false,
		config:            cfg,
		globalConfigPath:  globalPath,
		projectConfigPath: projectPath,
	}
}

// Init initializes the model and returns the initial commands.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.refreshCmd())
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// refreshCmd polls the plane after the refresh interval.
func (m Model) refreshCmd() tea.Cmd {
	plane := m.plane
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshMsg{
			agents: plane.Pool().List(),
			waves:  plane.Waves(),
			stats:  plane.Store().Stats(),
		}
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			switch msg.String() {
			case KeySettings, "esc":
				// Toggle settings off
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				// Route to settings pane
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)

				// Check if settings pane closed itself (after save)
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		// Normal mode (settings not open)
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			// Toggle settings on
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab, KeyShiftTab:
			// Two panes; forward and backward cycling coincide
			if m.focusedPane == PaneAgents {
				m.focusedPane = PaneTasks
			} else {
				m.focusedPane = PaneAgents
			}
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneAgents
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		default:
			// Delegate to focused pane
			switch m.focusedPane {
			case PaneAgents:
				var cmd tea.Cmd
				m.agentPane, cmd = m.agentPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneTasks:
				var cmd tea.Cmd
				m.tasksPane, cmd = m.tasksPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case refreshMsg:
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)
		m.tasksPane, cmd = m.tasksPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, m.refreshCmd())

	case events.AgentSpawnedEvent, events.AgentExhaustedEvent, events.AgentRespawnedEvent,
		events.AgentOfflineEvent, events.TaskAssignedEvent, events.TaskCompletedEvent,
		events.TaskReleasedEvent:
		// Forward lifecycle events to the agents pane
		var cmd tea.Cmd
		m.agentPane, cmd = m.agentPane.Update(msg)
		cmds = append(cmds, cmd)
		// Also wait for next event
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.TaskQueuedEvent, events.TaskBlockedEvent, events.PoolStatusEvent,
		events.SnapshotSavedEvent, events.MergeAppliedEvent:
		// Consumed for now; the refresh poll keeps the panes current
		cmds = append(cmds, waitForEvent(m.eventSub))
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	// If settings panel is visible, render it as overlay
	if m.showSettings {
		return m.settingsPane.View()
	}

	// Left: agents, right: tasks and waves
	leftPane := m.agentPane.View()
	rightPane := m.tasksPane.View()

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	// Add help bar at bottom
	helpBar := HelpView()

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, helpBar)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar

	m.agentPane.SetSize(leftWidth, availableHeight)
	m.tasksPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.agentPane.SetFocused(m.focusedPane == PaneAgents)
	m.tasksPane.SetFocused(m.focusedPane == PaneTasks)
}
