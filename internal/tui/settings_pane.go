package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentplane/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.PlaneConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget       string
	replicaID        string
	maxAgents        string
	staleThreshold   string
	scheduleInterval string
	snapshotInterval string
	snapshotKeep     string
	telemetryAddr    string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.PlaneConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		visible:     false,
		saved:       false,

		// Initialize form field values from config
		saveTarget:       "global",
		replicaID:        cfg.ReplicaID,
		maxAgents:        strconv.Itoa(cfg.Pool.MaxAgents),
		staleThreshold:   strconv.Itoa(cfg.Pool.StaleThresholdHours),
		scheduleInterval: strconv.Itoa(cfg.Daemon.ScheduleIntervalSec),
		snapshotInterval: strconv.Itoa(cfg.Daemon.SnapshotIntervalSec),
		snapshotKeep:     strconv.Itoa(cfg.Daemon.SnapshotKeep),
		telemetryAddr:    cfg.Telemetry.Addr,
	}

	m.buildForm()
	return m
}

// validatePositiveInt rejects values that are not positive integers.
func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("must be an integer")
	}
	if n <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (config dir)", "global"),
					huh.NewOption("Project (.agentplane/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("replicaID").
				Title("Replica ID").
				Value(&m.replicaID).
				Placeholder("replica-1"),

			huh.NewInput().
				Key("maxAgents").
				Title("Max Agents").
				Value(&m.maxAgents).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("staleThreshold").
				Title("Stale Agent Threshold (hours)").
				Value(&m.staleThreshold).
				Validate(validatePositiveInt),
		).Title("Pool Settings"),

		huh.NewGroup(
			huh.NewInput().
				Key("scheduleInterval").
				Title("Schedule Interval (seconds)").
				Value(&m.scheduleInterval).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("snapshotInterval").
				Title("Snapshot Interval (seconds)").
				Value(&m.snapshotInterval).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("snapshotKeep").
				Title("Snapshots To Keep").
				Value(&m.snapshotKeep).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("telemetryAddr").
				Title("Metrics Address").
				Value(&m.telemetryAddr).
				Placeholder(":9464"),
		).Title("Daemon Settings"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	// Delegate to form
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	// Check if form is completed
	if m.form.State == huh.StateCompleted {
		// Copy form values back to config
		m.applyFormToConfig()

		// Determine save path
		targetPath := m.globalPath
		if m.saveTarget == "project" {
			targetPath = m.projectPath
		}

		// Save config
		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
		}

		// Hide form after successful save
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// Integer fields were validated by the form; parse failures leave the
// previous value in place.
func (m *SettingsPaneModel) applyFormToConfig() {
	m.config.ReplicaID = m.replicaID
	m.config.Telemetry.Addr = m.telemetryAddr

	if n, err := strconv.Atoi(m.maxAgents); err == nil {
		m.config.Pool.MaxAgents = n
	}
	if n, err := strconv.Atoi(m.staleThreshold); err == nil {
		m.config.Pool.StaleThresholdHours = n
	}
	if n, err := strconv.Atoi(m.scheduleInterval); err == nil {
		m.config.Daemon.ScheduleIntervalSec = n
	}
	if n, err := strconv.Atoi(m.snapshotInterval); err == nil {
		m.config.Daemon.SnapshotIntervalSec = n
	}
	if n, err := strconv.Atoi(m.snapshotKeep); err == nil {
		m.config.Daemon.SnapshotKeep = n
	}
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	// Show saved message if just saved
	if m.saved && m.form.State == huh.StateCompleted {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved successfully!")
	} else if m.err != nil {
		// Show error if save failed
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		// Render form
		content = m.form.View()
	}

	// Wrap in styled border
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	body := style.Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	// Reset form state when showing
	if v && m.form != nil {
		// Rebuild form to reset state
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
