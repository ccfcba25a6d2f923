package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agentplane/internal/store"
	"github.com/aristath/agentplane/internal/task"
	"github.com/aristath/agentplane/internal/waves"
)

// TasksPaneModel shows task status counts, a progress bar, and the
// execution waves computed from the dependency graph.
type TasksPaneModel struct {
	stats    store.Stats
	waves    []waves.Wave
	viewport viewport.Model
	focused  bool
	width    int
	height   int
}

// NewTasksPaneModel creates a new tasks pane model.
func NewTasksPaneModel() TasksPaneModel {
	vp := viewport.New(0, 0)
	return TasksPaneModel{
		viewport: vp,
	}
}

// Update handles messages for the tasks pane.
func (m TasksPaneModel) Update(msg tea.Msg) (TasksPaneModel, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case refreshMsg:
		m.stats = msg.stats
		m.waves = msg.waves
		m.viewport.SetContent(m.renderWaves())

	case tea.KeyMsg:
		if m.focused {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the tasks pane.
func (m TasksPaneModel) View() string {
	borderStyle := StyleUnfocusedBorder
	if m.focused {
		borderStyle = StyleFocusedBorder
	}

	title := StyleTitle.Render("Tasks")
	summary := m.renderSummary()
	wavesView := m.viewport.View()

	content := lipgloss.JoinVertical(lipgloss.Left, title, summary, wavesView)

	return borderStyle.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderSummary renders status counts and a progress bar.
func (m TasksPaneModel) renderSummary() string {
	var b strings.Builder

	total := m.stats.TotalTasks
	done := m.stats.ByStatus[task.StatusDone.String()]
	active := m.stats.ByStatus[task.StatusAssigned.String()] + m.stats.ByStatus[task.StatusInProgress.String()]
	escalated := m.stats.ByStatus[task.StatusEscalated.String()]

	b.WriteString(fmt.Sprintf("total: %d  done: %d  active: %d  escalated: %d\n", total, done, active, escalated))

	// Sorted status breakdown
	names := make([]string, 0, len(m.stats.ByStatus))
	for name := range m.stats.ByStatus {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%d", name, m.stats.ByStatus[name]))
	}
	if len(parts) > 0 {
		b.WriteString(StyleHelp.Render(strings.Join(parts, "  ")))
		b.WriteString("\n")
	}

	b.WriteString(m.renderProgressBar(done, active, escalated, total))
	b.WriteString("\n")
	return b.String()
}

// renderProgressBar renders a fixed-width bar: '=' done, '*' active,
// '!' escalated, '.' remaining.
func (m TasksPaneModel) renderProgressBar(done, active, escalated, total int) string {
	barWidth := m.width - 8
	if barWidth < 10 {
		barWidth = 10
	}
	if total == 0 {
		return "[" + strings.Repeat(".", barWidth) + "]"
	}

	doneW := done * barWidth / total
	activeW := active * barWidth / total
	escW := escalated * barWidth / total
	rest := barWidth - doneW - activeW - escW
	if rest < 0 {
		rest = 0
	}

	return "[" +
		StyleStatusOK.Render(strings.Repeat("=", doneW)) +
		StyleStatusActive.Render(strings.Repeat("*", activeW)) +
		StyleStatusError.Render(strings.Repeat("!", escW)) +
		strings.Repeat(".", rest) +
		"]"
}

// renderWaves renders the wave breakdown for the open tasks.
func (m TasksPaneModel) renderWaves() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Waves"))
	b.WriteString("\n")

	if len(m.waves) == 0 {
		b.WriteString(StyleHelp.Render("no open tasks"))
		return b.String()
	}

	for i, w := range m.waves {
		if w.Blocked {
			b.WriteString(StyleStatusError.Render(fmt.Sprintf("blocked (%d tasks)", len(w.TaskIDs))))
			b.WriteString("\n")
			ids := make([]string, 0, len(w.Reasons))
			for id := range w.Reasons {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				b.WriteString(fmt.Sprintf("  %s: %s\n", id, w.Reasons[id]))
			}
			continue
		}
		b.WriteString(fmt.Sprintf("wave %d: %s\n", i+1, strings.Join(w.TaskIDs, ", ")))
	}

	return b.String()
}

// SetSize updates the pane dimensions.
func (m *TasksPaneModel) SetSize(width, height int) {
	m.width = width
	m.height = height

	vpHeight := height - 8
	if vpHeight < 3 {
		vpHeight = 3
	}
	m.viewport.Width = width - 4
	m.viewport.Height = vpHeight
}

// SetFocused updates the focus state.
func (m *TasksPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
