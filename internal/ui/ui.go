// Package ui renders the indicator in a terminal status view. It is the
// concrete presenter adapter: environments with a native status bar swap in
// their own Presenter implementation instead.
package ui

import (
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/breezebar/breezebar/internal/poll"
	"github.com/breezebar/breezebar/internal/settings"
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder())

	tooltipStyle = lipgloss.NewStyle().
			Faint(true).
			PaddingLeft(1)

	helpStyle = lipgloss.NewStyle().
			Faint(true).
			PaddingTop(1)
)

// statusMsg carries a presenter update into the bubbletea loop.
type statusMsg struct {
	text    string
	tooltip string
}

// Presenter forwards controller renders into a running bubbletea program.
// Updates arriving before the program is attached are kept and replayed.
type Presenter struct {
	mu      sync.Mutex
	program *tea.Program
	text    string
	tooltip string
}

// NewPresenter creates a detached presenter.
func NewPresenter() *Presenter {
	return &Presenter{text: poll.TextPending}
}

// Attach connects the presenter to a program and pushes the latest state.
func (p *Presenter) Attach(program *tea.Program) {
	p.mu.Lock()
	p.program = program
	msg := statusMsg{text: p.text, tooltip: p.tooltip}
	p.mu.Unlock()

	program.Send(msg)
}

// SetText renders the indicator label.
func (p *Presenter) SetText(text string) {
	p.mu.Lock()
	p.text = text
	msg := statusMsg{text: p.text, tooltip: p.tooltip}
	program := p.program
	p.mu.Unlock()

	if program != nil {
		program.Send(msg)
	}
}

// SetTooltip renders the indicator tooltip.
func (p *Presenter) SetTooltip(tooltip string) {
	p.mu.Lock()
	p.tooltip = tooltip
	msg := statusMsg{text: p.text, tooltip: p.tooltip}
	program := p.program
	p.mu.Unlock()

	if program != nil {
		program.Send(msg)
	}
}

// Model is the bubbletea model for the status view.
type Model struct {
	ctrl    *poll.Controller
	text    string
	tooltip string
}

// NewModel creates the status view model.
func NewModel(ctrl *poll.Controller) Model {
	return Model{ctrl: ctrl, text: poll.TextPending}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		m.text = msg.text
		m.tooltip = msg.tooltip
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.ctrl.Refresh()
		case "u":
			m.ctrl.RequestLocationUpdate()
		case "i":
			current := m.ctrl.Snapshot().IntervalSeconds
			_ = m.ctrl.SetInterval(settings.NextInterval(current))
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	snapshot := m.ctrl.Snapshot()

	label := labelStyle.Render("AQI " + m.text)
	tooltip := ""
	if m.tooltip != "" {
		tooltip = tooltipStyle.Render(m.tooltip)
	}

	help := helpStyle.Render(fmt.Sprintf(
		"r refresh · u update location · i interval (%s) · q quit",
		formatInterval(snapshot.IntervalSeconds),
	))

	return lipgloss.JoinVertical(lipgloss.Left, label, tooltip, help)
}

func formatInterval(seconds int) string {
	switch {
	case seconds >= 3600 && seconds%3600 == 0:
		return fmt.Sprintf("%dh", seconds/3600)
	case seconds >= 60 && seconds%60 == 0:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// Run starts the status view and blocks until the user quits.
func Run(ctrl *poll.Controller, presenter *Presenter) error {
	program := tea.NewProgram(NewModel(ctrl))
	presenter.Attach(program)

	_, err := program.Run()
	return err
}
