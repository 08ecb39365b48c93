// Package tui implements the corral dashboard, a live view of the
// session registry built with bubbletea. The table refreshes whenever
// the registry watcher reports a change, with a periodic tick as a
// liveness backstop.
package tui

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/corral/internal/session"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// tickInterval is the fallback refresh cadence; the registry watcher
// delivers changes much sooner when file events work.
const tickInterval = 5 * time.Second

type registryChangedMsg struct{}

type tickMsg time.Time

type sessionsMsg []session.Info

type errMsg struct{ err error }

type stoppedMsg struct{ name string }

type cleanedMsg struct{ removed int }

// Model is the bubbletea model for the dashboard
type Model struct {
	manager *session.Manager
	changes <-chan struct{}

	table  table.Model
	keys   KeyMap
	help   help.Model
	status string

	width  int
	height int
}

// NewModel creates a dashboard model over the given manager. The changes
// channel delivers registry watcher notifications.
func NewModel(manager *session.Manager, changes <-chan struct{}) *Model {
	t := table.New(
		table.WithColumns(dashboardColumns(80)),
		table.WithFocused(true),
	)

	return &Model{
		manager: manager,
		changes: changes,
		table:   t,
		keys:    DefaultKeyMap(),
		help:    help.New(),
		status:  "loading...",
	}
}

func dashboardColumns(width int) []table.Column {
	// Fixed columns get what they need; the workdir column absorbs the rest
	nameW, stateW, pidW, startedW := 20, 10, 8, 15
	workdirW := width - nameW - stateW - pidW - startedW - 10
	if workdirW < 10 {
		workdirW = 10
	}
	return []table.Column{
		{Title: "Name", Width: nameW},
		{Title: "State", Width: stateW},
		{Title: "PID", Width: pidW},
		{Title: "Started", Width: startedW},
		{Title: "Workdir", Width: workdirW},
	}
}

// Init starts the refresh loop
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.waitForChange(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks on the watcher channel and resubscribes after
// each delivery.
func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-m.changes; !ok {
			return nil
		}
		return registryChangedMsg{}
	}
}

func (m *Model) refreshCmd() tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		if err := manager.RefreshRegistry(); err != nil {
			return errMsg{err}
		}
		return sessionsMsg(manager.ListSessions())
	}
}

func (m *Model) stopCmd(name string) tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		if err := manager.StopSession(name); err != nil {
			return errMsg{err}
		}
		return stoppedMsg{name: name}
	}
}

func (m *Model) cleanCmd() tea.Cmd {
	manager := m.manager
	return func() tea.Msg {
		removed, err := manager.Clean()
		if err != nil {
			return errMsg{err}
		}
		return cleanedMsg{removed: removed}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, m.keys.Refresh):
			return m, m.refreshCmd()
		case key.Matches(msg, m.keys.Stop):
			if row := m.table.SelectedRow(); row != nil {
				m.status = fmt.Sprintf("stopping %s...", row[0])
				return m, m.stopCmd(row[0])
			}
			return m, nil
		case key.Matches(msg, m.keys.Clean):
			return m, m.cleanCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(dashboardColumns(msg.Width))
		m.table.SetHeight(msg.Height - 6)
		m.help.Width = msg.Width
		return m, nil

	case registryChangedMsg:
		return m, tea.Batch(m.refreshCmd(), m.waitForChange())

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tick())

	case sessionsMsg:
		m.setSessions(msg)
		return m, nil

	case stoppedMsg:
		m.status = fmt.Sprintf("stopped %s", msg.name)
		return m, m.refreshCmd()

	case cleanedMsg:
		m.status = fmt.Sprintf("removed %d finished entries", msg.removed)
		return m, m.refreshCmd()

	case errMsg:
		m.status = fmt.Sprintf("error: %v", msg.err)
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) setSessions(infos []session.Info) {
	rows := make([]table.Row, 0, len(infos))
	running, crashed := 0, 0
	for _, info := range infos {
		switch info.State {
		case session.StateRunning:
			running++
		case session.StateCrashed:
			crashed++
		}

		started := ""
		if !info.StartedAt.IsZero() {
			started = info.StartedAt.Format("Jan 02 15:04")
		}
		state := info.State.String()
		if info.State == session.StateCrashed && info.ExitCode != nil {
			state = fmt.Sprintf("%s (%d)", state, *info.ExitCode)
		}
		rows = append(rows, table.Row{
			info.Name,
			state,
			fmt.Sprintf("%d", info.PID),
			started,
			info.WorkDir,
		})
	}
	m.table.SetRows(rows)
	m.status = fmt.Sprintf("%d sessions · %s %d · %s %d",
		len(infos), renderState("running"), running, renderState("crashed"), crashed)
}

// View renders the dashboard
func (m *Model) View() string {
	return titleStyle.Render("Corral Dashboard") + "\n" +
		tableStyle.Render(m.table.View()) + "\n" +
		statusStyle.Render(m.status) + "\n" +
		m.help.View(m.keys)
}

// Run launches the dashboard and blocks until the user quits.
func Run(manager *session.Manager, changes <-chan struct{}) error {
	p := tea.NewProgram(NewModel(manager, changes), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
