package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	tableStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	crashedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// renderState colors a session state for display
func renderState(state string) string {
	switch state {
	case "running":
		return runningStyle.Render(state)
	case "crashed":
		return crashedStyle.Render(state)
	default:
		return stoppedStyle.Render(state)
	}
}
