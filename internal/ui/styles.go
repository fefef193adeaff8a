package ui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#8B5CF6")
	colorAccent  = lipgloss.Color("#06B6D4")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
	colorDimmed  = lipgloss.Color("#374151")
	colorText    = lipgloss.Color("#F8FAFC")
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDimmed).
			Padding(0, 1)

	focusedPanelStyle = panelStyle.BorderForeground(colorPrimary)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(1, 2).
			Width(56)

	labelStyle    = lipgloss.NewStyle().Foreground(colorMuted)
	valueStyle    = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	selectedStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	statusStyle   = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(colorError)

	buttonStyle       = lipgloss.NewStyle().Foreground(colorText).Background(colorDimmed).Padding(0, 2)
	activeButtonStyle = buttonStyle.Background(colorPrimary).Bold(true)
)

func levelStyle(level string) lipgloss.Style {
	switch level {
	case "error":
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	case "warning":
		return lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	}
}
