package tui

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor   = lipgloss.Color("#A78BFA") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	errorColor     = lipgloss.Color("#F87171") // Red
	mutedColor     = lipgloss.Color("#9CA3AF") // Gray
	borderColor    = lipgloss.Color("#6B7280") // Gray

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	statusStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	doneStyle     = lipgloss.NewStyle().Bold(true).Foreground(secondaryColor)
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	helpStyle     = lipgloss.NewStyle().Foreground(mutedColor)
	timelineStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(borderColor).Padding(0, 1)
)
