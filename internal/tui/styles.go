package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors chosen for contrast on dark terminals
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	textColor    = lipgloss.Color("#F9FAFB") // Light text
	borderColor  = lipgloss.Color("#6B7280") // Gray

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(mutedColor)

	statLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	statValueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor)

	eventStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)
)

// stateColor maps a session state string to its display color.
func stateColor(state string) lipgloss.Color {
	switch state {
	case "running":
		return successColor
	case "waiting", "starting", "initializing":
		return warningColor
	case "error":
		return errorColor
	case "completed":
		return primaryColor
	default:
		return mutedColor
	}
}
