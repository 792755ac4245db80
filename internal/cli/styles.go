package cli

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 2)

	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#6EC4F4"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#6EF4A1"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F45E6E"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)
