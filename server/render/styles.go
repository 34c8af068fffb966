package render

import "github.com/charmbracelet/lipgloss"

var (
	colorMuted  = lipgloss.Color("#8b949e")
	colorAccent = lipgloss.Color("#58a6ff")
	colorGood   = lipgloss.Color("#3fb950")
	colorWarm   = lipgloss.Color("#d29922")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	leaderStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGood)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorMuted).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	phaseStyle  = lipgloss.NewStyle().Foreground(colorWarm)
)
