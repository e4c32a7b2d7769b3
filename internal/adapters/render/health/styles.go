package health

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	server    lipgloss.Style
	key       lipgloss.Style
	detail    lipgloss.Style
	healthy   lipgloss.Style
	unhealthy lipgloss.Style
	warning   lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		server:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		key:       lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		healthy:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("114")),
		unhealthy: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
	}
}
