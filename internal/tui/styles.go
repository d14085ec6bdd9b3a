package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	likes    lipgloss.Style
	speaker  lipgloss.Style
	text     lipgloss.Style
	choice   lipgloss.Style
	box      lipgloss.Style
	editor   lipgloss.Style
	passed   lipgloss.Style
	failed   lipgloss.Style
	notice   lipgloss.Style
	help     lipgloss.Style
	ending   lipgloss.Style
	illust   lipgloss.Style
	heroines lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		likes:    lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
		speaker:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		text:     lipgloss.NewStyle().PaddingLeft(2),
		choice:   lipgloss.NewStyle().Foreground(lipgloss.Color("229")),
		box:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1),
		editor:   lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
		passed:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		failed:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		notice:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		help:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		ending:   lipgloss.NewStyle().Bold(true).Padding(1, 4),
		illust:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("183")),
		heroines: lipgloss.NewStyle().Foreground(lipgloss.Color("176")),
	}
}
