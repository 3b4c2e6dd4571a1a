package main

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	anchorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // gray

	roleStyles = map[string]lipgloss.Style{
		"system":    lipgloss.NewStyle().Foreground(lipgloss.Color("5")), // magenta
		"user":      lipgloss.NewStyle().Foreground(lipgloss.Color("4")), // blue
		"assistant": lipgloss.NewStyle().Foreground(lipgloss.Color("6")), // cyan
	}
)
