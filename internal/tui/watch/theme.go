// Package watch is a terminal view of the live filter and routing stream.
package watch

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme keeps every style of the watch view in one place.
type Theme struct {
	OK     lipgloss.Style
	Failed lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
	Hidden lipgloss.Style
	Border lipgloss.Style
	Table  table.Styles
}

func NewDefaultTheme() Theme {
	accent := lipgloss.Color("#874BFD")

	ts := table.DefaultStyles()
	ts.Header = ts.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	ts.Selected = ts.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(accent)

	return Theme{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(accent).Padding(0, 1),
		Dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Hidden: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		Border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent),
		Table:  ts,
	}
}
