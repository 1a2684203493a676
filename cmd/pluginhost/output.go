package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	plugins "github.com/chabad360/plugins/v2"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	loadedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

func stateStyle(s plugins.State) lipgloss.Style {
	switch s {
	case plugins.StateActivated:
		return loadedStyle
	case plugins.StateFailed, plugins.StateRejected:
		return failedStyle
	default:
		return disabledStyle
	}
}

// renderView writes one view as a table.
func renderView(w io.Writer, view plugins.View, ds []plugins.Descriptor) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%s (%d)", strings.ToUpper(view.String()), len(ds))))
	if len(ds) == 0 {
		fmt.Fprintln(w, disabledStyle.Render("  none"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("  %-20s │ %-8s │ %-11s │ %-9s │ %s",
		"NAME", "VERSION", "TYPE", "STATE", "DESCRIPTION")))
	for _, d := range ds {
		name := d.Name
		if name == "" {
			name = "-"
		}
		row := fmt.Sprintf("  %-20s │ %-8s │ %-11s │ %-9s │ %s",
			truncate(name, 20), versionLabel(d), truncate(string(d.Category), 11), d.State, d.Description)
		fmt.Fprintln(w, stateStyle(d.State).Render(row))
		fmt.Fprintln(w, disabledStyle.Render("    "+d.Path))
	}
}

func renderProgress(w io.Writer, e plugins.Event) {
	fmt.Fprintln(w, progressStyle.Render(fmt.Sprintf("[%3d%%] %s", e.Percent, e.Message)))
}

func versionLabel(d plugins.Descriptor) string {
	if d.Name == "" {
		return "-"
	}
	return plugins.FormatVersion(d.Version)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
