package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/runnerr0/hxscrub/internal/cleaner"
)

// --- lipgloss styles ---

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	alertStyle   = lipgloss.NewStyle().Bold(true).Border(lipgloss.ThickBorder()).BorderForeground(lipgloss.Color("9")).Padding(0, 1)
)

// printSummary writes the human-readable result of a clean run.
func printSummary(w io.Writer, sum *cleaner.Summary) {
	fmt.Fprintln(w, titleStyle.Render("History cleanup: "+sum.Window))

	for _, r := range sum.Reports {
		line := fmt.Sprintf("  %-8s %-20s %s visits, %s pages", r.Browser, r.Profile,
			formatNumber(r.RowsRemoved), formatNumber(r.PagesRemoved))
		fmt.Fprintln(w, successStyle.Render("✓")+line)
		if r.BackupPath != "" {
			fmt.Fprintln(w, dimStyle.Render("    backup kept at "+r.BackupPath))
		}
	}
	for _, s := range sum.Skipped {
		name := s.Browser
		if s.Profile != "" {
			name += "/" + s.Profile
		}
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("- %s skipped: %s", name, s.Reason)))
	}
	for _, e := range sum.Errors {
		fmt.Fprintln(w, errorStyle.Render("✗ "+e.Error()))
		if e.BackupPath != "" {
			fmt.Fprintln(w, dimStyle.Render("    original kept at "+e.BackupPath))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Visits removed:  %s\n", formatNumber(sum.RowsRemoved))
	fmt.Fprintf(w, "Pages removed:   %s\n", formatNumber(sum.PagesRemoved))
	if sum.CacheFiles > 0 || sum.CacheBytes > 0 {
		fmt.Fprintf(w, "Cache freed:     %s (%s files)\n", formatBytes(sum.CacheBytes), formatNumber(sum.CacheFiles))
	}
	if len(sum.Cleaned) == 0 {
		fmt.Fprintln(w, "Cleaned:         nothing")
	} else {
		fmt.Fprintf(w, "Cleaned:         %v\n", sum.Cleaned)
	}

	if degraded := sum.Degraded(); len(degraded) > 0 {
		fmt.Fprintln(w)
		for _, e := range degraded {
			fmt.Fprintln(w, alertStyle.Render(fmt.Sprintf(
				"RESTORE FAILED for %s %s\nThe history file may be missing. Copy %s back to %s by hand.",
				e.Browser, e.Profile, e.BackupPath, e.Path)))
		}
	}
}
