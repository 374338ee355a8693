package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mailsync/mailsync/pkg/stores"
)

// Runs renders journal entries, newest first, as a table.
func (r *Reporter) Runs(runs []stores.Run) error {
	switch r.opts.Format {
	case FormatJSON:
		return r.writeJSON(runs)
	case FormatYAML:
		return r.writeYAML(runs)
	}

	if len(runs) == 0 {
		_, err := fmt.Fprintln(r.w, "No runs recorded.")
		return err
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.StartedAt.Local().Format(time.DateTime),
			string(run.Status),
			strconv.Itoa(run.Applied),
			strconv.Itoa(run.Failed),
			strconv.Itoa(run.Skipped),
			run.Duration().Round(time.Millisecond).String(),
			run.Document,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.muted).
		Headers("RUN", "STARTED", "STATUS", "APPLIED", "FAILED", "SKIPPED", "DURATION", "DOCUMENT").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.styles.header.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	_, err := fmt.Fprintln(r.w, t.String())
	return err
}

// Run renders one journal entry with its per-change results.
func (r *Reporter) Run(run *stores.Run) error {
	switch r.opts.Format {
	case FormatJSON:
		return r.writeJSON(run)
	case FormatYAML:
		return r.writeYAML(run)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", r.styles.header.Render("Run "+run.ID))
	fmt.Fprintf(&b, "  document:  %s\n", run.Document)
	fmt.Fprintf(&b, "  target:    %s\n", run.Target)
	fmt.Fprintf(&b, "  status:    %s\n", run.Status)
	fmt.Fprintf(&b, "  started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "  duration:  %s\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "  results:   %d applied, %d failed, %d skipped\n\n", run.Applied, run.Failed, run.Skipped)

	for _, rec := range run.Results {
		line := fmt.Sprintf("  %-7s %s %s/%s", rec.Outcome, rec.ChangeType.Symbol(), rec.Resource, rec.Key)
		if rec.Error != "" {
			line += ": " + rec.Error
		}
		b.WriteString(r.styles.outcome(rec.Outcome).Render(line))
		b.WriteByte('\n')
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}
