package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Format selects the report encoding.
type Format string

const (
	// FormatText is the human-readable, optionally colored, format.
	FormatText Format = "text"

	// FormatJSON is indented JSON of the engine types.
	FormatJSON Format = "json"

	// FormatYAML is YAML with the same field names as FormatJSON.
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name. The empty string means text.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q (want text, json or yaml)", s)
	}
}

// Options controls a Reporter.
type Options struct {
	Format Format

	// Verbose adds the full before and after payload of every change.
	Verbose bool

	// Color allows ANSI colors when the output is a terminal.
	Color bool
}

// Reporter renders diffs and apply reports to one writer.
type Reporter struct {
	w      io.Writer
	opts   Options
	styles styles
}

// New creates a Reporter writing to w.
func New(w io.Writer, opts Options) *Reporter {
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return &Reporter{
		w:      w,
		opts:   opts,
		styles: newStyles(w, opts.Color),
	}
}

// Format returns the encoding of the reporter.
func (r *Reporter) Format() Format {
	return r.opts.Format
}

// Diff renders a DiffResult.
func (r *Reporter) Diff(diff *engine.DiffResult) error {
	switch r.opts.Format {
	case FormatJSON:
		return r.writeJSON(diff)
	case FormatYAML:
		return r.writeYAML(diff)
	}

	if !diff.HasChanges {
		_, err := fmt.Fprintln(r.w, "No changes. Remote state matches the document.")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", r.styles.header.Render(fmt.Sprintf(
		"Plan: %d to create, %d to update, %d to delete.",
		diff.Summary.Create, diff.Summary.Update, diff.Summary.Delete)))

	width := idWidth(diff.Changes)
	for _, c := range diff.Changes {
		style := r.styles.change(c.Type)
		line := fmt.Sprintf("  %s %-*s  %s", c.Type.Symbol(), width, c.ID(), describeChange(c))
		b.WriteString(style.Render(line))
		b.WriteByte('\n')
		if r.opts.Verbose {
			r.writePayloads(&b, c)
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

// Progress renders one resolved change as a single line. It is meant to be
// used as an engine observer while a run is in flight.
func (r *Reporter) Progress(res engine.ChangeResult) {
	if r.opts.Format != FormatText {
		return
	}
	_, _ = io.WriteString(r.w, r.resultLine(res))
}

// Apply renders an ApplyReport. Text output lists every result and then the
// summary.
func (r *Reporter) Apply(report *engine.ApplyReport) error {
	switch r.opts.Format {
	case FormatJSON:
		return r.writeJSON(report)
	case FormatYAML:
		return r.writeYAML(report)
	}

	var b strings.Builder
	for _, res := range report.Results {
		b.WriteString(r.resultLine(res))
	}
	b.WriteString(r.summaryLine(report))
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Summary renders only the closing summary of an ApplyReport. Structured
// formats render the whole report.
func (r *Reporter) Summary(report *engine.ApplyReport) error {
	if r.opts.Format != FormatText {
		return r.Apply(report)
	}
	_, err := io.WriteString(r.w, r.summaryLine(report))
	return err
}

// Policy renders policy warnings and denials in text mode.
func (r *Reporter) Policy(warnings, denials []string) {
	if r.opts.Format != FormatText {
		return
	}
	for _, w := range warnings {
		fmt.Fprintln(r.w, r.styles.update.Render("warning: "+w))
	}
	for _, d := range denials {
		fmt.Fprintln(r.w, r.styles.failed.Render("denied: "+d))
	}
}

func (r *Reporter) resultLine(res engine.ChangeResult) string {
	label := map[engine.Outcome]string{
		engine.OutcomeApplied: "ok",
		engine.OutcomeFailed:  "FAIL",
		engine.OutcomeSkipped: "skip",
	}[res.Outcome]

	line := fmt.Sprintf("%-4s  %s %s", label, res.Change.Type.Symbol(), res.Change.ID())
	switch res.Outcome {
	case engine.OutcomeFailed:
		if res.Error != nil {
			line += ": " + res.Error.Error()
		}
		line += fmt.Sprintf(" (%s)", attempts(res.Attempts))
	case engine.OutcomeSkipped:
		if res.SkipReason != "" {
			line += ": " + res.SkipReason
		}
	default:
		line += fmt.Sprintf(" (%s, %s)", attempts(res.Attempts), res.Duration.Round(time.Millisecond))
	}
	return r.styles.outcome(res.Outcome).Render(line) + "\n"
}

func (r *Reporter) summaryLine(report *engine.ApplyReport) string {
	s := report.Summary
	if report.DryRun {
		return r.styles.muted.Render(fmt.Sprintf(
			"Dry run: %d change(s) would be applied. Nothing was changed.", s.Skipped)) + "\n"
	}

	line := fmt.Sprintf("Run %s %s: %d applied, %d failed, %d skipped in %s.",
		report.RunID, report.Status, s.Applied, s.Failed, s.Skipped,
		report.Duration().Round(time.Millisecond))

	style := r.styles.applied
	if !report.Status.IsSuccessful() {
		style = r.styles.failed
	}
	return style.Render(line) + "\n"
}

func (r *Reporter) writePayloads(b *strings.Builder, c engine.Change) {
	if c.Current != nil {
		fmt.Fprintf(b, "      %s %s\n", r.styles.muted.Render("before:"), payload(c.Current))
	}
	if c.Desired != nil {
		fmt.Fprintf(b, "      %s %s\n", r.styles.muted.Render("after: "), payload(c.Desired))
	}
}

func (r *Reporter) writeJSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML goes through JSON so both formats share the json field names.
func (r *Reporter) writeYAML(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	enc := yaml.NewEncoder(r.w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return enc.Close()
}

// describeChange summarizes what a change does in one short phrase.
func describeChange(c engine.Change) string {
	switch c.Type {
	case engine.ChangeCreate:
		return describe(c.Desired)
	case engine.ChangeDelete:
		return describe(c.Current)
	case engine.ChangeUpdate:
		desc := describe(c.Current) + " -> " + describe(c.Desired)
		if len(c.Reason) > 0 {
			desc += " [" + strings.Join(c.Reason, ", ") + "]"
		}
		return desc
	default:
		return ""
	}
}

func describe(s *engine.Snapshot) string {
	switch {
	case s == nil:
		return ""
	case s.Endpoint != nil:
		return fmt.Sprintf("%s %s", s.Endpoint.Type, s.Endpoint.Target())
	case s.Binding != nil:
		return s.Binding.String()
	default:
		return "store-only"
	}
}

func payload(s *engine.Snapshot) string {
	var v any = s
	switch {
	case s.Endpoint != nil:
		v = s.Endpoint
	case s.Binding != nil:
		v = s.Binding
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(raw)
}

func idWidth(changes []engine.Change) int {
	width := 0
	for _, c := range changes {
		width = max(width, len(c.ID()))
	}
	return width
}

func attempts(n int) string {
	if n == 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts", n)
}
