package report

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/mailsync/mailsync/pkg/engine"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	colorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	colorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	colorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	colorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	colorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
)

// styles holds the lipgloss styles of one report writer. The renderer is
// bound to the output so color is dropped when it is not a terminal.
type styles struct {
	header  lipgloss.Style
	create  lipgloss.Style
	update  lipgloss.Style
	delete  lipgloss.Style
	applied lipgloss.Style
	failed  lipgloss.Style
	skipped lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{plain, plain, plain, plain, plain, plain, plain, plain}
	}

	r := lipgloss.NewRenderer(w)
	return styles{
		header:  r.NewStyle().Bold(true).Foreground(colorBlue),
		create:  r.NewStyle().Foreground(colorGreen),
		update:  r.NewStyle().Foreground(colorYellow),
		delete:  r.NewStyle().Foreground(colorRed),
		applied: r.NewStyle().Bold(true).Foreground(colorGreen),
		failed:  r.NewStyle().Bold(true).Foreground(colorRed),
		skipped: r.NewStyle().Foreground(colorGray),
		muted:   r.NewStyle().Foreground(colorGray).Italic(true),
	}
}

// change returns the style for a change type.
func (s styles) change(t engine.ChangeType) lipgloss.Style {
	switch t {
	case engine.ChangeCreate:
		return s.create
	case engine.ChangeUpdate:
		return s.update
	case engine.ChangeDelete:
		return s.delete
	default:
		return s.muted
	}
}

// outcome returns the style for an apply outcome.
func (s styles) outcome(o engine.Outcome) lipgloss.Style {
	switch o {
	case engine.OutcomeApplied:
		return s.applied
	case engine.OutcomeFailed:
		return s.failed
	default:
		return s.skipped
	}
}
