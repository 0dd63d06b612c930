package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// minNotesWidth is the narrowest wrap width used for bloc notes.
const minNotesWidth = 24

// markdownRenderer renders bloc notes and caches the last result per width.
type markdownRenderer struct {
	width    int
	renderer *glamour.TermRenderer

	lastInput  string
	lastOutput string
}

// render converts notes markdown into ANSI-styled text wrapped at width.
// Rendering failures fall back to the raw notes.
func (r *markdownRenderer) render(notes string, width int) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ""
	}
	width = max(width, minNotesWidth)

	if r.renderer == nil || r.width != width {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return notes
		}
		r.renderer = renderer
		r.width = width
		r.lastInput = ""
	}
	if r.lastInput == notes && r.lastOutput != "" {
		return r.lastOutput
	}

	rendered, err := r.renderer.Render(notes)
	if err != nil {
		return notes
	}
	r.lastInput = notes
	r.lastOutput = strings.TrimRight(rendered, "\n")
	return r.lastOutput
}
