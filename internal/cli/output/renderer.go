// Package output renders command results as styled text or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mode selects how results are written.
type Mode string

// Output modes.
const (
	ModeText Mode = "text"
	ModeJSON Mode = "json"
)

// ParseMode validates an --output value. Empty means text.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(s)) {
	case "", ModeText:
		return ModeText, nil
	case ModeJSON:
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// Styles are the lipgloss styles used in text mode.
type Styles struct {
	Header  lipgloss.Style
	Name    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Added   lipgloss.Style
	Removed lipgloss.Style
	Changed lipgloss.Style
}

func newStyles(lr *lipgloss.Renderer) Styles {
	return Styles{
		Header:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Name:    lr.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:   lr.NewStyle().Foreground(lipgloss.Color("8")),
		Success: lr.NewStyle().Foreground(lipgloss.Color("10")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("11")),
		Error:   lr.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		Added:   lr.NewStyle().Foreground(lipgloss.Color("10")),
		Removed: lr.NewStyle().Foreground(lipgloss.Color("9")),
		Changed: lr.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

// Renderer writes command output. Color is only emitted when out is a
// terminal.
type Renderer struct {
	out    io.Writer
	errOut io.Writer
	mode   Mode
	styles Styles
	title  cases.Caser
}

// NewRenderer creates a Renderer.
func NewRenderer(out, errOut io.Writer, mode Mode) *Renderer {
	if mode == "" {
		mode = ModeText
	}
	return &Renderer{
		out:    out,
		errOut: errOut,
		mode:   mode,
		styles: newStyles(lipgloss.NewRenderer(out)),
		title:  cases.Title(language.English),
	}
}

// Mode returns the output mode.
func (r *Renderer) Mode() Mode { return r.mode }

// JSONMode reports whether results are written as JSON.
func (r *Renderer) JSONMode() bool { return r.mode == ModeJSON }

// Writer returns the result writer.
func (r *Renderer) Writer() io.Writer { return r.out }

// Styles returns the text styles.
func (r *Renderer) Styles() Styles { return r.styles }

// Println writes a line.
func (r *Renderer) Println(a ...any) {
	_, _ = fmt.Fprintln(r.out, a...)
}

// Printf writes formatted text.
func (r *Renderer) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(r.out, format, a...)
}

// Header writes a section heading.
func (r *Renderer) Header(text string) {
	r.Println(r.styles.Header.Render(text))
}

// KeyValue writes an aligned "key: value" line.
func (r *Renderer) KeyValue(key, value string) {
	r.Printf("  %s %s\n", r.styles.Muted.Render(fmt.Sprintf("%-14s", key+":")), value)
}

// Success writes a confirmation line.
func (r *Renderer) Success(msg string) {
	r.Println(r.styles.Success.Render("✓ " + msg))
}

// Warning writes a warning to the error stream.
func (r *Renderer) Warning(msg string) {
	_, _ = fmt.Fprintln(r.errOut, r.styles.Warning.Render("! "+msg))
}

// Table writes rows under header. An empty table prints a placeholder.
func (r *Renderer) Table(header []string, rows [][]string) {
	if len(rows) == 0 {
		r.Println(r.styles.Muted.Render("(none)"))
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)

	head := make(table.Row, len(header))
	for i, h := range header {
		head[i] = h
	}
	t.AppendHeader(head)
	for _, row := range rows {
		tr := make(table.Row, len(row))
		for i, v := range row {
			tr[i] = v
		}
		t.AppendRow(tr)
	}
	t.Render()
}

// JSON writes v as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Title converts "non_breaking" to "Non Breaking".
func (r *Renderer) Title(s string) string {
	return r.title.String(strings.ReplaceAll(s, "_", " "))
}
