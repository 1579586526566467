package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"quill/internal/diag"
	"quill/internal/source"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan, color.Bold)
	gutterColor  = color.New(color.FgBlue)
	noteColor    = color.New(color.Bold)
)

func severityColor(sev diag.Severity) *color.Color {
	switch sev {
	case diag.SevError:
		return errorColor
	case diag.SevWarning:
		return warningColor
	default:
		return infoColor
	}
}

// renderPretty prints each diagnostic as
//
//	<path>:<line>:<col>: <SEV> <CODE>: <message>
//
// followed by the source line, a ^~~~ underline under the primary span and
// the notes, fixes and tweaks attached to it.
func renderPretty(w io.Writer, fs *source.FileSet, diags []diag.Diagnostic) {
	for i := range diags {
		d := &diags[i]
		file := fs.Get(d.Primary.File)
		if file == nil {
			continue
		}
		start := file.Position(d.Primary.Start)
		sev := severityColor(d.Severity)
		fmt.Fprintf(w, "%s:%d:%d: %s %s: %s\n",
			displayPath(file.Path), start.Line, start.Col,
			sev.Sprint(diag.SeverityLabel(d.Severity)), d.Code.ID(), d.Message)
		writeSnippet(w, file, d.Primary, sev)
		for _, note := range d.Notes {
			fmt.Fprintf(w, "  %s %s\n", noteColor.Sprint("= note:"), note.Msg)
		}
		for _, f := range d.Fixes {
			fmt.Fprintf(w, "  %s %s\n", noteColor.Sprint("= fix:"), f.Title)
		}
		for _, id := range d.Actions {
			fmt.Fprintf(w, "  %s %s\n", noteColor.Sprint("= tweak:"), id)
		}
	}
}

func writeSnippet(w io.Writer, file *source.File, span source.Span, sev *color.Color) {
	start := file.Position(span.Start)
	line := file.GetLine(start.Line)
	if line == "" && span.Empty() {
		return
	}
	gutter := fmt.Sprintf("%d", start.Line)
	pad := strings.Repeat(" ", len(gutter))
	fmt.Fprintf(w, "%s %s\n", pad, gutterColor.Sprint("|"))
	fmt.Fprintf(w, "%s %s %s\n", gutterColor.Sprint(gutter), gutterColor.Sprint("|"), expandTabs(line))
	fmt.Fprintf(w, "%s %s %s\n", pad, gutterColor.Sprint("|"), sev.Sprint(underline(file, span)))
}

// underline returns the marker for span on its first line, measured in
// display columns so wide runes stay aligned.
func underline(file *source.File, span source.Span) string {
	lineSpan := file.LineSpan(file.Position(span.Start).Line)
	end := min(span.End, lineSpan.End)
	prefix := file.Text(source.Span{File: span.File, Start: lineSpan.Start, End: span.Start})
	marked := file.Text(source.Span{File: span.File, Start: span.Start, End: max(end, span.Start)})

	indent := runewidth.StringWidth(expandTabs(prefix))
	width := runewidth.StringWidth(expandTabs(marked))
	if width == 0 {
		return strings.Repeat(" ", indent) + "^"
	}
	return strings.Repeat(" ", indent) + "^" + strings.Repeat("~", width-1)
}

func expandTabs(s string) string {
	return strings.ReplaceAll(s, "\t", "    ")
}

func displayPath(path string) string {
	if rel, err := filepath.Rel(".", path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

type locationJSON struct {
	File      string `json:"file"`
	StartByte uint32 `json:"start_byte"`
	EndByte   uint32 `json:"end_byte"`
	StartLine uint32 `json:"start_line"`
	StartCol  uint32 `json:"start_col"`
	EndLine   uint32 `json:"end_line"`
	EndCol    uint32 `json:"end_col"`
}

type noteJSON struct {
	Message  string       `json:"message"`
	Location locationJSON `json:"location"`
}

type fixJSON struct {
	Title string `json:"title"`
	Edits int    `json:"edits"`
}

type diagnosticJSON struct {
	Severity string       `json:"severity"`
	Code     string       `json:"code"`
	Source   string       `json:"source"`
	Message  string       `json:"message"`
	Location locationJSON `json:"location"`
	Notes    []noteJSON   `json:"notes,omitempty"`
	Fixes    []fixJSON    `json:"fixes,omitempty"`
	Actions  []string     `json:"actions,omitempty"`
}

type fileResultJSON struct {
	Path        string           `json:"path"`
	Error       string           `json:"error,omitempty"`
	Fixed       int              `json:"fixed,omitempty"`
	Diagnostics []diagnosticJSON `json:"diagnostics"`
}

type checkOutputJSON struct {
	Files    []fileResultJSON `json:"files"`
	Findings int              `json:"findings"`
}

func locationFor(fs *source.FileSet, span source.Span) locationJSON {
	loc := locationJSON{StartByte: span.Start, EndByte: span.End}
	file := fs.Get(span.File)
	if file == nil {
		return loc
	}
	loc.File = filepath.ToSlash(file.Path)
	start, end := file.Resolve(span)
	loc.StartLine, loc.StartCol = start.Line, start.Col
	loc.EndLine, loc.EndCol = end.Line, end.Col
	return loc
}

func diagnosticsJSON(fs *source.FileSet, diags []diag.Diagnostic) []diagnosticJSON {
	out := make([]diagnosticJSON, 0, len(diags))
	for i := range diags {
		d := &diags[i]
		item := diagnosticJSON{
			Severity: diag.SeverityLabel(d.Severity),
			Code:     d.Code.ID(),
			Source:   d.Source.String(),
			Message:  d.Message,
			Location: locationFor(fs, d.Primary),
			Actions:  d.Actions,
		}
		for _, n := range d.Notes {
			item.Notes = append(item.Notes, noteJSON{Message: n.Msg, Location: locationFor(fs, n.Span)})
		}
		for _, f := range d.Fixes {
			item.Fixes = append(item.Fixes, fixJSON{Title: f.Title, Edits: len(f.Edits)})
		}
		out = append(out, item)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
