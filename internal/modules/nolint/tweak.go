package nolint

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"quill/internal/diag"
	"quill/internal/fix"
	"quill/internal/source"
	"quill/internal/tweak"
)

type suppressTweak struct {
	m *Module
}

func (t *suppressTweak) ID() string       { return TweakID }
func (t *suppressTweak) Title() string    { return "Suppress lint warning" }
func (t *suppressTweak) Kind() tweak.Kind { return tweak.KindQuickFix }

// Prepare is true when the selection touches an external-linter finding.
func (t *suppressTweak) Prepare(_ context.Context, sel *tweak.Selection) bool {
	t.m.log.Debug().Str("selection", sel.Text()).Msg("NoLint: prepare")
	_, ok := target(sel)
	return ok
}

func (t *suppressTweak) Apply(_ context.Context, sel *tweak.Selection) (tweak.Effect, error) {
	t.m.log.Debug().Str("selection", sel.Text()).Msg("NoLint: apply")
	model := sel.Model()
	if model == nil || model.File == nil || model.File.Hash != sel.File().Hash {
		return tweak.Effect{}, fmt.Errorf("analysis does not match the buffer: %w", tweak.ErrStale)
	}
	tg, ok := target(sel)
	if !ok {
		return tweak.Effect{}, fmt.Errorf("no lint finding under the selection: %w", tweak.ErrStale)
	}

	file := sel.File()
	ls := file.LineSpan(tg.line)
	text := file.Text(ls)
	marker := t.m.opts.Marker
	idx := strings.Index(text, marker)
	if idx < 0 {
		at := source.Span{File: file.ID, Start: ls.End, End: ls.End}
		return tweak.EditEffect(fix.InsertText(at, fmt.Sprintf(" // %s(%s)", marker, strings.Join(tg.codes, ", ")))), nil
	}

	// The line already has a marker; widen its list if it names codes.
	rest := text[idx+len(marker):]
	closeIdx := strings.IndexByte(rest, ')')
	if !strings.HasPrefix(rest, "(") || closeIdx < 0 {
		return tweak.MessageEffect("already suppressed"), nil
	}
	var listed []string
	for _, c := range strings.Split(rest[1:closeIdx], ",") {
		if c = strings.TrimSpace(c); c != "" {
			listed = append(listed, c)
		}
	}
	if len(listed) == 0 {
		// An empty list silences every check.
		return tweak.MessageEffect("already suppressed"), nil
	}
	var missing []string
	for _, c := range tg.codes {
		if !slices.Contains(listed, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return tweak.MessageEffect("already suppressed"), nil
	}
	off := ls.Start + uint32(idx+len(marker)+closeIdx) //nolint:gosec // within one line
	at := source.Span{File: file.ID, Start: off, End: off}
	return tweak.EditEffect(fix.InsertText(at, ", "+strings.Join(missing, ", "))), nil
}

type suppression struct {
	line  uint32
	codes []string
}

// target picks the first external-linter finding under the selection and
// every other one on the same line.
func target(sel *tweak.Selection) (suppression, bool) {
	var tg suppression
	for _, d := range sel.Diagnostics() {
		if d.Source != diag.ProvenanceExternalLinter {
			continue
		}
		line := sel.File().Position(d.Primary.Start).Line
		if tg.line == 0 {
			tg.line = line
		}
		if line == tg.line && !slices.Contains(tg.codes, d.Code.ID()) {
			tg.codes = append(tg.codes, d.Code.ID())
		}
	}
	return tg, tg.line != 0
}
