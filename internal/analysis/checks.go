package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"fortio.org/safecast"

	"quill/internal/diag"
	"quill/internal/fix"
	"quill/internal/source"
)

// Check names, as reported in RawDiagnostic.Check and accepted inside
// suppression markers next to the code ids.
const (
	CheckLineLength  = "line-length"
	CheckTrailing    = "trailing-space"
	CheckMixedIndent = "mixed-indent"
	CheckUnbalanced  = "unbalanced"
	CheckFinalNL     = "final-newline"
	CheckTodoOwner   = "todo-owner"
	CheckDoubleBlank = "double-blank"
)

// line is one physical line handed to the line checks.
type line struct {
	num       uint32
	span      source.Span // without the newline
	text      string
	prevBlank bool
}

type lineCheck func(e *Engine, ln line, emit func(RawDiagnostic))

var lineChecks = []lineCheck{
	checkLineLength,
	checkTrailingSpace,
	checkMixedIndent,
	checkTodoOwner,
	checkDoubleBlank,
}

func off32(n int) uint32 {
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("offset overflow: %w", err))
	}
	return v
}

func checkLineLength(e *Engine, ln line, emit func(RawDiagnostic)) {
	limit := e.opts.MaxLineLength
	if limit <= 0 {
		return
	}
	n := utf8.RuneCountInString(ln.text)
	if n <= limit {
		return
	}
	// Byte offset of the first rune past the limit.
	cut, runes := 0, 0
	for i := range ln.text {
		if runes == limit {
			cut = i
			break
		}
		runes++
	}
	emit(RawDiagnostic{
		Check:    CheckLineLength,
		Code:     diag.CoreLineTooLong,
		Source:   diag.ProvenanceCore,
		Severity: diag.SevWarning,
		Span:     source.Span{File: ln.span.File, Start: ln.span.Start + off32(cut), End: ln.span.End},
		Message:  fmt.Sprintf("line is %d characters long (limit %d)", n, limit),
	})
}

func checkTrailingSpace(_ *Engine, ln line, emit func(RawDiagnostic)) {
	trimmed := strings.TrimRight(ln.text, " \t")
	if len(trimmed) == len(ln.text) || trimmed == "" {
		return
	}
	start := ln.span.Start + off32(len(trimmed))
	emit(RawDiagnostic{
		Check:    CheckTrailing,
		Code:     diag.CoreTrailingSpace,
		Source:   diag.ProvenanceCore,
		Severity: diag.SevWarning,
		Span:     source.Span{File: ln.span.File, Start: start, End: ln.span.End},
		Message:  "trailing whitespace",
	})
}

func checkMixedIndent(_ *Engine, ln line, emit func(RawDiagnostic)) {
	indent := ln.text[:len(ln.text)-len(strings.TrimLeft(ln.text, " \t"))]
	if !strings.Contains(indent, " ") || !strings.Contains(indent, "\t") {
		return
	}
	emit(RawDiagnostic{
		Check:    CheckMixedIndent,
		Code:     diag.CoreMixedIndent,
		Source:   diag.ProvenanceCore,
		Severity: diag.SevWarning,
		Span:     source.Span{File: ln.span.File, Start: ln.span.Start, End: ln.span.Start + off32(len(indent))},
		Message:  "indentation mixes tabs and spaces",
	})
}

func checkTodoOwner(_ *Engine, ln line, emit func(RawDiagnostic)) {
	comment := commentStart(ln.text)
	if comment < 0 {
		return
	}
	body := ln.text[comment:]
	for idx := 0; ; {
		i := strings.Index(body[idx:], "TODO")
		if i < 0 {
			return
		}
		at := idx + i
		idx = at + len("TODO")
		if (at > 0 && isWordByte(body[at-1])) || (idx < len(body) && isWordByte(body[idx])) {
			continue
		}
		if idx < len(body) && body[idx] == '(' {
			continue
		}
		start := ln.span.Start + off32(comment+at)
		emit(RawDiagnostic{
			Check:    CheckTodoOwner,
			Code:     diag.LintTodoOwner,
			Source:   diag.ProvenanceExternalLinter,
			Severity: diag.SevWarning,
			Span:     source.Span{File: ln.span.File, Start: start, End: start + off32(len("TODO"))},
			Message:  "TODO has no owner; write TODO(name)",
		})
		return
	}
}

func checkDoubleBlank(_ *Engine, ln line, emit func(RawDiagnostic)) {
	if !ln.prevBlank || strings.TrimSpace(ln.text) != "" {
		return
	}
	emit(RawDiagnostic{
		Check:    CheckDoubleBlank,
		Code:     diag.LintDoubleBlank,
		Source:   diag.ProvenanceExternalLinter,
		Severity: diag.SevInfo,
		Span:     ln.span,
		Message:  "consecutive blank lines",
	})
}

// checkDelimiters reports unmatched brackets in region. Text inside double
// quotes, backquotes and after "//" is ignored.
func checkDelimiters(file *source.File, region source.Span, emit func(RawDiagnostic)) {
	type open struct {
		ch  byte
		off uint32
	}
	var stack []open
	text := file.Content[region.Start:region.End]
	var quote byte
	comment := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		off := region.Start + off32(i)
		switch {
		case comment:
			if c == '\n' {
				comment = false
			}
			continue
		case quote != 0:
			if c == '\\' && quote == '"' {
				i++
			} else if c == quote || (c == '\n' && quote == '"') {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '`':
			quote = c
		case '/':
			if i+1 < len(text) && text[i+1] == '/' {
				comment = true
			}
		case '(', '[', '{':
			stack = append(stack, open{ch: c, off: off})
		case ')', ']', '}':
			want := matching(c)
			if len(stack) > 0 && stack[len(stack)-1].ch == want {
				stack = stack[:len(stack)-1]
				continue
			}
			emit(RawDiagnostic{
				Check:    CheckUnbalanced,
				Code:     diag.CoreUnbalanced,
				Source:   diag.ProvenanceCore,
				Severity: diag.SevError,
				Span:     source.Span{File: file.ID, Start: off, End: off + 1},
				Message:  fmt.Sprintf("unmatched %q", c),
			})
		}
	}
	for _, o := range stack {
		emit(RawDiagnostic{
			Check:    CheckUnbalanced,
			Code:     diag.CoreUnbalanced,
			Source:   diag.ProvenanceCore,
			Severity: diag.SevError,
			Span:     source.Span{File: file.ID, Start: o.off, End: o.off + 1},
			Message:  fmt.Sprintf("unclosed %q", o.ch),
		})
	}
}

func checkFinalNewline(file *source.File, emit func(RawDiagnostic)) {
	size := file.Size()
	if size == 0 || file.Content[size-1] == '\n' {
		return
	}
	emit(RawDiagnostic{
		Check:    CheckFinalNL,
		Code:     diag.CoreMissingNewline,
		Source:   diag.ProvenanceCore,
		Severity: diag.SevInfo,
		Span:     source.Span{File: file.ID, Start: size, End: size},
		Message:  "file does not end with a newline",
	})
}

func matching(c byte) byte {
	switch c {
	case ')':
		return '('
	case ']':
		return '['
	default:
		return '{'
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// commentStart returns the byte index where a line comment begins, or -1.
// "//" inside a double-quoted string does not count.
func commentStart(text string) int {
	if t := strings.TrimLeft(text, " \t"); strings.HasPrefix(t, "#") {
		return len(text) - len(t)
	}
	inString := false
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\\':
			if inString {
				i++
			}
		case '"':
			inString = !inString
		case '/':
			if !inString && i+1 < len(text) && text[i+1] == '/' {
				return i
			}
		}
	}
	return -1
}

// fixFor returns the built-in fix of a core finding, if it has one.
func fixFor(file *source.File, raw RawDiagnostic) (diag.Fix, bool) {
	switch raw.Check {
	case CheckTrailing:
		return fix.New("Remove trailing whitespace", fix.DeleteSpan(raw.Span, file.Text(raw.Span))), true
	case CheckFinalNL:
		return fix.New("Add final newline", fix.InsertText(raw.Span, "\n")), true
	}
	return diag.Fix{}, false
}
