package fix

import (
	"quill/internal/diag"
	"quill/internal/source"
)

// InsertText inserts text at the position of at (at.Start == at.End).
func InsertText(at source.Span, text string) diag.TextEdit {
	return diag.TextEdit{
		Span:    source.Span{File: at.File, Start: at.Start, End: at.Start},
		NewText: text,
	}
}

// DeleteSpan removes span; expect, when set, guards the current text.
func DeleteSpan(span source.Span, expect string) diag.TextEdit {
	return diag.TextEdit{Span: span, OldText: expect}
}

// ReplaceSpan replaces span with newText; expect, when set, guards the current text.
func ReplaceSpan(span source.Span, newText, expect string) diag.TextEdit {
	return diag.TextEdit{Span: span, NewText: newText, OldText: expect}
}

// WrapWith surrounds span with prefix and suffix insertions.
func WrapWith(span source.Span, prefix, suffix string) []diag.TextEdit {
	return []diag.TextEdit{
		{Span: source.Span{File: span.File, Start: span.Start, End: span.Start}, NewText: prefix},
		{Span: source.Span{File: span.File, Start: span.End, End: span.End}, NewText: suffix},
	}
}

// New builds a titled fix.
func New(title string, edits ...diag.TextEdit) diag.Fix {
	return diag.Fix{Title: title, Edits: edits}
}
