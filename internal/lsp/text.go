package lsp

import (
	"quill/internal/diag"
	"quill/internal/source"
)

// applyChanges folds full and incremental change events into text, in order.
func applyChanges(text string, changes []textDocumentContentChangeEvent) string {
	for _, change := range changes {
		if change.Range == nil {
			text = change.Text
			continue
		}
		file := source.NewSnapshot("", 0, []byte(text))
		sp := spanForRange(file, *change.Range)
		text = text[:sp.Start] + change.Text + text[sp.End:]
	}
	return text
}

func textEditsFor(file *source.File, edits []diag.TextEdit) []textEdit {
	out := make([]textEdit, 0, len(edits))
	for _, ed := range edits {
		out = append(out, textEdit{
			Range:   rangeForSpan(file, ed.Span),
			NewText: ed.NewText,
		})
	}
	return out
}

func workspaceEditFor(uri string, file *source.File, edits []diag.TextEdit) *workspaceEdit {
	return &workspaceEdit{
		Changes: map[string][]textEdit{uri: textEditsFor(file, edits)},
	}
}
