package tweak

import (
	"fmt"

	"quill/internal/analysis"
	"quill/internal/diag"
	"quill/internal/source"
)

// Selection is the immutable input of one tweak invocation. Tweaks must not
// keep it after Prepare or Apply return.
type Selection struct {
	file  *source.File
	span  source.Span
	model *analysis.Model
}

// NewSelection checks that span lies inside file. model may be nil.
func NewSelection(file *source.File, span source.Span, model *analysis.Model) (*Selection, error) {
	if file == nil {
		return nil, fmt.Errorf("selection: nil file")
	}
	if span.End < span.Start || span.End > file.Size() {
		return nil, fmt.Errorf("selection: span %s outside %s (%d bytes)", span, file.Path, file.Size())
	}
	span.File = file.ID
	return &Selection{file: file, span: span, model: model}, nil
}

func (s *Selection) File() *source.File     { return s.file }
func (s *Selection) Span() source.Span      { return s.span }
func (s *Selection) Model() *analysis.Model { return s.model }

// Text returns the selected text.
func (s *Selection) Text() string {
	return s.file.Text(s.span)
}

// Lines returns the first and last 1-based line touched by the selection.
func (s *Selection) Lines() (first, last uint32) {
	return s.file.Position(s.span.Start).Line, s.file.Position(s.span.End).Line
}

// Diagnostics returns the model's diagnostics overlapping the selection.
func (s *Selection) Diagnostics() []diag.Diagnostic {
	if s.model == nil {
		return nil
	}
	return s.model.DiagnosticsAt(s.span)
}

// Equivalent reports whether o names the same text in the same file version.
func (s *Selection) Equivalent(o *Selection) bool {
	if s == nil || o == nil {
		return s == o
	}
	return s.file.Path == o.file.Path &&
		s.file.Version == o.file.Version &&
		s.file.Hash == o.file.Hash &&
		s.span.Start == o.span.Start &&
		s.span.End == o.span.End
}
