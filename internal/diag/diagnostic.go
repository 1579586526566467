package diag

import (
	"slices"

	"quill/internal/source"
)

// Provenance names the tool that produced a diagnostic.
type Provenance string

const (
	// ProvenanceUnknown is used when the producer did not tag the diagnostic.
	ProvenanceUnknown Provenance = ""
	// ProvenanceCore marks diagnostics produced by the host analysis engine.
	ProvenanceCore Provenance = "core"
	// ProvenanceExternalLinter marks diagnostics produced by the bundled style linter.
	ProvenanceExternalLinter Provenance = "external-linter"
)

func (p Provenance) String() string {
	if p == ProvenanceUnknown {
		return "unknown"
	}
	return string(p)
}

type Note struct {
	Span source.Span
	Msg  string
}

// TextEdit replaces Span with NewText. OldText, when set, guards the edit:
// the fix engine refuses to apply it if the current text differs.
type TextEdit struct {
	Span    source.Span
	NewText string
	OldText string
}

type Fix struct {
	Title string
	Edits []TextEdit
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Source   Provenance
	Message  string
	Primary  source.Span
	Notes    []Note
	Fixes    []Fix
	// Actions lists tweak ids that are offered together with this diagnostic.
	Actions []string
}

// Clone returns a deep copy, so listeners of one build never share slices
// with diagnostics cached from another.
func (d Diagnostic) Clone() Diagnostic {
	d.Notes = slices.Clone(d.Notes)
	d.Actions = slices.Clone(d.Actions)
	if d.Fixes != nil {
		fixes := make([]Fix, len(d.Fixes))
		for i, f := range d.Fixes {
			fixes[i] = Fix{Title: f.Title, Edits: slices.Clone(f.Edits)}
		}
		d.Fixes = fixes
	}
	return d
}

func New(sev Severity, code Code, src Provenance, primary source.Span, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Source:   src,
		Primary:  primary,
		Message:  msg,
	}
}

func (d Diagnostic) WithNote(sp source.Span, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Span: sp, Msg: msg})
	return d
}

func (d Diagnostic) WithFix(title string, edits ...TextEdit) Diagnostic {
	d.Fixes = append(d.Fixes, Fix{Title: title, Edits: edits})
	return d
}

// AttachAction records a tweak id on the diagnostic once.
func (d *Diagnostic) AttachAction(id string) {
	if id == "" || slices.Contains(d.Actions, id) {
		return
	}
	d.Actions = append(d.Actions, id)
}
