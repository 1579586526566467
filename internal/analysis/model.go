package analysis

import (
	"quill/internal/diag"
	"quill/internal/source"
)

// Model is the result of one build: the analysed snapshot and the final,
// listener-processed diagnostics.
type Model struct {
	File        *source.File
	Kind        BuildKind
	Region      source.Span
	Preamble    *Model
	Diagnostics []diag.Diagnostic
	// Dropped counts diagnostics over the configured limit.
	Dropped int
	// Suppressed counts external-linter diagnostics silenced by a marker.
	Suppressed int
	// Cached is set on preamble models reused without a build.
	Cached bool
}

// AllDiagnostics returns preamble diagnostics followed by the model's own.
func (m *Model) AllDiagnostics() []diag.Diagnostic {
	if m == nil {
		return nil
	}
	if m.Preamble == nil {
		return m.Diagnostics
	}
	out := make([]diag.Diagnostic, 0, len(m.Preamble.Diagnostics)+len(m.Diagnostics))
	out = append(out, m.Preamble.Diagnostics...)
	return append(out, m.Diagnostics...)
}

// DiagnosticsAt returns the diagnostics whose primary span overlaps span.
func (m *Model) DiagnosticsAt(span source.Span) []diag.Diagnostic {
	var out []diag.Diagnostic
	for _, d := range m.AllDiagnostics() {
		if d.Primary.Overlaps(span) {
			out = append(out, d)
		}
	}
	return out
}
