// Package diag defines the diagnostic model shared by the analysis engine,
// feature modules and the editor transport.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity – Info, Warning or Error (severity.go).
//   - Code – compact numeric identifier with a stable string form (codes.go).
//   - Source – provenance of the finding, e.g. ProvenanceCore for the host
//     engine and ProvenanceExternalLinter for the bundled style linter.
//   - Message – short, human oriented text.
//   - Primary – the source.Span the finding points at.
//   - Notes – optional secondary spans.
//   - Fixes – ready-made edits offered with the diagnostic.
//   - Actions – ids of tweaks offered with the diagnostic.
//
// # Ownership
//
// During a build the host owns every Diagnostic and hands listeners a
// pointer to it, one listener at a time. Listeners may rewrite Message,
// Severity, Notes and Actions. Source is identity: the host restores it if a
// listener changes it.
//
// Bag collects the final diagnostics of a build; FormatShort renders them
// for the CLI and for tests.
package diag
