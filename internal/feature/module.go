package feature

import (
	"context"
	"encoding/json"

	"quill/internal/analysis"
	"quill/internal/diag"
	"quill/internal/tweak"
)

type Module interface {
	// Name identifies the module in configuration, logs and metrics.
	Name() string
}

// LSPBinding registers protocol handlers and capabilities. It is only
// called by hosts that talk to an editor; modules must work without it.
type LSPBinding interface {
	InitializeLSP(b *Binder, clientCaps json.RawMessage, serverCaps Capabilities) error
}

// TweakContributor appends fresh tweak instances to out and returns it.
// It must never drop or reorder what out already holds.
type TweakContributor interface {
	ContributeTweaks(out []tweak.Tweak) []tweak.Tweak
}

// ListenerFactory returns a fresh listener for one build, or nil.
type ListenerFactory interface {
	NewListener() Listener
}

// Fingerprinter describes the configuration that shapes what a module's
// listeners write. Two instances with equal fingerprints must rewrite
// diagnostics identically.
type Fingerprinter interface {
	ConfigFingerprint() string
}

// Listener observes one build: BeforeBuild once, then SawDiagnostic for
// every diagnostic in discovery order. The instance is dropped when the
// build ends; no call signals that.
//
// SawDiagnostic may rewrite the message, severity, notes, fixes and actions
// of d. Provenance, code and span are restored by the host if changed, and
// every rewrite is discarded when the call errors or panics.
type Listener interface {
	BeforeBuild(ctx context.Context, bc *analysis.BuildContext) error
	SawDiagnostic(raw analysis.RawDiagnostic, d *diag.Diagnostic) error
}
