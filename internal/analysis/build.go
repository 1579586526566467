package analysis

import (
	"context"
	"sync/atomic"

	"quill/internal/diag"
	"quill/internal/source"
)

// BuildKind distinguishes the shared preamble build from the main-file build.
type BuildKind uint8

const (
	BuildMain BuildKind = iota + 1
	BuildPreamble
)

func (k BuildKind) String() string {
	switch k {
	case BuildMain:
		return "main"
	case BuildPreamble:
		return "preamble"
	default:
		return "unknown"
	}
}

// RawDiagnostic is a finding exactly as the engine produced it.
// Observers read it; the mutable record they may rewrite is a *diag.Diagnostic.
type RawDiagnostic struct {
	Check    string
	Code     diag.Code
	Source   diag.Provenance
	Severity diag.Severity
	Span     source.Span
	Message  string
}

// Diagnostic converts the raw finding into the host-owned record.
func (r RawDiagnostic) Diagnostic() diag.Diagnostic {
	return diag.New(r.Severity, r.Code, r.Source, r.Span, r.Message)
}

// Observer receives the lifecycle of one build. Errors returned from it are
// host failures (lifecycle misuse), never a single module's failure.
type Observer interface {
	BeforeBuild(ctx context.Context, bc *BuildContext) error
	SawDiagnostic(raw RawDiagnostic, d *diag.Diagnostic) error
	// Done releases the per-build state. It is not forwarded to listeners.
	Done()
}

// ObserverFactory returns a fresh Observer for every build, or nil.
type ObserverFactory func() Observer

// BuildContext exposes engine state to BeforeBuild. It is valid only for the
// duration of the build; afterwards every accessor returns zero values.
type BuildContext struct {
	file     *source.File
	kind     BuildKind
	region   source.Span
	preamble *Model
	live     atomic.Bool
}

func newBuildContext(file *source.File, kind BuildKind, region source.Span, preamble *Model) *BuildContext {
	bc := &BuildContext{file: file, kind: kind, region: region, preamble: preamble}
	bc.live.Store(true)
	return bc
}

// NewBuildContext builds a live context for hosts that drive observers
// themselves, mostly tests. Call Invalidate when the build ends.
func NewBuildContext(file *source.File, kind BuildKind) *BuildContext {
	var region source.Span
	if file != nil {
		region = source.Span{File: file.ID, End: file.Size()}
	}
	return newBuildContext(file, kind, region, nil)
}

func (bc *BuildContext) Live() bool {
	return bc != nil && bc.live.Load()
}

func (bc *BuildContext) File() *source.File {
	if !bc.Live() {
		return nil
	}
	return bc.file
}

func (bc *BuildContext) Kind() BuildKind {
	if bc == nil {
		return 0
	}
	return bc.kind
}

// Region is the part of the file this build analyses.
func (bc *BuildContext) Region() source.Span {
	if !bc.Live() {
		return source.Span{}
	}
	return bc.region
}

// Preamble returns the preamble model a main build is layered on, if any.
func (bc *BuildContext) Preamble() *Model {
	if !bc.Live() {
		return nil
	}
	return bc.preamble
}

// Invalidate tears the context down.
func (bc *BuildContext) Invalidate() {
	if bc == nil {
		return
	}
	bc.live.Store(false)
	bc.file = nil
	bc.preamble = nil
}
