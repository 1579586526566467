// Package nolint offers a quick fix that silences external-linter findings
// with a NOLINT marker, and a listener that annotates those findings and
// links them to the fix.
package nolint

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"quill/internal/feature"
	"quill/internal/tweak"
)

const (
	Name    = "nolint"
	TweakID = "NoLint"
)

type Options struct {
	// Marker is the suppression marker the analysis engine honours.
	Marker string
	// Annotation is appended to external-linter messages; empty disables it.
	Annotation string
}

func DefaultOptions() Options {
	return Options{Marker: "NOLINT", Annotation: "(linted)"}
}

type Module struct {
	opts      Options
	log       zerolog.Logger
	annotated atomic.Int64
}

var (
	_ feature.LSPBinding       = (*Module)(nil)
	_ feature.TweakContributor = (*Module)(nil)
	_ feature.ListenerFactory  = (*Module)(nil)
	_ feature.Fingerprinter    = (*Module)(nil)
)

func New(opts Options, log zerolog.Logger) *Module {
	if opts.Marker == "" {
		opts.Marker = DefaultOptions().Marker
	}
	return &Module{opts: opts, log: log.With().Str("module", Name).Logger()}
}

func (m *Module) Name() string { return Name }

// InitializeLSP binds nothing; the tweak reaches clients through code actions.
func (m *Module) InitializeLSP(_ *feature.Binder, _ json.RawMessage, _ feature.Capabilities) error {
	m.log.Debug().Msg("NoLint: initializeLSP")
	return nil
}

func (m *Module) ContributeTweaks(out []tweak.Tweak) []tweak.Tweak {
	return append(out, &suppressTweak{m: m})
}

// ConfigFingerprint covers the options that end up in annotated messages
// and suppression actions.
func (m *Module) ConfigFingerprint() string {
	return "marker=" + strconv.Quote(m.opts.Marker) + ";annotation=" + strconv.Quote(m.opts.Annotation)
}

func (m *Module) NewListener() feature.Listener {
	return &listener{m: m}
}

// Annotated returns how many diagnostics the module's listeners annotated.
func (m *Module) Annotated() int64 { return m.annotated.Load() }
