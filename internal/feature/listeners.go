package feature

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"quill/internal/analysis"
	"quill/internal/diag"
	"quill/internal/trace"
)

type setState uint8

const (
	setCreated setState = iota
	setStarted
	setClosed
)

type attached struct {
	module   string
	l        Listener
	detached bool
}

// ListenerSet fans one build's lifecycle out to the listeners of all
// modules, in registration order. It implements analysis.Observer and is
// driven by a single goroutine.
type ListenerSet struct {
	log     zerolog.Logger
	metrics *Metrics
	entries []attached
	state   setState
	kind    analysis.BuildKind
	tracer  trace.Tracer
	parent  uint64
}

var _ analysis.Observer = (*ListenerSet)(nil)

func newListenerSet(log zerolog.Logger, metrics *Metrics) *ListenerSet {
	return &ListenerSet{log: log, metrics: metrics, tracer: trace.Nop}
}

func (s *ListenerSet) add(module string, l Listener) {
	s.entries = append(s.entries, attached{module: module, l: l})
}

// Len returns the number of attached listeners, detached ones included.
func (s *ListenerSet) Len() int { return len(s.entries) }

// Modules returns the names of modules with a listener in this set.
func (s *ListenerSet) Modules() []string {
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.module)
	}
	return out
}

// BeforeBuild starts the build for every listener. It may be called once.
func (s *ListenerSet) BeforeBuild(ctx context.Context, bc *analysis.BuildContext) error {
	if s.state != setCreated {
		return fmt.Errorf("BeforeBuild called twice or after the build ended: %w", ErrLifecycle)
	}
	if !bc.Live() {
		return fmt.Errorf("BeforeBuild with a dead build context: %w", ErrLifecycle)
	}
	s.state = setStarted
	s.kind = bc.Kind()
	s.tracer = trace.FromContext(ctx)
	s.parent = trace.CurrentSpan(ctx).SpanID
	for i := range s.entries {
		e := &s.entries[i]
		s.metrics.listenerCreated(e.module, s.kind.String())
		s.invoke(e, "beforeBuild", func() error { return e.l.BeforeBuild(ctx, bc) })
	}
	return nil
}

// SawDiagnostic forwards one diagnostic to every listener still attached.
func (s *ListenerSet) SawDiagnostic(raw analysis.RawDiagnostic, d *diag.Diagnostic) error {
	switch {
	case s.state == setCreated:
		return fmt.Errorf("SawDiagnostic before BeforeBuild: %w", ErrLifecycle)
	case s.state == setClosed:
		return fmt.Errorf("SawDiagnostic after the build ended: %w", ErrLifecycle)
	case d == nil:
		return fmt.Errorf("SawDiagnostic without a diagnostic: %w", ErrLifecycle)
	}
	for i := range s.entries {
		e := &s.entries[i]
		if e.detached {
			continue
		}
		before := d.Clone()
		if !s.invoke(e, "sawDiagnostic", func() error { return e.l.SawDiagnostic(raw, d) }) {
			// A failed callback leaves no partial rewrite behind.
			*d = before
			continue
		}
		src, code, primary := before.Source, before.Code, before.Primary
		if d.Source != src || d.Code != code || d.Primary != primary {
			s.log.Warn().
				Str("module", e.module).
				Str("code", code.ID()).
				Str("source", src.String()).
				Msg("listener changed diagnostic identity; restored")
			s.metrics.listenerFailed(e.module, "sawDiagnostic", "identity")
			d.Source, d.Code, d.Primary = src, code, primary
		}
	}
	return nil
}

// Done ends the build and drops every listener instance.
func (s *ListenerSet) Done() {
	s.state = setClosed
	s.entries = nil
	s.tracer = trace.Nop
}

// invoke calls fn for one listener, containing errors and panics, and
// reports whether it succeeded. A panicking listener is detached for the
// rest of the build.
func (s *ListenerSet) invoke(e *attached, callback string, fn func() error) (ok bool) {
	sp := trace.Begin(s.tracer, trace.ScopeModule, "module:"+e.module+":"+callback, s.parent)
	defer func() {
		if r := recover(); r != nil {
			e.detached = true
			s.log.Error().
				Str("module", e.module).
				Str("callback", callback).
				Stringer("kind", s.kind).
				Interface("panic", r).
				Msg("listener panicked; detached for this build")
			s.metrics.listenerFailed(e.module, callback, "panic")
			sp.End("panic")
			ok = false
		}
	}()
	if err := fn(); err != nil {
		s.log.Warn().
			Err(err).
			Str("module", e.module).
			Str("callback", callback).
			Stringer("kind", s.kind).
			Msg("listener failed")
		s.metrics.listenerFailed(e.module, callback, "error")
		sp.End("error")
		return false
	}
	sp.End("")
	return true
}
