package feature

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"

	"quill/internal/analysis"
	"quill/internal/diag"
	"quill/internal/source"
	"quill/internal/tweak"
)

// fakeModule implements every capability through optional funcs.
type fakeModule struct {
	name     string
	tweaks   func() []tweak.Tweak
	listener func() Listener
	lsp      func(b *Binder, caps Capabilities) error
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) ContributeTweaks(out []tweak.Tweak) []tweak.Tweak {
	if m.tweaks == nil {
		return out
	}
	return append(out, m.tweaks()...)
}

func (m *fakeModule) NewListener() Listener {
	if m.listener == nil {
		return nil
	}
	return m.listener()
}

func (m *fakeModule) InitializeLSP(b *Binder, _ json.RawMessage, caps Capabilities) error {
	if m.lsp == nil {
		return nil
	}
	return m.lsp(b, caps)
}

// nameOnly has no capabilities at all.
type nameOnly string

func (n nameOnly) Name() string { return string(n) }

func fixX() tweak.Tweak {
	return &tweak.Func{
		TweakID:    "fix-x",
		TweakTitle: "Fix X",
		TweakKind:  tweak.KindQuickFix,
		PrepareFunc: func(_ context.Context, sel *tweak.Selection) bool {
			return strings.Contains(sel.Text(), "x")
		},
		ApplyFunc: func(_ context.Context, sel *tweak.Selection) (tweak.Effect, error) {
			text := sel.Text()
			i := strings.Index(text, "x")
			if i < 0 {
				return tweak.Effect{}, tweak.ErrStale
			}
			at := sel.Span().Start + uint32(i) //nolint:gosec // selection is small
			return tweak.EditEffect(diag.TextEdit{
				Span:    source.Span{File: sel.File().ID, Start: at, End: at + 1},
				NewText: "y",
				OldText: "x",
			}), nil
		},
	}
}

func staticTweak(id string) func() []tweak.Tweak {
	return func() []tweak.Tweak {
		return []tweak.Tweak{&tweak.Func{TweakID: id, TweakTitle: id, ApplyFunc: func(context.Context, *tweak.Selection) (tweak.Effect, error) {
			return tweak.MessageEffect(id), nil
		}}}
	}
}

// recListener records its calls and can be told to misbehave.
type recListener struct {
	calls      []string
	failBefore bool
	failSaw    bool
	panicSaw   bool
	rewrite    func(d *diag.Diagnostic)
}

func (l *recListener) BeforeBuild(context.Context, *analysis.BuildContext) error {
	l.calls = append(l.calls, "before")
	if l.failBefore {
		return errFake
	}
	return nil
}

func (l *recListener) SawDiagnostic(raw analysis.RawDiagnostic, d *diag.Diagnostic) error {
	l.calls = append(l.calls, "saw:"+raw.Code.ID())
	if l.panicSaw {
		panic("listener exploded")
	}
	if l.rewrite != nil {
		l.rewrite(d)
	}
	if l.failSaw {
		return errFake
	}
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errFake = fakeErr("listener failed")

// exclusive records whether its ContributeTweaks was ever entered concurrently.
type exclusive struct {
	inside     atomic.Int32
	calls      atomic.Int32
	overlapped atomic.Bool
}

func (e *exclusive) Name() string { return "exclusive" }

func (e *exclusive) ContributeTweaks(out []tweak.Tweak) []tweak.Tweak {
	if e.inside.Add(1) != 1 {
		e.overlapped.Store(true)
	}
	defer e.inside.Add(-1)
	e.calls.Add(1)
	for i := 0; i < 1000; i++ {
		_ = i * i
	}
	return append(out, &tweak.Func{TweakID: "exclusive"})
}
