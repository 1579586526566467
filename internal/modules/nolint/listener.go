package nolint

import (
	"context"
	"strings"

	"quill/internal/analysis"
	"quill/internal/diag"
)

type listener struct {
	m    *Module
	kind analysis.BuildKind
}

func (l *listener) BeforeBuild(_ context.Context, bc *analysis.BuildContext) error {
	l.kind = bc.Kind()
	ev := l.m.log.Debug().Stringer("kind", l.kind)
	if f := bc.File(); f != nil {
		ev = ev.Str("file", f.Path)
	}
	ev.Msg("NoLint: beforeBuild")
	return nil
}

func (l *listener) SawDiagnostic(raw analysis.RawDiagnostic, d *diag.Diagnostic) error {
	l.m.log.Debug().
		Str("message", d.Message).
		Stringer("source", d.Source).
		Msg("NoLint: sawDiagnostic")
	if raw.Source != diag.ProvenanceExternalLinter {
		return nil
	}
	l.m.log.Debug().Str("code", d.Code.ID()).Msg("NoLint: sawDiagnostic external-linter")
	if ann := l.m.opts.Annotation; ann != "" && !strings.HasSuffix(d.Message, ann) {
		d.Message += " " + ann
	}
	d.AttachAction(TweakID)
	l.m.annotated.Add(1)
	return nil
}
