package lsp

import (
	"context"
	"time"

	"quill/internal/analysis"
	"quill/internal/diag"
	"quill/internal/source"
)

// scheduleDiagnostics restarts the debounce timer of one document and
// cancels its running build.
func (s *Server) scheduleDiagnostics(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[uri]
	if !ok {
		return
	}
	doc.stop()
	s.analysisSeq++
	seq := s.analysisSeq
	doc.seq = seq
	doc.timer = time.AfterFunc(s.debounce, func() {
		s.runDiagnostics(uri, seq)
	})
}

// runDiagnostics builds the document as it was at seq and publishes the
// result unless a newer edit superseded it.
func (s *Server) runDiagnostics(uri string, seq uint64) {
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok || doc.seq != seq {
		s.mu.Unlock()
		return
	}
	if doc.cancel != nil {
		doc.cancel()
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	doc.cancel = cancel
	file := doc.file
	version := doc.version
	s.mu.Unlock()
	defer cancel()

	start := time.Now()
	model, err := s.engine.Analyze(ctx, file, s.registry.Observers())
	if err != nil {
		if ctx.Err() != nil {
			s.metrics.build("canceled", time.Since(start))
			s.log.Debug().Str("uri", uri).Uint64("seq", seq).Msg("analysis canceled")
			return
		}
		s.metrics.build("error", time.Since(start))
		s.log.Error().Err(err).Str("uri", uri).Msg("analysis failed")
		return
	}

	s.mu.Lock()
	doc, ok = s.docs[uri]
	if !ok || doc.seq != seq || doc.file != file {
		s.mu.Unlock()
		s.metrics.build("superseded", time.Since(start))
		return
	}
	doc.model = model
	doc.published = true
	s.mu.Unlock()
	s.metrics.build("ok", time.Since(start))

	list := lspDiagnostics(uri, file, model.AllDiagnostics())
	s.log.Debug().
		Str("uri", uri).
		Int("version", version).
		Int("diagnostics", len(list)).
		Bool("preamble_cached", model.Preamble != nil && model.Preamble.Cached).
		Msg("publish diagnostics")
	if err := s.sendPublish(uri, &version, list); err != nil {
		s.log.Warn().Err(err).Msg("failed to publish diagnostics")
	}
}

// modelFor returns the model of the document's current snapshot, building
// it synchronously when the debounced build has not caught up.
func (s *Server) modelFor(ctx context.Context, uri string) (*source.File, *analysis.Model, error) {
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if !ok {
		s.mu.Unlock()
		return nil, nil, nil
	}
	file, model := doc.file, doc.model
	s.mu.Unlock()
	if model != nil {
		return file, model, nil
	}

	model, err := s.engine.Analyze(ctx, file, s.registry.Observers())
	if err != nil {
		return file, nil, err
	}
	s.mu.Lock()
	if doc, ok := s.docs[uri]; ok && doc.file == file {
		doc.model = model
	}
	s.mu.Unlock()
	return file, model, nil
}

func lspDiagnostics(uri string, file *source.File, diags []diag.Diagnostic) []lspDiagnostic {
	out := make([]lspDiagnostic, 0, len(diags))
	for i := range diags {
		out = append(out, lspDiagnosticFor(uri, file, &diags[i]))
	}
	return out
}

func lspDiagnosticFor(uri string, file *source.File, d *diag.Diagnostic) lspDiagnostic {
	ld := lspDiagnostic{
		Range:    rangeForSpan(file, d.Primary),
		Severity: lspSeverity(d.Severity),
		Code:     d.Code.ID(),
		Source:   "quill/" + d.Source.String(),
		Message:  d.Message,
	}
	for _, n := range d.Notes {
		ld.RelatedInformation = append(ld.RelatedInformation, diagnosticRelatedInformation{
			Location: location{URI: uri, Range: rangeForSpan(file, n.Span)},
			Message:  n.Msg,
		})
	}
	if len(d.Actions) > 0 {
		ld.Data = &diagnosticData{Actions: d.Actions}
	}
	return ld
}

func lspSeverity(sev diag.Severity) int {
	switch sev {
	case diag.SevError:
		return 1
	case diag.SevWarning:
		return 2
	default:
		return 3
	}
}
