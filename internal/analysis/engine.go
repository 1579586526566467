package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"quill/internal/diag"
	"quill/internal/source"
	"quill/internal/trace"
)

// Options tunes the checks. The zero value of a field means "default".
type Options struct {
	MaxLineLength  int
	MaxDiagnostics int
	// SuppressMarker silences external-linter findings on lines carrying it.
	SuppressMarker string
	// CacheSalt is mixed into preamble cache keys; hosts set it to a
	// fingerprint of the enabled feature modules.
	CacheSalt string
}

func DefaultOptions() Options {
	return Options{
		MaxLineLength:  100,
		MaxDiagnostics: 200,
		SuppressMarker: "NOLINT",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxLineLength == 0 {
		o.MaxLineLength = def.MaxLineLength
	}
	if o.MaxDiagnostics <= 0 {
		o.MaxDiagnostics = def.MaxDiagnostics
	}
	if o.SuppressMarker == "" {
		o.SuppressMarker = def.SuppressMarker
	}
	return o
}

// Engine runs builds over file snapshots. It is safe for concurrent use;
// every build gets its own observer and BuildContext.
type Engine struct {
	opts  Options
	cache *PreambleCache
	log   zerolog.Logger
}

// NewEngine creates an engine. A nil cache disables preamble reuse.
func NewEngine(opts Options, cache *PreambleCache, log zerolog.Logger) *Engine {
	return &Engine{opts: opts.withDefaults(), cache: cache, log: log}
}

func (e *Engine) Options() Options { return e.opts }

// Analyze runs the preamble build (or reuses a cached result) and then the
// main build. newObs is called once per build that actually runs.
func (e *Engine) Analyze(ctx context.Context, file *source.File, newObs ObserverFactory) (*Model, error) {
	if file == nil {
		return nil, errors.New("analysis: nil file")
	}
	region := PreambleRegion(file)
	var pre *Model
	if !region.Empty() {
		var err error
		if pre, err = e.preamble(ctx, file, region, newObs); err != nil {
			return nil, err
		}
	}
	mainRegion := source.Span{File: file.ID, Start: region.End, End: file.Size()}
	return e.Build(ctx, file, BuildMain, mainRegion, pre, observerFrom(newObs))
}

func observerFrom(newObs ObserverFactory) Observer {
	if newObs == nil {
		return nil
	}
	return newObs()
}

func (e *Engine) preamble(ctx context.Context, file *source.File, region source.Span, newObs ObserverFactory) (*Model, error) {
	key := e.preambleKey(file, region)
	if cached, ok := e.cache.get(key); ok {
		e.log.Debug().Str("file", file.Path).Int("diagnostics", len(cached.Diagnostics)).Msg("preamble cache hit")
		trace.Point(trace.FromContext(ctx), trace.ScopeBuild, "build:preamble", "cached", trace.CurrentSpan(ctx).SpanID)
		return cached.model(file, region), nil
	}
	m, err := e.Build(ctx, file, BuildPreamble, region, nil, observerFrom(newObs))
	if err != nil {
		return nil, err
	}
	if err := e.cache.put(key, payloadFor(m)); err != nil {
		e.log.Warn().Err(err).Str("file", file.Path).Msg("failed to store preamble")
	}
	return m, nil
}

// preambleKey covers everything that can change a preamble build's output.
func (e *Engine) preambleKey(file *source.File, region source.Span) [32]byte {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[:2], preambleSchemaVersion)
	h.Write(buf[:2])
	fmt.Fprintf(h, "%d\x00%d\x00%s\x00%s\x00", e.opts.MaxLineLength, e.opts.MaxDiagnostics, e.opts.SuppressMarker, e.opts.CacheSalt)
	h.Write(file.Content[region.Start:region.End])
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Build runs one build of kind over region. obs may be nil. The context's
// cancellation is checked before every line; a canceled build returns
// ctx.Err() and no model.
func (e *Engine) Build(ctx context.Context, file *source.File, kind BuildKind, region source.Span, pre *Model, obs Observer) (*Model, error) {
	ctx, sp := trace.Start(ctx, trace.ScopeBuild, "build:"+kind.String())
	bc := newBuildContext(file, kind, region, pre)
	defer func() {
		bc.Invalidate()
		if obs != nil {
			obs.Done()
		}
	}()

	if obs != nil {
		if err := obs.BeforeBuild(ctx, bc); err != nil {
			sp.End("observer error")
			return nil, err
		}
	}

	m := &Model{File: file, Kind: kind, Region: region, Preamble: pre}
	bag := diag.NewBag(e.opts.MaxDiagnostics)
	var obsErr error
	emit := func(raw RawDiagnostic) {
		if obsErr != nil {
			return
		}
		d := raw.Diagnostic()
		if fix, ok := fixFor(file, raw); ok {
			d.Fixes = append(d.Fixes, fix)
		}
		if obs != nil {
			if obsErr = obs.SawDiagnostic(raw, &d); obsErr != nil {
				return
			}
		}
		if !bag.Add(d) {
			m.Dropped++
		}
	}

	lineNo := file.Position(region.Start).Line
	prevBlank := false
	if region.Start > 0 {
		prevBlank = strings.TrimSpace(file.GetLine(lineNo-1)) == ""
	}
	for ; lineNo <= file.LineCount(); lineNo++ {
		if err := ctx.Err(); err != nil {
			sp.End("canceled")
			return nil, err
		}
		ls := file.LineSpan(lineNo)
		if ls.Start >= region.End {
			break
		}
		text := file.Text(ls)
		ln := line{num: lineNo, span: ls, text: text, prevBlank: prevBlank}
		sup, hasSup := parseSuppression(text, e.opts.SuppressMarker)
		for _, check := range lineChecks {
			check(e, ln, func(raw RawDiagnostic) {
				if hasSup && raw.Source == diag.ProvenanceExternalLinter && sup.covers(raw) {
					m.Suppressed++
					return
				}
				emit(raw)
			})
		}
		if obsErr != nil {
			break
		}
		prevBlank = strings.TrimSpace(text) == ""
	}
	if obsErr == nil && kind == BuildMain {
		checkDelimiters(file, region, emit)
		checkFinalNewline(file, emit)
	}
	if obsErr != nil {
		sp.End("observer error")
		return nil, obsErr
	}

	bag.Sort()
	m.Diagnostics = bag.Items()
	sp.WithExtra("diagnostics", fmt.Sprint(len(m.Diagnostics))).End("")
	e.log.Debug().
		Str("file", file.Path).
		Stringer("kind", kind).
		Int("diagnostics", len(m.Diagnostics)).
		Int("suppressed", m.Suppressed).
		Int("dropped", m.Dropped).
		Msg("build finished")
	return m, nil
}
