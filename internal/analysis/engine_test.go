package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"quill/internal/diag"
	"quill/internal/source"
)

type recorder struct {
	events []string
	bc     *BuildContext
	done   bool
	fail   error
}

func (r *recorder) BeforeBuild(_ context.Context, bc *BuildContext) error {
	r.events = append(r.events, "before:"+bc.Kind().String())
	r.bc = bc
	return r.fail
}

func (r *recorder) SawDiagnostic(raw RawDiagnostic, d *diag.Diagnostic) error {
	r.events = append(r.events, "saw:"+raw.Code.ID())
	return nil
}

func (r *recorder) Done() { r.done = true }

func newTestEngine(cache *PreambleCache) *Engine {
	return NewEngine(Options{MaxLineLength: 40}, cache, zerolog.Nop())
}

func codes(ds []diag.Diagnostic) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Code.ID())
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAnalyzeReportsCoreAndLintFindings(t *testing.T) {
	src := "package demo\n\nfunc f() {  \n\t  x := 1 // TODO fix\n}\n"
	file := source.NewSnapshot("demo.ql", 1, []byte(src))

	var obs []*recorder
	m, err := newTestEngine(nil).Analyze(context.Background(), file, func() Observer {
		r := &recorder{}
		obs = append(obs, r)
		return r
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got, want := codes(m.Diagnostics), []string{"QL1002", "QL1003", "LNT2001"}; !equalStrings(got, want) {
		t.Fatalf("codes = %v, want %v", got, want)
	}
	todo := m.Diagnostics[2]
	if todo.Source != diag.ProvenanceExternalLinter || file.Text(todo.Primary) != "TODO" {
		t.Fatalf("unexpected TODO diagnostic %+v", todo)
	}
	if len(m.Diagnostics[0].Fixes) != 1 || m.Diagnostics[0].Fixes[0].Edits[0].OldText != "  " {
		t.Fatalf("trailing whitespace fix missing: %+v", m.Diagnostics[0].Fixes)
	}
	if len(obs) != 2 {
		t.Fatalf("expected preamble and main observers, got %d", len(obs))
	}
	if obs[0].events[0] != "before:preamble" || obs[1].events[0] != "before:main" {
		t.Fatalf("unexpected build order %v / %v", obs[0].events, obs[1].events)
	}
	for _, r := range obs {
		if !r.done {
			t.Fatal("observer was not released")
		}
		if r.bc.Live() || r.bc.File() != nil {
			t.Fatal("build context outlived its build")
		}
	}
}

func TestBeforeBuildPrecedesDiagnostics(t *testing.T) {
	file := source.NewSnapshot("a.ql", 1, []byte("x := 1  \n"))
	r := &recorder{}
	region := source.Span{File: file.ID, End: file.Size()}
	if _, err := newTestEngine(nil).Build(context.Background(), file, BuildMain, region, nil, r); err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"before:main", "saw:QL1002"}
	if !equalStrings(r.events, want) {
		t.Fatalf("events = %v, want %v", r.events, want)
	}
}

func TestSuppressionMarker(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantCodes  []string
		suppressed int
	}{
		{"none", "x = 1 // TODO later\n", []string{"LNT2001"}, 0},
		{"bare", "x = 1 // TODO later NOLINT\n", nil, 1},
		{"by code", "x = 1 // TODO later NOLINT(LNT2001)\n", nil, 1},
		{"by check", "x = 1 // TODO later NOLINT(todo-owner)\n", nil, 1},
		{"other code", "x = 1 // TODO later NOLINT(LNT2002)\n", []string{"LNT2001"}, 0},
		{"core untouched", "x = 1 // NOLINT  \n", []string{"QL1002"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := source.NewSnapshot("s.ql", 1, []byte(tt.line))
			m, err := newTestEngine(nil).Analyze(context.Background(), file, nil)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if got := codes(m.Diagnostics); !equalStrings(got, tt.wantCodes) {
				t.Fatalf("codes = %v, want %v", got, tt.wantCodes)
			}
			if m.Suppressed != tt.suppressed {
				t.Fatalf("suppressed = %d, want %d", m.Suppressed, tt.suppressed)
			}
		})
	}
}

func TestPreambleCacheSkipsPreambleBuild(t *testing.T) {
	eng := newTestEngine(NewMemoryCache())
	count := 0
	factory := func() Observer {
		count++
		return &recorder{}
	}
	first := source.NewSnapshot("p.ql", 1, []byte("// TODO header\nimport x\n\ny := 1\n"))
	m1, err := eng.Analyze(context.Background(), first, factory)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if count != 2 || m1.Preamble == nil || m1.Preamble.Cached {
		t.Fatalf("first analysis: observers=%d preamble=%+v", count, m1.Preamble)
	}

	second := source.NewSnapshot("p.ql", 2, []byte("// TODO header\nimport x\n\ny := 2\nz := 3\n"))
	m2, err := eng.Analyze(context.Background(), second, factory)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected only a main build on the second run, observers=%d", count)
	}
	if !m2.Preamble.Cached || m2.Preamble.File != second {
		t.Fatal("preamble was not reused from the cache")
	}
	if got := codes(m2.AllDiagnostics()); !equalStrings(got, []string{"LNT2001"}) {
		t.Fatalf("codes = %v", got)
	}
}

func TestDiskCacheSurvivesEngines(t *testing.T) {
	dir := t.TempDir()
	file := source.NewSnapshot("d.ql", 1, []byte("// TODO a\n\n\nv := 1\n"))

	c1, err := OpenPreambleCache(dir)
	if err != nil {
		t.Fatalf("OpenPreambleCache: %v", err)
	}
	if _, err := newTestEngine(c1).Analyze(context.Background(), file, nil); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	c2, err := OpenPreambleCache(dir)
	if err != nil {
		t.Fatalf("OpenPreambleCache: %v", err)
	}
	m, err := newTestEngine(c2).Analyze(context.Background(), file, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !m.Preamble.Cached {
		t.Fatal("expected disk hit")
	}
	if got := codes(m.Preamble.Diagnostics); !equalStrings(got, []string{"LNT2001", "LNT2002"}) {
		t.Fatalf("cached codes = %v", got)
	}

	if err := c2.DropAll(); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if c2.Len() != 0 {
		t.Fatal("DropAll kept memory entries")
	}
}

func TestCacheSaltSeparatesEntries(t *testing.T) {
	cache := NewMemoryCache()
	file := source.NewSnapshot("s.ql", 1, []byte("// header\nv := 1\n"))
	a := NewEngine(Options{CacheSalt: "nolint"}, cache, zerolog.Nop())
	b := NewEngine(Options{CacheSalt: "nolint,trimspace"}, cache, zerolog.Nop())
	for _, eng := range []*Engine{a, b} {
		if _, err := eng.Analyze(context.Background(), file, nil); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}
	if cache.Len() != 2 {
		t.Fatalf("expected one entry per salt, got %d", cache.Len())
	}
}

func TestBuildHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	file := source.NewSnapshot("c.ql", 1, []byte("a\nb\n"))
	r := &recorder{}
	region := source.Span{File: file.ID, End: file.Size()}
	m, err := newTestEngine(nil).Build(ctx, file, BuildMain, region, nil, r)
	if !errors.Is(err, context.Canceled) || m != nil {
		t.Fatalf("Build = %v, %v; want canceled", m, err)
	}
	if !r.done || r.bc.Live() {
		t.Fatal("canceled build leaked its observer")
	}
}

func TestObserverErrorAbortsBuild(t *testing.T) {
	boom := errors.New("lifecycle")
	file := source.NewSnapshot("e.ql", 1, []byte("a  \n"))
	r := &recorder{fail: boom}
	region := source.Span{File: file.ID, End: file.Size()}
	if _, err := newTestEngine(nil).Build(context.Background(), file, BuildMain, region, nil, r); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestDelimiters(t *testing.T) {
	tests := []struct {
		src  string
		want int
	}{
		{"f(a[1], {b})\n", 0},
		{"f(a\n", 1},
		{"x)\n", 1},
		{"s := \"(\" // (\n", 0},
		{"(]\n", 2},
	}
	for _, tt := range tests {
		file := source.NewSnapshot("d.ql", 1, []byte(tt.src))
		m, err := newTestEngine(nil).Analyze(context.Background(), file, nil)
		if err != nil {
			t.Fatalf("Analyze(%q): %v", tt.src, err)
		}
		n := 0
		for _, d := range m.Diagnostics {
			if d.Code == diag.CoreUnbalanced {
				n++
			}
		}
		if n != tt.want {
			t.Fatalf("%q: %d unbalanced diagnostics, want %d", tt.src, n, tt.want)
		}
	}
}

func TestMissingFinalNewlineAndLongLine(t *testing.T) {
	file := source.NewSnapshot("n.ql", 1, []byte("value := \"0123456789012345678901234567890123456789\""))
	m, err := newTestEngine(nil).Analyze(context.Background(), file, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := codes(m.Diagnostics); !equalStrings(got, []string{"QL1001", "QL1005"}) {
		t.Fatalf("codes = %v", got)
	}
	if m.Diagnostics[0].Primary.Start != 40 {
		t.Fatalf("long line span starts at %d, want 40", m.Diagnostics[0].Primary.Start)
	}
}

func TestPreambleRegion(t *testing.T) {
	tests := []struct {
		src  string
		want uint32
	}{
		{"", 0},
		{"x := 1\n", 0},
		{"// c\nx\n", 5},
		{"#!/bin/sh\nimport a\nuse b\n\nx\n", 26},
		{"// only comment", 0},
	}
	for _, tt := range tests {
		file := source.NewSnapshot("r.ql", 1, []byte(tt.src))
		if got := PreambleRegion(file).End; got != tt.want {
			t.Fatalf("PreambleRegion(%q).End = %d, want %d", tt.src, got, tt.want)
		}
	}
}

func TestModelDiagnosticsAt(t *testing.T) {
	file := source.NewSnapshot("m.ql", 1, []byte("// TODO a\nb  \n"))
	m, err := newTestEngine(nil).Analyze(context.Background(), file, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	at := m.DiagnosticsAt(source.Span{File: file.ID, Start: 4, End: 4})
	if got := codes(at); !equalStrings(got, []string{"LNT2001"}) {
		t.Fatalf("DiagnosticsAt = %v", got)
	}
	if got := codes(m.AllDiagnostics()); !equalStrings(got, []string{"LNT2001", "QL1002"}) {
		t.Fatalf("AllDiagnostics = %v", got)
	}
}
