package feature

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"quill/internal/analysis"
	"quill/internal/diag"
	"quill/internal/source"
)

func rawDiag(code diag.Code, src diag.Provenance, msg string) (analysis.RawDiagnostic, diag.Diagnostic) {
	raw := analysis.RawDiagnostic{
		Check:    "test",
		Code:     code,
		Source:   src,
		Severity: diag.SevWarning,
		Span:     source.Span{Start: 1, End: 2},
		Message:  msg,
	}
	return raw, raw.Diagnostic()
}

func startedSet(t *testing.T, r *Registry) *ListenerSet {
	t.Helper()
	set := r.NewListeners()
	bc := analysis.NewBuildContext(source.NewSnapshot("x.ql", 1, []byte("x\n")), analysis.BuildMain)
	if err := set.BeforeBuild(context.Background(), bc); err != nil {
		t.Fatalf("BeforeBuild: %v", err)
	}
	return set
}

func TestLintedScenario(t *testing.T) {
	r := NewRegistry()
	annotate := &recListener{rewrite: func(d *diag.Diagnostic) {
		if d.Source == diag.ProvenanceExternalLinter {
			d.Message += " (linted)"
		}
	}}
	if err := r.Register(&fakeModule{name: "nolint", listener: func() Listener { return annotate }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	set := startedSet(t, r)
	raw, d := rawDiag(diag.LintTodoOwner, diag.ProvenanceExternalLinter, "style issue")
	if err := set.SawDiagnostic(raw, &d); err != nil {
		t.Fatalf("SawDiagnostic: %v", err)
	}
	if d.Source != diag.ProvenanceExternalLinter || d.Message != "style issue (linted)" {
		t.Fatalf("diagnostic = %q [%s]", d.Message, d.Source)
	}
	if raw.Message != "style issue" {
		t.Fatal("raw diagnostic was modified")
	}
}

func TestListenerSequencePerBuild(t *testing.T) {
	var made []*recListener
	r := NewRegistry()
	if err := r.Register(&fakeModule{name: "rec", listener: func() Listener {
		l := &recListener{}
		made = append(made, l)
		return l
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	eng := analysis.NewEngine(analysis.Options{}, nil, zerolog.Nop())
	file := source.NewSnapshot("s.ql", 1, []byte("// TODO header\n\nx := 1  \n"))
	if _, err := eng.Analyze(context.Background(), file, r.Observers()); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(made) != 2 {
		t.Fatalf("expected one listener per build, got %d", len(made))
	}
	want := [][]string{
		{"before", "saw:LNT2001"},
		{"before", "saw:QL1002"},
	}
	for i, l := range made {
		if !slices.Equal(l.calls, want[i]) {
			t.Fatalf("listener %d calls = %v, want %v", i, l.calls, want[i])
		}
	}
}

func TestFailingListenerIsIsolated(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(WithMetrics(metrics))
	bad := &recListener{failBefore: true, failSaw: true}
	panicky := &recListener{panicSaw: true}
	good := &recListener{rewrite: func(d *diag.Diagnostic) { d.Message += "!" }}
	if err := r.RegisterAll(
		&fakeModule{name: "bad", listener: func() Listener { return bad }},
		&fakeModule{name: "panicky", listener: func() Listener { return panicky }},
		&fakeModule{name: "good", listener: func() Listener { return good }},
	); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	eng := analysis.NewEngine(analysis.Options{}, nil, zerolog.Nop())
	file := source.NewSnapshot("f.ql", 1, []byte("a  \nb  \n"))
	m, err := eng.Analyze(context.Background(), file, r.Observers())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(m.Diagnostics) != 2 {
		t.Fatalf("diagnostics = %d, want 2", len(m.Diagnostics))
	}
	for _, d := range m.Diagnostics {
		if d.Message != "trailing whitespace!" {
			t.Fatalf("good listener skipped: %q", d.Message)
		}
	}
	if !slices.Equal(good.calls, []string{"before", "saw:QL1002", "saw:QL1002"}) {
		t.Fatalf("good calls = %v", good.calls)
	}
	if len(bad.calls) != 3 {
		t.Fatalf("erroring listener should stay attached, calls = %v", bad.calls)
	}
	if !slices.Equal(panicky.calls, []string{"before", "saw:QL1002"}) {
		t.Fatalf("panicking listener should be detached, calls = %v", panicky.calls)
	}
	if got := testutil.ToFloat64(metrics.ListenerFailures.WithLabelValues("panicky", "sawDiagnostic", "panic")); got != 1 {
		t.Fatalf("panic failures = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ListenerFailures.WithLabelValues("bad", "sawDiagnostic", "error")); got != 2 {
		t.Fatalf("error failures = %v", got)
	}
}

func TestFailedListenerRewritesAreDiscarded(t *testing.T) {
	r := NewRegistry()
	good := &recListener{rewrite: func(d *diag.Diagnostic) { d.Message += " (linted)" }}
	bad := &recListener{failSaw: true, rewrite: func(d *diag.Diagnostic) {
		d.Message = ""
		d.Severity = diag.SevError
		d.Actions = append(d.Actions, "bad.action")
	}}
	crashing := &recListener{rewrite: func(d *diag.Diagnostic) {
		d.Notes = nil
		d.Message = "crashed"
		panic("half-way")
	}}
	if err := r.RegisterAll(
		&fakeModule{name: "good", listener: func() Listener { return good }},
		&fakeModule{name: "bad", listener: func() Listener { return bad }},
		&fakeModule{name: "crashing", listener: func() Listener { return crashing }},
	); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	eng := analysis.NewEngine(analysis.Options{}, nil, zerolog.Nop())
	file := source.NewSnapshot("f.ql", 1, []byte("a  \n"))
	m, err := eng.Analyze(context.Background(), file, r.Observers())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(m.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(m.Diagnostics))
	}
	d := m.Diagnostics[0]
	if d.Message != "trailing whitespace (linted)" {
		t.Fatalf("message = %q", d.Message)
	}
	if d.Severity != diag.SevWarning || len(d.Actions) != 0 {
		t.Fatalf("failed rewrite kept: severity=%s actions=%v", d.Severity, d.Actions)
	}
	if len(crashing.calls) != 1 {
		t.Fatalf("crashing calls = %v", crashing.calls)
	}
}

func TestProvenanceIsPreserved(t *testing.T) {
	r := NewRegistry()
	thief := &recListener{rewrite: func(d *diag.Diagnostic) {
		d.Source = diag.ProvenanceCore
		d.Code = diag.CoreInfo
		d.Severity = diag.SevError
	}}
	if err := r.Register(&fakeModule{name: "thief", listener: func() Listener { return thief }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	set := startedSet(t, r)

	in := []diag.Provenance{diag.ProvenanceExternalLinter, diag.ProvenanceCore, diag.ProvenanceExternalLinter}
	var out []diag.Provenance
	for _, p := range in {
		raw, d := rawDiag(diag.LintDoubleBlank, p, "m")
		if err := set.SawDiagnostic(raw, &d); err != nil {
			t.Fatalf("SawDiagnostic: %v", err)
		}
		if d.Code != diag.LintDoubleBlank {
			t.Fatalf("code not restored: %s", d.Code.ID())
		}
		if d.Severity != diag.SevError {
			t.Fatal("severity rewrite should be kept")
		}
		out = append(out, d.Source)
	}
	if !slices.Equal(in, out) {
		t.Fatalf("provenance changed: %v -> %v", in, out)
	}
}

func TestListenerSetLifecycleViolations(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeModule{name: "rec", listener: func() Listener { return &recListener{} }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	raw, d := rawDiag(diag.CoreInfo, diag.ProvenanceCore, "m")

	set := r.NewListeners()
	if err := set.SawDiagnostic(raw, &d); !errors.Is(err, ErrLifecycle) {
		t.Fatalf("SawDiagnostic before BeforeBuild = %v", err)
	}

	set = startedSet(t, r)
	bc := analysis.NewBuildContext(source.NewSnapshot("x.ql", 1, nil), analysis.BuildMain)
	if err := set.BeforeBuild(context.Background(), bc); !errors.Is(err, ErrLifecycle) {
		t.Fatalf("second BeforeBuild = %v", err)
	}
	set.Done()
	if err := set.SawDiagnostic(raw, &d); !errors.Is(err, ErrLifecycle) {
		t.Fatalf("SawDiagnostic after Done = %v", err)
	}
	if set.Len() != 0 {
		t.Fatal("Done kept listener instances")
	}

	dead := analysis.NewBuildContext(source.NewSnapshot("x.ql", 1, nil), analysis.BuildMain)
	dead.Invalidate()
	if err := r.NewListeners().BeforeBuild(context.Background(), dead); !errors.Is(err, ErrLifecycle) {
		t.Fatalf("BeforeBuild with dead context = %v", err)
	}
}

func TestNilListenerIsNotAttached(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll(
		&fakeModule{name: "none"},
		&fakeModule{name: "one", listener: func() Listener { return &recListener{} }},
		&fakeModule{name: "boom", listener: func() Listener { panic("factory") }},
	); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	set := r.NewListeners()
	if got := set.Modules(); !slices.Equal(got, []string{"one"}) {
		t.Fatalf("Modules = %v", got)
	}
}
