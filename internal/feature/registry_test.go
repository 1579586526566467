package feature

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"quill/internal/source"
	"quill/internal/tweak"
)

func selectionOver(t *testing.T, text string) *tweak.Selection {
	t.Helper()
	f := source.NewSnapshot("sel.ql", 1, []byte(text))
	sel, err := tweak.NewSelection(f, source.Span{Start: 0, End: f.Size()}, nil)
	if err != nil {
		t.Fatalf("NewSelection: %v", err)
	}
	return sel
}

func ids(ts []tweak.Tweak) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID())
	}
	return out
}

func TestCollectTweaksKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll(
		&fakeModule{name: "b", tweaks: staticTweak("second")},
		&fakeModule{name: "a", tweaks: staticTweak("first")},
	); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	got := ids(r.CollectTweaks())
	if len(got) != 2 || got[0] != "second" || got[1] != "first" {
		t.Fatalf("CollectTweaks = %v", got)
	}
	again := r.CollectTweaks()
	if again[0] == r.CollectTweaks()[0] {
		t.Fatal("tweak instances were reused across calls")
	}
}

func TestDuplicateTweakIsConfigError(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeModule{name: "a", tweaks: staticTweak("same")}); err != nil {
		t.Fatalf("Register a: %v", err)
	}
	err := r.Register(&fakeModule{name: "b", tweaks: staticTweak("same")})
	var cfg *ConfigError
	if !errors.As(err, &cfg) || !errors.Is(err, ErrDuplicateTweak) {
		t.Fatalf("err = %v, want *ConfigError wrapping ErrDuplicateTweak", err)
	}
	if cfg.Module != "b" || cfg.Tweak != "same" {
		t.Fatalf("ConfigError = %+v", cfg)
	}
	if n := len(r.Modules()); n != 1 {
		t.Fatalf("rejected module was installed: %d modules", n)
	}
	if got := ids(r.CollectTweaks()); len(got) != 1 {
		t.Fatalf("CollectTweaks = %v", got)
	}
}

func TestRegisterRejections(t *testing.T) {
	tests := []struct {
		name string
		mod  Module
		want error
	}{
		{"nil", nil, ErrInvalidDescriptor},
		{"bad name", nameOnly("has space"), ErrInvalidDescriptor},
		{"bad tweak id", &fakeModule{name: "m", tweaks: staticTweak("-x")}, ErrInvalidDescriptor},
		{"same id twice", &fakeModule{name: "m", tweaks: func() []tweak.Tweak {
			return append(staticTweak("t")(), staticTweak("t")()...)
		}}, ErrDuplicateTweak},
		{"nil tweak", &fakeModule{name: "m", tweaks: func() []tweak.Tweak { return []tweak.Tweak{nil} }}, ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.mod)
			var cfg *ConfigError
			if !errors.As(err, &cfg) || !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if len(r.Modules()) != 0 {
				t.Fatal("rejected module installed")
			}
		})
	}
}

func TestRegisterAllInstallsValidModules(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterAll(nameOnly("one"), nameOnly("one"), nameOnly("two"))
	if !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("err = %v, want ErrDuplicateModule", err)
	}
	if got := r.Fingerprint(); got != "one,two" {
		t.Fatalf("Fingerprint = %q", got)
	}
	r.Seal()
	if err := r.Register(nameOnly("three")); !errors.Is(err, ErrSealed) {
		t.Fatalf("err after Seal = %v", err)
	}
}

type configured struct {
	nameOnly
	cfg string
}

func (c configured) ConfigFingerprint() string { return c.cfg }

func TestFingerprintCoversModuleConfig(t *testing.T) {
	fingerprint := func(cfg string) string {
		r := NewRegistry()
		if err := r.RegisterAll(nameOnly("one"), configured{nameOnly: "two", cfg: cfg}); err != nil {
			t.Fatalf("RegisterAll: %v", err)
		}
		return r.Fingerprint()
	}
	if got := fingerprint("a=1"); got != "one,two{a=1}" {
		t.Fatalf("Fingerprint = %q", got)
	}
	if got := fingerprint(""); got != "one,two" {
		t.Fatalf("Fingerprint with empty config = %q", got)
	}
	if fingerprint("a=1") == fingerprint("a=2") {
		t.Fatal("config change kept the fingerprint")
	}
}

func TestFixXScenario(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll(
		&fakeModule{name: "A", tweaks: func() []tweak.Tweak { return []tweak.Tweak{fixX()} }},
		nameOnly("B"),
	); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	sel := selectionOver(t, "let x = 1\n")

	avail, err := r.Available(context.Background(), sel)
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	if len(avail) != 1 {
		t.Fatalf("expected exactly one available tweak, got %d", len(avail))
	}
	d, err := avail[0].Descriptor()
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if d.ID != "fix-x" || d.Title != "Fix X" {
		t.Fatalf("descriptor = %+v", d)
	}

	eff, err := avail[0].Apply(context.Background(), sel)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(eff.Edits) == 0 || eff.Message != "" {
		t.Fatalf("effect = %+v, want edits", eff)
	}

	// Routed by id, the same result comes from a fresh instance.
	eff, err = r.Apply(context.Background(), "fix-x", sel)
	if err != nil || len(eff.Edits) != 1 || eff.Edits[0].NewText != "y" {
		t.Fatalf("Apply by id = %+v, %v", eff, err)
	}
}

func TestAvailableHidesUnpreparedTweaks(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeModule{name: "A", tweaks: func() []tweak.Tweak { return []tweak.Tweak{fixX()} }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sel := selectionOver(t, "no match\n")
	avail, err := r.Available(context.Background(), sel)
	if err != nil || len(avail) != 0 {
		t.Fatalf("Available = %d, %v", len(avail), err)
	}
	if _, err := r.Apply(context.Background(), "fix-x", sel); !errors.Is(err, tweak.ErrUnavailable) {
		t.Fatalf("Apply = %v, want ErrUnavailable", err)
	}
	if _, err := r.Apply(context.Background(), "nope", sel); !errors.Is(err, ErrUnknownTweak) {
		t.Fatalf("Apply unknown = %v", err)
	}
}

func TestAvailableCanceled(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeModule{name: "A", tweaks: staticTweak("t")}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Available(ctx, selectionOver(t, "x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Available = %v, want context.Canceled", err)
	}
}

func TestAvailableKeepsOrderUnderParallelism(t *testing.T) {
	r := NewRegistry(WithParallelism(4))
	var mods []Module
	want := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	for i, id := range want {
		mods = append(mods, &fakeModule{name: "m" + string(rune('a'+i)), tweaks: staticTweak(id)})
	}
	if err := r.RegisterAll(mods...); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	avail, err := r.Available(context.Background(), selectionOver(t, "x"))
	if err != nil {
		t.Fatalf("Available: %v", err)
	}
	for i, g := range avail {
		if g.ID() != want[i] {
			t.Fatalf("avail[%d] = %s, want %s", i, g.ID(), want[i])
		}
	}
}

func TestCapabilityCallsAreSerializedPerModule(t *testing.T) {
	mod := &exclusive{}
	r := NewRegistry()
	if err := r.Register(mod); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				r.CollectTweaks()
			}
		}()
	}
	wg.Wait()
	if mod.overlapped.Load() {
		t.Fatal("ContributeTweaks ran concurrently with itself")
	}
	if got := mod.calls.Load(); got != 16*20+1 {
		t.Fatalf("calls = %d", got)
	}
}

type greedy struct{}

func (greedy) Name() string { return "greedy" }

func (greedy) ContributeTweaks(out []tweak.Tweak) []tweak.Tweak {
	// Replaces instead of appending once others contributed.
	if len(out) > 0 {
		return []tweak.Tweak{&tweak.Func{TweakID: "greedy"}}
	}
	return append(out, &tweak.Func{TweakID: "greedy"})
}

func TestContributionMustAppend(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterAll(&fakeModule{name: "first", tweaks: staticTweak("keep")}, greedy{}); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	got := ids(r.CollectTweaks())
	if len(got) != 1 || got[0] != "keep" {
		t.Fatalf("CollectTweaks = %v", got)
	}
}

func TestInitializeLSPStagesPerModule(t *testing.T) {
	noop := func(context.Context, json.RawMessage) (any, error) { return nil, nil }
	r := NewRegistry(WithLogger(zerolog.Nop()))
	if err := r.RegisterAll(
		&fakeModule{name: "good", lsp: func(b *Binder, caps Capabilities) error {
			caps["goodProvider"] = true
			return b.Command("quill.good", noop)
		}},
		&fakeModule{name: "broken", lsp: func(b *Binder, caps Capabilities) error {
			caps["brokenProvider"] = true
			if err := b.Command("quill.broken", noop); err != nil {
				return err
			}
			return errors.New("cannot start")
		}},
		&fakeModule{name: "clash", lsp: func(b *Binder, _ Capabilities) error {
			return b.Command("quill.good", noop)
		}},
		&fakeModule{name: "reserved", lsp: func(b *Binder, _ Capabilities) error {
			return b.Method("initialize", noop)
		}},
	); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}

	b := NewBinder("initialize")
	caps := Capabilities{}
	err := r.InitializeLSP(b, nil, caps)
	if !errors.Is(err, ErrDuplicateBinding) || !errors.Is(err, ErrReservedBinding) {
		t.Fatalf("InitializeLSP = %v", err)
	}
	if got := b.Commands(); len(got) != 1 || got[0] != "quill.good" {
		t.Fatalf("Commands = %v", got)
	}
	if b.Owner("quill.good") != "good" {
		t.Fatalf("Owner = %q", b.Owner("quill.good"))
	}
	if _, ok := caps["brokenProvider"]; ok {
		t.Fatal("failed module leaked capabilities")
	}
	if caps["goodProvider"] != true {
		t.Fatal("capabilities of good module missing")
	}
}

func TestMetricsCountPrepares(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(WithMetrics(m))
	if err := r.Register(&fakeModule{name: "A", tweaks: func() []tweak.Tweak { return []tweak.Tweak{fixX()} }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Available(context.Background(), selectionOver(t, "x")); err != nil {
		t.Fatalf("Available: %v", err)
	}
	if _, err := r.Available(context.Background(), selectionOver(t, "y")); err != nil {
		t.Fatalf("Available: %v", err)
	}
	if got := testutil.ToFloat64(m.TweakPrepares.WithLabelValues("fix-x", "available")); got != 1 {
		t.Fatalf("available = %v", got)
	}
	if got := testutil.ToFloat64(m.TweakPrepares.WithLabelValues("fix-x", "unavailable")); got != 1 {
		t.Fatalf("unavailable = %v", got)
	}
	_ = r.Register(&fakeModule{name: "B", tweaks: staticTweak("fix-x")})
	if got := testutil.ToFloat64(m.ConfigErrors.WithLabelValues("B")); got != 1 {
		t.Fatalf("config errors = %v", got)
	}
}
