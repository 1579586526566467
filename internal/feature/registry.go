package feature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quill/internal/analysis"
	"quill/internal/trace"
	"quill/internal/tweak"
)

// record is one installed module. Each capability has its own mutex so a
// capability is never called concurrently with itself on one module.
type record struct {
	module   Module
	name     string
	tweakIDs []string

	tweakMu    sync.Mutex
	listenerMu sync.Mutex
	lspMu      sync.Mutex
}

// Registry is the ordered table of installed modules. Registration is
// append-only; after Seal the table is fixed for the process lifetime.
type Registry struct {
	mu      sync.RWMutex
	records []*record
	byName  map[string]*record
	byTweak map[string]*record
	sealed  bool

	log         zerolog.Logger
	metrics     *Metrics
	parallelism int
}

type Option func(*Registry)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithParallelism bounds concurrent Prepare calls in Available.
func WithParallelism(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byName:      make(map[string]*record),
		byTweak:     make(map[string]*record),
		log:         zerolog.Nop(),
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs m after probing its tweaks once. A rejected module is
// not installed and the error is a *ConfigError.
func (r *Registry) Register(m Module) error {
	if m == nil {
		return &ConfigError{Err: fmt.Errorf("nil module: %w", ErrInvalidDescriptor)}
	}
	r.mu.RLock()
	sealed := r.sealed
	r.mu.RUnlock()
	if sealed {
		return ErrSealed
	}
	name := m.Name()
	rec := &record{module: m, name: name}
	if err := r.validate(rec); err != nil {
		r.metrics.configError(name)
		r.log.Error().Err(err).Str("module", name).Msg("module rejected")
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	if _, ok := r.byName[name]; ok {
		r.metrics.configError(name)
		return &ConfigError{Module: name, Err: ErrDuplicateModule}
	}
	for _, id := range rec.tweakIDs {
		if owner, ok := r.byTweak[id]; ok {
			r.metrics.configError(name)
			return &ConfigError{Module: name, Tweak: id, Err: fmt.Errorf("%w (already provided by %s)", ErrDuplicateTweak, owner.name)}
		}
	}
	r.records = append(r.records, rec)
	r.byName[name] = rec
	for _, id := range rec.tweakIDs {
		r.byTweak[id] = rec
	}
	r.log.Debug().Str("module", name).Strs("tweaks", rec.tweakIDs).Msg("module registered")
	return nil
}

// validate checks the module name and the ids of its probed tweaks.
func (r *Registry) validate(rec *record) (err error) {
	if !tweak.ValidID(rec.name) {
		return &ConfigError{Module: rec.name, Err: fmt.Errorf("module name: %w", ErrInvalidDescriptor)}
	}
	c, ok := rec.module.(TweakContributor)
	if !ok {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = &ConfigError{Module: rec.name, Err: fmt.Errorf("contributing tweaks panicked: %v: %w", p, ErrInvalidDescriptor)}
		}
	}()
	seen := make(map[string]struct{})
	for _, t := range c.ContributeTweaks(nil) {
		if t == nil {
			return &ConfigError{Module: rec.name, Err: fmt.Errorf("nil tweak: %w", ErrInvalidDescriptor)}
		}
		id := t.ID()
		if !tweak.ValidID(id) {
			return &ConfigError{Module: rec.name, Tweak: id, Err: ErrInvalidDescriptor}
		}
		if _, dup := seen[id]; dup {
			return &ConfigError{Module: rec.name, Tweak: id, Err: ErrDuplicateTweak}
		}
		seen[id] = struct{}{}
		rec.tweakIDs = append(rec.tweakIDs, id)
	}
	return nil
}

// RegisterAll registers every module, installing the valid ones, and
// returns the joined errors of the rest.
func (r *Registry) RegisterAll(mods ...Module) error {
	var errs []error
	for _, m := range mods {
		if err := r.Register(m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Seal fixes the module table.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) snapshot() []*record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[:len(r.records):len(r.records)]
}

// Modules returns installed modules in registration order.
func (r *Registry) Modules() []Module {
	recs := r.snapshot()
	out := make([]Module, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.module)
	}
	return out
}

// Fingerprint names the installed modules in order, each followed by its
// configuration fingerprint when it has one. Hosts mix it into cache keys
// of anything listeners can influence.
func (r *Registry) Fingerprint() string {
	recs := r.snapshot()
	parts := make([]string, 0, len(recs))
	for _, rec := range recs {
		part := rec.name
		if fp, ok := rec.module.(Fingerprinter); ok {
			if cfg := fp.ConfigFingerprint(); cfg != "" {
				part += "{" + cfg + "}"
			}
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ",")
}

// ModuleInfo summarizes one installed module.
type ModuleInfo struct {
	Name     string
	Tweaks   []string
	Listener bool
	LSP      bool
}

func (r *Registry) Describe() []ModuleInfo {
	recs := r.snapshot()
	out := make([]ModuleInfo, 0, len(recs))
	for _, rec := range recs {
		_, lf := rec.module.(ListenerFactory)
		_, lsp := rec.module.(LSPBinding)
		out = append(out, ModuleInfo{
			Name:     rec.name,
			Tweaks:   append([]string(nil), rec.tweakIDs...),
			Listener: lf,
			LSP:      lsp,
		})
	}
	return out
}

// CollectTweaks asks every module for fresh tweak instances, concatenated
// in registration order. Contributions that drop or reorder earlier
// entries, or carry ids the module did not register, are discarded.
func (r *Registry) CollectTweaks() []tweak.Tweak {
	var out []tweak.Tweak
	for _, rec := range r.snapshot() {
		out = r.contribute(rec, out)
	}
	return out
}

func (r *Registry) contribute(rec *record, out []tweak.Tweak) (res []tweak.Tweak) {
	c, ok := rec.module.(TweakContributor)
	if !ok {
		return out
	}
	prev := make([]string, len(out))
	for i, t := range out {
		prev[i] = t.ID()
	}
	base := len(out)
	// Contributions are appended to a private copy so a misbehaving module
	// cannot clobber what earlier modules put in out.
	scratch := append(make([]tweak.Tweak, 0, base+len(rec.tweakIDs)), out...)

	rec.tweakMu.Lock()
	defer rec.tweakMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("module", rec.name).Interface("panic", p).Msg("contributing tweaks panicked")
			res = out
		}
	}()
	got := c.ContributeTweaks(scratch)
	if len(got) < base {
		r.log.Warn().Str("module", rec.name).Msg("module dropped tweaks of other modules; contribution ignored")
		return out
	}
	for i, id := range prev {
		if got[i] == nil || got[i].ID() != id {
			r.log.Warn().Str("module", rec.name).Msg("module replaced tweaks of other modules; contribution ignored")
			return out
		}
	}
	res = out
	for _, t := range got[base:] {
		if t == nil || !rec.owns(t.ID()) {
			r.log.Warn().Str("module", rec.name).Msg("module contributed an unregistered tweak; skipped")
			continue
		}
		res = append(res, t)
	}
	return res
}

func (rec *record) owns(id string) bool {
	for _, own := range rec.tweakIDs {
		if own == id {
			return true
		}
	}
	return false
}

// NewListeners creates the listener set for one build.
func (r *Registry) NewListeners() *ListenerSet {
	set := newListenerSet(r.log, r.metrics)
	for _, rec := range r.snapshot() {
		f, ok := rec.module.(ListenerFactory)
		if !ok {
			continue
		}
		if l := r.newListener(rec, f); l != nil {
			set.add(rec.name, l)
		}
	}
	return set
}

func (r *Registry) newListener(rec *record, f ListenerFactory) (l Listener) {
	rec.listenerMu.Lock()
	defer rec.listenerMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("module", rec.name).Interface("panic", p).Msg("listener factory panicked")
			r.metrics.listenerFailed(rec.name, "newListener", "panic")
			l = nil
		}
	}()
	return f.NewListener()
}

// Observers adapts the registry to the analysis engine: every build gets
// its own listener set.
func (r *Registry) Observers() analysis.ObserverFactory {
	return func() analysis.Observer { return r.NewListeners() }
}

// Available prepares fresh instances of every tweak against sel, in
// parallel, and returns the guards that prepared, in registration order.
// Only cancellation of ctx is returned as an error; a tweak that fails to
// prepare is logged and treated as unavailable.
func (r *Registry) Available(ctx context.Context, sel *tweak.Selection) ([]*tweak.Guard, error) {
	ctx, sp := trace.Start(ctx, trace.ScopeServer, "tweaks:available")
	defer sp.End("")

	tweaks := r.CollectTweaks()
	guards := make([]*tweak.Guard, len(tweaks))
	ready := make([]bool, len(tweaks))
	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, t := range tweaks {
		guards[i] = tweak.NewGuard(t)
		g.Go(func() error {
			ok, err := guards[i].Prepare(ctx, sel)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				r.log.Warn().Err(err).Str("tweak", guards[i].ID()).Msg("prepare failed")
				r.metrics.prepared(guards[i].ID(), "error")
			case ok:
				r.metrics.prepared(guards[i].ID(), "available")
			default:
				r.metrics.prepared(guards[i].ID(), "unavailable")
			}
			ready[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := guards[:0]
	for i, gd := range guards {
		if ready[i] {
			out = append(out, gd)
		}
	}
	sp.WithExtra("available", fmt.Sprint(len(out)))
	return out, nil
}

// Apply prepares a fresh instance of tweak id against sel and applies it.
func (r *Registry) Apply(ctx context.Context, id string, sel *tweak.Selection) (tweak.Effect, error) {
	ctx, sp := trace.Start(ctx, trace.ScopeServer, "tweaks:apply:"+id)
	defer sp.End("")

	r.mu.RLock()
	rec, ok := r.byTweak[id]
	r.mu.RUnlock()
	if !ok {
		return tweak.Effect{}, fmt.Errorf("%q: %w", id, ErrUnknownTweak)
	}
	var t tweak.Tweak
	for _, cand := range r.contribute(rec, nil) {
		if cand.ID() == id {
			t = cand
			break
		}
	}
	if t == nil {
		return tweak.Effect{}, fmt.Errorf("%q: %w", id, tweak.ErrUnavailable)
	}

	g := tweak.NewGuard(t)
	ok, err := g.Prepare(ctx, sel)
	if err != nil {
		r.metrics.applied(id, "error")
		return tweak.Effect{}, err
	}
	if !ok {
		r.metrics.applied(id, "unavailable")
		return tweak.Effect{}, fmt.Errorf("%q: %w", id, tweak.ErrUnavailable)
	}
	eff, err := g.Apply(ctx, sel)
	if err != nil {
		r.metrics.applied(id, "error")
		r.log.Debug().Err(err).Str("tweak", id).Msg("apply failed")
		return tweak.Effect{}, err
	}
	r.metrics.applied(id, "ok")
	return eff, nil
}

// InitializeLSP lets every LSPBinding module bind handlers and declare
// capabilities. A failing module is logged and skipped; nothing it staged
// reaches b or serverCaps. The joined failures are returned for reporting.
func (r *Registry) InitializeLSP(b *Binder, clientCaps json.RawMessage, serverCaps Capabilities) error {
	var errs []error
	for _, rec := range r.snapshot() {
		lb, ok := rec.module.(LSPBinding)
		if !ok {
			continue
		}
		if err := r.initializeOne(rec, lb, b, clientCaps, serverCaps); err != nil {
			r.log.Error().Err(err).Str("module", rec.name).Msg("LSP initialization failed; module bindings skipped")
			errs = append(errs, fmt.Errorf("module %s: %w", rec.name, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) initializeOne(rec *record, lb LSPBinding, b *Binder, clientCaps json.RawMessage, serverCaps Capabilities) (err error) {
	rec.lspMu.Lock()
	defer rec.lspMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	staged := b.stage(rec.name)
	caps := make(Capabilities, len(serverCaps))
	for k, v := range serverCaps {
		caps[k] = v
	}
	if err := lb.InitializeLSP(staged, clientCaps, caps); err != nil {
		return err
	}
	if err := b.commit(staged); err != nil {
		return err
	}
	for k, v := range caps {
		serverCaps[k] = v
	}
	return nil
}
