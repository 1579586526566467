package tweak

import (
	"context"
	"fmt"
	"sync"
)

type state uint8

const (
	stateFresh state = iota
	statePrepared
	stateUnavailable
	stateApplied
)

// Guard drives one Tweak instance through Prepare and Apply and rejects
// every out-of-order call. Module panics are recovered and reported as
// ErrPanicked. A Guard is safe for concurrent use; calls are serialized.
type Guard struct {
	mu    sync.Mutex
	t     Tweak
	id    string
	state state
	sel   *Selection
	desc  Descriptor
}

func NewGuard(t Tweak) *Guard {
	return &Guard{t: t, id: t.ID()}
}

func (g *Guard) ID() string { return g.id }

// Prepare runs the tweak's Prepare once. A second call returns ErrReused.
// A canceled ctx returns ctx.Err() without calling the tweak.
func (g *Guard) Prepare(ctx context.Context, sel *Selection) (ok bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != stateFresh {
		return false, fmt.Errorf("%s: prepare: %w", g.id, ErrReused)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.state = stateUnavailable
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%s: prepare: %w: %v", g.id, ErrPanicked, r)
		}
	}()
	if !g.t.Prepare(ctx, sel) {
		return false, nil
	}
	g.desc = Descriptor{ID: g.id, Title: g.t.Title(), Kind: g.t.Kind()}
	g.sel = sel
	g.state = statePrepared
	return true, nil
}

// Apply runs the tweak's Apply once, only after a true Prepare on an
// equivalent selection. The returned effect has passed Validate.
func (g *Guard) Apply(ctx context.Context, sel *Selection) (eff Effect, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case stateApplied:
		return Effect{}, fmt.Errorf("%s: apply: %w", g.id, ErrReused)
	case statePrepared:
	default:
		return Effect{}, fmt.Errorf("%s: apply: %w", g.id, ErrNotPrepared)
	}
	if !g.sel.Equivalent(sel) {
		return Effect{}, fmt.Errorf("%s: apply on a different selection: %w", g.id, ErrNotPrepared)
	}
	if err := ctx.Err(); err != nil {
		return Effect{}, err
	}
	g.state = stateApplied
	g.sel = nil
	defer func() {
		if r := recover(); r != nil {
			eff, err = Effect{}, fmt.Errorf("%s: apply: %w: %v", g.id, ErrPanicked, r)
		}
	}()
	eff, err = g.t.Apply(ctx, sel)
	if err != nil {
		return Effect{}, fmt.Errorf("%s: %w", g.id, err)
	}
	if err := eff.Validate(); err != nil {
		return Effect{}, fmt.Errorf("%s: %w", g.id, err)
	}
	return eff, nil
}

// Descriptor is available once Prepare returned true.
func (g *Guard) Descriptor() (Descriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != statePrepared && g.state != stateApplied {
		return Descriptor{}, fmt.Errorf("%s: descriptor: %w", g.id, ErrNotPrepared)
	}
	return g.desc, nil
}

func (g *Guard) Title() string {
	d, _ := g.Descriptor()
	return d.Title
}

func (g *Guard) Kind() Kind {
	d, _ := g.Descriptor()
	return d.Kind
}
