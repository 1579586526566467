package tweak

import "context"

// Func builds a Tweak from plain functions. A nil PrepareFunc always
// prepares; a nil ApplyFunc yields ErrUnavailable.
type Func struct {
	TweakID     string
	TweakTitle  string
	TweakKind   Kind
	PrepareFunc func(ctx context.Context, sel *Selection) bool
	ApplyFunc   func(ctx context.Context, sel *Selection) (Effect, error)
}

func (f *Func) ID() string    { return f.TweakID }
func (f *Func) Title() string { return f.TweakTitle }

func (f *Func) Kind() Kind {
	if f.TweakKind == "" {
		return KindRefactor
	}
	return f.TweakKind
}

func (f *Func) Prepare(ctx context.Context, sel *Selection) bool {
	if f.PrepareFunc == nil {
		return true
	}
	return f.PrepareFunc(ctx, sel)
}

func (f *Func) Apply(ctx context.Context, sel *Selection) (Effect, error) {
	if f.ApplyFunc == nil {
		return Effect{}, ErrUnavailable
	}
	return f.ApplyFunc(ctx, sel)
}
