// Package tweak defines the two-phase code action contract.
//
// A Tweak is offered to the user only when Prepare returns true for the
// current selection; Apply may then run at most once, must re-check its
// preconditions, and either returns a complete Effect or an error.
// Instances are single-use: hosts obtain fresh ones for every request and
// drive them through a Guard, which turns protocol misuse into errors.
package tweak

import (
	"context"
	"errors"
	"regexp"
)

// Kind is a coarse filter tag for clients.
type Kind string

const (
	KindQuickFix Kind = "quickfix"
	KindRefactor Kind = "refactor"
	KindInfo     Kind = "info"
)

func (k Kind) Valid() bool {
	switch k {
	case KindQuickFix, KindRefactor, KindInfo:
		return true
	}
	return false
}

type Tweak interface {
	// ID is fixed for the lifetime of the process and unique across modules.
	ID() string
	// Prepare decides cheaply whether the tweak applies to sel.
	Prepare(ctx context.Context, sel *Selection) bool
	// Apply re-validates and produces the effect; no partial effects.
	Apply(ctx context.Context, sel *Selection) (Effect, error)
	Title() string
	Kind() Kind
}

// Descriptor is what clients see of a prepared tweak.
type Descriptor struct {
	ID    string
	Title string
	Kind  Kind
}

var (
	ErrNotPrepared   = errors.New("tweak: apply without a successful prepare")
	ErrReused        = errors.New("tweak: instance already used")
	ErrStale         = errors.New("tweak: selection is stale")
	ErrUnavailable   = errors.New("tweak: not available for selection")
	ErrInvalidEffect = errors.New("tweak: invalid effect")
	ErrPanicked      = errors.New("tweak: panicked")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,254}$`)

// ValidID reports whether id can name a tweak.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
