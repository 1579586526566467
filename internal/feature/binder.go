package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Handler serves a protocol method, notification or command. Results of
// notifications are ignored.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Capabilities is the server capability object sent back from initialize.
type Capabilities map[string]any

type binding struct {
	module string
	h      Handler
}

// Binder collects the protocol surface contributed by modules.
// Names the host serves itself are reserved. Binding happens while the
// server initializes; afterwards the binder is only read.
type Binder struct {
	reserved      map[string]struct{}
	methods       map[string]binding
	notifications map[string]binding
	commands      map[string]binding

	// module is set on per-module staging binders.
	module string
}

func NewBinder(reserved ...string) *Binder {
	b := &Binder{reserved: make(map[string]struct{}, len(reserved))}
	for _, name := range reserved {
		b.reserved[name] = struct{}{}
	}
	b.reset()
	return b
}

func (b *Binder) reset() {
	b.methods = make(map[string]binding)
	b.notifications = make(map[string]binding)
	b.commands = make(map[string]binding)
}

// Method binds a request handler.
func (b *Binder) Method(name string, h Handler) error {
	return b.bind(b.methods, "method", name, h)
}

// Notification binds a notification handler.
func (b *Binder) Notification(name string, h Handler) error {
	return b.bind(b.notifications, "notification", name, h)
}

// Command binds a workspace/executeCommand command.
func (b *Binder) Command(name string, h Handler) error {
	return b.bind(b.commands, "command", name, h)
}

func (b *Binder) bind(table map[string]binding, what, name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("%s %q: %w", what, name, ErrInvalidDescriptor)
	}
	if _, ok := b.reserved[name]; ok {
		return fmt.Errorf("%s %q: %w", what, name, ErrReservedBinding)
	}
	if prev, ok := table[name]; ok {
		return fmt.Errorf("%s %q already bound by %s: %w", what, name, prev.module, ErrDuplicateBinding)
	}
	table[name] = binding{module: b.module, h: h}
	return nil
}

// stage returns an empty binder whose bindings are attributed to module.
// Nothing reaches b until commit.
func (b *Binder) stage(module string) *Binder {
	s := &Binder{reserved: b.reserved, module: module}
	s.reset()
	return s
}

// commit moves the staged bindings into b, all or nothing.
func (b *Binder) commit(s *Binder) error {
	for _, t := range []struct {
		what     string
		dst, src map[string]binding
	}{
		{"method", b.methods, s.methods},
		{"notification", b.notifications, s.notifications},
		{"command", b.commands, s.commands},
	} {
		for name := range t.src {
			if prev, ok := t.dst[name]; ok {
				return fmt.Errorf("%s %q already bound by %s: %w", t.what, name, prev.module, ErrDuplicateBinding)
			}
		}
	}
	maps.Copy(b.methods, s.methods)
	maps.Copy(b.notifications, s.notifications)
	maps.Copy(b.commands, s.commands)
	return nil
}

func (b *Binder) LookupMethod(name string) (Handler, bool) {
	bd, ok := b.methods[name]
	return bd.h, ok
}

func (b *Binder) LookupNotification(name string) (Handler, bool) {
	bd, ok := b.notifications[name]
	return bd.h, ok
}

func (b *Binder) LookupCommand(name string) (Handler, bool) {
	bd, ok := b.commands[name]
	return bd.h, ok
}

// Owner returns the module that bound a method, notification or command.
func (b *Binder) Owner(name string) string {
	for _, t := range []map[string]binding{b.methods, b.notifications, b.commands} {
		if bd, ok := t[name]; ok {
			return bd.module
		}
	}
	return ""
}

// Commands lists bound command names, sorted.
func (b *Binder) Commands() []string {
	return slices.Sorted(maps.Keys(b.commands))
}
