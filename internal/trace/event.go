package trace

import "time"

// Kind represents the type of trace event.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
)

func (k Kind) String() string {
	switch k {
	case KindSpanBegin:
		return "begin"
	case KindSpanEnd:
		return "end"
	case KindPoint:
		return "point"
	default:
		return "unknown"
	}
}

// Scope indicates the granularity of the event; lower is coarser.
type Scope uint8

const (
	ScopeServer Scope = iota + 1 // LSP requests and CLI commands
	ScopeBuild                   // preamble and main builds
	ScopeModule                  // a single feature-module callback
)

func (s Scope) String() string {
	switch s {
	case ScopeServer:
		return "server"
	case ScopeBuild:
		return "build"
	case ScopeModule:
		return "module"
	default:
		return "unknown"
	}
}

// Event represents a single trace event.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64 // 0 for roots
	Name     string // e.g. "textDocument/codeAction", "build:preamble", "module:nolint"
	Detail   string
	Extra    map[string]string
}
