package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLevelShouldEmit(t *testing.T) {
	tests := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopeServer, false},
		{LevelPhase, ScopeServer, true},
		{LevelPhase, ScopeBuild, false},
		{LevelDetail, ScopeBuild, true},
		{LevelDetail, ScopeModule, false},
		{LevelDebug, ScopeModule, true},
	}
	for _, tt := range tests {
		if got := tt.level.ShouldEmit(tt.scope); got != tt.want {
			t.Fatalf("%s.ShouldEmit(%s) = %v, want %v", tt.level, tt.scope, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("DETAIL"); err != nil || l != LevelDetail {
		t.Fatalf("ParseLevel(DETAIL) = %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestStartNestsUnderContextSpan(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelDebug, FormatNDJSON)
	ctx := WithTracer(context.Background(), tr)

	ctx, outer := Start(ctx, ScopeServer, "textDocument/codeAction")
	_, inner := Start(ctx, ScopeModule, "module:nolint")
	inner.WithExtra("tweaks", "1").End("")
	outer.End("ok")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 events, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], `"name":"module:nolint"`) {
		t.Fatalf("unexpected second event %s", lines[1])
	}
	if inner.parentID != outer.ID() {
		t.Fatalf("inner parent = %d, want %d", inner.parentID, outer.ID())
	}
	if !strings.Contains(lines[2], `"extra":{"tweaks":"1"}`) {
		t.Fatalf("missing extra on end event: %s", lines[2])
	}
}

func TestDisabledSpanIsInert(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelPhase, FormatText)
	sp := Begin(tr, ScopeModule, "module:x", 0)
	sp.WithExtra("k", "v").End("done")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	if sp.ID() != 0 {
		t.Fatalf("disabled span got id %d", sp.ID())
	}
}
