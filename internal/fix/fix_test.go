package fix

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"quill/internal/diag"
	"quill/internal/source"
)

func sp(start, end uint32) source.Span {
	return source.Span{Start: start, End: end}
}

func TestApplyEdits(t *testing.T) {
	content := []byte("let x = 1\n")
	tests := []struct {
		name  string
		edits []diag.TextEdit
		want  string
		err   error
	}{
		{"replace", []diag.TextEdit{ReplaceSpan(sp(4, 5), "y", "x")}, "let y = 1\n", nil},
		{"insert and delete", []diag.TextEdit{InsertText(sp(9, 9), " // ok"), DeleteSpan(sp(0, 4), "let ")}, "x = 1 // ok\n", nil},
		{"wrap", WrapWith(sp(8, 9), "(", ")"), "let x = (1)\n", nil},
		{"guard mismatch", []diag.TextEdit{ReplaceSpan(sp(4, 5), "y", "z")}, "", ErrMismatch},
		{"overlap", []diag.TextEdit{DeleteSpan(sp(0, 5), ""), DeleteSpan(sp(4, 6), "")}, "", ErrConflict},
		{"same insertion point", []diag.TextEdit{InsertText(sp(3, 3), "a"), InsertText(sp(3, 3), "b")}, "", ErrConflict},
		{"out of range", []diag.TextEdit{DeleteSpan(sp(5, 50), "")}, "", ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyEdits(content, tt.edits)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEdits: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
	if string(content) != "let x = 1\n" {
		t.Fatal("input was modified")
	}
}

func TestApplyFixesSkipsConflicts(t *testing.T) {
	file := source.NewSnapshot("f.ql", 1, []byte("a  \nb\t\n"))
	trailing := func(start, end uint32, ws string) diag.Diagnostic {
		d := diag.New(diag.SevWarning, diag.CoreTrailingSpace, diag.ProvenanceCore, sp(start, end), "trailing whitespace")
		return d.WithFix("Remove trailing whitespace", DeleteSpan(sp(start, end), ws))
	}
	clash := diag.New(diag.SevWarning, diag.CoreInfo, diag.ProvenanceCore, sp(2, 3), "clash").
		WithFix("Replace", ReplaceSpan(sp(2, 3), "!", " "))
	diags := []diag.Diagnostic{trailing(5, 6, "\t"), trailing(1, 3, "  "), clash}

	res, err := ApplyFixes(file, diags, ApplyOptions{Mode: ApplyModeAll})
	if err != nil {
		t.Fatalf("ApplyFixes: %v", err)
	}
	if string(res.Content) != "a\nb\n" {
		t.Fatalf("content = %q", res.Content)
	}
	if len(res.Applied) != 2 || len(res.Skipped) != 1 {
		t.Fatalf("applied=%d skipped=%d", len(res.Applied), len(res.Skipped))
	}
	if res.Applied[0].Line != 1 || res.Applied[1].Line != 2 {
		t.Fatalf("applied order = %+v", res.Applied)
	}

	once, err := ApplyFixes(file, diags, ApplyOptions{Mode: ApplyModeOnce})
	if err != nil || string(once.Content) != "a\nb\t\n" {
		t.Fatalf("once = %q, %v", once.Content, err)
	}

	byCode, err := ApplyFixes(file, diags, ApplyOptions{Mode: ApplyModeCode, Code: diag.CoreInfo})
	if err != nil || string(byCode.Content) != "a !\nb\t\n" {
		t.Fatalf("by code = %q, %v", byCode.Content, err)
	}

	if _, err := ApplyFixes(file, nil, ApplyOptions{}); !errors.Is(err, ErrNoFixes) {
		t.Fatalf("no fixes: %v", err)
	}
}

func TestWriteFileKeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.ql")
	if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(path, []byte("new")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "new" {
		t.Fatalf("read back %q, %v", data, err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %v, %v", info.Mode(), err)
	}
}
