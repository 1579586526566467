package source

import "testing"

func TestSpanOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"disjoint", Span{Start: 0, End: 2}, Span{Start: 2, End: 4}, false},
		{"overlap", Span{Start: 0, End: 3}, Span{Start: 2, End: 4}, true},
		{"nested", Span{Start: 0, End: 10}, Span{Start: 2, End: 4}, true},
		{"caret inside", Span{Start: 3, End: 3}, Span{Start: 2, End: 4}, true},
		{"caret at end", Span{Start: 4, End: 4}, Span{Start: 2, End: 4}, true},
		{"caret outside", Span{Start: 5, End: 5}, Span{Start: 2, End: 4}, false},
		{"other file", Span{File: 1, Start: 0, End: 3}, Span{Start: 0, End: 3}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("%v.Overlaps(%v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Fatalf("%v.Overlaps(%v) = %v, want %v", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestSpanCover(t *testing.T) {
	got := Span{Start: 4, End: 6}.Cover(Span{Start: 1, End: 5})
	if got.Start != 1 || got.End != 6 {
		t.Fatalf("unexpected cover %v", got)
	}
	other := Span{File: 2, Start: 0, End: 1}
	if got := (Span{Start: 4, End: 6}).Cover(other); got.Start != 4 {
		t.Fatalf("spans of different files must not merge, got %v", got)
	}
}
