package fix

import (
	"errors"
	"fmt"
	"sort"

	"quill/internal/diag"
)

var (
	ErrConflict   = errors.New("overlapping edits")
	ErrOutOfRange = errors.New("edit span out of range")
	ErrMismatch   = errors.New("existing text does not match expected content")
)

// ApplyEdits applies edits to content, all or nothing. Spans refer to the
// original content; they may not overlap, and every OldText guard must
// match. content is never modified.
func ApplyEdits(content []byte, edits []diag.TextEdit) ([]byte, error) {
	if len(edits) == 0 {
		return append([]byte(nil), content...), nil
	}
	sorted := append([]diag.TextEdit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Span.Start == sorted[j].Span.Start {
			return sorted[i].Span.End < sorted[j].Span.End
		}
		return sorted[i].Span.Start < sorted[j].Span.Start
	})
	for i, e := range sorted {
		if e.Span.End < e.Span.Start || int(e.Span.End) > len(content) {
			return nil, fmt.Errorf("%w: %s", ErrOutOfRange, e.Span)
		}
		if e.OldText != "" && string(content[e.Span.Start:e.Span.End]) != e.OldText {
			return nil, fmt.Errorf("%w at %s", ErrMismatch, e.Span)
		}
		if i > 0 && spansConflict(sorted[i-1], e) {
			return nil, fmt.Errorf("%w: %s and %s", ErrConflict, sorted[i-1].Span, e.Span)
		}
	}

	out := make([]byte, 0, len(content))
	var cursor uint32
	for _, e := range sorted {
		out = append(out, content[cursor:e.Span.Start]...)
		out = append(out, e.NewText...)
		cursor = e.Span.End
	}
	return append(out, content[cursor:]...), nil
}

// spansConflict reports whether two edits' spans overlap as half-open
// intervals. Two insertions at the same point conflict too, since their
// order would be ambiguous.
func spansConflict(a, b diag.TextEdit) bool {
	aStart, aEnd := a.Span.Start, a.Span.End
	bStart, bEnd := b.Span.Start, b.Span.End

	if aStart == aEnd && bStart == bEnd {
		return aStart == bStart
	}
	if aStart == aEnd {
		return bStart < aStart && aStart < bEnd
	}
	if bStart == bEnd {
		return aStart < bStart && bStart < aEnd
	}
	return aStart < bEnd && bStart < aEnd
}
