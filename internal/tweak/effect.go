package tweak

import (
	"fmt"

	"quill/internal/diag"
)

// Effect is the result of a successful Apply: either a set of edits to the
// selected file or a message for the user, never both.
type Effect struct {
	Edits   []diag.TextEdit
	Message string
}

func EditEffect(edits ...diag.TextEdit) Effect {
	return Effect{Edits: edits}
}

func MessageEffect(msg string) Effect {
	return Effect{Message: msg}
}

func (e Effect) IsEdit() bool { return len(e.Edits) > 0 }

// Validate rejects empty effects and effects carrying both variants.
func (e Effect) Validate() error {
	switch {
	case len(e.Edits) > 0 && e.Message != "":
		return fmt.Errorf("%w: both edits and message", ErrInvalidEffect)
	case len(e.Edits) == 0 && e.Message == "":
		return fmt.Errorf("%w: empty", ErrInvalidEffect)
	}
	for _, ed := range e.Edits {
		if ed.Span.End < ed.Span.Start {
			return fmt.Errorf("%w: inverted span %s", ErrInvalidEffect, ed.Span)
		}
	}
	return nil
}
