// Package trimspace removes trailing whitespace, as a refactoring over the
// selected lines and as a protocol command over a whole buffer.
package trimspace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"quill/internal/diag"
	"quill/internal/feature"
	"quill/internal/fix"
	"quill/internal/source"
	"quill/internal/tweak"
)

const (
	Name        = "trimspace"
	TweakID     = "TrimTrailingSpace"
	CommandName = "quill.trimTrailingSpace"
)

type Module struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Module {
	return &Module{log: log.With().Str("module", Name).Logger()}
}

func (m *Module) Name() string { return Name }

func (m *Module) ContributeTweaks(out []tweak.Tweak) []tweak.Tweak {
	return append(out, &tweak.Func{
		TweakID:    TweakID,
		TweakTitle: "Trim trailing whitespace",
		TweakKind:  tweak.KindRefactor,
		PrepareFunc: func(_ context.Context, sel *tweak.Selection) bool {
			first, last := sel.Lines()
			return len(Edits(sel.File(), first, last)) > 0
		},
		ApplyFunc: func(ctx context.Context, sel *tweak.Selection) (tweak.Effect, error) {
			first, last := sel.Lines()
			edits := Edits(sel.File(), first, last)
			if len(edits) == 0 {
				return tweak.Effect{}, fmt.Errorf("lines %d-%d are already clean: %w", first, last, tweak.ErrStale)
			}
			m.log.Debug().Int("edits", len(edits)).Msg("trimming trailing whitespace")
			return tweak.EditEffect(edits...), nil
		},
	})
}

type commandArgs struct {
	Text string `json:"text"`
}

type commandResult struct {
	Text  string `json:"text"`
	Lines int    `json:"lines"`
}

// InitializeLSP binds CommandName. Its single argument is {"text": ...};
// the result carries the cleaned text and the number of lines changed.
func (m *Module) InitializeLSP(b *feature.Binder, _ json.RawMessage, caps feature.Capabilities) error {
	if err := b.Command(CommandName, m.trimCommand); err != nil {
		return err
	}
	experimental, _ := caps["experimental"].(map[string]any)
	if experimental == nil {
		experimental = make(map[string]any)
	}
	experimental["trimTrailingSpaceProvider"] = true
	caps["experimental"] = experimental
	return nil
}

func (m *Module) trimCommand(_ context.Context, params json.RawMessage) (any, error) {
	var args []commandArgs
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, fmt.Errorf("%s expects one {\"text\"} argument", CommandName)
	}
	file := source.NewSnapshot("command", 0, []byte(args[0].Text))
	edits := Edits(file, 1, file.LineCount())
	out, err := fix.ApplyEdits(file.Content, edits)
	if err != nil {
		return nil, err
	}
	return commandResult{Text: string(out), Lines: len(edits)}, nil
}

// Edits returns one guarded deletion per line in [first, last] that ends
// in spaces or tabs.
func Edits(file *source.File, first, last uint32) []diag.TextEdit {
	var edits []diag.TextEdit
	for n := first; n <= last && n <= file.LineCount(); n++ {
		ls := file.LineSpan(n)
		text := file.Text(ls)
		trimmed := strings.TrimRight(text, " \t")
		if len(trimmed) == len(text) {
			continue
		}
		start := ls.Start + uint32(len(trimmed)) //nolint:gosec // within one line
		span := source.Span{File: file.ID, Start: start, End: ls.End}
		edits = append(edits, fix.DeleteSpan(span, text[len(trimmed):]))
	}
	return edits
}
