package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"quill/internal/source"
	"quill/internal/tweak"
)

// normalizedFlags mark files whose in-memory offsets differ from the bytes
// on disk.
const normalizedFlags = source.FileNormalizedCRLF | source.FileHadBOM

// addSelectionFlags registers the 1-based position flags shared by tweaks
// and apply. Columns count bytes.
func addSelectionFlags(cmd *cobra.Command) {
	cmd.Flags().Uint32("line", 1, "selection start line (1-based)")
	cmd.Flags().Uint32("col", 1, "selection start column (1-based, bytes)")
	cmd.Flags().Uint32("end-line", 0, "selection end line (default: start line)")
	cmd.Flags().Uint32("end-col", 0, "selection end column, exclusive (default: start column)")
}

type selectionArgs struct {
	line, col       uint32
	endLine, endCol uint32
}

func readSelectionArgs(cmd *cobra.Command) (selectionArgs, error) {
	var s selectionArgs
	var err error
	flags := cmd.Flags()
	if s.line, err = flags.GetUint32("line"); err != nil {
		return s, fmt.Errorf("failed to get line flag: %w", err)
	}
	if s.col, err = flags.GetUint32("col"); err != nil {
		return s, fmt.Errorf("failed to get col flag: %w", err)
	}
	if s.endLine, err = flags.GetUint32("end-line"); err != nil {
		return s, fmt.Errorf("failed to get end-line flag: %w", err)
	}
	if s.endCol, err = flags.GetUint32("end-col"); err != nil {
		return s, fmt.Errorf("failed to get end-col flag: %w", err)
	}
	if s.endLine == 0 {
		s.endLine = s.line
		if s.endCol == 0 {
			s.endCol = s.col
		}
	}
	if s.endCol == 0 {
		s.endCol = 1
	}
	return s, nil
}

// offsetAt converts a 1-based line and byte column into an offset, clamping
// the column to the line.
func offsetAt(file *source.File, line, col uint32) (uint32, error) {
	if line == 0 || line > file.LineCount() {
		return 0, fmt.Errorf("line %d outside %s (%d lines)", line, file.Path, file.LineCount())
	}
	if col == 0 {
		col = 1
	}
	ls := file.LineSpan(line)
	return min(ls.Start+col-1, ls.End), nil
}

func spanFor(file *source.File, s selectionArgs) (source.Span, error) {
	start, err := offsetAt(file, s.line, s.col)
	if err != nil {
		return source.Span{}, err
	}
	end, err := offsetAt(file, s.endLine, s.endCol)
	if err != nil {
		return source.Span{}, err
	}
	if end < start {
		return source.Span{}, fmt.Errorf("selection ends before it starts")
	}
	return source.Span{File: file.ID, Start: start, End: end}, nil
}

// loadSelection reads path, builds it with every listener attached and
// returns the selection the flags describe.
func loadSelection(ctx context.Context, a *app, path string, s selectionArgs) (*tweak.Selection, error) {
	fset := source.NewFileSet()
	id, err := fset.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	file := fset.Get(id)
	span, err := spanFor(file, s)
	if err != nil {
		return nil, err
	}
	model, err := a.engine.Analyze(ctx, file, a.registry.Observers())
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", path, err)
	}
	sel, err := tweak.NewSelection(file, span, model)
	if err != nil {
		return nil, err
	}
	return sel, nil
}
