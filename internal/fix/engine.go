package fix

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"quill/internal/diag"
	"quill/internal/source"
)

// ErrNoFixes is returned when no fixes were applied.
var ErrNoFixes = errors.New("no applicable fixes found")

// ApplyMode determines which fixes are selected.
type ApplyMode uint8

const (
	ApplyModeOnce ApplyMode = iota // the first fix in file order
	ApplyModeAll                   // every non-conflicting fix
	ApplyModeCode                  // every fix of diagnostics with Code
)

type ApplyOptions struct {
	Mode ApplyMode
	Code diag.Code
}

type AppliedFix struct {
	Title     string
	Code      diag.Code
	Message   string
	Line      uint32
	EditCount int
}

// SkippedFix captures a fix that was not applied and why.
type SkippedFix struct {
	Title  string
	Code   diag.Code
	Reason string
}

type Result struct {
	Content []byte
	Applied []AppliedFix
	Skipped []SkippedFix
}

type candidate struct {
	diag  diag.Diagnostic
	fix   diag.Fix
	order int
}

// ApplyFixes selects fixes attached to diagnostics of file and applies them
// to a copy of its content. Each fix is all or nothing; a fix that conflicts
// with one applied earlier is skipped. Nothing is written to disk.
func ApplyFixes(file *source.File, diagnostics []diag.Diagnostic, opts ApplyOptions) (*Result, error) {
	if file == nil {
		return nil, fmt.Errorf("fix: nil file")
	}
	res := &Result{Content: append([]byte(nil), file.Content...)}

	candidates := gatherCandidates(file, diagnostics)
	if len(candidates) == 0 {
		return res, ErrNoFixes
	}
	sortCandidates(candidates)

	var applied []diag.TextEdit
	for _, cand := range selectCandidates(candidates, opts) {
		if conflictsWithExisting(applied, cand.fix.Edits) {
			res.Skipped = append(res.Skipped, SkippedFix{Title: cand.fix.Title, Code: cand.diag.Code, Reason: "conflicts with a previously applied fix"})
			continue
		}
		// Validate against the original content so every fix is judged on
		// the text its diagnostic saw.
		if _, err := ApplyEdits(file.Content, cand.fix.Edits); err != nil {
			res.Skipped = append(res.Skipped, SkippedFix{Title: cand.fix.Title, Code: cand.diag.Code, Reason: err.Error()})
			continue
		}
		applied = append(applied, cand.fix.Edits...)
		res.Applied = append(res.Applied, AppliedFix{
			Title:     cand.fix.Title,
			Code:      cand.diag.Code,
			Message:   cand.diag.Message,
			Line:      file.Position(cand.diag.Primary.Start).Line,
			EditCount: len(cand.fix.Edits),
		})
	}
	if len(res.Applied) == 0 {
		return res, ErrNoFixes
	}
	content, err := ApplyEdits(file.Content, applied)
	if err != nil {
		return res, err
	}
	res.Content = content
	return res, nil
}

func gatherCandidates(file *source.File, diagnostics []diag.Diagnostic) []candidate {
	var cands []candidate
	order := 0
	for _, d := range diagnostics {
		if d.Primary.File != file.ID {
			continue
		}
		for _, f := range d.Fixes {
			if len(f.Edits) == 0 {
				continue
			}
			cands = append(cands, candidate{diag: d, fix: f, order: order})
			order++
		}
	}
	return cands
}

// sortCandidates orders by span, then discovery order, then code and title.
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		di, dj := candidates[i].diag, candidates[j].diag
		if di.Primary.Start != dj.Primary.Start {
			return di.Primary.Start < dj.Primary.Start
		}
		if di.Primary.End != dj.Primary.End {
			return di.Primary.End < dj.Primary.End
		}
		if candidates[i].order != candidates[j].order {
			return candidates[i].order < candidates[j].order
		}
		if di.Code != dj.Code {
			return di.Code < dj.Code
		}
		return candidates[i].fix.Title < candidates[j].fix.Title
	})
}

func selectCandidates(candidates []candidate, opts ApplyOptions) []candidate {
	switch opts.Mode {
	case ApplyModeOnce:
		return candidates[:1]
	case ApplyModeCode:
		var out []candidate
		for _, c := range candidates {
			if c.diag.Code == opts.Code {
				out = append(out, c)
			}
		}
		return out
	default:
		return candidates
	}
}

func conflictsWithExisting(existing, edits []diag.TextEdit) bool {
	for _, prev := range existing {
		for _, e := range edits {
			if spansConflict(prev, e) {
				return true
			}
		}
	}
	return false
}

// WriteFile replaces path with content atomically, keeping its mode.
func WriteFile(path string, content []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".quill-fix-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Chmod(name, mode); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
