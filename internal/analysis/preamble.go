package analysis

import (
	"strings"

	"quill/internal/source"
)

// PreambleRegion returns the leading block of comment, directive and blank
// lines. The region ends after the newline of its last line, so the main
// build starts on a fresh line. An unterminated last line never belongs to
// the preamble.
func PreambleRegion(file *source.File) source.Span {
	var end uint32
	for i, nl := range file.LineIdx {
		ln := file.GetLine(uint32(i) + 1) //nolint:gosec // bounded by LineCount
		if !isPreambleLine(ln) {
			break
		}
		end = nl + 1
	}
	return source.Span{File: file.ID, Start: 0, End: end}
}

func isPreambleLine(text string) bool {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return true
	case strings.HasPrefix(t, "//"), strings.HasPrefix(t, "#"):
		return true
	case strings.HasPrefix(t, "import ") || t == "import" || strings.HasPrefix(t, "import("):
		return true
	case strings.HasPrefix(t, "use "):
		return true
	case strings.HasPrefix(t, "package "):
		return true
	}
	return false
}

// suppression describes a marker found on a line: either every external
// check, or only the listed code ids and check names.
type suppression struct {
	all   bool
	names map[string]struct{}
}

func (s suppression) covers(raw RawDiagnostic) bool {
	if s.all {
		return true
	}
	if _, ok := s.names[raw.Code.ID()]; ok {
		return true
	}
	_, ok := s.names[raw.Check]
	return ok
}

// parseSuppression looks for marker in text: "NOLINT" alone silences all
// external checks on the line, "NOLINT(LNT2001, double-blank)" only those.
func parseSuppression(text, marker string) (suppression, bool) {
	if marker == "" {
		return suppression{}, false
	}
	i := strings.Index(text, marker)
	if i < 0 {
		return suppression{}, false
	}
	rest := text[i+len(marker):]
	if !strings.HasPrefix(rest, "(") {
		return suppression{all: true}, true
	}
	closeIdx := strings.IndexByte(rest, ')')
	if closeIdx < 0 {
		return suppression{all: true}, true
	}
	s := suppression{names: make(map[string]struct{})}
	for _, name := range strings.Split(rest[1:closeIdx], ",") {
		if name = strings.TrimSpace(name); name != "" {
			s.names[name] = struct{}{}
		}
	}
	if len(s.names) == 0 {
		s.all = true
	}
	return s, true
}
