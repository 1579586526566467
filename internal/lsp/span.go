package lsp

import (
	"sort"
	"unicode/utf8"

	"fortio.org/safecast"

	"quill/internal/source"
)

const maxUint32 = ^uint32(0)

func safeUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	v, err := safecast.Conv[uint32](n)
	if err != nil {
		return maxUint32
	}
	return v
}

func safeInt32(n int) int32 {
	v, err := safecast.Conv[int32](n)
	if err != nil {
		if n < 0 {
			return 0
		}
		return ^int32(0) >> 1
	}
	return v
}

// utf16Len is the number of UTF-16 code units r occupies.
func utf16Len(r rune) int {
	if r > 0xFFFF {
		return 2
	}
	return 1
}

// offsetForPositionInFile maps an LSP position (UTF-16 columns) to a byte
// offset. Positions past the end of a line clamp to the line end; lines past
// the end of the file clamp to the file end.
func offsetForPositionInFile(file *source.File, pos position) uint32 {
	if file == nil || pos.Line < 0 || pos.Character < 0 {
		return 0
	}
	if pos.Line >= int(file.LineCount()) {
		return file.Size()
	}
	line := file.LineSpan(safeUint32(pos.Line + 1))
	units := 0
	off := line.Start
	for off < line.End && units < pos.Character {
		r, size := utf8.DecodeRune(file.Content[off:line.End])
		need := utf16Len(r)
		if units+need > pos.Character {
			break
		}
		units += need
		off += safeUint32(size)
	}
	return off
}

func positionForOffsetInFile(file *source.File, offset uint32) position {
	if file == nil {
		return position{}
	}
	if size := file.Size(); offset > size {
		offset = size
	}
	lineIdx := file.LineIdx
	line := sort.Search(len(lineIdx), func(i int) bool { return lineIdx[i] >= offset })
	var lineStart uint32
	if line > 0 {
		lineStart = lineIdx[line-1] + 1
	}
	units := 0
	for off := lineStart; off < offset; {
		r, size := utf8.DecodeRune(file.Content[off:offset])
		units += utf16Len(r)
		off += safeUint32(size)
	}
	return position{Line: line, Character: units}
}

func rangeForSpan(file *source.File, span source.Span) lspRange {
	if file == nil {
		return lspRange{}
	}
	return lspRange{
		Start: positionForOffsetInFile(file, span.Start),
		End:   positionForOffsetInFile(file, span.End),
	}
}

// spanForRange is the inverse of rangeForSpan. An inverted range collapses
// to its start.
func spanForRange(file *source.File, r lspRange) source.Span {
	start := offsetForPositionInFile(file, r.Start)
	end := offsetForPositionInFile(file, r.End)
	if end < start {
		end = start
	}
	var id source.FileID
	if file != nil {
		id = file.ID
	}
	return source.Span{File: id, Start: start, End: end}
}
