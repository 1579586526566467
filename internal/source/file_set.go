package source

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"

	"fortio.org/safecast"
)

// FileSet manages a collection of file snapshots. The same path may be added
// several times; every Add produces a new FileID and the path index always
// points at the latest snapshot.
type FileSet struct {
	mu    sync.RWMutex
	files []*File
	index map[string]FileID // path -> latest id
}

// NewFileSet creates a new empty FileSet.
func NewFileSet() *FileSet {
	return &FileSet{
		files: make([]*File, 0),
		index: make(map[string]FileID),
	}
}

// Add stores normalized content as a new snapshot of path and returns its id.
func (fileSet *FileSet) Add(path string, version int32, content []byte, flags FileFlags) FileID {
	fileSet.mu.Lock()
	defer fileSet.mu.Unlock()

	n, err := safecast.Conv[uint32](len(fileSet.files))
	if err != nil {
		panic(fmt.Errorf("len files overflow: %w", err))
	}
	id := FileID(n)
	file := newFile(id, path, version, content, flags)
	fileSet.files = append(fileSet.files, file)
	fileSet.index[file.Path] = id
	return id
}

// Load reads a file from disk, strips a BOM, normalizes CRLF and adds it as version 0.
func (fileSet *FileSet) Load(path string) (FileID, error) {
	// #nosec G304 -- path is provided by the caller
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	content, hadBOM := removeBOM(content)
	content, hadCRLF := normalizeCRLF(content)

	flags := FileFlags(0)
	if hadBOM {
		flags |= FileHadBOM
	}
	if hadCRLF {
		flags |= FileNormalizedCRLF
	}
	return fileSet.Add(path, 0, content, flags), nil
}

// AddVirtual adds an in-memory snapshot (editor buffer, test) with the FileVirtual flag.
func (fileSet *FileSet) AddVirtual(name string, version int32, content []byte) FileID {
	return fileSet.Add(name, version, content, FileVirtual)
}

// Get returns the snapshot for id, or nil if the id is unknown.
func (fileSet *FileSet) Get(id FileID) *File {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	if int(id) >= len(fileSet.files) {
		return nil
	}
	return fileSet.files[id]
}

// GetLatest returns the latest snapshot id for path.
func (fileSet *FileSet) GetLatest(path string) (FileID, bool) {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	id, ok := fileSet.index[normalizePath(path)]
	return id, ok
}

// Len returns the number of snapshots.
func (fileSet *FileSet) Len() int {
	fileSet.mu.RLock()
	defer fileSet.mu.RUnlock()
	return len(fileSet.files)
}

// NewSnapshot builds a standalone virtual snapshot outside of any FileSet.
// The LSP server uses it for open editor buffers.
func NewSnapshot(path string, version int32, content []byte) *File {
	return newFile(0, path, version, content, FileVirtual)
}

func newFile(id FileID, path string, version int32, content []byte, flags FileFlags) *File {
	return &File{
		ID:      id,
		Path:    normalizePath(path),
		Version: version,
		Content: content,
		LineIdx: buildLineIndex(content),
		Hash:    sha256.Sum256(content),
		Flags:   flags,
	}
}

// Size returns the content length as uint32.
func (f *File) Size() uint32 {
	n, err := safecast.Conv[uint32](len(f.Content))
	if err != nil {
		panic(fmt.Errorf("content length overflow: %w", err))
	}
	return n
}

// LineCount returns the number of lines, counting a trailing partial line.
func (f *File) LineCount() uint32 {
	n, err := safecast.Conv[uint32](len(f.LineIdx))
	if err != nil {
		panic(fmt.Errorf("line index length overflow: %w", err))
	}
	return n + 1
}

// LineSpan returns the span of line lineNum (1-based) without its newline.
// Lines past the end yield an empty span at the end of the file.
func (f *File) LineSpan(lineNum uint32) Span {
	size := f.Size()
	if lineNum == 0 || lineNum > f.LineCount() {
		return Span{File: f.ID, Start: size, End: size}
	}
	var start uint32
	if lineNum > 1 {
		start = f.LineIdx[lineNum-2] + 1
	}
	end := size
	if int(lineNum-1) < len(f.LineIdx) {
		end = f.LineIdx[lineNum-1]
	}
	return Span{File: f.ID, Start: start, End: end}
}

// GetLine returns the text of line lineNum (1-based), or "" if it does not exist.
func (f *File) GetLine(lineNum uint32) string {
	return f.Text(f.LineSpan(lineNum))
}

// Text returns the content covered by span, clamped to the file bounds.
func (f *File) Text(span Span) string {
	size := f.Size()
	start, end := span.Start, span.End
	if start > size {
		start = size
	}
	if end > size {
		end = size
	}
	if end < start {
		return ""
	}
	return string(f.Content[start:end])
}

// Position converts a byte offset into a 1-based line/column.
func (f *File) Position(off uint32) LineCol {
	return toLineCol(f.LineIdx, off)
}

// Resolve converts a span into start and end positions.
func (f *File) Resolve(span Span) (start, end LineCol) {
	return toLineCol(f.LineIdx, span.Start), toLineCol(f.LineIdx, span.End)
}

// Resolve converts a span of any file in the set into line and column positions.
func (fileSet *FileSet) Resolve(span Span) (start, end LineCol) {
	f := fileSet.Get(span.File)
	if f == nil {
		return LineCol{}, LineCol{}
	}
	return f.Resolve(span)
}
