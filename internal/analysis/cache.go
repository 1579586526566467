package analysis

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"quill/internal/diag"
	"quill/internal/source"
)

// Bump when preamblePayload changes shape.
const preambleSchemaVersion uint16 = 1

// PreambleCache keeps finished preamble builds keyed by a digest of the
// preamble text and everything else that affects its diagnostics. Entries
// live in memory and, when a directory is configured, on disk as msgpack.
// A nil *PreambleCache is a valid, always-missing cache.
type PreambleCache struct {
	mu  sync.RWMutex
	dir string
	mem map[[32]byte]*preamblePayload
}

type preamblePayload struct {
	Schema      uint16
	Diagnostics []cachedDiagnostic
	Dropped     int
	Suppressed  int
}

type cachedDiagnostic struct {
	Severity uint8
	Code     uint16
	Source   string
	Message  string
	Start    uint32
	End      uint32
	Notes    []cachedNote
	Fixes    []cachedFix
	Actions  []string
}

type cachedNote struct {
	Start, End uint32
	Msg        string
}

type cachedFix struct {
	Title string
	Edits []cachedEdit
}

type cachedEdit struct {
	Start, End       uint32
	NewText, OldText string
}

// NewMemoryCache returns a cache that never touches the disk.
func NewMemoryCache() *PreambleCache {
	return &PreambleCache{mem: make(map[[32]byte]*preamblePayload)}
}

// OpenPreambleCache returns a cache persisted under dir. An empty dir
// selects $XDG_CACHE_HOME/quill/preamble (or ~/.cache/quill/preamble).
func OpenPreambleCache(dir string) (*PreambleCache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, "quill", "preamble")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	c := NewMemoryCache()
	c.dir = dir
	return c, nil
}

func (c *PreambleCache) pathFor(key [32]byte) string {
	return filepath.Join(c.dir, hex.EncodeToString(key[:])+".mp")
}

// get returns the payload stored under key. Unreadable or stale disk entries
// count as misses.
func (c *PreambleCache) get(key [32]byte) (*preamblePayload, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	p, ok := c.mem[key]
	dir := c.dir
	c.mu.RUnlock()
	if ok {
		return p, true
	}
	if dir == "" {
		return nil, false
	}
	p, err := c.readDisk(key)
	if err != nil || p == nil || p.Schema != preambleSchemaVersion {
		return nil, false
	}
	c.mu.Lock()
	c.mem[key] = p
	c.mu.Unlock()
	return p, true
}

func (c *PreambleCache) readDisk(key [32]byte) (*preamblePayload, error) {
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var p preamblePayload
	if err := msgpack.NewDecoder(f).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// put stores p in memory and, if configured, atomically on disk.
func (c *PreambleCache) put(key [32]byte, p *preamblePayload) error {
	if c == nil || p == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem[key] = p
	if c.dir == "" {
		return nil
	}

	path := c.pathFor(key)
	f, err := os.CreateTemp(c.dir, "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := msgpack.NewEncoder(f).Encode(p); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Len reports the number of in-memory entries.
func (c *PreambleCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

// DropAll forgets every entry, on disk too.
func (c *PreambleCache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem = make(map[[32]byte]*preamblePayload)
	if c.dir == "" {
		return nil
	}
	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(c.dir, 0o755)
		}
		return err
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}
	return os.RemoveAll(old)
}

func payloadFor(m *Model) *preamblePayload {
	p := &preamblePayload{
		Schema:      preambleSchemaVersion,
		Diagnostics: make([]cachedDiagnostic, 0, len(m.Diagnostics)),
		Dropped:     m.Dropped,
		Suppressed:  m.Suppressed,
	}
	for _, d := range m.Diagnostics {
		cd := cachedDiagnostic{
			Severity: uint8(d.Severity),
			Code:     uint16(d.Code),
			Source:   string(d.Source),
			Message:  d.Message,
			Start:    d.Primary.Start,
			End:      d.Primary.End,
			Actions:  append([]string(nil), d.Actions...),
		}
		for _, n := range d.Notes {
			cd.Notes = append(cd.Notes, cachedNote{Start: n.Span.Start, End: n.Span.End, Msg: n.Msg})
		}
		for _, f := range d.Fixes {
			cf := cachedFix{Title: f.Title}
			for _, e := range f.Edits {
				cf.Edits = append(cf.Edits, cachedEdit{Start: e.Span.Start, End: e.Span.End, NewText: e.NewText, OldText: e.OldText})
			}
			cd.Fixes = append(cd.Fixes, cf)
		}
		p.Diagnostics = append(p.Diagnostics, cd)
	}
	return p
}

// model rebinds a cached payload to the current snapshot. Offsets stay valid
// because the preamble text is part of the key and starts at offset 0.
func (p *preamblePayload) model(file *source.File, region source.Span) *Model {
	span := func(start, end uint32) source.Span {
		return source.Span{File: file.ID, Start: start, End: end}
	}
	m := &Model{
		File:        file,
		Kind:        BuildPreamble,
		Region:      region,
		Dropped:     p.Dropped,
		Suppressed:  p.Suppressed,
		Cached:      true,
		Diagnostics: make([]diag.Diagnostic, 0, len(p.Diagnostics)),
	}
	for _, cd := range p.Diagnostics {
		d := diag.New(diag.Severity(cd.Severity), diag.Code(cd.Code), diag.Provenance(cd.Source), span(cd.Start, cd.End), cd.Message)
		for _, n := range cd.Notes {
			d = d.WithNote(span(n.Start, n.End), n.Msg)
		}
		for _, f := range cd.Fixes {
			edits := make([]diag.TextEdit, 0, len(f.Edits))
			for _, e := range f.Edits {
				edits = append(edits, diag.TextEdit{Span: span(e.Start, e.End), NewText: e.NewText, OldText: e.OldText})
			}
			d = d.WithFix(f.Title, edits...)
		}
		d.Actions = append([]string(nil), cd.Actions...)
		m.Diagnostics = append(m.Diagnostics, d)
	}
	return m
}
