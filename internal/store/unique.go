package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrCorrupt means the unique-store artifact exists but cannot be trusted.
// It is never returned for a missing file.
var ErrCorrupt = errors.New("store: unique store artifact is corrupt")

// Set is an insertion-ordered set of config URIs.
type Set struct {
	order []string
	seen  map[string]struct{}

	// missingNewline is true when the loaded artifact did not end in '\n'.
	missingNewline bool
}

func newSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Contains reports whether uri is in the set.
func (s *Set) Contains(uri string) bool {
	_, ok := s.seen[uri]
	return ok
}

// Len returns the number of unique entries.
func (s *Set) Len() int { return len(s.order) }

// Items returns the entries in order of first appearance.
func (s *Set) Items() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Set) add(uri string) bool {
	if _, ok := s.seen[uri]; ok {
		return false
	}
	s.seen[uri] = struct{}{}
	s.order = append(s.order, uri)
	return true
}

// Load reads the artifact at path. A missing file yields an empty set.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newSet(), nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", ErrCorrupt, path, err)
	}

	set := newSet()
	if len(data) > 0 && data[len(data)-1] != '\n' {
		set.missingNewline = true
	}
	for i, line := range bytes.Split(data, []byte("\n")) {
		if !utf8.Valid(line) {
			return nil, fmt.Errorf("%w: %s line %d: invalid utf-8", ErrCorrupt, path, i+1)
		}
		if bytes.IndexByte(line, 0) >= 0 {
			return nil, fmt.Errorf("%w: %s line %d: nul byte", ErrCorrupt, path, i+1)
		}
		if uri := strings.TrimFunc(string(line), isSpace); uri != "" {
			set.add(uri)
		}
	}
	return set, nil
}

// MergeResult reports the outcome of a merge.
type MergeResult struct {
	New      int
	Total    int
	Added    []string // newly appended, in append order
	Rejected int      // candidates that are empty or contain whitespace
}

// UniqueStore is an append-only set of config URIs persisted one per line.
type UniqueStore struct {
	path string
}

// NewUniqueStore returns a store backed by the file at path.
func NewUniqueStore(path string) *UniqueStore {
	return &UniqueStore{path: path}
}

// Path returns the artifact path.
func (u *UniqueStore) Path() string { return u.path }

// Load reads the current contents of the store.
func (u *UniqueStore) Load() (*Set, error) {
	return Load(u.path)
}

// MergeAndPersist appends every candidate not already stored, in input order.
// Existing lines are never rewritten, so repeating a merge is a no-op. A
// corrupt artifact aborts the merge before anything is written.
func (u *UniqueStore) MergeAndPersist(ctx context.Context, candidates []string) (MergeResult, error) {
	set, err := u.Load()
	if err != nil {
		return MergeResult{}, err
	}

	existing := set.Len()
	var res MergeResult
	for _, c := range candidates {
		if c == "" || strings.IndexFunc(c, isSpace) >= 0 {
			res.Rejected++
			continue
		}
		if set.add(c) {
			res.Added = append(res.Added, c)
		}
	}
	if len(res.Added) == 0 {
		res.Total = set.Len()
		return res, nil
	}

	written, err := u.appendLines(ctx, res.Added, set.missingNewline)
	res.Added = res.Added[:written]
	res.New = written
	res.Total = existing + written
	if err != nil {
		return res, fmt.Errorf("append to %s: %w", u.path, err)
	}
	return res, nil
}

// appendLines writes each line with its own write call, so an interrupted
// append never leaves a partial line behind. It returns how many lines were
// written.
func (u *UniqueStore) appendLines(ctx context.Context, lines []string, leadingNewline bool) (int, error) {
	if dir := filepath.Dir(u.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(u.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	if leadingNewline {
		if _, err := f.WriteString("\n"); err != nil {
			return 0, fmt.Errorf("write: %w", err)
		}
	}

	written := 0
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			_ = f.Sync()
			return written, err
		}
		if _, err := f.WriteString(line + "\n"); err != nil {
			return written, fmt.Errorf("write: %w", err)
		}
		written++
	}
	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("sync: %w", err)
	}
	return written, nil
}

// isSpace is the whitespace Load trims from each line. Candidates containing
// any of it are rejected, so a stored line always reloads to the same URI.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}
