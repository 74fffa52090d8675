// Package library implements the Local Library Adapter: a read-only lookup
// over a user-supplied folder of audio files, exposing the same lookup
// shape as the Artifact Store but keyed by filename instead of
// (source, songId, quality). Only the lookup contract is in scope here --
// whatever indexes or rescans the folder upstream of this adapter is not.
package library

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

// record is what the adapter knows about one on-disk audio file.
type record struct {
	path string
}

// Adapter is the Local Library Adapter. Build with New, then Scan once at
// startup.
type Adapter struct {
	dir string

	mu      sync.RWMutex
	byName  map[string]record
	lowerOK bool // whether to index a lowercase alias alongside the canonical name (non-Windows hosts)
}

// New builds an adapter rooted at dir.
func New(dir string) *Adapter {
	return &Adapter{
		dir:     dir,
		byName:  make(map[string]record),
		lowerOK: runtime.GOOS != "windows",
	}
}

var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// scanConcurrency bounds how many files are stat'd and canonicalized at
// once; the per-entry work is small but a library folder can be large.
const scanConcurrency = 16

// Scan walks dir once, building the filename lookup map. Non-audio files
// are skipped. Entries are stat'd and canonicalized concurrently, bounded
// by scanConcurrency, since the per-file work is independent and disk stat
// is the dominant cost.
func (a *Adapter) Scan() error {
	entries, err := filepath.Glob(filepath.Join(a.dir, "*"))
	if err != nil {
		return err
	}

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(scanConcurrency)
	for _, full := range entries {
		full := full
		g.Go(func() error {
			info, err := os.Stat(full)
			if err != nil || info.IsDir() {
				return nil
			}
			name := filepath.Base(full)
			if !audioExtensions[strings.ToLower(filepath.Ext(name))] {
				return nil
			}
			a.index(name, full)
			return nil
		})
	}
	return g.Wait()
}

func (a *Adapter) index(name, full string) {
	canon := Canonicalize(name)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byName[canon] = record{path: full}
	if a.lowerOK {
		a.byName[strings.ToLower(canon)] = record{path: full}
	}
}

// Canonicalize applies the key-canonicalization rules: strip directory
// components, normalize separators, repeatedly URL-decode (bounded),
// Unicode-NFC-normalize, collapse whitespace runs, and trim trailing
// whitespace/dots.
func Canonicalize(name string) string {
	name = filepath.Base(filepath.FromSlash(name))
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)

	for i := 0; i < 5; i++ {
		decoded, err := url.QueryUnescape(name)
		if err != nil || decoded == name {
			break
		}
		name = decoded
	}

	name = norm.NFC.String(name)
	name = collapseWhitespace(name)
	name = strings.TrimRight(name, " \t.")
	return name
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if inSpace {
				continue
			}
			inSpace = true
			b.WriteRune(' ')
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// HasMusic reports whether name resolves to an indexed audio file.
func (a *Adapter) HasMusic(name string) bool {
	_, ok := a.resolve(name)
	return ok
}

// Path returns the on-disk path name resolves to, if any.
func (a *Adapter) Path(name string) (string, bool) {
	rec, ok := a.resolve(name)
	if !ok {
		return "", false
	}
	return rec.path, true
}

// resolve tries, in order: the raw name, the canonicalized name, its
// lowercase form, a basename-style fallback of each, and finally a small
// similarity check (exact base-name match after stripping extension, or
// containment) with a 0.8 threshold.
func (a *Adapter) resolve(name string) (record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	candidates := []string{
		name,
		Canonicalize(name),
		strings.ToLower(Canonicalize(name)),
		filepath.Base(name),
	}
	for _, c := range candidates {
		if rec, ok := a.byName[c]; ok {
			return rec, true
		}
	}

	return a.similaritySearch(name)
}

// similaritySearch provides one final, best-effort attempt: an exact
// base-name match once extensions are stripped, or a containment match,
// scored above a 0.8 threshold.
func (a *Adapter) similaritySearch(name string) (record, bool) {
	target := strings.ToLower(stripExt(Canonicalize(name)))
	if target == "" {
		return record{}, false
	}
	var best record
	var bestScore float64
	found := false
	for indexed, rec := range a.byName {
		candidate := strings.ToLower(stripExt(indexed))
		score := similarity(target, candidate)
		if score > bestScore {
			bestScore = score
			best = rec
			found = score >= 0.8
		}
	}
	if !found {
		return record{}, false
	}
	return best, true
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// similarity scores two strings in [0,1]: 1.0 for an exact match, else a
// containment-based ratio of the shorter string's length to the longer's,
// when one contains the other.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	shorter, longer := a, b
	if len(a) > len(b) {
		shorter, longer = b, a
	}
	if shorter == "" {
		return 0
	}
	if strings.Contains(longer, shorter) {
		return float64(len(shorter)) / float64(len(longer))
	}
	return 0
}
