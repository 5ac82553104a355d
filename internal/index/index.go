// Package index maintains the priority-ordered union view over one or
// more backing ortho/patch directories: a parallel startup scan records
// every file and the source that owns it, persisted to a single
// gob-encoded cache file so a second startup with an unchanged source
// set loads wholesale instead of re-walking the filesystem. Patches win
// over base packages by alphabetical source name, matching how Ortho4XP
// patch directories are conventionally named to sort first.
package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// lazyDirNames are indexed shallowly: their own presence is recorded so
// resolve() can still find files in them, but their children are never
// walked at startup. Ortho4XP's terrain/ and textures/ directories can
// hold far more entries than the rest of a package combined.
var lazyDirNames = map[string]bool{"terrain": true, "textures": true}

// Source is one backing root directory, ranked by Name for tie-breaking:
// lower (alphabetically earlier) Name wins when the same relative path
// exists in more than one source.
type Source struct {
	Name string
	Root string
}

type entry struct {
	SourceName string
	RelPath    string
}

// Index answers resolve and existence queries over the union of its
// configured sources.
type Index struct {
	mu      sync.RWMutex
	sources []Source
	files   map[string]entry
}

// sourceMtime pairs a source root with its modification time, kept as a
// sorted slice (rather than a map) in fingerprintInputs so gob-encoding
// the same logical input always produces the same byte sequence — map
// iteration order is randomized and would make the fingerprint spuriously
// unstable across runs.
type sourceMtime struct {
	Root  string
	Mtime int64
}

// fingerprintInputs is gob-encoded alongside the index itself so a
// reload can tell whether the persisted cache still matches the current
// source configuration.
type fingerprintInputs struct {
	Version         string
	SourcePaths     []string
	SourceRootMtime []sourceMtime
	PatchConfigHash string
}

type persistedIndex struct {
	Fingerprint [32]byte
	Sources     []Source
	Files       map[string]entry
}

// Build performs a parallel scan of every source and returns a populated
// Index. It reports no progress; callers that want per-source feedback
// during a large scan should use BuildWithProgress instead.
func Build(sources []Source) (*Index, error) {
	return BuildWithProgress(sources, nil)
}

// BuildWithProgress performs a parallel scan of every source (bounded by
// a small worker pool, mirroring the jobs/results worker-pool shape used
// for chunk downloads elsewhere in this codebase) and returns a
// populated Index. Sources are scanned concurrently; within a source,
// the walk is sequential since filepath.WalkDir is not itself
// parallel-safe to fan out naively without duplicating directory
// traversal.
//
// report, if non-nil, is called once per source as its scan completes
// with the source's name and the number of files it contributed; a
// fresh, cold-cache build over a large scenery tree can take long enough
// that a caller driving a progress display wants that feedback as it
// happens rather than only a final count.
func BuildWithProgress(sources []Source, report func(sourceName string, filesScanned int)) (*Index, error) {
	idx := &Index{
		sources: append([]Source(nil), sources...),
		files:   make(map[string]entry),
	}

	type scanResult struct {
		source Source
		paths  []string
		err    error
	}

	jobs := make(chan Source, len(sources))
	results := make(chan scanResult, len(sources))
	for _, s := range sources {
		jobs <- s
	}
	close(jobs)

	const workers = 8
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				paths, err := scanSource(s)
				results <- scanResult{source: s, paths: paths, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	bySourceOrder := make(map[string][]string, len(sources))
	var firstErr error
	for r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("index: scanning source %q: %w", r.source.Name, r.err)
			continue
		}
		bySourceOrder[r.source.Name] = r.paths
		if report != nil {
			report(r.source.Name, len(r.paths))
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	// Merge in priority order (patches/sources sorted alphabetically by
	// Name, lower wins) so earlier sources are never overwritten by
	// later ones.
	ordered := append([]Source(nil), sources...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	for _, s := range ordered {
		for _, relPath := range bySourceOrder[s.Name] {
			if _, exists := idx.files[relPath]; !exists {
				idx.files[relPath] = entry{SourceName: s.Name, RelPath: relPath}
			}
		}
	}

	return idx, nil
}

func scanSource(s Source) ([]string, error) {
	var paths []string

	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.IsDir() && lazyDirNames[strings.ToLower(e.Name())] {
			// Record the directory itself so resolve() can confirm it
			// exists, but never descend into it.
			paths = append(paths, e.Name())
			continue
		}

		if !e.IsDir() {
			paths = append(paths, e.Name())
			continue
		}

		sub := filepath.Join(s.Root, e.Name())
		err := filepath.WalkDir(sub, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, relErr := filepath.Rel(s.Root, path)
			if relErr != nil {
				return relErr
			}
			paths = append(paths, filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return paths, nil
}

// Resolve returns the absolute path backing relPath, consulting the
// eagerly-scanned index first and falling back to a direct stat against
// each source in priority order when relPath falls under a lazy
// directory (terrain/, textures/) whose children were never walked.
func (idx *Index) Resolve(relPath string) (string, bool) {
	relPath = filepath.ToSlash(relPath)

	idx.mu.RLock()
	e, ok := idx.files[relPath]
	idx.mu.RUnlock()
	if ok {
		for _, s := range idx.sources {
			if s.Name == e.SourceName {
				return filepath.Join(s.Root, filepath.FromSlash(e.RelPath)), true
			}
		}
	}

	if !isUnderLazyDir(relPath) {
		return "", false
	}

	ordered := append([]Source(nil), idx.sources...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })
	for _, s := range ordered {
		candidate := filepath.Join(s.Root, filepath.FromSlash(relPath))
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true
		}
	}

	return "", false
}

// DDSExistsOnDisk reports whether filename (e.g. "100_200_BI16.dds") is
// present in any backing source's textures/ directory — the third tier
// of the prefetch coordinator's four-tier availability filter.
func (idx *Index) DDSExistsOnDisk(filename string) bool {
	_, ok := idx.Resolve("textures/" + filename)
	return ok
}

func isUnderLazyDir(relPath string) bool {
	first, _, _ := strings.Cut(relPath, "/")
	return lazyDirNames[strings.ToLower(first)] || lazyDirNames[strings.ToLower(relPath)]
}

// DirEntry describes one immediate child of a directory listed by ListDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// ListDir returns the immediate children of relPath (the root directory
// when relPath is empty) as seen by the union index, deduplicated across
// sources (the earlier, higher-priority source's entry wins, matching
// Resolve/Build's tie-breaking). Lazy directories (terrain/, textures/)
// are reported at the root whenever some source has them, even though
// their own children were never eagerly walked — the virtual-filesystem bridge consults
// Resolve/DDSExistsOnDisk for anything beneath them instead.
func (idx *Index) ListDir(relPath string) []DirEntry {
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	prefix := ""
	if relPath != "" {
		prefix = relPath + "/"
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seen := make(map[string]bool)
	var entries []DirEntry
	for key := range idx.files {
		if prefix == "" {
			if strings.Contains(key, "/") {
				// Only the top path segment is a direct child of root.
			}
		} else if !strings.HasPrefix(key, prefix) {
			continue
		}

		rest := strings.TrimPrefix(key, prefix)
		if rest == "" {
			continue
		}
		name, remainder, found := strings.Cut(rest, "/")
		if name == "" {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		_ = remainder
		isDir := found || (relPath == "" && lazyDirNames[strings.ToLower(name)])
		entries = append(entries, DirEntry{Name: name, IsDir: isDir})
	}

	if relPath == "" {
		for name := range lazyDirNames {
			if seen[name] {
				continue
			}
			if _, ok := idx.Resolve(name); ok {
				entries = append(entries, DirEntry{Name: name, IsDir: true})
			}
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Fingerprint computes the persisted-cache validity key: it changes
// whenever the software version, the set of source paths, any source
// root's mtime, or the patch configuration hash changes.
func Fingerprint(version string, sources []Source, patchConfigHash string) ([32]byte, error) {
	paths := make([]string, len(sources))
	for i, s := range sources {
		paths[i] = s.Root
	}
	sort.Strings(paths)

	mtimes := make([]sourceMtime, len(sources))
	for i, s := range sources {
		info, err := os.Stat(s.Root)
		if err != nil {
			return [32]byte{}, fmt.Errorf("index: stat source root %q: %w", s.Root, err)
		}
		mtimes[i] = sourceMtime{Root: s.Root, Mtime: info.ModTime().UnixNano()}
	}
	sort.Slice(mtimes, func(i, j int) bool { return mtimes[i].Root < mtimes[j].Root })

	inputs := fingerprintInputs{
		Version:         version,
		SourcePaths:     paths,
		SourceRootMtime: mtimes,
		PatchConfigHash: patchConfigHash,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(inputs); err != nil {
		return [32]byte{}, fmt.Errorf("index: encoding fingerprint inputs: %w", err)
	}

	return sha256.Sum256(buf.Bytes()), nil
}

// Load reads a persisted index from cachePath, returning it only if its
// stored fingerprint matches want. A mismatch or read failure is reported
// via ok=false rather than error, since both are routine "needs rebuild"
// conditions rather than exceptional failures.
func Load(cachePath string, want [32]byte) (idx *Index, ok bool) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, false
	}

	var p persistedIndex
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p); err != nil {
		return nil, false
	}

	if p.Fingerprint != want {
		return nil, false
	}

	return &Index{sources: p.Sources, files: p.Files}, true
}

// Save persists idx to cachePath under fingerprint, via a temp-file-then-
// rename so a crash mid-write never leaves a corrupt cache file behind.
func (idx *Index) Save(cachePath string, fingerprint [32]byte) error {
	idx.mu.RLock()
	p := persistedIndex{
		Fingerprint: fingerprint,
		Sources:     idx.sources,
		Files:       idx.files,
	}
	idx.mu.RUnlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p); err != nil {
		return fmt.Errorf("index: encoding persisted index: %w", err)
	}

	tmp := cachePath + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("index: writing temp cache file: %w", err)
	}
	if err := os.Rename(tmp, cachePath); err != nil {
		return fmt.Errorf("index: renaming temp cache file into place: %w", err)
	}

	return nil
}

// Len reports the number of eagerly-indexed file entries, for metrics
// and tests.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.files)
}
