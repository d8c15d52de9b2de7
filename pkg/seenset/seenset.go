// Package seenset tracks which post fingerprints have already been
// harvested, backed by a line-per-digest file so runs stay idempotent.
package seenset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SeenSet is an in-memory digest set with append-only persistence.
// Persist writes only the digests added since the previous Persist, so
// calling it after every harvested post stays cheap on long crawls.
type SeenSet struct {
	mu      sync.Mutex
	path    string
	digests map[string]struct{}
	pending []string
}

// Load reads the seen set from path. A missing file yields an empty set,
// not an error. Blank lines and surrounding whitespace are ignored.
func Load(path string) (*SeenSet, error) {
	s := &SeenSet{
		path:    path,
		digests: make(map[string]struct{}),
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to open seen set: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		digest := strings.TrimSpace(scanner.Text())
		if digest == "" {
			continue
		}
		s.digests[digest] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seen set: %w", err)
	}

	return s, nil
}

// Contains reports whether the digest has been seen
func (s *SeenSet) Contains(digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.digests[digest]
	return ok
}

// Add records a digest. Adding an existing digest is a no-op; the return
// value reports whether the digest was new.
func (s *SeenSet) Add(digest string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.digests[digest]; ok {
		return false
	}
	s.digests[digest] = struct{}{}
	s.pending = append(s.pending, digest)
	return true
}

// Persist appends the digests added since the last Persist to the backing
// file. With nothing pending it touches nothing and returns nil.
func (s *SeenSet) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create seen set directory: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open seen set for append: %w", err)
	}
	defer file.Close()

	for _, digest := range s.pending {
		if _, err := fmt.Fprintln(file, digest); err != nil {
			return fmt.Errorf("failed to append to seen set: %w", err)
		}
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync seen set: %w", err)
	}

	s.pending = s.pending[:0]
	return nil
}

// Len returns the number of digests in the set
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.digests)
}
