// Package artifact manages the generated dashboard files on disk.
//
// The output directory is served as-is. Writers publish files through a
// temporary sibling and an atomic rename, so readers always open either the
// previous or the new complete file. Publishing is serialized by an exclusive
// lock file kept in the cache directory, which is never served.
package artifact

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

const (
	// CanonicalName is the file the root path redirects to
	CanonicalName = "dashboard.html"

	// lockFileName is created in the cache directory to serialize publishers
	lockFileName = "publish.lock"
)

//go:embed placeholder.html
var placeholderHTML []byte

// Placeholder returns the loading page served until the first generation
func Placeholder() []byte {
	return append([]byte(nil), placeholderHTML...)
}

// Store owns the output and cache directories
type Store struct {
	outputDir string
	cacheDir  string

	// mu serializes publishers in this process; lock covers other processes
	mu   sync.Mutex
	lock *flock.Flock
}

// NewStore creates a store rooted at outputDir, keeping its lock file in cacheDir
func NewStore(outputDir, cacheDir string) *Store {
	return &Store{
		outputDir: outputDir,
		cacheDir:  cacheDir,
		lock:      flock.New(filepath.Join(cacheDir, lockFileName)),
	}
}

// OutputDir returns the served directory
func (s *Store) OutputDir() string {
	return s.outputDir
}

// CacheDir returns the private cache directory
func (s *Store) CacheDir() string {
	return s.cacheDir
}

// EnsureLayout creates the output and cache directories
func (s *Store) EnsureLayout() error {
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", s.outputDir, err)
	}
	if err := os.MkdirAll(s.cacheDir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", s.cacheDir, err)
	}
	return nil
}

// EnsurePlaceholder writes the loading page as the canonical artifact when
// no artifact exists yet. An existing artifact from a previous run is kept.
// It reports whether the placeholder was written.
func (s *Store) EnsurePlaceholder() (bool, error) {
	exists, err := s.Exists(CanonicalName)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Publish(CanonicalName, placeholderHTML); err != nil {
		return false, fmt.Errorf("failed to write placeholder: %w", err)
	}
	return true, nil
}

// Path returns the on-disk location of name inside the output directory
func (s *Store) Path(name string) string {
	return filepath.Join(s.outputDir, filepath.FromSlash(name))
}

// Exists reports whether name is present in the output directory
func (s *Store) Exists(name string) (bool, error) {
	info, err := os.Stat(s.Path(name))
	if err == nil {
		return !info.IsDir(), nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", name, err)
}

// Read returns the current content of name
func (s *Store) Read(name string) ([]byte, error) {
	// #nosec G304 -- name is a store-relative artifact name chosen by the caller
	return os.ReadFile(s.Path(name))
}

// Publish atomically replaces name with data
func (s *Store) Publish(name string, data []byte) error {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("artifact name %q escapes the output directory", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.cacheDir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", s.cacheDir, err)
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire publish lock: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	target := s.Path(name)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary file for %s: %w", name, err)
	}
	// CreateTemp uses 0600; served files must be world readable.
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions for %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
