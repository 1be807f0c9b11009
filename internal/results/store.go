// Package results persists the latest extraction snapshot as a single JSON
// document. Each save overwrites the previous snapshot; there is no history.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kalambet/reqai/internal/extraction"
)

// FileName is the snapshot's name inside the data directory.
const FileName = "extraction_results.json"

// ErrNotFound is returned when no extraction has been saved yet.
var ErrNotFound = errors.New("extraction results not found")

// ParseError reports a snapshot that exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store reads and writes the snapshot file.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store keeping its snapshot in dataDir.
func NewStore(dataDir string) *Store {
	return &Store{path: filepath.Join(dataDir, FileName)}
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

// Save replaces the snapshot with r. The write goes to a temp file first so
// readers never observe a partially written document.
func (s *Store) Save(r extraction.Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling results: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".extraction-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing results: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing results: %w", err)
	}
	return nil
}

// Load returns the latest snapshot.
func (s *Store) Load() (extraction.Result, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading results: %w", err)
	}

	var r extraction.Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}
	if r == nil {
		r = extraction.Result{}
	}
	r.Normalize()
	return r, nil
}
