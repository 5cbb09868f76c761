// Package state persists per-repository branch head markers across restarts.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Store persists branch head markers per repository. Implementations must be
// safe for concurrent use.
type Store interface {
	// Load returns the stored markers for a repository, or nil when none
	// have been saved yet.
	Load(name string) (map[string]string, error)

	// Save replaces the stored markers for a repository.
	Save(name string, heads map[string]string) error

	// Delete drops all stored markers for a repository.
	Delete(name string) error
}

// fileStore keeps all markers in a single JSON file, rewritten atomically on
// every save. It assumes one process owns the file.
type fileStore struct {
	path string

	mu     sync.Mutex
	loaded bool
	heads  map[string]map[string]string
}

// NewFileStore creates a Store backed by the JSON file at path. The file is
// created on first save.
func NewFileStore(path string) Store {
	return &fileStore{path: path}
}

func (f *fileStore) Load(name string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return nil, err
	}
	heads, ok := f.heads[name]
	if !ok {
		return nil, nil
	}
	return copyHeads(heads), nil
}

func (f *fileStore) Save(name string, heads map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return err
	}
	f.heads[name] = copyHeads(heads)
	return f.persist()
}

func (f *fileStore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := f.heads[name]; !ok {
		return nil
	}
	delete(f.heads, name)
	return f.persist()
}

// ensureLoaded reads the state file once, lazily. A missing file is an empty
// store, not an error.
func (f *fileStore) ensureLoaded() error {
	if f.loaded {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		f.heads = make(map[string]map[string]string)
		f.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var heads map[string]map[string]string
	if err := json.Unmarshal(data, &heads); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", f.path, err)
	}
	if heads == nil {
		heads = make(map[string]map[string]string)
	}
	f.heads = heads
	f.loaded = true
	return nil
}

// persist writes the full marker map through a temp file and rename so a
// crash mid-write never truncates the previous state.
func (f *fileStore) persist() error {
	data, err := json.MarshalIndent(f.heads, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func copyHeads(heads map[string]string) map[string]string {
	out := make(map[string]string, len(heads))
	for branch, head := range heads {
		out[branch] = head
	}
	return out
}
