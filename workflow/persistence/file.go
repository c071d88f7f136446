package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BaSui01/flowcanvas/workflow"
)

// FileStore writes each workflow to <dir>/<id>.yaml with a JSON copy next
// to it for tools that only read JSON. The YAML file is authoritative.
type FileStore struct {
	dir      string
	jsonCopy bool
	mu       sync.RWMutex
	closed   bool
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithoutJSONCopy disables the <id>.json companion file.
func WithoutJSONCopy() FileStoreOption {
	return func(s *FileStore) { s.jsonCopy = false }
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workflow store directory: %w", err)
	}
	s := &FileStore{dir: dir, jsonCopy: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id, ext string) string {
	return filepath.Join(s.dir, id+ext)
}

// Save implements workflow.Store.
func (s *FileStore) Save(_ context.Context, w *workflow.CompiledWorkflow) error {
	if err := checkWorkflow(w); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := w.ToYAML()
	if err != nil {
		return err
	}
	if err := writeAtomic(s.path(w.ID, ".yaml"), data); err != nil {
		return err
	}
	if !s.jsonCopy {
		return nil
	}
	data, err = w.ToJSON()
	if err != nil {
		return err
	}
	return writeAtomic(s.path(w.ID, ".json"), data)
}

// Load implements workflow.Store.
func (s *FileStore) Load(_ context.Context, id string) (*workflow.CompiledWorkflow, error) {
	if err := checkID(id); err != nil {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.load(id)
}

func (s *FileStore) load(id string) (*workflow.CompiledWorkflow, error) {
	data, err := os.ReadFile(s.path(id, ".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}
	w, err := workflow.FromYAML(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", id, err)
	}
	return w, nil
}

// List implements workflow.Catalog.
func (s *FileStore) List(_ context.Context) ([]*workflow.CompiledWorkflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow store directory: %w", err)
	}
	out := make([]*workflow.CompiledWorkflow, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		w, err := s.load(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	sortByID(out)
	return out, nil
}

// Delete implements workflow.Catalog.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	err := os.Remove(s.path(id, ".yaml"))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	if err := os.Remove(s.path(id, ".json")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}
	return nil
}

// Ping implements Store.
func (s *FileStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.dir)
	return err
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// writeAtomic writes to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
