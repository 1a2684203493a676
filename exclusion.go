package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v2"
)

// ExclusionStore persists the set of module paths the user disabled.
type ExclusionStore interface {
	LoadExclusion(ctx context.Context) ([]string, error)
	SaveExclusion(ctx context.Context, paths []string) error
}

// MemoryStore keeps the exclusion set in memory only.
type MemoryStore struct {
	mu    sync.Mutex
	paths []string
}

// NewMemoryStore returns a MemoryStore holding paths.
func NewMemoryStore(paths ...string) *MemoryStore {
	return &MemoryStore{paths: sortedCopy(paths)}
}

// LoadExclusion returns the stored paths.
func (s *MemoryStore) LoadExclusion(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedCopy(s.paths), ctx.Err()
}

// SaveExclusion replaces the stored paths.
func (s *MemoryStore) SaveExclusion(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = sortedCopy(paths)
	return nil
}

// FileStore keeps the exclusion set in a YAML settings file under the
// "Plugins" key. Other keys in the file are preserved.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file path.
func (s *FileStore) Path() string {
	return s.path
}

const settingsKey = "Plugins"

// LoadExclusion reads the paths from the settings file. A missing file is an empty set.
func (s *FileStore) LoadExclusion(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings, err := s.read()
	if err != nil {
		return nil, err
	}

	raw, ok := settings[settingsKey]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: %s is not a list", s.path, settingsKey)
	}

	paths := make([]string, 0, len(list))
	for _, item := range list {
		p, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s: %s entry %v is not a string", s.path, settingsKey, item)
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// SaveExclusion writes the paths to the settings file atomically.
func (s *FileStore) SaveExclusion(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	settings, err := s.read()
	if err != nil {
		return err
	}
	settings[settingsKey] = sortedCopy(paths)

	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *FileStore) read() (map[string]interface{}, error) {
	settings := make(map[string]interface{})

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return settings, nil
}

func sortedCopy(paths []string) []string {
	out := make([]string, len(paths))
	copy(out, paths)
	sort.Strings(out)
	return out
}
