package plugins

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v2"
)

// metadataFiles are the accepted names of the metadata block, in order of preference.
// JSON is valid YAML, so both are read by the same decoder.
var metadataFiles = []string{"plugin.yml", "plugin.yaml", "plugin.json"}

// maxMetadataSize bounds how much of a metadata entry is read.
const maxMetadataSize = 1 << 20

// metadata mirrors the metadata block. Required fields are decoded loosely so
// that a wrong type is reported as invalid metadata instead of a decode error.
type metadata struct {
	Vendor       string       `yaml:"vendor"`
	Name         interface{}  `yaml:"name"`
	Version      interface{}  `yaml:"version"`
	Build        int          `yaml:"build"`
	Index        int          `yaml:"index"`
	Type         interface{}  `yaml:"type"`
	Description  interface{}  `yaml:"description"`
	Dependencies []Dependency `yaml:"dependencies"`
	// Runtime selects the loader; defaults to "go".
	Runtime string `yaml:"runtime"`
	// Import is the entry point within the archive.
	Import string `yaml:"import"`
}

// Extract reads the metadata block of the module archive at path without
// running any of its code.
//
// When the block is missing or malformed Extract returns both a stub descriptor
// (Description set to InvalidMetadata, no name or category, StateRejected) and
// an error wrapping ErrMetadata. The stub is meant to be recorded so the file
// stays visible.
func Extract(path string) (*Descriptor, error) {
	stub := &Descriptor{
		Path:        path,
		Description: InvalidMetadata,
		State:       StateRejected,
	}
	reject := func(cause error) (*Descriptor, error) {
		stub.Err = fmt.Errorf("%w: %s: %v", ErrMetadata, path, cause)
		return stub, stub.Err
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		return reject(err)
	}
	defer r.Close()

	f, root := findMetadata(r.File)
	if f == nil {
		return reject(fmt.Errorf("no %s in archive", strings.Join(metadataFiles, " or ")))
	}

	data, err := readEntry(f)
	if err != nil {
		return reject(err)
	}

	var m metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return reject(err)
	}

	d, err := m.descriptor(path)
	if err != nil {
		return reject(err)
	}
	d.root = root

	return d, nil
}

func (m *metadata) descriptor(path string) (*Descriptor, error) {
	name, ok := m.Name.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name must be a non-empty string")
	}

	version, ok := toFloat(m.Version)
	if !ok {
		return nil, fmt.Errorf("version must be a number")
	}

	category, ok := m.Type.(string)
	if !ok || strings.TrimSpace(category) == "" {
		return nil, fmt.Errorf("type must be a non-empty string")
	}

	description, ok := m.Description.(string)
	if !ok {
		return nil, fmt.Errorf("description must be a string")
	}

	for i, dep := range m.Dependencies {
		if strings.TrimSpace(dep.Name) == "" {
			return nil, fmt.Errorf("dependency %d has no name", i)
		}
	}

	runtime := strings.ToLower(strings.TrimSpace(m.Runtime))
	if runtime == "" {
		runtime = RuntimeGo
	}

	return &Descriptor{
		Path:         path,
		Vendor:       m.Vendor,
		Name:         name,
		Version:      version,
		Build:        m.Build,
		Index:        m.Index,
		Category:     parseCategory(category),
		Description:  description,
		Dependencies: m.Dependencies,
		Runtime:      runtime,
		Import:       strings.TrimSpace(m.Import),
		State:        StateDiscovered,
	}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// findMetadata returns the shallowest metadata entry, either at the archive root
// or inside a single top-level folder, and the folder prefix it lives in.
func findMetadata(files []*zip.File) (*zip.File, string) {
	var (
		best      *zip.File
		bestDepth int
		bestRank  int
	)
	for _, f := range files {
		dir, base := path.Split(f.Name)
		rank := indexOf(metadataFiles, base)
		if rank < 0 {
			continue
		}
		depth := strings.Count(dir, "/")
		if depth > 1 {
			continue
		}
		if best == nil || depth < bestDepth || (depth == bestDepth && rank < bestRank) {
			best, bestDepth, bestRank = f, depth, rank
		}
	}
	if best == nil {
		return nil, ""
	}
	dir, _ := path.Split(best.Name)
	return best, dir
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return io.ReadAll(io.LimitReader(rc, maxMetadataSize))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
