package plugins

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"github.com/xyproto/unzip"

	"github.com/chabad360/plugins/v2/module"
)

// InterpLoader runs modules written in Go through the yaegi interpreter.
//
// Archives are extracted once into CacheDir/<sha256 of archive>/ and reused
// while the archive is unchanged. The archive (or its single top-level folder)
// is used as GOPATH, so the package named by the import field lives under
// src/<import>/. The package must declare
//
//	var Plugin module.Module = ...
//
// (or one of the other capability interfaces from the module package).
type InterpLoader struct {
	cacheDir string

	mu sync.Mutex
}

// NewInterpLoader returns a loader that extracts archives into cacheDir.
func NewInterpLoader(cacheDir string) *InterpLoader {
	return &InterpLoader{cacheDir: cacheDir}
}

// CacheDir returns the extraction directory.
func (l *InterpLoader) CacheDir() string {
	return l.cacheDir
}

// Load interprets the module package and returns its Plugin value.
func (l *InterpLoader) Load(ctx context.Context, d *Descriptor) (interface{}, error) {
	if d.Import == "" {
		return nil, fmt.Errorf("module %s has no import path", d.Name)
	}

	dir, err := l.extract(d.Path)
	if err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{GoPath: filepath.Join(dir, filepath.FromSlash(d.root))})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, err
	}
	if err := i.Use(module.Symbols); err != nil {
		return nil, err
	}

	if _, err := i.EvalWithContext(ctx, fmt.Sprintf(`import %q`, d.Import)); err != nil {
		return nil, err
	}

	v, err := i.EvalWithContext(ctx, path.Base(d.Import)+".Plugin")
	if err != nil {
		return nil, err
	}
	if !v.IsValid() || !v.CanInterface() {
		return nil, fmt.Errorf("%s.Plugin is not a value", path.Base(d.Import))
	}

	return v.Interface(), nil
}

// extract unpacks the archive into the cache unless an up to date copy exists.
func (l *InterpLoader) extract(archive string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hash, err := hashFile(archive)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(l.cacheDir, hash)
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return dest, nil
	}

	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(l.cacheDir, ".extract-")
	if err != nil {
		return "", err
	}
	if err := unzip.Extract(archive, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return "", fmt.Errorf("extract %s: %w", archive, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.RemoveAll(tmp)
		return "", err
	}

	return dest, nil
}

// Prune removes extracted copies whose archive is not among archives.
func (l *InterpLoader) Prune(archives []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cached, err := cachedHashes(l.cacheDir)
	if err != nil {
		return err
	}
	current := hashFiles(archives)

	for hash, dir := range cached {
		if _, ok := current[hash]; ok {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return nil
}
