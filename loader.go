package plugins

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Runtimes understood by the default loaders.
const (
	RuntimeGo      = "go"
	RuntimeLua     = "lua"
	RuntimeBuiltin = "builtin"
)

// Loader creates the object a module file provides. It must not call Init;
// the host checks the object's capability and initializes it.
type Loader interface {
	Load(ctx context.Context, d *Descriptor) (interface{}, error)
}

// pruner is implemented by loaders that keep per-archive state on disk.
type pruner interface {
	Prune(archives []string) error
}

// Factory creates a compiled-in module instance.
type Factory func() interface{}

// BuiltinLoader serves modules compiled into the host. The metadata's import
// field (or the module name when empty) selects the factory.
type BuiltinLoader struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewBuiltinLoader returns an empty BuiltinLoader.
func NewBuiltinLoader() *BuiltinLoader {
	return &BuiltinLoader{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for key.
func (l *BuiltinLoader) Register(key string, factory Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[key] = factory
}

// Keys returns the registered factory keys in sorted order.
func (l *BuiltinLoader) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := make([]string, 0, len(l.factories))
	for k := range l.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Load calls the factory registered for the descriptor.
func (l *BuiltinLoader) Load(ctx context.Context, d *Descriptor) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := d.Import
	if key == "" {
		key = d.Name
	}

	l.mu.RLock()
	factory, ok := l.factories[key]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no builtin module registered as %q", key)
	}

	v := factory()
	if v == nil {
		return nil, fmt.Errorf("builtin module %q returned nil", key)
	}
	return v, nil
}
