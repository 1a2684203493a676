package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PluginHost discovers module files, activates them in dependency order and
// keeps the five views over what it found. Views are keyed by file path.
//
// Discover and Shutdown are serialized. Views may be read from any goroutine,
// including from a module's Init, but are only consistent once Discover has
// returned or EventDiscoveryComplete was observed.
type PluginHost struct {
	// op serializes Discover and Shutdown.
	op sync.Mutex

	mu       sync.RWMutex
	all      map[string]*Descriptor
	loaded   map[string]*Descriptor
	failed   map[string]*Descriptor
	enabled  map[string]*Descriptor
	disabled map[string]*Descriptor
	// byName indexes the loaded view by lower-cased name.
	byName map[string]*Descriptor
	// order lists loaded paths in activation order.
	order []string

	workers      []*Worker
	nextWorkerID int

	exclusion       map[string]struct{}
	exclusionLoaded bool
	store           ExclusionStore
	resetSettings   bool

	loaders   map[string]Loader
	extension string
	logger    *slog.Logger

	hmu      sync.RWMutex
	handlers []EventHandler
}

// Option configures a PluginHost.
type Option func(*PluginHost)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(h *PluginHost) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithExclusionStore sets where the exclusion set is persisted. The default keeps it in memory.
func WithExclusionStore(store ExclusionStore) Option {
	return func(h *PluginHost) {
		if store != nil {
			h.store = store
		}
	}
}

// WithLoader registers the loader for a runtime, replacing any default.
func WithLoader(runtime string, loader Loader) Option {
	return func(h *PluginHost) {
		h.loaders[strings.ToLower(runtime)] = loader
	}
}

// WithExtension sets the extension of module files. The default is ".zip".
func WithExtension(ext string) Option {
	return func(h *PluginHost) {
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != "" {
			h.extension = ext
		}
	}
}

// WithResetSettings makes the host start with, and persist, an empty exclusion set.
func WithResetSettings() Option {
	return func(h *PluginHost) {
		h.resetSettings = true
	}
}

// DefaultCacheDir is where the default Go loader extracts archives.
func DefaultCacheDir() string {
	return filepath.Join(os.TempDir(), "plugins-cache")
}

// NewPluginHost creates a host and loads the exclusion set from its store.
// Without WithLoader the host interprets "go" modules with an InterpLoader on
// DefaultCacheDir and "lua" modules with a LuaLoader.
func NewPluginHost(ctx context.Context, opts ...Option) (*PluginHost, error) {
	h := &PluginHost{
		exclusion: make(map[string]struct{}),
		store:     NewMemoryStore(),
		loaders: map[string]Loader{
			RuntimeGo:  NewInterpLoader(DefaultCacheDir()),
			RuntimeLua: NewLuaLoader(),
		},
		extension: ".zip",
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	h.clearViews()

	for _, opt := range opts {
		opt(h)
	}

	if h.resetSettings {
		if err := h.store.SaveExclusion(ctx, nil); err != nil {
			return nil, fmt.Errorf("reset exclusion: %w", err)
		}
		h.exclusionLoaded = true
		return h, nil
	}

	if err := h.loadExclusion(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Discover loads every module file in dir (not recursively) and returns how
// many modules it activated.
//
// Each file is extracted; files in the exclusion set go to Disabled, the rest
// to Enabled. Enabled modules start in Failed and move to Loaded once active.
// Files that are already active from an earlier call are left alone and
// count as resolved dependencies. Modules whose dependencies are still unmet
// when the retry budget runs out stay in Failed with ErrDependencyTimeout.
//
// ctx is passed to the loaders and to the exclusion store; it does not stop
// the activation loop. A missing directory is not an error.
// EventDiscoveryComplete is emitted exactly once per call.
func (h *PluginHost) Discover(ctx context.Context, dir string) (count int, err error) {
	h.op.Lock()
	defer h.op.Unlock()

	defer func() {
		h.emit(Event{Type: EventDiscoveryComplete, Percent: 100, Message: "Module discovery complete.", Loaded: count})
	}()

	if !h.exclusionLoaded {
		if err := h.loadExclusion(ctx); err != nil {
			return 0, err
		}
	}

	files, err := scanDir(dir, h.extension)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}
	h.logger.Debug("scanning modules", "dir", dir, "files", len(files))

	candidates, resolved := h.partition(files)

	unresolved := Resolve(candidates, resolved, func(d *Descriptor, remaining, total int) bool {
		ok := h.attempt(ctx, d, remaining, total)
		if ok {
			count++
		}
		return ok
	})
	h.timeout(unresolved, len(candidates))

	h.prune()

	h.logger.Info("module discovery complete", "dir", dir, "loaded", count, "candidates", len(candidates))
	return count, nil
}

// partition records the extracted files in the views and returns the
// candidates for activation together with the versions of active modules.
func (h *PluginHost) partition(files []string) ([]*Descriptor, map[string]float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := make(map[string]bool)
	resolved := make(map[string]float64, len(h.byName))
	for key, d := range h.byName {
		names[key] = true
		resolved[key] = d.Version
	}

	var candidates []*Descriptor
	for _, path := range files {
		if prev, ok := h.all[path]; ok && prev.State == StateActivated {
			continue
		}
		h.forget(path)

		d, err := Extract(path)
		_, excluded := h.exclusion[path]
		h.all[path] = d

		switch {
		case excluded:
			d.State = StateDisabled
			h.disabled[path] = d
		case err != nil:
			h.failed[path] = d
			h.logger.Warn("module rejected", "path", path, "error", err)
		default:
			h.enabled[path] = d
			h.failed[path] = d
			if names[d.key()] {
				d.State = StateFailed
				d.Err = fmt.Errorf("%w: %s", ErrDuplicateName, d.Name)
				d.Description = d.Err.Error()
				h.logger.Warn("module skipped", "path", path, "error", d.Err)
				continue
			}
			names[d.key()] = true
			d.State = StatePending
			candidates = append(candidates, d)
		}
	}

	return candidates, resolved
}

// attempt activates one candidate, updates the views and emits progress.
func (h *PluginHost) attempt(ctx context.Context, d *Descriptor, remaining, total int) bool {
	percent := progress(remaining, total)
	h.emit(Event{Type: EventProgress, Percent: percent, Message: loadingMessage(d), Path: d.Path})

	handle, err := h.activate(ctx, d)

	h.mu.Lock()
	if err != nil {
		d.State = StateFailed
		d.Err = err
		d.Description = err.Error()
	} else {
		d.handle = handle
		d.State = StateActivated
		d.Err = nil
		h.loaded[d.Path] = d
		h.byName[d.key()] = d
		h.order = append(h.order, d.Path)
		delete(h.failed, d.Path)
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("module failed", "path", d.Path, "module", d.Name, "error", err)
	} else {
		h.logger.Debug("module loaded", "path", d.Path, "module", d.Name, "version", d.Version)
	}

	h.emit(Event{Type: EventProgress, Percent: percent, Message: statusMessage(d, err == nil), Path: d.Path})
	return err == nil
}

// timeout marks the candidates left over by Resolve as failed.
func (h *PluginHost) timeout(unresolved []*Descriptor, total int) {
	if len(unresolved) == 0 {
		return
	}
	percent := progress(len(unresolved), total)

	for _, d := range unresolved {
		h.mu.Lock()
		versions := make(map[string]float64, len(h.byName))
		for key, l := range h.byName {
			versions[key] = l.Version
		}
		missing := make([]string, 0, len(d.Dependencies))
		for _, dep := range unmet(d, versions) {
			missing = append(missing, dep.String())
		}
		d.State = StateFailed
		d.Err = fmt.Errorf("%w: %s requires %s", ErrDependencyTimeout, d, strings.Join(missing, ", "))
		d.Description = d.Err.Error()
		h.mu.Unlock()

		h.logger.Warn("module failed", "path", d.Path, "module", d.Name, "error", d.Err)
		h.emit(Event{Type: EventProgress, Percent: percent, Message: statusMessage(d, false), Path: d.Path})
	}
}

// prune lets loaders drop cached state for archives that are gone.
func (h *PluginHost) prune() {
	h.mu.RLock()
	paths := make([]string, 0, len(h.all))
	for path := range h.all {
		paths = append(paths, path)
	}
	h.mu.RUnlock()

	for runtime, loader := range h.loaders {
		p, ok := loader.(pruner)
		if !ok {
			continue
		}
		if err := p.Prune(paths); err != nil {
			h.logger.Warn("prune loader cache", "runtime", runtime, "error", err)
		}
	}
}

// forget removes path from every view. Must be called with mu held.
func (h *PluginHost) forget(path string) {
	delete(h.all, path)
	delete(h.loaded, path)
	delete(h.failed, path)
	delete(h.enabled, path)
	delete(h.disabled, path)
}

func (h *PluginHost) clearViews() {
	h.all = make(map[string]*Descriptor)
	h.loaded = make(map[string]*Descriptor)
	h.failed = make(map[string]*Descriptor)
	h.enabled = make(map[string]*Descriptor)
	h.disabled = make(map[string]*Descriptor)
	h.byName = make(map[string]*Descriptor)
	h.order = nil
}

// Shutdown stops and joins every Process worker, closes the other active
// modules that implement io.Closer (both in reverse activation order), then
// clears all views and the in-memory exclusion set. A later Discover starts
// from scratch and reloads the exclusion set from the store.
func (h *PluginHost) Shutdown() error {
	h.op.Lock()
	defer h.op.Unlock()

	h.mu.Lock()
	workers := h.workers
	var instances []interface{}
	for i := len(h.order) - 1; i >= 0; i-- {
		if m := h.loaded[h.order[i]].handle.Module(); m != nil {
			instances = append(instances, m)
		}
	}
	h.workers = nil
	h.clearViews()
	h.exclusion = make(map[string]struct{})
	h.exclusionLoaded = false
	h.mu.Unlock()

	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].stop()
		h.logger.Info("worker stopped", "module", workers[i].Name(), "worker", workers[i].ID())
	}

	var errs []error
	for _, inst := range instances {
		if c, ok := inst.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Query returns a copy of one view, sorted by path.
func (h *PluginHost) Query(view View) []Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var m map[string]*Descriptor
	switch view {
	case ViewAll:
		m = h.all
	case ViewLoaded:
		m = h.loaded
	case ViewFailed:
		m = h.failed
	case ViewEnabled:
		m = h.enabled
	case ViewDisabled:
		m = h.disabled
	default:
		return nil
	}

	out := make([]Descriptor, 0, len(m))
	for _, d := range m {
		out = append(out, *d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// Loaded returns the active modules in activation order.
func (h *PluginHost) Loaded() []Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Descriptor, 0, len(h.order))
	for _, path := range h.order {
		out = append(out, *h.loaded[path].Clone())
	}
	return out
}

// FindByName returns the active module with the given name, compared case-insensitively.
func (h *PluginHost) FindByName(name string) (Descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	d, ok := h.byName[strings.ToLower(name)]
	if !ok {
		return Descriptor{}, false
	}
	return *d.Clone(), true
}

// FindByIndex returns the first active module, in activation order, with the given index.
func (h *PluginHost) FindByIndex(index int) (Descriptor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, path := range h.order {
		if d := h.loaded[path]; d.Index == index {
			return *d.Clone(), true
		}
	}
	return Descriptor{}, false
}

// Exclusion returns the in-memory exclusion set, sorted.
func (h *PluginHost) Exclusion() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	paths := make([]string, 0, len(h.exclusion))
	for p := range h.exclusion {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SetExclusion replaces the in-memory exclusion set. Paths are made absolute.
// It applies to the next Discover and is not persisted until PersistExclusion.
func (h *PluginHost) SetExclusion(paths []string) {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		set[absPath(p)] = struct{}{}
	}

	h.mu.Lock()
	h.exclusion = set
	h.exclusionLoaded = true
	h.mu.Unlock()
}

// PersistExclusion writes the in-memory exclusion set to the store.
func (h *PluginHost) PersistExclusion(ctx context.Context) error {
	if err := h.store.SaveExclusion(ctx, h.Exclusion()); err != nil {
		return fmt.Errorf("save exclusion: %w", err)
	}
	return nil
}

func (h *PluginHost) loadExclusion(ctx context.Context) error {
	paths, err := h.store.LoadExclusion(ctx)
	if err != nil {
		return fmt.Errorf("load exclusion: %w", err)
	}

	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[absPath(p)] = struct{}{}
	}

	h.mu.Lock()
	h.exclusion = set
	h.exclusionLoaded = true
	h.mu.Unlock()
	return nil
}
