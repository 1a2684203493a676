package plugins

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chabad360/plugins/v2/module"
)

// activate instantiates d, binds the capability its category requires and
// calls Init. Process modules are handed to a new worker.
func (h *PluginHost) activate(ctx context.Context, d *Descriptor) (*Handle, error) {
	loader, ok := h.loaders[d.Runtime]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrInstantiation, ErrNoLoader, d.Runtime)
	}

	obj, err := instantiate(ctx, loader, d)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInstantiation, d.Name, err)
	}

	inst, err := bind(d.Category, obj)
	if err != nil {
		closeObject(obj, h.logger)
		return nil, err
	}

	if err := initialize(inst, &moduleHost{host: h, name: d.Name}); err != nil {
		closeObject(obj, h.logger)
		return nil, fmt.Errorf("%w: %s: %v", ErrInitRejected, d, err)
	}

	if p, ok := inst.(module.ProcessModule); ok && d.Category == CategoryProcess {
		h.mu.Lock()
		h.nextWorkerID++
		w := startWorker(h.nextWorkerID, d.Name, p, h.logger)
		h.workers = append(h.workers, w)
		h.mu.Unlock()
		return &Handle{worker: w}, nil
	}

	return &Handle{module: inst}, nil
}

func instantiate(ctx context.Context, loader Loader, d *Descriptor) (obj interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return loader.Load(ctx, d)
}

// bind checks that obj implements the capability of category.
func bind(category Category, obj interface{}) (module.Module, error) {
	var (
		m  module.Module
		ok bool
	)
	switch category {
	case CategoryBase, CategoryStackedBase, CategoryMainBase, CategoryOptional:
		m, ok = obj.(module.Module)
	case CategoryProcess:
		m, ok = obj.(module.ProcessModule)
	case CategoryDevice:
		m, ok = obj.(module.DeviceModule)
	case CategoryConnection:
		m, ok = obj.(module.ConnectionModule)
	default:
		return nil, fmt.Errorf("%w: unknown category %q", ErrInterfaceMismatch, category)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a %s module", ErrInterfaceMismatch, obj, category)
	}
	return m, nil
}

func initialize(m module.Module, host module.Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if !m.Init(host) {
		return fmt.Errorf("init returned false")
	}
	return nil
}

func closeObject(obj interface{}, logger *slog.Logger) {
	c, ok := obj.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("close module", "error", err)
	}
}

// moduleHost is the module.Host a module receives in Init.
type moduleHost struct {
	host *PluginHost
	name string
}

func (m *moduleHost) Loaded(name string) bool {
	_, ok := m.host.FindByName(name)
	return ok
}

func (m *moduleHost) Version(name string) (float64, bool) {
	d, ok := m.host.FindByName(name)
	if !ok {
		return 0, false
	}
	return d.Version, true
}

func (m *moduleHost) Logf(format string, args ...interface{}) {
	m.host.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)), "module", m.name)
}
