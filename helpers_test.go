package plugins

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chabad360/plugins/v2/module"
)

// writeArchive writes a zip file with the given entries to dir/file and
// returns its absolute path. Parent directories get their own entries.
func writeArchive(t *testing.T, dir, file string, entries map[string]string) string {
	t.Helper()

	p, err := filepath.Abs(filepath.Join(dir, file))
	require.NoError(t, err)

	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	names := make([]string, 0, len(entries))
	dirs := make(map[string]bool)
	for name := range entries {
		names = append(names, name)
		for d := path.Dir(name); d != "." && d != "/"; d = path.Dir(d) {
			dirs[d+"/"] = true
		}
	}
	for d := range dirs {
		names = append(names, d)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if strings.HasSuffix(name, "/") {
			continue
		}
		_, err = w.Write([]byte(entries[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return p
}

type meta struct {
	name     string
	version  float64
	category string
	index    int
	deps     []Dependency
	runtime  string
	imp      string
}

func (s meta) yaml() string {
	var b strings.Builder
	fmt.Fprintf(&b, "name: %s\n", s.name)
	fmt.Fprintf(&b, "version: %s\n", FormatVersion(s.version))
	category := s.category
	if category == "" {
		category = string(CategoryBase)
	}
	fmt.Fprintf(&b, "type: %s\n", category)
	fmt.Fprintf(&b, "description: %s module\n", s.name)
	fmt.Fprintf(&b, "index: %d\n", s.index)
	runtime := s.runtime
	if runtime == "" {
		runtime = RuntimeBuiltin
	}
	fmt.Fprintf(&b, "runtime: %s\n", runtime)
	if s.imp != "" {
		fmt.Fprintf(&b, "import: %s\n", s.imp)
	}
	if len(s.deps) > 0 {
		b.WriteString("dependencies:\n")
		for _, d := range s.deps {
			fmt.Fprintf(&b, "  - name: %s\n    version: %s\n", d.Name, FormatVersion(d.Version))
		}
	}
	return b.String()
}

// writeModule writes an archive holding only the metadata for s.
func writeModule(t *testing.T, dir string, s meta) string {
	t.Helper()
	return writeArchive(t, dir, strings.ToLower(s.name)+".zip", map[string]string{"plugin.yml": s.yaml()})
}

// testModule is a compiled-in module recording its lifecycle.
type testModule struct {
	accept bool
	inits  atomic.Int32
	closed atomic.Bool
	host   module.Host
}

func (m *testModule) Init(host module.Host) bool {
	m.inits.Add(1)
	m.host = host
	return m.accept
}

func (m *testModule) Close() error {
	m.closed.Store(true)
	return nil
}

type testProcess struct {
	testModule
	resets atomic.Int32
}

func (p *testProcess) Process(ctx context.Context, input []byte) ([]byte, error) {
	if string(input) == "panic" {
		panic("boom")
	}
	if string(input) == "fail" {
		return nil, errors.New("bad input")
	}
	return []byte(strings.ToUpper(string(input))), nil
}

func (p *testProcess) Reset() {
	p.resets.Add(1)
}

type testDevice struct{ testModule }

func (*testDevice) DeviceInfo() map[string]string   { return map[string]string{"model": "t1"} }
func (*testDevice) DeviceStatus() map[string]string { return map[string]string{"state": "idle"} }
func (*testDevice) StartDevice() error              { return nil }
func (*testDevice) StopDevice() error               { return nil }

type testConnection struct{ testModule }

func (*testConnection) ConnectionType() string            { return "loopback" }
func (*testConnection) Connect(ctx context.Context) error { return nil }
func (*testConnection) Disconnect() error                 { return nil }

type panicModule struct{}

func (panicModule) Init(module.Host) bool { panic("init exploded") }

// registry builds a builtin loader whose factories hand out the given
// instances. Keys are the module import keys.
func registry(instances map[string]interface{}) *BuiltinLoader {
	l := NewBuiltinLoader()
	for key, inst := range instances {
		inst := inst
		l.Register(key, func() interface{} { return inst })
	}
	return l
}

// acceptAll is a loader that creates an accepting testModule for every descriptor.
type acceptAll struct {
	mu      sync.Mutex
	created map[string]*testModule
}

func (a *acceptAll) Load(ctx context.Context, d *Descriptor) (interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.created == nil {
		a.created = make(map[string]*testModule)
	}
	m := &testModule{accept: true}
	a.created[d.Name] = m
	return m, nil
}

func newTestHost(t *testing.T, opts ...Option) *PluginHost {
	t.Helper()
	base := []Option{
		WithLoader(RuntimeGo, NewInterpLoader(t.TempDir())),
	}
	h, err := NewPluginHost(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Shutdown() })
	return h
}

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func names(ds []Descriptor) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Name)
	}
	return out
}
