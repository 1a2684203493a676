package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chabad360/plugins/v2/module"
)

func TestDiscoverEmptyDirectory(t *testing.T) {
	h := newTestHost(t)
	rec := &recorder{}
	h.Subscribe(rec.handle)

	n, err := h.Discover(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, n)

	for _, v := range []View{ViewAll, ViewLoaded, ViewFailed, ViewEnabled, ViewDisabled} {
		assert.Empty(t, h.Query(v), v.String())
	}
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventDiscoveryComplete, events[0].Type)
}

func TestDiscoverMissingDirectory(t *testing.T) {
	h := newTestHost(t)
	n, err := h.Discover(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDiscoverWithoutDependencies(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"A", "B", "C"} {
		writeModule(t, dir, meta{name: name, version: 1})
	}
	loader := &acceptAll{}
	h := newTestHost(t, WithLoader(RuntimeBuiltin, loader))

	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []string{"A", "B", "C"}, names(h.Query(ViewLoaded)))
	assert.Equal(t, []string{"A", "B", "C"}, names(h.Query(ViewEnabled)))
	assert.Empty(t, h.Query(ViewFailed))
	assert.Empty(t, h.Query(ViewDisabled))
	for _, m := range loader.created {
		assert.EqualValues(t, 1, m.inits.Load())
	}
	for _, d := range h.Query(ViewLoaded) {
		assert.Equal(t, StateActivated, d.State)
		assert.NotNil(t, d.Handle().Module())
	}
}

func TestDiscoverResolvesDependencies(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "UI", version: 1, index: 0, deps: []Dependency{{Name: "DB", Version: 1.5}, {Name: "Net", Version: 1}}})
	writeModule(t, dir, meta{name: "DB", version: 2, index: 0, deps: []Dependency{{Name: "Net", Version: 1}}})
	writeModule(t, dir, meta{name: "Net", version: 1, index: 0})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}))
	rec := &recorder{}
	h.Subscribe(rec.handle)

	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	if diff := cmp.Diff([]string{"Net", "DB", "UI"}, names(h.Loaded())); diff != "" {
		t.Errorf("activation order (-want +got):\n%s", diff)
	}

	var messages []string
	var percents []int
	for _, e := range rec.all() {
		messages = append(messages, e.Message)
		percents = append(percents, e.Percent)
	}
	want := []string{
		"Loading module Net v1.0.", "Module Net v1.0 loaded.",
		"Loading module DB v2.0.", "Module DB v2.0 loaded.",
		"Loading module UI v1.0.", "Module UI v1.0 loaded.",
		"Module discovery complete.",
	}
	if diff := cmp.Diff(want, messages); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{0, 0, 33, 33, 66, 66, 100}, percents)
	assert.Equal(t, 3, rec.all()[6].Loaded)
}

func TestDiscoverExclusion(t *testing.T) {
	dir := t.TempDir()
	a := writeModule(t, dir, meta{name: "A", version: 1})
	writeModule(t, dir, meta{name: "B", version: 1})
	broken := writeArchive(t, dir, "broken.zip", map[string]string{"plugin.yml": "version: 1\n"})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}), WithExclusionStore(NewMemoryStore(a, broken)))

	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	disabled := h.Query(ViewDisabled)
	require.Len(t, disabled, 2)
	assert.Equal(t, a, disabled[0].Path)
	assert.Equal(t, StateDisabled, disabled[0].State)
	assert.Equal(t, broken, disabled[1].Path)
	assert.Equal(t, InvalidMetadata, disabled[1].Description)

	for _, v := range []View{ViewLoaded, ViewFailed, ViewEnabled} {
		for _, d := range h.Query(v) {
			assert.NotEqual(t, a, d.Path, v.String())
			assert.NotEqual(t, broken, d.Path, v.String())
		}
	}
	assert.Equal(t, []string{"B"}, names(h.Query(ViewLoaded)))
	assert.Len(t, h.Query(ViewAll), 3)
}

func TestDiscoverInvalidMetadata(t *testing.T) {
	dir := t.TempDir()
	p := writeArchive(t, dir, "noname.zip", map[string]string{
		"plugin.yml": "version: 1\ntype: Base\ndescription: nameless\n",
	})

	h := newTestHost(t)
	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n)

	failed := h.Query(ViewFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, p, failed[0].Path)
	assert.Empty(t, failed[0].Name)
	assert.Equal(t, InvalidMetadata, failed[0].Description)
	assert.Equal(t, StateRejected, failed[0].State)
	assert.ErrorIs(t, failed[0].Err, ErrMetadata)

	assert.Empty(t, h.Query(ViewEnabled))
	assert.Empty(t, h.Query(ViewDisabled))
	assert.Len(t, h.Query(ViewAll), 1)
}

func TestDiscoverDependencyTimeout(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Net", version: 0.5})
	writeModule(t, dir, meta{name: "DB", version: 1, deps: []Dependency{{Name: "Net", Version: 1}}})
	writeModule(t, dir, meta{name: "Ghost", version: 1, deps: []Dependency{{Name: "Nowhere"}}})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}))
	rec := &recorder{}
	h.Subscribe(rec.handle)

	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	failed := h.Query(ViewFailed)
	require.Equal(t, []string{"DB", "Ghost"}, names(failed))
	for _, d := range failed {
		assert.Equal(t, StateFailed, d.State)
		assert.ErrorIs(t, d.Err, ErrDependencyTimeout)
	}
	assert.Contains(t, failed[0].Description, "Net>=1.0")
	assert.Contains(t, failed[1].Description, "Nowhere>=0.0")

	var failures int
	for _, e := range rec.all() {
		if strings.HasSuffix(e.Message, " failed.") {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestDiscoverDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	first := writeArchive(t, dir, "a.zip", map[string]string{"plugin.yml": meta{name: "Net", version: 1}.yaml()})
	second := writeArchive(t, dir, "b.zip", map[string]string{"plugin.yml": meta{name: "NET", version: 2}.yaml()})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}))
	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, ok := h.FindByName("net")
	require.True(t, ok)
	assert.Equal(t, first, d.Path)

	failed := h.Query(ViewFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, second, failed[0].Path)
	assert.ErrorIs(t, failed[0].Err, ErrDuplicateName)
	assert.Len(t, h.Query(ViewEnabled), 2)
}

func TestDiscoverActivationFailures(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Shy", version: 1, imp: "shy"})
	writeModule(t, dir, meta{name: "Plain", version: 1, category: "Process", imp: "plain"})
	writeModule(t, dir, meta{name: "Odd", version: 1, category: "Gizmo", imp: "plain"})
	writeModule(t, dir, meta{name: "Boom", version: 1, imp: "boom"})
	writeModule(t, dir, meta{name: "Missing", version: 1, imp: "missing"})
	writeModule(t, dir, meta{name: "Alien", version: 1, runtime: "cobol"})
	writeModule(t, dir, meta{name: "After", version: 1, imp: "after", deps: []Dependency{{Name: "Shy"}}})

	shy := &testModule{accept: false}
	plain := &testModule{accept: true}
	loader := registry(map[string]interface{}{
		"shy":   shy,
		"plain": plain,
		"boom":  panicModule{},
		"after": &testModule{accept: true},
	})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, loader))
	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, n)

	byName := make(map[string]Descriptor)
	for _, d := range h.Query(ViewFailed) {
		byName[d.Name] = d
	}
	require.Len(t, byName, 7)

	assert.ErrorIs(t, byName["Shy"].Err, ErrInitRejected)
	assert.True(t, shy.closed.Load())
	assert.ErrorIs(t, byName["Plain"].Err, ErrInterfaceMismatch)
	assert.Zero(t, plain.inits.Load())
	assert.ErrorIs(t, byName["Odd"].Err, ErrInterfaceMismatch)
	assert.ErrorIs(t, byName["Boom"].Err, ErrInitRejected)
	assert.ErrorIs(t, byName["Missing"].Err, ErrInstantiation)
	assert.ErrorIs(t, byName["Alien"].Err, ErrNoLoader)
	assert.ErrorIs(t, byName["After"].Err, ErrDependencyTimeout)

	for _, d := range byName {
		assert.Equal(t, StateFailed, d.State)
		assert.Equal(t, d.Err.Error(), d.Description)
	}
	assert.Empty(t, h.Query(ViewLoaded))
}

func TestDiscoverCapabilities(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Dev", version: 1, category: "Device", imp: "dev"})
	writeModule(t, dir, meta{name: "Conn", version: 1, category: "Connection", imp: "conn"})
	writeModule(t, dir, meta{name: "Opt", version: 1, category: "Optional", imp: "opt"})

	loader := registry(map[string]interface{}{
		"dev":  &testDevice{testModule{accept: true}},
		"conn": &testConnection{testModule{accept: true}},
		"opt":  &testModule{accept: true},
	})
	h := newTestHost(t, WithLoader(RuntimeBuiltin, loader))

	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d, ok := h.FindByName("Dev")
	require.True(t, ok)
	dev, ok := d.Handle().Module().(module.DeviceModule)
	require.True(t, ok)
	assert.Equal(t, "t1", dev.DeviceInfo()["model"])

	d, ok = h.FindByName("conn")
	require.True(t, ok)
	conn, ok := d.Handle().Module().(module.ConnectionModule)
	require.True(t, ok)
	assert.Equal(t, "loopback", conn.ConnectionType())
}

func TestModuleHostDuringInit(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Net", version: 1.5, imp: "net"})
	writeModule(t, dir, meta{name: "DB", version: 1, imp: "db", deps: []Dependency{{Name: "Net"}}})

	var seen bool
	var version float64
	db := &hostProbe{probe: func(host module.Host) {
		seen = host.Loaded("NET")
		version, _ = host.Version("net")
		host.Logf("probing %s", "net")
	}}
	h := newTestHost(t, WithLoader(RuntimeBuiltin, registry(map[string]interface{}{
		"net": &testModule{accept: true},
		"db":  db,
	})))

	_, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1.5, version)
}

type hostProbe struct {
	probe func(module.Host)
}

func (p *hostProbe) Init(host module.Host) bool {
	p.probe(host)
	return true
}

func TestFindByIndex(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "A", version: 1, index: 2})
	writeModule(t, dir, meta{name: "B", version: 1, index: 1})
	writeModule(t, dir, meta{name: "C", version: 1, index: 2})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}))
	_, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)

	d, ok := h.FindByIndex(2)
	require.True(t, ok)
	assert.Equal(t, "A", d.Name)

	_, ok = h.FindByIndex(9)
	assert.False(t, ok)
	_, ok = h.FindByName("nobody")
	assert.False(t, ok)
	assert.Equal(t, []string{"B", "A", "C"}, names(h.Loaded()))
}

func TestShutdownThenRediscover(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Net", version: 1})
	writeModule(t, dir, meta{name: "DB", version: 1, deps: []Dependency{{Name: "Net"}}})

	loader := &acceptAll{}
	h := newTestHost(t, WithLoader(RuntimeBuiltin, loader))
	ctx := context.Background()

	_, err := h.Discover(ctx, dir)
	require.NoError(t, err)
	first := h.Query(ViewAll)
	firstNet := loader.created["Net"]

	require.NoError(t, h.Shutdown())
	assert.True(t, firstNet.closed.Load())
	for _, v := range []View{ViewAll, ViewLoaded, ViewFailed, ViewEnabled, ViewDisabled} {
		assert.Empty(t, h.Query(v))
	}

	_, err = h.Discover(ctx, dir)
	require.NoError(t, err)
	second := h.Query(ViewAll)

	opt := cmp.Comparer(func(a, b Descriptor) bool {
		return a.Path == b.Path && a.Name == b.Name && a.State == b.State && a.Version == b.Version
	})
	if diff := cmp.Diff(first, second, opt); diff != "" {
		t.Errorf("views differ after shutdown (-first +second):\n%s", diff)
	}
}

func TestRepeatedDiscoverKeepsActiveModules(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Net", version: 1})

	loader := &acceptAll{}
	h := newTestHost(t, WithLoader(RuntimeBuiltin, loader))
	ctx := context.Background()

	n, err := h.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	net := loader.created["Net"]

	writeModule(t, dir, meta{name: "DB", version: 1, deps: []Dependency{{Name: "Net"}}})
	n, err = h.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.EqualValues(t, 1, net.inits.Load())
	assert.Equal(t, []string{"Net", "DB"}, names(h.Loaded()))
}

func TestProcessWorker(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, meta{name: "Upper", version: 1, category: "Process", imp: "upper"})

	proc := &testProcess{testModule: testModule{accept: true}}
	h := newTestHost(t, WithLoader(RuntimeBuiltin, registry(map[string]interface{}{"upper": proc})))
	ctx := context.Background()

	_, err := h.Discover(ctx, dir)
	require.NoError(t, err)

	d, ok := h.FindByName("upper")
	require.True(t, ok)
	assert.Nil(t, d.Handle().Module())
	w := d.Handle().Worker()
	require.NotNil(t, w)
	assert.Equal(t, "Upper", w.Name())

	out, err := w.Process(ctx, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(out))

	_, err = w.Process(ctx, []byte("panic"))
	assert.ErrorContains(t, err, "boom")

	require.NoError(t, w.Reset(ctx))
	assert.EqualValues(t, 1, proc.resets.Load())

	require.NoError(t, h.Shutdown())
	<-w.Done()
	assert.True(t, proc.closed.Load())

	_, err = w.Process(ctx, []byte("late"))
	assert.ErrorIs(t, err, ErrWorkerStopped)
}

func TestExclusionPersistence(t *testing.T) {
	dir := t.TempDir()
	a := writeModule(t, dir, meta{name: "A", version: 1})
	writeModule(t, dir, meta{name: "B", version: 1})
	settings := filepath.Join(t.TempDir(), "settings.yml")
	ctx := context.Background()

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}), WithExclusionStore(NewFileStore(settings)))
	h.SetExclusion([]string{a})
	require.NoError(t, h.PersistExclusion(ctx))
	require.NoError(t, h.Shutdown())

	again := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}), WithExclusionStore(NewFileStore(settings)))
	_, err := again.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names(again.Query(ViewDisabled)))
	assert.Equal(t, []string{"B"}, names(again.Query(ViewLoaded)))
}

func TestShutdownReloadsExclusion(t *testing.T) {
	dir := t.TempDir()
	a := writeModule(t, dir, meta{name: "A", version: 1})
	store := NewMemoryStore()
	ctx := context.Background()

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}), WithExclusionStore(store))
	h.SetExclusion([]string{a})
	require.NoError(t, h.Shutdown())
	assert.Empty(t, h.Exclusion())

	// The unpersisted exclusion is gone; the store is read again.
	_, err := h.Discover(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names(h.Query(ViewLoaded)))
}

func TestResetSettings(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(settings, []byte("Theme: dark\nPlugins:\n  - /m/a.zip\n"), 0o644))

	h := newTestHost(t, WithExclusionStore(NewFileStore(settings)), WithResetSettings())
	assert.Empty(t, h.Exclusion())

	paths, err := NewFileStore(settings).LoadExclusion(context.Background())
	require.NoError(t, err)
	assert.Empty(t, paths)

	data, err := os.ReadFile(settings)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Theme: dark")
}

func TestSubscribeUnsubscribeAndPanics(t *testing.T) {
	h := newTestHost(t)
	rec := &recorder{}

	h.Subscribe(func(Event) { panic("handler bug") })
	unsubscribe := h.Subscribe(rec.handle)
	late := &recorder{}
	h.Subscribe(late.handle)

	_, err := h.Discover(context.Background(), t.TempDir())
	require.NoError(t, err)
	unsubscribe()
	_, err = h.Discover(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Len(t, rec.all(), 1)
	assert.Len(t, late.all(), 2)
}

func TestWithExtension(t *testing.T) {
	dir := t.TempDir()
	writeArchive(t, dir, "a.mod", map[string]string{"plugin.yml": meta{name: "A", version: 1}.yaml()})
	writeModule(t, dir, meta{name: "B", version: 1})

	h := newTestHost(t, WithLoader(RuntimeBuiltin, &acceptAll{}), WithExtension("mod"))
	n, err := h.Discover(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"A"}, names(h.Query(ViewAll)))
}

func TestQueryUnknownView(t *testing.T) {
	h := newTestHost(t)
	assert.Nil(t, h.Query(View(99)))
}
