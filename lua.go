package plugins

import (
	"archive/zip"
	"context"
	"fmt"
	"path"

	lua "github.com/yuin/gopher-lua"

	"github.com/chabad360/plugins/v2/module"
)

// defaultLuaMain is the entry script used when the metadata has no import field.
const defaultLuaMain = "init.lua"

// LuaLoader runs modules written in Lua. The entry script is read straight
// from the archive and executed in a state with only the base, table, string
// and math libraries open.
//
// The script defines global functions:
//
//	function init(host) ... return true end   -- required
//	function process(input) ... end           -- Process category
//	function reset() ... end                  -- optional
//
// host exposes host.loaded(name), host.version(name) and host.log(message).
type LuaLoader struct{}

// NewLuaLoader returns a LuaLoader.
func NewLuaLoader() *LuaLoader {
	return &LuaLoader{}
}

// Load executes the entry script and wraps the resulting state.
func (l *LuaLoader) Load(ctx context.Context, d *Descriptor) (interface{}, error) {
	main := d.Import
	if main == "" {
		main = defaultLuaMain
	}

	src, err := readArchiveFile(d.Path, path.Join(d.root, main))
	if err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	L.SetContext(ctx)
	err = L.DoString(string(src))
	L.RemoveContext()
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("%s: %w", main, err)
	}

	script := &luaScript{L: L, name: d.Name}
	if !script.defines("init") {
		return script, nil
	}
	if script.defines("process") {
		return &luaProcessModule{luaModule{script}}, nil
	}
	return &luaModule{script}, nil
}

func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

func readArchiveFile(archive, name string) ([]byte, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name == name {
			return readEntry(f)
		}
	}
	return nil, fmt.Errorf("%s not found in %s", name, archive)
}

// luaScript is a loaded script that does not define init. It satisfies no
// capability and is only closed.
type luaScript struct {
	L    *lua.LState
	name string
}

func (s *luaScript) defines(fn string) bool {
	return s.L.GetGlobal(fn).Type() == lua.LTFunction
}

func (s *luaScript) call(fn string, args ...lua.LValue) (lua.LValue, error) {
	if err := s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal(fn),
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		return lua.LNil, err
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// Close releases the Lua state.
func (s *luaScript) Close() error {
	s.L.Close()
	return nil
}

type luaModule struct {
	*luaScript
}

// Init calls the script's init function with a host table.
func (m *luaModule) Init(host module.Host) bool {
	ret, err := m.call("init", m.hostTable(host))
	if err != nil {
		host.Logf("init: %v", err)
		return false
	}
	return lua.LVAsBool(ret)
}

func (m *luaModule) hostTable(host module.Host) *lua.LTable {
	L := m.L
	t := L.NewTable()
	L.SetField(t, "loaded", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(host.Loaded(L.CheckString(1))))
		return 1
	}))
	L.SetField(t, "version", L.NewFunction(func(L *lua.LState) int {
		v, ok := host.Version(L.CheckString(1))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(v))
		return 1
	}))
	L.SetField(t, "log", L.NewFunction(func(L *lua.LState) int {
		host.Logf("%s", L.CheckString(1))
		return 0
	}))
	return t
}

type luaProcessModule struct {
	luaModule
}

// Process calls the script's process function with input as a string.
func (m *luaProcessModule) Process(ctx context.Context, input []byte) ([]byte, error) {
	m.L.SetContext(ctx)
	defer m.L.RemoveContext()

	ret, err := m.call("process", lua.LString(input))
	if err != nil {
		return nil, err
	}
	if ret == lua.LNil {
		return nil, nil
	}
	return []byte(ret.String()), nil
}

// Reset calls the script's reset function if it has one.
func (m *luaProcessModule) Reset() {
	if m.defines("reset") {
		_, _ = m.call("reset")
	}
}
