package module

import (
	"context"
	"reflect"
)

// Symbols exports this package to the yaegi interpreter. The underscore
// entries are the wrappers yaegi uses to let interpreted types satisfy the
// capability interfaces.
var Symbols = map[string]map[string]reflect.Value{
	"github.com/chabad360/plugins/v2/module/module": {
		"ConnectionModule": reflect.ValueOf((*ConnectionModule)(nil)),
		"DeviceModule":     reflect.ValueOf((*DeviceModule)(nil)),
		"Host":             reflect.ValueOf((*Host)(nil)),
		"Module":           reflect.ValueOf((*Module)(nil)),
		"ProcessModule":    reflect.ValueOf((*ProcessModule)(nil)),

		"_ConnectionModule": reflect.ValueOf((*_ConnectionModule)(nil)),
		"_DeviceModule":     reflect.ValueOf((*_DeviceModule)(nil)),
		"_Host":             reflect.ValueOf((*_Host)(nil)),
		"_Module":           reflect.ValueOf((*_Module)(nil)),
		"_ProcessModule":    reflect.ValueOf((*_ProcessModule)(nil)),
	},
}

type _Host struct {
	IValue   interface{}
	WLoaded  func(name string) bool
	WLogf    func(format string, args ...interface{})
	WVersion func(name string) (float64, bool)
}

func (W _Host) Loaded(name string) bool                 { return W.WLoaded(name) }
func (W _Host) Logf(format string, args ...interface{}) { W.WLogf(format, args...) }
func (W _Host) Version(name string) (float64, bool)     { return W.WVersion(name) }

type _Module struct {
	IValue interface{}
	WInit  func(host Host) bool
}

func (W _Module) Init(host Host) bool { return W.WInit(host) }

type _ProcessModule struct {
	IValue   interface{}
	WInit    func(host Host) bool
	WProcess func(ctx context.Context, input []byte) ([]byte, error)
	WReset   func()
}

func (W _ProcessModule) Init(host Host) bool { return W.WInit(host) }
func (W _ProcessModule) Process(ctx context.Context, input []byte) ([]byte, error) {
	return W.WProcess(ctx, input)
}
func (W _ProcessModule) Reset() { W.WReset() }

type _DeviceModule struct {
	IValue        interface{}
	WDeviceInfo   func() map[string]string
	WDeviceStatus func() map[string]string
	WInit         func(host Host) bool
	WStartDevice  func() error
	WStopDevice   func() error
}

func (W _DeviceModule) DeviceInfo() map[string]string   { return W.WDeviceInfo() }
func (W _DeviceModule) DeviceStatus() map[string]string { return W.WDeviceStatus() }
func (W _DeviceModule) Init(host Host) bool             { return W.WInit(host) }
func (W _DeviceModule) StartDevice() error              { return W.WStartDevice() }
func (W _DeviceModule) StopDevice() error               { return W.WStopDevice() }

type _ConnectionModule struct {
	IValue          interface{}
	WConnect        func(ctx context.Context) error
	WConnectionType func() string
	WDisconnect     func() error
	WInit           func(host Host) bool
}

func (W _ConnectionModule) Connect(ctx context.Context) error { return W.WConnect(ctx) }
func (W _ConnectionModule) ConnectionType() string            { return W.WConnectionType() }
func (W _ConnectionModule) Disconnect() error                 { return W.WDisconnect() }
func (W _ConnectionModule) Init(host Host) bool               { return W.WInit(host) }
