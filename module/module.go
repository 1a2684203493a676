// Package module declares the capabilities a plugin implements and the handle
// the host passes to it. Interpreted plugins import this package by its full
// path; the host exports it to the interpreter through Symbols.
package module

import "context"

// Host is the handle a module receives in Init.
type Host interface {
	// Loaded reports whether a module with the given name is active.
	Loaded(name string) bool
	// Version returns the version of an active module.
	Version(name string) (float64, bool)
	// Logf writes a message to the host log on behalf of the module.
	Logf(format string, args ...interface{})
}

// Module is the capability every plugin implements.
// Init is called exactly once; returning false declines activation.
type Module interface {
	Init(host Host) bool
}

// ProcessModule is implemented by plugins of the Process category.
// After activation the instance is owned by a dedicated worker and all calls
// happen on that worker's goroutine.
type ProcessModule interface {
	Module
	Process(ctx context.Context, input []byte) ([]byte, error)
	Reset()
}

// DeviceModule is implemented by plugins of the Device category.
type DeviceModule interface {
	Module
	DeviceInfo() map[string]string
	DeviceStatus() map[string]string
	StartDevice() error
	StopDevice() error
}

// ConnectionModule is implemented by plugins of the Connection category.
type ConnectionModule interface {
	Module
	ConnectionType() string
	Connect(ctx context.Context) error
	Disconnect() error
}
