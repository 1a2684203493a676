package plugins

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chabad360/plugins/v2/module"
)

// Descriptor describes one candidate module file. The metadata fields are
// read from the archive by Extract; Description doubles as the failure reason
// once an activation attempt fails.
type Descriptor struct {
	// Path is the absolute path of the module file. Views are keyed by it.
	Path string
	// Vendor is a purely informational field.
	Vendor string
	// Name is the logical identity used to resolve dependencies. Compared case-insensitively.
	Name string
	// Version is compared numerically against dependency minimums.
	Version float64
	Build   int
	// Index orders candidates before dependency resolution.
	Index int
	// Category selects the capability the module must implement.
	Category Category
	// Description is human text, or the failure reason.
	Description string
	// Dependencies are the modules that must be active before this one.
	Dependencies []Dependency
	// Runtime names the Loader that instantiates the module ("go", "lua", "builtin").
	Runtime string
	// Import is the Go import path, Lua entry script, or builtin factory key.
	Import string

	State State
	// Err is the failure cause for rejected and failed descriptors.
	Err error

	root   string
	handle *Handle
}

// Dependency is a minimum-version requirement on another module.
type Dependency struct {
	Name    string  `yaml:"name"`
	Version float64 `yaml:"version"`
}

// UnmarshalYAML accepts either a {name, version} map or a bare module name.
func (d *Dependency) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var name string
	if err := unmarshal(&name); err == nil {
		d.Name = name
		d.Version = 0
		return nil
	}

	type plain Dependency
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*d = Dependency(p)
	return nil
}

func (d Dependency) String() string {
	return fmt.Sprintf("%s>=%s", d.Name, FormatVersion(d.Version))
}

// Handle returns the live instance handle, or nil if the module is not active.
func (d *Descriptor) Handle() *Handle {
	return d.handle
}

// Clone returns a deep copy of the descriptor. The handle is shared.
func (d *Descriptor) Clone() *Descriptor {
	clone := *d
	if d.Dependencies != nil {
		clone.Dependencies = make([]Dependency, len(d.Dependencies))
		copy(clone.Dependencies, d.Dependencies)
	}
	return &clone
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s v%s", d.Name, FormatVersion(d.Version))
}

func (d *Descriptor) key() string {
	return strings.ToLower(d.Name)
}

// FormatVersion prints a version with at least one decimal, e.g. "1.0" or "2.25".
func FormatVersion(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// Handle refers to an activated module. Process modules are owned by their
// worker, so Module returns nil for them and calls go through Worker.
type Handle struct {
	module module.Module
	worker *Worker
}

// Module returns the instance for modules the host owns directly.
func (h *Handle) Module() module.Module {
	if h == nil {
		return nil
	}
	return h.module
}

// Worker returns the worker that owns a Process module.
func (h *Handle) Worker() *Worker {
	if h == nil {
		return nil
	}
	return h.worker
}

// Category is the module type declared in the metadata.
type Category string

// Known categories.
const (
	CategoryBase        Category = "Base"
	CategoryStackedBase Category = "StackedBase"
	CategoryMainBase    Category = "MainBase"
	CategoryOptional    Category = "Optional"
	CategoryProcess     Category = "Process"
	CategoryDevice      Category = "Device"
	CategoryConnection  Category = "Connection"
)

var categoryAliases = map[string]Category{
	"stacked_base": CategoryStackedBase,
	"main_base":    CategoryMainBase,
}

func parseCategory(s string) Category {
	for _, c := range []Category{
		CategoryBase, CategoryStackedBase, CategoryMainBase, CategoryOptional,
		CategoryProcess, CategoryDevice, CategoryConnection,
	} {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	if c, ok := categoryAliases[strings.ToLower(s)]; ok {
		return c
	}
	return Category(s)
}

// View selects one of the registry's module sets.
type View int

// Registry views.
const (
	// ViewAll holds every discovered module file.
	ViewAll View = iota
	// ViewLoaded holds modules that are enabled and active.
	ViewLoaded
	// ViewFailed holds enabled modules that are not active, and rejected files.
	ViewFailed
	// ViewEnabled holds modules not in the exclusion set.
	ViewEnabled
	// ViewDisabled holds modules in the exclusion set.
	ViewDisabled
)

var viewNames = [...]string{"all", "loaded", "failed", "enabled", "disabled"}

func (v View) String() string {
	if v < 0 || int(v) >= len(viewNames) {
		return "unknown"
	}
	return viewNames[v]
}

// ParseView returns the view with the given name.
func ParseView(s string) (View, error) {
	for i, name := range viewNames {
		if strings.EqualFold(s, name) {
			return View(i), nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", s)
}

// State is the lifecycle state of one descriptor.
type State int

// Descriptor states. Rejected, Disabled, Activated and Failed are terminal
// within one Discover call.
const (
	StateDiscovered State = iota
	StateRejected
	StateDisabled
	// StatePending is an enabled module waiting for its dependencies.
	StatePending
	StateActivated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateRejected:
		return "rejected"
	case StateDisabled:
		return "disabled"
	case StatePending:
		return "pending"
	case StateActivated:
		return "activated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InvalidMetadata is the description given to files whose metadata cannot be read.
const InvalidMetadata = "Invalid meta data structure."

var (
	ErrMetadata          = errors.New("invalid module metadata")
	ErrNoLoader          = errors.New("no loader for runtime")
	ErrInstantiation     = errors.New("cannot instantiate module")
	ErrInterfaceMismatch = errors.New("module does not implement required capability")
	ErrInitRejected      = errors.New("module rejected initialization")
	ErrDependencyTimeout = errors.New("module dependencies not resolved")
	ErrDuplicateName     = errors.New("duplicate module name")
)
