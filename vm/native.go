package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Native bridge
// ---------------------------------------------------------------------------

// ErrDuplicateNative is returned when a name is registered twice.
var ErrDuplicateNative = errors.New("native function already registered")

// Variadic marks a native that accepts any number of arguments.
const Variadic = -1

// Awaitable is the opaque handle a native hands back when its result is
// not yet available. The VM never inspects it; the host uses it to know
// what to wait for before resuming.
type Awaitable any

// NativeFunc is a host function. Arguments are borrowed for the duration
// of the call; a native that keeps one must Retain it. The returned value
// is owned by the VM.
type NativeFunc func(args []Value) NativeOutcome

type nativeStatus uint8

const (
	nativeValue nativeStatus = iota
	nativeError
	nativePending
)

// NativeOutcome is the result of a native call.
type NativeOutcome struct {
	status    nativeStatus
	value     Value
	err       error
	awaitable Awaitable
}

// Return completes a native call with v.
func Return(v Value) NativeOutcome {
	return NativeOutcome{status: nativeValue, value: v}
}

// Fail completes a native call with an error. A *VmError keeps its kind;
// anything else surfaces as a NativeError fault.
func Fail(err error) NativeOutcome {
	return NativeOutcome{status: nativeError, err: err}
}

// Failf is Fail with a formatted error.
func Failf(format string, args ...any) NativeOutcome {
	return Fail(fmt.Errorf(format, args...))
}

// Pending suspends the calling VM until the host resumes it.
func Pending(a Awaitable) NativeOutcome {
	return NativeOutcome{status: nativePending, awaitable: a}
}

// Native is a registered host function.
type Native struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

// Registry holds the host functions available to linked units. Instance
// functions are keyed by the receiver's type name and receive the
// receiver as their first argument.
type Registry struct {
	mu       sync.RWMutex
	fns      map[string]*Native
	instance map[string]map[string]*Native
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		fns:      make(map[string]*Native),
		instance: make(map[string]map[string]*Native),
	}
}

// Register adds a free function under its fully qualified name
// (e.g. "println" or "time::sleep").
func (r *Registry) Register(name string, arity int, fn NativeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fns[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNative, name)
	}
	r.fns[name] = &Native{Name: name, Arity: arity, Fn: fn}
	return nil
}

// RegisterInstance adds an instance function for a type. Arity counts
// the arguments after the receiver.
func (r *Registry) RegisterInstance(typeName, name string, arity int, fn NativeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods, ok := r.instance[typeName]
	if !ok {
		methods = make(map[string]*Native)
		r.instance[typeName] = methods
	}
	if _, ok := methods[name]; ok {
		return fmt.Errorf("%w: %s::%s", ErrDuplicateNative, typeName, name)
	}
	full := typeName + "::" + name
	methods[name] = &Native{Name: full, Arity: arity, Fn: fn}
	return nil
}

// Lookup finds a free function.
func (r *Registry) Lookup(name string) (*Native, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.fns[name]
	return n, ok
}

// LookupInstance finds an instance function for a type name.
func (r *Registry) LookupInstance(typeName, name string) (*Native, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.instance[typeName][name]
	return n, ok
}

// Names returns all free function names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
