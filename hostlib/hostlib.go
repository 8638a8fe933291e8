// Package hostlib is the default host prelude: printing and debugging
// functions, conversions, instance functions for the built-in types and
// an asynchronous time::sleep, together with Drive, a host event loop
// that resolves the awaitables those natives suspend on.
package hostlib

import (
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/vm"
)

var log = commonlog.GetLogger("rill.host")

// Free function names, as scripts call them.
var freeFunctions = []string{
	"print",
	"println",
	"dbg",
	"panic",
	"assert",
	"type_of",
	"to_string",
	"time::sleep",
	"time::now",
}

// Environment returns the names Install registers, for compiling
// scripts that call them unqualified.
func Environment() *compiler.Names {
	return compiler.NewNames(freeFunctions...)
}

// Option configures the prelude.
type Option func(*host)

// WithStdout redirects print, println and dbg.
func WithStdout(w io.Writer) Option {
	return func(h *host) { h.stdout = w }
}

type host struct {
	stdout io.Writer
}

// Install registers the prelude in r.
func Install(r *vm.Registry, opts ...Option) error {
	h := &host{stdout: os.Stdout}
	for _, opt := range opts {
		opt(h)
	}

	g := &registrar{r: r}
	h.registerCore(g)
	registerTime(g)
	registerStringFunctions(g)
	registerCollectionFunctions(g)
	registerNumberFunctions(g)
	return g.err
}

// NewSession returns a session with the prelude installed.
func NewSession(opts ...vm.Option) (*vm.Session, error) {
	s := vm.NewSession(opts...)
	if err := Install(s.Natives()); err != nil {
		return nil, err
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Registration helpers
// ---------------------------------------------------------------------------

// registrar records the first registration error.
type registrar struct {
	r   *vm.Registry
	err error
}

func (g *registrar) fn(name string, arity int, f vm.NativeFunc) {
	if g.err == nil {
		g.err = g.r.Register(name, arity, f)
	}
}

func (g *registrar) method(typeName, name string, arity int, f vm.NativeFunc) {
	if g.err == nil {
		g.err = g.r.RegisterInstance(typeName, name, arity, f)
	}
}

func fault(kind vm.ErrorKind, format string, args ...any) vm.NativeOutcome {
	return vm.Fail(&vm.VmError{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func typeError(fn string, want string, got vm.Value) vm.NativeOutcome {
	return fault(vm.KindTypeMismatch, "%s expects %s, got %s", fn, want, got.TypeName())
}

func stringArg(fn string, args []vm.Value, i int) (string, bool, vm.NativeOutcome) {
	s, ok := args[i].AsString()
	if !ok {
		return "", false, typeError(fn, "a String", args[i])
	}
	return s, true, vm.NativeOutcome{}
}

func intArg(fn string, args []vm.Value, i int) (int64, bool, vm.NativeOutcome) {
	if !args[i].IsInt() {
		return 0, false, typeError(fn, "an int", args[i])
	}
	return args[i].AsInt(), true, vm.NativeOutcome{}
}

// option wraps an owned value as Some, or returns None when ok is false.
func option(v vm.Value, ok bool) vm.Value {
	if !ok {
		return vm.None()
	}
	return vm.Some(v)
}
