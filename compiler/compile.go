package compiler

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/rill/vm"
)

var log = commonlog.GetLogger("rill.compiler")

// ---------------------------------------------------------------------------
// Compile: source text to unit
// ---------------------------------------------------------------------------

// Options configure a compilation.
type Options struct {
	// Lowering selects the code generation strategy. Nil means
	// DirectLowering.
	Lowering Lowering
	// Environment lists host items that unqualified names may refer to.
	Environment *Names
	// SourceName is recorded in the unit for error reporting.
	SourceName string
}

// Option mutates Options.
type Option func(*Options)

// WithLowering selects the code generation strategy.
func WithLowering(l Lowering) Option {
	return func(o *Options) { o.Lowering = l }
}

// WithEnvironment sets the names the host provides.
func WithEnvironment(env *Names) Option {
	return func(o *Options) { o.Environment = env }
}

// WithSourceName records the file the source came from.
func WithSourceName(name string) Option {
	return func(o *Options) { o.SourceName = name }
}

func buildOptions(opts []Option) Options {
	o := Options{Lowering: DirectLowering{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Lowering == nil {
		o.Lowering = DirectLowering{}
	}
	return o
}

// Compile parses, resolves and lowers source into a unit for the named
// module. The unit is nil whenever an error diagnostic is reported.
// Compiling the same input with the same options always yields an equal
// unit.
func Compile(source, moduleName string, opts ...Option) (*vm.Unit, Diagnostics) {
	o := buildOptions(opts)

	file, diags := Parse(source)
	if diags.HasErrors() {
		log.Debugf("compile %s: %d parse errors", moduleName, len(diags.Errors()))
		diags.Sort()
		return nil, diags
	}

	res, rdiags := Resolve(file, moduleName, o.Environment)
	diags = append(diags, rdiags...)

	unit, ldiags := o.Lowering.Lower(file, res)
	diags = append(diags, ldiags...)
	diags.Sort()
	if diags.HasErrors() {
		log.Debugf("compile %s: %d errors", moduleName, len(diags.Errors()))
		return nil, diags
	}
	unit.SourceName = o.SourceName
	log.Debugf("compiled %s with %s lowering: %d functions, %d constants, %d imports",
		moduleName, o.Lowering.Name(), len(unit.Functions), len(unit.Constants), len(unit.Imports))
	return unit, diags
}

// Check parses and resolves source without lowering it, for editors.
func Check(source, moduleName string, env *Names) Diagnostics {
	file, diags := Parse(source)
	if !diags.HasErrors() {
		_, rdiags := Resolve(file, moduleName, env)
		diags = append(diags, rdiags...)
	}
	diags.Sort()
	return diags
}
