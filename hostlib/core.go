package hostlib

import (
	"fmt"
	"strings"

	"github.com/chazu/rill/vm"
)

// registerCore adds the printing, debugging and conversion functions.
func (h *host) registerCore(g *registrar) {
	// print(value) - write the display form without a newline
	g.fn("print", 1, func(args []vm.Value) vm.NativeOutcome {
		fmt.Fprint(h.stdout, vm.Display(args[0]))
		return vm.Return(vm.UnitValue)
	})

	// println(values...) - write display forms separated by spaces
	g.fn("println", vm.Variadic, func(args []vm.Value) vm.NativeOutcome {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = vm.Display(a)
		}
		fmt.Fprintln(h.stdout, strings.Join(parts, " "))
		return vm.Return(vm.UnitValue)
	})

	// dbg(values...) - write the debug form of each value on its own line
	g.fn("dbg", vm.Variadic, func(args []vm.Value) vm.NativeOutcome {
		for _, a := range args {
			fmt.Fprintln(h.stdout, vm.Debug(a))
		}
		return vm.Return(vm.UnitValue)
	})

	// panic(message) - abort the execution with a Panic fault
	g.fn("panic", 1, func(args []vm.Value) vm.NativeOutcome {
		return fault(vm.KindPanic, "%s", vm.Display(args[0]))
	})

	// assert(condition, message?) - panic unless condition is true
	g.fn("assert", vm.Variadic, func(args []vm.Value) vm.NativeOutcome {
		if len(args) < 1 || len(args) > 2 {
			return fault(vm.KindArityMismatch, "assert expects 1 or 2 arguments, got %d", len(args))
		}
		if !args[0].IsBool() {
			return typeError("assert", "a bool", args[0])
		}
		if args[0].AsBool() {
			return vm.Return(vm.UnitValue)
		}
		if len(args) == 2 {
			return fault(vm.KindPanic, "assertion failed: %s", vm.Display(args[1]))
		}
		return fault(vm.KindPanic, "assertion failed")
	})

	// type_of(value) - the script-visible type name
	g.fn("type_of", 1, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.NewString(args[0].TypeName()))
	})

	// to_string(value) - the display form as a String
	g.fn("to_string", 1, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.NewString(vm.Display(args[0])))
	})

	for _, typeName := range []string{"unit", "bool", "int", "float", "char", "String", "Vec", "Tuple", "Object", "Range", "Option", "Result"} {
		g.method(typeName, "to_string", 0, func(args []vm.Value) vm.NativeOutcome {
			return vm.Return(vm.NewString(vm.Display(args[0])))
		})
	}
}
