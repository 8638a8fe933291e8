package hostlib

import (
	"math"
	"unicode"

	"github.com/chazu/rill/vm"
)

func registerNumberFunctions(g *registrar) {
	// int

	g.method("int", "abs", 0, func(args []vm.Value) vm.NativeOutcome {
		i := args[0].AsInt()
		if i == math.MinInt64 {
			return fault(vm.KindOverflow, "int::abs overflows for %d", i)
		}
		if i < 0 {
			i = -i
		}
		return vm.Return(vm.Int(i))
	})
	g.method("int", "to_float", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Float(float64(args[0].AsInt())))
	})
	g.method("int", "min", 1, func(args []vm.Value) vm.NativeOutcome {
		other, ok, out := intArg("int::min", args, 1)
		if !ok {
			return out
		}
		return vm.Return(vm.Int(min(args[0].AsInt(), other)))
	})
	g.method("int", "max", 1, func(args []vm.Value) vm.NativeOutcome {
		other, ok, out := intArg("int::max", args, 1)
		if !ok {
			return out
		}
		return vm.Return(vm.Int(max(args[0].AsInt(), other)))
	})

	// float

	floatFn := func(name string, f func(float64) float64) {
		g.method("float", name, 0, func(args []vm.Value) vm.NativeOutcome {
			return vm.Return(vm.Float(f(args[0].AsFloat())))
		})
	}
	floatFn("abs", math.Abs)
	floatFn("floor", math.Floor)
	floatFn("ceil", math.Ceil)
	floatFn("round", math.Round)
	floatFn("sqrt", math.Sqrt)

	// to_int truncates toward zero; NaN and out-of-range values fault.
	g.method("float", "to_int", 0, func(args []vm.Value) vm.NativeOutcome {
		f := math.Trunc(args[0].AsFloat())
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return fault(vm.KindOverflow, "float::to_int: %v does not fit in an int", args[0].AsFloat())
		}
		return vm.Return(vm.Int(int64(f)))
	})
	g.method("float", "is_nan", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(math.IsNaN(args[0].AsFloat())))
	})

	// char

	g.method("char", "is_digit", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(unicode.IsDigit(args[0].AsChar())))
	})
	g.method("char", "is_alphabetic", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(unicode.IsLetter(args[0].AsChar())))
	})
	g.method("char", "is_whitespace", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(unicode.IsSpace(args[0].AsChar())))
	})
	g.method("char", "to_upper", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Char(unicode.ToUpper(args[0].AsChar())))
	})
	g.method("char", "to_lower", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Char(unicode.ToLower(args[0].AsChar())))
	})
	g.method("char", "to_int", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(int64(args[0].AsChar())))
	})
}
