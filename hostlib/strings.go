package hostlib

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/rill/vm"
)

// stringFn adapts a native whose receiver must be a String.
func stringFn(name string, f func(s string, args []vm.Value) vm.NativeOutcome) vm.NativeFunc {
	return func(args []vm.Value) vm.NativeOutcome {
		s, ok, out := stringArg("String::"+name, args, 0)
		if !ok {
			return out
		}
		return f(s, args[1:])
	}
}

// stringPredicate adapts a native taking one String argument and
// returning a bool.
func stringPredicate(name string, pred func(s, arg string) bool) vm.NativeFunc {
	return stringFn(name, func(s string, args []vm.Value) vm.NativeOutcome {
		arg, ok, out := stringArg("String::"+name, args, 0)
		if !ok {
			return out
		}
		return vm.Return(vm.Bool(pred(s, arg)))
	})
}

func registerStringFunctions(g *registrar) {
	method := func(name string, arity int, f func(s string, args []vm.Value) vm.NativeOutcome) {
		g.method("String", name, arity, stringFn(name, f))
	}

	// len - number of characters
	method("len", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(int64(utf8.RuneCountInString(s))))
	})

	// is_empty
	method("is_empty", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(s == ""))
	})

	// chars - a Vec of the characters
	method("chars", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		items := make([]vm.Value, 0, len(s))
		for _, r := range s {
			items = append(items, vm.Char(r))
		}
		return vm.Return(vm.NewVec(items))
	})

	method("to_upper", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.NewString(strings.ToUpper(s)))
	})
	method("to_lower", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.NewString(strings.ToLower(s)))
	})
	method("trim", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.NewString(strings.TrimSpace(s)))
	})

	g.method("String", "contains", 1, stringPredicate("contains", strings.Contains))
	g.method("String", "starts_with", 1, stringPredicate("starts_with", strings.HasPrefix))
	g.method("String", "ends_with", 1, stringPredicate("ends_with", strings.HasSuffix))

	// split(sep) - a Vec of the pieces
	method("split", 1, func(s string, args []vm.Value) vm.NativeOutcome {
		sep, ok, out := stringArg("String::split", args, 0)
		if !ok {
			return out
		}
		parts := strings.Split(s, sep)
		items := make([]vm.Value, len(parts))
		for i, p := range parts {
			items[i] = vm.NewString(p)
		}
		return vm.Return(vm.NewVec(items))
	})

	// replace(from, to) - replace every occurrence
	method("replace", 2, func(s string, args []vm.Value) vm.NativeOutcome {
		from, ok, out := stringArg("String::replace", args, 0)
		if !ok {
			return out
		}
		to, ok, out := stringArg("String::replace", args, 1)
		if !ok {
			return out
		}
		return vm.Return(vm.NewString(strings.ReplaceAll(s, from, to)))
	})

	// repeat(n)
	method("repeat", 1, func(s string, args []vm.Value) vm.NativeOutcome {
		n, ok, out := intArg("String::repeat", args, 0)
		if !ok {
			return out
		}
		if n < 0 {
			return fault(vm.KindIndexOutOfBounds, "String::repeat count %d is negative", n)
		}
		return vm.Return(vm.NewString(strings.Repeat(s, int(n))))
	})

	// parse_int - Result::Ok(int) or Result::Err(message)
	method("parse_int", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return vm.Return(vm.Err(vm.NewString(err.Error())))
		}
		return vm.Return(vm.Ok(vm.Int(i)))
	})

	// parse_float - Result::Ok(float) or Result::Err(message)
	method("parse_float", 0, func(s string, _ []vm.Value) vm.NativeOutcome {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return vm.Return(vm.Err(vm.NewString(err.Error())))
		}
		return vm.Return(vm.Ok(vm.Float(f)))
	})
}
