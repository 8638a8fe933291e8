package hostlib

import (
	"strings"

	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Vec
// ---------------------------------------------------------------------------

func vecFn(name string, f func(v *vm.Vec, args []vm.Value) vm.NativeOutcome) vm.NativeFunc {
	return func(args []vm.Value) vm.NativeOutcome {
		v, ok := args[0].AsVec()
		if !ok {
			return typeError("Vec::"+name, "a Vec", args[0])
		}
		return f(v, args[1:])
	}
}

// index checks i against n; insertion positions may equal n.
func index(fn string, i int64, n int, allowEnd bool) (int, bool, vm.NativeOutcome) {
	limit := int64(n)
	if allowEnd {
		limit++
	}
	if i < 0 || i >= limit {
		return 0, false, fault(vm.KindIndexOutOfBounds, "%s: index %d out of bounds for length %d", fn, i, n)
	}
	return int(i), true, vm.NativeOutcome{}
}

func registerVecFunctions(g *registrar) {
	method := func(name string, arity int, f func(v *vm.Vec, args []vm.Value) vm.NativeOutcome) {
		g.method("Vec", name, arity, vecFn(name, f))
	}

	method("len", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(int64(len(v.Items))))
	})
	method("is_empty", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(len(v.Items) == 0))
	})

	// push(item) - append in place
	method("push", 1, func(v *vm.Vec, args []vm.Value) vm.NativeOutcome {
		v.Items = append(v.Items, args[0].Retain())
		return vm.Return(vm.UnitValue)
	})

	// pop - remove the last item, Option
	method("pop", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		n := len(v.Items)
		if n == 0 {
			return vm.Return(vm.None())
		}
		last := v.Items[n-1]
		v.Items[n-1] = vm.UnitValue
		v.Items = v.Items[:n-1]
		return vm.Return(vm.Some(last))
	})

	// get(i) - Option of the item at i
	method("get", 1, func(v *vm.Vec, args []vm.Value) vm.NativeOutcome {
		i, ok, out := intArg("Vec::get", args, 0)
		if !ok {
			return out
		}
		if i < 0 || i >= int64(len(v.Items)) {
			return vm.Return(vm.None())
		}
		return vm.Return(vm.Some(v.Items[i].Retain()))
	})

	method("first", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		if len(v.Items) == 0 {
			return vm.Return(vm.None())
		}
		return vm.Return(vm.Some(v.Items[0].Retain()))
	})
	method("last", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		if len(v.Items) == 0 {
			return vm.Return(vm.None())
		}
		return vm.Return(vm.Some(v.Items[len(v.Items)-1].Retain()))
	})

	method("contains", 1, func(v *vm.Vec, args []vm.Value) vm.NativeOutcome {
		for _, item := range v.Items {
			if vm.Equal(item, args[0]) {
				return vm.Return(vm.Bool(true))
			}
		}
		return vm.Return(vm.Bool(false))
	})

	// join(sep) - display forms joined by sep
	method("join", 1, func(v *vm.Vec, args []vm.Value) vm.NativeOutcome {
		sep, ok, out := stringArg("Vec::join", args, 0)
		if !ok {
			return out
		}
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = vm.Display(item)
		}
		return vm.Return(vm.NewString(strings.Join(parts, sep)))
	})

	// reverse - reverse in place
	method("reverse", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		for i, j := 0, len(v.Items)-1; i < j; i, j = i+1, j-1 {
			v.Items[i], v.Items[j] = v.Items[j], v.Items[i]
		}
		return vm.Return(vm.UnitValue)
	})

	method("clear", 0, func(v *vm.Vec, _ []vm.Value) vm.NativeOutcome {
		items := v.Items
		v.Items = nil
		for _, item := range items {
			item.Release()
		}
		return vm.Return(vm.UnitValue)
	})

	// insert(i, item) - insert before position i
	method("insert", 2, func(v *vm.Vec, args []vm.Value) vm.NativeOutcome {
		i, ok, out := intArg("Vec::insert", args, 0)
		if !ok {
			return out
		}
		at, ok, out := index("Vec::insert", i, len(v.Items), true)
		if !ok {
			return out
		}
		v.Items = append(v.Items, vm.UnitValue)
		copy(v.Items[at+1:], v.Items[at:])
		v.Items[at] = args[1].Retain()
		return vm.Return(vm.UnitValue)
	})

	// remove(i) - remove and return the item at i
	method("remove", 1, func(v *vm.Vec, args []vm.Value) vm.NativeOutcome {
		i, ok, out := intArg("Vec::remove", args, 0)
		if !ok {
			return out
		}
		at, ok, out := index("Vec::remove", i, len(v.Items), false)
		if !ok {
			return out
		}
		item := v.Items[at]
		v.Items = append(v.Items[:at], v.Items[at+1:]...)
		return vm.Return(item)
	})
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

func objectFn(name string, f func(m *vm.Map, args []vm.Value) vm.NativeOutcome) vm.NativeFunc {
	return func(args []vm.Value) vm.NativeOutcome {
		m, ok := args[0].AsMap()
		if !ok {
			return typeError("Object::"+name, "an Object", args[0])
		}
		return f(m, args[1:])
	}
}

func registerObjectFunctions(g *registrar) {
	method := func(name string, arity int, f func(m *vm.Map, args []vm.Value) vm.NativeOutcome) {
		g.method("Object", name, arity, objectFn(name, f))
	}
	key := func(fn string, args []vm.Value) (string, bool, vm.NativeOutcome) {
		return stringArg("Object::"+fn, args, 0)
	}

	method("len", 0, func(m *vm.Map, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(int64(m.Len())))
	})
	method("is_empty", 0, func(m *vm.Map, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Bool(m.Len() == 0))
	})

	// keys - a Vec of keys in insertion order
	method("keys", 0, func(m *vm.Map, _ []vm.Value) vm.NativeOutcome {
		items := make([]vm.Value, 0, m.Len())
		for _, k := range m.Keys() {
			items = append(items, vm.NewString(k))
		}
		return vm.Return(vm.NewVec(items))
	})

	method("values", 0, func(m *vm.Map, _ []vm.Value) vm.NativeOutcome {
		items := make([]vm.Value, 0, m.Len())
		for _, k := range m.Keys() {
			v, _ := m.Get(k)
			items = append(items, v.Retain())
		}
		return vm.Return(vm.NewVec(items))
	})

	method("contains_key", 1, func(m *vm.Map, args []vm.Value) vm.NativeOutcome {
		k, ok, out := key("contains_key", args)
		if !ok {
			return out
		}
		_, found := m.Get(k)
		return vm.Return(vm.Bool(found))
	})

	method("get", 1, func(m *vm.Map, args []vm.Value) vm.NativeOutcome {
		k, ok, out := key("get", args)
		if !ok {
			return out
		}
		v, found := m.Get(k)
		return vm.Return(option(v.Retain(), found))
	})

	// insert(key, value) - set in place
	method("insert", 2, func(m *vm.Map, args []vm.Value) vm.NativeOutcome {
		k, ok, out := key("insert", args)
		if !ok {
			return out
		}
		m.Set(k, args[1].Retain())
		return vm.Return(vm.UnitValue)
	})

	// remove(key) - Option of the removed value
	method("remove", 1, func(m *vm.Map, args []vm.Value) vm.NativeOutcome {
		k, ok, out := key("remove", args)
		if !ok {
			return out
		}
		return vm.Return(option(m.Delete(k)))
	})
}

// ---------------------------------------------------------------------------
// Tuple and Range
// ---------------------------------------------------------------------------

func registerTupleFunctions(g *registrar) {
	g.method("Tuple", "len", 0, func(args []vm.Value) vm.NativeOutcome {
		t, ok := args[0].AsTuple()
		if !ok {
			return typeError("Tuple::len", "a Tuple", args[0])
		}
		return vm.Return(vm.Int(int64(len(t.Items))))
	})

	g.method("Tuple", "get", 1, func(args []vm.Value) vm.NativeOutcome {
		t, ok := args[0].AsTuple()
		if !ok {
			return typeError("Tuple::get", "a Tuple", args[0])
		}
		i, ok, out := intArg("Tuple::get", args, 1)
		if !ok {
			return out
		}
		if i < 0 || i >= int64(len(t.Items)) {
			return vm.Return(vm.None())
		}
		return vm.Return(vm.Some(t.Items[i].Retain()))
	})
}

func rangeFn(name string, f func(r *vm.Range, args []vm.Value) vm.NativeOutcome) vm.NativeFunc {
	return func(args []vm.Value) vm.NativeOutcome {
		r, ok := args[0].Object().(*vm.Range)
		if !ok {
			return typeError("Range::"+name, "a Range", args[0])
		}
		return f(r, args[1:])
	}
}

// rangeLen returns the number of integers in r.
func rangeLen(r *vm.Range) int64 {
	n := r.End - r.Start
	if r.Inclusive {
		n++
	}
	if n < 0 {
		return 0
	}
	return n
}

// maxRangeVec bounds Range::to_vec.
const maxRangeVec = 1 << 24

func registerRangeFunctions(g *registrar) {
	method := func(name string, arity int, f func(r *vm.Range, args []vm.Value) vm.NativeOutcome) {
		g.method("Range", name, arity, rangeFn(name, f))
	}

	method("start", 0, func(r *vm.Range, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(r.Start))
	})
	method("end", 0, func(r *vm.Range, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(r.End))
	})
	method("len", 0, func(r *vm.Range, _ []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(rangeLen(r)))
	})
	method("contains", 1, func(r *vm.Range, args []vm.Value) vm.NativeOutcome {
		i, ok, out := intArg("Range::contains", args, 0)
		if !ok {
			return out
		}
		return vm.Return(vm.Bool(r.Contains(i)))
	})

	// to_vec - the integers of the range as a Vec
	method("to_vec", 0, func(r *vm.Range, _ []vm.Value) vm.NativeOutcome {
		n := rangeLen(r)
		if n > maxRangeVec {
			return fault(vm.KindIndexOutOfBounds, "Range::to_vec: %d elements exceeds the limit of %d", n, maxRangeVec)
		}
		items := make([]vm.Value, n)
		for i := range items {
			items[i] = vm.Int(r.Start + int64(i))
		}
		return vm.Return(vm.NewVec(items))
	})
}

// ---------------------------------------------------------------------------
// Option and Result
// ---------------------------------------------------------------------------

// variant returns the built-in variant name of args[0] and its payload.
func variant(args []vm.Value) (string, vm.Value) {
	s, ok := args[0].AsStruct()
	if !ok || s.Type.Module != nil {
		return "", vm.UnitValue
	}
	if len(s.Fields) == 1 {
		return s.Type.Def.Name, s.Fields[0]
	}
	return s.Type.Def.Name, vm.UnitValue
}

func registerVariantFunctions(g *registrar) {
	is := func(typeName, name, want string) {
		g.method(typeName, name, 0, func(args []vm.Value) vm.NativeOutcome {
			got, _ := variant(args)
			return vm.Return(vm.Bool(got == want))
		})
	}
	is("Option", "is_some", vm.NameSome)
	is("Option", "is_none", vm.NameNone)
	is("Result", "is_ok", vm.NameOk)
	is("Result", "is_err", vm.NameErr)

	// unwrap - the payload of Some or Ok, otherwise a Panic fault
	unwrap := func(typeName, want string) {
		g.method(typeName, "unwrap", 0, func(args []vm.Value) vm.NativeOutcome {
			got, payload := variant(args)
			if got != want {
				return fault(vm.KindPanic, "called unwrap on %s", vm.Debug(args[0]))
			}
			return vm.Return(payload.Retain())
		})
		g.method(typeName, "unwrap_or", 1, func(args []vm.Value) vm.NativeOutcome {
			got, payload := variant(args)
			if got != want {
				return vm.Return(args[1].Retain())
			}
			return vm.Return(payload.Retain())
		})
	}
	unwrap("Option", vm.NameSome)
	unwrap("Result", vm.NameOk)
}

func registerCollectionFunctions(g *registrar) {
	registerVecFunctions(g)
	registerObjectFunctions(g)
	registerTupleFunctions(g)
	registerRangeFunctions(g)
	registerVariantFunctions(g)
}
