package vm

import (
	"fmt"
	"sort"
	"strconv"
)

// ToGo converts a borrowed value into plain Go data: nil, bool, int64,
// float64, string, []any or map[string]any. Structs become maps with a
// "$type" entry; functions and host values become their display string.
func ToGo(v Value) any {
	switch v.tag {
	case TagUnit:
		return nil
	case TagBool:
		return v.AsBool()
	case TagInt:
		return v.AsInt()
	case TagFloat:
		return v.AsFloat()
	case TagChar:
		return string(v.AsChar())
	}
	switch o := v.obj.(type) {
	case *String:
		return o.s
	case *Vec:
		return seqToGo(o.Items)
	case *Tuple:
		return seqToGo(o.Items)
	case *Map:
		m := make(map[string]any, len(o.keys))
		for i, k := range o.keys {
			m[k] = ToGo(o.vals[i])
		}
		return m
	case *Struct:
		m := map[string]any{"$type": o.Type.Def.Name}
		for i, f := range o.Fields {
			key := strconv.Itoa(i)
			if o.Type.Def.Kind.HasNamedFields() {
				key = o.Type.Def.Fields[i]
			}
			m[key] = ToGo(f)
		}
		return m
	case *Cell:
		return ToGo(o.V)
	}
	return Display(v)
}

func seqToGo(items []Value) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = ToGo(item)
	}
	return out
}

// FromGo converts Go data into an owned value.
func FromGo(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return UnitValue, nil
	case Value:
		return x.Retain(), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint32:
		return Int(int64(x)), nil
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return NewString(x), nil
	case []any:
		items := make([]Value, 0, len(x))
		for _, e := range x {
			v, err := FromGo(e)
			if err != nil {
				releaseAll(items)
				return UnitValue, err
			}
			items = append(items, v)
		}
		return NewVec(items), nil
	case map[string]any:
		m, mv := NewMap()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := FromGo(x[k])
			if err != nil {
				mv.Release()
				return UnitValue, err
			}
			m.Set(k, v)
		}
		return mv, nil
	}
	return UnitValue, fmt.Errorf("cannot convert %T to a script value", x)
}
