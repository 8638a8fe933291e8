package vm

import (
	"math"
)

// ---------------------------------------------------------------------------
// Value: tagged union of immediates and heap references
// ---------------------------------------------------------------------------

// Tag identifies the variant held by a Value.
type Tag uint8

const (
	TagUnit Tag = iota
	TagBool
	TagInt
	TagFloat
	TagChar
	TagRef
)

// Value is a script value. Immediates are stored inline; everything else
// is a reference-counted heap Object.
//
// Ownership: a Value obtained from a constructor or returned by the VM
// owns one reference. Copying a Value does not retain it; call Retain
// for every additional owner and Release when an owner is done.
type Value struct {
	tag Tag
	n   uint64
	obj Object
}

// UnitValue is the unit value ().
var UnitValue = Value{tag: TagUnit}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{tag: TagBool, n: 1}
	}
	return Value{tag: TagBool}
}

// Int returns an integer value.
func Int(i int64) Value {
	return Value{tag: TagInt, n: uint64(i)}
}

// Float returns a float value.
func Float(f float64) Value {
	return Value{tag: TagFloat, n: math.Float64bits(f)}
}

// Char returns a character value.
func Char(r rune) Value {
	return Value{tag: TagChar, n: uint64(r)}
}

// FromObject wraps a heap object. The returned value takes over the
// caller's reference.
func FromObject(o Object) Value {
	if o == nil {
		return UnitValue
	}
	return Value{tag: TagRef, obj: o}
}

// Tag returns the variant tag.
func (v Value) Tag() Tag { return v.tag }

// IsUnit reports whether v is ().
func (v Value) IsUnit() bool { return v.tag == TagUnit }

// IsBool reports whether v is a boolean.
func (v Value) IsBool() bool { return v.tag == TagBool }

// IsInt reports whether v is an integer.
func (v Value) IsInt() bool { return v.tag == TagInt }

// IsFloat reports whether v is a float.
func (v Value) IsFloat() bool { return v.tag == TagFloat }

// IsChar reports whether v is a character.
func (v Value) IsChar() bool { return v.tag == TagChar }

// IsRef reports whether v references a heap object.
func (v Value) IsRef() bool { return v.tag == TagRef }

// AsBool returns the boolean payload.
func (v Value) AsBool() bool { return v.n != 0 }

// AsInt returns the integer payload.
func (v Value) AsInt() int64 { return int64(v.n) }

// AsFloat returns the float payload.
func (v Value) AsFloat() float64 { return math.Float64frombits(v.n) }

// AsChar returns the character payload.
func (v Value) AsChar() rune { return rune(v.n) }

// Object returns the referenced heap object, or nil for immediates.
func (v Value) Object() Object { return v.obj }

// TypeName returns the script-visible type name.
func (v Value) TypeName() string {
	switch v.tag {
	case TagUnit:
		return "unit"
	case TagBool:
		return "bool"
	case TagInt:
		return "int"
	case TagFloat:
		return "float"
	case TagChar:
		return "char"
	default:
		return v.obj.TypeName()
	}
}

// Retain adds an owner to a heap value and returns v for chaining.
func (v Value) Retain() Value {
	if v.tag == TagRef {
		v.obj.header().count++
	}
	return v
}

// Release drops one owner. When the last owner releases, children are
// released and host objects implementing Dropper are notified.
func (v Value) Release() {
	if v.tag != TagRef {
		return
	}
	h := v.obj.header()
	h.count--
	if h.count == 0 {
		v.obj.free()
	}
}

// RefCount returns the current reference count, or 0 for immediates.
func (v Value) RefCount() int {
	if v.tag != TagRef {
		return 0
	}
	return int(v.obj.header().count)
}

// ---------------------------------------------------------------------------
// Accessors for common heap kinds
// ---------------------------------------------------------------------------

// AsString returns the string payload if v is a String.
func (v Value) AsString() (string, bool) {
	if s, ok := v.obj.(*String); ok {
		return s.s, true
	}
	return "", false
}

// AsVec returns the vector if v is a Vec.
func (v Value) AsVec() (*Vec, bool) {
	vec, ok := v.obj.(*Vec)
	return vec, ok
}

// AsTuple returns the tuple if v is a Tuple.
func (v Value) AsTuple() (*Tuple, bool) {
	t, ok := v.obj.(*Tuple)
	return t, ok
}

// AsMap returns the object if v is an Object.
func (v Value) AsMap() (*Map, bool) {
	m, ok := v.obj.(*Map)
	return m, ok
}

// AsStruct returns the struct if v is a struct, tuple struct or variant.
func (v Value) AsStruct() (*Struct, bool) {
	s, ok := v.obj.(*Struct)
	return s, ok
}

// AsExternal returns the host payload if v is an External.
func (v Value) AsExternal() (any, bool) {
	if e, ok := v.obj.(*External); ok {
		return e.v, true
	}
	return nil, false
}
