package vm

import (
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

var opSymbols = map[Opcode]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%",
	OpBitAnd: "&", OpBitOr: "|", OpBitXor: "^", OpShl: "<<", OpShr: ">>",
	OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=", OpEq: "==", OpNe: "!=",
	OpNeg: "-", OpNot: "!",
}

// Apply evaluates a unary, arithmetic, bitwise or comparison opcode on
// borrowed operands and returns an owned result. The compiler folds
// constants with it so folding matches the interpreter exactly.
func Apply(op Opcode, operands ...Value) (Value, error) {
	var v Value
	var err *VmError
	switch {
	case len(operands) == 1 && (op == OpNeg || op == OpNot):
		v, err = unaryOp(op, operands[0])
	case len(operands) == 2 && op >= OpAdd && op <= OpShr && op != OpNeg && op != OpNot:
		v, err = binaryOp(op, operands[0], operands[1])
	case len(operands) == 2 && op >= OpEq && op <= OpGe:
		v, err = compareOp(op, operands[0], operands[1])
	default:
		return UnitValue, fmt.Errorf("%w: %s is not an operator", ErrInvalidOperand, op)
	}
	if err != nil {
		return UnitValue, err
	}
	return v, nil
}

func unsupported(op Opcode, a, b Value) *VmError {
	return newError(KindTypeMismatch, "unsupported operand types for %s: %s and %s", opSymbols[op], a.TypeName(), b.TypeName())
}

// binaryOp applies an arithmetic or bitwise operator. Operands are
// borrowed; the result is owned.
func binaryOp(op Opcode, a, b Value) (Value, *VmError) {
	switch {
	case a.tag == TagInt && b.tag == TagInt:
		return intOp(op, a.AsInt(), b.AsInt())
	case a.tag == TagFloat && b.tag == TagFloat:
		return floatOp(op, a.AsFloat(), b.AsFloat(), a, b)
	case a.tag == TagBool && b.tag == TagBool:
		x, y := a.AsBool(), b.AsBool()
		switch op {
		case OpBitAnd:
			return Bool(x && y), nil
		case OpBitOr:
			return Bool(x || y), nil
		case OpBitXor:
			return Bool(x != y), nil
		}
	case op == OpAdd:
		if x, ok := a.AsString(); ok {
			if y, ok := b.AsString(); ok {
				return NewString(x + y), nil
			}
		}
	}
	return UnitValue, unsupported(op, a, b)
}

func intOp(op Opcode, x, y int64) (Value, *VmError) {
	switch op {
	case OpAdd:
		r := x + y
		if (r > x) != (y > 0) {
			return UnitValue, newError(KindOverflow, "%d + %d overflows", x, y)
		}
		return Int(r), nil
	case OpSub:
		r := x - y
		if (r < x) != (y > 0) {
			return UnitValue, newError(KindOverflow, "%d - %d overflows", x, y)
		}
		return Int(r), nil
	case OpMul:
		if x == 0 || y == 0 {
			return Int(0), nil
		}
		r := x * y
		if r/y != x || (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
			return UnitValue, newError(KindOverflow, "%d * %d overflows", x, y)
		}
		return Int(r), nil
	case OpDiv, OpRem:
		if y == 0 {
			return UnitValue, newError(KindDivideByZero, "%d %s 0", x, opSymbols[op])
		}
		if x == math.MinInt64 && y == -1 {
			return UnitValue, newError(KindOverflow, "%d %s -1 overflows", x, opSymbols[op])
		}
		if op == OpDiv {
			return Int(x / y), nil
		}
		return Int(x % y), nil
	case OpBitAnd:
		return Int(x & y), nil
	case OpBitOr:
		return Int(x | y), nil
	case OpBitXor:
		return Int(x ^ y), nil
	case OpShl, OpShr:
		if y < 0 || y >= 64 {
			return UnitValue, newError(KindOverflow, "shift by %d out of range", y)
		}
		if op == OpShl {
			return Int(x << uint(y)), nil
		}
		return Int(x >> uint(y)), nil
	}
	return UnitValue, unsupported(op, Int(x), Int(y))
}

func floatOp(op Opcode, x, y float64, a, b Value) (Value, *VmError) {
	switch op {
	case OpAdd:
		return Float(x + y), nil
	case OpSub:
		return Float(x - y), nil
	case OpMul:
		return Float(x * y), nil
	case OpDiv:
		return Float(x / y), nil
	case OpRem:
		return Float(math.Mod(x, y)), nil
	}
	return UnitValue, unsupported(op, a, b)
}

// unaryOp applies - or !.
func unaryOp(op Opcode, v Value) (Value, *VmError) {
	switch {
	case op == OpNeg && v.tag == TagInt:
		if v.AsInt() == math.MinInt64 {
			return UnitValue, newError(KindOverflow, "-(%d) overflows", v.AsInt())
		}
		return Int(-v.AsInt()), nil
	case op == OpNeg && v.tag == TagFloat:
		return Float(-v.AsFloat()), nil
	case op == OpNot && v.tag == TagBool:
		return Bool(!v.AsBool()), nil
	case op == OpNot && v.tag == TagInt:
		return Int(^v.AsInt()), nil
	}
	return UnitValue, newError(KindTypeMismatch, "unsupported operand type for unary %s: %s", opSymbols[op], v.TypeName())
}

// compareOp applies an ordering or equality operator.
func compareOp(op Opcode, a, b Value) (Value, *VmError) {
	switch op {
	case OpEq:
		return Bool(Equal(a, b)), nil
	case OpNe:
		return Bool(!Equal(a, b)), nil
	}
	c, ok := Compare(a, b)
	if !ok {
		return UnitValue, unsupported(op, a, b)
	}
	if a.tag == TagFloat && (math.IsNaN(a.AsFloat()) || math.IsNaN(b.AsFloat())) {
		return Bool(false), nil
	}
	switch op {
	case OpLt:
		return Bool(c < 0), nil
	case OpLe:
		return Bool(c <= 0), nil
	case OpGt:
		return Bool(c > 0), nil
	default:
		return Bool(c >= 0), nil
	}
}

// Compare orders two values of the same orderable type. Ordering
// operators treat NaN as unordered.
func Compare(a, b Value) (int, bool) {
	switch {
	case a.tag == TagInt && b.tag == TagInt:
		x, y := a.AsInt(), b.AsInt()
		return cmp3(x < y, x > y), true
	case a.tag == TagFloat && b.tag == TagFloat:
		x, y := a.AsFloat(), b.AsFloat()
		return cmp3(x < y, x > y), true
	case a.tag == TagChar && b.tag == TagChar:
		return cmp3(a.AsChar() < b.AsChar(), a.AsChar() > b.AsChar()), true
	}
	if x, ok := a.AsString(); ok {
		if y, ok := b.AsString(); ok {
			return strings.Compare(x, y), true
		}
	}
	return 0, false
}

func cmp3(lt, gt bool) int {
	switch {
	case lt:
		return -1
	case gt:
		return 1
	}
	return 0
}

// Equal reports structural equality. Values of different types are
// never equal; functions, futures and host values compare by identity.
func Equal(a, b Value) bool {
	if a.tag != b.tag {
		return false
	}
	switch a.tag {
	case TagUnit:
		return true
	case TagFloat:
		return a.AsFloat() == b.AsFloat()
	case TagBool, TagInt, TagChar:
		return a.n == b.n
	}
	if a.obj == b.obj {
		return true
	}
	switch x := a.obj.(type) {
	case *String:
		y, ok := b.obj.(*String)
		return ok && x.s == y.s
	case *Vec:
		y, ok := b.obj.(*Vec)
		return ok && equalSeq(x.Items, y.Items)
	case *Tuple:
		y, ok := b.obj.(*Tuple)
		return ok && equalSeq(x.Items, y.Items)
	case *Struct:
		y, ok := b.obj.(*Struct)
		return ok && x.Type == y.Type && equalSeq(x.Fields, y.Fields)
	case *Range:
		y, ok := b.obj.(*Range)
		return ok && x.Start == y.Start && x.End == y.End && x.Inclusive == y.Inclusive
	case *Map:
		y, ok := b.obj.(*Map)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			w, ok := y.Get(k)
			if !ok || !Equal(x.vals[i], w) {
				return false
			}
		}
		return true
	case *Cell:
		y, ok := b.obj.(*Cell)
		return ok && Equal(x.V, y.V)
	}
	return false
}

func equalSeq(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Access
// ---------------------------------------------------------------------------

func elementIndex(i Value, n int) (int, *VmError) {
	if i.tag != TagInt {
		return 0, newError(KindTypeMismatch, "index must be int, got %s", i.TypeName())
	}
	idx := i.AsInt()
	if idx < 0 || idx >= int64(n) {
		return 0, newError(KindIndexOutOfBounds, "index %d out of bounds for length %d", idx, n)
	}
	return int(idx), nil
}

// indexGet returns an owned copy of target[index].
func indexGet(target, index Value) (Value, *VmError) {
	switch t := target.obj.(type) {
	case *Vec:
		i, err := elementIndex(index, len(t.Items))
		if err != nil {
			return UnitValue, err
		}
		return t.Items[i].Retain(), nil
	case *Tuple:
		i, err := elementIndex(index, len(t.Items))
		if err != nil {
			return UnitValue, err
		}
		return t.Items[i].Retain(), nil
	case *Map:
		key, ok := index.AsString()
		if !ok {
			return UnitValue, newError(KindTypeMismatch, "object key must be String, got %s", index.TypeName())
		}
		v, ok := t.Get(key)
		if !ok {
			return UnitValue, newError(KindMissingField, "object has no key %q", key)
		}
		return v.Retain(), nil
	}
	return UnitValue, newError(KindTypeMismatch, "%s cannot be indexed", target.TypeName())
}

// indexSet stores an owned value into target[index].
func indexSet(target, index, v Value) *VmError {
	switch t := target.obj.(type) {
	case *Vec:
		i, err := elementIndex(index, len(t.Items))
		if err != nil {
			return err
		}
		t.Items[i].Release()
		t.Items[i] = v
		return nil
	case *Map:
		key, ok := index.AsString()
		if !ok {
			return newError(KindTypeMismatch, "object key must be String, got %s", index.TypeName())
		}
		t.Set(key, v)
		return nil
	}
	return newError(KindTypeMismatch, "%s does not support index assignment", target.TypeName())
}

// fieldGet returns an owned copy of target.name.
func fieldGet(target Value, name string) (Value, *VmError) {
	switch t := target.obj.(type) {
	case *Map:
		if v, ok := t.Get(name); ok {
			return v.Retain(), nil
		}
		return UnitValue, newError(KindMissingField, "object has no field %s", name)
	case *Struct:
		if v, ok := t.Field(name); ok {
			return v.Retain(), nil
		}
		return UnitValue, newError(KindMissingField, "%s has no field %s", t.Type.Def.Name, name)
	}
	return UnitValue, newError(KindMissingField, "%s has no field %s", target.TypeName(), name)
}

// fieldSet stores an owned value into target.name.
func fieldSet(target Value, name string, v Value) *VmError {
	switch t := target.obj.(type) {
	case *Map:
		t.Set(name, v)
		return nil
	case *Struct:
		for i, f := range t.Type.Def.Fields {
			if f == name {
				t.Fields[i].Release()
				t.Fields[i] = v
				return nil
			}
		}
		return newError(KindMissingField, "%s has no field %s", t.Type.Def.Name, name)
	}
	return newError(KindMissingField, "%s has no field %s", target.TypeName(), name)
}

func tupleItems(target Value) ([]Value, bool) {
	switch t := target.obj.(type) {
	case *Tuple:
		return t.Items, true
	case *Struct:
		if !t.Type.Def.Kind.HasNamedFields() {
			return t.Fields, true
		}
	}
	return nil, false
}

// tupleIndexGet returns an owned copy of target.i.
func tupleIndexGet(target Value, i int) (Value, *VmError) {
	items, ok := tupleItems(target)
	if !ok {
		return UnitValue, newError(KindTypeMismatch, "%s has no tuple field %d", target.TypeName(), i)
	}
	if i >= len(items) {
		return UnitValue, newError(KindIndexOutOfBounds, "tuple field %d out of bounds for length %d", i, len(items))
	}
	return items[i].Retain(), nil
}

func tupleIndexSet(target Value, i int, v Value) *VmError {
	items, ok := tupleItems(target)
	if !ok {
		return newError(KindTypeMismatch, "%s has no tuple field %d", target.TypeName(), i)
	}
	if i >= len(items) {
		return newError(KindIndexOutOfBounds, "tuple field %d out of bounds for length %d", i, len(items))
	}
	items[i].Release()
	items[i] = v
	return nil
}

// ---------------------------------------------------------------------------
// Iteration
// ---------------------------------------------------------------------------

// newIterator creates an owned iterator over a borrowed iterable.
func newIterator(src Value) (Value, *VmError) {
	it := &Iterator{refHeader: refHeader{1}}
	switch o := src.obj.(type) {
	case *Range:
		it.cur = o.Start
	case *Vec, *Tuple, *Map:
	case *String:
		it.runes = []rune(o.s)
	case *Iterator:
		return src.Retain(), nil
	default:
		return UnitValue, newError(KindTypeMismatch, "%s is not iterable", src.TypeName())
	}
	it.src = src.Retain()
	return FromObject(it), nil
}

// next returns the next owned item.
func (it *Iterator) next() (Value, bool) {
	switch o := it.src.obj.(type) {
	case *Range:
		if it.pos < 0 || !o.Contains(it.cur) {
			return UnitValue, false
		}
		v := Int(it.cur)
		if it.cur == math.MaxInt64 {
			it.pos = -1
		} else {
			it.cur++
		}
		return v, true
	case *Vec:
		if it.pos >= len(o.Items) {
			return UnitValue, false
		}
		it.pos++
		return o.Items[it.pos-1].Retain(), true
	case *Tuple:
		if it.pos >= len(o.Items) {
			return UnitValue, false
		}
		it.pos++
		return o.Items[it.pos-1].Retain(), true
	case *String:
		if it.pos >= len(it.runes) {
			return UnitValue, false
		}
		it.pos++
		return Char(it.runes[it.pos-1]), true
	case *Map:
		if it.pos >= len(o.keys) {
			return UnitValue, false
		}
		k := o.keys[it.pos]
		v := o.vals[it.pos].Retain()
		it.pos++
		return NewTuple([]Value{NewString(k), v}), true
	}
	return UnitValue, false
}
