package vm

import (
	"encoding/binary"
	"fmt"
	"runtime/debug"
	"strings"
)

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

func (f *frame) u8() int {
	v := f.fn.Code[f.ip]
	f.ip++
	return int(v)
}

func (f *frame) u16() int {
	v := binary.LittleEndian.Uint16(f.fn.Code[f.ip:])
	f.ip += 2
	return int(v)
}

func (f *frame) i16() int {
	return int(int16(f.u16()))
}

func (f *frame) constString(idx int) string {
	return f.mod.unit.Constants[idx].Str
}

func truth(v Value) (bool, *VmError) {
	if v.tag != TagBool {
		return false, newError(KindTypeMismatch, "expected bool condition, got %s", v.TypeName())
	}
	return v.AsBool(), nil
}

var faultMessages = map[ErrorKind]string{
	KindNoMatchingArm:   "no match arm matched the value",
	KindPatternMismatch: "value does not match the binding pattern",
}

// run executes until the entry frame returns, a native suspends or a
// fault occurs.
func (e *execution) run() (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("interpreter panic: %v\n%s", r, debug.Stack())
			out = e.fault(newError(KindInternal, "%v", r))
		}
	}()

	for {
		f := e.top()
		if f.ip >= len(f.fn.Code) {
			if e.doReturn(UnitValue) {
				return Outcome{Status: Completed, Value: e.pop()}
			}
			continue
		}
		f.at = f.ip
		op := Opcode(f.fn.Code[f.ip])
		f.ip++

		var err *VmError
		switch op {
		case OpNop:

		// Stack
		case OpPop:
			e.pop().Release()
		case OpPopN:
			e.truncate(len(e.stack) - f.u8())
		case OpDup:
			e.push(e.peek().Retain())

		// Push constants
		case OpPushUnit:
			e.push(UnitValue)
		case OpPushTrue:
			e.push(Bool(true))
		case OpPushFalse:
			e.push(Bool(false))
		case OpPushInt8:
			e.push(Int(int64(int8(f.u8()))))
		case OpPushConst:
			e.push(f.mod.constants[f.u16()].Retain())

		// Locals
		case OpLoadLocal:
			e.push(e.stack[f.bp+f.u16()].Retain())
		case OpStoreLocal:
			slot := f.bp + f.u16()
			v := e.pop()
			e.stack[slot].Release()
			e.stack[slot] = v
		case OpDropLocal:
			slot := f.bp + f.u16()
			e.stack[slot].Release()
			e.stack[slot] = UnitValue
		case OpNewCell:
			e.push(NewCell(e.pop()))
		case OpLoadLocalCell:
			e.push(e.stack[f.bp+f.u16()].obj.(*Cell).V.Retain())
		case OpStoreLocalCell:
			cell := e.stack[f.bp+f.u16()].obj.(*Cell)
			v := e.pop()
			cell.V.Release()
			cell.V = v
		case OpBoxLocal:
			slot := f.bp + f.u16()
			e.stack[slot] = NewCell(e.stack[slot])
		case OpLoadUpvalue:
			e.push(f.upvalues[f.u16()].Retain())
		case OpLoadUpvalueCell:
			e.push(f.upvalues[f.u16()].obj.(*Cell).V.Retain())
		case OpStoreUpvalueCell:
			cell := f.upvalues[f.u16()].obj.(*Cell)
			v := e.pop()
			cell.V.Release()
			cell.V = v

		// Functions
		case OpLoadFn:
			e.push(FromObject(&FunctionRef{refHeader{1}, f.mod, f.u16()}))
		case OpLoadImport:
			e.push(f.mod.imports[f.u16()].Retain())
		case OpClosure:
			idx, n := f.u16(), f.u8()
			e.push(FromObject(&Closure{refHeader{1}, f.mod, idx, e.take(n)}))

		case OpCall:
			var suspended bool
			suspended, err = e.callValue(f.u8())
			if err == nil && suspended {
				return e.suspend()
			}
		case OpCallFn:
			idx, argc := f.u16(), f.u8()
			if f.mod.unit.Functions[idx].IsAsync() {
				err = e.makeFuture(f.mod, idx, argc, false)
			} else {
				err = e.enterFunction(f.mod, idx, argc, false, nil)
			}
		case OpCallImport:
			var suspended bool
			suspended, err = e.callImport(f.mod.imports[f.u16()], f.u8())
			if err == nil && suspended {
				return e.suspend()
			}
		case OpCallInstance:
			name, argc := f.constString(f.u16()), f.u8()
			var suspended bool
			suspended, err = e.callInstance(name, argc)
			if err == nil && suspended {
				return e.suspend()
			}

		case OpReturn:
			if e.doReturn(e.pop()) {
				return Outcome{Status: Completed, Value: e.pop()}
			}
		case OpReturnUnit:
			if e.doReturn(UnitValue) {
				return Outcome{Status: Completed, Value: e.pop()}
			}

		// Control flow
		case OpJump:
			off := f.i16()
			f.ip += off
		case OpJumpIfFalse, OpJumpIfTrue:
			off := f.i16()
			v := e.pop()
			var b bool
			if b, err = truth(v); err != nil {
				v.Release()
			} else if b == (op == OpJumpIfTrue) {
				f.ip += off
			}
		case OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
			off := f.i16()
			var b bool
			if b, err = truth(e.peek()); err == nil {
				if b == (op == OpJumpIfTrueOrPop) {
					f.ip += off
				} else {
					e.pop()
				}
			}

		// Operators
		case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpBitAnd, OpBitOr, OpBitXor, OpShl, OpShr:
			b, a := e.pop(), e.pop()
			var r Value
			r, err = binaryOp(op, a, b)
			a.Release()
			b.Release()
			if err == nil {
				e.push(r)
			}
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			b, a := e.pop(), e.pop()
			var r Value
			r, err = compareOp(op, a, b)
			a.Release()
			b.Release()
			if err == nil {
				e.push(r)
			}
		case OpNeg, OpNot:
			a := e.pop()
			var r Value
			r, err = unaryOp(op, a)
			a.Release()
			if err == nil {
				e.push(r)
			}

		// Construction
		case OpVec:
			e.push(NewVec(e.take(f.u16())))
		case OpTuple:
			e.push(NewTuple(e.take(f.u16())))
		case OpObject:
			keys := f.mod.unit.Constants[f.u16()].Keys
			vals := e.take(len(keys))
			m, v := NewMap()
			for i, k := range keys {
				m.Set(k, vals[i])
			}
			e.push(v)
		case OpStruct:
			rt := f.mod.types[f.u16()]
			keys := f.mod.unit.Constants[f.u16()].Keys
			err = e.buildStruct(rt, keys)
		case OpTupleStruct:
			rt := f.mod.types[f.u16()]
			e.push(NewStruct(rt, e.take(rt.Def.Arity)))
		case OpRange:
			inclusive := f.u8() != 0
			end, start := e.pop(), e.pop()
			if start.tag != TagInt || end.tag != TagInt {
				err = newError(KindTypeMismatch, "range bounds must be int, got %s and %s", start.TypeName(), end.TypeName())
				start.Release()
				end.Release()
				break
			}
			e.push(NewRange(start.AsInt(), end.AsInt(), inclusive))
		case OpTemplate:
			parts := e.take(f.u16())
			var sb strings.Builder
			for _, p := range parts {
				sb.WriteString(Display(p))
			}
			releaseAll(parts)
			e.push(NewString(sb.String()))

		// Access
		case OpIndexGet:
			idx, target := e.pop(), e.pop()
			var r Value
			r, err = indexGet(target, idx)
			idx.Release()
			target.Release()
			if err == nil {
				e.push(r)
			}
		case OpIndexSet:
			v, idx, target := e.pop(), e.pop(), e.pop()
			if err = indexSet(target, idx, v); err != nil {
				v.Release()
			}
			idx.Release()
			target.Release()
		case OpFieldGet:
			name := f.constString(f.u16())
			target := e.pop()
			var r Value
			r, err = fieldGet(target, name)
			target.Release()
			if err == nil {
				e.push(r)
			}
		case OpFieldSet:
			name := f.constString(f.u16())
			v, target := e.pop(), e.pop()
			if err = fieldSet(target, name, v); err != nil {
				v.Release()
			}
			target.Release()
		case OpTupleIndexGet:
			i := f.u16()
			target := e.pop()
			var r Value
			r, err = tupleIndexGet(target, i)
			target.Release()
			if err == nil {
				e.push(r)
			}
		case OpTupleIndexSet:
			i := f.u16()
			v, target := e.pop(), e.pop()
			if err = tupleIndexSet(target, i, v); err != nil {
				v.Release()
			}
			target.Release()

		// Iteration
		case OpIter:
			src := e.pop()
			var it Value
			it, err = newIterator(src)
			src.Release()
			if err == nil {
				e.push(it)
			}
		case OpIterNext:
			slot, off := f.u16(), f.i16()
			it, ok := e.stack[f.bp+slot].obj.(*Iterator)
			if !ok {
				err = newError(KindInternal, "slot %d does not hold an iterator", slot)
				break
			}
			if v, ok := it.next(); ok {
				e.push(v)
			} else {
				f.ip += off
			}

		// Errors, futures and patterns
		case OpTry:
			v := e.pop()
			switch variantName(v) {
			case NameOk, NameSome:
				s, _ := v.AsStruct()
				inner := s.Fields[0].Retain()
				v.Release()
				e.push(inner)
			case NameErr, NameNone:
				if e.doReturn(v) {
					return Outcome{Status: Completed, Value: e.pop()}
				}
			default:
				err = newError(KindTypeMismatch, "`?` expects Option or Result, got %s", v.TypeName())
				v.Release()
			}
		case OpAwait:
			err = e.await(e.pop())
		case OpIsType:
			rt := f.mod.types[f.u16()]
			v := e.pop()
			s, ok := v.AsStruct()
			e.push(Bool(ok && s.Type == rt))
			v.Release()
		case OpIsTuple:
			n := f.u16()
			v := e.pop()
			t, ok := v.AsTuple()
			e.push(Bool((ok && len(t.Items) == n) || (n == 0 && v.IsUnit())))
			v.Release()
		case OpIsVec:
			n := f.u16()
			v := e.pop()
			vec, ok := v.AsVec()
			e.push(Bool(ok && len(vec.Items) == n))
			v.Release()
		case OpFault:
			kind := ErrorKind(f.u8())
			err = newError(kind, "%s", faultMessages[kind])

		default:
			err = newError(KindInternal, "unknown opcode 0x%02x", byte(op))
		}

		if err != nil {
			return e.fault(err)
		}
	}
}

// callImport calls a linked import with argc arguments on the stack.
func (e *execution) callImport(callee Value, argc int) (bool, *VmError) {
	switch c := callee.obj.(type) {
	case *NativeRef:
		if err := checkNativeArity(c.Native, argc); err != nil {
			return false, err
		}
		return e.invokeNative(c.Native, argc, false)
	case *FunctionRef:
		if c.Function().IsAsync() {
			return false, e.makeFuture(c.Module, c.Index, argc, false)
		}
		return false, e.enterFunction(c.Module, c.Index, argc, false, nil)
	}
	return false, newError(KindNotCallable, "%s is not callable", callee.TypeName())
}

// callInstance dispatches receiver.name(args...). Functions declared in
// an impl block take precedence over host instance functions.
func (e *execution) callInstance(name string, argc int) (bool, *VmError) {
	recv := e.stack[len(e.stack)-argc-1]
	if s, ok := recv.AsStruct(); ok && s.Type.Module != nil {
		if idx, ok := s.Type.methods[name]; ok {
			m := s.Type.Module
			if m.unit.Functions[idx].IsAsync() {
				return false, e.makeFuture(m, idx, argc+1, false)
			}
			return false, e.enterFunction(m, idx, argc+1, false, nil)
		}
	}
	if n, ok := e.session.natives.LookupInstance(recv.TypeName(), name); ok {
		if err := checkNativeArity(n, argc); err != nil {
			return false, err
		}
		return e.invokeNative(n, argc+1, false)
	}
	return false, newError(KindMissingInstanceFunction, "no instance function %s for type %s", name, recv.TypeName())
}

func (e *execution) buildStruct(rt *RuntimeType, keys []string) *VmError {
	vals := e.take(len(keys))
	fields := make([]Value, len(rt.Def.Fields))
	for i, k := range keys {
		j := -1
		for fi, name := range rt.Def.Fields {
			if name == k {
				j = fi
				break
			}
		}
		if j < 0 {
			releaseAll(vals)
			releaseAll(fields)
			return newError(KindMissingField, "%s has no field %s", rt.Def.Name, k)
		}
		fields[j].Release()
		fields[j] = vals[i]
		vals[i] = UnitValue
	}
	e.push(NewStruct(rt, fields))
	return nil
}

// await runs an owned future on the current frame stack.
func (e *execution) await(v Value) *VmError {
	fut, ok := v.obj.(*Future)
	if !ok {
		defer v.Release()
		return newError(KindTypeMismatch, "cannot await %s", v.TypeName())
	}
	if fut.state != futurePending {
		v.Release()
		return newError(KindFutureCompleted, "future %s was already awaited", fut.Module.unit.Functions[fut.Index].Name)
	}
	fut.state = futureDone
	args := fut.Args
	fut.Args = nil
	for _, a := range args {
		e.push(a)
	}
	m, idx := fut.Module, fut.Index
	v.Release()
	return e.enterFunction(m, idx, len(args), false, nil)
}

// String renders the execution state, for debugging.
func (e *execution) String() string {
	var sb strings.Builder
	for i := len(e.frames) - 1; i >= 0; i-- {
		f := e.frames[i]
		fmt.Fprintf(&sb, "  %s::%s @%04d bp=%d\n", f.mod.Name(), f.fn.Name, f.at, f.bp)
	}
	return sb.String()
}
