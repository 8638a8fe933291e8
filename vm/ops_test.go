package vm

import (
	"errors"
	"math"
	"testing"
)

func TestApply(t *testing.T) {
	tests := []struct {
		op   Opcode
		args []Value
		want string
	}{
		{OpAdd, []Value{Int(2), Int(3)}, "5"},
		{OpSub, []Value{Int(2), Int(3)}, "-1"},
		{OpMul, []Value{Int(-4), Int(3)}, "-12"},
		{OpDiv, []Value{Int(-7), Int(2)}, "-3"},
		{OpRem, []Value{Int(-7), Int(2)}, "-1"},
		{OpShl, []Value{Int(1), Int(62)}, "4611686018427387904"},
		{OpShr, []Value{Int(-8), Int(1)}, "-4"},
		{OpBitXor, []Value{Int(6), Int(3)}, "5"},
		{OpBitAnd, []Value{Bool(true), Bool(false)}, "false"},
		{OpBitOr, []Value{Bool(true), Bool(false)}, "true"},
		{OpAdd, []Value{Float(0.5), Float(0.25)}, "0.75"},
		{OpDiv, []Value{Float(1), Float(0)}, "+Inf"},
		{OpRem, []Value{Float(7.5), Float(2)}, "1.5"},
		{OpAdd, []Value{NewString("ab"), NewString("c")}, `"abc"`},
		{OpNeg, []Value{Int(5)}, "-5"},
		{OpNeg, []Value{Float(1.5)}, "-1.5"},
		{OpNot, []Value{Bool(false)}, "true"},
		{OpNot, []Value{Int(0)}, "-1"},
		{OpLt, []Value{Int(1), Int(2)}, "true"},
		{OpGe, []Value{Char('b'), Char('a')}, "true"},
		{OpLe, []Value{NewString("abc"), NewString("abd")}, "true"},
		{OpLt, []Value{Float(math.NaN()), Float(1)}, "false"},
		{OpGe, []Value{Float(math.NaN()), Float(1)}, "false"},
		{OpEq, []Value{Int(1), Float(1)}, "false"},
		{OpEq, []Value{NewVec([]Value{Int(1)}), NewVec([]Value{Int(1)})}, "true"},
		{OpNe, []Value{Some(Int(1)), None()}, "true"},
		{OpEq, []Value{NewString("x"), NewString("x")}, "true"},
	}

	for _, tt := range tests {
		got, err := Apply(tt.op, tt.args...)
		if err != nil {
			t.Errorf("Apply(%s, %v): %v", tt.op, tt.args, err)
			continue
		}
		if Debug(got) != tt.want {
			t.Errorf("Apply(%s): got %s, want %s", tt.op, Debug(got), tt.want)
		}
		got.Release()
		for _, a := range tt.args {
			a.Release()
		}
	}
}

func TestApplyFaults(t *testing.T) {
	tests := []struct {
		op   Opcode
		args []Value
		kind ErrorKind
	}{
		{OpAdd, []Value{Int(math.MaxInt64), Int(1)}, KindOverflow},
		{OpSub, []Value{Int(math.MinInt64), Int(1)}, KindOverflow},
		{OpMul, []Value{Int(math.MaxInt64), Int(2)}, KindOverflow},
		{OpMul, []Value{Int(math.MinInt64), Int(-1)}, KindOverflow},
		{OpDiv, []Value{Int(math.MinInt64), Int(-1)}, KindOverflow},
		{OpNeg, []Value{Int(math.MinInt64)}, KindOverflow},
		{OpShl, []Value{Int(1), Int(64)}, KindOverflow},
		{OpShr, []Value{Int(1), Int(-1)}, KindOverflow},
		{OpDiv, []Value{Int(1), Int(0)}, KindDivideByZero},
		{OpRem, []Value{Int(1), Int(0)}, KindDivideByZero},
		{OpAdd, []Value{Int(1), Float(1)}, KindTypeMismatch},
		{OpSub, []Value{NewString("a"), NewString("b")}, KindTypeMismatch},
		{OpShl, []Value{Float(1), Float(1)}, KindTypeMismatch},
		{OpNot, []Value{Float(1)}, KindTypeMismatch},
		{OpLt, []Value{Int(1), NewString("a")}, KindTypeMismatch},
		{OpLt, []Value{Bool(true), Bool(false)}, KindTypeMismatch},
	}

	for _, tt := range tests {
		_, err := Apply(tt.op, tt.args...)
		kind, ok := KindOf(err)
		if !ok || kind != tt.kind {
			t.Errorf("Apply(%s, %v): err %v, want %s", tt.op, tt.args, err, tt.kind)
		}
	}
}

func TestApplyRejectsNonOperators(t *testing.T) {
	_, err := Apply(OpReturn, Int(1))
	if !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("err = %v, want ErrInvalidOperand", err)
	}
	_, err = Apply(OpAdd, Int(1))
	if !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("unary add: err = %v, want ErrInvalidOperand", err)
	}
}

func TestAccessors(t *testing.T) {
	vec := NewVec([]Value{Int(10), Int(20)})
	defer vec.Release()

	v, err := indexGet(vec, Int(1))
	if err != nil || v.AsInt() != 20 {
		t.Errorf("vec[1] = %s, %v", Debug(v), err)
	}
	if _, err := indexGet(vec, Int(2)); err == nil || err.Kind != KindIndexOutOfBounds {
		t.Errorf("vec[2]: err = %v, want IndexOutOfBounds", err)
	}
	if _, err := indexGet(vec, Int(-1)); err == nil || err.Kind != KindIndexOutOfBounds {
		t.Errorf("vec[-1]: err = %v, want IndexOutOfBounds", err)
	}
	if _, err := indexGet(vec, NewString("x")); err == nil || err.Kind != KindTypeMismatch {
		t.Errorf("vec[\"x\"]: err = %v, want TypeMismatch", err)
	}
	if err := indexSet(vec, Int(0), Int(5)); err != nil {
		t.Fatal(err)
	}
	if Debug(vec) != "[5, 20]" {
		t.Errorf("after set: %s", Debug(vec))
	}

	tuple := NewTuple([]Value{Int(1), Int(2)})
	defer tuple.Release()
	if err := indexSet(tuple, Int(0), Int(9)); err == nil || err.Kind != KindTypeMismatch {
		t.Errorf("tuples do not support index assignment, err = %v", err)
	}
	if err := tupleIndexSet(tuple, 1, Int(7)); err != nil || Debug(tuple) != "(1, 7)" {
		t.Errorf("tuple.1 = 7: %s, %v", Debug(tuple), err)
	}
	if _, err := tupleIndexGet(tuple, 2); err == nil || err.Kind != KindIndexOutOfBounds {
		t.Errorf("tuple.2: err = %v, want IndexOutOfBounds", err)
	}

	m, obj := NewMap()
	defer obj.Release()
	if err := fieldSet(obj, "a", Int(1)); err != nil {
		t.Fatal(err)
	}
	if v, err := indexGet(obj, NewString("a")); err != nil || v.AsInt() != 1 {
		t.Errorf(`obj["a"] = %s, %v`, Debug(v), err)
	}
	if _, err := fieldGet(obj, "b"); err == nil || err.Kind != KindMissingField {
		t.Errorf("obj.b: err = %v, want MissingField", err)
	}
	if _, err := fieldGet(Int(1), "b"); err == nil || err.Kind != KindMissingField {
		t.Errorf("1.b: err = %v, want MissingField", err)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestIterators(t *testing.T) {
	_, obj := NewMap()
	obj.Object().(*Map).Set("k", Int(1))
	tests := []struct {
		src  Value
		want string
	}{
		{NewRange(0, 3, false), "0 1 2"},
		{NewRange(1, 3, true), "1 2 3"},
		{NewRange(3, 1, false), ""},
		{NewRange(math.MaxInt64-1, math.MaxInt64, true), "9223372036854775806 9223372036854775807"},
		{NewVec([]Value{Int(1), NewString("a")}), `1 "a"`},
		{NewTuple([]Value{Bool(true)}), "true"},
		{NewString("hé"), "'h' 'é'"},
		{obj, `("k", 1)`},
	}

	for _, tt := range tests {
		it, err := newIterator(tt.src)
		if err != nil {
			t.Fatalf("newIterator(%s): %v", Debug(tt.src), err)
		}
		got := ""
		for {
			v, ok := it.Object().(*Iterator).next()
			if !ok {
				break
			}
			if got != "" {
				got += " "
			}
			got += Debug(v)
			v.Release()
		}
		if got != tt.want {
			t.Errorf("iterating %s: got %q, want %q", Debug(tt.src), got, tt.want)
		}
		it.Release()
		tt.src.Release()
	}

	if _, err := newIterator(Int(3)); err == nil || err.Kind != KindTypeMismatch {
		t.Errorf("iterating an int: err = %v, want TypeMismatch", err)
	}
}
