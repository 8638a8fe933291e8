package vm

import (
	"math"
	"reflect"
	"testing"
)

func TestImmediateValues(t *testing.T) {
	tests := []struct {
		v        Value
		tag      Tag
		typeName string
	}{
		{UnitValue, TagUnit, "unit"},
		{Bool(true), TagBool, "bool"},
		{Int(-7), TagInt, "int"},
		{Float(2.5), TagFloat, "float"},
		{Char('λ'), TagChar, "char"},
	}

	for _, tt := range tests {
		if tt.v.Tag() != tt.tag {
			t.Errorf("%s: tag = %v, want %v", Debug(tt.v), tt.v.Tag(), tt.tag)
		}
		if got := tt.v.TypeName(); got != tt.typeName {
			t.Errorf("%s: TypeName() = %q, want %q", Debug(tt.v), got, tt.typeName)
		}
		if tt.v.RefCount() != 0 {
			t.Errorf("%s: immediates are not counted", Debug(tt.v))
		}
	}
}

func TestImmediateRoundTrip(t *testing.T) {
	if Int(math.MinInt64).AsInt() != math.MinInt64 {
		t.Error("MinInt64 did not round trip")
	}
	if Float(-0.5).AsFloat() != -0.5 {
		t.Error("float did not round trip")
	}
	if !math.IsNaN(Float(math.NaN()).AsFloat()) {
		t.Error("NaN did not round trip")
	}
	if Char('😀').AsChar() != '😀' {
		t.Error("char did not round trip")
	}
	if Bool(false).AsBool() || !Bool(true).AsBool() {
		t.Error("bools did not round trip")
	}
}

func TestHeapTypeNames(t *testing.T) {
	_, obj := NewMap()
	tests := []struct {
		v    Value
		want string
	}{
		{NewString("s"), "String"},
		{NewVec(nil), "Vec"},
		{NewTuple([]Value{Int(1)}), "Tuple"},
		{NewTuple(nil), "unit"},
		{obj, "Object"},
		{NewRange(0, 3, false), "Range"},
		{Some(Int(1)), "Option"},
		{Err(UnitValue), "Result"},
		{NewExternal("Socket", 42), "Socket"},
	}

	for _, tt := range tests {
		if got := tt.v.TypeName(); got != tt.want {
			t.Errorf("%s: TypeName() = %q, want %q", Debug(tt.v), got, tt.want)
		}
		tt.v.Release()
	}
}

// dropCounter records host payload releases.
type dropCounter struct{ n *int }

func (d dropCounter) Drop() { *d.n++ }

func TestRefCounting(t *testing.T) {
	drops := 0
	ext := NewExternal("Handle", dropCounter{&drops})
	if ext.RefCount() != 1 {
		t.Fatalf("new value count = %d, want 1", ext.RefCount())
	}

	vec := NewVec([]Value{ext.Retain()})
	if ext.RefCount() != 2 {
		t.Fatalf("count after retain = %d, want 2", ext.RefCount())
	}

	ext.Release()
	if drops != 0 {
		t.Fatal("payload dropped while the vector still holds it")
	}

	vec.Release()
	if drops != 1 {
		t.Errorf("payload dropped %d times after last release, want 1", drops)
	}
}

func TestNestedRelease(t *testing.T) {
	drops := 0
	inner := NewExternal("Handle", dropCounter{&drops})
	tuple := NewTuple([]Value{Int(1), NewVec([]Value{inner})})
	m, obj := NewMap()
	m.Set("t", tuple)
	cell := NewCell(obj)

	cell.Release()
	if drops != 1 {
		t.Errorf("releasing the outer cell dropped %d payloads, want 1", drops)
	}
}

func TestMapKeepsInsertionOrder(t *testing.T) {
	m, obj := NewMap()
	defer obj.Release()
	m.Set("b", Int(1))
	m.Set("a", Int(2))
	m.Set("b", Int(3))
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Errorf("keys = %v, want [b a]", got)
	}
	if v, ok := m.Get("b"); !ok || v.AsInt() != 3 {
		t.Errorf("b = %v, want 3", Debug(v))
	}
	if _, ok := m.Get("c"); ok {
		t.Error("c should be absent")
	}
}

func TestFormat(t *testing.T) {
	m, obj := NewMap()
	m.Set("k", NewString("v"))
	tests := []struct {
		v       Value
		display string
		debug   string
	}{
		{UnitValue, "()", "()"},
		{Int(-3), "-3", "-3"},
		{Float(2), "2.0", "2.0"},
		{Float(1e21), "1e+21", "1e+21"},
		{Float(math.Inf(1)), "+Inf", "+Inf"},
		{Char('x'), "x", "'x'"},
		{NewString("hi"), "hi", `"hi"`},
		{NewVec([]Value{Int(1), NewString("a")}), `[1, "a"]`, `[1, "a"]`},
		{NewTuple([]Value{Int(1)}), "(1,)", "(1,)"},
		{NewTuple(nil), "()", "()"},
		{obj, `#{k: "v"}`, `#{k: "v"}`},
		{Some(NewString("x")), `Some("x")`, `Some("x")`},
		{None(), "None", "None"},
		{NewRange(1, 4, true), "1..=4", "1..=4"},
	}

	for _, tt := range tests {
		if got := Display(tt.v); got != tt.display {
			t.Errorf("Display = %q, want %q", got, tt.display)
		}
		if got := Debug(tt.v); got != tt.debug {
			t.Errorf("Debug = %q, want %q", got, tt.debug)
		}
		tt.v.Release()
	}
}

func TestToGoAndFromGo(t *testing.T) {
	in := map[string]any{
		"n":    int64(3),
		"f":    1.5,
		"s":    "text",
		"ok":   true,
		"none": nil,
		"list": []any{int64(1), "two"},
	}
	v, err := FromGo(in)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()
	if got := ToGo(v); !reflect.DeepEqual(got, in) {
		t.Errorf("ToGo(FromGo(x)) = %#v, want %#v", got, in)
	}

	if _, err := FromGo(struct{}{}); err == nil {
		t.Error("FromGo(struct{}{}) should fail")
	}
}

func TestToGoStruct(t *testing.T) {
	v := Ok(Int(5))
	defer v.Release()
	want := map[string]any{"$type": NameOk, "0": int64(5)}
	if got := ToGo(v); !reflect.DeepEqual(got, want) {
		t.Errorf("ToGo = %#v, want %#v", got, want)
	}
}
