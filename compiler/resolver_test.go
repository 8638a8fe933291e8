package compiler

import (
	"testing"
)

func resolveSource(t *testing.T, src string, env *Names) (*File, *Resolution, Diagnostics) {
	t.Helper()
	file, diags := Parse(src)
	if len(diags) != 0 {
		t.Fatalf("parse %q: %v", src, diags)
	}
	res, rdiags := Resolve(file, "test", env)
	return file, res, rdiags
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code Code
	}{
		{"undefined variable", "fn f() { y }", CodeUndefinedName},
		{"undefined function", "fn f() { g(1) }", CodeUndefinedName},
		{"out of scope", "fn f() { { let x = 1; } x }", CodeUndefinedName},
		{"duplicate fn", "fn f() {} fn f() {}", CodeDuplicateBinding},
		{"duplicate param", "fn f(a, a) {}", CodeDuplicateBinding},
		{"duplicate in pattern", "fn f() { let (a, a) = (1, 2); }", CodeDuplicateBinding},
		{"duplicate field", "struct P { x, x }", CodeDuplicateBinding},
		{"arity", "fn add(a, b) { a + b } fn f() { add(1) }", CodeArityMismatch},
		{"tuple struct arity", "struct P(a, b); fn f() { P(1) }", CodeArityMismatch},
		{"pattern arity", "fn f(v) { match v { Some(a, b) => a, _ => 0 } }", CodeArityMismatch},
		{"unknown field", "struct P { x } fn f() { P { x: 1, y: 2 } }", CodeUnknownField},
		{"missing field", "struct P { x, y } fn f() { P { x: 1 } }", CodeMissingField},
		{"break outside loop", "fn f() { break }", CodeInvalidBreak},
		{"continue outside loop", "fn f() { continue }", CodeInvalidBreak},
		{"break value in while", "fn f() { while true { break 1 } }", CodeInvalidBreak},
		{"break in closure", "fn f() { loop { let g = || break; } }", CodeInvalidBreak},
		{"const cycle", "const A = B + 1; const B = A;", CodeConstCycle},
		{"non-constant", "fn g() { 1 } const A = g();", CodeNotConstant},
		{"call named struct", "struct P { x } fn f() { P(1) }", CodeNotCallable},
		{"call const", "const A = 1; fn f() { A() }", CodeNotCallable},
		{"self outside impl", "fn f() { self }", CodeInvalidSelf},
		{"self param outside impl", "fn f(self) {}", CodeInvalidSelf},
		{"assign to fn", "fn g() {} fn f() { g = 1; }", CodeInvalidAssignTarget},
		{"impl unknown type", "impl Nope { fn f() {} }", CodeUndefinedName},
		{"unit struct with fields", "struct U; fn f(v) { match v { U(x) => x, _ => 0 } }", CodeInvalidPattern},
	}

	for _, tt := range tests {
		_, _, diags := resolveSource(t, tt.src, nil)
		if len(diags) == 0 {
			t.Errorf("%s: no diagnostics", tt.name)
			continue
		}
		if diags[0].Code != tt.code {
			t.Errorf("%s: got %s (%s), want %s", tt.name, diags[0].Code, diags[0].Message, tt.code)
		}
	}
}

func TestResolveValidPrograms(t *testing.T) {
	tests := []string{
		"fn f(x) { let x = x + 1; x }",
		"fn f() { let g = |a| a * 2; g(3) }",
		"fn f() { loop { break 1 } }",
		"fn f(v) { for x in v { if x > 2 { break; } } }",
		"struct P { x, y } fn f() { let p = P { y: 1, x: 2 }; p.x }",
		"enum E { A, B(v), C { w } } fn f(e) { match e { E::A => 0, E::B(v) => v, E::C { w } => w } }",
		"struct P { x } impl P { fn get(self) { self.x } fn new(x) { P { x } } } fn f() { P::new(1).get() }",
		"const A = 2; const B = A * 3; fn f() { B }",
		"fn f(o) { if let Some(x) = o { x } else { 0 } }",
		"fn f() { let (a, [b, _]) = (1, [2, 3]); a + b }",
		"fn f(r) { let v = r?; Ok(v) }",
		"fn even(n) { if n == 0 { true } else { odd(n - 1) } } fn odd(n) { if n == 0 { false } else { even(n - 1) } }",
	}

	for _, src := range tests {
		if _, _, diags := resolveSource(t, src, nil); len(diags) != 0 {
			t.Errorf("%q: unexpected diagnostics %v", src, diags)
		}
	}
}

func TestResolveUndefinedNameSpan(t *testing.T) {
	src := "fn f() { 1 + missing }"
	_, _, diags := resolveSource(t, src, nil)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1: %v", len(diags), diags)
	}
	want := Span{Start: 13, End: 20}
	if diags[0].Primary != want {
		t.Errorf("span = %s, want %s", diags[0].Primary, want)
	}
}

func TestResolveDuplicateLabelsFirstDeclaration(t *testing.T) {
	src := "fn f() {}\nfn f() {}"
	_, _, diags := resolveSource(t, src, nil)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Primary != (Span{Start: 13, End: 14}) {
		t.Errorf("primary = %s, want 13..14", d.Primary)
	}
	if len(d.Secondary) != 1 || d.Secondary[0].Span != (Span{Start: 3, End: 4}) {
		t.Errorf("secondary = %+v, want first declaration at 3..4", d.Secondary)
	}
}

func TestResolveLocalsAndSlots(t *testing.T) {
	file, res, diags := resolveSource(t, "fn f(a, b) { let c = a; { let d = b; d } }", nil)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	info := res.Func(file.Items[0])
	if info.Arity != 2 {
		t.Errorf("arity = %d, want 2", info.Arity)
	}
	if info.NumLocals != 4 {
		t.Errorf("locals = %d, want 4", info.NumLocals)
	}
	fn := file.Items[0].(*FnItem)
	let := fn.Body.Stmts[0].(*LetStmt)
	ref, ok := res.Ref(let.Pattern)
	if !ok || ref.Kind != RefLocal || ref.Index != 2 {
		t.Errorf("c = %+v, want local 2", ref)
	}
	if got := res.ScopeSlots(fn.Body); len(got) != 1 || got[0] != 2 {
		t.Errorf("body scope slots = %v, want [2]", got)
	}
}

func TestResolveShadowingReusesNoSlot(t *testing.T) {
	file, res, _ := resolveSource(t, "fn f() { let x = 1; let x = x + 1; x }", nil)
	fn := file.Items[0].(*FnItem)
	first, _ := res.Ref(fn.Body.Stmts[0].(*LetStmt).Pattern)
	second, _ := res.Ref(fn.Body.Stmts[1].(*LetStmt).Pattern)
	if first.Index == second.Index {
		t.Errorf("shadowing binding shares slot %d", first.Index)
	}
	tail, _ := res.Ref(fn.Body.Tail)
	if tail.Index != second.Index {
		t.Errorf("x resolves to slot %d, want %d", tail.Index, second.Index)
	}
}

func TestResolveCapturesAndBoxing(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		captures int
		boxed    bool
	}{
		{"read-only capture", "fn f() { let n = 1; let g = || n + 1; g() }", 1, false},
		{"mutated capture", "fn f() { let n = 0; let inc = || { n += 1; }; inc(); n }", 1, true},
		{"mutated outside", "fn f() { let n = 0; let g = || n; n = 5; g() }", 1, true},
		{"param capture", "fn f(n) { || n }", 1, false},
		{"no capture", "fn f() { |x| x }", 0, false},
	}

	for _, tt := range tests {
		file, res, diags := resolveSource(t, tt.src, nil)
		if len(diags) != 0 {
			t.Errorf("%s: unexpected diagnostics %v", tt.name, diags)
			continue
		}
		var closure *FuncInfo
		for n, info := range res.funcs {
			if _, ok := n.(*ClosureExpr); ok {
				closure = info
			}
		}
		if closure == nil {
			t.Errorf("%s: no closure resolved", tt.name)
			continue
		}
		if len(closure.Captures) != tt.captures {
			t.Errorf("%s: got %d captures, want %d", tt.name, len(closure.Captures), tt.captures)
			continue
		}
		if tt.captures > 0 {
			c := closure.Captures[0]
			if !c.FromLocal {
				t.Errorf("%s: capture is not from a local", tt.name)
			}
			if c.Boxed() != tt.boxed {
				t.Errorf("%s: boxed = %v, want %v", tt.name, c.Boxed(), tt.boxed)
			}
		}
		if fn := res.Func(file.Items[0]); tt.name == "param capture" && len(fn.BoxedParams()) != 0 {
			t.Errorf("%s: read-only parameter is boxed", tt.name)
		}
	}
}

func TestResolveNestedCaptureThroughUpvalue(t *testing.T) {
	src := "fn f() { let n = 1; let g = || { let h = || n; h() }; g() }"
	_, res, diags := resolveSource(t, src, nil)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	var outer, inner *FuncInfo
	for n, info := range res.funcs {
		c, ok := n.(*ClosureExpr)
		if !ok {
			continue
		}
		if _, isBlock := c.Body.(*BlockExpr); isBlock {
			outer = info
		} else {
			inner = info
		}
	}
	if outer == nil || inner == nil {
		t.Fatal("closures not resolved")
	}
	if len(outer.Captures) != 1 || !outer.Captures[0].FromLocal {
		t.Errorf("outer captures = %+v, want one local", outer.Captures)
	}
	if len(inner.Captures) != 1 || inner.Captures[0].FromLocal {
		t.Errorf("inner captures = %+v, want one upvalue", inner.Captures)
	}
}

func TestResolveBoxedParameter(t *testing.T) {
	file, res, diags := resolveSource(t, "fn f(n) { let g = || { n = n + 1; }; g(); n }", nil)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	info := res.Func(file.Items[0])
	if got := info.BoxedParams(); len(got) != 1 || got[0] != 0 {
		t.Errorf("boxed params = %v, want [0]", got)
	}
}

func TestResolveClosureNames(t *testing.T) {
	_, res, _ := resolveSource(t, "fn f() { let a = || 1; let b = || 2; a() + b() }", nil)
	names := map[string]bool{}
	for n, info := range res.funcs {
		if _, ok := n.(*ClosureExpr); ok {
			names[info.Name] = true
			if info.Index != -1 || !info.Closure {
				t.Errorf("%s: index %d closure %v", info.Name, info.Index, info.Closure)
			}
		}
	}
	if !names["f::{closure#0}"] || !names["f::{closure#1}"] {
		t.Errorf("closure names = %v", names)
	}
}

func TestResolveImports(t *testing.T) {
	env := NewNames("println", "time::sleep", "math::max")
	src := `
use math::max as biggest;
fn f() {
	println("hi");
	time::sleep(1);
	biggest(1, 2);
	net::fetch("x");
	println("again")
}`
	_, res, diags := resolveSource(t, src, env)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := []string{"println", "time::sleep", "math::max", "net::fetch"}
	if len(res.Imports) != len(want) {
		t.Fatalf("imports = %+v, want %v", res.Imports, want)
	}
	for i, imp := range res.Imports {
		if imp.Name != want[i] {
			t.Errorf("import %d = %s, want %s", i, imp.Name, want[i])
		}
	}
}

func TestResolveEnvironmentRejectsUnknownMember(t *testing.T) {
	env := NewNames("time::sleep")
	_, _, diags := resolveSource(t, "fn f() { time::slep(1) }", env)
	if len(diags) != 1 || diags[0].Code != CodeUndefinedName {
		t.Errorf("got %v, want one UndefinedName", diags)
	}

	// A bare name is only an import when the environment provides it.
	_, _, diags = resolveSource(t, "fn f() { print(1) }", env)
	if len(diags) != 1 || diags[0].Code != CodeUndefinedName {
		t.Errorf("got %v, want one UndefinedName", diags)
	}
}

func TestResolveBuiltinVariants(t *testing.T) {
	_, res, diags := resolveSource(t, "fn f(x) { match x { Some(v) => Ok(v), None => Err(0) } }", nil)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	got := map[string]bool{}
	for _, def := range res.Types {
		if !def.Builtin {
			t.Errorf("unexpected user type %s", def.Name)
		}
		got[def.Name] = true
	}
	for _, name := range []string{"Option::Some", "Option::None", "Result::Ok", "Result::Err"} {
		if !got[name] {
			t.Errorf("missing built-in %s in %v", name, res.Types)
		}
	}
}

func TestResolveConstants(t *testing.T) {
	_, res, diags := resolveSource(t, `const A = 6; const B = A * 7; const S = "n={B}"; const T = (1, [2], "x");`, nil)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	if v, ok := res.Const("B"); !ok || v.Kind != ConstInt || v.Int != 42 {
		t.Errorf("B = %+v, want 42", v)
	}
	if v, _ := res.Const("S"); v.Kind != ConstString || v.Str != "n={B}" {
		t.Errorf("S = %+v", v)
	}
	if v, _ := res.Const("T"); v.Kind != ConstTuple || len(v.Items) != 3 {
		t.Errorf("T = %+v", v)
	}
}

func TestResolveFailedFunctionIsMarked(t *testing.T) {
	file, res, diags := resolveSource(t, "fn good() { 1 } fn bad() { nope }", nil)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if res.Func(file.Items[0]).Failed {
		t.Error("good is marked failed")
	}
	if !res.Func(file.Items[1]).Failed {
		t.Error("bad is not marked failed")
	}
}

func TestResolveInstanceFunctions(t *testing.T) {
	src := "struct P { x } impl P { fn get(self) { self.x } fn make() { P { x: 1 } } }"
	_, res, diags := resolveSource(t, src, nil)
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	byName := map[string]*FuncInfo{}
	for _, info := range res.Functions {
		byName[info.Name] = info
	}
	if get := byName["P::get"]; get == nil || !get.Instance || get.Arity != 1 {
		t.Errorf("P::get = %+v", get)
	}
	if mk := byName["P::make"]; mk == nil || mk.Instance {
		t.Errorf("P::make = %+v", mk)
	}
}
