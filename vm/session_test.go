package vm

import (
	"errors"
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers: hand-assembled units
// ---------------------------------------------------------------------------

func function(name string, arity, locals int, build func(b *BytecodeBuilder)) *Function {
	b := NewBytecodeBuilder()
	build(b)
	return &Function{Name: name, Arity: arity, NumLocals: locals, MaxStack: b.MaxDepth(), Code: b.Bytes()}
}

// addFn computes a + b.
func addFn() *Function {
	return function("add", 2, 2, func(b *BytecodeBuilder) {
		b.EmitUint16(OpLoadLocal, 0)
		b.EmitUint16(OpLoadLocal, 1)
		b.Emit(OpAdd)
		b.Emit(OpReturn)
	})
}

func newTestUnit(name string, imports []string, fns ...*Function) *Unit {
	u := NewUnit(name)
	u.Functions = fns
	for _, imp := range imports {
		u.Imports = append(u.Imports, Import{Name: imp})
	}
	return u
}

func mustLoad(t *testing.T, s *Session, u *Unit) *Module {
	t.Helper()
	m, err := s.Load(u, nil)
	if err != nil {
		t.Fatalf("load %s: %v", u.Name, err)
	}
	return m
}

// waitUnit calls host::wait(5) and adds one to the answer.
func waitUnit() *Unit {
	return newTestUnit("waiter", []string{"host::wait"}, function("main", 0, 0, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 5)
		b.EmitUint16Byte(OpCallImport, 0, 1)
		b.EmitInt8(OpPushInt8, 1)
		b.Emit(OpAdd)
		b.Emit(OpReturn)
	}))
}

func pendingSession() *Session {
	s := NewSession()
	s.Natives().Register("host::wait", 1, func(args []Value) NativeOutcome {
		return Pending(args[0].AsInt())
	})
	return s
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func TestCallAdd(t *testing.T) {
	s := NewSession()
	m := mustLoad(t, s, newTestUnit("math", nil, addFn()))
	out := s.Call(m, "add", Int(1), Int(2))
	if out.Status != Completed || out.Value.AsInt() != 3 {
		t.Errorf("add(1, 2) = %s %s, want Completed 3", out.Status, Debug(out.Value))
	}
}

func TestCompletedRestoresStack(t *testing.T) {
	outer := function("outer", 0, 1, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 20)
		b.EmitUint16(OpStoreLocal, 0)
		b.EmitUint16(OpLoadLocal, 0)
		b.EmitInt8(OpPushInt8, 22)
		b.EmitUint16Byte(OpCallFn, 1, 2)
		b.Emit(OpReturn)
	})
	s := NewSession()
	m := mustLoad(t, s, newTestUnit("depth", nil, outer, addFn()))

	e := s.newExecution()
	if err := e.enterFunction(m, 0, 0, false, nil); err != nil {
		t.Fatal(err)
	}
	out := e.run()
	if out.Status != Completed || out.Value.AsInt() != 42 {
		t.Fatalf("outer() = %s %s, want Completed 42", out.Status, Debug(out.Value))
	}
	if len(e.stack) != 0 || len(e.frames) != 0 {
		t.Errorf("after completion: %d values and %d frames remain", len(e.stack), len(e.frames))
	}
}

func TestCallMissingFunction(t *testing.T) {
	s := NewSession()
	m := mustLoad(t, s, newTestUnit("math", nil, addFn()))

	tests := []struct {
		m    *Module
		name string
	}{
		{m, "sub"},
		{m, ""},
		{nil, "add"},
	}
	for _, tt := range tests {
		out := s.Call(tt.m, tt.name)
		if out.Status != Faulted || out.Err.Kind != KindMissingFunction {
			t.Errorf("Call(%q): got %s %v, want MissingFunction", tt.name, out.Status, out.Err)
		}
	}
}

func TestCallArityMismatch(t *testing.T) {
	s := NewSession()
	m := mustLoad(t, s, newTestUnit("math", nil, addFn()))
	out := s.Call(m, "add", Int(1))
	if out.Status != Faulted || out.Err.Kind != KindArityMismatch {
		t.Errorf("add(1): got %s %v, want ArityMismatch", out.Status, out.Err)
	}
}

func TestStackOverflow(t *testing.T) {
	loop := function("loop", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16Byte(OpCallFn, 0, 0)
		b.Emit(OpReturn)
	})
	s := NewSession(WithMaxFrames(8))
	m := mustLoad(t, s, newTestUnit("deep", nil, loop))
	out := s.Call(m, "loop")
	if out.Status != Faulted || out.Err.Kind != KindStackOverflow {
		t.Fatalf("got %s %v, want StackOverflow", out.Status, out.Err)
	}
	if len(out.Err.Trace) != 8 {
		t.Errorf("trace has %d frames, want 8", len(out.Err.Trace))
	}
}

func TestCallValue(t *testing.T) {
	get := function("get", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpLoadFn, 1)
		b.Emit(OpReturn)
	})
	s := NewSession()
	m := mustLoad(t, s, newTestUnit("fns", nil, get, addFn()))

	out := s.Call(m, "get")
	if out.Status != Completed {
		t.Fatalf("get() = %s", out.Status)
	}
	fn := out.Value
	defer fn.Release()

	res := s.CallValue(fn, Int(40), Int(2))
	if res.Status != Completed || res.Value.AsInt() != 42 {
		t.Errorf("CallValue(add, 40, 2) = %s %s", res.Status, Debug(res.Value))
	}
	if res := s.CallValue(Int(1)); res.Status != Faulted || res.Err.Kind != KindNotCallable {
		t.Errorf("CallValue(1) = %s %v, want NotCallable", res.Status, res.Err)
	}
}

func TestCallValueNative(t *testing.T) {
	get := function("get", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpLoadImport, 0)
		b.Emit(OpReturn)
	})
	s := NewSession()
	s.Natives().Register("host::neg", 1, func(args []Value) NativeOutcome {
		return Return(Int(-args[0].AsInt()))
	})
	m := mustLoad(t, s, newTestUnit("natives", []string{"host::neg"}, get))

	fn := s.Call(m, "get").Value
	defer fn.Release()
	out := s.CallValue(fn, Int(9))
	if out.Status != Completed || out.Value.AsInt() != -9 {
		t.Errorf("neg(9) = %s %s", out.Status, Debug(out.Value))
	}
}

func TestInstanceNative(t *testing.T) {
	u := newTestUnit("strings", nil, function("main", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpPushConst, 0)
		b.EmitUint16Byte(OpCallInstance, 1, 0)
		b.Emit(OpReturn)
	}))
	u.Constants = []Constant{{Kind: ConstString, Str: "héllo"}, {Kind: ConstString, Str: "len"}}

	s := NewSession()
	m := mustLoad(t, s, u)
	if out := s.Call(m, "main"); out.Status != Faulted || out.Err.Kind != KindMissingInstanceFunction {
		t.Fatalf("before registration: %s %v, want MissingInstanceFunction", out.Status, out.Err)
	}

	s.Natives().RegisterInstance("String", "len", 0, func(args []Value) NativeOutcome {
		str, _ := args[0].AsString()
		return Return(Int(int64(len([]rune(str)))))
	})
	if out := s.Call(m, "main"); out.Status != Completed || out.Value.AsInt() != 5 {
		t.Errorf("\"héllo\".len() = %s %s, want 5", out.Status, Debug(out.Value))
	}
}

func TestNativeFailures(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		fn    NativeFunc
		kind  ErrorKind
		cause error
	}{
		{"fail", func([]Value) NativeOutcome { return Fail(boom) }, KindNativeError, boom},
		{"failf", func([]Value) NativeOutcome { return Failf("bad %d", 1) }, KindNativeError, nil},
		{"panic", func([]Value) NativeOutcome { return Fail(&VmError{Kind: KindPanic, Message: "stop"}) }, KindPanic, nil},
	}

	for _, tt := range tests {
		s := NewSession()
		s.Natives().Register("host::wait", 1, tt.fn)
		m := mustLoad(t, s, waitUnit())
		out := s.Call(m, "main")
		if out.Status != Faulted || out.Err.Kind != tt.kind {
			t.Errorf("%s: got %s %v, want %s", tt.name, out.Status, out.Err, tt.kind)
			continue
		}
		if out.Err.Function != "main" || out.Err.Module != "waiter" {
			t.Errorf("%s: located at %s::%s", tt.name, out.Err.Module, out.Err.Function)
		}
		if tt.cause != nil && !errors.Is(out.Err, tt.cause) {
			t.Errorf("%s: cause not preserved: %v", tt.name, out.Err)
		}
	}
}

// ---------------------------------------------------------------------------
// Loading and linking
// ---------------------------------------------------------------------------

func TestLoadErrors(t *testing.T) {
	s := NewSession()
	mustLoad(t, s, newTestUnit("math", nil, addFn()))

	if _, err := s.Load(newTestUnit("math", nil, addFn()), nil); !errors.Is(err, ErrDuplicateModule) {
		t.Errorf("duplicate load: err = %v, want ErrDuplicateModule", err)
	}

	_, err := s.Load(newTestUnit("app", []string{"a::b", "math::add", "c"}), nil)
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("err = %v, want *LinkError", err)
	}
	var names []string
	for _, imp := range linkErr.Unresolved {
		names = append(names, imp.Name)
	}
	if !reflect.DeepEqual(names, []string{"a::b", "c"}) {
		t.Errorf("unresolved = %v, want [a::b c]", names)
	}
	if _, ok := s.Module("app"); ok {
		t.Error("a unit that failed to link must not be registered")
	}

	bad := newTestUnit("bad", nil, function("f", 0, 0, func(b *BytecodeBuilder) {
		b.EmitUint16(OpPushConst, 3)
	}))
	if _, err := s.Load(bad, nil); !errors.Is(err, ErrInvalidOperand) {
		t.Errorf("invalid unit: err = %v, want ErrInvalidOperand", err)
	}
}

func TestBindingsRenameImports(t *testing.T) {
	s := pendingSession()
	s.Natives().Register("host::now", 1, func(args []Value) NativeOutcome {
		return Return(Int(args[0].AsInt() * 100))
	})
	m, err := s.Load(waitUnit(), Bindings{"host::wait": "host::now"})
	if err != nil {
		t.Fatal(err)
	}
	if out := s.Call(m, "main"); out.Status != Completed || out.Value.AsInt() != 501 {
		t.Errorf("got %s %s, want Completed 501", out.Status, Debug(out.Value))
	}
}

func TestUnload(t *testing.T) {
	s := NewSession()
	mustLoad(t, s, newTestUnit("math", nil, addFn()))
	if !s.Unload("math") {
		t.Fatal("Unload(math) = false")
	}
	if s.Unload("math") {
		t.Error("second Unload(math) = true")
	}
	mustLoad(t, s, newTestUnit("math", nil, addFn()))
}

func TestReplace(t *testing.T) {
	constFn := func(n int8) *Function {
		return function("f", 0, 0, func(b *BytecodeBuilder) {
			b.EmitInt8(OpPushInt8, n)
			b.Emit(OpReturn)
		})
	}
	s := NewSession()
	mustLoad(t, s, newTestUnit("a", nil, constFn(1)))

	// A unit that fails to link leaves the loaded module in place.
	_, err := s.Replace(newTestUnit("a", []string{"other::g"}, constFn(2)), nil)
	var linkErr *LinkError
	if !errors.As(err, &linkErr) {
		t.Fatalf("err = %v, want *LinkError", err)
	}
	m, ok := s.Module("a")
	if !ok {
		t.Fatal("module a was unloaded by a failed replace")
	}
	if out := s.Call(m, "f"); out.Status != Completed || out.Value.AsInt() != 1 {
		t.Errorf("f() = %s %s, want Completed 1", out.Status, Debug(out.Value))
	}

	m, err = s.Replace(newTestUnit("a", nil, constFn(3)), nil)
	if err != nil {
		t.Fatal(err)
	}
	if out := s.Call(m, "f"); out.Status != Completed || out.Value.AsInt() != 3 {
		t.Errorf("f() after replace = %s %s, want Completed 3", out.Status, Debug(out.Value))
	}
	if n := len(s.Modules()); n != 1 {
		t.Errorf("%d modules loaded, want 1", n)
	}

	if _, err := s.Replace(newTestUnit("b", nil, constFn(4)), nil); err != nil {
		t.Errorf("replace of an absent module: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func([]Value) NativeOutcome { return Return(UnitValue) }
	if err := r.Register("b", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("a::x", Variadic, noop); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("b", 1, noop); !errors.Is(err, ErrDuplicateNative) {
		t.Errorf("duplicate register: err = %v", err)
	}
	if err := r.RegisterInstance("Vec", "len", 0, noop); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterInstance("Vec", "len", 0, noop); !errors.Is(err, ErrDuplicateNative) {
		t.Errorf("duplicate instance register: err = %v", err)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"a::x", "b"}) {
		t.Errorf("Names() = %v", got)
	}
	if n, ok := r.LookupInstance("Vec", "len"); !ok || n.Name != "Vec::len" {
		t.Errorf("LookupInstance = %v %v", n, ok)
	}
}

// ---------------------------------------------------------------------------
// Suspension
// ---------------------------------------------------------------------------

func TestSuspendAndResume(t *testing.T) {
	s := pendingSession()
	m := mustLoad(t, s, waitUnit())

	out := s.Call(m, "main")
	if out.Status != Suspended {
		t.Fatalf("status = %s, want Suspended", out.Status)
	}
	c := out.Continuation
	if c.ID() == "" || c.Depth() != 1 {
		t.Errorf("continuation id %q depth %d", c.ID(), c.Depth())
	}
	if out.Awaitable != any(int64(5)) || c.Awaitable() != any(int64(5)) {
		t.Errorf("awaitable = %v, want 5", out.Awaitable)
	}

	e := c.exec
	res := s.Resume(c, Int(10), nil)
	if res.Status != Completed || res.Value.AsInt() != 11 {
		t.Fatalf("resumed = %s %s, want Completed 11", res.Status, Debug(res.Value))
	}
	if len(e.stack) != 0 || len(e.frames) != 0 {
		t.Errorf("after resume: %d values and %d frames remain", len(e.stack), len(e.frames))
	}

	again := s.Resume(c, Int(10), nil)
	if again.Status != Faulted || !errors.Is(again.Err, ErrContinuationConsumed) {
		t.Errorf("second resume = %s %v, want ErrContinuationConsumed", again.Status, again.Err)
	}
}

func TestResumeMatchesSynchronousNative(t *testing.T) {
	sync := NewSession()
	sync.Natives().Register("host::wait", 1, func(args []Value) NativeOutcome {
		return Return(Int(args[0].AsInt() * 3))
	})
	want := sync.Call(mustLoad(t, sync, waitUnit()), "main")

	async := pendingSession()
	out := async.Call(mustLoad(t, async, waitUnit()), "main")
	n := out.Awaitable.(int64)
	got := async.Resume(out.Continuation, Int(n*3), nil)

	if got.Status != want.Status || !Equal(got.Value, want.Value) {
		t.Errorf("resumed %s %s, synchronous %s %s", got.Status, Debug(got.Value), want.Status, Debug(want.Value))
	}
}

func TestResumeWithError(t *testing.T) {
	s := pendingSession()
	m := mustLoad(t, s, waitUnit())
	timeout := errors.New("timed out")

	out := s.Call(m, "main")
	res := s.Resume(out.Continuation, UnitValue, timeout)
	if res.Status != Faulted || res.Err.Kind != KindNativeError || !errors.Is(res.Err, timeout) {
		t.Errorf("got %s %v, want a NativeError wrapping the host error", res.Status, res.Err)
	}
}

func TestResumeForeignContinuation(t *testing.T) {
	s := pendingSession()
	other := NewSession()
	out := s.Call(mustLoad(t, s, waitUnit()), "main")

	res := other.Resume(out.Continuation, Int(1), nil)
	if res.Status != Faulted || !errors.Is(res.Err, ErrForeignContinuation) {
		t.Errorf("foreign resume = %s %v", res.Status, res.Err)
	}
	if res := other.Resume(nil, Int(1), nil); !errors.Is(res.Err, ErrForeignContinuation) {
		t.Errorf("nil continuation = %v", res.Err)
	}

	// The owner can still resume it.
	if res := s.Resume(out.Continuation, Int(1), nil); res.Status != Completed || res.Value.AsInt() != 2 {
		t.Errorf("owner resume = %s %s", res.Status, Debug(res.Value))
	}
}

func TestDropReleasesValues(t *testing.T) {
	hold := function("hold", 1, 1, func(b *BytecodeBuilder) {
		b.EmitInt8(OpPushInt8, 0)
		b.EmitUint16Byte(OpCallImport, 0, 1)
		b.Emit(OpPop)
		b.EmitUint16(OpLoadLocal, 0)
		b.Emit(OpReturn)
	})
	s := pendingSession()
	m := mustLoad(t, s, newTestUnit("holder", []string{"host::wait"}, hold))

	drops := 0
	handle := NewExternal("Handle", dropCounter{&drops})
	out := s.Call(m, "hold", handle)
	handle.Release()
	if out.Status != Suspended {
		t.Fatalf("status = %s, want Suspended", out.Status)
	}
	if drops != 0 {
		t.Fatal("handle dropped while the continuation holds it")
	}

	out.Continuation.Drop()
	if drops != 1 {
		t.Errorf("Drop released the handle %d times, want 1", drops)
	}
	if out.Continuation.Depth() != 0 {
		t.Errorf("depth after drop = %d", out.Continuation.Depth())
	}
	out.Continuation.Drop()

	res := s.Resume(out.Continuation, UnitValue, nil)
	if !errors.Is(res.Err, ErrContinuationConsumed) {
		t.Errorf("resume after drop = %v, want ErrContinuationConsumed", res.Err)
	}
}

func TestIndependentContinuations(t *testing.T) {
	s := pendingSession()
	m := mustLoad(t, s, waitUnit())

	first := s.Call(m, "main").Continuation
	second := s.Call(m, "main").Continuation
	if first.ID() == second.ID() {
		t.Fatal("continuations share an id")
	}

	b := s.Resume(second, Int(100), nil)
	a := s.Resume(first, Int(1), nil)
	if a.Value.AsInt() != 2 || b.Value.AsInt() != 101 {
		t.Errorf("got %s and %s, want 2 and 101", Debug(a.Value), Debug(b.Value))
	}
}
