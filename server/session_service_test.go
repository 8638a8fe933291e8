package server

import (
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/rill/cache"
)

var _ SessionServer = (*SessionService)(nil)

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func TestCreateAndDestroySession(t *testing.T) {
	srv := newTestServer(t)
	svc := srv.Service()

	a := newTestSession(t, svc)
	b := newTestSession(t, svc)
	if a == b {
		t.Error("two sessions should have different IDs")
	}
	if srv.sessions.Len() != 2 {
		t.Errorf("sessions = %d, want 2", srv.sessions.Len())
	}

	invoke(t, svc.DestroySession, map[string]any{"session": a})
	if _, ok := srv.sessions.Get(a); ok {
		t.Error("session should not exist after destruction")
	}
	if code := invokeErr(t, svc.DestroySession, map[string]any{"session": a}); code != connect.CodeNotFound {
		t.Errorf("destroying twice: code = %v, want NotFound", code)
	}
	if code := invokeErr(t, svc.DestroySession, map[string]any{}); code != connect.CodeInvalidArgument {
		t.Errorf("empty session: code = %v, want InvalidArgument", code)
	}
}

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCompileAndCall(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)

	resp := loadModule(t, svc, session, "math", `fn add(a, b) { a + b } fn apply(f) { let g = |x| f(x); g(1) }`)
	fns := field(resp, "functions").GetListValue().AsSlice()
	if len(fns) != 2 || fns[0] != "add" || fns[1] != "apply" {
		t.Errorf("functions = %v, want [add apply]", fns)
	}

	tests := []struct {
		function string
		args     []any
		want     any
	}{
		{"add", []any{1, 2}, 3.0},
		{"add", []any{"a", "b"}, "ab"},
		{"add", []any{1.5, 2.25}, 3.75},
	}
	for _, tc := range tests {
		resp := invoke(t, svc.Call, map[string]any{
			"session":  session,
			"module":   "math",
			"function": tc.function,
			"args":     tc.args,
		})
		if outcomeStatus(resp) != "completed" {
			t.Errorf("%s%v: status = %s", tc.function, tc.args, outcomeStatus(resp))
			continue
		}
		if got := field(resp, "value").AsInterface(); got != tc.want {
			t.Errorf("%s%v = %v, want %v", tc.function, tc.args, got, tc.want)
		}
	}
}

func TestCompileDiagnostics(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)

	resp := invoke(t, svc.Compile, map[string]any{
		"session": session,
		"module":  "broken",
		"source":  "fn main() {\n  undefined_thing\n}",
	})
	if field(resp, "ok").GetBoolValue() {
		t.Fatal("compile of an undefined name succeeded")
	}
	diags := field(resp, "diagnostics").GetListValue().GetValues()
	if len(diags) == 0 {
		t.Fatal("no diagnostics")
	}
	d := diags[0].GetStructValue()
	if got := field(d, "line").GetNumberValue(); got != 2 {
		t.Errorf("line = %v, want 2", got)
	}
	if got := field(d, "column").GetNumberValue(); got != 3 {
		t.Errorf("column = %v, want 3", got)
	}
	if got := field(d, "severity").GetStringValue(); got != "error" {
		t.Errorf("severity = %q, want error", got)
	}

	// Nothing was loaded.
	code := invokeErr(t, svc.Call, map[string]any{"session": session, "module": "broken", "function": "main"})
	if code != connect.CodeNotFound {
		t.Errorf("call into unloaded module: code = %v, want NotFound", code)
	}
}

func TestCompileReplacesModule(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)

	loadModule(t, svc, session, "m", `fn v() { 1 }`)
	loadModule(t, svc, session, "m", `fn v() { 2 }`)
	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "v"})
	if got := field(resp, "value").GetNumberValue(); got != 2 {
		t.Errorf("v() = %v, want 2", got)
	}
}

func TestCompileLinkError(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)

	code := invokeErr(t, svc.Compile, map[string]any{
		"session": session,
		"module":  "app",
		"source":  `fn main() { lib::missing() }`,
	})
	if code != connect.CodeFailedPrecondition {
		t.Errorf("code = %v, want FailedPrecondition", code)
	}
}

func TestCompileLinkErrorKeepsModule(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)

	loadModule(t, svc, session, "a", `fn f() { 1 }`)
	code := invokeErr(t, svc.Compile, map[string]any{
		"session": session,
		"module":  "a",
		"source":  `fn f() { other::g() }`,
	})
	if code != connect.CodeFailedPrecondition {
		t.Fatalf("code = %v, want FailedPrecondition", code)
	}

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "a", "function": "f"})
	if got := field(resp, "value").GetNumberValue(); got != 1 {
		t.Errorf("f() = %v, want 1 from the previously loaded module", got)
	}
}

func TestCompileUsesCache(t *testing.T) {
	c, err := cache.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	svc := newTestServer(t, WithCache(c)).Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn v() { 1 }`)
	loadModule(t, svc, session, "m", `fn v() { 1 }`)

	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("hits, misses = %d, %d, want 1, 1", hits, misses)
	}
}

// ---------------------------------------------------------------------------
// Call, Resume and Drop
// ---------------------------------------------------------------------------

func TestCallFault(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn boom() { 1 / 0 } fn main() { boom() }`)

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})
	if outcomeStatus(resp) != "faulted" {
		t.Fatalf("status = %s, want faulted", outcomeStatus(resp))
	}
	e := field(resp, "error").GetStructValue()
	if got := field(e, "kind").GetStringValue(); got != "DivideByZero" {
		t.Errorf("kind = %q, want DivideByZero", got)
	}
	if got := field(e, "function").GetStringValue(); got != "boom" {
		t.Errorf("function = %q, want boom", got)
	}
	if trace := field(e, "trace").GetListValue().GetValues(); len(trace) != 2 {
		t.Errorf("trace = %v, want 2 frames", trace)
	}
}

func TestCallMissingFunction(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { 1 }`)

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "nope"})
	e := field(resp, "error").GetStructValue()
	if outcomeStatus(resp) != "faulted" || field(e, "kind").GetStringValue() != "MissingFunction" {
		t.Errorf("got %v, want a MissingFunction fault", resp)
	}
}

func TestCallDrivesSleep(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { time::sleep(1); "done" }`)

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})
	if got := field(resp, "value").GetStringValue(); outcomeStatus(resp) != "completed" || got != "done" {
		t.Errorf("got %s %q, want completed \"done\"", outcomeStatus(resp), got)
	}
}

func TestClientAskAndResume(t *testing.T) {
	srv := newTestServer(t)
	svc := srv.Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { let a = client::ask("first"); let b = client::ask("second"); a * b }`)

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})
	if outcomeStatus(resp) != "suspended" {
		t.Fatalf("status = %s, want suspended", outcomeStatus(resp))
	}
	if got := field(resp, "request").GetStringValue(); got != "first" {
		t.Errorf("request = %q, want first", got)
	}
	first := field(resp, "continuation").GetStringValue()
	if srv.continuations.Len() != 1 {
		t.Errorf("parked = %d, want 1", srv.continuations.Len())
	}

	resp = invoke(t, svc.Resume, map[string]any{"continuation": first, "value": 6})
	if outcomeStatus(resp) != "suspended" || field(resp, "request").GetStringValue() != "second" {
		t.Fatalf("after first resume: %v", resp)
	}
	second := field(resp, "continuation").GetStringValue()
	if second == first {
		t.Error("second suspension reused the continuation id")
	}

	resp = invoke(t, svc.Resume, map[string]any{"continuation": second, "value": 7})
	if outcomeStatus(resp) != "completed" || field(resp, "value").GetNumberValue() != 42 {
		t.Errorf("final outcome = %v, want completed 42", resp)
	}

	if code := invokeErr(t, svc.Resume, map[string]any{"continuation": first, "value": 1}); code != connect.CodeNotFound {
		t.Errorf("resuming a consumed continuation: code = %v, want NotFound", code)
	}
	if srv.continuations.Len() != 0 {
		t.Errorf("parked = %d, want 0", srv.continuations.Len())
	}
}

func TestResumeWithError(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { client::ask(1) }`)

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})
	id := field(resp, "continuation").GetStringValue()

	resp = invoke(t, svc.Resume, map[string]any{"continuation": id, "error": "user declined"})
	e := field(resp, "error").GetStructValue()
	if outcomeStatus(resp) != "faulted" || field(e, "kind").GetStringValue() != "NativeError" {
		t.Errorf("got %v, want a NativeError fault", resp)
	}
	if got := field(e, "message").GetStringValue(); got != "user declined" {
		t.Errorf("message = %q, want %q", got, "user declined")
	}
}

func TestDropContinuation(t *testing.T) {
	srv := newTestServer(t)
	svc := srv.Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { let v = [1, 2, 3]; client::ask(v) }`)

	resp := invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})
	id := field(resp, "continuation").GetStringValue()
	if got := field(resp, "request").GetListValue().AsSlice(); len(got) != 3 {
		t.Errorf("request = %v, want [1 2 3]", got)
	}

	invoke(t, svc.Drop, map[string]any{"continuation": id})
	if srv.continuations.Len() != 0 {
		t.Errorf("parked = %d after drop, want 0", srv.continuations.Len())
	}
	if code := invokeErr(t, svc.Drop, map[string]any{"continuation": id}); code != connect.CodeNotFound {
		t.Errorf("second drop: code = %v, want NotFound", code)
	}
	if code := invokeErr(t, svc.Resume, map[string]any{"continuation": id}); code != connect.CodeNotFound {
		t.Errorf("resume after drop: code = %v, want NotFound", code)
	}
}

func TestDestroySessionDropsContinuations(t *testing.T) {
	srv := newTestServer(t)
	svc := srv.Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { client::ask(()) }`)

	for i := 0; i < 3; i++ {
		invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})
	}
	if srv.continuations.Len() != 3 {
		t.Fatalf("parked = %d, want 3", srv.continuations.Len())
	}
	invoke(t, svc.DestroySession, map[string]any{"session": session})
	if srv.continuations.Len() != 0 {
		t.Errorf("parked = %d after destroy, want 0", srv.continuations.Len())
	}
}

func TestContinuationTTL(t *testing.T) {
	srv := newTestServer(t, WithContinuationTTL(time.Hour))
	svc := srv.Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "m", `fn main() { client::ask(()) }`)
	invoke(t, svc.Call, map[string]any{"session": session, "module": "m", "function": "main"})

	if n := srv.continuations.Sweep(time.Hour); n != 0 {
		t.Errorf("swept %d fresh continuations", n)
	}
	time.Sleep(time.Millisecond)
	if n := srv.continuations.Sweep(0); n != 1 {
		t.Errorf("swept %d expired continuations, want 1", n)
	}
}

// ---------------------------------------------------------------------------
// Complete
// ---------------------------------------------------------------------------

func TestComplete(t *testing.T) {
	svc := newTestServer(t).Service()
	session := newTestSession(t, svc)
	loadModule(t, svc, session, "geo", `fn area(w, h) { w * h } fn perimeter(w, h) { 2 * (w + h) }`)

	tests := []struct {
		prefix string
		want   []string
	}{
		{"pri", []string{"print", "println"}},
		{"time::", []string{"time::now", "time::sleep"}},
		{"geo::", []string{"geo::area", "geo::perimeter"}},
		{"are", []string{"geo::area"}},
		{"", nil},
	}
	for _, tc := range tests {
		resp := invoke(t, svc.Complete, map[string]any{"session": session, "prefix": tc.prefix})
		items := field(resp, "items").GetListValue().GetValues()
		var got []string
		for _, it := range items {
			got = append(got, field(it.GetStructValue(), "label").GetStringValue())
		}
		if len(got) != len(tc.want) {
			t.Errorf("Complete(%q) = %v, want %v", tc.prefix, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("Complete(%q) = %v, want %v", tc.prefix, got, tc.want)
				break
			}
		}
	}
}

func TestPlainNormalizesNumbers(t *testing.T) {
	req := mustStruct(t, map[string]any{"list": []any{1.0, 2.5, map[string]any{"n": 3.0}}})
	got := plain(field(req, "list")).([]any)
	if _, ok := got[0].(int64); !ok {
		t.Errorf("1.0 became %T, want int64", got[0])
	}
	if _, ok := got[1].(float64); !ok {
		t.Errorf("2.5 became %T, want float64", got[1])
	}
	if n, ok := got[2].(map[string]any)["n"].(int64); !ok || n != 3 {
		t.Errorf("nested 3.0 became %v", got[2])
	}
}
