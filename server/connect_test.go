package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

func newConnectClient(t *testing.T) *SessionClient {
	t.Helper()
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return NewSessionClient(srv.Client(), srv.URL)
}

func TestConnectRoundTrip(t *testing.T) {
	client := newConnectClient(t)

	call := func(procedure string, fields map[string]any) *structpb.Struct {
		t.Helper()
		resp, err := client.Invoke(bg(), procedure, fields)
		if err != nil {
			t.Fatalf("%s: %v", procedure, err)
		}
		return resp
	}

	session := field(call(CreateSessionProcedure, map[string]any{"name": "connect"}), "session").GetStringValue()
	resp := call(CompileProcedure, map[string]any{
		"session": session,
		"module":  "m",
		"source":  `fn greet(name) { ` + "`hello {name}`" + ` } fn ask() { client::ask("n") + 1 }`,
	})
	if !field(resp, "ok").GetBoolValue() {
		t.Fatalf("compile: %v", resp)
	}

	resp = call(CallProcedure, map[string]any{"session": session, "module": "m", "function": "greet", "args": []any{"rill"}})
	if got := field(resp, "value").GetStringValue(); got != "hello rill" {
		t.Errorf("greet = %q, want %q", got, "hello rill")
	}

	resp = call(CallProcedure, map[string]any{"session": session, "module": "m", "function": "ask"})
	if outcomeStatus(resp) != "suspended" {
		t.Fatalf("status = %s, want suspended", outcomeStatus(resp))
	}
	resp = call(ResumeProcedure, map[string]any{"continuation": field(resp, "continuation").GetStringValue(), "value": 41})
	if got := field(resp, "value").GetNumberValue(); got != 42 {
		t.Errorf("resumed value = %v, want 42", got)
	}

	call(DestroySessionProcedure, map[string]any{"session": session})
}

func TestConnectErrorCodes(t *testing.T) {
	client := newConnectClient(t)

	tests := []struct {
		procedure string
		fields    map[string]any
		want      connect.Code
	}{
		{CallProcedure, map[string]any{"session": "nope", "module": "m", "function": "f"}, connect.CodeNotFound},
		{CompileProcedure, map[string]any{}, connect.CodeInvalidArgument},
		{ResumeProcedure, map[string]any{"continuation": "gone"}, connect.CodeNotFound},
		{"/rill.v1.SessionService/Missing", map[string]any{}, connect.CodeUnimplemented},
	}
	for _, tc := range tests {
		_, err := client.Invoke(bg(), tc.procedure, tc.fields)
		if got := connect.CodeOf(err); got != tc.want {
			t.Errorf("%s: code = %v, want %v (err %v)", tc.procedure, got, tc.want, err)
		}
	}
}

func TestConnectUnknownPath(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(srv.URL+"/"+SessionServiceName+"/Nope", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
