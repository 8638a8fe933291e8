package server

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// newTestServer creates a server that is stopped when the test ends.
func newTestServer(t *testing.T, opts ...ServerOption) *RillServer {
	t.Helper()
	s := New(opts...)
	t.Cleanup(s.Stop)
	return s
}

// newTestSession creates a session and returns its id.
func newTestSession(t *testing.T, svc SessionServer) string {
	t.Helper()
	resp := invoke(t, svc.CreateSession, map[string]any{"name": t.Name()})
	id := resp.GetFields()["session"].GetStringValue()
	if id == "" {
		t.Fatal("CreateSession returned an empty session id")
	}
	return id
}

// loadModule compiles source into the session and fails the test on
// diagnostics.
func loadModule(t *testing.T, svc SessionServer, session, module, source string) *structpb.Struct {
	t.Helper()
	resp := invoke(t, svc.Compile, map[string]any{
		"session": session,
		"module":  module,
		"source":  source,
	})
	if !resp.GetFields()["ok"].GetBoolValue() {
		t.Fatalf("compile %s: %v", module, resp.GetFields()["diagnostics"])
	}
	return resp
}

// invoke calls a service method and fails the test on error.
func invoke(t *testing.T, method unaryMethod, fields map[string]any) *structpb.Struct {
	t.Helper()
	resp, err := method(bg(), mustStruct(t, fields))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return resp
}

// invokeErr calls a service method that must fail and returns its code.
func invokeErr(t *testing.T, method unaryMethod, fields map[string]any) connect.Code {
	t.Helper()
	resp, err := method(bg(), mustStruct(t, fields))
	if err == nil {
		t.Fatalf("expected an error, got %v", resp)
	}
	return connect.CodeOf(err)
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return s
}

func field(s *structpb.Struct, name string) *structpb.Value {
	return s.GetFields()[name]
}

func outcomeStatus(s *structpb.Struct) string {
	return field(s, "status").GetStringValue()
}

func bg() context.Context {
	return context.Background()
}
