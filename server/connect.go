package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionServiceName is the fully-qualified name of the session service.
const SessionServiceName = "rill.v1.SessionService"

// Procedure paths, shared by Connect and gRPC.
const (
	CreateSessionProcedure  = "/" + SessionServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + SessionServiceName + "/DestroySession"
	CompileProcedure        = "/" + SessionServiceName + "/Compile"
	CallProcedure           = "/" + SessionServiceName + "/Call"
	ResumeProcedure         = "/" + SessionServiceName + "/Resume"
	DropProcedure           = "/" + SessionServiceName + "/Drop"
	CompleteProcedure       = "/" + SessionServiceName + "/Complete"
)

// SessionServer is the method set served over both transports.
type SessionServer interface {
	CreateSession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DestroySession(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Compile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Call(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Drop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Complete(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var procedureNames = []string{
	CreateSessionProcedure,
	DestroySessionProcedure,
	CompileProcedure,
	CallProcedure,
	ResumeProcedure,
	DropProcedure,
	CompleteProcedure,
}

type unaryMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func procedures(svc SessionServer) map[string]unaryMethod {
	return map[string]unaryMethod{
		CreateSessionProcedure:  svc.CreateSession,
		DestroySessionProcedure: svc.DestroySession,
		CompileProcedure:        svc.Compile,
		CallProcedure:           svc.Call,
		ResumeProcedure:         svc.Resume,
		DropProcedure:           svc.Drop,
		CompleteProcedure:       svc.Complete,
	}
}

// NewSessionServiceHandler builds an HTTP handler serving svc over the
// Connect protocol (binary protobuf and JSON). It returns the path to
// mount the handler on.
func NewSessionServiceHandler(svc SessionServer, opts ...connect.HandlerOption) (string, http.Handler) {
	handlers := make(map[string]*connect.Handler)
	for procedure, method := range procedures(svc) {
		handlers[procedure] = connect.NewUnaryHandler(procedure, connectUnary(method), opts...)
	}
	return "/" + SessionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func connectUnary(method unaryMethod) func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
		res, err := method(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(res), nil
	}
}

// SessionClient calls a session service over Connect.
type SessionClient struct {
	clients map[string]*connect.Client[structpb.Struct, structpb.Struct]
}

// NewSessionClient creates a client for the service at baseURL.
func NewSessionClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SessionClient {
	baseURL = strings.TrimRight(baseURL, "/")
	c := &SessionClient{clients: make(map[string]*connect.Client[structpb.Struct, structpb.Struct])}
	for _, procedure := range procedureNames {
		c.clients[procedure] = connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+procedure, opts...)
	}
	return c
}

// Invoke calls procedure with a request built from fields.
func (c *SessionClient) Invoke(ctx context.Context, procedure string, fields map[string]any) (*structpb.Struct, error) {
	client, ok := c.clients[procedure]
	if !ok {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("unknown procedure %s", procedure))
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	res, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
