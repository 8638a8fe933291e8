package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/rill/cache"
	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/hostlib"
	"github.com/chazu/rill/vm"
)

// SessionService implements the remote session API: compile and load
// modules, call functions and settle suspensions. Requests and responses
// are structpb.Struct messages so the same methods serve Connect and
// gRPC. Errors are *connect.Error values.
type SessionService struct {
	worker        *VMWorker
	sessions      *SessionStore
	continuations *ContinuationStore
	cache         *cache.Cache
	optimize      bool
}

// NewSessionService creates a SessionService. c may be nil.
func NewSessionService(worker *VMWorker, sessions *SessionStore, continuations *ContinuationStore, c *cache.Cache, optimize bool) *SessionService {
	return &SessionService{
		worker:        worker,
		sessions:      sessions,
		continuations: continuations,
		cache:         c,
		optimize:      optimize,
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// CreateSession creates a new workspace session. Request: {name}.
func (s *SessionService) CreateSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.sessions.Create(stringField(req, "name"))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return newStruct(map[string]any{"session": session.ID})
}

// DestroySession destroys a session and drops its continuations.
// Request: {session}.
func (s *SessionService) DestroySession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	if !s.sessions.Destroy(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return newStruct(nil)
}

func (s *SessionService) session(req *structpb.Struct) (*Session, error) {
	id := stringField(req, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

// ---------------------------------------------------------------------------
// Compile and load
// ---------------------------------------------------------------------------

// Compile compiles a module and, when it has no errors, loads it into the
// session, replacing any module of the same name.
// Request: {session, module, source, source_name?, optimize?}.
// Response: {ok, diagnostics, functions}.
func (s *SessionService) Compile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(req)
	if err != nil {
		return nil, err
	}
	module := stringField(req, "module")
	if module == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("module is required"))
	}
	source := stringField(req, "source")

	r := cache.Request{
		Source:      source,
		Module:      module,
		SourceName:  stringField(req, "source_name"),
		Lowering:    compiler.DirectLowering{},
		Environment: Environment(),
	}
	if s.optimize || boolField(req, "optimize") {
		r.Lowering = compiler.OptimizingLowering{}
	}

	var unit *vm.Unit
	var diags compiler.Diagnostics
	if s.cache != nil {
		unit, diags, err = s.cache.Compile(r)
		if err != nil {
			log.Warningf("compile cache: %s", err)
		}
	}
	if unit == nil && !diags.HasErrors() {
		unit, diags = compiler.Compile(source, module, r.Options()...)
	}

	resp := map[string]any{
		"ok":          unit != nil,
		"diagnostics": diagnosticsToGo(source, diags),
	}
	if unit == nil {
		return newStruct(resp)
	}

	_, err = s.worker.Do(ctx, func() (any, error) {
		_, err := session.VM.Replace(unit, nil)
		return nil, err
	})
	if err != nil {
		var linkErr *vm.LinkError
		if errors.As(err, &linkErr) {
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	functions := make([]any, 0, len(unit.Functions))
	for _, fn := range unit.Functions {
		if !strings.Contains(fn.Name, "{") {
			functions = append(functions, fn.Name)
		}
	}
	resp["functions"] = functions
	log.Debugf("session %s loaded %s", session.ID, module)
	return newStruct(resp)
}

func diagnosticsToGo(source string, diags compiler.Diagnostics) []any {
	li := compiler.NewLineIndex(source)
	out := make([]any, len(diags))
	for i, d := range diags {
		start := li.Position(d.Primary.Start)
		end := li.Position(d.Primary.End)
		out[i] = map[string]any{
			"severity":   d.Severity.String(),
			"code":       string(d.Code),
			"message":    d.Message,
			"line":       int64(start.Line),
			"column":     int64(start.Column),
			"end_line":   int64(end.Line),
			"end_column": int64(end.Column),
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Call, Resume and Drop
// ---------------------------------------------------------------------------

// Call invokes a loaded function. Request: {session, module, function,
// args?}. The response describes the outcome (see settle).
func (s *SessionService) Call(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(req)
	if err != nil {
		return nil, err
	}
	module, function := stringField(req, "module"), stringField(req, "function")
	if module == "" || function == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("module and function are required"))
	}
	var args []any
	if l := req.GetFields()["args"].GetListValue(); l != nil {
		for _, v := range l.GetValues() {
			args = append(args, plain(v))
		}
	}

	res, err := s.worker.Do(ctx, func() (any, error) {
		m, ok := session.VM.Module(module)
		if !ok {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("module %q is not loaded", module))
		}
		vals := make([]vm.Value, 0, len(args))
		defer func() {
			for _, v := range vals {
				v.Release()
			}
		}()
		for _, a := range args {
			v, err := vm.FromGo(a)
			if err != nil {
				return nil, connect.NewError(connect.CodeInvalidArgument, err)
			}
			vals = append(vals, v)
		}
		return session.VM.Call(m, function, vals...), nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return s.settle(ctx, session, res.(vm.Outcome))
}

// Resume answers a parked client::ask. Request: {continuation, value?,
// error?}; a non-empty error faults the execution at the call.
func (s *SessionService) Resume(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "continuation")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("continuation is required"))
	}
	cont, sessionID, ok := s.continuations.Take(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("continuation %q not found", id))
	}
	session, ok := s.sessions.Get(sessionID)
	if !ok {
		s.continuations.drop([]*vm.Continuation{cont})
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", sessionID))
	}

	var resumeErr error
	if msg := stringField(req, "error"); msg != "" {
		resumeErr = errors.New(msg)
	}
	value := plain(req.GetFields()["value"])

	res, err := s.worker.Do(ctx, func() (any, error) {
		v, err := vm.FromGo(value)
		if err != nil {
			cont.Drop()
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return session.VM.Resume(cont, v, resumeErr), nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return s.settle(ctx, session, res.(vm.Outcome))
}

// Drop cancels a parked continuation. Request: {continuation}.
func (s *SessionService) Drop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "continuation")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("continuation is required"))
	}
	if !s.continuations.Drop(id) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("continuation %q not found", id))
	}
	return newStruct(nil)
}

// settle drives host promises to completion and parks client requests.
// It converts the final outcome into a response, releasing its value.
func (s *SessionService) settle(ctx context.Context, session *Session, out vm.Outcome) (*structpb.Struct, error) {
	for out.Status == vm.Suspended {
		p, ok := out.Awaitable.(*hostlib.Promise)
		if !ok {
			break
		}
		v, awaitErr := p.Await(ctx)
		cont := out.Continuation
		res, err := s.worker.Do(context.WithoutCancel(ctx), func() (any, error) {
			if ctx.Err() != nil {
				v.Release()
				cont.Drop()
				return nil, connect.NewError(connect.CodeCanceled, ctx.Err())
			}
			return session.VM.Resume(cont, v, awaitErr), nil
		})
		if err != nil {
			return nil, workerError(err)
		}
		out = res.(vm.Outcome)
	}

	resp := map[string]any{"status": strings.ToLower(out.Status.String())}
	switch out.Status {
	case vm.Completed:
		res, err := s.worker.Do(context.WithoutCancel(ctx), func() (any, error) {
			defer out.Value.Release()
			return vm.ToGo(out.Value), nil
		})
		if err != nil {
			return nil, workerError(err)
		}
		resp["value"] = res
	case vm.Faulted:
		resp["error"] = vmErrorToGo(out.Err)
	case vm.Suspended:
		req, ok := out.Awaitable.(*ClientRequest)
		if !ok {
			s.continuations.drop([]*vm.Continuation{out.Continuation})
			return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("%w: %T", hostlib.ErrUnknownAwaitable, out.Awaitable))
		}
		resp["continuation"] = s.continuations.Park(session.ID, out.Continuation)
		resp["request"] = req.Payload
	}
	return newStruct(resp)
}

func vmErrorToGo(e *vm.VmError) map[string]any {
	trace := make([]any, len(e.Trace))
	for i, f := range e.Trace {
		trace[i] = f.String()
	}
	return map[string]any{
		"kind":     e.Kind.String(),
		"message":  e.Message,
		"module":   e.Module,
		"function": e.Function,
		"offset":   int64(e.Offset),
		"trace":    trace,
	}
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

// maxCompletions limits completion responses.
const maxCompletions = 100

// Complete returns host and module function names starting with prefix.
// Request: {session, prefix}. Response: {items: [{label, kind}]}.
func (s *SessionService) Complete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(req)
	if err != nil {
		return nil, err
	}
	prefix := stringField(req, "prefix")
	if prefix == "" {
		return newStruct(map[string]any{"items": []any{}})
	}

	type item struct{ label, kind string }
	var items []item
	for _, name := range Environment().All() {
		if strings.HasPrefix(name, prefix) {
			items = append(items, item{name, "host"})
		}
	}
	for _, name := range session.VM.Natives().Names() {
		if strings.Contains(name, "::") && strings.HasPrefix(name, prefix) && !Environment().Contains(name) {
			items = append(items, item{name, "host"})
		}
	}

	res, err := s.worker.Do(ctx, func() (any, error) {
		var fns []item
		for _, m := range session.VM.Modules() {
			for _, fn := range m.Unit().Functions {
				if strings.Contains(fn.Name, "{") {
					continue
				}
				name := m.Name() + "::" + fn.Name
				if strings.HasPrefix(name, prefix) || strings.HasPrefix(fn.Name, prefix) {
					fns = append(fns, item{name, "function"})
				}
			}
		}
		return fns, nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	items = append(items, res.([]item)...)

	sort.SliceStable(items, func(i, j int) bool { return items[i].label < items[j].label })
	if len(items) > maxCompletions {
		items = items[:maxCompletions]
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = map[string]any{"label": it.label, "kind": it.kind}
	}
	return newStruct(map[string]any{"items": out})
}

// ---------------------------------------------------------------------------
// Message helpers
// ---------------------------------------------------------------------------

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func boolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

// plain converts a protobuf value into Go data, turning whole numbers
// into int64 so scripts see integers.
func plain(v *structpb.Value) any {
	if v == nil {
		return nil
	}
	return normalize(v.AsInterface())
}

func normalize(x any) any {
	switch x := x.(type) {
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 {
			return int64(x)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	}
	return x
}

func workerError(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
