package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rill.vm")

// DefaultMaxFrames bounds call depth unless overridden with WithMaxFrames.
const DefaultMaxFrames = 1024

// ---------------------------------------------------------------------------
// Session: loaded modules plus the host function registry
// ---------------------------------------------------------------------------

// Session owns a set of linked modules and the natives they may call.
// Each Call runs on its own execution, so suspended continuations never
// share operand stacks. Values must not be shared between sessions that
// run on different goroutines.
type Session struct {
	mu        sync.RWMutex
	natives   *Registry
	modules   map[string]*Module
	maxFrames int
}

// Option configures a Session.
type Option func(*Session)

// WithRegistry uses an existing native registry.
func WithRegistry(r *Registry) Option {
	return func(s *Session) { s.natives = r }
}

// WithMaxFrames sets the maximum call depth before StackOverflow.
func WithMaxFrames(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxFrames = n
		}
	}
}

// NewSession creates an empty session.
func NewSession(opts ...Option) *Session {
	s := &Session{
		modules:   make(map[string]*Module),
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.natives == nil {
		s.natives = NewRegistry()
	}
	return s
}

// Natives returns the registry consulted when linking imports.
func (s *Session) Natives() *Registry {
	return s.natives
}

// Module looks up a loaded module by name.
func (s *Session) Module(name string) (*Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[name]
	return m, ok
}

// Modules returns the loaded modules sorted by name.
func (s *Session) Modules() []*Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mods := make([]*Module, 0, len(s.modules))
	for _, m := range s.modules {
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name() < mods[j].Name() })
	return mods
}

// Bindings override how import names resolve at load time, mapping an
// import name to the fully qualified native or module function that
// satisfies it.
type Bindings map[string]string

// Module is a linked unit: its imports resolved and its constants and
// types materialised. It is the handle passed to Call.
type Module struct {
	session   *Session
	unit      *Unit
	imports   []Value
	constants []Value
	types     []*RuntimeType
}

// Name returns the module name.
func (m *Module) Name() string { return m.unit.Name }

// Unit returns the unit the module was linked from.
func (m *Module) Unit() *Unit { return m.unit }

// Load links a unit into the session. Every import must resolve to a
// registered native or a function of an already loaded module; otherwise
// a *LinkError lists all the unresolved names.
func (s *Session) Load(u *Unit, bindings Bindings) (*Module, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", u.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[u.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateModule, u.Name)
	}
	m, err := s.link(u, bindings)
	if err != nil {
		return nil, err
	}
	s.modules[u.Name] = m
	log.Debugf("loaded module %s: %d functions, %d imports", u.Name, len(u.Functions), len(u.Imports))
	return m, nil
}

// Replace links a unit in place of the loaded module of the same name, or
// loads it if there is none. The old module stays loaded when the new
// unit fails to link.
func (s *Session) Replace(u *Unit, bindings Bindings) (*Module, error) {
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", u.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.link(u, bindings)
	if err != nil {
		return nil, err
	}
	if old, ok := s.modules[u.Name]; ok {
		old.release()
	}
	s.modules[u.Name] = m
	log.Debugf("replaced module %s: %d functions, %d imports", u.Name, len(u.Functions), len(u.Imports))
	return m, nil
}

// link resolves a unit's imports and constants. s.mu must be held.
func (s *Session) link(u *Unit, bindings Bindings) (*Module, error) {
	m := &Module{session: s, unit: u}
	if err := m.buildTypes(); err != nil {
		return nil, err
	}

	var unresolved []Import
	for _, imp := range u.Imports {
		v, ok := s.resolveImport(imp.Name, bindings)
		if !ok {
			unresolved = append(unresolved, imp)
			continue
		}
		m.imports = append(m.imports, v)
	}
	if len(unresolved) > 0 {
		releaseAll(m.imports)
		log.Debugf("link %s failed: %d unresolved imports", u.Name, len(unresolved))
		return nil, &LinkError{Module: u.Name, Unresolved: unresolved}
	}

	for _, c := range u.Constants {
		m.constants = append(m.constants, constantValue(c))
	}
	return m, nil
}

// Unload removes a module. Modules that imported its functions keep
// working; the functions stay reachable through their references.
func (s *Session) Unload(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[name]
	if !ok {
		return false
	}
	delete(s.modules, name)
	m.release()
	return true
}

func (m *Module) release() {
	releaseAll(m.imports)
	releaseAll(m.constants)
	m.imports, m.constants = nil, nil
}

func (m *Module) buildTypes() error {
	byName := make(map[string][]*RuntimeType)
	for _, def := range m.unit.Types {
		if def.Builtin {
			bt, ok := BuiltinType(def.Name)
			if !ok {
				return fmt.Errorf("load %s: %w: unknown built-in type %s", m.unit.Name, ErrCorruptUnit, def.Name)
			}
			m.types = append(m.types, bt)
			continue
		}
		rt := &RuntimeType{Def: def, Module: m, methods: make(map[string]int)}
		owner := def.Name
		if def.Kind.IsVariant() {
			owner = def.Enum
		}
		byName[owner] = append(byName[owner], rt)
		m.types = append(m.types, rt)
	}
	for i, f := range m.unit.Functions {
		if !f.IsInstance() {
			continue
		}
		cut := strings.LastIndex(f.Name, "::")
		if cut < 0 {
			continue
		}
		for _, rt := range byName[f.Name[:cut]] {
			rt.methods[f.Name[cut+2:]] = i
		}
	}
	return nil
}

func constantValue(c Constant) Value {
	switch c.Kind {
	case ConstInt:
		return Int(c.Int)
	case ConstFloat:
		return Float(c.Float)
	case ConstChar:
		return Char(rune(c.Int))
	case ConstString:
		return NewString(c.Str)
	}
	return UnitValue
}

// resolveImport maps an import name to a callable value. Callers hold
// s.mu.
func (s *Session) resolveImport(name string, bindings Bindings) (Value, bool) {
	target := name
	if b, ok := bindings[name]; ok {
		target = b
	}
	if n, ok := s.natives.Lookup(target); ok {
		return FromObject(&NativeRef{refHeader{1}, n}), true
	}
	for i := 0; i < len(target); {
		cut := strings.Index(target[i:], "::")
		if cut < 0 {
			break
		}
		cut += i
		if m, ok := s.modules[target[:cut]]; ok {
			if idx, ok := m.unit.FunctionIndex(target[cut+2:]); ok {
				return FromObject(&FunctionRef{refHeader{1}, m, idx}), true
			}
		}
		i = cut + 2
	}
	return UnitValue, false
}

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

// Status is the state an invocation ended in.
type Status uint8

const (
	Completed Status = iota
	Faulted
	Suspended
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "Completed"
	case Faulted:
		return "Faulted"
	case Suspended:
		return "Suspended"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Outcome is the result of Call or Resume. Value is owned by the host
// when Status is Completed. When Suspended, Continuation resumes the
// execution and Awaitable is the handle the native produced.
type Outcome struct {
	Status       Status
	Value        Value
	Err          *VmError
	Continuation *Continuation
	Awaitable    Awaitable
}

func faulted(err *VmError) Outcome {
	return Outcome{Status: Faulted, Err: err}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Call invokes the named function of a loaded module. Arguments are
// borrowed. An absent function yields a MissingFunction fault. Async
// functions are run to completion rather than returning a future.
func (s *Session) Call(m *Module, name string, args ...Value) Outcome {
	if m == nil {
		return faulted(newError(KindMissingFunction, "no module for %s", name))
	}
	idx, ok := m.unit.FunctionIndex(name)
	if !ok {
		err := newError(KindMissingFunction, "%s::%s is not defined", m.Name(), name)
		err.Module = m.Name()
		return faulted(err)
	}
	e := s.newExecution()
	for _, a := range args {
		e.push(a.Retain())
	}
	if err := e.enterFunction(m, idx, len(args), false, nil); err != nil {
		return e.fault(err)
	}
	return e.run()
}

// CallValue invokes a callable value (function, closure or native
// reference). Arguments are borrowed.
func (s *Session) CallValue(fn Value, args ...Value) Outcome {
	e := s.newExecution()
	e.push(fn.Retain())
	for _, a := range args {
		e.push(a.Retain())
	}
	if fut, ok := fn.obj.(*FunctionRef); ok && fut.Function().IsAsync() {
		if err := e.enterFunction(fut.Module, fut.Index, len(args), true, nil); err != nil {
			return e.fault(err)
		}
		return e.run()
	}
	suspended, err := e.callValue(len(args))
	switch {
	case err != nil:
		return e.fault(err)
	case suspended:
		return e.suspend()
	case len(e.frames) == 0:
		// A native completed synchronously.
		return Outcome{Status: Completed, Value: e.pop()}
	}
	return e.run()
}

// Resume continues a suspended execution. On success v becomes the
// result of the native call that suspended and is owned by the VM; a
// non-nil err instead faults the execution at that call.
func (s *Session) Resume(c *Continuation, v Value, err error) Outcome {
	if c == nil || c.session != s {
		v.Release()
		return faulted(&VmError{Kind: KindInternal, Message: ErrForeignContinuation.Error(), Cause: ErrForeignContinuation})
	}
	if !c.used.CompareAndSwap(false, true) {
		v.Release()
		return faulted(&VmError{Kind: KindInternal, Message: ErrContinuationConsumed.Error(), Cause: ErrContinuationConsumed})
	}
	log.Debugf("resuming continuation %s", c.id)
	e := c.exec
	c.exec = nil
	if err != nil {
		v.Release()
		return e.fault(nativeFailure(err))
	}
	e.push(v)
	if len(e.frames) == 0 {
		return Outcome{Status: Completed, Value: e.pop()}
	}
	return e.run()
}
