package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Resolution results
// ---------------------------------------------------------------------------

// RefKind is what a name resolved to.
type RefKind uint8

const (
	RefLocal   RefKind = iota // frame slot
	RefUpvalue                // captured value of a closure
	RefFn                     // function of this unit
	RefType                   // struct, variant or built-in variant
	RefConst                  // compile-time constant
	RefImport                 // name linked at load time
)

// Ref is a resolved name.
type Ref struct {
	Kind  RefKind
	Index int    // slot, upvalue, function, type or import index
	Name  string // constant name
	b     *binding
}

// Boxed reports whether a local or upvalue lives in a cell.
func (r Ref) Boxed() bool { return r.b != nil && r.b.boxed() }

// Capture describes how a closure obtains one upvalue when created.
type Capture struct {
	FromLocal bool // from a slot of the enclosing function, else from its upvalues
	Index     int
	b         *binding
}

// Boxed reports whether the captured variable lives in a cell.
func (c Capture) Boxed() bool { return c.b.boxed() }

// FuncInfo describes a function or closure body.
type FuncInfo struct {
	Node      Node // *FnItem or *ClosureExpr
	Name      string
	Index     int // unit function index; closures are numbered during lowering
	Arity     int
	NumLocals int
	Async     bool
	Instance  bool
	Closure   bool
	Failed    bool // a resolution error was reported inside the body
	Span      Span
	Params    []string
	Captures  []Capture

	params []*binding
}

// BoxedParams returns the parameter slots that must be moved into cells
// on entry.
func (f *FuncInfo) BoxedParams() []int {
	var out []int
	for _, b := range f.params {
		if b.boxed() {
			out = append(out, b.slot)
		}
	}
	return out
}

// Resolution is the side table produced by name resolution.
type Resolution struct {
	Module    string
	Functions []*FuncInfo // item functions in unit order
	Types     []vm.TypeDef
	Imports   []vm.Import

	refs   map[Node]Ref
	funcs  map[Node]*FuncInfo
	slots  map[Node]int
	scopes map[Node][]int
	consts map[string]ConstValue
}

// Ref returns what a path, self expression, binding pattern or
// parameter resolved to.
func (r *Resolution) Ref(n Node) (Ref, bool) {
	ref, ok := r.refs[n]
	return ref, ok
}

// Func returns the function info of a *FnItem or *ClosureExpr.
func (r *Resolution) Func(n Node) *FuncInfo {
	return r.funcs[n]
}

// Slot returns the hidden slot of a node: the scrutinee of a match, the
// iterator of a for loop, the result of a loop, the first of two
// temporaries of a compound index assignment, or the temporary of a
// composite pattern.
func (r *Resolution) Slot(n Node) (int, bool) {
	s, ok := r.slots[n]
	return s, ok
}

// ScopeSlots returns the slots declared directly in the scope owned by n.
func (r *Resolution) ScopeSlots(n Node) []int {
	return r.scopes[n]
}

// Const returns the value of a constant item.
func (r *Resolution) Const(name string) (ConstValue, bool) {
	v, ok := r.consts[name]
	return v, ok
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

var builtinShortNames = map[string]string{
	"Some": vm.NameSome,
	"None": vm.NameNone,
	"Ok":   vm.NameOk,
	"Err":  vm.NameErr,
}

const (
	constPending uint8 = iota
	constActive
	constDone
)

// errConstReported marks a constant failure that was already reported.
var errConstReported = &Diagnostic{}

type resolver struct {
	res   *Resolution
	env   *Names
	diags Diagnostics

	fns        map[string]*FuncInfo
	types      map[string]int
	enums      map[string]bool
	builtins   map[string]int
	consts     map[string]*ConstItem
	constState map[string]uint8
	uses       map[string]*UseItem
	imports    map[string]int
	closures   int
}

// Resolve binds every name of file. env lists the host items that bare
// names may refer to; it may be nil.
func Resolve(file *File, moduleName string, env *Names) (*Resolution, Diagnostics) {
	r := &resolver{
		res: &Resolution{
			Module: moduleName,
			refs:   make(map[Node]Ref),
			funcs:  make(map[Node]*FuncInfo),
			slots:  make(map[Node]int),
			scopes: make(map[Node][]int),
			consts: make(map[string]ConstValue),
		},
		env:        env,
		fns:        make(map[string]*FuncInfo),
		types:      make(map[string]int),
		enums:      make(map[string]bool),
		builtins:   make(map[string]int),
		consts:     make(map[string]*ConstItem),
		constState: make(map[string]uint8),
		uses:       make(map[string]*UseItem),
		imports:    make(map[string]int),
	}
	r.declareItems(file)

	names := make([]string, 0, len(r.consts))
	for name := range r.consts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return r.consts[names[i]].SpanVal.Start < r.consts[names[j]].SpanVal.Start
	})
	for _, name := range names {
		r.constValue(name, r.consts[name].Name.Span)
	}

	for _, info := range r.res.Functions {
		r.resolveFn(info, info.Node.(*FnItem))
	}
	return r.res, r.diags
}

func (r *resolver) errorf(span Span, code Code, format string, args ...any) {
	r.diags = append(r.diags, Diagnostic{Severity: SeverityError, Code: code, Message: fmt.Sprintf(format, args...), Primary: span})
}

func (r *resolver) errorWith(span Span, code Code, label Label, format string, args ...any) {
	r.diags = append(r.diags, Diagnostic{
		Severity:  SeverityError,
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Primary:   span,
		Secondary: []Label{label},
	})
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

func (r *resolver) declareItems(file *File) {
	declared := make(map[string]Span)
	declare := func(name string, span Span) bool {
		if prev, dup := declared[name]; dup {
			r.errorWith(span, CodeDuplicateBinding, Label{Span: prev, Message: "first declared here"},
				"`%s` is declared more than once", name)
			return false
		}
		declared[name] = span
		return true
	}
	addFn := func(fn *FnItem) {
		info := &FuncInfo{
			Node:     fn,
			Name:     fn.QualifiedName(),
			Index:    len(r.res.Functions),
			Arity:    len(fn.Params),
			Async:    fn.Async,
			Instance: fn.Owner != "" && fn.HasSelf(),
			Span:     fn.SpanVal,
		}
		r.fns[info.Name] = info
		r.res.funcs[fn] = info
		r.res.Functions = append(r.res.Functions, info)
	}

	for _, item := range file.Items {
		switch item := item.(type) {
		case *FnItem:
			if declare(item.Name.Name, item.Name.Span) {
				addFn(item)
			}
		case *StructItem:
			if declare(item.Name.Name, item.Name.Span) {
				r.types[item.Name.Name] = r.addType(item.Name.Name, "", item.Shape, item.Fields, false)
			}
		case *EnumItem:
			if !declare(item.Name.Name, item.Name.Span) {
				continue
			}
			r.enums[item.Name.Name] = true
			for _, v := range item.Variants {
				name := item.Name.Name + "::" + v.Name.Name
				if !declare(name, v.Name.Span) {
					continue
				}
				r.types[name] = r.addType(name, item.Name.Name, v.Shape, v.Fields, true)
			}
		case *UseItem:
			if declare(item.LocalName().Name, item.LocalName().Span) {
				r.uses[item.LocalName().Name] = item
			}
		case *ConstItem:
			if declare(item.Name.Name, item.Name.Span) {
				r.consts[item.Name.Name] = item
			}
		}
	}

	for _, item := range file.Items {
		impl, ok := item.(*ImplItem)
		if !ok {
			continue
		}
		if _, isType := r.types[impl.Type.Name]; !isType && !r.enums[impl.Type.Name] {
			r.errorf(impl.Type.Span, CodeUndefinedName, "cannot find type `%s` in this scope", impl.Type.Name)
			continue
		}
		for _, fn := range impl.Fns {
			if declare(fn.QualifiedName(), fn.Name.Span) {
				addFn(fn)
			}
		}
	}
}

// addType appends a user type and checks its field names.
func (r *resolver) addType(name, enum string, shape ShapeKind, fields []Ident, variant bool) int {
	def := vm.TypeDef{Name: name, Enum: enum}
	switch shape {
	case ShapeUnit:
		def.Kind = vm.TypeUnitStruct
	case ShapeTuple:
		def.Kind = vm.TypeTupleStruct
		def.Arity = len(fields)
	case ShapeNamed:
		def.Kind = vm.TypeStruct
		def.Arity = len(fields)
		seen := make(map[string]Span)
		for _, f := range fields {
			if prev, dup := seen[f.Name]; dup {
				r.errorWith(f.Span, CodeDuplicateBinding, Label{Span: prev, Message: "first declared here"},
					"field `%s` is declared more than once", f.Name)
			}
			seen[f.Name] = f.Span
			def.Fields = append(def.Fields, f.Name)
		}
	}
	if variant {
		def.Kind += vm.TypeUnitVariant - vm.TypeUnitStruct
	}
	r.res.Types = append(r.res.Types, def)
	return len(r.res.Types) - 1
}

// typeIndex finds a user type or a built-in variant, adding built-ins
// to the unit on first use.
func (r *resolver) typeIndex(name string) (int, bool) {
	if i, ok := r.types[name]; ok {
		return i, true
	}
	full := name
	if f, ok := builtinShortNames[name]; ok {
		full = f
	}
	if i, ok := r.builtins[full]; ok {
		return i, true
	}
	bt, ok := vm.BuiltinType(full)
	if !ok {
		return -1, false
	}
	r.res.Types = append(r.res.Types, bt.Def)
	r.builtins[full] = len(r.res.Types) - 1
	return len(r.res.Types) - 1, true
}

func (r *resolver) importIndex(name string, span Span) int {
	if i, ok := r.imports[name]; ok {
		return i
	}
	r.res.Imports = append(r.res.Imports, vm.Import{Name: name, Span: span})
	r.imports[name] = len(r.res.Imports) - 1
	return len(r.res.Imports) - 1
}

// constValue evaluates a constant item once, detecting cycles.
func (r *resolver) constValue(name string, use Span) (ConstValue, bool) {
	item := r.consts[name]
	switch r.constState[name] {
	case constDone:
		v, ok := r.res.consts[name]
		return v, ok
	case constActive:
		r.errorWith(item.Name.Span, CodeConstCycle, Label{Span: use, Message: "cycle passes through here"},
			"constant `%s` depends on itself", name)
		return ConstValue{}, false
	}
	r.constState[name] = constActive
	v, d := evalConst(item.Value, func(p *PathExpr) (ConstValue, *Diagnostic) {
		if len(p.Segments) == 1 {
			if _, ok := r.consts[p.Segments[0].Name]; ok {
				v, ok := r.constValue(p.Segments[0].Name, p.Span())
				if !ok {
					return v, errConstReported
				}
				return v, nil
			}
		}
		return ConstValue{}, notConstant(p, "`%s` is not a constant", p)
	})
	r.constState[name] = constDone
	if d != nil {
		if d != errConstReported {
			r.diags = append(r.diags, *d)
		}
		return ConstValue{}, false
	}
	r.res.consts[name] = v
	return v, true
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

// lookupVar finds a local, capturing it through enclosing closures.
func (r *resolver) lookupVar(fs *funcScope, name string) (Ref, bool) {
	if b := fs.lookup(name); b != nil {
		return Ref{Kind: RefLocal, Index: b.slot, b: b}, true
	}
	if fs.parent == nil {
		return Ref{}, false
	}
	outer, ok := r.lookupVar(fs.parent, name)
	if !ok {
		return Ref{}, false
	}
	root := outer.b
	root.captured = true
	idx, ok := fs.captures[root]
	if !ok {
		idx = len(fs.info.Captures)
		fs.info.Captures = append(fs.info.Captures, Capture{FromLocal: outer.Kind == RefLocal, Index: outer.Index, b: root})
		fs.captures[root] = idx
	}
	return Ref{Kind: RefUpvalue, Index: idx, b: root}, true
}

// itemRef finds a function, constant or type by unit-level name.
func (r *resolver) itemRef(name string) (Ref, bool) {
	if info, ok := r.fns[name]; ok {
		return Ref{Kind: RefFn, Index: info.Index}, true
	}
	if _, ok := r.consts[name]; ok {
		return Ref{Kind: RefConst, Name: name}, true
	}
	if i, ok := r.typeIndex(name); ok {
		return Ref{Kind: RefType, Index: i}, true
	}
	return Ref{}, false
}

// resolvePath resolves a path used as an expression, callee or pattern.
func (r *resolver) resolvePath(fs *funcScope, path *PathExpr) (Ref, bool) {
	if len(path.Segments) == 1 {
		name := path.Segments[0].Name
		if fs != nil {
			if ref, ok := r.lookupVar(fs, name); ok {
				return ref, true
			}
		}
		if ref, ok := r.itemRef(name); ok {
			return ref, true
		}
		if use, ok := r.uses[name]; ok {
			return r.resolveQualified(joinPath(use.Path), path.Span())
		}
		if r.env.Contains(name) {
			return Ref{Kind: RefImport, Index: r.importIndex(name, path.Span())}, true
		}
		r.errorf(path.Span(), CodeUndefinedName, "cannot find `%s` in this scope", name)
		return Ref{}, false
	}

	segs := make([]string, 0, len(path.Segments))
	if use, ok := r.uses[path.Segments[0].Name]; ok {
		for _, id := range use.Path {
			segs = append(segs, id.Name)
		}
	} else {
		segs = append(segs, path.Segments[0].Name)
	}
	for _, id := range path.Segments[1:] {
		segs = append(segs, id.Name)
	}
	return r.resolveQualified(strings.Join(segs, "::"), path.Span())
}

// resolveQualified resolves a full `::` path. Paths that are not items
// of this unit become imports, unless the environment knows the module
// and not the item.
func (r *resolver) resolveQualified(full string, span Span) (Ref, bool) {
	if ref, ok := r.itemRef(full); ok {
		return ref, true
	}
	if r.env != nil && !r.env.Contains(full) {
		first, _, _ := strings.Cut(full, "::")
		if first != full && r.env.ContainsPrefix(first) {
			r.errorf(span, CodeUndefinedName, "cannot find `%s`", full)
			return Ref{}, false
		}
	}
	return Ref{Kind: RefImport, Index: r.importIndex(full, span)}, true
}

func joinPath(ids []Ident) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.Name
	}
	return strings.Join(names, "::")
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (r *resolver) closeScope(fs *funcScope) {
	owner, slots := fs.pop()
	r.res.scopes[owner] = slots
}

func (r *resolver) declareParams(fs *funcScope, info *FuncInfo, params []*Param) {
	seen := make(map[string]Span)
	for _, p := range params {
		if prev, dup := seen[p.Name]; dup && p.Name != "_" {
			r.errorWith(p.SpanVal, CodeDuplicateBinding, Label{Span: prev, Message: "first bound here"},
				"parameter `%s` is bound more than once", p.Name)
		}
		seen[p.Name] = p.SpanVal
		b := fs.declare(p.Name, p.SpanVal)
		r.res.refs[p] = Ref{Kind: RefLocal, Index: b.slot, b: b}
		info.params = append(info.params, b)
		info.Params = append(info.Params, p.Name)
	}
}

func (r *resolver) resolveFn(info *FuncInfo, fn *FnItem) {
	before := len(r.diags)
	for i, p := range fn.Params {
		if p.IsSelf() && (i != 0 || fn.Owner == "") {
			r.errorf(p.SpanVal, CodeInvalidSelf, "`self` is only allowed as the first parameter of an impl function")
		}
	}
	fs := newFuncScope(info, nil)
	fs.push(fn)
	r.declareParams(fs, info, fn.Params)
	r.resolveExpr(fs, fn.Body)
	r.closeScope(fs)
	info.NumLocals = fs.max
	info.Failed = len(r.diags) > before
}

func (r *resolver) resolveClosure(fs *funcScope, e *ClosureExpr) {
	outer := fs
	for outer.parent != nil {
		outer = outer.parent
	}
	info := &FuncInfo{
		Node:    e,
		Name:    fmt.Sprintf("%s::{closure#%d}", outer.info.Name, r.closures),
		Index:   -1,
		Arity:   len(e.Params),
		Closure: true,
		Span:    e.SpanVal,
	}
	r.closures++
	r.res.funcs[e] = info
	cfs := newFuncScope(info, fs)
	cfs.push(e)
	r.declareParams(cfs, info, e.Params)
	r.resolveExpr(cfs, e.Body)
	r.closeScope(cfs)
	info.NumLocals = cfs.max
}

// ---------------------------------------------------------------------------
// Statements and expressions
// ---------------------------------------------------------------------------

func (r *resolver) resolveBlock(fs *funcScope, b *BlockExpr) {
	fs.push(b)
	for _, stmt := range b.Stmts {
		switch s := stmt.(type) {
		case *LetStmt:
			r.resolveExpr(fs, s.Value)
			r.declarePattern(fs, s.Pattern, make(map[string]Span))
		case *ExprStmt:
			r.resolveExpr(fs, s.Expr)
		}
	}
	if b.Tail != nil {
		r.resolveExpr(fs, b.Tail)
	}
	r.closeScope(fs)
}

func (r *resolver) resolveExprs(fs *funcScope, es []Expr) {
	for _, e := range es {
		r.resolveExpr(fs, e)
	}
}

// resolveCond resolves the condition of if or while inside the scope the
// expression owns.
func (r *resolver) resolveCond(fs *funcScope, cond Expr) {
	lc, ok := cond.(*LetCondExpr)
	if !ok {
		r.resolveExpr(fs, cond)
		return
	}
	r.resolveExpr(fs, lc.Value)
	r.declarePattern(fs, lc.Pattern, make(map[string]Span))
}

func (r *resolver) resolveExpr(fs *funcScope, e Expr) {
	switch e := e.(type) {
	case nil, *LitExpr, *BadExpr:

	case *PathExpr:
		ref, ok := r.resolvePath(fs, e)
		if !ok {
			return
		}
		if ref.Kind == RefType {
			def := r.res.Types[ref.Index]
			if def.Kind != vm.TypeUnitStruct && def.Kind != vm.TypeUnitVariant {
				r.errorf(e.SpanVal, CodeInvalidExpression, "`%s` must be constructed with its fields", e)
				return
			}
		}
		r.res.refs[e] = ref

	case *SelfExpr:
		ref, ok := r.lookupVar(fs, "self")
		if !ok {
			r.errorf(e.SpanVal, CodeInvalidSelf, "`self` is only available in impl functions that take it")
			return
		}
		r.res.refs[e] = ref

	case *TemplateExpr:
		r.resolveExprs(fs, e.Parts)
	case *TupleExpr:
		r.resolveExprs(fs, e.Items)
	case *VecExpr:
		r.resolveExprs(fs, e.Items)

	case *ObjectExpr:
		seen := make(map[string]Span)
		for _, f := range e.Fields {
			if prev, dup := seen[f.Key.Name]; dup {
				r.errorWith(f.Key.Span, CodeDuplicateBinding, Label{Span: prev, Message: "first set here"},
					"key `%s` is set more than once", f.Key.Name)
			}
			seen[f.Key.Name] = f.Key.Span
			r.resolveExpr(fs, f.Value)
		}

	case *StructLitExpr:
		r.resolveStructLit(fs, e)

	case *BlockExpr:
		r.resolveBlock(fs, e)

	case *LetCondExpr:
		r.errorf(e.SpanVal, CodeInvalidExpression, "`let` is only allowed in the condition of `if` or `while`")

	case *IfExpr:
		fs.push(e)
		r.resolveCond(fs, e.Cond)
		r.resolveExpr(fs, e.Then)
		r.closeScope(fs)
		r.resolveExpr(fs, e.Else)

	case *MatchExpr:
		r.resolveExpr(fs, e.Scrutinee)
		fs.push(e)
		r.res.slots[e] = fs.declare("", e.Scrutinee.Span()).slot
		for _, arm := range e.Arms {
			fs.push(arm)
			r.declarePattern(fs, arm.Pattern, make(map[string]Span))
			r.resolveExpr(fs, arm.Guard)
			r.resolveExpr(fs, arm.Body)
			r.closeScope(fs)
		}
		r.closeScope(fs)

	case *WhileExpr:
		fs.push(e)
		r.resolveCond(fs, e.Cond)
		fs.loops = append(fs.loops, e)
		r.resolveExpr(fs, e.Body)
		fs.loops = fs.loops[:len(fs.loops)-1]
		r.closeScope(fs)

	case *LoopExpr:
		fs.push(e)
		r.res.slots[e] = fs.declare("", e.SpanVal).slot
		fs.loops = append(fs.loops, e)
		r.resolveExpr(fs, e.Body)
		fs.loops = fs.loops[:len(fs.loops)-1]
		r.closeScope(fs)

	case *ForExpr:
		r.resolveExpr(fs, e.Iter)
		fs.push(e)
		r.res.slots[e] = fs.declare("", e.Iter.Span()).slot
		r.declarePattern(fs, e.Pattern, make(map[string]Span))
		fs.loops = append(fs.loops, e)
		r.resolveExpr(fs, e.Body)
		fs.loops = fs.loops[:len(fs.loops)-1]
		r.closeScope(fs)

	case *BreakExpr:
		loop := fs.inLoop()
		switch {
		case loop == nil:
			r.errorf(e.SpanVal, CodeInvalidBreak, "`break` outside of a loop")
		case e.Value != nil:
			if _, ok := loop.(*LoopExpr); !ok {
				r.errorf(e.SpanVal, CodeInvalidBreak, "only `loop` can break with a value")
			}
		}
		r.resolveExpr(fs, e.Value)

	case *ContinueExpr:
		if fs.inLoop() == nil {
			r.errorf(e.SpanVal, CodeInvalidBreak, "`continue` outside of a loop")
		}

	case *ReturnExpr:
		r.resolveExpr(fs, e.Value)

	case *ClosureExpr:
		r.resolveClosure(fs, e)

	case *CallExpr:
		r.resolveCall(fs, e)

	case *MethodCallExpr:
		r.resolveExpr(fs, e.Receiver)
		r.resolveExprs(fs, e.Args)
	case *FieldExpr:
		r.resolveExpr(fs, e.Target)
	case *TupleIndexExpr:
		r.resolveExpr(fs, e.Target)
	case *IndexExpr:
		r.resolveExpr(fs, e.Target)
		r.resolveExpr(fs, e.Index)
	case *TryExpr:
		r.resolveExpr(fs, e.Value)
	case *AwaitExpr:
		r.resolveExpr(fs, e.Value)
	case *UnaryExpr:
		r.resolveExpr(fs, e.Operand)
	case *BinaryExpr:
		r.resolveExpr(fs, e.Left)
		r.resolveExpr(fs, e.Right)
	case *RangeExpr:
		r.resolveExpr(fs, e.Start)
		r.resolveExpr(fs, e.End)

	case *AssignExpr:
		r.resolveAssign(fs, e)

	default:
		panic(fmt.Sprintf("resolver: unexpected expression %T", e))
	}
}

func (r *resolver) resolveAssign(fs *funcScope, e *AssignExpr) {
	switch t := e.Target.(type) {
	case *PathExpr:
		ref, ok := r.resolvePath(fs, t)
		if !ok {
			break
		}
		if ref.Kind != RefLocal && ref.Kind != RefUpvalue {
			r.errorf(t.SpanVal, CodeInvalidAssignTarget, "cannot assign to `%s`", t)
			break
		}
		ref.b.assigned = true
		r.res.refs[t] = ref
	case *IndexExpr:
		r.resolveExpr(fs, t.Target)
		r.resolveExpr(fs, t.Index)
		if e.Compound {
			r.res.slots[e] = fs.declare("", t.SpanVal).slot
			fs.declare("", t.SpanVal)
		}
	default:
		r.resolveExpr(fs, e.Target)
	}
	r.resolveExpr(fs, e.Value)
}

func (r *resolver) resolveCall(fs *funcScope, e *CallExpr) {
	path, ok := e.Callee.(*PathExpr)
	if !ok {
		r.resolveExpr(fs, e.Callee)
		r.resolveExprs(fs, e.Args)
		return
	}
	ref, ok := r.resolvePath(fs, path)
	if ok {
		r.res.refs[path] = ref
		switch ref.Kind {
		case RefFn:
			info := r.res.Functions[ref.Index]
			if info.Arity != len(e.Args) {
				r.errorf(e.SpanVal, CodeArityMismatch, "`%s` takes %d arguments but %d were supplied", path, info.Arity, len(e.Args))
			}
		case RefType:
			def := r.res.Types[ref.Index]
			switch def.Kind {
			case vm.TypeTupleStruct, vm.TypeTupleVariant:
				if def.Arity != len(e.Args) {
					r.errorf(e.SpanVal, CodeArityMismatch, "`%s` takes %d fields but %d were supplied", path, def.Arity, len(e.Args))
				}
			case vm.TypeStruct, vm.TypeStructVariant:
				r.errorf(path.SpanVal, CodeNotCallable, "`%s` has named fields; use `%s { .. }`", path, path)
			default:
				r.errorf(path.SpanVal, CodeNotCallable, "`%s` is a unit value and cannot be called", path)
			}
		case RefConst:
			r.errorf(path.SpanVal, CodeNotCallable, "constant `%s` cannot be called", path)
		}
	}
	r.resolveExprs(fs, e.Args)
}

func (r *resolver) resolveStructLit(fs *funcScope, e *StructLitExpr) {
	for _, f := range e.Fields {
		r.resolveExpr(fs, f.Value)
	}
	ref, ok := r.resolvePath(fs, e.Path)
	if !ok {
		return
	}
	if ref.Kind != RefType || !r.res.Types[ref.Index].Kind.HasNamedFields() {
		r.errorf(e.Path.SpanVal, CodeInvalidExpression, "`%s` is not a struct with named fields", e.Path)
		return
	}
	r.res.refs[e.Path] = ref
	def := r.res.Types[ref.Index]
	r.checkFields(def, e.SpanVal, len(e.Fields), func(i int) Ident { return e.Fields[i].Name }, true)
}

// checkFields reports unknown, repeated and, when complete is set,
// missing fields.
func (r *resolver) checkFields(def vm.TypeDef, span Span, n int, field func(int) Ident, complete bool) {
	known := make(map[string]bool, len(def.Fields))
	for _, f := range def.Fields {
		known[f] = true
	}
	seen := make(map[string]Span)
	for i := 0; i < n; i++ {
		id := field(i)
		if !known[id.Name] {
			r.errorf(id.Span, CodeUnknownField, "`%s` has no field `%s`", def.Name, id.Name)
			continue
		}
		if prev, dup := seen[id.Name]; dup {
			r.errorWith(id.Span, CodeDuplicateBinding, Label{Span: prev, Message: "first used here"},
				"field `%s` is given more than once", id.Name)
			continue
		}
		seen[id.Name] = id.Span
	}
	if !complete {
		return
	}
	var missing []string
	for _, f := range def.Fields {
		if _, ok := seen[f]; !ok {
			missing = append(missing, "`"+f+"`")
		}
	}
	if len(missing) > 0 {
		r.errorf(span, CodeMissingField, "missing fields %s in initializer of `%s`", strings.Join(missing, ", "), def.Name)
	}
}

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// declarePattern declares the bindings of a pattern in the innermost
// scope and allocates temporaries for composite patterns.
func (r *resolver) declarePattern(fs *funcScope, p Pattern, seen map[string]Span) {
	switch p := p.(type) {
	case *WildcardPat, *LitPat:

	case *BindPat:
		if prev, dup := seen[p.Name.Name]; dup {
			r.errorWith(p.SpanVal, CodeDuplicateBinding, Label{Span: prev, Message: "first bound here"},
				"`%s` is bound more than once in the same pattern", p.Name.Name)
		}
		seen[p.Name.Name] = p.SpanVal
		b := fs.declare(p.Name.Name, p.SpanVal)
		r.res.refs[p] = Ref{Kind: RefLocal, Index: b.slot, b: b}

	case *TuplePat:
		r.res.slots[p] = fs.declare("", p.SpanVal).slot
		for _, item := range p.Items {
			r.declarePattern(fs, item, seen)
		}

	case *VecPat:
		r.res.slots[p] = fs.declare("", p.SpanVal).slot
		for _, item := range p.Items {
			r.declarePattern(fs, item, seen)
		}

	case *PathPat:
		ref, ok := r.resolvePath(nil, p.Path)
		if !ok {
			return
		}
		switch {
		case ref.Kind == RefConst:
			if v, ok := r.res.consts[ref.Name]; ok && !v.IsScalar() {
				r.errorf(p.SpanVal, CodeInvalidPattern, "constant `%s` is not a scalar and cannot be matched", p.Path)
				return
			}
		case ref.Kind == RefType:
			kind := r.res.Types[ref.Index].Kind
			if kind != vm.TypeUnitStruct && kind != vm.TypeUnitVariant {
				r.errorf(p.SpanVal, CodeInvalidPattern, "`%s` has fields that must be matched", p.Path)
				return
			}
		default:
			r.errorf(p.SpanVal, CodeInvalidPattern, "`%s` cannot be used in a pattern", p.Path)
			return
		}
		r.res.refs[p.Path] = ref

	case *TupleStructPat:
		if def, ok := r.patternType(p.Path); ok {
			switch {
			case def.Kind != vm.TypeTupleStruct && def.Kind != vm.TypeTupleVariant:
				r.errorf(p.Path.SpanVal, CodeInvalidPattern, "`%s` is not a tuple struct or tuple variant", p.Path)
			case def.Arity != len(p.Items):
				r.errorf(p.SpanVal, CodeArityMismatch, "`%s` has %d fields but the pattern has %d", p.Path, def.Arity, len(p.Items))
			}
		}
		r.res.slots[p] = fs.declare("", p.SpanVal).slot
		for _, item := range p.Items {
			r.declarePattern(fs, item, seen)
		}

	case *StructPat:
		if def, ok := r.patternType(p.Path); ok {
			if !def.Kind.HasNamedFields() {
				r.errorf(p.Path.SpanVal, CodeInvalidPattern, "`%s` is not a struct with named fields", p.Path)
			} else {
				r.checkFields(def, p.SpanVal, len(p.Fields), func(i int) Ident { return p.Fields[i].Name }, false)
			}
		}
		r.res.slots[p] = fs.declare("", p.SpanVal).slot
		for _, f := range p.Fields {
			r.declarePattern(fs, f.Pattern, seen)
		}
	}
}

func (r *resolver) patternType(path *PathExpr) (vm.TypeDef, bool) {
	ref, ok := r.resolvePath(nil, path)
	if !ok {
		return vm.TypeDef{}, false
	}
	if ref.Kind != RefType {
		r.errorf(path.SpanVal, CodeInvalidPattern, "`%s` is not a struct or variant", path)
		return vm.TypeDef{}, false
	}
	r.res.refs[path] = ref
	return r.res.Types[ref.Index], true
}
