package compiler

import (
	"fmt"
	"math"

	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Lowering strategies
// ---------------------------------------------------------------------------

// Lowering turns a resolved file into a unit. Every lowering of the same
// resolution must produce units that behave identically when run.
type Lowering interface {
	Name() string
	Lower(file *File, res *Resolution) (*vm.Unit, Diagnostics)
}

// DirectLowering emits code for each node as written.
type DirectLowering struct{}

func (DirectLowering) Name() string { return "direct" }

func (DirectLowering) Lower(file *File, res *Resolution) (*vm.Unit, Diagnostics) {
	return lower(file, res, false)
}

// OptimizingLowering folds constant subexpressions, then threads jumps,
// removes unreachable blocks and applies peephole rewrites on each
// function's control flow graph.
type OptimizingLowering struct{}

func (OptimizingLowering) Name() string { return "optimizing" }

func (OptimizingLowering) Lower(file *File, res *Resolution) (*vm.Unit, Diagnostics) {
	unit, diags := lower(file, res, true)
	if unit != nil {
		for _, fn := range unit.Functions {
			optimize(fn)
		}
	}
	return unit, diags
}

// Lowerings lists the built-in strategies by name.
var Lowerings = map[string]Lowering{
	"direct":     DirectLowering{},
	"optimizing": OptimizingLowering{},
}

// ---------------------------------------------------------------------------
// Unit assembly
// ---------------------------------------------------------------------------

const maxIndex = math.MaxUint16

type unitBuilder struct {
	unit     *vm.Unit
	res      *Resolution
	fold     bool
	consts   map[string]int
	closures map[Node]int
	diags    Diagnostics
}

func lower(file *File, res *Resolution, fold bool) (*vm.Unit, Diagnostics) {
	u := &unitBuilder{
		unit:     vm.NewUnit(res.Module),
		res:      res,
		fold:     fold,
		consts:   make(map[string]int),
		closures: make(map[Node]int),
	}
	u.unit.Types = append([]vm.TypeDef(nil), res.Types...)
	u.unit.Imports = append([]vm.Import(nil), res.Imports...)
	if len(u.unit.Types) > maxIndex || len(u.unit.Imports) > maxIndex {
		u.limit(file.SpanVal, "too many types or imports in one module")
	}

	u.unit.Functions = make([]*vm.Function, len(res.Functions))
	for i, info := range res.Functions {
		if info.Failed {
			u.unit.Functions[i] = &vm.Function{Name: info.Name, Arity: info.Arity, NumLocals: info.Arity, Span: info.Span, Params: info.Params}
			continue
		}
		fn := u.function(info)
		u.unit.Functions[i] = fn
	}
	if len(u.unit.Functions) > maxIndex {
		u.limit(file.SpanVal, "too many functions in one module")
	}
	if len(u.diags) > 0 {
		return nil, u.diags
	}
	return u.unit, nil
}

func (u *unitBuilder) limit(span Span, format string, args ...any) {
	u.diags = append(u.diags, Diagnostic{Severity: SeverityError, Code: CodeLimitExceeded, Message: fmt.Sprintf(format, args...), Primary: span})
}

// constant returns the pool index of c, adding it on first use.
func (u *unitBuilder) constant(c vm.Constant, span Span) int {
	key := c.Key()
	if i, ok := u.consts[key]; ok {
		return i
	}
	i := len(u.unit.Constants)
	if i == maxIndex {
		u.limit(span, "too many constants in one module")
	}
	u.unit.Constants = append(u.unit.Constants, c)
	u.consts[key] = i
	return i
}

func (u *unitBuilder) stringConst(s string, span Span) int {
	return u.constant(vm.Constant{Kind: vm.ConstString, Str: s}, span)
}

func (u *unitBuilder) keysConst(keys []string, span Span) int {
	return u.constant(vm.Constant{Kind: vm.ConstKeys, Keys: keys}, span)
}

// closure lowers a closure body once and returns its function index.
func (u *unitBuilder) closure(info *FuncInfo) int {
	if i, ok := u.closures[info.Node]; ok {
		return i
	}
	i := len(u.unit.Functions)
	u.closures[info.Node] = i
	u.unit.Functions = append(u.unit.Functions, nil)
	fn := u.function(info)
	u.unit.Functions[i] = fn
	return i
}

// function lowers one function or closure body.
func (u *unitBuilder) function(info *FuncInfo) *vm.Function {
	g := newFuncGen(u, info)
	for _, slot := range info.BoxedParams() {
		g.b.EmitUint16(vm.OpBoxLocal, uint16(slot))
	}
	switch n := info.Node.(type) {
	case *FnItem:
		g.expr(n.Body)
	case *ClosureExpr:
		g.expr(n.Body)
	}
	g.b.Emit(vm.OpReturn)

	fn := &vm.Function{
		Name:        info.Name,
		Arity:       info.Arity,
		NumLocals:   max(info.NumLocals, info.Arity),
		NumUpvalues: len(info.Captures),
		MaxStack:    g.b.MaxDepth(),
		Code:        g.b.Bytes(),
		Debug:       g.debug,
		Params:      info.Params,
		Span:        info.Span,
	}
	if info.Async {
		fn.Flags |= vm.FlagAsync
	}
	if info.Closure {
		fn.Flags |= vm.FlagClosure
	}
	if info.Instance {
		fn.Flags |= vm.FlagInstance
	}
	if fn.NumLocals > maxIndex {
		u.limit(info.Span, "`%s` needs %d local slots", info.Name, fn.NumLocals)
	}
	if len(fn.Code) > math.MaxInt16 {
		u.limit(info.Span, "`%s` is too large to encode jumps", info.Name)
	}
	return fn
}
