package compiler

import (
	"math"

	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Codegen: lower one function body to bytecode
// ---------------------------------------------------------------------------

// Every expression leaves exactly one value on the operand stack.
// Expressions that never complete (return, break, continue) still account
// for one value so the surrounding code keeps a consistent depth.

type loopCtx struct {
	brk, cont *vm.Label
	depth     int // operand depth at the loop head
	scopes    int // open scopes at the loop head
	result    int // slot receiving the value of `break`, or -1
}

type funcGen struct {
	u      *unitBuilder
	res    *Resolution
	info   *FuncInfo
	b      *vm.BytecodeBuilder
	debug  []vm.DebugEntry
	scopes [][]int
	loops  []*loopCtx
}

func newFuncGen(u *unitBuilder, info *FuncInfo) *funcGen {
	g := &funcGen{u: u, res: u.res, info: info, b: vm.NewBytecodeBuilder()}
	g.b.TypeArity = func(i int) int {
		if i < len(u.unit.Types) {
			return u.unit.Types[i].Arity
		}
		return 0
	}
	g.b.KeyCount = func(i int) int {
		if i < len(u.unit.Constants) {
			return len(u.unit.Constants[i].Keys)
		}
		return 0
	}
	return g
}

// at attributes the next instruction to span.
func (g *funcGen) at(span Span) {
	off := g.b.Len()
	if n := len(g.debug); n > 0 {
		last := &g.debug[n-1]
		if last.Offset == off {
			last.Span = span
			return
		}
		if last.Span == span {
			return
		}
	}
	g.debug = append(g.debug, vm.DebugEntry{Offset: off, Span: span})
}

func (g *funcGen) u16(n int, span Span, what string) uint16 {
	if n > maxIndex || n < 0 {
		g.u.limit(span, "%s %d does not fit in an operand", what, n)
		return 0
	}
	return uint16(n)
}

func (g *funcGen) u8(n int, span Span, what string) byte {
	if n > math.MaxUint8 {
		g.u.limit(span, "%s %d exceeds %d", what, n, math.MaxUint8)
		return 0
	}
	return byte(n)
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (g *funcGen) openScope(owner Node) []int {
	slots := g.res.ScopeSlots(owner)
	g.scopes = append(g.scopes, slots)
	return slots
}

func (g *funcGen) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

func (g *funcGen) closeScope() {
	g.drop(g.scopes[len(g.scopes)-1])
	g.popScope()
}

func (g *funcGen) drop(slots []int) {
	for _, s := range slots {
		g.b.EmitUint16(vm.OpDropLocal, uint16(s))
	}
}

// unwindTo discards operands and scope slots down to the loop head.
func (g *funcGen) unwindTo(lc *loopCtx) {
	for extra := g.b.Depth() - lc.depth; extra > 0; {
		n := min(extra, math.MaxUint8)
		g.b.EmitByte(vm.OpPopN, byte(n))
		extra -= n
	}
	for i := len(g.scopes) - 1; i >= lc.scopes; i-- {
		g.drop(g.scopes[i])
	}
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func (g *funcGen) pushConst(v ConstValue, span Span) {
	switch v.Kind {
	case ConstUnit:
		g.b.Emit(vm.OpPushUnit)
	case ConstBool:
		if v.Bool {
			g.b.Emit(vm.OpPushTrue)
		} else {
			g.b.Emit(vm.OpPushFalse)
		}
	case ConstInt:
		if v.Int >= math.MinInt8 && v.Int <= math.MaxInt8 {
			g.b.EmitInt8(vm.OpPushInt8, int8(v.Int))
			return
		}
		g.b.EmitUint16(vm.OpPushConst, uint16(g.u.constant(vm.Constant{Kind: vm.ConstInt, Int: v.Int}, span)))
	case ConstFloat:
		g.b.EmitUint16(vm.OpPushConst, uint16(g.u.constant(vm.Constant{Kind: vm.ConstFloat, Float: v.Float}, span)))
	case ConstString:
		g.b.EmitUint16(vm.OpPushConst, uint16(g.u.stringConst(v.Str, span)))
	case ConstChar:
		g.b.EmitUint16(vm.OpPushConst, uint16(g.u.constant(vm.Constant{Kind: vm.ConstChar, Int: int64(v.Char)}, span)))
	case ConstVec, ConstTuple:
		for _, item := range v.Items {
			g.pushConst(item, span)
		}
		op := vm.OpVec
		if v.Kind == ConstTuple {
			op = vm.OpTuple
		}
		g.b.EmitUint16(op, g.u16(len(v.Items), span, "element count"))
	case ConstObject:
		for _, item := range v.Items {
			g.pushConst(item, span)
		}
		g.b.EmitUint16(vm.OpObject, uint16(g.u.keysConst(v.Keys, span)))
	}
}

func (g *funcGen) constEnv(p *PathExpr) (ConstValue, *Diagnostic) {
	if ref, ok := g.res.Ref(p); ok && ref.Kind == RefConst {
		if v, ok := g.res.Const(ref.Name); ok {
			return v, nil
		}
	}
	return ConstValue{}, notConstant(p, "`%s` is not a constant", p)
}

// fold evaluates operator expressions over constants when folding is on.
func (g *funcGen) fold(e Expr) (ConstValue, bool) {
	if !g.u.fold {
		return ConstValue{}, false
	}
	switch e.(type) {
	case *UnaryExpr, *BinaryExpr, *TemplateExpr:
	default:
		return ConstValue{}, false
	}
	v, d := evalConst(e, g.constEnv)
	return v, d == nil
}

func (g *funcGen) load(ref Ref, span Span) {
	g.at(span)
	switch ref.Kind {
	case RefLocal:
		op := vm.OpLoadLocal
		if ref.Boxed() {
			op = vm.OpLoadLocalCell
		}
		g.b.EmitUint16(op, uint16(ref.Index))
	case RefUpvalue:
		op := vm.OpLoadUpvalue
		if ref.Boxed() {
			op = vm.OpLoadUpvalueCell
		}
		g.b.EmitUint16(op, uint16(ref.Index))
	case RefFn:
		g.b.EmitUint16(vm.OpLoadFn, uint16(ref.Index))
	case RefType:
		g.b.EmitUint16(vm.OpTupleStruct, uint16(ref.Index))
	case RefConst:
		v, _ := g.res.Const(ref.Name)
		g.pushConst(v, span)
	case RefImport:
		g.b.EmitUint16(vm.OpLoadImport, uint16(ref.Index))
	}
}

func (g *funcGen) store(ref Ref, span Span) {
	g.at(span)
	switch {
	case ref.Kind == RefLocal && ref.Boxed():
		g.b.EmitUint16(vm.OpStoreLocalCell, uint16(ref.Index))
	case ref.Kind == RefLocal:
		g.b.EmitUint16(vm.OpStoreLocal, uint16(ref.Index))
	default:
		g.b.EmitUint16(vm.OpStoreUpvalueCell, uint16(ref.Index))
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (g *funcGen) exprs(es []Expr) {
	for _, e := range es {
		g.expr(e)
	}
}

func (g *funcGen) expr(e Expr) {
	g.at(e.Span())
	if v, ok := g.fold(e); ok {
		g.pushConst(v, e.Span())
		return
	}

	switch e := e.(type) {
	case *LitExpr:
		g.pushConst(litConst(e), e.SpanVal)

	case *PathExpr:
		ref, ok := g.res.Ref(e)
		if !ok {
			g.b.Emit(vm.OpPushUnit)
			return
		}
		g.load(ref, e.SpanVal)

	case *SelfExpr:
		ref, _ := g.res.Ref(e)
		g.load(ref, e.SpanVal)

	case *TemplateExpr:
		g.exprs(e.Parts)
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpTemplate, g.u16(len(e.Parts), e.SpanVal, "template part count"))

	case *TupleExpr:
		g.exprs(e.Items)
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpTuple, g.u16(len(e.Items), e.SpanVal, "tuple length"))

	case *VecExpr:
		g.exprs(e.Items)
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpVec, g.u16(len(e.Items), e.SpanVal, "vector length"))

	case *ObjectExpr:
		keys := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			keys[i] = f.Key.Name
			g.expr(f.Value)
		}
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpObject, uint16(g.u.keysConst(keys, e.SpanVal)))

	case *StructLitExpr:
		keys := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			keys[i] = f.Name.Name
			g.expr(f.Value)
		}
		ref, _ := g.res.Ref(e.Path)
		g.at(e.SpanVal)
		g.b.EmitUint16Pair(vm.OpStruct, uint16(ref.Index), uint16(g.u.keysConst(keys, e.SpanVal)))

	case *BlockExpr:
		g.block(e)
	case *IfExpr:
		g.ifExpr(e)
	case *MatchExpr:
		g.match(e)
	case *WhileExpr:
		g.while(e)
	case *LoopExpr:
		g.loop(e)
	case *ForExpr:
		g.forExpr(e)

	case *BreakExpr:
		lc := g.loops[len(g.loops)-1]
		before := g.b.Depth()
		if lc.result >= 0 {
			if e.Value != nil {
				g.expr(e.Value)
			} else {
				g.b.Emit(vm.OpPushUnit)
			}
			g.b.EmitUint16(vm.OpStoreLocal, uint16(lc.result))
		}
		g.unwindTo(lc)
		g.at(e.SpanVal)
		g.b.EmitJump(vm.OpJump, lc.brk)
		g.b.SetDepth(before + 1)

	case *ContinueExpr:
		lc := g.loops[len(g.loops)-1]
		before := g.b.Depth()
		g.unwindTo(lc)
		g.at(e.SpanVal)
		g.b.EmitJump(vm.OpJump, lc.cont)
		g.b.SetDepth(before + 1)

	case *ReturnExpr:
		before := g.b.Depth()
		if e.Value != nil {
			g.expr(e.Value)
		} else {
			g.b.Emit(vm.OpPushUnit)
		}
		g.at(e.SpanVal)
		g.b.Emit(vm.OpReturn)
		g.b.SetDepth(before + 1)

	case *ClosureExpr:
		info := g.res.Func(e)
		idx := g.u.closure(info)
		if len(info.Captures) == 0 {
			g.at(e.SpanVal)
			g.b.EmitUint16(vm.OpLoadFn, uint16(idx))
			return
		}
		for _, c := range info.Captures {
			if c.FromLocal {
				g.b.EmitUint16(vm.OpLoadLocal, uint16(c.Index))
			} else {
				g.b.EmitUint16(vm.OpLoadUpvalue, uint16(c.Index))
			}
		}
		g.at(e.SpanVal)
		g.b.EmitUint16Byte(vm.OpClosure, uint16(idx), g.u8(len(info.Captures), e.SpanVal, "capture count"))

	case *CallExpr:
		g.call(e)

	case *MethodCallExpr:
		g.expr(e.Receiver)
		g.exprs(e.Args)
		g.at(e.SpanVal)
		g.b.EmitUint16Byte(vm.OpCallInstance, uint16(g.u.stringConst(e.Name.Name, e.Name.Span)), g.u8(len(e.Args), e.SpanVal, "argument count"))

	case *FieldExpr:
		g.expr(e.Target)
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpFieldGet, uint16(g.u.stringConst(e.Name.Name, e.Name.Span)))

	case *TupleIndexExpr:
		g.expr(e.Target)
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpTupleIndexGet, g.u16(e.Index, e.SpanVal, "tuple index"))

	case *IndexExpr:
		g.expr(e.Target)
		g.expr(e.Index)
		g.at(e.SpanVal)
		g.b.Emit(vm.OpIndexGet)

	case *TryExpr:
		g.expr(e.Value)
		g.at(e.SpanVal)
		g.b.Emit(vm.OpTry)

	case *AwaitExpr:
		g.expr(e.Value)
		g.at(e.SpanVal)
		g.b.Emit(vm.OpAwait)

	case *UnaryExpr:
		g.expr(e.Operand)
		g.at(e.SpanVal)
		g.b.Emit(unaryOpcode(e.Op))

	case *BinaryExpr:
		g.binary(e)

	case *RangeExpr:
		g.expr(e.Start)
		g.expr(e.End)
		g.at(e.SpanVal)
		var incl byte
		if e.Inclusive {
			incl = 1
		}
		g.b.EmitByte(vm.OpRange, incl)

	case *AssignExpr:
		g.assign(e)

	default:
		// *BadExpr and a stray *LetCondExpr only occur in files that
		// failed to resolve.
		g.b.Emit(vm.OpPushUnit)
	}
}

func (g *funcGen) binary(e *BinaryExpr) {
	if e.Op == BinAnd || e.Op == BinOr {
		end := g.b.NewLabel()
		g.expr(e.Left)
		g.at(e.SpanVal)
		if e.Op == BinAnd {
			g.b.EmitJump(vm.OpJumpIfFalseOrPop, end)
		} else {
			g.b.EmitJump(vm.OpJumpIfTrueOrPop, end)
		}
		g.expr(e.Right)
		g.b.Mark(end)
		return
	}
	g.expr(e.Left)
	g.expr(e.Right)
	g.at(e.SpanVal)
	g.b.Emit(binaryOpcode(e.Op))
}

func (g *funcGen) call(e *CallExpr) {
	argc := g.u8(len(e.Args), e.SpanVal, "argument count")
	if path, ok := e.Callee.(*PathExpr); ok {
		if ref, ok := g.res.Ref(path); ok {
			switch ref.Kind {
			case RefFn:
				g.exprs(e.Args)
				g.at(e.SpanVal)
				g.b.EmitUint16Byte(vm.OpCallFn, uint16(ref.Index), argc)
				return
			case RefImport:
				g.exprs(e.Args)
				g.at(e.SpanVal)
				g.b.EmitUint16Byte(vm.OpCallImport, uint16(ref.Index), argc)
				return
			case RefType:
				g.exprs(e.Args)
				g.at(e.SpanVal)
				g.b.EmitUint16(vm.OpTupleStruct, uint16(ref.Index))
				return
			}
		}
	}
	g.expr(e.Callee)
	g.exprs(e.Args)
	g.at(e.SpanVal)
	g.b.EmitByte(vm.OpCall, argc)
}

func (g *funcGen) assign(e *AssignExpr) {
	switch t := e.Target.(type) {
	case *PathExpr:
		ref, _ := g.res.Ref(t)
		if e.Compound {
			g.load(ref, t.SpanVal)
			g.expr(e.Value)
			g.at(e.SpanVal)
			g.b.Emit(binaryOpcode(e.Op))
		} else {
			g.expr(e.Value)
		}
		g.store(ref, e.SpanVal)

	case *FieldExpr:
		name := uint16(g.u.stringConst(t.Name.Name, t.Name.Span))
		g.expr(t.Target)
		if e.Compound {
			g.b.Emit(vm.OpDup)
			g.at(t.SpanVal)
			g.b.EmitUint16(vm.OpFieldGet, name)
			g.expr(e.Value)
			g.at(e.SpanVal)
			g.b.Emit(binaryOpcode(e.Op))
		} else {
			g.expr(e.Value)
		}
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpFieldSet, name)

	case *TupleIndexExpr:
		idx := g.u16(t.Index, t.SpanVal, "tuple index")
		g.expr(t.Target)
		if e.Compound {
			g.b.Emit(vm.OpDup)
			g.at(t.SpanVal)
			g.b.EmitUint16(vm.OpTupleIndexGet, idx)
			g.expr(e.Value)
			g.at(e.SpanVal)
			g.b.Emit(binaryOpcode(e.Op))
		} else {
			g.expr(e.Value)
		}
		g.at(e.SpanVal)
		g.b.EmitUint16(vm.OpTupleIndexSet, idx)

	case *IndexExpr:
		if !e.Compound {
			g.expr(t.Target)
			g.expr(t.Index)
			g.expr(e.Value)
			g.at(e.SpanVal)
			g.b.Emit(vm.OpIndexSet)
			break
		}
		t0, _ := g.res.Slot(e)
		t1 := t0 + 1
		g.expr(t.Target)
		g.b.EmitUint16(vm.OpStoreLocal, uint16(t0))
		g.expr(t.Index)
		g.b.EmitUint16(vm.OpStoreLocal, uint16(t1))
		g.b.EmitUint16(vm.OpLoadLocal, uint16(t0))
		g.b.EmitUint16(vm.OpLoadLocal, uint16(t1))
		g.b.EmitUint16(vm.OpLoadLocal, uint16(t0))
		g.b.EmitUint16(vm.OpLoadLocal, uint16(t1))
		g.at(t.SpanVal)
		g.b.Emit(vm.OpIndexGet)
		g.expr(e.Value)
		g.at(e.SpanVal)
		g.b.Emit(binaryOpcode(e.Op))
		g.b.Emit(vm.OpIndexSet)
		g.b.EmitUint16(vm.OpDropLocal, uint16(t0))
		g.b.EmitUint16(vm.OpDropLocal, uint16(t1))
	}
	g.b.Emit(vm.OpPushUnit)
}

// ---------------------------------------------------------------------------
// Blocks and control flow
// ---------------------------------------------------------------------------

func (g *funcGen) block(b *BlockExpr) {
	g.openScope(b)
	for _, stmt := range b.Stmts {
		switch s := stmt.(type) {
		case *LetStmt:
			g.expr(s.Value)
			fail := g.b.NewLabel()
			g.pattern(s.Pattern, fail)
			g.faultOn(fail, s.Pattern, vm.KindPatternMismatch)
		case *ExprStmt:
			g.expr(s.Expr)
			g.b.Emit(vm.OpPop)
		}
	}
	if b.Tail != nil {
		g.expr(b.Tail)
	} else {
		g.b.Emit(vm.OpPushUnit)
	}
	g.closeScope()
}

// faultOn emits the failure path of a refutable pattern outside a match.
func (g *funcGen) faultOn(fail *vm.Label, p Pattern, kind vm.ErrorKind) {
	if !isRefutable(p) {
		return
	}
	ok := g.b.NewLabel()
	g.b.EmitJump(vm.OpJump, ok)
	g.b.Mark(fail)
	g.at(p.Span())
	g.b.EmitByte(vm.OpFault, byte(kind))
	g.b.Mark(ok)
}

// cond emits a condition that jumps to fail when false or when a let
// pattern does not match.
func (g *funcGen) cond(c Expr, fail *vm.Label) {
	if lc, ok := c.(*LetCondExpr); ok {
		g.expr(lc.Value)
		g.pattern(lc.Pattern, fail)
		return
	}
	g.expr(c)
	g.at(c.Span())
	g.b.EmitJump(vm.OpJumpIfFalse, fail)
}

func (g *funcGen) elseBranch(e Expr) {
	if e == nil {
		g.b.Emit(vm.OpPushUnit)
		return
	}
	g.expr(e)
}

func (g *funcGen) ifExpr(e *IfExpr) {
	if _, isLet := e.Cond.(*LetCondExpr); !isLet && g.u.fold {
		if v, d := evalConst(e.Cond, g.constEnv); d == nil && v.Kind == ConstBool {
			if v.Bool {
				g.openScope(e)
				g.block(e.Then)
				g.closeScope()
			} else {
				g.elseBranch(e.Else)
			}
			return
		}
	}

	elseL, end := g.b.NewLabel(), g.b.NewLabel()
	slots := g.openScope(e)
	g.cond(e.Cond, elseL)
	g.block(e.Then)
	g.drop(slots)
	g.b.EmitJump(vm.OpJump, end)
	g.b.Mark(elseL)
	g.drop(slots)
	g.popScope()
	g.elseBranch(e.Else)
	g.b.Mark(end)
}

func (g *funcGen) match(e *MatchExpr) {
	g.expr(e.Scrutinee)
	g.openScope(e)
	scrutinee, _ := g.res.Slot(e)
	g.b.EmitUint16(vm.OpStoreLocal, uint16(scrutinee))
	base := g.b.Depth()
	end := g.b.NewLabel()

	for _, arm := range e.Arms {
		next := g.b.NewLabel()
		slots := g.openScope(arm)
		g.at(arm.Pattern.Span())
		g.b.EmitUint16(vm.OpLoadLocal, uint16(scrutinee))
		g.pattern(arm.Pattern, next)
		if arm.Guard != nil {
			g.expr(arm.Guard)
			g.at(arm.Guard.Span())
			g.b.EmitJump(vm.OpJumpIfFalse, next)
		}
		g.expr(arm.Body)
		g.closeScope()
		g.b.EmitJump(vm.OpJump, end)
		g.b.SetDepth(base)
		g.b.Mark(next)
		g.drop(slots)
	}

	g.at(e.SpanVal)
	g.b.EmitByte(vm.OpFault, byte(vm.KindNoMatchingArm))
	g.b.SetDepth(base + 1)
	g.b.Mark(end)
	g.closeScope()
}

func (g *funcGen) pushLoop(lc *loopCtx) {
	lc.depth = g.b.Depth()
	lc.scopes = len(g.scopes)
	g.loops = append(g.loops, lc)
}

func (g *funcGen) popLoop() {
	g.loops = g.loops[:len(g.loops)-1]
}

func (g *funcGen) while(e *WhileExpr) {
	cont, exit := g.b.NewLabel(), g.b.NewLabel()
	g.openScope(e)
	g.b.Mark(cont)
	lc := &loopCtx{brk: exit, cont: cont, result: -1}
	lc.depth = g.b.Depth()
	g.cond(e.Cond, exit)
	g.pushLoop(lc)
	g.block(e.Body)
	g.b.Emit(vm.OpPop)
	g.b.EmitJump(vm.OpJump, cont)
	g.popLoop()
	g.b.Mark(exit)
	g.closeScope()
	g.b.Emit(vm.OpPushUnit)
}

func (g *funcGen) loop(e *LoopExpr) {
	cont, brk := g.b.NewLabel(), g.b.NewLabel()
	g.openScope(e)
	result, _ := g.res.Slot(e)
	g.b.Mark(cont)
	g.pushLoop(&loopCtx{brk: brk, cont: cont, result: result})
	g.block(e.Body)
	g.b.Emit(vm.OpPop)
	g.b.EmitJump(vm.OpJump, cont)
	g.popLoop()
	g.b.Mark(brk)
	g.b.EmitUint16(vm.OpLoadLocal, uint16(result))
	g.closeScope()
}

func (g *funcGen) forExpr(e *ForExpr) {
	g.expr(e.Iter)
	g.at(e.Iter.Span())
	g.b.Emit(vm.OpIter)
	g.openScope(e)
	iter, _ := g.res.Slot(e)
	g.b.EmitUint16(vm.OpStoreLocal, uint16(iter))

	cont, exit, fail := g.b.NewLabel(), g.b.NewLabel(), g.b.NewLabel()
	g.b.Mark(cont)
	depth := g.b.Depth()
	g.at(e.SpanVal)
	g.b.EmitIterNext(uint16(iter), exit)
	g.pattern(e.Pattern, fail)
	g.pushLoop(&loopCtx{brk: exit, cont: cont, result: -1})
	g.block(e.Body)
	g.b.Emit(vm.OpPop)
	g.b.EmitJump(vm.OpJump, cont)
	g.popLoop()
	if isRefutable(e.Pattern) {
		g.b.Mark(fail)
		g.at(e.Pattern.Span())
		g.b.EmitByte(vm.OpFault, byte(vm.KindPatternMismatch))
		g.b.SetDepth(depth)
	}
	g.b.Mark(exit)
	g.closeScope()
	g.b.Emit(vm.OpPushUnit)
}

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// pattern consumes the value on top of the stack, binding names when it
// matches and jumping to fail when it does not. Either way the value is
// gone from the stack.
func (g *funcGen) pattern(p Pattern, fail *vm.Label) {
	switch p := p.(type) {
	case *WildcardPat:
		g.b.Emit(vm.OpPop)

	case *BindPat:
		ref, _ := g.res.Ref(p)
		if ref.Boxed() {
			g.b.Emit(vm.OpNewCell)
		}
		g.at(p.SpanVal)
		g.b.EmitUint16(vm.OpStoreLocal, uint16(ref.Index))

	case *LitPat:
		g.pushConst(litConst(p.Lit), p.SpanVal)
		g.at(p.SpanVal)
		g.b.Emit(vm.OpEq)
		g.b.EmitJump(vm.OpJumpIfFalse, fail)

	case *PathPat:
		ref, _ := g.res.Ref(p.Path)
		g.at(p.SpanVal)
		if ref.Kind == RefConst {
			v, _ := g.res.Const(ref.Name)
			g.pushConst(v, p.SpanVal)
			g.b.Emit(vm.OpEq)
		} else {
			g.b.EmitUint16(vm.OpIsType, uint16(ref.Index))
		}
		g.b.EmitJump(vm.OpJumpIfFalse, fail)

	case *TuplePat:
		slot := g.testComposite(p, vm.OpIsTuple, len(p.Items))
		g.b.EmitJump(vm.OpJumpIfFalse, fail)
		for i, item := range p.Items {
			g.b.EmitUint16(vm.OpLoadLocal, slot)
			g.b.EmitUint16(vm.OpTupleIndexGet, uint16(i))
			g.pattern(item, fail)
		}

	case *VecPat:
		slot := g.testComposite(p, vm.OpIsVec, len(p.Items))
		g.b.EmitJump(vm.OpJumpIfFalse, fail)
		for i, item := range p.Items {
			g.b.EmitUint16(vm.OpLoadLocal, slot)
			g.pushConst(ConstValue{Kind: ConstInt, Int: int64(i)}, p.SpanVal)
			g.b.Emit(vm.OpIndexGet)
			g.pattern(item, fail)
		}

	case *TupleStructPat:
		ref, _ := g.res.Ref(p.Path)
		slot := g.testComposite(p, vm.OpIsType, ref.Index)
		g.b.EmitJump(vm.OpJumpIfFalse, fail)
		for i, item := range p.Items {
			g.b.EmitUint16(vm.OpLoadLocal, slot)
			g.b.EmitUint16(vm.OpTupleIndexGet, uint16(i))
			g.pattern(item, fail)
		}

	case *StructPat:
		ref, _ := g.res.Ref(p.Path)
		slot := g.testComposite(p, vm.OpIsType, ref.Index)
		g.b.EmitJump(vm.OpJumpIfFalse, fail)
		for _, f := range p.Fields {
			g.b.EmitUint16(vm.OpLoadLocal, slot)
			g.b.EmitUint16(vm.OpFieldGet, uint16(g.u.stringConst(f.Name.Name, f.Name.Span)))
			g.pattern(f.Pattern, fail)
		}
	}
}

// testComposite stores the value in the pattern's temporary and pushes
// the result of the shape test.
func (g *funcGen) testComposite(p Pattern, test vm.Opcode, operand int) uint16 {
	s, _ := g.res.Slot(p)
	slot := uint16(s)
	g.at(p.Span())
	g.b.EmitUint16(vm.OpStoreLocal, slot)
	g.b.EmitUint16(vm.OpLoadLocal, slot)
	g.b.EmitUint16(test, g.u16(operand, p.Span(), "pattern length"))
	return slot
}
