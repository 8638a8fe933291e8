package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/rill/vm"
)

// ---------------------------------------------------------------------------
// Compile-time values
// ---------------------------------------------------------------------------

// ConstKind is the kind of a compile-time value.
type ConstKind uint8

const (
	ConstUnit ConstKind = iota
	ConstBool
	ConstInt
	ConstFloat
	ConstString
	ConstChar
	ConstVec
	ConstTuple
	ConstObject
)

// ConstValue is the value of a `const` item or a folded expression.
type ConstValue struct {
	Kind  ConstKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Char  rune
	Items []ConstValue
	Keys  []string // object keys, parallel to Items
}

// IsScalar reports whether the value fits in a single constant slot.
func (c ConstValue) IsScalar() bool {
	return c.Kind <= ConstChar
}

func (c ConstValue) String() string {
	switch c.Kind {
	case ConstUnit:
		return "()"
	case ConstBool:
		return fmt.Sprint(c.Bool)
	case ConstInt:
		return fmt.Sprint(c.Int)
	case ConstFloat:
		return fmt.Sprint(c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstChar:
		return fmt.Sprintf("%q", c.Char)
	}
	parts := make([]string, len(c.Items))
	for i, item := range c.Items {
		parts[i] = item.String()
		if c.Kind == ConstObject {
			parts[i] = c.Keys[i] + ": " + parts[i]
		}
	}
	switch c.Kind {
	case ConstVec:
		return "[" + strings.Join(parts, ", ") + "]"
	case ConstTuple:
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return "#{" + strings.Join(parts, ", ") + "}"
}

func litConst(l *LitExpr) ConstValue {
	switch l.Kind {
	case LitBool:
		return ConstValue{Kind: ConstBool, Bool: l.Bool}
	case LitInt:
		return ConstValue{Kind: ConstInt, Int: l.Int}
	case LitFloat:
		return ConstValue{Kind: ConstFloat, Float: l.Float}
	case LitString:
		return ConstValue{Kind: ConstString, Str: l.Str}
	case LitChar:
		return ConstValue{Kind: ConstChar, Char: l.Char}
	}
	return ConstValue{Kind: ConstUnit}
}

// toValue converts a scalar or string into an owned VM value.
func (c ConstValue) toValue() vm.Value {
	switch c.Kind {
	case ConstBool:
		return vm.Bool(c.Bool)
	case ConstInt:
		return vm.Int(c.Int)
	case ConstFloat:
		return vm.Float(c.Float)
	case ConstString:
		return vm.NewString(c.Str)
	case ConstChar:
		return vm.Char(c.Char)
	}
	return vm.UnitValue
}

// constFromValue converts an owned scalar or string result back.
func constFromValue(v vm.Value) (ConstValue, bool) {
	defer v.Release()
	switch {
	case v.IsUnit():
		return ConstValue{Kind: ConstUnit}, true
	case v.IsBool():
		return ConstValue{Kind: ConstBool, Bool: v.AsBool()}, true
	case v.IsInt():
		return ConstValue{Kind: ConstInt, Int: v.AsInt()}, true
	case v.IsFloat():
		return ConstValue{Kind: ConstFloat, Float: v.AsFloat()}, true
	case v.IsChar():
		return ConstValue{Kind: ConstChar, Char: v.AsChar()}, true
	}
	if s, ok := v.AsString(); ok {
		return ConstValue{Kind: ConstString, Str: s}, true
	}
	return ConstValue{}, false
}

func binaryOpcode(op BinaryOp) vm.Opcode {
	switch op {
	case BinAdd:
		return vm.OpAdd
	case BinSub:
		return vm.OpSub
	case BinMul:
		return vm.OpMul
	case BinDiv:
		return vm.OpDiv
	case BinRem:
		return vm.OpRem
	case BinBitAnd:
		return vm.OpBitAnd
	case BinBitOr:
		return vm.OpBitOr
	case BinBitXor:
		return vm.OpBitXor
	case BinShl:
		return vm.OpShl
	case BinShr:
		return vm.OpShr
	case BinEq:
		return vm.OpEq
	case BinNe:
		return vm.OpNe
	case BinLt:
		return vm.OpLt
	case BinLe:
		return vm.OpLe
	case BinGt:
		return vm.OpGt
	case BinGe:
		return vm.OpGe
	}
	return vm.OpNop
}

func unaryOpcode(op UnaryOp) vm.Opcode {
	if op == UnaryNeg {
		return vm.OpNeg
	}
	return vm.OpNot
}

// applyConst applies an operator to scalar operands with the VM's own
// semantics.
func applyConst(op vm.Opcode, operands ...ConstValue) (ConstValue, error) {
	vals := make([]vm.Value, len(operands))
	for i, o := range operands {
		if !o.IsScalar() {
			return ConstValue{}, fmt.Errorf("operator %s is not constant for composite values", op.Name())
		}
		vals[i] = o.toValue()
	}
	defer func() {
		for _, v := range vals {
			v.Release()
		}
	}()
	v, err := vm.Apply(op, vals...)
	if err != nil {
		return ConstValue{}, err
	}
	c, ok := constFromValue(v)
	if !ok {
		return ConstValue{}, fmt.Errorf("operator %s did not produce a constant", op.Name())
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Constant expressions
// ---------------------------------------------------------------------------

// constEnv resolves names inside constant expressions.
type constEnv func(path *PathExpr) (ConstValue, *Diagnostic)

func notConstant(e Expr, format string, args ...any) *Diagnostic {
	return &Diagnostic{Severity: SeverityError, Code: CodeNotConstant, Message: fmt.Sprintf(format, args...), Primary: e.Span()}
}

// evalConst evaluates e at compile time.
func evalConst(e Expr, env constEnv) (ConstValue, *Diagnostic) {
	switch e := e.(type) {
	case *LitExpr:
		return litConst(e), nil

	case *PathExpr:
		if env == nil {
			return ConstValue{}, notConstant(e, "`%s` is not a constant", e)
		}
		return env(e)

	case *UnaryExpr:
		v, d := evalConst(e.Operand, env)
		if d != nil {
			return v, d
		}
		r, err := applyConst(unaryOpcode(e.Op), v)
		if err != nil {
			return r, notConstant(e, "constant evaluation failed: %v", err)
		}
		return r, nil

	case *BinaryExpr:
		l, d := evalConst(e.Left, env)
		if d != nil {
			return l, d
		}
		if e.Op == BinAnd || e.Op == BinOr {
			if l.Kind != ConstBool {
				return l, notConstant(e.Left, "constant evaluation failed: expected bool, found %s", l)
			}
			if l.Bool == (e.Op == BinOr) {
				return l, nil
			}
			r, d := evalConst(e.Right, env)
			if d == nil && r.Kind != ConstBool {
				return r, notConstant(e.Right, "constant evaluation failed: expected bool, found %s", r)
			}
			return r, d
		}
		r, d := evalConst(e.Right, env)
		if d != nil {
			return r, d
		}
		v, err := applyConst(binaryOpcode(e.Op), l, r)
		if err != nil {
			return v, notConstant(e, "constant evaluation failed: %v", err)
		}
		return v, nil

	case *TupleExpr:
		return evalConstItems(ConstTuple, e.Items, env)
	case *VecExpr:
		return evalConstItems(ConstVec, e.Items, env)
	case *ObjectExpr:
		obj := ConstValue{Kind: ConstObject}
		for _, f := range e.Fields {
			v, d := evalConst(f.Value, env)
			if d != nil {
				return obj, d
			}
			obj.Keys = append(obj.Keys, f.Key.Name)
			obj.Items = append(obj.Items, v)
		}
		return obj, nil

	case *TemplateExpr:
		var sb strings.Builder
		for _, part := range e.Parts {
			v, d := evalConst(part, env)
			if d != nil {
				return v, d
			}
			if !v.IsScalar() {
				return v, notConstant(part, "only scalar values can be interpolated in a constant")
			}
			val := v.toValue()
			sb.WriteString(vm.Display(val))
			val.Release()
		}
		return ConstValue{Kind: ConstString, Str: sb.String()}, nil
	}
	return ConstValue{}, notConstant(e, "expression is not constant")
}

func evalConstItems(kind ConstKind, items []Expr, env constEnv) (ConstValue, *Diagnostic) {
	out := ConstValue{Kind: kind}
	for _, item := range items {
		v, d := evalConst(item, env)
		if d != nil {
			return out, d
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}
