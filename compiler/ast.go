package compiler

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for Rill
// ---------------------------------------------------------------------------

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Ident is a name with its source span.
type Ident struct {
	Name string
	Span Span
}

// File is a parsed source file.
type File struct {
	SpanVal Span
	Items   []Item
}

func (n *File) Span() Span { return n.SpanVal }
func (n *File) node()      {}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// Item is the interface for top-level declarations.
type Item interface {
	Node
	item() // marker method
}

// Param is a function or closure parameter.
type Param struct {
	SpanVal Span
	Name    string // "_" for an ignored parameter, "self" for a receiver
}

func (n *Param) Span() Span { return n.SpanVal }
func (n *Param) node()      {}

// IsSelf reports whether the parameter is a method receiver.
func (n *Param) IsSelf() bool { return n.Name == "self" }

// FnItem is a function declaration, free or inside an impl block.
type FnItem struct {
	SpanVal Span
	Name    Ident
	Params  []*Param
	Body    *BlockExpr
	Async   bool
	Pub     bool
	Owner   string // impl type name, empty for free functions
}

func (n *FnItem) Span() Span { return n.SpanVal }
func (n *FnItem) node()      {}
func (n *FnItem) item()      {}

// QualifiedName returns the unit-level name, "Type::name" for impl functions.
func (n *FnItem) QualifiedName() string {
	if n.Owner != "" {
		return n.Owner + "::" + n.Name.Name
	}
	return n.Name.Name
}

// HasSelf reports whether the function takes a receiver.
func (n *FnItem) HasSelf() bool {
	return len(n.Params) > 0 && n.Params[0].IsSelf()
}

// ShapeKind is the field layout of a struct or variant.
type ShapeKind uint8

const (
	ShapeUnit ShapeKind = iota
	ShapeTuple
	ShapeNamed
)

// StructItem declares a struct.
type StructItem struct {
	SpanVal Span
	Name    Ident
	Shape   ShapeKind
	Fields  []Ident
	Pub     bool
}

func (n *StructItem) Span() Span { return n.SpanVal }
func (n *StructItem) node()      {}
func (n *StructItem) item()      {}

// Variant is one variant of an enum.
type Variant struct {
	SpanVal Span
	Name    Ident
	Shape   ShapeKind
	Fields  []Ident
}

// EnumItem declares an enum.
type EnumItem struct {
	SpanVal  Span
	Name     Ident
	Variants []*Variant
	Pub      bool
}

func (n *EnumItem) Span() Span { return n.SpanVal }
func (n *EnumItem) node()      {}
func (n *EnumItem) item()      {}

// ImplItem attaches functions to a type.
type ImplItem struct {
	SpanVal Span
	Type    Ident
	Fns     []*FnItem
}

func (n *ImplItem) Span() Span { return n.SpanVal }
func (n *ImplItem) node()      {}
func (n *ImplItem) item()      {}

// UseItem imports a path under its last segment or an alias.
type UseItem struct {
	SpanVal Span
	Path    []Ident
	Alias   *Ident
}

func (n *UseItem) Span() Span { return n.SpanVal }
func (n *UseItem) node()      {}
func (n *UseItem) item()      {}

// LocalName returns the name the use brings into scope.
func (n *UseItem) LocalName() Ident {
	if n.Alias != nil {
		return *n.Alias
	}
	return n.Path[len(n.Path)-1]
}

// ConstItem declares a compile-time constant.
type ConstItem struct {
	SpanVal Span
	Name    Ident
	Value   Expr
	Pub     bool
}

func (n *ConstItem) Span() Span { return n.SpanVal }
func (n *ConstItem) node()      {}
func (n *ConstItem) item()      {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Stmt is the interface for statements.
type Stmt interface {
	Node
	stmt() // marker method
}

// LetStmt binds a pattern.
type LetStmt struct {
	SpanVal Span
	Pattern Pattern
	Value   Expr
}

func (n *LetStmt) Span() Span { return n.SpanVal }
func (n *LetStmt) node()      {}
func (n *LetStmt) stmt()      {}

// ExprStmt evaluates an expression for its effect.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
	Semi    bool
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// LitKind is the kind of a literal.
type LitKind uint8

const (
	LitUnit LitKind = iota
	LitBool
	LitInt
	LitFloat
	LitString
	LitChar
)

// LitExpr is a literal value.
type LitExpr struct {
	SpanVal Span
	Kind    LitKind
	Bool    bool
	Int     int64
	Float   float64
	Str     string
	Char    rune
}

func (n *LitExpr) Span() Span { return n.SpanVal }
func (n *LitExpr) node()      {}
func (n *LitExpr) expr()      {}

// PathExpr is a name or a `::` separated path.
type PathExpr struct {
	SpanVal  Span
	Segments []Ident
}

func (n *PathExpr) Span() Span { return n.SpanVal }
func (n *PathExpr) node()      {}
func (n *PathExpr) expr()      {}

// String returns the path joined with "::".
func (n *PathExpr) String() string {
	s := n.Segments[0].Name
	for _, seg := range n.Segments[1:] {
		s += "::" + seg.Name
	}
	return s
}

// Last returns the final segment.
func (n *PathExpr) Last() Ident { return n.Segments[len(n.Segments)-1] }

// SelfExpr is the receiver of an instance function.
type SelfExpr struct {
	SpanVal Span
}

func (n *SelfExpr) Span() Span { return n.SpanVal }
func (n *SelfExpr) node()      {}
func (n *SelfExpr) expr()      {}

// TemplateExpr is a template string; text parts are string literals.
type TemplateExpr struct {
	SpanVal Span
	Parts   []Expr
}

func (n *TemplateExpr) Span() Span { return n.SpanVal }
func (n *TemplateExpr) node()      {}
func (n *TemplateExpr) expr()      {}

// TupleExpr builds a tuple of two or more items, or one with a trailing comma.
type TupleExpr struct {
	SpanVal Span
	Items   []Expr
}

func (n *TupleExpr) Span() Span { return n.SpanVal }
func (n *TupleExpr) node()      {}
func (n *TupleExpr) expr()      {}

// VecExpr builds a vector.
type VecExpr struct {
	SpanVal Span
	Items   []Expr
}

func (n *VecExpr) Span() Span { return n.SpanVal }
func (n *VecExpr) node()      {}
func (n *VecExpr) expr()      {}

// ObjectField is a `key: value` entry of an object literal.
type ObjectField struct {
	Key   Ident
	Value Expr
}

// ObjectExpr builds an anonymous object `#{k: v}`.
type ObjectExpr struct {
	SpanVal Span
	Fields  []*ObjectField
}

func (n *ObjectExpr) Span() Span { return n.SpanVal }
func (n *ObjectExpr) node()      {}
func (n *ObjectExpr) expr()      {}

// FieldInit is a field of a struct literal. Value is a path to the
// field name for the shorthand form.
type FieldInit struct {
	Name  Ident
	Value Expr
}

// StructLitExpr builds a struct or struct variant with named fields.
type StructLitExpr struct {
	SpanVal Span
	Path    *PathExpr
	Fields  []*FieldInit
}

func (n *StructLitExpr) Span() Span { return n.SpanVal }
func (n *StructLitExpr) node()      {}
func (n *StructLitExpr) expr()      {}

// BlockExpr is a braced sequence of statements with an optional tail.
type BlockExpr struct {
	SpanVal Span
	Stmts   []Stmt
	Tail    Expr
}

func (n *BlockExpr) Span() Span { return n.SpanVal }
func (n *BlockExpr) node()      {}
func (n *BlockExpr) expr()      {}

// LetCondExpr is the `let pattern = value` condition of if and while.
type LetCondExpr struct {
	SpanVal Span
	Pattern Pattern
	Value   Expr
}

func (n *LetCondExpr) Span() Span { return n.SpanVal }
func (n *LetCondExpr) node()      {}
func (n *LetCondExpr) expr()      {}

// IfExpr is a conditional; Else is nil, a *BlockExpr or an *IfExpr.
type IfExpr struct {
	SpanVal Span
	Cond    Expr
	Then    *BlockExpr
	Else    Expr
}

func (n *IfExpr) Span() Span { return n.SpanVal }
func (n *IfExpr) node()      {}
func (n *IfExpr) expr()      {}

// MatchArm is one arm of a match.
type MatchArm struct {
	SpanVal Span
	Pattern Pattern
	Guard   Expr
	Body    Expr
}

func (n *MatchArm) Span() Span { return n.SpanVal }
func (n *MatchArm) node()      {}

// MatchExpr matches a value against arms in order.
type MatchExpr struct {
	SpanVal   Span
	Scrutinee Expr
	Arms      []*MatchArm
}

func (n *MatchExpr) Span() Span { return n.SpanVal }
func (n *MatchExpr) node()      {}
func (n *MatchExpr) expr()      {}

// WhileExpr loops while a condition holds.
type WhileExpr struct {
	SpanVal Span
	Cond    Expr
	Body    *BlockExpr
}

func (n *WhileExpr) Span() Span { return n.SpanVal }
func (n *WhileExpr) node()      {}
func (n *WhileExpr) expr()      {}

// LoopExpr loops until a break; its value is the break value.
type LoopExpr struct {
	SpanVal Span
	Body    *BlockExpr
}

func (n *LoopExpr) Span() Span { return n.SpanVal }
func (n *LoopExpr) node()      {}
func (n *LoopExpr) expr()      {}

// ForExpr iterates over an iterable.
type ForExpr struct {
	SpanVal Span
	Pattern Pattern
	Iter    Expr
	Body    *BlockExpr
}

func (n *ForExpr) Span() Span { return n.SpanVal }
func (n *ForExpr) node()      {}
func (n *ForExpr) expr()      {}

// BreakExpr leaves the innermost loop.
type BreakExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *BreakExpr) Span() Span { return n.SpanVal }
func (n *BreakExpr) node()      {}
func (n *BreakExpr) expr()      {}

// ContinueExpr starts the next iteration of the innermost loop.
type ContinueExpr struct {
	SpanVal Span
}

func (n *ContinueExpr) Span() Span { return n.SpanVal }
func (n *ContinueExpr) node()      {}
func (n *ContinueExpr) expr()      {}

// ReturnExpr returns from the enclosing function.
type ReturnExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *ReturnExpr) Span() Span { return n.SpanVal }
func (n *ReturnExpr) node()      {}
func (n *ReturnExpr) expr()      {}

// ClosureExpr is an anonymous function `|a, b| body`.
type ClosureExpr struct {
	SpanVal Span
	Params  []*Param
	Body    Expr
}

func (n *ClosureExpr) Span() Span { return n.SpanVal }
func (n *ClosureExpr) node()      {}
func (n *ClosureExpr) expr()      {}

// CallExpr calls a callee with arguments.
type CallExpr struct {
	SpanVal Span
	Callee  Expr
	Args    []Expr
}

func (n *CallExpr) Span() Span { return n.SpanVal }
func (n *CallExpr) node()      {}
func (n *CallExpr) expr()      {}

// MethodCallExpr calls an instance function `recv.name(args)`.
type MethodCallExpr struct {
	SpanVal  Span
	Receiver Expr
	Name     Ident
	Args     []Expr
}

func (n *MethodCallExpr) Span() Span { return n.SpanVal }
func (n *MethodCallExpr) node()      {}
func (n *MethodCallExpr) expr()      {}

// FieldExpr reads a named field.
type FieldExpr struct {
	SpanVal Span
	Target  Expr
	Name    Ident
}

func (n *FieldExpr) Span() Span { return n.SpanVal }
func (n *FieldExpr) node()      {}
func (n *FieldExpr) expr()      {}

// TupleIndexExpr reads a positional field `t.0`.
type TupleIndexExpr struct {
	SpanVal Span
	Target  Expr
	Index   int
}

func (n *TupleIndexExpr) Span() Span { return n.SpanVal }
func (n *TupleIndexExpr) node()      {}
func (n *TupleIndexExpr) expr()      {}

// IndexExpr indexes a vector, tuple, object or string.
type IndexExpr struct {
	SpanVal Span
	Target  Expr
	Index   Expr
}

func (n *IndexExpr) Span() Span { return n.SpanVal }
func (n *IndexExpr) node()      {}
func (n *IndexExpr) expr()      {}

// TryExpr is the `?` operator.
type TryExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *TryExpr) Span() Span { return n.SpanVal }
func (n *TryExpr) node()      {}
func (n *TryExpr) expr()      {}

// AwaitExpr is `.await`.
type AwaitExpr struct {
	SpanVal Span
	Value   Expr
}

func (n *AwaitExpr) Span() Span { return n.SpanVal }
func (n *AwaitExpr) node()      {}
func (n *AwaitExpr) expr()      {}

// UnaryOp is a prefix operator.
type UnaryOp uint8

const (
	UnaryNeg UnaryOp = iota
	UnaryNot
)

func (op UnaryOp) String() string {
	if op == UnaryNeg {
		return "-"
	}
	return "!"
}

// UnaryExpr applies a prefix operator.
type UnaryExpr struct {
	SpanVal Span
	Op      UnaryOp
	Operand Expr
}

func (n *UnaryExpr) Span() Span { return n.SpanVal }
func (n *UnaryExpr) node()      {}
func (n *UnaryExpr) expr()      {}

// BinaryOp is an infix operator.
type BinaryOp uint8

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinBitAnd
	BinBitOr
	BinBitXor
	BinShl
	BinShr
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	BinAnd
	BinOr
)

var binaryOpNames = [...]string{
	BinAdd: "+", BinSub: "-", BinMul: "*", BinDiv: "/", BinRem: "%",
	BinBitAnd: "&", BinBitOr: "|", BinBitXor: "^", BinShl: "<<", BinShr: ">>",
	BinEq: "==", BinNe: "!=", BinLt: "<", BinLe: "<=", BinGt: ">", BinGe: ">=",
	BinAnd: "&&", BinOr: "||",
}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// IsComparison reports whether the operator is non-associative.
func (op BinaryOp) IsComparison() bool {
	return op >= BinEq && op <= BinGe
}

// BinaryExpr applies an infix operator.
type BinaryExpr struct {
	SpanVal Span
	Op      BinaryOp
	Left    Expr
	Right   Expr
}

func (n *BinaryExpr) Span() Span { return n.SpanVal }
func (n *BinaryExpr) node()      {}
func (n *BinaryExpr) expr()      {}

// AssignExpr assigns to a place. Compound is set for `op=` forms.
type AssignExpr struct {
	SpanVal  Span
	Target   Expr
	Value    Expr
	Compound bool
	Op       BinaryOp
}

func (n *AssignExpr) Span() Span { return n.SpanVal }
func (n *AssignExpr) node()      {}
func (n *AssignExpr) expr()      {}

// RangeExpr builds an integer range.
type RangeExpr struct {
	SpanVal   Span
	Start     Expr
	End       Expr
	Inclusive bool
}

func (n *RangeExpr) Span() Span { return n.SpanVal }
func (n *RangeExpr) node()      {}
func (n *RangeExpr) expr()      {}

// BadExpr stands in for an expression that failed to parse.
type BadExpr struct {
	SpanVal Span
}

func (n *BadExpr) Span() Span { return n.SpanVal }
func (n *BadExpr) node()      {}
func (n *BadExpr) expr()      {}

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// Pattern is the interface for pattern nodes.
type Pattern interface {
	Node
	pattern() // marker method
}

// WildcardPat matches anything.
type WildcardPat struct {
	SpanVal Span
}

func (n *WildcardPat) Span() Span { return n.SpanVal }
func (n *WildcardPat) node()      {}
func (n *WildcardPat) pattern()   {}

// BindPat binds the value to a name.
type BindPat struct {
	SpanVal Span
	Name    Ident
}

func (n *BindPat) Span() Span { return n.SpanVal }
func (n *BindPat) node()      {}
func (n *BindPat) pattern()   {}

// LitPat compares against a literal.
type LitPat struct {
	SpanVal Span
	Lit     *LitExpr
}

func (n *LitPat) Span() Span { return n.SpanVal }
func (n *LitPat) node()      {}
func (n *LitPat) pattern()   {}

// TuplePat matches a tuple of exact length.
type TuplePat struct {
	SpanVal Span
	Items   []Pattern
}

func (n *TuplePat) Span() Span { return n.SpanVal }
func (n *TuplePat) node()      {}
func (n *TuplePat) pattern()   {}

// VecPat matches a vector of exact length.
type VecPat struct {
	SpanVal Span
	Items   []Pattern
}

func (n *VecPat) Span() Span { return n.SpanVal }
func (n *VecPat) node()      {}
func (n *VecPat) pattern()   {}

// PathPat matches a unit struct, unit variant or constant.
type PathPat struct {
	SpanVal Span
	Path    *PathExpr
}

func (n *PathPat) Span() Span { return n.SpanVal }
func (n *PathPat) node()      {}
func (n *PathPat) pattern()   {}

// TupleStructPat matches a tuple struct or tuple variant.
type TupleStructPat struct {
	SpanVal Span
	Path    *PathExpr
	Items   []Pattern
}

func (n *TupleStructPat) Span() Span { return n.SpanVal }
func (n *TupleStructPat) node()      {}
func (n *TupleStructPat) pattern()   {}

// FieldPat is a field of a struct pattern. The shorthand `{ x }` is
// parsed as a binding pattern named after the field.
type FieldPat struct {
	Name    Ident
	Pattern Pattern
}

// StructPat matches a struct or struct variant by field.
type StructPat struct {
	SpanVal Span
	Path    *PathExpr
	Fields  []*FieldPat
}

func (n *StructPat) Span() Span { return n.SpanVal }
func (n *StructPat) node()      {}
func (n *StructPat) pattern()   {}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// isBlockLike reports whether an expression ends with a block and may
// stand as a statement without a semicolon.
func isBlockLike(e Expr) bool {
	switch e.(type) {
	case *BlockExpr, *IfExpr, *MatchExpr, *WhileExpr, *LoopExpr, *ForExpr:
		return true
	}
	return false
}

// isRefutable reports whether a pattern can fail to match. Composite
// patterns always check the shape of the value.
func isRefutable(p Pattern) bool {
	switch p.(type) {
	case *WildcardPat, *BindPat:
		return false
	}
	return true
}
