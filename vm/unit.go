package vm

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// UnitVersion is the format version of compiled units. Units carrying a
// different version are rejected at deserialization.
const UnitVersion uint32 = 1

// Span is a half-open byte range in the source a unit was compiled from.
type Span struct {
	Start int `cbor:"1,keyasint"`
	End   int `cbor:"2,keyasint"`
}

// Len returns the number of bytes covered.
func (s Span) Len() int { return s.End - s.Start }

// Join returns the smallest span covering both.
func (s Span) Join(o Span) Span {
	return Span{Start: min(s.Start, o.Start), End: max(s.End, o.End)}
}

func (s Span) String() string { return fmt.Sprintf("%d..%d", s.Start, s.End) }

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstInt ConstKind = iota + 1
	ConstFloat
	ConstString
	ConstChar
	ConstKeys // ordered list of field or object keys
)

// Constant is an entry in a unit's constant pool.
type Constant struct {
	Kind  ConstKind `cbor:"1,keyasint"`
	Int   int64     `cbor:"2,keyasint,omitempty"`
	Float float64   `cbor:"3,keyasint,omitempty"`
	Str   string    `cbor:"4,keyasint,omitempty"`
	Keys  []string  `cbor:"5,keyasint,omitempty"`
}

// Key returns a string identifying the constant for deduplication.
func (c Constant) Key() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("i:%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("f:%x", math.Float64bits(c.Float))
	case ConstString:
		return "s:" + c.Str
	case ConstChar:
		return fmt.Sprintf("c:%d", c.Int)
	case ConstKeys:
		return "k:" + strings.Join(c.Keys, "\x00")
	}
	return "?"
}

func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return fmt.Sprintf("%d", c.Int)
	case ConstFloat:
		return fmt.Sprintf("%g", c.Float)
	case ConstString:
		return fmt.Sprintf("%q", c.Str)
	case ConstChar:
		return fmt.Sprintf("%q", rune(c.Int))
	case ConstKeys:
		return "{" + strings.Join(c.Keys, ", ") + "}"
	}
	return "?"
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

// FunctionFlags describe how a function may be invoked.
type FunctionFlags uint8

const (
	FlagAsync    FunctionFlags = 1 << iota // calling produces a future
	FlagClosure                            // body of a closure expression
	FlagInstance                           // takes self as first parameter
)

// DebugEntry maps the instruction at Offset (and those after it, up to
// the next entry) to a source span.
type DebugEntry struct {
	Offset int  `cbor:"1,keyasint"`
	Span   Span `cbor:"2,keyasint"`
}

// Function is a compiled function body.
type Function struct {
	Name        string        `cbor:"1,keyasint"`
	Arity       int           `cbor:"2,keyasint"`
	NumLocals   int           `cbor:"3,keyasint"`
	NumUpvalues int           `cbor:"4,keyasint,omitempty"`
	MaxStack    int           `cbor:"5,keyasint"`
	Flags       FunctionFlags `cbor:"6,keyasint,omitempty"`
	Code        []byte        `cbor:"7,keyasint"`
	Debug       []DebugEntry  `cbor:"8,keyasint,omitempty"`
	Params      []string      `cbor:"9,keyasint,omitempty"`
	Span        Span          `cbor:"10,keyasint"`
}

// IsAsync reports whether calling the function yields a future.
func (f *Function) IsAsync() bool { return f.Flags&FlagAsync != 0 }

// IsClosure reports whether the function is a closure body.
func (f *Function) IsClosure() bool { return f.Flags&FlagClosure != 0 }

// IsInstance reports whether the function is an instance function.
func (f *Function) IsInstance() bool { return f.Flags&FlagInstance != 0 }

// SpanAt returns the source span recorded for the instruction at offset.
func (f *Function) SpanAt(offset int) Span {
	i, found := slices.BinarySearchFunc(f.Debug, offset, func(e DebugEntry, t int) int {
		return e.Offset - t
	})
	if found {
		return f.Debug[i].Span
	}
	if i == 0 {
		return f.Span
	}
	return f.Debug[i-1].Span
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// TypeKind distinguishes the shapes of user-declared types.
type TypeKind uint8

const (
	TypeUnitStruct TypeKind = iota + 1
	TypeTupleStruct
	TypeStruct
	TypeUnitVariant
	TypeTupleVariant
	TypeStructVariant
)

// IsVariant reports whether the type is an enum variant.
func (k TypeKind) IsVariant() bool {
	return k == TypeUnitVariant || k == TypeTupleVariant || k == TypeStructVariant
}

// HasNamedFields reports whether fields are addressed by name.
func (k TypeKind) HasNamedFields() bool {
	return k == TypeStruct || k == TypeStructVariant
}

// TypeDef declares a struct, tuple struct or enum variant.
type TypeDef struct {
	Name    string   `cbor:"1,keyasint"` // "Point" or "Shape::Circle"
	Kind    TypeKind `cbor:"2,keyasint"`
	Fields  []string `cbor:"3,keyasint,omitempty"`
	Arity   int      `cbor:"4,keyasint,omitempty"`
	Enum    string   `cbor:"5,keyasint,omitempty"`
	Builtin bool     `cbor:"6,keyasint,omitempty"`
}

// Import is a name the unit expects to be supplied at link time.
type Import struct {
	Name string `cbor:"1,keyasint"`
	Span Span   `cbor:"2,keyasint"`
}

// ---------------------------------------------------------------------------
// Unit
// ---------------------------------------------------------------------------

// Unit is the immutable output of compiling one module.
type Unit struct {
	Version    uint32      `cbor:"1,keyasint"`
	Name       string      `cbor:"2,keyasint"`
	SourceName string      `cbor:"3,keyasint,omitempty"`
	Constants  []Constant  `cbor:"4,keyasint,omitempty"`
	Functions  []*Function `cbor:"5,keyasint,omitempty"`
	Types      []TypeDef   `cbor:"6,keyasint,omitempty"`
	Imports    []Import    `cbor:"7,keyasint,omitempty"`
}

// NewUnit returns an empty unit for the named module.
func NewUnit(name string) *Unit {
	return &Unit{Version: UnitVersion, Name: name}
}

// FunctionIndex returns the index of the non-closure function with the
// given name.
func (u *Unit) FunctionIndex(name string) (int, bool) {
	for i, f := range u.Functions {
		if f.Name == name && !f.IsClosure() {
			return i, true
		}
	}
	return -1, false
}

// Exports returns the names of callable functions in declaration order.
func (u *Unit) Exports() []string {
	var names []string
	for _, f := range u.Functions {
		if !f.IsClosure() {
			names = append(names, f.Name)
		}
	}
	return names
}

func (u *Unit) keyCount(i int) int {
	if i < 0 || i >= len(u.Constants) {
		return 0
	}
	return len(u.Constants[i].Keys)
}

func (u *Unit) typeArity(i int) int {
	if i < 0 || i >= len(u.Types) {
		return 0
	}
	return u.Types[i].Arity
}

// Validate checks that every instruction decodes and every operand
// refers to an existing constant, function, type, import, slot or
// instruction boundary.
func (u *Unit) Validate() error {
	for fi, f := range u.Functions {
		if err := u.validateFunction(f); err != nil {
			return fmt.Errorf("function %d (%s): %w", fi, f.Name, err)
		}
	}
	for i, t := range u.Types {
		if t.Kind < TypeUnitStruct || t.Kind > TypeStructVariant {
			return fmt.Errorf("%w: type %d has kind %d", ErrInvalidOperand, i, t.Kind)
		}
		if t.Kind.HasNamedFields() && len(t.Fields) != t.Arity {
			return fmt.Errorf("%w: type %s declares %d fields with arity %d", ErrInvalidOperand, t.Name, len(t.Fields), t.Arity)
		}
	}
	return nil
}

func (u *Unit) validateFunction(f *Function) error {
	if f.Arity > f.NumLocals {
		return fmt.Errorf("%w: arity %d exceeds %d locals", ErrInvalidOperand, f.Arity, f.NumLocals)
	}
	boundaries := make(map[int]bool)
	var jumps []Instruction
	for pos := 0; pos < len(f.Code); {
		in, err := Decode(f.Code, pos)
		if err != nil {
			return err
		}
		boundaries[pos] = true
		if err := u.checkOperands(f, in); err != nil {
			return err
		}
		if in.Op.IsJump() {
			jumps = append(jumps, in)
		}
		pos += in.Size
	}
	boundaries[len(f.Code)] = true
	for _, in := range jumps {
		if !boundaries[in.Target()] {
			return fmt.Errorf("%w: %s at %d jumps to %d", ErrInvalidOperand, in.Op, in.Offset, in.Target())
		}
	}
	return nil
}

func (u *Unit) checkOperands(f *Function, in Instruction) error {
	bad := func(what string, v int) error {
		return fmt.Errorf("%w: %s at %d references %s %d", ErrInvalidOperand, in.Op, in.Offset, what, v)
	}
	constOf := func(i int, kinds ...ConstKind) error {
		if i >= len(u.Constants) || !slices.Contains(kinds, u.Constants[i].Kind) {
			return bad("constant", i)
		}
		return nil
	}
	switch in.Op {
	case OpPushConst:
		return constOf(in.Operands[0], ConstInt, ConstFloat, ConstString, ConstChar)
	case OpCallInstance, OpFieldGet, OpFieldSet:
		return constOf(in.Operands[0], ConstString)
	case OpObject:
		return constOf(in.Operands[0], ConstKeys)
	case OpStruct:
		if in.Operands[0] >= len(u.Types) {
			return bad("type", in.Operands[0])
		}
		return constOf(in.Operands[1], ConstKeys)
	case OpLoadLocal, OpStoreLocal, OpDropLocal, OpLoadLocalCell, OpStoreLocalCell, OpBoxLocal, OpIterNext:
		if in.Operands[0] >= f.NumLocals {
			return bad("local", in.Operands[0])
		}
	case OpLoadUpvalue, OpLoadUpvalueCell, OpStoreUpvalueCell:
		if in.Operands[0] >= f.NumUpvalues {
			return bad("upvalue", in.Operands[0])
		}
	case OpLoadFn, OpCallFn:
		if in.Operands[0] >= len(u.Functions) {
			return bad("function", in.Operands[0])
		}
	case OpClosure:
		if in.Operands[0] >= len(u.Functions) {
			return bad("function", in.Operands[0])
		}
		if u.Functions[in.Operands[0]].NumUpvalues != in.Operands[1] {
			return bad("capture count", in.Operands[1])
		}
	case OpLoadImport, OpCallImport:
		if in.Operands[0] >= len(u.Imports) {
			return bad("import", in.Operands[0])
		}
	case OpTupleStruct, OpIsType:
		if in.Operands[0] >= len(u.Types) {
			return bad("type", in.Operands[0])
		}
	case OpFault:
		if ErrorKind(in.Operands[0]) >= numErrorKinds {
			return bad("fault kind", in.Operands[0])
		}
	}
	return nil
}

// Equal reports structural equality. Nil and empty slices compare equal.
func (u *Unit) Equal(o *Unit) bool {
	if u == nil || o == nil {
		return u == o
	}
	if u.Version != o.Version || u.Name != o.Name || u.SourceName != o.SourceName {
		return false
	}
	if !slices.EqualFunc(u.Constants, o.Constants, func(a, b Constant) bool {
		return a.Key() == b.Key() && a.Kind == b.Kind
	}) {
		return false
	}
	if !slices.EqualFunc(u.Types, o.Types, func(a, b TypeDef) bool {
		return a.Name == b.Name && a.Kind == b.Kind && a.Arity == b.Arity &&
			a.Enum == b.Enum && a.Builtin == b.Builtin && slices.Equal(a.Fields, b.Fields)
	}) {
		return false
	}
	if !slices.Equal(u.Imports, o.Imports) {
		return false
	}
	return slices.EqualFunc(u.Functions, o.Functions, func(a, b *Function) bool {
		return a.Name == b.Name && a.Arity == b.Arity && a.NumLocals == b.NumLocals &&
			a.NumUpvalues == b.NumUpvalues && a.MaxStack == b.MaxStack && a.Flags == b.Flags &&
			a.Span == b.Span && slices.Equal(a.Code, b.Code) && slices.Equal(a.Debug, b.Debug) &&
			slices.Equal(a.Params, b.Params)
	})
}

// Disassemble renders every function of the unit.
func (u *Unit) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "unit %s (version %d)\n", u.Name, u.Version)
	for i, c := range u.Constants {
		fmt.Fprintf(&sb, "  const %d = %s\n", i, c)
	}
	for i, t := range u.Types {
		fmt.Fprintf(&sb, "  type %d = %s %v\n", i, t.Name, t.Fields)
	}
	for i, imp := range u.Imports {
		fmt.Fprintf(&sb, "  import %d = %s\n", i, imp.Name)
	}
	for i, f := range u.Functions {
		fmt.Fprintf(&sb, "\nfn %d %s/%d locals=%d upvalues=%d stack=%d\n", i, f.Name, f.Arity, f.NumLocals, f.NumUpvalues, f.MaxStack)
		sb.WriteString(Disassemble(f.Code))
		sb.WriteString("\n")
	}
	return sb.String()
}
