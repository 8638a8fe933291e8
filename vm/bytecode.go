package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack operations
const (
	OpNop  Opcode = 0x00 // no operation
	OpPop  Opcode = 0x01 // discard top of stack
	OpPopN Opcode = 0x02 // discard n values (8-bit count)
	OpDup  Opcode = 0x03 // duplicate top of stack
)

// Push constants
const (
	OpPushUnit  Opcode = 0x10 // push ()
	OpPushTrue  Opcode = 0x11 // push true
	OpPushFalse Opcode = 0x12 // push false
	OpPushInt8  Opcode = 0x13 // push 8-bit signed integer
	OpPushConst Opcode = 0x14 // push constant (16-bit index)
)

// Locals, cells and upvalues
const (
	OpLoadLocal       Opcode = 0x20 // push local slot (16-bit)
	OpStoreLocal      Opcode = 0x21 // pop into local slot (16-bit)
	OpDropLocal       Opcode = 0x22 // release local slot and reset it to () (16-bit)
	OpNewCell         Opcode = 0x23 // pop value, push a cell holding it
	OpLoadLocalCell   Opcode = 0x24 // push contents of the cell in local slot (16-bit)
	OpStoreLocalCell  Opcode = 0x25 // pop into the cell in local slot (16-bit)
	OpBoxLocal        Opcode = 0x26 // wrap local slot value in a cell in place (16-bit)
	OpLoadUpvalue     Opcode = 0x28 // push captured value (16-bit)
	OpLoadUpvalueCell Opcode = 0x29 // push contents of captured cell (16-bit)
	OpStoreUpvalueCell Opcode = 0x2A // pop into captured cell (16-bit)
)

// Functions and calls
const (
	OpLoadFn       Opcode = 0x30 // push function value (16-bit function index)
	OpLoadImport   Opcode = 0x31 // push linked import (16-bit import index)
	OpClosure      Opcode = 0x32 // pop n captures, push closure (16-bit function, 8-bit n)
	OpCall         Opcode = 0x38 // call callee below argc args (8-bit argc)
	OpCallFn       Opcode = 0x39 // call unit function (16-bit function, 8-bit argc)
	OpCallImport   Opcode = 0x3A // call linked import (16-bit import, 8-bit argc)
	OpCallInstance Opcode = 0x3B // call instance function (16-bit name constant, 8-bit argc)
	OpReturn       Opcode = 0x40 // return top of stack
	OpReturnUnit   Opcode = 0x41 // return ()
)

// Control flow
const (
	OpJump             Opcode = 0x48 // unconditional jump (16-bit offset)
	OpJumpIfFalse      Opcode = 0x49 // pop, jump if false
	OpJumpIfTrue       Opcode = 0x4A // pop, jump if true
	OpJumpIfFalseOrPop Opcode = 0x4B // jump keeping value if false, else pop
	OpJumpIfTrueOrPop  Opcode = 0x4C // jump keeping value if true, else pop
)

// Arithmetic and bitwise operators
const (
	OpAdd    Opcode = 0x50
	OpSub    Opcode = 0x51
	OpMul    Opcode = 0x52
	OpDiv    Opcode = 0x53
	OpRem    Opcode = 0x54
	OpNeg    Opcode = 0x55
	OpNot    Opcode = 0x56
	OpBitAnd Opcode = 0x57
	OpBitOr  Opcode = 0x58
	OpBitXor Opcode = 0x59
	OpShl    Opcode = 0x5A
	OpShr    Opcode = 0x5B
)

// Comparison
const (
	OpEq Opcode = 0x60
	OpNe Opcode = 0x61
	OpLt Opcode = 0x62
	OpLe Opcode = 0x63
	OpGt Opcode = 0x64
	OpGe Opcode = 0x65
)

// Construction
const (
	OpVec         Opcode = 0x68 // pop n, push vector (16-bit n)
	OpTuple       Opcode = 0x69 // pop n, push tuple (16-bit n)
	OpObject      Opcode = 0x6A // pop len(keys), push object (16-bit key-list constant)
	OpStruct      Opcode = 0x6B // pop named fields, push struct (16-bit type, 16-bit key-list constant)
	OpTupleStruct Opcode = 0x6C // pop type arity, push tuple struct or variant (16-bit type)
	OpRange       Opcode = 0x6D // pop start/end, push range (8-bit inclusive flag)
	OpTemplate    Opcode = 0x6E // pop n, push their concatenated display (16-bit n)
)

// Access
const (
	OpIndexGet      Opcode = 0x70 // pop target/index, push element
	OpIndexSet      Opcode = 0x71 // pop target/index/value
	OpFieldGet      Opcode = 0x72 // pop target, push field (16-bit name constant)
	OpFieldSet      Opcode = 0x73 // pop target/value (16-bit name constant)
	OpTupleIndexGet Opcode = 0x74 // pop target, push element (16-bit index)
	OpTupleIndexSet Opcode = 0x75 // pop target/value (16-bit index)
)

// Iteration, async and pattern support
const (
	OpIter     Opcode = 0x78 // pop iterable, push iterator
	OpIterNext Opcode = 0x79 // advance iterator in slot; push item or jump (16-bit slot, 16-bit offset)
	OpTry      Opcode = 0x80 // unwrap Ok/Some or return the value from the frame
	OpAwait    Opcode = 0x81 // run the future on top of stack
	OpIsType   Opcode = 0x82 // pop, push whether value has type (16-bit type)
	OpIsTuple  Opcode = 0x83 // pop, push whether value is a tuple of length n (16-bit n)
	OpIsVec    Opcode = 0x84 // pop, push whether value is a vector of length n (16-bit n)
	OpFault    Opcode = 0x88 // raise a VM error (8-bit kind)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes how an operand is encoded.
type OperandKind uint8

const (
	OperandU8     OperandKind = iota // unsigned byte
	OperandI8                        // signed byte
	OperandU16                       // little-endian uint16
	OperandOffset                    // little-endian int16, relative to the end of the instruction
)

// Size returns the encoded width of the operand.
func (k OperandKind) Size() int {
	switch k {
	case OperandU16, OperandOffset:
		return 2
	default:
		return 1
	}
}

// VariableEffect marks opcodes whose stack effect depends on operands.
const VariableEffect = -128

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string        // human-readable name
	Operands    []OperandKind // operand layout
	StackEffect int           // net effect on stack, VariableEffect if it depends on operands
}

// OperandBytes returns the number of operand bytes.
func (i OpcodeInfo) OperandBytes() int {
	n := 0
	for _, k := range i.Operands {
		n += k.Size()
	}
	return n
}

var (
	noOperands = []OperandKind(nil)
	u8Operand  = []OperandKind{OperandU8}
	u16Operand = []OperandKind{OperandU16}
	jumpTarget = []OperandKind{OperandOffset}
	indexArgc  = []OperandKind{OperandU16, OperandU8}
)

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", noOperands, 0},
	OpPop:  {"POP", noOperands, -1},
	OpPopN: {"POP_N", u8Operand, VariableEffect},
	OpDup:  {"DUP", noOperands, 1},

	OpPushUnit:  {"PUSH_UNIT", noOperands, 1},
	OpPushTrue:  {"PUSH_TRUE", noOperands, 1},
	OpPushFalse: {"PUSH_FALSE", noOperands, 1},
	OpPushInt8:  {"PUSH_INT8", []OperandKind{OperandI8}, 1},
	OpPushConst: {"PUSH_CONST", u16Operand, 1},

	OpLoadLocal:        {"LOAD_LOCAL", u16Operand, 1},
	OpStoreLocal:       {"STORE_LOCAL", u16Operand, -1},
	OpDropLocal:        {"DROP_LOCAL", u16Operand, 0},
	OpNewCell:          {"NEW_CELL", noOperands, 0},
	OpLoadLocalCell:    {"LOAD_LOCAL_CELL", u16Operand, 1},
	OpStoreLocalCell:   {"STORE_LOCAL_CELL", u16Operand, -1},
	OpBoxLocal:         {"BOX_LOCAL", u16Operand, 0},
	OpLoadUpvalue:      {"LOAD_UPVALUE", u16Operand, 1},
	OpLoadUpvalueCell:  {"LOAD_UPVALUE_CELL", u16Operand, 1},
	OpStoreUpvalueCell: {"STORE_UPVALUE_CELL", u16Operand, -1},

	OpLoadFn:       {"LOAD_FN", u16Operand, 1},
	OpLoadImport:   {"LOAD_IMPORT", u16Operand, 1},
	OpClosure:      {"CLOSURE", indexArgc, VariableEffect},
	OpCall:         {"CALL", u8Operand, VariableEffect},
	OpCallFn:       {"CALL_FN", indexArgc, VariableEffect},
	OpCallImport:   {"CALL_IMPORT", indexArgc, VariableEffect},
	OpCallInstance: {"CALL_INSTANCE", indexArgc, VariableEffect},
	OpReturn:       {"RETURN", noOperands, -1},
	OpReturnUnit:   {"RETURN_UNIT", noOperands, 0},

	OpJump:             {"JUMP", jumpTarget, 0},
	OpJumpIfFalse:      {"JUMP_IF_FALSE", jumpTarget, -1},
	OpJumpIfTrue:       {"JUMP_IF_TRUE", jumpTarget, -1},
	OpJumpIfFalseOrPop: {"JUMP_IF_FALSE_OR_POP", jumpTarget, -1},
	OpJumpIfTrueOrPop:  {"JUMP_IF_TRUE_OR_POP", jumpTarget, -1},

	OpAdd:    {"ADD", noOperands, -1},
	OpSub:    {"SUB", noOperands, -1},
	OpMul:    {"MUL", noOperands, -1},
	OpDiv:    {"DIV", noOperands, -1},
	OpRem:    {"REM", noOperands, -1},
	OpNeg:    {"NEG", noOperands, 0},
	OpNot:    {"NOT", noOperands, 0},
	OpBitAnd: {"BIT_AND", noOperands, -1},
	OpBitOr:  {"BIT_OR", noOperands, -1},
	OpBitXor: {"BIT_XOR", noOperands, -1},
	OpShl:    {"SHL", noOperands, -1},
	OpShr:    {"SHR", noOperands, -1},

	OpEq: {"EQ", noOperands, -1},
	OpNe: {"NE", noOperands, -1},
	OpLt: {"LT", noOperands, -1},
	OpLe: {"LE", noOperands, -1},
	OpGt: {"GT", noOperands, -1},
	OpGe: {"GE", noOperands, -1},

	OpVec:         {"VEC", u16Operand, VariableEffect},
	OpTuple:       {"TUPLE", u16Operand, VariableEffect},
	OpObject:      {"OBJECT", u16Operand, VariableEffect},
	OpStruct:      {"STRUCT", []OperandKind{OperandU16, OperandU16}, VariableEffect},
	OpTupleStruct: {"TUPLE_STRUCT", u16Operand, VariableEffect},
	OpRange:       {"RANGE", u8Operand, -1},
	OpTemplate:    {"TEMPLATE", u16Operand, VariableEffect},

	OpIndexGet:      {"INDEX_GET", noOperands, -1},
	OpIndexSet:      {"INDEX_SET", noOperands, -3},
	OpFieldGet:      {"FIELD_GET", u16Operand, 0},
	OpFieldSet:      {"FIELD_SET", u16Operand, -2},
	OpTupleIndexGet: {"TUPLE_INDEX_GET", u16Operand, 0},
	OpTupleIndexSet: {"TUPLE_INDEX_SET", u16Operand, -2},

	OpIter:     {"ITER", noOperands, 0},
	OpIterNext: {"ITER_NEXT", []OperandKind{OperandU16, OperandOffset}, 1},
	OpTry:      {"TRY", noOperands, 0},
	OpAwait:    {"AWAIT", noOperands, 0},
	OpIsType:   {"IS_TYPE", u16Operand, 0},
	OpIsTuple:  {"IS_TUPLE", u16Operand, 0},
	OpIsVec:    {"IS_VEC", u16Operand, 0},
	OpFault:    {"FAULT", u8Operand, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op)), StackEffect: 0}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	return op.Info().OperandBytes()
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsJump reports whether the opcode carries a relative jump operand.
func (op Opcode) IsJump() bool {
	for _, k := range op.Info().Operands {
		if k == OperandOffset {
			return true
		}
	}
	return false
}

// Terminates reports whether control never falls through the instruction.
func (op Opcode) Terminates() bool {
	switch op {
	case OpJump, OpReturn, OpReturnUnit, OpFault:
		return true
	}
	return false
}

// StackEffect returns the net stack effect of an instruction given its
// decoded operands. For OpCallFn and OpCallImport the callee is not on
// the stack; for OpCall and OpCallInstance it is.
func StackEffect(op Opcode, operands []int, typeArity func(int) int, keyCount func(int) int) int {
	info := op.Info()
	if info.StackEffect != VariableEffect {
		return info.StackEffect
	}
	switch op {
	case OpPopN:
		return -operands[0]
	case OpClosure:
		return 1 - operands[1]
	case OpCall:
		return -operands[0]
	case OpCallFn, OpCallImport:
		return 1 - operands[1]
	case OpCallInstance:
		return -operands[1]
	case OpVec, OpTuple, OpTemplate:
		return 1 - operands[0]
	case OpObject:
		return 1 - keyCount(operands[0])
	case OpStruct:
		return 1 - keyCount(operands[1])
	case OpTupleStruct:
		return 1 - typeArity(operands[0])
	}
	return 0
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instruction is a decoded instruction.
type Instruction struct {
	Offset   int
	Op       Opcode
	Operands []int
	Size     int
}

// Target returns the absolute jump target of a jump instruction, or -1.
func (in Instruction) Target() int {
	for i, k := range in.Op.Info().Operands {
		if k == OperandOffset {
			return in.Offset + in.Size + in.Operands[i]
		}
	}
	return -1
}

// Decode decodes the instruction starting at offset.
func Decode(code []byte, offset int) (Instruction, error) {
	if offset >= len(code) {
		return Instruction{}, fmt.Errorf("%w: offset %d", ErrTruncatedCode, offset)
	}
	op := Opcode(code[offset])
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("%w: 0x%02x at %d", ErrUnknownOpcode, byte(op), offset)
	}
	info := op.Info()
	in := Instruction{Offset: offset, Op: op, Size: 1 + info.OperandBytes()}
	if offset+in.Size > len(code) {
		return Instruction{}, fmt.Errorf("%w: %s at %d", ErrTruncatedCode, op, offset)
	}
	pos := offset + 1
	for _, k := range info.Operands {
		switch k {
		case OperandU8:
			in.Operands = append(in.Operands, int(code[pos]))
		case OperandI8:
			in.Operands = append(in.Operands, int(int8(code[pos])))
		case OperandU16:
			in.Operands = append(in.Operands, int(binary.LittleEndian.Uint16(code[pos:])))
		case OperandOffset:
			in.Operands = append(in.Operands, int(int16(binary.LittleEndian.Uint16(code[pos:]))))
		}
		pos += k.Size()
	}
	return in, nil
}

// Encode appends the encoded instruction to buf.
func (in Instruction) Encode(buf []byte) []byte {
	buf = append(buf, byte(in.Op))
	for i, k := range in.Op.Info().Operands {
		v := in.Operands[i]
		switch k {
		case OperandU8, OperandI8:
			buf = append(buf, byte(v))
		case OperandU16, OperandOffset:
			buf = append(buf, byte(v), byte(v>>8))
		}
	}
	return buf
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct bytecode sequences. It tracks the
// operand stack depth so callers can size frames and unwind the stack
// on early exits.
type BytecodeBuilder struct {
	bytes    []byte
	depth    int
	maxDepth int

	// TypeArity and KeyCount resolve variable stack effects.
	TypeArity func(int) int
	KeyCount  func(int) int
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes:     make([]byte, 0, 64),
		TypeArity: func(int) int { return 0 },
		KeyCount:  func(int) int { return 0 },
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Depth returns the tracked operand stack depth.
func (b *BytecodeBuilder) Depth() int {
	return b.depth
}

// SetDepth overrides the tracked depth, used after unconditional exits.
func (b *BytecodeBuilder) SetDepth(d int) {
	b.depth = d
	if d > b.maxDepth {
		b.maxDepth = d
	}
}

// MaxDepth returns the deepest operand stack seen.
func (b *BytecodeBuilder) MaxDepth() int {
	return b.maxDepth
}

func (b *BytecodeBuilder) track(op Opcode, operands ...int) {
	b.SetDepth(b.depth + StackEffect(op, operands, b.TypeArity, b.KeyCount))
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
	b.track(op)
}

// EmitByte appends an opcode with a single byte operand.
func (b *BytecodeBuilder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
	b.track(op, int(operand))
}

// EmitInt8 appends an opcode with a signed 8-bit operand.
func (b *BytecodeBuilder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
	b.track(op, int(operand))
}

// EmitUint16 appends an opcode with a 16-bit operand (little-endian).
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand), byte(operand>>8))
	b.track(op, int(operand))
}

// EmitUint16Byte appends an opcode with a 16-bit and an 8-bit operand.
func (b *BytecodeBuilder) EmitUint16Byte(op Opcode, index uint16, n uint8) {
	b.bytes = append(b.bytes, byte(op), byte(index), byte(index>>8), n)
	b.track(op, int(index), int(n))
}

// EmitUint16Pair appends an opcode with two 16-bit operands.
func (b *BytecodeBuilder) EmitUint16Pair(op Opcode, a, c uint16) {
	b.bytes = append(b.bytes, byte(op), byte(a), byte(a>>8), byte(c), byte(c>>8))
	b.track(op, int(a), int(c))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward reference in bytecode.
type Label struct {
	resolved bool
	position int   // target once resolved
	refs     []int // operand positions that reference this label
	depth    int   // operand depth at the target, -1 when unknown
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2), depth: -1}
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool {
	return l.resolved
}

// Mark resolves a label to the current position. If a jump to the label
// recorded a stack depth, the builder adopts it.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	if label.depth >= 0 {
		b.SetDepth(label.depth)
	} else {
		label.depth = b.depth
	}

	for _, ref := range label.refs {
		offset := label.position - (ref + 2) // offset from after the operand
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

func (b *BytecodeBuilder) jumpRef(label *Label, takenDepth int) {
	if label.depth < 0 {
		label.depth = takenDepth
	}
	if label.resolved {
		offset := label.position - (len(b.bytes) + 2)
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
}

// EmitJump emits a jump instruction with a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	var taken int
	switch op {
	case OpJump:
		taken = b.depth
	case OpJumpIfFalse, OpJumpIfTrue:
		taken = b.depth - 1
	case OpJumpIfFalseOrPop, OpJumpIfTrueOrPop:
		taken = b.depth
	default:
		panic(fmt.Sprintf("EmitJump: %s is not a jump", op))
	}
	b.bytes = append(b.bytes, byte(op))
	b.jumpRef(label, taken)
	b.track(op)
}

// EmitIterNext emits ITER_NEXT reading the iterator in slot and jumping to
// label once it is exhausted.
func (b *BytecodeBuilder) EmitIterNext(slot uint16, label *Label) {
	b.bytes = append(b.bytes, byte(OpIterNext), byte(slot), byte(slot>>8))
	b.jumpRef(label, b.depth)
	b.track(OpIterNext)
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction renders a decoded instruction.
func DisassembleInstruction(in Instruction) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", in.Offset, in.Op.Name())
	for i, k := range in.Op.Info().Operands {
		if k == OperandOffset {
			fmt.Fprintf(&sb, " %d (-> %04d)", in.Operands[i], in.Target())
			continue
		}
		fmt.Fprintf(&sb, " %d", in.Operands[i])
	}
	return sb.String()
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	var lines []string
	for pos := 0; pos < len(bc); {
		in, err := Decode(bc, pos)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%04d  <%v>", pos, err))
			break
		}
		lines = append(lines, DisassembleInstruction(in))
		pos += in.Size
	}
	return strings.Join(lines, "\n")
}
