package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected RILU")
	ErrVersionMismatch = errors.New("unit version mismatch")
	ErrCorruptUnit     = errors.New("corrupt unit data")
	ErrTruncatedCode   = errors.New("truncated bytecode")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrInvalidOperand  = errors.New("invalid operand")

	ErrUnresolvedImport     = errors.New("unresolved import")
	ErrDuplicateModule      = errors.New("module already loaded")
	ErrContinuationConsumed = errors.New("continuation already resumed or dropped")
	ErrForeignContinuation  = errors.New("continuation belongs to another session")
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// ErrorKind classifies a runtime fault.
type ErrorKind uint8

const (
	KindTypeMismatch ErrorKind = iota
	KindArityMismatch
	KindIndexOutOfBounds
	KindStackOverflow
	KindDivideByZero
	KindOverflow
	KindMissingField
	KindMissingFunction
	KindMissingInstanceFunction
	KindNotCallable
	KindNoMatchingArm
	KindPatternMismatch
	KindFutureCompleted
	KindPanic
	KindNativeError
	KindInternal
	numErrorKinds
)

var errorKindNames = [...]string{
	KindTypeMismatch:            "TypeMismatch",
	KindArityMismatch:           "ArityMismatch",
	KindIndexOutOfBounds:        "IndexOutOfBounds",
	KindStackOverflow:           "StackOverflow",
	KindDivideByZero:            "DivideByZero",
	KindOverflow:                "Overflow",
	KindMissingField:            "MissingField",
	KindMissingFunction:         "MissingFunction",
	KindMissingInstanceFunction: "MissingInstanceFunction",
	KindNotCallable:             "NotCallable",
	KindNoMatchingArm:           "NoMatchingArm",
	KindPatternMismatch:         "PatternMismatch",
	KindFutureCompleted:         "FutureCompleted",
	KindPanic:                   "Panic",
	KindNativeError:             "NativeError",
	KindInternal:                "Internal",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", uint8(k))
}

// TraceFrame is one entry of a fault's frame chain, innermost first.
type TraceFrame struct {
	Module   string
	Function string
	Offset   int
	Span     Span
}

func (f TraceFrame) String() string {
	return fmt.Sprintf("%s::%s @%04d (%s)", f.Module, f.Function, f.Offset, f.Span)
}

// VmError is a runtime fault. Offset and Span locate the faulting
// instruction in the innermost frame.
type VmError struct {
	Kind     ErrorKind
	Message  string
	Module   string
	Function string
	Offset   int
	Span     Span
	Trace    []TraceFrame

	// Cause is set when a native function failed.
	Cause error
}

func (e *VmError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Function != "" {
		fmt.Fprintf(&sb, " (in %s::%s at %04d)", e.Module, e.Function, e.Offset)
	}
	return sb.String()
}

func (e *VmError) Unwrap() error { return e.Cause }

// Is matches another *VmError of the same kind.
func (e *VmError) Is(target error) bool {
	t, ok := target.(*VmError)
	return ok && t.Kind == e.Kind && t.Message == ""
}

// newError builds a fault without location; the interpreter fills the
// location and trace when the fault escapes an instruction.
func newError(kind ErrorKind, format string, args ...any) *VmError {
	return &VmError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the fault kind of err if it is a *VmError.
func KindOf(err error) (ErrorKind, bool) {
	var vmErr *VmError
	if errors.As(err, &vmErr) {
		return vmErr.Kind, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Link and format errors
// ---------------------------------------------------------------------------

// LinkError reports every import of a unit that could not be resolved.
type LinkError struct {
	Module     string
	Unresolved []Import
}

func (e *LinkError) Error() string {
	names := make([]string, len(e.Unresolved))
	for i, imp := range e.Unresolved {
		names[i] = imp.Name
	}
	return fmt.Sprintf("link %s: %v: %s", e.Module, ErrUnresolvedImport, strings.Join(names, ", "))
}

func (e *LinkError) Unwrap() error { return ErrUnresolvedImport }

// FormatError reports a unit that could not be deserialized.
type FormatError struct {
	Err    error
	Detail string
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

func (e *FormatError) Unwrap() error { return e.Err }
