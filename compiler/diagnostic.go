package compiler

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Diagnostic codes
// ---------------------------------------------------------------------------

// Code identifies the kind of a diagnostic.
type Code string

// Lexical errors
const (
	CodeInvalidChar         Code = "InvalidChar"
	CodeUnterminatedString  Code = "UnterminatedString"
	CodeUnterminatedChar    Code = "UnterminatedChar"
	CodeMalformedNumber     Code = "MalformedNumber"
	CodeInvalidEscape       Code = "InvalidEscape"
	CodeUnterminatedComment Code = "UnterminatedComment"
)

// Parse errors
const (
	CodeUnexpectedToken     Code = "UnexpectedToken"
	CodeUnclosedDelimiter   Code = "UnclosedDelimiter"
	CodeMissingExpression   Code = "MissingExpression"
	CodeExpectedSemicolon   Code = "ExpectedSemicolon"
	CodeChainedComparison   Code = "ChainedComparison"
	CodeInvalidAssignTarget Code = "InvalidAssignTarget"
	CodeInvalidPattern      Code = "InvalidPattern"
)

// Resolution errors
const (
	CodeUndefinedName     Code = "UndefinedName"
	CodeDuplicateBinding  Code = "DuplicateBinding"
	CodeArityMismatch     Code = "ArityMismatch"
	CodeUnknownField      Code = "UnknownField"
	CodeMissingField      Code = "MissingField"
	CodeInvalidBreak      Code = "InvalidBreak"
	CodeConstCycle        Code = "ConstCycle"
	CodeNotConstant       Code = "NotConstant"
	CodeNotCallable       Code = "NotCallable"
	CodeInvalidSelf       Code = "InvalidSelf"
	CodeInvalidExpression Code = "InvalidExpression"
	CodeLimitExceeded     Code = "LimitExceeded"
)

// Phase names the compiler stage that produces a code.
func (c Code) Phase() string {
	switch c {
	case CodeInvalidChar, CodeUnterminatedString, CodeUnterminatedChar,
		CodeMalformedNumber, CodeInvalidEscape, CodeUnterminatedComment:
		return "lex"
	case CodeUnexpectedToken, CodeUnclosedDelimiter, CodeMissingExpression,
		CodeExpectedSemicolon, CodeChainedComparison, CodeInvalidAssignTarget,
		CodeInvalidPattern:
		return "parse"
	case CodeLimitExceeded:
		return "lower"
	}
	return "resolve"
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Severity ranks a diagnostic.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	}
	return "note"
}

// Label attaches a message to a secondary span.
type Label struct {
	Span    Span
	Message string
}

// Diagnostic is a compiler message tied to a source span.
type Diagnostic struct {
	Severity  Severity
	Code      Code
	Message   string
	Primary   Span
	Secondary []Label
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("%s[%s] at %s: %s", d.Severity, d.Code, d.Primary, d.Message)
}

// Diagnostics is an ordered batch of diagnostics.
type Diagnostics []Diagnostic

// HasErrors reports whether any diagnostic is an error.
func (ds Diagnostics) HasErrors() bool {
	for _, d := range ds {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error diagnostics.
func (ds Diagnostics) Errors() Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// Err returns the diagnostics as an error, or nil when there are no
// errors.
func (ds Diagnostics) Err() error {
	if !ds.HasErrors() {
		return nil
	}
	return ds
}

func (ds Diagnostics) Error() string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "\n")
}

// Sort orders diagnostics by position, keeping the order of equal spans.
func (ds Diagnostics) Sort() {
	sort.SliceStable(ds, func(i, j int) bool {
		return ds[i].Primary.Start < ds[j].Primary.Start
	})
}

// ---------------------------------------------------------------------------
// LineIndex: offset to line/column conversion
// ---------------------------------------------------------------------------

// Position is a 1-based line and column. Columns count characters.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// LineIndex maps byte offsets of a source text to positions.
type LineIndex struct {
	src   string
	lines []int // start offset of every line
}

// NewLineIndex indexes the line starts of src.
func NewLineIndex(src string) *LineIndex {
	lines := []int{0}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &LineIndex{src: src, lines: lines}
}

// Position converts a byte offset into a line and column.
func (li *LineIndex) Position(offset int) Position {
	offset = max(0, min(offset, len(li.src)))
	line := sort.Search(len(li.lines), func(i int) bool { return li.lines[i] > offset }) - 1
	col := utf8.RuneCountInString(li.src[li.lines[line]:offset])
	return Position{Line: line + 1, Column: col + 1}
}

// Offset converts a 1-based line and column back into a byte offset.
func (li *LineIndex) Offset(p Position) int {
	if p.Line < 1 {
		return 0
	}
	if p.Line > len(li.lines) {
		return len(li.src)
	}
	off := li.lines[p.Line-1]
	for col := 1; col < p.Column && off < len(li.src) && li.src[off] != '\n'; col++ {
		_, size := utf8.DecodeRuneInString(li.src[off:])
		off += size
	}
	return off
}

// Text returns the indexed source.
func (li *LineIndex) Text() string { return li.src }

// LineCount returns the number of lines.
func (li *LineIndex) LineCount() int {
	return len(li.lines)
}
