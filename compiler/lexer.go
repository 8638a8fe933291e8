package compiler

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lex errors
// ---------------------------------------------------------------------------

// LexError describes a lexical problem at a span of the source.
type LexError struct {
	Code    Code
	Span    Span
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Code, e.Span, e.Message)
}

// Diagnostic converts the error into a diagnostic.
func (e *LexError) Diagnostic() Diagnostic {
	return Diagnostic{Severity: SeverityError, Code: e.Code, Message: e.Message, Primary: e.Span}
}

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Rill source
// ---------------------------------------------------------------------------

// lexMode is an entry of the lexer mode stack. Template mode scans text
// up to the next interpolation or closing backtick; an interpolation
// mode scans code and counts braces so the closing `}` can be found.
type lexMode struct {
	template bool
	start    int // offset of the opening backtick (template mode)
	braces   int // open braces inside an interpolation
}

// minIntMagnitude is the largest integer literal accepted: the magnitude
// of the minimum int. Its token's Int wraps to math.MinInt64 and the
// parser accepts it only after a unary minus.
const minIntMagnitude = 1 << 63

// Lexer tokenizes Rill source code lazily.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	modes   []lexMode
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// Reset restarts the lexer from the beginning of its input.
func (l *Lexer) Reset() {
	l.pos, l.readPos, l.modes = 0, 0, nil
	l.readChar()
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) top() *lexMode {
	if len(l.modes) == 0 {
		return nil
	}
	return &l.modes[len(l.modes)-1]
}

func (l *Lexer) make(kind TokenKind, start int) Token {
	return Token{Kind: kind, Span: Span{Start: start, End: l.pos}, Text: l.input[start:l.pos]}
}

func (l *Lexer) fail(code Code, span Span, format string, args ...any) Token {
	err := &LexError{Code: code, Span: span, Message: fmt.Sprintf(format, args...)}
	return Token{Kind: TokenError, Span: span, Text: l.input[span.Start:min(span.End, len(l.input))], Err: err}
}

// abandon consumes the rest of the input and clears the mode stack.
func (l *Lexer) abandon() {
	l.modes = nil
	for !l.atEOF() {
		l.readChar()
	}
}

// Next returns the next token. After the input is exhausted it keeps
// returning TokenEOF.
func (l *Lexer) Next() Token {
	if m := l.top(); m != nil && m.template {
		return l.templateToken()
	}

	if tok, ok := l.skipWhitespaceAndComments(); !ok {
		return tok
	}

	start := l.pos
	if l.atEOF() {
		if m := l.top(); m != nil {
			// EOF inside an interpolation: the template was never closed.
			open := l.modes[len(l.modes)-2].start
			l.modes = nil
			return l.fail(CodeUnterminatedString, Span{Start: open, End: open + 1}, "unterminated template string")
		}
		return Token{Kind: TokenEOF, Span: Span{Start: start, End: start}}
	}

	ch := l.ch
	switch {
	case isIdentStart(ch):
		return l.readIdentifier(start)
	case isDigit(ch):
		return l.readNumber(start)
	case ch == '"':
		return l.readString(start)
	case ch == '\'':
		return l.readCharLiteral(start)
	case ch == '`':
		if !l.templateCloses(start) {
			// Reported before any of the body so spans stay ordered.
			l.abandon()
			return l.fail(CodeUnterminatedString, Span{Start: start, End: start + 1}, "unterminated template string")
		}
		l.readChar()
		l.modes = append(l.modes, lexMode{template: true, start: start})
		return l.make(TokenTemplateStart, start)
	}

	l.readChar()
	switch ch {
	case '(':
		return l.make(TokenLParen, start)
	case ')':
		return l.make(TokenRParen, start)
	case '[':
		return l.make(TokenLBracket, start)
	case ']':
		return l.make(TokenRBracket, start)
	case '{':
		if m := l.top(); m != nil {
			m.braces++
		}
		return l.make(TokenLBrace, start)
	case '}':
		if m := l.top(); m != nil {
			if m.braces == 0 {
				l.modes = l.modes[:len(l.modes)-1]
				return l.make(TokenTemplateExprClose, start)
			}
			m.braces--
		}
		return l.make(TokenRBrace, start)
	case ',':
		return l.make(TokenComma, start)
	case ';':
		return l.make(TokenSemi, start)
	case '?':
		return l.make(TokenQuestion, start)
	case '#':
		if l.ch == '{' {
			l.readChar()
			if m := l.top(); m != nil {
				m.braces++
			}
			return l.make(TokenHashBrace, start)
		}
	case ':':
		return l.one(start, ':', TokenColonColon, TokenColon)
	case '.':
		if l.ch == '.' {
			l.readChar()
			return l.one(start, '=', TokenDotDotEq, TokenDotDot)
		}
		return l.make(TokenDot, start)
	case '+':
		return l.one(start, '=', TokenPlusEq, TokenPlus)
	case '-':
		if l.ch == '>' {
			l.readChar()
			return l.make(TokenArrow, start)
		}
		return l.one(start, '=', TokenMinusEq, TokenMinus)
	case '*':
		return l.one(start, '=', TokenStarEq, TokenStar)
	case '/':
		return l.one(start, '=', TokenSlashEq, TokenSlash)
	case '%':
		return l.one(start, '=', TokenPercentEq, TokenPercent)
	case '^':
		return l.one(start, '=', TokenCaretEq, TokenCaret)
	case '!':
		return l.one(start, '=', TokenNotEq, TokenBang)
	case '=':
		if l.ch == '>' {
			l.readChar()
			return l.make(TokenFatArrow, start)
		}
		return l.one(start, '=', TokenEqEq, TokenAssign)
	case '&':
		if l.ch == '&' {
			l.readChar()
			return l.make(TokenAndAnd, start)
		}
		return l.one(start, '=', TokenAmpEq, TokenAmp)
	case '|':
		if l.ch == '|' {
			l.readChar()
			return l.make(TokenOrOr, start)
		}
		return l.one(start, '=', TokenPipeEq, TokenPipe)
	case '<':
		if l.ch == '<' {
			l.readChar()
			return l.one(start, '=', TokenShlEq, TokenShl)
		}
		return l.one(start, '=', TokenLe, TokenLt)
	case '>':
		if l.ch == '>' {
			l.readChar()
			return l.one(start, '=', TokenShrEq, TokenShr)
		}
		return l.one(start, '=', TokenGe, TokenGt)
	}
	return l.fail(CodeInvalidChar, Span{Start: start, End: l.pos}, "unexpected character %q", ch)
}

// one consumes next if it is the current character and returns yes,
// otherwise returns no.
func (l *Lexer) one(start int, next rune, yes, no TokenKind) Token {
	if l.ch == next {
		l.readChar()
		return l.make(yes, start)
	}
	return l.make(no, start)
}

// skipWhitespaceAndComments skips whitespace, line comments and nested
// block comments. It returns an error token for an unterminated comment.
func (l *Lexer) skipWhitespaceAndComments() (Token, bool) {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '/' && l.peekChar() == '/' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			start := l.pos
			l.readChar()
			l.readChar()
			depth := 1
			for depth > 0 && !l.atEOF() {
				switch {
				case l.ch == '/' && l.peekChar() == '*':
					depth++
					l.readChar()
				case l.ch == '*' && l.peekChar() == '/':
					depth--
					l.readChar()
				}
				l.readChar()
			}
			if depth > 0 {
				return l.fail(CodeUnterminatedComment, Span{Start: start, End: start + 2}, "unterminated block comment"), false
			}
			continue
		}
		return Token{}, true
	}
}

// readIdentifier reads an identifier or keyword.
func (l *Lexer) readIdentifier(start int) Token {
	for isIdentPart(l.ch) {
		l.readChar()
	}
	tok := l.make(TokenIdent, start)
	if kind, ok := keywords[tok.Text]; ok {
		tok.Kind = kind
	}
	tok.Str = tok.Text
	return tok
}

// readNumber reads an integer or float literal.
func (l *Lexer) readNumber(start int) Token {
	if l.ch == '0' {
		radix := 0
		switch l.peekChar() {
		case 'x', 'X':
			radix = 16
		case 'o', 'O':
			radix = 8
		case 'b', 'B':
			radix = 2
		}
		if radix != 0 {
			l.readChar()
			l.readChar()
			return l.readRadix(start, radix)
		}
	}

	isFloat := false
	l.skipDigits()
	if l.ch == '.' && isDigit(l.peekChar()) {
		isFloat = true
		l.readChar()
		l.skipDigits()
	}
	if l.ch == 'e' || l.ch == 'E' {
		isFloat = true
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		if !isDigit(l.ch) {
			l.skipIdentPart()
			return l.fail(CodeMalformedNumber, Span{Start: start, End: l.pos}, "exponent has no digits")
		}
		l.skipDigits()
	}
	if isIdentStart(l.ch) {
		l.skipIdentPart()
		return l.fail(CodeMalformedNumber, Span{Start: start, End: l.pos}, "invalid suffix on number literal")
	}

	tok := l.make(TokenInt, start)
	digits := strings.ReplaceAll(tok.Text, "_", "")
	if isFloat {
		f, err := strconv.ParseFloat(digits, 64)
		if err != nil && !math.IsInf(f, 0) {
			return l.fail(CodeMalformedNumber, tok.Span, "invalid float literal")
		}
		tok.Kind = TokenFloat
		tok.Float = f
		return tok
	}
	u, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || u > minIntMagnitude {
		return l.fail(CodeMalformedNumber, tok.Span, "integer literal out of range")
	}
	tok.Int = int64(u)
	return tok
}

func (l *Lexer) readRadix(start, radix int) Token {
	digitsStart := l.pos
	l.skipIdentPart()
	span := Span{Start: start, End: l.pos}
	digits := strings.ReplaceAll(l.input[digitsStart:l.pos], "_", "")
	if digits == "" {
		return l.fail(CodeMalformedNumber, span, "missing digits after radix prefix")
	}
	for _, d := range digits {
		if digitValue(d) >= radix {
			return l.fail(CodeMalformedNumber, span, "invalid digit %q for base %d literal", d, radix)
		}
	}
	u, err := strconv.ParseUint(digits, radix, 64)
	if err != nil || u > minIntMagnitude {
		return l.fail(CodeMalformedNumber, span, "integer literal out of range")
	}
	tok := l.make(TokenInt, start)
	tok.Int = int64(u)
	return tok
}

func (l *Lexer) skipDigits() {
	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
}

func (l *Lexer) skipIdentPart() {
	for isIdentPart(l.ch) {
		l.readChar()
	}
}

// readEscape decodes the escape sequence at the current backslash. extra
// lists template-only escapable characters.
func (l *Lexer) readEscape(extra string) (rune, *LexError) {
	start := l.pos
	l.readChar() // backslash
	ch := l.ch
	if l.atEOF() {
		return 0, nil
	}
	l.readChar()
	switch ch {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case '0':
		return 0, nil
	case '\\', '"', '\'':
		return ch, nil
	case 'u':
		if l.ch != '{' {
			break
		}
		l.readChar()
		hexStart := l.pos
		for isHexDigit(l.ch) {
			l.readChar()
		}
		hex := l.input[hexStart:l.pos]
		if l.ch != '}' || hex == "" || len(hex) > 6 {
			break
		}
		l.readChar()
		n, _ := strconv.ParseUint(hex, 16, 32)
		if !utf8.ValidRune(rune(n)) {
			return utf8.RuneError, &LexError{Code: CodeInvalidEscape, Span: Span{Start: start, End: l.pos}, Message: "unicode escape is not a valid character"}
		}
		return rune(n), nil
	default:
		if strings.ContainsRune(extra, ch) {
			return ch, nil
		}
	}
	return utf8.RuneError, &LexError{Code: CodeInvalidEscape, Span: Span{Start: start, End: l.pos}, Message: fmt.Sprintf("unknown escape sequence \\%c", ch)}
}

// readString reads a double-quoted string literal. An unterminated
// string swallows the rest of the input and is reported at the opening
// quote.
func (l *Lexer) readString(start int) Token {
	l.readChar() // opening quote
	var sb strings.Builder
	var firstErr *LexError
	for l.ch != '"' {
		if l.atEOF() {
			return l.fail(CodeUnterminatedString, Span{Start: start, End: start + 1}, "unterminated string literal")
		}
		if l.ch == '\\' {
			r, err := l.readEscape("")
			if err != nil && firstErr == nil {
				firstErr = err
			}
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	l.readChar() // closing quote
	tok := l.make(TokenString, start)
	tok.Str = sb.String()
	tok.Err = firstErr
	return tok
}

// readCharLiteral reads a character literal.
func (l *Lexer) readCharLiteral(start int) Token {
	l.readChar() // opening quote
	var r rune
	var err *LexError
	switch {
	case l.atEOF() || l.ch == '\n':
		return l.fail(CodeUnterminatedChar, Span{Start: start, End: start + 1}, "unterminated character literal")
	case l.ch == '\\':
		r, err = l.readEscape("")
	case l.ch == '\'':
		l.readChar()
		return l.fail(CodeInvalidChar, Span{Start: start, End: l.pos}, "empty character literal")
	default:
		r = l.ch
		l.readChar()
	}
	if l.ch != '\'' {
		return l.fail(CodeUnterminatedChar, Span{Start: start, End: start + 1}, "unterminated character literal")
	}
	l.readChar()
	tok := l.make(TokenChar, start)
	tok.Char = r
	tok.Err = err
	return tok
}

// templateCloses reports whether the template string opening at start
// has a closing backtick, scanning nested interpolations with a
// separate lexer.
func (l *Lexer) templateCloses(start int) bool {
	sub := NewLexer(l.input[start:])
	sub.Next()
	for len(sub.modes) > 0 {
		tok := sub.Next()
		if tok.Kind == TokenEOF {
			return false
		}
		if tok.Err != nil && tok.Err.Code == CodeUnterminatedString && len(sub.modes) == 0 {
			return false
		}
	}
	return true
}

// templateToken scans in template mode: text, an interpolation opener or
// the closing backtick.
func (l *Lexer) templateToken() Token {
	m := l.top()
	start := l.pos
	switch {
	case l.atEOF():
		open := m.start
		l.abandon()
		return l.fail(CodeUnterminatedString, Span{Start: open, End: open + 1}, "unterminated template string")
	case l.ch == '`':
		l.readChar()
		l.modes = l.modes[:len(l.modes)-1]
		return l.make(TokenTemplateEnd, start)
	case l.ch == '{':
		l.readChar()
		l.modes = append(l.modes, lexMode{})
		return l.make(TokenTemplateExprOpen, start)
	}

	var sb strings.Builder
	var firstErr *LexError
	for !l.atEOF() && l.ch != '`' && l.ch != '{' {
		if l.ch == '\\' {
			r, err := l.readEscape("{}`")
			if err != nil && firstErr == nil {
				firstErr = err
			}
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}
	tok := l.make(TokenTemplateText, start)
	tok.Str = sb.String()
	tok.Err = firstErr
	return tok
}

// All returns an iterator over the remaining tokens, ending after EOF.
func (l *Lexer) All() iter.Seq[Token] {
	return func(yield func(Token) bool) {
		for {
			tok := l.Next()
			if !yield(tok) || tok.Kind == TokenEOF {
				return
			}
		}
	}
}

// Tokenize returns all tokens of the input, including the final EOF.
func Tokenize(input string) []Token {
	var tokens []Token
	for tok := range NewLexer(input).All() {
		tokens = append(tokens, tok)
	}
	return tokens
}

// ---------------------------------------------------------------------------
// Character classes
// ---------------------------------------------------------------------------

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch rune) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isIdentStart(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isIdentPart(ch rune) bool {
	return isIdentStart(ch) || isDigit(ch)
}

func digitValue(ch rune) int {
	switch {
	case isDigit(ch):
		return int(ch - '0')
	case ch >= 'a' && ch <= 'z':
		return int(ch-'a') + 10
	case ch >= 'A' && ch <= 'Z':
		return int(ch-'A') + 10
	}
	return 99
}
