package compiler

import (
	"fmt"

	"github.com/chazu/rill/vm"
)

// Span is a half-open byte range in the source text.
type Span = vm.Span

// ---------------------------------------------------------------------------
// Token kinds
// ---------------------------------------------------------------------------

// TokenKind represents the kind of a token.
type TokenKind int

const (
	// Special tokens
	TokenEOF TokenKind = iota
	TokenError

	// Literals
	TokenIdent
	TokenInt
	TokenFloat
	TokenString
	TokenChar

	// Template strings: `a {b} c`
	TokenTemplateStart
	TokenTemplateText
	TokenTemplateExprOpen
	TokenTemplateExprClose
	TokenTemplateEnd

	// Keywords
	TokenFn
	TokenAsync
	TokenLet
	TokenIf
	TokenElse
	TokenWhile
	TokenLoop
	TokenFor
	TokenIn
	TokenBreak
	TokenContinue
	TokenReturn
	TokenMatch
	TokenStruct
	TokenEnum
	TokenImpl
	TokenUse
	TokenConst
	TokenAs
	TokenPub
	TokenSelf
	TokenTrue
	TokenFalse
	TokenAwait
	TokenYield
	TokenMod

	// Operators
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenBang
	TokenAssign
	TokenEqEq
	TokenNotEq
	TokenLt
	TokenLe
	TokenGt
	TokenGe
	TokenAndAnd
	TokenOrOr
	TokenAmp
	TokenPipe
	TokenCaret
	TokenShl
	TokenShr
	TokenPlusEq
	TokenMinusEq
	TokenStarEq
	TokenSlashEq
	TokenPercentEq
	TokenAmpEq
	TokenPipeEq
	TokenCaretEq
	TokenShlEq
	TokenShrEq
	TokenDotDot
	TokenDotDotEq
	TokenQuestion

	// Punctuation
	TokenDot
	TokenComma
	TokenSemi
	TokenColon
	TokenColonColon
	TokenArrow
	TokenFatArrow
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLBrace
	TokenRBrace
	TokenHashBrace
)

var tokenNames = map[TokenKind]string{
	TokenEOF:               "end of input",
	TokenError:             "invalid token",
	TokenIdent:             "identifier",
	TokenInt:               "integer",
	TokenFloat:             "float",
	TokenString:            "string",
	TokenChar:              "character",
	TokenTemplateStart:     "`",
	TokenTemplateText:      "template text",
	TokenTemplateExprOpen:  "{",
	TokenTemplateExprClose: "}",
	TokenTemplateEnd:       "`",

	TokenFn:       "fn",
	TokenAsync:    "async",
	TokenLet:      "let",
	TokenIf:       "if",
	TokenElse:     "else",
	TokenWhile:    "while",
	TokenLoop:     "loop",
	TokenFor:      "for",
	TokenIn:       "in",
	TokenBreak:    "break",
	TokenContinue: "continue",
	TokenReturn:   "return",
	TokenMatch:    "match",
	TokenStruct:   "struct",
	TokenEnum:     "enum",
	TokenImpl:     "impl",
	TokenUse:      "use",
	TokenConst:    "const",
	TokenAs:       "as",
	TokenPub:      "pub",
	TokenSelf:     "self",
	TokenTrue:     "true",
	TokenFalse:    "false",
	TokenAwait:    "await",
	TokenYield:    "yield",
	TokenMod:      "mod",

	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenStar:      "*",
	TokenSlash:     "/",
	TokenPercent:   "%",
	TokenBang:      "!",
	TokenAssign:    "=",
	TokenEqEq:      "==",
	TokenNotEq:     "!=",
	TokenLt:        "<",
	TokenLe:        "<=",
	TokenGt:        ">",
	TokenGe:        ">=",
	TokenAndAnd:    "&&",
	TokenOrOr:      "||",
	TokenAmp:       "&",
	TokenPipe:      "|",
	TokenCaret:     "^",
	TokenShl:       "<<",
	TokenShr:       ">>",
	TokenPlusEq:    "+=",
	TokenMinusEq:   "-=",
	TokenStarEq:    "*=",
	TokenSlashEq:   "/=",
	TokenPercentEq: "%=",
	TokenAmpEq:     "&=",
	TokenPipeEq:    "|=",
	TokenCaretEq:   "^=",
	TokenShlEq:     "<<=",
	TokenShrEq:     ">>=",
	TokenDotDot:    "..",
	TokenDotDotEq:  "..=",
	TokenQuestion:  "?",

	TokenDot:        ".",
	TokenComma:      ",",
	TokenSemi:       ";",
	TokenColon:      ":",
	TokenColonColon: "::",
	TokenArrow:      "->",
	TokenFatArrow:   "=>",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenLBracket:   "[",
	TokenRBracket:   "]",
	TokenLBrace:     "{",
	TokenRBrace:     "}",
	TokenHashBrace:  "#{",
}

// String returns a human-readable name for the token kind.
func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// keywords maps reserved words to their token kinds.
var keywords = map[string]TokenKind{
	"fn":       TokenFn,
	"async":    TokenAsync,
	"let":      TokenLet,
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"loop":     TokenLoop,
	"for":      TokenFor,
	"in":       TokenIn,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"return":   TokenReturn,
	"match":    TokenMatch,
	"struct":   TokenStruct,
	"enum":     TokenEnum,
	"impl":     TokenImpl,
	"use":      TokenUse,
	"const":    TokenConst,
	"as":       TokenAs,
	"pub":      TokenPub,
	"self":     TokenSelf,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"await":    TokenAwait,
	"yield":    TokenYield,
	"mod":      TokenMod,
}

// IsKeyword reports whether the kind is a reserved word.
func (k TokenKind) IsKeyword() bool {
	return k >= TokenFn && k <= TokenMod
}

// ---------------------------------------------------------------------------
// Token
// ---------------------------------------------------------------------------

// Token is a lexical token. Literal tokens carry their decoded value.
// Err is set on error tokens, and on literal tokens that were still
// usable despite a problem (such as an invalid escape).
type Token struct {
	Kind  TokenKind
	Span  Span
	Text  string // source text
	Int   int64
	Float float64
	Str   string // decoded string, template text or identifier
	Char  rune
	Err   *LexError
}

// String returns a string representation of the token.
func (t Token) String() string {
	switch t.Kind {
	case TokenIdent, TokenInt, TokenFloat, TokenString, TokenChar, TokenTemplateText:
		return fmt.Sprintf("%s(%s)", t.Kind, t.Text)
	}
	return t.Kind.String()
}

// describe renders the token for diagnostics.
func (t Token) describe() string {
	switch t.Kind {
	case TokenEOF:
		return "end of input"
	case TokenIdent:
		return fmt.Sprintf("identifier `%s`", t.Text)
	case TokenInt, TokenFloat, TokenString, TokenChar:
		return fmt.Sprintf("%s literal %s", t.Kind, t.Text)
	}
	if t.Kind.IsKeyword() {
		return fmt.Sprintf("keyword `%s`", t.Kind)
	}
	return fmt.Sprintf("`%s`", t.Kind)
}
