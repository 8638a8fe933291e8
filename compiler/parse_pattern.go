package compiler

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Patterns
// ---------------------------------------------------------------------------

// isTypeName reports whether a single-segment name refers to a type or
// variant rather than introducing a binding. Capitalised names are types.
func isTypeName(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// parsePattern parses a pattern for let, match arms and for loops.
func (p *Parser) parsePattern() Pattern {
	tok := p.cur
	switch tok.Kind {
	case TokenIdent:
		if tok.Text == "_" {
			p.advance()
			return &WildcardPat{SpanVal: tok.Span}
		}
		path := p.parsePath()
		switch {
		case p.at(TokenLParen):
			open := p.cur
			p.advance()
			items := p.parsePatternList(TokenRParen)
			p.expectClose(TokenRParen, open)
			return &TupleStructPat{SpanVal: p.span(tok.Span.Start), Path: path, Items: items}
		case p.at(TokenLBrace):
			return p.parseStructPattern(path)
		case len(path.Segments) == 1 && !isTypeName(tok.Text):
			return &BindPat{SpanVal: tok.Span, Name: path.Segments[0]}
		}
		return &PathPat{SpanVal: path.Span(), Path: path}

	case TokenMinus:
		p.advance()
		lit := p.cur
		switch lit.Kind {
		case TokenInt:
			p.advance()
			return &LitPat{SpanVal: p.span(tok.Span.Start), Lit: &LitExpr{SpanVal: p.span(tok.Span.Start), Kind: LitInt, Int: -lit.Int}}
		case TokenFloat:
			p.advance()
			return &LitPat{SpanVal: p.span(tok.Span.Start), Lit: &LitExpr{SpanVal: p.span(tok.Span.Start), Kind: LitFloat, Float: -lit.Float}}
		}
		p.errorAt(lit.Span, CodeInvalidPattern, fmt.Sprintf("expected numeric literal after `-`, found %s", lit.describe()))
		return &WildcardPat{SpanVal: tok.Span}

	case TokenInt, TokenFloat, TokenString, TokenChar, TokenTrue, TokenFalse:
		lit := p.parsePrimary().(*LitExpr)
		return &LitPat{SpanVal: lit.SpanVal, Lit: lit}

	case TokenLParen:
		p.advance()
		if p.eat(TokenRParen) {
			span := p.span(tok.Span.Start)
			return &LitPat{SpanVal: span, Lit: &LitExpr{SpanVal: span, Kind: LitUnit}}
		}
		first := p.parsePattern()
		if !p.at(TokenComma) {
			p.expectClose(TokenRParen, tok)
			return first
		}
		items := []Pattern{first}
		for p.eat(TokenComma) && !p.at(TokenRParen) && !p.at(TokenEOF) {
			items = append(items, p.parsePattern())
		}
		p.expectClose(TokenRParen, tok)
		return &TuplePat{SpanVal: p.span(tok.Span.Start), Items: items}

	case TokenLBracket:
		p.advance()
		items := p.parsePatternList(TokenRBracket)
		p.expectClose(TokenRBracket, tok)
		return &VecPat{SpanVal: p.span(tok.Span.Start), Items: items}
	}

	p.errorAt(tok.Span, CodeInvalidPattern, fmt.Sprintf("expected pattern, found %s", tok.describe()))
	return &WildcardPat{SpanVal: tok.Span}
}

// parsePatternList parses comma separated patterns up to close.
func (p *Parser) parsePatternList(close TokenKind) []Pattern {
	var items []Pattern
	for !p.at(close) && !p.at(TokenEOF) {
		items = append(items, p.parsePattern())
		if !p.eat(TokenComma) {
			break
		}
	}
	return items
}

// parseStructPattern parses `Path { a, b: pattern }`.
func (p *Parser) parseStructPattern(path *PathExpr) Pattern {
	open := p.cur
	p.advance()
	pat := &StructPat{Path: path}
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		field := &FieldPat{Name: p.expectIdent()}
		if p.eat(TokenColon) {
			field.Pattern = p.parsePattern()
		} else {
			field.Pattern = &BindPat{SpanVal: field.Name.Span, Name: field.Name}
		}
		pat.Fields = append(pat.Fields, field)
		if !p.eat(TokenComma) {
			break
		}
	}
	p.expectClose(TokenRBrace, open)
	pat.SpanVal = p.span(path.Span().Start)
	return pat
}
