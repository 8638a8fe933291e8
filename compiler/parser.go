package compiler

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Rill
// ---------------------------------------------------------------------------

// Parser parses Rill source code into an AST. Errors are collected; after
// an error the parser skips to a synchronisation point and continues.
type Parser struct {
	lexer   *Lexer
	cur     Token
	peek    Token
	prevEnd int // end offset of the last consumed token

	diags     Diagnostics
	lexFailed bool // a lexical error has been reported
	panicking bool // suppress errors until the next synchronisation point
	noStruct  bool // `Path {` is not a struct literal here
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.peek = p.fetch()
	p.advance()
	return p
}

// Parse parses a source file, returning the tree and all lexical and
// syntax diagnostics.
func Parse(source string) (*File, Diagnostics) {
	p := NewParser(source)
	file := p.ParseFile()
	return file, p.diags
}

// Diagnostics returns the accumulated diagnostics.
func (p *Parser) Diagnostics() Diagnostics {
	return p.diags
}

// fetch reads the next token from the lexer, reporting lexical errors
// and dropping error tokens.
func (p *Parser) fetch() Token {
	for {
		tok := p.lexer.Next()
		if tok.Err == nil {
			return tok
		}
		p.diags = append(p.diags, tok.Err.Diagnostic())
		p.lexFailed = true
		if tok.Kind != TokenError {
			return tok
		}
		p.panicking = true
	}
}

// advance moves to the next token.
func (p *Parser) advance() {
	if p.cur.Kind != TokenEOF || p.cur.Span.End == 0 {
		p.prevEnd = p.cur.Span.End
	}
	p.cur = p.peek
	if p.peek.Kind != TokenEOF {
		p.peek = p.fetch()
	}
}

func (p *Parser) at(kind TokenKind) bool {
	return p.cur.Kind == kind
}

// eat consumes the current token if it has the given kind.
func (p *Parser) eat(kind TokenKind) bool {
	if p.cur.Kind == kind {
		p.advance()
		return true
	}
	return false
}

// expect consumes a token of the given kind or records an error.
func (p *Parser) expect(kind TokenKind) bool {
	if p.eat(kind) {
		return true
	}
	p.unexpected(fmt.Sprintf("`%s`", kind))
	return false
}

// expectClose consumes a closing delimiter. Running out of input is
// reported at the opening delimiter.
func (p *Parser) expectClose(kind TokenKind, open Token) {
	if p.eat(kind) {
		return
	}
	if p.at(TokenEOF) {
		p.errorAt(open.Span, CodeUnclosedDelimiter, fmt.Sprintf("unclosed `%s`", open.Kind),
			Label{Span: p.cur.Span, Message: "input ends here"})
		return
	}
	p.unexpected(fmt.Sprintf("`%s`", kind))
}

// expectIdent consumes an identifier.
func (p *Parser) expectIdent() Ident {
	tok := p.cur
	if p.eat(TokenIdent) {
		return Ident{Name: tok.Text, Span: tok.Span}
	}
	p.unexpected("identifier")
	return Ident{Name: "_", Span: tok.Span}
}

// span returns the span from start to the end of the last consumed token.
func (p *Parser) span(start int) Span {
	return Span{Start: start, End: max(start, p.prevEnd)}
}

// errorAt records a diagnostic unless the parser is recovering from an
// earlier error. Errors at end of input after a lexical error are
// consequences of that error and are dropped.
func (p *Parser) errorAt(span Span, code Code, msg string, labels ...Label) {
	if p.panicking {
		return
	}
	p.panicking = true
	if p.lexFailed && p.at(TokenEOF) {
		return
	}
	p.diags = append(p.diags, Diagnostic{
		Severity:  SeverityError,
		Code:      code,
		Message:   msg,
		Primary:   span,
		Secondary: labels,
	})
}

func (p *Parser) unexpected(want string) {
	p.errorAt(p.cur.Span, CodeUnexpectedToken, fmt.Sprintf("expected %s, found %s", want, p.cur.describe()))
}

// sync skips tokens until one of stops is found at nesting depth zero,
// consuming it unless it is a closing brace. It also stops at an
// unmatched closing brace or the end of input.
func (p *Parser) sync(stops ...TokenKind) {
	depth := 0
	for !p.at(TokenEOF) {
		if depth == 0 {
			for _, stop := range stops {
				if p.at(stop) {
					if stop != TokenRBrace {
						p.advance()
					}
					return
				}
			}
			if p.at(TokenRBrace) {
				return
			}
		}
		switch p.cur.Kind {
		case TokenLParen, TokenLBracket, TokenLBrace, TokenHashBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			if depth > 0 {
				depth--
			}
		}
		p.advance()
	}
}

// recover clears the error state after skipping to one of stops.
func (p *Parser) recover(stops ...TokenKind) {
	if p.panicking {
		p.sync(stops...)
		p.panicking = false
	}
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

func isItemStart(kind TokenKind) bool {
	switch kind {
	case TokenFn, TokenAsync, TokenStruct, TokenEnum, TokenImpl, TokenUse, TokenConst, TokenPub:
		return true
	}
	return false
}

// ParseFile parses a whole source file.
func (p *Parser) ParseFile() *File {
	file := &File{}
	for !p.at(TokenEOF) {
		before := p.cur.Span.Start
		if item := p.parseItem(); item != nil {
			file.Items = append(file.Items, item)
		}
		if p.panicking {
			p.syncItem()
			p.panicking = false
		}
		if p.cur.Span.Start == before && !p.at(TokenEOF) && !isItemStart(p.cur.Kind) {
			p.advance()
		}
	}
	file.SpanVal = Span{Start: 0, End: p.cur.Span.End}
	return file
}

// syncItem skips to the next item keyword at depth zero.
func (p *Parser) syncItem() {
	depth := 0
	for !p.at(TokenEOF) {
		if depth == 0 && isItemStart(p.cur.Kind) {
			return
		}
		switch p.cur.Kind {
		case TokenLParen, TokenLBracket, TokenLBrace, TokenHashBrace:
			depth++
		case TokenRParen, TokenRBracket, TokenRBrace:
			if depth > 0 {
				depth--
			}
		}
		p.advance()
	}
}

func (p *Parser) parseItem() Item {
	start := p.cur.Span.Start
	pub := p.eat(TokenPub)
	switch p.cur.Kind {
	case TokenFn, TokenAsync:
		fn := p.parseFn(start, "")
		fn.Pub = pub
		return fn
	case TokenStruct:
		return p.parseStruct(start, pub)
	case TokenEnum:
		return p.parseEnum(start, pub)
	case TokenImpl:
		return p.parseImpl(start)
	case TokenUse:
		return p.parseUse(start)
	case TokenConst:
		return p.parseConst(start, pub)
	}
	p.unexpected("item")
	return nil
}

// parseFn parses `async? fn name(params) { body }`.
func (p *Parser) parseFn(start int, owner string) *FnItem {
	fn := &FnItem{Owner: owner}
	fn.Async = p.eat(TokenAsync)
	p.expect(TokenFn)
	fn.Name = p.expectIdent()
	open := p.cur
	if p.expect(TokenLParen) {
		fn.Params = p.parseParams(TokenRParen)
		p.expectClose(TokenRParen, open)
	}
	fn.Body = p.parseBlock()
	fn.SpanVal = p.span(start)
	return fn
}

// parseParams parses a comma separated parameter list up to close.
func (p *Parser) parseParams(close TokenKind) []*Param {
	var params []*Param
	for !p.at(close) && !p.at(TokenEOF) {
		tok := p.cur
		switch {
		case p.eat(TokenSelf):
			params = append(params, &Param{SpanVal: tok.Span, Name: "self"})
		case p.eat(TokenIdent):
			params = append(params, &Param{SpanVal: tok.Span, Name: tok.Text})
		default:
			p.unexpected("parameter name")
			return params
		}
		if !p.eat(TokenComma) {
			break
		}
	}
	return params
}

// parseFields parses `a, b, c` up to close.
func (p *Parser) parseFields(close TokenKind) []Ident {
	var fields []Ident
	for !p.at(close) && !p.at(TokenEOF) {
		fields = append(fields, p.expectIdent())
		if !p.eat(TokenComma) {
			break
		}
	}
	return fields
}

// parseShape parses the optional field list of a struct or variant.
func (p *Parser) parseShape() (ShapeKind, []Ident) {
	open := p.cur
	switch {
	case p.eat(TokenLParen):
		fields := p.parseFields(TokenRParen)
		p.expectClose(TokenRParen, open)
		return ShapeTuple, fields
	case p.eat(TokenLBrace):
		fields := p.parseFields(TokenRBrace)
		p.expectClose(TokenRBrace, open)
		return ShapeNamed, fields
	}
	return ShapeUnit, nil
}

func (p *Parser) parseStruct(start int, pub bool) *StructItem {
	p.expect(TokenStruct)
	item := &StructItem{Name: p.expectIdent(), Pub: pub}
	item.Shape, item.Fields = p.parseShape()
	if item.Shape != ShapeNamed {
		if !p.eat(TokenSemi) {
			p.errorAt(Span{Start: p.prevEnd, End: p.prevEnd}, CodeExpectedSemicolon, "expected `;` after struct declaration")
		}
	}
	item.SpanVal = p.span(start)
	return item
}

func (p *Parser) parseEnum(start int, pub bool) *EnumItem {
	p.expect(TokenEnum)
	item := &EnumItem{Name: p.expectIdent(), Pub: pub}
	open := p.cur
	if !p.expect(TokenLBrace) {
		item.SpanVal = p.span(start)
		return item
	}
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		vstart := p.cur.Span.Start
		v := &Variant{Name: p.expectIdent()}
		v.Shape, v.Fields = p.parseShape()
		v.SpanVal = p.span(vstart)
		item.Variants = append(item.Variants, v)
		if !p.eat(TokenComma) {
			break
		}
	}
	p.expectClose(TokenRBrace, open)
	item.SpanVal = p.span(start)
	return item
}

func (p *Parser) parseImpl(start int) *ImplItem {
	p.expect(TokenImpl)
	item := &ImplItem{Type: p.expectIdent()}
	open := p.cur
	if !p.expect(TokenLBrace) {
		item.SpanVal = p.span(start)
		return item
	}
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		fstart := p.cur.Span.Start
		pub := p.eat(TokenPub)
		if !p.at(TokenFn) && !p.at(TokenAsync) {
			p.unexpected("`fn`")
			p.sync(TokenFn, TokenAsync, TokenRBrace)
			p.panicking = false
			continue
		}
		fn := p.parseFn(fstart, item.Type.Name)
		fn.Pub = pub
		item.Fns = append(item.Fns, fn)
		p.recover(TokenFn, TokenAsync, TokenRBrace)
	}
	p.expectClose(TokenRBrace, open)
	item.SpanVal = p.span(start)
	return item
}

func (p *Parser) parseUse(start int) *UseItem {
	p.expect(TokenUse)
	item := &UseItem{Path: []Ident{p.expectIdent()}}
	for p.eat(TokenColonColon) {
		item.Path = append(item.Path, p.expectIdent())
	}
	if p.eat(TokenAs) {
		alias := p.expectIdent()
		item.Alias = &alias
	}
	if !p.eat(TokenSemi) {
		p.errorAt(Span{Start: p.prevEnd, End: p.prevEnd}, CodeExpectedSemicolon, "expected `;` after use declaration")
	}
	item.SpanVal = p.span(start)
	return item
}

func (p *Parser) parseConst(start int, pub bool) *ConstItem {
	p.expect(TokenConst)
	item := &ConstItem{Name: p.expectIdent(), Pub: pub}
	p.expect(TokenAssign)
	item.Value = p.parseExpr()
	if !p.eat(TokenSemi) {
		p.errorAt(Span{Start: p.prevEnd, End: p.prevEnd}, CodeExpectedSemicolon, "expected `;` after constant")
	}
	item.SpanVal = p.span(start)
	return item
}

// ---------------------------------------------------------------------------
// Blocks and statements
// ---------------------------------------------------------------------------

// parseBlock parses `{ stmt* expr? }`.
func (p *Parser) parseBlock() *BlockExpr {
	open := p.cur
	if !p.expect(TokenLBrace) {
		return &BlockExpr{SpanVal: open.Span}
	}
	saved := p.noStruct
	p.noStruct = false
	defer func() { p.noStruct = saved }()

	var stmts []Stmt
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		if p.eat(TokenSemi) {
			continue
		}
		before := p.cur.Span.Start
		if stmt := p.parseStmt(); stmt != nil {
			stmts = append(stmts, stmt)
		}
		p.recover(TokenSemi)
		if p.cur.Span.Start == before && !p.at(TokenRBrace) && !p.at(TokenEOF) {
			p.advance()
		}
	}
	p.expectClose(TokenRBrace, open)

	block := &BlockExpr{SpanVal: p.span(open.Span.Start), Stmts: stmts}
	if n := len(stmts); n > 0 {
		if es, ok := stmts[n-1].(*ExprStmt); ok && !es.Semi {
			block.Tail = es.Expr
			block.Stmts = stmts[:n-1]
		}
	}
	return block
}

func startsBlockLike(kind TokenKind) bool {
	switch kind {
	case TokenLBrace, TokenIf, TokenMatch, TokenLoop, TokenWhile, TokenFor:
		return true
	}
	return false
}

// parseStmt parses one statement. A block-like expression at statement
// start ends the statement at its closing brace.
func (p *Parser) parseStmt() Stmt {
	start := p.cur.Span.Start
	switch {
	case p.at(TokenLet):
		p.advance()
		stmt := &LetStmt{Pattern: p.parsePattern()}
		p.expect(TokenAssign)
		stmt.Value = p.parseExpr()
		if !p.eat(TokenSemi) {
			p.errorAt(Span{Start: p.prevEnd, End: p.prevEnd}, CodeExpectedSemicolon, "expected `;` after let statement")
		}
		stmt.SpanVal = p.span(start)
		return stmt

	case isItemStart(p.cur.Kind) && p.cur.Kind != TokenAsync:
		p.errorAt(p.cur.Span, CodeUnexpectedToken, "items are only allowed at the top level")
		return nil

	case startsBlockLike(p.cur.Kind):
		e := p.parseBlockLike()
		semi := p.eat(TokenSemi)
		return &ExprStmt{SpanVal: p.span(start), Expr: e, Semi: semi}
	}

	e := p.parseExpr()
	switch {
	case p.eat(TokenSemi):
		return &ExprStmt{SpanVal: p.span(start), Expr: e, Semi: true}
	case p.at(TokenRBrace):
		return &ExprStmt{SpanVal: p.span(start), Expr: e}
	}
	p.errorAt(Span{Start: p.prevEnd, End: p.prevEnd}, CodeExpectedSemicolon,
		fmt.Sprintf("expected `;`, found %s", p.cur.describe()))
	return &ExprStmt{SpanVal: p.span(start), Expr: e, Semi: true}
}
