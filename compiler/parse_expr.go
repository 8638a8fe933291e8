package compiler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Operator tables
// ---------------------------------------------------------------------------

// Binding powers of the binary operators, lowest first. Assignment and
// ranges are handled above parseBinary.
const (
	precOr = iota + 1
	precAnd
	precCompare
	precBitOr
	precBitXor
	precBitAnd
	precShift
	precAdd
	precMul
)

func binaryOp(kind TokenKind) (BinaryOp, int, bool) {
	switch kind {
	case TokenOrOr:
		return BinOr, precOr, true
	case TokenAndAnd:
		return BinAnd, precAnd, true
	case TokenEqEq:
		return BinEq, precCompare, true
	case TokenNotEq:
		return BinNe, precCompare, true
	case TokenLt:
		return BinLt, precCompare, true
	case TokenLe:
		return BinLe, precCompare, true
	case TokenGt:
		return BinGt, precCompare, true
	case TokenGe:
		return BinGe, precCompare, true
	case TokenPipe:
		return BinBitOr, precBitOr, true
	case TokenCaret:
		return BinBitXor, precBitXor, true
	case TokenAmp:
		return BinBitAnd, precBitAnd, true
	case TokenShl:
		return BinShl, precShift, true
	case TokenShr:
		return BinShr, precShift, true
	case TokenPlus:
		return BinAdd, precAdd, true
	case TokenMinus:
		return BinSub, precAdd, true
	case TokenStar:
		return BinMul, precMul, true
	case TokenSlash:
		return BinDiv, precMul, true
	case TokenPercent:
		return BinRem, precMul, true
	}
	return 0, 0, false
}

func assignOp(kind TokenKind) (op BinaryOp, compound, ok bool) {
	switch kind {
	case TokenAssign:
		return 0, false, true
	case TokenPlusEq:
		return BinAdd, true, true
	case TokenMinusEq:
		return BinSub, true, true
	case TokenStarEq:
		return BinMul, true, true
	case TokenSlashEq:
		return BinDiv, true, true
	case TokenPercentEq:
		return BinRem, true, true
	case TokenAmpEq:
		return BinBitAnd, true, true
	case TokenPipeEq:
		return BinBitOr, true, true
	case TokenCaretEq:
		return BinBitXor, true, true
	case TokenShlEq:
		return BinShl, true, true
	case TokenShrEq:
		return BinShr, true, true
	}
	return 0, false, false
}

// isPlace reports whether e can be assigned to.
func isPlace(e Expr) bool {
	switch e := e.(type) {
	case *PathExpr:
		return len(e.Segments) == 1
	case *FieldExpr, *TupleIndexExpr, *IndexExpr:
		return true
	}
	return false
}

// canEndExpr reports whether the token cannot start an expression, used
// for the optional operands of return and break.
func canEndExpr(kind TokenKind) bool {
	switch kind {
	case TokenSemi, TokenRBrace, TokenRParen, TokenRBracket, TokenComma,
		TokenFatArrow, TokenEOF, TokenTemplateExprClose:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression from the parser's input.
func (p *Parser) ParseExpression() Expr {
	return p.parseExpr()
}

func (p *Parser) parseExpr() Expr {
	return p.parseAssign()
}

// parseExprWith parses an expression with the struct literal restriction
// set to restrict.
func (p *Parser) parseExprWith(restrict bool) Expr {
	saved := p.noStruct
	p.noStruct = restrict
	e := p.parseExpr()
	p.noStruct = saved
	return e
}

// parseAssign parses a right-associative assignment.
func (p *Parser) parseAssign() Expr {
	lhs := p.parseRange()
	op, compound, ok := assignOp(p.cur.Kind)
	if !ok {
		return lhs
	}
	p.advance()
	rhs := p.parseAssign()
	if !isPlace(lhs) {
		p.errorAt(lhs.Span(), CodeInvalidAssignTarget, "invalid left-hand side of assignment")
	}
	return &AssignExpr{
		SpanVal:  lhs.Span().Join(rhs.Span()),
		Target:   lhs,
		Value:    rhs,
		Compound: compound,
		Op:       op,
	}
}

// parseRange parses a non-associative `a..b` or `a..=b`.
func (p *Parser) parseRange() Expr {
	start := p.parseBinary(precOr)
	if !p.at(TokenDotDot) && !p.at(TokenDotDotEq) {
		return start
	}
	inclusive := p.at(TokenDotDotEq)
	p.advance()
	end := p.parseBinary(precOr)
	r := &RangeExpr{SpanVal: start.Span().Join(end.Span()), Start: start, End: end, Inclusive: inclusive}
	if p.at(TokenDotDot) || p.at(TokenDotDotEq) {
		p.errorAt(p.cur.Span, CodeUnexpectedToken, "range operators cannot be chained")
	}
	return r
}

// parseBinary implements precedence climbing over the binary operators.
func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for {
		op, prec, ok := binaryOp(p.cur.Kind)
		if !ok || prec < minPrec {
			return left
		}
		opTok := p.cur
		p.advance()
		right := p.parseBinary(prec + 1)
		if op.IsComparison() {
			if next, _, ok := binaryOp(p.cur.Kind); ok && next.IsComparison() {
				p.errorAt(p.cur.Span, CodeChainedComparison, "comparison operators cannot be chained",
					Label{Span: opTok.Span, Message: "first comparison"})
			}
		}
		left = &BinaryExpr{SpanVal: left.Span().Join(right.Span()), Op: op, Left: left, Right: right}
	}
}

// parseUnary parses prefix operators.
func (p *Parser) parseUnary() Expr {
	start := p.cur.Span.Start
	var op UnaryOp
	switch p.cur.Kind {
	case TokenMinus:
		op = UnaryNeg
	case TokenBang:
		op = UnaryNot
	default:
		return p.parsePostfix(p.parsePrimary())
	}
	p.advance()
	if op == UnaryNeg && p.at(TokenInt) && p.cur.Int == math.MinInt64 {
		// -9223372036854775808 is a literal; the magnitude alone overflows.
		tok := p.cur
		p.advance()
		lit := &LitExpr{SpanVal: Span{Start: start, End: tok.Span.End}, Kind: LitInt, Int: math.MinInt64}
		return p.parsePostfix(lit)
	}
	operand := p.parseUnary()
	return &UnaryExpr{SpanVal: p.span(start), Op: op, Operand: operand}
}

// parsePostfix parses calls, indexing, field access, `?` and `.await`.
func (p *Parser) parsePostfix(e Expr) Expr {
	start := e.Span().Start
	for {
		switch p.cur.Kind {
		case TokenLParen:
			args := p.parseArgs()
			e = &CallExpr{SpanVal: p.span(start), Callee: e, Args: args}
		case TokenLBracket:
			open := p.cur
			p.advance()
			index := p.parseExprWith(false)
			p.expectClose(TokenRBracket, open)
			e = &IndexExpr{SpanVal: p.span(start), Target: e, Index: index}
		case TokenQuestion:
			p.advance()
			e = &TryExpr{SpanVal: p.span(start), Value: e}
		case TokenDot:
			p.advance()
			e = p.parseDotSuffix(start, e)
		default:
			return e
		}
	}
}

func (p *Parser) parseDotSuffix(start int, target Expr) Expr {
	tok := p.cur
	switch tok.Kind {
	case TokenAwait:
		p.advance()
		return &AwaitExpr{SpanVal: p.span(start), Value: target}
	case TokenIdent:
		p.advance()
		name := Ident{Name: tok.Text, Span: tok.Span}
		if p.at(TokenLParen) {
			args := p.parseArgs()
			return &MethodCallExpr{SpanVal: p.span(start), Receiver: target, Name: name, Args: args}
		}
		return &FieldExpr{SpanVal: p.span(start), Target: target, Name: name}
	case TokenInt:
		p.advance()
		if tok.Int < 0 || strings.ContainsAny(tok.Text, "_xob") {
			break
		}
		return &TupleIndexExpr{SpanVal: p.span(start), Target: target, Index: int(tok.Int)}
	case TokenFloat:
		// `t.0.1` lexes the indices as one float.
		p.advance()
		first, second, ok := strings.Cut(tok.Text, ".")
		i, err1 := strconv.Atoi(first)
		j, err2 := strconv.Atoi(second)
		if !ok || err1 != nil || err2 != nil {
			break
		}
		inner := &TupleIndexExpr{SpanVal: Span{Start: start, End: tok.Span.Start + len(first)}, Target: target, Index: i}
		return &TupleIndexExpr{SpanVal: p.span(start), Target: inner, Index: j}
	default:
		p.unexpected("field name")
		return &BadExpr{SpanVal: p.span(start)}
	}
	p.errorAt(tok.Span, CodeUnexpectedToken, fmt.Sprintf("invalid tuple index `%s`", tok.Text))
	return &BadExpr{SpanVal: p.span(start)}
}

// parseArgs parses a parenthesised argument list.
func (p *Parser) parseArgs() []Expr {
	open := p.cur
	p.advance()
	var args []Expr
	for !p.at(TokenRParen) && !p.at(TokenEOF) {
		args = append(args, p.parseExprWith(false))
		if !p.eat(TokenComma) {
			break
		}
	}
	p.expectClose(TokenRParen, open)
	return args
}

// ---------------------------------------------------------------------------
// Primary expressions
// ---------------------------------------------------------------------------

func (p *Parser) parsePrimary() Expr {
	tok := p.cur
	switch tok.Kind {
	case TokenInt:
		p.advance()
		if tok.Int == math.MinInt64 {
			p.errorAt(tok.Span, CodeMalformedNumber, "integer literal out of range")
		}
		return &LitExpr{SpanVal: tok.Span, Kind: LitInt, Int: tok.Int}
	case TokenFloat:
		p.advance()
		return &LitExpr{SpanVal: tok.Span, Kind: LitFloat, Float: tok.Float}
	case TokenString:
		p.advance()
		return &LitExpr{SpanVal: tok.Span, Kind: LitString, Str: tok.Str}
	case TokenChar:
		p.advance()
		return &LitExpr{SpanVal: tok.Span, Kind: LitChar, Char: tok.Char}
	case TokenTrue, TokenFalse:
		p.advance()
		return &LitExpr{SpanVal: tok.Span, Kind: LitBool, Bool: tok.Kind == TokenTrue}
	case TokenTemplateStart:
		return p.parseTemplate()
	case TokenIdent:
		path := p.parsePath()
		if p.at(TokenLBrace) && !p.noStruct {
			return p.parseStructLit(path)
		}
		return path
	case TokenSelf:
		p.advance()
		return &SelfExpr{SpanVal: tok.Span}
	case TokenLParen:
		return p.parseParenOrTuple()
	case TokenLBracket:
		p.advance()
		items := p.parseExprList(TokenRBracket)
		p.expectClose(TokenRBracket, tok)
		return &VecExpr{SpanVal: p.span(tok.Span.Start), Items: items}
	case TokenHashBrace:
		return p.parseObject()
	case TokenLBrace, TokenIf, TokenMatch, TokenLoop, TokenWhile, TokenFor:
		return p.parseBlockLike()
	case TokenPipe, TokenOrOr:
		return p.parseClosure()
	case TokenReturn:
		p.advance()
		r := &ReturnExpr{}
		if !canEndExpr(p.cur.Kind) {
			r.Value = p.parseExpr()
		}
		r.SpanVal = p.span(tok.Span.Start)
		return r
	case TokenBreak:
		p.advance()
		b := &BreakExpr{}
		if !canEndExpr(p.cur.Kind) {
			b.Value = p.parseExpr()
		}
		b.SpanVal = p.span(tok.Span.Start)
		return b
	case TokenContinue:
		p.advance()
		return &ContinueExpr{SpanVal: tok.Span}
	}
	p.errorAt(tok.Span, CodeMissingExpression, fmt.Sprintf("expected expression, found %s", tok.describe()))
	return &BadExpr{SpanVal: Span{Start: tok.Span.Start, End: tok.Span.Start}}
}

// parsePath parses `a::b::c`.
func (p *Parser) parsePath() *PathExpr {
	start := p.cur.Span.Start
	path := &PathExpr{Segments: []Ident{p.expectIdent()}}
	for p.at(TokenColonColon) && p.peek.Kind == TokenIdent {
		p.advance()
		path.Segments = append(path.Segments, p.expectIdent())
	}
	path.SpanVal = p.span(start)
	return path
}

// parseExprList parses comma separated expressions up to close.
func (p *Parser) parseExprList(close TokenKind) []Expr {
	var items []Expr
	for !p.at(close) && !p.at(TokenEOF) {
		items = append(items, p.parseExprWith(false))
		if !p.eat(TokenComma) {
			break
		}
	}
	return items
}

// parseParenOrTuple parses `()`, `(e)`, `(e,)` and `(a, b, ...)`.
func (p *Parser) parseParenOrTuple() Expr {
	open := p.cur
	p.advance()
	if p.eat(TokenRParen) {
		return &LitExpr{SpanVal: p.span(open.Span.Start), Kind: LitUnit}
	}
	first := p.parseExprWith(false)
	if !p.at(TokenComma) {
		p.expectClose(TokenRParen, open)
		return first
	}
	items := []Expr{first}
	for p.eat(TokenComma) && !p.at(TokenRParen) && !p.at(TokenEOF) {
		items = append(items, p.parseExprWith(false))
	}
	p.expectClose(TokenRParen, open)
	return &TupleExpr{SpanVal: p.span(open.Span.Start), Items: items}
}

// parseObject parses `#{key: value, "key": value}`.
func (p *Parser) parseObject() Expr {
	open := p.cur
	p.advance()
	obj := &ObjectExpr{}
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		tok := p.cur
		var key Ident
		switch {
		case p.eat(TokenIdent):
			key = Ident{Name: tok.Text, Span: tok.Span}
		case p.eat(TokenString):
			key = Ident{Name: tok.Str, Span: tok.Span}
		default:
			p.unexpected("object key")
			return &BadExpr{SpanVal: p.span(open.Span.Start)}
		}
		p.expect(TokenColon)
		obj.Fields = append(obj.Fields, &ObjectField{Key: key, Value: p.parseExprWith(false)})
		if !p.eat(TokenComma) {
			break
		}
	}
	p.expectClose(TokenRBrace, open)
	obj.SpanVal = p.span(open.Span.Start)
	return obj
}

// parseStructLit parses `Path { field: value, shorthand }`.
func (p *Parser) parseStructLit(path *PathExpr) Expr {
	open := p.cur
	p.advance()
	lit := &StructLitExpr{Path: path}
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		name := p.expectIdent()
		field := &FieldInit{Name: name}
		if p.eat(TokenColon) {
			field.Value = p.parseExprWith(false)
		} else {
			field.Value = &PathExpr{SpanVal: name.Span, Segments: []Ident{name}}
		}
		lit.Fields = append(lit.Fields, field)
		if !p.eat(TokenComma) {
			break
		}
	}
	p.expectClose(TokenRBrace, open)
	lit.SpanVal = p.span(path.Span().Start)
	return lit
}

// parseTemplate parses a template string into literal and expression parts.
func (p *Parser) parseTemplate() Expr {
	start := p.cur.Span.Start
	p.advance()
	t := &TemplateExpr{}
	for {
		tok := p.cur
		switch tok.Kind {
		case TokenTemplateText:
			p.advance()
			t.Parts = append(t.Parts, &LitExpr{SpanVal: tok.Span, Kind: LitString, Str: tok.Str})
		case TokenTemplateExprOpen:
			p.advance()
			t.Parts = append(t.Parts, p.parseExprWith(false))
			if !p.eat(TokenTemplateExprClose) {
				p.unexpected("`}`")
				t.SpanVal = p.span(start)
				return t
			}
		case TokenTemplateEnd:
			p.advance()
			t.SpanVal = p.span(start)
			return t
		default:
			// The lexer has reported the unterminated template.
			t.SpanVal = p.span(start)
			return t
		}
	}
}

// parseClosure parses `|a, b| body` and `|| body`.
func (p *Parser) parseClosure() Expr {
	start := p.cur.Span.Start
	c := &ClosureExpr{}
	if !p.eat(TokenOrOr) {
		open := p.cur
		p.advance()
		c.Params = p.parseParams(TokenPipe)
		p.expectClose(TokenPipe, open)
	}
	c.Body = p.parseExpr()
	c.SpanVal = p.span(start)
	return c
}

// ---------------------------------------------------------------------------
// Block-like expressions
// ---------------------------------------------------------------------------

func (p *Parser) parseBlockLike() Expr {
	switch p.cur.Kind {
	case TokenIf:
		return p.parseIf()
	case TokenMatch:
		return p.parseMatch()
	case TokenLoop:
		start := p.cur.Span.Start
		p.advance()
		body := p.parseBlock()
		return &LoopExpr{SpanVal: p.span(start), Body: body}
	case TokenWhile:
		start := p.cur.Span.Start
		p.advance()
		cond := p.parseCond()
		body := p.parseBlock()
		return &WhileExpr{SpanVal: p.span(start), Cond: cond, Body: body}
	case TokenFor:
		return p.parseFor()
	}
	return p.parseBlock()
}

// parseCond parses the condition of if and while, including `let` forms.
func (p *Parser) parseCond() Expr {
	if !p.at(TokenLet) {
		return p.parseExprWith(true)
	}
	start := p.cur.Span.Start
	p.advance()
	pat := p.parsePattern()
	p.expect(TokenAssign)
	value := p.parseExprWith(true)
	return &LetCondExpr{SpanVal: p.span(start), Pattern: pat, Value: value}
}

func (p *Parser) parseIf() Expr {
	start := p.cur.Span.Start
	p.advance()
	e := &IfExpr{Cond: p.parseCond()}
	e.Then = p.parseBlock()
	if p.eat(TokenElse) {
		if p.at(TokenIf) {
			e.Else = p.parseIf()
		} else {
			e.Else = p.parseBlock()
		}
	}
	e.SpanVal = p.span(start)
	return e
}

func (p *Parser) parseMatch() Expr {
	start := p.cur.Span.Start
	p.advance()
	m := &MatchExpr{Scrutinee: p.parseExprWith(true)}
	open := p.cur
	if !p.expect(TokenLBrace) {
		m.SpanVal = p.span(start)
		return m
	}
	saved := p.noStruct
	p.noStruct = false
	for !p.at(TokenRBrace) && !p.at(TokenEOF) {
		armStart := p.cur.Span.Start
		arm := &MatchArm{Pattern: p.parsePattern()}
		if p.eat(TokenIf) {
			arm.Guard = p.parseExpr()
		}
		p.expect(TokenFatArrow)
		arm.Body = p.parseExpr()
		arm.SpanVal = p.span(armStart)
		m.Arms = append(m.Arms, arm)
		if p.panicking {
			p.recover(TokenComma)
			continue
		}
		if !p.eat(TokenComma) && !isBlockLike(arm.Body) && !p.at(TokenRBrace) {
			p.unexpected("`,` or `}`")
			p.recover(TokenComma)
		}
	}
	p.noStruct = saved
	p.expectClose(TokenRBrace, open)
	m.SpanVal = p.span(start)
	return m
}

func (p *Parser) parseFor() Expr {
	start := p.cur.Span.Start
	p.advance()
	f := &ForExpr{Pattern: p.parsePattern()}
	p.expect(TokenIn)
	f.Iter = p.parseExprWith(true)
	f.Body = p.parseBlock()
	f.SpanVal = p.span(start)
	return f
}
