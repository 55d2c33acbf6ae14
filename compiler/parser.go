package compiler

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for tin
// ---------------------------------------------------------------------------

// Parser parses tin source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	prevEnd   Position // end of the last consumed token
	file      string
	errors    []Diagnostic
}

// NewParser creates a new parser for the given input. file is used in
// diagnostics only.
func NewParser(file, input string) *Parser {
	p := &Parser{lexer: NewLexer(input), file: file}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// ParseFile parses a whole source file.
func ParseFile(name, source string) (*File, []Diagnostic) {
	p := NewParser(name, source)
	f := p.ParseFile()
	f.Name = name
	f.Source = source
	return f, p.Errors()
}

// nextToken advances to the next token. Lexical errors are reported and
// skipped so the grammar only ever sees well-formed tokens.
func (p *Parser) nextToken() {
	p.prevEnd = tokenEnd(p.curToken)
	p.curToken = p.peekToken
	for {
		p.peekToken = p.lexer.NextToken()
		if p.peekToken.Type != TokenError {
			return
		}
		p.errorAt(p.peekToken.Pos, "%s", p.peekToken.Literal)
	}
}

func tokenEnd(t Token) Position {
	end := t.Pos
	n := len(t.Literal)
	if t.Type == TokenString || t.Type == TokenChar {
		n += 2
	}
	end.Offset += n
	end.Column += n
	return end
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.curToken)
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...any) {
	p.errorAt(p.curToken.Pos, format, args...)
}

func (p *Parser) errorAt(pos Position, format string, args ...any) {
	p.errors = append(p.errors, Diagnostic{
		File:    p.file,
		Line:    pos.Line,
		Column:  pos.Column,
		Message: fmt.Sprintf(format, args...),
	})
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []Diagnostic {
	return p.errors
}

func (p *Parser) span(start Position) Span {
	return Span{Start: start, End: p.prevEnd}
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseFile parses declarations until the end of input.
func (p *Parser) ParseFile() *File {
	f := &File{}
	for !p.curTokenIs(TokenEOF) {
		before := len(p.errors)
		switch p.curToken.Type {
		case TokenStruct:
			if s := p.parseStruct(); s != nil {
				f.Structs = append(f.Structs, s)
			}
		case TokenFun:
			if fn := p.parseFunction(); fn != nil {
				f.Funcs = append(f.Funcs, fn)
			}
		case TokenGlobal:
			if g := p.parseGlobal(); g != nil {
				f.Globals = append(f.Globals, g)
			}
		case TokenConst:
			if c := p.parseConst(); c != nil {
				f.Consts = append(f.Consts, c)
			}
		default:
			p.errorf("expected a declaration, got %s", p.curToken)
			p.nextToken()
		}
		if len(p.errors) > before {
			p.syncTopLevel()
		}
	}
	return f
}

// syncTopLevel skips to the next declaration keyword.
func (p *Parser) syncTopLevel() {
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenStruct, TokenFun, TokenGlobal, TokenConst:
			return
		}
		p.nextToken()
	}
}

func (p *Parser) parseStruct() *StructDecl {
	start := p.curToken.Pos
	p.nextToken() // struct
	s := &StructDecl{Name: p.curToken.Literal}
	if !p.expect(TokenIdentifier) || !p.expect(TokenLBrace) {
		return nil
	}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("unexpected end of file in struct %s", s.Name)
			return nil
		}
		m := p.parseField()
		if m == nil {
			return nil
		}
		s.Members = append(s.Members, m)
		if p.curTokenIs(TokenComma) || p.curTokenIs(TokenSemicolon) {
			p.nextToken()
		} else if !p.curTokenIs(TokenRBrace) {
			p.errorf("expected , or } after member %s, got %s", m.Name, p.curToken)
			return nil
		}
	}
	p.nextToken() // }
	s.SpanVal = p.span(start)
	return s
}

// parseField parses name: type.
func (p *Parser) parseField() *Field {
	start := p.curToken.Pos
	f := &Field{Name: p.curToken.Literal}
	if !p.expect(TokenIdentifier) || !p.expect(TokenColon) {
		return nil
	}
	if f.Type = p.parseType(); f.Type == nil {
		return nil
	}
	f.SpanVal = p.span(start)
	return f
}

// parseType parses a base type name followed by pointer stars.
func (p *Parser) parseType() *TypeExpr {
	start := p.curToken.Pos
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected a type, got %s", p.curToken)
		return nil
	}
	t := &TypeExpr{Name: p.curToken.Literal}
	p.nextToken()
	for p.curTokenIs(TokenStar) {
		t.Pointer++
		p.nextToken()
	}
	t.SpanVal = p.span(start)
	return t
}

func (p *Parser) parseFunction() *FuncDecl {
	start := p.curToken.Pos
	p.nextToken() // fun
	fn := &FuncDecl{Name: p.curToken.Literal}
	if !p.expect(TokenIdentifier) || !p.expect(TokenLParen) {
		return nil
	}
	for !p.curTokenIs(TokenRParen) {
		param := p.parseField()
		if param == nil {
			return nil
		}
		fn.Params = append(fn.Params, param)
		if !p.curTokenIs(TokenRParen) && !p.expect(TokenComma) {
			return nil
		}
	}
	p.nextToken() // )
	if p.curTokenIs(TokenColon) {
		p.nextToken()
		if fn.Result = p.parseType(); fn.Result == nil {
			return nil
		}
	}
	fn.SpanVal = p.span(start)
	if fn.Body = p.parseBlock(); fn.Body == nil {
		return nil
	}
	return fn
}

func (p *Parser) parseGlobal() *GlobalDecl {
	start := p.curToken.Pos
	p.nextToken() // global
	g := &GlobalDecl{Name: p.curToken.Literal}
	if !p.expect(TokenIdentifier) || !p.expect(TokenColon) {
		return nil
	}
	if g.Type = p.parseType(); g.Type == nil {
		return nil
	}
	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		if g.Value = p.parseExpression(); g.Value == nil {
			return nil
		}
	}
	if !p.expect(TokenSemicolon) {
		return nil
	}
	g.SpanVal = p.span(start)
	return g
}

// parseConst parses const name[: type] = literal;
func (p *Parser) parseConst() *ConstDecl {
	start := p.curToken.Pos
	p.nextToken() // const
	c := &ConstDecl{Name: p.curToken.Literal}
	if !p.expect(TokenIdentifier) {
		return nil
	}
	if p.curTokenIs(TokenColon) {
		p.nextToken()
		if c.Type = p.parseType(); c.Type == nil {
			return nil
		}
	}
	if !p.expect(TokenAssign) {
		return nil
	}
	if c.Value = p.parseExpression(); c.Value == nil {
		return nil
	}
	if !p.expect(TokenSemicolon) {
		return nil
	}
	c.SpanVal = p.span(start)
	return c
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (p *Parser) parseBlock() *Block {
	start := p.curToken.Pos
	if !p.expect(TokenLBrace) {
		return nil
	}
	b := &Block{}
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("unexpected end of file, expected }")
			return nil
		}
		before := len(p.errors)
		if s := p.parseStatement(); s != nil {
			b.Stmts = append(b.Stmts, s)
		}
		if len(p.errors) > before {
			p.syncStatement()
		}
	}
	p.nextToken() // }
	b.SpanVal = p.span(start)
	return b
}

// syncStatement skips past the next semicolon, stopping early at a brace.
func (p *Parser) syncStatement() {
	for !p.curTokenIs(TokenEOF) {
		switch p.curToken.Type {
		case TokenSemicolon:
			p.nextToken()
			return
		case TokenRBrace, TokenLBrace:
			return
		}
		p.nextToken()
	}
}

// parseStatement parses a single statement.
func (p *Parser) parseStatement() Stmt {
	start := p.curToken.Pos
	switch p.curToken.Type {
	case TokenLBrace:
		if b := p.parseBlock(); b != nil {
			return b
		}
		return nil
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		p.nextToken()
		w := &WhileStmt{Cond: p.parseExpression()}
		if w.Cond == nil {
			return nil
		}
		if w.Body = p.parseBlock(); w.Body == nil {
			return nil
		}
		w.SpanVal = p.span(start)
		return w
	case TokenBreak:
		p.nextToken()
		s := &BreakStmt{}
		s.SpanVal = p.span(start)
		p.expect(TokenSemicolon)
		return s
	case TokenContinue:
		p.nextToken()
		s := &ContinueStmt{}
		s.SpanVal = p.span(start)
		p.expect(TokenSemicolon)
		return s
	case TokenReturn:
		p.nextToken()
		r := &ReturnStmt{}
		if !p.curTokenIs(TokenSemicolon) {
			if r.Value = p.parseExpression(); r.Value == nil {
				return nil
			}
		}
		r.SpanVal = p.span(start)
		p.expect(TokenSemicolon)
		return r
	case TokenConst:
		if c := p.parseConst(); c != nil {
			return c
		}
		return nil
	case TokenIdentifier:
		if p.peekTokenIs(TokenColon) {
			return p.parseVarDecl()
		}
	}

	e := p.parseExpression()
	if e == nil {
		return nil
	}
	s := &ExprStmt{Expr: e}
	s.SpanVal = p.span(start)
	p.expect(TokenSemicolon)
	return s
}

func (p *Parser) parseVarDecl() Stmt {
	start := p.curToken.Pos
	f := p.parseField()
	if f == nil {
		return nil
	}
	d := &VarDecl{Name: f.Name, Type: f.Type}
	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		if d.Value = p.parseExpression(); d.Value == nil {
			return nil
		}
	}
	d.SpanVal = p.span(start)
	p.expect(TokenSemicolon)
	return d
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // if
	s := &IfStmt{Cond: p.parseExpression()}
	if s.Cond == nil {
		return nil
	}
	if s.Then = p.parseBlock(); s.Then == nil {
		return nil
	}
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			s.Else = p.parseIf()
		} else if b := p.parseBlock(); b != nil {
			s.Else = b
		}
		if s.Else == nil {
			return nil
		}
	}
	s.SpanVal = p.span(start)
	return s
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Binary operator precedence, loosest first.
var precedences = map[TokenType]int{
	TokenOrOr:      1,
	TokenAndAnd:    2,
	TokenEq:        3,
	TokenNotEq:     3,
	TokenLess:      4,
	TokenGreater:   4,
	TokenLessEq:    4,
	TokenGreaterEq: 4,
	TokenPlus:      5,
	TokenMinus:     5,
	TokenStar:      6,
	TokenSlash:     6,
}

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr { return p.parseExpression() }

// parseExpression parses an assignment or a binary expression.
func (p *Parser) parseExpression() Expr {
	start := p.curToken.Pos
	left := p.parseBinary(1)
	if left == nil {
		return nil
	}
	if !p.curTokenIs(TokenAssign) {
		return left
	}
	p.nextToken()
	value := p.parseExpression()
	if value == nil {
		return nil
	}
	a := &AssignExpr{Target: left, Value: value}
	a.SpanVal = p.span(start)
	return a
}

// parseBinary is precedence climbing over left-associative operators.
func (p *Parser) parseBinary(minPrec int) Expr {
	start := p.curToken.Pos
	left := p.parseUnary()
	for left != nil {
		prec, ok := precedences[p.curToken.Type]
		if !ok || prec < minPrec {
			break
		}
		op := p.curToken.Type
		p.nextToken()
		right := p.parseBinary(prec + 1)
		if right == nil {
			return nil
		}
		b := &BinaryExpr{Op: op, Left: left, Right: right}
		b.SpanVal = p.span(start)
		left = b
	}
	return left
}

func (p *Parser) parseUnary() Expr {
	start := p.curToken.Pos
	switch op := p.curToken.Type; op {
	case TokenMinus, TokenBang, TokenAmp, TokenStar:
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		u := &UnaryExpr{Op: op, Operand: operand}
		u.SpanVal = p.span(start)
		return u
	case TokenPlusPlus, TokenMinusMinus:
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		e := &IncDecExpr{Op: op, Prefix: true, Operand: operand}
		e.SpanVal = p.span(start)
		return e
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() Expr {
	start := p.curToken.Pos
	e := p.parsePrimary()
	for e != nil {
		switch p.curToken.Type {
		case TokenDot:
			p.nextToken()
			m := &MemberExpr{Object: e, Member: p.curToken.Literal}
			if !p.expect(TokenIdentifier) {
				return nil
			}
			m.SpanVal = p.span(start)
			e = m
		case TokenLBracket:
			p.nextToken()
			idx := &IndexExpr{Object: e, Index: p.parseExpression()}
			if idx.Index == nil || !p.expect(TokenRBracket) {
				return nil
			}
			idx.SpanVal = p.span(start)
			e = idx
		case TokenPlusPlus, TokenMinusMinus:
			inc := &IncDecExpr{Op: p.curToken.Type, Operand: e}
			p.nextToken()
			inc.SpanVal = p.span(start)
			e = inc
		default:
			return e
		}
	}
	return nil
}

func (p *Parser) parsePrimary() Expr {
	start := p.curToken.Pos
	tok := p.curToken
	var e Expr

	switch tok.Type {
	case TokenInteger:
		v, err := strconv.ParseInt(tok.Literal, 0, 64)
		if err != nil || v > math.MaxUint32 {
			p.errorf("integer literal %s is out of range", tok.Literal)
			return nil
		}
		e = &IntLiteral{Value: v}
		p.nextToken()
	case TokenFloat:
		v, err := strconv.ParseFloat(tok.Literal, 32)
		if err != nil {
			p.errorf("float literal %s is out of range", tok.Literal)
			return nil
		}
		e = &FloatLiteral{Value: v}
		p.nextToken()
	case TokenString:
		e = &StringLiteral{Value: tok.Literal}
		p.nextToken()
	case TokenChar:
		r, _ := utf8.DecodeRuneInString(tok.Literal)
		e = &CharLiteral{Value: byte(r)}
		p.nextToken()
	case TokenTrue, TokenFalse:
		e = &BoolLiteral{Value: tok.Type == TokenTrue}
		p.nextToken()
	case TokenNull:
		e = &NullLiteral{}
		p.nextToken()
	case TokenIdentifier:
		p.nextToken()
		if p.curTokenIs(TokenLParen) {
			return p.parseCall(tok)
		}
		e = &Identifier{Name: tok.Literal}
	case TokenLParen:
		p.nextToken()
		inner := p.parseExpression()
		if inner == nil || !p.expect(TokenRParen) {
			return nil
		}
		return inner
	case TokenCast:
		p.nextToken()
		c := &CastExpr{}
		if !p.expect(TokenLess) {
			return nil
		}
		if c.Type = p.parseType(); c.Type == nil || !p.expect(TokenGreater) || !p.expect(TokenLParen) {
			return nil
		}
		if c.Value = p.parseExpression(); c.Value == nil || !p.expect(TokenRParen) {
			return nil
		}
		e = c
	case TokenSizeof:
		p.nextToken()
		s := &SizeofExpr{}
		if !p.expect(TokenLParen) {
			return nil
		}
		if s.Type = p.parseType(); s.Type == nil || !p.expect(TokenRParen) {
			return nil
		}
		e = s
	default:
		p.errorf("unexpected %s in expression", tok)
		return nil
	}

	setSpan(e, p.span(start))
	return e
}

func (p *Parser) parseCall(name Token) Expr {
	p.nextToken() // (
	call := &CallExpr{Name: name.Literal}
	for !p.curTokenIs(TokenRParen) {
		arg := p.parseExpression()
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)
		if !p.curTokenIs(TokenRParen) && !p.expect(TokenComma) {
			return nil
		}
	}
	p.nextToken() // )
	call.SpanVal = p.span(name.Pos)
	return call
}

// setSpan sets the span of a freshly built node.
func setSpan(n Node, s Span) {
	if b, ok := n.(interface{ setSpan(Span) }); ok {
		b.setSpan(s)
	}
}

func (b *base) setSpan(s Span) { b.SpanVal = s }
