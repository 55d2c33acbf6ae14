package compiler

import "strings"

// ---------------------------------------------------------------------------
// AST: abstract syntax tree for tin
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
}

// base carries the span shared by every node.
type base struct {
	SpanVal Span
}

func (b *base) Span() Span { return b.SpanVal }

// TypeExpr is a written type: a base name and a pointer depth.
type TypeExpr struct {
	base
	Name    string
	Pointer int
}

func (t *TypeExpr) String() string {
	return t.Name + strings.Repeat("*", t.Pointer)
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr()
}

// IntLiteral represents an integer literal.
type IntLiteral struct {
	base
	Value int64
}

// FloatLiteral represents a floating-point literal.
type FloatLiteral struct {
	base
	Value float64
}

// StringLiteral represents a string literal; its value is a char*.
type StringLiteral struct {
	base
	Value string
}

// CharLiteral represents a character literal.
type CharLiteral struct {
	base
	Value byte
}

// BoolLiteral represents true or false.
type BoolLiteral struct {
	base
	Value bool
}

// NullLiteral represents null.
type NullLiteral struct {
	base
}

// Identifier names a variable or constant.
type Identifier struct {
	base
	Name string
}

// CallExpr calls a function or native by name.
type CallExpr struct {
	base
	Name string
	Args []Expr
}

// BinaryExpr applies an arithmetic, comparison or logical operator.
type BinaryExpr struct {
	base
	Op    TokenType
	Left  Expr
	Right Expr
}

// UnaryExpr applies -, !, & or * to its operand.
type UnaryExpr struct {
	base
	Op      TokenType
	Operand Expr
}

// IncDecExpr is ++x, --x, x++ or x--.
type IncDecExpr struct {
	base
	Op      TokenType // TokenPlusPlus or TokenMinusMinus
	Prefix  bool
	Operand Expr
}

// AssignExpr stores Value into Target and yields the stored value.
type AssignExpr struct {
	base
	Target Expr
	Value  Expr
}

// MemberExpr selects a struct member; pointers to structs are
// dereferenced automatically.
type MemberExpr struct {
	base
	Object Expr
	Member string
}

// IndexExpr indexes a pointer.
type IndexExpr struct {
	base
	Object Expr
	Index  Expr
}

// CastExpr is cast<T>(value).
type CastExpr struct {
	base
	Type  *TypeExpr
	Value Expr
}

// SizeofExpr is sizeof(T).
type SizeofExpr struct {
	base
	Type *TypeExpr
}

func (*IntLiteral) expr()    {}
func (*FloatLiteral) expr()  {}
func (*StringLiteral) expr() {}
func (*CharLiteral) expr()   {}
func (*BoolLiteral) expr()   {}
func (*NullLiteral) expr()   {}
func (*Identifier) expr()    {}
func (*CallExpr) expr()      {}
func (*BinaryExpr) expr()    {}
func (*UnaryExpr) expr()     {}
func (*IncDecExpr) expr()    {}
func (*AssignExpr) expr()    {}
func (*MemberExpr) expr()    {}
func (*IndexExpr) expr()     {}
func (*CastExpr) expr()      {}
func (*SizeofExpr) expr()    {}

// isLiteral reports whether e is a literal, the only expressions allowed
// as constant values.
func isLiteral(e Expr) bool {
	switch e := e.(type) {
	case *IntLiteral, *FloatLiteral, *StringLiteral, *CharLiteral, *BoolLiteral, *NullLiteral:
		return true
	case *UnaryExpr:
		// -1 and -1.5 are written as negations.
		if e.Op == TokenMinus {
			switch e.Operand.(type) {
			case *IntLiteral, *FloatLiteral:
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt()
}

// VarDecl declares a local: name: T [= value];
type VarDecl struct {
	base
	Name  string
	Type  *TypeExpr
	Value Expr
}

// ConstDecl declares a constant: const name: T = literal;
type ConstDecl struct {
	base
	Name  string
	Type  *TypeExpr
	Value Expr
}

// ExprStmt evaluates an expression for its effects.
type ExprStmt struct {
	base
	Expr Expr
}

// IfStmt is if cond { } [else { } | else if ...].
type IfStmt struct {
	base
	Cond Expr
	Then *Block
	Else Stmt // *Block, *IfStmt or nil
}

// WhileStmt is while cond { }.
type WhileStmt struct {
	base
	Cond Expr
	Body *Block
}

// BreakStmt leaves the innermost loop.
type BreakStmt struct {
	base
}

// ContinueStmt jumps to the condition of the innermost loop.
type ContinueStmt struct {
	base
}

// ReturnStmt returns from the function, with an optional value.
type ReturnStmt struct {
	base
	Value Expr
}

// Block is a braced statement list with its own scope.
type Block struct {
	base
	Stmts []Stmt
}

func (*VarDecl) stmt()      {}
func (*ConstDecl) stmt()    {}
func (*ExprStmt) stmt()     {}
func (*IfStmt) stmt()       {}
func (*WhileStmt) stmt()    {}
func (*BreakStmt) stmt()    {}
func (*ContinueStmt) stmt() {}
func (*ReturnStmt) stmt()   {}
func (*Block) stmt()        {}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Field is a struct member or a function parameter.
type Field struct {
	base
	Name string
	Type *TypeExpr
}

// StructDecl declares a struct type.
type StructDecl struct {
	base
	Name    string
	Members []*Field
}

// FuncDecl declares a function. Result is nil for functions without a
// return value.
type FuncDecl struct {
	base
	Name   string
	Params []*Field
	Result *TypeExpr
	Body   *Block
}

// GlobalDecl declares a variable in the global data segment.
type GlobalDecl struct {
	base
	Name  string
	Type  *TypeExpr
	Value Expr
}

// File is one parsed source file.
type File struct {
	Name    string
	Source  string
	Structs []*StructDecl
	Funcs   []*FuncDecl
	Globals []*GlobalDecl
	Consts  []*ConstDecl
}

// Line returns the text of the 1-based line n, without its newline.
func (f *File) Line(n int) string {
	src := f.Source
	for i := 1; i < n; i++ {
		nl := strings.IndexByte(src, '\n')
		if nl < 0 {
			return ""
		}
		src = src[nl+1:]
	}
	if nl := strings.IndexByte(src, '\n'); nl >= 0 {
		src = src[:nl]
	}
	return strings.TrimRight(src, "\r")
}
