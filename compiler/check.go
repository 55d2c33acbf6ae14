package compiler

import (
	"github.com/chazu/tin/vm"
)

// ---------------------------------------------------------------------------
// Declarations: structs, function signatures, globals and constants
// ---------------------------------------------------------------------------

// Unit is the checked global environment of a set of files.
type Unit struct {
	Files   []*File
	Structs map[string]*Struct
	Funcs   map[string]*Function
	Globals map[string]*Global
	Consts  map[string]*Const

	// Declaration order, used for deterministic piece and data layout.
	FuncOrder   []*Function
	GlobalOrder []*Global
}

// Function is a checked function signature.
type Function struct {
	Name     string
	Decl     *FuncDecl
	File     *File
	Params   []Param
	Result   Type
	ArgBlock int
	Ref      *vm.FuncRef
}

// Param is a parameter with its offset inside the argument block.
type Param struct {
	Name   string
	Type   Type
	Offset int
}

// Global is a variable in the data segment.
type Global struct {
	Name   string
	Type   Type
	Offset int
	Decl   *GlobalDecl
	File   *File
}

// Const is a named literal.
type Const struct {
	Name  string
	Type  Type
	Value Expr
	File  *File
}

type checker struct {
	unit *Unit
	prog *vm.Program
	rep  *Reporter

	layout map[*Struct]layoutState
}

type layoutState uint8

const (
	layoutPending layoutState = iota
	layoutBusy
	layoutDone
	layoutFailed
)

// Check resolves the declarations of files, allocates globals in prog's
// data segment and interns every string literal so data offsets do not
// depend on generation order.
func Check(files []*File, prog *vm.Program, rep *Reporter) *Unit {
	c := &checker{
		unit: &Unit{
			Files:   files,
			Structs: make(map[string]*Struct),
			Funcs:   make(map[string]*Function),
			Globals: make(map[string]*Global),
			Consts:  make(map[string]*Const),
		},
		prog:   prog,
		rep:    rep,
		layout: make(map[*Struct]layoutState),
	}
	c.declareStructs()
	c.declareFuncs()
	c.declareConsts()
	c.declareGlobals()
	c.internStrings()
	return c.unit
}

func (c *checker) errorf(f *File, n Node, format string, args ...any) {
	c.rep.Errorf(f.Name, n.Span().Start, format, args...)
}

func (c *checker) declareStructs() {
	owner := make(map[*Struct]*File)
	for _, f := range c.unit.Files {
		for _, d := range f.Structs {
			if _, ok := baseTypes[d.Name]; ok {
				c.errorf(f, d, "cannot redefine built-in type %s", d.Name)
				continue
			}
			if _, dup := c.unit.Structs[d.Name]; dup {
				c.errorf(f, d, "struct %s is already declared", d.Name)
				continue
			}
			s := &Struct{Name: d.Name, Decl: d}
			c.unit.Structs[d.Name] = s
			owner[s] = f
		}
	}
	for _, f := range c.unit.Files {
		for _, d := range f.Structs {
			if s := c.unit.Structs[d.Name]; s != nil && s.Decl == d {
				c.layoutStruct(s, owner)
			}
		}
	}
}

// layoutStruct assigns member offsets: natural alignment, size rounded up
// to the largest member alignment.
func (c *checker) layoutStruct(s *Struct, owner map[*Struct]*File) bool {
	switch c.layout[s] {
	case layoutBusy:
		c.errorf(owner[s], s.Decl, "struct %s contains itself", s.Name)
		return false
	case layoutDone:
		return true
	case layoutFailed:
		return false
	}
	c.layout[s] = layoutBusy
	s.Align = 1
	if !c.layoutMembers(s, owner[s], owner) {
		c.layout[s] = layoutFailed
		return false
	}
	c.layout[s] = layoutDone
	return true
}

func (c *checker) layoutMembers(s *Struct, f *File, owner map[*Struct]*File) bool {
	offset := 0
	seen := make(map[string]bool)
	for _, m := range s.Decl.Members {
		if seen[m.Name] {
			c.errorf(f, m, "duplicate member %s in struct %s", m.Name, s.Name)
			return false
		}
		seen[m.Name] = true
		t, ok := c.resolveType(f, m.Type)
		if !ok {
			return false
		}
		if t.IsVoid() {
			c.errorf(f, m, "member %s cannot have type void", m.Name)
			return false
		}
		if t.IsStruct() && !c.layoutStruct(t.Struct, owner) {
			return false
		}
		a := alignOf(t)
		offset = alignUp(offset, a)
		s.Members = append(s.Members, Member{Name: m.Name, Type: t, Offset: offset})
		offset += t.Size()
		if a > s.Align {
			s.Align = a
		}
	}
	s.Size = alignUp(offset, s.Align)
	return true
}

// resolveType converts a written type, reporting unknown names.
func (c *checker) resolveType(f *File, te *TypeExpr) (Type, bool) {
	t, ok := lookupType(c.unit, te)
	if !ok {
		c.errorf(f, te, "unknown type %s", te)
	}
	return t, ok
}

func lookupType(u *Unit, te *TypeExpr) (Type, bool) {
	t, ok := baseTypes[te.Name]
	if !ok {
		s, found := u.Structs[te.Name]
		if !found {
			return TypeInvalid, false
		}
		t = Type{Kind: KindStruct, Struct: s}
	}
	t.Pointer = te.Pointer
	return t, true
}

func (c *checker) declareFuncs() {
	for _, f := range c.unit.Files {
		for _, d := range f.Funcs {
			if vm.NativeByName(d.Name) != nil {
				c.errorf(f, d, "function %s redefines a native", d.Name)
				continue
			}
			if _, dup := c.unit.Funcs[d.Name]; dup {
				c.errorf(f, d, "function %s is already declared", d.Name)
				continue
			}
			fn := &Function{Name: d.Name, Decl: d, File: f, Result: TypeVoid, Ref: vm.NewFuncRef(d.Name)}
			if d.Result != nil {
				if t, ok := c.resolveType(f, d.Result); ok {
					fn.Result = t
				}
			}

			sizes := make([]int, 0, len(d.Params))
			for _, p := range d.Params {
				t, ok := c.resolveType(f, p.Type)
				if ok && t.IsVoid() {
					c.errorf(f, p, "parameter %s cannot have type void", p.Name)
				}
				fn.Params = append(fn.Params, Param{Name: p.Name, Type: t})
				sizes = append(sizes, t.Size())
			}
			offsets, block := vm.LayoutArgs(sizes)
			for i := range fn.Params {
				fn.Params[i].Offset = offsets[i]
			}
			fn.ArgBlock = block

			if d.Name == "main" {
				if len(d.Params) > 0 {
					c.errorf(f, d, "main cannot take parameters")
				}
				if !fn.Result.IsVoid() && fn.Result != TypeInt {
					c.errorf(f, d, "main must return int or nothing, not %s", fn.Result)
				}
			}
			c.unit.Funcs[d.Name] = fn
			c.unit.FuncOrder = append(c.unit.FuncOrder, fn)
		}
	}
}

func (c *checker) declareConsts() {
	for _, f := range c.unit.Files {
		for _, d := range f.Consts {
			if c.nameTaken(f, d, d.Name) {
				continue
			}
			if k, ok := checkConst(c.unit, f, d, c.rep); ok {
				c.unit.Consts[d.Name] = k
			}
		}
	}
}

// checkConst checks a const declaration and infers its type from the
// literal when none is written.
func checkConst(u *Unit, f *File, d *ConstDecl, rep *Reporter) (*Const, bool) {
	if !isLiteral(d.Value) {
		rep.Errorf(f.Name, d.Value.Span().Start, "constant %s must be a literal", d.Name)
		return nil, false
	}
	lit := literalType(d.Value)
	k := &Const{Name: d.Name, Type: lit, Value: d.Value, File: f}
	if d.Type != nil {
		t, ok := lookupType(u, d.Type)
		if !ok {
			rep.Errorf(f.Name, d.Type.Span().Start, "unknown type %s", d.Type)
			return nil, false
		}
		if !assignable(t, lit) && !(t == TypeFloat && lit == TypeInt) {
			rep.Errorf(f.Name, d.Span().Start, "cannot use %s value as constant of type %s", lit, t)
			return nil, false
		}
		k.Type = t
	}
	return k, true
}

func literalType(e Expr) Type {
	switch e := e.(type) {
	case *IntLiteral:
		return TypeInt
	case *FloatLiteral:
		return TypeFloat
	case *StringLiteral:
		return TypeCharPtr
	case *CharLiteral:
		return TypeChar
	case *BoolLiteral:
		return TypeBool
	case *NullLiteral:
		return TypeVoidPtr
	case *UnaryExpr:
		return literalType(e.Operand)
	}
	return TypeInvalid
}

func (c *checker) declareGlobals() {
	for _, f := range c.unit.Files {
		for _, d := range f.Globals {
			if c.nameTaken(f, d, d.Name) {
				continue
			}
			t, ok := c.resolveType(f, d.Type)
			if !ok {
				continue
			}
			if t.IsVoid() {
				c.errorf(f, d, "global %s cannot have type void", d.Name)
				continue
			}
			if n := len(c.prog.Data()); alignUp(n, alignOf(t)) > n {
				c.prog.AppendData(alignUp(n, alignOf(t))-n, nil)
			}
			g := &Global{Name: d.Name, Type: t, Decl: d, File: f}
			g.Offset = c.prog.AppendData(t.Size(), nil)
			c.unit.Globals[d.Name] = g
			c.unit.GlobalOrder = append(c.unit.GlobalOrder, g)
		}
	}
}

func (c *checker) nameTaken(f *File, n Node, name string) bool {
	_, isConst := c.unit.Consts[name]
	_, isGlobal := c.unit.Globals[name]
	if isConst || isGlobal {
		c.errorf(f, n, "%s is already declared", name)
		return true
	}
	return false
}

// internStrings stores every string literal in source order.
func (c *checker) internStrings() {
	visit := func(n Node) {
		if s, ok := n.(*StringLiteral); ok {
			c.prog.InternString(s.Value)
		}
	}
	for _, f := range c.unit.Files {
		for _, d := range f.Consts {
			walk(d.Value, visit)
		}
		for _, d := range f.Globals {
			if d.Value != nil {
				walk(d.Value, visit)
			}
		}
		for _, d := range f.Funcs {
			walk(d.Body, visit)
		}
	}
}

// walk calls fn for n and every node below it.
func walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *Block:
		for _, s := range n.Stmts {
			walk(s, fn)
		}
	case *VarDecl:
		if n.Value != nil {
			walk(n.Value, fn)
		}
	case *ConstDecl:
		walk(n.Value, fn)
	case *ExprStmt:
		walk(n.Expr, fn)
	case *IfStmt:
		walk(n.Cond, fn)
		walk(n.Then, fn)
		if n.Else != nil {
			walk(n.Else, fn)
		}
	case *WhileStmt:
		walk(n.Cond, fn)
		walk(n.Body, fn)
	case *ReturnStmt:
		if n.Value != nil {
			walk(n.Value, fn)
		}
	case *CallExpr:
		for _, a := range n.Args {
			walk(a, fn)
		}
	case *BinaryExpr:
		walk(n.Left, fn)
		walk(n.Right, fn)
	case *UnaryExpr:
		walk(n.Operand, fn)
	case *IncDecExpr:
		walk(n.Operand, fn)
	case *AssignExpr:
		walk(n.Target, fn)
		walk(n.Value, fn)
	case *MemberExpr:
		walk(n.Object, fn)
	case *IndexExpr:
		walk(n.Object, fn)
		walk(n.Index, fn)
	case *CastExpr:
		walk(n.Value, fn)
	}
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
