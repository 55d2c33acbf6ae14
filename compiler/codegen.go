package compiler

import (
	"math"

	"github.com/chazu/tin/vm"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Code generation: one function body into one piece
// ---------------------------------------------------------------------------

// Values live on the operand stack as 8-byte words, one per scalar. A
// struct value is one word per scalar leaf, first member deepest. Register
// A carries values, B carries addresses, C and D are scratch.

const wordSize = 8

// local is a name visible inside a function body.
type local struct {
	typ    Type
	offset int    // from BP
	konst  *Const // non-nil for local constants
}

type scope struct {
	names map[string]*local
}

// loop records what break and continue need.
type loop struct {
	start  int   // condition label
	depth  int   // frame depth at loop entry
	breaks []int // jump immediates patched at loop exit
}

// generator emits the code of one function. Generators for different
// functions run concurrently; they share only the Unit (read-only), the
// Program (locked) and the Reporter (locked).
type generator struct {
	unit *Unit
	prog *vm.Program
	rep  *Reporter
	fn   *Function
	file *File
	p    *vm.Piece
	log  commonlog.Logger

	scopes []*scope
	loops  []*loop
	frame  int // current local frame depth, <= 0
	target int // last cell a forward jump was patched to
	errors int
}

func newGenerator(u *Unit, prog *vm.Program, rep *Reporter, fn *Function, p *vm.Piece) *generator {
	return &generator{
		unit: u,
		prog: prog,
		rep:  rep,
		fn:   fn,
		file: fn.File,
		p:    p,
		log:  commonlog.GetLogger("tin.compiler"),
	}
}

func (g *generator) errorf(n Node, format string, args ...any) {
	g.errors++
	g.rep.Errorf(g.file.Name, n.Span().Start, format, args...)
}

// generate emits the whole function.
func (g *generator) generate() {
	d := g.fn.Decl
	g.pushScope()
	for _, p := range g.fn.Params {
		g.declare(d, p.Name, &local{typ: p.Type, offset: 16 + p.Offset})
	}
	g.p.SetLine(d.Span().Start.Line, g.file.Line(d.Span().Start.Line))
	if g.fn.Name == "main" {
		g.initGlobals()
	}

	// Parameters share the body's outermost scope.
	g.stmts(d.Body)

	if op, ok := g.p.LastOp(); !ok || op != vm.OpRet || g.target == g.p.Len() {
		if !g.fn.Result.IsVoid() && g.fn.Result.Valid() {
			g.errorf(d, "missing return at end of %s", g.fn.Name)
		}
		g.p.SetLine(d.Body.Span().End.Line, g.file.Line(d.Body.Span().End.Line))
		g.p.Emit(vm.Inst(vm.OpRet, vm.RegInvalid, vm.RegInvalid))
	}
	g.popScope()
	g.log.Debugf("generated %s: %d cells", g.fn.Name, g.p.Len())
}

// initGlobals stores global initializers in declaration order. Globals
// without one stay zero.
func (g *generator) initGlobals() {
	for _, gl := range g.unit.GlobalOrder {
		d := gl.Decl
		if d.Value == nil {
			continue
		}
		saved := g.file
		g.file = gl.File
		g.p.SetLine(d.Span().Start.Line, gl.File.Line(d.Span().Start.Line))
		t := g.coerce(g.expr(d.Value), gl.Type)
		if g.check(d.Value, gl.Type, t, "global "+gl.Name) {
			g.p.EmitImm(vm.Inst(vm.OpDataPtr, vm.RegB, vm.RegInvalid), int32(gl.Offset))
			g.popTo(vm.RegB, 0, gl.Type)
		} else {
			g.discard(t)
		}
		g.file = saved
	}
}

// fix patches a forward jump to the current end of the stream.
func (g *generator) fix(cell int) {
	g.p.FixJumpHere(cell)
	g.target = g.p.Len()
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (g *generator) pushScope() {
	g.scopes = append(g.scopes, &scope{names: make(map[string]*local)})
}

func (g *generator) popScope() {
	g.scopes = g.scopes[:len(g.scopes)-1]
}

func (g *generator) declare(n Node, name string, l *local) {
	s := g.scopes[len(g.scopes)-1]
	if _, dup := s.names[name]; dup {
		g.errorf(n, "%s is already declared in this scope", name)
		return
	}
	s.names[name] = l
}

// lookup resolves a name: locals innermost first, then globals and
// constants.
func (g *generator) lookup(name string) (*local, *Global, *Const) {
	for i := len(g.scopes) - 1; i >= 0; i-- {
		if l, ok := g.scopes[i].names[name]; ok {
			return l, nil, l.konst
		}
	}
	if gl, ok := g.unit.Globals[name]; ok {
		return nil, gl, nil
	}
	if k, ok := g.unit.Consts[name]; ok {
		return nil, nil, k
	}
	return nil, nil, nil
}

// release pops locals down to the given frame depth. The tracked depth is
// left alone; callers that leave a scope reset it themselves.
func (g *generator) release(depth int) {
	if n := depth - g.frame; n != 0 {
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(n))
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// block generates a braced block in a new scope.
func (g *generator) block(b *Block) bool {
	g.pushScope()
	defer g.popScope()
	return g.stmts(b)
}

// stmts generates the statements of b in the current scope. Statements
// after a return, break or continue are not generated.
func (g *generator) stmts(b *Block) (terminated bool) {
	depth := g.frame
	for _, s := range b.Stmts {
		line := s.Span().Start.Line
		g.p.SetLine(line, g.file.Line(line))
		terminated = g.stmt(s)
		g.checkDepth(s)
		if terminated {
			break
		}
	}
	if terminated {
		g.p.VirtualSP += depth - g.frame
	} else {
		g.release(depth)
	}
	g.frame = depth
	return terminated
}

// checkDepth verifies that a statement left no words on the operand stack.
func (g *generator) checkDepth(s Stmt) {
	if g.errors == 0 && g.p.VirtualSP != g.frame {
		g.errorf(s, "internal error: stack depth %d after statement, expected %d", g.p.VirtualSP, g.frame)
	}
}

func (g *generator) stmt(s Stmt) bool {
	switch s := s.(type) {
	case *VarDecl:
		g.varDecl(s)
	case *ConstDecl:
		if k, ok := checkConst(g.unit, g.file, s, g.rep); ok {
			g.declare(s, s.Name, &local{typ: k.Type, konst: k})
		} else {
			g.errors++
		}
	case *ExprStmt:
		g.discard(g.expr(s.Expr))
	case *IfStmt:
		g.ifStmt(s)
	case *WhileStmt:
		g.whileStmt(s)
	case *BreakStmt:
		return g.jumpOut(s, true)
	case *ContinueStmt:
		return g.jumpOut(s, false)
	case *ReturnStmt:
		g.returnStmt(s)
		return true
	case *Block:
		return g.block(s)
	}
	return false
}

func (g *generator) varDecl(d *VarDecl) {
	t, ok := lookupType(g.unit, d.Type)
	if !ok {
		g.errorf(d.Type, "unknown type %s", d.Type)
		return
	}
	if t.IsVoid() {
		g.errorf(d, "variable %s cannot have type void", d.Name)
		return
	}
	size := alignUp(t.Size(), wordSize)
	g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(-size))
	g.frame -= size
	off := g.frame

	if d.Value != nil {
		vt := g.coerce(g.expr(d.Value), t)
		if g.check(d.Value, t, vt, "variable "+d.Name) {
			g.popTo(vm.RegBP, off, t)
		} else {
			g.discard(vt)
		}
	} else {
		g.p.Emit(vm.Inst(vm.OpMovRR, vm.RegB, vm.RegBP))
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegB, vm.RegInvalid), int32(off))
		g.p.EmitImm(vm.Inst(vm.OpLi, vm.RegA, vm.RegInvalid), int32(size))
		g.p.Emit(vm.Inst(vm.OpMemzero, vm.RegB, vm.RegA))
	}
	g.declare(d, d.Name, &local{typ: t, offset: off})
}

func (g *generator) ifStmt(s *IfStmt) {
	g.condition(s.Cond)
	skip := g.p.EmitJumpPlaceholder(vm.OpJz, vm.RegA)
	returned := g.block(s.Then)
	if s.Else == nil {
		g.fix(skip)
		return
	}
	end := -1
	if !returned {
		end = g.p.EmitJumpPlaceholder(vm.OpJmp, vm.RegInvalid)
	}
	g.fix(skip)
	switch e := s.Else.(type) {
	case *Block:
		g.block(e)
	case *IfStmt:
		line := e.Span().Start.Line
		g.p.SetLine(line, g.file.Line(line))
		g.ifStmt(e)
	}
	if end >= 0 {
		g.fix(end)
	}
}

func (g *generator) whileStmt(s *WhileStmt) {
	l := &loop{start: g.p.Label(), depth: g.frame}
	g.condition(s.Cond)
	exit := g.p.EmitJumpPlaceholder(vm.OpJz, vm.RegA)

	g.loops = append(g.loops, l)
	g.block(s.Body)
	g.loops = g.loops[:len(g.loops)-1]

	g.p.EmitJumpBack(vm.OpJmp, vm.RegInvalid, l.start)
	g.fix(exit)
	for _, b := range l.breaks {
		g.fix(b)
	}
}

// condition evaluates a scalar and leaves it in A.
func (g *generator) condition(e Expr) {
	t := g.expr(e)
	if !t.Valid() {
		g.discard(t)
		g.p.EmitImm(vm.Inst(vm.OpLi, vm.RegA, vm.RegInvalid), 0)
		return
	}
	if t.Leaves() != 1 {
		g.errorf(e, "condition must be a scalar, not %s", t)
		g.discard(t)
		g.p.EmitImm(vm.Inst(vm.OpLi, vm.RegA, vm.RegInvalid), 0)
		return
	}
	g.p.EmitPop(vm.RegA)
}

// jumpOut lowers break (out) and continue: release the loop body's
// locals, then jump.
func (g *generator) jumpOut(s Stmt, out bool) bool {
	if len(g.loops) == 0 {
		if out {
			g.errorf(s, "break outside a loop")
		} else {
			g.errorf(s, "continue outside a loop")
		}
		return false
	}
	l := g.loops[len(g.loops)-1]
	g.release(l.depth)
	if out {
		l.breaks = append(l.breaks, g.p.EmitJumpPlaceholder(vm.OpJmp, vm.RegInvalid))
	} else {
		g.p.EmitJumpBack(vm.OpJmp, vm.RegInvalid, l.start)
	}
	g.p.VirtualSP += g.frame - l.depth
	return true
}

func (g *generator) returnStmt(s *ReturnStmt) {
	want := g.fn.Result
	depth := g.p.VirtualSP
	switch {
	case s.Value == nil:
		if !want.IsVoid() && want.Valid() {
			g.errorf(s, "%s must return a %s value", g.fn.Name, want)
		}
	case want.IsVoid():
		g.errorf(s, "%s does not return a value", g.fn.Name)
		g.discard(g.expr(s.Value))
	default:
		t := g.coerce(g.expr(s.Value), want)
		if !g.check(s.Value, want, t, "return value") {
			g.discard(t)
			break
		}
		if g.fn.Name == "main" {
			g.p.EmitPop(vm.RegA)
			break
		}
		// The return slot sits above the argument block.
		for i := 0; i < want.Leaves(); i++ {
			g.p.EmitPop(vm.RegA)
			g.p.EmitImm(vm.InstFlag(vm.OpMovMRDisp, vm.RegBP, vm.RegA, wordSize), int32(16+g.fn.ArgBlock+wordSize*i))
		}
	}
	g.release(0)
	if g.errors == 0 && g.p.VirtualSP != 0 {
		g.errorf(s, "internal error: stack depth %d at return", g.p.VirtualSP)
	}
	g.p.Emit(vm.Inst(vm.OpRet, vm.RegInvalid, vm.RegInvalid))
	g.p.VirtualSP = depth
}

// ---------------------------------------------------------------------------
// Memory moves between the operand stack and memory
// ---------------------------------------------------------------------------

// pushFrom pushes the value of type t stored at base+off.
func (g *generator) pushFrom(base vm.Register, off int, t Type) {
	if t.IsStruct() {
		for _, m := range t.Struct.Members {
			g.pushFrom(base, off+m.Offset, m.Type)
		}
		return
	}
	g.p.EmitImm(vm.InstFlag(vm.OpMovRMDisp, vm.RegA, base, uint8(t.Size())), int32(off))
	g.p.EmitPush(vm.RegA)
}

// popTo pops a value of type t into memory at base+off.
func (g *generator) popTo(base vm.Register, off int, t Type) {
	if t.IsStruct() {
		ms := t.Struct.Members
		for i := len(ms) - 1; i >= 0; i-- {
			g.popTo(base, off+ms[i].Offset, ms[i].Type)
		}
		return
	}
	g.p.EmitPop(vm.RegA)
	g.p.EmitImm(vm.InstFlag(vm.OpMovMRDisp, base, vm.RegA, uint8(t.Size())), int32(off))
}

// discard drops a value of type t.
func (g *generator) discard(t Type) {
	switch n := t.Leaves(); n {
	case 0:
	case 1:
		g.p.EmitPop(vm.RegA)
	default:
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(wordSize*n))
	}
}

// check reports a type mismatch between a location and a value.
func (g *generator) check(n Node, want, got Type, what string) bool {
	if !want.Valid() || !got.Valid() {
		return false
	}
	if !assignable(want, got) {
		g.errorf(n, "cannot use %s as %s in %s", got, want, what)
		return false
	}
	return true
}

// coerce converts an int on top of the stack to float when a float is
// expected.
func (g *generator) coerce(got, want Type) Type {
	if got == TypeInt && want == TypeFloat {
		g.p.EmitPop(vm.RegA)
		g.p.Emit(vm.InstFlag(vm.OpCast, vm.RegA, vm.RegInvalid, vm.CastIntToFloat))
		g.p.EmitPush(vm.RegA)
		return TypeFloat
	}
	return got
}

func (g *generator) li(r vm.Register, v int32) {
	g.p.EmitImm(vm.Inst(vm.OpLi, r, vm.RegInvalid), v)
}

func (g *generator) pushImm(v int32) {
	g.li(vm.RegA, v)
	g.p.EmitPush(vm.RegA)
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// expr pushes the value of e and returns its type. On error it reports,
// pushes nothing and returns TypeInvalid.
func (g *generator) expr(e Expr) Type {
	switch e := e.(type) {
	case *IntLiteral:
		g.pushImm(int32(e.Value))
		return TypeInt
	case *FloatLiteral:
		g.pushImm(int32(math.Float32bits(float32(e.Value))))
		return TypeFloat
	case *CharLiteral:
		g.pushImm(int32(int8(e.Value)))
		return TypeChar
	case *BoolLiteral:
		if e.Value {
			g.pushImm(1)
		} else {
			g.pushImm(0)
		}
		return TypeBool
	case *NullLiteral:
		g.pushImm(0)
		return TypeVoidPtr
	case *StringLiteral:
		off := g.prog.InternString(e.Value)
		g.p.EmitImm(vm.Inst(vm.OpDataPtr, vm.RegA, vm.RegInvalid), int32(off))
		g.p.EmitPush(vm.RegA)
		return TypeCharPtr
	case *Identifier:
		return g.identifier(e)
	case *CallExpr:
		return g.call(e)
	case *BinaryExpr:
		return g.binary(e)
	case *UnaryExpr:
		return g.unary(e)
	case *IncDecExpr:
		return g.incDec(e)
	case *AssignExpr:
		return g.assign(e)
	case *MemberExpr:
		return g.member(e)
	case *IndexExpr:
		t := g.index(e)
		if t.Valid() {
			g.p.EmitPop(vm.RegB)
			g.pushFrom(vm.RegB, 0, t)
		}
		return t
	case *CastExpr:
		return g.cast(e)
	case *SizeofExpr:
		t, ok := lookupType(g.unit, e.Type)
		if !ok {
			g.errorf(e.Type, "unknown type %s", e.Type)
			return TypeInvalid
		}
		g.pushImm(int32(t.Size()))
		return TypeInt
	}
	g.errorf(e, "unsupported expression")
	return TypeInvalid
}

func (g *generator) identifier(e *Identifier) Type {
	l, gl, k := g.lookup(e.Name)
	switch {
	case k != nil:
		return g.coerce(g.expr(k.Value), k.Type)
	case l != nil:
		g.pushFrom(vm.RegBP, l.offset, l.typ)
		return l.typ
	case gl != nil:
		g.p.EmitImm(vm.Inst(vm.OpDataPtr, vm.RegB, vm.RegInvalid), int32(gl.Offset))
		g.pushFrom(vm.RegB, 0, gl.Type)
		return gl.Type
	}
	g.errorf(e, "undefined: %s", e.Name)
	return TypeInvalid
}

// ref pushes the address of an lvalue and returns the type stored there.
func (g *generator) ref(e Expr) Type {
	switch e := e.(type) {
	case *Identifier:
		l, gl, k := g.lookup(e.Name)
		switch {
		case k != nil:
			g.errorf(e, "cannot take the address of constant %s", e.Name)
			return TypeInvalid
		case l != nil:
			g.p.Emit(vm.Inst(vm.OpMovRR, vm.RegB, vm.RegBP))
			g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegB, vm.RegInvalid), int32(l.offset))
			g.p.EmitPush(vm.RegB)
			return l.typ
		case gl != nil:
			g.p.EmitImm(vm.Inst(vm.OpDataPtr, vm.RegB, vm.RegInvalid), int32(gl.Offset))
			g.p.EmitPush(vm.RegB)
			return gl.Type
		}
		g.errorf(e, "undefined: %s", e.Name)
		return TypeInvalid
	case *MemberExpr:
		return g.memberRef(e)
	case *IndexExpr:
		return g.index(e)
	case *UnaryExpr:
		if e.Op == TokenStar {
			return g.deref(e)
		}
	}
	g.errorf(e, "expression is not addressable")
	return TypeInvalid
}

// memberRef pushes the address of a struct member. A pointer to a struct
// is dereferenced automatically.
func (g *generator) memberRef(e *MemberExpr) Type {
	var st Type
	if g.addressable(e.Object) {
		st = g.ref(e.Object)
		if st.Kind == KindStruct && st.Pointer == 1 {
			g.p.EmitPop(vm.RegB)
			g.p.EmitImm(vm.InstFlag(vm.OpMovRMDisp, vm.RegB, vm.RegB, wordSize), 0)
			g.p.EmitPush(vm.RegB)
			st = st.Elem()
		}
	} else {
		st = g.expr(e.Object)
		switch {
		case !st.Valid():
		case st.Kind == KindStruct && st.Pointer == 1:
			st = st.Elem()
		case st.IsStruct():
			g.errorf(e, "cannot take the address of a member of a temporary %s", st)
			g.discard(st)
			return TypeInvalid
		default:
			g.errorf(e, "%s has no members", st)
			g.discard(st)
			return TypeInvalid
		}
	}
	if !st.Valid() {
		return TypeInvalid
	}
	if !st.IsStruct() {
		g.errorf(e, "%s has no members", st)
		g.discard(TypeInt)
		return TypeInvalid
	}
	m, ok := st.Struct.Member(e.Member)
	if !ok {
		g.errorf(e, "%s has no member %s", st, e.Member)
		g.discard(TypeInt)
		return TypeInvalid
	}
	if m.Offset != 0 {
		g.p.EmitPop(vm.RegB)
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegB, vm.RegInvalid), int32(m.Offset))
		g.p.EmitPush(vm.RegB)
	}
	return m.Type
}

// addressable reports whether e names a memory location.
func (g *generator) addressable(e Expr) bool {
	switch e := e.(type) {
	case *Identifier:
		_, _, k := g.lookup(e.Name)
		return k == nil
	case *MemberExpr:
		return g.addressable(e.Object)
	case *IndexExpr:
		return true
	case *UnaryExpr:
		return e.Op == TokenStar
	}
	return false
}

func (g *generator) member(e *MemberExpr) Type {
	if g.addressable(e.Object) {
		t := g.memberRef(e)
		if t.Valid() {
			g.p.EmitPop(vm.RegB)
			g.pushFrom(vm.RegB, 0, t)
		}
		return t
	}

	st := g.expr(e.Object)
	if !st.Valid() {
		return TypeInvalid
	}
	if st.Kind == KindStruct && st.Pointer == 1 {
		st = st.Elem()
		m, ok := st.Struct.Member(e.Member)
		if !ok {
			g.errorf(e, "%s has no member %s", st, e.Member)
			g.discard(TypeInt)
			return TypeInvalid
		}
		g.p.EmitPop(vm.RegB)
		g.pushFrom(vm.RegB, m.Offset, m.Type)
		return m.Type
	}
	if !st.IsStruct() {
		g.errorf(e, "%s has no members", st)
		g.discard(st)
		return TypeInvalid
	}
	m, ok := st.Struct.Member(e.Member)
	if !ok {
		g.errorf(e, "%s has no member %s", st, e.Member)
		g.discard(st)
		return TypeInvalid
	}
	g.extractLeaves(st, m)
	return m.Type
}

// extractLeaves replaces a struct value on the stack with one of its
// members. Leaf i of an n-leaf value is at SP+8*(n-1-i); copying upward in
// increasing leaf order never overwrites a leaf still to be read.
func (g *generator) extractLeaves(st Type, m Member) {
	total := st.Leaves()
	first := 0
	for _, x := range st.Struct.Members {
		if x.Name == m.Name {
			break
		}
		first += x.Type.Leaves()
	}
	count := m.Type.Leaves()
	for j := 0; j < count; j++ {
		src := wordSize * (total - 1 - first - j)
		dst := wordSize * (total - 1 - j)
		if src == dst {
			continue
		}
		g.p.EmitImm(vm.InstFlag(vm.OpMovRMDisp, vm.RegA, vm.RegSP, wordSize), int32(src))
		g.p.EmitImm(vm.InstFlag(vm.OpMovMRDisp, vm.RegSP, vm.RegA, wordSize), int32(dst))
	}
	if total > count {
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(wordSize*(total-count)))
	}
}

// index pushes the address of ptr[i] and returns the element type.
func (g *generator) index(e *IndexExpr) Type {
	pt := g.expr(e.Object)
	it := g.expr(e.Index)
	if !pt.Valid() || !it.Valid() {
		g.discard(pt)
		g.discard(it)
		return TypeInvalid
	}
	if !pt.IsPointer() || pt == TypeVoidPtr {
		g.errorf(e.Object, "cannot index %s", pt)
		g.discard(it)
		g.discard(pt)
		return TypeInvalid
	}
	if !it.isIntegral() {
		g.errorf(e.Index, "index must be an integer, not %s", it)
		g.discard(it)
		g.discard(pt)
		return TypeInvalid
	}
	elem := pt.Elem()
	g.p.EmitPop(vm.RegA)
	g.p.EmitPop(vm.RegB)
	g.li(vm.RegC, int32(elem.Size()))
	g.p.Emit(vm.Inst(vm.OpMul, vm.RegA, vm.RegC))
	g.p.Emit(vm.Inst(vm.OpAdd, vm.RegB, vm.RegA))
	g.p.EmitPush(vm.RegB)
	return elem
}

// deref pushes the address a pointer holds.
func (g *generator) deref(e *UnaryExpr) Type {
	t := g.expr(e.Operand)
	if !t.Valid() {
		return TypeInvalid
	}
	if !t.IsPointer() || t == TypeVoidPtr {
		g.errorf(e, "cannot dereference %s", t)
		g.discard(t)
		return TypeInvalid
	}
	return t.Elem()
}

func (g *generator) assign(e *AssignExpr) Type {
	lt := g.ref(e.Target)
	vt := g.coerce(g.expr(e.Value), lt)
	if !lt.Valid() || !vt.Valid() {
		g.discard(vt)
		g.discard(lt.PointerTo())
		return TypeInvalid
	}
	if !g.check(e.Value, lt, vt, "assignment") {
		g.discard(vt)
		g.discard(TypeInt)
		return TypeInvalid
	}
	if !lt.IsStruct() {
		g.p.EmitPop(vm.RegA)
		g.p.EmitPop(vm.RegB)
		g.p.Emit(vm.InstFlag(vm.OpMovMR, vm.RegB, vm.RegA, uint8(lt.Size())))
		g.p.EmitPush(vm.RegA)
		return lt
	}
	n := lt.Leaves()
	g.p.EmitImm(vm.InstFlag(vm.OpMovRMDisp, vm.RegB, vm.RegSP, wordSize), int32(wordSize*n))
	g.popTo(vm.RegB, 0, lt)
	g.p.EmitPop(vm.RegB)
	g.pushFrom(vm.RegB, 0, lt)
	return lt
}

func (g *generator) call(e *CallExpr) Type {
	var (
		params []Type
		result Type
		block  int
		offs   []int
	)
	native := vm.NativeByName(e.Name)
	fn := g.unit.Funcs[e.Name]
	switch {
	case native != nil:
		for _, p := range native.Params {
			params = append(params, typeFromName(p))
		}
		result = typeFromName(native.Result)
		offs, block, _ = native.Layout()
	case fn != nil:
		if fn.Name == "main" {
			g.errorf(e, "main cannot be called")
			return TypeInvalid
		}
		for _, p := range fn.Params {
			params = append(params, p.Type)
			offs = append(offs, p.Offset)
		}
		result = fn.Result
		block = fn.ArgBlock
	default:
		g.errorf(e, "undefined function: %s", e.Name)
		return TypeInvalid
	}
	if len(e.Args) != len(params) {
		g.errorf(e, "%s takes %d arguments, got %d", e.Name, len(params), len(e.Args))
		return TypeInvalid
	}

	ret := wordSize * result.Leaves()
	if n := ret + block; n > 0 {
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(-n))
	}

	pushed := 0
	ok := true
	for i, a := range e.Args {
		t := g.coerce(g.expr(a), params[i])
		pushed += wordSize * t.Leaves()
		if !g.check(a, params[i], t, "argument to "+e.Name) {
			ok = false
		}
	}
	if !ok {
		if n := pushed + ret + block; n > 0 {
			g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(n))
		}
		return TypeInvalid
	}

	// Move the evaluated arguments into the block below them. B stays at
	// the top of the pushed arguments while they are popped.
	if pushed > 0 {
		g.p.Emit(vm.Inst(vm.OpMovRR, vm.RegB, vm.RegSP))
		for i := len(params) - 1; i >= 0; i-- {
			g.popTo(vm.RegB, pushed+offs[i], params[i])
		}
	}

	if native != nil {
		g.p.EmitNativeCall(native.ID)
	} else {
		g.p.EmitCall(fn.Ref)
	}
	if block > 0 {
		g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegSP, vm.RegInvalid), int32(block))
	}
	return result
}

func (g *generator) binary(e *BinaryExpr) Type {
	lt := g.expr(e.Left)
	rt := g.expr(e.Right)
	if !lt.Valid() || !rt.Valid() {
		g.discard(rt)
		g.discard(lt)
		return TypeInvalid
	}
	if lt.Leaves() != 1 || rt.Leaves() != 1 {
		g.errorf(e, "invalid operands %s and %s for %s", lt, rt, e.Op)
		g.discard(rt)
		g.discard(lt)
		return TypeInvalid
	}

	g.p.EmitPop(vm.RegD)
	g.p.EmitPop(vm.RegA)

	op, cmp := binaryOpcode(e.Op)
	if lt.IsPointer() || rt.IsPointer() {
		return g.pointerBinary(e, op, cmp, lt, rt)
	}

	numeric := func(t Type) bool { return t.isIntegral() || t == TypeFloat }
	if !numeric(lt) || !numeric(rt) {
		g.errorf(e, "invalid operands %s and %s for %s", lt, rt, e.Op)
		return TypeInvalid
	}

	result := TypeInt
	flag := vm.ControlInt
	switch {
	case lt == TypeFloat || rt == TypeFloat:
		if lt != TypeFloat {
			g.p.Emit(vm.InstFlag(vm.OpCast, vm.RegA, vm.RegInvalid, vm.CastIntToFloat))
		}
		if rt != TypeFloat {
			g.p.Emit(vm.InstFlag(vm.OpCast, vm.RegD, vm.RegInvalid, vm.CastIntToFloat))
		}
		flag, result = vm.ControlFloat, TypeFloat
	case lt.isByte() && rt.isByte():
		flag, result = vm.ControlByte, lt
	}
	if cmp {
		result = TypeBool
	}
	g.p.Emit(vm.InstFlag(op, vm.RegA, vm.RegD, flag))
	g.p.EmitPush(vm.RegA)
	return result
}

// pointerBinary handles comparisons of pointers and pointer +/- integer,
// which scales by the element size. A holds the left operand, D the right.
func (g *generator) pointerBinary(e *BinaryExpr, op vm.Opcode, cmp bool, lt, rt Type) Type {
	switch {
	case cmp && (e.Op == TokenEq || e.Op == TokenNotEq) && (assignable(lt, rt) || assignable(rt, lt)):
		g.p.Emit(vm.InstFlag(op, vm.RegA, vm.RegD, vm.ControlInt))
		g.p.EmitPush(vm.RegA)
		return TypeBool
	case (e.Op == TokenPlus || e.Op == TokenMinus) && lt.IsPointer() && rt.isIntegral() && lt != TypeVoidPtr:
		g.li(vm.RegC, int32(lt.Elem().Size()))
		g.p.Emit(vm.Inst(vm.OpMul, vm.RegD, vm.RegC))
		g.p.Emit(vm.InstFlag(op, vm.RegA, vm.RegD, vm.ControlInt))
		g.p.EmitPush(vm.RegA)
		return lt
	}
	g.errorf(e, "invalid operands %s and %s for %s", lt, rt, e.Op)
	return TypeInvalid
}

// binaryOpcode maps an operator token to its instruction and whether it
// yields a bool.
func binaryOpcode(t TokenType) (vm.Opcode, bool) {
	switch t {
	case TokenPlus:
		return vm.OpAdd, false
	case TokenMinus:
		return vm.OpSub, false
	case TokenStar:
		return vm.OpMul, false
	case TokenSlash:
		return vm.OpDiv, false
	case TokenAndAnd:
		return vm.OpAnd, true
	case TokenOrOr:
		return vm.OpOr, true
	case TokenEq:
		return vm.OpEqual, true
	case TokenNotEq:
		return vm.OpNotEqual, true
	case TokenLess:
		return vm.OpLess, true
	case TokenGreater:
		return vm.OpGreater, true
	case TokenLessEq:
		return vm.OpLessEqual, true
	case TokenGreaterEq:
		return vm.OpGreaterEqual, true
	}
	return vm.OpNop, false
}

func (g *generator) unary(e *UnaryExpr) Type {
	switch e.Op {
	case TokenMinus:
		switch lit := e.Operand.(type) {
		case *IntLiteral:
			g.pushImm(int32(-lit.Value))
			return TypeInt
		case *FloatLiteral:
			g.pushImm(int32(math.Float32bits(float32(-lit.Value))))
			return TypeFloat
		}
		t := g.expr(e.Operand)
		if !t.Valid() {
			return TypeInvalid
		}
		flag := vm.ControlInt
		switch {
		case t == TypeFloat:
			flag = vm.ControlFloat
		case t == TypeInt:
		case t == TypeChar:
			flag = vm.ControlByte
		default:
			g.errorf(e, "cannot negate %s", t)
			g.discard(t)
			return TypeInvalid
		}
		g.p.EmitPop(vm.RegD)
		g.li(vm.RegA, 0)
		g.p.Emit(vm.InstFlag(vm.OpSub, vm.RegA, vm.RegD, flag))
		g.p.EmitPush(vm.RegA)
		return t

	case TokenBang:
		t := g.expr(e.Operand)
		if !t.Valid() {
			return TypeInvalid
		}
		if t.Leaves() != 1 || t == TypeFloat {
			g.errorf(e, "invalid operand %s for !", t)
			g.discard(t)
			return TypeInvalid
		}
		g.p.EmitPop(vm.RegA)
		g.p.Emit(vm.Inst(vm.OpNot, vm.RegA, vm.RegA))
		g.p.EmitPush(vm.RegA)
		return TypeBool

	case TokenAmp:
		t := g.ref(e.Operand)
		if !t.Valid() {
			return TypeInvalid
		}
		return t.PointerTo()

	case TokenStar:
		t := g.deref(e)
		if t.Valid() {
			g.p.EmitPop(vm.RegB)
			g.pushFrom(vm.RegB, 0, t)
		}
		return t
	}
	g.errorf(e, "unsupported operator %s", e.Op)
	return TypeInvalid
}

func (g *generator) incDec(e *IncDecExpr) Type {
	t := g.ref(e.Operand)
	if !t.Valid() {
		return TypeInvalid
	}
	if t != TypeInt && t != TypeChar {
		g.errorf(e, "invalid operand %s for %s", t, e.Op)
		g.discard(TypeInt)
		return TypeInvalid
	}
	delta := int32(1)
	if e.Op == TokenMinusMinus {
		delta = -1
	}
	size := uint8(t.Size())
	g.p.EmitPop(vm.RegB)
	g.p.Emit(vm.InstFlag(vm.OpMovRM, vm.RegA, vm.RegB, size))
	if !e.Prefix {
		g.p.EmitPush(vm.RegA)
	}
	g.p.EmitImm(vm.Inst(vm.OpIncr, vm.RegA, vm.RegInvalid), delta)
	g.p.Emit(vm.InstFlag(vm.OpMovMR, vm.RegB, vm.RegA, size))
	if e.Prefix {
		g.p.EmitPush(vm.RegA)
	}
	return t
}

func (g *generator) cast(e *CastExpr) Type {
	to, ok := lookupType(g.unit, e.Type)
	if !ok {
		g.errorf(e.Type, "unknown type %s", e.Type)
		g.discard(g.expr(e.Value))
		return TypeInvalid
	}
	from := g.expr(e.Value)
	if !from.Valid() {
		return TypeInvalid
	}
	switch {
	case from == to:
	case from.IsPointer() && to.IsPointer():
	case from.isIntegral() && to.isIntegral():
		if to == TypeBool {
			g.p.EmitPop(vm.RegA)
			g.p.Emit(vm.Inst(vm.OpNot, vm.RegA, vm.RegA))
			g.p.Emit(vm.Inst(vm.OpNot, vm.RegA, vm.RegA))
			g.p.EmitPush(vm.RegA)
		}
	case from == TypeInt && to == TypeFloat:
		g.p.EmitPop(vm.RegA)
		g.p.Emit(vm.InstFlag(vm.OpCast, vm.RegA, vm.RegInvalid, vm.CastIntToFloat))
		g.p.EmitPush(vm.RegA)
	case from == TypeFloat && to == TypeInt:
		g.p.EmitPop(vm.RegA)
		g.p.Emit(vm.InstFlag(vm.OpCast, vm.RegA, vm.RegInvalid, vm.CastFloatToInt))
		g.p.EmitPush(vm.RegA)
	default:
		g.errorf(e, "cannot cast %s to %s", from, to)
		g.discard(from)
		return TypeInvalid
	}
	return to
}
