package vm

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Call targets and relocations
// ---------------------------------------------------------------------------

// FuncRef names a call target whose id may only be known once every
// function has been assigned a piece. The id is piece index + 1 for user
// functions, a negative native id for natives, and 0 while unresolved.
type FuncRef struct {
	Name string
	id   atomic.Int32
}

// NewFuncRef returns an unresolved reference to a user function.
func NewFuncRef(name string) *FuncRef {
	return &FuncRef{Name: name}
}

// NativeRef returns a reference already resolved to a native id.
func NativeRef(id int32) *FuncRef {
	f := &FuncRef{Name: NativeName(id)}
	f.id.Store(id)
	return f
}

// Bind resolves the reference to the piece with the given index.
func (f *FuncRef) Bind(pieceIndex int) {
	f.id.Store(int32(pieceIndex + 1))
}

// ID returns the resolved target id, or 0 if unresolved.
func (f *FuncRef) ID() int32 { return f.id.Load() }

// Relocation records a call immediate that must be patched at link time.
type Relocation struct {
	Target *FuncRef
	Cell   int
}

// SourceLine is a line of source text attached to generated instructions.
type SourceLine struct {
	Number int
	Text   string
}

// ---------------------------------------------------------------------------
// Piece
// ---------------------------------------------------------------------------

// Piece is the instruction stream of one function.
type Piece struct {
	Name  string
	Index int
	Code  Code

	relocs []Relocation

	// Line table: lineOf[cell] indexes lines, -1 when unknown.
	lines   []SourceLine
	lineOf  []int32
	curLine int32

	// VirtualSP tracks the net stack adjustment of the emitted code,
	// relative to the frame pointer at entry.
	VirtualSP int

	// barrier is the lowest cell the peephole may remove.
	barrier int
}

func newPiece(name string, index int) *Piece {
	return &Piece{Name: name, Index: index, curLine: -1}
}

// Len returns the number of cells emitted so far.
func (p *Piece) Len() int { return p.Code.Len() }

// Relocations returns the pending relocations of the piece.
func (p *Piece) Relocations() []Relocation { return p.relocs }

// SetLine attaches subsequent instructions to the given source line.
func (p *Piece) SetLine(number int, text string) {
	if n := len(p.lines); n > 0 && p.lines[n-1].Number == number {
		p.curLine = int32(n - 1)
		return
	}
	p.lines = append(p.lines, SourceLine{Number: number, Text: text})
	p.curLine = int32(len(p.lines) - 1)
}

// LineAt returns the source line of cell i.
func (p *Piece) LineAt(i int) (SourceLine, bool) {
	if i < 0 || i >= len(p.lineOf) || p.lineOf[i] < 0 {
		return SourceLine{}, false
	}
	return p.lines[p.lineOf[i]], true
}

// Emit appends a register-only instruction and returns its cell index.
// A pop that directly follows a push of the same register cancels it.
func (p *Piece) Emit(in Instruction) int {
	switch in.Op {
	case OpPush:
		p.VirtualSP -= 8
	case OpPop:
		p.VirtualSP += 8
		if last := p.Len() - 1; last >= p.barrier {
			if prev, ok := p.Code.At(last); ok && prev.Op == OpPush && prev.Op0 == in.Op0 {
				p.truncate(last)
				return last
			}
		}
	}
	return p.appendInst(in)
}

// EmitImm appends an immediate-bearing instruction and returns the index
// of its immediate cell.
func (p *Piece) EmitImm(in Instruction, imm int32) int {
	if in.Op == OpIncr && in.Op0 == RegSP {
		p.VirtualSP += int(imm)
	}
	p.appendInst(in)
	return p.appendImm(imm)
}

// EmitPush and EmitPop are shorthands for the operand stack.
func (p *Piece) EmitPush(r Register) { p.Emit(Inst(OpPush, r, RegInvalid)) }
func (p *Piece) EmitPop(r Register)  { p.Emit(Inst(OpPop, r, RegInvalid)) }

// EmitJumpPlaceholder emits a jump with an unknown displacement and returns
// the immediate cell to pass to FixJumpHere.
func (p *Piece) EmitJumpPlaceholder(op Opcode, r Register) int {
	return p.EmitImm(Inst(op, r, RegInvalid), 0)
}

// FixJumpHere points the jump owning immCell at the current end of the
// stream. The displacement is measured from the immediate cell. It panics
// if immCell is not an immediate: a misplaced patch is a generator bug.
func (p *Piece) FixJumpHere(immCell int) {
	target := p.Label()
	if err := p.Code.PatchImmediate(immCell, int32(target-immCell)); err != nil {
		panic(fmt.Sprintf("%s: FixJumpHere: %v", p.Name, err))
	}
}

// EmitJumpBack emits a jump to an earlier label.
func (p *Piece) EmitJumpBack(op Opcode, r Register, target int) {
	p.appendInst(Inst(op, r, RegInvalid))
	p.appendImm(int32(target - p.Len()))
}

// Label marks the current end of the stream as a jump target and returns it.
func (p *Piece) Label() int {
	p.barrier = p.Len()
	return p.barrier
}

// EmitCall emits a call to a user function and records its relocation.
func (p *Piece) EmitCall(target *FuncRef) {
	cell := p.EmitImm(Inst(OpCall, RegInvalid, RegInvalid), 0)
	p.relocs = append(p.relocs, Relocation{Target: target, Cell: cell})
}

// EmitNativeCall emits a call to a native; no relocation is needed.
func (p *Piece) EmitNativeCall(id int32) {
	p.EmitImm(Inst(OpCall, RegInvalid, RegInvalid), id)
}

// LastOp returns the opcode of the last instruction, skipping its immediate.
func (p *Piece) LastOp() (Opcode, bool) {
	i := p.Len() - 1
	if p.Code.IsImmediate(i) {
		i--
	}
	in, ok := p.Code.At(i)
	return in.Op, ok
}

func (p *Piece) appendInst(in Instruction) int {
	p.lineOf = append(p.lineOf, p.curLine)
	return p.Code.appendInst(in)
}

func (p *Piece) appendImm(v int32) int {
	p.lineOf = append(p.lineOf, p.curLine)
	return p.Code.appendImm(v)
}

func (p *Piece) truncate(n int) {
	p.Code.truncate(n)
	p.lineOf = p.lineOf[:n]
}

// ---------------------------------------------------------------------------
// Program: the bytecode container
// ---------------------------------------------------------------------------

// Program owns every piece, the global data segment and the string intern
// table. Piece creation, data appends and interning are safe for
// concurrent use by several generators; everything after Link is not.
type Program struct {
	mu      sync.Mutex
	pieces  []*Piece
	byName  map[string]*Piece
	data    []byte
	strings map[string]int
	linked  bool
}

// NewProgram creates an empty container.
func NewProgram() *Program {
	return &Program{
		byName:  make(map[string]*Piece),
		strings: make(map[string]int),
	}
}

// NewPiece allocates a piece with the next free index.
func (p *Program) NewPiece(name string) *Piece {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc := newPiece(name, len(p.pieces))
	p.pieces = append(p.pieces, pc)
	p.byName[name] = pc
	return pc
}

// Piece returns the piece with the given index, or nil.
func (p *Program) Piece(index int) *Piece {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.pieces) {
		return nil
	}
	return p.pieces[index]
}

// Lookup returns the piece with the given name, or nil.
func (p *Program) Lookup(name string) *Piece {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byName[name]
}

// AppendData reserves size bytes of global data, initialised from init
// (zero-filled beyond it), and returns their offset.
func (p *Program) AppendData(size int, init []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendDataLocked(size, init)
}

func (p *Program) appendDataLocked(size int, init []byte) int {
	off := len(p.data)
	p.data = append(p.data, make([]byte, size)...)
	copy(p.data[off:], init)
	return off
}

// InternString stores s NUL-terminated in the data segment and returns
// its offset. Repeated strings share one copy.
func (p *Program) InternString(s string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if off, ok := p.strings[s]; ok {
		return off
	}
	off := p.appendDataLocked(len(s)+1, []byte(s))
	p.strings[s] = off
	return off
}

// Pieces returns every piece in index order. After Link the slice is the
// execution view and must not be mutated.
func (p *Program) Pieces() []*Piece {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pieces
}

// Data returns the global data segment.
func (p *Program) Data() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data
}

// InternedString is one entry of the string table.
type InternedString struct {
	Offset int
	Text   string
}

// Strings returns the interned strings sorted by offset.
func (p *Program) Strings() []InternedString {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]InternedString, 0, len(p.strings))
	for s, off := range p.strings {
		out = append(out, InternedString{Offset: off, Text: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Linked reports whether Link has completed successfully.
func (p *Program) Linked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linked
}

// TargetName returns the printable name of a call immediate.
func (p *Program) TargetName(imm int32) string {
	switch {
	case imm < 0:
		return NativeName(imm)
	case imm > 0:
		if pc := p.Piece(int(imm) - 1); pc != nil {
			return pc.Name
		}
	}
	return "<unresolved>"
}
