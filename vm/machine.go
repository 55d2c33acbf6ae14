package vm

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/tliron/commonlog"
)

// frameHeader is the size of what a call pushes: PC (4), piece (4), BP (8).
const frameHeader = 16

// Config controls a Machine.
type Config struct {
	StackSize int       // bytes; zero means DefaultStackSize
	HeapLimit int       // bytes; zero means DefaultHeapLimit
	Output    io.Writer // native print target; nil means os.Stdout

	// Trace writes every executed instruction to TraceOutput.
	Trace       bool
	TraceOutput io.Writer

	// NoFiles makes read_file and write_file fail without touching the host.
	NoFiles bool

	// MaxSteps stops the machine with ErrStepLimit; zero means no limit.
	MaxSteps uint64

	// Step runs before every instruction. An error stops the machine and
	// is returned by Run.
	Step func(m *Machine) error

	Profiler *Profiler
	Logger   commonlog.Logger
}

// Result describes a finished run.
type Result struct {
	A          int64 // register A at exit
	Steps      uint64
	Leaks      []Allocation
	SoftErrors int
}

// ---------------------------------------------------------------------------
// Machine: register VM
// ---------------------------------------------------------------------------

// Machine executes one linked program. It is single-threaded; natives run
// synchronously on the caller's goroutine.
type Machine struct {
	prog   *Program
	pieces []*Piece
	cfg    Config

	// Guest state
	regs  [RegisterCount]int64
	mem   *Memory
	heap  *HeapTable
	piece *Piece

	// Execution state
	running    bool
	instPC     int // cell of the instruction being executed
	steps      uint64
	softErrors int

	out io.Writer
	log commonlog.Logger
}

// New creates a machine for a linked program.
func New(prog *Program, cfg Config) *Machine {
	if cfg.StackSize <= 0 {
		cfg.StackSize = DefaultStackSize
	}
	if cfg.StackSize > MaxStackSize {
		cfg.StackSize = MaxStackSize
	}
	m := &Machine{
		prog: prog,
		cfg:  cfg,
		heap: &HeapTable{Limit: cfg.HeapLimit},
		out:  cfg.Output,
		log:  cfg.Logger,
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	if m.log == nil {
		m.log = commonlog.GetLogger("tin.vm")
	}
	return m
}

// Run executes the program from the piece named "main" until it returns
// from its outermost frame, halts, or faults. A fault is returned as a
// *Fault and the machine state is left as it was at the faulting
// instruction.
func (m *Machine) Run() (*Result, error) {
	if !m.prog.Linked() {
		return nil, ErrNotLinked
	}
	main := m.prog.Lookup("main")
	if main == nil {
		m.log.Error(ErrNoMain.Error())
		return nil, ErrNoMain
	}
	if main.Len() == 0 {
		m.log.Error(ErrEmptyMain.Error())
		return nil, ErrEmptyMain
	}

	m.pieces = m.prog.Pieces()
	m.mem = newMemory(m.cfg.StackSize, m.prog.Data(), m.heap)
	m.regs = [RegisterCount]int64{}
	top := int64(m.mem.StackTop())
	m.regs[RegSP] = top
	m.regs[RegBP] = top
	m.piece = main
	m.running = true

	m.log.Infof("VM: Started in '%s'", main.Name)

	var err error
	for m.running {
		if m.cfg.MaxSteps > 0 && m.steps >= m.cfg.MaxSteps {
			err = fmt.Errorf("%w (%d)", ErrStepLimit, m.cfg.MaxSteps)
			break
		}
		if m.cfg.Step != nil {
			if err = m.cfg.Step(m); err != nil {
				break
			}
		}
		if err = m.step(); err != nil {
			m.running = false
		}
	}

	res := &Result{
		A:          m.regs[RegA],
		Steps:      m.steps,
		Leaks:      m.heap.Live(),
		SoftErrors: m.softErrors,
	}
	if err != nil {
		m.log.Errorf("%v", err)
		return res, err
	}

	if n := len(res.Leaks); n > 0 {
		m.log.Warningf("VM: Finished with %d unfreed allocations.", n)
		for _, a := range res.Leaks {
			m.log.Warningf("VM: leaked %d bytes at 0x%x", a.Size, a.Addr)
		}
	} else {
		m.log.Info("VM: Finished")
	}
	return res, nil
}

// Register returns the current value of r.
func (m *Machine) Register(r Register) int64 { return m.regs[r] }

// Heap returns the machine's allocation table.
func (m *Machine) Heap() *HeapTable { return m.heap }

// Memory returns the guest address space, valid once Run has started.
func (m *Machine) Memory() *Memory { return m.mem }

// step executes a single instruction.
func (m *Machine) step() error {
	code := &m.piece.Code
	pc := int(m.regs[RegPC])
	m.instPC = pc

	in, ok := code.At(pc)
	if !ok {
		return m.fault(FaultPCOutOfRange, fmt.Sprintf("pc %d, piece length %d", pc, code.Len()))
	}
	m.regs[RegPC]++

	var imm int32
	if in.Op.HasImmediate() {
		if imm, ok = code.Immediate(pc + 1); !ok {
			return m.fault(FaultPCOutOfRange, fmt.Sprintf("%s is missing its immediate", in.Op))
		}
		m.regs[RegPC]++
	}
	if in.Op0 >= RegisterCount || in.Op1 >= RegisterCount {
		return m.fault(FaultBadInstruction, in.String())
	}

	m.steps++
	if m.cfg.Profiler != nil {
		m.cfg.Profiler.RecordInstruction(in.Op)
	}
	if m.cfg.Trace && m.cfg.TraceOutput != nil {
		m.trace(m.cfg.TraceOutput, pc)
	}

	r := &m.regs
	switch in.Op {
	case OpHalt:
		m.running = false

	case OpNop:

	case OpCast:
		switch in.Op2 {
		case CastFloatToInt:
			f := math.Float32frombits(uint32(r[in.Op0]))
			r[in.Op0] = int64(int32(f))
		case CastIntToFloat:
			r[in.Op0] = int64(math.Float32bits(float32(int32(r[in.Op0]))))
		default:
			return m.fault(FaultBadInstruction, fmt.Sprintf("cast kind %d", in.Op2))
		}

	case OpMovRR:
		r[in.Op0] = r[in.Op1]
		if in.Op0 == RegSP {
			return m.checkSP()
		}

	case OpMovMR:
		return m.store(uint64(r[in.Op0]), in.Op2, r[in.Op1])

	case OpMovRM:
		v, err := m.load(uint64(r[in.Op1]), in.Op2)
		if err != nil {
			return err
		}
		r[in.Op0] = v

	case OpPush:
		return m.push(r[in.Op0])

	case OpPop:
		v, err := m.pop()
		if err != nil {
			return err
		}
		r[in.Op0] = v

	case OpAdd, OpSub, OpMul, OpDiv, OpAnd, OpOr,
		OpEqual, OpNotEqual, OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
		v, err := m.arith(in.Op, in.Op2, r[in.Op0], r[in.Op1])
		if err != nil {
			return err
		}
		r[in.Op0] = v

	case OpNot:
		r[in.Op0] = boolValue(r[in.Op1] == 0)

	case OpRet:
		return m.ret()

	case OpMemzero:
		b, err := m.bytes(uint64(r[in.Op0]), int(r[in.Op1]))
		if err != nil {
			return err
		}
		clear(b)

	case OpLi:
		r[in.Op0] = int64(imm)

	case OpJmp:
		r[RegPC] += int64(imm) - 1

	case OpJz:
		if r[in.Op0] == 0 {
			r[RegPC] += int64(imm) - 1
		}

	case OpCall:
		return m.call(imm)

	case OpMovMRDisp:
		return m.store(uint64(r[in.Op0]+int64(imm)), in.Op2, r[in.Op1])

	case OpMovRMDisp:
		v, err := m.load(uint64(r[in.Op1]+int64(imm)), in.Op2)
		if err != nil {
			return err
		}
		r[in.Op0] = v

	case OpDataPtr:
		r[in.Op0] = int64(DataBase) + int64(imm)

	case OpIncr:
		r[in.Op0] += int64(imm)
		if in.Op0 == RegSP {
			return m.checkSP()
		}

	default:
		return m.fault(FaultBadInstruction, in.Op.String())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Calling convention
// ---------------------------------------------------------------------------

func (m *Machine) call(imm int32) error {
	if imm < 0 {
		return m.callNative(imm)
	}
	idx := int(imm) - 1
	if imm == 0 || idx >= len(m.pieces) {
		return m.fault(FaultBadCallTarget, fmt.Sprintf("immediate %d", imm))
	}
	target := m.pieces[idx]

	sp := uint64(m.regs[RegSP])
	if sp < StackBase+frameHeader {
		return m.fault(FaultStackOverflow, "call to "+target.Name)
	}
	if err := m.store(sp-4, 4, m.regs[RegPC]); err != nil {
		return err
	}
	if err := m.store(sp-8, 4, int64(m.piece.Index)); err != nil {
		return err
	}
	if err := m.store(sp-16, 8, m.regs[RegBP]); err != nil {
		return err
	}
	m.regs[RegSP] = int64(sp - frameHeader)
	m.regs[RegBP] = m.regs[RegSP]
	m.regs[RegPC] = 0
	m.piece = target

	if m.cfg.Profiler != nil {
		m.cfg.Profiler.RecordCall(target)
	}
	return nil
}

func (m *Machine) ret() error {
	sp, bp := m.regs[RegSP], m.regs[RegBP]
	if sp != bp {
		return m.fault(FaultFrameMismatch, fmt.Sprintf("sp=0x%x bp=0x%x", sp, bp))
	}
	if uint64(sp) == m.mem.StackTop() {
		m.running = false
		return nil
	}

	usp := uint64(sp)
	if usp+frameHeader > m.mem.StackTop() {
		return m.fault(FaultStackUnderflow, "ret")
	}
	savedBP, err := m.load(usp, 8)
	if err != nil {
		return err
	}
	idx, err := m.load(usp+8, 4)
	if err != nil {
		return err
	}
	pc, err := m.load(usp+12, 4)
	if err != nil {
		return err
	}
	if idx < 0 || int(idx) >= len(m.pieces) {
		return m.fault(FaultBadCallTarget, fmt.Sprintf("return into piece %d", idx))
	}

	m.regs[RegBP] = savedBP
	m.regs[RegSP] = sp + frameHeader
	m.regs[RegPC] = pc
	m.piece = m.pieces[idx]
	return nil
}

func (m *Machine) callNative(id int32) error {
	n := LookupNative(id)
	if n == nil {
		return m.fault(FaultBadCallTarget, fmt.Sprintf("native %d", id))
	}
	offsets, block, _ := n.Layout()
	return n.fn(m, nativeCall{
		native:  n,
		sp:      uint64(m.regs[RegSP]),
		offsets: offsets,
		block:   block,
	})
}

// ---------------------------------------------------------------------------
// Stack and memory access
// ---------------------------------------------------------------------------

func (m *Machine) push(v int64) error {
	sp := uint64(m.regs[RegSP])
	if sp < StackBase+8 || sp > m.mem.StackTop() {
		return m.fault(FaultStackOverflow, "push")
	}
	if err := m.store(sp-8, 8, v); err != nil {
		return err
	}
	m.regs[RegSP] = int64(sp - 8)
	return nil
}

func (m *Machine) pop() (int64, error) {
	sp := uint64(m.regs[RegSP])
	if sp < StackBase || sp+8 > m.mem.StackTop() {
		return 0, m.fault(FaultStackUnderflow, "pop")
	}
	v, err := m.load(sp, 8)
	if err != nil {
		return 0, err
	}
	m.regs[RegSP] = int64(sp + 8)
	return v, nil
}

func (m *Machine) checkSP() error {
	sp := m.regs[RegSP]
	switch {
	case sp < int64(StackBase):
		return m.fault(FaultStackOverflow, fmt.Sprintf("sp=0x%x", sp))
	case sp > int64(m.mem.StackTop()):
		return m.fault(FaultStackUnderflow, fmt.Sprintf("sp=0x%x", sp))
	}
	return nil
}

// bytes resolves a guest range or raises an access violation.
func (m *Machine) bytes(addr uint64, n int) ([]byte, error) {
	b, ok := m.mem.slice(addr, n)
	if !ok {
		f := m.fault(FaultAccessViolation, "")
		f.Addr, f.Size = addr, n
		return nil, f
	}
	return b, nil
}

func (m *Machine) load(addr uint64, size uint8) (int64, error) {
	if !validSize(size) {
		return 0, m.fault(FaultBadInstruction, fmt.Sprintf("access size %d", size))
	}
	b, err := m.bytes(addr, int(size))
	if err != nil {
		return 0, err
	}
	return load(b), nil
}

func (m *Machine) store(addr uint64, size uint8, v int64) error {
	if !validSize(size) {
		return m.fault(FaultBadInstruction, fmt.Sprintf("access size %d", size))
	}
	b, err := m.bytes(addr, int(size))
	if err != nil {
		return err
	}
	store(b, v)
	return nil
}

// cString reads a NUL-terminated string that must end inside the region
// it starts in.
func (m *Machine) cString(addr uint64) (string, error) {
	var s []byte
	for {
		b, err := m.bytes(addr+uint64(len(s)), 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(s), nil
		}
		s = append(s, b[0])
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func (m *Machine) arith(op Opcode, flag uint8, a, b int64) (int64, error) {
	switch flag {
	case ControlFloat:
		x := math.Float32frombits(uint32(a))
		y := math.Float32frombits(uint32(b))
		switch op {
		case OpAdd:
			return floatValue(x + y), nil
		case OpSub:
			return floatValue(x - y), nil
		case OpMul:
			return floatValue(x * y), nil
		case OpDiv:
			return floatValue(x / y), nil
		case OpAnd:
			return boolValue(x != 0 && y != 0), nil
		case OpOr:
			return boolValue(x != 0 || y != 0), nil
		}
		return compare(op, x, y), nil

	case ControlByte:
		x, y := int8(a), int8(b)
		switch op {
		case OpAdd:
			return int64(x + y), nil
		case OpSub:
			return int64(x - y), nil
		case OpMul:
			return int64(x * y), nil
		case OpDiv:
			if y == 0 {
				return 0, m.fault(FaultDivideByZero, "")
			}
			return int64(x / y), nil
		case OpAnd:
			return boolValue(x != 0 && y != 0), nil
		case OpOr:
			return boolValue(x != 0 || y != 0), nil
		}
		return compare(op, x, y), nil

	case ControlInt:
		switch op {
		case OpAdd:
			return a + b, nil
		case OpSub:
			return a - b, nil
		case OpMul:
			return a * b, nil
		case OpDiv:
			if b == 0 {
				return 0, m.fault(FaultDivideByZero, "")
			}
			return a / b, nil
		case OpAnd:
			return boolValue(a != 0 && b != 0), nil
		case OpOr:
			return boolValue(a != 0 || b != 0), nil
		}
		return compare(op, a, b), nil
	}
	return 0, m.fault(FaultBadInstruction, fmt.Sprintf("control flag %d", flag))
}

func compare[T int8 | int64 | float32](op Opcode, x, y T) int64 {
	switch op {
	case OpEqual:
		return boolValue(x == y)
	case OpNotEqual:
		return boolValue(x != y)
	case OpLess:
		return boolValue(x < y)
	case OpGreater:
		return boolValue(x > y)
	case OpLessEqual:
		return boolValue(x <= y)
	default:
		return boolValue(x >= y)
	}
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func floatValue(f float32) int64 { return int64(math.Float32bits(f)) }

// ---------------------------------------------------------------------------
// Faults and postmortem
// ---------------------------------------------------------------------------

func (m *Machine) fault(kind FaultKind, detail string) *Fault {
	f := &Fault{Kind: kind, PC: m.instPC, Detail: detail}
	if m.piece != nil {
		f.Piece = m.piece.Name
		f.Line, _ = m.piece.LineAt(m.instPC)
	}
	return f
}

func (m *Machine) trace(w io.Writer, pc int) {
	line := formatCell(m.prog, m.piece, pc)
	if src, ok := m.piece.LineAt(pc); ok {
		fmt.Fprintf(w, "%-16s %-40s ; %d: %s\n", m.piece.Name, line, src.Number, src.Text)
		return
	}
	fmt.Fprintf(w, "%-16s %s\n", m.piece.Name, line)
}

// DumpRegisters writes the register file.
func (m *Machine) DumpRegisters(w io.Writer) {
	for r := RegA; r < RegisterCount; r++ {
		fmt.Fprintf(w, "%-3s = 0x%016x (%d)\n", r, uint64(m.regs[r]), m.regs[r])
	}
	if m.piece != nil {
		fmt.Fprintf(w, "piece = %s (%d)\n", m.piece.Name, m.piece.Index)
	}
}

// DumpStack writes the stack from SP to the top in 8-byte words.
func (m *Machine) DumpStack(w io.Writer) {
	if m.mem == nil {
		return
	}
	m.dumpWords(w, uint64(m.regs[RegSP]), m.mem.StackTop())
}

// DumpFrame writes the words around the frame pointer: locals below it and
// the frame header and arguments above it.
func (m *Machine) DumpFrame(w io.Writer, below, above int) {
	if m.mem == nil {
		return
	}
	bp := uint64(m.regs[RegBP])
	lo := bp - uint64(below)
	if below < 0 || lo > bp || lo < StackBase {
		lo = StackBase
	}
	hi := bp + uint64(above)
	if hi > m.mem.StackTop() {
		hi = m.mem.StackTop()
	}
	m.dumpWords(w, lo, hi)
}

func (m *Machine) dumpWords(w io.Writer, lo, hi uint64) {
	for addr := lo; addr+8 <= hi; addr += 8 {
		b, ok := m.mem.slice(addr, 8)
		if !ok {
			return
		}
		marker := ""
		switch addr {
		case uint64(m.regs[RegSP]):
			marker = " <- sp"
		case uint64(m.regs[RegBP]):
			marker = " <- bp"
		}
		if addr == uint64(m.regs[RegSP]) && addr == uint64(m.regs[RegBP]) {
			marker = " <- sp, bp"
		}
		fmt.Fprintf(w, "0x%08x: %016x%s\n", addr, uint64(load(b)), marker)
	}
}
