package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcodes
// ---------------------------------------------------------------------------

// Opcode is the first byte of every instruction cell.
type Opcode uint8

const (
	// Register-only instructions
	OpHalt Opcode = iota
	OpNop
	OpCast
	OpMovRR // r0 = r1
	OpMovMR // [r0] = r1, size
	OpMovRM // r0 = [r1], size
	OpPush
	OpPop

	// Arithmetic and comparison: r0 = r0 <op> r1, control flag in op2
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpNot
	OpEqual
	OpNotEqual
	OpLess
	OpGreater
	OpLessEqual
	OpGreaterEqual

	OpRet
	OpMemzero // zero r1 bytes at [r0]

	// Immediate-bearing instructions. The immediate occupies the next cell.
	// This range must stay contiguous and last.
	OpLi        // r0 = imm
	OpJmp       // pc += imm (relative to the immediate cell)
	OpJz        // if r0 == 0: pc += imm
	OpCall      // imm > 0: piece imm-1, imm < 0: native
	OpMovMRDisp // [r0+imm] = r1, size
	OpMovRMDisp // r0 = [r1+imm], size
	OpDataPtr   // r0 = data base + imm
	OpIncr      // r0 += imm

	opcodeCount
)

// OpFirstImmediate is the first opcode whose instruction carries an
// immediate cell.
const OpFirstImmediate = OpLi

var opcodeNames = [opcodeCount]string{
	OpHalt:         "halt",
	OpNop:          "nop",
	OpCast:         "cast",
	OpMovRR:        "mov_rr",
	OpMovMR:        "mov_mr",
	OpMovRM:        "mov_rm",
	OpPush:         "push",
	OpPop:          "pop",
	OpAdd:          "add",
	OpSub:          "sub",
	OpMul:          "mul",
	OpDiv:          "div",
	OpAnd:          "and",
	OpOr:           "or",
	OpNot:          "not",
	OpEqual:        "equal",
	OpNotEqual:     "not_equal",
	OpLess:         "less",
	OpGreater:      "greater",
	OpLessEqual:    "less_equal",
	OpGreaterEqual: "greater_equal",
	OpRet:          "ret",
	OpMemzero:      "memzero",
	OpLi:           "li",
	OpJmp:          "jmp",
	OpJz:           "jz",
	OpCall:         "call",
	OpMovMRDisp:    "mov_mr_disp",
	OpMovRMDisp:    "mov_rm_disp",
	OpDataPtr:      "dataptr",
	OpIncr:         "incr",
}

func (op Opcode) String() string {
	if op < opcodeCount {
		return opcodeNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool { return op < opcodeCount }

// HasImmediate reports whether the instruction is followed by an immediate cell.
func (op Opcode) HasImmediate() bool {
	return op >= OpFirstImmediate && op < opcodeCount
}

// IsBinary reports whether op is a two-operand arithmetic or comparison
// instruction that honours the control flag.
func (op Opcode) IsBinary() bool {
	return op >= OpAdd && op <= OpGreaterEqual && op != OpNot
}

// OpcodeByName maps a mnemonic back to its opcode.
func OpcodeByName(name string) (Opcode, bool) {
	for op, n := range opcodeNames {
		if n == name {
			return Opcode(op), true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// Register identifies a slot in the machine's register file.
type Register uint8

const (
	RegInvalid Register = iota
	RegA
	RegB
	RegC
	RegD
	RegE
	RegF
	RegSP
	RegBP
	RegPC
	RegT0 // scratch, never emitted by the generator
	RegT1

	RegisterCount
)

var registerNames = [RegisterCount]string{
	"invalid", "a", "b", "c", "d", "e", "f", "sp", "bp", "pc", "t0", "t1",
}

func (r Register) String() string {
	if r < RegisterCount {
		return registerNames[r]
	}
	return fmt.Sprintf("r%d", uint8(r))
}

// RegisterByName maps a register name back to its id.
func RegisterByName(name string) (Register, bool) {
	for r, n := range registerNames {
		if n == name && r != int(RegInvalid) {
			return Register(r), true
		}
	}
	return RegInvalid, false
}

// ---------------------------------------------------------------------------
// Operand modifiers
// ---------------------------------------------------------------------------

// Control flags select the semantics of arithmetic and comparison.
const (
	ControlInt   uint8 = 0 // 64-bit integer
	ControlFloat uint8 = 1 // low 32 bits as float32
	ControlByte  uint8 = 2 // low 8 bits as int8
)

// Cast kinds, stored in the third operand byte of OpCast.
const (
	CastFloatToInt uint8 = 0
	CastIntToFloat uint8 = 1
)

// SizeKeyword returns the listing keyword for a memory access size.
func SizeKeyword(size uint8) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	}
	return fmt.Sprintf("size%d", size)
}

func sizeFromKeyword(kw string) (uint8, bool) {
	switch kw {
	case "byte":
		return 1, true
	case "word":
		return 2, true
	case "dword":
		return 4, true
	case "qword":
		return 8, true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Instruction
// ---------------------------------------------------------------------------

// Instruction is a decoded instruction cell. The meaning of Op2 depends on
// the opcode: access size for moves, control flag for arithmetic, cast kind
// for OpCast.
type Instruction struct {
	Op  Opcode
	Op0 Register
	Op1 Register
	Op2 uint8
}

// Inst builds an instruction with register operands only.
func Inst(op Opcode, r0, r1 Register) Instruction {
	return Instruction{Op: op, Op0: r0, Op1: r1}
}

// InstFlag builds an instruction with a third-byte modifier.
func InstFlag(op Opcode, r0, r1 Register, flag uint8) Instruction {
	return Instruction{Op: op, Op0: r0, Op1: r1, Op2: flag}
}

func (in Instruction) String() string {
	return fmt.Sprintf("%s %s, %s, %d", in.Op, in.Op0, in.Op1, in.Op2)
}
