package vm

import (
	"encoding/binary"
	"fmt"
)

// CellSize is the encoded size of one instruction or immediate cell.
const CellSize = 4

// cell is one slot of an instruction stream: either an instruction or the
// 32-bit immediate belonging to the instruction before it.
type cell struct {
	inst  Instruction
	imm   int32
	isImm bool
}

// Code is an instruction stream. Immediates occupy their own cell directly
// after the instruction that owns them.
type Code struct {
	cells []cell
}

// Len returns the number of cells, counting immediates.
func (c *Code) Len() int { return len(c.cells) }

// At returns the instruction at index i. ok is false when i is out of
// range or addresses an immediate cell.
func (c *Code) At(i int) (in Instruction, ok bool) {
	if i < 0 || i >= len(c.cells) || c.cells[i].isImm {
		return Instruction{}, false
	}
	return c.cells[i].inst, true
}

// IsImmediate reports whether cell i holds an immediate.
func (c *Code) IsImmediate(i int) bool {
	return i >= 0 && i < len(c.cells) && c.cells[i].isImm
}

// Immediate returns the immediate stored in cell i.
func (c *Code) Immediate(i int) (int32, bool) {
	if !c.IsImmediate(i) {
		return 0, false
	}
	return c.cells[i].imm, true
}

// PatchImmediate overwrites the immediate in cell i.
func (c *Code) PatchImmediate(i int, v int32) error {
	if !c.IsImmediate(i) {
		return fmt.Errorf("cell %d is not an immediate", i)
	}
	c.cells[i].imm = v
	return nil
}

func (c *Code) appendInst(in Instruction) int {
	c.cells = append(c.cells, cell{inst: in})
	return len(c.cells) - 1
}

func (c *Code) appendImm(v int32) int {
	c.cells = append(c.cells, cell{imm: v, isImm: true})
	return len(c.cells) - 1
}

func (c *Code) truncate(n int) {
	c.cells = c.cells[:n]
}

// Equal reports whether two streams hold identical cells.
func (c *Code) Equal(o *Code) bool {
	if len(c.cells) != len(o.cells) {
		return false
	}
	for i := range c.cells {
		if c.cells[i] != o.cells[i] {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the stream as CellSize bytes per cell. Instructions
// are [op, op0, op1, op2]; immediates are little-endian int32.
func (c *Code) MarshalBinary() ([]byte, error) {
	buf := make([]byte, len(c.cells)*CellSize)
	for i, cl := range c.cells {
		b := buf[i*CellSize : (i+1)*CellSize]
		if cl.isImm {
			binary.LittleEndian.PutUint32(b, uint32(cl.imm))
			continue
		}
		b[0] = byte(cl.inst.Op)
		b[1] = byte(cl.inst.Op0)
		b[2] = byte(cl.inst.Op1)
		b[3] = cl.inst.Op2
	}
	return buf, nil
}

// UnmarshalBinary decodes a stream produced by MarshalBinary. Which cells
// are immediates is recovered from the opcodes.
func (c *Code) UnmarshalBinary(data []byte) error {
	if len(data)%CellSize != 0 {
		return fmt.Errorf("code length %d is not a multiple of %d", len(data), CellSize)
	}
	n := len(data) / CellSize
	cells := make([]cell, 0, n)
	for i := 0; i < n; i++ {
		b := data[i*CellSize : (i+1)*CellSize]
		op := Opcode(b[0])
		if !op.Valid() {
			return fmt.Errorf("cell %d: invalid opcode %d", i, b[0])
		}
		cells = append(cells, cell{inst: Instruction{
			Op:  op,
			Op0: Register(b[1]),
			Op1: Register(b[2]),
			Op2: b[3],
		}})
		if op.HasImmediate() {
			i++
			if i >= n {
				return fmt.Errorf("cell %d: %s is missing its immediate", i-1, op)
			}
			imm := int32(binary.LittleEndian.Uint32(data[i*CellSize:]))
			cells = append(cells, cell{imm: imm, isImm: true})
		}
	}
	c.cells = cells
	return nil
}
