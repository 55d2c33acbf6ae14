package vm

import "encoding/binary"

// Guest address map. Each region is an owned byte arena; a guest pointer
// is only ever turned into a host slice through Memory.slice.
const (
	StackBase uint64 = 0x0001_0000
	DataBase  uint64 = 0x4000_0000
	HeapBase  uint64 = 0x1_0000_0000

	// DefaultStackSize is the stack arena size when none is configured.
	DefaultStackSize = 64 * 1024
	// MaxStackSize keeps the stack arena below DataBase.
	MaxStackSize = int(DataBase - StackBase)
)

// Memory is the guest address space: stack arena, global data snapshot and
// the live heap allocations.
type Memory struct {
	stack []byte
	data  []byte
	heap  *HeapTable
}

func newMemory(stackSize int, data []byte, heap *HeapTable) *Memory {
	snapshot := make([]byte, len(data))
	copy(snapshot, data)
	return &Memory{
		stack: make([]byte, stackSize),
		data:  snapshot,
		heap:  heap,
	}
}

// StackTop is the address one past the highest stack byte.
func (m *Memory) StackTop() uint64 { return StackBase + uint64(len(m.stack)) }

// slice returns the host bytes backing [addr, addr+n). ok is false unless
// the whole range lies inside exactly one region.
func (m *Memory) slice(addr uint64, n int) (b []byte, ok bool) {
	if n < 0 {
		return nil, false
	}
	if b, ok := within(m.stack, StackBase, addr, n); ok {
		return b, true
	}
	if b, ok := within(m.data, DataBase, addr, n); ok {
		return b, true
	}
	if m.heap != nil {
		return m.heap.lookup(addr, n)
	}
	return nil, false
}

// within resolves a range against one arena without overflowing.
func within(buf []byte, base, addr uint64, n int) ([]byte, bool) {
	if addr < base {
		return nil, false
	}
	off := addr - base
	size := uint64(len(buf))
	if off > size || uint64(n) > size-off {
		return nil, false
	}
	return buf[off : off+uint64(n)], true
}

// Valid reports whether [addr, addr+n) is addressable.
func (m *Memory) Valid(addr uint64, n int) bool {
	_, ok := m.slice(addr, n)
	return ok
}

// Read returns a copy of [addr, addr+n), or false when the range is not
// addressable.
func (m *Memory) Read(addr uint64, n int) ([]byte, bool) {
	b, ok := m.slice(addr, n)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// load reads a little-endian value of 1, 2, 4 or 8 bytes, sign-extended.
func load(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

// store writes the low len(b) bytes of v.
func store(b []byte, v int64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, uint64(v))
	}
}

func validSize(size uint8) bool {
	return size == 1 || size == 2 || size == 4 || size == 8
}
