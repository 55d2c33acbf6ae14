package vm

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownPointer is returned when freeing a pointer the table never handed out.
	ErrUnknownPointer = errors.New("free of unknown pointer")
	// ErrDoubleFree is returned when freeing a pointer twice.
	ErrDoubleFree = errors.New("double free")
	// ErrOutOfMemory is returned when an allocation would exceed the heap limit.
	ErrOutOfMemory = errors.New("out of guest memory")
)

// heapGuard separates consecutive allocations so that no access can span two.
const heapGuard = 16

// DefaultHeapLimit caps the total live heap of one machine.
const DefaultHeapLimit = 256 << 20

// Allocation is one live heap block.
type Allocation struct {
	Addr uint64
	Size int
	buf  []byte
}

// HeapTable maps guest pointers to their backing storage. The zero value is
// ready to use. Each Machine owns its own table.
type HeapTable struct {
	Limit int // zero means DefaultHeapLimit

	live  map[uint64]*Allocation
	order []uint64 // live addresses, ascending
	freed map[uint64]struct{}
	next  uint64
	total int
}

// Alloc reserves size bytes and returns the guest address of the block.
func (h *HeapTable) Alloc(size int) (uint64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("invalid allocation size %d", size)
	}
	limit := h.Limit
	if limit == 0 {
		limit = DefaultHeapLimit
	}
	if h.total+size > limit {
		return 0, fmt.Errorf("%w: %d bytes requested, %d live", ErrOutOfMemory, size, h.total)
	}
	if h.live == nil {
		h.live = make(map[uint64]*Allocation)
		h.freed = make(map[uint64]struct{})
		h.next = HeapBase
	}

	addr := h.next
	h.next += uint64(alignUp(size, heapGuard) + heapGuard)

	a := &Allocation{Addr: addr, Size: size, buf: make([]byte, size)}
	h.live[addr] = a
	h.order = append(h.order, addr)
	h.total += size
	return addr, nil
}

// Free releases the block starting at addr.
func (h *HeapTable) Free(addr uint64) error {
	a, ok := h.live[addr]
	if !ok {
		if _, was := h.freed[addr]; was {
			return fmt.Errorf("%w at 0x%x", ErrDoubleFree, addr)
		}
		return fmt.Errorf("%w 0x%x", ErrUnknownPointer, addr)
	}
	delete(h.live, addr)
	h.freed[addr] = struct{}{}
	h.total -= a.Size

	i := sort.Search(len(h.order), func(i int) bool { return h.order[i] >= addr })
	h.order = append(h.order[:i], h.order[i+1:]...)
	return nil
}

// lookup resolves a range that must sit inside one live allocation.
func (h *HeapTable) lookup(addr uint64, n int) ([]byte, bool) {
	i := sort.Search(len(h.order), func(i int) bool { return h.order[i] > addr })
	if i == 0 {
		return nil, false
	}
	a := h.live[h.order[i-1]]
	return within(a.buf, a.Addr, addr, n)
}

// Len returns the number of live allocations.
func (h *HeapTable) Len() int { return len(h.order) }

// Live returns the live allocations in address order.
func (h *HeapTable) Live() []Allocation {
	out := make([]Allocation, 0, len(h.order))
	for _, addr := range h.order {
		a := h.live[addr]
		out = append(out, Allocation{Addr: a.Addr, Size: a.Size})
	}
	return out
}

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}
