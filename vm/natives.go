package vm

import (
	"fmt"
	"math"
	"os"
	"strings"
)

// Native call ids. They are baked into generated call immediates and must
// not be renumbered.
const (
	NativePrinti int32 = -(iota + 1)
	NativePrintf
	NativePrintc
	NativePrints
	NativeMalloc
	NativeMfree
	NativeMemcpy
	NativePow
	NativeSqrt
	NativeReadFile
	NativeWriteFile

	nativeCount = 11
)

// Native describes a host function callable from guest code. Params and
// Result are type names in the guest language.
type Native struct {
	ID     int32
	Name   string
	Params []string
	Result string

	fn func(m *Machine, c nativeCall) error
}

// Natives lists every native in id order (index i has id -(i+1)).
var Natives = [nativeCount]*Native{
	{ID: NativePrinti, Name: "printi", Params: []string{"int"}, Result: "void", fn: nativePrinti},
	{ID: NativePrintf, Name: "printf", Params: []string{"float"}, Result: "void", fn: nativePrintf},
	{ID: NativePrintc, Name: "printc", Params: []string{"char"}, Result: "void", fn: nativePrintc},
	{ID: NativePrints, Name: "prints", Params: []string{"char*"}, Result: "void", fn: nativePrints},
	{ID: NativeMalloc, Name: "malloc", Params: []string{"int"}, Result: "void*", fn: nativeMalloc},
	{ID: NativeMfree, Name: "mfree", Params: []string{"void*"}, Result: "void", fn: nativeMfree},
	{ID: NativeMemcpy, Name: "memcpy", Params: []string{"void*", "void*", "int"}, Result: "void", fn: nativeMemcpy},
	{ID: NativePow, Name: "pow", Params: []string{"float", "float"}, Result: "float", fn: nativePow},
	{ID: NativeSqrt, Name: "sqrt", Params: []string{"float"}, Result: "float", fn: nativeSqrt},
	{ID: NativeReadFile, Name: "read_file", Params: []string{"char*", "char**", "int*"}, Result: "bool", fn: nativeReadFile},
	{ID: NativeWriteFile, Name: "write_file", Params: []string{"char*", "char*", "int"}, Result: "bool", fn: nativeWriteFile},
}

// LookupNative returns the native with the given id, or nil.
func LookupNative(id int32) *Native {
	i := int(-id) - 1
	if id >= 0 || i >= nativeCount {
		return nil
	}
	return Natives[i]
}

// NativeByName returns the native with the given name, or nil.
func NativeByName(name string) *Native {
	for _, n := range Natives {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// NativeName returns the name of a native id for listings.
func NativeName(id int32) string {
	if n := LookupNative(id); n != nil {
		return n.Name
	}
	return fmt.Sprintf("native(%d)", id)
}

// TypeNameSize returns the size of a primitive or pointer type name.
func TypeNameSize(name string) int {
	if strings.HasSuffix(name, "*") {
		return 8
	}
	switch name {
	case "int", "float":
		return 4
	case "char", "bool":
		return 1
	}
	return 0
}

// Layout returns the argument offsets, the size of the argument block and
// the size of the return slot that sits directly above it.
func (n *Native) Layout() (offsets []int, argBlock, retSlot int) {
	sizes := make([]int, len(n.Params))
	for i, p := range n.Params {
		sizes[i] = TypeNameSize(p)
	}
	offsets, argBlock = LayoutArgs(sizes)
	return offsets, argBlock, alignUp(TypeNameSize(n.Result), 8)
}

// LayoutArgs lays out an argument block: each argument at its natural
// alignment (by size, up to 8), the block rounded up to 8 bytes. The
// caller's return slot starts at the returned block size.
func LayoutArgs(sizes []int) (offsets []int, block int) {
	offsets = make([]int, len(sizes))
	off := 0
	for i, s := range sizes {
		off = alignUp(off, AlignOf(s))
		offsets[i] = off
		off += s
	}
	return offsets, alignUp(off, 8)
}

// AlignOf is the natural alignment of a value of the given size.
func AlignOf(size int) int {
	switch {
	case size >= 8:
		return 8
	case size >= 4:
		return 4
	case size >= 2:
		return 2
	}
	return 1
}

// ---------------------------------------------------------------------------
// Native handlers
// ---------------------------------------------------------------------------

// nativeCall gives a handler typed access to its argument block.
type nativeCall struct {
	native  *Native
	sp      uint64
	offsets []int
	block   int
}

func (m *Machine) arg(c nativeCall, i int) (int64, error) {
	size := TypeNameSize(c.native.Params[i])
	return m.load(c.sp+uint64(c.offsets[i]), uint8(size))
}

func (m *Machine) argFloat(c nativeCall, i int) (float32, error) {
	v, err := m.arg(c, i)
	return math.Float32frombits(uint32(v)), err
}

// setResult fills the return slot with v truncated to the result type and
// sign-extended to a full operand-stack word.
func (m *Machine) setResult(c nativeCall, v int64) error {
	size := TypeNameSize(c.native.Result)
	if size == 0 {
		return nil
	}
	var word [8]byte
	store(word[:size], v)
	return m.store(c.sp+uint64(c.block), 8, load(word[:size]))
}

func (m *Machine) softError(c nativeCall, format string, args ...any) {
	m.softErrors++
	m.log.Warningf("VM: %s: %s", c.native.Name, fmt.Sprintf(format, args...))
}

func nativePrinti(m *Machine, c nativeCall) error {
	v, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "%d", int32(v))
	return nil
}

func nativePrintf(m *Machine, c nativeCall) error {
	f, err := m.argFloat(c, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "%f", f)
	return nil
}

func nativePrintc(m *Machine, c nativeCall) error {
	v, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	m.out.Write([]byte{byte(v)})
	return nil
}

func nativePrints(m *Machine, c nativeCall) error {
	p, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	s, err := m.cString(uint64(p))
	if err != nil {
		return err
	}
	fmt.Fprint(m.out, s)
	return nil
}

func nativeMalloc(m *Machine, c nativeCall) error {
	size, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	addr, aerr := m.heap.Alloc(int(int32(size)))
	if aerr != nil {
		m.softError(c, "%v", aerr)
		return m.setResult(c, 0)
	}
	return m.setResult(c, int64(addr))
}

func nativeMfree(m *Machine, c nativeCall) error {
	p, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	if ferr := m.heap.Free(uint64(p)); ferr != nil {
		m.softError(c, "%v", ferr)
	}
	return nil
}

func nativeMemcpy(m *Machine, c nativeCall) error {
	dst, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	src, err := m.arg(c, 1)
	if err != nil {
		return err
	}
	n, err := m.arg(c, 2)
	if err != nil {
		return err
	}
	size := int(int32(n))
	from, err := m.bytes(uint64(src), size)
	if err != nil {
		return err
	}
	to, err := m.bytes(uint64(dst), size)
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}

func nativePow(m *Machine, c nativeCall) error {
	x, err := m.argFloat(c, 0)
	if err != nil {
		return err
	}
	y, err := m.argFloat(c, 1)
	if err != nil {
		return err
	}
	r := float32(math.Pow(float64(x), float64(y)))
	return m.setResult(c, int64(math.Float32bits(r)))
}

func nativeSqrt(m *Machine, c nativeCall) error {
	x, err := m.argFloat(c, 0)
	if err != nil {
		return err
	}
	r := float32(math.Sqrt(float64(x)))
	return m.setResult(c, int64(math.Float32bits(r)))
}

func nativeReadFile(m *Machine, c nativeCall) error {
	pathPtr, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	outData, err := m.arg(c, 1)
	if err != nil {
		return err
	}
	outSize, err := m.arg(c, 2)
	if err != nil {
		return err
	}
	path, err := m.cString(uint64(pathPtr))
	if err != nil {
		return err
	}

	if m.cfg.NoFiles {
		m.softError(c, "file access is disabled")
		return m.setResult(c, 0)
	}
	content, rerr := os.ReadFile(path)
	if rerr != nil {
		m.softError(c, "%v", rerr)
		return m.setResult(c, 0)
	}
	if len(content) > math.MaxInt32 {
		m.softError(c, "%s is too large", path)
		return m.setResult(c, 0)
	}

	var addr uint64
	if len(content) > 0 {
		addr, rerr = m.heap.Alloc(len(content))
		if rerr != nil {
			m.softError(c, "%v", rerr)
			return m.setResult(c, 0)
		}
		buf, err := m.bytes(addr, len(content))
		if err != nil {
			return err
		}
		copy(buf, content)
	}

	if outData != 0 {
		if err := m.store(uint64(outData), 8, int64(addr)); err != nil {
			return err
		}
	}
	if outSize != 0 {
		if err := m.store(uint64(outSize), 4, int64(len(content))); err != nil {
			return err
		}
	}
	return m.setResult(c, 1)
}

func nativeWriteFile(m *Machine, c nativeCall) error {
	pathPtr, err := m.arg(c, 0)
	if err != nil {
		return err
	}
	data, err := m.arg(c, 1)
	if err != nil {
		return err
	}
	n, err := m.arg(c, 2)
	if err != nil {
		return err
	}
	path, err := m.cString(uint64(pathPtr))
	if err != nil {
		return err
	}

	if m.cfg.NoFiles {
		m.softError(c, "file access is disabled")
		return m.setResult(c, 0)
	}
	size := int(int32(n))
	if size < 0 {
		m.softError(c, "negative size %d", size)
		return m.setResult(c, 0)
	}
	var content []byte
	if size > 0 {
		if content, err = m.bytes(uint64(data), size); err != nil {
			return err
		}
	}
	if werr := os.WriteFile(path, content, 0o644); werr != nil {
		m.softError(c, "%v", werr)
		return m.setResult(c, 0)
	}
	return m.setResult(c, 1)
}
