package vm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestPeepholeCancelsPushPop(t *testing.T) {
	p := NewProgram()
	pc := p.NewPiece("f")
	pc.EmitImm(Inst(OpLi, RegA, RegInvalid), 5)
	before, depth := pc.Len(), pc.VirtualSP

	pc.EmitPush(RegA)
	pc.EmitPop(RegA)

	if pc.Len() != before {
		t.Errorf("Len = %d, want %d (push/pop should cancel)", pc.Len(), before)
	}
	if pc.VirtualSP != depth {
		t.Errorf("VirtualSP = %d, want %d", pc.VirtualSP, depth)
	}
	if op, _ := pc.LastOp(); op != OpLi {
		t.Errorf("last op = %s, want li", op)
	}
}

func TestPeepholeKeepsDifferentRegisters(t *testing.T) {
	p := NewProgram()
	pc := p.NewPiece("f")
	pc.EmitPush(RegA)
	pc.EmitPop(RegD)

	if pc.Len() != 2 {
		t.Fatalf("Len = %d, want 2", pc.Len())
	}
	if pc.VirtualSP != 0 {
		t.Errorf("VirtualSP = %d, want 0", pc.VirtualSP)
	}
}

func TestPeepholeRespectsLabels(t *testing.T) {
	p := NewProgram()
	pc := p.NewPiece("f")
	pc.EmitPush(RegA)
	pc.Label()
	pc.EmitPop(RegA)

	if pc.Len() != 2 {
		t.Errorf("Len = %d, want 2: a pop at a jump target must not cancel", pc.Len())
	}
}

func TestVirtualSPTracksIncr(t *testing.T) {
	p := NewProgram()
	pc := p.NewPiece("f")
	pc.EmitImm(Inst(OpIncr, RegSP, RegInvalid), -24)
	pc.EmitPush(RegA)
	pc.EmitImm(Inst(OpIncr, RegB, RegInvalid), 100)
	if pc.VirtualSP != -32 {
		t.Fatalf("VirtualSP = %d, want -32", pc.VirtualSP)
	}
	pc.EmitImm(Inst(OpIncr, RegSP, RegInvalid), 32)
	if pc.VirtualSP != 0 {
		t.Errorf("VirtualSP = %d, want 0", pc.VirtualSP)
	}
}

func TestFixJumpHere(t *testing.T) {
	p := NewProgram()
	pc := p.NewPiece("f")
	pc.EmitImm(Inst(OpLi, RegA, RegInvalid), 0) // 0-1
	cell := pc.EmitJumpPlaceholder(OpJz, RegA) // 2-3
	pc.EmitImm(Inst(OpLi, RegA, RegInvalid), 1) // 4-5
	pc.FixJumpHere(cell)

	imm, _ := pc.Code.Immediate(cell)
	if imm != 3 {
		t.Errorf("displacement = %d, want 3 (target 6 - cell 3)", imm)
	}

	start := 2
	pc.EmitJumpBack(OpJmp, RegInvalid, start) // 6-7
	back, _ := pc.Code.Immediate(7)
	if int(back)+7 != start {
		t.Errorf("backward displacement %d does not land on %d", back, start)
	}
}

func TestFixJumpHereRejectsInstructionCell(t *testing.T) {
	p := NewProgram()
	pc := p.NewPiece("f")
	pc.EmitJumpPlaceholder(OpJmp, RegInvalid) // 0-1

	defer func() {
		if recover() == nil {
			t.Error("patching an instruction cell did not panic")
		}
	}()
	pc.FixJumpHere(0)
}

func TestInternString(t *testing.T) {
	p := NewProgram()
	a := p.InternString("hello")
	b := p.InternString("world")
	c := p.InternString("hello")

	if a != c {
		t.Errorf("repeat intern returned %d, want %d", c, a)
	}
	if b != a+len("hello")+1 {
		t.Errorf("second string at %d, want %d", b, a+6)
	}
	data := p.Data()
	if string(data[a:a+5]) != "hello" || data[a+5] != 0 {
		t.Errorf("data = %q, want NUL-terminated hello", data)
	}
	if len(p.Strings()) != 2 {
		t.Errorf("Strings() has %d entries, want 2", len(p.Strings()))
	}
}

func TestAppendData(t *testing.T) {
	p := NewProgram()
	off := p.AppendData(4, []byte{1, 2})
	next := p.AppendData(2, nil)
	if off != 0 || next != 4 {
		t.Errorf("offsets = %d, %d; want 0, 4", off, next)
	}
	if got := p.Data(); string(got) != "\x01\x02\x00\x00\x00\x00" {
		t.Errorf("data = %v", got)
	}
}

func TestProgramConcurrentPopulation(t *testing.T) {
	p := NewProgram()
	const workers = 16

	var wg sync.WaitGroup
	offsets := make([]int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc := p.NewPiece(fmt.Sprintf("f%d", i))
			pc.EmitImm(Inst(OpLi, RegA, RegInvalid), int32(i))
			pc.Emit(Inst(OpRet, RegInvalid, RegInvalid))
			p.InternString("shared")
			offsets[i] = p.AppendData(8, []byte{byte(i)})
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, pc := range p.Pieces() {
		if seen[pc.Index] {
			t.Fatalf("duplicate piece index %d", pc.Index)
		}
		seen[pc.Index] = true
	}
	if len(seen) != workers {
		t.Fatalf("%d pieces, want %d", len(seen), workers)
	}
	if len(p.Strings()) != 1 {
		t.Errorf("shared string stored %d times", len(p.Strings()))
	}
	data := p.Data()
	for i, off := range offsets {
		if data[off] != byte(i) {
			t.Errorf("worker %d data at %d = %d", i, off, data[off])
		}
	}
}

func TestLinkPatchesCalls(t *testing.T) {
	p := NewProgram()
	fref := NewFuncRef("f")

	main := p.NewPiece("main")
	main.EmitCall(fref)
	main.EmitNativeCall(NativePrinti)
	main.Emit(Inst(OpRet, RegInvalid, RegInvalid))

	f := p.NewPiece("f")
	fref.Bind(f.Index)
	f.Emit(Inst(OpRet, RegInvalid, RegInvalid))

	if err := p.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	imm, _ := main.Code.Immediate(1)
	if imm != int32(f.Index+1) {
		t.Errorf("call immediate = %d, want %d", imm, f.Index+1)
	}
	if native, _ := main.Code.Immediate(3); native != NativePrinti {
		t.Errorf("native immediate = %d, want %d", native, NativePrinti)
	}
	assertCallsResolved(t, p)

	if err := p.Link(); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("second Link = %v, want ErrAlreadyLinked", err)
	}
}

func TestLinkReportsEveryBadRelocation(t *testing.T) {
	p := NewProgram()
	main := p.NewPiece("main")
	main.EmitCall(NewFuncRef("missing"))
	main.EmitCall(nil)

	err := p.Link()
	if err == nil {
		t.Fatal("expected link error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `"missing"`) || !strings.Contains(msg, "no target") {
		t.Errorf("error %q should name both problems", msg)
	}
	if p.Linked() {
		t.Error("program marked linked after a failed link")
	}
}

// assertCallsResolved checks that no linked call immediate is zero.
func assertCallsResolved(t *testing.T, p *Program) {
	t.Helper()
	for _, pc := range p.Pieces() {
		for i := 0; i < pc.Len(); i++ {
			if in, ok := pc.Code.At(i); ok && in.Op == OpCall {
				if imm, _ := pc.Code.Immediate(i + 1); imm == 0 {
					t.Errorf("%s: call at %d is unresolved after linking", pc.Name, i)
				}
			}
		}
	}
}
