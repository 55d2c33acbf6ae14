package vm

import (
	"strings"
	"testing"
)

func buildListingProgram(t testing.TB) (*Program, *Piece) {
	t.Helper()
	p := NewProgram()
	fref := NewFuncRef("f")

	main := p.NewPiece("main")
	main.SetLine(3, "    printi(f());")
	main.EmitCall(fref)
	main.EmitNativeCall(NativePrinti)
	main.SetLine(4, "    x = y + 1.5;")
	main.Emit(InstFlag(OpAdd, RegA, RegD, ControlFloat))
	main.EmitImm(InstFlag(OpMovRMDisp, RegA, RegBP, 4), -8)
	main.EmitImm(InstFlag(OpMovMRDisp, RegBP, RegA, 1), -9)
	main.Emit(InstFlag(OpCast, RegA, RegInvalid, CastIntToFloat))
	off := p.InternString("hi")
	main.EmitImm(Inst(OpDataPtr, RegA, RegInvalid), int32(off))
	jz := main.EmitJumpPlaceholder(OpJz, RegA)
	main.EmitImm(Inst(OpIncr, RegSP, RegInvalid), -16)
	main.FixJumpHere(jz)
	main.Emit(Inst(OpRet, RegInvalid, RegInvalid))

	f := p.NewPiece("f")
	fref.Bind(f.Index)
	f.EmitImm(Inst(OpLi, RegA, RegInvalid), 1)
	f.Emit(Inst(OpRet, RegInvalid, RegInvalid))
	return p, main
}

func TestDisassembleGolden(t *testing.T) {
	p, main := buildListingProgram(t)

	want := strings.Join([]string{
		"main:",
		"; 3: printi(f());",
		"   0: call f",
		"   2: call printi",
		"; 4: x = y + 1.5;",
		"   4: add a, d, float",
		"   5: mov_rm_disp a, bp, dword, -8",
		"   7: mov_mr_disp bp, a, byte, -9",
		"   9: cast a, int_to_float",
		"  10: dataptr a, data+0",
		"  12: jz a, 16:",
		"  14: incr sp, -16",
		"  16: ret",
		"",
	}, "\n")

	if got := main.Disassemble(p); got != want {
		t.Errorf("unlinked listing:\n%s\nwant:\n%s", got, want)
	}

	if err := p.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if got := main.Disassemble(p); got != want {
		t.Errorf("linked listing:\n%s\nwant:\n%s", got, want)
	}
}

func TestDisassembleAssembleRoundTrip(t *testing.T) {
	p, main := buildListingProgram(t)
	if err := p.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	for _, pc := range []*Piece{main, p.Lookup("f")} {
		text := pc.Disassemble(p)
		copyPiece, err := Assemble(p, pc.Name+"_copy", text)
		if err != nil {
			t.Fatalf("Assemble(%s): %v\n%s", pc.Name, err, text)
		}
		if !copyPiece.Code.Equal(&pc.Code) {
			t.Errorf("%s: reassembled cells differ\noriginal:\n%s\ncopy:\n%s",
				pc.Name, text, copyPiece.Disassemble(p))
		}
	}
}

func TestProgramDisassembleIncludesData(t *testing.T) {
	p, _ := buildListingProgram(t)
	out := p.Disassemble()
	if !strings.Contains(out, "f:\n   0: li a, 1\n   2: ret\n") {
		t.Errorf("missing f listing:\n%s", out)
	}
	if !strings.Contains(out, `[   0] "hi"`) {
		t.Errorf("missing data section:\n%s", out)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name    string
		listing string
	}{
		{"unknown mnemonic", "   0: frob a"},
		{"unknown register", "   0: push q"},
		{"bad address", "   3: ret"},
		{"bad size", "   0: mov_mr a, b, huge"},
		{"unknown target", "   0: call nowhere"},
		{"missing operand", "   0: li a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Assemble(NewProgram(), "x", tt.listing); err == nil {
				t.Errorf("Assemble(%q) succeeded", tt.listing)
			}
		})
	}
}
