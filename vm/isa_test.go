package vm

import "testing"

func TestImmediateOpcodesAreContiguous(t *testing.T) {
	seen := false
	for op := Opcode(0); op < opcodeCount; op++ {
		if op.HasImmediate() {
			seen = true
			continue
		}
		if seen {
			t.Fatalf("%s has no immediate but follows an immediate-bearing opcode", op)
		}
	}
	for _, op := range []Opcode{OpLi, OpJmp, OpJz, OpCall, OpMovMRDisp, OpMovRMDisp, OpDataPtr, OpIncr} {
		if !op.HasImmediate() {
			t.Errorf("%s.HasImmediate() = false, want true", op)
		}
	}
	if Opcode(200).HasImmediate() {
		t.Error("undefined opcode reports an immediate")
	}
}

func TestOpcodeNames(t *testing.T) {
	for op := Opcode(0); op < opcodeCount; op++ {
		name := op.String()
		if name == "" {
			t.Fatalf("opcode %d has no name", op)
		}
		got, ok := OpcodeByName(name)
		if !ok || got != op {
			t.Errorf("OpcodeByName(%q) = %v, %v; want %v", name, got, ok, op)
		}
	}
	if OpMovMRDisp.String() != "mov_mr_disp" {
		t.Errorf("String() = %q, want mov_mr_disp", OpMovMRDisp.String())
	}
	if _, ok := OpcodeByName("bogus"); ok {
		t.Error("OpcodeByName accepted an unknown mnemonic")
	}
}

func TestRegisterNames(t *testing.T) {
	for r := RegA; r < RegisterCount; r++ {
		got, ok := RegisterByName(r.String())
		if !ok || got != r {
			t.Errorf("RegisterByName(%q) = %v, %v", r.String(), got, ok)
		}
	}
	if _, ok := RegisterByName("invalid"); ok {
		t.Error("the invalid register must not be nameable")
	}
}

func TestIsBinary(t *testing.T) {
	if !OpAdd.IsBinary() || !OpGreaterEqual.IsBinary() {
		t.Error("add and greater_equal should be binary")
	}
	if OpNot.IsBinary() || OpRet.IsBinary() || OpLi.IsBinary() {
		t.Error("not, ret and li are not binary")
	}
}

func TestSizeKeywords(t *testing.T) {
	for _, size := range []uint8{1, 2, 4, 8} {
		got, ok := sizeFromKeyword(SizeKeyword(size))
		if !ok || got != size {
			t.Errorf("size %d round trip = %d, %v", size, got, ok)
		}
	}
	if SizeKeyword(4) != "dword" {
		t.Errorf("SizeKeyword(4) = %q, want dword", SizeKeyword(4))
	}
}
