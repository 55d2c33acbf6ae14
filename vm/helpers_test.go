package vm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

// listing numbers instruction lines so tests can write plain assembly.
// Jump targets in the input are still absolute cell addresses.
func listing(lines ...string) string {
	var sb strings.Builder
	addr := 0
	for _, l := range lines {
		mnemonic, _, _ := strings.Cut(strings.TrimSpace(l), " ")
		op, ok := OpcodeByName(mnemonic)
		if !ok {
			panic("bad mnemonic in test listing: " + mnemonic)
		}
		fmt.Fprintf(&sb, "%4d: %s\n", addr, strings.TrimSpace(l))
		addr++
		if op.HasImmediate() {
			addr++
		}
	}
	return sb.String()
}

type testPiece struct {
	name  string
	lines []string
}

// buildProgram assembles the pieces in order and links the program.
func buildProgram(t *testing.T, pieces ...testPiece) *Program {
	t.Helper()
	p := NewProgram()
	for _, tp := range pieces {
		if _, err := Assemble(p, tp.name, listing(tp.lines...)); err != nil {
			t.Fatalf("assemble %s: %v", tp.name, err)
		}
	}
	if err := p.Link(); err != nil {
		t.Fatalf("link: %v", err)
	}
	return p
}

// runProgram runs p with a small stack and captures native output.
func runProgram(t *testing.T, p *Program) (*Machine, *Result, string, error) {
	t.Helper()
	var out bytes.Buffer
	m := New(p, Config{StackSize: 4096, Output: &out})
	res, err := m.Run()
	return m, res, out.String(), err
}
