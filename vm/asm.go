package vm

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// Assemble parses a piece listing, as produced by Piece.Disassemble, into a
// new piece of p. Comment lines (";") and the "name:" header are skipped.
// Call targets are resolved by name against the natives and the pieces of
// p, so assembling the listing of a linked piece reproduces its cells.
func Assemble(p *Program, name, listing string) (*Piece, error) {
	pc := p.NewPiece(name)
	sc := bufio.NewScanner(strings.NewReader(listing))
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		addr, rest, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: missing address", lineNo)
		}
		if rest == "" {
			continue // piece header
		}
		if n, err := strconv.Atoi(strings.TrimSpace(addr)); err != nil || n != pc.Len() {
			return nil, fmt.Errorf("line %d: address %q, expected %d", lineNo, addr, pc.Len())
		}
		if err := assembleLine(p, pc, strings.TrimSpace(rest)); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pc, nil
}

func assembleLine(p *Program, pc *Piece, text string) error {
	mnemonic, rest, _ := strings.Cut(text, " ")
	op, ok := OpcodeByName(mnemonic)
	if !ok {
		return fmt.Errorf("unknown mnemonic %q", mnemonic)
	}
	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		args = strings.Split(rest, ", ")
	}

	a := asmArgs{args: args}
	in := Instruction{Op: op}
	var imm int32

	switch op {
	case OpHalt, OpNop, OpRet:

	case OpPush, OpPop:
		in.Op0 = a.reg(0)

	case OpCast:
		in.Op0 = a.reg(0)
		switch a.str(1) {
		case "float_to_int":
			in.Op2 = CastFloatToInt
		case "int_to_float":
			in.Op2 = CastIntToFloat
		default:
			a.fail("unknown cast %q", a.str(1))
		}

	case OpMovRR, OpNot, OpMemzero:
		in.Op0, in.Op1 = a.reg(0), a.reg(1)

	case OpMovMR, OpMovRM:
		in.Op0, in.Op1, in.Op2 = a.reg(0), a.reg(1), a.size(2)

	case OpLi, OpIncr:
		in.Op0 = a.reg(0)
		imm = a.int(1)

	case OpJmp:
		imm = a.target(0) - int32(pc.Len()+1)

	case OpJz:
		in.Op0 = a.reg(0)
		imm = a.target(1) - int32(pc.Len()+1)

	case OpCall:
		imm = a.call(p, 0)

	case OpMovMRDisp, OpMovRMDisp:
		in.Op0, in.Op1, in.Op2 = a.reg(0), a.reg(1), a.size(2)
		imm = a.int(3)

	case OpDataPtr:
		in.Op0 = a.reg(0)
		off, found := strings.CutPrefix(a.str(1), "data+")
		if !found {
			a.fail("expected data+offset, got %q", a.str(1))
		}
		imm = a.parseInt(off)

	default:
		in.Op0, in.Op1 = a.reg(0), a.reg(1)
		if len(args) > 2 {
			switch args[2] {
			case "float":
				in.Op2 = ControlFloat
			case "byte":
				in.Op2 = ControlByte
			default:
				a.fail("unknown control flag %q", args[2])
			}
		}
	}
	if a.err != nil {
		return a.err
	}

	if op.HasImmediate() {
		pc.appendInst(in)
		pc.appendImm(imm)
	} else {
		pc.appendInst(in)
	}
	return nil
}

// asmArgs parses operands, remembering the first error.
type asmArgs struct {
	args []string
	err  error
}

func (a *asmArgs) fail(format string, args ...any) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

func (a *asmArgs) str(i int) string {
	if i >= len(a.args) {
		a.fail("missing operand %d", i)
		return ""
	}
	return a.args[i]
}

func (a *asmArgs) reg(i int) Register {
	s := a.str(i)
	r, ok := RegisterByName(s)
	if !ok && a.err == nil {
		a.fail("unknown register %q", s)
	}
	return r
}

func (a *asmArgs) size(i int) uint8 {
	s := a.str(i)
	n, ok := sizeFromKeyword(s)
	if !ok && a.err == nil {
		a.fail("unknown size %q", s)
	}
	return n
}

func (a *asmArgs) parseInt(s string) int32 {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		a.fail("bad integer %q", s)
	}
	return int32(n)
}

func (a *asmArgs) int(i int) int32 { return a.parseInt(a.str(i)) }

func (a *asmArgs) target(i int) int32 {
	s, found := strings.CutSuffix(a.str(i), ":")
	if !found {
		a.fail("expected jump target, got %q", a.str(i))
	}
	return a.parseInt(s)
}

func (a *asmArgs) call(p *Program, i int) int32 {
	name := a.str(i)
	if n := NativeByName(name); n != nil {
		return n.ID
	}
	if pc := p.Lookup(name); pc != nil {
		return int32(pc.Index + 1)
	}
	a.fail("unknown call target %q", name)
	return 0
}
