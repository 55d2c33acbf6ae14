package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns the listing of every piece in index order.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	for i, pc := range p.Pieces() {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(pc.Disassemble(p))
	}
	if strs := p.Strings(); len(strs) > 0 {
		sb.WriteString("\n; data:\n")
		for _, s := range strs {
			sb.WriteString(fmt.Sprintf(";   [%4d] %q\n", s.Offset, s.Text))
		}
	}
	return sb.String()
}

// Disassemble returns a listing of the piece. Each line reads
// "address: mnemonic operand, operand[, size]"; source lines are printed as
// comments before the first instruction generated from them.
func (pc *Piece) Disassemble(p *Program) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s:\n", pc.Name))

	lastLine := -1
	for i := 0; i < pc.Len(); i++ {
		if pc.Code.IsImmediate(i) {
			continue
		}
		if i < len(pc.lineOf) && pc.lineOf[i] >= 0 && int(pc.lineOf[i]) != lastLine {
			lastLine = int(pc.lineOf[i])
			src := pc.lines[lastLine]
			sb.WriteString(fmt.Sprintf("; %d: %s\n", src.Number, strings.TrimSpace(src.Text)))
		}
		sb.WriteString(formatCell(p, pc, i))
		sb.WriteString("\n")
	}
	return sb.String()
}

// formatCell renders the instruction at cell i together with its immediate.
func formatCell(p *Program, pc *Piece, i int) string {
	in, ok := pc.Code.At(i)
	if !ok {
		return fmt.Sprintf("%4d: <immediate>", i)
	}
	imm, _ := pc.Code.Immediate(i + 1)

	var ops []string
	switch in.Op {
	case OpHalt, OpNop, OpRet:

	case OpPush, OpPop:
		ops = append(ops, in.Op0.String())

	case OpCast:
		ops = append(ops, in.Op0.String(), castName(in.Op2))

	case OpMovRR, OpNot, OpMemzero:
		ops = append(ops, in.Op0.String(), in.Op1.String())

	case OpMovMR, OpMovRM:
		ops = append(ops, in.Op0.String(), in.Op1.String(), SizeKeyword(in.Op2))

	case OpLi, OpIncr:
		ops = append(ops, in.Op0.String(), fmt.Sprint(imm))

	case OpJmp:
		ops = append(ops, fmt.Sprintf("%d:", i+1+int(imm)))

	case OpJz:
		ops = append(ops, in.Op0.String(), fmt.Sprintf("%d:", i+1+int(imm)))

	case OpCall:
		ops = append(ops, callTargetName(p, pc, i+1, imm))

	case OpMovMRDisp, OpMovRMDisp:
		ops = append(ops, in.Op0.String(), in.Op1.String(), SizeKeyword(in.Op2), fmt.Sprint(imm))

	case OpDataPtr:
		ops = append(ops, in.Op0.String(), fmt.Sprintf("data+%d", imm))

	default:
		if in.Op.IsBinary() {
			ops = append(ops, in.Op0.String(), in.Op1.String())
			if kw := controlName(in.Op2); kw != "" {
				ops = append(ops, kw)
			}
			break
		}
		ops = append(ops, in.Op0.String(), in.Op1.String(), fmt.Sprint(in.Op2))
	}

	if len(ops) == 0 {
		return fmt.Sprintf("%4d: %s", i, in.Op)
	}
	return fmt.Sprintf("%4d: %s %s", i, in.Op, strings.Join(ops, ", "))
}

// callTargetName prefers the pending relocation, so unlinked pieces still
// print the callee's name.
func callTargetName(p *Program, pc *Piece, cell int, imm int32) string {
	for _, r := range pc.relocs {
		if r.Cell == cell && r.Target != nil {
			return r.Target.Name
		}
	}
	if p == nil {
		return fmt.Sprint(imm)
	}
	return p.TargetName(imm)
}

func controlName(flag uint8) string {
	switch flag {
	case ControlFloat:
		return "float"
	case ControlByte:
		return "byte"
	case ControlInt:
		return ""
	}
	return fmt.Sprintf("flag%d", flag)
}

func castName(kind uint8) string {
	switch kind {
	case CastFloatToInt:
		return "float_to_int"
	case CastIntToFloat:
		return "int_to_float"
	}
	return fmt.Sprintf("cast%d", kind)
}
