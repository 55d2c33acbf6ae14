package vm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const stepperHelp = `commands:
  (empty)  execute the next instruction
  l        show the registers
  f        show the current frame
  s        show the stack
  c        continue without stopping
  help     show this list
`

// Stepper drives a machine one instruction at a time from a command
// stream. Install it with Config.Step = s.Step. When the input runs out
// the machine continues to the end.
type Stepper struct {
	in    *bufio.Scanner
	out   io.Writer
	going bool
}

// NewStepper reads commands from in and writes prompts and dumps to out.
func NewStepper(in io.Reader, out io.Writer) *Stepper {
	return &Stepper{in: bufio.NewScanner(in), out: out}
}

// Step shows the next instruction and reads commands until one advances
// the machine.
func (s *Stepper) Step(m *Machine) error {
	if s.going {
		return nil
	}
	if pc := int(m.regs[RegPC]); pc < m.piece.Len() {
		m.trace(s.out, pc)
	}
	for {
		fmt.Fprint(s.out, "> ")
		if !s.in.Scan() {
			fmt.Fprintln(s.out)
			s.going = true
			return s.in.Err()
		}
		switch cmd := strings.TrimSpace(s.in.Text()); cmd {
		case "":
			return nil
		case "l":
			m.DumpRegisters(s.out)
		case "f":
			m.DumpFrame(s.out, 32, 32)
		case "s":
			m.DumpStack(s.out)
		case "c":
			s.going = true
			return nil
		case "help":
			fmt.Fprint(s.out, stepperHelp)
		default:
			fmt.Fprintf(s.out, "unknown command %q, try help\n", cmd)
		}
	}
}
