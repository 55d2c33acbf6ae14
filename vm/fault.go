package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMain means the program has no piece named "main".
	ErrNoMain = errors.New("VM: main was not found")
	// ErrEmptyMain means main exists but has no instructions.
	ErrEmptyMain = errors.New("VM: 'main' has no instructions")
	// ErrNotLinked means Run was called before Link.
	ErrNotLinked = errors.New("VM: program is not linked")
	// ErrStepLimit means the run exceeded Config.MaxSteps.
	ErrStepLimit = errors.New("VM: step limit reached")
)

// FaultKind classifies a fatal VM error.
type FaultKind uint8

const (
	FaultPCOutOfRange FaultKind = iota + 1
	FaultStackOverflow
	FaultStackUnderflow
	FaultFrameMismatch
	FaultAccessViolation
	FaultDivideByZero
	FaultBadCallTarget
	FaultBadInstruction
)

var faultNames = map[FaultKind]string{
	FaultPCOutOfRange:    "PC out of bounds",
	FaultStackOverflow:   "Stack overflow",
	FaultStackUnderflow:  "Stack underflow",
	FaultFrameMismatch:   "Stack pointer and base pointer mismatch on ret instruction",
	FaultAccessViolation: "Access violation",
	FaultDivideByZero:    "Division by zero",
	FaultBadCallTarget:   "Invalid call target",
	FaultBadInstruction:  "Invalid instruction",
}

func (k FaultKind) String() string {
	if s, ok := faultNames[k]; ok {
		return s
	}
	return fmt.Sprintf("fault(%d)", uint8(k))
}

// Fault is a fatal VM error. Execution stops where it happened and the
// machine state is left untouched for inspection.
type Fault struct {
	Kind  FaultKind
	Piece string
	PC    int // cell of the faulting instruction
	Line  SourceLine

	Addr   uint64 // access violations
	Size   int
	Detail string
}

func (f *Fault) Error() string {
	msg := "VM: " + f.Kind.String()
	if f.Kind == FaultAccessViolation {
		msg += fmt.Sprintf(" at 0x%x (%d bytes)", f.Addr, f.Size)
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	msg += fmt.Sprintf(" in %s at %d", f.Piece, f.PC)
	if f.Line.Number > 0 {
		msg += fmt.Sprintf(" (line %d: %s)", f.Line.Number, f.Line.Text)
	}
	return msg
}

// IsFault reports whether err is a VM fault of the given kind.
func IsFault(err error, kind FaultKind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
