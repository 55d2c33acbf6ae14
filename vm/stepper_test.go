package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestStepperCommands(t *testing.T) {
	p := buildProgram(t, testPiece{"main", []string{"li a, 2", "push a", "pop b", "ret"}})

	var out bytes.Buffer
	s := NewStepper(strings.NewReader("l\n\nhelp\n\ns\nbogus\nc\n"), &out)
	m := New(p, Config{StackSize: 4096, Output: &bytes.Buffer{}, Step: s.Step})
	res, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.A != 2 || res.Steps != 4 {
		t.Errorf("a = %d, steps = %d, want 2, 4", res.A, res.Steps)
	}

	got := out.String()
	for _, want := range []string{
		"li a, 2",
		"piece = main",
		"push a",
		"commands:",
		"pop b",
		"<- sp",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	// Stops before li, push and pop, then continues.
	if n := strings.Count(got, "> "); n != 7 {
		t.Errorf("%d prompts, want 7:\n%s", n, got)
	}
	if strings.Contains(got, "4: ret") {
		t.Errorf("stopped after continue:\n%s", got)
	}
}

func TestStepperRunsOnWhenInputEnds(t *testing.T) {
	p := buildProgram(t, testPiece{"main", []string{"li a, 7", "ret"}})

	var out bytes.Buffer
	s := NewStepper(strings.NewReader(""), &out)
	res, err := New(p, Config{Output: &bytes.Buffer{}, Step: s.Step}).Run()
	if err != nil || res.A != 7 {
		t.Fatalf("Run = %v, %v", res, err)
	}
	if n := strings.Count(out.String(), "> "); n != 1 {
		t.Errorf("%d prompts, want 1", n)
	}
}

func TestStepHookStopsMachine(t *testing.T) {
	p := buildProgram(t, testPiece{"main", []string{"li a, 7", "ret"}})

	errQuit := errors.New("quit")
	calls := 0
	res, err := New(p, Config{Output: &bytes.Buffer{}, Step: func(m *Machine) error {
		calls++
		if m.Register(RegA) == 7 {
			return errQuit
		}
		return nil
	}}).Run()
	if !errors.Is(err, errQuit) {
		t.Fatalf("err = %v, want quit", err)
	}
	if calls != 2 || res.Steps != 1 {
		t.Errorf("calls = %d, steps = %d, want 2, 1", calls, res.Steps)
	}
}
