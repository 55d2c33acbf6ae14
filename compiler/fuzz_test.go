package compiler

import (
	"context"
	"io"
	"testing"

	"github.com/chazu/tin/vm"
)

// ---------------------------------------------------------------------------
// FuzzLexer: ensure the lexer never panics on arbitrary input.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	seeds := []string{
		// Delimiters and operators
		`( ) [ ] { } , : ; .`,
		`+ - * / & ! = == != < > <= >= && || ++ --`,
		// Numbers
		`42`, `0`, `0x1F`, `3.14`, `1e10`, `1.5e-3`, `0x`, `1e+`,
		// Strings and chars
		`"hello"`, `""`, `"a\n\t\\"`, `"open`, `'a'`, `'\0'`, `''`, `'ab'`,
		// Comments
		"// line\nx", `/* block */ y`, `/* open`,
		// Keywords
		`struct fun global const if else while break continue return true false null cast sizeof`,
		// Declarations
		`struct Point { x: int, y: int }`,
		`fun main(): int { return 2 + 3 * 4; }`,
		`global g: char* = "hi";`,
		// Odd bytes
		"\x00\xff", "@#$", "|", "a|b",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		toks := Tokenize(input)
		if len(toks) == 0 || toks[len(toks)-1].Type != TokenEOF {
			t.Fatalf("Tokenize(%q) did not end with EOF", input)
		}
		if len(toks) > len(input)+1 {
			t.Fatalf("Tokenize(%q) produced %d tokens for %d bytes", input, len(toks), len(input))
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzBuild: parsing, checking and generation never panic, and whatever
// builds runs without escaping its sandbox.
// ---------------------------------------------------------------------------

func FuzzBuild(f *testing.F) {
	seeds := []string{
		`fun main(): int { return 2 + 3 * 4; }`,
		`fun f(x: int): int { return x; } fun main(): int { return f(7); }`,
		`struct P { a: char, b: int } fun main(): int { p: P; p.b = 3; return p.b; }`,
		`fun main() { p: int* = malloc(4); p[100] = 1; }`,
		`fun main(): int { i: int = 0; while i < 5 { i++; if i == 3 { break; } } return i; }`,
		`fun main() { x = 1; }`,
		`fun main( {`,
		`global g: int = 1; const K = 2; fun main(): int { return g + K; }`,
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, input string) {
		out, err := Build(context.Background(), []Source{{Name: "fuzz.tin", Text: input}}, Options{Workers: 2})
		if err != nil {
			return
		}
		m := vm.New(out.Program, vm.Config{StackSize: 4096, MaxSteps: 10000, NoFiles: true, Output: io.Discard})
		_, _ = m.Run()
	})
}

