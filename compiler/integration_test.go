package compiler

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/chazu/tin/vm"
)

// Integration tests: build tin programs and run them on the VM

func buildSource(t *testing.T, src string) *Output {
	t.Helper()
	out, err := Build(context.Background(), []Source{{Name: "test.tin", Text: src}}, Options{Workers: 4})
	if err != nil {
		if out != nil {
			for _, d := range out.Diagnostics {
				t.Log(d)
			}
		}
		t.Fatalf("build: %v", err)
	}
	return out
}

func runSource(t *testing.T, src string) (*vm.Machine, *vm.Result, string) {
	t.Helper()
	out := buildSource(t, src)
	var buf bytes.Buffer
	m := vm.New(out.Program, vm.Config{StackSize: 1 << 16, Output: &buf, NoFiles: true, MaxSteps: 1_000_000})
	res, err := m.Run()
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out.Program.Disassemble())
	}
	return m, res, buf.String()
}

func TestIntegrationPrograms(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		want    int64
		wantOut string
	}{
		{
			name: "arithmetic",
			src:  `fun main(): int { return 2 + 3 * 4; }`,
			want: 14,
		},
		{
			name: "call",
			src: `
fun f(x: int): int { return x; }
fun main(): int { return f(7); }`,
			want: 7,
		},
		{
			name: "fibonacci",
			src: `
fun fib(n: int): int {
    if n < 2 { return n; }
    return fib(n - 1) + fib(n - 2);
}
fun main(): int { return fib(10); }`,
			want: 55,
		},
		{
			name: "loop with break and continue",
			src: `
fun main(): int {
    i: int = 0;
    sum: int = 0;
    while true {
        step: int = 1;
        i = i + step;
        if i > 7 { break; }
        if i / 2 * 2 == i { continue; }
        sum = sum + i;
    }
    return sum;
}`,
			want: 16,
		},
		{
			name: "structs",
			src: `
struct Point { x: int, y: int }
fun make(x: int, y: int): Point {
    p: Point;
    p.x = x;
    p.y = y;
    return p;
}
fun main(): int {
    p: Point = make(3, 4);
    q: Point* = &p;
    q.y = q.y * 10;
    return p.x + p.y + make(1, 2).y;
}`,
			want: 45,
		},
		{
			name: "nested struct copy",
			src: `
struct Inner { tag: char, value: int }
struct Outer { id: int, in: Inner }
fun main(): int {
    o: Outer;
    o.id = 1;
    o.in.tag = 'x';
    o.in.value = 20;
    copy: Outer = o;
    o.in.value = 99;
    inner: Inner = copy.in;
    if inner.tag == 'x' { return copy.id + inner.value; }
    return 0;
}`,
			want: 21,
		},
		{
			name: "globals and strings",
			src: `
global counter: int = 5;
global greeting: char* = "hi";
fun bump() { counter = counter + 1; }
fun main(): int {
    bump();
    bump();
    prints(greeting);
    printc('!');
    printi(counter);
    return counter;
}`,
			want:    7,
			wantOut: "hi!7",
		},
		{
			name: "floats",
			src: `
fun main(): int {
    f: float = 1.5;
    g: float = f * 2 + sqrt(16.0) + pow(2, 3);
    printf(g);
    return cast<int>(g);
}`,
			want:    15,
			wantOut: "15.000000",
		},
		{
			name: "heap array",
			src: `
fun main(): int {
    n: int = 5;
    a: int* = malloc(n * sizeof(int));
    i: int = 0;
    while i < n {
        a[i] = i * i;
        i++;
    }
    total: int = 0;
    i = 0;
    while i < n {
        total = total + a[i];
        ++i;
    }
    mfree(a);
    return total;
}`,
			want: 30,
		},
		{
			name: "string length",
			src: `
fun length(s: char*): int {
    n: int = 0;
    while s[n] != '\0' { n++; }
    return n;
}
fun main(): int { return length("hello"); }`,
			want: 5,
		},
		{
			name: "negation",
			src: `
fun neg(x: int): int { return -x; }
fun main(): int { return neg(5) + -3; }`,
			want: -8,
		},
		{
			name: "logic",
			src:  `fun main(): int { return cast<int>(1 < 2 && !(3 < 2)) + cast<int>(false || 0 > 1); }`,
			want: 1,
		},
		{
			name: "constants",
			src: `
const LIMIT = 3;
fun main(): int {
    const two: int = 2;
    return LIMIT * two;
}`,
			want: 6,
		},
		{
			name: "else if chain",
			src: `
fun classify(x: int): int {
    if x < 0 { return -1; } else if x == 0 { return 0; } else { return 1; }
}
fun main(): int { return classify(-4) * 100 + classify(0) * 10 + classify(9); }`,
			want: -99,
		},
		{
			name: "pointer arithmetic",
			src: `
fun main(): int {
    p: int* = malloc(8);
    *p = 1;
    *(p + 1) = 2;
    r: int = *p + p[1];
    mfree(p);
    return r;
}`,
			want: 3,
		},
		{
			name: "out parameter and early return",
			src: `
fun clamp(x: int*) {
    if *x < 10 { return; }
    *x = 10;
}
fun main(): int {
    a: int = 4;
    b: int = 40;
    clamp(&a);
    clamp(&b);
    return a * 100 + b;
}`,
			want: 410,
		},
		{
			name: "char arithmetic",
			src: `
fun main(): int {
    c: char = 'a';
    c = c + cast<char>(2);
    printc(c);
    c++;
    printc(c);
    return cast<int>(c);
}`,
			want:    100,
			wantOut: "cd",
		},
		{
			name: "main without result",
			src: `
fun main() {
    i: int = 3;
    while i > 0 {
        printi(i);
        i--;
    }
}`,
			wantOut: "321",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, res, out := runSource(t, tc.src)
			if tc.name != "main without result" && res.A != tc.want {
				t.Errorf("A = %d, want %d", res.A, tc.want)
			}
			if out != tc.wantOut {
				t.Errorf("output = %q, want %q", out, tc.wantOut)
			}
			if len(res.Leaks) != 0 {
				t.Errorf("leaks = %v, want none", res.Leaks)
			}
			if sp, top := uint64(m.Register(vm.RegSP)), m.Memory().StackTop(); sp != top {
				t.Errorf("SP = 0x%x at exit, want stack top 0x%x", sp, top)
			}
		})
	}
}

func TestIntegrationLeak(t *testing.T) {
	_, res, _ := runSource(t, `
fun main() {
    p: char* = malloc(24);
    q: char* = malloc(8);
    mfree(q);
}`)
	if len(res.Leaks) != 1 {
		t.Fatalf("leaks = %v, want exactly one", res.Leaks)
	}
	if res.Leaks[0].Size != 24 {
		t.Errorf("leak size = %d, want 24", res.Leaks[0].Size)
	}
}

func TestIntegrationAccessViolation(t *testing.T) {
	out := buildSource(t, `
global canary: int = 1234;
fun main(): int {
    p: int* = malloc(4);
    p[4] = 77;
    return canary;
}`)
	m := vm.New(out.Program, vm.Config{StackSize: 4096, Output: &bytes.Buffer{}})
	_, err := m.Run()

	var f *vm.Fault
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want a *vm.Fault", err)
	}
	if f.Kind != vm.FaultAccessViolation {
		t.Errorf("fault = %v, want access violation", f.Kind)
	}
	if f.Line.Number != 5 {
		t.Errorf("fault line = %d (%q), want 5", f.Line.Number, f.Line.Text)
	}
	canary, ok := m.Memory().Read(vm.DataBase, 4)
	if !ok {
		t.Fatal("data segment is not readable")
	}
	if got := binary.LittleEndian.Uint32(canary); got != 1234 {
		t.Errorf("canary = %d after the fault, want 1234", got)
	}
}

func TestIntegrationDivideByZero(t *testing.T) {
	out := buildSource(t, `
fun div(a: int, b: int): int { return a / b; }
fun main(): int { return div(1, 0); }`)
	_, err := vm.New(out.Program, vm.Config{Output: &bytes.Buffer{}}).Run()
	if !vm.IsFault(err, vm.FaultDivideByZero) {
		t.Errorf("err = %v, want division by zero", err)
	}
}

func TestIntegrationStackOverflow(t *testing.T) {
	out := buildSource(t, `
fun down(n: int): int { return down(n + 1); }
fun main(): int { return down(0); }`)
	_, err := vm.New(out.Program, vm.Config{StackSize: 4096, Output: &bytes.Buffer{}}).Run()
	if !vm.IsFault(err, vm.FaultStackOverflow) {
		t.Errorf("err = %v, want stack overflow", err)
	}
}

func TestIntegrationMultipleFiles(t *testing.T) {
	out, err := Build(context.Background(), []Source{
		{Name: "lib.tin", Text: "struct Pair { a: int, b: int }\nfun sum(p: Pair*): int { return p.a + p.b; }"},
		{Name: "main.tin", Text: "fun main(): int { p: Pair; p.a = 20; p.b = 22; return sum(&p); }"},
	}, Options{Workers: 2})
	if err != nil {
		t.Fatalf("build: %v %v", err, out.Diagnostics)
	}
	res, err := vm.New(out.Program, vm.Config{Output: &bytes.Buffer{}}).Run()
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.A != 42 {
		t.Errorf("A = %d, want 42", res.A)
	}
}
