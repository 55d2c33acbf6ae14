package compiler

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

// ---------------------------------------------------------------------------
// Random program generation
// ---------------------------------------------------------------------------

// Range is an inclusive count range.
type Range struct {
	Min, Max int
}

// GenConfig bounds the programs GenerateSource writes. The same config
// always yields the same program.
type GenConfig struct {
	Seed       uint64
	Structs    Range
	Members    Range // per struct, at least one
	Functions  Range // besides main
	Arguments  Range // per function
	Statements Range // per function body; nested blocks get fewer
	Globals    Range
	Consts     Range
	MaxDepth   int // nesting of blocks and of expressions
}

// DefaultGenConfig returns small, quick-running programs.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Structs:    Range{0, 3},
		Members:    Range{1, 4},
		Functions:  Range{1, 6},
		Arguments:  Range{0, 4},
		Statements: Range{2, 10},
		Globals:    Range{0, 3},
		Consts:     Range{0, 2},
		MaxDepth:   3,
	}
}

// GenerateSource writes a random, well-formed tin program. Every program
// it writes compiles cleanly and terminates: loops are counted, calls only
// go to earlier functions and never from inside a loop, and there is no
// division.
func GenerateSource(cfg GenConfig) string {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 1
	}
	g := &sourceGen{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(cfg.Seed, 0x74696e)),
	}
	g.program()
	return g.out.String()
}

// genStruct is a generated struct. A member's type is int when its entry
// in types is nil, otherwise an earlier struct.
type genStruct struct {
	name    string
	members []string
	types   []*genStruct
}

type genVar struct {
	name     string
	writable bool
}

type genLocal struct {
	name string
	typ  *genStruct
}

type sourceGen struct {
	cfg    GenConfig
	rnd    *rand.Rand
	out    strings.Builder
	indent int

	structs []*genStruct
	funcs   []int // argument count of proc0..procN
	globals []string
	consts  []string

	// Per function
	fn      int // index into funcs, or -1 in main
	vars    []genVar
	locals  []genLocal
	counter int
	calls   int
	loops   int
}

// maxCalls bounds call sites per function, so runtime stays linear in the
// number of functions times a small power of two.
const maxCalls = 2

func (g *sourceGen) pick(r Range) int {
	if r.Max <= r.Min {
		return max(r.Min, 0)
	}
	return r.Min + g.rnd.IntN(r.Max-r.Min+1)
}

func (g *sourceGen) chance(n int) bool { return g.rnd.IntN(n) == 0 }

func (g *sourceGen) line(format string, args ...any) {
	g.out.WriteString(strings.Repeat("    ", g.indent))
	fmt.Fprintf(&g.out, format, args...)
	g.out.WriteByte('\n')
}

func (g *sourceGen) fresh(prefix string) string {
	name := fmt.Sprintf("%s%d", prefix, g.counter)
	g.counter++
	return name
}

func (g *sourceGen) program() {
	for i := range g.pick(g.cfg.Structs) {
		s := &genStruct{name: fmt.Sprintf("Type%d", i)}
		fields := make([]string, max(g.pick(g.cfg.Members), 1))
		for j := range fields {
			var nested *genStruct
			typ := "int"
			if len(g.structs) > 0 && g.chance(4) {
				nested = g.structs[g.rnd.IntN(len(g.structs))]
				typ = nested.name
			}
			s.members = append(s.members, fmt.Sprintf("mem%d", j))
			s.types = append(s.types, nested)
			fields[j] = fmt.Sprintf("mem%d: %s", j, typ)
		}
		g.structs = append(g.structs, s)
		g.line("struct %s { %s }", s.name, strings.Join(fields, ", "))
	}
	for i := range g.pick(g.cfg.Consts) {
		name := fmt.Sprintf("K%d", i)
		g.consts = append(g.consts, name)
		g.line("const %s = %d;", name, g.rnd.IntN(100))
	}
	for i := range g.pick(g.cfg.Globals) {
		name := fmt.Sprintf("g%d", i)
		g.globals = append(g.globals, name)
		if g.chance(2) {
			g.line("global %s: int;", name)
		} else {
			g.line("global %s: int = %d;", name, g.rnd.IntN(100))
		}
	}

	n := g.pick(g.cfg.Functions)
	for i := range n {
		g.function(i)
	}
	g.function(-1)
}

// function writes proc<i>, or main when i is negative.
func (g *sourceGen) function(i int) {
	g.fn, g.vars, g.locals, g.counter, g.calls, g.loops = i, nil, nil, 0, 0, 0
	for _, name := range g.consts {
		g.vars = append(g.vars, genVar{name: name})
	}
	for _, name := range g.globals {
		g.vars = append(g.vars, genVar{name: name, writable: true})
	}

	if i < 0 {
		g.line("fun main(): int {")
	} else {
		args := g.pick(g.cfg.Arguments)
		params := make([]string, args)
		for j := range params {
			params[j] = fmt.Sprintf("arg%d: int", j)
			g.vars = append(g.vars, genVar{name: fmt.Sprintf("arg%d", j), writable: true})
		}
		g.funcs = append(g.funcs, args)
		g.line("fun proc%d(%s): int {", i, strings.Join(params, ", "))
	}
	g.indent++
	g.statements(g.pick(g.cfg.Statements), 0)
	if i < 0 {
		// Call the last function so every program does some work.
		if n := len(g.funcs); n > 0 {
			g.calls = 0
			g.line("printi(%s);", g.call(n-1, 0))
		}
		g.line("return 0;")
	} else {
		g.line("return %s;", g.expr(0))
	}
	g.indent--
	g.line("}")
}

// statements writes n statements at block depth d. A break, continue or
// return ends the list.
func (g *sourceGen) statements(n, d int) {
	for range n {
		if g.statement(d) {
			return
		}
	}
}

func (g *sourceGen) statement(d int) (terminates bool) {
	kind := g.rnd.IntN(10)
	if kind == 2 && len(g.structs) == 0 {
		kind = 0
	}
	switch kind {
	case 0, 1:
		name := g.fresh("v")
		g.line("%s: int = %s;", name, g.expr(0))
		g.vars = append(g.vars, genVar{name: name, writable: true})
	case 2:
		s := g.structs[g.rnd.IntN(len(g.structs))]
		name := g.fresh("s")
		g.line("%s: %s;", name, s.name)
		for _, path := range s.intPaths() {
			g.line("%s%s = %s;", name, path, g.expr(1))
		}
		g.locals = append(g.locals, genLocal{name: name, typ: s})
	case 3:
		if lhs, ok := g.writable(); ok {
			g.line("%s = %s;", lhs, g.expr(0))
		}
	case 4:
		g.line("printi(%s);", g.expr(0))
	case 5:
		if d >= g.cfg.MaxDepth {
			return false
		}
		g.line("if %s {", g.condition())
		g.block(d + 1)
		if g.chance(2) {
			g.line("} else {")
			g.block(d + 1)
		}
		g.line("}")
	case 6:
		if d >= g.cfg.MaxDepth {
			return false
		}
		counter := g.fresh("w")
		g.line("%s: int = 0;", counter)
		g.line("while %s < %d {", counter, 1+g.rnd.IntN(5))
		g.indent++
		g.line("%s = %s + 1;", counter, counter)
		g.indent--
		g.vars = append(g.vars, genVar{name: counter})
		g.loops++
		g.block(d + 1)
		g.loops--
		g.line("}")
	case 7:
		if g.loops > 0 && g.chance(2) {
			if g.chance(2) {
				g.line("break;")
			} else {
				g.line("continue;")
			}
			return true
		}
	case 8:
		if d > 0 && g.chance(3) {
			g.line("return %s;", g.expr(0))
			return true
		}
	case 9:
		if e, ok := g.member(); ok {
			g.line("%s = %s;", e, g.expr(0))
		}
	}
	return false
}

// block writes a nested statement list; names declared in it go out of
// scope at its end.
func (g *sourceGen) block(d int) {
	vars, locals := len(g.vars), len(g.locals)
	g.indent++
	n := g.pick(g.cfg.Statements) >> d
	g.statements(max(n, 1), d)
	g.indent--
	g.vars, g.locals = g.vars[:vars], g.locals[:locals]
}

func (g *sourceGen) writable() (string, bool) {
	var names []string
	for _, v := range g.vars {
		if v.writable {
			names = append(names, v.name)
		}
	}
	if len(names) == 0 {
		return "", false
	}
	return names[g.rnd.IntN(len(names))], true
}

// member picks an int leaf of a struct local, such as s1.mem0.mem2.
func (g *sourceGen) member() (string, bool) {
	if len(g.locals) == 0 {
		return "", false
	}
	l := g.locals[g.rnd.IntN(len(g.locals))]
	paths := l.typ.intPaths()
	return l.name + paths[g.rnd.IntN(len(paths))], true
}

func (g *sourceGen) condition() string {
	ops := []string{"<", ">", "<=", ">=", "==", "!="}
	return fmt.Sprintf("%s %s %s", g.expr(1), ops[g.rnd.IntN(len(ops))], g.expr(1))
}

// expr writes an int expression of at most MaxDepth levels.
func (g *sourceGen) expr(depth int) string {
	if depth >= g.cfg.MaxDepth {
		return g.leaf()
	}
	switch g.rnd.IntN(6) {
	case 0, 1:
		ops := []string{"+", "-", "*"}
		return fmt.Sprintf("(%s %s %s)", g.expr(depth+1), ops[g.rnd.IntN(len(ops))], g.expr(depth+1))
	case 2:
		if callee, ok := g.callee(); ok {
			return g.call(callee, depth)
		}
	}
	return g.leaf()
}

// callee picks an earlier function when this function may still call.
func (g *sourceGen) callee() (int, bool) {
	limit := len(g.funcs)
	if g.fn >= 0 {
		limit = g.fn
	}
	if limit == 0 || g.loops > 0 || g.calls >= maxCalls {
		return 0, false
	}
	return g.rnd.IntN(limit), true
}

func (g *sourceGen) call(callee, depth int) string {
	g.calls++
	args := make([]string, g.funcs[callee])
	for i := range args {
		args[i] = g.expr(depth + 1)
	}
	return fmt.Sprintf("proc%d(%s)", callee, strings.Join(args, ", "))
}

func (g *sourceGen) leaf() string {
	switch g.rnd.IntN(5) {
	case 0, 1:
		if len(g.vars) > 0 {
			return g.vars[g.rnd.IntN(len(g.vars))].name
		}
	case 2:
		if e, ok := g.member(); ok {
			return e
		}
	case 3:
		if len(g.structs) > 0 {
			return fmt.Sprintf("sizeof(%s)", g.structs[g.rnd.IntN(len(g.structs))].name)
		}
	}
	if g.chance(4) {
		return fmt.Sprintf("-%d", g.rnd.IntN(100))
	}
	return fmt.Sprint(g.rnd.IntN(100))
}

// intPaths lists the member paths of s that end in an int, nested structs
// included. The first struct has only int members, so every struct has at
// least one path.
func (s *genStruct) intPaths() []string {
	var out []string
	for i, name := range s.members {
		if s.types[i] == nil {
			out = append(out, "."+name)
			continue
		}
		for _, p := range s.types[i].intPaths() {
			out = append(out, "."+name+p)
		}
	}
	return out
}
