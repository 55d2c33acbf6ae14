package compiler

import (
	"strings"
	"testing"
)

func parseOK(t *testing.T, src string) *File {
	t.Helper()
	f, diags := ParseFile("test.tin", src)
	if len(diags) > 0 {
		t.Fatalf("parse errors: %v", diags)
	}
	return f
}

func parseExpr(t *testing.T, src string) Expr {
	t.Helper()
	p := NewParser("test.tin", src)
	e := p.ParseExpression()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("parse %q: %v", src, errs)
	}
	return e
}

// exprString renders an expression fully parenthesized.
func exprString(e Expr) string {
	switch e := e.(type) {
	case *IntLiteral:
		return itoa(e.Value)
	case *Identifier:
		return e.Name
	case *BinaryExpr:
		return "(" + exprString(e.Left) + " " + e.Op.String() + " " + exprString(e.Right) + ")"
	case *UnaryExpr:
		return "(" + e.Op.String() + exprString(e.Operand) + ")"
	case *IncDecExpr:
		if e.Prefix {
			return "(" + e.Op.String() + exprString(e.Operand) + ")"
		}
		return "(" + exprString(e.Operand) + e.Op.String() + ")"
	case *AssignExpr:
		return "(" + exprString(e.Target) + " = " + exprString(e.Value) + ")"
	case *MemberExpr:
		return exprString(e.Object) + "." + e.Member
	case *IndexExpr:
		return exprString(e.Object) + "[" + exprString(e.Index) + "]"
	case *CallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = exprString(a)
		}
		return e.Name + "(" + strings.Join(args, ", ") + ")"
	case *CastExpr:
		return "cast<" + e.Type.String() + ">(" + exprString(e.Value) + ")"
	case *SizeofExpr:
		return "sizeof(" + e.Type.String() + ")"
	}
	return "?"
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte('0' + v%10)}, b...)
		v /= 10
	}
	return string(b)
}

func TestParsePrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"a < b == c > d", "((a < b) == (c > d))"},
		{"a || b && c", "(a || (b && c))"},
		{"a = b = 3", "(a = (b = 3))"},
		{"-a * b", "((-a) * b)"},
		{"!a && b", "((!a) && b)"},
		{"*p + 1", "((*p) + 1)"},
		{"&s.x", "(&s.x)"},
		{"p.next.value", "p.next.value"},
		{"a[i + 1][0]", "a[(i + 1)][0]"},
		{"i++ + ++j", "((i++) + (++j))"},
		{"f(1, g(x), y * 2)", "f(1, g(x), (y * 2))"},
		{"cast<float>(n) / 2", "(cast<float>(n) / 2)"},
		{"sizeof(Point*) * n", "(sizeof(Point*) * n)"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
	}

	for _, tc := range tests {
		got := exprString(parseExpr(t, tc.input))
		if got != tc.want {
			t.Errorf("parse(%q) = %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParseDeclarations(t *testing.T) {
	f := parseOK(t, `
struct Point { x: int, y: int }
struct Node { value: int; next: Node* }

global origin: Point;
global count: int = 3;
const LIMIT = 10;
const RATE: float = 2;

fun add(a: int, b: int): int {
    return a + b;
}

fun main() {
    p: Point;
    n: int = add(1, 2);
}
`)
	if len(f.Structs) != 2 || f.Structs[1].Name != "Node" || len(f.Structs[1].Members) != 2 {
		t.Fatalf("structs = %+v", f.Structs)
	}
	if next := f.Structs[1].Members[1]; next.Type.Name != "Node" || next.Type.Pointer != 1 {
		t.Errorf("Node.next type = %s, want Node*", next.Type)
	}
	if len(f.Globals) != 2 || f.Globals[1].Value == nil {
		t.Errorf("globals = %+v", f.Globals)
	}
	if len(f.Consts) != 2 || f.Consts[0].Type != nil || f.Consts[1].Type.Name != "float" {
		t.Errorf("consts = %+v", f.Consts)
	}
	if len(f.Funcs) != 2 {
		t.Fatalf("funcs = %d, want 2", len(f.Funcs))
	}
	add := f.Funcs[0]
	if add.Name != "add" || len(add.Params) != 2 || add.Result == nil || add.Result.Name != "int" {
		t.Errorf("add = %+v", add)
	}
	if main := f.Funcs[1]; main.Result != nil || len(main.Body.Stmts) != 2 {
		t.Errorf("main = %+v", main)
	}
	if _, ok := f.Funcs[1].Body.Stmts[0].(*VarDecl); !ok {
		t.Errorf("main stmt[0] = %T, want *VarDecl", f.Funcs[1].Body.Stmts[0])
	}
}

func TestParseStatements(t *testing.T) {
	f := parseOK(t, `
fun main(): int {
    i: int = 0;
    while i < 10 {
        if i == 3 {
            i = i + 2;
            continue;
        } else if i > 7 {
            break;
        } else {
            i++;
        }
    }
    {
        const k = 1;
    }
    return i;
}
`)
	body := f.Funcs[0].Body.Stmts
	if len(body) != 4 {
		t.Fatalf("body has %d statements, want 4", len(body))
	}
	w, ok := body[1].(*WhileStmt)
	if !ok {
		t.Fatalf("stmt[1] = %T, want *WhileStmt", body[1])
	}
	ifs := w.Body.Stmts[0].(*IfStmt)
	if _, ok := ifs.Then.Stmts[1].(*ContinueStmt); !ok {
		t.Errorf("then[1] = %T, want *ContinueStmt", ifs.Then.Stmts[1])
	}
	elif, ok := ifs.Else.(*IfStmt)
	if !ok {
		t.Fatalf("else = %T, want *IfStmt", ifs.Else)
	}
	if _, ok := elif.Then.Stmts[0].(*BreakStmt); !ok {
		t.Errorf("else-if then = %T, want *BreakStmt", elif.Then.Stmts[0])
	}
	if _, ok := elif.Else.(*Block); !ok {
		t.Errorf("final else = %T, want *Block", elif.Else)
	}
	if _, ok := body[2].(*Block); !ok {
		t.Errorf("stmt[2] = %T, want *Block", body[2])
	}
	if r, ok := body[3].(*ReturnStmt); !ok || r.Value == nil {
		t.Errorf("stmt[3] = %#v, want return i", body[3])
	}
}

func TestParseSpans(t *testing.T) {
	f := parseOK(t, "fun main() {\n    x: int = 1 + 2;\n}")
	d := f.Funcs[0].Body.Stmts[0].(*VarDecl)
	if d.Span().Start.Line != 2 || d.Span().Start.Column != 5 {
		t.Errorf("decl starts at %+v, want 2:5", d.Span().Start)
	}
	if got := f.Line(2); got != "    x: int = 1 + 2;" {
		t.Errorf("Line(2) = %q", got)
	}
	if got := f.Line(9); got != "" {
		t.Errorf("Line(9) = %q, want empty", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"missing semicolon", "fun main() { x: int = 1 }", "expected ;"},
		{"bad declaration", "42", "expected a declaration"},
		{"bad expression", "fun main() { x = ; }", "unexpected ; in expression"},
		{"unclosed block", "fun main() { x = 1;", "unexpected end of file"},
		{"big literal", "fun main() { x = 99999999999; }", "out of range"},
		{"lexer error", "fun main() { x = 1 @ 2; }", "unexpected character '@'"},
		{"bad struct member", "struct S { a: int b: int }", "expected , or }"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, diags := ParseFile("test.tin", tc.input)
			if len(diags) == 0 {
				t.Fatalf("no errors, want %q", tc.want)
			}
			found := false
			for _, d := range diags {
				if strings.Contains(d.Message, tc.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors = %v, want one containing %q", diags, tc.want)
			}
		})
	}
}

func TestParseRecoversAfterError(t *testing.T) {
	f, diags := ParseFile("test.tin", `
fun broken() { x = ; }
fun fine(): int { return 1; }
`)
	if len(diags) == 0 {
		t.Fatal("expected an error in broken")
	}
	found := false
	for _, fn := range f.Funcs {
		if fn.Name == "fine" {
			found = true
		}
	}
	if !found {
		t.Errorf("fine was not parsed after the error in broken")
	}
}
