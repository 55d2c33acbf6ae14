package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/tin/compiler"
	"github.com/chazu/tin/vm"
)

// SymbolKind classifies a completion or lookup result.
type SymbolKind uint8

const (
	SymbolKeyword SymbolKind = iota
	SymbolType
	SymbolNative
	SymbolFunction
	SymbolStruct
	SymbolGlobal
	SymbolConst
)

// Symbol is a name the editor can complete or look up. Declarations carry
// the document and span they come from; built-ins have an empty URI.
type Symbol struct {
	Name   string
	Kind   SymbolKind
	URI    string
	Span   compiler.Span
	Detail string
}

// Reference is one occurrence of an identifier.
type Reference struct {
	URI    string
	Line   int // 1-based
	Column int // 1-based
	Length int
}

// Workspace holds the open documents as they were last analysed together.
// It is not safe for concurrent use; the server reaches it through a Worker.
type Workspace struct {
	opts compiler.Options
	log  commonlog.Logger

	uris  []string                  // sorted
	files map[string]*compiler.File // by URI, kept even when parsing failed
	unit  *compiler.Unit            // nil when analysis stopped at syntax errors
}

// NewWorkspace creates an empty workspace.
func NewWorkspace(opts compiler.Options) *Workspace {
	return &Workspace{
		opts:  opts,
		log:   commonlog.GetLogger("tin.server"),
		files: make(map[string]*compiler.File),
	}
}

// Analyze builds every document together and returns the diagnostics of
// each. Every document has an entry, empty when it is clean, so stale
// diagnostics get cleared.
func (w *Workspace) Analyze(ctx context.Context, docs map[string]string) map[string][]compiler.Diagnostic {
	uris := make([]string, 0, len(docs))
	for uri := range docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	result := make(map[string][]compiler.Diagnostic, len(uris))
	sources := make([]compiler.Source, len(uris))
	for i, uri := range uris {
		sources[i] = compiler.Source{Name: uri, Text: docs[uri]}
		result[uri] = nil
	}

	out, err := compiler.Build(ctx, sources, w.opts)
	if out == nil {
		w.log.Warningf("analysis: %v", err)
		return result
	}
	if err != nil && !errors.Is(err, compiler.ErrBuildFailed) {
		w.log.Warningf("analysis: %v", err)
	}

	w.uris = uris
	w.files = make(map[string]*compiler.File, len(uris))
	for i, f := range out.Files {
		if f != nil {
			w.files[uris[i]] = f
		}
	}
	w.unit = out.Unit

	for _, d := range out.Diagnostics {
		result[d.File] = append(result[d.File], d)
	}
	w.log.Debugf("analysed %d documents: %d diagnostics", len(uris), len(out.Diagnostics))
	return result
}

// Declarations returns the top-level declarations of every document, in
// document and then source order.
func (w *Workspace) Declarations() []Symbol {
	var out []Symbol
	for _, uri := range w.uris {
		f := w.files[uri]
		if f == nil {
			continue
		}
		for _, d := range f.Structs {
			out = append(out, Symbol{Name: d.Name, Kind: SymbolStruct, URI: uri, Span: d.Span(), Detail: "struct " + d.Name})
		}
		for _, d := range f.Funcs {
			out = append(out, Symbol{Name: d.Name, Kind: SymbolFunction, URI: uri, Span: d.Span(), Detail: funcSignature(d)})
		}
		for _, d := range f.Globals {
			out = append(out, Symbol{Name: d.Name, Kind: SymbolGlobal, URI: uri, Span: d.Span(), Detail: fmt.Sprintf("global %s: %s", d.Name, d.Type)})
		}
		for _, d := range f.Consts {
			out = append(out, Symbol{Name: d.Name, Kind: SymbolConst, URI: uri, Span: d.Span(), Detail: constSignature(f, d)})
		}
	}
	return out
}

// builtins lists keywords, base types and natives.
func builtins() []Symbol {
	var out []Symbol
	for _, k := range compiler.Keywords() {
		out = append(out, Symbol{Name: k, Kind: SymbolKeyword, Detail: "keyword"})
	}
	for _, t := range compiler.BaseTypeNames() {
		out = append(out, Symbol{Name: t, Kind: SymbolType, Detail: "type"})
	}
	for _, n := range vm.Natives {
		out = append(out, Symbol{Name: n.Name, Kind: SymbolNative, Detail: nativeSignature(n)})
	}
	return out
}

// Complete returns the symbols whose names start with prefix, ignoring
// case. Declarations come before built-ins.
func (w *Workspace) Complete(prefix string, limit int) []Symbol {
	lower := strings.ToLower(prefix)
	seen := make(map[string]bool)
	var out []Symbol
	for _, s := range append(w.Declarations(), builtins()...) {
		if seen[s.Name] || !strings.HasPrefix(strings.ToLower(s.Name), lower) {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Lookup finds the declaration or built-in with the given name.
func (w *Workspace) Lookup(name string) (Symbol, bool) {
	for _, s := range w.Declarations() {
		if s.Name == name {
			return s, true
		}
	}
	for _, s := range builtins() {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// Describe renders a markdown description of name: its signature plus the
// layout facts the last successful check computed.
func (w *Workspace) Describe(name string) string {
	s, ok := w.Lookup(name)
	if !ok || s.Kind == SymbolKeyword {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "```tin\n%s\n```\n", s.Detail)
	switch s.Kind {
	case SymbolType:
		fmt.Fprintf(&b, "\n%d bytes", baseType(name).Size())
	case SymbolNative:
		n := vm.NativeByName(name)
		_, block, ret := n.Layout()
		fmt.Fprintf(&b, "\nnative call %d, argument block %d bytes, return slot %d bytes", n.ID, block, ret)
	case SymbolFunction:
		if w.unit != nil {
			if fn := w.unit.Funcs[name]; fn != nil {
				fmt.Fprintf(&b, "\nargument block %d bytes", fn.ArgBlock)
				for _, p := range fn.Params {
					fmt.Fprintf(&b, "\n- `%s` at offset %d", p.Name, p.Offset)
				}
			}
		}
	case SymbolStruct:
		if w.unit != nil {
			if st := w.unit.Structs[name]; st != nil && st.Align > 0 {
				fmt.Fprintf(&b, "\nsize %d, align %d", st.Size, st.Align)
				for _, m := range st.Members {
					fmt.Fprintf(&b, "\n- `%s: %s` at offset %d", m.Name, m.Type, m.Offset)
				}
			}
		}
	case SymbolGlobal:
		if w.unit != nil {
			if g := w.unit.Globals[name]; g != nil {
				fmt.Fprintf(&b, "\ndata offset %d, %d bytes", g.Offset, g.Type.Size())
			}
		}
	}
	return b.String()
}

// References finds every identifier token spelling name, in document
// order.
func (w *Workspace) References(name string) []Reference {
	var out []Reference
	for _, uri := range w.uris {
		f := w.files[uri]
		if f == nil {
			continue
		}
		for _, tok := range compiler.Tokenize(f.Source) {
			if tok.Type == compiler.TokenIdentifier && tok.Literal == name {
				out = append(out, Reference{URI: uri, Line: tok.Pos.Line, Column: tok.Pos.Column, Length: len(name)})
			}
		}
	}
	return out
}

func funcSignature(d *compiler.FuncDecl) string {
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = fmt.Sprintf("%s: %s", p.Name, p.Type)
	}
	sig := fmt.Sprintf("fun %s(%s)", d.Name, strings.Join(params, ", "))
	if d.Result != nil {
		sig += ": " + d.Result.String()
	}
	return sig
}

func nativeSignature(n *vm.Native) string {
	sig := fmt.Sprintf("fun %s(%s)", n.Name, strings.Join(n.Params, ", "))
	if n.Result != "void" {
		sig += ": " + n.Result
	}
	return sig
}

func constSignature(f *compiler.File, d *compiler.ConstDecl) string {
	sig := "const " + d.Name
	if d.Type != nil {
		sig += ": " + d.Type.String()
	}
	sp := d.Value.Span()
	if sp.Start.Offset >= 0 && sp.End.Offset <= len(f.Source) && sp.Start.Offset < sp.End.Offset {
		sig += " = " + f.Source[sp.Start.Offset:sp.End.Offset]
	}
	return sig
}

func baseType(name string) compiler.Type {
	switch name {
	case "int":
		return compiler.TypeInt
	case "float":
		return compiler.TypeFloat
	case "char":
		return compiler.TypeChar
	case "bool":
		return compiler.TypeBool
	}
	return compiler.TypeVoid
}
