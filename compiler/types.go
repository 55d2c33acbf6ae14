package compiler

import (
	"strings"

	"github.com/chazu/tin/vm"
)

// Kind is the base kind of a type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindInt
	KindFloat
	KindChar
	KindBool
	KindStruct
)

// Type is a base kind (or struct) plus a pointer depth. Types compare
// with ==.
type Type struct {
	Kind    Kind
	Struct  *Struct
	Pointer int
}

var (
	TypeInvalid = Type{}
	TypeVoid    = Type{Kind: KindVoid}
	TypeInt     = Type{Kind: KindInt}
	TypeFloat   = Type{Kind: KindFloat}
	TypeChar    = Type{Kind: KindChar}
	TypeBool    = Type{Kind: KindBool}
	TypeVoidPtr = Type{Kind: KindVoid, Pointer: 1}
	TypeCharPtr = Type{Kind: KindChar, Pointer: 1}
)

var baseTypes = map[string]Type{
	"void":  TypeVoid,
	"int":   TypeInt,
	"float": TypeFloat,
	"char":  TypeChar,
	"bool":  TypeBool,
}

// Valid reports whether t names a real type.
func (t Type) Valid() bool { return t.Kind != KindInvalid }

// IsPointer reports whether t is a pointer.
func (t Type) IsPointer() bool { return t.Pointer > 0 }

// IsStruct reports whether t is a struct value.
func (t Type) IsStruct() bool { return t.Kind == KindStruct && t.Pointer == 0 }

// IsVoid reports whether t is the void value type.
func (t Type) IsVoid() bool { return t.Kind == KindVoid && t.Pointer == 0 }

// Elem returns the type t points to.
func (t Type) Elem() Type {
	t.Pointer--
	return t
}

// PointerTo returns a pointer to t.
func (t Type) PointerTo() Type {
	t.Pointer++
	return t
}

// isIntegral reports whether t is int, char or bool.
func (t Type) isIntegral() bool {
	return t.Pointer == 0 && (t.Kind == KindInt || t.Kind == KindChar || t.Kind == KindBool)
}

// isByte reports whether values of t are one byte wide.
func (t Type) isByte() bool {
	return t.Pointer == 0 && (t.Kind == KindChar || t.Kind == KindBool)
}

func (t Type) String() string {
	var name string
	switch t.Kind {
	case KindVoid:
		name = "void"
	case KindInt:
		name = "int"
	case KindFloat:
		name = "float"
	case KindChar:
		name = "char"
	case KindBool:
		name = "bool"
	case KindStruct:
		name = t.Struct.Name
	default:
		return "<invalid>"
	}
	return name + strings.Repeat("*", t.Pointer)
}

// Size is the number of bytes a value of t occupies in memory.
func (t Type) Size() int {
	if t.Pointer > 0 {
		return 8
	}
	switch t.Kind {
	case KindInt, KindFloat:
		return 4
	case KindChar, KindBool:
		return 1
	case KindStruct:
		return t.Struct.Size
	}
	return 0
}

// Leaves is the number of operand-stack words a value of t occupies.
func (t Type) Leaves() int {
	if t.IsStruct() {
		n := 0
		for _, m := range t.Struct.Members {
			n += m.Type.Leaves()
		}
		return n
	}
	if t.IsVoid() || !t.Valid() {
		return 0
	}
	return 1
}

// assignable reports whether a value of type from may be stored into a
// location of type to. void* converts to and from any pointer.
func assignable(to, from Type) bool {
	if to == from {
		return true
	}
	if to.IsPointer() && from.IsPointer() {
		return to == TypeVoidPtr || from == TypeVoidPtr
	}
	return false
}

// Struct is a laid-out struct type.
type Struct struct {
	Name    string
	Members []Member
	Size    int
	Align   int
	Decl    *StructDecl
}

// Member is a struct member with its byte offset.
type Member struct {
	Name   string
	Type   Type
	Offset int
}

// Member returns the named member.
func (s *Struct) Member(name string) (Member, bool) {
	for _, m := range s.Members {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// alignOf is the alignment of t inside structs.
func alignOf(t Type) int {
	if t.IsStruct() {
		return t.Struct.Align
	}
	return vm.AlignOf(t.Size())
}

// typeFromName parses a native signature type name such as "char**".
func typeFromName(name string) Type {
	base := strings.TrimRight(name, "*")
	t, ok := baseTypes[base]
	if !ok {
		return TypeInvalid
	}
	t.Pointer = len(name) - len(base)
	return t
}
