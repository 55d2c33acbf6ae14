package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token types for the tin lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger    // 42, 0x1F
	TokenFloat      // 3.14, 1.5e3
	TokenString     // "hello"
	TokenChar       // 'a', '\n'
	TokenIdentifier // foo, Bar

	// Keywords
	TokenStruct
	TokenFun
	TokenGlobal
	TokenConst
	TokenIf
	TokenElse
	TokenWhile
	TokenBreak
	TokenContinue
	TokenReturn
	TokenTrue
	TokenFalse
	TokenNull
	TokenCast
	TokenSizeof

	// Operators
	TokenPlus       // +
	TokenMinus      // -
	TokenStar       // *
	TokenSlash      // /
	TokenAmp        // &
	TokenBang       // !
	TokenAssign     // =
	TokenEq         // ==
	TokenNotEq      // !=
	TokenLess       // <
	TokenGreater    // >
	TokenLessEq     // <=
	TokenGreaterEq  // >=
	TokenAndAnd     // &&
	TokenOrOr       // ||
	TokenPlusPlus   // ++
	TokenMinusMinus // --

	// Delimiters
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenLBrace    // {
	TokenRBrace    // }
	TokenComma     // ,
	TokenColon     // :
	TokenSemicolon // ;
	TokenDot       // .
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenChar:       "CHAR",
	TokenIdentifier: "IDENTIFIER",

	TokenStruct:   "struct",
	TokenFun:      "fun",
	TokenGlobal:   "global",
	TokenConst:    "const",
	TokenIf:       "if",
	TokenElse:     "else",
	TokenWhile:    "while",
	TokenBreak:    "break",
	TokenContinue: "continue",
	TokenReturn:   "return",
	TokenTrue:     "true",
	TokenFalse:    "false",
	TokenNull:     "null",
	TokenCast:     "cast",
	TokenSizeof:   "sizeof",

	TokenPlus:       "+",
	TokenMinus:      "-",
	TokenStar:       "*",
	TokenSlash:      "/",
	TokenAmp:        "&",
	TokenBang:       "!",
	TokenAssign:     "=",
	TokenEq:         "==",
	TokenNotEq:      "!=",
	TokenLess:       "<",
	TokenGreater:    ">",
	TokenLessEq:     "<=",
	TokenGreaterEq:  ">=",
	TokenAndAnd:     "&&",
	TokenOrOr:       "||",
	TokenPlusPlus:   "++",
	TokenMinusMinus: "--",

	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenLBrace:    "{",
	TokenRBrace:    "}",
	TokenComma:     ",",
	TokenColon:     ":",
	TokenSemicolon: ";",
	TokenDot:       ".",
}

// String returns the string representation of a token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

var keywords = map[string]TokenType{
	"struct":   TokenStruct,
	"fun":      TokenFun,
	"global":   TokenGlobal,
	"const":    TokenConst,
	"if":       TokenIf,
	"else":     TokenElse,
	"while":    TokenWhile,
	"break":    TokenBreak,
	"continue": TokenContinue,
	"return":   TokenReturn,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"null":     TokenNull,
	"cast":     TokenCast,
	"sizeof":   TokenSizeof,
}

// Keywords returns every reserved word in sorted order.
func Keywords() []string {
	out := make([]string, 0, len(keywords))
	for k := range keywords {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BaseTypeNames returns the built-in type names in sorted order.
func BaseTypeNames() []string {
	out := make([]string, 0, len(baseTypes))
	for k := range baseTypes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LookupIdent returns the keyword token type for ident, or TokenIdentifier.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TokenIdentifier
}

// Token is a lexical token.
type Token struct {
	Type    TokenType
	Literal string // raw text; decoded value for strings and chars
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%s(%s)", t.Type, t.Literal)
	case TokenString, TokenChar, TokenError:
		return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
	}
	return t.Type.String()
}
