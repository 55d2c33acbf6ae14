package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for tin source
// ---------------------------------------------------------------------------

// Lexer tokenizes tin source code.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at EOF
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.readPos = len(l.input) + 1
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

func (l *Lexer) atEOF() bool { return l.pos >= len(l.input) }

// NextToken returns the next token. At the end of input it keeps
// returning TokenEOF.
func (l *Lexer) NextToken() Token {
	if msg := l.skipWhitespaceAndComments(); msg != "" {
		return Token{Type: TokenError, Literal: msg, Pos: l.position()}
	}

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos}
	}

	switch ch := l.ch; {
	case isLetter(ch):
		ident := l.readWhile(isIdentChar)
		return Token{Type: LookupIdent(ident), Literal: ident, Pos: pos}
	case isDigit(ch):
		return l.readNumber(pos)
	case ch == '"':
		return l.readString(pos)
	case ch == '\'':
		return l.readCharLiteral(pos)
	}

	tok := Token{Pos: pos}
	two := func(next rune, double, single TokenType) {
		if l.peekChar() == next {
			l.readChar()
			tok.Type = double
		} else {
			tok.Type = single
		}
	}
	switch l.ch {
	case '+':
		two('+', TokenPlusPlus, TokenPlus)
	case '-':
		two('-', TokenMinusMinus, TokenMinus)
	case '*':
		tok.Type = TokenStar
	case '/':
		tok.Type = TokenSlash
	case '&':
		two('&', TokenAndAnd, TokenAmp)
	case '|':
		if l.peekChar() != '|' {
			l.readChar()
			return Token{Type: TokenError, Literal: "unexpected character '|'", Pos: pos}
		}
		l.readChar()
		tok.Type = TokenOrOr
	case '!':
		two('=', TokenNotEq, TokenBang)
	case '=':
		two('=', TokenEq, TokenAssign)
	case '<':
		two('=', TokenLessEq, TokenLess)
	case '>':
		two('=', TokenGreaterEq, TokenGreater)
	case '(':
		tok.Type = TokenLParen
	case ')':
		tok.Type = TokenRParen
	case '[':
		tok.Type = TokenLBracket
	case ']':
		tok.Type = TokenRBracket
	case '{':
		tok.Type = TokenLBrace
	case '}':
		tok.Type = TokenRBrace
	case ',':
		tok.Type = TokenComma
	case ':':
		tok.Type = TokenColon
	case ';':
		tok.Type = TokenSemicolon
	case '.':
		tok.Type = TokenDot
	default:
		tok.Type = TokenError
		tok.Literal = "unexpected character " + quoteRune(l.ch)
		l.readChar()
		return tok
	}
	tok.Literal = l.input[pos.Offset:l.readPos]
	l.readChar()
	return tok
}

// skipWhitespaceAndComments skips blanks, line comments and block
// comments. It returns a message for an unterminated block comment.
func (l *Lexer) skipWhitespaceAndComments() string {
	for !l.atEOF() {
		switch {
		case unicode.IsSpace(l.ch):
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for {
				if l.atEOF() {
					return "unterminated block comment"
				}
				if l.ch == '*' && l.peekChar() == '/' {
					l.readChar()
					l.readChar()
					break
				}
				l.readChar()
			}
		default:
			return ""
		}
	}
	return ""
}

func (l *Lexer) readWhile(pred func(rune) bool) string {
	start := l.pos
	for !l.atEOF() && pred(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '0' && (l.peekChar() == 'x' || l.peekChar() == 'X') {
		l.readChar()
		l.readChar()
		if l.readWhile(isHexDigit) == "" {
			return Token{Type: TokenError, Literal: "malformed hex literal", Pos: pos}
		}
		return Token{Type: TokenInteger, Literal: l.input[start:l.pos], Pos: pos}
	}

	typ := TokenInteger
	l.readWhile(isDigit)
	if l.ch == '.' && isDigit(l.peekChar()) {
		typ = TokenFloat
		l.readChar()
		l.readWhile(isDigit)
	}
	if l.ch == 'e' || l.ch == 'E' {
		next := l.peekChar()
		if isDigit(next) || next == '+' || next == '-' {
			typ = TokenFloat
			l.readChar()
			if l.ch == '+' || l.ch == '-' {
				l.readChar()
			}
			if l.readWhile(isDigit) == "" {
				return Token{Type: TokenError, Literal: "malformed exponent", Pos: pos}
			}
		}
	}
	return Token{Type: typ, Literal: l.input[start:l.pos], Pos: pos}
}

func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening quote
	var sb strings.Builder
	for {
		if l.atEOF() || l.ch == '\n' {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		}
		if l.ch == '"' {
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		}
		r, ok := l.readEscaped()
		if !ok {
			return Token{Type: TokenError, Literal: "unknown escape sequence", Pos: pos}
		}
		sb.WriteRune(r)
	}
}

func (l *Lexer) readCharLiteral(pos Position) Token {
	l.readChar() // opening quote
	if l.atEOF() || l.ch == '\'' || l.ch == '\n' {
		return Token{Type: TokenError, Literal: "empty character literal", Pos: pos}
	}
	r, ok := l.readEscaped()
	if !ok {
		return Token{Type: TokenError, Literal: "unknown escape sequence", Pos: pos}
	}
	if l.ch != '\'' {
		return Token{Type: TokenError, Literal: "unterminated character literal", Pos: pos}
	}
	l.readChar()
	if r > 0xFF {
		return Token{Type: TokenError, Literal: "character literal does not fit in a byte", Pos: pos}
	}
	return Token{Type: TokenChar, Literal: string(rune(r)), Pos: pos}
}

// readEscaped consumes one possibly escaped character.
func (l *Lexer) readEscaped() (rune, bool) {
	if l.ch != '\\' {
		r := l.ch
		l.readChar()
		return r, true
	}
	l.readChar()
	var r rune
	switch l.ch {
	case 'n':
		r = '\n'
	case 't':
		r = '\t'
	case 'r':
		r = '\r'
	case '0':
		r = 0
	case '\\', '\'', '"':
		r = l.ch
	default:
		return 0, false
	}
	l.readChar()
	return r, true
}

func isLetter(ch rune) bool    { return ch == '_' || ch < utf8.RuneSelf && unicode.IsLetter(ch) }
func isDigit(ch rune) bool     { return '0' <= ch && ch <= '9' }
func isIdentChar(ch rune) bool { return isLetter(ch) || isDigit(ch) }

func isHexDigit(ch rune) bool {
	return isDigit(ch) || 'a' <= ch && ch <= 'f' || 'A' <= ch && ch <= 'F'
}

func quoteRune(r rune) string {
	return "'" + string(r) + "'"
}

// Tokenize returns all tokens of input, ending with TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
