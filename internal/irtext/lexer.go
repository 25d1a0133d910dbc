// Package irtext reads the textual IR format (.sir files) into ir units. The
// format is line-oriented: top-level `type` and `fn` directives, one
// instruction per line inside a function, `;` comments, and `%N`/`$N`/`@N`
// operand references.
package irtext

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

const (
	IDENT    = "IDENT"    // mnemonics, type names, symbols, `_`
	INT      = "INT"      // integer literal, decimal or 0x hex, optional sign
	STRING   = "STRING"   // quoted string, escapes already decoded
	REGISTER = "REGISTER" // %N
	CONSTREF = "CONSTREF" // $N
	LABELREF = "LABELREF" // @N
	EQUALS   = "EQUALS"   // =
	COLON    = "COLON"    // :
	NEWLINE  = "NEWLINE"
	EOF      = "EOF"
	ILLEGAL  = "ILLEGAL"
)

// Token is a single lexeme with its position in the source.
type Token struct {
	Type   string
	Value  string
	Line   int
	Column int
}

// LexError describes a character-level problem found while scanning.
type LexError struct {
	Message string
	Lexeme  string
	Line    int
	Column  int
}

func (e LexError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// ---------------------------------------------------------------------------
// Lexer
// ---------------------------------------------------------------------------

type lexer struct {
	input  string
	pos    int
	line   int
	column int
	tokens []Token
	errors []LexError
}

// Lex scans the whole input and returns its tokens plus any lexical errors.
// The token slice always ends with EOF; scanning continues past errors so a
// single pass reports everything it can.
func Lex(input string) ([]Token, []LexError) {
	l := &lexer{input: input, line: 1, column: 1}

	for !l.atEnd() {
		startLine, startCol := l.line, l.column
		c := l.advance()

		switch {
		case c == ' ' || c == '\t' || c == '\r':
			// skip
		case c == '\n':
			l.add(NEWLINE, "", startLine, startCol)
		case c == ';':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		case c == '=':
			l.add(EQUALS, "=", startLine, startCol)
		case c == ':':
			l.add(COLON, ":", startLine, startCol)
		case c == '%':
			l.scanIndexed(REGISTER, "register", startLine, startCol)
		case c == '$':
			l.scanIndexed(CONSTREF, "constant", startLine, startCol)
		case c == '@':
			l.scanIndexed(LABELREF, "label", startLine, startCol)
		case c == '"':
			l.scanString(startLine, startCol)
		case c == '-' && isDigit(l.peek()):
			l.scanNumber("-", startLine, startCol)
		case isDigit(c):
			l.scanNumber(string(c), startLine, startCol)
		case isIdentStart(c):
			l.scanIdent(string(c), startLine, startCol)
		default:
			l.errorf(startLine, startCol, string(c), "unexpected character %q", c)
			l.add(ILLEGAL, string(c), startLine, startCol)
		}
	}

	l.add(EOF, "", l.line, l.column)
	return l.tokens, l.errors
}

func (l *lexer) atEnd() bool {
	return l.pos >= len(l.input)
}

func (l *lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.input[l.pos]
}

func (l *lexer) advance() byte {
	c := l.input[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return c
}

func (l *lexer) add(typ, value string, line, col int) {
	l.tokens = append(l.tokens, Token{Type: typ, Value: value, Line: line, Column: col})
}

func (l *lexer) errorf(line, col int, lexeme, format string, args ...interface{}) {
	l.errors = append(l.errors, LexError{
		Message: fmt.Sprintf(format, args...),
		Lexeme:  lexeme,
		Line:    line,
		Column:  col,
	})
}

// scanIndexed reads the digits after a %, $ or @ sigil. The token value is
// the digits only.
func (l *lexer) scanIndexed(typ, what string, line, col int) {
	if !isDigit(l.peek()) {
		l.errorf(line, col, typ, "expected digits after %s sigil", what)
		l.add(ILLEGAL, "", line, col)
		return
	}
	var digits strings.Builder
	for isDigit(l.peek()) {
		digits.WriteByte(l.advance())
	}
	l.add(typ, digits.String(), line, col)
}

// scanNumber reads a decimal or 0x-prefixed integer literal. The raw text is
// kept as the token value.
func (l *lexer) scanNumber(prefix string, line, col int) {
	var text strings.Builder
	text.WriteString(prefix)

	if prefix[len(prefix)-1] == '0' && (l.peek() == 'x' || l.peek() == 'X') {
		text.WriteByte(l.advance())
		for isHexDigit(l.peek()) {
			text.WriteByte(l.advance())
		}
	} else {
		for isDigit(l.peek()) {
			text.WriteByte(l.advance())
		}
		if l.peek() == 'x' || l.peek() == 'X' {
			// Negative hex arrives here as "-0" with the marker pending.
			if text.String() == "0" || text.String() == "-0" {
				text.WriteByte(l.advance())
				for isHexDigit(l.peek()) {
					text.WriteByte(l.advance())
				}
			}
		}
	}

	l.add(INT, text.String(), line, col)
}

// scanString reads a double-quoted string, decoding escape sequences into the
// token value.
func (l *lexer) scanString(line, col int) {
	var value strings.Builder

	for {
		if l.atEnd() {
			l.errorf(line, col, "\"", "unterminated string literal")
			l.add(ILLEGAL, value.String(), line, col)
			return
		}
		c := l.peek()
		if c == '\n' {
			l.errorf(line, col, "\"", "newline in string literal")
			l.add(ILLEGAL, value.String(), line, col)
			return
		}
		l.advance()
		if c == '"' {
			break
		}
		if c != '\\' {
			value.WriteByte(c)
			continue
		}

		// Escape sequence.
		if l.atEnd() {
			l.errorf(line, col, "\\", "unterminated string literal")
			l.add(ILLEGAL, value.String(), line, col)
			return
		}
		esc := l.advance()
		switch esc {
		case 'n':
			value.WriteByte('\n')
		case 'r':
			value.WriteByte('\r')
		case 't':
			value.WriteByte('\t')
		case '\\':
			value.WriteByte('\\')
		case '"':
			value.WriteByte('"')
		case '0':
			value.WriteByte(0)
		case 'x':
			hi, okHi := hexValue(l.peek())
			if okHi {
				l.advance()
			}
			lo, okLo := hexValue(l.peek())
			if okLo {
				l.advance()
			}
			if !okHi || !okLo {
				l.errorf(l.line, l.column, "\\x", "invalid escape sequence: \\x needs two hex digits")
				continue
			}
			value.WriteByte(byte(hi<<4 | lo))
		default:
			l.errorf(l.line, l.column, "\\"+string(esc), "invalid escape sequence \\%c", esc)
		}
	}

	l.add(STRING, value.String(), line, col)
}

// scanIdent reads an identifier: mnemonics, type names and link symbols.
// Dots are allowed so mangled or platform-decorated symbols pass through.
func (l *lexer) scanIdent(prefix string, line, col int) {
	var text strings.Builder
	text.WriteString(prefix)
	for isIdentChar(l.peek()) {
		text.WriteByte(l.advance())
	}
	l.add(IDENT, text.String(), line, col)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	}
	return 0, false
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c) || c == '.'
}
