package sqlparse

import (
	"strings"
	"unicode"
)

// Lexer tokenizes SQL input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	if l.pos >= len(l.input) {
		return Token{Type: TOKEN_EOF, Pos: pos, End: len(l.input)}
	}

	tok := Token{Pos: pos}
	switch ch := l.ch; {
	case ch == '*':
		tok.Type = TOKEN_STAR
		l.readChar()
	case ch == '.':
		tok.Type = TOKEN_DOT
		l.readChar()
	case ch == ',':
		tok.Type = TOKEN_COMMA
		l.readChar()
	case ch == ';':
		tok.Type = TOKEN_SEMICOLON
		l.readChar()
	case ch == '(':
		tok.Type = TOKEN_LPAREN
		l.readChar()
	case ch == ')':
		tok.Type = TOKEN_RPAREN
		l.readChar()
	case ch == '[':
		tok.Type = TOKEN_LBRACKET
		l.readChar()
	case ch == ']':
		tok.Type = TOKEN_RBRACKET
		l.readChar()
	case ch == ':' && l.peekChar() == ':':
		tok.Type = TOKEN_DCOLON
		l.readChar()
		l.readChar()
	case ch == '\'':
		lit, ok := l.readDelimited('\'')
		tok.Type, tok.Literal = TOKEN_STRING, lit
		if !ok {
			tok.Type = TOKEN_ILLEGAL
			tok.Literal = "unterminated string literal"
		}
		tok.End = l.pos
		return tok
	case ch == '"' || ch == '`':
		lit, ok := l.readDelimited(ch)
		tok.Type, tok.Literal, tok.Quoted = TOKEN_IDENT, lit, true
		if !ok {
			tok.Type = TOKEN_ILLEGAL
			tok.Literal = "unterminated quoted identifier"
		}
		tok.End = l.pos
		return tok
	case ch == '@' && (isLetter(l.peekChar()) || l.peekChar() == '_'):
		start := l.pos
		l.readChar()
		l.readIdentifier()
		tok.Type, tok.Literal = TOKEN_IDENT, l.input[start:l.pos]
	case isLetter(ch) || ch == '_':
		tok.Literal = l.readIdentifier()
		tok.Type = LookupIdent(strings.ToLower(tok.Literal))
	case isDigit(ch):
		tok.Type, tok.Literal = TOKEN_NUMBER, l.readNumber()
	default:
		tok.Type, tok.Literal = TOKEN_OPERATOR, l.readOperator()
	}

	if tok.Literal == "" {
		tok.Literal = l.input[pos.Offset:l.pos]
	}
	tok.End = l.pos
	return tok
}

// skipWhitespaceAndComments skips whitespace and comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}

		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for l.ch != 0 && (l.ch != '*' || l.peekChar() != '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
			continue
		}

		break
	}
}

// readDelimited reads a literal enclosed by quote, treating a doubled quote as
// an escaped quote. It reports false when the input ends first.
func (l *Lexer) readDelimited(quote byte) (string, bool) {
	l.readChar() // skip opening quote

	var result strings.Builder
	for {
		if l.ch == 0 && l.pos >= len(l.input) {
			return result.String(), false
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteByte(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String(), true
		}
		result.WriteByte(l.ch)
		l.readChar()
	}
}

// readIdentifier reads an unquoted identifier.
func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads a numeric literal (integer, decimal, or scientific).
func (l *Lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return l.input[start:l.pos]
}

// readOperator reads a run of operator characters as one token.
func (l *Lexer) readOperator() string {
	start := l.pos
	if !isOperatorChar(l.ch) {
		l.readChar()
		return l.input[start:l.pos]
	}
	for isOperatorChar(l.ch) {
		if l.ch == '-' && l.peekChar() == '-' {
			break
		}
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isOperatorChar(ch byte) bool {
	return strings.IndexByte("+-/%=<>!|&^~:?#", ch) >= 0
}

// isLetter returns true if ch is a letter or a UTF-8 continuation byte.
func isLetter(ch byte) bool {
	return ch >= 0x80 || unicode.IsLetter(rune(ch))
}

// isDigit returns true if ch is a digit.
func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens from the input, ending with TOKEN_EOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TOKEN_EOF {
			break
		}
	}
	return tokens
}
