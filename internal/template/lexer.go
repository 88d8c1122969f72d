package template

import (
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of token.
type TokenType int

// Token types.
const (
	TokenText    TokenType = iota // Literal SQL text
	TokenExpr                     // {{ expr }} content
	TokenStmt                     // {* stmt *} content
	TokenComment                  // {# comment #} content
	TokenEOF
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenStmt:
		return "STMT"
	case TokenComment:
		return "COMMENT"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token. Offset and End are byte offsets of the
// token in the input, delimiters included.
type Token struct {
	Type   TokenType
	Value  string
	Pos    Position
	Offset int
	End    int
}

type delimiter struct {
	open, close string
	typ         TokenType
	nests       bool
}

var delimiters = []delimiter{
	{"{{", "}}", TokenExpr, true},
	{"{*", "*}", TokenStmt, false},
	{"{#", "#}", TokenComment, false},
}

// Lexer tokenizes a template string.
type Lexer struct {
	input string
	file  string
	pos   int
	line  int
	col   int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input, file string) *Lexer {
	return &Lexer{input: input, file: file, line: 1, col: 1}
}

// Tokenize converts the input into a slice of tokens ending with TokenEOF.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for l.pos < len(l.input) {
		var (
			tok Token
			err error
		)
		if d, ok := l.delimiterAt(); ok {
			tok, err = l.scanDelimited(d)
		} else {
			tok = l.scanText()
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return append(tokens, Token{Type: TokenEOF, Pos: l.position(), Offset: l.pos, End: l.pos}), nil
}

func (l *Lexer) delimiterAt() (delimiter, bool) {
	for _, d := range delimiters {
		if strings.HasPrefix(l.input[l.pos:], d.open) {
			return d, true
		}
	}
	return delimiter{}, false
}

func (l *Lexer) scanText() Token {
	start, pos := l.pos, l.position()
	for l.pos < len(l.input) {
		if _, ok := l.delimiterAt(); ok {
			break
		}
		l.advance()
	}
	return Token{Type: TokenText, Value: l.input[start:l.pos], Pos: pos, Offset: start, End: l.pos}
}

// scanDelimited scans a delimited token. Inside {{ }} braces nest so dict
// literals can be written inline.
func (l *Lexer) scanDelimited(d delimiter) (Token, error) {
	start, pos := l.pos, l.position()
	l.advanceN(len(d.open))
	bodyStart := l.pos

	depth := 0
	for l.pos < len(l.input) {
		if depth == 0 && strings.HasPrefix(l.input[l.pos:], d.close) {
			body := strings.TrimSpace(l.input[bodyStart:l.pos])
			l.advanceN(len(d.close))
			return Token{Type: d.typ, Value: body, Pos: pos, Offset: start, End: l.pos}, nil
		}
		if d.nests {
			switch l.input[l.pos] {
			case '{':
				depth++
			case '}':
				if depth > 0 {
					depth--
				}
			}
		}
		l.advance()
	}

	switch d.typ {
	case TokenExpr:
		return Token{}, NewLexError(pos, "unclosed expression: missing '}}'")
	case TokenStmt:
		return Token{}, NewLexError(pos, "unclosed statement: missing '*}'")
	default:
		return Token{}, NewLexError(pos, "unclosed comment: missing '#}'")
	}
}

func (l *Lexer) advance() {
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *Lexer) advanceN(n int) {
	for i := 0; i < n && l.pos < len(l.input); i++ {
		l.advance()
	}
}

func (l *Lexer) position() Position {
	return Position{File: l.file, Line: l.line, Column: l.col}
}
