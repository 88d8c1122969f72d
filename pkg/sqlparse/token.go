package sqlparse

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

//nolint:revive // TOKEN_* names are intentionally ALL_CAPS for SQL token conventions
const (
	TOKEN_EOF TokenType = iota
	TOKEN_ILLEGAL

	TOKEN_IDENT  // foo, "Foo", @macro
	TOKEN_NUMBER // 123, 45.67, 1e10
	TOKEN_STRING // 'hello'

	TOKEN_OPERATOR // + - / % || = != <> < > <= >= and friends
	TOKEN_STAR     // *
	TOKEN_DOT      // .
	TOKEN_COMMA    // ,
	TOKEN_SEMICOLON
	TOKEN_DCOLON   // ::
	TOKEN_LPAREN   // (
	TOKEN_RPAREN   // )
	TOKEN_LBRACKET // [
	TOKEN_RBRACKET // ]

	// Keywords (alphabetical)
	keywordStart
	TOKEN_ALL
	TOKEN_AND
	TOKEN_AS
	TOKEN_ASC
	TOKEN_BETWEEN
	TOKEN_BY
	TOKEN_CASE
	TOKEN_CAST
	TOKEN_CROSS
	TOKEN_DESC
	TOKEN_DISTINCT
	TOKEN_ELSE
	TOKEN_END
	TOKEN_EXCEPT
	TOKEN_FALSE
	TOKEN_FILTER
	TOKEN_FROM
	TOKEN_FULL
	TOKEN_GROUP
	TOKEN_HAVING
	TOKEN_ILIKE
	TOKEN_IN
	TOKEN_INNER
	TOKEN_INTERSECT
	TOKEN_IS
	TOKEN_JOIN
	TOKEN_LATERAL
	TOKEN_LEFT
	TOKEN_LIKE
	TOKEN_LIMIT
	TOKEN_NATURAL
	TOKEN_NOT
	TOKEN_NULL
	TOKEN_OFFSET
	TOKEN_ON
	TOKEN_OR
	TOKEN_ORDER
	TOKEN_OUTER
	TOKEN_OVER
	TOKEN_PARTITION
	TOKEN_QUALIFY
	TOKEN_RECURSIVE
	TOKEN_RIGHT
	TOKEN_SELECT
	TOKEN_THEN
	TOKEN_TRUE
	TOKEN_TRY_CAST
	TOKEN_UNION
	TOKEN_USING
	TOKEN_VALUES
	TOKEN_WHEN
	TOKEN_WHERE
	TOKEN_WINDOW
	TOKEN_WITH
	keywordEnd
)

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
	// End is the byte offset just past the token in the source
	End int
	// Quoted is set for delimited identifiers ("Foo", `Foo`)
	Quoted bool
}

// Position represents a location in the source code.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// IsKeyword reports whether the token is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t > keywordStart && t < keywordEnd
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for word, typ := range keywords {
		if typ == t {
			return word
		}
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

var tokenNames = map[TokenType]string{
	TOKEN_EOF:       "EOF",
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_IDENT:     "IDENT",
	TOKEN_NUMBER:    "NUMBER",
	TOKEN_STRING:    "STRING",
	TOKEN_OPERATOR:  "OPERATOR",
	TOKEN_STAR:      "*",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_DCOLON:    "::",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACKET:  "[",
	TOKEN_RBRACKET:  "]",
}

// keywords maps lowercase keyword strings to their token types.
var keywords = map[string]TokenType{
	"all":       TOKEN_ALL,
	"and":       TOKEN_AND,
	"as":        TOKEN_AS,
	"asc":       TOKEN_ASC,
	"between":   TOKEN_BETWEEN,
	"by":        TOKEN_BY,
	"case":      TOKEN_CASE,
	"cast":      TOKEN_CAST,
	"cross":     TOKEN_CROSS,
	"desc":      TOKEN_DESC,
	"distinct":  TOKEN_DISTINCT,
	"else":      TOKEN_ELSE,
	"end":       TOKEN_END,
	"except":    TOKEN_EXCEPT,
	"false":     TOKEN_FALSE,
	"filter":    TOKEN_FILTER,
	"from":      TOKEN_FROM,
	"full":      TOKEN_FULL,
	"group":     TOKEN_GROUP,
	"having":    TOKEN_HAVING,
	"ilike":     TOKEN_ILIKE,
	"in":        TOKEN_IN,
	"inner":     TOKEN_INNER,
	"intersect": TOKEN_INTERSECT,
	"is":        TOKEN_IS,
	"join":      TOKEN_JOIN,
	"lateral":   TOKEN_LATERAL,
	"left":      TOKEN_LEFT,
	"like":      TOKEN_LIKE,
	"limit":     TOKEN_LIMIT,
	"natural":   TOKEN_NATURAL,
	"not":       TOKEN_NOT,
	"null":      TOKEN_NULL,
	"offset":    TOKEN_OFFSET,
	"on":        TOKEN_ON,
	"or":        TOKEN_OR,
	"order":     TOKEN_ORDER,
	"outer":     TOKEN_OUTER,
	"over":      TOKEN_OVER,
	"partition": TOKEN_PARTITION,
	"qualify":   TOKEN_QUALIFY,
	"recursive": TOKEN_RECURSIVE,
	"right":     TOKEN_RIGHT,
	"select":    TOKEN_SELECT,
	"then":      TOKEN_THEN,
	"true":      TOKEN_TRUE,
	"try_cast":  TOKEN_TRY_CAST,
	"union":     TOKEN_UNION,
	"using":     TOKEN_USING,
	"values":    TOKEN_VALUES,
	"when":      TOKEN_WHEN,
	"where":     TOKEN_WHERE,
	"window":    TOKEN_WINDOW,
	"with":      TOKEN_WITH,
}

// LookupIdent returns the token type for the given lowercase identifier.
// If the identifier is a keyword, the keyword token type is returned.
// Otherwise, TOKEN_IDENT is returned.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TOKEN_IDENT
}
