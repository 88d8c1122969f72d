package sqlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexer_Tokens(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		types    []TokenType
		literals []string
	}{
		{
			name:     "select with operators",
			input:    "SELECT a + 1 >= b FROM t",
			types:    []TokenType{TOKEN_SELECT, TOKEN_IDENT, TOKEN_OPERATOR, TOKEN_NUMBER, TOKEN_OPERATOR, TOKEN_IDENT, TOKEN_FROM, TOKEN_IDENT, TOKEN_EOF},
			literals: []string{"SELECT", "a", "+", "1", ">=", "b", "FROM", "t", ""},
		},
		{
			name:     "comments are skipped",
			input:    "-- leading\nSELECT /* inline */ x",
			types:    []TokenType{TOKEN_SELECT, TOKEN_IDENT, TOKEN_EOF},
			literals: []string{"SELECT", "x", ""},
		},
		{
			name:     "string with escaped quote",
			input:    "'it''s'",
			types:    []TokenType{TOKEN_STRING, TOKEN_EOF},
			literals: []string{"it's", ""},
		},
		{
			name:     "quoted identifier",
			input:    `"Order Date"`,
			types:    []TokenType{TOKEN_IDENT, TOKEN_EOF},
			literals: []string{"Order Date", ""},
		},
		{
			name:     "macro call and cast",
			input:    "@DEF(x, 1); y::int",
			types:    []TokenType{TOKEN_IDENT, TOKEN_LPAREN, TOKEN_IDENT, TOKEN_COMMA, TOKEN_NUMBER, TOKEN_RPAREN, TOKEN_SEMICOLON, TOKEN_IDENT, TOKEN_DCOLON, TOKEN_IDENT, TOKEN_EOF},
			literals: []string{"@DEF", "(", "x", ",", "1", ")", ";", "y", "::", "int", ""},
		},
		{
			name:     "decimal and exponent",
			input:    "1.5e10",
			types:    []TokenType{TOKEN_NUMBER, TOKEN_EOF},
			literals: []string{"1.5e10", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := Tokenize(tt.input)
			require.Len(t, tokens, len(tt.types))
			for i, tok := range tokens {
				assert.Equal(t, tt.types[i], tok.Type, "token %d type", i)
				assert.Equal(t, tt.literals[i], tok.Literal, "token %d literal", i)
			}
		})
	}
}

func TestLexer_Offsets(t *testing.T) {
	input := "SELECT  ab\nFROM t"
	tokens := Tokenize(input)
	require.Len(t, tokens, 5)

	assert.Equal(t, "ab", input[tokens[1].Pos.Offset:tokens[1].End])
	assert.Equal(t, 2, tokens[2].Pos.Line)
	assert.Equal(t, `'x'`, func() string {
		in := "'x' y"
		tok := Tokenize(in)[0]
		return in[tok.Pos.Offset:tok.End]
	}())
}

func TestLexer_Unterminated(t *testing.T) {
	tokens := Tokenize("SELECT 'abc")
	require.GreaterOrEqual(t, len(tokens), 2)
	assert.Equal(t, TOKEN_ILLEGAL, tokens[1].Type)

	tokens = Tokenize(`SELECT "abc`)
	assert.Equal(t, TOKEN_ILLEGAL, tokens[1].Type)
}

func TestTokenType_IsKeyword(t *testing.T) {
	assert.True(t, TOKEN_SELECT.IsKeyword())
	assert.True(t, TOKEN_WITH.IsKeyword())
	assert.False(t, TOKEN_IDENT.IsKeyword())
	assert.Equal(t, "select", TOKEN_SELECT.String())
	assert.Equal(t, "IDENT", TOKEN_IDENT.String())
}
