package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ModelTemplates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, nodes []Node)
	}{
		{
			name:  "plain query",
			input: "SELECT id FROM raw.orders",
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, "SELECT id FROM raw.orders", nodes[0].(*TextNode).Text)
			},
		},
		{
			name:  "expressions between text",
			input: `SELECT {{ cents("amount") }} AS dollars FROM {{ this.name }}`,
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 4)
				assert.Equal(t, "SELECT ", nodes[0].(*TextNode).Text)
				assert.Equal(t, `cents("amount")`, nodes[1].(*ExprNode).Expr)
				assert.Equal(t, " AS dollars FROM ", nodes[2].(*TextNode).Text)
				assert.Equal(t, "this.name", nodes[3].(*ExprNode).Expr)
			},
		},
		{
			name:  "comments are dropped",
			input: "SELECT 1{# total #} AS id",
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 2)
				assert.Equal(t, "SELECT 1", nodes[0].(*TextNode).Text)
				assert.Equal(t, " AS id", nodes[1].(*TextNode).Text)
			},
		},
		{
			name:  "for with and without colon",
			input: `{* for c in cols: *}{{ c }}{* endfor *}{* for c in cols *}{{ c }}{* endfor *}`,
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 2)
				for _, n := range nodes {
					f := n.(*ForBlock)
					assert.Equal(t, "c", f.VarName)
					assert.Equal(t, "cols", f.IterExpr)
					require.Len(t, f.Body, 1)
				}
			},
		},
		{
			name:  "if elif else",
			input: `{* if env == "prod": *}p{* elif env == "dev": *}d{* else: *}o{* endif *}`,
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 1)
				b := nodes[0].(*IfBlock)
				assert.Equal(t, `env == "prod"`, b.Condition)
				require.Len(t, b.ElseIfs, 1)
				assert.Equal(t, `env == "dev"`, b.ElseIfs[0].Condition)
				require.Len(t, b.Else, 1)
				assert.Equal(t, "o", b.Else[0].(*TextNode).Text)
			},
		},
		{
			name:  "loop inside condition",
			input: `{* if cols: *}{* for c in cols: *}{{ c }},{* endfor *}{* endif *}`,
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 1)
				b := nodes[0].(*IfBlock)
				require.Len(t, b.Body, 1)
				assert.IsType(t, &ForBlock{}, b.Body[0])
			},
		},
		{
			name:  "macro definition before the query",
			input: "{* macro cents(col, scale=100): *}{{ col }} / {{ scale }}{* endmacro *}\nSELECT {{ cents(\"amount\") }}",
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 3)
				m := nodes[0].(*MacroBlock)
				assert.Equal(t, "cents", m.Name)
				assert.Equal(t, []string{"col", "scale=100"}, m.Params)
				require.Len(t, m.Body, 3)
				assert.Equal(t, "col", m.Body[0].(*ExprNode).Expr)
				assert.Equal(t, "{* macro cents(col, scale=100): *}{{ col }} / {{ scale }}{* endmacro *}", m.Source)
				assert.Equal(t, "\nSELECT ", nodes[1].(*TextNode).Text)
			},
		},
		{
			name:  "macro with defaults holding commas",
			input: `{* macro pick(cols=["a", "b"], sep=", "): *}{{ sep.join(cols) }}{* endmacro *}`,
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 1)
				assert.Equal(t, []string{`cols=["a", "b"]`, `sep=", "`}, nodes[0].(*MacroBlock).Params)
			},
		},
		{
			name:  "macro without params or colon",
			input: `{* macro now() *}current_timestamp{* endmacro *}`,
			check: func(t *testing.T, nodes []Node) {
				require.Len(t, nodes, 1)
				m := nodes[0].(*MacroBlock)
				assert.Equal(t, "now", m.Name)
				assert.Empty(t, m.Params)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseString(tt.input, "models/m.sql")
			require.NoError(t, err)
			tt.check(t, tmpl.Nodes)
		})
	}
}

func TestTemplate_Macros(t *testing.T) {
	tmpl, err := ParseString(`{* macro a(): *}1{* endmacro *}
SELECT {{ a() }}
{* macro b(x): *}{{ x }}{* endmacro *}`, "macros/m.sql")
	require.NoError(t, err)

	macros := tmpl.Macros()
	require.Len(t, macros, 2)
	assert.Equal(t, "a", macros[0].Name)
	assert.Equal(t, "b", macros[1].Name)
}

func TestParser_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		unmatched StmtKind
		wantErr   string
	}{
		{name: "unclosed for", input: "{* for c in cols: *}{{ c }}", unmatched: StmtFor},
		{name: "endfor alone", input: "{{ c }}{* endfor *}", unmatched: StmtEndFor},
		{name: "unclosed if", input: "{* if x: *}yes", unmatched: StmtIf},
		{name: "else alone", input: "yes{* else: *}no", unmatched: StmtElse},
		{name: "unclosed macro", input: "{* macro m(a): *}{{ a }}", unmatched: StmtMacro},
		{name: "endmacro alone", input: "SELECT 1{* endmacro *}", unmatched: StmtEndMacro},
		{name: "macro closed by endfor", input: "{* macro m(): *}{* endfor *}", unmatched: StmtEndFor},
		{name: "macro inside loop", input: "{* for c in cols: *}{* macro m(): *}{* endmacro *}{* endfor *}", wantErr: "must be at the top level"},
		{name: "invalid macro statement", input: "{* macro m *}{* endmacro *}", wantErr: "invalid macro statement"},
		{name: "invalid parameter", input: "{* macro m(1a): *}{* endmacro *}", wantErr: `invalid parameter "1a"`},
		{name: "elif after else", input: "{* if a: *}{* else: *}{* elif b: *}{* endif *}", wantErr: "'elif' after 'else'"},
		{name: "unknown statement", input: "{* while true: *}", wantErr: "unknown statement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString(tt.input, "models/m.sql")
			require.Error(t, err)

			if tt.wantErr != "" {
				var parseErr *ParseError
				require.True(t, errors.As(err, &parseErr), "expected ParseError, got %T: %v", err, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, "models/m.sql", parseErr.Position().File)
				return
			}
			var blockErr *UnmatchedBlockError
			require.True(t, errors.As(err, &blockErr), "expected UnmatchedBlockError, got %T: %v", err, err)
			assert.Equal(t, tt.unmatched, blockErr.BlockKind)
		})
	}
}
