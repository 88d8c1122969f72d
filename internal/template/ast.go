// Package template renders model queries and templated macros.
// {{ expr }} splices a Starlark expression, {* stmt *} opens or closes a
// for/if/macro block and {# ... #} is a comment dropped at parse time.
package template

// Position tracks source location for error reporting.
type Position struct {
	File   string
	Line   int
	Column int
}

// Node is the interface for all template AST nodes.
type Node interface {
	Pos() Position
	node() // marker method to restrict implementation
}

// nodeBase provides common Position handling for all nodes.
type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

// TextNode represents literal SQL text (passed through unchanged).
type TextNode struct {
	nodeBase
	Text string
}

// ExprNode represents a {{ expr }} expression.
// The Expr field contains the Starlark expression source (without delimiters).
type ExprNode struct {
	nodeBase
	Expr string
}

// StmtKind identifies the type of control flow statement.
type StmtKind int

// StmtKind constants for control flow statement types.
const (
	StmtUnknown StmtKind = iota // Unknown/invalid statement
	StmtFor                     // {* for x in items: *}
	StmtEndFor                  // {* endfor *}
	StmtIf                      // {* if cond: *}
	StmtElif                    // {* elif cond: *}
	StmtElse                    // {* else: *}
	StmtEndIf                   // {* endif *}
	StmtMacro                   // {* macro name(a, b): *}
	StmtEndMacro                // {* endmacro *}
)

func (k StmtKind) String() string {
	switch k {
	case StmtUnknown:
		return "unknown"
	case StmtFor:
		return "for"
	case StmtEndFor:
		return "endfor"
	case StmtIf:
		return "if"
	case StmtElif:
		return "elif"
	case StmtElse:
		return "else"
	case StmtEndIf:
		return "endif"
	case StmtMacro:
		return "macro"
	case StmtEndMacro:
		return "endmacro"
	default:
		return "unknown"
	}
}

// StmtNode represents a {* stmt *} statement (raw from lexer, before parsing into blocks).
type StmtNode struct {
	nodeBase
	Kind    StmtKind
	Expr    string   // Condition (if/elif) or iterator expression (for)
	VarName string   // Loop variable name (for) or macro name (macro)
	Params  []string // Macro parameters
}

// ForBlock represents a complete for loop with its body.
// Created by the parser from StmtNode pairs.
type ForBlock struct {
	nodeBase
	VarName  string // Loop variable name
	IterExpr string // Iterator expression (evaluated by Starlark)
	Body     []Node // Nodes inside the loop
}

// IfBlock represents a complete if/elif/else conditional.
// Created by the parser from StmtNode sequences.
type IfBlock struct {
	nodeBase
	Condition string   // if condition expression
	Body      []Node   // Nodes for the if branch
	ElseIfs   []Branch // elif branches (may be empty)
	Else      []Node   // else branch (may be nil)
}

// Branch represents an elif branch.
type Branch struct {
	Condition string
	Body      []Node
	pos       Position
}

// MacroBlock is a templated macro definition. Source is the raw text of the
// whole block, delimiters included.
type MacroBlock struct {
	nodeBase
	Name   string
	Params []string
	Body   []Node
	Source string

	bodyText string
}

// Template represents a complete parsed template.
type Template struct {
	Nodes []Node
	File  string
	// Source is the unparsed input
	Source string
}

// Macros returns the top-level macro definitions.
func (t *Template) Macros() []*MacroBlock {
	var out []*MacroBlock
	for _, n := range t.Nodes {
		if m, ok := n.(*MacroBlock); ok {
			out = append(out, m)
		}
	}
	return out
}
