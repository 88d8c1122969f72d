package template

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	forPattern   = regexp.MustCompile(`^for\s+([A-Za-z_][A-Za-z0-9_]*)\s+in\s+(.+?)\s*:?$`)
	ifPattern    = regexp.MustCompile(`^(if|elif)\s+(.+?)\s*:?$`)
	macroPattern = regexp.MustCompile(`^macro\s+([A-Za-z_][A-Za-z0-9_]*)\s*\((.*)\)\s*:?$`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ParseString parses template source into a block-structured Template.
func ParseString(input, file string) (*Template, error) {
	tokens, err := NewLexer(input, file).Tokenize()
	if err != nil {
		return nil, err
	}

	p := &parser{input: input, tokens: tokens}
	nodes, closer, err := p.parseUntilCloser(true)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		return nil, NewUnmatchedBlockError(closer.Pos(), closer.Kind)
	}
	return &Template{Nodes: nodes, File: file, Source: input}, nil
}

type parser struct {
	input  string
	tokens []Token
	pos    int
	// last is the token most recently returned as a closer
	last Token
}

func (p *parser) next() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

// parseUntilCloser collects nodes until EOF or a closing statement
// (endfor, elif, else, endif, endmacro), which is returned to the caller.
func (p *parser) parseUntilCloser(topLevel bool) ([]Node, *StmtNode, error) {
	var nodes []Node
	for {
		tok := p.next()
		switch tok.Type {
		case TokenEOF:
			return nodes, nil, nil
		case TokenComment:
			continue
		case TokenText:
			nodes = append(nodes, &TextNode{nodeBase: nodeBase{pos: tok.Pos}, Text: tok.Value})
		case TokenExpr:
			nodes = append(nodes, &ExprNode{nodeBase: nodeBase{pos: tok.Pos}, Expr: tok.Value})
		case TokenStmt:
			stmt, err := parseStmt(tok)
			if err != nil {
				return nil, nil, err
			}
			var block Node
			switch stmt.Kind {
			case StmtFor:
				block, err = p.parseFor(stmt)
			case StmtIf:
				block, err = p.parseIf(stmt)
			case StmtMacro:
				if !topLevel {
					return nil, nil, NewParseError(stmt.Pos(), "macro definitions must be at the top level")
				}
				block, err = p.parseMacro(stmt, tok)
			default:
				p.last = tok
				return nodes, stmt, nil
			}
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, block)
		}
	}
}

func (p *parser) parseFor(stmt *StmtNode) (*ForBlock, error) {
	body, closer, err := p.parseUntilCloser(false)
	if err != nil {
		return nil, err
	}
	if closer == nil {
		return nil, NewUnmatchedBlockError(stmt.Pos(), StmtFor)
	}
	if closer.Kind != StmtEndFor {
		return nil, NewUnmatchedBlockError(closer.Pos(), closer.Kind)
	}
	return &ForBlock{nodeBase: stmt.nodeBase, VarName: stmt.VarName, IterExpr: stmt.Expr, Body: body}, nil
}

func (p *parser) parseIf(stmt *StmtNode) (*IfBlock, error) {
	block := &IfBlock{nodeBase: stmt.nodeBase, Condition: stmt.Expr}
	target := &block.Body
	seenElse := false

	for {
		body, closer, err := p.parseUntilCloser(false)
		if err != nil {
			return nil, err
		}
		if body != nil {
			*target = body
		}
		if closer == nil {
			return nil, NewUnmatchedBlockError(stmt.Pos(), StmtIf)
		}

		switch closer.Kind {
		case StmtEndIf:
			return block, nil
		case StmtElif:
			if seenElse {
				return nil, NewParseError(closer.Pos(), "'elif' after 'else'")
			}
			block.ElseIfs = append(block.ElseIfs, Branch{Condition: closer.Expr, pos: closer.Pos()})
			target = &block.ElseIfs[len(block.ElseIfs)-1].Body
		case StmtElse:
			if seenElse {
				return nil, NewParseError(closer.Pos(), "duplicate 'else'")
			}
			seenElse = true
			block.Else = []Node{}
			target = &block.Else
		default:
			return nil, NewUnmatchedBlockError(closer.Pos(), closer.Kind)
		}
	}
}

func (p *parser) parseMacro(stmt *StmtNode, open Token) (*MacroBlock, error) {
	body, closer, err := p.parseUntilCloser(false)
	if err != nil {
		return nil, err
	}
	if closer == nil {
		return nil, NewUnmatchedBlockError(stmt.Pos(), StmtMacro)
	}
	if closer.Kind != StmtEndMacro {
		return nil, NewUnmatchedBlockError(closer.Pos(), closer.Kind)
	}
	return &MacroBlock{
		nodeBase: stmt.nodeBase,
		Name:     stmt.VarName,
		Params:   stmt.Params,
		Body:     body,
		Source:   p.input[open.Offset:p.last.End],
		bodyText: p.input[open.End:p.last.Offset],
	}, nil
}

// parseStmt classifies the content of a {* *} token.
func parseStmt(tok Token) (*StmtNode, error) {
	s := strings.TrimSpace(tok.Value)
	stmt := &StmtNode{nodeBase: nodeBase{pos: tok.Pos}}

	switch {
	case s == "endfor":
		stmt.Kind = StmtEndFor
	case s == "endif":
		stmt.Kind = StmtEndIf
	case s == "endmacro":
		stmt.Kind = StmtEndMacro
	case s == "else" || s == "else:":
		stmt.Kind = StmtElse
	case strings.HasPrefix(s, "for "):
		m := forPattern.FindStringSubmatch(s)
		if m == nil {
			return nil, NewParseErrorf(tok.Pos, "invalid for statement %q (expected 'for <name> in <expr>:')", s)
		}
		stmt.Kind, stmt.VarName, stmt.Expr = StmtFor, m[1], m[2]
	case strings.HasPrefix(s, "if ") || strings.HasPrefix(s, "elif "):
		m := ifPattern.FindStringSubmatch(s)
		if m == nil {
			return nil, NewParseErrorf(tok.Pos, "invalid %s statement", strings.Fields(s)[0])
		}
		stmt.Kind, stmt.Expr = StmtIf, m[2]
		if m[1] == "elif" {
			stmt.Kind = StmtElif
		}
	case strings.HasPrefix(s, "macro "):
		m := macroPattern.FindStringSubmatch(s)
		if m == nil {
			return nil, NewParseErrorf(tok.Pos, "invalid macro statement %q (expected 'macro <name>(<params>):')", s)
		}
		params, err := splitParams(m[2])
		if err != nil {
			return nil, NewParseErrorf(tok.Pos, "macro %s: %v", m[1], err)
		}
		stmt.Kind, stmt.VarName, stmt.Params = StmtMacro, m[1], params
	default:
		return nil, NewParseErrorf(tok.Pos, "unknown statement %q", s)
	}
	return stmt, nil
}

// splitParams splits a parameter list on top-level commas. Each parameter is
// a name, optionally followed by =default.
func splitParams(list string) ([]string, error) {
	var (
		params []string
		depth  int
		quote  rune
		start  int
	)
	flush := func(end int) error {
		p := strings.TrimSpace(list[start:end])
		if p == "" {
			return nil
		}
		name, _, _ := strings.Cut(p, "=")
		if !identPattern.MatchString(strings.TrimSpace(name)) {
			return fmt.Errorf("invalid parameter %q", p)
		}
		params = append(params, p)
		return nil
	}

	for i, r := range list {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(' || r == '[' || r == '{':
			depth++
		case r == ')' || r == ']' || r == '}':
			depth--
		case r == ',' && depth == 0:
			if err := flush(i); err != nil {
				return nil, err
			}
			start = i + 1
		}
	}
	if err := flush(len(list)); err != nil {
		return nil, err
	}
	return params, nil
}
