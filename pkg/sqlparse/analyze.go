// Package sqlparse provides the lightweight SQL analysis the loader needs:
// statement splitting, table reference extraction, projection analysis,
// canonical text for hashing and wildcard expansion. It does not build a
// full expression tree and is dialect-agnostic.
package sqlparse

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Analyzer is the SQL collaborator used while loading models.
type Analyzer interface {
	// Split returns the top-level statements of sql, without terminators.
	Split(sql string) ([]string, error)
	// Analyze extracts table references and projections from a query.
	Analyze(query string) (*Query, error)
	// Canonicalize returns the whitespace- and comment-insensitive form of sql.
	Canonicalize(sql string) string
}

// Default is the built-in Analyzer.
type Default struct{}

var _ Analyzer = Default{}

// SyntaxError reports malformed input.
type SyntaxError struct {
	Pos     Position
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// TableRef is a source in a FROM or JOIN clause.
type TableRef struct {
	// Name is the referenced table; empty for derived sources
	Name string
	// Alias is the alias if given
	Alias string
	// Derived is set for subqueries and table functions
	Derived bool
	// Query is the analyzed subquery of a derived source, if any
	Query *Query
}

// Projection is one item of the outermost select list.
type Projection struct {
	// Name is the output column name
	Name string
	// Type is the type from CAST(... AS type) or expr::type
	Type string
	// Qualifier is the table or alias prefix of a column or star
	Qualifier string
	// Column is the referenced column for direct column references
	Column string
	// Star is set for * and qualifier.*
	Star bool

	start, end int
}

// CTE is a named subquery from a WITH clause.
type CTE struct {
	Name  string
	Query *Query
}

// Query is the analysis of a single query.
type Query struct {
	Text        string
	CTEs        []CTE
	Sources     []TableRef
	Projections []Projection
	// References are all tables referenced anywhere, excluding CTE names
	References []string

	// offset of Text within the analyzed input; projection spans are absolute
	offset int
}

// HasStar reports whether the select list contains a wildcard.
func (q *Query) HasStar() bool {
	for _, p := range q.Projections {
		if p.Star {
			return true
		}
	}
	return false
}

// CTE returns the named CTE.
func (q *Query) CTE(name string) (*Query, bool) {
	for _, c := range q.CTEs {
		if strings.EqualFold(c.Name, name) {
			return c.Query, true
		}
	}
	return nil, false
}

// ExpandStars rewrites wildcard projections using columns. columns returns
// the expansion of one star projection, or nil to leave it as written.
func (q *Query) ExpandStars(columns func(p Projection) []string) string {
	var b strings.Builder
	last := 0
	for _, p := range q.Projections {
		if !p.Star {
			continue
		}
		cols := columns(p)
		if len(cols) == 0 {
			continue
		}
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = QuoteIdent(c)
			if p.Qualifier != "" {
				parts[i] = p.Qualifier + "." + parts[i]
			}
		}
		b.WriteString(q.Text[last : p.start-q.offset])
		b.WriteString(strings.Join(parts, ", "))
		last = p.end - q.offset
	}
	b.WriteString(q.Text[last:])
	return b.String()
}

// SelectList returns the source text of each select list item.
func (q *Query) SelectList() []string {
	out := make([]string, len(q.Projections))
	for i, p := range q.Projections {
		out[i] = q.Text[p.start-q.offset : p.end-q.offset]
	}
	return out
}

// Frame returns the query text with the select list cut out.
func (q *Query) Frame() string {
	if len(q.Projections) == 0 {
		return q.Text
	}
	first, last := q.Projections[0], q.Projections[len(q.Projections)-1]
	return q.Text[:first.start-q.offset] + q.Text[last.end-q.offset:]
}

// QuoteIdent quotes name unless it is a plain lowercase identifier.
func QuoteIdent(name string) string {
	plain := name != ""
	for i, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (i > 0 && r >= '0' && r <= '9')) {
			plain = false
			break
		}
	}
	if plain && LookupIdent(name) == TOKEN_IDENT {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Split returns the top-level statements of sql, without terminators.
func (Default) Split(sql string) ([]string, error) {
	tokens := Tokenize(sql)
	if err := checkTokens(tokens); err != nil {
		return nil, err
	}

	var stmts []string
	start, end := -1, 0
	for _, tok := range tokens {
		switch tok.Type {
		case TOKEN_SEMICOLON, TOKEN_EOF:
			if start >= 0 {
				stmts = append(stmts, sql[start:end])
			}
			start = -1
		default:
			if start < 0 {
				start = tok.Pos.Offset
			}
			end = tok.End
		}
	}
	return stmts, nil
}

// Canonicalize joins tokens with single spaces, dropping comments and
// lowercasing keywords. Identifiers and literals keep their spelling.
func (Default) Canonicalize(sql string) string {
	tokens := Tokenize(sql)
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Type == TOKEN_EOF {
			break
		}
		text := sql[tok.Pos.Offset:tok.End]
		if tok.Type.IsKeyword() {
			text = strings.ToLower(text)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// Analyze extracts table references and projections from a query.
func (Default) Analyze(query string) (*Query, error) {
	tokens := Tokenize(query)
	if err := checkTokens(tokens); err != nil {
		return nil, err
	}
	tokens = tokens[:len(tokens)-1] // drop EOF
	for len(tokens) > 0 && tokens[len(tokens)-1].Type == TOKEN_SEMICOLON {
		tokens = tokens[:len(tokens)-1]
	}

	a := &analyzer{text: query}
	q := a.query(tokens)

	cteNames := make(map[string]bool)
	collectCTENames(q, cteNames)
	refs := make(map[string]bool)
	for i, tok := range tokens {
		if tok.Type != TOKEN_JOIN && (tok.Type != TOKEN_FROM || !isQueryFrom(tokens, i)) {
			continue
		}
		end := clauseEnd(tokens, i+1)
		for _, src := range a.sources(tokens[i+1 : end]) {
			if src.Name != "" && !cteNames[strings.ToLower(src.Name)] {
				refs[src.Name] = true
			}
		}
	}
	for name := range refs {
		q.References = append(q.References, name)
	}
	sort.Strings(q.References)
	return q, nil
}

func collectCTENames(q *Query, names map[string]bool) {
	for _, c := range q.CTEs {
		names[strings.ToLower(c.Name)] = true
		collectCTENames(c.Query, names)
	}
	for _, s := range q.Sources {
		if s.Query != nil {
			collectCTENames(s.Query, names)
		}
	}
}

// checkTokens reports illegal tokens and unbalanced parentheses.
func checkTokens(tokens []Token) error {
	depth := 0
	var open []Position
	for _, tok := range tokens {
		switch tok.Type {
		case TOKEN_ILLEGAL:
			return &SyntaxError{Pos: tok.Pos, Message: tok.Literal}
		case TOKEN_LPAREN:
			depth++
			open = append(open, tok.Pos)
		case TOKEN_RPAREN:
			if depth == 0 {
				return &SyntaxError{Pos: tok.Pos, Message: "unexpected ')'"}
			}
			depth--
			open = open[:len(open)-1]
		}
	}
	if depth > 0 {
		return &SyntaxError{Pos: open[len(open)-1], Message: "unclosed '('"}
	}
	return nil
}

type analyzer struct {
	text string
}

// query analyzes a WITH/SELECT statement.
func (a *analyzer) query(tokens []Token) *Query {
	q := &Query{}
	if len(tokens) == 0 {
		return q
	}
	q.offset = tokens[0].Pos.Offset
	q.Text = a.text[q.offset:tokens[len(tokens)-1].End]

	i := 0
	if tokens[0].Type == TOKEN_WITH {
		i = a.ctes(q, tokens, 1)
	}

	// Parenthesized body: (SELECT ...) [UNION ...]
	if i < len(tokens) && tokens[i].Type == TOKEN_LPAREN {
		inner := a.query(tokens[i+1 : matching(tokens, i)])
		q.Projections = inner.Projections
		q.Sources = inner.Sources
		return q
	}

	if i >= len(tokens) || tokens[i].Type != TOKEN_SELECT {
		return q
	}
	i++
	for i < len(tokens) && (tokens[i].Type == TOKEN_DISTINCT || tokens[i].Type == TOKEN_ALL) {
		if tokens[i].Type == TOKEN_DISTINCT && i+1 < len(tokens) && tokens[i+1].Type == TOKEN_ON {
			i += 2
			if i < len(tokens) && tokens[i].Type == TOKEN_LPAREN {
				i = matching(tokens, i)
			}
		}
		i++
	}

	end := clauseEnd(tokens, i)
	q.Projections = a.projections(tokens[i:end])

	if end < len(tokens) && tokens[end].Type == TOKEN_FROM {
		fromEnd := clauseEnd(tokens, end+1)
		q.Sources = a.sources(tokens[end+1 : fromEnd])
	}
	return q
}

// ctes parses "name AS (query), ..." and returns the index after the list.
func (a *analyzer) ctes(q *Query, tokens []Token, i int) int {
	if i < len(tokens) && tokens[i].Type == TOKEN_RECURSIVE {
		i++
	}
	for i < len(tokens) && tokens[i].Type == TOKEN_IDENT {
		name := identName(tokens[i])
		i++
		if i < len(tokens) && tokens[i].Type == TOKEN_LPAREN {
			i = matching(tokens, i) + 1
		}
		if i < len(tokens) && tokens[i].Type == TOKEN_AS {
			i++
		}
		if i >= len(tokens) || tokens[i].Type != TOKEN_LPAREN {
			break
		}
		end := matching(tokens, i)
		q.CTEs = append(q.CTEs, CTE{Name: name, Query: a.query(tokens[i+1 : end])})
		i = end + 1
		if i < len(tokens) && tokens[i].Type == TOKEN_COMMA {
			i++
			continue
		}
		break
	}
	return i
}

// projections splits a select list on top-level commas.
func (a *analyzer) projections(tokens []Token) []Projection {
	var out []Projection
	start := 0
	depth := 0
	flush := func(end int) {
		if end > start {
			p := a.projection(tokens[start:end])
			if p.Name == "" && !p.Star {
				p.Name = "_col_" + strconv.Itoa(len(out))
			}
			out = append(out, p)
		}
	}
	for i, tok := range tokens {
		switch tok.Type {
		case TOKEN_LPAREN, TOKEN_LBRACKET:
			depth++
		case TOKEN_RPAREN, TOKEN_RBRACKET:
			depth--
		case TOKEN_COMMA:
			if depth == 0 {
				flush(i)
				start = i + 1
			}
		}
	}
	flush(len(tokens))
	return out
}

func (a *analyzer) projection(item []Token) Projection {
	p := Projection{start: item[0].Pos.Offset, end: item[len(item)-1].End}
	n := len(item)

	if n == 1 && item[0].Type == TOKEN_STAR {
		p.Star = true
		return p
	}
	if n >= 3 && item[n-1].Type == TOKEN_STAR && item[n-2].Type == TOKEN_DOT {
		if qual, ok := dotted(item[:n-2]); ok {
			p.Star = true
			p.Qualifier = qual
			return p
		}
	}

	expr := item
	switch {
	case n >= 3 && item[n-2].Type == TOKEN_AS && (item[n-1].Type == TOKEN_IDENT || item[n-1].Type == TOKEN_STRING):
		p.Name = identName(item[n-1])
		expr = item[:n-2]
	case n >= 2 && item[n-1].Type == TOKEN_IDENT && endsOperand(item[n-2]):
		p.Name = identName(item[n-1])
		expr = item[:n-1]
	}

	if len(expr) > 0 {
		// trailing ::type
		for j := len(expr) - 1; j > 0; j-- {
			if expr[j].Type == TOKEN_DCOLON && depthAt(expr, j) == 0 {
				p.Type = a.span(expr[j+1:])
				expr = expr[:j]
				break
			}
		}
	}

	if len(expr) >= 4 && (expr[0].Type == TOKEN_CAST || expr[0].Type == TOKEN_TRY_CAST) &&
		expr[1].Type == TOKEN_LPAREN && matching(expr, 1) == len(expr)-1 {
		inner := expr[2 : len(expr)-1]
		for j := len(inner) - 1; j >= 0; j-- {
			if inner[j].Type == TOKEN_AS && depthAt(inner, j) == 0 {
				if p.Type == "" {
					p.Type = a.span(inner[j+1:])
				}
				expr = inner[:j]
				break
			}
		}
	}

	if name, ok := dotted(expr); ok {
		parts := strings.Split(name, ".")
		p.Column = parts[len(parts)-1]
		p.Qualifier = strings.Join(parts[:len(parts)-1], ".")
		if p.Name == "" {
			p.Name = p.Column
		}
	}
	return p
}

// sources parses a FROM clause body, including its joins.
func (a *analyzer) sources(tokens []Token) []TableRef {
	var refs []TableRef
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		switch {
		case tok.Type == TOKEN_LATERAL:
			i++
			continue
		case tok.Type == TOKEN_LPAREN:
			end := matching(tokens, i)
			ref := TableRef{Derived: true, Query: a.query(tokens[i+1 : end])}
			i = a.alias(&ref, tokens, end+1)
			refs = append(refs, ref)
		case tok.Type == TOKEN_IDENT:
			j := i + 1
			for j+1 < len(tokens) && tokens[j].Type == TOKEN_DOT && tokens[j+1].Type == TOKEN_IDENT {
				j += 2
			}
			name, _ := dotted(tokens[i:j])
			ref := TableRef{Name: name}
			if j < len(tokens) && tokens[j].Type == TOKEN_LPAREN {
				ref = TableRef{Derived: true}
				j = matching(tokens, j) + 1
			}
			i = a.alias(&ref, tokens, j)
			refs = append(refs, ref)
		}

		// skip join conditions up to the next source
		for i < len(tokens) {
			t := tokens[i]
			if t.Type == TOKEN_LPAREN {
				i = matching(tokens, i) + 1
				continue
			}
			i++
			if t.Type == TOKEN_COMMA || t.Type == TOKEN_JOIN {
				break
			}
		}
	}
	return refs
}

func (a *analyzer) alias(ref *TableRef, tokens []Token, i int) int {
	if i < len(tokens) && tokens[i].Type == TOKEN_AS {
		i++
	}
	if i < len(tokens) && tokens[i].Type == TOKEN_IDENT {
		ref.Alias = identName(tokens[i])
		i++
		if i < len(tokens) && tokens[i].Type == TOKEN_LPAREN {
			i = matching(tokens, i) + 1
		}
	}
	return i
}

func (a *analyzer) span(tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}
	return strings.TrimSpace(a.text[tokens[0].Pos.Offset:tokens[len(tokens)-1].End])
}

// isQueryFrom reports whether the FROM at i belongs to a SELECT rather than
// a function call such as EXTRACT(year FROM ds).
func isQueryFrom(tokens []Token, i int) bool {
	depth := 0
	for j := i - 1; j >= 0; j-- {
		switch tokens[j].Type {
		case TOKEN_RPAREN:
			depth++
		case TOKEN_LPAREN:
			if depth == 0 {
				return false
			}
			depth--
		case TOKEN_SELECT:
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// clauseEnd returns the index of the first top-level token that ends the
// clause starting at i (or len(tokens)).
func clauseEnd(tokens []Token, i int) int {
	depth := 0
	for j := i; j < len(tokens); j++ {
		switch tokens[j].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			if depth == 0 {
				return j
			}
			depth--
		case TOKEN_FROM, TOKEN_WHERE, TOKEN_GROUP, TOKEN_HAVING, TOKEN_ORDER, TOKEN_LIMIT,
			TOKEN_OFFSET, TOKEN_QUALIFY, TOKEN_WINDOW, TOKEN_UNION, TOKEN_INTERSECT,
			TOKEN_EXCEPT, TOKEN_SEMICOLON:
			if depth == 0 && j > i {
				return j
			}
		}
	}
	return len(tokens)
}

// matching returns the index of the bracket closing tokens[i].
func matching(tokens []Token, i int) int {
	depth := 0
	for j := i; j < len(tokens); j++ {
		switch tokens[j].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(tokens) - 1
}

func depthAt(tokens []Token, i int) int {
	depth := 0
	for j := 0; j < i; j++ {
		switch tokens[j].Type {
		case TOKEN_LPAREN:
			depth++
		case TOKEN_RPAREN:
			depth--
		}
	}
	return depth
}

// dotted joins IDENT (DOT IDENT)* into a name.
func dotted(tokens []Token) (string, bool) {
	if len(tokens) == 0 || len(tokens)%2 == 0 {
		return "", false
	}
	parts := make([]string, 0, len(tokens)/2+1)
	for i, tok := range tokens {
		if i%2 == 0 {
			if tok.Type != TOKEN_IDENT || strings.HasPrefix(tok.Literal, "@") {
				return "", false
			}
			parts = append(parts, identName(tok))
		} else if tok.Type != TOKEN_DOT {
			return "", false
		}
	}
	return strings.Join(parts, "."), true
}

// identName normalizes unquoted identifiers to lowercase.
func identName(tok Token) string {
	if tok.Quoted || tok.Type == TOKEN_STRING {
		return tok.Literal
	}
	return strings.ToLower(tok.Literal)
}

// endsOperand reports whether tok can end an expression, so that a following
// identifier is an implicit alias.
func endsOperand(tok Token) bool {
	switch tok.Type {
	case TOKEN_IDENT, TOKEN_NUMBER, TOKEN_STRING, TOKEN_RPAREN, TOKEN_RBRACKET,
		TOKEN_END, TOKEN_NULL, TOKEN_TRUE, TOKEN_FALSE, TOKEN_STAR:
		return true
	}
	return false
}
