package loader

import "strings"

// splitStatements splits templated SQL on top-level semicolons. Semicolons
// inside string literals, quoted identifiers, comments and template tags
// ({{ }}, {* *}, {# #}) do not split. Empty statements are dropped.
func splitStatements(src string) []string {
	var (
		out   []string
		start int
	)
	flush := func(end int) {
		if s := strings.TrimSpace(src[start:end]); s != "" {
			out = append(out, s)
		}
	}

	for i := 0; i < len(src); i++ {
		switch c := src[i]; {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(src, i, c)
		case c == '-' && peek(src, i+1) == '-':
			i = skipUntil(src, i+2, "\n") - 1
		case c == '/' && peek(src, i+1) == '*':
			i = skipUntil(src, i+2, "*/") - 1
		case c == '{' && peek(src, i+1) == '{':
			i = skipUntil(src, i+2, "}}") - 1
		case c == '{' && peek(src, i+1) == '*':
			i = skipUntil(src, i+2, "*}") - 1
		case c == '{' && peek(src, i+1) == '#':
			i = skipUntil(src, i+2, "#}") - 1
		case c == ';':
			flush(i)
			start = i + 1
		}
	}
	flush(len(src))
	return out
}

func peek(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

// skipQuoted returns the index of the closing quote, honoring doubled quotes.
func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if peek(s, j+1) == quote {
			j++
			continue
		}
		return j
	}
	return len(s) - 1
}

// skipUntil returns the index just past the next occurrence of closer at or
// after i, or len(s) if there is none.
func skipUntil(s string, i int, closer string) int {
	if i > len(s) {
		return len(s)
	}
	idx := strings.Index(s[i:], closer)
	if idx < 0 {
		return len(s)
	}
	return i + idx + len(closer)
}
