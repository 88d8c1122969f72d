package template

import "fmt"

// posError is a failure at a position in a template. stage names the pass
// that failed and prefixes the message.
type posError struct {
	stage string
	pos   Position
	msg   string
	cause error
}

// Position returns where the error occurred.
func (e *posError) Position() Position { return e.pos }

func (e *posError) Error() string {
	loc := fmt.Sprintf("%d:%d", e.pos.Line, e.pos.Column)
	if e.pos.File != "" {
		loc = e.pos.File + ":" + loc
	}
	msg := loc + ": " + e.stage + ": " + e.msg
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *posError) Unwrap() error { return e.cause }

// LexError is an unterminated or malformed delimiter.
type LexError struct{ posError }

// NewLexError creates a lexer error.
func NewLexError(pos Position, msg string) *LexError {
	return &LexError{posError{stage: "lex", pos: pos, msg: msg}}
}

// ParseError is a statement the parser cannot place.
type ParseError struct{ posError }

// NewParseError creates a parser error.
func NewParseError(pos Position, msg string) *ParseError {
	return &ParseError{posError{stage: "parse", pos: pos, msg: msg}}
}

// NewParseErrorf creates a parser error with formatting.
func NewParseErrorf(pos Position, format string, args ...any) *ParseError {
	return NewParseError(pos, fmt.Sprintf(format, args...))
}

// RenderError is a failed evaluation. Cause holds the Starlark error, if any.
type RenderError struct{ posError }

// NewRenderError creates a render error.
func NewRenderError(pos Position, msg string) *RenderError {
	return &RenderError{posError{stage: "render", pos: pos, msg: msg}}
}

// NewRenderErrorf creates a render error with formatting.
func NewRenderErrorf(pos Position, format string, args ...any) *RenderError {
	return NewRenderError(pos, fmt.Sprintf(format, args...))
}

// WrapRenderError wraps cause as a render error.
func WrapRenderError(pos Position, msg string, cause error) *RenderError {
	return &RenderError{posError{stage: "render", pos: pos, msg: msg, cause: cause}}
}

// UnmatchedBlockError is an opening statement without its closer, or a
// closer without its opening statement.
type UnmatchedBlockError struct {
	posError
	BlockKind StmtKind
}

// blockMessages maps each block statement to its unmatched-block message.
var blockMessages = map[StmtKind]string{
	StmtFor:      "unclosed 'for' block (missing 'endfor')",
	StmtIf:       "unclosed 'if' block (missing 'endif')",
	StmtMacro:    "unclosed 'macro' block (missing 'endmacro')",
	StmtEndFor:   "'endfor' without matching 'for'",
	StmtEndIf:    "'endif' without matching 'if'",
	StmtEndMacro: "'endmacro' without matching 'macro'",
	StmtElse:     "'else' without matching 'if'",
	StmtElif:     "'elif' without matching 'if'",
}

// NewUnmatchedBlockError creates an unmatched block error for kind.
func NewUnmatchedBlockError(pos Position, kind StmtKind) *UnmatchedBlockError {
	msg, ok := blockMessages[kind]
	if !ok {
		msg = "unmatched block: " + kind.String()
	}
	return &UnmatchedBlockError{posError: posError{stage: "parse", pos: pos, msg: msg}, BlockKind: kind}
}
