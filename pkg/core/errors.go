package core

import (
	"errors"
	"fmt"
)

// ErrNotFound is matched (via errors.Is) by lookups that found nothing.
var ErrNotFound = errors.New("not found")

// ConfigError reports a malformed project: unparseable definition files,
// invalid layouts and invalid model definitions.
type ConfigError struct {
	Path    string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, msg)
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DuplicateKeyError is returned when a unique-key collection already holds a key.
type DuplicateKeyError struct {
	Collection string
	Key        string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key %q in %s", e.Key, e.Collection)
}

// NestingMessage is the diagnostic for mixed name qualification depths.
const NestingMessage = "all model names and references must use the same level of nesting"

// SchemaError reports a failure while propagating column schemas.
type SchemaError struct {
	Model   string
	Message string
	// Nesting is set when names mix qualification depths (e.g. 2-part and 3-part)
	Nesting bool
	Err     error
}

func (e *SchemaError) Error() string {
	msg := e.Message
	if e.Nesting {
		msg = NestingMessage + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Model != "" {
		return fmt.Sprintf("schema error in model %s: %s", e.Model, msg)
	}
	return "schema error: " + msg
}

func (e *SchemaError) Unwrap() error { return e.Err }

// IsNestingError reports whether err is a nesting-level SchemaError.
func IsNestingError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se) && se.Nesting
}
