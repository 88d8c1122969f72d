// Package macro loads and holds the macros available to model templates.
//
// Script macros live in macros/*.star and are namespaced by file name.
// Templated macros live in macros/*.sql and are declared with
// {* macro name(args): *} ... {* endmacro *} blocks.
package macro

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.starlark.net/starlark"
)

// ParseFunc extracts templated macro definitions from a .sql macro file.
type ParseFunc func(path, content string) ([]*Templated, error)

// Loader scans a directory for macro files.
type Loader struct {
	dir string
}

// NewLoader creates a new macro loader for the specified directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// LoadedModule represents an executed Starlark macro file.
type LoadedModule struct {
	// Namespace is derived from filename (e.g., "datetime" from "datetime.star")
	Namespace string

	// Path is the path to the .star file
	Path string

	// Source is the file content
	Source string

	// Exports contains all exported functions/values (names not starting with _)
	Exports starlark.StringDict

	// Functions describes the public functions, in source order
	Functions []*Function
}

// Paths returns every macro file (.star and .sql) in lexical order.
// A missing directory yields no paths.
func (l *Loader) Paths() ([]string, error) {
	if ok, err := l.exists(); !ok || err != nil {
		return nil, err
	}
	var paths []string
	for _, pattern := range []string{"*.sql", "*.star"} {
		files, err := filepath.Glob(filepath.Join(l.dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to scan macros directory: %w", err)
		}
		paths = append(paths, files...)
	}
	slices.Sort(paths)
	return paths, nil
}

// Load executes every .star file in the macro directory.
// A missing directory is not an error.
func (l *Loader) Load() ([]*LoadedModule, error) {
	if ok, err := l.exists(); !ok || err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.star"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan macros directory: %w", err)
	}

	modules := make([]*LoadedModule, 0, len(files))
	for _, file := range files {
		module, err := l.loadFile(file)
		if err != nil {
			return nil, err
		}
		modules = append(modules, module)
	}
	return modules, nil
}

// LoadTemplated parses every .sql file in the macro directory with parse.
func (l *Loader) LoadTemplated(parse ParseFunc) ([]*Templated, error) {
	if ok, err := l.exists(); !ok || err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan macros directory: %w", err)
	}

	var macros []*Templated
	for _, file := range files {
		content, err := os.ReadFile(file) //nolint:gosec // G304: path comes from Glob within macros directory
		if err != nil {
			return nil, &LoadError{File: file, Message: fmt.Sprintf("failed to read file: %v", err)}
		}
		defs, err := parse(file, string(content))
		if err != nil {
			return nil, &LoadError{File: file, Message: err.Error()}
		}
		macros = append(macros, defs...)
	}
	return macros, nil
}

func (l *Loader) exists() (bool, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to access macros directory: %w", err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("macros path is not a directory: %s", l.dir)
	}
	return true, nil
}

// loadFile loads a single .star file and extracts its exports.
func (l *Loader) loadFile(path string) (*LoadedModule, error) {
	content, err := os.ReadFile(path) //nolint:gosec // G304: path comes from Glob within macros directory
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}
	}

	namespace := strings.TrimSuffix(filepath.Base(path), ".star")
	if err := validateNamespace(namespace); err != nil {
		return nil, &LoadError{
			File:    path,
			Message: err.Error(),
		}
	}

	functions, err := scanFunctions(path, content)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: fmt.Sprintf("syntax error: %v", err),
		}
	}

	thread := &starlark.Thread{
		Name:  fmt.Sprintf("load:%s", namespace),
		Print: func(_ *starlark.Thread, _ string) {},
	}

	globals, err := starlark.ExecFile(thread, path, content, nil) //nolint:staticcheck // SA1019: will migrate to ExecFileOptions later
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: fmt.Sprintf("Starlark execution error: %v", err),
		}
	}

	exports := make(starlark.StringDict)
	for name, value := range globals {
		if !strings.HasPrefix(name, "_") {
			exports[name] = value
		}
	}
	exports.Freeze()

	return &LoadedModule{
		Namespace: namespace,
		Path:      path,
		Source:    string(content),
		Exports:   exports,
		Functions: functions,
	}, nil
}

// LoadAndRegister loads every macro file in dir into a new registry.
func LoadAndRegister(dir string, parse ParseFunc) (*Registry, error) {
	loader := NewLoader(dir)
	registry := NewRegistry()

	modules, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := registry.RegisterAll(modules); err != nil {
		return nil, err
	}

	if parse != nil {
		templated, err := loader.LoadTemplated(parse)
		if err != nil {
			return nil, err
		}
		for _, t := range templated {
			if err := registry.RegisterTemplated(t); err != nil {
				return nil, err
			}
		}
	}
	return registry, nil
}

// validateNamespace checks if a namespace name is a valid identifier.
func validateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	for i, r := range name {
		if i == 0 {
			if !isLetter(r) && r != '_' {
				return fmt.Errorf("namespace must start with letter or underscore: %s", name)
			}
		} else if !isLetter(r) && !isDigit(r) && r != '_' {
			return fmt.Errorf("namespace contains invalid character: %s", name)
		}
	}
	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError represents an error loading a macro file.
type LoadError struct {
	File    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("macros/%s: %s", filepath.Base(e.File), e.Message)
}
