package macro

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// ReservedNamespaces are names taken by template builtins.
var ReservedNamespaces = []string{"config", "env", "gateway", "model", "target", "this", "var"}

// Templated is a macro written in template syntax:
//
//	{* macro name(a, b): *} ... {* endmacro *}
type Templated struct {
	Name   string
	Params []string
	// Body is the unrendered template between the macro delimiters
	Body string
	// Source is the full definition text, used for fingerprinting
	Source string
	Path   string
}

// RegistryError reports a rejected registration.
type RegistryError struct {
	Namespace string
	Message   string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("macro %q: %s", e.Namespace, e.Message)
}

// Registry holds the script macro namespaces and templated macros available
// to one load. It is an explicit value: callers take a Snapshot before a
// scope registers its macros and Restore it afterwards.
type Registry struct {
	mu        sync.RWMutex
	modules   map[string]*LoadedModule
	templated map[string]*Templated
}

// Snapshot is an immutable copy of a registry's contents.
type Snapshot struct {
	modules   map[string]*LoadedModule
	templated map[string]*Templated
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		modules:   make(map[string]*LoadedModule),
		templated: make(map[string]*Templated),
	}
}

// Register adds a script macro namespace.
func (r *Registry) Register(m *LoadedModule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkName(m.Namespace); err != nil {
		return err
	}
	r.modules[m.Namespace] = m
	return nil
}

// RegisterAll registers modules in order, stopping at the first error.
func (r *Registry) RegisterAll(modules []*LoadedModule) error {
	for _, m := range modules {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// RegisterTemplated adds a templated macro. Its name shares the namespace
// of script macros.
func (r *Registry) RegisterTemplated(t *Templated) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkName(t.Name); err != nil {
		return err
	}
	r.templated[t.Name] = t
	return nil
}

func (r *Registry) checkName(name string) error {
	if slices.Contains(ReservedNamespaces, name) {
		return &RegistryError{Namespace: name, Message: "name is reserved"}
	}
	if existing, ok := r.modules[name]; ok {
		return &RegistryError{Namespace: name, Message: "already defined in " + existing.Path}
	}
	if existing, ok := r.templated[name]; ok {
		return &RegistryError{Namespace: name, Message: "already defined in " + existing.Path}
	}
	return nil
}

// Has reports whether name is a registered namespace or templated macro.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, isModule := r.modules[name]
	_, isTemplated := r.templated[name]
	return isModule || isTemplated
}

// Get returns a script macro namespace.
func (r *Registry) Get(namespace string) (*LoadedModule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[namespace]
	return m, ok
}

// GetTemplated returns a templated macro.
func (r *Registry) GetTemplated(name string) (*Templated, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templated[name]
	return t, ok
}

// Len returns the number of registered namespaces and templated macros.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules) + len(r.templated)
}

// Namespaces returns the script macro namespaces in lexical order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.modules))
}

// TemplatedMacros returns the templated macros ordered by name.
func (r *Registry) TemplatedMacros() []*Templated {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Templated, 0, len(r.templated))
	for _, name := range slices.Sorted(maps.Keys(r.templated)) {
		out = append(out, r.templated[name])
	}
	return out
}

// Source returns the definition text behind name: the file contents of a
// script namespace or the definition of a templated macro.
func (r *Registry) Source(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.modules[name]; ok {
		return m.Source, true
	}
	if t, ok := r.templated[name]; ok {
		return t.Source, true
	}
	return "", false
}

// ToStarlarkDict returns each script namespace as a module value, so that
// templates can call namespace.function(...).
func (r *Registry) ToStarlarkDict() starlark.StringDict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dict := make(starlark.StringDict, len(r.modules))
	for ns, m := range r.modules {
		dict[ns] = &starlarkstruct.Module{Name: ns, Members: m.Exports}
	}
	return dict
}

// Snapshot captures the current contents.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Snapshot{
		modules:   maps.Clone(r.modules),
		templated: maps.Clone(r.templated),
	}
}

// Restore replaces the contents with those of s, dropping anything
// registered since the snapshot was taken.
func (r *Registry) Restore(s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = maps.Clone(s.modules)
	r.templated = maps.Clone(s.templated)
	if r.modules == nil {
		r.modules = make(map[string]*LoadedModule)
	}
	if r.templated == nil {
		r.templated = make(map[string]*Templated)
	}
}

// Clone returns an independent registry with the same contents.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	c.Restore(r.Snapshot())
	return c
}
