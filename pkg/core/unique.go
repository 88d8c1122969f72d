package core

import "iter"

// UniqueMap is an insertion-ordered map that rejects duplicate keys.
type UniqueMap[V any] struct {
	collection string
	keys       []string
	values     map[string]V
}

// NewUniqueMap creates an empty map. The collection name appears in
// duplicate-key errors (e.g., "models", "audits").
func NewUniqueMap[V any](collection string) *UniqueMap[V] {
	return &UniqueMap[V]{
		collection: collection,
		values:     make(map[string]V),
	}
}

// Set inserts a value, failing with *DuplicateKeyError if the key exists.
func (m *UniqueMap[V]) Set(key string, value V) error {
	if _, ok := m.values[key]; ok {
		return &DuplicateKeyError{Collection: m.collection, Key: key}
	}
	m.keys = append(m.keys, key)
	m.values[key] = value
	return nil
}

// Get returns the value stored under key.
func (m *UniqueMap[V]) Get(key string) (V, bool) {
	if m == nil {
		var zero V
		return zero, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *UniqueMap[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of entries.
func (m *UniqueMap[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *UniqueMap[V]) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

// Values returns the values in insertion order.
func (m *UniqueMap[V]) Values() []V {
	if m == nil {
		return nil
	}
	out := make([]V, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.values[k])
	}
	return out
}

// All iterates over entries in insertion order.
func (m *UniqueMap[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// Merge inserts every entry of other, stopping at the first duplicate.
func (m *UniqueMap[V]) Merge(other *UniqueMap[V]) error {
	for k, v := range other.All() {
		if err := m.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}
