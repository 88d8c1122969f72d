// Package cache provides the content cache used while loading a project.
//
// A FileCache maps an entry name (derived from a definition's relative path)
// plus an invalidation key to a previously decoded value. Entries are kept in
// memory and persisted as <dir>/<namespace>/<entry>.json so they survive
// across processes sharing the same project root.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// entry is the on-disk form of a cached value.
type entry[T any] struct {
	Key   string `json:"key"`
	Value T      `json:"value"`
}

// FileCache is a concurrent, file-backed cache of decoded values.
// Concurrent loads of the same entry are last-writer-wins.
type FileCache[T any] struct {
	dir       string
	namespace string
	disabled  bool
	logger    *slog.Logger
	metrics   *metrics

	mu      sync.RWMutex
	entries map[string]entry[T]

	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
}

// New creates a cache rooted at dir/namespace. The directory is created
// lazily on the first write.
func New[T any](dir, namespace string, opts ...Option) (*FileCache[T], error) {
	o := applyOptions(opts...)

	c := &FileCache[T]{
		dir:       filepath.Join(dir, namespace),
		namespace: namespace,
		disabled:  o.disabled,
		logger:    o.logger.With("cache", namespace),
		entries:   make(map[string]entry[T]),
	}

	if o.registerer != nil {
		m, err := newMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register cache metrics: %w", err)
		}
		c.metrics = m
	}
	return c, nil
}

// Namespace returns the cache namespace.
func (c *FileCache[T]) Namespace() string {
	return c.namespace
}

// GetOrLoad returns the value stored under name if its key equals key.
// Otherwise it calls load, stores the result under (name, key) and returns it.
// Errors from load are returned unchanged and nothing is stored.
func (c *FileCache[T]) GetOrLoad(name, key string, load func() (T, error)) (T, error) {
	if !c.disabled {
		if v, ok := c.get(name, key); ok {
			c.hits.Add(1)
			c.metrics.hit(c.namespace)
			return v, nil
		}
	}

	c.misses.Add(1)
	c.metrics.miss(c.namespace)

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}
	if !c.disabled {
		c.put(name, entry[T]{Key: key, Value: v})
	}
	return v, nil
}

// Stats returns hit, miss and write counts since the cache was created.
func (c *FileCache[T]) Stats() (hits, misses, writes int64) {
	return c.hits.Load(), c.misses.Load(), c.writes.Load()
}

func (c *FileCache[T]) get(name, key string) (T, bool) {
	var zero T

	c.mu.RLock()
	e, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && e.Key == key {
		return e.Value, true
	}

	e, err := c.read(name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("ignoring unreadable cache entry", "entry", name, "error", err)
		}
		return zero, false
	}
	if e.Key != key {
		return zero, false
	}

	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()
	return e.Value, true
}

func (c *FileCache[T]) put(name string, e entry[T]) {
	c.mu.Lock()
	c.entries[name] = e
	c.mu.Unlock()

	c.writes.Add(1)
	c.metrics.write(c.namespace)

	// A failed write only costs a reparse next time.
	if err := c.write(name, e); err != nil {
		c.logger.Warn("failed to persist cache entry", "entry", name, "error", err)
	}
}

func (c *FileCache[T]) path(name string) string {
	return filepath.Join(c.dir, name+".json")
}

func (c *FileCache[T]) read(name string) (entry[T], error) {
	var e entry[T]
	data, err := os.ReadFile(c.path(name))
	if err != nil {
		return e, err
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode %s: %w", name, err)
	}
	return e, nil
}

// write stores e through a temp file and rename so readers never see a
// partial entry.
func (c *FileCache[T]) write(name string, e entry[T]) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.MkdirAll(c.dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(name))
}

// Clear drops all entries from memory and disk.
func (c *FileCache[T]) Clear() error {
	c.mu.Lock()
	c.entries = make(map[string]entry[T])
	c.mu.Unlock()

	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to clear cache %s: %w", c.namespace, err)
	}
	return nil
}
