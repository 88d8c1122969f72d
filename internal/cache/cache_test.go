package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsed struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

func counter(calls *int, v parsed) func() (parsed, error) {
	return func() (parsed, error) {
		*calls++
		return v, nil
	}
}

func TestFileCache_GetOrLoad(t *testing.T) {
	c, err := New[parsed](t.TempDir(), "models")
	require.NoError(t, err)

	calls := 0
	want := parsed{Name: "sushi.orders", Columns: []string{"id", "ds"}}

	got, err := c.GetOrLoad("models__orders", "k1", counter(&calls, want))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = c.GetOrLoad("models__orders", "k1", counter(&calls, parsed{Name: "other"}))
	require.NoError(t, err)
	assert.Equal(t, want, got, "unchanged key must not reload")
	assert.Equal(t, 1, calls)

	got, err = c.GetOrLoad("models__orders", "k2", counter(&calls, parsed{Name: "reloaded"}))
	require.NoError(t, err)
	assert.Equal(t, "reloaded", got.Name)
	assert.Equal(t, 2, calls)

	hits, misses, writes := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
	assert.Equal(t, int64(2), writes)
}

func TestFileCache_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first, err := New[parsed](dir, "models")
	require.NoError(t, err)

	calls := 0
	want := parsed{Name: "sushi.items", Columns: []string{"id"}}
	_, err = first.GetOrLoad("models__items", "key", counter(&calls, want))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "models", "models__items.json"))

	second, err := New[parsed](dir, "models")
	require.NoError(t, err)
	got, err := second.GetOrLoad("models__items", "key", counter(&calls, parsed{}))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls)

	_, err = second.GetOrLoad("models__items", "new-key", counter(&calls, parsed{}))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFileCache_LoadError(t *testing.T) {
	c, err := New[parsed](t.TempDir(), "models")
	require.NoError(t, err)

	boom := errors.New("parse failed")
	_, err = c.GetOrLoad("bad", "k", func() (parsed, error) { return parsed{}, boom })
	assert.ErrorIs(t, err, boom)

	calls := 0
	_, err = c.GetOrLoad("bad", "k", counter(&calls, parsed{Name: "ok"}))
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "failed loads are not cached")
}

func TestFileCache_CorruptEntryReloads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "models"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models", "broken.json"), []byte("{not json"), 0o600))

	c, err := New[parsed](dir, "models")
	require.NoError(t, err)

	calls := 0
	got, err := c.GetOrLoad("broken", "k", counter(&calls, parsed{Name: "fresh"}))
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Name)
	assert.Equal(t, 1, calls)
}

func TestFileCache_Disabled(t *testing.T) {
	dir := t.TempDir()
	c, err := New[parsed](dir, "models", WithDisabled(true))
	require.NoError(t, err)

	calls := 0
	for range 3 {
		_, err := c.GetOrLoad("x", "k", counter(&calls, parsed{}))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.NoDirExists(t, filepath.Join(dir, "models"))
}

func TestFileCache_Clear(t *testing.T) {
	dir := t.TempDir()
	c, err := New[parsed](dir, "models")
	require.NoError(t, err)

	calls := 0
	_, err = c.GetOrLoad("x", "k", counter(&calls, parsed{}))
	require.NoError(t, err)
	require.NoError(t, c.Clear())

	_, err = c.GetOrLoad("x", "k", counter(&calls, parsed{}))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFileCache_ConcurrentAccess(t *testing.T) {
	c, err := New[parsed](t.TempDir(), "models")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad("shared", "k", func() (parsed, error) {
				return parsed{Name: "shared"}, nil
			})
			assert.NoError(t, err, "goroutine %d", i)
			assert.Equal(t, "shared", v.Name)
		}()
	}
	wg.Wait()

	hits, misses, _ := c.Stats()
	assert.Equal(t, int64(16), hits+misses)
}

func TestFileCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	models, err := New[parsed](t.TempDir(), "models", WithMetrics(reg))
	require.NoError(t, err)
	queries, err := New[string](t.TempDir(), "optimized_query", WithMetrics(reg))
	require.NoError(t, err, "second cache reuses the registered collectors")

	calls := 0
	_, _ = models.GetOrLoad("a", "k", counter(&calls, parsed{}))
	_, _ = models.GetOrLoad("a", "k", counter(&calls, parsed{}))
	_, _ = queries.GetOrLoad("a", "k", func() (string, error) { return "SELECT 1", nil })

	assert.InDelta(t, 1, promtest.ToFloat64(models.metrics.hits.WithLabelValues("models")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(models.metrics.misses.WithLabelValues("models")), 0)
	assert.InDelta(t, 1, promtest.ToFloat64(queries.metrics.writes.WithLabelValues("optimized_query")), 0)
}

func TestEntryName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"models/sushi/orders.sql", "models__sushi__orders"},
		{"models/top.sql", "models__top"},
		{filepath.Join("audits", "checks.sql"), "audits__checks"},
		{"models/no_ext", "models__no_ext"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EntryName(tt.in))
		})
	}
}

func TestInvalidationKey(t *testing.T) {
	base := InvalidationKey{
		FileMtime:         time.Unix(100, 0),
		MacroMtime:        time.Unix(50, 0),
		ConfigFingerprint: "abc",
		DefaultCatalog:    "warehouse",
	}
	assert.Equal(t, "100000000000__50000000000__0__0__abc__warehouse", base.String())

	changes := []func(k *InvalidationKey){
		func(k *InvalidationKey) { k.FileMtime = k.FileMtime.Add(time.Second) },
		func(k *InvalidationKey) { k.MacroMtime = k.MacroMtime.Add(time.Second) },
		func(k *InvalidationKey) { k.ProjectConfigMtime = time.Unix(1, 0) },
		func(k *InvalidationKey) { k.GlobalConfigMtime = time.Unix(1, 0) },
		func(k *InvalidationKey) { k.ConfigFingerprint = "def" },
		func(k *InvalidationKey) { k.DefaultCatalog = "other" },
	}
	for i, change := range changes {
		k := base
		change(&k)
		assert.NotEqual(t, base.String(), k.String(), "change %d", i)
	}
}

func TestMaxMtime(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.star")
	b := filepath.Join(dir, "b.star")
	require.NoError(t, os.WriteFile(a, nil, 0o600))
	require.NoError(t, os.WriteFile(b, nil, 0o600))

	newer := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(b, newer, newer))

	assert.True(t, MaxMtime(a, b, filepath.Join(dir, "missing")).Equal(newer))
	assert.True(t, MaxMtime().IsZero())
}
