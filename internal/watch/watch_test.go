package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leapmesh/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_SubscribeUnsubscribe(t *testing.T) {
	n := NewNotifier()

	ch, unsubscribe := n.Subscribe()
	require.NotNil(t, ch)
	assert.Equal(t, 1, n.Len())

	unsubscribe()
	assert.Equal(t, 0, n.Len())
	_, open := <-ch
	assert.False(t, open)

	// second call is a no-op
	unsubscribe()
}

func TestNotifier_Broadcast(t *testing.T) {
	n := NewNotifier()
	ch1, unsub1 := n.Subscribe()
	ch2, unsub2 := n.Subscribe()
	defer unsub1()
	defer unsub2()

	n.Broadcast(Change{Path: "models/a.sql"})

	for _, ch := range []<-chan Change{ch1, ch2} {
		select {
		case c := <-ch:
			assert.Equal(t, "models/a.sql", c.Path)
		case <-time.After(100 * time.Millisecond):
			t.Fatal("subscriber did not receive broadcast")
		}
	}
}

func TestNotifier_BroadcastNonBlocking(t *testing.T) {
	n := NewNotifier()
	ch, unsubscribe := n.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		n.Broadcast(Change{Path: "first"})
		n.Broadcast(Change{Path: "second"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Broadcast blocked on a full subscriber")
	}
	assert.Equal(t, "first", (<-ch).Path)
}

func TestNotifier_Concurrent(t *testing.T) {
	n := NewNotifier()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, unsubscribe := n.Subscribe()
			n.Broadcast(Change{})
			unsubscribe()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, n.Len())
}

func TestNew_NoRoots(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestNew_SkipsHiddenDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "models", "staging"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache", "model_definition"), 0o755))

	w, err := New([]string{root})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	assert.ElementsMatch(t, []string{
		root,
		filepath.Join(root, "models"),
		filepath.Join(root, "models", "staging"),
	}, w.WatchList())
}

func startWatcher(t *testing.T, root string) <-chan Change {
	t.Helper()
	w, err := New([]string{root}, WithDebounce(20*time.Millisecond), WithLogger(testutil.NewTestLogger(t)))
	require.NoError(t, err)

	changes, unsubscribe := w.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
		unsubscribe()
	})
	return changes
}

func TestWatcher_BroadcastsDefinitionChanges(t *testing.T) {
	root := t.TempDir()
	models := filepath.Join(root, "models")
	require.NoError(t, os.MkdirAll(models, 0o755))
	changes := startWatcher(t, root)

	path := filepath.Join(models, "a.sql")
	require.NoError(t, os.WriteFile(path, []byte("SELECT 1 AS a"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, path, c.Path)
		assert.False(t, c.At.IsZero())
	case <-time.After(5 * time.Second):
		t.Fatal("no change received")
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(root, "leapmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dialect: duckdb\n"), 0o644))

	select {
	case c := <-changes:
		assert.Equal(t, path, c.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no change received")
	}
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	dir := filepath.Join(root, "models")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// give the watcher time to register the new directory
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "b.star")
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))

	require.Eventually(t, func() bool {
		select {
		case c := <-changes:
			return c.Path == path
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
