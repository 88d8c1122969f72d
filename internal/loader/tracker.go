package loader

import (
	"os"
	"sort"
	"sync"
	"time"
)

// tracker records the modification time of every file a load reads.
// Scopes loading in parallel share one tracker.
type tracker struct {
	mu    sync.Mutex
	files map[string]time.Time
}

func newTracker() *tracker {
	return &tracker{files: make(map[string]time.Time)}
}

// track stats each path. Missing files are not recorded.
func (t *tracker) track(paths ...string) {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		t.mu.Lock()
		t.files[p] = info.ModTime()
		t.mu.Unlock()
	}
}

// mtime returns the recorded time of a tracked path.
func (t *tracker) mtime(path string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.files[path]
}

func (t *tracker) snapshot() map[string]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Time, len(t.files))
	for k, v := range t.files {
		out[k] = v
	}
	return out
}

// changed reports whether any path was removed or has a newer mtime.
func changed(files map[string]time.Time) bool {
	for path, mtime := range files {
		info, err := os.Stat(path)
		if err != nil || info.ModTime().After(mtime) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]time.Time) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
