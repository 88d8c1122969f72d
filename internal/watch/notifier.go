package watch

import (
	"sync"
	"time"
)

// Change is a settled burst of file events. Path is the last file touched.
type Change struct {
	Path string
	At   time.Time
}

// Notifier fans changes out to subscribers. A subscriber that has not
// drained its previous change misses the next one; it re-reads the project
// on the change it does receive, so nothing is lost.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan Change]struct{}
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{listeners: make(map[chan Change]struct{})}
}

// Subscribe registers a listener. The returned func unsubscribes and closes
// the channel; it is safe to call more than once.
func (n *Notifier) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 1)
	n.mu.Lock()
	n.listeners[ch] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, ch)
			n.mu.Unlock()
			close(ch)
		})
	}
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Broadcast sends c to every subscriber without blocking.
func (n *Notifier) Broadcast(c Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- c:
		default:
		}
	}
}
