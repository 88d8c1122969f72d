// Package watch reports changes to a project's definition files. Events are
// debounced so an editor writing several files produces one Change.
package watch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a Change
// is broadcast.
const DefaultDebounce = 100 * time.Millisecond

// definitionExts are the file types a load reads.
var definitionExts = map[string]bool{
	".sql":  true,
	".star": true,
	".yaml": true,
	".yml":  true,
}

// Watcher watches project roots recursively. Hidden directories such as the
// definition cache are skipped.
type Watcher struct {
	fsw      *fsnotify.Watcher
	notifier *Notifier
	debounce time.Duration
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New starts watching roots. Events are only consumed once Run is called.
func New(roots []string, opts ...Option) (*Watcher, error) {
	if len(roots) == 0 {
		return nil, errors.New("watch: no directories to watch")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		notifier: NewNotifier(),
		debounce: DefaultDebounce,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	for _, root := range roots {
		if err := w.addRecursive(root); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Subscribe registers a listener for changes. See Notifier.Subscribe.
func (w *Watcher) Subscribe() (<-chan Change, func()) {
	return w.notifier.Subscribe()
}

// WatchList returns the directories being watched.
func (w *Watcher) WatchList() []string {
	return w.fsw.WatchList()
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run consumes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !relevant(event) {
				continue
			}

			pending = event.Name
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.logger.Debug("definitions changed", "path", pending)
			w.notifier.Broadcast(Change{Path: pending, At: time.Now()})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if hidden(filepath.Base(event.Name)) {
		return false
	}
	return definitionExts[strings.ToLower(filepath.Ext(event.Name))]
}

// addRecursive adds dir and its non-hidden subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
