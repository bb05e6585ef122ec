// Package watcher watches the corpus database files and signals when
// external ingestion rewrites them.
package watcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// debounceWindow coalesces the event bursts a single SQLite rewrite
// produces into one callback.
const debounceWindow = 500 * time.Millisecond

// Watcher watches a set of files and invokes the callback when any of
// them is written, created, or removed. Directories are watched rather
// than the files themselves, so atomic replace (write temp, rename over)
// is seen too.
type Watcher struct {
	fs       *fsnotify.Watcher
	paths    map[string]bool // absolute file paths to react to
	onChange func()

	mu      sync.Mutex
	pending *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher over the given files. Empty paths are ignored;
// watching fails only if no directory could be registered.
func New(paths []string, onChange func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:       fs,
		paths:    make(map[string]bool),
		onChange: onChange,
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		w.paths[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	watched := 0
	for dir := range dirs {
		if err := fs.Add(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Cannot watch corpus directory")
			continue
		}
		watched++
	}
	if watched == 0 && len(dirs) > 0 {
		_ = fs.Close()
		return nil, fmt.Errorf("no corpus directory could be watched")
	}

	return w, nil
}

// Start begins dispatching change events.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Corpus file changed")
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Corpus watcher error")
		}
	}
}

// relevant reports whether the event touches a watched file. SQLite
// sidecar files (-wal, -shm) count as changes to the database itself.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if base, ok := strings.CutSuffix(abs, suffix); ok && w.paths[base] {
			return true
		}
	}
	return false
}

// schedule arms the debounce timer, resetting it if already armed.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Reset(debounceWindow)
		return
	}
	w.pending = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		w.pending = nil
		w.mu.Unlock()
		w.onChange()
	})
}

// Stop shuts the watcher down and waits for the dispatch loop.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.fs.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()
}
