// Package watcher notifies on changes to a single entry file, debounced, so
// the supervisor can re-bundle and hot-swap the isolate without restarting
// the process.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval coalesces bursts of filesystem events (editors often
// write a file as delete+create, or write it in several small chunks) into
// one reload per burst.
const DebounceInterval = 200 * time.Millisecond

// Watcher watches the parent directory of a single entry file non-
// recursively (fsnotify has no reliable single-file watch across
// platforms — editors replace files via rename rather than in-place
// write) and filters events down to that one path.
type Watcher struct {
	entryPath string
	fsw       *fsnotify.Watcher
	Changed   <-chan struct{}
}

// New starts watching entryPath's parent directory and returns a Watcher
// whose Changed channel fires (debounced) whenever entryPath itself is
// created, written, or renamed.
func New(entryPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	dir := filepath.Dir(entryPath)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	absEntry, err := filepath.Abs(entryPath)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("resolving entry path: %w", err)
	}

	changed := make(chan struct{}, 1)
	w := &Watcher{entryPath: entryPath, fsw: fsw, Changed: changed}

	go w.run(absEntry, changed)

	return w, nil
}

// run filters fsnotify events to the entry file and debounces bursts into
// a single signal per DebounceInterval.
func (w *Watcher) run(absEntry string, changed chan<- struct{}) {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || abs != absEntry {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(DebounceInterval)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(DebounceInterval)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			select {
			case changed <- struct{}{}:
			default:
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
