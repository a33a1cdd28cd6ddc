// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package registry

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher reloads a Store when its backing file changes on disk, so edits
// made by another process (or a manual fix of the JSON) show up without a
// restart. The parent directory is watched rather than the file itself:
// atomic saves replace the file by rename, which would orphan a file watch.
type Watcher struct {
	store       *Store
	watcher     *fsnotify.Watcher
	stopWatcher chan struct{}
	onReload    func()
}

// NewWatcher creates a watcher for the store. onReload, if non-nil, runs
// after every successful reload.
func NewWatcher(store *Store, onReload func()) *Watcher {
	return &Watcher{
		store:       store,
		stopWatcher: make(chan struct{}),
		onReload:    onReload,
	}
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	dir := filepath.Dir(w.store.Path())
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(w.store.Path())

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					log.WithField("event", event.Op.String()).Debug("Registry file changed, reloading")
					// Let the writer finish its rename before re-reading.
					time.Sleep(100 * time.Millisecond)
					w.store.Reload()
					if w.onReload != nil {
						w.onReload()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Error("Registry watcher error")
			case <-w.stopWatcher:
				return
			}
		}
	}()

	return nil
}

// Stop ends the watch and releases the underlying notifier.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		select {
		case <-w.stopWatcher:
			// already closed
		default:
			close(w.stopWatcher)
		}
		w.watcher.Close()
		w.watcher = nil
	}
}
