// Package watcher reports changes to the files of a directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/snapbooth/photobooth-agent/internal/logging"
)

var ErrAlreadyWatching = errors.New("watcher: already watching")

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	}
	return "unknown"
}

// translate maps an fsnotify op to an event. Chmod-only ops are dropped.
// A rename reports the old name gone; the new name arrives as a create.
func translate(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return EventDelete, true
	case op.Has(fsnotify.Write):
		return EventModify, true
	}
	return 0, false
}

// FSWatcher watches one directory, not recursively. Subdirectories that
// appear in it produce no events.
type FSWatcher struct {
	logger *slog.Logger

	mu       sync.Mutex
	callback func(path string, event EventType)
	fw       *fsnotify.Watcher
}

func NewFSWatcher(logger *slog.Logger) *FSWatcher {
	return &FSWatcher{logger: logging.WithComponent(logging.OrDiscard(logger), "watcher")}
}

func (w *FSWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch blocks until ctx is done or Stop is called. Files present at the
// start produce no events.
func (w *FSWatcher) Watch(ctx context.Context, dir string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	if w.fw != nil {
		w.mu.Unlock()
		fw.Close()
		return ErrAlreadyWatching
	}
	w.fw = fw
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		if w.fw == fw {
			w.fw = nil
		}
		w.mu.Unlock()
		fw.Close()
	}()

	w.logger.Info("watching directory", "dir", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.dispatch(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "dir", dir, "error", err)
		}
	}
}

// Stop ends a running Watch. It is safe to call more than once.
func (w *FSWatcher) Stop() error {
	w.mu.Lock()
	fw := w.fw
	w.fw = nil
	w.mu.Unlock()
	if fw == nil {
		return nil
	}
	return fw.Close()
}

func (w *FSWatcher) dispatch(ev fsnotify.Event) {
	event, ok := translate(ev.Op)
	if !ok {
		return
	}
	if event != EventDelete {
		if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
			return
		}
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb == nil {
		return
	}
	w.logger.Debug("file changed", "path", ev.Name, "event", event)
	cb(ev.Name, event)
}
