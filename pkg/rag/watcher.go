package rag

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces editor save bursts into one re-index.
const debounceDelay = 500 * time.Millisecond

// Watcher keeps the codebase index current by re-indexing files as
// they change on disk.
type Watcher struct {
	indexer *Indexer
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	mu       sync.Mutex
	debounce map[string]*time.Timer
}

func NewWatcher(indexer *Indexer) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		indexer:  indexer,
		watcher:  fsWatcher,
		logger:   slog.Default().With("component", "watcher"),
		debounce: make(map[string]*time.Timer),
	}, nil
}

// Start watches the workspace tree until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.indexer.workspace); err != nil {
		return err
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if skipDirNames[name] || strings.HasPrefix(name, ".") {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if event.Op&fsnotify.Create != 0 {
				if err := w.addRecursive(event.Name); err != nil {
					w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
		w.scheduleReindex(ctx, event.Name)

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if err := w.indexer.RemoveFile(ctx, event.Name); err != nil {
			w.logger.Debug("failed to remove from index", "path", event.Name, "error", err)
		}
	}
}

func (w *Watcher) scheduleReindex(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.debounce[path]; ok {
		timer.Stop()
	}
	w.debounce[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounce, path)
		w.mu.Unlock()

		if err := w.indexer.IndexFile(ctx, path); err != nil {
			w.logger.Warn("failed to re-index file", "path", path, "error", err)
		} else {
			w.logger.Debug("re-indexed file", "path", path)
		}
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := info.Name()
		if path != root && (skipDirNames[name] || strings.HasPrefix(name, ".")) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}
