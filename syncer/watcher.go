package syncer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// writeSettle is how long a file must be quiet before its write
	// burst is collapsed into a single change event.
	writeSettle = 300 * time.Millisecond

	// sweepInterval is how often settled writes are flushed into the
	// drain queue.
	sweepInterval = 100 * time.Millisecond
)

// Watcher observes a directory subtree and accumulates an ordered queue
// of file-level change events. The queue only ever grows between Drain
// calls; each Drain atomically hands over the whole pending batch, so a
// change is delivered to at most one reconciliation pass and never
// lost between passes.
type Watcher struct {
	ws     *Workspace
	logger *slog.Logger

	fsw   *fsnotify.Watcher
	stop  chan struct{}
	done  chan struct{}
	sweep time.Duration

	mu    sync.Mutex
	queue []LocalChange
}

// NewWatcher creates a watcher over the given workspace.
func NewWatcher(ws *Workspace, logger *slog.Logger) *Watcher {
	return &Watcher{
		ws:     ws,
		logger: logger,
		sweep:  sweepInterval,
	}
}

// Start begins observation. Directories are watched recursively; new
// subdirectories are added to the watch set as they appear.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.fsw = fsw
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	if err := os.MkdirAll(w.ws.Dir(), 0o755); err != nil {
		fsw.Close()
		return fmt.Errorf("creating sync dir: %w", err)
	}

	if err := w.addRecursive(w.ws.Dir()); err != nil {
		fsw.Close()
		return fmt.Errorf("watching sync dir: %w", err)
	}

	w.logger.Info("file watcher started", slog.String("dir", w.ws.Dir()))

	go w.run()

	return nil
}

// Drain returns the ordered change events accumulated since the
// previous Drain and clears the internal queue. Consecutive drains
// yield disjoint batches.
func (w *Watcher) Drain() []LocalChange {
	w.mu.Lock()
	defer w.mu.Unlock()

	batch := w.queue
	w.queue = nil

	return batch
}

// Stop ends observation and releases the fsnotify watcher. Safe to call
// once after a successful Start.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.fsw.Close()
}

// run is the event loop: it debounces write bursts and enqueues settled
// changes. Deletes and renames enqueue immediately.
func (w *Watcher) run() {
	defer close(w.done)

	// pending holds paths with an unsettled write burst.
	pending := make(map[string]time.Time)

	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				w.logger.Warn("fsnotify events channel closed")
				return
			}

			if ignoredName(filepath.Base(event.Name)) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = time.Now()

				// A new directory needs its own watch.
				if event.Has(fsnotify.Create) {
					info, err := os.Stat(event.Name)
					if err == nil && info.IsDir() {
						w.addRecursive(event.Name)
					}
				}
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				// A rename fires Remove on the old path; the new path
				// arrives as a separate Create.
				delete(pending, event.Name)
				_ = w.fsw.Remove(event.Name)
				w.enqueueRemove(event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.logger.Warn("fsnotify errors channel closed")
				return
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()

			for absPath, at := range pending {
				if now.Sub(at) < writeSettle {
					continue
				}

				delete(pending, absPath)
				w.enqueueWrite(absPath)
			}
		}
	}
}

func (w *Watcher) enqueueWrite(absPath string) {
	relPath, err := filepath.Rel(w.ws.Dir(), absPath)
	if err != nil {
		w.logger.Warn("computing relative path", slog.String("error", err.Error()))
		return
	}

	relPath = NormalizePath(relPath)

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Gone before we could read it; downgrade to a removal
			// rather than dropping the event.
			w.append(LocalChange{Kind: ChangeRemoved, Path: relPath, ObservedAt: time.Now()})
		}

		return
	}

	if info.IsDir() {
		// Change events are file-level; the directory itself carries
		// no content.
		return
	}

	content, err := w.ws.ReadFile(relPath)
	if err != nil {
		if os.IsNotExist(err) {
			w.append(LocalChange{Kind: ChangeRemoved, Path: relPath, ObservedAt: time.Now()})
			return
		}

		w.logger.Warn("reading changed file",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
		w.append(LocalChange{Kind: ChangeRemoved, Path: relPath, ObservedAt: time.Now()})

		return
	}

	kind := ChangeModified
	if w.firstSighting(relPath) {
		kind = ChangeAdded
	}

	w.append(LocalChange{Kind: kind, Path: relPath, Content: content, ObservedAt: time.Now()})
}

func (w *Watcher) enqueueRemove(absPath string) {
	relPath, err := filepath.Rel(w.ws.Dir(), absPath)
	if err != nil {
		w.logger.Warn("computing relative path", slog.String("error", err.Error()))
		return
	}

	w.append(LocalChange{Kind: ChangeRemoved, Path: NormalizePath(relPath), ObservedAt: time.Now()})
}

// firstSighting reports whether the queue has no prior event for the
// path, which is the best available added-vs-modified signal without
// consulting sync state. The reconciler joins by name and content, so
// the distinction is informational.
func (w *Watcher) firstSighting(relPath string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, c := range w.queue {
		if c.Path == relPath {
			return false
		}
	}

	return true
}

func (w *Watcher) append(c LocalChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.queue = append(w.queue, c)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && ignoredName(filepath.Base(path)) {
				return filepath.SkipDir
			}

			return w.fsw.Add(path)
		}

		return nil
	})
}
