package scanner

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type watchOp int

const (
	opScan watchOp = iota
	opRemove
)

type pendingEvent struct {
	path  string
	op    watchOp
	cover bool
	at    time.Time
}

// Watcher turns raw filesystem notifications into incremental scanner
// operations. Events for one path are coalesced and only processed after the
// path has been quiet for the settle delay, so a file being written in
// several bursts is scanned once.
type Watcher struct {
	log    *slog.Logger
	delay  time.Duration
	engine func() *Engine

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	pending   map[string]*pendingEvent
	timer     *time.Timer
	suspended map[string]struct{}
	watched   map[string][]string
	closed    bool

	wg sync.WaitGroup
}

// NewWatcher creates a watcher. engineFactory builds a fresh non-forced
// engine for each processed batch, mirroring how batch scans use a fresh
// engine per run.
func NewWatcher(logger *slog.Logger, delay time.Duration, engineFactory func() *Engine) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		log:       logger,
		delay:     delay,
		engine:    engineFactory,
		fsw:       fsw,
		pending:   make(map[string]*pendingEvent),
		suspended: make(map[string]struct{}),
		watched:   make(map[string][]string),
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Watch registers a root folder and every directory below it.
func (w *Watcher) Watch(root string) error {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if entry.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				w.log.Warn("watch dir failed", "path", path, "error", addErr)
				return nil
			}
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.watched[root] = dirs
	w.mu.Unlock()

	w.log.Info("watching folder", "path", root, "dirs", len(dirs))
	return nil
}

// Unwatch drops a root folder and discards its pending events.
func (w *Watcher) Unwatch(root string) {
	w.mu.Lock()
	dirs := w.watched[root]
	delete(w.watched, root)
	for path := range w.pending {
		if pathWithin(path, root) {
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, dir := range dirs {
		_ = w.fsw.Remove(dir)
	}

	w.log.Info("unwatching folder", "path", root)
}

// Suspend mutes events under root while the batch scanner is visiting it;
// pending events under root are dropped since the scan covers them anyway.
func (w *Watcher) Suspend(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.suspended[root] = struct{}{}
	for path := range w.pending {
		if pathWithin(path, root) {
			delete(w.pending, path)
		}
	}
}

func (w *Watcher) Resume(root string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.suspended, root)
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	w.mu.Lock()
	for root := range w.suspended {
		if pathWithin(path, root) {
			w.mu.Unlock()
			return
		}
	}
	w.mu.Unlock()

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// New directory: watch it and everything already inside.
			w.watchSubtree(path)
			return
		}
	}

	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}

	var op watchOp
	switch {
	case event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Write):
		op = opScan
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		op = opRemove
	default:
		return
	}

	w.enqueue(path, op, hasCoverExtension(path))
}

func (w *Watcher) watchSubtree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if entry.IsDir() {
			if err := w.fsw.Add(path); err == nil {
				w.mu.Lock()
				for root := range w.watched {
					if pathWithin(path, root) {
						w.watched[root] = append(w.watched[root], path)
						break
					}
				}
				w.mu.Unlock()
			}
		} else {
			w.enqueue(path, opScan, hasCoverExtension(path))
		}
		return nil
	})
}

func (w *Watcher) enqueue(path string, op watchOp, cover bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if existing, ok := w.pending[path]; ok {
		// Later events win: a remove after a scan cancels the scan and
		// vice versa.
		existing.op = op
		existing.at = time.Now()
	} else {
		w.pending[path] = &pendingEvent{path: path, op: op, cover: cover, at: time.Now()}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	events := make([]*pendingEvent, 0, len(w.pending))
	for _, event := range w.pending {
		events = append(events, event)
	}
	w.pending = make(map[string]*pendingEvent)
	w.mu.Unlock()

	if len(events) == 0 {
		return
	}

	sort.Slice(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })

	ctx := context.Background()
	engine := w.engine()
	for _, event := range events {
		w.process(ctx, engine, event)
	}

	if err := engine.Prune(ctx); err != nil {
		w.log.Error("prune after watcher batch", "error", err)
	}
}

func (w *Watcher) process(ctx context.Context, engine *Engine, event *pendingEvent) {
	var err error
	switch {
	case event.cover && event.op == opScan:
		if info, statErr := os.Stat(event.path); statErr == nil && info.IsDir() {
			w.log.Info("looking for covers", "path", event.path)
			err = engine.FindCover(ctx, event.path)
		} else {
			w.log.Info("potentially adding cover", "path", event.path)
			err = engine.AddCover(ctx, event.path)
		}
	case event.cover && event.op == opRemove:
		w.log.Info("removing cover", "path", event.path)
		err = engine.FindCover(ctx, filepath.Dir(event.path))
	case event.op == opScan:
		w.log.Info("scanning", "path", event.path)
		err = engine.ScanFile(ctx, event.path)
	case event.op == opRemove:
		w.log.Info("removing", "path", event.path)
		err = engine.RemoveFile(ctx, event.path)
	}

	if err != nil {
		w.log.Error("watcher event failed", "path", event.path, "error", err)
	}
}

func pathWithin(path string, root string) bool {
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
